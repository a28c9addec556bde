package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"hive-kernel/libs/observability"
	"hive-kernel/libs/resilience"
)

// MQTTTransport is the secondary, at-least-once ingress path. It subscribes
// to the namespaced requests-critical topic at QoS 1; redelivery is expected
// and handled by the Multiplexer's dedup cache, not by this transport.
type MQTTTransport struct {
	client    mqtt.Client
	namespace string
	mux       *Multiplexer
	breaker   *resilience.CircuitBreaker
}

// NewMQTTTransport builds an MQTT client for host:port. The connection is
// established by Run, not here, so construction never fails on broker
// unavailability.
func NewMQTTTransport(host string, port int, namespace string, mux *Multiplexer) *MQTTTransport {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", host, port))
	opts.SetClientID("hive-kernel")
	opts.SetAutoReconnect(false) // the library does not reconnect; only Run's initial connect loop retries
	opts.SetConnectTimeout(5 * time.Second)

	t := &MQTTTransport{
		namespace: namespace,
		mux:       mux,
		breaker:   resilience.NewCircuitBreaker(resilience.DefaultConfig("mqtt-ingress")),
	}
	opts.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		t.handleMessage(context.Background(), msg)
	})
	t.client = mqtt.NewClient(opts)
	return t
}

func (t *MQTTTransport) topic() string { return t.namespace + "/banker/requests/critical" }

// Run connects and subscribes, retrying through the circuit breaker until
// one attempt succeeds or ctx is canceled. A broker that never comes up
// leaves the kernel running in degraded mode on the primary transport alone.
// Once connected, Run only waits for ctx; a connection lost after that point
// is not re-established.
func (t *MQTTTransport) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, err := t.breaker.ExecuteWithContext(ctx, func() (any, error) {
			return nil, t.connectAndSubscribe(ctx)
		})
		if err != nil {
			observability.LogTransportEvent(ctx, "mqtt", "reconnect_wait", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
			}
			continue
		}

		<-ctx.Done()
		t.client.Disconnect(250)
		return nil
	}
}

func (t *MQTTTransport) connectAndSubscribe(ctx context.Context) error {
	token := t.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("ingress: mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("ingress: mqtt connect: %w", err)
	}
	observability.LogTransportEvent(ctx, "mqtt", "connected", nil)

	subToken := t.client.Subscribe(t.topic(), 1, func(_ mqtt.Client, msg mqtt.Message) {
		t.handleMessage(ctx, msg)
	})
	if !subToken.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("ingress: mqtt subscribe timed out")
	}
	return subToken.Error()
}

func (t *MQTTTransport) handleMessage(ctx context.Context, msg mqtt.Message) {
	var req TradeRequest
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		observability.LogTransportEvent(ctx, "mqtt", "decode_failed", err)
		return
	}
	if _, err := t.mux.Handle(ctx, "mqtt", req); err != nil {
		observability.LogTransportEvent(ctx, "mqtt", "handle_failed", err)
		return
	}
	msg.Ack()
}
