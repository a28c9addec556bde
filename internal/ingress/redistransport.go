package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hive-kernel/libs/observability"
	"hive-kernel/libs/resilience"
)

// RedisTransport is the primary ingress path: it subscribes to the
// namespaced requests-critical and heartbeat channels and feeds decoded
// trade requests into a Multiplexer. Reconnects are wrapped in a circuit
// breaker so a wedged broker doesn't spin-loop.
type RedisTransport struct {
	client    *redis.Client
	namespace string
	mux       *Multiplexer
	breaker   *resilience.CircuitBreaker
	onHeartbeat func()
}

// NewRedisTransport dials url (lazily — go-redis connects on first use) and
// returns a transport ready to Run.
func NewRedisTransport(url, namespace string, mux *Multiplexer, onHeartbeat func()) (*RedisTransport, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("ingress: parse redis url: %w", err)
	}
	return &RedisTransport{
		client:      redis.NewClient(opts),
		namespace:   namespace,
		mux:         mux,
		breaker:     resilience.NewCircuitBreaker(resilience.DefaultConfig("redis-ingress")),
		onHeartbeat: onHeartbeat,
	}, nil
}

func (t *RedisTransport) requestsTopic() string  { return t.namespace + ".banker.requests.critical" }
func (t *RedisTransport) heartbeatTopic() string { return t.namespace + ".banker.heartbeat" }

// Run subscribes and processes messages until ctx is canceled. Every
// reconnect attempt goes through the circuit breaker; Run returns nil on a
// clean ctx cancellation and logs (rather than panics) on transport errors,
// since a primary-transport outage must degrade, not crash, the kernel.
func (t *RedisTransport) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, err := t.breaker.ExecuteWithContext(ctx, func() (any, error) {
			return nil, t.subscribeAndServe(ctx)
		})
		if err != nil {
			observability.LogTransportEvent(ctx, "redis", "reconnect_wait", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(2 * time.Second):
			}
			continue
		}
		return nil
	}
}

func (t *RedisTransport) subscribeAndServe(ctx context.Context) error {
	sub := t.client.Subscribe(ctx, t.requestsTopic(), t.heartbeatTopic())
	defer sub.Close()

	observability.LogTransportEvent(ctx, "redis", "connected", nil)
	ch := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("ingress: redis subscription channel closed")
			}
			t.handleMessage(ctx, msg)
		}
	}
}

func (t *RedisTransport) handleMessage(ctx context.Context, msg *redis.Message) {
	if msg.Channel == t.heartbeatTopic() {
		if t.onHeartbeat != nil {
			t.onHeartbeat()
		}
		return
	}

	var req TradeRequest
	if err := json.Unmarshal([]byte(msg.Payload), &req); err != nil {
		observability.LogTransportEvent(ctx, "redis", "decode_failed", err)
		return
	}
	if _, err := t.mux.Handle(ctx, "redis", req); err != nil {
		observability.LogTransportEvent(ctx, "redis", "handle_failed", err)
	}
}

// Close releases the underlying client.
func (t *RedisTransport) Close() error {
	return t.client.Close()
}
