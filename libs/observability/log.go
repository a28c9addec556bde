package observability

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"
)

var logger = log.New(os.Stdout, "", 0)

func LogEvent(ctx context.Context, level string, event string, fields map[string]any) {
	payload := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339),
		"level": level,
		"event": event,
	}

	info := RunInfoFromContext(ctx)
	if info.FlowID != "" {
		payload["flow_id"] = info.FlowID
	}
	if info.Agent != "" {
		payload["agent"] = info.Agent
	}
	if info.Symbol != "" {
		payload["symbol"] = info.Symbol
	}

	for key, value := range normalizeFields(fields) {
		payload[key] = value
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("{\"level\":\"error\",\"event\":\"log_marshal_failed\",\"error\":%q}", err.Error())
		return
	}
	logger.Print(string(raw))
}

// LogValidation records the outcome of one trade validation: allowed,
// risk_percent, and which of the four checks failed (if any).
func LogValidation(ctx context.Context, symbol string, allowed bool, riskPercent float64, failedChecks []string) {
	fields := map[string]any{
		"symbol":       symbol,
		"allowed":      allowed,
		"risk_percent": riskPercent,
	}
	if len(failedChecks) > 0 {
		fields["failed_checks"] = failedChecks
	}
	level := "info"
	if !allowed {
		level = "warn"
	}
	LogEvent(ctx, level, "trade_validated", fields)
}

// LogKillSwitch records a kill-switch state transition.
func LogKillSwitch(ctx context.Context, action, reason string) {
	LogEvent(ctx, "warn", "kill_switch_"+action, map[string]any{
		"reason": reason,
	})
}

// LogTransportEvent records a connect/disconnect/error on an ingress
// transport (redis, mqtt, rest).
func LogTransportEvent(ctx context.Context, transport, event string, err error) {
	fields := map[string]any{
		"transport": transport,
	}
	level := "info"
	if err != nil {
		fields["error"] = err.Error()
		level = "error"
	}
	LogEvent(ctx, level, "transport_"+event, fields)
}

// LogPolicyReload records the outcome of a policy hot-reload attempt.
func LogPolicyReload(ctx context.Context, version string, err error) {
	fields := map[string]any{}
	level := "info"
	if version != "" {
		fields["version"] = version
	}
	if err != nil {
		fields["error"] = err.Error()
		level = "warn"
	}
	LogEvent(ctx, level, "policy_reload", fields)
}

// LogWatchdogAlert records the watchdog raising or clearing a silence alert.
func LogWatchdogAlert(ctx context.Context, silenceDuration time.Duration, cleared bool) {
	LogEvent(ctx, "warn", "watchdog_alert", map[string]any{
		"silence_ms": silenceDuration.Milliseconds(),
		"cleared":    cleared,
	})
}

func normalizeFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		switch key {
		case "input", "payload", "details":
			out[key] = RedactValue(value)
			continue
		}
		if err, ok := value.(error); ok {
			out[key] = err.Error()
			continue
		}
		out[key] = value
	}
	return out
}
