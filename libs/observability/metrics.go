package observability

import (
	"context"
	"time"
)

// These Record* helpers emit structured log lines tagged "event":"metric"
// for events that are interesting individually, not just as an aggregate
// counter — the Prometheus registry in prometheus.go covers the aggregate
// side.

// RecordValidation logs one trade validation decision as a metric event.
func RecordValidation(ctx context.Context, symbol string, allowed bool, riskPercent float64, duration time.Duration) {
	fields := map[string]any{
		"name":         "validation",
		"symbol":       symbol,
		"allowed":      allowed,
		"risk_percent": riskPercent,
		"latency_ms":   duration.Milliseconds(),
	}
	LogEvent(ctx, "info", "metric", fields)
}

// RecordKillSwitchTrip logs a kill-switch activation as a metric event.
func RecordKillSwitchTrip(ctx context.Context, reason string) {
	LogEvent(ctx, "warn", "metric", map[string]any{
		"name":   "kill_switch_trip",
		"reason": reason,
	})
}

// RecordAuditAppend logs an audit append as a metric event.
func RecordAuditAppend(ctx context.Context, action string, trailLength int) {
	LogEvent(ctx, "info", "metric", map[string]any{
		"name":         "audit_append",
		"action":       action,
		"trail_length": trailLength,
	})
}

// RecordPolicyReload logs a policy hot-reload as a metric event.
func RecordPolicyReload(ctx context.Context, version string, err error) {
	fields := map[string]any{
		"name":    "policy_reload",
		"success": err == nil,
	}
	if version != "" {
		fields["version"] = version
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	LogEvent(ctx, "info", "metric", fields)
}

// RecordDedupDrop logs a request dropped by the ingress dedup cache.
func RecordDedupDrop(ctx context.Context, requestID, transport string) {
	LogEvent(ctx, "info", "metric", map[string]any{
		"name":       "dedup_drop",
		"request_id": requestID,
		"transport":  transport,
	})
}
