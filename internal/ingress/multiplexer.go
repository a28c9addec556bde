package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"hive-kernel/internal/audit"
	"hive-kernel/internal/killswitch"
	"hive-kernel/internal/policy"
	"hive-kernel/internal/validator"
	kernelobs "hive-kernel/libs/observability"
)

// TradeRequest is the wire-agnostic shape every ingress path converts its
// payload into before handing it to the Multiplexer.
type TradeRequest struct {
	ID                 string   `json:"id"`
	Symbol             string   `json:"symbol"`
	Volume             float64  `json:"volume"`
	Price              float64  `json:"price"`
	StopLoss           *float64 `json:"stop_loss,omitempty"`
	AccountBalance     float64  `json:"account_balance"`
	CurrentDrawdownPct float64  `json:"current_drawdown_percent"`
	OpenPositionCount  uint32   `json:"open_position_count"`
}

// Decision is returned to the caller (REST handler or transport ack logic)
// after a request has been processed end to end.
type Decision struct {
	RequestID    string            `json:"request_id"`
	Allowed      bool              `json:"allowed"`
	Reason       string            `json:"reason,omitempty"`
	LawReference string            `json:"law_reference,omitempty"`
	RiskPercent  float64           `json:"risk_percent"`
	Checks       []validator.Check `json:"checks,omitempty"`
	Blocked      bool              `json:"blocked_by_kill_switch"`
	Duplicate    bool              `json:"duplicate,omitempty"`
}

// Multiplexer is the single funnel every ingress path feeds through. It
// enforces the decision pipeline's ordering invariant: dedup, then the
// kill-switch, then the validator, then the audit append — in that order,
// every time, regardless of which transport a request arrived on.
type Multiplexer struct {
	policies *policy.Store
	sw       *killswitch.Switch
	trail    *audit.Trail
	dedup    *Dedup
	metrics  *kernelobs.KernelMetrics
}

// New builds a Multiplexer wired to the given components.
func New(policies *policy.Store, sw *killswitch.Switch, trail *audit.Trail, dedupCapacity int, metrics *kernelobs.KernelMetrics) *Multiplexer {
	return &Multiplexer{
		policies: policies,
		sw:       sw,
		trail:    trail,
		dedup:    NewDedup(dedupCapacity),
		metrics:  metrics,
	}
}

// Handle runs one request through the full pipeline. agent names the
// transport or operator that originated it, for the audit trail.
func (m *Multiplexer) Handle(ctx context.Context, agent string, req TradeRequest) (Decision, error) {
	start := time.Now()

	if m.dedup.Seen(req.ID) {
		if m.metrics != nil {
			m.metrics.DedupDropsTotal.Inc()
		}
		kernelobs.RecordDedupDrop(ctx, req.ID, agent)
		return Decision{RequestID: req.ID, Duplicate: true}, nil
	}

	snap := m.policies.Current()

	vreq := validator.Request{
		Symbol:             req.Symbol,
		Volume:             req.Volume,
		Price:              req.Price,
		StopLoss:           req.StopLoss,
		AccountBalance:     req.AccountBalance,
		CurrentDrawdownPct: req.CurrentDrawdownPct,
		OpenPositionCount:  req.OpenPositionCount,
	}
	rp := validator.RiskPercent(vreq)

	// The kill-switch gate only ever short-circuits on its own latched
	// state — it never evaluates this request's risk itself. An over-risk
	// trade is rejected by the validator below, which still runs and still
	// emits a full set of checks; only an already-latched switch skips the
	// validator entirely.
	if !m.sw.Intercept() {
		if m.metrics != nil {
			m.metrics.KillSwitchTrips.Inc("reason", "latched")
		}
		kernelobs.RecordKillSwitchTrip(ctx, "latched")

		dec := Decision{
			RequestID:    req.ID,
			Allowed:      false,
			Reason:       "kill switch is latched",
			LawReference: validator.LawReference,
			RiskPercent:  rp,
			Blocked:      true,
		}
		if err := m.appendAudit(agent, "TRADE_REJECTED", req, dec); err != nil {
			return dec, err
		}
		kernelobs.LogValidation(ctx, req.Symbol, false, rp, []string{"kill_switch"})
		return dec, nil
	}

	result := validator.Validate(snap, vreq)
	m.sw.UpdateDrawdown(req.CurrentDrawdownPct, snap.Trading.MaxDailyDrawdownPercent)

	dec := Decision{
		RequestID:    req.ID,
		Allowed:      result.Allowed,
		Reason:       result.Reason,
		LawReference: result.LawReference,
		RiskPercent:  result.RiskPercent,
		Checks:       result.Checks,
	}
	auditAction := "TRADE_VALIDATED"
	if !result.Allowed {
		auditAction = "TRADE_REJECTED"
	}
	if err := m.appendAudit(agent, auditAction, req, dec); err != nil {
		return dec, err
	}

	var failed []string
	for _, c := range result.Checks {
		if !c.Passed {
			failed = append(failed, string(c.Name))
		}
	}
	kernelobs.LogValidation(ctx, req.Symbol, result.Allowed, result.RiskPercent, failed)
	if m.metrics != nil {
		outcome := "rejected"
		if result.Allowed {
			outcome = "allowed"
		}
		m.metrics.ValidationsTotal.Inc("outcome", outcome)
		m.metrics.ValidationLatency.ObserveDuration(time.Since(start))
	}
	kernelobs.RecordValidation(ctx, req.Symbol, result.Allowed, result.RiskPercent, time.Since(start))

	return dec, nil
}

func (m *Multiplexer) appendAudit(agent, action string, req TradeRequest, dec Decision) error {
	details, err := json.Marshal(map[string]any{
		"request": req,
		"decision": dec,
	})
	if err != nil {
		return fmt.Errorf("ingress: marshal audit details: %w", err)
	}
	_, err = m.trail.Record(agent, action, details, "", "")
	if err != nil {
		return fmt.Errorf("ingress: append audit record: %w", err)
	}
	if m.metrics != nil {
		m.metrics.AuditRecordsTotal.Inc()
		m.metrics.AuditTrailLength.Set(float64(m.trail.Len()))
	}
	return nil
}
