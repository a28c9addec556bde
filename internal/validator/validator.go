// Package validator implements the trade validator: a pure function from a
// policy snapshot and a trade request to an ordered list of check results,
// with no side effects and no dependency on the kill-switch or audit trail.
// All four checks are always evaluated and reported, never short-circuited
// on the first failure, so a rejection always comes with the complete
// picture of which rules it violated.
package validator

import (
	"strings"

	"github.com/google/uuid"
	"hive-kernel/internal/policy"
)

// Request is one trade the kernel is asked to validate.
type Request struct {
	Symbol             string
	Volume             float64
	Price              float64
	StopLoss           *float64
	AccountBalance     float64
	CurrentDrawdownPct float64
	OpenPositionCount  uint32
}

// CheckName identifies one of the four fixed checks, always emitted in this
// order regardless of outcome.
type CheckName string

const (
	CheckStopLoss       CheckName = "stop_loss"
	CheckRiskPerTrade    CheckName = "risk_per_trade"
	CheckDailyDrawdown  CheckName = "daily_drawdown"
	CheckMaxPositions   CheckName = "max_positions"
)

// Check is the outcome of a single rule.
type Check struct {
	Name    CheckName `json:"name"`
	Passed  bool      `json:"passed"`
	Message string    `json:"message"`
}

// LawReference names the capital-protection rule every rejection is
// attributed to, regardless of which check actually failed.
const LawReference = "Loi 2 - Protection du Capital"

// Result is the full outcome of validating one request: allowed iff every
// check passed. Reason is non-empty exactly when Allowed is false, and
// LawReference is set to LawReference exactly when Allowed is false.
type Result struct {
	ID           string  `json:"id"`
	Allowed      bool    `json:"allowed"`
	Reason       string  `json:"reason,omitempty"`
	LawReference string  `json:"law_reference,omitempty"`
	RiskPercent  float64 `json:"risk_percent"`
	Checks       []Check `json:"checks"`
}

// pointValue returns the notional value of one price point for symbol.
// XAU (gold) pairs use 100 per the original's hardcoded table; everything
// else uses 10.
func pointValue(symbol string) float64 {
	if strings.Contains(symbol, "XAU") {
		return 100.0
	}
	return 10.0
}

// RiskPercent exposes the risk-percent formula independently of Validate so
// callers that need it before validation — the ingress multiplexer, which
// reports it on requests the kill-switch blocks before the validator runs —
// don't duplicate the calculation.
func RiskPercent(req Request) float64 {
	return riskPercent(req)
}

// riskPercent computes potential loss as a percentage of account balance. A
// missing stop-loss or non-positive balance both degrade to the maximum
// (100.0), which by construction always fails the risk_per_trade check.
func riskPercent(req Request) float64 {
	if req.StopLoss == nil || req.AccountBalance <= 0 {
		return 100.0
	}
	slDistance := req.Price - *req.StopLoss
	if slDistance < 0 {
		slDistance = -slDistance
	}
	potentialLoss := slDistance * req.Volume * pointValue(req.Symbol)
	return 100.0 * potentialLoss / req.AccountBalance
}

// Validate runs all four checks against req under snap and returns a
// Result. It never short-circuits: all four checks are always evaluated and
// reported, in fixed order, so the caller (and the audit record built from
// the result) always shows the complete picture of why a trade was or was
// not allowed.
func Validate(snap *policy.Snapshot, req Request) Result {
	rp := riskPercent(req)

	checks := make([]Check, 0, 4)

	stopLossOK := req.StopLoss != nil
	if snap.Trading.RequireStopLoss {
		checks = append(checks, Check{
			Name:    CheckStopLoss,
			Passed:  stopLossOK,
			Message: stopLossMessage(stopLossOK),
		})
	} else {
		checks = append(checks, Check{Name: CheckStopLoss, Passed: true, Message: "stop loss not required by policy"})
	}

	riskOK := snap.IsTradeRiskAllowed(rp)
	checks = append(checks, Check{
		Name:    CheckRiskPerTrade,
		Passed:  riskOK,
		Message: riskMessage(riskOK, rp, snap.Trading.MaxRiskPerTradePercent),
	})

	ddOK := snap.IsDailyDrawdownOK(req.CurrentDrawdownPct)
	checks = append(checks, Check{
		Name:    CheckDailyDrawdown,
		Passed:  ddOK,
		Message: drawdownMessage(ddOK, req.CurrentDrawdownPct, snap.Trading.MaxDailyDrawdownPercent),
	})

	posOK := snap.CanOpenPosition(req.OpenPositionCount)
	checks = append(checks, Check{
		Name:    CheckMaxPositions,
		Passed:  posOK,
		Message: positionsMessage(posOK, req.OpenPositionCount, snap.Trading.MaxConcurrentPositions),
	})

	allowed := true
	var firstFailure *Check
	for i := range checks {
		if !checks[i].Passed {
			allowed = false
			if firstFailure == nil {
				firstFailure = &checks[i]
			}
		}
	}

	result := Result{
		ID:          uuid.NewString(),
		Allowed:     allowed,
		RiskPercent: rp,
		Checks:      checks,
	}
	if !allowed {
		result.Reason = firstFailure.Message
		result.LawReference = LawReference
	}
	return result
}

func stopLossMessage(ok bool) string {
	if ok {
		return "stop loss present"
	}
	return "Stop Loss obligatoire"
}

func riskMessage(ok bool, rp, max float64) string {
	if ok {
		return "risk within policy limit"
	}
	return "Risque par trade trop élevé"
}

func drawdownMessage(ok bool, dd, max float64) string {
	if ok {
		return "daily drawdown within policy limit"
	}
	return "daily drawdown exceeds policy limit"
}

func positionsMessage(ok bool, n, max uint32) string {
	if ok {
		return "position count within policy limit"
	}
	return "max concurrent positions reached"
}
