// Package killswitch implements the kernel's last line of defense: a
// latching circuit breaker that, once tripped, rejects every trade request
// until an authenticated operator resets it or the auto-reset window
// elapses.
//
// Thresholds are never hardcoded here — every check takes the limit as a
// parameter supplied by the caller from the live policy snapshot, so a
// policy change takes effect on the very next request without touching this
// package.
package killswitch

import (
	"sync"
	"time"
)

// Switch is a mutex-guarded latch. Every exported method takes the lock for
// its full body so a concurrent Intercept and Activate can never observe a
// torn state — the critical section is small and constant-time regardless
// of outcome, so latency does not leak which branch was taken.
type Switch struct {
	mu               sync.Mutex
	active           bool
	reason           string
	activatedAt      time.Time
	tradesBlocked    uint64
	currentDrawdown  float64
	maxDailyDrawdown float64
	autoResetAfter   time.Duration
}

// State is a point-in-time snapshot of the switch, safe to serialize.
type State struct {
	Active           bool      `json:"active"`
	Reason           string    `json:"reason,omitempty"`
	ActivatedAt      time.Time `json:"activated_at,omitempty"`
	CurrentDrawdown  float64   `json:"current_drawdown"`
	MaxDailyDrawdown float64   `json:"max_daily_drawdown"`
	TradesBlocked    uint64    `json:"trades_blocked"`
}

// New returns a disengaged switch that auto-resets autoResetAfter after
// activation.
func New(autoResetAfter time.Duration) *Switch {
	return &Switch{autoResetAfter: autoResetAfter}
}

// Intercept is the gate every trade request must pass before reaching the
// validator. It short-circuits on latched state alone — an over-risk trade
// is not this gate's concern, it is rejected by the validator itself (which
// emits a full ValidationResult); folding that rejection in here would skip
// the validator entirely and discard its checks, which is wrong.
func (s *Switch) Intercept() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		s.tradesBlocked++
		return false
	}
	return true
}

// UpdateDrawdown records the latest observed drawdown and latches the switch
// if it has breached maxDrawdownPercent. The threshold is supplied by the
// caller from the live policy snapshot rather than hardcoded.
func (s *Switch) UpdateDrawdown(ddPercent, maxDrawdownPercent float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentDrawdown = ddPercent
	s.maxDailyDrawdown = maxDrawdownPercent
	if !s.active && ddPercent >= maxDrawdownPercent {
		s.activateLocked("daily_drawdown_exceeded")
	}
}

// Activate latches the switch for reason. Idempotent: a second call while
// already active leaves activated_at untouched, so the audit trail and any
// external observer always see the time of the FIRST trip, not the latest.
func (s *Switch) Activate(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activateLocked(reason)
}

func (s *Switch) activateLocked(reason string) {
	if s.active {
		return
	}
	s.active = true
	s.reason = reason
	s.activatedAt = time.Now().UTC()
}

// Reset clears the latch, the trip reason, the observed drawdown, and the
// blocked-trade counter. Callers are responsible for gating this behind
// admin authentication — the switch itself has no notion of identity.
func (s *Switch) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.reason = ""
	s.activatedAt = time.Time{}
	s.currentDrawdown = 0
	s.tradesBlocked = 0
}

// CheckAutoReset clears the latch if it has been active for longer than the
// configured auto-reset window, returning whether it did so. Intended to be
// polled on a timer, e.g. from the watchdog's tick loop.
func (s *Switch) CheckAutoReset() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active || s.autoResetAfter <= 0 {
		return false
	}
	if time.Since(s.activatedAt) < s.autoResetAfter {
		return false
	}
	s.active = false
	s.reason = ""
	s.activatedAt = time.Time{}
	s.currentDrawdown = 0
	s.tradesBlocked = 0
	return true
}

// Snapshot returns the current state.
func (s *Switch) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Active:           s.active,
		Reason:           s.reason,
		ActivatedAt:      s.activatedAt,
		CurrentDrawdown:  s.currentDrawdown,
		MaxDailyDrawdown: s.maxDailyDrawdown,
		TradesBlocked:    s.tradesBlocked,
	}
}

// IsActive reports whether the switch is currently latched.
func (s *Switch) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
