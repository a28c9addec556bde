package ingress

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"hive-kernel/internal/audit"
	"hive-kernel/internal/killswitch"
	"hive-kernel/internal/policy"
)

func sl(v float64) *float64 { return &v }

func newTestMux(t *testing.T) *Multiplexer {
	t.Helper()
	st := policy.NewStore(filepath.Join(t.TempDir(), "missing.toml"))
	sw := killswitch.New(24 * time.Hour)
	trail := audit.NewTrail(1000)
	return New(st, sw, trail, 1024, nil)
}

func TestDuplicateRequestProducesNoSecondDecision(t *testing.T) {
	mux := newTestMux(t)
	req := TradeRequest{
		ID: "req-1", Symbol: "EURUSD", Volume: 0.1, Price: 1.1,
		StopLoss: sl(1.095), AccountBalance: 10000,
	}

	first, err := mux.Handle(context.Background(), "operator", req)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if first.Duplicate {
		t.Fatal("first request should not be flagged duplicate")
	}

	second, err := mux.Handle(context.Background(), "operator", req)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("second request with same id should be flagged duplicate")
	}

	if mux.trail.Len() != 1 {
		t.Fatalf("expected exactly one audit record for deduplicated requests, got %d", mux.trail.Len())
	}
}

func TestKillSwitchPrecedesValidatorInPipeline(t *testing.T) {
	mux := newTestMux(t)
	mux.sw.Activate("manual_trip")

	req := TradeRequest{
		ID: "req-2", Symbol: "EURUSD", Volume: 0.1, Price: 1.1,
		StopLoss: sl(1.095), AccountBalance: 10000,
	}
	dec, err := mux.Handle(context.Background(), "operator", req)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !dec.Blocked {
		t.Fatal("expected the request to be blocked by the latched kill-switch")
	}
	if dec.Allowed {
		t.Fatal("a blocked request must never be allowed")
	}
}

func TestHighRiskRequestIsRejectedWithoutLatching(t *testing.T) {
	mux := newTestMux(t)
	req := TradeRequest{
		ID: "req-3", Symbol: "XAUUSD", Volume: 0.5, Price: 2080.0,
		StopLoss: sl(2050.0), AccountBalance: 100000,
	}
	dec, err := mux.Handle(context.Background(), "operator", req)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if dec.Blocked {
		t.Fatal("an over-risk trade must be rejected by the validator, not by the kill-switch")
	}
	if dec.Allowed {
		t.Fatal("expected a 1.5%% risk request (against a 1.0%% limit) to be rejected")
	}
	if len(dec.Checks) != 4 {
		t.Fatalf("expected all four checks to be emitted even on rejection, got %d", len(dec.Checks))
	}
	if mux.sw.IsActive() {
		t.Fatal("an over-risk trade must not latch the kill-switch")
	}
	if mux.trail.Len() != 1 {
		t.Fatalf("expected exactly one audit record, got %d", mux.trail.Len())
	}
	if mux.trail.GetRecent(1)[0].Action != "TRADE_REJECTED" {
		t.Fatalf("expected the audit record action to be TRADE_REJECTED, got %q", mux.trail.GetRecent(1)[0].Action)
	}

	// A subsequent low-risk request must still be allowed: the kill-switch
	// was never latched by the prior rejection.
	again, err := mux.Handle(context.Background(), "operator", TradeRequest{
		ID: "req-4", Symbol: "XAUUSD", Volume: 0.3, Price: 2080.0,
		StopLoss: sl(2050.0), AccountBalance: 100000,
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !again.Allowed {
		t.Fatalf("expected a 0.9%% risk request to be allowed, got reason %q", again.Reason)
	}
	if mux.trail.Len() != 2 {
		t.Fatalf("expected a second audit record for the allowed follow-up, got %d", mux.trail.Len())
	}
	if mux.trail.GetRecent(1)[0].Action != "TRADE_VALIDATED" {
		t.Fatalf("expected the second audit record action to be TRADE_VALIDATED, got %q", mux.trail.GetRecent(1)[0].Action)
	}
}
