package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsUsable(t *testing.T) {
	snap := Default()
	if len(snap.Laws) != 3 {
		t.Fatalf("expected 3 default laws, got %d", len(snap.Laws))
	}
	if snap.Trading.MaxRiskPerTradePercent != 1.0 {
		t.Fatalf("expected default max risk per trade 1.0, got %v", snap.Trading.MaxRiskPerTradePercent)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "constitution.toml")
	doc := `
version = "2.0.0"
last_updated = "2026-01-01T00:00:00Z"

[[laws]]
id = 0
name = "Test Law"
priority = 100
enforcement = "hardware"

[trading]
max_risk_per_trade_percent = 2.0
max_daily_drawdown_percent = 5.0
max_total_drawdown_percent = 10.0
max_concurrent_positions = 5
require_stop_loss = true
anti_tilt_consecutive_losses = 3
anti_tilt_duration_hours = 12
news_filter_minutes = 15

[security]
max_login_attempts = 5
lockout_duration_minutes = 15
gpu_temp_critical_celsius = 85.0
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	snap, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Version != "2.0.0" {
		t.Fatalf("expected version 2.0.0, got %q", snap.Version)
	}
	if snap.Trading.MaxConcurrentPositions != 5 {
		t.Fatalf("expected 5 max concurrent positions, got %d", snap.Trading.MaxConcurrentPositions)
	}
	if len(snap.Laws) != 1 || snap.Laws[0].Name != "Test Law" {
		t.Fatalf("expected the file's single law to be parsed, got %+v", snap.Laws)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err == nil {
		t.Fatal("expected an error for a missing policy file")
	}
}

func TestLoadFallsBackToDefaultRoeBlocks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "constitution.toml")
	doc := `
version = "3.0.0"

[[laws]]
id = 0
name = "Only Law"
priority = 100
enforcement = "kernel"
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	snap, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Trading != DefaultTrading() {
		t.Fatalf("expected default trading ROE when file omits the block, got %+v", snap.Trading)
	}
	if snap.Security != DefaultSecurity() {
		t.Fatalf("expected default security ROE when file omits the block, got %+v", snap.Security)
	}
}

func TestNewStoreFallsBackOnMissingFile(t *testing.T) {
	st := NewStore(filepath.Join(t.TempDir(), "missing.toml"))
	snap := st.Current()
	if len(snap.Laws) != 3 {
		t.Fatalf("expected default snapshot laws on missing file, got %d", len(snap.Laws))
	}
}

func TestStoreReloadInstallsNewSnapshotAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "constitution.toml")
	doc1 := `
version = "1.0.0"
[trading]
max_risk_per_trade_percent = 1.0
max_daily_drawdown_percent = 4.0
max_total_drawdown_percent = 8.0
max_concurrent_positions = 3
require_stop_loss = true
anti_tilt_consecutive_losses = 2
anti_tilt_duration_hours = 24
news_filter_minutes = 30
`
	if err := os.WriteFile(path, []byte(doc1), 0o644); err != nil {
		t.Fatal(err)
	}
	st := NewStore(path)
	held := st.Current()
	if held.Version != "1.0.0" {
		t.Fatalf("expected initial version 1.0.0, got %q", held.Version)
	}

	doc2 := `
version = "1.1.0"
[trading]
max_risk_per_trade_percent = 2.0
max_daily_drawdown_percent = 4.0
max_total_drawdown_percent = 8.0
max_concurrent_positions = 3
require_stop_loss = true
anti_tilt_consecutive_losses = 2
anti_tilt_duration_hours = 24
news_filter_minutes = 30
`
	if err := os.WriteFile(path, []byte(doc2), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if held.Version != "1.0.0" {
		t.Fatal("a reference obtained before reload must not observe the new snapshot")
	}
	if st.Current().Version != "1.1.0" {
		t.Fatalf("expected reload to install version 1.1.0, got %q", st.Current().Version)
	}
}

func TestPolicyHelpers(t *testing.T) {
	snap := Default()
	if !snap.IsTradeRiskAllowed(1.0) {
		t.Fatal("1.0%% should be allowed at the boundary (<=)")
	}
	if snap.IsTradeRiskAllowed(1.01) {
		t.Fatal("1.01%% should be rejected")
	}
	if snap.IsDailyDrawdownOK(4.0) {
		t.Fatal("4.0%% should fail the strict < comparison")
	}
	if !snap.CanOpenPosition(2) {
		t.Fatal("2 open positions should be allowed under a limit of 3")
	}
	if snap.CanOpenPosition(3) {
		t.Fatal("3 open positions should be rejected under a limit of 3")
	}
}
