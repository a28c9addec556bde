// Package policy loads, validates, and hot-reloads the kernel's policy
// document: the ordered laws and the trading/security rules of engagement
// that the validator and kill-switch consult on every decision.
//
// The document is TOML, organized as an ordered laws table plus flat
// trading/security rules-of-engagement blocks, held behind an atomic
// copy-on-write snapshot pointer so a reload never blocks a reader.
package policy

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/toml"

	kernelobs "hive-kernel/libs/observability"
)

// Law is one immutable rule from the Constitution's laws table.
type Law struct {
	ID          uint8  `toml:"id"`
	Name        string `toml:"name"`
	Priority    uint8  `toml:"priority"`
	Enforcement string `toml:"enforcement"`
}

// TradingRoe mirrors the "trading" block of the policy document.
type TradingRoe struct {
	MaxRiskPerTradePercent     float64 `toml:"max_risk_per_trade_percent"`
	MaxDailyDrawdownPercent    float64 `toml:"max_daily_drawdown_percent"`
	MaxTotalDrawdownPercent    float64 `toml:"max_total_drawdown_percent"`
	MaxConcurrentPositions     uint32  `toml:"max_concurrent_positions"`
	RequireStopLoss            bool    `toml:"require_stop_loss"`
	AntiTiltConsecutiveLosses  uint32  `toml:"anti_tilt_consecutive_losses"`
	AntiTiltDurationHours      uint32  `toml:"anti_tilt_duration_hours"`
	NewsFilterMinutes          uint32  `toml:"news_filter_minutes"`
}

// SecurityRoe mirrors the "security" block of the policy document.
type SecurityRoe struct {
	MaxLoginAttempts         uint32  `toml:"max_login_attempts"`
	LockoutDurationMinutes   uint32  `toml:"lockout_duration_minutes"`
	GPUTempCriticalCelsius   float64 `toml:"gpu_temp_critical_celsius"`
}

// Snapshot is an immutable policy document, valid for the duration of one
// decision. Consumers hold a reference obtained from Store.Current; the
// store may install a newer snapshot at any time without affecting a
// reference already held.
type Snapshot struct {
	Version  string
	LoadedAt time.Time
	Laws     []Law
	Trading  TradingRoe
	Security SecurityRoe
}

// document is the raw TOML shape, including the free-form "roe" table,
// which is carried through as an opaque passthrough and not otherwise
// consumed by the validator.
type document struct {
	Version     string                 `toml:"version"`
	LastUpdated string                 `toml:"last_updated"`
	Laws        []Law                  `toml:"laws"`
	Roe         map[string]interface{} `toml:"roe"`
	Trading     *TradingRoe            `toml:"trading"`
	Security    *SecurityRoe           `toml:"security"`
}

// DefaultTrading and DefaultSecurity are the fallback ROE blocks used when
// a policy document omits them.
func DefaultTrading() TradingRoe {
	return TradingRoe{
		MaxRiskPerTradePercent:    1.0,
		MaxDailyDrawdownPercent:   4.0,
		MaxTotalDrawdownPercent:   8.0,
		MaxConcurrentPositions:    3,
		RequireStopLoss:           true,
		AntiTiltConsecutiveLosses: 2,
		AntiTiltDurationHours:     24,
		NewsFilterMinutes:         30,
	}
}

func DefaultSecurity() SecurityRoe {
	return SecurityRoe{
		MaxLoginAttempts:       3,
		LockoutDurationMinutes: 30,
		GPUTempCriticalCelsius: 90.0,
	}
}

// DefaultLaws are the three built-in laws used when no policy file is present.
func DefaultLaws() []Law {
	return []Law{
		{ID: 0, Name: "Intégrité Systémique", Priority: 100, Enforcement: "hardware"},
		{ID: 1, Name: "Épanouissement Humain", Priority: 95, Enforcement: "software"},
		{ID: 2, Name: "Protection du Capital", Priority: 90, Enforcement: "kernel"},
	}
}

// Default returns the built-in fallback snapshot.
func Default() *Snapshot {
	return &Snapshot{
		Version:  "1.0.0",
		LoadedAt: time.Now().UTC(),
		Laws:     DefaultLaws(),
		Trading:  DefaultTrading(),
		Security: DefaultSecurity(),
	}
}

// Load reads and parses a policy document from path. Missing trading/security
// blocks fall back to their documented defaults, and an empty or missing laws
// table falls back to DefaultLaws; the version is taken verbatim from the file.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %q: %w", path, err)
	}

	var doc document
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return nil, fmt.Errorf("policy: parse %q: %w", path, err)
	}

	snap := &Snapshot{
		Version:  doc.Version,
		LoadedAt: time.Now().UTC(),
		Laws:     doc.Laws,
	}
	if len(snap.Laws) == 0 {
		snap.Laws = DefaultLaws()
	}
	if doc.Trading != nil {
		snap.Trading = *doc.Trading
	} else {
		snap.Trading = DefaultTrading()
	}
	if doc.Security != nil {
		snap.Security = *doc.Security
	} else {
		snap.Security = DefaultSecurity()
	}
	return snap, nil
}

// GetLaw returns the law with the given id, if any.
func (s *Snapshot) GetLaw(id uint8) (Law, bool) {
	for _, l := range s.Laws {
		if l.ID == id {
			return l, true
		}
	}
	return Law{}, false
}

// IsTradeRiskAllowed reports whether riskPercent is within the configured
// per-trade risk limit (inclusive).
func (s *Snapshot) IsTradeRiskAllowed(riskPercent float64) bool {
	return riskPercent <= s.Trading.MaxRiskPerTradePercent
}

// IsDailyDrawdownOK reports whether ddPercent is strictly under the
// configured daily drawdown limit.
func (s *Snapshot) IsDailyDrawdownOK(ddPercent float64) bool {
	return ddPercent < s.Trading.MaxDailyDrawdownPercent
}

// CanOpenPosition reports whether currentCount is strictly under the
// configured concurrent position limit.
func (s *Snapshot) CanOpenPosition(currentCount uint32) bool {
	return currentCount < s.Trading.MaxConcurrentPositions
}

// ─── Store ────────────────────────────────────────────────────────────────

// Store holds the active snapshot behind an atomic pointer so readers never
// contend with the watcher that installs a new one.
type Store struct {
	current atomic.Pointer[Snapshot]
	path    string
}

// NewStore loads path (falling back to Default on any error, which it logs
// as a warning) and returns a ready Store.
func NewStore(path string) *Store {
	st := &Store{path: path}
	snap, err := Load(path)
	if err != nil {
		kernelobs.LogEvent(context.Background(), "warn", "policy_load_failed", map[string]any{
			"path":     path,
			"error":    err.Error(),
			"fallback": "defaults",
		})
		snap = Default()
	}
	st.current.Store(snap)
	return st
}

// Current returns the active snapshot. The reference remains valid even
// after a subsequent reload installs a newer one.
func (st *Store) Current() *Snapshot {
	return st.current.Load()
}

// Path returns the filesystem source of truth.
func (st *Store) Path() string {
	return st.path
}

// modTime returns the source file's modification time, or the zero Time if
// it cannot be stat'd (e.g. no policy file is present).
func (st *Store) modTime() (time.Time, error) {
	info, err := os.Stat(st.path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Reload re-parses the source file and, on success, atomically installs the
// new snapshot. It returns the snapshot and whether the reload succeeded;
// on failure the previously active snapshot remains current.
func (st *Store) Reload() (*Snapshot, error) {
	snap, err := Load(st.path)
	if err != nil {
		return nil, err
	}
	st.current.Store(snap)
	return snap, nil
}

// Watch polls the source file's mtime every interval and reloads on change,
// invoking onReload(snap, nil) after a successful swap or onReload(nil, err)
// after a failed one (the previous snapshot stays active in that case). It
// blocks until done is closed.
func (st *Store) Watch(done <-chan struct{}, interval time.Duration, onReload func(*Snapshot, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last, _ := st.modTime()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			mt, err := st.modTime()
			if err != nil || !mt.After(last) {
				continue
			}
			last = mt
			snap, err := st.Reload()
			if onReload != nil {
				onReload(snap, err)
			}
		}
	}
}
