package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGenesisChaining(t *testing.T) {
	tr := NewTrail(100)
	if tr.LastHash() != Genesis {
		t.Fatalf("expected genesis hash, got %q", tr.LastHash())
	}

	rec, err := tr.Record("operator", "POLICY_RELOADED", json.RawMessage(`{"version":"1.0.0"}`), "", "")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.PreviousHash != Genesis {
		t.Fatalf("first record should chain from genesis, got %q", rec.PreviousHash)
	}
	if len(rec.RecordHash) != 64 {
		t.Fatalf("expected 64 hex chars, got %d: %q", len(rec.RecordHash), rec.RecordHash)
	}
}

func TestVerifyChainDetectsTamper(t *testing.T) {
	tr := NewTrail(2000)
	for i := 0; i < 1000; i++ {
		if _, err := tr.Record("kernel", "TRADE_VALIDATED", json.RawMessage(`{"n":1}`), "", ""); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	ok, bad := tr.VerifyChain()
	if !ok || bad != -1 {
		t.Fatalf("expected intact chain, got ok=%v bad=%d", ok, bad)
	}

	tr.mu.Lock()
	tr.records[500].Details = json.RawMessage(`{"n":999}`)
	tr.mu.Unlock()

	ok, bad = tr.VerifyChain()
	if ok {
		t.Fatal("expected tamper to be detected")
	}
	if bad != 500 {
		t.Fatalf("expected first bad index 500, got %d", bad)
	}
}

func TestRecordHashIsDeterministic(t *testing.T) {
	tr := NewTrail(10)
	a, err := tr.Record("kernel", "KILL_SWITCH_ACTIVATED", json.RawMessage(`{"reason":"test"}`), "", "")
	if err != nil {
		t.Fatal(err)
	}
	recomputed, err := computeHash(a)
	if err != nil {
		t.Fatal(err)
	}
	if recomputed != a.RecordHash {
		t.Fatalf("hash not reproducible: %q vs %q", recomputed, a.RecordHash)
	}
}

func TestLoadFromDiskRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.ndjson")

	tr := NewTrail(100)
	if err := tr.SetPersistencePath(path); err != nil {
		t.Fatalf("SetPersistencePath: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := tr.Record("kernel", "TRADE_VALIDATED", json.RawMessage(`{"n":1}`), "", ""); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	reloaded, err := LoadFromDisk(path, 100)
	if err != nil {
		t.Fatalf("LoadFromDisk: %v", err)
	}
	if reloaded.Len() != 5 {
		t.Fatalf("expected 5 records, got %d", reloaded.Len())
	}
	ok, bad := reloaded.VerifyChain()
	if !ok {
		t.Fatalf("reloaded chain should verify, first bad at %d", bad)
	}
	if reloaded.LastHash() != tr.LastHash() {
		t.Fatalf("reloaded head %q != original head %q", reloaded.LastHash(), tr.LastHash())
	}
}

func TestLoadFromDiskToleratesTruncatedTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.ndjson")

	tr := NewTrail(100)
	if err := tr.SetPersistencePath(path); err != nil {
		t.Fatalf("SetPersistencePath: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := tr.Record("kernel", "TRADE_VALIDATED", json.RawMessage(`{"n":1}`), "", ""); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}
	if _, err := tr.file.Write([]byte(`{"id":"broken"`)); err != nil {
		t.Fatal(err)
	}

	reloaded, err := LoadFromDisk(path, 100)
	if err != nil {
		t.Fatalf("expected truncated tail to be tolerated, got %v", err)
	}
	if reloaded.Len() != 3 {
		t.Fatalf("expected 3 records after dropping truncated tail, got %d", reloaded.Len())
	}
}

func TestLoadFromDiskMissingFile(t *testing.T) {
	tr, err := LoadFromDisk(filepath.Join(t.TempDir(), "nope.ndjson"), 100)
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if !tr.IsEmpty() {
		t.Fatal("expected empty trail")
	}
}

func TestGetRecentBounded(t *testing.T) {
	tr := NewTrail(100)
	for i := 0; i < 10; i++ {
		if _, err := tr.Record("kernel", "TRADE_VALIDATED", json.RawMessage(`{}`), "", ""); err != nil {
			t.Fatal(err)
		}
	}
	recent := tr.GetRecent(3)
	if len(recent) != 3 {
		t.Fatalf("expected 3, got %d", len(recent))
	}
}

func TestMaxRecordsBound(t *testing.T) {
	tr := NewTrail(5)
	for i := 0; i < 20; i++ {
		if _, err := tr.Record("kernel", "TRADE_VALIDATED", json.RawMessage(`{}`), "", ""); err != nil {
			t.Fatal(err)
		}
	}
	if tr.Len() != 5 {
		t.Fatalf("expected bounded to 5, got %d", tr.Len())
	}
	ok, bad := tr.VerifyChain()
	if !ok {
		t.Fatalf("bounded in-memory window should still verify internally, first bad %d", bad)
	}
}

func TestPersistFailureRetriesThenEscalates(t *testing.T) {
	saved := persistRetryDelays
	persistRetryDelays = []time.Duration{time.Millisecond, time.Millisecond}
	defer func() { persistRetryDelays = saved }()

	dir := t.TempDir()
	path := filepath.Join(dir, "audit.ndjson")
	tr := NewTrail(10)
	if err := tr.SetPersistencePath(path); err != nil {
		t.Fatalf("SetPersistencePath: %v", err)
	}
	tr.file.Close() // force every write attempt to fail

	var escalated error
	tr.SetPersistFailureHandler(func(err error) { escalated = err })

	_, err := tr.Record("kernel", "TRADE_VALIDATED", json.RawMessage(`{}`), "", "")
	if err == nil {
		t.Fatal("expected persistence failure after exhausting retries")
	}
	if escalated == nil {
		t.Fatal("expected the persist-failure handler to be invoked")
	}
	if err.Error() != escalated.Error() {
		t.Fatalf("expected the returned error and escalated error to match: %v vs %v", err, escalated)
	}
	if tr.Len() != 0 {
		t.Fatal("a record that failed to persist must not enter the in-memory trail")
	}
}

func TestSetPersistencePathCreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "audit.ndjson")
	os.MkdirAll(filepath.Dir(path), 0o755)

	tr := NewTrail(10)
	if err := tr.SetPersistencePath(path); err != nil {
		t.Fatalf("SetPersistencePath: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist: %v", err)
	}
}
