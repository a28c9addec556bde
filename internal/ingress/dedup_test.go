package ingress

import "testing"

func TestDedupSeenMarksAfterFirst(t *testing.T) {
	d := NewDedup(10)
	if d.Seen("a") {
		t.Fatal("first observation should not be 'seen'")
	}
	if !d.Seen("a") {
		t.Fatal("second observation should be 'seen'")
	}
}

func TestDedupEvictsOldest(t *testing.T) {
	d := NewDedup(2)
	d.Seen("a")
	d.Seen("b")
	d.Seen("c") // evicts "a"

	if !d.Seen("b") {
		t.Fatal("expected 'b' to still be tracked")
	}
	if d.Seen("a") {
		t.Fatal("expected 'a' to have been evicted and treated as unseen again")
	}
}

func TestDedupMinimumCapacity(t *testing.T) {
	d := NewDedup(1024)
	for i := 0; i < 1024; i++ {
		d.Seen(string(rune(i)))
	}
	if d.Len() != 1024 {
		t.Fatalf("expected exactly 1024 tracked ids, got %d", d.Len())
	}
}
