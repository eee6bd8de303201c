package dedup

import (
	"testing"
	"time"

	"github.com/alpenava/home-assistant-nayax/internal/domain"
)

func TestMarkSeenIsIdempotent(t *testing.T) {
	idx := NewIndex("machine-1", nil)
	now := time.Now().UTC()

	if !idx.IsNew("tx-1") {
		t.Fatal("tx-1 should be new")
	}
	if !idx.MarkSeen("tx-1", now) {
		t.Fatal("first MarkSeen should report new")
	}
	if idx.MarkSeen("tx-1", now.Add(time.Hour)) {
		t.Fatal("second MarkSeen should be a no-op")
	}
	if idx.IsNew("tx-1") {
		t.Fatal("tx-1 should no longer be new")
	}
	if idx.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", idx.Len())
	}
}

func TestPreloadedEntries(t *testing.T) {
	seen := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	idx := NewIndex("machine-1", []domain.DedupEntry{
		{MachineID: "machine-1", TransactionID: "tx-old", FirstSeenAt: seen},
	})

	if idx.IsNew("tx-old") {
		t.Fatal("preloaded entry should not be new")
	}
	if !idx.IsNew("tx-fresh") {
		t.Fatal("unknown id should be new")
	}
	// Preloaded entries are already persisted and must not re-enter the delta.
	if len(idx.Pending()) != 0 {
		t.Fatalf("pending should be empty, got %d", len(idx.Pending()))
	}
}

func TestPendingTracksDelta(t *testing.T) {
	idx := NewIndex("machine-1", nil)
	now := time.Now().UTC()

	idx.MarkSeen("tx-1", now)
	idx.MarkSeen("tx-2", now)

	pending := idx.Pending()
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending entries, got %d", len(pending))
	}
	for _, e := range pending {
		if e.MachineID != "machine-1" {
			t.Fatalf("pending entry carries wrong machine id %q", e.MachineID)
		}
	}

	idx.ClearPending()
	if len(idx.Pending()) != 0 {
		t.Fatal("pending should be empty after clear")
	}

	idx.MarkSeen("tx-3", now)
	if len(idx.Pending()) != 1 {
		t.Fatalf("new mark after clear should start a fresh delta, got %d", len(idx.Pending()))
	}
}

func TestPrune(t *testing.T) {
	idx := NewIndex("machine-1", nil)
	old := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	idx.MarkSeen("tx-old", old)
	idx.MarkSeen("tx-recent", recent)

	removed := idx.Prune(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if idx.IsNew("tx-recent") {
		t.Fatal("recent entry should survive the prune")
	}
	if !idx.IsNew("tx-old") {
		t.Fatal("pruned entry should look new again")
	}
}

func TestPruneKeepsEntryOnCutoff(t *testing.T) {
	idx := NewIndex("machine-1", nil)
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	idx.MarkSeen("tx-at-cutoff", cutoff)
	if removed := idx.Prune(cutoff); removed != 0 {
		t.Fatalf("entry exactly at cutoff should be kept, removed %d", removed)
	}
}
