// Package dedup tracks which transaction ids have already been processed for
// a machine. The index is not safe for concurrent use; the poll engine runs
// at most one cycle per machine at a time, which is the only writer.
package dedup

import (
	"time"

	"github.com/alpenava/home-assistant-nayax/internal/domain"
)

// Index is the in-memory deduplication set for one machine. Entries added
// since the last persistence flush are tracked separately so the store only
// has to write the delta.
type Index struct {
	machineID string
	firstSeen map[string]time.Time
	pending   []domain.DedupEntry
}

// NewIndex builds an index for machineID, preloaded with persisted entries.
func NewIndex(machineID string, entries []domain.DedupEntry) *Index {
	idx := &Index{
		machineID: machineID,
		firstSeen: make(map[string]time.Time, len(entries)),
	}
	for _, e := range entries {
		idx.firstSeen[e.TransactionID] = e.FirstSeenAt
	}
	return idx
}

// IsNew reports whether the transaction id has never been marked seen.
func (i *Index) IsNew(transactionID string) bool {
	_, seen := i.firstSeen[transactionID]
	return !seen
}

// MarkSeen records the transaction id. Marking an already-known id is a
// no-op; the first-seen instant never changes. Returns true when the id was
// genuinely new.
func (i *Index) MarkSeen(transactionID string, at time.Time) bool {
	if _, seen := i.firstSeen[transactionID]; seen {
		return false
	}
	i.firstSeen[transactionID] = at
	i.pending = append(i.pending, domain.DedupEntry{
		MachineID:     i.machineID,
		TransactionID: transactionID,
		FirstSeenAt:   at,
	})
	return true
}

// Prune drops entries first seen before the cutoff and returns how many were
// removed. The caller is responsible for keeping the cutoff at least the
// longest bucket horizon in the past, so a late re-fetch cannot resurrect a
// pruned transaction inside a still-open window.
func (i *Index) Prune(before time.Time) int {
	removed := 0
	for id, at := range i.firstSeen {
		if at.Before(before) {
			delete(i.firstSeen, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of known transaction ids.
func (i *Index) Len() int {
	return len(i.firstSeen)
}

// Pending returns entries added since the last ClearPending call.
func (i *Index) Pending() []domain.DedupEntry {
	return i.pending
}

// ClearPending forgets the pending delta after a successful persist.
func (i *Index) ClearPending() {
	i.pending = nil
}

// Entries returns the full entry set, used by in-memory persistence and tests.
func (i *Index) Entries() []domain.DedupEntry {
	out := make([]domain.DedupEntry, 0, len(i.firstSeen))
	for id, at := range i.firstSeen {
		out = append(out, domain.DedupEntry{
			MachineID:     i.machineID,
			TransactionID: id,
			FirstSeenAt:   at,
		})
	}
	return out
}
