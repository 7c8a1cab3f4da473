package audit

import (
	"fmt"
	"sync"
	"time"

	"github.com/cbgabler/ehr-module-simulator/internal/shared/types"
)

// DefaultListLimit caps List when the filter sets no limit
const DefaultListLimit = 100

// Trail is an append-only, hash-chained list of entries held in memory
type Trail struct {
	mu       sync.RWMutex
	entries  []*Entry
	lastHash string
	now      func() time.Time
}

// NewTrail creates an empty trail
func NewTrail() *Trail {
	return &Trail{now: time.Now}
}

// Append links entry to the end of the chain and returns the stored copy.
// Sequence, PrevHash and Hash are assigned here; ID and Timestamp are filled
// in when empty.
func (t *Trail) Append(entry Entry) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry.ID.IsZero() {
		entry.ID = types.NewID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = t.now()
	}
	entry.Timestamp = entry.Timestamp.UTC()
	entry.Sequence = int64(len(t.entries)) + 1
	entry.PrevHash = t.lastHash
	entry.Hash = entry.calculateHash()

	stored := entry
	t.entries = append(t.entries, &stored)
	t.lastHash = stored.Hash
	return stored
}

// List returns matching entries, newest first
func (t *Trail) List(f Filter) []Entry {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry, 0, min(limit, len(t.entries)))
	for i := len(t.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if f.matches(t.entries[i]) {
			out = append(out, *t.entries[i])
		}
	}
	return out
}

// Len returns the number of entries
func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// LastHash returns the hash at the head of the chain
func (t *Trail) LastHash() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastHash
}

// Verify recomputes every hash and checks each entry points at its
// predecessor.
func (t *Trail) Verify() VerifyResult {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := VerifyResult{Valid: true}
	prev := ""
	for _, e := range t.entries {
		result.Checked++
		if !e.VerifyHash() {
			result.ContentInvalid++
			result.Violations = append(result.Violations,
				fmt.Sprintf("entry %d: content does not match hash", e.Sequence))
		}
		if e.PrevHash != prev {
			result.LinkageInvalid++
			result.Violations = append(result.Violations,
				fmt.Sprintf("entry %d: previous hash mismatch", e.Sequence))
		}
		prev = e.Hash
	}
	result.Valid = result.ContentInvalid == 0 && result.LinkageInvalid == 0
	return result
}
