// Package dedupe tracks (title, publish-date) keys across and within runs.
package dedupe

import (
	"sync"

	"github.com/crablduck/crm-spyder/internal/domain"
)

// Deduplicator is a seeded seen-key set. Admitting a key twice reports
// a duplicate the second time; dropping duplicates before detail
// fetching saves the fetch cost.
type Deduplicator struct {
	mu   sync.Mutex
	seen map[domain.RecordKey]struct{}
}

// New seeds the set from prior persisted batches for idempotent re-runs.
func New(seed []domain.RecordKey) *Deduplicator {
	seen := make(map[domain.RecordKey]struct{}, len(seed))
	for _, k := range seed {
		seen[k] = struct{}{}
	}
	return &Deduplicator{seen: seen}
}

// Admit records the key and reports whether it was new. Safe for
// concurrent hospital workers.
func (d *Deduplicator) Admit(key domain.RecordKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = struct{}{}
	return true
}

// Seen reports whether the key is already tracked, without admitting it.
func (d *Deduplicator) Seen(key domain.RecordKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.seen[key]
	return ok
}

// Len returns the number of tracked keys.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
