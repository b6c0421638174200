package indexer

import (
	"sync"

	"github.com/Aman-CERP/dirindex/internal/workitem"
)

// dedupSet holds the keys of work that is queued, in flight or awaiting retry.
type dedupSet struct {
	mu   sync.RWMutex
	keys map[workitem.Key]struct{}
}

func newDedupSet() *dedupSet {
	return &dedupSet{keys: make(map[workitem.Key]struct{})}
}

func (d *dedupSet) Contains(key workitem.Key) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.keys[key]
	return ok
}

// TryAdd adds key and reports whether it was absent.
func (d *dedupSet) TryAdd(key workitem.Key) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.keys[key]; ok {
		return false
	}
	d.keys[key] = struct{}{}
	return true
}

func (d *dedupSet) Remove(key workitem.Key) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.keys, key)
}

func (d *dedupSet) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.keys)
}
