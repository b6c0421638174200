// Package reindex keeps failed work items until they are retried successfully
// or their expiry window has passed.
package reindex

import (
	"sort"
	"sync"
	"time"

	"github.com/Aman-CERP/dirindex/internal/workitem"
)

// DefaultExpiryWindow is how long a failing item is retried before it is dropped.
const DefaultExpiryWindow = 24 * time.Hour

// Config controls retry timing.
type Config struct {
	// ExpiryWindow is measured from the first failure.
	ExpiryWindow time.Duration

	// RetryInterval is the minimum delay between attempts. Zero makes a record
	// eligible on every scheduler tick.
	RetryInterval time.Duration
}

// Record tracks retry state for one work item.
type Record struct {
	Item          workitem.WorkItem
	RetryCount    int
	MaxRetryDate  time.Time
	NextRetryDate time.Time
}

// Expired reports whether the record's window has passed at now.
func (r Record) Expired(now time.Time) bool {
	return now.After(r.MaxRetryDate)
}

// Due reports whether the record should be retried at now.
func (r Record) Due(now time.Time) bool {
	return !r.NextRetryDate.After(now) && !r.Expired(now)
}

// Ledger is a concurrency-safe set of retry records keyed by work item key.
type Ledger struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	records map[workitem.Key]Record
}

// New creates a ledger. A nil clock uses time.Now.
func New(cfg Config, now func() time.Time) *Ledger {
	if cfg.ExpiryWindow <= 0 {
		cfg.ExpiryWindow = DefaultExpiryWindow
	}
	if cfg.RetryInterval < 0 {
		cfg.RetryInterval = 0
	}
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		cfg:     cfg,
		now:     now,
		records: make(map[workitem.Key]Record),
	}
}

// Config returns the effective configuration.
func (l *Ledger) Config() Config {
	return l.cfg
}

// AddItem enlists a freshly failed item, replacing any record with the same key.
func (l *Ledger) AddItem(item workitem.WorkItem) Record {
	now := l.now().UTC()
	rec := Record{
		Item:          item,
		RetryCount:    0,
		MaxRetryDate:  now.Add(l.cfg.ExpiryWindow),
		NextRetryDate: now.Add(l.cfg.RetryInterval),
	}

	l.mu.Lock()
	l.records[item.Key()] = rec
	l.mu.Unlock()
	return rec
}

// IncrementAndReenqueue records another failed attempt of rec and puts it back,
// keeping its original MaxRetryDate.
func (l *Ledger) IncrementAndReenqueue(rec Record) Record {
	rec.RetryCount++
	rec.NextRetryDate = l.now().UTC().Add(l.cfg.RetryInterval)

	l.mu.Lock()
	l.records[rec.Item.Key()] = rec
	l.mu.Unlock()
	return rec
}

// Restore puts back a persisted record unchanged.
func (l *Ledger) Restore(rec Record) {
	l.mu.Lock()
	l.records[rec.Item.Key()] = rec
	l.mu.Unlock()
}

// DrainDueForRetry removes and returns the records due at now that have not expired.
func (l *Ledger) DrainDueForRetry(now time.Time) []Record {
	return l.drain(func(r Record) bool { return r.Due(now) })
}

// DrainExpired removes and returns the records whose window has passed at now.
func (l *Ledger) DrainExpired(now time.Time) []Record {
	return l.drain(func(r Record) bool { return r.Expired(now) })
}

// Contains reports whether key has a record.
func (l *Ledger) Contains(key workitem.Key) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.records[key]
	return ok
}

// Count returns the number of records.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Records returns a snapshot ordered by creation time of the work item.
func (l *Ledger) Records() []Record {
	l.mu.Lock()
	out := make([]Record, 0, len(l.records))
	for _, r := range l.records {
		out = append(out, r)
	}
	l.mu.Unlock()

	sortRecords(out)
	return out
}

func (l *Ledger) drain(match func(Record) bool) []Record {
	l.mu.Lock()
	var out []Record
	for key, r := range l.records {
		if match(r) {
			out = append(out, r)
			delete(l.records, key)
		}
	}
	l.mu.Unlock()

	sortRecords(out)
	return out
}

func sortRecords(rs []Record) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].Item.CreatedAt.Equal(rs[j].Item.CreatedAt) {
			return rs[i].Item.CreatedAt.Before(rs[j].Item.CreatedAt)
		}
		return rs[i].Item.ID < rs[j].Item.ID
	})
}
