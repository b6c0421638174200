package reindex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/dirindex/internal/participant"
	"github.com/Aman-CERP/dirindex/internal/workitem"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

var t0 = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

func newItem(value string) workitem.WorkItem {
	return workitem.New(participant.MustParse("9915:"+value), workitem.CreateOrUpdate, "owner", "host", t0)
}

func TestAddItem_SetsDates(t *testing.T) {
	clock := &fakeClock{t: t0}
	l := New(Config{ExpiryWindow: time.Hour, RetryInterval: 5 * time.Minute}, clock.now)

	rec := l.AddItem(newItem("broken"))

	assert.Equal(t, 0, rec.RetryCount)
	assert.Equal(t, t0.Add(time.Hour), rec.MaxRetryDate)
	assert.Equal(t, t0.Add(5*time.Minute), rec.NextRetryDate)
	assert.Equal(t, 1, l.Count())
}

func TestAddItem_ReplacesSameKey(t *testing.T) {
	clock := &fakeClock{t: t0}
	l := New(Config{ExpiryWindow: time.Hour}, clock.now)

	l.AddItem(newItem("broken"))
	clock.advance(time.Minute)
	rec := l.AddItem(newItem("broken"))

	assert.Equal(t, 1, l.Count())
	assert.Equal(t, t0.Add(time.Minute+time.Hour), rec.MaxRetryDate)
}

func TestDrainDueForRetry_ZeroIntervalIsImmediatelyDue(t *testing.T) {
	// Given: a record enlisted with the default zero interval
	clock := &fakeClock{t: t0}
	l := New(Config{ExpiryWindow: time.Hour}, clock.now)
	l.AddItem(newItem("broken"))

	// When: draining at the same instant
	due := l.DrainDueForRetry(t0)

	// Then: it is returned and removed
	require.Len(t, due, 1)
	assert.Equal(t, 0, l.Count())
	assert.Empty(t, l.DrainDueForRetry(t0))
}

func TestDrainDueForRetry_RespectsInterval(t *testing.T) {
	clock := &fakeClock{t: t0}
	l := New(Config{ExpiryWindow: time.Hour, RetryInterval: 10 * time.Minute}, clock.now)
	l.AddItem(newItem("broken"))

	assert.Empty(t, l.DrainDueForRetry(t0.Add(10*time.Minute-time.Nanosecond)))
	assert.Len(t, l.DrainDueForRetry(t0.Add(10*time.Minute)), 1)
}

func TestExpiryBoundaries(t *testing.T) {
	window := time.Hour
	tests := []struct {
		name        string
		at          time.Duration
		wantDue     bool
		wantExpired bool
	}{
		{"just after failure", time.Millisecond, true, false},
		{"exactly at max retry date", window, true, false},
		{"just past max retry date", window + time.Nanosecond, false, true},
		{"long after", 10 * window, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a record that first failed at t0
			l := New(Config{ExpiryWindow: window}, func() time.Time { return t0 })
			l.AddItem(newItem("broken"))

			// When: draining expired first, then due
			now := t0.Add(tt.at)
			expired := l.DrainExpired(now)
			due := l.DrainDueForRetry(now)

			// Then: the record lands in exactly one drain
			assert.Equal(t, tt.wantExpired, len(expired) == 1)
			assert.Equal(t, tt.wantDue, len(due) == 1)
			assert.Equal(t, 0, l.Count())
		})
	}
}

func TestIncrementAndReenqueue_KeepsMaxRetryDate(t *testing.T) {
	// Given: a record that failed again after some retries
	clock := &fakeClock{t: t0}
	l := New(Config{ExpiryWindow: time.Hour, RetryInterval: time.Minute}, clock.now)
	rec := l.AddItem(newItem("broken"))

	clock.advance(30 * time.Minute)
	due := l.DrainDueForRetry(clock.now())
	require.Len(t, due, 1)

	// When: re-enqueueing it
	rec2 := l.IncrementAndReenqueue(due[0])

	// Then: the count increments, the next date moves, and the expiry stays
	assert.Equal(t, 1, rec2.RetryCount)
	assert.Equal(t, rec.MaxRetryDate, rec2.MaxRetryDate)
	assert.Equal(t, clock.now().Add(time.Minute), rec2.NextRetryDate)
	assert.True(t, l.Contains(rec.Item.Key()))
}

func TestDrainExpired_IgnoresRetryCount(t *testing.T) {
	clock := &fakeClock{t: t0}
	l := New(Config{ExpiryWindow: time.Hour}, clock.now)
	rec := l.AddItem(newItem("broken"))
	rec = l.IncrementAndReenqueue(rec)
	rec = l.IncrementAndReenqueue(rec)
	assert.Equal(t, 2, rec.RetryCount)

	expired := l.DrainExpired(t0.Add(2 * time.Hour))

	require.Len(t, expired, 1)
	assert.Equal(t, 2, expired[0].RetryCount)
}

func TestRestore_KeepsPersistedState(t *testing.T) {
	l := New(Config{}, func() time.Time { return t0 })
	rec := Record{
		Item:          newItem("restored"),
		RetryCount:    4,
		MaxRetryDate:  t0.Add(time.Minute),
		NextRetryDate: t0,
	}

	l.Restore(rec)

	got := l.Records()
	require.Len(t, got, 1)
	assert.Equal(t, rec, got[0])
	assert.Equal(t, DefaultExpiryWindow, l.Config().ExpiryWindow)
}

func TestRecords_SortedByCreation(t *testing.T) {
	l := New(Config{}, func() time.Time { return t0 })
	b := workitem.New(participant.MustParse("9915:b"), workitem.Delete, "o", "h", t0.Add(time.Second))
	a := workitem.New(participant.MustParse("9915:a"), workitem.Delete, "o", "h", t0)
	l.AddItem(b)
	l.AddItem(a)

	got := l.Records()

	require.Len(t, got, 2)
	assert.Equal(t, a.ID, got[0].Item.ID)
	assert.Equal(t, b.ID, got[1].Item.ID)
}
