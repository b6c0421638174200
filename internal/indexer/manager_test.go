package indexer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/dirindex/internal/audit"
	"github.com/Aman-CERP/dirindex/internal/errors"
	"github.com/Aman-CERP/dirindex/internal/metrics"
	"github.com/Aman-CERP/dirindex/internal/participant"
	"github.com/Aman-CERP/dirindex/internal/provider"
	"github.com/Aman-CERP/dirindex/internal/reindex"
	"github.com/Aman-CERP/dirindex/internal/store"
	"github.com/Aman-CERP/dirindex/internal/workitem"
)

const waitFor = 5 * time.Second
const tickEvery = 5 * time.Millisecond

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAudit) Record(_ context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *recordingAudit) actions() []audit.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Action
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

type fixture struct {
	manager *Manager
	store   *store.DocumentStore
	clock   *testClock
	ledger  *reindex.Ledger
	pending *workitem.PendingFile
	audit   *recordingAudit
}

type fixtureOption func(*Config)

func newFixture(t *testing.T, p provider.Provider, opts ...fixtureOption) *fixture {
	t.Helper()
	s, err := store.Open("")
	require.NoError(t, err)

	clock := newTestClock()
	ledger := reindex.New(reindex.Config{ExpiryWindow: time.Hour}, clock.now)
	pending := workitem.NewPendingFile(filepath.Join(t.TempDir(), workitem.DefaultPendingFileName))
	rec := &recordingAudit{}

	cfg := Config{
		Store:            s,
		Provider:         p,
		PendingFile:      pending,
		Ledger:           ledger,
		Audit:            rec,
		Clock:            clock.now,
		DisableScheduler: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	m, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	return &fixture{manager: m, store: s, clock: clock, ledger: ledger, pending: pending, audit: rec}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.manager.Start(context.Background()))
}

func entitiesOf(names ...string) []store.Entity {
	out := make([]store.Entity, 0, len(names))
	for _, n := range names {
		out = append(out, store.Entity{Name: n, CountryCode: "AT"})
	}
	return out
}

func staticProvider(names ...string) provider.Provider {
	return provider.Func(func(context.Context, participant.Key) ([]store.Entity, error) {
		return entitiesOf(names...), nil
	})
}

func idle(m *Manager) func() bool {
	return func() bool {
		st := m.Status()
		return st.QueueLength == 0 && st.PendingKeys == st.RetryRecords
	}
}

func TestNew_RequiresStoreAndProvider(t *testing.T) {
	_, err := New(Config{Provider: staticProvider()})
	assert.Error(t, err)

	s, err := store.Open("")
	require.NoError(t, err)
	defer s.Close()
	_, err = New(Config{Store: s})
	assert.Error(t, err)

	_, err = New(Config{Store: s, Provider: staticProvider(), Schedule: "every now and then"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetCode(err))
}

func TestQueueWorkItem_Lifecycle(t *testing.T) {
	f := newFixture(t, staticProvider("Acme"))
	key := participant.MustParse("9915:test0")

	// Before Start
	_, err := f.manager.QueueWorkItem(key, workitem.CreateOrUpdate, "owner", "host")
	assert.ErrorIs(t, err, ErrNotStarted)

	f.start(t)
	change, err := f.manager.QueueWorkItem(key, workitem.CreateOrUpdate, "owner", "host")
	require.NoError(t, err)
	assert.Equal(t, Changed, change)

	// After Close
	require.NoError(t, f.manager.Close())
	_, err = f.manager.QueueWorkItem(key, workitem.Delete, "owner", "host")
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, f.manager.Close())
	assert.ErrorIs(t, f.manager.Start(context.Background()), ErrClosed)
}

func TestQueueWorkItem_RejectsInvalidInput(t *testing.T) {
	f := newFixture(t, staticProvider())
	f.start(t)

	_, err := f.manager.QueueWorkItem(participant.Key{}, workitem.Delete, "o", "h")
	assert.Equal(t, errors.ErrCodeInvalidParticipant, errors.GetCode(err))

	_, err = f.manager.QueueWorkItem(participant.MustParse("9915:a"), workitem.Kind("UPSERT"), "o", "h")
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.GetCode(err))
}

func TestQueueWorkItem_Idempotence(t *testing.T) {
	// Given: a provider that blocks until released
	var calls atomic.Int32
	release := make(chan struct{})
	p := provider.Func(func(context.Context, participant.Key) ([]store.Entity, error) {
		calls.Add(1)
		<-release
		return entitiesOf("Acme"), nil
	})
	reg := prometheus.NewRegistry()
	f := newFixture(t, p, func(c *Config) { c.Metrics = metrics.NewMetrics(reg) })
	f.start(t)
	key := participant.MustParse("9915:test0")

	// When: the same request arrives three times while the first is outstanding
	first, err := f.manager.QueueWorkItem(key, workitem.CreateOrUpdate, "owner", "host")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, tickEvery)
	second, err := f.manager.QueueWorkItem(key, workitem.CreateOrUpdate, "owner", "host")
	require.NoError(t, err)
	third, err := f.manager.QueueWorkItem(key, workitem.CreateOrUpdate, "other-owner", "other-host")
	require.NoError(t, err)
	assert.Equal(t, 1, f.manager.Status().PendingKeys)
	close(release)

	// Then: only one work item was processed
	assert.Equal(t, Changed, first)
	assert.Equal(t, Unchanged, second)
	assert.Equal(t, Unchanged, third)
	assert.Eventually(t, idle(f.manager), waitFor, tickEvery)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(f.manager.metrics.WorkItemsCoalesced.WithLabelValues(string(workitem.CreateOrUpdate))))

	// And: the document keeps the first requester's attribution
	docs, err := f.store.DocumentsOfParticipant(context.Background(), key)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "owner", docs[0].OwnerID)
	assert.Equal(t, "host", docs[0].RequestingHost)
}

func TestQueueWorkItem_KeyReleasedAfterSuccess(t *testing.T) {
	var calls atomic.Int32
	p := provider.Func(func(context.Context, participant.Key) ([]store.Entity, error) {
		calls.Add(1)
		return entitiesOf("Acme"), nil
	})
	f := newFixture(t, p)
	f.start(t)
	key := participant.MustParse("9915:test0")

	_, err := f.manager.QueueWorkItem(key, workitem.CreateOrUpdate, "o", "h")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return f.manager.Status().Processed == 1 }, waitFor, tickEvery)

	change, err := f.manager.QueueWorkItem(key, workitem.CreateOrUpdate, "o", "h")
	require.NoError(t, err)
	assert.Equal(t, Changed, change)
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, waitFor, tickEvery)
}

func TestQueueWorkItem_CreateAndDeleteCoexist(t *testing.T) {
	// Given: a provider that blocks until released
	release := make(chan struct{})
	p := provider.Func(func(context.Context, participant.Key) ([]store.Entity, error) {
		<-release
		return entitiesOf("Acme"), nil
	})
	f := newFixture(t, p)
	f.start(t)
	key := participant.MustParse("9915:test0")

	// When: both kinds are requested for the same participant
	create, err := f.manager.QueueWorkItem(key, workitem.CreateOrUpdate, "o", "h")
	require.NoError(t, err)
	del, err := f.manager.QueueWorkItem(key, workitem.Delete, "o", "h")
	require.NoError(t, err)

	// Then: both are pending independently and both get processed
	assert.Equal(t, Changed, create)
	assert.Equal(t, Changed, del)
	assert.Equal(t, 2, f.manager.Status().PendingKeys)
	close(release)
	assert.Eventually(t, func() bool { return f.manager.Status().Processed == 2 }, waitFor, tickEvery)
	assert.Equal(t, 0, f.manager.Status().PendingKeys)

	exists, err := f.store.Exists(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, []audit.Action{audit.ActionCreate, audit.ActionDelete}, f.audit.actions())
}

func TestEndToEnd_CreateThenDelete(t *testing.T) {
	// Given: a provider returning one entity named Acme
	f := newFixture(t, staticProvider("Acme"))
	f.start(t)
	ctx := context.Background()
	key := participant.MustParse("9915:test0")

	// When: the participant is queued for indexing
	_, err := f.manager.QueueWorkItem(key, workitem.CreateOrUpdate, "CN=SMP", "10.0.0.1")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return f.manager.Status().Processed == 1 }, waitFor, tickEvery)

	// Then: it exists and is found by name
	exists, err := f.store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)
	docs, err := f.store.Query(ctx, store.FieldName, "Acme")
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	// When: the participant is queued for deletion
	_, err = f.manager.QueueWorkItem(key, workitem.Delete, "CN=SMP", "10.0.0.1")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return f.manager.Status().Processed == 2 }, waitFor, tickEvery)

	// Then: it no longer exists
	exists, err = f.store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
	deleted, err := f.store.CountDeleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

func TestEndToEnd_BrokenParticipantExpires(t *testing.T) {
	// Given: a provider that fails every call
	var calls atomic.Int32
	p := provider.Func(func(context.Context, participant.Key) ([]store.Entity, error) {
		calls.Add(1)
		return nil, errors.FetchFailure("authority unavailable", nil)
	})
	f := newFixture(t, p)
	f.start(t)
	key := participant.MustParse("9915:broken")
	wkey := workitem.Key{Participant: key, Kind: workitem.CreateOrUpdate}

	_, err := f.manager.QueueWorkItem(key, workitem.CreateOrUpdate, "o", "h")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return f.ledger.Count() == 1 }, waitFor, tickEvery)

	// While failing, the key stays outstanding
	change, err := f.manager.QueueWorkItem(key, workitem.CreateOrUpdate, "o", "h")
	require.NoError(t, err)
	assert.Equal(t, Unchanged, change)

	// Retries within the window keep failing
	f.clock.advance(30 * time.Minute)
	summary := f.manager.ReIndex(context.Background())
	assert.Equal(t, RetrySummary{Attempted: 1, Failed: 1}, summary)
	assert.Equal(t, 1, f.ledger.Records()[0].RetryCount)
	assert.Equal(t, 0, f.manager.ExpireOldEntries())

	// When: the expiry window elapses and one expiry pass runs
	f.clock.advance(30*time.Minute + time.Second)
	assert.Equal(t, 1, f.manager.ExpireOldEntries())

	// Then: the key is gone from both the dedup set and the ledger
	assert.False(t, f.manager.dedup.Contains(wkey))
	assert.Equal(t, 0, f.ledger.Count())
	assert.Contains(t, f.audit.actions(), audit.ActionExpire)

	// And: a fresh request is accepted again
	change, err = f.manager.QueueWorkItem(key, workitem.CreateOrUpdate, "o", "h")
	require.NoError(t, err)
	assert.Equal(t, Changed, change)
	assert.Eventually(t, func() bool { return calls.Load() == 3 }, waitFor, tickEvery)
}

func TestReIndex_SuccessReleasesKey(t *testing.T) {
	// Given: a provider that fails once and then recovers
	var calls atomic.Int32
	p := provider.Func(func(context.Context, participant.Key) ([]store.Entity, error) {
		if calls.Add(1) == 1 {
			return nil, errors.FetchFailure("timeout", nil)
		}
		return entitiesOf("Acme"), nil
	})
	f := newFixture(t, p)
	f.start(t)
	key := participant.MustParse("9915:flaky")

	_, err := f.manager.QueueWorkItem(key, workitem.CreateOrUpdate, "o", "h")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return f.ledger.Count() == 1 }, waitFor, tickEvery)

	// When: the scheduler tick runs
	f.manager.tick()

	// Then: the participant is indexed and nothing is outstanding
	assert.Equal(t, 0, f.ledger.Count())
	assert.Equal(t, 0, f.manager.Status().PendingKeys)
	exists, err := f.store.Exists(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestNotFound_IsTerminal(t *testing.T) {
	// Given: a provider that confirms the participant has no card
	p := provider.Func(func(_ context.Context, key participant.Key) ([]store.Entity, error) {
		return nil, errors.NotFound(key.URIEncoded())
	})
	f := newFixture(t, p)
	f.start(t)
	key := participant.MustParse("9915:ghost")

	// When: it is queued
	_, err := f.manager.QueueWorkItem(key, workitem.CreateOrUpdate, "o", "h")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return f.manager.Status().Processed == 1 }, waitFor, tickEvery)

	// Then: it is neither retried nor kept outstanding
	assert.Equal(t, 0, f.ledger.Count())
	assert.Equal(t, 0, f.manager.Status().PendingKeys)
}

func TestNotFound_FromPlainSentinel(t *testing.T) {
	p := provider.Func(func(context.Context, participant.Key) ([]store.Entity, error) {
		return nil, provider.ErrNotFound
	})
	f := newFixture(t, p)

	err := f.manager.attempt(context.Background(),
		workitem.New(participant.MustParse("9915:ghost"), workitem.CreateOrUpdate, "o", "h", f.clock.now()))

	assert.Equal(t, errors.ErrCodeParticipantNotFound, errors.GetCode(err))
}

func TestAttempt_UnstructuredProviderErrorBecomesFetchFailure(t *testing.T) {
	p := provider.Func(func(context.Context, participant.Key) ([]store.Entity, error) {
		return nil, os.ErrDeadlineExceeded
	})
	f := newFixture(t, p)

	err := f.manager.attempt(context.Background(),
		workitem.New(participant.MustParse("9915:a"), workitem.CreateOrUpdate, "o", "h", f.clock.now()))

	assert.ErrorIs(t, err, errors.ErrFetchFailed)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
}

func TestAttempt_PanicBecomesInternalError(t *testing.T) {
	p := provider.Func(func(context.Context, participant.Key) ([]store.Entity, error) {
		panic("provider bug")
	})
	f := newFixture(t, p)
	f.start(t)
	key := participant.MustParse("9915:panics")

	_, err := f.manager.QueueWorkItem(key, workitem.CreateOrUpdate, "o", "h")
	require.NoError(t, err)

	// The item is enlisted like any other failure
	assert.Eventually(t, func() bool { return f.ledger.Count() == 1 }, waitFor, tickEvery)
}

func TestStart_RecoversPendingItemsExactlyOnce(t *testing.T) {
	// Given: a pending file with N items and one retry record
	var mu sync.Mutex
	seen := make(map[participant.Key]int)
	p := provider.Func(func(_ context.Context, key participant.Key) ([]store.Entity, error) {
		mu.Lock()
		seen[key]++
		mu.Unlock()
		return entitiesOf("Recovered"), nil
	})
	f := newFixture(t, p)

	const n = 5
	var items []workitem.WorkItem
	for i := 0; i < n; i++ {
		key := participant.MustParse("9915:recover" + string(rune('a'+i)))
		items = append(items, workitem.New(key, workitem.CreateOrUpdate, "o", "h", f.clock.now()))
	}
	retry := workitem.Retry{
		Item:          workitem.New(participant.MustParse("9915:retry"), workitem.CreateOrUpdate, "o", "h", f.clock.now()),
		RetryCount:    2,
		MaxRetryDate:  f.clock.now().Add(time.Hour),
		NextRetryDate: f.clock.now(),
	}
	require.NoError(t, f.pending.Save(workitem.Pending{Items: items, Retries: []workitem.Retry{retry}}))

	// When: starting
	f.start(t)

	// Then: the file is gone, every item is processed exactly once and the retry is restored
	assert.False(t, f.pending.Exists())
	assert.Eventually(t, func() bool { return f.manager.Status().Processed == n }, waitFor, tickEvery)
	mu.Lock()
	assert.Len(t, seen, n)
	for key, count := range seen {
		assert.Equal(t, 1, count, key.String())
	}
	mu.Unlock()

	require.Len(t, f.ledger.Records(), 1)
	assert.Equal(t, 2, f.ledger.Records()[0].RetryCount)
	assert.Equal(t, 1, f.manager.Status().PendingKeys)

	change, err := f.manager.QueueWorkItem(retry.Item.Participant, workitem.CreateOrUpdate, "o", "h")
	require.NoError(t, err)
	assert.Equal(t, Unchanged, change)
}

func TestStart_UnknownPendingVersionIsKept(t *testing.T) {
	f := newFixture(t, staticProvider())
	require.NoError(t, os.WriteFile(f.pending.Path(), []byte(`{"version":99,"items":[]}`), 0644))

	f.start(t)

	assert.True(t, f.pending.Exists())
	assert.Equal(t, 0, f.manager.Status().PendingKeys)
}

func TestClose_PersistsOutstandingWork(t *testing.T) {
	// Given: one item in flight, two waiting and one awaiting retry
	started := make(chan struct{})
	release := make(chan struct{})
	p := provider.Func(func(_ context.Context, key participant.Key) ([]store.Entity, error) {
		switch key.Value {
		case "9915:slow":
			close(started)
			<-release
			return entitiesOf("Slow"), nil
		case "9915:broken":
			return nil, errors.FetchFailure("down", nil)
		}
		return entitiesOf("Other"), nil
	})
	f := newFixture(t, p)
	f.start(t)

	_, err := f.manager.QueueWorkItem(participant.MustParse("9915:broken"), workitem.CreateOrUpdate, "o", "h")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return f.ledger.Count() == 1 }, waitFor, tickEvery)

	_, err = f.manager.QueueWorkItem(participant.MustParse("9915:slow"), workitem.CreateOrUpdate, "o", "h")
	require.NoError(t, err)
	<-started
	_, err = f.manager.QueueWorkItem(participant.MustParse("9915:w1"), workitem.CreateOrUpdate, "o", "h")
	require.NoError(t, err)
	_, err = f.manager.QueueWorkItem(participant.MustParse("9915:w2"), workitem.Delete, "o", "h")
	require.NoError(t, err)

	// When: closing while the slow item is running
	done := make(chan error)
	go func() { done <- f.manager.Close() }()
	time.Sleep(20 * time.Millisecond)
	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Close did not return")
	}

	// Then: the waiting items and the retry record are on disk
	p2, err := f.pending.Load()
	require.NoError(t, err)
	require.Len(t, p2.Items, 2)
	assert.Equal(t, "9915:w1", p2.Items[0].Participant.Value)
	assert.Equal(t, workitem.Delete, p2.Items[1].Kind)
	require.Len(t, p2.Retries, 1)
	assert.Equal(t, "9915:broken", p2.Retries[0].Item.Participant.Value)
}

func TestStart_InvalidRetryDoesNotBlockPersistence(t *testing.T) {
	// Given: a pending file with one retry missing its kind and one good item
	// whose fetch keeps failing
	p := provider.Func(func(context.Context, participant.Key) ([]store.Entity, error) {
		return nil, errors.FetchFailure("down", nil)
	})
	f := newFixture(t, p)
	content := `{
  "version": 1,
  "items": [
    {"id": "good", "participant": {"scheme": "iso6523-actorid-upis", "value": "9915:good"}, "kind": "CREATE_OR_UPDATE", "owner_id": "o", "requesting_host": "h"}
  ],
  "retries": [
    {"item": {"id": "bad", "participant": {"scheme": "iso6523-actorid-upis", "value": "9915:bad"}, "owner_id": "o"}, "retry_count": 1}
  ]
}`
	require.NoError(t, os.WriteFile(f.pending.Path(), []byte(content), 0644))

	// When: starting, retrying and closing
	f.start(t)
	assert.Eventually(t, func() bool { return f.ledger.Count() == 1 }, waitFor, tickEvery)
	assert.Equal(t, 1, f.manager.Status().PendingKeys)
	summary := f.manager.ReIndex(context.Background())
	assert.Equal(t, 1, summary.Failed)
	require.NoError(t, f.manager.Close())

	// Then: the good item is persisted and the bad retry is gone
	p2, err := f.pending.Load()
	require.NoError(t, err)
	require.Len(t, p2.Retries, 1)
	assert.Equal(t, "9915:good", p2.Retries[0].Item.Participant.Value)
	assert.Empty(t, p2.Items)
}

func TestClose_WithoutOutstandingWorkWritesNoFile(t *testing.T) {
	f := newFixture(t, staticProvider())
	f.start(t)

	require.NoError(t, f.manager.Close())

	assert.False(t, f.pending.Exists())
	_, err := f.store.Count(context.Background())
	assert.ErrorIs(t, err, store.ErrClosed)
}

func TestStart_WithScheduler(t *testing.T) {
	f := newFixture(t, staticProvider(), func(c *Config) {
		c.DisableScheduler = false
		c.Schedule = "@every 1h"
	})

	f.start(t)

	require.NotNil(t, f.manager.scheduler)
	assert.True(t, f.manager.Status().Started)
	require.NoError(t, f.manager.Close())
	assert.False(t, f.manager.Status().Started)
}

func TestChange_String(t *testing.T) {
	assert.Equal(t, "changed", Changed.String())
	assert.Equal(t, "unchanged", Unchanged.String())
}
