// Package indexer coordinates the indexing pipeline: it deduplicates requests,
// feeds the work queue, writes fetched business cards into the document store,
// and retries failed work until it succeeds or expires.
package indexer

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Aman-CERP/dirindex/internal/audit"
	"github.com/Aman-CERP/dirindex/internal/errors"
	"github.com/Aman-CERP/dirindex/internal/metrics"
	"github.com/Aman-CERP/dirindex/internal/participant"
	"github.com/Aman-CERP/dirindex/internal/provider"
	"github.com/Aman-CERP/dirindex/internal/reindex"
	"github.com/Aman-CERP/dirindex/internal/store"
	"github.com/Aman-CERP/dirindex/internal/workitem"
	"github.com/Aman-CERP/dirindex/internal/workqueue"
)

var (
	// ErrNotStarted is returned when work is queued before Start.
	ErrNotStarted = stderrors.New("indexer not started")

	// ErrClosed is returned when work is queued after Close.
	ErrClosed = stderrors.New("indexer closed")
)

// Change reports whether a request added new work.
type Change int

const (
	// Unchanged means identical work was already outstanding and the request was coalesced.
	Unchanged Change = iota

	// Changed means the request was queued.
	Changed
)

// String implements fmt.Stringer.
func (c Change) String() string {
	if c == Changed {
		return "changed"
	}
	return "unchanged"
}

// Config wires the manager's collaborators.
type Config struct {
	// Store is required and is closed by Close.
	Store *store.DocumentStore

	// Provider is required for CREATE_OR_UPDATE work.
	Provider provider.Provider

	// PendingFile persists outstanding work across restarts. Nil disables persistence.
	PendingFile *workitem.PendingFile

	// Ledger defaults to a ledger with the default expiry window and no retry delay.
	Ledger *reindex.Ledger

	// Audit is optional.
	Audit audit.Recorder

	// Metrics is optional.
	Metrics *metrics.Metrics

	// Clock defaults to time.Now.
	Clock func() time.Time

	// Schedule is the cron spec of the retry driver. Defaults to DefaultSchedule.
	Schedule string

	// DisableScheduler leaves retries and expiry to explicit ReIndex and
	// ExpireOldEntries calls.
	DisableScheduler bool
}

// Manager is the indexing coordinator.
type Manager struct {
	store    *store.DocumentStore
	provider provider.Provider
	pending  *workitem.PendingFile
	ledger   *reindex.Ledger
	audit    audit.Recorder
	metrics  *metrics.Metrics
	now      func() time.Time
	schedule string
	noCron   bool

	dedup *dedupSet

	// stateMu guards the lifecycle. QueueWorkItem holds the read lock while
	// enqueueing so Close cannot stop the queue underneath it.
	stateMu   sync.RWMutex
	started   bool
	closed    bool
	ctx       context.Context
	queue     *workqueue.Queue[workitem.WorkItem]
	scheduler *scheduler
	startedAt time.Time

	// retryMu serializes retry and expiry passes.
	retryMu sync.Mutex
}

// New validates cfg and creates a manager. Call Start before queueing work.
func New(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.InternalError("indexer requires a document store", nil)
	}
	if cfg.Provider == nil {
		return nil, errors.InternalError("indexer requires a provider", nil)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Ledger == nil {
		cfg.Ledger = reindex.New(reindex.Config{}, cfg.Clock)
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if err := ValidateSchedule(cfg.Schedule); err != nil {
		return nil, errors.ConfigError("invalid reindex schedule", err)
	}

	return &Manager{
		store:    cfg.Store,
		provider: cfg.Provider,
		pending:  cfg.PendingFile,
		ledger:   cfg.Ledger,
		audit:    cfg.Audit,
		metrics:  cfg.Metrics,
		now:      cfg.Clock,
		schedule: cfg.Schedule,
		noCron:   cfg.DisableScheduler,
		dedup:    newDedupSet(),
	}, nil
}

// Store returns the document store for read queries.
func (m *Manager) Store() *store.DocumentStore {
	return m.store
}

// Start replays persisted work, removes the pending file, starts the worker and
// schedules the retry driver. ctx values are passed to handlers, but its
// cancellation does not stop processing; Close does.
func (m *Manager) Start(ctx context.Context) error {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.started {
		return nil
	}

	m.ctx = context.WithoutCancel(ctx)
	m.queue = workqueue.New(m.ctx, m.processItem)

	m.restorePending()

	if !m.noCron {
		sched, err := newScheduler(m.schedule, m.tick)
		if err != nil {
			m.queue.Stop()
			return errors.ConfigError("invalid reindex schedule", err)
		}
		m.scheduler = sched
		m.scheduler.Start()
	}

	m.started = true
	m.startedAt = m.now()
	m.updateGauges()
	slog.Info("indexer_started",
		slog.Int("pending_keys", m.dedup.Len()),
		slog.Int("retry_records", m.ledger.Count()),
		slog.String("schedule", m.schedule))
	return nil
}

// restorePending loads the pending-work file, re-queues its items, restores its
// retry records and deletes it. A file that cannot be read is left in place.
// Callers hold stateMu.
func (m *Manager) restorePending() {
	if m.pending == nil || !m.pending.Exists() {
		return
	}

	p, err := m.pending.Load()
	if err != nil {
		slog.Error("pending_work_load_failed",
			append([]any{slog.String("path", m.pending.Path())}, errors.LogAttrs(err)...)...)
		return
	}

	restored := 0
	for _, r := range p.Retries {
		rec := reindex.Record{
			Item:          r.Item,
			RetryCount:    r.RetryCount,
			MaxRetryDate:  r.MaxRetryDate,
			NextRetryDate: r.NextRetryDate,
		}
		if !m.dedup.TryAdd(rec.Item.Key()) {
			continue
		}
		m.ledger.Restore(rec)
		restored++
	}

	queued := 0
	for _, item := range p.Items {
		change, err := m.enqueue(item)
		if err != nil {
			slog.Warn("pending_item_requeue_failed",
				slog.String("item", item.LogText()),
				slog.String("error", err.Error()))
			continue
		}
		if change == Changed {
			queued++
		}
	}

	if err := m.pending.Remove(); err != nil {
		slog.Error("pending_work_remove_failed", errors.LogAttrs(err)...)
	}
	slog.Info("pending_work_restored",
		slog.String("path", m.pending.Path()),
		slog.Int("items", queued),
		slog.Int("retries", restored))
}

// QueueWorkItem requests indexing work for key. It returns Unchanged if the
// same (participant, kind) is already queued, in flight or awaiting retry; the
// outstanding work keeps its original owner and host.
func (m *Manager) QueueWorkItem(key participant.Key, kind workitem.Kind, ownerID, requestingHost string) (Change, error) {
	if key.IsZero() {
		return Unchanged, errors.New(errors.ErrCodeInvalidParticipant, "participant is required", nil)
	}
	if !kind.Valid() {
		return Unchanged, errors.ValidationError(fmt.Sprintf("unknown work item kind %q", kind), nil)
	}

	m.stateMu.RLock()
	defer m.stateMu.RUnlock()

	if m.closed {
		return Unchanged, ErrClosed
	}
	if !m.started {
		return Unchanged, ErrNotStarted
	}
	return m.enqueue(workitem.New(key, kind, ownerID, requestingHost, m.now()))
}

// enqueue adds item unless its key is outstanding. Callers hold stateMu.
func (m *Manager) enqueue(item workitem.WorkItem) (Change, error) {
	if !m.dedup.TryAdd(item.Key()) {
		m.metrics.Coalesced(string(item.Kind))
		slog.Debug("work_item_coalesced", slog.String("item", item.LogText()))
		return Unchanged, nil
	}
	if err := m.queue.Queue(item); err != nil {
		m.dedup.Remove(item.Key())
		return Unchanged, ErrClosed
	}
	m.metrics.Queued(string(item.Kind))
	m.updateGauges()
	slog.Info("work_item_queued",
		slog.String("item", item.LogText()),
		slog.String("id", item.ID),
		slog.String("requesting_host", item.RequestingHost))
	return Changed, nil
}

// processItem is the work queue handler. It never lets an error escape
// without deciding the item's fate.
func (m *Manager) processItem(ctx context.Context, item workitem.WorkItem) error {
	start := m.now()
	err := m.attempt(ctx, item)
	elapsed := m.now().Sub(start)

	switch {
	case err == nil:
		m.dedup.Remove(item.Key())
		m.metrics.Processed(string(item.Kind), metrics.ResultSuccess, elapsed)
	case stderrors.Is(err, errors.ErrNotFound):
		m.dedup.Remove(item.Key())
		m.metrics.Processed(string(item.Kind), metrics.ResultNotFound, elapsed)
		slog.Warn("work_item_participant_not_found",
			append([]any{slog.String("item", item.LogText())}, errors.LogAttrs(err)...)...)
	default:
		rec := m.ledger.AddItem(item)
		m.metrics.Processed(string(item.Kind), metrics.ResultFailed, elapsed)
		slog.Warn("work_item_enlisted_for_retry",
			append([]any{
				slog.String("item", item.LogText()),
				slog.Time("max_retry_date", rec.MaxRetryDate),
			}, errors.LogAttrs(err)...)...)
	}
	m.updateGauges()
	return err
}

// attempt performs the work of item once. Panics become internal errors.
func (m *Manager) attempt(ctx context.Context, item workitem.WorkItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.InternalError(fmt.Sprintf("panic while processing %s: %v", item.LogText(), r), nil)
		}
	}()

	switch item.Kind {
	case workitem.CreateOrUpdate:
		return m.createOrUpdate(ctx, item)
	case workitem.Delete:
		return m.delete(ctx, item)
	default:
		return errors.ValidationError(fmt.Sprintf("unknown work item kind %q", item.Kind), nil)
	}
}

func (m *Manager) createOrUpdate(ctx context.Context, item workitem.WorkItem) error {
	entities, err := m.provider.Fetch(ctx, item.Participant)
	if err != nil {
		if stderrors.Is(err, errors.ErrNotFound) {
			if errors.GetCode(err) == errors.ErrCodeParticipantNotFound {
				return err
			}
			return errors.NotFound(item.Participant.URIEncoded())
		}
		if errors.GetCode(err) == "" {
			return errors.FetchFailure("failed to fetch business card", err).
				WithDetail("participant", item.Participant.URIEncoded())
		}
		return err
	}

	n, err := m.store.Put(ctx, item.Participant, store.Metadata{
		OwnerID:        item.OwnerID,
		RequestingHost: item.RequestingHost,
	}, entities)
	if err != nil {
		return err
	}

	slog.Info("work_item_indexed",
		slog.String("item", item.LogText()),
		slog.Int("documents", n))
	m.recordAudit(ctx, audit.ActionCreate, item, n)
	return nil
}

func (m *Manager) delete(ctx context.Context, item workitem.WorkItem) error {
	n, err := m.store.SoftDelete(ctx, item.Participant, item.OwnerID)
	if err != nil {
		return err
	}
	slog.Info("work_item_deleted",
		slog.String("item", item.LogText()),
		slog.Int("documents", n))
	m.recordAudit(ctx, audit.ActionDelete, item, n)
	return nil
}

func (m *Manager) recordAudit(ctx context.Context, action audit.Action, item workitem.WorkItem, documents int) {
	if m.audit == nil {
		return
	}
	err := m.audit.Record(ctx, audit.Entry{
		Time:           m.now(),
		Action:         action,
		Participant:    item.Participant.URIEncoded(),
		Documents:      documents,
		OwnerID:        item.OwnerID,
		RequestingHost: item.RequestingHost,
	})
	if err != nil {
		slog.Warn("audit_record_failed",
			slog.String("item", item.LogText()),
			slog.String("error", err.Error()))
	}
}

// RetrySummary reports the outcome of one retry pass.
type RetrySummary struct {
	Attempted int
	Succeeded int
	Failed    int
	Dropped   int
}

// ReIndex retries every ledger record that is due and not expired. Successes
// and confirmed absences release their key; failures go back to the ledger
// with an incremented retry count.
func (m *Manager) ReIndex(ctx context.Context) RetrySummary {
	m.retryMu.Lock()
	defer m.retryMu.Unlock()

	var summary RetrySummary
	if m.isClosed() {
		return summary
	}

	for _, rec := range m.ledger.DrainDueForRetry(m.now()) {
		summary.Attempted++
		m.metrics.Retried()

		start := m.now()
		err := m.attempt(ctx, rec.Item)
		elapsed := m.now().Sub(start)

		switch {
		case err == nil:
			summary.Succeeded++
			m.dedup.Remove(rec.Item.Key())
			m.metrics.Processed(string(rec.Item.Kind), metrics.ResultSuccess, elapsed)
			slog.Info("reindex_succeeded",
				slog.String("item", rec.Item.LogText()),
				slog.Int("retry_count", rec.RetryCount))
		case stderrors.Is(err, errors.ErrNotFound):
			summary.Dropped++
			m.dedup.Remove(rec.Item.Key())
			m.metrics.Processed(string(rec.Item.Kind), metrics.ResultNotFound, elapsed)
			slog.Warn("reindex_participant_not_found",
				slog.String("item", rec.Item.LogText()),
				slog.Int("retry_count", rec.RetryCount))
		default:
			summary.Failed++
			next := m.ledger.IncrementAndReenqueue(rec)
			m.metrics.Processed(string(rec.Item.Kind), metrics.ResultFailed, elapsed)
			slog.Debug("reindex_failed",
				append([]any{
					slog.String("item", rec.Item.LogText()),
					slog.Int("retry_count", next.RetryCount),
				}, errors.LogAttrs(err)...)...)
		}
	}
	m.updateGauges()
	return summary
}

// ExpireOldEntries drops every ledger record whose expiry window has passed and
// releases its key so the participant can be queued again. It returns the
// number of records dropped.
func (m *Manager) ExpireOldEntries() int {
	m.retryMu.Lock()
	defer m.retryMu.Unlock()

	expired := m.ledger.DrainExpired(m.now())
	for _, rec := range expired {
		m.dedup.Remove(rec.Item.Key())
		slog.Warn("reindex_expired",
			slog.String("item", rec.Item.LogText()),
			slog.Int("retry_count", rec.RetryCount),
			slog.Time("max_retry_date", rec.MaxRetryDate))
		ctx := m.workerContext()
		if ctx == nil {
			ctx = context.Background()
		}
		m.recordAudit(ctx, audit.ActionExpire, rec.Item, 0)
	}
	m.metrics.Expired(len(expired))
	m.updateGauges()
	return len(expired)
}

// Close stops the worker and the scheduler, persists outstanding work and
// closes the store. It is safe to call more than once.
func (m *Manager) Close() error {
	m.stateMu.Lock()
	if m.closed {
		m.stateMu.Unlock()
		return nil
	}
	m.closed = true
	queue := m.queue
	sched := m.scheduler
	m.stateMu.Unlock()

	var remaining []workitem.WorkItem
	if queue != nil {
		remaining = queue.Stop()
	}
	if sched != nil {
		sched.Stop()
	}

	// Wait for a manual retry pass to finish before snapshotting the ledger.
	m.retryMu.Lock()
	records := m.ledger.Records()
	m.retryMu.Unlock()

	var errs []error
	if err := m.persist(remaining, records); err != nil {
		errs = append(errs, err)
	}
	if err := m.store.Close(); err != nil {
		errs = append(errs, err)
	}

	slog.Info("indexer_closed",
		slog.Int("persisted_items", len(remaining)),
		slog.Int("persisted_retries", len(records)))
	return stderrors.Join(errs...)
}

func (m *Manager) persist(items []workitem.WorkItem, records []reindex.Record) error {
	if len(items) == 0 && len(records) == 0 {
		return nil
	}
	if m.pending == nil {
		slog.Warn("pending_work_discarded",
			slog.Int("items", len(items)),
			slog.Int("retries", len(records)))
		return nil
	}

	p := workitem.Pending{Items: items}
	for _, rec := range records {
		p.Retries = append(p.Retries, workitem.Retry{
			Item:          rec.Item,
			RetryCount:    rec.RetryCount,
			MaxRetryDate:  rec.MaxRetryDate,
			NextRetryDate: rec.NextRetryDate,
		})
	}
	if err := m.pending.Save(p); err != nil {
		slog.Error("pending_work_save_failed", errors.LogAttrs(err)...)
		return err
	}
	slog.Info("pending_work_saved",
		slog.String("path", m.pending.Path()),
		slog.Int("items", len(items)),
		slog.Int("retries", len(records)))
	return nil
}

func (m *Manager) isClosed() bool {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.closed
}

func (m *Manager) workerContext() context.Context {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.ctx
}
