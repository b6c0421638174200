package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/dirindex/internal/indexer"
	"github.com/Aman-CERP/dirindex/internal/participant"
	"github.com/Aman-CERP/dirindex/internal/provider"
	"github.com/Aman-CERP/dirindex/internal/workitem"
)

// OwnerID is the owner recorded on work items the watcher queues.
const OwnerID = "watcher"

// Queuer accepts work items. *indexer.Manager implements it.
type Queuer interface {
	QueueWorkItem(key participant.Key, kind workitem.Kind, ownerID, requestingHost string) (indexer.Change, error)
}

// Options configures the watcher.
type Options struct {
	// Debounce is the quiet period before changes are queued. Default: 500ms
	Debounce time.Duration
}

// CardWatcher queues a work item for every participant whose card file
// changes. The kind follows the directory state after debouncing: a card
// that still exists is CREATE_OR_UPDATE, otherwise DELETE.
type CardWatcher struct {
	cards *provider.DirectoryProvider
	queue Queuer
	opts  Options

	mu        sync.Mutex
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	done      chan struct{}
	wg        sync.WaitGroup
	started   bool
	stopped   bool

	queued atomic.Int64
}

// New creates a watcher over the card directory of cards.
func New(cards *provider.DirectoryProvider, queue Queuer, opts Options) *CardWatcher {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	return &CardWatcher{cards: cards, queue: queue, opts: opts, done: make(chan struct{})}
}

// Start begins watching. The watch is registered before Start returns.
// The watcher stops when ctx is cancelled or Stop is called.
func (w *CardWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return fmt.Errorf("watcher already started")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(w.cards.Dir()); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", w.cards.Dir(), err)
	}

	w.fsWatcher = fsw
	w.debouncer = NewDebouncer(w.opts.Debounce)
	w.started = true

	w.wg.Add(2)
	go w.readEvents(ctx)
	go w.queueBatches()

	slog.Info("card_watcher_started",
		slog.String("dir", w.cards.Dir()),
		slog.Duration("debounce", w.opts.Debounce))
	return nil
}

// Stop stops watching and waits for in-flight batches to be queued.
// Safe to call multiple times.
func (w *CardWatcher) Stop() error {
	err := w.shutdown()
	w.wg.Wait()
	return err
}

// shutdown releases the fsnotify watch and the debouncer without waiting.
func (w *CardWatcher) shutdown() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started || w.stopped {
		return nil
	}
	w.stopped = true
	close(w.done)
	w.debouncer.Stop()
	return w.fsWatcher.Close()
}

// Queued returns the number of work items the watcher has queued.
func (w *CardWatcher) Queued() int64 {
	return w.queued.Load()
}

func (w *CardWatcher) readEvents(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			_ = w.shutdown()
			return
		case <-w.done:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if op, ok := toOperation(event.Op); ok {
				w.debouncer.Add(FileEvent{Path: event.Name, Operation: op})
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Warn("card_watcher_error", slog.String("error", err.Error()))
		}
	}
}

// toOperation maps fsnotify ops. Chmod is ignored; a rename is the old name
// going away, the new name arrives as a separate Create.
func toOperation(op fsnotify.Op) (Operation, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate, true
	case op.Has(fsnotify.Write):
		return OpModify, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return OpDelete, true
	default:
		return 0, false
	}
}

func (w *CardWatcher) queueBatches() {
	defer w.wg.Done()

	for batch := range w.debouncer.Output() {
		for _, event := range batch {
			w.queueEvent(event)
		}
	}
}

func (w *CardWatcher) queueEvent(event FileEvent) {
	key, ok := provider.KeyFromPath(event.Path)
	if !ok {
		slog.Debug("card_watcher_ignored", slog.String("path", event.Path))
		return
	}

	kind := workitem.Delete
	if w.cards.HasCard(key) {
		kind = workitem.CreateOrUpdate
	}

	change, err := w.queue.QueueWorkItem(key, kind, OwnerID, "file://"+w.cards.Dir())
	if err != nil {
		slog.Warn("card_watcher_queue_failed",
			slog.String("participant", key.URIEncoded()),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
		return
	}
	if change == indexer.Changed {
		w.queued.Add(1)
	}
	slog.Debug("card_watcher_queued",
		slog.String("participant", key.URIEncoded()),
		slog.String("op", event.Operation.String()),
		slog.String("kind", string(kind)),
		slog.String("change", change.String()))
}
