// Package workqueue provides an unbounded FIFO drained by a single worker goroutine.
package workqueue

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// ErrStopped is returned by Queue after Stop has been called.
var ErrStopped = stderrors.New("work queue stopped")

// Handler processes one item. Returned errors are logged and otherwise ignored;
// handlers own their failure disposition.
type Handler[T any] func(ctx context.Context, item T) error

// Queue is a FIFO of items handed one at a time to a handler on a dedicated goroutine.
type Queue[T any] struct {
	handler Handler[T]
	ctx     context.Context

	mu      sync.Mutex
	items   []T
	stopped bool

	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}

	processed atomic.Int64
}

// New creates a queue and starts its worker. ctx is passed to every handler call;
// cancelling it does not stop the worker, Stop does.
func New[T any](ctx context.Context, handler Handler[T]) *Queue[T] {
	q := &Queue[T]{
		handler: handler,
		ctx:     ctx,
		wakeCh:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go q.run()
	return q
}

// Queue appends item without blocking.
func (q *Queue[T]) Queue(item T) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrStopped
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
	return nil
}

// Stop stops accepting and dequeuing items, waits for the running handler to
// return and returns the items that were never started. Later calls return nil.
func (q *Queue[T]) Stop() []T {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	close(q.stopCh)
	q.mu.Unlock()

	<-q.doneCh

	q.mu.Lock()
	defer q.mu.Unlock()
	rest := q.items
	q.items = nil
	return rest
}

// Len returns the number of items waiting.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Processed returns the number of handler invocations that have completed.
func (q *Queue[T]) Processed() int64 {
	return q.processed.Load()
}

func (q *Queue[T]) run() {
	defer close(q.doneCh)
	for {
		select {
		case <-q.stopCh:
			return
		case <-q.wakeCh:
		}
		for {
			item, ok := q.pop()
			if !ok {
				break
			}
			q.handle(item)
		}
	}
}

// pop removes the head item unless the queue is empty or stopped.
func (q *Queue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.stopped || len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

func (q *Queue[T]) handle(item T) {
	defer q.processed.Add(1)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("work_queue_handler_panic",
				slog.String("item", fmt.Sprint(item)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	if err := q.handler(q.ctx, item); err != nil {
		slog.Debug("work_queue_handler_error",
			slog.String("item", fmt.Sprint(item)),
			slog.String("error", err.Error()))
	}
}
