// Package workqueue provides a bounded background queue that batches items
// for a single worker and drops new items when full, so producers never
// block on a slow consumer.
package workqueue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrClosed is returned by Close when it is called more than once.
var ErrClosed = errors.New("workqueue: already closed")

// Handler processes one batch. Errors are logged and counted; the batch is
// not retried.
type Handler[T any] func(ctx context.Context, batch []T) error

// Observer receives queue events, typically to feed metrics.
type Observer interface {
	Enqueued()
	Dropped()
	Processed(n int)
	Failed()
	Depth(n int)
}

type Options struct {
	Name          string
	Capacity      int
	BatchSize     int
	FlushInterval time.Duration
	HandleTimeout time.Duration
	Clock         clockwork.Clock
	Observer      Observer
}

func (o *Options) applyDefaults() {
	if o.Capacity < 1 {
		o.Capacity = 1
	}
	if o.BatchSize < 1 {
		o.BatchSize = 100
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = time.Second
	}
	if o.HandleTimeout <= 0 {
		o.HandleTimeout = 5 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
}

type Queue[T any] struct {
	opts    Options
	handler Handler[T]
	items   chan T

	mu      sync.RWMutex
	closed  bool
	started bool
	done    chan struct{}
}

func New[T any](opts Options, handler Handler[T]) *Queue[T] {
	opts.applyDefaults()
	return &Queue[T]{
		opts:    opts,
		handler: handler,
		items:   make(chan T, opts.Capacity),
		done:    make(chan struct{}),
	}
}

// Start launches the worker. Calling it more than once has no effect.
func (q *Queue[T]) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	go q.run()
}

// Enqueue adds item without blocking. It returns false when the item was
// dropped because the queue is full or closed.
func (q *Queue[T]) Enqueue(item T) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.opts.Observer.Dropped()
		return false
	}

	select {
	case q.items <- item:
		q.opts.Observer.Enqueued()
		q.opts.Observer.Depth(len(q.items))
		return true
	default:
		q.opts.Observer.Dropped()
		return false
	}
}

func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Close stops accepting items, flushes what is buffered and waits for the
// worker until ctx expires.
func (q *Queue[T]) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.closed = true
	started := q.started
	close(q.items)
	q.mu.Unlock()

	if !started {
		go q.run()
	}

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue[T]) run() {
	defer close(q.done)

	ticker := q.opts.Clock.NewTicker(q.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]T, 0, q.opts.BatchSize)
	for {
		select {
		case item, ok := <-q.items:
			if !ok {
				q.flush(batch)
				return
			}
			batch = append(batch, item)
			if len(batch) >= q.opts.BatchSize {
				q.flush(batch)
				batch = make([]T, 0, q.opts.BatchSize)
			}
		case <-ticker.Chan():
			if len(batch) > 0 {
				q.flush(batch)
				batch = make([]T, 0, q.opts.BatchSize)
			}
		}
	}
}

func (q *Queue[T]) flush(batch []T) {
	q.opts.Observer.Depth(len(q.items))
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.opts.HandleTimeout)
	defer cancel()

	if err := q.handler(ctx, batch); err != nil {
		q.opts.Observer.Failed()
		slog.Warn("Work queue batch failed", "queue", q.opts.Name, "size", len(batch), "error", err)
		return
	}
	q.opts.Observer.Processed(len(batch))
}

type nopObserver struct{}

func (nopObserver) Enqueued() {}
func (nopObserver) Dropped() {}
func (nopObserver) Processed(int) {}
func (nopObserver) Failed() {}
func (nopObserver) Depth(int) {}
