// Package worker runs the pipeline's goroutines: dispatchers that drain the
// ingest queue, and a bounded pool that evaluates subscribers.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/okian/herald/internal/domain/model"
	"github.com/okian/herald/pkg/logger"
	"github.com/okian/herald/pkg/metrics"
)

const (
	defaultDispatcherCount = 4
	poolShutdownTimeout    = 30 * time.Second
)

// Handler processes one raw event end to end.
type Handler interface {
	Handle(ctx context.Context, raw model.RawEvent) error
}

// Queue defines how dispatchers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan model.RawEvent
}

// InMemoryWorker drains a Queue into a Handler.
type InMemoryWorker struct {
	queue   Queue
	handler Handler
	name    string

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a dispatcher with configuration options.
func NewInMemoryWorker(queue Queue, handler Handler, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    queue,
		handler:  handler,
		name:     "dispatcher",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named(w.name)
	return w
}

// Run processes events until ctx is canceled, Shutdown is called or the
// queue closes.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	events := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case raw, ok := <-events:
			if !ok {
				return
			}
			if err := w.handler.Handle(ctx, raw); err != nil {
				metrics.RecordError("dispatcher", "handle")
				w.logger.Error(ctx, "error handling event",
					logger.String("event_id", raw.ID),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown stops the worker and waits for its current event.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	close(w.shutdown)

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Dispatchers manages the queue-draining workers.
type Dispatchers struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewDispatchers creates count dispatchers over queue.
func NewDispatchers(count int, queue Queue, handler Handler, opts ...Option) *Dispatchers {
	if count < 1 {
		count = defaultDispatcherCount
	}
	d := &Dispatchers{
		workers: make([]*InMemoryWorker, count),
		queue:   queue,
		logger:  logger.Nop(),
	}
	for i := range d.workers {
		wopts := append([]Option{WithName("dispatcher-" + strconv.Itoa(i))}, opts...)
		d.workers[i] = NewInMemoryWorker(queue, handler, wopts...)
	}
	if len(d.workers) > 0 {
		d.logger = d.workers[0].logger
	}
	return d
}

// Start starts all dispatchers.
func (d *Dispatchers) Start(ctx context.Context) {
	for _, w := range d.workers {
		go w.Run(ctx)
	}
}

// Shutdown closes the queue when it supports it, then waits for every
// dispatcher.
func (d *Dispatchers) Shutdown(ctx context.Context) error {
	if closer, ok := d.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			d.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range d.workers {
		close(w.shutdown)
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			d.logger.Warn(ctx, "dispatcher shutdown timed out", logger.Int("worker_id", i))
		}
	}
	return nil
}
