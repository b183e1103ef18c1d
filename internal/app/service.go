// Package service wires the domain packages into the notification pipeline:
// classify, gate, fan out over subscribers, decide and deliver. It also owns
// the ingest queue, the outbox retry loop and the digest ticker.
package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	eventqueue "github.com/okian/herald/internal/adapters/mq/queue"
	workerpool "github.com/okian/herald/internal/adapters/mq/worker"
	"github.com/okian/herald/internal/adapters/repository"
	"github.com/okian/herald/internal/domain/classify"
	"github.com/okian/herald/internal/domain/dedupe"
	"github.com/okian/herald/internal/domain/digest"
	"github.com/okian/herald/internal/domain/keywords"
	"github.com/okian/herald/internal/domain/model"
	"github.com/okian/herald/internal/domain/preference"
	"github.com/okian/herald/internal/telemetry"
	"github.com/okian/herald/pkg/logger"
	"go.opentelemetry.io/otel/trace"
)

// Stores groups the persistence the pipeline reads and writes. Teams and
// Installations are optional; without them side-effect events are ignored.
type Stores struct {
	Ledger        dedupe.ClaimStore
	Directory     repository.Directory
	Teams         repository.TeamSync
	Installations repository.InstallationStore
	Items         repository.ItemStore
	Outbox        repository.Outbox
	Slots         repository.SlotStore
}

// Publisher hands decisions and digests to the delivery collaborator.
type Publisher interface {
	PublishDecision(ctx context.Context, d *model.DeliveryDecision) error
	PublishDigest(ctx context.Context, w *model.DigestWindow) error
}

type counters struct {
	received         atomic.Int64
	dropped          atomic.Int64
	duplicates       atomic.Int64
	processed        atomic.Int64
	failed           atomic.Int64
	decisions        atomic.Int64
	delivered        atomic.Int64
	deliveryFailures atomic.Int64
	outboxed         atomic.Int64
	digestsSent      atomic.Int64
}

// Service runs the pipeline. Handle is safe for concurrent use.
type Service struct {
	mu sync.RWMutex

	// Core components
	stores     Stores
	publisher  Publisher
	classifier *classify.Classifier
	gate       *dedupe.Gate
	matcher    *preference.Matcher
	pool       *workerpool.Pool
	scheduler  *digest.Scheduler
	lease      digest.Lease
	semantic   keywords.SemanticMatcher
	tracer     trace.Tracer

	// Configuration
	workerCount     int
	workerQueueSize int
	queueSize       int
	dispatcherCount int
	claimTimeout    time.Duration
	retry           retryPolicy
	outboxInterval  time.Duration
	outboxBatch     int
	digestTick      time.Duration
	digestLeaseTTL  time.Duration
	digestWindow    time.Duration
	now             func() time.Time

	// State
	started     bool
	eventQueue  *eventqueue.InMemoryQueue
	dispatchers *workerpool.Dispatchers
	cancel      context.CancelFunc
	loops       sync.WaitGroup
	stats       counters

	logger logger.Logger
}

// New constructs a Service over stores and pub.
func New(stores Stores, pub Publisher, opts ...Option) (*Service, error) {
	switch {
	case stores.Ledger == nil:
		return nil, fmt.Errorf("%w: ledger", ErrMissingDependency)
	case stores.Directory == nil:
		return nil, fmt.Errorf("%w: directory", ErrMissingDependency)
	case stores.Items == nil:
		return nil, fmt.Errorf("%w: item store", ErrMissingDependency)
	case stores.Outbox == nil:
		return nil, fmt.Errorf("%w: outbox", ErrMissingDependency)
	case stores.Slots == nil:
		return nil, fmt.Errorf("%w: slot store", ErrMissingDependency)
	case pub == nil:
		return nil, fmt.Errorf("%w: publisher", ErrMissingDependency)
	}

	s := &Service{
		stores:          stores,
		publisher:       pub,
		classifier:      classify.New(),
		lease:           digest.NewLocalLease(),
		tracer:          telemetry.Tracer(),
		workerCount:     runtime.NumCPU() * 4,
		workerQueueSize: 1_000,
		queueSize:       10_000,
		dispatcherCount: 4,
		claimTimeout:    5 * time.Minute,
		retry:           defaultRetryPolicy(),
		outboxInterval:  30 * time.Second,
		outboxBatch:     100,
		digestTick:      time.Minute,
		digestLeaseTTL:  2 * time.Minute,
		digestWindow:    7 * 24 * time.Hour,
		now:             func() time.Time { return time.Now().UTC() },
		logger:          logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.gate = dedupe.NewGate(stores.Ledger,
		dedupe.WithClaimTimeout(s.claimTimeout),
		dedupe.WithClock(s.now),
	)
	kw := keywords.New(
		keywords.WithSemantic(s.semantic),
		keywords.WithLogger(s.logger.Named("keywords")),
	)
	s.matcher = preference.New(kw, preference.WithClock(s.now))
	s.pool = workerpool.NewPool(s.workerCount, s.workerQueueSize,
		workerpool.WithPoolLogger(s.logger.Named("pool")))
	s.scheduler = digest.NewScheduler(stores.Directory, stores.Items, stores.Slots,
		&digestPublisher{svc: s},
		digest.WithWindow(s.digestWindow),
		digest.WithLeaseTTL(s.digestLeaseTTL),
		digest.WithLogger(s.logger.Named("digest")),
	)
	return s, nil
}

// Start starts the ingest dispatchers, the outbox loop and the digest ticker.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.eventQueue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.dispatchers = workerpool.NewDispatchers(s.dispatcherCount, s.eventQueue, s,
		workerpool.WithLogger(s.logger))
	s.dispatchers.Start(runCtx)

	s.loops.Add(2)
	go s.every(runCtx, s.outboxInterval, func(ctx context.Context, now time.Time) {
		if _, err := s.RunOutbox(ctx, now); err != nil {
			s.logger.Error(ctx, "outbox pass failed", logger.Error(err))
		}
	})
	go s.every(runCtx, s.digestTick, func(ctx context.Context, now time.Time) {
		if _, err := s.TickDigests(ctx, now); err != nil {
			s.logger.Error(ctx, "digest tick failed", logger.Error(err))
		}
	})

	s.started = true
	s.logger.Info(ctx, "pipeline started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dispatchers", s.dispatcherCount),
	)
	return nil
}

// Stop drains the ingest queue and stops the background loops. The Service
// can still Handle events until Close.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.Info(ctx, "stopping pipeline...")
	err := s.dispatchers.Shutdown(ctx)
	s.cancel()
	s.loops.Wait()

	s.started = false
	s.logger.Info(ctx, "pipeline stopped")
	return err
}

// Close releases the evaluation pool. Handle must not be called after Close.
func (s *Service) Close() {
	s.pool.Close()
}

// Enqueue adds raw to the ingest queue. It reports false when the service is
// not started or the queue is full.
func (s *Service) Enqueue(ctx context.Context, raw model.RawEvent) bool {
	s.mu.RLock()
	q := s.eventQueue
	started := s.started
	s.mu.RUnlock()

	if !started || q == nil {
		return false
	}
	return q.Enqueue(ctx, raw)
}

// GetStats returns pipeline counters for the /stats endpoint.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	started := s.started
	q := s.eventQueue
	s.mu.RUnlock()

	queued := 0
	if q != nil {
		queued = q.Len(context.Background())
	}
	return map[string]any{
		"started":           started,
		"queue_size":        queued,
		"queue_capacity":    s.queueSize,
		"workers":           s.pool.Size(),
		"received":          s.stats.received.Load(),
		"dropped":           s.stats.dropped.Load(),
		"duplicates":        s.stats.duplicates.Load(),
		"processed":         s.stats.processed.Load(),
		"failed":            s.stats.failed.Load(),
		"decisions":         s.stats.decisions.Load(),
		"delivered":         s.stats.delivered.Load(),
		"delivery_failures": s.stats.deliveryFailures.Load(),
		"outboxed":          s.stats.outboxed.Load(),
		"digests_sent":      s.stats.digestsSent.Load(),
	}
}

func (s *Service) every(ctx context.Context, d time.Duration, fn func(ctx context.Context, now time.Time)) {
	defer s.loops.Done()
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx, s.now())
		}
	}
}
