package worker

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/okian/herald/pkg/logger"
	"github.com/okian/herald/pkg/metrics"
)

const defaultPoolMultiplier = 4

// Task is one unit of work run on the Pool.
type Task func(ctx context.Context) error

type job struct {
	ctx  context.Context
	task Task
	err  *error
	wg   *sync.WaitGroup
}

// Pool is a fixed set of goroutines shared by every event. A panicking or
// failing task only affects its own result.
type Pool struct {
	jobs   chan job
	size   int
	wg     sync.WaitGroup
	once   sync.Once
	logger logger.Logger
}

// NewPool starts size goroutines with a backlog of queueSize jobs.
func NewPool(size, queueSize int, opts ...PoolOption) *Pool {
	if size < 1 {
		size = runtime.NumCPU() * defaultPoolMultiplier
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		jobs:   make(chan job, queueSize),
		size:   size,
		logger: logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.loop()
	}
	metrics.UpdateWorkerCount(size)
	return p
}

// Size returns the number of pool goroutines.
func (p *Pool) Size() int { return p.size }

// Run executes tasks on the pool and waits for all of them. errs[i] is the
// result of tasks[i]. Tasks not yet started when ctx is done get ctx.Err().
func (p *Pool) Run(ctx context.Context, tasks []Task) []error {
	errs := make([]error, len(tasks))
	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		select {
		case p.jobs <- job{ctx: ctx, task: t, err: &errs[i], wg: &wg}:
		case <-ctx.Done():
			errs[i] = ctx.Err()
			wg.Done()
		}
	}
	wg.Wait()
	return errs
}

// Close stops the pool after queued jobs finish. Run must not be called after
// Close.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.jobs)
		p.wg.Wait()
		metrics.UpdateWorkerCount(0)
	})
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for j := range p.jobs {
		*j.err = p.exec(j.ctx, j.task)
		j.wg.Done()
	}
}

func (p *Pool) exec(ctx context.Context, t Task) (err error) {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	start := time.Now()
	metrics.AddWorkerBusy(1)
	defer func() {
		metrics.AddWorkerBusy(-1)
		metrics.RecordWorkerLatency(float64(time.Since(start).Milliseconds()))
		if r := recover(); r != nil {
			metrics.RecordError("worker", "panic")
			p.logger.Error(ctx, "task panicked",
				logger.Any("panic", r),
				logger.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()
	return t(ctx)
}
