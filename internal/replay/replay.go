// Package replay feeds recorded raw events into a running pipeline, either
// through the HTTP ingest endpoint or straight onto the Kafka events topic.
package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/herald/internal/domain/model"
	"github.com/okian/herald/pkg/logger"
)

const (
	defaultWorkerMultiplier = 2
	progressInterval        = time.Second
)

// Result is the sink's verdict for one event.
type Result string

// Results.
const (
	ResultAccepted     Result = "accepted"
	ResultRejected     Result = "rejected"
	ResultBackpressure Result = "backpressure"
	ResultFailed       Result = "failed"
)

// Sink submits one event.
type Sink interface {
	Submit(ctx context.Context, raw model.RawEvent) (Result, error)
}

// Stats summarizes one Run.
type Stats struct {
	Submitted    int
	Accepted     int
	Rejected     int
	Backpressure int
	Failed       int
	Duration     time.Duration
}

// Runner submits events concurrently.
type Runner struct {
	sink    Sink
	workers int
	logger  logger.Logger
}

// Option applies a configuration option to the Runner.
type Option func(*Runner)

// WithWorkers sets the number of concurrent submitters.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithLogger sets the progress logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner creates a Runner over sink.
func NewRunner(sink Sink, opts ...Option) *Runner {
	r := &Runner{
		sink:    sink,
		workers: runtime.NumCPU() * defaultWorkerMultiplier,
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run submits every event and waits for the workers. Events not yet
// submitted when ctx is done are skipped.
func (r *Runner) Run(ctx context.Context, events []model.RawEvent) (Stats, error) {
	if len(events) == 0 {
		return Stats{}, ErrNoEvents
	}
	start := time.Now()
	r.logger.Info(ctx, "replaying events",
		logger.Int("events", len(events)),
		logger.Int("workers", r.workers))

	var submitted, accepted, rejected, backpressure, failed atomic.Int64
	var lastReport atomic.Int64

	ch := make(chan model.RawEvent, r.workers*2)
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range ch {
				res, err := r.sink.Submit(ctx, ev)
				if err != nil {
					res = ResultFailed
					r.logger.Debug(ctx, "submit failed", logger.String("event_id", ev.ID), logger.Error(err))
				}
				submitted.Add(1)
				switch res {
				case ResultAccepted:
					accepted.Add(1)
				case ResultRejected:
					rejected.Add(1)
				case ResultBackpressure:
					backpressure.Add(1)
				default:
					failed.Add(1)
				}

				now := time.Now().UnixNano()
				last := lastReport.Load()
				if now-last >= int64(progressInterval) && lastReport.CompareAndSwap(last, now) {
					r.logger.Info(ctx, "replay progress",
						logger.Int64("submitted", submitted.Load()),
						logger.Int("total", len(events)),
						logger.Int64("accepted", accepted.Load()),
						logger.Int64("failed", failed.Load()))
				}
			}
		}()
	}

	go func() {
		defer close(ch)
		for _, ev := range events {
			select {
			case <-ctx.Done():
				return
			case ch <- ev:
			}
		}
	}()
	wg.Wait()

	stats := Stats{
		Submitted:    int(submitted.Load()),
		Accepted:     int(accepted.Load()),
		Rejected:     int(rejected.Load()),
		Backpressure: int(backpressure.Load()),
		Failed:       int(failed.Load()),
		Duration:     time.Since(start),
	}
	r.logger.Info(ctx, "replay completed",
		logger.Int("submitted", stats.Submitted),
		logger.Int("accepted", stats.Accepted),
		logger.Int("rejected", stats.Rejected),
		logger.Int("backpressure", stats.Backpressure),
		logger.Int("failed", stats.Failed),
		logger.Duration("duration", stats.Duration))
	return stats, ctx.Err()
}

// ReadEvents decodes a JSON array of raw events or newline-delimited JSON.
// Events without a received_at get the current time.
func ReadEvents(r io.Reader) ([]model.RawEvent, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrNoEvents
	}

	var events []model.RawEvent
	if data[0] == '[' {
		if err := json.Unmarshal(data, &events); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRead, err)
		}
	} else {
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		line := 0
		for sc.Scan() {
			line++
			b := bytes.TrimSpace(sc.Bytes())
			if len(b) == 0 {
				continue
			}
			var ev model.RawEvent
			if err := json.Unmarshal(b, &ev); err != nil {
				return nil, fmt.Errorf("%w: line %d: %w", ErrRead, line, err)
			}
			events = append(events, ev)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRead, err)
		}
	}

	now := time.Now().UTC()
	for i := range events {
		if events[i].ReceivedAt.IsZero() {
			events[i].ReceivedAt = now
		}
	}
	if len(events) == 0 {
		return nil, ErrNoEvents
	}
	return events, nil
}
