package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/okian/herald/internal/adapters/repository"
	"github.com/okian/herald/internal/domain/digest"
	"github.com/okian/herald/internal/domain/model"
	"github.com/okian/herald/pkg/logger"
	"github.com/okian/herald/pkg/metrics"
)

const maxOutboxBackoff = time.Hour

// retryPolicy bounds one publish: each attempt gets Timeout, failed attempts
// back off exponentially with jitter.
type retryPolicy struct {
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		Timeout:        5 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
	}
}

// backoff returns the wait before retry number attempt (0-based), ±25% jitter.
func (p retryPolicy) backoff(attempt int) time.Duration {
	b := float64(p.InitialBackoff) * math.Pow(p.BackoffFactor, float64(attempt))
	if b > float64(p.MaxBackoff) {
		b = float64(p.MaxBackoff)
	}
	b += b * 0.25 * (rand.Float64()*2 - 1)
	return time.Duration(b)
}

func (s *Service) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		actx, cancel := context.WithTimeout(ctx, s.retry.Timeout)
		err := fn(actx)
		cancel()
		if err == nil {
			if attempt > 0 {
				s.logger.Info(ctx, "publish succeeded after retry",
					logger.String("operation", op), logger.Int("attempt", attempt+1))
			}
			return nil
		}
		lastErr = err
		if attempt >= s.retry.MaxRetries {
			break
		}

		wait := s.retry.backoff(attempt)
		s.logger.Warn(ctx, "publish failed, retrying",
			logger.String("operation", op),
			logger.Int("attempt", attempt+1),
			logger.Duration("backoff", wait),
			logger.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}
	}
	return lastErr
}

// deliverDecision publishes d within ctx's deadline. Once the deadline has
// passed the decision goes straight to the outbox.
func (s *Service) deliverDecision(ctx context.Context, d *model.DeliveryDecision) {
	start := time.Now()
	err := ctx.Err()
	if err == nil {
		err = s.withRetry(ctx, "decision", func(ctx context.Context) error {
			return s.publisher.PublishDecision(ctx, d)
		})
	}
	if err == nil {
		metrics.RecordDeliveryLatency(float64(time.Since(start).Milliseconds()))
		s.stats.delivered.Add(1)
		return
	}

	metrics.RecordDeliveryFailure(string(repository.OutboxDecision))
	s.stats.deliveryFailures.Add(1)
	err = fmt.Errorf("%w: decision %s: %w", ErrDelivery, d.ID, err)
	s.logger.Warn(ctx, "decision delivery failed, moving to outbox",
		logger.String("event_id", d.EventID),
		logger.String("subscriber_id", d.SubscriberID),
		logger.Error(err),
	)
	if oerr := s.toOutbox(ctx, repository.OutboxEntry{Kind: repository.OutboxDecision, Decision: d}, err); oerr != nil {
		s.logger.Error(ctx, "decision lost", logger.String("decision_id", d.ID), logger.Error(oerr))
	}
}

// toOutbox stores a publish that exhausted its retries. It runs without the
// caller's cancellation since that is often why the publish failed.
func (s *Service) toOutbox(ctx context.Context, e repository.OutboxEntry, cause error) error {
	now := s.now()
	e.ID = uuid.NewString()
	e.LastError = cause.Error()
	e.NextAttemptAt = now.Add(s.outboxInterval)
	e.CreatedAt = now

	ctx = context.WithoutCancel(ctx)
	if err := s.stores.Outbox.Add(ctx, e); err != nil {
		metrics.RecordError("outbox", "add")
		return errors.Join(cause, err)
	}
	s.stats.outboxed.Add(1)
	s.observeOutbox(ctx)
	return nil
}

func (s *Service) observeOutbox(ctx context.Context) {
	if n, err := s.stores.Outbox.Size(ctx); err == nil {
		metrics.UpdateOutboxSize(n)
	}
}

// RunOutbox retries up to the batch size of due outbox entries once each and
// returns how many were delivered. Failures are rescheduled with exponential
// backoff capped at one hour.
func (s *Service) RunOutbox(ctx context.Context, now time.Time) (int, error) {
	due, err := s.stores.Outbox.Due(ctx, now, s.outboxBatch)
	if err != nil {
		return 0, fmt.Errorf("load outbox: %w", err)
	}
	defer s.observeOutbox(ctx)

	delivered := 0
	for i := range due {
		e := &due[i]
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}

		err := s.publishEntry(ctx, e)
		if err == nil {
			if derr := s.stores.Outbox.Done(ctx, e.ID); derr != nil && !errors.Is(derr, repository.ErrNotFound) {
				return delivered, fmt.Errorf("complete outbox entry %s: %w", e.ID, derr)
			}
			delivered++
			s.stats.delivered.Add(1)
			continue
		}

		metrics.RecordDeliveryFailure("outbox")
		next := now.Add(outboxBackoff(s.outboxInterval, e.Attempts+1))
		if rerr := s.stores.Outbox.Reschedule(ctx, e.ID, next, err.Error()); rerr != nil {
			return delivered, fmt.Errorf("reschedule outbox entry %s: %w", e.ID, rerr)
		}
		s.logger.Warn(ctx, "outbox retry failed",
			logger.String("entry_id", e.ID),
			logger.Int("attempts", e.Attempts+1),
			logger.Any("next_attempt_at", next),
			logger.Error(err),
		)
	}
	return delivered, nil
}

func (s *Service) publishEntry(ctx context.Context, e *repository.OutboxEntry) error {
	actx, cancel := context.WithTimeout(ctx, s.retry.Timeout)
	defer cancel()

	switch {
	case e.Kind == repository.OutboxDecision && e.Decision != nil:
		return s.publisher.PublishDecision(actx, e.Decision)
	case e.Kind == repository.OutboxDigest && e.Digest != nil:
		return s.publisher.PublishDigest(actx, e.Digest)
	}
	return fmt.Errorf("%w: entry %s has no %s payload", repository.ErrInvalidEntry, e.ID, e.Kind)
}

func outboxBackoff(base time.Duration, attempts int) time.Duration {
	d := base
	for i := 1; i < attempts && d < maxOutboxBackoff; i++ {
		d *= 2
	}
	if d > maxOutboxBackoff {
		d = maxOutboxBackoff
	}
	return d
}

// digestPublisher retries digest publishes and falls back to the outbox. The
// scheduler only sees an error when the window could not be stored either,
// which leaves the slot unmarked for the next tick.
type digestPublisher struct {
	svc *Service
}

var _ digest.Publisher = (*digestPublisher)(nil)

func (p *digestPublisher) PublishDigest(ctx context.Context, w *model.DigestWindow) error {
	s := p.svc
	start := time.Now()
	err := s.withRetry(ctx, "digest", func(ctx context.Context) error {
		return s.publisher.PublishDigest(ctx, w)
	})
	if err == nil {
		metrics.RecordDeliveryLatency(float64(time.Since(start).Milliseconds()))
		s.stats.delivered.Add(1)
		return nil
	}

	metrics.RecordDeliveryFailure(string(repository.OutboxDigest))
	s.stats.deliveryFailures.Add(1)
	err = fmt.Errorf("%w: digest %s: %w", ErrDelivery, w.ID, err)
	s.logger.Warn(ctx, "digest delivery failed, moving to outbox",
		logger.String("subscriber_id", w.SubscriberID),
		logger.String("config_id", w.ConfigID),
		logger.Error(err),
	)
	return s.toOutbox(ctx, repository.OutboxEntry{Kind: repository.OutboxDigest, Digest: w}, err)
}

// TickDigests runs one digest scheduler pass at now.
func (s *Service) TickDigests(ctx context.Context, now time.Time) (digest.Report, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.digest_tick")
	defer span.End()

	rep, err := s.scheduler.Tick(ctx, now, s.lease)
	if err != nil {
		metrics.RecordDigestRun("error")
		span.RecordError(err)
		return rep, err
	}

	record := func(result string, n int) {
		for i := 0; i < n; i++ {
			metrics.RecordDigestRun(result)
		}
	}
	record("sent", rep.Sent)
	record("suppressed", rep.Suppressed)
	record("failed", rep.Failed)
	for i := 0; i < rep.Contended; i++ {
		metrics.RecordDigestLeaseContended()
	}
	for _, w := range rep.Windows {
		metrics.RecordDigestItems(digest.BucketWaiting, len(w.WaitingOnUser))
		metrics.RecordDigestItems(digest.BucketReady, len(w.ApprovedReadyToMerge))
		metrics.RecordDigestItems(digest.BucketOpen, len(w.UserOpenItems))
	}
	s.stats.digestsSent.Add(int64(rep.Sent))

	if rep.Due > 0 {
		s.logger.Info(ctx, "digest tick",
			logger.Int("due", rep.Due),
			logger.Int("sent", rep.Sent),
			logger.Int("suppressed", rep.Suppressed),
			logger.Int("failed", rep.Failed),
			logger.Int("contended", rep.Contended),
		)
	}
	return rep, nil
}
