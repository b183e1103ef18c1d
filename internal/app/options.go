package service

import (
	"time"

	"github.com/okian/herald/internal/domain/classify"
	"github.com/okian/herald/internal/domain/digest"
	"github.com/okian/herald/internal/domain/keywords"
	"github.com/okian/herald/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClassifier replaces the default classifier.
func WithClassifier(c *classify.Classifier) Option {
	return func(s *Service) {
		if c != nil {
			s.classifier = c
		}
	}
}

// WithSemanticMatcher enables semantic keyword matching for profiles that ask for it.
func WithSemanticMatcher(m keywords.SemanticMatcher) Option {
	return func(s *Service) {
		s.semantic = m
	}
}

// WithWorkerCount sets the subscriber evaluation pool size.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithWorkerQueueSize sets the evaluation pool's task buffer.
func WithWorkerQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.workerQueueSize = size
		}
	}
}

// WithQueueSize sets the capacity of the HTTP ingest queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDispatcherCount sets how many goroutines drain the ingest queue.
func WithDispatcherCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.dispatcherCount = count
		}
	}
}

// WithClaimTimeout sets when a processing claim is considered stale.
func WithClaimTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.claimTimeout = d
		}
	}
}

// WithDelivery sets the per-attempt publish timeout, the retry count and the
// initial backoff.
func WithDelivery(timeout time.Duration, retries int, backoff time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.retry.Timeout = timeout
		}
		if retries >= 0 {
			s.retry.MaxRetries = retries
		}
		if backoff > 0 {
			s.retry.InitialBackoff = backoff
		}
	}
}

// WithOutbox sets how often and how many outbox entries are retried.
func WithOutbox(interval time.Duration, batch int) Option {
	return func(s *Service) {
		if interval > 0 {
			s.outboxInterval = interval
		}
		if batch > 0 {
			s.outboxBatch = batch
		}
	}
}

// WithDigest sets the digest tick interval, the per-slot lease ttl and the
// look-back window.
func WithDigest(tick, leaseTTL, window time.Duration) Option {
	return func(s *Service) {
		if tick > 0 {
			s.digestTick = tick
		}
		if leaseTTL > 0 {
			s.digestLeaseTTL = leaseTTL
		}
		if window > 0 {
			s.digestWindow = window
		}
	}
}

// WithLease sets the digest lease. The default is in-process.
func WithLease(l digest.Lease) Option {
	return func(s *Service) {
		if l != nil {
			s.lease = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}
