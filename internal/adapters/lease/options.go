package lease

import (
	"time"

	"github.com/okian/herald/pkg/logger"
)

// Option configures a RedisLease.
type Option func(*RedisLease)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(l *RedisLease) {
		l.prefix = prefix
	}
}

// WithReleaseTimeout bounds the release round trip.
func WithReleaseTimeout(d time.Duration) Option {
	return func(l *RedisLease) {
		if d > 0 {
			l.releaseTimeout = d
		}
	}
}

// WithLogger sets the lease logger.
func WithLogger(lg logger.Logger) Option {
	return func(l *RedisLease) {
		if lg != nil {
			l.logger = lg
		}
	}
}
