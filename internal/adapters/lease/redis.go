// Package lease provides a Redis-backed digest.Lease for multi-replica
// deployments.
package lease

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/okian/herald/internal/domain/digest"
	"github.com/okian/herald/pkg/logger"
	"github.com/okian/herald/pkg/metrics"
)

// releaseScript deletes the key only while it still holds our token.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Client is the part of *redis.Client the lease uses.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLease is a digest.Lease over SET NX PX. Tokens are random per
// acquisition so a replica never releases a lease it lost to expiry.
type RedisLease struct {
	client         Client
	prefix         string
	releaseTimeout time.Duration
	logger         logger.Logger
}

var _ digest.Lease = (*RedisLease)(nil)

// NewRedisLease creates a RedisLease.
func NewRedisLease(client Client, opts ...Option) *RedisLease {
	l := &RedisLease{
		client:         client,
		prefix:         "herald:lease:",
		releaseTimeout: 2 * time.Second,
		logger:         logger.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire implements digest.Lease.
func (l *RedisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (digest.Release, error) {
	full := l.prefix + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		metrics.RecordError("lease", "acquire")
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, digest.ErrLeaseHeld
	}
	var once sync.Once
	return func() {
		once.Do(func() { l.release(full, token) })
	}, nil
}

func (l *RedisLease) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), l.releaseTimeout)
	defer cancel()
	if err := l.client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
		metrics.RecordError("lease", "release")
		l.logger.Warn(ctx, "lease release failed, waiting for expiry",
			logger.String("key", key), logger.Error(err))
	}
}
