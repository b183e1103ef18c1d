package digest

import (
	"context"
	"sync"
	"time"
)

// Release gives a lease back. It is safe to call more than once.
type Release func()

// Lease guards one digest slot against overlapping runs. It is passed into
// Scheduler.Tick and scoped to that run.
type Lease interface {
	// Acquire takes key for at most ttl. It returns ErrLeaseHeld when another
	// run owns the key.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// LocalLease is an in-process Lease. It gives no cross-process exclusion.
type LocalLease struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

// NewLocalLease creates an in-process lease.
func NewLocalLease() *LocalLease {
	return &LocalLease{held: make(map[string]time.Time), now: time.Now}
}

// Acquire implements Lease.
func (l *LocalLease) Acquire(_ context.Context, key string, ttl time.Duration) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if until, ok := l.held[key]; ok && now.Before(until) {
		return nil, ErrLeaseHeld
	}
	until := now.Add(ttl)
	l.held[key] = until

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[key].Equal(until) {
				delete(l.held, key)
			}
		})
	}, nil
}
