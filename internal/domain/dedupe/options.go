package dedupe

import "time"

// Option applies a configuration option to the MemoryStore.
type Option func(*MemoryStore)

// WithMaxSize sets the maximum number of ids to keep in memory.
// If maxSize > 0: bounded mode, evicting the oldest processed ids.
// If maxSize <= 0: unbounded mode (no eviction, no size limit).
func WithMaxSize(maxSize int) Option {
	return func(s *MemoryStore) {
		s.maxSize = maxSize
	}
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithClaimTimeout sets how long a Processing claim is honoured.
func WithClaimTimeout(d time.Duration) GateOption {
	return func(g *Gate) {
		if d > 0 {
			g.claimTimeout = d
		}
	}
}

// WithClock overrides the gate's time source.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}
