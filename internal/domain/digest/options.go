package digest

import (
	"time"

	"github.com/okian/herald/pkg/logger"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWindow sets how far back tracked items are considered.
func WithWindow(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithLeaseTTL bounds how long one slot may hold its lease.
func WithLeaseTTL(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.leaseTTL = d
		}
	}
}

// WithCatchUp sets how late a slot may still run after its scheduled time.
func WithCatchUp(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.catchUp = d
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// WithIDGenerator overrides window id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Scheduler) {
		if newID != nil {
			s.aggregator.newID = newID
		}
	}
}
