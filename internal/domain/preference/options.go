package preference

import "time"

// Option configures a Matcher.
type Option func(*Matcher)

// WithClock overrides the decision timestamp source.
func WithClock(now func() time.Time) Option {
	return func(m *Matcher) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIDGenerator overrides decision id generation.
func WithIDGenerator(newID func() string) Option {
	return func(m *Matcher) {
		if newID != nil {
			m.newID = newID
		}
	}
}
