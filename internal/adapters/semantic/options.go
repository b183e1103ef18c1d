package semantic

import (
	"github.com/okian/herald/pkg/logger"
)

// Option configures a Matcher.
type Option func(*Matcher)

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(m *Matcher) {
		if model != "" {
			m.model = model
		}
	}
}

// WithBaseURL points the client at a compatible endpoint.
func WithBaseURL(url string) Option {
	return func(m *Matcher) {
		m.baseURL = url
	}
}

// WithMaxRetries sets the client's retry budget per request.
func WithMaxRetries(n int) Option {
	return func(m *Matcher) {
		if n >= 0 {
			m.maxRetries = n
		}
	}
}

// WithLogger sets the matcher logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Matcher) {
		if l != nil {
			m.logger = l
		}
	}
}
