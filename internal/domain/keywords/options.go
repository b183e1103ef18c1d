package keywords

import "github.com/okian/herald/pkg/logger"

// Option configures a Matcher.
type Option func(*Matcher)

// WithSemantic sets the semantic matcher used by profiles that enable it.
func WithSemantic(s SemanticMatcher) Option {
	return func(m *Matcher) {
		m.semantic = s
	}
}

// WithLogger sets the logger for fallback warnings.
func WithLogger(l logger.Logger) Option {
	return func(m *Matcher) {
		if l != nil {
			m.log = l
		}
	}
}
