package classify

import "github.com/okian/herald/internal/domain/model"

// Option configures a Classifier.
type Option func(*Classifier)

// WithActions replaces the kept actions of a supported kind. Unknown kinds
// are ignored and side-effect kinds keep their routing.
func WithActions(kind model.Kind, actions ...string) Option {
	return func(c *Classifier) {
		r, ok := c.table[kind]
		if !ok || len(actions) == 0 {
			return
		}
		c.table[kind] = newRule(r.sideEffect, actions...)
	}
}
