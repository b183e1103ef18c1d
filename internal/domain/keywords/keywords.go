// Package keywords evaluates a profile's keyword list against event text.
package keywords

import (
	"context"
	"strings"

	"github.com/okian/herald/pkg/logger"
)

// Verdict is a semantic matcher's answer for one keyword.
type Verdict struct {
	Keyword   string `json:"keyword"`
	Matched   bool   `json:"matched"`
	Rationale string `json:"rationale"`
}

// SemanticMatcher is the external capability used when a profile enables
// semantic keyword matching.
type SemanticMatcher interface {
	Match(ctx context.Context, text string, keywords []string) ([]Verdict, error)
}

// Result is the outcome for one profile.
type Result struct {
	Matched  bool
	Keywords []string
	// Fallback is set when semantic matching failed and literal mode was used.
	Fallback bool
	// Rationales holds the semantic matcher's explanation per matched keyword.
	Rationales map[string]string
}

// Matcher evaluates keyword lists.
type Matcher struct {
	semantic SemanticMatcher
	log      logger.Logger
}

// New creates a Matcher. Without WithSemantic every evaluation is literal.
func New(opts ...Option) *Matcher {
	m := &Matcher{log: logger.Nop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Match evaluates keywords against text. An empty list matches vacuously.
// Semantic failures fall back to literal matching so a decision is still made.
func (m *Matcher) Match(ctx context.Context, text string, keywords []string, semantic bool) Result {
	keywords = clean(keywords)
	if len(keywords) == 0 {
		return Result{Matched: true, Keywords: []string{}}
	}
	if !semantic || m.semantic == nil {
		return Literal(text, keywords)
	}

	verdicts, err := m.semantic.Match(ctx, text, keywords)
	if err != nil {
		m.log.Warn(ctx, "semantic keyword match failed, using literal match",
			logger.Strings("keywords", keywords), logger.Error(err))
		res := Literal(text, keywords)
		res.Fallback = true
		return res
	}
	return fromVerdicts(keywords, verdicts)
}

// Literal performs case-insensitive containment for every keyword and lists
// the ones found, in keyword order.
func Literal(text string, keywords []string) Result {
	keywords = clean(keywords)
	if len(keywords) == 0 {
		return Result{Matched: true, Keywords: []string{}}
	}
	lower := strings.ToLower(text)
	matched := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			matched = append(matched, k)
		}
	}
	return Result{Matched: len(matched) > 0, Keywords: matched}
}

func fromVerdicts(keywords []string, verdicts []Verdict) Result {
	byKeyword := make(map[string]Verdict, len(verdicts))
	for _, v := range verdicts {
		byKeyword[strings.ToLower(strings.TrimSpace(v.Keyword))] = v
	}
	res := Result{Keywords: make([]string, 0, len(keywords)), Rationales: map[string]string{}}
	for _, k := range keywords {
		v, ok := byKeyword[strings.ToLower(k)]
		if !ok || !v.Matched {
			continue
		}
		res.Keywords = append(res.Keywords, k)
		res.Rationales[k] = v.Rationale
	}
	res.Matched = len(res.Keywords) > 0
	return res
}

// clean trims keywords and drops blanks and case-insensitive duplicates.
func clean(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		lk := strings.ToLower(k)
		if _, dup := seen[lk]; dup {
			continue
		}
		seen[lk] = struct{}{}
		out = append(out, k)
	}
	return out
}
