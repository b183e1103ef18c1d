// Package preference selects at most one notification profile per subscriber.
//
// Profiles form an ordered override chain: they are scanned by
// (priority desc, id asc) and each one gets an explicit verdict. A
// disqualified or muted profile hands over to the next one; the first winner
// ends the scan.
package preference

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/herald/internal/domain/keywords"
	"github.com/okian/herald/internal/domain/model"
	"github.com/okian/herald/internal/domain/watching"
)

// Outcome is the verdict for one profile.
type Outcome string

// Outcomes.
const (
	OutcomeDisqualified Outcome = "disqualified"
	OutcomeMuted        Outcome = "muted"
	OutcomeWinner       Outcome = "winner"
)

// Check names the step that produced a verdict.
type Check string

// Checks, in evaluation order.
const (
	CheckEnabled    Check = "enabled"
	CheckRepository Check = "repository"
	CheckScope      Check = "scope"
	CheckPreference Check = "preference"
	CheckKeywords   Check = "keywords"
	CheckMuteOwn    Check = "mute_own"
	CheckMuteBot    Check = "mute_bot"
	CheckPassed     Check = "passed"
)

// Verdict records how one profile fared.
type Verdict struct {
	ProfileID string  `json:"profile_id"`
	Outcome   Outcome `json:"outcome"`
	Check     Check   `json:"check"`
}

// Match is the result for one subscriber: a decision or none, plus the trace
// of every profile that was examined.
type Match struct {
	Decision *model.DeliveryDecision
	Trace    []Verdict
	// SemanticFallback is set when any keyword check fell back to literal mode.
	SemanticFallback bool
}

// KeywordEvaluator is the keyword capability consumed by the matcher.
type KeywordEvaluator interface {
	Match(ctx context.Context, text string, keywords []string, semantic bool) keywords.Result
}

// Matcher runs the profile scan.
type Matcher struct {
	keywords KeywordEvaluator
	now      func() time.Time
	newID    func() string
}

// New creates a Matcher. A nil evaluator uses literal-only keyword matching.
func New(kw KeywordEvaluator, opts ...Option) *Matcher {
	if kw == nil {
		kw = keywords.New()
	}
	m := &Matcher{
		keywords: kw,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Evaluate scans sub's profiles for ev given the resolved reasons.
func (m *Matcher) Evaluate(ctx context.Context, ev *model.Event, sub *model.Subscriber, reasons model.ReasonSet) Match {
	var out Match
	if ev == nil || sub == nil {
		return out
	}

	key := ev.ActionKey()
	text := watching.SearchableText(ev)
	involved := watching.InvolvedTeams(ev, sub)

	for _, p := range model.SortProfiles(sub.Profiles) {
		v := Verdict{ProfileID: p.ID, Outcome: OutcomeDisqualified}

		switch {
		case !p.Enabled:
			v.Check = CheckEnabled
		case !p.RepositoryFilter.Includes(ev.Repository):
			v.Check = CheckRepository
		case !scopeSatisfied(p.Scope, reasons, involved):
			v.Check = CheckScope
		case !p.Allows(key):
			v.Check = CheckPreference
		}
		if v.Check != "" {
			out.Trace = append(out.Trace, v)
			continue
		}

		kw := m.keywords.Match(ctx, text, p.Keywords, p.SemanticKeywords)
		out.SemanticFallback = out.SemanticFallback || kw.Fallback
		if !kw.Matched {
			v.Check = CheckKeywords
			out.Trace = append(out.Trace, v)
			continue
		}

		if muted := muteCheck(&p, ev, sub); muted != "" {
			v.Outcome = OutcomeMuted
			v.Check = muted
			out.Trace = append(out.Trace, v)
			continue
		}

		v.Outcome = OutcomeWinner
		v.Check = CheckPassed
		out.Trace = append(out.Trace, v)
		out.Decision = m.decision(ev, sub, &p, reasons, kw.Keywords)
		return out
	}
	return out
}

// scopeSatisfied: a User profile always belongs to its subscriber, even with
// no watching reason; a Team profile needs its team (or, without a slug, any
// team) to be involved.
func scopeSatisfied(scope model.Scope, reasons model.ReasonSet, involved []string) bool {
	switch scope.Kind {
	case model.ScopeTeam:
		if scope.TeamSlug == "" {
			return reasons.HasTeamReason() || len(involved) > 0
		}
		want := watching.TeamHandle(scope.TeamSlug)
		for _, team := range involved {
			if strings.EqualFold(watching.TeamHandle(team), want) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// muteCheck applies the profile's own mute flags to the event sender.
func muteCheck(p *model.NotificationProfile, ev *model.Event, sub *model.Subscriber) Check {
	if p.MuteOwnActivity && sub.GitHubLogin != "" && strings.EqualFold(ev.Sender.Login, sub.GitHubLogin) {
		return CheckMuteOwn
	}
	if p.MuteBotActivity && ev.Sender.IsBot() {
		return CheckMuteBot
	}
	return ""
}

func (m *Matcher) decision(ev *model.Event, sub *model.Subscriber, p *model.NotificationProfile,
	reasons model.ReasonSet, matched []string,
) *model.DeliveryDecision {
	d := &model.DeliveryDecision{
		ID:              m.newID(),
		EventID:         ev.ID,
		SubscriberID:    sub.ID,
		ProfileID:       p.ID,
		Target:          p.Target,
		Reasons:         reasons,
		MatchedKeywords: append([]string{}, matched...),
		ActionKey:       ev.ActionKey(),
		Repository:      ev.Repository,
		Sender:          ev.Sender.Login,
		DecidedAt:       m.now(),
	}
	if ev.Subject != nil {
		d.SubjectNumber = ev.Subject.Number
		d.SubjectTitle = ev.Subject.Title
		d.SubjectURL = ev.Subject.HTMLURL
	}
	if ev.Comment != nil && ev.Comment.HTMLURL != "" {
		d.SubjectURL = ev.Comment.HTMLURL
	}
	return d
}
