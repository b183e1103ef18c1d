// Package watching resolves why a subscriber is watching an event's subject.
//
// The predicates exported here are the single source of truth for watching
// semantics: the real-time pipeline and the digest both call them.
package watching

import (
	"strings"

	"github.com/okian/herald/internal/domain/model"
)

// Resolve returns every reason sub is watching the subject of ev. Reasons are
// cumulative. A subscriber without a login, or an event without a subject,
// yields the empty set.
func Resolve(ev *model.Event, sub *model.Subscriber) model.ReasonSet {
	var reasons model.ReasonSet
	if ev == nil || sub == nil || ev.Subject == nil || sub.GitHubLogin == "" {
		return reasons
	}
	s := ev.Subject
	login := sub.GitHubLogin

	if IsAuthor(s, login) {
		reasons = reasons.With(model.ReasonAuthor)
	}

	switch SubjectTypeOf(s) {
	case model.SubjectPullRequest:
		if IsRequestedReviewer(s, login) {
			reasons = reasons.With(model.ReasonReviewer)
		}
		if IsAssignee(s, login) {
			reasons = reasons.With(model.ReasonAssignee)
		}
		for _, team := range sub.TeamSlugs {
			if model.ContainsLogin(s.RequestedTeams, TeamHandle(team)) {
				reasons = reasons.With(model.ReasonTeamReviewer)
				break
			}
		}
	case model.SubjectIssue:
		if IsAssignee(s, login) {
			reasons = reasons.With(model.ReasonAssignee)
		}
	}

	text := SearchableText(ev)
	if MentionsLogin(text, login) {
		reasons = reasons.With(model.ReasonMentioned)
	}
	for _, team := range sub.TeamSlugs {
		if MentionsTeam(text, team) {
			reasons = reasons.With(model.ReasonTeamMentioned)
			break
		}
	}

	key := ev.SubjectKey()
	if sub.Watches(key) {
		reasons = reasons.With(model.ReasonManual)
	}
	if sub.SubscribedTo(key) {
		reasons = reasons.With(model.ReasonSubscribed)
	}
	for _, team := range sub.TeamSlugs {
		if model.ContainsLogin(s.AssigneeTeams, TeamHandle(team)) {
			reasons = reasons.With(model.ReasonTeamAssigned)
			break
		}
	}
	return reasons
}

// InvolvedTeams lists the subscriber's teams that the event involves through
// review requests, team assignment or team mentions.
func InvolvedTeams(ev *model.Event, sub *model.Subscriber) []string {
	if ev == nil || sub == nil || ev.Subject == nil {
		return nil
	}
	text := SearchableText(ev)
	var out []string
	for _, team := range sub.TeamSlugs {
		h := TeamHandle(team)
		if model.ContainsLogin(ev.Subject.RequestedTeams, h) ||
			model.ContainsLogin(ev.Subject.AssigneeTeams, h) ||
			MentionsTeam(text, team) {
			out = append(out, team)
		}
	}
	return out
}

// SearchableText is the text that mentions and keywords are matched against:
// subject title and body, then comment and review bodies, newline separated.
func SearchableText(ev *model.Event) string {
	if ev == nil {
		return ""
	}
	parts := make([]string, 0, 4)
	if ev.Subject != nil {
		parts = appendNonEmpty(parts, ev.Subject.Title, ev.Subject.Body)
	}
	if ev.Comment != nil {
		parts = appendNonEmpty(parts, ev.Comment.Body)
	}
	if ev.Review != nil {
		parts = appendNonEmpty(parts, ev.Review.Body)
	}
	return strings.Join(parts, "\n")
}

func appendNonEmpty(dst []string, vals ...string) []string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			dst = append(dst, v)
		}
	}
	return dst
}

// TeamHandle strips an "org/" prefix from a team slug.
func TeamHandle(team string) string {
	if i := strings.LastIndexByte(team, '/'); i >= 0 {
		return team[i+1:]
	}
	return team
}
