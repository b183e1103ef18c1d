// Package classify decides whether a raw event is worth evaluating and
// normalizes the ones that are.
package classify

import (
	"errors"
	"strings"

	"github.com/okian/herald/internal/domain/model"
)

// DropReason explains why an event was not kept. Drops are outcomes, not errors.
type DropReason string

// Drop reasons.
const (
	ReasonUnknownKind      DropReason = "unknown_kind"
	ReasonIrrelevantAction DropReason = "irrelevant_action"
	ReasonBotSender        DropReason = "bot_sender"
	ReasonMalformed        DropReason = "malformed"
)

// Result is Keep(Event) when Dropped is empty, Drop(Dropped) otherwise.
type Result struct {
	Event   *model.Event
	Dropped DropReason
}

// Kept reports whether the event should continue down the pipeline.
func (r Result) Kept() bool { return r.Dropped == "" && r.Event != nil }

// SideEffectOnly reports whether the kept event only updates internal state.
func (r Result) SideEffectOnly() bool {
	return r.Kept() && r.Event.SideEffect != model.SideEffectNone
}

type rule struct {
	actions    map[string]struct{}
	sideEffect model.SideEffect
}

func newRule(sideEffect model.SideEffect, actions ...string) rule {
	r := rule{actions: make(map[string]struct{}, len(actions)), sideEffect: sideEffect}
	for _, a := range actions {
		r.actions[a] = struct{}{}
	}
	return r
}

func defaultTable() map[model.Kind]rule {
	return map[model.Kind]rule{
		model.KindPullRequest: newRule(model.SideEffectNone,
			"opened", "closed", "reopened", "ready_for_review", "review_requested", "assigned", "unassigned"),
		model.KindIssues: newRule(model.SideEffectNone,
			"opened", "closed", "reopened", "assigned", "unassigned"),
		// Edits must not re-fire, so comment kinds keep only created.
		model.KindIssueComment:  newRule(model.SideEffectNone, "created"),
		model.KindReview:        newRule(model.SideEffectNone, "submitted"),
		model.KindReviewComment: newRule(model.SideEffectNone, "created"),
		model.KindMembership:    newRule(model.SideEffectTeamSync, "added", "removed"),
		model.KindInstallation:  newRule(model.SideEffectInstallSync, "created", "deleted", "suspend", "unsuspend"),
	}
}

// Classifier maps raw events to Keep/Drop verdicts using a static kind table.
type Classifier struct {
	table map[model.Kind]rule
}

// New creates a Classifier with the default table.
func New(opts ...Option) *Classifier {
	c := &Classifier{table: defaultTable()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Relevant reports whether kind/action pass the table, without decoding.
func (c *Classifier) Relevant(kind model.Kind, action string) bool {
	r, ok := c.table[kind]
	if !ok {
		return false
	}
	_, ok = r.actions[action]
	return ok
}

// Classify decodes and normalizes raw. It never returns an error: unknown
// kinds, irrelevant actions, bot senders and malformed payloads are drops.
func (c *Classifier) Classify(raw model.RawEvent) Result {
	r, ok := c.table[raw.Kind]
	if !ok {
		return Result{Dropped: ReasonUnknownKind}
	}

	payload, err := model.DecodePayload(raw.Kind, raw.Payload)
	if err != nil {
		return Result{Dropped: ReasonMalformed}
	}

	ev, err := normalize(payload)
	if err != nil {
		return Result{Dropped: ReasonMalformed}
	}
	if raw.Action != "" {
		ev.Action = raw.Action
	}
	if _, ok := r.actions[ev.Action]; !ok {
		return Result{Dropped: ReasonIrrelevantAction}
	}
	ev.ID = raw.ID
	ev.Kind = raw.Kind
	ev.SideEffect = r.sideEffect
	ev.ReceivedAt = raw.ReceivedAt

	// Bots may still drive team and install sync.
	if r.sideEffect == model.SideEffectNone && ev.Sender.IsBot() {
		return Result{Dropped: ReasonBotSender}
	}
	return Result{Event: ev}
}

var errMissingField = errors.New("required field missing")

func normalize(p model.Payload) (*model.Event, error) {
	switch p := p.(type) {
	case *model.PullRequestPayload:
		if p.PullRequest == nil || p.Repository == nil {
			return nil, errMissingField
		}
		return &model.Event{
			Action:     p.Action,
			Repository: repository(p.Repository),
			Sender:     p.Sender.Actor(),
			Subject:    pullRequestSubject(p.PullRequest),
		}, nil
	case *model.IssuesPayload:
		if p.Issue == nil || p.Repository == nil {
			return nil, errMissingField
		}
		return &model.Event{
			Action:     p.Action,
			Repository: repository(p.Repository),
			Sender:     p.Sender.Actor(),
			Subject:    issueSubject(p.Issue),
		}, nil
	case *model.IssueCommentPayload:
		if p.Issue == nil || p.Comment == nil || p.Repository == nil {
			return nil, errMissingField
		}
		return &model.Event{
			Action:     p.Action,
			Repository: repository(p.Repository),
			Sender:     p.Sender.Actor(),
			Subject:    issueSubject(p.Issue),
			Comment:    comment(p.Comment),
		}, nil
	case *model.ReviewPayload:
		if p.PullRequest == nil || p.Review == nil || p.Repository == nil {
			return nil, errMissingField
		}
		return &model.Event{
			Action:     p.Action,
			Repository: repository(p.Repository),
			Sender:     p.Sender.Actor(),
			Subject:    pullRequestSubject(p.PullRequest),
			Review:     review(p.Review),
		}, nil
	case *model.ReviewCommentPayload:
		if p.PullRequest == nil || p.Comment == nil || p.Repository == nil {
			return nil, errMissingField
		}
		return &model.Event{
			Action:     p.Action,
			Repository: repository(p.Repository),
			Sender:     p.Sender.Actor(),
			Subject:    pullRequestSubject(p.PullRequest),
			Comment:    comment(p.Comment),
		}, nil
	case *model.MembershipPayload:
		if p.Member == nil || p.Team == nil || p.Member.Login == "" || p.Team.Slug == "" {
			return nil, errMissingField
		}
		m := &model.MembershipChange{Login: p.Member.Login, TeamSlug: p.Team.Slug}
		if p.Organization != nil {
			m.Org = p.Organization.Login
		}
		return &model.Event{Action: p.Action, Sender: p.Sender.Actor(), Membership: m}, nil
	case *model.InstallationPayload:
		if p.Installation == nil || p.Installation.ID == 0 {
			return nil, errMissingField
		}
		in := &model.InstallationChange{InstallationID: p.Installation.ID}
		if p.Installation.Account != nil {
			in.Account = p.Installation.Account.Login
		}
		for i := range p.Repositories {
			in.Repositories = append(in.Repositories, repository(&p.Repositories[i]))
		}
		return &model.Event{Action: p.Action, Sender: p.Sender.Actor(), Installation: in}, nil
	default:
		return nil, model.ErrUnknownKind
	}
}

func repository(r *model.GitHubRepository) model.Repository {
	return model.Repository{ID: r.ID, FullName: r.FullName}
}

func pullRequestSubject(pr *model.GitHubPullRequest) *model.Subject {
	s := &model.Subject{
		Number:             pr.Number,
		Title:              pr.Title,
		Body:               model.Deref(pr.Body),
		HTMLURL:            pr.HTMLURL,
		State:              pr.State,
		Draft:              pr.Draft,
		Merged:             pr.Merged,
		Author:             pr.User.Actor().Login,
		RequestedReviewers: logins(pr.RequestedReviewers),
		Assignees:          logins(pr.Assignees),
		RequestedTeams:     slugs(pr.RequestedTeams),
		Head:               pr.Head,
	}
	return s
}

func issueSubject(is *model.GitHubIssue) *model.Subject {
	return &model.Subject{
		Number:          is.Number,
		Title:           is.Title,
		Body:            model.Deref(is.Body),
		HTMLURL:         is.HTMLURL,
		State:           is.State,
		Author:          is.User.Actor().Login,
		Assignees:       logins(is.Assignees),
		PullRequestLink: is.PullRequest,
	}
}

func comment(c *model.GitHubComment) *model.Comment {
	return &model.Comment{ID: c.ID, Body: c.Body, Author: c.User.Actor().Login, HTMLURL: c.HTMLURL}
}

func review(r *model.GitHubReview) *model.Review {
	out := &model.Review{
		ID:     r.ID,
		State:  strings.ToUpper(r.State),
		Body:   model.Deref(r.Body),
		Author: r.User.Actor().Login,
	}
	if r.SubmittedAt != nil {
		out.SubmittedAt = *r.SubmittedAt
	}
	return out
}

func logins(users []model.GitHubUser) []string {
	if users == nil {
		return nil
	}
	out := make([]string, 0, len(users))
	for _, u := range users {
		if u.Login != "" {
			out = append(out, u.Login)
		}
	}
	return out
}

func slugs(teams []model.GitHubTeam) []string {
	if teams == nil {
		return nil
	}
	out := make([]string, 0, len(teams))
	for _, t := range teams {
		if t.Slug != "" {
			out = append(out, t.Slug)
		}
	}
	return out
}
