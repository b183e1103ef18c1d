// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind is the upstream event kind (the X-GitHub-Event header value).
type Kind string

// Supported kinds.
const (
	KindPullRequest   Kind = "pull_request"
	KindIssues        Kind = "issues"
	KindIssueComment  Kind = "issue_comment"
	KindReview        Kind = "pull_request_review"
	KindReviewComment Kind = "pull_request_review_comment"
	KindMembership    Kind = "membership"
	KindInstallation  Kind = "installation"
)

const (
	// SenderTypeBot is the account type upstream reports for apps.
	SenderTypeBot = "Bot"

	botLoginSuffix      = "[bot]"
	pullURLMarker       = "/pull/"
	subjectKeySeparator = "#"
)

// RawEvent is the upstream envelope as received from the queue.
type RawEvent struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Action     string          `json:"action"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// SideEffect marks events that update internal state instead of notifying.
type SideEffect string

// Side-effect paths.
const (
	SideEffectNone        SideEffect = ""
	SideEffectTeamSync    SideEffect = "team_sync"
	SideEffectInstallSync SideEffect = "install_sync"
)

// Repository identifies the repository owning the subject.
type Repository struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
}

// Actor is a user or bot account.
type Actor struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Type  string `json:"type,omitempty"`
}

// IsBot reports whether the account is bot-typed.
func (a Actor) IsBot() bool {
	return a.Type == SenderTypeBot || strings.HasSuffix(strings.ToLower(a.Login), botLoginSuffix)
}

// Ref is a pull request branch reference.
type Ref struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

// PullRequestLink is present on issue payloads that describe a pull request.
type PullRequestLink struct {
	URL     string `json:"url"`
	HTMLURL string `json:"html_url"`
}

// Subject is the pull request or issue an event is about. Slices are nil when
// the upstream payload omitted the field.
type Subject struct {
	Number             int              `json:"number"`
	Title              string           `json:"title"`
	Body               string           `json:"body"`
	HTMLURL            string           `json:"html_url"`
	State              string           `json:"state"`
	Draft              bool             `json:"draft"`
	Merged             bool             `json:"merged"`
	Author             string           `json:"author"`
	RequestedReviewers []string         `json:"requested_reviewers"`
	Assignees          []string         `json:"assignees"`
	RequestedTeams     []string         `json:"requested_teams"`
	AssigneeTeams      []string         `json:"assignee_teams,omitempty"`
	Head               *Ref             `json:"head,omitempty"`
	PullRequestLink    *PullRequestLink `json:"pull_request,omitempty"`
}

// IsOpen reports whether the subject is open.
func (s *Subject) IsOpen() bool {
	return s != nil && s.State == "open"
}

// Comment is an issue or review comment.
type Comment struct {
	ID      int64  `json:"id"`
	Body    string `json:"body"`
	Author  string `json:"author"`
	HTMLURL string `json:"html_url"`
}

// Review state values.
const (
	ReviewApproved         = "APPROVED"
	ReviewChangesRequested = "CHANGES_REQUESTED"
	ReviewCommented        = "COMMENTED"
	ReviewDismissed        = "DISMISSED"
)

// Review is a submitted pull request review.
type Review struct {
	ID          int64     `json:"id"`
	State       string    `json:"state"`
	Body        string    `json:"body"`
	Author      string    `json:"author"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// MembershipChange is the normalized team-sync payload.
type MembershipChange struct {
	Login    string `json:"login"`
	TeamSlug string `json:"team_slug"`
	Org      string `json:"org"`
}

// InstallationChange is the normalized install-sync payload.
type InstallationChange struct {
	InstallationID int64        `json:"installation_id"`
	Account        string       `json:"account"`
	Repositories   []Repository `json:"repositories,omitempty"`
}

// Event is a classified, normalized event. It is immutable once built.
type Event struct {
	ID           string              `json:"id"`
	Kind         Kind                `json:"kind"`
	Action       string              `json:"action"`
	Repository   Repository          `json:"repository"`
	Sender       Actor               `json:"sender"`
	Subject      *Subject            `json:"subject,omitempty"`
	Comment      *Comment            `json:"comment,omitempty"`
	Review       *Review             `json:"review,omitempty"`
	SideEffect   SideEffect          `json:"side_effect,omitempty"`
	Membership   *MembershipChange   `json:"membership,omitempty"`
	Installation *InstallationChange `json:"installation,omitempty"`
	ReceivedAt   time.Time           `json:"received_at"`
}

// ActionKey is the "<kind>.<action>" preference key.
type ActionKey string

// ActionKey returns the preference key of the event.
func (e *Event) ActionKey() ActionKey {
	return NewActionKey(e.Kind, e.Action)
}

// NewActionKey builds an ActionKey.
func NewActionKey(kind Kind, action string) ActionKey {
	return ActionKey(string(kind) + "." + action)
}

// SubjectKey identifies a subject across events: "<owner/repo>#<number>".
type SubjectKey string

// NewSubjectKey builds a SubjectKey.
func NewSubjectKey(repoFullName string, number int) SubjectKey {
	return SubjectKey(fmt.Sprintf("%s%s%d", repoFullName, subjectKeySeparator, number))
}

// SubjectKey returns the key of the event subject, or "" when there is none.
func (e *Event) SubjectKey() SubjectKey {
	if e.Subject == nil || e.Repository.FullName == "" {
		return ""
	}
	return NewSubjectKey(e.Repository.FullName, e.Subject.Number)
}

// SubjectType distinguishes pull requests from issues.
type SubjectType string

// Subject types.
const (
	SubjectUnknown     SubjectType = ""
	SubjectPullRequest SubjectType = "pull_request"
	SubjectIssue       SubjectType = "issue"
)

// HasPullRequestURL reports whether u looks like a pull request page.
func HasPullRequestURL(u string) bool {
	return strings.Contains(u, pullURLMarker)
}
