package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is one of the per-kind upstream payload shapes. Optional sub-trees
// are pointers so an absent field is nil rather than a zero value.
type Payload interface {
	Kind() Kind
}

// GitHubUser is a user or app account as it appears in payloads.
type GitHubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Type  string `json:"type"`
}

// Actor converts the account; nil yields the zero Actor.
func (u *GitHubUser) Actor() Actor {
	if u == nil {
		return Actor{}
	}
	return Actor{ID: u.ID, Login: u.Login, Type: u.Type}
}

// GitHubTeam is a team reference.
type GitHubTeam struct {
	ID   int64  `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// GitHubOrganization is an organization reference.
type GitHubOrganization struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// GitHubRepository is the owning repository.
type GitHubRepository struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
}

// GitHubPullRequest is the pull_request sub-tree.
type GitHubPullRequest struct {
	Number             int          `json:"number"`
	Title              string       `json:"title"`
	Body               *string      `json:"body"`
	HTMLURL            string       `json:"html_url"`
	State              string       `json:"state"`
	Draft              bool         `json:"draft"`
	Merged             bool         `json:"merged"`
	User               *GitHubUser  `json:"user"`
	RequestedReviewers []GitHubUser `json:"requested_reviewers"`
	RequestedTeams     []GitHubTeam `json:"requested_teams"`
	Assignees          []GitHubUser `json:"assignees"`
	Head               *Ref         `json:"head"`
	UpdatedAt          *time.Time   `json:"updated_at"`
}

// GitHubIssue is the issue sub-tree. PullRequest is set when the issue is a PR.
type GitHubIssue struct {
	Number      int              `json:"number"`
	Title       string           `json:"title"`
	Body        *string          `json:"body"`
	HTMLURL     string           `json:"html_url"`
	State       string           `json:"state"`
	User        *GitHubUser      `json:"user"`
	Assignees   []GitHubUser     `json:"assignees"`
	PullRequest *PullRequestLink `json:"pull_request"`
	UpdatedAt   *time.Time       `json:"updated_at"`
}

// GitHubComment is an issue or review comment.
type GitHubComment struct {
	ID      int64       `json:"id"`
	Body    string      `json:"body"`
	HTMLURL string      `json:"html_url"`
	User    *GitHubUser `json:"user"`
}

// GitHubReview is a pull request review.
type GitHubReview struct {
	ID          int64       `json:"id"`
	State       string      `json:"state"`
	Body        *string     `json:"body"`
	User        *GitHubUser `json:"user"`
	SubmittedAt *time.Time  `json:"submitted_at"`
}

// GitHubInstallation is an app installation.
type GitHubInstallation struct {
	ID      int64       `json:"id"`
	Account *GitHubUser `json:"account"`
}

// PullRequestPayload is the pull_request kind.
type PullRequestPayload struct {
	Action            string             `json:"action"`
	PullRequest       *GitHubPullRequest `json:"pull_request"`
	Repository        *GitHubRepository  `json:"repository"`
	Sender            *GitHubUser        `json:"sender"`
	RequestedReviewer *GitHubUser        `json:"requested_reviewer"`
	RequestedTeam     *GitHubTeam        `json:"requested_team"`
	Assignee          *GitHubUser        `json:"assignee"`
}

// IssuesPayload is the issues kind.
type IssuesPayload struct {
	Action     string            `json:"action"`
	Issue      *GitHubIssue      `json:"issue"`
	Repository *GitHubRepository `json:"repository"`
	Sender     *GitHubUser       `json:"sender"`
	Assignee   *GitHubUser       `json:"assignee"`
}

// IssueCommentPayload is the issue_comment kind.
type IssueCommentPayload struct {
	Action     string            `json:"action"`
	Issue      *GitHubIssue      `json:"issue"`
	Comment    *GitHubComment    `json:"comment"`
	Repository *GitHubRepository `json:"repository"`
	Sender     *GitHubUser       `json:"sender"`
}

// ReviewPayload is the pull_request_review kind.
type ReviewPayload struct {
	Action      string             `json:"action"`
	Review      *GitHubReview      `json:"review"`
	PullRequest *GitHubPullRequest `json:"pull_request"`
	Repository  *GitHubRepository  `json:"repository"`
	Sender      *GitHubUser        `json:"sender"`
}

// ReviewCommentPayload is the pull_request_review_comment kind.
type ReviewCommentPayload struct {
	Action      string             `json:"action"`
	Comment     *GitHubComment     `json:"comment"`
	PullRequest *GitHubPullRequest `json:"pull_request"`
	Repository  *GitHubRepository  `json:"repository"`
	Sender      *GitHubUser        `json:"sender"`
}

// MembershipPayload is the membership kind.
type MembershipPayload struct {
	Action       string              `json:"action"`
	Scope        string              `json:"scope"`
	Member       *GitHubUser         `json:"member"`
	Team         *GitHubTeam         `json:"team"`
	Organization *GitHubOrganization `json:"organization"`
	Sender       *GitHubUser         `json:"sender"`
}

// InstallationPayload is the installation kind.
type InstallationPayload struct {
	Action       string              `json:"action"`
	Installation *GitHubInstallation `json:"installation"`
	Repositories []GitHubRepository  `json:"repositories"`
	Sender       *GitHubUser         `json:"sender"`
}

func (*PullRequestPayload) Kind() Kind   { return KindPullRequest }
func (*IssuesPayload) Kind() Kind        { return KindIssues }
func (*IssueCommentPayload) Kind() Kind  { return KindIssueComment }
func (*ReviewPayload) Kind() Kind        { return KindReview }
func (*ReviewCommentPayload) Kind() Kind { return KindReviewComment }
func (*MembershipPayload) Kind() Kind    { return KindMembership }
func (*InstallationPayload) Kind() Kind  { return KindInstallation }

// DecodePayload decodes raw into the payload type registered for kind.
func DecodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch kind {
	case KindPullRequest:
		p = &PullRequestPayload{}
	case KindIssues:
		p = &IssuesPayload{}
	case KindIssueComment:
		p = &IssueCommentPayload{}
	case KindReview:
		p = &ReviewPayload{}
	case KindReviewComment:
		p = &ReviewCommentPayload{}
	case KindMembership:
		p = &MembershipPayload{}
	case KindInstallation:
		p = &InstallationPayload{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return p, nil
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
