package watching

import (
	"strings"

	"github.com/okian/herald/internal/domain/model"
)

// SubjectTypeOf tells pull requests from issues. Structural signals (a head
// ref, a requested_reviewers list, or an issue's pull_request link) win; the
// "/pull/" URL pattern is only consulted when none is present.
func SubjectTypeOf(s *model.Subject) model.SubjectType {
	if s == nil {
		return model.SubjectUnknown
	}
	if s.Head != nil || s.RequestedReviewers != nil || s.PullRequestLink != nil {
		return model.SubjectPullRequest
	}
	if model.HasPullRequestURL(s.HTMLURL) {
		return model.SubjectPullRequest
	}
	return model.SubjectIssue
}

// IsAuthor reports whether login opened the subject.
func IsAuthor(s *model.Subject, login string) bool {
	return s != nil && login != "" && strings.EqualFold(s.Author, login)
}

// IsRequestedReviewer reports whether login has a pending review request.
func IsRequestedReviewer(s *model.Subject, login string) bool {
	return s != nil && model.ContainsLogin(s.RequestedReviewers, login)
}

// IsAssignee reports whether login is assigned to the subject.
func IsAssignee(s *model.Subject, login string) bool {
	return s != nil && model.ContainsLogin(s.Assignees, login)
}

// HasReviewed reports whether login has submitted any review.
func HasReviewed(reviews []model.ReviewState, login string) bool {
	if login == "" {
		return false
	}
	for _, r := range reviews {
		if strings.EqualFold(r.Login, login) {
			return true
		}
	}
	return false
}

// latestDecisive returns each reviewer's most recent approving, blocking or
// dismissed review. Comment-only reviews do not change a reviewer's stance.
func latestDecisive(reviews []model.ReviewState) map[string]model.ReviewState {
	latest := make(map[string]model.ReviewState, len(reviews))
	for _, r := range reviews {
		state := strings.ToUpper(r.State)
		if state != model.ReviewApproved && state != model.ReviewChangesRequested && state != model.ReviewDismissed {
			continue
		}
		key := strings.ToLower(r.Login)
		if prev, ok := latest[key]; ok && prev.SubmittedAt.After(r.SubmittedAt) {
			continue
		}
		r.State = state
		latest[key] = r
	}
	return latest
}

// IsApproved reports whether at least one reviewer currently approves.
func IsApproved(reviews []model.ReviewState) bool {
	for _, r := range latestDecisive(reviews) {
		if r.State == model.ReviewApproved {
			return true
		}
	}
	return false
}

// HasBlockingReview reports whether any reviewer currently requests changes.
func HasBlockingReview(reviews []model.ReviewState) bool {
	for _, r := range latestDecisive(reviews) {
		if r.State == model.ReviewChangesRequested {
			return true
		}
	}
	return false
}

// IsReadyToMerge reports an open subject with an approval and nothing blocking.
func IsReadyToMerge(s *model.Subject, reviews []model.ReviewState) bool {
	return s.IsOpen() && IsApproved(reviews) && !HasBlockingReview(reviews)
}
