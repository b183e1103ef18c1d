// Package digest builds scheduled per-subscriber summaries of open work.
//
// Bucketing reuses the watching predicates so the digest can never disagree
// with the real-time pipeline about who authored or is reviewing what.
package digest

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/okian/herald/internal/domain/model"
	"github.com/okian/herald/internal/domain/watching"
)

// Bucket names.
const (
	BucketWaiting = "waiting_on_user"
	BucketReady   = "approved_ready_to_merge"
	BucketOpen    = "user_open_items"
)

// Audience is whose work a digest covers: a single login for User scope, or
// every member login plus the team slug for Team scope.
type Audience struct {
	Logins []string
	Teams  []string
}

// AudienceFor derives the audience of cfg for sub. Team scope gathers the
// logins of every directory subscriber in the team.
func AudienceFor(cfg *model.DigestConfig, sub *model.Subscriber, directory []model.Subscriber) Audience {
	if cfg.Scope.Kind != model.ScopeTeam || cfg.Scope.TeamSlug == "" {
		if sub.GitHubLogin == "" {
			return Audience{}
		}
		return Audience{Logins: []string{sub.GitHubLogin}}
	}
	slug := watching.TeamHandle(cfg.Scope.TeamSlug)
	a := Audience{Teams: []string{slug}}
	for i := range directory {
		if directory[i].GitHubLogin != "" && directory[i].InTeam(slug) {
			a.Logins = append(a.Logins, directory[i].GitHubLogin)
		}
	}
	return a
}

// Aggregator sorts tracked items into the three digest buckets.
type Aggregator struct {
	newID func() string
}

// NewAggregator creates an Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{newID: uuid.NewString}
}

// Build produces the window for one (subscriber, config) pair. Only open
// items inside the repository filter are considered, and each item lands in
// at most one bucket: waiting beats ready, ready beats open.
func (a *Aggregator) Build(sub *model.Subscriber, cfg *model.DigestConfig, audience Audience,
	items []model.TrackedItem, from, to time.Time,
) *model.DigestWindow {
	w := &model.DigestWindow{
		ID:                   a.newID(),
		SubscriberID:         sub.ID,
		ConfigID:             cfg.ID,
		From:                 from,
		To:                   to,
		Target:               cfg.Target,
		WaitingOnUser:        []model.DigestItem{},
		ApprovedReadyToMerge: []model.DigestItem{},
		UserOpenItems:        []model.DigestItem{},
	}

	for i := range items {
		it := &items[i]
		if !it.Subject.IsOpen() || !cfg.RepositoryFilter.Includes(it.Repository) {
			continue
		}
		switch {
		case waitingOn(it, audience):
			w.WaitingOnUser = append(w.WaitingOnUser, toDigestItem(it))
		case authoredBy(it, audience) && watching.IsReadyToMerge(&it.Subject, it.Reviews):
			w.ApprovedReadyToMerge = append(w.ApprovedReadyToMerge, toDigestItem(it))
		case authoredBy(it, audience):
			w.UserOpenItems = append(w.UserOpenItems, toDigestItem(it))
		}
	}

	sortItems(w.WaitingOnUser)
	sortItems(w.ApprovedReadyToMerge)
	sortItems(w.UserOpenItems)
	return w
}

// waitingOn: an audience login is a requested reviewer who has not reviewed
// yet, or an audience team is requested.
func waitingOn(it *model.TrackedItem, a Audience) bool {
	if watching.SubjectTypeOf(&it.Subject) != model.SubjectPullRequest {
		return false
	}
	for _, login := range a.Logins {
		if watching.IsRequestedReviewer(&it.Subject, login) && !watching.HasReviewed(it.Reviews, login) {
			return true
		}
	}
	for _, team := range a.Teams {
		if model.ContainsLogin(it.Subject.RequestedTeams, team) {
			return true
		}
	}
	return false
}

func authoredBy(it *model.TrackedItem, a Audience) bool {
	for _, login := range a.Logins {
		if watching.IsAuthor(&it.Subject, login) {
			return true
		}
	}
	return false
}

func toDigestItem(it *model.TrackedItem) model.DigestItem {
	typ := it.Type
	if typ == model.SubjectUnknown {
		typ = watching.SubjectTypeOf(&it.Subject)
	}
	return model.DigestItem{
		Repository: it.Repository.FullName,
		Number:     it.Subject.Number,
		Title:      it.Subject.Title,
		URL:        it.Subject.HTMLURL,
		Author:     it.Subject.Author,
		Type:       typ,
		UpdatedAt:  it.UpdatedAt,
	}
}

func sortItems(items []model.DigestItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Repository != items[j].Repository {
			return items[i].Repository < items[j].Repository
		}
		return items[i].Number < items[j].Number
	})
}
