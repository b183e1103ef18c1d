package model

import (
	"fmt"
	"strings"
	"time"
)

// DigestConfig is one scheduled digest for a subscriber.
type DigestConfig struct {
	ID               string           `json:"id"`
	SubscriberID     string           `json:"subscriber_id"`
	Enabled          bool             `json:"enabled"`
	Scope            Scope            `json:"scope"`
	Time             string           `json:"time"`
	Timezone         string           `json:"timezone"`
	Days             []time.Weekday   `json:"days"`
	RepositoryFilter RepositoryFilter `json:"repository_filter"`
	Target           Target           `json:"target"`
}

// Clock parses Time ("HH:MM", 24h).
func (c *DigestConfig) Clock() (hour, minute int, err error) {
	t, err := time.Parse("15:04", c.Time)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: time %q: %w", ErrInvalidDigestConfig, c.Time, err)
	}
	return t.Hour(), t.Minute(), nil
}

// Location loads Timezone; empty means UTC.
func (c *DigestConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %w", ErrInvalidDigestConfig, c.Timezone, err)
	}
	return loc, nil
}

// RunsOn reports whether day is a scheduled weekday. No days means every day.
func (c *DigestConfig) RunsOn(day time.Weekday) bool {
	if len(c.Days) == 0 {
		return true
	}
	for _, d := range c.Days {
		if d == day {
			return true
		}
	}
	return false
}

// ReviewState is the latest review a login left on a pull request.
type ReviewState struct {
	Login       string    `json:"login"`
	State       string    `json:"state"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// MergeReviews folds incoming into existing, keeping one entry per login: the
// latest decisive review when there is one, else the latest review.
func MergeReviews(existing []ReviewState, incoming ...ReviewState) []ReviewState {
	out := append([]ReviewState(nil), existing...)
	for _, r := range incoming {
		if r.Login == "" {
			continue
		}
		r.State = strings.ToUpper(r.State)
		idx := -1
		for i := range out {
			if strings.EqualFold(out[i].Login, r.Login) {
				idx = i
				break
			}
		}
		if idx < 0 {
			out = append(out, r)
			continue
		}
		newDecisive, oldDecisive := decisive(r.State), decisive(out[idx].State)
		if newDecisive != oldDecisive {
			if newDecisive {
				out[idx] = r
			}
			continue
		}
		if !r.SubmittedAt.Before(out[idx].SubmittedAt) {
			out[idx] = r
		}
	}
	return out
}

func decisive(state string) bool {
	state = strings.ToUpper(state)
	return state == ReviewApproved || state == ReviewChangesRequested || state == ReviewDismissed
}

// TrackedItem is the digest's snapshot of one subject.
type TrackedItem struct {
	Repository Repository    `json:"repository"`
	Subject    Subject       `json:"subject"`
	Type       SubjectType   `json:"type"`
	Reviews    []ReviewState `json:"reviews,omitempty"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Key returns the subject key of the item.
func (i *TrackedItem) Key() SubjectKey {
	return NewSubjectKey(i.Repository.FullName, i.Subject.Number)
}

// DigestItem is one line of a digest.
type DigestItem struct {
	Repository string      `json:"repository"`
	Number     int         `json:"number"`
	Title      string      `json:"title"`
	URL        string      `json:"url"`
	Author     string      `json:"author"`
	Type       SubjectType `json:"type"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// DigestWindow is one emitted digest. It is immutable once emitted.
type DigestWindow struct {
	ID                   string       `json:"id"`
	SubscriberID         string       `json:"subscriber_id"`
	ConfigID             string       `json:"config_id"`
	From                 time.Time    `json:"from"`
	To                   time.Time    `json:"to"`
	Target               Target       `json:"target"`
	WaitingOnUser        []DigestItem `json:"waiting_on_user"`
	ApprovedReadyToMerge []DigestItem `json:"approved_ready_to_merge"`
	UserOpenItems        []DigestItem `json:"user_open_items"`
}

// Empty reports whether all three buckets are empty.
func (w *DigestWindow) Empty() bool {
	return len(w.WaitingOnUser) == 0 && len(w.ApprovedReadyToMerge) == 0 && len(w.UserOpenItems) == 0
}
