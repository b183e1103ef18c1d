package model

import (
	"encoding/json"
	"strings"
)

// WatchingReason explains why a subscriber cares about a subject.
type WatchingReason int

// Watching reasons, in canonical order.
const (
	ReasonAuthor WatchingReason = iota
	ReasonReviewer
	ReasonAssignee
	ReasonMentioned
	ReasonTeamAssigned
	ReasonTeamMentioned
	ReasonTeamReviewer
	ReasonSubscribed
	ReasonManual
	reasonCount
)

var reasonNames = [reasonCount]string{
	"author", "reviewer", "assignee", "mentioned",
	"team_assigned", "team_mentioned", "team_reviewer",
	"subscribed", "manual",
}

func (r WatchingReason) String() string {
	if r < 0 || r >= reasonCount {
		return "unknown"
	}
	return reasonNames[r]
}

// MarshalText implements encoding.TextMarshaler.
func (r WatchingReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *WatchingReason) UnmarshalText(b []byte) error {
	for i, n := range reasonNames {
		if n == string(b) {
			*r = WatchingReason(i)
			return nil
		}
	}
	return ErrUnknownReason
}

// TeamFlavored reports whether the reason comes from team involvement.
func (r WatchingReason) TeamFlavored() bool {
	return r == ReasonTeamAssigned || r == ReasonTeamMentioned || r == ReasonTeamReviewer
}

// ReasonSet is a de-duplicated set of reasons. The zero value is the empty set.
type ReasonSet uint16

// NewReasonSet builds a set from reasons.
func NewReasonSet(reasons ...WatchingReason) ReasonSet {
	var s ReasonSet
	for _, r := range reasons {
		s = s.With(r)
	}
	return s
}

// With returns the set plus r.
func (s ReasonSet) With(r WatchingReason) ReasonSet {
	if r < 0 || r >= reasonCount {
		return s
	}
	return s | 1<<r
}

// Has reports membership.
func (s ReasonSet) Has(r WatchingReason) bool { return r >= 0 && r < reasonCount && s&(1<<r) != 0 }

// Empty reports whether no reason is present.
func (s ReasonSet) Empty() bool { return s == 0 }

// HasTeamReason reports whether any team-flavored reason is present.
func (s ReasonSet) HasTeamReason() bool {
	return s.Has(ReasonTeamAssigned) || s.Has(ReasonTeamMentioned) || s.Has(ReasonTeamReviewer)
}

// Slice lists the reasons in canonical order. It is never nil.
func (s ReasonSet) Slice() []WatchingReason {
	out := make([]WatchingReason, 0, reasonCount)
	for r := WatchingReason(0); r < reasonCount; r++ {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s ReasonSet) String() string {
	parts := make([]string, 0, reasonCount)
	for _, r := range s.Slice() {
		parts = append(parts, r.String())
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// MarshalJSON encodes the set as a sorted list of names.
func (s ReasonSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

// UnmarshalJSON decodes a list of names.
func (s *ReasonSet) UnmarshalJSON(b []byte) error {
	var rs []WatchingReason
	if err := json.Unmarshal(b, &rs); err != nil {
		return err
	}
	*s = NewReasonSet(rs...)
	return nil
}
