package model

import (
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ScopeKind selects whose activity a profile or digest covers.
type ScopeKind string

// Scope kinds.
const (
	ScopeUser ScopeKind = "user"
	ScopeTeam ScopeKind = "team"
)

// Scope is {User} or {Team: slug}.
type Scope struct {
	Kind     ScopeKind `json:"kind"`
	TeamSlug string    `json:"team_slug,omitempty"`
}

// FilterMode selects how a repository filter matches.
type FilterMode string

// Filter modes.
const (
	FilterAll      FilterMode = "all"
	FilterSelected FilterMode = "selected"
)

// RepositoryFilter is {All} or {Selected: ids and owner/name glob patterns}.
type RepositoryFilter struct {
	Mode     FilterMode `json:"mode"`
	IDs      []int64    `json:"ids,omitempty"`
	Patterns []string   `json:"patterns,omitempty"`
}

// Includes reports whether repo passes the filter. An empty mode means All.
func (f RepositoryFilter) Includes(repo Repository) bool {
	if f.Mode != FilterSelected {
		return true
	}
	for _, id := range f.IDs {
		if id != 0 && id == repo.ID {
			return true
		}
	}
	name := strings.ToLower(repo.FullName)
	for _, p := range f.Patterns {
		if ok, err := doublestar.Match(strings.ToLower(p), name); err == nil && ok {
			return true
		}
	}
	return false
}

// TargetKind is a delivery destination type.
type TargetKind string

// Target kinds.
const (
	TargetDM      TargetKind = "dm"
	TargetChannel TargetKind = "channel"
	TargetEmail   TargetKind = "email"
)

// Target tells the delivery collaborator where to send.
type Target struct {
	Kind      TargetKind `json:"kind"`
	ChannelID string     `json:"channel_id,omitempty"`
}

// NotificationProfile is one independently configured rule set.
type NotificationProfile struct {
	ID               string             `json:"id"`
	Priority         int                `json:"priority"`
	Enabled          bool               `json:"enabled"`
	Scope            Scope              `json:"scope"`
	RepositoryFilter RepositoryFilter   `json:"repository_filter"`
	Target           Target             `json:"target"`
	Preferences      map[ActionKey]bool `json:"preferences,omitempty"`
	Keywords         []string           `json:"keywords,omitempty"`
	SemanticKeywords bool               `json:"semantic_keywords"`
	MuteOwnActivity  bool               `json:"mute_own_activity"`
	MuteBotActivity  bool               `json:"mute_bot_activity"`
}

// Allows reports whether key is enabled. Absent keys default to true.
func (p *NotificationProfile) Allows(key ActionKey) bool {
	v, ok := p.Preferences[key]
	return !ok || v
}

// SortProfiles returns a copy ordered by (priority desc, id asc).
func SortProfiles(profiles []NotificationProfile) []NotificationProfile {
	out := make([]NotificationProfile, len(profiles))
	copy(out, profiles)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Subscriber is a directory entry. The core treats it as read-only.
type Subscriber struct {
	ID            string                `json:"id"`
	GitHubLogin   string                `json:"github_login"`
	TeamSlugs     []string              `json:"team_slugs,omitempty"`
	Profiles      []NotificationProfile `json:"profiles,omitempty"`
	ManualWatches []SubjectKey          `json:"manual_watches,omitempty"`
	Subscriptions []SubjectKey          `json:"subscriptions,omitempty"`
}

// InTeam reports whether the subscriber belongs to slug (case-insensitive).
func (s *Subscriber) InTeam(slug string) bool {
	return containsFold(s.TeamSlugs, slug)
}

// Watches reports whether key is on the manual watch list.
func (s *Subscriber) Watches(key SubjectKey) bool {
	return containsKey(s.ManualWatches, key)
}

// SubscribedTo reports whether key is on the subscription list.
func (s *Subscriber) SubscribedTo(key SubjectKey) bool {
	return containsKey(s.Subscriptions, key)
}

func containsFold(list []string, v string) bool {
	if v == "" {
		return false
	}
	for _, x := range list {
		if strings.EqualFold(x, v) {
			return true
		}
	}
	return false
}

func containsKey(list []SubjectKey, k SubjectKey) bool {
	if k == "" {
		return false
	}
	for _, x := range list {
		if strings.EqualFold(string(x), string(k)) {
			return true
		}
	}
	return false
}

// ContainsLogin reports whether logins contains login, ignoring case.
func ContainsLogin(logins []string, login string) bool {
	return containsFold(logins, login)
}

// Installation is the install-sync state kept by side-effect events.
type Installation struct {
	ID           int64        `json:"id"`
	Account      string       `json:"account"`
	Suspended    bool         `json:"suspended"`
	Repositories []Repository `json:"repositories,omitempty"`
}
