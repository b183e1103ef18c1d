// Package filedir loads the subscriber directory from a YAML file and keeps
// an in-memory copy in sync with it.
package filedir

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/okian/herald/internal/domain/model"
)

type document struct {
	Subscribers []subscriberDoc `yaml:"subscribers" validate:"dive"`
	Digests     []digestDoc     `yaml:"digests" validate:"dive"`
}

type subscriberDoc struct {
	ID            string       `yaml:"id" validate:"required"`
	GitHubLogin   string       `yaml:"github_login" validate:"required"`
	Teams         []string     `yaml:"teams"`
	Watches       []string     `yaml:"watches"`
	Subscriptions []string     `yaml:"subscriptions"`
	Profiles      []profileDoc `yaml:"profiles" validate:"dive"`
}

type profileDoc struct {
	ID               string          `yaml:"id" validate:"required"`
	Priority         int             `yaml:"priority"`
	Enabled          *bool           `yaml:"enabled"`
	Scope            string          `yaml:"scope" validate:"omitempty,oneof=user team"`
	Team             string          `yaml:"team" validate:"required_if=Scope team"`
	Repositories     []string        `yaml:"repositories"`
	RepositoryIDs    []int64         `yaml:"repository_ids"`
	Target           targetDoc       `yaml:"target"`
	Preferences      map[string]bool `yaml:"preferences"`
	Keywords         []string        `yaml:"keywords"`
	SemanticKeywords bool            `yaml:"semantic_keywords"`
	MuteOwnActivity  bool            `yaml:"mute_own_activity"`
	MuteBotActivity  bool            `yaml:"mute_bot_activity"`
}

type targetDoc struct {
	Kind    string `yaml:"kind" validate:"omitempty,oneof=dm channel email"`
	Channel string `yaml:"channel" validate:"required_if=Kind channel"`
}

type digestDoc struct {
	ID            string    `yaml:"id" validate:"required"`
	Subscriber    string    `yaml:"subscriber" validate:"required"`
	Enabled       *bool     `yaml:"enabled"`
	Scope         string    `yaml:"scope" validate:"omitempty,oneof=user team"`
	Team          string    `yaml:"team" validate:"required_if=Scope team"`
	Time          string    `yaml:"time" validate:"required"`
	Timezone      string    `yaml:"timezone"`
	Days          []string  `yaml:"days"`
	Repositories  []string  `yaml:"repositories"`
	RepositoryIDs []int64   `yaml:"repository_ids"`
	Target        targetDoc `yaml:"target"`
}

// Load reads and parses the directory file at path.
func Load(path string) ([]model.Subscriber, []model.DigestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	return Parse(data)
}

// Parse decodes a YAML directory document.
func Parse(data []byte) ([]model.Subscriber, []model.DigestConfig, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if err := validate(&doc); err != nil {
		return nil, nil, err
	}

	seen := make(map[string]bool, len(doc.Subscribers))
	subs := make([]model.Subscriber, 0, len(doc.Subscribers))
	for _, s := range doc.Subscribers {
		if seen[s.ID] {
			return nil, nil, fmt.Errorf("%w: duplicate subscriber %s", ErrInvalid, s.ID)
		}
		seen[s.ID] = true
		subs = append(subs, s.toModel())
	}

	configs := make([]model.DigestConfig, 0, len(doc.Digests))
	for _, d := range doc.Digests {
		if !seen[d.Subscriber] {
			return nil, nil, fmt.Errorf("%w: digest %s references unknown subscriber %s", ErrInvalid, d.ID, d.Subscriber)
		}
		cfg, err := d.toModel()
		if err != nil {
			return nil, nil, err
		}
		configs = append(configs, cfg)
	}
	return subs, configs, nil
}

func validate(doc *document) error {
	if err := validator.New().Struct(doc); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			fe := ve[0]
			return fmt.Errorf("%w: %s failed on '%s' validation", ErrInvalid, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func (s *subscriberDoc) toModel() model.Subscriber {
	out := model.Subscriber{
		ID:            s.ID,
		GitHubLogin:   s.GitHubLogin,
		TeamSlugs:     s.Teams,
		ManualWatches: toKeys(s.Watches),
		Subscriptions: toKeys(s.Subscriptions),
	}
	for i := range s.Profiles {
		out.Profiles = append(out.Profiles, s.Profiles[i].toModel())
	}
	return out
}

func (p *profileDoc) toModel() model.NotificationProfile {
	out := model.NotificationProfile{
		ID:               p.ID,
		Priority:         p.Priority,
		Enabled:          p.Enabled == nil || *p.Enabled,
		Scope:            scope(p.Scope, p.Team),
		RepositoryFilter: filter(p.Repositories, p.RepositoryIDs),
		Target:           p.Target.toModel(),
		Keywords:         p.Keywords,
		SemanticKeywords: p.SemanticKeywords,
		MuteOwnActivity:  p.MuteOwnActivity,
		MuteBotActivity:  p.MuteBotActivity,
	}
	if len(p.Preferences) > 0 {
		out.Preferences = make(map[model.ActionKey]bool, len(p.Preferences))
		for k, v := range p.Preferences {
			out.Preferences[model.ActionKey(strings.ToLower(k))] = v
		}
	}
	return out
}

func (d *digestDoc) toModel() (model.DigestConfig, error) {
	out := model.DigestConfig{
		ID:               d.ID,
		SubscriberID:     d.Subscriber,
		Enabled:          d.Enabled == nil || *d.Enabled,
		Scope:            scope(d.Scope, d.Team),
		Time:             d.Time,
		Timezone:         d.Timezone,
		RepositoryFilter: filter(d.Repositories, d.RepositoryIDs),
		Target:           d.Target.toModel(),
	}
	for _, name := range d.Days {
		day, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return out, fmt.Errorf("%w: digest %s has unknown day %q", ErrInvalid, d.ID, name)
		}
		out.Days = append(out.Days, day)
	}
	if _, _, err := out.Clock(); err != nil {
		return out, fmt.Errorf("%w: digest %s: %w", ErrInvalid, d.ID, err)
	}
	if _, err := out.Location(); err != nil {
		return out, fmt.Errorf("%w: digest %s: %w", ErrInvalid, d.ID, err)
	}
	return out, nil
}

// toModel defaults an empty kind to a direct message.
func (t targetDoc) toModel() model.Target {
	if t.Kind == "" {
		return model.Target{Kind: model.TargetDM}
	}
	return model.Target{Kind: model.TargetKind(t.Kind), ChannelID: t.Channel}
}

func scope(kind, team string) model.Scope {
	if kind == string(model.ScopeTeam) {
		return model.Scope{Kind: model.ScopeTeam, TeamSlug: team}
	}
	return model.Scope{Kind: model.ScopeUser}
}

func filter(patterns []string, ids []int64) model.RepositoryFilter {
	if len(patterns) == 0 && len(ids) == 0 {
		return model.RepositoryFilter{Mode: model.FilterAll}
	}
	return model.RepositoryFilter{Mode: model.FilterSelected, IDs: ids, Patterns: patterns}
}

func toKeys(in []string) []model.SubjectKey {
	if len(in) == 0 {
		return nil
	}
	out := make([]model.SubjectKey, len(in))
	for i, s := range in {
		out[i] = model.SubjectKey(s)
	}
	return out
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}
