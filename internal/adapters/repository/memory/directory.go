// Package memory provides in-process implementations of the repository
// interfaces. Nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/okian/herald/internal/adapters/repository"
	"github.com/okian/herald/internal/domain/model"
)

// Directory holds subscribers and digest configs. A file watcher replaces
// its content on reload; membership events edit team slugs in place until
// the next reload.
type Directory struct {
	mu            sync.RWMutex
	subscribers   []model.Subscriber
	configs       []model.DigestConfig
	installations map[int64]model.Installation
}

// NewDirectory creates a Directory seeded with subs and configs.
func NewDirectory(subs []model.Subscriber, configs []model.DigestConfig) *Directory {
	d := &Directory{installations: make(map[int64]model.Installation)}
	d.Replace(subs, configs)
	return d
}

// Replace swaps the whole directory content.
func (d *Directory) Replace(subs []model.Subscriber, configs []model.DigestConfig) {
	subsCopy := make([]model.Subscriber, len(subs))
	for i := range subs {
		subsCopy[i] = cloneSubscriber(&subs[i])
	}
	configsCopy := append([]model.DigestConfig(nil), configs...)

	d.mu.Lock()
	d.subscribers = subsCopy
	d.configs = configsCopy
	d.mu.Unlock()
}

// Subscribers returns a copy of every subscriber.
func (d *Directory) Subscribers(_ context.Context) ([]model.Subscriber, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]model.Subscriber, len(d.subscribers))
	for i := range d.subscribers {
		out[i] = cloneSubscriber(&d.subscribers[i])
	}
	return out, nil
}

// DigestConfigs returns a copy of every digest config.
func (d *Directory) DigestConfigs(_ context.Context) ([]model.DigestConfig, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]model.DigestConfig(nil), d.configs...), nil
}

// AddTeamMember implements repository.TeamSync.
func (d *Directory) AddTeamMember(_ context.Context, login, team string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	sub := d.byLogin(login)
	if sub == nil {
		return repository.ErrNotFound
	}
	if !sub.InTeam(team) {
		sub.TeamSlugs = append(sub.TeamSlugs, team)
	}
	return nil
}

// RemoveTeamMember implements repository.TeamSync.
func (d *Directory) RemoveTeamMember(_ context.Context, login, team string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	sub := d.byLogin(login)
	if sub == nil {
		return repository.ErrNotFound
	}
	kept := sub.TeamSlugs[:0]
	for _, t := range sub.TeamSlugs {
		if !strings.EqualFold(t, team) {
			kept = append(kept, t)
		}
	}
	sub.TeamSlugs = kept
	return nil
}

// UpsertInstallation implements repository.InstallationStore.
func (d *Directory) UpsertInstallation(_ context.Context, inst model.Installation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	inst.Repositories = append([]model.Repository(nil), inst.Repositories...)
	d.installations[inst.ID] = inst
	return nil
}

// DeleteInstallation implements repository.InstallationStore.
func (d *Directory) DeleteInstallation(_ context.Context, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.installations[id]; !ok {
		return repository.ErrNotFound
	}
	delete(d.installations, id)
	return nil
}

// Installations implements repository.InstallationStore, ordered by id.
func (d *Directory) Installations(_ context.Context) ([]model.Installation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]model.Installation, 0, len(d.installations))
	for _, inst := range d.installations {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *Directory) byLogin(login string) *model.Subscriber {
	if login == "" {
		return nil
	}
	for i := range d.subscribers {
		if strings.EqualFold(d.subscribers[i].GitHubLogin, login) {
			return &d.subscribers[i]
		}
	}
	return nil
}

func cloneSubscriber(s *model.Subscriber) model.Subscriber {
	c := *s
	c.TeamSlugs = append([]string(nil), s.TeamSlugs...)
	c.Profiles = append([]model.NotificationProfile(nil), s.Profiles...)
	c.ManualWatches = append([]model.SubjectKey(nil), s.ManualWatches...)
	c.Subscriptions = append([]model.SubjectKey(nil), s.Subscriptions...)
	return c
}
