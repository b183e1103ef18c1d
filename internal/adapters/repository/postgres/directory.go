package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/okian/herald/internal/adapters/repository"
	"github.com/okian/herald/internal/domain/model"
)

// Directory reads subscribers and digest configs and applies team and
// installation side effects.
type Directory struct {
	db *sqlx.DB
}

// NewDirectory creates a Directory.
func NewDirectory(db *sqlx.DB) *Directory {
	return &Directory{db: db}
}

type subscriberRow struct {
	ID            string         `db:"id"`
	GitHubLogin   string         `db:"github_login"`
	TeamSlugs     pq.StringArray `db:"team_slugs"`
	ManualWatches pq.StringArray `db:"manual_watches"`
	Subscriptions pq.StringArray `db:"subscriptions"`
}

type profileRow struct {
	ID               string         `db:"id"`
	SubscriberID     string         `db:"subscriber_id"`
	Priority         int            `db:"priority"`
	Enabled          bool           `db:"enabled"`
	ScopeKind        string         `db:"scope_kind"`
	TeamSlug         string         `db:"team_slug"`
	RepositoryFilter []byte         `db:"repository_filter"`
	Target           []byte         `db:"target"`
	Preferences      []byte         `db:"preferences"`
	Keywords         pq.StringArray `db:"keywords"`
	SemanticKeywords bool           `db:"semantic_keywords"`
	MuteOwnActivity  bool           `db:"mute_own_activity"`
	MuteBotActivity  bool           `db:"mute_bot_activity"`
}

type digestConfigRow struct {
	ID               string        `db:"id"`
	SubscriberID     string        `db:"subscriber_id"`
	Enabled          bool          `db:"enabled"`
	ScopeKind        string        `db:"scope_kind"`
	TeamSlug         string        `db:"team_slug"`
	TimeOfDay        string        `db:"time_of_day"`
	Timezone         string        `db:"timezone"`
	Days             pq.Int64Array `db:"days"`
	RepositoryFilter []byte        `db:"repository_filter"`
	Target           []byte        `db:"target"`
}

// Subscribers implements repository.Directory.
func (d *Directory) Subscribers(ctx context.Context) ([]model.Subscriber, error) {
	var subs []subscriberRow
	if err := d.db.SelectContext(ctx, &subs,
		`SELECT id, github_login, team_slugs, manual_watches, subscriptions
		 FROM subscribers ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	var profiles []profileRow
	if err := d.db.SelectContext(ctx, &profiles,
		`SELECT id, subscriber_id, priority, enabled, scope_kind, team_slug, repository_filter,
		        target, preferences, keywords, semantic_keywords, mute_own_activity, mute_bot_activity
		 FROM notification_profiles ORDER BY subscriber_id, id`); err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	bySub := make(map[string][]model.NotificationProfile, len(subs))
	for i := range profiles {
		p, err := profiles[i].toModel()
		if err != nil {
			return nil, err
		}
		bySub[profiles[i].SubscriberID] = append(bySub[profiles[i].SubscriberID], p)
	}

	out := make([]model.Subscriber, 0, len(subs))
	for _, r := range subs {
		out = append(out, model.Subscriber{
			ID:            r.ID,
			GitHubLogin:   r.GitHubLogin,
			TeamSlugs:     []string(r.TeamSlugs),
			Profiles:      bySub[r.ID],
			ManualWatches: toKeys(r.ManualWatches),
			Subscriptions: toKeys(r.Subscriptions),
		})
	}
	return out, nil
}

// DigestConfigs implements repository.Directory.
func (d *Directory) DigestConfigs(ctx context.Context) ([]model.DigestConfig, error) {
	var rows []digestConfigRow
	if err := d.db.SelectContext(ctx, &rows,
		`SELECT id, subscriber_id, enabled, scope_kind, team_slug, time_of_day, timezone, days,
		        repository_filter, target
		 FROM digest_configs ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list digest configs: %w", err)
	}
	out := make([]model.DigestConfig, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		cfg := model.DigestConfig{
			ID:           r.ID,
			SubscriberID: r.SubscriberID,
			Enabled:      r.Enabled,
			Scope:        model.Scope{Kind: model.ScopeKind(r.ScopeKind), TeamSlug: r.TeamSlug},
			Time:         r.TimeOfDay,
			Timezone:     r.Timezone,
		}
		for _, day := range r.Days {
			cfg.Days = append(cfg.Days, time.Weekday(day))
		}
		if err := decodeJSON(r.RepositoryFilter, &cfg.RepositoryFilter); err != nil {
			return nil, fmt.Errorf("digest config %s: %w", r.ID, err)
		}
		if err := decodeJSON(r.Target, &cfg.Target); err != nil {
			return nil, fmt.Errorf("digest config %s: %w", r.ID, err)
		}
		out = append(out, cfg)
	}
	return out, nil
}

// AddTeamMember implements repository.TeamSync.
func (d *Directory) AddTeamMember(ctx context.Context, login, team string) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE subscribers
		 SET team_slugs = CASE
		     WHEN EXISTS (SELECT 1 FROM unnest(team_slugs) t WHERE lower(t) = lower($2)) THEN team_slugs
		     ELSE array_append(team_slugs, $2)
		 END
		 WHERE lower(github_login) = lower($1)`,
		login, team)
	if err != nil {
		return fmt.Errorf("add %s to team %s: %w", login, team, err)
	}
	return requireRow(res)
}

// RemoveTeamMember implements repository.TeamSync.
func (d *Directory) RemoveTeamMember(ctx context.Context, login, team string) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE subscribers
		 SET team_slugs = ARRAY(SELECT t FROM unnest(team_slugs) t WHERE lower(t) <> lower($2))
		 WHERE lower(github_login) = lower($1)`,
		login, team)
	if err != nil {
		return fmt.Errorf("remove %s from team %s: %w", login, team, err)
	}
	return requireRow(res)
}

// UpsertInstallation implements repository.InstallationStore.
func (d *Directory) UpsertInstallation(ctx context.Context, inst model.Installation) error {
	repos, err := json.Marshal(nonNilRepos(inst.Repositories))
	if err != nil {
		return fmt.Errorf("encode installation %d: %w", inst.ID, err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO installations (id, account, suspended, repositories)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id)
		 DO UPDATE SET account = EXCLUDED.account,
		               suspended = EXCLUDED.suspended,
		               repositories = EXCLUDED.repositories,
		               updated_at = NOW()`,
		inst.ID, inst.Account, inst.Suspended, repos)
	if err != nil {
		return fmt.Errorf("upsert installation %d: %w", inst.ID, err)
	}
	return nil
}

// DeleteInstallation implements repository.InstallationStore.
func (d *Directory) DeleteInstallation(ctx context.Context, id int64) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM installations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete installation %d: %w", id, err)
	}
	return requireRow(res)
}

type installationRow struct {
	ID           int64  `db:"id"`
	Account      string `db:"account"`
	Suspended    bool   `db:"suspended"`
	Repositories []byte `db:"repositories"`
}

// Installations implements repository.InstallationStore.
func (d *Directory) Installations(ctx context.Context) ([]model.Installation, error) {
	var rows []installationRow
	if err := d.db.SelectContext(ctx, &rows,
		`SELECT id, account, suspended, repositories FROM installations ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list installations: %w", err)
	}
	out := make([]model.Installation, 0, len(rows))
	for _, r := range rows {
		inst := model.Installation{ID: r.ID, Account: r.Account, Suspended: r.Suspended}
		if err := decodeJSON(r.Repositories, &inst.Repositories); err != nil {
			return nil, fmt.Errorf("installation %d: %w", r.ID, err)
		}
		out = append(out, inst)
	}
	return out, nil
}

func (r *profileRow) toModel() (model.NotificationProfile, error) {
	p := model.NotificationProfile{
		ID:               r.ID,
		Priority:         r.Priority,
		Enabled:          r.Enabled,
		Scope:            model.Scope{Kind: model.ScopeKind(r.ScopeKind), TeamSlug: r.TeamSlug},
		Keywords:         []string(r.Keywords),
		SemanticKeywords: r.SemanticKeywords,
		MuteOwnActivity:  r.MuteOwnActivity,
		MuteBotActivity:  r.MuteBotActivity,
	}
	if err := decodeJSON(r.RepositoryFilter, &p.RepositoryFilter); err != nil {
		return p, fmt.Errorf("profile %s: %w", r.ID, err)
	}
	if err := decodeJSON(r.Target, &p.Target); err != nil {
		return p, fmt.Errorf("profile %s: %w", r.ID, err)
	}
	if err := decodeJSON(r.Preferences, &p.Preferences); err != nil {
		return p, fmt.Errorf("profile %s: %w", r.ID, err)
	}
	return p, nil
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

func nonNilRepos(in []model.Repository) []model.Repository {
	if in == nil {
		return []model.Repository{}
	}
	return in
}

// decodeJSON treats an empty column as the zero value.
func decodeJSON(b []byte, v any) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return nil
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func requireRow(res rowsAffecter) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
