package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/okian/herald/internal/domain/model"
)

// Items keeps tracked-item snapshots in tracked_items.
type Items struct {
	db *sqlx.DB
}

// NewItems creates an Items store.
func NewItems(db *sqlx.DB) *Items {
	return &Items{db: db}
}

type itemRow struct {
	Repository []byte    `db:"repository"`
	Subject    []byte    `db:"subject"`
	Type       string    `db:"item_type"`
	Reviews    []byte    `db:"reviews"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// UpsertItem implements repository.ItemStore. Reviews are merged under a row
// lock so concurrent review events do not drop each other.
func (s *Items) UpsertItem(ctx context.Context, item model.TrackedItem) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert item: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var prev struct {
		Type    string `db:"item_type"`
		Reviews []byte `db:"reviews"`
	}
	err = tx.GetContext(ctx, &prev,
		`SELECT item_type, reviews FROM tracked_items
		 WHERE repo_full_name = $1 AND number = $2 FOR UPDATE`,
		item.Repository.FullName, item.Subject.Number)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		item.Reviews = model.MergeReviews(nil, item.Reviews...)
	case err != nil:
		return fmt.Errorf("load item %s: %w", item.Key(), err)
	default:
		var reviews []model.ReviewState
		if err = decodeJSON(prev.Reviews, &reviews); err != nil {
			return fmt.Errorf("item %s: %w", item.Key(), err)
		}
		item.Reviews = model.MergeReviews(reviews, item.Reviews...)
		if item.Type == model.SubjectUnknown {
			item.Type = model.SubjectType(prev.Type)
		}
	}

	repo, err := json.Marshal(item.Repository)
	if err != nil {
		return fmt.Errorf("encode item %s: %w", item.Key(), err)
	}
	subject, err := json.Marshal(item.Subject)
	if err != nil {
		return fmt.Errorf("encode item %s: %w", item.Key(), err)
	}
	reviews, err := json.Marshal(item.Reviews)
	if err != nil {
		return fmt.Errorf("encode item %s: %w", item.Key(), err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tracked_items (repo_full_name, number, repository, subject, item_type, state, reviews, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (repo_full_name, number)
		 DO UPDATE SET repository = EXCLUDED.repository,
		               subject = EXCLUDED.subject,
		               item_type = EXCLUDED.item_type,
		               state = EXCLUDED.state,
		               reviews = EXCLUDED.reviews,
		               updated_at = EXCLUDED.updated_at`,
		item.Repository.FullName, item.Subject.Number, repo, subject, string(item.Type),
		item.Subject.State, reviews, item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert item %s: %w", item.Key(), err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit item %s: %w", item.Key(), err)
	}
	return nil
}

// OpenItems implements repository.ItemStore.
func (s *Items) OpenItems(ctx context.Context, since time.Time) ([]model.TrackedItem, error) {
	var rows []itemRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT repository, subject, item_type, reviews, updated_at
		 FROM tracked_items
		 WHERE state = 'open' AND updated_at >= $1
		 ORDER BY repo_full_name, number`, since); err != nil {
		return nil, fmt.Errorf("list open items: %w", err)
	}
	out := make([]model.TrackedItem, 0, len(rows))
	for _, r := range rows {
		it := model.TrackedItem{Type: model.SubjectType(r.Type), UpdatedAt: r.UpdatedAt}
		if err := decodeJSON(r.Repository, &it.Repository); err != nil {
			return nil, err
		}
		if err := decodeJSON(r.Subject, &it.Subject); err != nil {
			return nil, err
		}
		if err := decodeJSON(r.Reviews, &it.Reviews); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}
