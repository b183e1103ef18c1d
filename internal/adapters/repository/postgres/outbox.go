package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/okian/herald/internal/adapters/repository"
)

// Outbox is a repository.Outbox on delivery_outbox.
type Outbox struct {
	db *sqlx.DB
}

// NewOutbox creates an Outbox.
func NewOutbox(db *sqlx.DB) *Outbox {
	return &Outbox{db: db}
}

type outboxRow struct {
	ID            string    `db:"id"`
	Kind          string    `db:"kind"`
	Payload       []byte    `db:"payload"`
	Attempts      int       `db:"attempts"`
	LastError     string    `db:"last_error"`
	NextAttemptAt time.Time `db:"next_attempt_at"`
	CreatedAt     time.Time `db:"created_at"`
}

// Add implements repository.Outbox. Adding an existing id replaces it.
func (o *Outbox) Add(ctx context.Context, e repository.OutboxEntry) error {
	payload, err := outboxPayload(&e)
	if err != nil {
		return err
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = o.db.ExecContext(ctx,
		`INSERT INTO delivery_outbox (id, kind, payload, attempts, last_error, next_attempt_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id)
		 DO UPDATE SET payload = EXCLUDED.payload,
		               attempts = EXCLUDED.attempts,
		               last_error = EXCLUDED.last_error,
		               next_attempt_at = EXCLUDED.next_attempt_at`,
		e.ID, string(e.Kind), payload, e.Attempts, e.LastError, e.NextAttemptAt, createdAt)
	if err != nil {
		return fmt.Errorf("add outbox entry %s: %w", e.ID, err)
	}
	return nil
}

// Due implements repository.Outbox.
func (o *Outbox) Due(ctx context.Context, now time.Time, limit int) ([]repository.OutboxEntry, error) {
	if limit < 1 {
		return nil, repository.ErrInvalidLimit
	}
	var rows []outboxRow
	if err := o.db.SelectContext(ctx, &rows,
		`SELECT id, kind, payload, attempts, last_error, next_attempt_at, created_at
		 FROM delivery_outbox
		 WHERE next_attempt_at <= $1
		 ORDER BY next_attempt_at, id
		 LIMIT $2`, now, limit); err != nil {
		return nil, fmt.Errorf("list due outbox entries: %w", err)
	}
	out := make([]repository.OutboxEntry, 0, len(rows))
	for _, r := range rows {
		e := repository.OutboxEntry{
			ID:            r.ID,
			Kind:          repository.OutboxKind(r.Kind),
			Attempts:      r.Attempts,
			LastError:     r.LastError,
			NextAttemptAt: r.NextAttemptAt,
			CreatedAt:     r.CreatedAt,
		}
		var err error
		switch e.Kind {
		case repository.OutboxDecision:
			err = decodeJSON(r.Payload, &e.Decision)
		case repository.OutboxDigest:
			err = decodeJSON(r.Payload, &e.Digest)
		default:
			err = fmt.Errorf("%w: kind %q", ErrDecode, r.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("outbox entry %s: %w", r.ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Done implements repository.Outbox.
func (o *Outbox) Done(ctx context.Context, id string) error {
	res, err := o.db.ExecContext(ctx, `DELETE FROM delivery_outbox WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete outbox entry %s: %w", id, err)
	}
	return requireRow(res)
}

// Reschedule implements repository.Outbox.
func (o *Outbox) Reschedule(ctx context.Context, id string, next time.Time, lastErr string) error {
	res, err := o.db.ExecContext(ctx,
		`UPDATE delivery_outbox
		 SET attempts = attempts + 1, last_error = $2, next_attempt_at = $3
		 WHERE id = $1`,
		id, lastErr, next)
	if err != nil {
		return fmt.Errorf("reschedule outbox entry %s: %w", id, err)
	}
	return requireRow(res)
}

// Size implements repository.Outbox.
func (o *Outbox) Size(ctx context.Context) (int, error) {
	var n int
	if err := o.db.GetContext(ctx, &n, `SELECT count(*) FROM delivery_outbox`); err != nil {
		return 0, fmt.Errorf("count outbox: %w", err)
	}
	return n, nil
}

func outboxPayload(e *repository.OutboxEntry) ([]byte, error) {
	var v any
	switch {
	case e.ID == "":
		return nil, repository.ErrInvalidEntry
	case e.Kind == repository.OutboxDecision && e.Decision != nil:
		v = e.Decision
	case e.Kind == repository.OutboxDigest && e.Digest != nil:
		v = e.Digest
	default:
		return nil, fmt.Errorf("%w: %s has no %s payload", repository.ErrInvalidEntry, e.ID, e.Kind)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode outbox entry %s: %w", e.ID, err)
	}
	return b, nil
}
