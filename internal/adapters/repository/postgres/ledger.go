package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/okian/herald/internal/domain/dedupe"
	"github.com/okian/herald/internal/domain/model"
)

// execer is the part of *pgxpool.Pool the ledger uses.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Ledger is a dedupe.ClaimStore on the event_ledger table. Each transition
// is one conditional UPDATE, so the row lock is the compare-and-set.
type Ledger struct {
	db execer
}

// NewLedger creates a Ledger over a pgx pool or connection.
func NewLedger(db execer) *Ledger {
	return &Ledger{db: db}
}

// Record implements dedupe.ClaimStore.
func (l *Ledger) Record(ctx context.Context, ev model.RawEvent) error {
	payload := []byte(ev.Payload)
	if len(payload) == 0 {
		payload = nil
	}
	receivedAt := ev.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	_, err := l.db.Exec(ctx,
		`INSERT INTO event_ledger (id, kind, action, payload, received_at, state)
		 VALUES ($1, $2, $3, $4, $5, 'pending')
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, string(ev.Kind), ev.Action, payload, receivedAt)
	if err != nil {
		return fmt.Errorf("record event %s: %w", ev.ID, err)
	}
	return nil
}

// Claim implements dedupe.ClaimStore.
func (l *Ledger) Claim(ctx context.Context, id, token string, now, staleBefore time.Time) (bool, error) {
	tag, err := l.db.Exec(ctx,
		`UPDATE event_ledger SET state = 'processing', claimed_at = $2, claim_token = $4
		 WHERE id = $1
		   AND (state = 'pending' OR (state = 'processing' AND claimed_at < $3))`,
		id, now, staleBefore, token)
	if err != nil {
		return false, fmt.Errorf("claim event %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkProcessed implements dedupe.ClaimStore. Zero rows means the claim is
// no longer ours: it was taken over, released or already finished.
func (l *Ledger) MarkProcessed(ctx context.Context, id, token string, now time.Time) error {
	tag, err := l.db.Exec(ctx,
		`UPDATE event_ledger SET state = 'processed', processed_at = $2
		 WHERE id = $1 AND state = 'processing' AND claim_token = $3`,
		id, now, token)
	if err != nil {
		return fmt.Errorf("mark event %s processed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return dedupe.ErrClaimLost
	}
	return nil
}

// Release implements dedupe.ClaimStore.
func (l *Ledger) Release(ctx context.Context, id, token string) error {
	_, err := l.db.Exec(ctx,
		`UPDATE event_ledger SET state = 'pending', claimed_at = NULL, claim_token = NULL
		 WHERE id = $1 AND state = 'processing' AND claim_token = $2`,
		id, token)
	if err != nil {
		return fmt.Errorf("release event %s: %w", id, err)
	}
	return nil
}
