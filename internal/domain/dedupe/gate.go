package dedupe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/herald/internal/domain/model"
)

// Gate wraps per-event work with the ledger state machine.
type Gate struct {
	store        ClaimStore
	claimTimeout time.Duration
	now          func() time.Time
}

// NewGate creates a Gate over store.
func NewGate(store ClaimStore, opts ...GateOption) *Gate {
	g := &Gate{
		store:        store,
		claimTimeout: 5 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run records ev, claims it, runs fn and marks the event processed.
//
// A lost claim returns OutcomeSkipped with a nil error and fn is not called.
// When fn fails the claim is released and fn's error is returned so the
// upstream message is redelivered. A MarkProcessed failure is returned
// without releasing: the claim expires after the claim timeout instead of
// letting a concurrent redelivery re-run decisions immediately. When fn
// outlives the claim timeout and a redelivery takes the claim over, this run
// gets ErrClaimLost and leaves the ledger to the new owner.
func (g *Gate) Run(ctx context.Context, ev model.RawEvent, fn func(ctx context.Context) error) (Outcome, error) {
	if ev.ID == "" {
		return "", ErrEmptyID
	}
	if err := g.store.Record(ctx, ev); err != nil {
		return "", fmt.Errorf("%w: %w", ErrRecord, err)
	}

	token := uuid.NewString()
	now := g.now()
	ok, err := g.store.Claim(ctx, ev.ID, token, now, now.Add(-g.claimTimeout))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrClaim, err)
	}
	if !ok {
		return OutcomeSkipped, nil
	}

	if err := fn(ctx); err != nil {
		// The caller's ctx may be the reason fn failed; release regardless.
		if rerr := g.store.Release(context.WithoutCancel(ctx), ev.ID, token); rerr != nil {
			return "", errors.Join(err, fmt.Errorf("%w: %w", ErrRelease, rerr))
		}
		return "", err
	}

	// fn's effects are already out; a cancelled caller must not strand the claim.
	if err := g.store.MarkProcessed(context.WithoutCancel(ctx), ev.ID, token, g.now()); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMarkProcessed, err)
	}
	return OutcomeProcessed, nil
}
