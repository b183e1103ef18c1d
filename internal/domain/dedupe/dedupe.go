// Package dedupe guarantees each event is advanced to processed exactly once
// under at-least-once redelivery.
//
// Per event id the ledger walks Pending -> Processing -> Processed. The move to
// Processing is a single compare-and-set; losing it means another delivery
// owns (or already finished) the event and the caller gets OutcomeSkipped.
package dedupe

import (
	"context"
	"time"

	"github.com/okian/herald/internal/domain/model"
)

// State is the ledger state of one event.
type State int

// Ledger states.
const (
	StatePending State = iota
	StateProcessing
	StateProcessed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateProcessing:
		return "processing"
	case StateProcessed:
		return "processed"
	default:
		return "unknown"
	}
}

// Outcome is the result of Gate.Run.
type Outcome string

// Outcomes.
const (
	OutcomeProcessed Outcome = "processed"
	OutcomeSkipped   Outcome = "skipped"
)

// ClaimStore is the event ledger behind the gate.
//
// Every claim carries a token chosen by the claimant. MarkProcessed and
// Release only act while the stored token is still the caller's, so a run
// whose stale claim was taken over cannot finish or reopen the event.
type ClaimStore interface {
	// Record inserts the event as Pending. Recording an existing id is a no-op.
	Record(ctx context.Context, ev model.RawEvent) error

	// Claim atomically moves id from Pending to Processing under token. A
	// Processing claim taken before staleBefore may be taken over. It reports
	// false when the event is processed or freshly claimed by someone else.
	Claim(ctx context.Context, id, token string, now, staleBefore time.Time) (bool, error)

	// MarkProcessed moves id from Processing to Processed while token still
	// holds the claim. It returns ErrClaimLost otherwise.
	MarkProcessed(ctx context.Context, id, token string, now time.Time) error

	// Release moves id from Processing back to Pending so a redelivery can
	// claim it. It is a no-op when token no longer holds the claim.
	Release(ctx context.Context, id, token string) error
}
