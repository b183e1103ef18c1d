// Package repository defines the stores the pipeline reads and writes.
// Implementations live in the memory, postgres and filedir subpackages.
package repository

import (
	"context"
	"time"

	"github.com/okian/herald/internal/domain/model"
)

// Directory is the read side of the subscriber directory.
type Directory interface {
	Subscribers(ctx context.Context) ([]model.Subscriber, error)
	DigestConfigs(ctx context.Context) ([]model.DigestConfig, error)
}

// TeamSync applies membership side effects. Unknown logins return
// ErrNotFound.
type TeamSync interface {
	AddTeamMember(ctx context.Context, login, team string) error
	RemoveTeamMember(ctx context.Context, login, team string) error
}

// InstallationStore keeps install-sync state.
type InstallationStore interface {
	UpsertInstallation(ctx context.Context, inst model.Installation) error
	DeleteInstallation(ctx context.Context, id int64) error
	Installations(ctx context.Context) ([]model.Installation, error)
}

// ItemStore keeps the tracked-item snapshots the digest reads.
type ItemStore interface {
	// UpsertItem replaces the subject snapshot and merges reviews with
	// model.MergeReviews.
	UpsertItem(ctx context.Context, item model.TrackedItem) error
	// OpenItems returns open items updated at or after since.
	OpenItems(ctx context.Context, since time.Time) ([]model.TrackedItem, error)
}

// OutboxKind tells what an outbox entry carries.
type OutboxKind string

// Outbox kinds.
const (
	OutboxDecision OutboxKind = "decision"
	OutboxDigest   OutboxKind = "digest"
)

// OutboxEntry is a publish that failed and waits for a retry.
type OutboxEntry struct {
	ID            string                  `json:"id"`
	Kind          OutboxKind              `json:"kind"`
	Decision      *model.DeliveryDecision `json:"decision,omitempty"`
	Digest        *model.DigestWindow     `json:"digest,omitempty"`
	Attempts      int                     `json:"attempts"`
	LastError     string                  `json:"last_error"`
	NextAttemptAt time.Time               `json:"next_attempt_at"`
	CreatedAt     time.Time               `json:"created_at"`
}

// Outbox stores failed publishes until they succeed.
type Outbox interface {
	Add(ctx context.Context, e OutboxEntry) error
	// Due returns up to limit entries whose next attempt is at or before now,
	// oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]OutboxEntry, error)
	Done(ctx context.Context, id string) error
	// Reschedule bumps the attempt count and moves the next attempt.
	Reschedule(ctx context.Context, id string, next time.Time, lastErr string) error
	Size(ctx context.Context) (int, error)
}

// SlotStore remembers which digest slots already ran.
type SlotStore interface {
	SlotDone(ctx context.Context, configID string, slot time.Time) (bool, error)
	MarkSlot(ctx context.Context, configID string, slot time.Time) error
}
