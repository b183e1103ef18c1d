package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Slots is a digest slot store on digest_slots.
type Slots struct {
	db *sqlx.DB
}

// NewSlots creates a Slots store.
func NewSlots(db *sqlx.DB) *Slots {
	return &Slots{db: db}
}

// SlotDone implements repository.SlotStore.
func (s *Slots) SlotDone(ctx context.Context, configID string, slot time.Time) (bool, error) {
	var done bool
	if err := s.db.GetContext(ctx, &done,
		`SELECT EXISTS (SELECT 1 FROM digest_slots WHERE config_id = $1 AND slot = $2)`,
		configID, slot.UTC()); err != nil {
		return false, fmt.Errorf("check slot %s: %w", configID, err)
	}
	return done, nil
}

// MarkSlot implements repository.SlotStore.
func (s *Slots) MarkSlot(ctx context.Context, configID string, slot time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO digest_slots (config_id, slot) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		configID, slot.UTC()); err != nil {
		return fmt.Errorf("mark slot %s: %w", configID, err)
	}
	return nil
}
