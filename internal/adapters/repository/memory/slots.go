package memory

import (
	"context"
	"sync"
	"time"
)

type slotKey struct {
	configID string
	slot     int64
}

// Slots remembers finished digest slots.
type Slots struct {
	mu   sync.Mutex
	done map[slotKey]struct{}
}

// NewSlots creates an empty slot store.
func NewSlots() *Slots {
	return &Slots{done: make(map[slotKey]struct{})}
}

// SlotDone implements repository.SlotStore.
func (s *Slots) SlotDone(_ context.Context, configID string, slot time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.done[slotKey{configID, slot.Unix()}]
	return ok, nil
}

// MarkSlot implements repository.SlotStore.
func (s *Slots) MarkSlot(_ context.Context, configID string, slot time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done[slotKey{configID, slot.Unix()}] = struct{}{}
	return nil
}
