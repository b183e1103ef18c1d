package dedupe

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/herald/internal/domain/model"
)

type entry struct {
	state       State
	token       string
	claimedAt   time.Time
	processedAt time.Time
	elem        *list.Element
}

// MemoryStore is an in-process ClaimStore. In bounded mode the oldest
// processed ids are evicted once maxSize entries are held; pending and
// processing entries are never evicted. An evicted id is forgotten: if it is
// delivered again it is recorded as new and processed a second time. Bounded
// mode only deduplicates redeliveries that arrive within the last maxSize
// events; use the Postgres ledger or WithMaxSize(-1) when that is not enough.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // ids in record order, oldest at the front
	maxSize int        // 0 or negative = unbounded
	size    atomic.Int64
}

// NewMemoryStore creates an in-memory ledger.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*entry),
		order:   list.New(),
		maxSize: 50_000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record implements ClaimStore.
func (s *MemoryStore) Record(_ context.Context, ev model.RawEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[ev.ID]; ok {
		return nil
	}
	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictProcessed()
	}
	e := &entry{state: StatePending}
	e.elem = s.order.PushBack(ev.ID)
	s.entries[ev.ID] = e
	s.size.Add(1)
	return nil
}

// Claim implements ClaimStore.
func (s *MemoryStore) Claim(_ context.Context, id, token string, now, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return false, ErrNotFound
	}
	switch e.state {
	case StatePending:
	case StateProcessing:
		if !e.claimedAt.Before(staleBefore) {
			return false, nil
		}
	default:
		return false, nil
	}
	e.state = StateProcessing
	e.token = token
	e.claimedAt = now
	return true, nil
}

// MarkProcessed implements ClaimStore.
func (s *MemoryStore) MarkProcessed(_ context.Context, id, token string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	switch {
	case e.token != token && e.state != StatePending:
		return ErrClaimLost
	case e.state != StateProcessing:
		return ErrNotClaimed
	}
	e.state = StateProcessed
	e.processedAt = now
	return nil
}

// Release implements ClaimStore.
func (s *MemoryStore) Release(_ context.Context, id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	if e.state == StateProcessing && e.token == token {
		e.state = StatePending
		e.token = ""
		e.claimedAt = time.Time{}
	}
	return nil
}

// State returns the ledger state of id.
func (s *MemoryStore) State(id string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return StatePending, false
	}
	return e.state, true
}

// Size returns the number of ids held.
func (s *MemoryStore) Size() int64 {
	return s.size.Load()
}

// evictProcessed drops the oldest processed entry. Must be called with s.mu held.
func (s *MemoryStore) evictProcessed() {
	for el := s.order.Front(); el != nil; el = el.Next() {
		id := el.Value.(string)
		if e := s.entries[id]; e != nil && e.state == StateProcessed {
			s.order.Remove(el)
			delete(s.entries, id)
			s.size.Add(-1)
			return
		}
	}
}
