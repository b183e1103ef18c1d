package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/herald/internal/domain/model"
)

// Items keeps tracked-item snapshots keyed by subject.
type Items struct {
	mu    sync.RWMutex
	items map[model.SubjectKey]model.TrackedItem
}

// NewItems creates an empty item store.
func NewItems() *Items {
	return &Items{items: make(map[model.SubjectKey]model.TrackedItem)}
}

// UpsertItem implements repository.ItemStore.
func (s *Items) UpsertItem(_ context.Context, item model.TrackedItem) error {
	key := item.Key()

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.items[key]; ok {
		item.Reviews = model.MergeReviews(prev.Reviews, item.Reviews...)
		if item.Type == model.SubjectUnknown {
			item.Type = prev.Type
		}
	} else {
		item.Reviews = model.MergeReviews(nil, item.Reviews...)
	}
	s.items[key] = item
	return nil
}

// OpenItems implements repository.ItemStore, ordered by subject key.
func (s *Items) OpenItems(_ context.Context, since time.Time) ([]model.TrackedItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.TrackedItem, 0, len(s.items))
	for _, it := range s.items {
		if it.Subject.IsOpen() && !it.UpdatedAt.Before(since) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// Len returns the number of tracked items.
func (s *Items) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
