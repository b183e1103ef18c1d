package memory

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/okian/herald/internal/adapters/repository"
	"github.com/okian/herald/pkg/metrics"
)

// Outbox keeps failed publishes in a treap ordered by (next attempt asc,
// id asc), so Due walks the ready prefix without scanning everything.

// node is a treap node keyed by (at, id) with a random heap priority.
type node struct {
	at    int64
	id    string
	prio  uint64
	left  *node
	right *node
}

// less returns true if (aAt, aID) is due before (bAt, bID).
func less(aAt int64, aID string, bAt int64, bID string) bool {
	if aAt != bAt {
		return aAt < bAt
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	return y
}

func insert(n *node, at int64, id string, prio uint64) *node {
	if n == nil {
		return &node{at: at, id: id, prio: prio}
	}
	if less(at, id, n.at, n.id) {
		n.left = insert(n.left, at, id, prio)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, at, id, prio)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	return n
}

func deleteNode(n *node, at int64, id string) *node {
	if n == nil {
		return nil
	}
	switch {
	case at == n.at && id == n.id:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, at, id)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, at, id)
		}
	case less(at, id, n.at, n.id):
		n.left = deleteNode(n.left, at, id)
	default:
		n.right = deleteNode(n.right, at, id)
	}
	return n
}

// collectDue appends ids in order while at <= now and len < limit.
func collectDue(n *node, now int64, limit int, out *[]string) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectDue(n.left, now, limit, out)
	if len(*out) >= limit || n.at > now {
		return
	}
	*out = append(*out, n.id)
	collectDue(n.right, now, limit, out)
}

// Outbox is an in-memory repository.Outbox.
type Outbox struct {
	mu      sync.Mutex
	root    *node
	entries map[string]repository.OutboxEntry
}

// NewOutbox creates an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{entries: make(map[string]repository.OutboxEntry)}
}

// Add implements repository.Outbox. Adding an existing id replaces it.
func (o *Outbox) Add(_ context.Context, e repository.OutboxEntry) error {
	if e.ID == "" {
		return repository.ErrInvalidEntry
	}
	o.mu.Lock()
	if old, ok := o.entries[e.ID]; ok {
		o.root = deleteNode(o.root, old.NextAttemptAt.UnixNano(), old.ID)
	}
	o.entries[e.ID] = e
	o.root = insert(o.root, e.NextAttemptAt.UnixNano(), e.ID, rand.Uint64())
	size := len(o.entries)
	o.mu.Unlock()

	metrics.UpdateOutboxSize(size)
	return nil
}

// Due implements repository.Outbox.
func (o *Outbox) Due(_ context.Context, now time.Time, limit int) ([]repository.OutboxEntry, error) {
	if limit < 1 {
		return nil, repository.ErrInvalidLimit
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	ids := make([]string, 0, limit)
	collectDue(o.root, now.UnixNano(), limit, &ids)
	out := make([]repository.OutboxEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, o.entries[id])
	}
	return out, nil
}

// Done implements repository.Outbox.
func (o *Outbox) Done(_ context.Context, id string) error {
	o.mu.Lock()
	e, ok := o.entries[id]
	if !ok {
		o.mu.Unlock()
		return repository.ErrNotFound
	}
	o.root = deleteNode(o.root, e.NextAttemptAt.UnixNano(), id)
	delete(o.entries, id)
	size := len(o.entries)
	o.mu.Unlock()

	metrics.UpdateOutboxSize(size)
	return nil
}

// Reschedule implements repository.Outbox.
func (o *Outbox) Reschedule(_ context.Context, id string, next time.Time, lastErr string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[id]
	if !ok {
		return repository.ErrNotFound
	}
	o.root = deleteNode(o.root, e.NextAttemptAt.UnixNano(), id)
	e.Attempts++
	e.LastError = lastErr
	e.NextAttemptAt = next
	o.entries[id] = e
	o.root = insert(o.root, next.UnixNano(), id, rand.Uint64())
	return nil
}

// Size implements repository.Outbox.
func (o *Outbox) Size(_ context.Context) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries), nil
}
