package digest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/herald/internal/domain/model"
	"github.com/okian/herald/pkg/logger"
)

// Directory supplies subscribers and their digest configs.
type Directory interface {
	Subscribers(ctx context.Context) ([]model.Subscriber, error)
	DigestConfigs(ctx context.Context) ([]model.DigestConfig, error)
}

// ItemSource supplies tracked items updated since a point in time.
type ItemSource interface {
	OpenItems(ctx context.Context, since time.Time) ([]model.TrackedItem, error)
}

// SlotStore remembers which schedule slots already ran.
type SlotStore interface {
	SlotDone(ctx context.Context, configID string, slot time.Time) (bool, error)
	MarkSlot(ctx context.Context, configID string, slot time.Time) error
}

// Publisher hands a non-empty window to the delivery collaborator.
type Publisher interface {
	PublishDigest(ctx context.Context, w *model.DigestWindow) error
}

// Report summarizes one Tick.
type Report struct {
	Due        int
	Sent       int
	Suppressed int
	Failed     int
	Contended  int
	Windows    []*model.DigestWindow
}

// Scheduler evaluates digest configs on each tick.
type Scheduler struct {
	directory  Directory
	items      ItemSource
	slots      SlotStore
	publisher  Publisher
	aggregator *Aggregator
	window     time.Duration
	leaseTTL   time.Duration
	catchUp    time.Duration
	log        logger.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(directory Directory, items ItemSource, slots SlotStore, publisher Publisher, opts ...Option) *Scheduler {
	s := &Scheduler{
		directory:  directory,
		items:      items,
		slots:      slots,
		publisher:  publisher,
		aggregator: NewAggregator(),
		window:     7 * 24 * time.Hour,
		leaseTTL:   2 * time.Minute,
		catchUp:    15 * time.Minute,
		log:        logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DueSlot returns the most recent scheduled slot of cfg at or before now when
// it falls on a configured weekday and is no older than catchUp.
func DueSlot(cfg *model.DigestConfig, now time.Time, catchUp time.Duration) (time.Time, bool, error) {
	loc, err := cfg.Location()
	if err != nil {
		return time.Time{}, false, err
	}
	hour, minute, err := cfg.Clock()
	if err != nil {
		return time.Time{}, false, err
	}
	local := now.In(loc)
	slot := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if slot.After(local) {
		slot = time.Date(local.Year(), local.Month(), local.Day()-1, hour, minute, 0, 0, loc)
	}
	if !cfg.RunsOn(slot.Weekday()) {
		return time.Time{}, false, nil
	}
	if catchUp <= 0 {
		catchUp = time.Minute
	}
	if local.Sub(slot) >= catchUp {
		return time.Time{}, false, nil
	}
	return slot, true, nil
}

// Tick runs every due (subscriber, config) pair once. Each slot runs under its
// own lease, released on every exit path. Per-slot failures are logged and
// counted; only directory failures abort the tick.
func (s *Scheduler) Tick(ctx context.Context, now time.Time, lease Lease) (Report, error) {
	var rep Report

	configs, err := s.directory.DigestConfigs(ctx)
	if err != nil {
		return rep, fmt.Errorf("%w: %w", ErrLoadConfigs, err)
	}
	subs, err := s.directory.Subscribers(ctx)
	if err != nil {
		return rep, fmt.Errorf("%w: %w", ErrLoadConfigs, err)
	}
	byID := make(map[string]*model.Subscriber, len(subs))
	for i := range subs {
		byID[subs[i].ID] = &subs[i]
	}

	var items []model.TrackedItem
	itemsLoaded := false

	for i := range configs {
		cfg := &configs[i]
		if !cfg.Enabled {
			continue
		}
		sub, ok := byID[cfg.SubscriberID]
		if !ok {
			continue
		}
		slot, due, err := DueSlot(cfg, now, s.catchUp)
		if err != nil {
			s.log.Warn(ctx, "skipping invalid digest config", logger.String("config_id", cfg.ID), logger.Error(err))
			continue
		}
		if !due {
			continue
		}
		rep.Due++

		if !itemsLoaded {
			items, err = s.items.OpenItems(ctx, now.Add(-s.window))
			if err != nil {
				return rep, fmt.Errorf("%w: %w", ErrLoadItems, err)
			}
			itemsLoaded = true
		}

		w, err := s.runSlot(ctx, lease, sub, cfg, AudienceFor(cfg, sub, subs), items, slot, now)
		switch {
		case errors.Is(err, ErrLeaseHeld):
			rep.Contended++
		case err != nil:
			rep.Failed++
			s.log.Error(ctx, "digest slot failed",
				logger.String("config_id", cfg.ID), logger.String("subscriber_id", sub.ID), logger.Error(err))
		case w == nil:
			// already ran
		case w.Empty():
			rep.Suppressed++
		default:
			rep.Sent++
			rep.Windows = append(rep.Windows, w)
		}
	}
	return rep, nil
}

// runSlot returns (nil, nil) when the slot already ran and an empty window
// when it was suppressed.
func (s *Scheduler) runSlot(ctx context.Context, lease Lease, sub *model.Subscriber, cfg *model.DigestConfig,
	audience Audience, items []model.TrackedItem, slot, now time.Time,
) (*model.DigestWindow, error) {
	release, err := lease.Acquire(ctx, slotKey(cfg.ID, slot), s.leaseTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	done, err := s.slots.SlotDone(ctx, cfg.ID, slot)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, nil
	}

	w := s.aggregator.Build(sub, cfg, audience, items, now.Add(-s.window), now)
	if !w.Empty() {
		if err := s.publisher.PublishDigest(ctx, w); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPublish, err)
		}
	}
	if err := s.slots.MarkSlot(ctx, cfg.ID, slot); err != nil {
		return nil, err
	}
	return w, nil
}

func slotKey(configID string, slot time.Time) string {
	return "herald:digest:" + configID + ":" + slot.UTC().Format("200601021504")
}
