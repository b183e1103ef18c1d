package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	workerpool "github.com/okian/herald/internal/adapters/mq/worker"
	"github.com/okian/herald/internal/adapters/repository"
	"github.com/okian/herald/internal/domain/classify"
	"github.com/okian/herald/internal/domain/dedupe"
	"github.com/okian/herald/internal/domain/model"
	"github.com/okian/herald/internal/domain/preference"
	"github.com/okian/herald/internal/domain/watching"
	"github.com/okian/herald/pkg/logger"
	"github.com/okian/herald/pkg/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Evaluation is one subscriber's result for an event.
type Evaluation struct {
	SubscriberID string
	Reasons      model.ReasonSet
	Match        preference.Match
	Err          error
}

// Handle runs raw through the pipeline. A nil error means the event may be
// acknowledged upstream: it was dropped, skipped as a duplicate or processed.
func (s *Service) Handle(ctx context.Context, raw model.RawEvent) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "pipeline.handle", trace.WithAttributes(
		attribute.String("event.id", raw.ID),
		attribute.String("event.kind", string(raw.Kind)),
		attribute.String("event.action", raw.Action),
	))
	defer span.End()

	metrics.RecordEventReceived()
	s.stats.received.Add(1)

	res := s.classifier.Classify(raw)
	if !res.Kept() {
		metrics.RecordEventDropped(string(res.Dropped))
		s.stats.dropped.Add(1)
		span.SetAttributes(attribute.String("event.dropped", string(res.Dropped)))
		s.logger.Debug(ctx, "event dropped",
			logger.String("event_id", raw.ID),
			logger.String("kind", string(raw.Kind)),
			logger.String("reason", string(res.Dropped)),
		)
		return nil
	}

	outcome, err := s.gate.Run(ctx, raw, func(ctx context.Context) error {
		return s.process(ctx, res.Event)
	})
	if err != nil {
		metrics.RecordEventFailed()
		s.stats.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error(ctx, "event failed", logger.String("event_id", raw.ID), logger.Error(err))
		return err
	}
	if outcome == dedupe.OutcomeSkipped {
		metrics.RecordEventDuplicate()
		s.stats.duplicates.Add(1)
		span.SetAttributes(attribute.Bool("event.duplicate", true))
		s.logger.Debug(ctx, "duplicate event skipped", logger.String("event_id", raw.ID))
		return nil
	}

	metrics.RecordEventProcessed()
	metrics.RecordEventLatency(float64(time.Since(start).Milliseconds()))
	s.stats.processed.Add(1)
	return nil
}

func (s *Service) process(ctx context.Context, ev *model.Event) error {
	if ev.SideEffect != model.SideEffectNone {
		return s.applySideEffect(ctx, ev)
	}

	if err := s.track(ctx, ev); err != nil {
		return err
	}

	subs, err := s.stores.Directory.Subscribers(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoadSubscribers, err)
	}

	// Publishing must finish well inside the claim timeout, or a redelivery
	// takes the claim over and evaluates the event a second time.
	deadline := time.Now().Add(s.claimTimeout / 2)

	evals := s.Evaluate(ctx, ev, subs)
	if err := evaluationAborted(ctx, evals); err != nil {
		return fmt.Errorf("%w: %w", ErrEvaluationAborted, err)
	}

	dctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	for _, e := range evals {
		if e.Match.Decision != nil {
			s.deliverDecision(dctx, e.Match.Decision)
		}
	}
	return nil
}

// evaluationAborted reports the cancellation that cut an evaluation short.
// Partial results are never delivered: the claim is released and the whole
// event is evaluated again on redelivery.
func evaluationAborted(ctx context.Context, evals []Evaluation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, e := range evals {
		if errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded) {
			return e.Err
		}
	}
	return nil
}

// Evaluate resolves watching reasons and runs the profile scan for every
// subscriber on the worker pool. Results are in subscriber order; a failing
// subscriber only sets its own Err.
func (s *Service) Evaluate(ctx context.Context, ev *model.Event, subs []model.Subscriber) []Evaluation {
	ctx, span := s.tracer.Start(ctx, "pipeline.evaluate", trace.WithAttributes(
		attribute.Int("subscribers", len(subs)),
	))
	defer span.End()

	out := make([]Evaluation, len(subs))
	tasks := make([]workerpool.Task, len(subs))
	for i := range subs {
		sub := &subs[i]
		res := &out[i]
		res.SubscriberID = sub.ID
		tasks[i] = func(ctx context.Context) error {
			res.Reasons = watching.Resolve(ev, sub)
			res.Match = s.matcher.Evaluate(ctx, ev, sub, res.Reasons)
			return nil
		}
	}

	decisions := 0
	for i, err := range s.pool.Run(ctx, tasks) {
		metrics.RecordSubscriberEvaluation()
		if err != nil {
			out[i].Err = err
			out[i].Match = preference.Match{}
			if cerr := ctx.Err(); cerr != nil && errors.Is(err, cerr) {
				continue
			}
			metrics.RecordSubscriberFailure()
			s.logger.Warn(ctx, "subscriber evaluation failed",
				logger.String("event_id", ev.ID),
				logger.String("subscriber_id", out[i].SubscriberID),
				logger.Error(err),
			)
			continue
		}
		m := out[i].Match
		for _, v := range m.Trace {
			metrics.RecordProfileVerdict(string(v.Outcome))
		}
		if m.SemanticFallback {
			metrics.RecordSemanticFallback()
		}
		if m.Decision != nil {
			decisions++
			metrics.RecordDecision(string(m.Decision.Target.Kind))
			s.stats.decisions.Add(1)
		}
	}
	span.SetAttributes(attribute.Int("decisions", decisions))
	return out
}

// Classify exposes the classifier for dry runs.
func (s *Service) Classify(raw model.RawEvent) classify.Result {
	return s.classifier.Classify(raw)
}

// track keeps the digest snapshot of pull requests and issues current.
// Comment events carry a partial subject and are not tracked.
func (s *Service) track(ctx context.Context, ev *model.Event) error {
	if ev.Subject == nil {
		return nil
	}
	switch ev.Kind {
	case model.KindPullRequest, model.KindIssues, model.KindReview:
	default:
		return nil
	}

	item := model.TrackedItem{
		Repository: ev.Repository,
		Subject:    *ev.Subject,
		Type:       watching.SubjectTypeOf(ev.Subject),
		UpdatedAt:  ev.ReceivedAt,
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = s.now()
	}
	if ev.Review != nil {
		item.Reviews = []model.ReviewState{{
			Login:       ev.Review.Author,
			State:       ev.Review.State,
			SubmittedAt: ev.Review.SubmittedAt,
		}}
	}
	if err := s.stores.Items.UpsertItem(ctx, item); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrTrackItem, item.Key(), err)
	}
	return nil
}

func (s *Service) applySideEffect(ctx context.Context, ev *model.Event) error {
	var err error
	switch ev.SideEffect {
	case model.SideEffectTeamSync:
		err = s.syncTeam(ctx, ev)
	case model.SideEffectInstallSync:
		err = s.syncInstallation(ctx, ev)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSideEffect, ev.SideEffect, err)
	}
	metrics.RecordSideEffect(string(ev.SideEffect))
	return nil
}

func (s *Service) syncTeam(ctx context.Context, ev *model.Event) error {
	m := ev.Membership
	if m == nil || s.stores.Teams == nil {
		return nil
	}

	var err error
	switch ev.Action {
	case "added":
		err = s.stores.Teams.AddTeamMember(ctx, m.Login, m.TeamSlug)
	case "removed":
		err = s.stores.Teams.RemoveTeamMember(ctx, m.Login, m.TeamSlug)
	default:
		return nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Debug(ctx, "membership change for unknown login",
			logger.String("login", m.Login), logger.String("team", m.TeamSlug))
		return nil
	}
	return err
}

func (s *Service) syncInstallation(ctx context.Context, ev *model.Event) error {
	ic := ev.Installation
	if ic == nil || s.stores.Installations == nil {
		return nil
	}

	inst := model.Installation{
		ID:           ic.InstallationID,
		Account:      ic.Account,
		Repositories: ic.Repositories,
	}
	switch ev.Action {
	case "created":
		return s.stores.Installations.UpsertInstallation(ctx, inst)
	case "deleted":
		err := s.stores.Installations.DeleteInstallation(ctx, ic.InstallationID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	case "suspend", "unsuspend":
		inst.Suspended = ev.Action == "suspend"
		if len(inst.Repositories) == 0 {
			known, err := s.stores.Installations.Installations(ctx)
			if err != nil {
				return err
			}
			for _, k := range known {
				if k.ID == inst.ID {
					inst.Repositories = k.Repositories
					break
				}
			}
		}
		return s.stores.Installations.UpsertInstallation(ctx, inst)
	}
	return nil
}
