package service

import (
	"context"

	"github.com/okian/herald/internal/domain/model"
	"github.com/okian/herald/pkg/logger"
)

// LogPublisher writes decisions and digests to the log. serve uses it when no
// Kafka brokers are configured.
type LogPublisher struct {
	logger logger.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(l logger.Logger) *LogPublisher {
	if l == nil {
		l = logger.Nop()
	}
	return &LogPublisher{logger: l}
}

// PublishDecision logs d.
func (p *LogPublisher) PublishDecision(ctx context.Context, d *model.DeliveryDecision) error {
	p.logger.Info(ctx, "delivery decision",
		logger.String("decision_id", d.ID),
		logger.String("event_id", d.EventID),
		logger.String("subscriber_id", d.SubscriberID),
		logger.String("profile_id", d.ProfileID),
		logger.String("target", string(d.Target.Kind)),
		logger.String("reasons", d.Reasons.String()),
		logger.Strings("keywords", d.MatchedKeywords),
		logger.String("action", string(d.ActionKey)),
		logger.String("subject", d.SubjectURL),
	)
	return nil
}

// PublishDigest logs w.
func (p *LogPublisher) PublishDigest(ctx context.Context, w *model.DigestWindow) error {
	p.logger.Info(ctx, "digest",
		logger.String("digest_id", w.ID),
		logger.String("subscriber_id", w.SubscriberID),
		logger.String("config_id", w.ConfigID),
		logger.Int("waiting_on_user", len(w.WaitingOnUser)),
		logger.Int("approved_ready_to_merge", len(w.ApprovedReadyToMerge)),
		logger.Int("user_open_items", len(w.UserOpenItems)),
	)
	return nil
}
