package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/okian/herald/internal/domain/model"
)

const (
	writeTimeout = 10 * time.Second

	headerKind = "kind"
	headerType = "type"
	headerID   = "id"

	typeDecision = "delivery_decision"
	typeDigest   = "digest_window"
)

// Writer is the part of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Producer publishes decisions and digest windows keyed by subscriber id, so
// one subscriber's notifications stay ordered within a partition.
type Producer struct {
	writer         Writer
	eventsTopic    string
	decisionsTopic string
	digestsTopic   string
}

// NewProducer creates a synchronous, leader-acked writer. Topics are set per
// message.
func NewProducer(brokers []string, opts ...ProducerOption) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("%w: brokers", ErrMissingConfig)
	}
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Balancer:     &kafkago.Hash{},
		WriteTimeout: writeTimeout,
		RequiredAcks: kafkago.RequireOne,
	}
	return NewProducerWithWriter(w, opts...), nil
}

// NewProducerWithWriter wraps an existing Writer.
func NewProducerWithWriter(w Writer, opts ...ProducerOption) *Producer {
	p := &Producer{
		writer:         w,
		eventsTopic:    "events.raw",
		decisionsTopic: "notifications.decisions",
		digestsTopic:   "notifications.digests",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PublishDecision writes one delivery decision.
func (p *Producer) PublishDecision(ctx context.Context, d *model.DeliveryDecision) error {
	return p.write(ctx, p.decisionsTopic, d.SubscriberID, typeDecision, d.ID, d.DecidedAt, d)
}

// PublishDigest writes one digest window.
func (p *Producer) PublishDigest(ctx context.Context, w *model.DigestWindow) error {
	return p.write(ctx, p.digestsTopic, w.SubscriberID, typeDigest, w.ID, w.To, w)
}

// PublishRawEvent writes a raw event to the ingest topic, keyed by event id.
func (p *Producer) PublishRawEvent(ctx context.Context, raw *model.RawEvent) error {
	value, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}
	msg := kafkago.Message{
		Topic:   p.eventsTopic,
		Key:     []byte(raw.ID),
		Value:   value,
		Headers: []kafkago.Header{{Key: headerKind, Value: []byte(raw.Kind)}},
		Time:    raw.ReceivedAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

func (p *Producer) write(ctx context.Context, topic, key, typ, id string, ts time.Time, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}
	msg := kafkago.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Headers: []kafkago.Header{
			{Key: headerType, Value: []byte(typ)},
			{Key: headerID, Value: []byte(id)},
		},
		Time: ts,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWrite, topic, err)
	}
	return nil
}
