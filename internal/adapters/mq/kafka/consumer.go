// Package kafka connects the pipeline to Kafka: raw events in, delivery
// decisions and digest windows out.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/okian/herald/internal/domain/model"
	"github.com/okian/herald/pkg/logger"
	"github.com/okian/herald/pkg/metrics"
)

const (
	readMaxWait       = time.Second
	defaultMinBackoff = 200 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
)

// Reader is the part of *kafka.Reader the consumer uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Handler processes one raw event. A returned error means the event must be
// redelivered.
type Handler interface {
	Handle(ctx context.Context, raw model.RawEvent) error
}

// Consumer reads raw events and commits each offset only after the handler
// succeeded.
type Consumer struct {
	reader     Reader
	handler    Handler
	minBackoff time.Duration
	maxBackoff time.Duration
	logger     logger.Logger
}

// NewConsumer creates a consumer-group reader on topic.
func NewConsumer(brokers []string, topic, groupID string, handler Handler, opts ...ConsumerOption) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("%w: brokers", ErrMissingConfig)
	}
	if topic == "" {
		return nil, fmt.Errorf("%w: topic", ErrMissingConfig)
	}
	if groupID == "" {
		return nil, fmt.Errorf("%w: group id", ErrMissingConfig)
	}
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     readMaxWait,
		StartOffset: kafkago.FirstOffset,
	})
	return NewConsumerWithReader(reader, handler, opts...), nil
}

// NewConsumerWithReader wraps an existing Reader.
func NewConsumerWithReader(reader Reader, handler Handler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		reader:     reader,
		handler:    handler,
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
		logger:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run consumes until ctx is done. A failing event is retried with backoff
// before the consumer moves on, so later commits never skip it.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %w", ErrFetch, err)
		}

		if err := c.process(ctx, msg); err != nil {
			// only ctx cancellation ends processing; the offset stays uncommitted
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			metrics.RecordError("kafka", "commit")
			c.logger.Error(ctx, "failed to commit offset",
				logger.Int64("offset", msg.Offset),
				logger.Int("partition", msg.Partition),
				logger.Error(err),
			)
		}
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) process(ctx context.Context, msg kafkago.Message) error {
	raw, err := Decode(msg)
	if err != nil {
		// a poison message can never succeed; skip it so the partition moves on
		metrics.RecordError("kafka", "decode")
		c.logger.Warn(ctx, "skipping undecodable message",
			logger.Int64("offset", msg.Offset),
			logger.Int("partition", msg.Partition),
			logger.Error(err),
		)
		return nil
	}

	backoff := c.minBackoff
	for {
		err := c.handler.Handle(ctx, raw)
		if err == nil {
			return nil
		}
		c.logger.Warn(ctx, "event handling failed, retrying",
			logger.String("event_id", raw.ID),
			logger.Duration("backoff", backoff),
			logger.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// Decode turns a Kafka message into a RawEvent. Missing id or kind fall back
// to the message key and the "kind" header.
func Decode(msg kafkago.Message) (model.RawEvent, error) {
	var raw model.RawEvent
	if err := json.Unmarshal(msg.Value, &raw); err != nil {
		return raw, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if raw.ID == "" {
		raw.ID = string(msg.Key)
	}
	if raw.Kind == "" {
		for _, h := range msg.Headers {
			if h.Key == headerKind {
				raw.Kind = model.Kind(h.Value)
			}
		}
	}
	if raw.ID == "" {
		return raw, fmt.Errorf("%w: missing event id", ErrDecode)
	}
	if raw.ReceivedAt.IsZero() {
		raw.ReceivedAt = msg.Time
	}
	return raw, nil
}
