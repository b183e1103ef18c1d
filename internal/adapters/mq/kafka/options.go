package kafka

import (
	"time"

	"github.com/okian/herald/pkg/logger"
)

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithBackoff bounds the retry backoff for a failing event.
func WithBackoff(minBackoff, maxBackoff time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if minBackoff > 0 {
			c.minBackoff = minBackoff
		}
		if maxBackoff >= c.minBackoff {
			c.maxBackoff = maxBackoff
		}
	}
}

// WithLogger sets the consumer logger.
func WithLogger(l logger.Logger) ConsumerOption {
	return func(c *Consumer) {
		if l != nil {
			c.logger = l
		}
	}
}

// ProducerOption configures a Producer.
type ProducerOption func(*Producer)

// WithTopics overrides the events, decisions and digests topics. Empty values
// keep the defaults.
func WithTopics(events, decisions, digests string) ProducerOption {
	return func(p *Producer) {
		if events != "" {
			p.eventsTopic = events
		}
		if decisions != "" {
			p.decisionsTopic = decisions
		}
		if digests != "" {
			p.digestsTopic = digests
		}
	}
}
