// Package config defines service configuration structures and loading hooks.
//
// Conventions:
//   - Flat koanf keys so HERALD_<KEY> env vars map one-to-one onto fields.
//   - New() builds a Config with defaults; Load(ctx) layers file and env on top.
//   - Validation failures wrap ErrInvalidConfig.
package config

import (
	"runtime"
	"strings"
	"time"
)

// Backends and sources.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	SourceFile      = "file"
	SourcePostgres  = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn warning error"`
	// LogFormat selects the slog handler: text or json.
	LogFormat string `koanf:"log_format" validate:"oneof=text json"`

	// Addr configures the ops HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr" validate:"required"`

	// EventQueueSize bounds the in-memory ingest queue used by POST /events.
	EventQueueSize int `koanf:"queue_size" validate:"min=1"`
	// DispatcherCount is the number of goroutines draining the ingest queue.
	DispatcherCount int `koanf:"dispatcher_count" validate:"min=1"`

	// WorkerCount sets the number of subscriber evaluation workers.
	WorkerCount int `koanf:"worker_count" validate:"min=1"`
	// WorkerQueueSize bounds pending subscriber evaluations.
	WorkerQueueSize int `koanf:"worker_queue_size" validate:"min=1"`

	// ClaimTimeout is how long a Processing claim is honoured before another
	// delivery of the same event may reclaim it.
	ClaimTimeout time.Duration `koanf:"claim_timeout" validate:"gt=0"`

	// DeliveryTimeout bounds one publish attempt; DeliveryRetries and
	// DeliveryBackoff configure the retry loop around it.
	DeliveryTimeout time.Duration `koanf:"delivery_timeout" validate:"gt=0"`
	DeliveryRetries int           `koanf:"delivery_retries" validate:"min=0"`
	DeliveryBackoff time.Duration `koanf:"delivery_backoff" validate:"gt=0"`
	// OutboxInterval is how often failed deliveries are retried by serve.
	OutboxInterval time.Duration `koanf:"outbox_interval" validate:"gt=0"`
	// OutboxBatch caps entries retried per outbox pass.
	OutboxBatch int `koanf:"outbox_batch" validate:"min=1"`

	// DigestTick is the digest scheduler ticker period.
	DigestTick time.Duration `koanf:"digest_tick" validate:"gt=0"`
	// DigestLeaseTTL bounds how long one digest slot may hold its lease.
	DigestLeaseTTL time.Duration `koanf:"digest_lease_ttl" validate:"gt=0"`
	// DigestWindow is the look-back period covered by one digest.
	DigestWindow time.Duration `koanf:"digest_window" validate:"gt=0"`

	// StoreBackend selects the event ledger, tracked items and outbox store.
	StoreBackend string `koanf:"store_backend" validate:"oneof=memory postgres"`
	// DirectorySource selects where subscribers and digest configs come from.
	DirectorySource string `koanf:"directory_source" validate:"oneof=file postgres"`
	// DirectoryFile is the YAML directory path when DirectorySource is file.
	DirectoryFile string `koanf:"directory_file" validate:"required_if=DirectorySource file"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `koanf:"database_url" validate:"required_if=StoreBackend postgres,required_if=DirectorySource postgres"`

	// KafkaBrokers is a comma-separated broker list; empty disables the consumer.
	KafkaBrokers        string `koanf:"kafka_brokers"`
	KafkaGroupID        string `koanf:"kafka_group_id" validate:"required_with=KafkaBrokers"`
	KafkaEventsTopic    string `koanf:"kafka_events_topic" validate:"required_with=KafkaBrokers"`
	KafkaDecisionsTopic string `koanf:"kafka_decisions_topic" validate:"required_with=KafkaBrokers"`
	KafkaDigestsTopic   string `koanf:"kafka_digests_topic" validate:"required_with=KafkaBrokers"`

	// RedisAddr enables the Redis digest lease; empty uses an in-process lease.
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db" validate:"min=0"`

	// OpenAIAPIKey enables semantic keyword matching; empty keeps literal mode.
	OpenAIAPIKey  string `koanf:"openai_api_key"`
	OpenAIModel   string `koanf:"openai_model" validate:"required_with=OpenAIAPIKey"`
	OpenAIBaseURL string `koanf:"openai_base_url" validate:"omitempty,url"`

	// OTLPEndpoint enables trace export (host:port); empty disables tracing.
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	// OTLPHeaders is a comma-separated k=v list sent with every export.
	OTLPHeaders string `koanf:"otlp_headers"`
	// ServiceName is reported as the OpenTelemetry service.name.
	ServiceName string `koanf:"service_name" validate:"required"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		EventQueueSize:      10_000,
		DispatcherCount:     4,
		WorkerCount:         runtime.NumCPU() * 4,
		WorkerQueueSize:     1_000,
		ClaimTimeout:        5 * time.Minute,
		DeliveryTimeout:     5 * time.Second,
		DeliveryRetries:     3,
		DeliveryBackoff:     200 * time.Millisecond,
		OutboxInterval:      30 * time.Second,
		OutboxBatch:         100,
		DigestTick:          time.Minute,
		DigestLeaseTTL:      2 * time.Minute,
		DigestWindow:        7 * 24 * time.Hour,
		StoreBackend:        BackendMemory,
		DirectorySource:     SourceFile,
		DirectoryFile:       "directory.yaml",
		KafkaGroupID:        "herald",
		KafkaEventsTopic:    "events.raw",
		KafkaDecisionsTopic: "notifications.decisions",
		KafkaDigestsTopic:   "notifications.digests",
		OpenAIModel:         "gpt-4o-mini",
		ServiceName:         "herald",
	}
}

// Brokers splits KafkaBrokers into a trimmed, non-empty list.
func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
