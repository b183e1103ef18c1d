package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/okian/herald/internal/adapters/lease"
	"github.com/okian/herald/internal/adapters/mq/kafka"
	"github.com/okian/herald/internal/adapters/repository/filedir"
	"github.com/okian/herald/internal/adapters/repository/memory"
	"github.com/okian/herald/internal/adapters/repository/postgres"
	"github.com/okian/herald/internal/adapters/semantic"
	service "github.com/okian/herald/internal/app"
	"github.com/okian/herald/internal/config"
	"github.com/okian/herald/internal/domain/dedupe"
	"github.com/okian/herald/internal/domain/digest"
	"github.com/okian/herald/internal/domain/keywords"
	"github.com/okian/herald/pkg/logger"
)

// deps holds everything built from config. Close releases it in reverse
// order.
type deps struct {
	cfg       *config.Config
	logger    logger.Logger
	stores    service.Stores
	publisher service.Publisher
	producer  *kafka.Producer
	lease     digest.Lease
	semantic  keywords.SemanticMatcher
	watcher   *filedir.Watcher
	closers   []func() error
}

// buildDeps wires stores and adapters. dryRun keeps every write in memory
// and logs instead of publishing.
func buildDeps(ctx context.Context, cfg *config.Config, log logger.Logger, dryRun bool) (*deps, error) {
	d := &deps{cfg: cfg, logger: log, lease: digest.NewLocalLease()}
	if err := d.build(ctx, dryRun); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *deps) build(ctx context.Context, dryRun bool) error {
	cfg := d.cfg
	usePostgres := !dryRun && cfg.StoreBackend == config.BackendPostgres

	var db *sqlx.DB
	if usePostgres || cfg.DirectorySource == config.SourcePostgres {
		var err error
		db, err = postgres.OpenSQLX(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, db.Close)
		if !dryRun {
			if err := postgres.Migrate(ctx, db); err != nil {
				return err
			}
		}
	}

	if err := d.buildDirectory(db); err != nil {
		return err
	}

	if usePostgres {
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{DSN: cfg.DatabaseURL})
		if err != nil {
			return err
		}
		d.closers = append(d.closers, closePool(pool))
		d.stores.Ledger = postgres.NewLedger(pool)
		d.stores.Items = postgres.NewItems(db)
		d.stores.Outbox = postgres.NewOutbox(db)
		d.stores.Slots = postgres.NewSlots(db)
	} else {
		d.stores.Ledger = dedupe.NewMemoryStore()
		d.stores.Items = memory.NewItems()
		d.stores.Outbox = memory.NewOutbox()
		d.stores.Slots = memory.NewSlots()
	}

	if err := d.buildPublisher(dryRun); err != nil {
		return err
	}
	if err := d.buildLease(ctx, dryRun); err != nil {
		return err
	}
	return d.buildSemantic()
}

func (d *deps) buildDirectory(db *sqlx.DB) error {
	if d.cfg.DirectorySource == config.SourcePostgres {
		dir := postgres.NewDirectory(db)
		d.stores.Directory, d.stores.Teams, d.stores.Installations = dir, dir, dir
		return nil
	}

	subs, configs, err := filedir.Load(d.cfg.DirectoryFile)
	if err != nil {
		return err
	}
	dir := memory.NewDirectory(subs, configs)
	d.stores.Directory, d.stores.Teams, d.stores.Installations = dir, dir, dir
	d.watcher = filedir.NewWatcher(d.cfg.DirectoryFile, dir, filedir.WithLogger(d.logger.Named("directory")))
	d.logger.Info(context.Background(), "directory loaded",
		logger.String("path", d.cfg.DirectoryFile),
		logger.Int("subscribers", len(subs)),
		logger.Int("digests", len(configs)))
	return nil
}

func (d *deps) buildPublisher(dryRun bool) error {
	brokers := d.cfg.Brokers()
	if len(brokers) == 0 || dryRun {
		d.publisher = service.NewLogPublisher(d.logger.Named("publisher"))
		return nil
	}
	p, err := kafka.NewProducer(brokers,
		kafka.WithTopics(d.cfg.KafkaEventsTopic, d.cfg.KafkaDecisionsTopic, d.cfg.KafkaDigestsTopic))
	if err != nil {
		return err
	}
	d.closers = append(d.closers, p.Close)
	d.producer = p
	d.publisher = p
	return nil
}

func (d *deps) buildLease(ctx context.Context, dryRun bool) error {
	if d.cfg.RedisAddr == "" || dryRun {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     d.cfg.RedisAddr,
		Password: d.cfg.RedisPassword,
		DB:       d.cfg.RedisDB,
	})
	d.closers = append(d.closers, client.Close)
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	d.lease = lease.NewRedisLease(client, lease.WithLogger(d.logger.Named("lease")))
	return nil
}

func (d *deps) buildSemantic() error {
	if d.cfg.OpenAIAPIKey == "" {
		return nil
	}
	m, err := semantic.NewMatcher(d.cfg.OpenAIAPIKey,
		semantic.WithModel(d.cfg.OpenAIModel),
		semantic.WithBaseURL(d.cfg.OpenAIBaseURL),
		semantic.WithLogger(d.logger.Named("semantic")),
	)
	if err != nil {
		return err
	}
	d.semantic = m
	return nil
}

// service builds the pipeline over the wired dependencies.
func (d *deps) service(extra ...service.Option) (*service.Service, error) {
	cfg := d.cfg
	opts := []service.Option{
		service.WithLogger(d.logger.Named("pipeline")),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithWorkerQueueSize(cfg.WorkerQueueSize),
		service.WithQueueSize(cfg.EventQueueSize),
		service.WithDispatcherCount(cfg.DispatcherCount),
		service.WithClaimTimeout(cfg.ClaimTimeout),
		service.WithDelivery(cfg.DeliveryTimeout, cfg.DeliveryRetries, cfg.DeliveryBackoff),
		service.WithOutbox(cfg.OutboxInterval, cfg.OutboxBatch),
		service.WithDigest(cfg.DigestTick, cfg.DigestLeaseTTL, cfg.DigestWindow),
		service.WithLease(d.lease),
	}
	if d.semantic != nil {
		opts = append(opts, service.WithSemanticMatcher(d.semantic))
	}
	return service.New(d.stores, d.publisher, append(opts, extra...)...)
}

// Close releases resources in reverse order of acquisition.
func (d *deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

func closePool(p *pgxpool.Pool) func() error {
	return func() error {
		p.Close()
		return nil
	}
}
