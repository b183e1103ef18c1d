package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/herald/internal/adapters/http/api"
	"github.com/okian/herald/internal/adapters/http/swagger"
	"github.com/okian/herald/internal/adapters/mq/kafka"
	"github.com/okian/herald/internal/telemetry"
	"github.com/okian/herald/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline",
	Long: `Consume raw events from Kafka (when brokers are configured), accept
events on POST /events, retry the delivery outbox and run the digest scheduler.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := logger.Get()

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Headers:        cfg.OTLPHeaders,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			log.Warn(sctx, "telemetry shutdown failed", logger.Error(err))
		}
	}()

	d, err := buildDeps(ctx, cfg, log, false)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			log.Warn(context.Background(), "closing dependencies", logger.Error(err))
		}
	}()

	svc, err := d.service()
	if err != nil {
		return err
	}
	defer svc.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := svc.Start(runCtx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error(runCtx, name+" stopped", logger.Error(err))
			}
		}()
	}

	spawn("system metrics", func(ctx context.Context) error {
		startSystemMetricsUpdater(ctx)
		return nil
	})
	if d.watcher != nil {
		spawn("directory watcher", d.watcher.Run)
	}
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		consumer, err := kafka.NewConsumer(brokers, cfg.KafkaEventsTopic, cfg.KafkaGroupID, svc,
			kafka.WithLogger(log.Named("consumer")))
		if err != nil {
			cancel()
			wg.Wait()
			_ = svc.Stop(context.WithoutCancel(ctx))
			return err
		}
		defer consumer.Close()
		spawn("kafka consumer", consumer.Run)
		log.Info(ctx, "consuming events",
			logger.Strings("brokers", brokers),
			logger.String("topic", cfg.KafkaEventsTopic))
	}

	mux := http.NewServeMux()
	api.NewServer(svc, svc).Register(mux)
	swagger.Register(ctx, mux)

	log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
	err = api.ListenAndServe(runCtx, cfg.Addr, mux, shutdownTimeout)

	log.Info(ctx, "shutting down...")
	cancel()
	wg.Wait()

	stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer stopCancel()
	if serr := svc.Stop(stopCtx); serr != nil {
		log.Error(stopCtx, "pipeline shutdown failed", logger.Error(serr))
	}
	log.Info(stopCtx, "server stopped")
	return err
}
