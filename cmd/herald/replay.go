package main

import (
	"bytes"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/herald/internal/adapters/mq/kafka"
	"github.com/okian/herald/internal/replay"
	"github.com/okian/herald/pkg/logger"
)

var (
	replayURL     string
	replayKafka   bool
	replayWorkers int
	replayTimeout time.Duration
)

var replayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Replay recorded raw events into a running pipeline",
	Long: `Replay a JSON array or newline-delimited file of raw event envelopes.
Events go to POST /events on --url, or onto the Kafka events topic with --kafka.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVar(&replayURL, "url", "http://localhost:9080", "Base URL of the ingest endpoint")
	replayCmd.Flags().BoolVar(&replayKafka, "kafka", false, "Publish to the Kafka events topic instead of HTTP")
	replayCmd.Flags().IntVar(&replayWorkers, "workers", 0, "Concurrent submitters (default 2x CPUs)")
	replayCmd.Flags().DurationVar(&replayTimeout, "timeout", 10*time.Second, "Per-request timeout")
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	data, err := readInput(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}
	events, err := replay.ReadEvents(bytes.NewReader(data))
	if err != nil {
		return err
	}

	var sink replay.Sink
	if replayKafka {
		brokers := cfg.Brokers()
		if len(brokers) == 0 {
			return fmt.Errorf("--kafka needs HERALD_KAFKA_BROKERS")
		}
		p, err := kafka.NewProducer(brokers,
			kafka.WithTopics(cfg.KafkaEventsTopic, cfg.KafkaDecisionsTopic, cfg.KafkaDigestsTopic))
		if err != nil {
			return err
		}
		defer p.Close()
		sink = replay.NewPublisherSink(p)
	} else {
		sink = replay.NewHTTPSink(replayURL, replayTimeout)
	}

	stats, err := replay.NewRunner(sink,
		replay.WithWorkers(replayWorkers),
		replay.WithLogger(logger.Get().Named("replay")),
	).Run(ctx, events)
	if perr := printJSON(cmd.OutOrStdout(), stats); perr != nil {
		return perr
	}
	return err
}
