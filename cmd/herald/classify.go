package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/herald/internal/domain/model"
	"github.com/okian/herald/internal/domain/preference"
	"github.com/okian/herald/pkg/logger"
)

var (
	classifyKind string
	classifyID   string
)

var classifyCmd = &cobra.Command{
	Use:   "classify <file>",
	Short: "Dry-run one event against the configured directory",
	Long: `Classify a raw event and show every subscriber's watching reasons,
profile trace and decision. Nothing is recorded or delivered. The file holds
either an event envelope ({"id","kind","action","payload"}) or a bare webhook
payload together with --kind. Use "-" to read stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)
	classifyCmd.Flags().StringVar(&classifyKind, "kind", "", "Event kind for a bare webhook payload (X-GitHub-Event)")
	classifyCmd.Flags().StringVar(&classifyID, "id", "dry-run", "Event id for a bare webhook payload")
}

type classifyOutput struct {
	ID          string             `json:"id"`
	Kind        model.Kind         `json:"kind"`
	Action      string             `json:"action,omitempty"`
	Dropped     string             `json:"dropped,omitempty"`
	SideEffect  model.SideEffect   `json:"side_effect,omitempty"`
	Evaluations []evaluationOutput `json:"evaluations,omitempty"`
}

type evaluationOutput struct {
	SubscriberID     string                  `json:"subscriber_id"`
	Reasons          model.ReasonSet         `json:"reasons"`
	Decision         *model.DeliveryDecision `json:"decision,omitempty"`
	Trace            []preference.Verdict    `json:"trace"`
	SemanticFallback bool                    `json:"semantic_fallback,omitempty"`
	Error            string                  `json:"error,omitempty"`
}

func runClassify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	data, err := readInput(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}
	raw, err := parseRawEvent(data, classifyKind, classifyID)
	if err != nil {
		return err
	}

	d, err := buildDeps(ctx, cfg, logger.Get(), true)
	if err != nil {
		return err
	}
	defer d.Close()

	svc, err := d.service()
	if err != nil {
		return err
	}
	defer svc.Close()

	out := classifyOutput{ID: raw.ID, Kind: raw.Kind, Action: raw.Action}
	res := svc.Classify(raw)
	if !res.Kept() {
		out.Dropped = string(res.Dropped)
		return printJSON(cmd.OutOrStdout(), out)
	}
	ev := res.Event
	out.Action = ev.Action
	out.SideEffect = ev.SideEffect
	if ev.SideEffect != model.SideEffectNone {
		return printJSON(cmd.OutOrStdout(), out)
	}

	subs, err := d.stores.Directory.Subscribers(ctx)
	if err != nil {
		return err
	}
	for _, e := range svc.Evaluate(ctx, ev, subs) {
		eo := evaluationOutput{
			SubscriberID:     e.SubscriberID,
			Reasons:          e.Reasons,
			Decision:         e.Match.Decision,
			Trace:            e.Match.Trace,
			SemanticFallback: e.Match.SemanticFallback,
		}
		if eo.Trace == nil {
			eo.Trace = []preference.Verdict{}
		}
		if e.Err != nil {
			eo.Error = e.Err.Error()
		}
		out.Evaluations = append(out.Evaluations, eo)
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// parseRawEvent accepts an envelope, or a bare webhook when kind is set.
func parseRawEvent(data []byte, kind, id string) (model.RawEvent, error) {
	var raw model.RawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return raw, fmt.Errorf("decoding event: %w", err)
	}
	if raw.Kind == "" || len(raw.Payload) == 0 {
		if kind == "" {
			return raw, fmt.Errorf("event has no kind or payload; pass --kind for a bare webhook")
		}
		raw = model.RawEvent{ID: id, Kind: model.Kind(strings.ToLower(kind)), Payload: data}
	}
	if raw.ReceivedAt.IsZero() {
		raw.ReceivedAt = time.Now().UTC()
	}
	return raw, nil
}
