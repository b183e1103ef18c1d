package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/herald/internal/domain/model"
	"github.com/okian/herald/pkg/logger"
)

var digestAt string

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Digest operations",
}

var digestRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one digest scheduler pass",
	Long: `Run one digest scheduler pass at --at (RFC3339, default now). Slots that
already ran are skipped, so running it twice for the same slot is safe.`,
	Args: cobra.NoArgs,
	RunE: runDigest,
}

func init() {
	rootCmd.AddCommand(digestCmd)
	digestCmd.AddCommand(digestRunCmd)
	digestRunCmd.Flags().StringVar(&digestAt, "at", "", "Evaluate schedules at this RFC3339 time instead of now")
}

type digestReport struct {
	At         time.Time             `json:"at"`
	Due        int                   `json:"due"`
	Sent       int                   `json:"sent"`
	Suppressed int                   `json:"suppressed"`
	Failed     int                   `json:"failed"`
	Contended  int                   `json:"contended"`
	Windows    []*model.DigestWindow `json:"windows"`
}

func runDigest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	at := time.Now().UTC()
	if digestAt != "" {
		t, err := time.Parse(time.RFC3339, digestAt)
		if err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
		at = t
	}

	d, err := buildDeps(ctx, cfg, logger.Get(), false)
	if err != nil {
		return err
	}
	defer d.Close()

	svc, err := d.service()
	if err != nil {
		return err
	}
	defer svc.Close()

	rep, err := svc.TickDigests(ctx, at)
	if err != nil {
		return err
	}
	windows := rep.Windows
	if windows == nil {
		windows = []*model.DigestWindow{}
	}
	return printJSON(cmd.OutOrStdout(), digestReport{
		At:         at,
		Due:        rep.Due,
		Sent:       rep.Sent,
		Suppressed: rep.Suppressed,
		Failed:     rep.Failed,
		Contended:  rep.Contended,
		Windows:    windows,
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
