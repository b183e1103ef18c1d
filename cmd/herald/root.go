package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/okian/herald/internal/config"
	"github.com/okian/herald/pkg/logger"
)

var (
	verbose bool
	cfg     *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "herald",
	Short: "Notification decision engine for repository events",
	Long: `Herald turns repository webhook events into per-subscriber delivery
decisions and scheduled digests. Configuration comes from defaults, an optional
YAML file ($HERALD_CONFIG) and HERALD_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load(cmd.Context())
		if err != nil {
			return err
		}
		if err := logger.InitWithFormat(c.LogFormat, os.Stderr); err != nil {
			return err
		}
		level := c.LogLevel
		if verbose {
			level = "debug"
		}
		if err := logger.SetLevelString(level); err != nil {
			logger.Get().Warn(cmd.Context(), "invalid log_level; falling back to info",
				logger.String("log_level", level), logger.Error(err))
			_ = logger.SetLevelString("info")
		}
		cfg = c
		return nil
	},
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}
