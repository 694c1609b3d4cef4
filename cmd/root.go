// Package cmd defines the tap-acuite CLI.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tap-acuite/internal/logging"
)

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "tap-acuite",
		Short: "Singer tap for the Acuite construction management API.",
		Long: `tap-acuite extracts companies, locations, people and projects from the
Acuite REST API, together with each project's audits, RFIs and health and
safety events, and writes them as Singer SCHEMA, RECORD and STATE messages.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (JSON or YAML)")

	cmd.AddCommand(newSyncCmd(&cfgFile), newDiscoverCmd())
	return cmd
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the run; any error is
// logged and the process exits non-zero.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	logger, logErr := logging.New(false)
	if logErr != nil {
		logger = zap.NewExample()
	}
	logger.Error("command failed", zap.Error(err))
	_ = logger.Sync()
	os.Exit(1)
}
