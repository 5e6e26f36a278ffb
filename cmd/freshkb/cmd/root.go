// Package cmd provides the CLI commands for freshkb.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/freshkb/freshkb/internal/logging"
	"github.com/freshkb/freshkb/pkg/version"
)

var (
	configPath string
	debugMode  bool

	loggingCleanup func()
)

// NewRootCmd creates the root command for the freshkb CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "freshkb",
		Short: "Hybrid-search knowledge base with freshness tracking",
		Long: `freshkb indexes registered knowledge sources for hybrid search
(BM25 + semantic with Reciprocal Rank Fusion), tracks how stale each
source is against its TTL, and re-ingests sources when their content
changes.

Run 'freshkb serve' to start the HTTP API and the background
freshness monitor, or use the subcommands to manage sources and run
one-off searches.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("freshkb version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: ~/.freshkb/config.yaml)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.freshkb/logs/")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newSourcesCmd())
	cmd.AddCommand(newRefreshCmd())
	cmd.AddCommand(newRollbackCmd())
	cmd.AddCommand(newFreshnessCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func setupLogging(_ *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if debugMode {
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
	}
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		// Logging must never block the CLI; fall back to the default
		// stderr handler.
		return nil
	}
	slog.SetDefault(logger)
	loggingCleanup = cleanup
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
