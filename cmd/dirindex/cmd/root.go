// Package cmd provides the CLI commands for dirindex.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/dirindex/internal/config"
	"github.com/Aman-CERP/dirindex/internal/errors"
	"github.com/Aman-CERP/dirindex/internal/logging"
	"github.com/Aman-CERP/dirindex/internal/profiling"
	"github.com/Aman-CERP/dirindex/pkg/version"
)

var (
	debugMode      bool
	configDir      string
	loggingCleanup func()

	profileOpts    profiling.Options
	profileSession *profiling.Session
)

// NewRootCmd creates the root command for the dirindex CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dirindex",
		Short: "Participant directory indexer",
		Long: `dirindex keeps a searchable index of participant business cards.

Work items ask for a participant to be (re)indexed or removed. A background
worker fetches business cards from the configured provider, failed work is
retried until it expires, and outstanding work survives restarts.

Run 'dirindex serve' to start the indexer, then use 'dirindex queue',
'dirindex delete' and 'dirindex search' against it.`,
		Version:           version.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(*cobra.Command, []string) { teardown() },
	}

	cmd.SetVersionTemplate("dirindex version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.dirindex/logs/")
	cmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Directory containing .dirindex.yaml (default: current directory)")
	cmd.PersistentFlags().StringVar(&profileOpts.CPU, "profile-cpu", "", "Write a CPU profile to this file")
	cmd.PersistentFlags().StringVar(&profileOpts.Heap, "profile-mem", "", "Write a heap profile to this file on exit")
	cmd.PersistentFlags().StringVar(&profileOpts.Trace, "profile-trace", "", "Write an execution trace to this file")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newQueueCmd())
	cmd.AddCommand(newDeleteCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command and prints a formatted error on failure.
func Execute() error {
	err := NewRootCmd().Execute()
	teardown()
	if err != nil {
		_, _ = fmt.Fprint(os.Stderr, errors.FormatForCLI(err))
	}
	return err
}

func setup(cmd *cobra.Command, args []string) error {
	if err := startLogging(cmd, args); err != nil {
		return err
	}
	if !profileOpts.Enabled() {
		return nil
	}
	session, err := profiling.Start(profileOpts)
	if err != nil {
		return err
	}
	profileSession = session
	return nil
}

func teardown() {
	if profileSession != nil {
		if err := profileSession.Stop(); err != nil {
			slog.Warn("profile_write_failed", slog.String("error", err.Error()))
		}
		profileSession = nil
	}
	stopLogging()
}

func startLogging(*cobra.Command, []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return fmt.Errorf("failed to setup debug logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("debug_logging_enabled", slog.String("log_file", logging.DefaultLogPath()))
	return nil
}

func stopLogging() {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
}

// loadConfig loads configuration for --config-dir or the working directory.
func loadConfig() (*config.Config, error) {
	dir := configDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		dir = cwd
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, errors.ConfigError("failed to load configuration", err)
	}
	return cfg, nil
}
