// Package cmd wires the pagerbridge CLI.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagLogLevel string
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pagerbridge",
		Short: "Bridge between agent hooks, the Clawd pager, and dashboards",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(flagLogLevel)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfig, "config", defaultConfigPath(), "config file path")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(hookCmd())
	cmd.AddCommand(permissionCmd())
	cmd.AddCommand(statusCmd())
	cmd.AddCommand(sessionsCmd())
	return cmd
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func defaultConfigPath() string {
	if v := os.Getenv("PAGERBRIDGE_CONFIG"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.clawd/bridge.yaml"
}
