// Package main provides the CLI entry point for routerd, the local
// multi-model inference router and tool-dispatch daemon.
//
// # Basic Usage
//
// Start the server:
//
//	routerd serve --config router.yaml
//
// Route a single request without starting the server:
//
//	routerd route "summarize this file" --config router.yaml
//
// Invoke a registered tool directly:
//
//	routerd tool qr_generate --config router.yaml --arg qr_type=url --arg content=https://example.com
//
// # Environment Variables
//
//   - ROUTERD_CONFIG: path to configuration file (default: router.yaml)
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "routerd",
		Short:   "routerd - local multi-model inference router and tool-dispatch engine",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),

		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildRouteCmd(),
		buildToolCmd(),
		buildModelsCmd(),
		buildHealthCmd(),
		buildStatsCmd(),
	)

	return rootCmd
}

func configuredLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
