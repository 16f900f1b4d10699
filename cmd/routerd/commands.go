package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrelai/router/internal/config"
	"github.com/kestrelai/router/internal/corerouter"
	"github.com/kestrelai/router/internal/router"
)

const defaultConfigPath = "router.yaml"

func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("ROUTERD_CONFIG")); env != "" {
		return env
	}
	return defaultConfigPath
}

func loadCoreFromConfig(configPath string) (*config.Config, *corerouter.Core, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := configuredLogger(cfg.Logging.Level, cfg.Logging.Format)

	core, probe, toolReg, err := buildCore(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	probe.Start()
	cleanup := func() {
		probe.Stop()
		_ = toolReg.Close()
	}
	return cfg, core, cleanup, nil
}

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the routerd daemon",
		Long: `Start routerd: build the model registry, adapter pool, router, execution
engine, tool registry, and security middleware from the configuration file,
start the health probe, and block until SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := configuredLogger(cfg.Logging.Level, cfg.Logging.Format)

	logger.Info("starting routerd", "version", version, "commit", commit, "config", configPath)

	core, probe, toolReg, err := buildCore(cfg, logger)
	if err != nil {
		return fmt.Errorf("wire core: %w", err)
	}
	probe.Start()
	defer probe.Stop()
	defer toolReg.Close()

	logger.Info("routerd started",
		"models", len(core.ListModels()),
		"tools", len(core.ListTools()),
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	logger.Info("shutdown signal received, draining")
	return nil
}

func buildRouteCmd() *cobra.Command {
	var (
		configPath  string
		strategy    string
		temperature float64
		maxTokens   int
		deadline    time.Duration
		principal   string
		system      string
	)

	cmd := &cobra.Command{
		Use:   "route [text]",
		Short: "Classify, route, and execute a single request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			_, core, cleanup, err := loadCoreFromConfig(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := corerouter.Options{
				Strategy:     router.Strategy(strategy),
				Temperature:  temperature,
				MaxTokens:    maxTokens,
				SystemPrompt: system,
			}
			if deadline > 0 {
				opts.Deadline = time.Now().Add(deadline)
			}

			ctx := cmd.Context()
			result, err := core.RouteAndExecute(ctx, principal, args[0], opts)
			out := cmd.OutOrStdout()
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				return err
			}
			fmt.Fprintf(out, "model: %s (fallback_used=%v, elapsed=%.3fs)\n", result.ModelID, result.FallbackUsed, result.ElapsedSeconds)
			fmt.Fprintln(out, result.ResponseText)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Routing strategy override (auto, speed, quality, balanced, cost_optimized)")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "Sampling temperature override")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Max output tokens override")
	cmd.Flags().DurationVar(&deadline, "deadline", 0, "Request deadline override")
	cmd.Flags().StringVar(&principal, "principal", "cli", "Principal identity used for rate limiting")
	cmd.Flags().StringVar(&system, "system", "", "System prompt preamble")
	return cmd
}

func buildToolCmd() *cobra.Command {
	var (
		configPath string
		rawArgs    []string
		principal  string
	)

	cmd := &cobra.Command{
		Use:   "tool <name>",
		Short: "Invoke a registered tool by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			_, core, cleanup, err := loadCoreFromConfig(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			params, err := parseToolArgs(rawArgs)
			if err != nil {
				return err
			}

			result, err := core.ExecuteTool(cmd.Context(), principal, args[0], params, corerouter.ToolOptions{})
			out := cmd.OutOrStdout()
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				return err
			}
			payload, jerr := json.MarshalIndent(result, "", "  ")
			if jerr != nil {
				return jerr
			}
			fmt.Fprintln(out, string(payload))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().StringArrayVar(&rawArgs, "arg", nil, "Tool argument (key=value); values are parsed as JSON when possible")
	cmd.Flags().StringVar(&principal, "principal", "cli", "Principal identity used for rate limiting")
	return cmd
}

func buildModelsCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List registered model descriptors",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			_, core, cleanup, err := loadCoreFromConfig(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			descriptors := core.ListModels()
			if len(descriptors) == 0 {
				fmt.Fprintln(out, "No models registered.")
				return nil
			}
			for _, d := range descriptors {
				fmt.Fprintf(out, "  %-20s backend=%-16s speed=%-10s available=%v\n", d.ID, d.BackendKind, d.SpeedClass, d.Available)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func buildHealthCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe every registered model's current availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			_, core, cleanup, err := loadCoreFromConfig(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			results := core.HealthCheck(cmd.Context())
			out := cmd.OutOrStdout()
			for id, available := range results {
				status := "unavailable"
				if available {
					status = "available"
				}
				fmt.Fprintf(out, "  %-20s %s\n", id, status)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func buildStatsCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show engine, router, and tool statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			_, core, cleanup, err := loadCoreFromConfig(configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			payload, err := json.MarshalIndent(core.Stats(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(payload))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	return cmd
}

func parseToolArgs(items []string) (map[string]any, error) {
	if len(items) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(items))
	for _, item := range items {
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("invalid arg %q, expected key=value", item)
		}
		key := strings.TrimSpace(parts[0])
		value := parts[1]
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err == nil {
			out[key] = parsed
		} else {
			out[key] = value
		}
	}
	return out, nil
}
