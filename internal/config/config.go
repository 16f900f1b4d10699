// Package config loads the router's typed YAML configuration: model
// registry seed, backend base addresses, routing defaults, rate limiting,
// the tool registry's filesystem root, and logging.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration record for routerd.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Models       []ModelConfig      `yaml:"models"`
	Backends     map[string]BackendConfig `yaml:"backends"`
	BackendHTTPBaseURLs map[string]string `yaml:"backend_http_base_urls"`
	Routing      RoutingConfig      `yaml:"routing"`
	Tools        ToolsConfig        `yaml:"tools"`
	RateLimit    RateLimitConfig    `yaml:"rate_limit"`
	Classifier   ClassifierConfig   `yaml:"classifier"`
	HealthProbe  HealthProbeConfig  `yaml:"health_probe"`
	ToolRegistry ToolRegistryConfig `yaml:"tool_registry"`
	Logging      LoggingConfig      `yaml:"logging"`
	Telegram     TelegramConfig     `yaml:"telegram"`
}

// ModelConfig seeds one registry.Descriptor at startup. This is the
// registry's only population path: the daemon builds its catalog entirely
// from the config file, matching §4.1's "built once at startup and
// thereafter read-mostly" model.
type ModelConfig struct {
	ID              string   `yaml:"id"`
	BackendKind     string   `yaml:"backend_kind"`
	DisplayName     string   `yaml:"display_name"`
	ParamSizeLabel  string   `yaml:"param_size_label"`
	QuantLabel      string   `yaml:"quant_label"`
	Capabilities    []string `yaml:"capabilities"`
	SpeedClass      string   `yaml:"speed_class"`
	ContextWindow   int      `yaml:"context_window"`
	TokensPerSecond int      `yaml:"tokens_per_second"`
	ResourceFloorGB int      `yaml:"resource_floor_gb"`
	QualityGeneral  float64  `yaml:"quality_general"`
	QualityCode     float64  `yaml:"quality_code"`
	QualityReasoning float64 `yaml:"quality_reasoning"`
	Cost            float64  `yaml:"cost"`
	BackendAddress  string   `yaml:"backend_address"`
	ModelPath       string   `yaml:"model_path"`
	PromptFormatTag string   `yaml:"prompt_format_tag"`
}

// ServerConfig controls the daemon's own listening surface, if any.
type ServerConfig struct {
	DefaultRequestDeadlineSeconds int `yaml:"default_request_deadline_seconds"`
}

// BackendConfig names one backend kind's network defaults.
type BackendConfig struct {
	BaseURL   string `yaml:"base_url"`
	ModelPath string `yaml:"model_path"`
}

// RoutingConfig holds the routing_strategy and routing_max_cost options.
// They are parsed and defaulted here but not read by the rest of the daemon:
// RouteAndExecute falls back to the auto strategy when the call site gives
// none, and applies no cost ceiling.
type RoutingConfig struct {
	Strategy string  `yaml:"routing_strategy"`
	MaxCost  float64 `yaml:"routing_max_cost"`
}

// ToolsConfig controls confirmation-forcing policy over and above a tool's
// own manifest.
type ToolsConfig struct {
	RequireConfirmation bool `yaml:"tools_require_confirmation"`
}

// RateLimitConfig parameterizes the sliding-window limiter.
type RateLimitConfig struct {
	MaxRequests   int     `yaml:"rate_limit_messages"`
	WindowSeconds float64 `yaml:"rate_limit_window_seconds"`
}

// ClassifierConfig points at the externalized pattern-table file.
type ClassifierConfig struct {
	PatternFile string `yaml:"pattern_file"`
	Watch       bool   `yaml:"watch"`
}

// HealthProbeConfig drives the periodic HealthCheck loop.
type HealthProbeConfig struct {
	Schedule       string        `yaml:"schedule"`
	Every          time.Duration `yaml:"every"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
}

// ToolRegistryConfig points at the tool-discovery filesystem root.
type ToolRegistryConfig struct {
	Root  string `yaml:"root"`
	Watch bool   `yaml:"watch"`
}

// LoggingConfig controls the slog.Logger built at startup.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TelegramConfig carries chat-front-end credentials the core never reads
// itself, but accepts and passes through per spec.md §6.6.
type TelegramConfig struct {
	BotToken string `yaml:"telegram_bot_token"`
	UserID   string `yaml:"telegram_user_id"`
}

// Load reads path, expands environment variable references, and applies
// defaults. Unknown YAML fields are rejected to catch config typos early.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.DefaultRequestDeadlineSeconds == 0 {
		cfg.Server.DefaultRequestDeadlineSeconds = 30
	}
	if cfg.Routing.Strategy == "" {
		cfg.Routing.Strategy = "auto"
	}
	if cfg.RateLimit.MaxRequests == 0 {
		cfg.RateLimit.MaxRequests = 60
	}
	if cfg.RateLimit.WindowSeconds == 0 {
		cfg.RateLimit.WindowSeconds = 60
	}
	if cfg.HealthProbe.Schedule == "" && cfg.HealthProbe.Every == 0 {
		cfg.HealthProbe.Schedule = "@every 30s"
	}
	if cfg.HealthProbe.TimeoutSeconds == 0 {
		cfg.HealthProbe.TimeoutSeconds = 5
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// BaseURLFor resolves a backend kind's base URL, preferring the flat
// backend_http_base_urls map over the structured backends table when both
// are set, per §6.6's "flat map wins on conflict" rule.
func (c *Config) BaseURLFor(backendKind string) string {
	if c == nil {
		return ""
	}
	if url, ok := c.BackendHTTPBaseURLs[backendKind]; ok && url != "" {
		return url
	}
	if b, ok := c.Backends[backendKind]; ok {
		return b.BaseURL
	}
	return ""
}
