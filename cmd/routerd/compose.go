package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kestrelai/router/internal/classifier"
	"github.com/kestrelai/router/internal/config"
	"github.com/kestrelai/router/internal/corerouter"
	"github.com/kestrelai/router/internal/engine"
	"github.com/kestrelai/router/internal/providers"
	"github.com/kestrelai/router/internal/registry"
	"github.com/kestrelai/router/internal/router"
	"github.com/kestrelai/router/internal/security"
	"github.com/kestrelai/router/internal/tools"
	"github.com/kestrelai/router/internal/toolregistry"
	"github.com/kestrelai/router/internal/toolsimpl"
)

// cooldownWindow is how long a fallback-failed model is excluded from
// routing before it becomes a candidate again.
const cooldownWindow = time.Minute

// factories maps every compiled-in tool's unit name (as it appears in a
// unit manifest's `unit:` field) to its constructor. New tools are wired
// here and given a manifest unit under the tool registry root.
func factories() map[string]toolregistry.Factory {
	return map[string]toolregistry.Factory{
		"qr_generate": toolsimpl.NewQRGenerate,
	}
}

// buildRegistry seeds the model registry from cfg.Models.
func buildRegistry(cfg *config.Config) (*registry.Registry, error) {
	reg := registry.New()
	for _, m := range cfg.Models {
		d, err := toDescriptor(m)
		if err != nil {
			return nil, fmt.Errorf("model %q: %w", m.ID, err)
		}
		if err := reg.Register(d); err != nil {
			return nil, fmt.Errorf("register model %q: %w", m.ID, err)
		}
	}
	return reg, nil
}

func toDescriptor(m config.ModelConfig) (registry.Descriptor, error) {
	caps := make(map[registry.Capability]struct{}, len(m.Capabilities))
	for _, c := range m.Capabilities {
		caps[registry.Capability(c)] = struct{}{}
	}
	d := registry.Descriptor{
		ID:               m.ID,
		BackendKind:      registry.BackendKind(m.BackendKind),
		DisplayName:      m.DisplayName,
		ParamSizeLabel:   m.ParamSizeLabel,
		QuantLabel:       m.QuantLabel,
		Capabilities:     caps,
		SpeedClass:       registry.SpeedClass(m.SpeedClass),
		ContextWindow:    m.ContextWindow,
		TokensPerSecond:  m.TokensPerSecond,
		ResourceFloorGB:  m.ResourceFloorGB,
		QualityGeneral:   m.QualityGeneral,
		QualityCode:      m.QualityCode,
		QualityReasoning: m.QualityReasoning,
		Cost:             m.Cost,
		BackendAddress:   m.BackendAddress,
		ModelPath:        m.ModelPath,
		PromptFormatTag:  registry.PromptFormat(m.PromptFormatTag),
		Available:        true,
	}
	if err := d.Validate(); err != nil {
		return registry.Descriptor{}, err
	}
	return d, nil
}

// buildPool wires one Factory per backend kind, resolving base URLs from
// cfg (flat map wins over the structured table per BaseURLFor).
func buildPool(cfg *config.Config) *providers.Pool {
	pool := providers.NewPool()

	pool.RegisterFactory(registry.BackendHTTPChat, func(ctx context.Context, d *registry.Descriptor) (providers.Adapter, error) {
		base := d.BackendAddress
		if url := cfg.BaseURLFor(string(registry.BackendHTTPChat)); url != "" {
			base = url
		}
		return providers.NewHTTPChatAdapter(base, d.ID), nil
	})

	pool.RegisterFactory(registry.BackendHTTPCompletion, func(ctx context.Context, d *registry.Descriptor) (providers.Adapter, error) {
		base := d.BackendAddress
		if url := cfg.BaseURLFor(string(registry.BackendHTTPCompletion)); url != "" {
			base = url
		}
		return providers.NewHTTPCompletionAdapter(base, "", d.ID), nil
	})

	pool.RegisterFactory(registry.BackendInProcess, func(ctx context.Context, d *registry.Descriptor) (providers.Adapter, error) {
		return providers.NewInProcessAdapter(d.ModelPath, d.PromptFormatTag, echoGenerator), nil
	})

	return pool
}

// echoGenerator stands in for a real local inference runtime binding: no
// such binding ships in this tree, so in-process descriptors round-trip
// the rendered prompt back as the completion rather than silently failing.
func echoGenerator(ctx context.Context, renderedPrompt string) (string, error) {
	return renderedPrompt, nil
}

// buildCore wires every component named in cfg into a corerouter.Core,
// returning the health probe separately so the caller controls its lifecycle.
func buildCore(cfg *config.Config, logger *slog.Logger) (*corerouter.Core, *engine.HealthProbe, *toolregistry.Registry, error) {
	reg, err := buildRegistry(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build model registry: %w", err)
	}

	pool := buildPool(cfg)
	rtr := router.New(reg, cooldownWindow)

	var cl *classifier.Classifier
	if cfg.Classifier.PatternFile != "" {
		cl = classifier.NewDefault()
		if cfg.Classifier.Watch {
			if err := cl.Watch(cfg.Classifier.PatternFile, func(err error) {
				logger.Warn("classifier pattern file reload failed", "error", err)
			}); err != nil {
				return nil, nil, nil, fmt.Errorf("watch classifier pattern file: %w", err)
			}
		} else {
			table, err := classifier.LoadPatternTable(cfg.Classifier.PatternFile)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("load classifier pattern file: %w", err)
			}
			if cl, err = classifier.New(table); err != nil {
				return nil, nil, nil, fmt.Errorf("compile classifier pattern file: %w", err)
			}
		}
	} else {
		cl = classifier.NewDefault()
	}

	eng := engine.New(pool, rtr, reg, cl)

	probeTimeout := time.Duration(cfg.HealthProbe.TimeoutSeconds) * time.Second
	schedule := cfg.HealthProbe.Schedule
	if schedule == "" && cfg.HealthProbe.Every > 0 {
		schedule = fmt.Sprintf("@every %s", cfg.HealthProbe.Every)
	}
	probe, err := engine.NewHealthProbe(eng, schedule, probeTimeout, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build health probe: %w", err)
	}

	toolReg := toolregistry.New(factories())
	if cfg.ToolRegistry.Root != "" {
		if cfg.ToolRegistry.Watch {
			if err := toolReg.Watch(cfg.ToolRegistry.Root, func(rep toolregistry.LoadReport) {
				logger.Info("tool registry reloaded", "loaded", rep.LoadedCount, "failed", len(rep.Failed))
				for _, f := range rep.Failed {
					logger.Warn("tool unit failed to load", "unit", f.UnitPath, "kind", f.ErrorKind, "error", f.ErrorMessage)
				}
			}); err != nil {
				return nil, nil, nil, fmt.Errorf("watch tool registry: %w", err)
			}
		} else {
			rep := toolReg.Load(cfg.ToolRegistry.Root)
			logger.Info("tool registry loaded", "loaded", rep.LoadedCount, "failed", len(rep.Failed))
			for _, f := range rep.Failed {
				logger.Warn("tool unit failed to load", "unit", f.UnitPath, "kind", f.ErrorKind, "error", f.ErrorMessage)
			}
		}
	}

	limiter := security.NewRateLimiter(cfg.RateLimit.MaxRequests, cfg.RateLimit.WindowSeconds)

	deadline := time.Duration(cfg.Server.DefaultRequestDeadlineSeconds) * time.Second
	core := corerouter.New(reg, rtr, pool, eng, toolReg, tools.AutoApprove{}, limiter, cfg.Tools.RequireConfirmation, deadline, logger)

	return core, probe, toolReg, nil
}
