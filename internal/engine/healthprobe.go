package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// HealthProbe runs Engine.HealthCheck on a cron-driven cadence and feeds the
// results into the model registry's SetAvailable, letting descriptors
// recover from available=false without an operator action. This supplements,
// and does not replace, the engine's synchronous HealthCheck operation.
type HealthProbe struct {
	engine *Engine
	cron   *cron.Cron
	logger *slog.Logger
	probeTimeout time.Duration
}

// NewHealthProbe builds a probe bound to e. schedule is a standard 5-field
// cron expression (or a cron.Descriptor like "@every 30s").
func NewHealthProbe(e *Engine, schedule string, probeTimeout time.Duration, logger *slog.Logger) (*HealthProbe, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if probeTimeout <= 0 {
		probeTimeout = 10 * time.Second
	}
	c := cron.New(cron.WithParser(cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))
	hp := &HealthProbe{engine: e, cron: c, logger: logger, probeTimeout: probeTimeout}
	if _, err := c.AddFunc(schedule, hp.runOnce); err != nil {
		return nil, err
	}
	return hp, nil
}

// Start begins the scheduled probe loop. Non-blocking; runs in background goroutines.
func (h *HealthProbe) Start() { h.cron.Start() }

// Stop halts the schedule and waits for any in-flight probe to finish.
func (h *HealthProbe) Stop() { <-h.cron.Stop().Done() }

func (h *HealthProbe) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), h.probeTimeout)
	defer cancel()

	results := h.engine.HealthCheck(ctx)
	for id, available := range results {
		h.engine.registry.SetAvailable(id, available)
		if !available {
			h.logger.Warn("health probe marked model unavailable", "model_id", id)
		}
	}
}
