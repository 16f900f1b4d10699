// Package corerouter composes the Model Registry, Router, Adapter Pool,
// Execution Engine, Tool Registry, and Security Middleware into the two
// public entry points external callers use: RouteAndExecute and
// ExecuteTool. Both invoke the security middleware before any other work.
package corerouter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelai/router/internal/engine"
	"github.com/kestrelai/router/internal/kerr"
	"github.com/kestrelai/router/internal/providers"
	"github.com/kestrelai/router/internal/registry"
	"github.com/kestrelai/router/internal/router"
	"github.com/kestrelai/router/internal/security"
	"github.com/kestrelai/router/internal/tools"
	"github.com/kestrelai/router/internal/toolregistry"
)

// Options customizes a single RouteAndExecute call.
type Options struct {
	Strategy     router.Strategy
	BackendPref  *registry.BackendKind
	Temperature  float64
	MaxTokens    int
	Deadline     time.Time
	SystemPrompt string
}

// ToolOptions customizes a single ExecuteTool call.
type ToolOptions struct {
	Deadline                    time.Time
	RequireConfirmationOverride *bool
}

// Core wires every component in dependency order and enforces that the
// security middleware runs first on both entry points.
type Core struct {
	registry     *registry.Registry
	router       *router.Router
	pool         *providers.Pool
	engine       *engine.Engine
	toolRegistry *toolregistry.Registry
	pipeline     *tools.Pipeline
	gate         tools.ApprovalGate
	limiter      *security.RateLimiter

	forceConfirmationScopes bool
	defaultDeadline         time.Duration

	logger *slog.Logger

	toolStatsMu sync.RWMutex
	toolStats   map[string]*tools.Stats
}

// New builds a Core from its already-constructed collaborators.
func New(
	reg *registry.Registry,
	rtr *router.Router,
	pool *providers.Pool,
	eng *engine.Engine,
	toolReg *toolregistry.Registry,
	gate tools.ApprovalGate,
	limiter *security.RateLimiter,
	forceConfirmationScopes bool,
	defaultDeadline time.Duration,
	logger *slog.Logger,
) *Core {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultDeadline == 0 {
		defaultDeadline = 30 * time.Second
	}
	return &Core{
		registry:                reg,
		router:                  rtr,
		pool:                    pool,
		engine:                  eng,
		toolRegistry:            toolReg,
		pipeline:                tools.NewPipeline(),
		gate:                    gate,
		limiter:                 limiter,
		forceConfirmationScopes: forceConfirmationScopes,
		defaultDeadline:         defaultDeadline,
		logger:                  logger,
		toolStats:               make(map[string]*tools.Stats),
	}
}

// RouteAndExecute classifies requestText, routes it to a model, and
// executes it, subject to rate limiting and input-sanitizer advisories.
func (c *Core) RouteAndExecute(ctx context.Context, principal, requestText string, opts Options) (engine.Result, error) {
	traceID := uuid.NewString()
	log := c.logger.With("trace_id", traceID, "principal", principal)

	if err := c.checkRateLimit(principal); err != nil {
		log.Warn("rate limit denied RouteAndExecute", "error", err)
		return engine.Result{Success: false, ErrorKind: kerr.KindOf(err), ErrorMessage: err.Error()}, err
	}

	assessment := security.Classify(requestText)
	if assessment.RiskLevel == security.RiskCritical {
		err := kerr.Newf(kerr.NotAuthorized, "input sanitizer flagged request as critical risk: %s", assessment.Reason)
		log.Warn("sanitizer blocked RouteAndExecute", "risk", assessment.RiskLevel, "reason", assessment.Reason)
		return engine.Result{Success: false, ErrorKind: kerr.NotAuthorized, ErrorMessage: err.Error()}, err
	}

	strategy := opts.Strategy
	if strategy == "" {
		strategy = router.Auto
	}

	runCtx := ctx
	var cancel context.CancelFunc
	deadline := opts.Deadline
	if deadline.IsZero() {
		deadline = time.Now().Add(c.defaultDeadline)
	}
	runCtx, cancel = context.WithDeadline(ctx, deadline)
	defer cancel()

	req := engine.Request{
		Text:        requestText,
		System:      opts.SystemPrompt,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		BackendPref: opts.BackendPref,
	}
	result := c.engine.Execute(runCtx, req, strategy)
	log.Info("RouteAndExecute completed", "success", result.Success, "model_id", result.ModelID, "fallback_used", result.FallbackUsed)
	return result, nil
}

// ExecuteTool validates, confirms, and invokes a registered tool by name.
func (c *Core) ExecuteTool(ctx context.Context, principal, toolName string, params map[string]any, opts ToolOptions) (tools.Result, error) {
	traceID := uuid.NewString()
	log := c.logger.With("trace_id", traceID, "principal", principal, "tool", toolName)

	if err := c.checkRateLimit(principal); err != nil {
		log.Warn("rate limit denied ExecuteTool", "error", err)
		return tools.Result{Success: false, ErrorMessage: err.Error()}, err
	}

	tool, ok := c.toolRegistry.Get(toolName)
	if !ok {
		err := kerr.New(kerr.Validation, "unknown tool").WithField("tool_name")
		return tools.Result{Success: false, ErrorMessage: err.Error()}, err
	}
	manifest := tool.Manifest()
	st := c.statsFor(toolName)

	prepared, err := c.pipeline.Prepare(manifest, params)
	if err != nil {
		st.RecordFailure()
		log.Warn("tool validation failed", "error", err)
		return tools.Result{Success: false, ErrorMessage: err.Error()}, err
	}

	if assessment := security.Classify(paramsPreview(prepared)); blocksExecution(assessment, manifest) {
		st.RecordFailure()
		err := kerr.Newf(kerr.NotAuthorized, "input sanitizer flagged tool call as %s risk: %s", assessment.RiskLevel, assessment.Reason)
		log.Warn("sanitizer blocked tool call", "risk", assessment.RiskLevel)
		return tools.Result{Success: false, ErrorMessage: err.Error()}, err
	}

	requireOverride := opts.RequireConfirmationOverride
	if requireOverride == nil && c.forceConfirmationScopes && forcesConfirmation(manifest) {
		forced := true
		requireOverride = &forced
	}

	deadline := opts.Deadline
	if deadline.IsZero() {
		deadline = time.Now().Add(c.defaultDeadline)
	}
	if err := c.pipeline.Confirm(ctx, c.gate, principal, manifest, prepared, requireOverride, deadline); err != nil {
		st.RecordFailure()
		log.Warn("tool confirmation denied", "error", err)
		return tools.Result{Success: false, ErrorMessage: err.Error()}, err
	}

	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	result, err := tool.Execute(runCtx, prepared)
	switch {
	case err != nil && kerr.KindOf(err) == kerr.Validation:
		// A conditionally-required parameter caught inside the tool body, not
		// by the manifest. Not an execution attempt: don't count it either way.
	case err != nil || !result.Success:
		st.RecordFailure()
	default:
		st.RecordSuccess()
	}
	return result, err
}

// ListTools returns every registered tool's summary.
func (c *Core) ListTools() []toolregistry.ManifestSummary {
	return c.toolRegistry.ListAll()
}

// ListModels returns every registered model descriptor.
func (c *Core) ListModels() []*registry.Descriptor {
	return c.registry.All()
}

// HealthCheck probes every registered model's current availability.
func (c *Core) HealthCheck(ctx context.Context) map[string]bool {
	return c.engine.HealthCheck(ctx)
}

// Stats returns the engine, router, and per-tool statistics snapshots.
type Stats struct {
	Engine engine.Stats
	Router router.Stats
	Tools  map[string]tools.Snapshot
}

// Stats returns a combined snapshot across every wired component.
func (c *Core) Stats() Stats {
	c.toolStatsMu.RLock()
	toolSnap := make(map[string]tools.Snapshot, len(c.toolStats))
	for name, st := range c.toolStats {
		toolSnap[name] = st.Snapshot()
	}
	c.toolStatsMu.RUnlock()
	return Stats{Engine: c.engine.Stats(), Router: c.router.Stats(), Tools: toolSnap}
}

func (c *Core) checkRateLimit(principal string) error {
	if c.limiter == nil {
		return nil
	}
	decision := c.limiter.CheckAndConsume(principal)
	if decision.Allowed {
		return nil
	}
	return kerr.Newf(kerr.NotAuthorized, "rate limit exceeded, retry after %.1fs", decision.RetryAfterSeconds)
}

func (c *Core) statsFor(toolName string) *tools.Stats {
	c.toolStatsMu.Lock()
	defer c.toolStatsMu.Unlock()
	st, ok := c.toolStats[toolName]
	if !ok {
		st = &tools.Stats{}
		c.toolStats[toolName] = st
	}
	return st
}

// forcesConfirmation reports whether the manifest's security scopes
// intersect the set the tools_require_confirmation option always forces:
// SystemModify, ReadWrite, ProcessSpawn (§6.6).
func forcesConfirmation(m tools.ToolManifest) bool {
	return m.HasScope(tools.ScopeSystemModify) || m.HasScope(tools.ScopeReadWrite) || m.HasScope(tools.ScopeProcessSpawn)
}

// blocksExecution decides sanitizer enforcement policy: Critical always
// blocks; High blocks unless the tool is Core-trusted; Medium blocks only
// for Untrusted tools. Low never blocks.
func blocksExecution(a security.Assessment, m tools.ToolManifest) bool {
	switch a.RiskLevel {
	case security.RiskCritical:
		return true
	case security.RiskHigh:
		return m.TrustLevel != tools.TrustCore
	case security.RiskMedium:
		return m.TrustLevel == tools.TrustUntrusted
	default:
		return false
	}
}

func paramsPreview(params map[string]any) string {
	var b []byte
	for k, v := range params {
		b = append(b, []byte(k)...)
		b = append(b, '=')
		b = append(b, []byte(stringify(v))...)
		b = append(b, ' ')
	}
	return string(b)
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
