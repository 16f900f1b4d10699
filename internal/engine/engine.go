// Package engine implements the Execution Engine (C6): classify, route, and
// invoke a backend adapter with automatic one-shot fallback on failure.
package engine

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kestrelai/router/internal/classifier"
	"github.com/kestrelai/router/internal/kerr"
	"github.com/kestrelai/router/internal/providers"
	"github.com/kestrelai/router/internal/registry"
	"github.com/kestrelai/router/internal/router"
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 2000
)

// Request bundles the parameters of an Execute/ExecuteParallel/ExecuteChain call.
type Request struct {
	Text        string
	System      string
	Temperature float64
	MaxTokens   int
	BackendPref *registry.BackendKind
	MaxCost     float64
}

func (r Request) normalized() Request {
	out := r
	if out.Temperature == 0 {
		out.Temperature = defaultTemperature
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = defaultMaxTokens
	}
	return out
}

// Result is the uniform outcome of a single Execute-family call.
type Result struct {
	Success        bool
	ResponseText   string
	ModelID        string
	ElapsedSeconds float64
	ErrorKind      kerr.Kind
	ErrorMessage   string
	FallbackUsed   bool
}

// Engine exclusively owns the Adapter Pool; the Router and Registry are
// shared, read-mostly collaborators.
type Engine struct {
	pool       *providers.Pool
	router     *router.Router
	registry   *registry.Registry
	classifier *classifier.Classifier

	stats *engineStats
}

// New wires an Engine from its collaborators.
func New(pool *providers.Pool, rtr *router.Router, reg *registry.Registry, cl *classifier.Classifier) *Engine {
	return &Engine{
		pool:       pool,
		router:     rtr,
		registry:   reg,
		classifier: cl,
		stats:      newEngineStats(),
	}
}

// Stats returns a snapshot of accumulated statistics.
func (e *Engine) Stats() Stats { return e.stats.snapshot() }

// Execute classifies req.Text, routes it, and invokes the chosen adapter
// with automatic one-shot fallback. Timing is wall-clock across all attempts.
func (e *Engine) Execute(ctx context.Context, req Request, strategy router.Strategy) Result {
	req = req.normalized()
	start := time.Now()
	e.stats.recordInvocation()

	classification := e.classifier.Classify(req.Text)
	descriptor := e.router.Route(router.Request{
		Classification: classification,
		Strategy:       strategy,
		BackendPref:    req.BackendPref,
		MaxCost:        req.MaxCost,
	})
	if descriptor == nil {
		return e.finish(Result{
			Success:        false,
			ErrorKind:      kerr.ModelUnavailable,
			ErrorMessage:   "no candidate descriptor satisfies the routing constraints",
			ElapsedSeconds: elapsedSince(start),
		}, "")
	}

	text, attemptErr := e.attempt(ctx, descriptor, req)
	if attemptErr == nil {
		return e.finish(Result{
			Success:        true,
			ResponseText:   text,
			ModelID:        descriptor.ID,
			ElapsedSeconds: elapsedSince(start),
		}, descriptor.ID)
	}

	if !kerr.KindOf(attemptErr).IsRetryable() {
		return e.finish(toResult(attemptErr, "", elapsedSince(start), false), descriptor.ID)
	}

	e.router.ReportFailure(descriptor.ID)
	fallback := e.router.Fallback(descriptor)
	if fallback == nil {
		return e.finish(toResult(attemptErr, "", elapsedSince(start), false), descriptor.ID)
	}

	text, fallbackErr := e.attempt(ctx, fallback, req)
	if fallbackErr == nil {
		return e.finish(Result{
			Success:        true,
			ResponseText:   text,
			ModelID:        fallback.ID,
			ElapsedSeconds: elapsedSince(start),
			FallbackUsed:   true,
		}, fallback.ID)
	}
	return e.finish(toResult(fallbackErr, fallback.ID, elapsedSince(start), true), fallback.ID)
}

// ExecuteParallel dispatches one goroutine per requested model id, collects
// every outcome, and returns them in the same order as modelIDs. A failure
// on one id never cancels the others.
func (e *Engine) ExecuteParallel(ctx context.Context, req Request, modelIDs []string) []Result {
	req = req.normalized()
	results := make([]Result, len(modelIDs))
	var wg sync.WaitGroup
	for i, id := range modelIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			start := time.Now()
			e.stats.recordInvocation()
			d := e.registry.Get(id)
			if d == nil {
				results[i] = e.finish(Result{
					Success:      false,
					ModelID:      id,
					ErrorKind:    kerr.ModelUnavailable,
					ErrorMessage: "unknown model id: " + id,
				}, id)
				return
			}
			text, err := e.attempt(ctx, d, req)
			if err != nil {
				results[i] = e.finish(toResult(err, id, elapsedSince(start), false), id)
				return
			}
			results[i] = e.finish(Result{
				Success:        true,
				ResponseText:   text,
				ModelID:        id,
				ElapsedSeconds: elapsedSince(start),
			}, id)
		}(i, id)
	}
	wg.Wait()
	e.stats.recordParallelInvocation()
	return results
}

// ExecuteChain tries ids in order and returns the first success; if none
// succeed, returns the last failure, with fallback_used=true when more than
// one id was given.
func (e *Engine) ExecuteChain(ctx context.Context, req Request, modelIDs []string) Result {
	req = req.normalized()
	start := time.Now()
	var last Result
	for i, id := range modelIDs {
		e.stats.recordInvocation()
		d := e.registry.Get(id)
		if d == nil {
			last = Result{
				Success:      false,
				ModelID:      id,
				ErrorKind:    kerr.ModelUnavailable,
				ErrorMessage: "unknown model id: " + id,
			}
			last = e.finish(last, id)
			continue
		}
		text, err := e.attempt(ctx, d, req)
		if err == nil {
			result := Result{
				Success:        true,
				ResponseText:   text,
				ModelID:        id,
				ElapsedSeconds: elapsedSince(start),
				FallbackUsed:   i > 0,
			}
			return e.finish(result, id)
		}
		last = e.finish(toResult(err, id, elapsedSince(start), i > 0), id)
	}
	last.FallbackUsed = len(modelIDs) > 1
	return last
}

// HealthCheck acquires every registered descriptor's adapter and records
// IsAvailable(); adapters that fail to initialize are reported as false
// without propagating the error.
func (e *Engine) HealthCheck(ctx context.Context) map[string]bool {
	out := make(map[string]bool)
	for _, d := range e.registry.All() {
		adapter, err := e.pool.Acquire(ctx, d)
		if err != nil {
			out[d.ID] = false
			continue
		}
		out[d.ID] = adapter.IsAvailable(ctx)
	}
	return out
}

// attempt acquires the adapter, probes availability, and invokes Generate.
// A non-2xx/legacy "Error:" sentinel prefix is classified as a Backend
// failure regardless of what the adapter itself returned as an error.
func (e *Engine) attempt(ctx context.Context, d *registry.Descriptor, req Request) (string, error) {
	adapter, err := e.pool.Acquire(ctx, d)
	if err != nil {
		return "", kerr.Wrap(kerr.ModelUnavailable, err)
	}
	if !adapter.IsAvailable(ctx) {
		return "", kerr.New(kerr.ModelUnavailable, "adapter reports unavailable: "+d.ID)
	}
	text, genErr := adapter.Generate(ctx, providers.GenerateRequest{
		Model:       d.ID,
		Prompt:      req.Text,
		System:      req.System,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if genErr != nil {
		return "", genErr
	}
	if strings.HasPrefix(text, "Error:") {
		return "", kerr.New(kerr.Backend, "legacy backend sentinel: "+text)
	}
	return text, nil
}

func (e *Engine) finish(r Result, modelID string) Result {
	e.stats.recordOutcome(modelID, r.Success, r.ElapsedSeconds, r.FallbackUsed)
	return r
}

func toResult(err error, modelID string, elapsed float64, fallbackUsed bool) Result {
	ke, ok := kerr.As(err)
	if !ok {
		ke = kerr.Wrap(kerr.Internal, err)
	}
	return Result{
		Success:        false,
		ModelID:        modelID,
		ElapsedSeconds: elapsed,
		ErrorKind:      ke.Kind,
		ErrorMessage:   ke.Message,
		FallbackUsed:   fallbackUsed,
	}
}

func elapsedSince(start time.Time) float64 {
	return time.Since(start).Seconds()
}
