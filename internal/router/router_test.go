package router

import (
	"testing"
	"time"

	"github.com/kestrelai/router/internal/classifier"
	"github.com/kestrelai/router/internal/registry"
)

func mustRegister(t *testing.T, reg *registry.Registry, d registry.Descriptor) {
	t.Helper()
	if err := reg.Register(d); err != nil {
		t.Fatalf("register %s: %v", d.ID, err)
	}
}

func generalDescriptor(id string, speed registry.SpeedClass, tps int) registry.Descriptor {
	return registry.Descriptor{
		ID:              id,
		BackendKind:     registry.BackendInProcess,
		ModelPath:       "/models/" + id,
		PromptFormatTag: registry.FormatGenericTurn,
		Capabilities:    map[registry.Capability]struct{}{registry.CapGeneral: {}},
		SpeedClass:      speed,
		TokensPerSecond: tps,
		Available:       true,
		QualityGeneral:  0.5,
	}
}

// TestRouteAutoTrivialPicksUltraFast covers S1: trivial greeting routes to
// an UltraFast-speed-class descriptor under Auto.
func TestRouteAutoTrivialPicksUltraFast(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, generalDescriptor("slow-1", registry.SpeedSlow, 10))
	mustRegister(t, reg, generalDescriptor("ultra-1", registry.SpeedUltraFast, 5))

	r := New(reg, 0)
	got := r.Route(Request{
		Classification: classifier.TaskClassification{
			Complexity:           classifier.Trivial,
			Category:             classifier.CategoryGreeting,
			RequiredCapabilities: []registry.Capability{registry.CapGeneral},
		},
		Strategy: Auto,
	})
	if got == nil || got.SpeedClass != registry.SpeedUltraFast {
		t.Fatalf("expected an ultra-fast descriptor, got %+v", got)
	}
}

// TestRouteAutoCodeComplexRestrictsByQualityCode covers S2: a Code-category
// complex request routes to a Code-capable descriptor with quality_code >= 0.75
// maximizing quality_code.
func TestRouteAutoCodeComplexRestrictsByQualityCode(t *testing.T) {
	reg := registry.New()
	low := generalDescriptor("code-low", registry.SpeedFast, 20)
	low.Capabilities = map[registry.Capability]struct{}{registry.CapCode: {}, registry.CapGeneral: {}}
	low.QualityCode = 0.6
	high := generalDescriptor("code-high", registry.SpeedMedium, 10)
	high.Capabilities = map[registry.Capability]struct{}{registry.CapCode: {}, registry.CapGeneral: {}}
	high.QualityCode = 0.9
	mustRegister(t, reg, low)
	mustRegister(t, reg, high)

	r := New(reg, 0)
	got := r.Route(Request{
		Classification: classifier.TaskClassification{
			Complexity:           classifier.Complex,
			Category:             classifier.CategoryCode,
			RequiredCapabilities: []registry.Capability{registry.CapCode, registry.CapGeneral},
		},
		Strategy: Auto,
	})
	if got == nil || got.ID != "code-high" {
		t.Fatalf("expected code-high (quality_code=0.9 >= 0.75), got %+v", got)
	}
}

// TestFallbackSharesCapabilityAndExcludesFailed covers S3's routing half:
// given a failed descriptor, fallback picks a different, available,
// capability-sharing descriptor.
func TestFallbackSharesCapabilityAndExcludesFailed(t *testing.T) {
	reg := registry.New()
	a := generalDescriptor("A", registry.SpeedFast, 10)
	b := generalDescriptor("B", registry.SpeedFast, 10)
	b.QualityGeneral = 0.8
	mustRegister(t, reg, a)
	mustRegister(t, reg, b)

	r := New(reg, 0)
	failed := reg.Get("A")
	got := r.Fallback(failed)
	if got == nil || got.ID != "B" {
		t.Fatalf("expected fallback to B, got %+v", got)
	}
}

// TestRouteCostOptimizedAllUnavailableYieldsNil covers S4: when every
// candidate under max_cost is unavailable, Route returns nil (the caller
// maps this to ModelUnavailable).
func TestRouteCostOptimizedAllUnavailableYieldsNil(t *testing.T) {
	reg := registry.New()
	d := generalDescriptor("cheap", registry.SpeedFast, 10)
	d.Cost = 0.2
	d.Available = false
	mustRegister(t, reg, d)

	r := New(reg, 0)
	got := r.Route(Request{
		Classification: classifier.TaskClassification{
			Complexity:           classifier.Moderate,
			Category:             classifier.CategoryQuestion,
			RequiredCapabilities: []registry.Capability{registry.CapGeneral},
		},
		Strategy: CostOptimized,
		MaxCost:  0.3,
	})
	if got != nil {
		t.Fatalf("expected no candidate, got %+v", got)
	}
}

func TestRouteSpeedStrategyPicksFastest(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, generalDescriptor("slow", registry.SpeedSlow, 100))
	mustRegister(t, reg, generalDescriptor("fast", registry.SpeedFast, 10))

	r := New(reg, 0)
	got := r.Route(Request{
		Classification: classifier.TaskClassification{RequiredCapabilities: []registry.Capability{registry.CapGeneral}},
		Strategy:       Speed,
	})
	if got == nil || got.ID != "fast" {
		t.Fatalf("expected fast, got %+v", got)
	}
}

func TestRouteBalancedModeratePicksNearestToPoint45(t *testing.T) {
	reg := registry.New()
	near := generalDescriptor("near", registry.SpeedFast, 10)
	near.Cost = 0.44
	far := generalDescriptor("far", registry.SpeedFast, 10)
	far.Cost = 0.58
	mustRegister(t, reg, near)
	mustRegister(t, reg, far)

	r := New(reg, 0)
	got := r.Route(Request{
		Classification: classifier.TaskClassification{
			Complexity:           classifier.Moderate,
			RequiredCapabilities: []registry.Capability{registry.CapGeneral},
		},
		Strategy: Balanced,
	})
	if got == nil || got.ID != "near" {
		t.Fatalf("expected near (closest to 0.45), got %+v", got)
	}
}

func TestReportFailurePlacesDescriptorInCooldown(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, generalDescriptor("a", registry.SpeedFast, 10))
	mustRegister(t, reg, generalDescriptor("b", registry.SpeedFast, 10))

	r := New(reg, time.Minute)
	r.ReportFailure("a")

	got := r.Route(Request{
		Classification: classifier.TaskClassification{RequiredCapabilities: []registry.Capability{registry.CapGeneral}},
		Strategy:       Speed,
	})
	if got == nil || got.ID != "b" {
		t.Fatalf("expected b (a in cooldown), got %+v", got)
	}
}

func TestRouterStatsTrackTotalsAndFallbacks(t *testing.T) {
	reg := registry.New()
	mustRegister(t, reg, generalDescriptor("a", registry.SpeedFast, 10))

	r := New(reg, 0)
	r.Route(Request{
		Classification: classifier.TaskClassification{Complexity: classifier.Trivial, RequiredCapabilities: []registry.Capability{registry.CapGeneral}},
		Strategy:       Speed,
	})
	r.Fallback(reg.Get("a"))

	stats := r.Stats()
	if stats.TotalRoutings != 1 {
		t.Fatalf("expected 1 total routing, got %d", stats.TotalRoutings)
	}
	if stats.ByComplexity[classifier.Trivial] != 1 {
		t.Fatalf("expected 1 trivial routing, got %d", stats.ByComplexity[classifier.Trivial])
	}
	if stats.FallbackInvokes != 1 {
		t.Fatalf("expected 1 fallback invocation, got %d", stats.FallbackInvokes)
	}
}
