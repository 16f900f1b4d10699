// Package router implements the Router (C5): selects a model descriptor
// given a classification, strategy, and optional constraints, and supplies
// fallback candidates for the execution engine.
package router

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kestrelai/router/internal/classifier"
	"github.com/kestrelai/router/internal/registry"
)

// Strategy selects the candidate-ranking policy.
type Strategy string

const (
	Auto          Strategy = "auto"
	Speed         Strategy = "speed"
	Quality       Strategy = "quality"
	Balanced      Strategy = "balanced"
	CostOptimized Strategy = "cost_optimized"
)

// Request bundles the router's inputs.
type Request struct {
	Classification classifier.TaskClassification
	Strategy       Strategy
	BackendPref    *registry.BackendKind
	MaxCost        float64 // 0 means no cap; callers that want an explicit cap of 0 must use a tiny epsilon.
}

// Stats tracks router-observed totals (§4.5).
type Stats struct {
	mu              sync.Mutex
	TotalRoutings   int
	ByComplexity    map[classifier.Complexity]int
	ByChosenID      map[string]int
	FallbackInvokes int
}

func newStats() *Stats {
	return &Stats{
		ByComplexity: make(map[classifier.Complexity]int),
		ByChosenID:   make(map[string]int),
	}
}

func (s *Stats) recordRouting(c classifier.Complexity, chosenID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalRoutings++
	s.ByComplexity[c]++
	if chosenID != "" {
		s.ByChosenID[chosenID]++
	}
}

func (s *Stats) recordFallback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FallbackInvokes++
}

// Snapshot returns a copy of the current stats safe to read without racing future writes.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Stats{
		TotalRoutings:   s.TotalRoutings,
		ByComplexity:    make(map[classifier.Complexity]int, len(s.ByComplexity)),
		ByChosenID:      make(map[string]int, len(s.ByChosenID)),
		FallbackInvokes: s.FallbackInvokes,
	}
	for k, v := range s.ByComplexity {
		out.ByComplexity[k] = v
	}
	for k, v := range s.ByChosenID {
		out.ByChosenID[k] = v
	}
	return out
}

// Router reads the Model Registry exclusively and never mutates it.
type Router struct {
	registry *registry.Registry
	stats    *Stats

	cooldownMu sync.Mutex
	cooldown   map[string]time.Time // model id -> time the cooldown expires
	cooldownFor time.Duration
}

// New builds a Router over reg. cooldownFor is the duration a descriptor is
// excluded from candidate filtering after ReportFailure; 0 disables cooldown.
func New(reg *registry.Registry, cooldownFor time.Duration) *Router {
	return &Router{
		registry:    reg,
		stats:       newStats(),
		cooldown:    make(map[string]time.Time),
		cooldownFor: cooldownFor,
	}
}

// Stats returns a snapshot of routing statistics.
func (r *Router) Stats() Stats { return r.stats.Snapshot() }

// ReportFailure places id into a transient cooldown window, excluding it
// from candidate filtering until the cooldown elapses; registry.SetAvailable
// does not clear it. This is layered on top of, not a replacement for, the
// registry's own available flag.
func (r *Router) ReportFailure(id string) {
	if r.cooldownFor <= 0 {
		return
	}
	r.cooldownMu.Lock()
	r.cooldown[id] = time.Now().Add(r.cooldownFor)
	r.cooldownMu.Unlock()
}

func (r *Router) inCooldown(id string) bool {
	if r.cooldownFor <= 0 {
		return false
	}
	r.cooldownMu.Lock()
	defer r.cooldownMu.Unlock()
	until, ok := r.cooldown[id]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(r.cooldown, id)
		return false
	}
	return true
}

// candidates returns every available, non-cooldown descriptor satisfying
// the backend preference and max cost cap (§4.5 common preconditions).
func (r *Router) candidates(req Request) []*registry.Descriptor {
	var out []*registry.Descriptor
	for _, d := range r.registry.All() {
		if !d.Available || r.inCooldown(d.ID) {
			continue
		}
		if req.BackendPref != nil && d.BackendKind != *req.BackendPref {
			continue
		}
		if req.MaxCost > 0 && d.Cost > req.MaxCost {
			continue
		}
		out = append(out, d)
	}
	return out
}

func withCapability(in []*registry.Descriptor, cap registry.Capability) []*registry.Descriptor {
	var out []*registry.Descriptor
	for _, d := range in {
		if d.HasCapability(cap) {
			out = append(out, d)
		}
	}
	return out
}

func primaryCapability(c classifier.TaskClassification) registry.Capability {
	if len(c.RequiredCapabilities) == 0 {
		return registry.CapGeneral
	}
	return c.RequiredCapabilities[0]
}

// Route selects a descriptor for req, or nil if no candidate qualifies.
func (r *Router) Route(req Request) *registry.Descriptor {
	cands := r.candidates(req)
	chosen := r.route(req, cands)
	var chosenID string
	if chosen != nil {
		chosenID = chosen.ID
	}
	r.stats.recordRouting(req.Classification.Complexity, chosenID)
	return chosen
}

func (r *Router) route(req Request, cands []*registry.Descriptor) *registry.Descriptor {
	switch req.Strategy {
	case Speed:
		return pickFastestAmong(cands, primaryCapability(req.Classification))
	case Quality:
		return pickBestQualityAmong(cands, primaryCapability(req.Classification), req.MaxCost)
	case CostOptimized:
		return pickCostOptimized(cands, primaryCapability(req.Classification))
	case Balanced:
		return r.routeBalanced(req, cands)
	case Auto, "":
		return r.routeAuto(req, cands)
	default:
		return r.routeAuto(req, cands)
	}
}

func (r *Router) routeBalanced(req Request, cands []*registry.Descriptor) *registry.Descriptor {
	cap := primaryCapability(req.Classification)
	switch req.Classification.Complexity {
	case classifier.Trivial, classifier.Simple:
		return pickFastestAmong(cands, cap)
	case classifier.Complex, classifier.VeryComplex:
		return pickBestQualityAmong(cands, cap, req.MaxCost)
	default: // Moderate
		var mid []*registry.Descriptor
		for _, d := range cands {
			if d.Cost >= 0.3 && d.Cost <= 0.6 {
				mid = append(mid, d)
			}
		}
		if len(mid) == 0 {
			return pickFastestAmong(cands, cap)
		}
		sort.Slice(mid, func(i, j int) bool {
			di, dj := math.Abs(mid[i].Cost-0.45), math.Abs(mid[j].Cost-0.45)
			if di != dj {
				return di < dj
			}
			return mid[i].ID < mid[j].ID
		})
		return mid[0]
	}
}

func (r *Router) routeAuto(req Request, cands []*registry.Descriptor) *registry.Descriptor {
	c := req.Classification
	switch {
	case c.Complexity == classifier.Trivial:
		return firstAvailableBySpeed(cands, registry.SpeedUltraFast)
	case c.Complexity == classifier.Simple:
		return firstAvailableBySpeed(cands, registry.SpeedFast)
	case c.Category == classifier.CategoryCode:
		codeCands := withCapability(cands, registry.CapCode)
		if c.Complexity == classifier.Complex || c.Complexity == classifier.VeryComplex {
			var restricted []*registry.Descriptor
			for _, d := range codeCands {
				if d.QualityCode >= 0.75 {
					restricted = append(restricted, d)
				}
			}
			codeCands = restricted
		}
		return maxByQualityCode(codeCands)
	case c.Complexity == classifier.Complex || c.Complexity == classifier.VeryComplex:
		return pickBestQualityAmong(cands, primaryCapability(c), req.MaxCost)
	default:
		return r.routeBalanced(req, cands)
	}
}

func firstAvailableBySpeed(cands []*registry.Descriptor, speed registry.SpeedClass) *registry.Descriptor {
	sorted := make([]*registry.Descriptor, len(cands))
	copy(sorted, cands)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for _, d := range sorted {
		if d.SpeedClass == speed {
			return d
		}
	}
	return nil
}

func maxByQualityCode(cands []*registry.Descriptor) *registry.Descriptor {
	if len(cands) == 0 {
		return nil
	}
	best := cands[0]
	for _, d := range cands[1:] {
		if d.QualityCode > best.QualityCode || (d.QualityCode == best.QualityCode && d.ID < best.ID) {
			best = d
		}
	}
	return best
}

func pickFastestAmong(cands []*registry.Descriptor, cap registry.Capability) *registry.Descriptor {
	filtered := withCapability(cands, cap)
	if len(filtered) == 0 {
		return nil
	}
	best := filtered[0]
	for _, d := range filtered[1:] {
		if lessFastest(d, best) {
			best = d
		}
	}
	return best
}

func lessFastest(a, b *registry.Descriptor) bool {
	ra, rb := speedRank(a.SpeedClass), speedRank(b.SpeedClass)
	if ra != rb {
		return ra < rb
	}
	if a.TokensPerSecond != b.TokensPerSecond {
		return a.TokensPerSecond > b.TokensPerSecond
	}
	return a.ID < b.ID
}

var speedRankTable = map[registry.SpeedClass]int{
	registry.SpeedUltraFast: 0,
	registry.SpeedFast:      1,
	registry.SpeedMedium:    2,
	registry.SpeedSlow:      3,
	registry.SpeedVerySlow:  4,
}

func speedRank(s registry.SpeedClass) int {
	if r, ok := speedRankTable[s]; ok {
		return r
	}
	return len(speedRankTable)
}

func pickBestQualityAmong(cands []*registry.Descriptor, cap registry.Capability, costCap float64) *registry.Descriptor {
	var filtered []*registry.Descriptor
	for _, d := range cands {
		if !d.HasCapability(cap) {
			continue
		}
		if costCap > 0 && d.Cost > costCap {
			continue
		}
		filtered = append(filtered, d)
	}
	if len(filtered) == 0 {
		return nil
	}
	best := filtered[0]
	for _, d := range filtered[1:] {
		if lessBestQuality(d, best, cap) {
			best = d
		}
	}
	return best
}

func lessBestQuality(a, b *registry.Descriptor, cap registry.Capability) bool {
	qa, qb := a.QualityFor(cap), b.QualityFor(cap)
	if qa != qb {
		return qa > qb
	}
	if a.Cost != b.Cost {
		return a.Cost < b.Cost
	}
	return a.ID < b.ID
}

func pickCostOptimized(cands []*registry.Descriptor, cap registry.Capability) *registry.Descriptor {
	filtered := withCapability(cands, cap)
	if len(filtered) == 0 {
		return nil
	}
	best := filtered[0]
	for _, d := range filtered[1:] {
		switch {
		case d.Cost != best.Cost:
			if d.Cost < best.Cost {
				best = d
			}
		case d.QualityFor(cap) != best.QualityFor(cap):
			if d.QualityFor(cap) > best.QualityFor(cap) {
				best = d
			}
		case d.ID < best.ID:
			best = d
		}
	}
	return best
}

// Fallback returns the best descriptor sharing any capability with failed,
// available, not the same id, preferring the same backend kind, sorted by
// quality_general descending (§4.5 "Fallback candidate").
func (r *Router) Fallback(failed *registry.Descriptor) *registry.Descriptor {
	r.stats.recordFallback()
	if failed == nil {
		return nil
	}
	var candidates []*registry.Descriptor
	for _, d := range r.registry.All() {
		if d.ID == failed.ID || !d.Available || r.inCooldown(d.ID) {
			continue
		}
		if !sharesCapability(d, failed) {
			continue
		}
		candidates = append(candidates, d)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		pi := candidates[i].BackendKind == failed.BackendKind
		pj := candidates[j].BackendKind == failed.BackendKind
		if pi != pj {
			return pi
		}
		if candidates[i].QualityGeneral != candidates[j].QualityGeneral {
			return candidates[i].QualityGeneral > candidates[j].QualityGeneral
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0]
}

func sharesCapability(a, b *registry.Descriptor) bool {
	for cap := range a.Capabilities {
		if b.HasCapability(cap) {
			return true
		}
	}
	return false
}
