package engine

import "sync"

// ModelStats holds per-model counters.
type ModelStats struct {
	Executions       int
	Successes        int
	Failures         int
	CumulativeElapsed float64
}

// AverageElapsed returns CumulativeElapsed / Executions, or 0 if none ran.
func (m ModelStats) AverageElapsed() float64 {
	if m.Executions == 0 {
		return 0
	}
	return m.CumulativeElapsed / float64(m.Executions)
}

// SuccessRate returns Successes / Executions, or 0 if none ran.
func (m ModelStats) SuccessRate() float64 {
	if m.Executions == 0 {
		return 0
	}
	return float64(m.Successes) / float64(m.Executions)
}

// Stats is an immutable snapshot of engine-wide and per-model statistics.
type Stats struct {
	Executions           int
	Successes            int
	Failures             int
	Fallbacks            int
	ParallelInvocations  int
	CumulativeElapsed    float64
	ByModel              map[string]ModelStats
}

// AverageElapsed returns CumulativeElapsed / Executions, or 0 if none ran.
func (s Stats) AverageElapsed() float64 {
	if s.Executions == 0 {
		return 0
	}
	return s.CumulativeElapsed / float64(s.Executions)
}

// SuccessRate returns Successes / Executions, or 0 if none ran.
func (s Stats) SuccessRate() float64 {
	if s.Executions == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Executions)
}

type engineStats struct {
	mu                  sync.Mutex
	executions          int
	successes           int
	failures            int
	fallbacks           int
	parallelInvocations int
	cumulativeElapsed   float64
	byModel             map[string]*ModelStats
}

func newEngineStats() *engineStats {
	return &engineStats{byModel: make(map[string]*ModelStats)}
}

func (s *engineStats) recordInvocation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions++
}

func (s *engineStats) recordParallelInvocation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parallelInvocations++
}

func (s *engineStats) recordOutcome(modelID string, success bool, elapsed float64, fallbackUsed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if success {
		s.successes++
	} else {
		s.failures++
	}
	if fallbackUsed {
		s.fallbacks++
	}
	s.cumulativeElapsed += elapsed

	if modelID == "" {
		return
	}
	m, ok := s.byModel[modelID]
	if !ok {
		m = &ModelStats{}
		s.byModel[modelID] = m
	}
	m.Executions++
	if success {
		m.Successes++
	} else {
		m.Failures++
	}
	m.CumulativeElapsed += elapsed
}

func (s *engineStats) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Stats{
		Executions:          s.executions,
		Successes:           s.successes,
		Failures:            s.failures,
		Fallbacks:           s.fallbacks,
		ParallelInvocations: s.parallelInvocations,
		CumulativeElapsed:   s.cumulativeElapsed,
		ByModel:             make(map[string]ModelStats, len(s.byModel)),
	}
	for k, v := range s.byModel {
		out.ByModel[k] = *v
	}
	return out
}
