package registry

import "sync"

// Registry is a read-mostly catalog of model descriptors, built once at
// startup. Readers take a shared lock; SetAvailable takes an exclusive one,
// so every filter/pick call observes a single consistent snapshot of the
// Available flag.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*Descriptor
	ordered []string // registration order, used to break lexicographic ties deterministically.
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{byID: make(map[string]*Descriptor)}
}

// Register adds a descriptor. Returns an error if the descriptor fails
// validation or its id is already registered.
func (r *Registry) Register(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[d.ID]; exists {
		return errInvalid("duplicate model id: " + d.ID)
	}
	cp := d
	if cp.Capabilities == nil {
		cp.Capabilities = map[Capability]struct{}{}
	}
	r.byID[d.ID] = &cp
	r.ordered = append(r.ordered, d.ID)
	return nil
}

// Get returns the descriptor for id, or nil if not registered.
func (r *Registry) Get(id string) *Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	if !ok {
		return nil
	}
	cp := *d
	return &cp
}

// All returns every registered descriptor in registration order.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.ordered))
	for _, id := range r.ordered {
		cp := *r.byID[id]
		out = append(out, &cp)
	}
	return out
}

// FilterByCapability returns all descriptors whose capability set contains cap.
func (r *Registry) FilterByCapability(cap Capability) []*Descriptor {
	return r.filter(func(d *Descriptor) bool { return d.HasCapability(cap) })
}

// FilterBySpeed returns all descriptors with the given speed class.
func (r *Registry) FilterBySpeed(class SpeedClass) []*Descriptor {
	return r.filter(func(d *Descriptor) bool { return d.SpeedClass == class })
}

// FilterByBackend returns all descriptors using the given backend kind.
func (r *Registry) FilterByBackend(kind BackendKind) []*Descriptor {
	return r.filter(func(d *Descriptor) bool { return d.BackendKind == kind })
}

func (r *Registry) filter(pred func(*Descriptor) bool) []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Descriptor
	for _, id := range r.ordered {
		d := r.byID[id]
		if pred(d) {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out
}

// PickFastest returns the available descriptor minimizing
// (speed_class_rank, -tokens_per_second), optionally restricted to cap,
// ties broken by id. Returns nil if there is no match.
func (r *Registry) PickFastest(cap *Capability) *Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Descriptor
	for _, id := range r.ordered {
		d := r.byID[id]
		if !d.Available {
			continue
		}
		if cap != nil && !d.HasCapability(*cap) {
			continue
		}
		if best == nil || lessFastest(d, best) {
			best = d
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}

func lessFastest(a, b *Descriptor) bool {
	ra, rb := speedClassRank(a.SpeedClass), speedClassRank(b.SpeedClass)
	if ra != rb {
		return ra < rb
	}
	// missing tokens_per_second sorts as 0, i.e. worst (largest) -tokens_per_second.
	if a.TokensPerSecond != b.TokensPerSecond {
		return -a.TokensPerSecond < -b.TokensPerSecond
	}
	return a.ID < b.ID
}

// PickBestQuality returns the available descriptor with cap in its
// capability set and cost <= costCap maximizing QualityFor(cap), ties
// broken by lower cost then id. Returns nil if there is no match.
func (r *Registry) PickBestQuality(cap Capability, costCap float64) *Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Descriptor
	for _, id := range r.ordered {
		d := r.byID[id]
		if !d.Available || !d.HasCapability(cap) || d.Cost > costCap {
			continue
		}
		if best == nil || lessBestQuality(d, best, cap) {
			best = d
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}

func lessBestQuality(a, b *Descriptor, cap Capability) bool {
	qa, qb := a.QualityFor(cap), b.QualityFor(cap)
	if qa != qb {
		return qa > qb
	}
	if a.Cost != b.Cost {
		return a.Cost < b.Cost
	}
	return a.ID < b.ID
}

// SetAvailable idempotently writes the Available flag for id. No-op if id is unknown.
func (r *Registry) SetAvailable(id string, available bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.byID[id]; ok {
		d.Available = available
	}
}
