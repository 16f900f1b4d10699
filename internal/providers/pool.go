package providers

import (
	"context"
	"sync"

	"github.com/kestrelai/router/internal/kerr"
	"github.com/kestrelai/router/internal/registry"
)

// Factory builds a concrete Adapter for a descriptor. One factory is
// registered per registry.BackendKind; Pool dispatches to the matching one.
type Factory func(ctx context.Context, d *registry.Descriptor) (Adapter, error)

// Pool is the Adapter Pool (C3): a per-model-id cache of initialized
// adapters, built lazily on first Acquire and serialized so concurrent
// callers racing for the same model id share one construction instead of
// initializing the backend twice.
type Pool struct {
	mu        sync.RWMutex
	adapters  map[string]Adapter
	factories map[registry.BackendKind]Factory
	building  sfGroup[string, Adapter]
}

// NewPool creates an empty pool. Register factories with RegisterFactory
// before the first Acquire.
func NewPool() *Pool {
	return &Pool{
		adapters:  make(map[string]Adapter),
		factories: make(map[registry.BackendKind]Factory),
	}
}

// RegisterFactory binds a backend kind to the constructor used to build its
// adapters. Not safe to call concurrently with Acquire.
func (p *Pool) RegisterFactory(kind registry.BackendKind, f Factory) {
	p.factories[kind] = f
}

// Acquire returns the initialized adapter for d.ID, building and
// Initialize-ing it on first use. Concurrent Acquire calls for the same id
// block on the single in-flight construction rather than racing.
func (p *Pool) Acquire(ctx context.Context, d *registry.Descriptor) (Adapter, error) {
	if d == nil {
		return nil, kerr.New(kerr.Internal, "pool: nil descriptor")
	}

	p.mu.RLock()
	if a, ok := p.adapters[d.ID]; ok {
		p.mu.RUnlock()
		return a, nil
	}
	p.mu.RUnlock()

	adapter, err := p.building.Do(d.ID, func() (Adapter, error) {
		p.mu.RLock()
		if a, ok := p.adapters[d.ID]; ok {
			p.mu.RUnlock()
			return a, nil
		}
		p.mu.RUnlock()

		factory, ok := p.factories[d.BackendKind]
		if !ok {
			return nil, kerr.Newf(kerr.Internal, "pool: no factory registered for backend kind %q", d.BackendKind)
		}
		a, err := factory(ctx, d)
		if err != nil {
			return nil, kerr.Wrap(kerr.Internal, err)
		}
		if err := a.Initialize(ctx); err != nil {
			return nil, kerr.Wrap(kerr.Internal, err)
		}

		p.mu.Lock()
		p.adapters[d.ID] = a
		p.mu.Unlock()
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	return adapter, nil
}

// Evict removes a cached adapter (e.g. after a descriptor's backend
// address changes) and closes it. Safe to call even if nothing is cached.
func (p *Pool) Evict(id string) error {
	p.mu.Lock()
	a, ok := p.adapters[id]
	if ok {
		delete(p.adapters, id)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return a.Close()
}

// Close tears down every cached adapter concurrently and returns the first
// error encountered, if any.
func (p *Pool) Close() error {
	p.mu.Lock()
	adapters := make([]Adapter, 0, len(p.adapters))
	for _, a := range p.adapters {
		adapters = append(adapters, a)
	}
	p.adapters = make(map[string]Adapter)
	p.mu.Unlock()

	errs := make([]error, len(adapters))
	var wg sync.WaitGroup
	for i, a := range adapters {
		wg.Add(1)
		go func(i int, a Adapter) {
			defer wg.Done()
			errs[i] = a.Close()
		}(i, a)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Size returns the number of currently cached adapters.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.adapters)
}
