package providers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kestrelai/router/internal/registry"
)

type fakeAdapter struct {
	initCalls  atomic.Int32
	closeCalls atomic.Int32
}

func (f *fakeAdapter) Generate(ctx context.Context, req GenerateRequest) (string, error) { return "ok", nil }
func (f *fakeAdapter) IsAvailable(ctx context.Context) bool                              { return true }
func (f *fakeAdapter) Initialize(ctx context.Context) error                              { f.initCalls.Add(1); return nil }
func (f *fakeAdapter) Close() error                                                      { f.closeCalls.Add(1); return nil }

func TestPoolAcquireBuildsOnceUnderConcurrency(t *testing.T) {
	var built atomic.Int32
	p := NewPool()
	p.RegisterFactory(registry.BackendInProcess, func(ctx context.Context, d *registry.Descriptor) (Adapter, error) {
		built.Add(1)
		return &fakeAdapter{}, nil
	})

	d := &registry.Descriptor{ID: "m1", BackendKind: registry.BackendInProcess}

	var wg sync.WaitGroup
	results := make([]Adapter, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := p.Acquire(context.Background(), d)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results[i] = a
		}(i)
	}
	wg.Wait()

	if built.Load() != 1 {
		t.Fatalf("expected factory invoked exactly once, got %d", built.Load())
	}
	first := results[0]
	for i, a := range results {
		if a != first {
			t.Fatalf("result %d: expected shared adapter instance", i)
		}
	}
	fa := first.(*fakeAdapter)
	if fa.initCalls.Load() != 1 {
		t.Fatalf("expected Initialize called once, got %d", fa.initCalls.Load())
	}
}

func TestPoolAcquireUnknownBackendKind(t *testing.T) {
	p := NewPool()
	d := &registry.Descriptor{ID: "m1", BackendKind: registry.BackendHTTPChat}
	if _, err := p.Acquire(context.Background(), d); err == nil {
		t.Fatal("expected error for unregistered backend kind")
	}
}

func TestPoolCloseTearsDownAllAdapters(t *testing.T) {
	p := NewPool()
	p.RegisterFactory(registry.BackendInProcess, func(ctx context.Context, d *registry.Descriptor) (Adapter, error) {
		return &fakeAdapter{}, nil
	})

	var adapters []*fakeAdapter
	for _, id := range []string{"a", "b", "c"} {
		a, err := p.Acquire(context.Background(), &registry.Descriptor{ID: id, BackendKind: registry.BackendInProcess})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		adapters = append(adapters, a.(*fakeAdapter))
	}

	if err := p.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, a := range adapters {
		if a.closeCalls.Load() != 1 {
			t.Fatalf("adapter %d: expected Close called once, got %d", i, a.closeCalls.Load())
		}
	}
	if p.Size() != 0 {
		t.Fatalf("expected empty pool after Close, got size %d", p.Size())
	}
}

func TestPoolEvictRemovesAndCloses(t *testing.T) {
	p := NewPool()
	p.RegisterFactory(registry.BackendInProcess, func(ctx context.Context, d *registry.Descriptor) (Adapter, error) {
		return &fakeAdapter{}, nil
	})
	d := &registry.Descriptor{ID: "m1", BackendKind: registry.BackendInProcess}
	a, err := p.Acquire(context.Background(), d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Evict("m1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.(*fakeAdapter).closeCalls.Load() != 1 {
		t.Fatal("expected evicted adapter to be closed")
	}
	if p.Size() != 0 {
		t.Fatalf("expected size 0 after evict, got %d", p.Size())
	}
	if err := p.Evict("missing"); err != nil {
		t.Fatalf("evicting unknown id should be a no-op, got %v", err)
	}
}
