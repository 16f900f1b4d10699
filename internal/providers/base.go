package providers

import (
	"context"
	"time"
)

// BaseAdapter holds shared bounded-retry configuration for backend adapters.
// This covers transient transport flakiness within a single Generate call;
// it is independent of the execution engine's one-shot fallback-to-another-model
// behavior (§4.6), which operates one layer up.
type BaseAdapter struct {
	name       string
	maxRetries int
	retryDelay time.Duration
}

// NewBaseAdapter creates a base adapter with sane defaults.
func NewBaseAdapter(name string, maxRetries int, retryDelay time.Duration) BaseAdapter {
	if maxRetries <= 0 {
		maxRetries = 2
	}
	if retryDelay <= 0 {
		retryDelay = 200 * time.Millisecond
	}
	return BaseAdapter{name: name, maxRetries: maxRetries, retryDelay: retryDelay}
}

// Name returns the adapter's backend name (e.g. "http_chat", "http_completion").
func (b *BaseAdapter) Name() string { return b.name }

// Retry runs op with linear backoff while isRetryable(err) holds.
func (b *BaseAdapter) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	if op == nil {
		return nil
	}
	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if isRetryable == nil || !isRetryable(err) {
			return err
		}
		if attempt >= b.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.retryDelay * time.Duration(attempt)):
		}
	}
	return lastErr
}
