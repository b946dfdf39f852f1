package http

import (
	"context"
	"sync"
)

// InFlightTracker counts requests being served so shutdown can wait for them
// to drain. The zero value is ready to use.
type InFlightTracker struct {
	mu      sync.Mutex
	n       int64
	drained chan struct{} // closed while n == 0; nil means closed
}

// Begin marks a request as started. The returned func marks it finished and
// must be called exactly once.
func (t *InFlightTracker) Begin() (done func()) {
	t.mu.Lock()
	if t.n == 0 {
		t.drained = make(chan struct{})
	}
	t.n++
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			t.n--
			if t.n == 0 {
				close(t.drained)
			}
			t.mu.Unlock()
		})
	}
}

// Count returns the current in-flight count.
func (t *InFlightTracker) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

// WaitForZero blocks until no requests are in flight or ctx is done.
func (t *InFlightTracker) WaitForZero(ctx context.Context) error {
	t.mu.Lock()
	if t.n == 0 {
		t.mu.Unlock()
		return nil
	}
	ch := t.drained
	t.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// globalInFlightTracker is fed by MetricsMiddleware.
var globalInFlightTracker = &InFlightTracker{}

// InFlightCount returns the number of requests being served.
func InFlightCount() int64 {
	return globalInFlightTracker.Count()
}

// WaitForInFlight blocks until in-flight requests reach zero or ctx is done.
func WaitForInFlight(ctx context.Context) error {
	return globalInFlightTracker.WaitForZero(ctx)
}
