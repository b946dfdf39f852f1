// Package lifecycle tracks process shutdown and releases owned resources in
// reverse order of acquisition.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var shuttingDown atomic.Bool

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true.
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// Closers is a stack of named release functions. The zero value is ready to use.
type Closers struct {
	mu    sync.Mutex
	items []closer
}

// Add registers fn to run on Close.
func (c *Closers) Add(name string, fn func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, closer{name: name, fn: fn})
}

// AddFunc registers a context-free close function such as io.Closer.Close.
func (c *Closers) AddFunc(name string, fn func() error) {
	c.Add(name, func(context.Context) error { return fn() })
}

// Close runs every registered function, last added first, and empties the
// stack. Every function runs even when an earlier one fails; failures are
// logged and returned joined.
func (c *Closers) Close(ctx context.Context, logger *zap.Logger) error {
	c.mu.Lock()
	items := c.items
	c.items = nil
	c.mu.Unlock()
	if logger == nil {
		logger = zap.NewNop()
	}

	var errs []error
	for i := len(items) - 1; i >= 0; i-- {
		if err := items[i].fn(ctx); err != nil {
			logger.Error("close failed", zap.String("resource", items[i].name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", items[i].name, err))
			continue
		}
		logger.Debug("closed", zap.String("resource", items[i].name))
	}
	return errors.Join(errs...)
}
