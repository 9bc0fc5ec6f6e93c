package pin

import (
	"context"
	"sync"
)

// Counter tracks how many outstanding pieces of work are keeping the runtime
// alive. Every live operation pins the runtime at creation and unpins on
// completion; teardown waits for the count to drain to zero.
//
// Counter is safe for concurrent use.
type Counter struct {
	mu   sync.Mutex
	n    int
	idle chan struct{} // closed while n == 0
}

// NewCounter returns a counter starting at zero (idle).
func NewCounter() *Counter {
	idle := make(chan struct{})
	close(idle)
	return &Counter{idle: idle}
}

// Pin increments the count.
func (c *Counter) Pin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	if c.n == 1 {
		c.idle = make(chan struct{})
	}
}

// Unpin decrements the count. Unpinning below zero is a logic error and
// panics: it means a completion path ran twice or a pin was never taken.
func (c *Counter) Unpin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == 0 {
		panic("pin: unpin below zero")
	}
	c.n--
	if c.n == 0 {
		close(c.idle)
	}
}

// Count returns the current pin count.
func (c *Counter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Idle returns a channel that is closed while the count is zero. Each
// transition away from zero replaces the channel, so callers must re-call
// Idle after every wakeup they act on.
func (c *Counter) Idle() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idle
}

// Wait blocks until the count is observed at zero or ctx is done.
func (c *Counter) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.Idle():
		return nil
	}
}
