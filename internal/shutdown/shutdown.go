// Package shutdown coordinates graceful drain: once shutdown begins the
// process refuses new runs and waits for in-flight sessions to finish.
package shutdown

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/HyphaGroup/herald/internal/logger"
)

// DefaultDrainTimeout bounds how long Drain waits for in-flight runs
const DefaultDrainTimeout = 120 * time.Second

// ErrDraining is returned when new work is refused during shutdown
var ErrDraining = errors.New("shutting down, not accepting new runs")

// Coordinator tracks in-flight runs and gates new work during drain
type Coordinator struct {
	mu       sync.Mutex
	draining bool
	inflight int
	idle     chan struct{} // closed when draining and inflight hits zero
}

// NewCoordinator creates a coordinator accepting work
func NewCoordinator() *Coordinator {
	return &Coordinator{idle: make(chan struct{})}
}

// BeginRun registers a new run. It fails once drain has started.
func (c *Coordinator) BeginRun() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draining {
		return ErrDraining
	}
	c.inflight++
	return nil
}

// EndRun marks a run finished. Every successful BeginRun must be paired
// with exactly one EndRun.
func (c *Coordinator) EndRun() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight > 0 {
		c.inflight--
	}
	if c.draining && c.inflight == 0 {
		c.closeIdleLocked()
	}
}

// Draining reports whether shutdown has begun
func (c *Coordinator) Draining() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draining
}

// InFlight returns the number of active runs
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight
}

// Drain stops accepting new runs and waits for in-flight runs to
// finish, bounded by the context. Calling it again returns immediately
// with the same wait semantics.
func (c *Coordinator) Drain(ctx context.Context) error {
	c.mu.Lock()
	if !c.draining {
		c.draining = true
		logger.Info("Drain started, %d runs in flight", c.inflight)
		if c.inflight == 0 {
			c.closeIdleLocked()
		}
	}
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		logger.Info("Drain complete")
		return nil
	case <-ctx.Done():
		logger.Error("Drain timed out with %d runs still in flight", c.InFlight())
		return ctx.Err()
	}
}

// closeIdleLocked closes the idle channel once. Callers hold c.mu.
func (c *Coordinator) closeIdleLocked() {
	select {
	case <-c.idle:
	default:
		close(c.idle)
	}
}
