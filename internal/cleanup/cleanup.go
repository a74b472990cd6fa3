// Package cleanup provides background maintenance for herald's
// in-memory session registries.
package cleanup

import (
	"context"
	"sync"
	"time"

	"github.com/HyphaGroup/herald/internal/logger"
)

// Job is a named maintenance task run on every tick. It returns how
// many items it removed.
type Job struct {
	Name string
	Run  func() int
}

// Cleaner runs registered maintenance jobs on a fixed interval.
type Cleaner struct {
	interval time.Duration
	jobs     []Job
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Config holds cleanup configuration.
type Config struct {
	Interval time.Duration // How often to run maintenance
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Minute}
}

// New creates a new Cleaner with the given configuration.
func New(cfg Config) *Cleaner {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Cleaner{interval: cfg.Interval}
}

// Register adds a maintenance job. Must be called before Start.
func (c *Cleaner) Register(name string, run func() int) {
	c.jobs = append(c.jobs, Job{Name: name, Run: run})
}

// Start begins the periodic maintenance loop.
func (c *Cleaner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.runJobs()
			}
		}
	}()

	logger.Info("Cleanup started (interval=%v, jobs=%d)", c.interval, len(c.jobs))
}

// Stop halts the maintenance loop.
func (c *Cleaner) Stop() {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
		logger.Info("Cleanup stopped")
	}
}

// runJobs executes every registered job once.
func (c *Cleaner) runJobs() {
	for _, job := range c.jobs {
		if removed := job.Run(); removed > 0 {
			logger.Info("Cleanup job %s removed %d entries", job.Name, removed)
		}
	}
}
