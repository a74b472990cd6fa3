// Package agent provides the agent runner abstraction layer.
//
// factory.go - Engine registry and binary detection
//
// This file contains:
// - Factory for looking up registered runners by engine id
// - Binary availability detection for engine selection

package agent

import (
	"fmt"
	"os/exec"
	"sort"
	"sync"
)

// Factory holds the registered runners and resolves engine selection
type Factory struct {
	runners       map[string]Runner
	defaultEngine string
	mu            sync.RWMutex
}

// NewFactory creates a factory with the given default engine
func NewFactory(defaultEngine string) *Factory {
	return &Factory{
		runners:       make(map[string]Runner),
		defaultEngine: defaultEngine,
	}
}

// Register adds a runner. The last registration for an engine wins.
func (f *Factory) Register(r Runner) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runners[r.Engine()] = r
}

// Get returns the runner for an engine id
func (f *Factory) Get(engine string) (Runner, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	r, ok := f.runners[engine]
	if !ok {
		return nil, fmt.Errorf("unknown engine %q", engine)
	}
	return r, nil
}

// Default returns the runner for the configured default engine
func (f *Factory) Default() (Runner, error) {
	f.mu.RLock()
	engine := f.defaultEngine
	f.mu.RUnlock()
	if engine == "" {
		return nil, fmt.Errorf("no default engine configured")
	}
	return f.Get(engine)
}

// DefaultEngine returns the configured default engine id
func (f *Factory) DefaultEngine() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.defaultEngine
}

// Engines lists registered engine ids in sorted order
func (f *Factory) Engines() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	engines := make([]string, 0, len(f.runners))
	for id := range f.runners {
		engines = append(engines, id)
	}
	sort.Strings(engines)
	return engines
}

// BinaryAvailable reports whether an engine CLI is on PATH
func BinaryAvailable(binary string) bool {
	_, err := exec.LookPath(binary)
	return err == nil
}
