package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBeginRunRefusedAfterDrain(t *testing.T) {
	c := NewCoordinator()
	if err := c.BeginRun(); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Drain(ctx) }()

	// Wait for the drain flag to flip
	for !c.Draining() {
		time.Sleep(time.Millisecond)
	}
	if err := c.BeginRun(); !errors.Is(err, ErrDraining) {
		t.Errorf("BeginRun during drain = %v, want ErrDraining", err)
	}

	c.EndRun()
	if err := <-done; err != nil {
		t.Errorf("Drain = %v after last run finished", err)
	}
}

func TestDrainImmediateWhenIdle(t *testing.T) {
	c := NewCoordinator()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Drain(ctx); err != nil {
		t.Errorf("Drain = %v with no runs", err)
	}
}

func TestDrainTimesOut(t *testing.T) {
	c := NewCoordinator()
	if err := c.BeginRun(); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Drain = %v, want deadline exceeded", err)
	}
	if c.InFlight() != 1 {
		t.Errorf("in flight = %d", c.InFlight())
	}
}

func TestDrainIdempotent(t *testing.T) {
	c := NewCoordinator()
	ctx := context.Background()
	if err := c.Drain(ctx); err != nil {
		t.Fatalf("first Drain: %v", err)
	}
	if err := c.Drain(ctx); err != nil {
		t.Errorf("second Drain: %v", err)
	}
}

func TestEndRunWithoutBeginIsSafe(t *testing.T) {
	c := NewCoordinator()
	c.EndRun()
	if c.InFlight() != 0 {
		t.Errorf("in flight = %d", c.InFlight())
	}
}
