// Package progress accumulates canonical events into renderable state.
//
// tracker.go - Per-session activity snapshot
//
// This file contains:
// - ActionState and Snapshot types
// - Tracker applying canonical events in order
// - The bounded last-N action view for presentation
//
// Inserts preserve first-seen order; an update to a known action id
// replaces its record in place. Actions of kind "turn" are bookkeeping
// noise and are ignored entirely.

package progress

import (
	"sync"
	"time"

	"github.com/HyphaGroup/herald/internal/agent"
)

const (
	// DefaultMaxActions is how many recent actions are shown
	DefaultMaxActions = 5
	// HardMaxActions caps the configurable view size
	HardMaxActions = 50
)

// ActionState is one action's lifecycle as observed so far
type ActionState struct {
	Action     *agent.Action
	Phase      agent.Phase
	OK         *bool
	FirstSeen  time.Time
	LastUpdate time.Time
}

// Snapshot is the renderable state of one session
type Snapshot struct {
	Engine      string
	Title       string
	Meta        map[string]interface{}
	Resume      *agent.ResumeToken
	Actions     []*ActionState
	ActionCount int

	// Terminal state, set by the Completed event
	Finished bool
	OK       bool
	Answer   string
	Error    string
	Status   string
	Usage    map[string]interface{}
}

// Tracker folds a session's event stream into a snapshot
type Tracker struct {
	mu    sync.Mutex
	snap  Snapshot
	index map[string]*ActionState
	now   func() time.Time
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{
		index: make(map[string]*ActionState),
		now:   time.Now,
	}
}

// Apply folds one canonical event into the snapshot
func (t *Tracker) Apply(evt *agent.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch evt.Type {
	case agent.EventStarted:
		t.snap.Engine = evt.Engine
		t.snap.Title = evt.Title
		t.snap.Meta = evt.Meta
		t.snap.Resume = evt.Resume

	case agent.EventAction:
		if evt.Action == nil || evt.Action.Kind == agent.ActionTurn {
			return
		}
		existing, ok := t.index[evt.Action.ID]
		if ok {
			existing.Action = evt.Action
			existing.Phase = evt.Phase
			existing.OK = evt.OK
			existing.LastUpdate = t.now()
			return
		}
		state := &ActionState{
			Action:     evt.Action,
			Phase:      evt.Phase,
			OK:         evt.OK,
			FirstSeen:  t.now(),
			LastUpdate: t.now(),
		}
		t.index[evt.Action.ID] = state
		t.snap.Actions = append(t.snap.Actions, state)
		t.snap.ActionCount++

	case agent.EventCompleted:
		t.snap.Finished = true
		t.snap.OK = evt.Done
		t.snap.Answer = evt.Answer
		t.snap.Error = evt.Error
		t.snap.Status = evt.Status
		t.snap.Usage = evt.Usage
		if evt.Resume != nil {
			t.snap.Resume = evt.Resume
		}
	}
}

// Snapshot returns a copy safe to render concurrently with Apply
func (t *Tracker) Snapshot() *Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.snap
	out.Actions = make([]*ActionState, len(t.snap.Actions))
	copy(out.Actions, t.snap.Actions)
	return &out
}

// LastActions returns the most recent n actions in first-seen order.
// n <= 0 uses the default; the hard cap always applies.
func (s *Snapshot) LastActions(n int) []*ActionState {
	if n <= 0 {
		n = DefaultMaxActions
	}
	if n > HardMaxActions {
		n = HardMaxActions
	}
	if len(s.Actions) <= n {
		return s.Actions
	}
	return s.Actions[len(s.Actions)-n:]
}
