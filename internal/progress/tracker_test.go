package progress

import (
	"fmt"
	"testing"

	"github.com/HyphaGroup/herald/internal/agent"
)

func actionEvent(id string, kind agent.ActionKind, phase agent.Phase, ok *bool) *agent.Event {
	return agent.NewActionEvent(&agent.Action{ID: id, Kind: kind, Title: id}, phase, ok)
}

func TestTrackerOrdering(t *testing.T) {
	tr := NewTracker()
	tr.Apply(agent.NewStartedEvent("claude", "claude-opus", &agent.ResumeToken{Engine: "claude", Value: "s1"}, nil))
	tr.Apply(actionEvent("a", agent.ActionCommand, agent.PhaseStarted, nil))
	tr.Apply(actionEvent("b", agent.ActionTool, agent.PhaseStarted, nil))
	tr.Apply(actionEvent("a", agent.ActionCommand, agent.PhaseCompleted, agent.BoolPtr(true)))

	snap := tr.Snapshot()
	if snap.Engine != "claude" || snap.Title != "claude-opus" {
		t.Errorf("header = %q %q", snap.Engine, snap.Title)
	}
	if snap.ActionCount != 2 {
		t.Errorf("action count = %d, want 2", snap.ActionCount)
	}
	// Completion updates in place; first-seen order is preserved
	if snap.Actions[0].Action.ID != "a" || snap.Actions[1].Action.ID != "b" {
		t.Errorf("order = %v %v", snap.Actions[0].Action.ID, snap.Actions[1].Action.ID)
	}
	if snap.Actions[0].Phase != agent.PhaseCompleted {
		t.Errorf("action a phase = %v", snap.Actions[0].Phase)
	}
}

func TestTrackerIgnoresTurns(t *testing.T) {
	tr := NewTracker()
	tr.Apply(actionEvent("t", agent.ActionTurn, agent.PhaseStarted, nil))

	snap := tr.Snapshot()
	if snap.ActionCount != 0 {
		t.Errorf("turn actions must be ignored, count = %d", snap.ActionCount)
	}
}

func TestTrackerCompleted(t *testing.T) {
	tr := NewTracker()
	evt := agent.NewCompletedEvent(true, "the answer", &agent.ResumeToken{Engine: "claude", Value: "s1"})
	evt.Usage = map[string]interface{}{"num_turns": 2}
	tr.Apply(evt)

	snap := tr.Snapshot()
	if !snap.Finished || !snap.OK {
		t.Errorf("finished = %v ok = %v", snap.Finished, snap.OK)
	}
	if snap.Answer != "the answer" {
		t.Errorf("answer = %q", snap.Answer)
	}
	if snap.Resume == nil || snap.Resume.Value != "s1" {
		t.Errorf("resume = %v", snap.Resume)
	}
}

func TestLastActionsBounds(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 60; i++ {
		tr.Apply(actionEvent(fmt.Sprintf("a%d", i), agent.ActionTool, agent.PhaseStarted, nil))
	}
	snap := tr.Snapshot()

	// Default view is the last 5
	view := snap.LastActions(0)
	if len(view) != DefaultMaxActions {
		t.Errorf("default view = %d, want %d", len(view), DefaultMaxActions)
	}
	if view[len(view)-1].Action.ID != "a59" {
		t.Errorf("last action = %q", view[len(view)-1].Action.ID)
	}

	// Requests beyond the hard cap are clamped
	view = snap.LastActions(200)
	if len(view) != HardMaxActions {
		t.Errorf("capped view = %d, want %d", len(view), HardMaxActions)
	}

	// Fewer actions than requested returns all of them
	small := NewTracker()
	small.Apply(actionEvent("x", agent.ActionTool, agent.PhaseStarted, nil))
	if got := small.Snapshot().LastActions(10); len(got) != 1 {
		t.Errorf("small view = %d, want 1", len(got))
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker()
	tr.Apply(actionEvent("a", agent.ActionTool, agent.PhaseStarted, nil))
	snap := tr.Snapshot()

	tr.Apply(actionEvent("b", agent.ActionTool, agent.PhaseStarted, nil))
	if len(snap.Actions) != 1 {
		t.Error("snapshot mutated by later Apply")
	}
}
