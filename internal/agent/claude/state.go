// Package claude provides the Claude Code agent runner.
//
// state.go - Per-session stream state
//
// streamState is owned exclusively by one run's stream loop. The
// translator mutates it between stdout reads; nothing else touches it.

package claude

import (
	"time"

	"github.com/HyphaGroup/herald/internal/agent"
)

// autoDenial pairs a request id with its deny message
type autoDenial struct {
	requestID string
	message   string
}

// streamState is the mutable bag carried through one run
type streamState struct {
	// Actions announced but not yet completed, by tool_use_id
	pendingActions map[string]*agent.Action

	// Most recent long-form assistant text
	lastAssistantText string

	// Sequence for synthesized action ids (notes, warnings)
	noteSeq int

	// Control responses to flush after each stdout line
	autoApproveQueue []string
	autoDenyQueue    []autoDenial

	// Pending user-facing control requests, for timeout sweeps
	pendingControlRequests map[string]time.Time

	// Last tool_use_id seen, for linking permission warnings to results
	lastToolUseID string

	// tool_use_id -> warning action id resolved by the tool result
	controlActionForTool map[string]string

	// ExitPlanMode auto-approval when permission mode is "auto"
	autoApproveExitPlanMode bool

	// Whether this run resumed a prior session
	resumed bool

	// Session id once captured from the init event
	sessionID string

	// Outline-bypass tracking while the session is outline-pending
	outlineText             string
	maxTextLenSinceCooldown int
}

func newStreamState(resumed, autoApproveExitPlanMode bool) *streamState {
	return &streamState{
		pendingActions:          make(map[string]*agent.Action),
		pendingControlRequests:  make(map[string]time.Time),
		controlActionForTool:    make(map[string]string),
		resumed:                 resumed,
		autoApproveExitPlanMode: autoApproveExitPlanMode,
	}
}
