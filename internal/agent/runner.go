// Package agent provides the agent runner abstraction layer.
//
// runner.go - Runner interface definition
//
// This file contains:
// - Runner interface for one-shot or resumed agent executions
// - RunRequest with engine configuration
//
// A Runner spawns (or resumes) one agent CLI process per Run call and
// streams canonical events until the session terminates. The event
// channel is closed after the Completed event; cancelling the context
// terminates the subprocess.

package agent

import "context"

// PermissionMode controls how the agent negotiates tool permissions
type PermissionMode string

const (
	PermissionModeNone              PermissionMode = ""
	PermissionModePlan              PermissionMode = "plan"
	PermissionModeAuto              PermissionMode = "auto"
	PermissionModeAcceptEdits       PermissionMode = "acceptEdits"
	PermissionModeBypassPermissions PermissionMode = "bypassPermissions"
)

// RunRequest contains parameters for a single agent run
type RunRequest struct {
	// Required
	Prompt string

	// Session continuation; nil for a fresh session
	Resume *ResumeToken

	// Engine configuration
	PermissionMode PermissionMode
	AllowedTools   []string
	Model          string

	// Billing: when false the API key env var is stripped so the CLI
	// falls back to subscription auth
	UseAPIBilling bool

	// Working directory for the subprocess; empty means process cwd
	WorkingDir string
}

// Runner executes agent sessions for one engine
type Runner interface {
	// Engine returns the engine identifier (e.g. "claude")
	Engine() string

	// Run spawns or resumes a session and streams canonical events.
	// The returned channel is closed after the terminal Completed
	// event. Cancelling ctx terminates the subprocess; a Completed
	// event with status "cancelled" is still delivered.
	Run(ctx context.Context, req *RunRequest) (<-chan *Event, error)

	// FormatResume renders a token as the resume line appended to
	// final messages, e.g. "`claude --resume <id>`"
	FormatResume(token *ResumeToken) string

	// ExtractResume strips resume lines from incoming text. The last
	// matching line wins; all matching lines are removed. Returns a
	// nil token when no line matches.
	ExtractResume(text string) (*ResumeToken, string)
}
