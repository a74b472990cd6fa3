// Package schedule runs cron-timed prompts into chats.
//
// types.go - Schedule and execution types

package schedule

import (
	"time"
)

// OverlapBehavior defines what to do if a previous run is still active
type OverlapBehavior string

const (
	OverlapSkip     OverlapBehavior = "skip"     // Don't start if previous still running
	OverlapParallel OverlapBehavior = "parallel" // Allow concurrent execution
)

// SessionBehavior defines how to handle session continuation
type SessionBehavior string

const (
	SessionResume SessionBehavior = "resume" // Resume the chat's stored session (default)
	SessionNew    SessionBehavior = "new"    // Always start a fresh session
)

// Schedule is a cron-timed prompt dispatched into one chat
type Schedule struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	CronExpr        string          `json:"cron_expr"` // Standard 5-field cron expression
	Prompt          string          `json:"prompt"`    // Prompt dispatched to the agent
	ChatID          string          `json:"chat_id"`   // Destination chat
	Engine          string          `json:"engine"`    // Agent engine; empty uses the default
	Enabled         bool            `json:"enabled"`
	OverlapBehavior OverlapBehavior `json:"overlap_behavior"`
	SessionBehavior SessionBehavior `json:"session_behavior"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	LastRunAt       *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt       *time.Time      `json:"next_run_at,omitempty"`
}

// ExecutionStatus represents the outcome of a schedule execution
type ExecutionStatus string

const (
	ExecutionSuccess ExecutionStatus = "success"
	ExecutionFailed  ExecutionStatus = "failed"
	ExecutionSkipped ExecutionStatus = "skipped"
)

// Execution records a single run of a schedule
type Execution struct {
	ID         string          `json:"id"`
	ScheduleID string          `json:"schedule_id"`
	SessionID  string          `json:"session_id,omitempty"`
	ExecutedAt time.Time       `json:"executed_at"`
	Status     ExecutionStatus `json:"status"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`
}

// IsValidOverlapBehavior checks if the overlap behavior is valid
func IsValidOverlapBehavior(b OverlapBehavior) bool {
	return b == OverlapSkip || b == OverlapParallel
}

// IsValidSessionBehavior checks if the session behavior is valid
func IsValidSessionBehavior(b SessionBehavior) bool {
	return b == SessionResume || b == SessionNew
}
