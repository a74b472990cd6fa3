// Package audit records security-relevant operations as structured JSON.
//
// logger.go - Audit event logging
//
// This file contains:
// - Operation constants for control decisions, sessions, and triggers
// - The slog-backed audit logger with a process-wide default
//
// Audit lines go to stdout as JSON so they can be shipped separately
// from the application log files.

package audit

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Operation represents the type of auditable operation
type Operation string

const (
	OpControlApprove  Operation = "control.approve"
	OpControlDeny     Operation = "control.deny"
	OpControlAutoDeny Operation = "control.auto_deny"
	OpSessionStart    Operation = "session.start"
	OpSessionEnd      Operation = "session.end"
	OpTriggerWebhook  Operation = "trigger.webhook"
	OpTriggerCron     Operation = "trigger.cron"
)

// Decision labels for LogControlDecision
const (
	DecisionApprove  = "approve"
	DecisionDeny     = "deny"
	DecisionAutoDeny = "auto_deny"
)

// Event represents an audit log entry
type Event struct {
	Timestamp time.Time              `json:"timestamp"`
	Operation Operation              `json:"operation"`
	SessionID string                 `json:"session_id,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	ChatID    string                 `json:"chat_id,omitempty"`
	Engine    string                 `json:"engine,omitempty"`
	Tool      string                 `json:"tool,omitempty"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Logger handles audit logging
type Logger struct {
	logger  *slog.Logger
	enabled bool
	mu      sync.RWMutex
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Default returns the default audit logger
func Default() *Logger {
	once.Do(func() {
		defaultLogger = New(true)
	})
	return defaultLogger
}

// New creates a new audit logger
func New(enabled bool) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return &Logger{
		logger:  slog.New(handler),
		enabled: enabled,
	}
}

// SetEnabled enables or disables audit logging
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// Log records an audit event
func (l *Logger) Log(event *Event) {
	l.mu.RLock()
	enabled := l.enabled
	l.mu.RUnlock()

	if !enabled {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	attrs := []any{
		slog.String("audit", "true"),
		slog.String("operation", string(event.Operation)),
		slog.Bool("success", event.Success),
	}

	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", maskSession(event.SessionID)))
	}
	if event.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", event.RequestID))
	}
	if event.ChatID != "" {
		attrs = append(attrs, slog.String("chat_id", event.ChatID))
	}
	if event.Engine != "" {
		attrs = append(attrs, slog.String("engine", event.Engine))
	}
	if event.Tool != "" {
		attrs = append(attrs, slog.String("tool", event.Tool))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	if event.Details != nil {
		detailsJSON, _ := json.Marshal(event.Details)
		attrs = append(attrs, slog.String("details", string(detailsJSON)))
	}

	l.logger.Info("AUDIT", attrs...)
}

// LogControlDecision records a permission decision on a control request
func (l *Logger) LogControlDecision(decision, requestID, sessionID, tool string) {
	op := OpControlDeny
	switch decision {
	case DecisionApprove:
		op = OpControlApprove
	case DecisionAutoDeny:
		op = OpControlAutoDeny
	}
	l.Log(&Event{
		Operation: op,
		RequestID: requestID,
		SessionID: sessionID,
		Tool:      tool,
		Success:   true,
	})
}

// LogSessionStart records a new agent session
func (l *Logger) LogSessionStart(sessionID, engine, chatID string) {
	l.Log(&Event{
		Operation: OpSessionStart,
		SessionID: sessionID,
		Engine:    engine,
		ChatID:    chatID,
		Success:   true,
	})
}

// LogSessionEnd records a finished agent session
func (l *Logger) LogSessionEnd(sessionID, engine string, success bool, err error) {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	l.Log(&Event{
		Operation: OpSessionEnd,
		SessionID: sessionID,
		Engine:    engine,
		Success:   success,
		Error:     errMsg,
	})
}

// LogTrigger records an accepted trigger dispatch
func (l *Logger) LogTrigger(op Operation, name, chatID string, details map[string]interface{}) {
	l.Log(&Event{
		Operation: op,
		ChatID:    chatID,
		Tool:      name,
		Success:   true,
		Details:   details,
	})
}

func maskSession(sessionID string) string {
	if len(sessionID) <= 12 {
		return "***"
	}
	return sessionID[:8] + "..."
}

// Convenience functions using default logger

func Log(event *Event) {
	Default().Log(event)
}

func LogControlDecision(decision, requestID, sessionID, tool string) {
	Default().LogControlDecision(decision, requestID, sessionID, tool)
}

func LogSessionStart(sessionID, engine, chatID string) {
	Default().LogSessionStart(sessionID, engine, chatID)
}

func LogSessionEnd(sessionID, engine string, success bool, err error) {
	Default().LogSessionEnd(sessionID, engine, success, err)
}

func LogTrigger(op Operation, name, chatID string, details map[string]interface{}) {
	Default().LogTrigger(op, name, chatID, details)
}
