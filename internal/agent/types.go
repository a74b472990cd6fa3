// Package agent provides the agent runner abstraction layer.
//
// types.go - Canonical event types for agent streaming
//
// This file contains:
// - Event, the normalized stream event all runners emit
// - Action and ActionKind for tool/command activity
// - ResumeToken for session continuation
//
// Event provides a common format that every engine adapter must convert
// its native stream into. Downstream code (progress tracker, bridge)
// only ever sees canonical events.

package agent

import "time"

// ActionKind classifies what an agent action represents
type ActionKind string

const (
	ActionCommand    ActionKind = "command"
	ActionFileChange ActionKind = "file_change"
	ActionTool       ActionKind = "tool"
	ActionWebSearch  ActionKind = "web_search"
	ActionSubagent   ActionKind = "subagent"
	ActionNote       ActionKind = "note"
	ActionWarning    ActionKind = "warning"
	ActionTurn       ActionKind = "turn"
)

// Phase is the lifecycle phase of an action event
type Phase string

const (
	PhaseStarted   Phase = "started"
	PhaseUpdated   Phase = "updated"
	PhaseCompleted Phase = "completed"
)

// ResumeToken identifies a prior agent session that can be resumed.
// Value is the vendor's opaque session identifier.
type ResumeToken struct {
	Engine string `json:"engine"`
	Value  string `json:"value"`
}

// Button is one inline-keyboard button attached to a warning action
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// Action describes a single unit of agent activity (a command, a file
// edit, a tool call). Identity is the ID: an action is started at most
// once and completed at most once.
type Action struct {
	ID      string                 `json:"id"`
	Kind    ActionKind             `json:"kind"`
	Title   string                 `json:"title"`
	Detail  map[string]interface{} `json:"detail,omitempty"`
	Buttons [][]Button             `json:"buttons,omitempty"`
}

// EventType distinguishes the canonical event variants
type EventType string

const (
	EventStarted   EventType = "started"
	EventAction    EventType = "action"
	EventCompleted EventType = "completed"
)

// Event is the canonical output of an engine translator.
// Every session produces exactly one Started, zero or more Action,
// and exactly one Completed event, in that order.
type Event struct {
	Type EventType `json:"type"`

	// Started fields
	Engine string                 `json:"engine,omitempty"`
	Title  string                 `json:"title,omitempty"`
	Meta   map[string]interface{} `json:"meta,omitempty"`

	// Action fields
	Action *Action `json:"action,omitempty"`
	Phase  Phase   `json:"phase,omitempty"`
	OK     *bool   `json:"ok,omitempty"`

	// Completed fields
	Done   bool                   `json:"done,omitempty"`
	Answer string                 `json:"answer,omitempty"`
	Error  string                 `json:"error,omitempty"`
	Status string                 `json:"status,omitempty"`
	Usage  map[string]interface{} `json:"usage,omitempty"`

	// Resume is set on Started (the session just opened) and on
	// Completed (the best token found for the next run)
	Resume *ResumeToken `json:"resume,omitempty"`

	Timestamp int64 `json:"timestamp,omitempty"`
}

// NewStartedEvent builds the session-init event
func NewStartedEvent(engine, title string, resume *ResumeToken, meta map[string]interface{}) *Event {
	return &Event{
		Type:      EventStarted,
		Engine:    engine,
		Title:     title,
		Resume:    resume,
		Meta:      meta,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewActionEvent builds an action lifecycle event
func NewActionEvent(action *Action, phase Phase, ok *bool) *Event {
	return &Event{
		Type:      EventAction,
		Action:    action,
		Phase:     phase,
		OK:        ok,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewCompletedEvent builds the terminal event for a session
func NewCompletedEvent(ok bool, answer string, resume *ResumeToken) *Event {
	return &Event{
		Type:      EventCompleted,
		Done:      ok,
		Answer:    answer,
		Resume:    resume,
		Timestamp: time.Now().UnixMilli(),
	}
}

// SessionID returns the resume value carried by the event, if any
func (e *Event) SessionID() string {
	if e.Resume != nil {
		return e.Resume.Value
	}
	return ""
}

// BoolPtr is a helper for the OK field on action events
func BoolPtr(b bool) *bool {
	return &b
}
