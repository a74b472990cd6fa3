// Package control implements the agent control protocol registries.
//
// registry.go - Process-wide session and request registries
//
// This file contains:
// - Registry mapping sessions to stdin handles and requests to sessions
// - The control-response send path with duplicate and stale handling
// - Pending AskUserQuestion bookkeeping for chat-reply answers
//
// Stdin handles are captured by the runner's own stream loop at
// session-init time, never from a runner field that a concurrent session
// could overwrite. All registry operations are O(1) under one mutex.

package control

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/HyphaGroup/herald/internal/logger"
	"github.com/HyphaGroup/herald/internal/metrics"
)

var (
	// ErrRequestNotFound means the request id is unknown and not recently handled
	ErrRequestNotFound = errors.New("control request not found or session ended")
	// ErrSessionEnded means the request mapped to a session that is gone
	ErrSessionEnded = errors.New("session no longer active")
)

// handledRequestsCap bounds the duplicate-suppression set. The set is
// cleared (not evicted) when the cap is exceeded; suppression is only
// needed for recent requests.
const handledRequestsCap = 100

type sessionEntry struct {
	stdin        io.Writer
	registeredAt time.Time
}

// Registry owns the process-wide control state shared across sessions
type Registry struct {
	sessions         map[string]*sessionEntry
	requestToSession map[string]string
	requestToInput   map[string]map[string]interface{}
	handled          map[string]struct{}
	pendingAsk       map[string]string
	askOrder         []string
	mu               sync.Mutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sessions:         make(map[string]*sessionEntry),
		requestToSession: make(map[string]string),
		requestToInput:   make(map[string]map[string]interface{}),
		handled:          make(map[string]struct{}),
		pendingAsk:       make(map[string]string),
	}
}

// RegisterSession records a session's captured stdin handle. Set exactly
// once per session, at the Started event.
func (r *Registry) RegisterSession(sessionID string, stdin io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID] = &sessionEntry{stdin: stdin, registeredAt: time.Now()}
	logger.Info("Control session registered: %s", sessionID)
}

// UnregisterSession removes a session from the registry. Idempotent.
func (r *Registry) UnregisterSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// SessionActive reports whether a session is registered
func (r *Registry) SessionActive(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[sessionID]
	return ok
}

// ActiveSessions lists registered session ids
func (r *Registry) ActiveSessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// MapRequest routes a request id to its session for callback handling
func (r *Registry) MapRequest(requestID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestToSession[requestID] = sessionID
}

// StoreInput keeps the original tool input; an allow response must echo
// it back as updatedInput.
func (r *Registry) StoreInput(requestID string, input map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestToInput[requestID] = input
}

// DropInput discards stored tool input for a request
func (r *Registry) DropInput(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requestToInput, requestID)
}

// Respond sends a control response for a user-facing request.
//
// Duplicate callbacks (request already handled) return nil without a
// second stdin write. Unknown requests return ErrRequestNotFound. A
// request whose session has ended purges the stale mappings and returns
// ErrSessionEnded. Send failures are logged and reported; the stream
// keeps running.
func (r *Registry) Respond(requestID string, approved bool, denyMessage string) error {
	r.mu.Lock()

	sessionID, ok := r.requestToSession[requestID]
	if !ok {
		_, dup := r.handled[requestID]
		r.mu.Unlock()
		if dup {
			logger.Info("Control response duplicate: %s", requestID)
			return nil
		}
		return ErrRequestNotFound
	}

	entry, ok := r.sessions[sessionID]
	if !ok {
		delete(r.requestToSession, requestID)
		delete(r.requestToInput, requestID)
		r.mu.Unlock()
		logger.Error("Control response for inactive session: %s (request %s)", sessionID, requestID)
		return ErrSessionEnded
	}

	var line []byte
	decision := "deny"
	if approved {
		line = AllowLine(requestID, r.requestToInput[requestID])
		decision = "approve"
	} else {
		line = DenyLine(requestID, denyMessage)
	}
	delete(r.requestToInput, requestID)
	delete(r.requestToSession, requestID)
	r.handled[requestID] = struct{}{}
	if len(r.handled) > handledRequestsCap {
		r.handled = make(map[string]struct{})
	}
	stdin := entry.stdin
	r.mu.Unlock()

	if _, err := stdin.Write(line); err != nil {
		logger.Error("Control response write failed: request=%s session=%s: %v", requestID, sessionID, err)
		return err
	}
	metrics.RecordControlResponse(decision)
	logger.Info("Control response sent: request=%s session=%s approved=%v", requestID, sessionID, approved)
	return nil
}

// MarkHandled records a request id as handled without writing to stdin.
// Used for synthetic requests resolved entirely in-process.
func (r *Registry) MarkHandled(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requestToSession, requestID)
	delete(r.requestToInput, requestID)
	r.handled[requestID] = struct{}{}
	if len(r.handled) > handledRequestsCap {
		r.handled = make(map[string]struct{})
	}
}

// RequestSession returns the session a request is mapped to
func (r *Registry) RequestSession(requestID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.requestToSession[requestID]
	return id, ok
}

// RegisterAsk records a pending AskUserQuestion so a chat reply can
// answer it.
func (r *Registry) RegisterAsk(requestID, question string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pendingAsk[requestID]; !ok {
		r.askOrder = append(r.askOrder, requestID)
	}
	r.pendingAsk[requestID] = question
}

// PopAsk removes and returns a pending question
func (r *Registry) PopAsk(requestID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	question, ok := r.pendingAsk[requestID]
	if !ok {
		return "", false
	}
	delete(r.pendingAsk, requestID)
	for i, id := range r.askOrder {
		if id == requestID {
			r.askOrder = append(r.askOrder[:i], r.askOrder[i+1:]...)
			break
		}
	}
	return question, true
}

// OldestAsk returns the oldest pending question without removing it
func (r *Registry) OldestAsk() (requestID, question string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.askOrder {
		if q, exists := r.pendingAsk[id]; exists {
			return id, q, true
		}
	}
	return "", "", false
}

// SweepExpired removes session registrations older than maxAge and
// returns the number removed.
func (r *Registry) SweepExpired(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	var removed int
	for id, entry := range r.sessions {
		if entry.registeredAt.Before(cutoff) {
			delete(r.sessions, id)
			removed++
			logger.Info("Expired control session swept: %s", id)
		}
	}
	return removed
}
