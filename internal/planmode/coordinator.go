// Package planmode coordinates the "Pause & Outline Plan" negotiation.
//
// coordinator.go - Discuss cooldown and outline-bypass state machine
//
// This file contains:
// - Coordinator holding per-session cooldown, approval, and outline state
// - Progressive cooldown timing (30s, 60s, 90s, 120s capped)
// - Outline detection bookkeeping for the bypass path
//
// When the user clicks "Pause & Outline Plan" a cooldown is set and the
// session enters outline-pending. ExitPlanMode retries inside the window
// are auto-denied with an escalating message until the agent writes a
// substantial outline (>= OutlineMinChars of assistant text), at which
// point the bypass shows Approve Plan / Deny buttons instead.

package planmode

import (
	"fmt"
	"sync"
	"time"

	"github.com/HyphaGroup/herald/internal/logger"
)

const (
	// CooldownBase is the window for the first discuss denial
	CooldownBase = 30 * time.Second
	// CooldownMax caps the progressive window
	CooldownMax = 120 * time.Second
	// OutlineMinChars is the assistant-text length that counts as an outline
	OutlineMinChars = 200
	// OutlineEmbedMax caps outline text embedded into the approval prompt
	OutlineEmbedMax = 1500
)

// EscalationMessage is the deny text sent while the cooldown holds and no
// outline has been written yet.
const EscalationMessage = "ExitPlanMode was temporarily held - Approve/Deny buttons have been shown to the user " +
	"in the chat. The user will click Approve when ready.\n\n" +
	"If you haven't written a plan outline yet, write one NOW as your next assistant message " +
	"(at least 15 lines of visible text). The user can ONLY see your assistant text messages.\n\n" +
	"WAIT for the user to approve via the buttons. Do NOT call ExitPlanMode again until they respond."

// OutlineWaitMessage is the deny text sent once an outline was detected and
// the approval buttons are in front of the user.
const OutlineWaitMessage = "Your plan outline has been shown to the user with Approve/Deny buttons. " +
	"WAIT for the user to respond. Do NOT call ExitPlanMode again until they click a button."

type cooldownEntry struct {
	setAt time.Time
	count int
}

// Coordinator owns the plan-mode negotiation state for all sessions
type Coordinator struct {
	cooldown       map[string]cooldownEntry
	approved       map[string]struct{}
	outlinePending map[string]struct{}
	mu             sync.Mutex
	now            func() time.Time
}

// NewCoordinator creates an empty coordinator
func NewCoordinator() *Coordinator {
	return &Coordinator{
		cooldown:       make(map[string]cooldownEntry),
		approved:       make(map[string]struct{}),
		outlinePending: make(map[string]struct{}),
		now:            time.Now,
	}
}

// cooldownWindow returns the progressive window for a deny count
func cooldownWindow(count int) time.Duration {
	window := time.Duration(count) * CooldownBase
	if window > CooldownMax {
		window = CooldownMax
	}
	return window
}

// SetCooldown records a discuss denial for the session. The window grows
// with each call: 30s, 60s, 90s, 120s (capped). The session also enters
// outline-pending so assistant text is tracked for the bypass.
func (c *Coordinator) SetCooldown(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 1
	if existing, ok := c.cooldown[sessionID]; ok {
		count = existing.count + 1
	}
	c.cooldown[sessionID] = cooldownEntry{setAt: c.now(), count: count}
	c.outlinePending[sessionID] = struct{}{}

	logger.Info("Discuss cooldown set: session=%s count=%d window=%v", sessionID, count, cooldownWindow(count))
}

// CheckCooldown reports whether ExitPlanMode should be auto-denied for the
// session. Returns the escalation deny message while inside the window, or
// "" if clear. An expired window keeps the count so the next click
// escalates further; a window exactly met counts as inside.
func (c *Coordinator) CheckCooldown(sessionID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cooldown[sessionID]
	if !ok {
		return ""
	}
	window := cooldownWindow(entry.count)
	if !entry.setAt.IsZero() && c.now().Sub(entry.setAt) > window {
		// Expired: clear only the timestamp, keep the count for escalation
		c.cooldown[sessionID] = cooldownEntry{count: entry.count}
		return ""
	}
	if entry.setAt.IsZero() {
		return ""
	}
	return EscalationMessage
}

// ClearCooldown removes the cooldown for a session. Idempotent.
func (c *Coordinator) ClearCooldown(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cooldown, sessionID)
}

// Approve marks a session's plan as approved by the user. The next
// ExitPlanMode request will be auto-approved.
func (c *Coordinator) Approve(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.approved[sessionID] = struct{}{}
	delete(c.cooldown, sessionID)
	delete(c.outlinePending, sessionID)
	logger.Info("Plan approved: session=%s", sessionID)
}

// Deny clears the negotiation state after the user denied the plan
func (c *Coordinator) Deny(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cooldown, sessionID)
	delete(c.outlinePending, sessionID)
	logger.Info("Plan denied: session=%s", sessionID)
}

// ConsumeApproval reports and clears the approved flag for a session
func (c *Coordinator) ConsumeApproval(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.approved[sessionID]; !ok {
		return false
	}
	delete(c.approved, sessionID)
	delete(c.cooldown, sessionID)
	return true
}

// OutlinePending reports whether the session is waiting for an outline
func (c *Coordinator) OutlinePending(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.outlinePending[sessionID]
	return ok
}

// ClearOutlinePending removes the outline-pending flag (bypass fired)
func (c *Coordinator) ClearOutlinePending(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.outlinePending, sessionID)
}

// ClearSession drops all plan-mode state for a session (run ended)
func (c *Coordinator) ClearSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cooldown, sessionID)
	delete(c.approved, sessionID)
	delete(c.outlinePending, sessionID)
}

// EmbedOutline formats outline text for the synthetic approval prompt,
// truncating at OutlineEmbedMax characters.
func EmbedOutline(outline string) string {
	runes := []rune(outline)
	if len(runes) > OutlineEmbedMax {
		outline = string(runes[:OutlineEmbedMax]) + "…"
	}
	return fmt.Sprintf("Plan outline:\n%s", outline)
}
