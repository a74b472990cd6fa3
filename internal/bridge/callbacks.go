// Package bridge connects the chat transport to agent runs.
//
// callbacks.go - Inline-keyboard button routing
//
// This file contains:
// - Callback data parsing ("claude_control:<verb>:<request_id>")
// - Interactive approve/deny delivery to session stdin
// - Plan-mode decisions (synthetic "da:" requests) and the discuss path
//
// Toasts are answered before the control response is written so the
// button press feels immediate even when stdin delivery is slow.

package bridge

import (
	"context"
	"errors"
	"strings"

	"github.com/HyphaGroup/herald/internal/audit"
	"github.com/HyphaGroup/herald/internal/control"
	"github.com/HyphaGroup/herald/internal/logger"
	"github.com/HyphaGroup/herald/internal/planmode"
	"github.com/HyphaGroup/herald/internal/transport"
)

// callbackNamespace prefixes all control button data
const callbackNamespace = "claude_control"

// planRequestPrefix marks synthetic plan-approval requests that are
// resolved in-process rather than written to the CLI.
const planRequestPrefix = "da:"

// handleCallback routes one button press
func (b *Bridge) handleCallback(ctx context.Context, cb *transport.Callback) {
	parts := strings.SplitN(cb.Data, ":", 3)
	if len(parts) != 3 || parts[0] != callbackNamespace {
		b.toast(ctx, cb.ID, "")
		return
	}
	verb, requestID := parts[1], parts[2]

	switch verb {
	case "approve":
		b.toast(ctx, cb.ID, "Approved")
		b.resolveApprove(ctx, cb, requestID)
	case "deny":
		b.toast(ctx, cb.ID, "Denied")
		b.resolveDeny(ctx, cb, requestID)
	case "discuss":
		b.toast(ctx, cb.ID, "Outlining plan…")
		b.resolveDiscuss(ctx, cb, requestID)
	default:
		b.toast(ctx, cb.ID, "")
	}
}

// resolveApprove handles an Approve press: plan decisions flip the
// coordinator, ordinary requests get an allow response on stdin.
func (b *Bridge) resolveApprove(ctx context.Context, cb *transport.Callback, requestID string) {
	if strings.HasPrefix(requestID, planRequestPrefix) {
		sessionID, ok := b.registry.RequestSession(requestID)
		if !ok {
			// Re-delivered press; the first delivery consumed the request
			logger.Info("Plan approval dropped, already resolved: %s", requestID)
			return
		}
		b.coord.Approve(sessionID)
		b.registry.MarkHandled(requestID)
		audit.LogControlDecision(audit.DecisionApprove, requestID, sessionID, "ExitPlanMode")
		b.replyEphemeral(ctx, cb.ChatID, "Plan approved. The agent will proceed on its next attempt.")
		return
	}

	sessionID, _ := b.registry.RequestSession(requestID)
	if err := b.registry.Respond(requestID, true, ""); err != nil {
		b.reportRespondError(ctx, cb.ChatID, err)
		return
	}
	audit.LogControlDecision(audit.DecisionApprove, requestID, sessionID, "")
}

// resolveDeny mirrors resolveApprove for the Deny button
func (b *Bridge) resolveDeny(ctx context.Context, cb *transport.Callback, requestID string) {
	if strings.HasPrefix(requestID, planRequestPrefix) {
		sessionID, ok := b.registry.RequestSession(requestID)
		if !ok {
			logger.Info("Plan denial dropped, already resolved: %s", requestID)
			return
		}
		b.coord.Deny(sessionID)
		b.registry.MarkHandled(requestID)
		audit.LogControlDecision(audit.DecisionDeny, requestID, sessionID, "ExitPlanMode")
		b.replyEphemeral(ctx, cb.ChatID, "Plan denied.")
		return
	}

	sessionID, _ := b.registry.RequestSession(requestID)
	if err := b.registry.Respond(requestID, false, ""); err != nil {
		b.reportRespondError(ctx, cb.ChatID, err)
		return
	}
	audit.LogControlDecision(audit.DecisionDeny, requestID, sessionID, "")
}

// resolveDiscuss handles "Pause & Outline Plan": the pending
// ExitPlanMode request is denied with the escalation message and the
// session enters the outline cooldown.
func (b *Bridge) resolveDiscuss(ctx context.Context, cb *transport.Callback, requestID string) {
	sessionID, ok := b.registry.RequestSession(requestID)
	if !ok {
		b.reportRespondError(ctx, cb.ChatID, control.ErrRequestNotFound)
		return
	}
	b.coord.SetCooldown(sessionID)
	if err := b.registry.Respond(requestID, false, planmode.EscalationMessage); err != nil {
		b.reportRespondError(ctx, cb.ChatID, err)
		return
	}
	audit.LogControlDecision(audit.DecisionDeny, requestID, sessionID, "ExitPlanMode")
	b.replyEphemeral(ctx, cb.ChatID, "Asked the agent to write a plan outline first.")
}

// reportRespondError explains a failed control response to the user
func (b *Bridge) reportRespondError(ctx context.Context, chatID string, err error) {
	switch {
	case errors.Is(err, control.ErrSessionEnded):
		b.reply(ctx, chatID, "That session has ended; the button no longer applies.")
	case errors.Is(err, control.ErrRequestNotFound):
		// Duplicate press or expired request; nothing to tell the user
		logger.Info("Control response dropped: %v", err)
	default:
		b.reply(ctx, chatID, "Failed to deliver the response: "+err.Error())
	}
}

// toast acknowledges a callback, tolerating failures
func (b *Bridge) toast(ctx context.Context, callbackID, text string) {
	if err := b.tr.AnswerCallback(ctx, callbackID, text); err != nil {
		logger.Error("Failed to answer callback: %v", err)
	}
}
