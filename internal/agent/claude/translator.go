// Package claude provides the Claude Code agent runner.
//
// translator.go - Stream event translation
//
// This file contains:
// - translate, mapping one decoded stdout line to canonical events
// - Control request classification (auto-approve, auto-deny, interactive)
// - The plan-mode cooldown and outline-bypass branches
//
// translate runs to completion between stdout reads; it mutates only the
// run-owned streamState plus the shared registries (under their locks).

package claude

import (
	"fmt"
	"strings"
	"time"

	"github.com/HyphaGroup/herald/internal/agent"
	"github.com/HyphaGroup/herald/internal/audit"
	"github.com/HyphaGroup/herald/internal/control"
	"github.com/HyphaGroup/herald/internal/logger"
	"github.com/HyphaGroup/herald/internal/planmode"
)

// controlRequestTimeout expires pending user-facing requests
const controlRequestTimeout = 300 * time.Second

// toolsRequiringApproval are never auto-approved without a bypass
var toolsRequiringApproval = map[string]bool{
	"ExitPlanMode":    true,
	"AskUserQuestion": true,
}

// autoApproveSubtypes are control requests that never reach the user
var autoApproveSubtypes = map[string]bool{
	control.SubtypeInitialize:   true,
	control.SubtypeHookCallback: true,
	control.SubtypeMCPMessage:   true,
	control.SubtypeRewindFiles:  true,
	control.SubtypeInterrupt:    true,
}

func (r *Runner) translate(msg *streamMessage, state *streamState) []*agent.Event {
	switch msg.Type {
	case typeSystem:
		return r.translateSystem(msg, state)
	case typeAssistant:
		return r.translateAssistant(msg, state)
	case typeUser:
		return r.translateUser(msg, state)
	case typeResult:
		return r.translateResult(msg, state)
	case typeControlRequest:
		return r.translateControlRequest(msg, state)
	default:
		return nil
	}
}

func (r *Runner) translateSystem(msg *streamMessage, state *streamState) []*agent.Event {
	if msg.Subtype != "init" || msg.SessionID == "" {
		return nil
	}
	state.sessionID = msg.SessionID

	meta := map[string]interface{}{}
	if msg.CWD != "" {
		meta["cwd"] = msg.CWD
	}
	if msg.Model != "" {
		meta["model"] = msg.Model
	}
	if len(msg.Tools) > 0 {
		meta["tools"] = msg.Tools
	}
	if msg.PermissionMode != "" {
		meta["permissionMode"] = msg.PermissionMode
	}
	if msg.OutputStyle != "" {
		meta["output_style"] = msg.OutputStyle
	}
	if msg.APIKeySource != "" {
		meta["apiKeySource"] = msg.APIKeySource
	}

	title := r.SessionTitle
	if msg.Model != "" {
		title = msg.Model
	}
	token := &agent.ResumeToken{Engine: Engine, Value: msg.SessionID}
	return []*agent.Event{agent.NewStartedEvent(Engine, title, token, meta)}
}

func (r *Runner) translateAssistant(msg *streamMessage, state *streamState) []*agent.Event {
	if msg.Message == nil {
		return nil
	}
	var out []*agent.Event
	for _, block := range msg.Message.contentBlocks() {
		switch block.Type {
		case "tool_use":
			action := toolAction(&block, msg.ParentToolUseID)
			state.pendingActions[action.ID] = action
			state.lastToolUseID = block.ID
			out = append(out, agent.NewActionEvent(action, agent.PhaseStarted, nil))
		case "thinking":
			if block.Thinking == "" {
				continue
			}
			state.noteSeq++
			detail := map[string]interface{}{}
			if msg.ParentToolUseID != "" {
				detail["parent_tool_use_id"] = msg.ParentToolUseID
			}
			if block.Signature != "" {
				detail["signature"] = block.Signature
			}
			note := &agent.Action{
				ID:     fmt.Sprintf("claude.thinking.%d", state.noteSeq),
				Kind:   agent.ActionNote,
				Title:  block.Thinking,
				Detail: detail,
			}
			out = append(out, agent.NewActionEvent(note, agent.PhaseCompleted, agent.BoolPtr(true)))
		case "text":
			if block.Text == "" {
				continue
			}
			state.lastAssistantText = block.Text
			// Track outline progress while the user is waiting on one
			if state.sessionID != "" && r.coord.OutlinePending(state.sessionID) {
				if len(block.Text) > state.maxTextLenSinceCooldown {
					state.maxTextLenSinceCooldown = len(block.Text)
				}
				if len(block.Text) >= planmode.OutlineMinChars {
					state.outlineText = block.Text
				}
			}
		}
	}
	return out
}

func (r *Runner) translateUser(msg *streamMessage, state *streamState) []*agent.Event {
	if msg.Message == nil {
		return nil
	}
	var out []*agent.Event
	for _, block := range msg.Message.contentBlocks() {
		if block.Type != "tool_result" {
			continue
		}
		action, ok := state.pendingActions[block.ToolUseID]
		if ok {
			delete(state.pendingActions, block.ToolUseID)
		} else {
			action = &agent.Action{
				ID:     block.ToolUseID,
				Kind:   agent.ActionTool,
				Title:  "tool result",
				Detail: map[string]interface{}{},
			}
		}
		out = append(out, toolResultEvent(&block, action))

		// Resolve any linked permission warning for this tool use
		if controlActionID, ok := state.controlActionForTool[block.ToolUseID]; ok {
			delete(state.controlActionForTool, block.ToolUseID)
			resolved := &agent.Action{
				ID:    controlActionID,
				Kind:  agent.ActionWarning,
				Title: "Permission resolved",
			}
			out = append(out, agent.NewActionEvent(resolved, agent.PhaseCompleted, agent.BoolPtr(true)))
		}
	}
	return out
}

func (r *Runner) translateResult(msg *streamMessage, state *streamState) []*agent.Event {
	ok := !msg.IsError
	answer := msg.Result
	if ok && answer == "" {
		answer = state.lastAssistantText
	}

	resume := &agent.ResumeToken{Engine: Engine, Value: msg.SessionID}
	evt := agent.NewCompletedEvent(ok, answer, resume)
	if !ok {
		evt.Error = extractError(msg, state.resumed)
	}
	if usage := usagePayload(msg); len(usage) > 0 {
		evt.Usage = usage
	}
	return []*agent.Event{evt}
}

func (r *Runner) translateControlRequest(msg *streamMessage, state *streamState) []*agent.Event {
	if msg.Request == nil || msg.RequestID == "" {
		return nil
	}
	req := msg.Request
	requestID := msg.RequestID

	// Every control-request arrival purges pending requests past the
	// timeout, whether or not this one reaches the user
	r.sweepExpiredRequests(state)

	// Non-user-facing subtypes: approve without surfacing anything
	if autoApproveSubtypes[req.Subtype] {
		state.autoApproveQueue = append(state.autoApproveQueue, requestID)
		return nil
	}

	if req.Subtype == control.SubtypeCanUseTool {
		// Tools outside the approval set never need the user
		if !toolsRequiringApproval[req.ToolName] {
			state.autoApproveQueue = append(state.autoApproveQueue, requestID)
			return nil
		}

		if req.ToolName == "ExitPlanMode" {
			// "auto" mode approves plans without asking
			if state.autoApproveExitPlanMode {
				state.autoApproveQueue = append(state.autoApproveQueue, requestID)
				return nil
			}

			// User already approved via the post-outline buttons
			if state.sessionID != "" && r.coord.ConsumeApproval(state.sessionID) {
				logger.Info("ExitPlanMode approved via discuss approval: session=%s", state.sessionID)
				state.autoApproveQueue = append(state.autoApproveQueue, requestID)
				return nil
			}

			// Cooldown after a discuss denial
			if state.sessionID != "" {
				if evts, handled := r.discussCooldownEvents(requestID, state); handled {
					return evts
				}
			}
		}
	}

	return r.interactiveControlEvents(msg, state)
}

// sweepExpiredRequests drops pending user-facing requests older than
// controlRequestTimeout, along with their stored tool input.
func (r *Runner) sweepExpiredRequests(state *streamState) {
	now := time.Now()
	for rid, ts := range state.pendingControlRequests {
		if now.Sub(ts) > controlRequestTimeout {
			delete(state.pendingControlRequests, rid)
			r.registry.DropInput(rid)
			logger.Error("Control request expired: %s", rid)
		}
	}
}

// discussCooldownEvents handles ExitPlanMode while a discuss cooldown or
// outline-pending flag is active. Returns handled=false when the request
// should fall through to the interactive path.
func (r *Runner) discussCooldownEvents(requestID string, state *streamState) ([]*agent.Event, bool) {
	sessionID := state.sessionID

	outlineDetected := r.coord.OutlinePending(sessionID) &&
		state.maxTextLenSinceCooldown >= planmode.OutlineMinChars

	escalation := r.coord.CheckCooldown(sessionID)
	if escalation == "" && !outlineDetected {
		return nil, false
	}

	r.registry.DropInput(requestID)

	var denyMessage, title string
	if outlineDetected {
		denyMessage = planmode.OutlineWaitMessage
		state.maxTextLenSinceCooldown = 0
		r.coord.ClearOutlinePending(sessionID)
		if state.outlineText != "" {
			title = planmode.EmbedOutline(state.outlineText)
			state.outlineText = ""
		} else {
			title = "Plan outlined - approve to proceed"
		}
	} else {
		denyMessage = escalation
		title = "Plan approval pending - waiting on outline"
	}
	state.autoDenyQueue = append(state.autoDenyQueue, autoDenial{requestID: requestID, message: denyMessage})
	audit.LogControlDecision(audit.DecisionAutoDeny, requestID, sessionID, "ExitPlanMode")

	// Synthetic approval request resolved in-process, never sent to the
	// CLI. The short "da:" prefix keeps callback data inside the 64-byte
	// transport limit ("claude_control:approve:da:" + UUID = 62 bytes).
	state.noteSeq++
	synthActionID := fmt.Sprintf("claude.discuss_approve.%d", state.noteSeq)
	synthRequestID := "da:" + sessionID
	r.registry.MapRequest(synthRequestID, sessionID)

	action := &agent.Action{
		ID:    synthActionID,
		Kind:  agent.ActionWarning,
		Title: title,
		Detail: map[string]interface{}{
			"request_id":   synthRequestID,
			"request_type": "DiscussApproval",
		},
		Buttons: [][]agent.Button{{
			{Text: "Approve Plan", CallbackData: "claude_control:approve:" + synthRequestID},
			{Text: "Deny", CallbackData: "claude_control:deny:" + synthRequestID},
		}},
	}
	return []*agent.Event{agent.NewActionEvent(action, agent.PhaseStarted, nil)}, true
}

// interactiveControlEvents surfaces a control request to the user as a
// warning action with an inline keyboard.
func (r *Runner) interactiveControlEvents(msg *streamMessage, state *streamState) []*agent.Event {
	req := msg.Request
	requestID := msg.RequestID

	requestType := requestTypeLabel(req.Subtype)
	var details, diffPreview string
	switch req.Subtype {
	case control.SubtypeCanUseTool:
		details = "tool: " + req.ToolName
		if params := keyParams(req.Input); params != "" {
			details += " (" + params + ")"
		}
		diffPreview = formatDiffPreview(req.ToolName, req.Input)
	case control.SubtypeSetPermissionMode:
		details = "mode: " + req.Mode
	case control.SubtypeHookCallback:
		details = "callback: " + req.CallbackID
	}

	warningText := "Permission Request [" + requestType + "]"
	if details != "" {
		warningText += " - " + details
	}
	if diffPreview != "" {
		warningText += "\n" + diffPreview
	}

	state.pendingControlRequests[requestID] = time.Now()

	if state.sessionID != "" {
		r.registry.MapRequest(requestID, state.sessionID)
		if req.Subtype == control.SubtypeCanUseTool {
			input := req.Input
			if input == nil {
				input = map[string]interface{}{}
			}
			r.registry.StoreInput(requestID, input)
		}
	}

	state.noteSeq++
	actionID := fmt.Sprintf("claude.control.%d", state.noteSeq)
	if state.lastToolUseID != "" {
		state.controlActionForTool[state.lastToolUseID] = actionID
	}

	buttons := [][]agent.Button{{
		{Text: "Approve", CallbackData: "claude_control:approve:" + requestID},
		{Text: "Deny", CallbackData: "claude_control:deny:" + requestID},
	}}
	if req.Subtype == control.SubtypeCanUseTool && req.ToolName == "ExitPlanMode" {
		buttons = append(buttons, []agent.Button{
			{Text: "Pause & Outline Plan", CallbackData: "claude_control:discuss:" + requestID},
		})
	}

	detail := map[string]interface{}{
		"request_id":   requestID,
		"request_type": requestType,
	}

	// AskUserQuestion: show the question itself and allow a chat reply
	if req.Subtype == control.SubtypeCanUseTool && req.ToolName == "AskUserQuestion" {
		question := askQuestion(req.Input)
		if question != "" {
			warningText = "Question: " + question
			detail["ask_question"] = question
		}
		r.registry.RegisterAsk(requestID, question)
	}

	action := &agent.Action{
		ID:      actionID,
		Kind:    agent.ActionWarning,
		Title:   warningText,
		Detail:  detail,
		Buttons: buttons,
	}
	return []*agent.Event{agent.NewActionEvent(action, agent.PhaseStarted, nil)}
}

// requestTypeLabel renders a subtype as a display label
func requestTypeLabel(subtype string) string {
	parts := strings.Split(subtype, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "")
}

// keyParams summarizes notable tool input fields for the warning text
func keyParams(input map[string]interface{}) string {
	var params []string
	for _, key := range []string{"file_path", "path", "command", "pattern"} {
		raw, ok := input[key]
		if !ok {
			continue
		}
		value := truncate(fmt.Sprintf("%v", raw), 50)
		params = append(params, key+"="+value)
	}
	return strings.Join(params, ", ")
}

// askQuestion extracts the question text from AskUserQuestion input,
// handling both the direct key and the nested questions list.
func askQuestion(input map[string]interface{}) string {
	if q, ok := input["question"].(string); ok && q != "" {
		return q
	}
	questions, ok := input["questions"].([]interface{})
	if !ok || len(questions) == 0 {
		return ""
	}
	first, ok := questions[0].(map[string]interface{})
	if !ok {
		return ""
	}
	q, _ := first["question"].(string)
	return q
}
