// Package claude provides the Claude Code agent runner.
//
// tools.go - Tool call classification and result normalization
//
// This file contains:
// - toolAction mapping tool_use blocks to canonical actions
// - toolResultEvent completing a pending action from a tool_result
// - Diff previews for file edits and error/usage extraction for results

package claude

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/HyphaGroup/herald/internal/agent"
)

const (
	titleMax       = 200
	resultMax      = 500
	diffLineMax    = 10
	diffPreviewMax = 1000
)

// fileChangeTools write or modify files on disk
var fileChangeTools = map[string]bool{
	"Edit":         true,
	"Write":        true,
	"MultiEdit":    true,
	"NotebookEdit": true,
}

// toolAction classifies a tool_use block into a canonical action
func toolAction(block *contentBlock, parentToolUseID string) *agent.Action {
	detail := map[string]interface{}{"tool": block.Name}
	if parentToolUseID != "" {
		detail["parent_tool_use_id"] = parentToolUseID
	}

	var kind agent.ActionKind
	var title string

	switch {
	case block.Name == "Bash":
		kind = agent.ActionCommand
		title = stringInput(block.Input, "command")
		if title == "" {
			title = stringInput(block.Input, "description")
		}
		detail["command"] = stringInput(block.Input, "command")
	case fileChangeTools[block.Name]:
		kind = agent.ActionFileChange
		path := stringInput(block.Input, "file_path")
		if path == "" {
			path = stringInput(block.Input, "notebook_path")
		}
		title = block.Name + " " + path
		detail["path"] = path
	case block.Name == "WebSearch":
		kind = agent.ActionWebSearch
		title = stringInput(block.Input, "query")
	case block.Name == "WebFetch":
		kind = agent.ActionWebSearch
		title = stringInput(block.Input, "url")
	case block.Name == "Task":
		kind = agent.ActionSubagent
		title = stringInput(block.Input, "description")
		if agentType := stringInput(block.Input, "subagent_type"); agentType != "" {
			detail["subagent_type"] = agentType
		}
	default:
		kind = agent.ActionTool
		title = block.Name
		if target := stringInput(block.Input, "file_path"); target != "" {
			title += " " + target
		} else if pattern := stringInput(block.Input, "pattern"); pattern != "" {
			title += " " + pattern
		}
	}

	if title == "" {
		title = block.Name
	}
	return &agent.Action{
		ID:     block.ID,
		Kind:   kind,
		Title:  truncate(strings.TrimSpace(title), titleMax),
		Detail: detail,
	}
}

// toolResultEvent completes an action from its tool_result block
func toolResultEvent(block *contentBlock, action *agent.Action) *agent.Event {
	ok := true
	if block.IsError != nil && *block.IsError {
		ok = false
	}
	if result := normalizeToolResult(block.Content); result != "" {
		if action.Detail == nil {
			action.Detail = map[string]interface{}{}
		}
		action.Detail["result"] = truncate(result, resultMax)
	}
	return agent.NewActionEvent(action, agent.PhaseCompleted, agent.BoolPtr(ok))
}

// normalizeToolResult flattens tool_result content, which arrives as a
// plain string, a list of content blocks, or an arbitrary object.
func normalizeToolResult(content interface{}) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	case []interface{}:
		var parts []string
		for _, item := range v {
			block, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if text, ok := block["text"].(string); ok && text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n")
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

// formatDiffPreview renders a short old/new preview for file-edit tools
// and the command line for Bash. Returns "" for other tools.
func formatDiffPreview(toolName string, input map[string]interface{}) string {
	var preview string
	switch toolName {
	case "Edit":
		oldStr := stringInput(input, "old_string")
		newStr := stringInput(input, "new_string")
		if oldStr == "" && newStr == "" {
			return ""
		}
		preview = prefixLines(oldStr, "- ") + prefixLines(newStr, "+ ")
	case "Write":
		content := stringInput(input, "content")
		if content == "" {
			return ""
		}
		preview = prefixLines(content, "+ ")
	case "Bash":
		command := stringInput(input, "command")
		if command == "" {
			return ""
		}
		preview = "$ " + command
	default:
		return ""
	}
	return truncate(strings.TrimRight(preview, "\n"), diffPreviewMax)
}

// prefixLines prefixes up to diffLineMax lines, noting elided lines
func prefixLines(text, prefix string) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	var b strings.Builder
	for i, line := range lines {
		if i >= diffLineMax {
			fmt.Fprintf(&b, "%s... (%d more lines)\n", prefix, len(lines)-diffLineMax)
			break
		}
		b.WriteString(prefix)
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// extractError builds the error string for a failed result line
func extractError(msg *streamMessage, resumed bool) string {
	text := msg.Result
	if text == "" {
		text = "claude reported an error"
	}
	var parts []string
	parts = append(parts, text)
	if msg.SessionID != "" {
		parts = append(parts, "session: "+sessionLabel(msg.SessionID))
	}
	if msg.NumTurns > 0 {
		parts = append(parts, fmt.Sprintf("turns: %d", msg.NumTurns))
	}
	if msg.TotalCostUSD != nil {
		parts = append(parts, fmt.Sprintf("cost: $%.4f", *msg.TotalCostUSD))
	}
	if resumed {
		parts = append(parts, "resumed session")
	}
	return strings.Join(parts, "\n")
}

// usagePayload collects run accounting from a result line
func usagePayload(msg *streamMessage) map[string]interface{} {
	usage := map[string]interface{}{}
	if msg.DurationMS > 0 {
		usage["duration_ms"] = msg.DurationMS
	}
	if msg.DurationAPIMS > 0 {
		usage["duration_api_ms"] = msg.DurationAPIMS
	}
	if msg.NumTurns > 0 {
		usage["num_turns"] = msg.NumTurns
	}
	if msg.TotalCostUSD != nil {
		usage["total_cost_usd"] = *msg.TotalCostUSD
	}
	for _, key := range []string{"input_tokens", "output_tokens", "cache_read_input_tokens", "cache_creation_input_tokens"} {
		if v, ok := msg.Usage[key]; ok {
			usage[key] = v
		}
	}
	if len(usage) == 0 {
		return nil
	}
	return usage
}

// stringInput reads a string field from tool input, tolerating nil maps
func stringInput(input map[string]interface{}, key string) string {
	if input == nil {
		return ""
	}
	v, _ := input[key].(string)
	return v
}

// sessionLabel shortens a session id for display
func sessionLabel(sessionID string) string {
	if len(sessionID) <= 8 {
		return sessionID
	}
	return sessionID[:8]
}

// truncate cuts s to at most max bytes with an ellipsis, backing the
// cut off to a rune boundary.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - 3
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + "..."
}
