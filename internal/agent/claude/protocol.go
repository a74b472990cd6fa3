// Package claude provides the Claude Code agent runner.
//
// protocol.go - Stream JSON wire types and stdin payload builders
//
// This file contains:
// - streamMessage covering every stdout line variant the CLI emits
// - Content block and control request bodies
// - Stdin handshake payload for the control-channel launch mode
//
// The CLI emits newline-delimited JSON on stdout. In control-channel
// mode it also reads newline-delimited JSON on stdin: one initialize
// control_request, one user message carrying the prompt, then
// control_response objects for each control_request it raises.

package claude

import "encoding/json"

// Stream line types
const (
	typeSystem         = "system"
	typeAssistant      = "assistant"
	typeUser           = "user"
	typeResult         = "result"
	typeControlRequest = "control_request"
)

// streamMessage is one decoded stdout line. Fields are populated
// according to Type; unknown fields are ignored.
type streamMessage struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// system init fields
	Model          string        `json:"model,omitempty"`
	CWD            string        `json:"cwd,omitempty"`
	Tools          []string      `json:"tools,omitempty"`
	PermissionMode string        `json:"permissionMode,omitempty"`
	OutputStyle    string        `json:"output_style,omitempty"`
	APIKeySource   string        `json:"apiKeySource,omitempty"`
	MCPServers     []interface{} `json:"mcp_servers,omitempty"`

	// assistant/user fields
	Message         *messageBody `json:"message,omitempty"`
	ParentToolUseID string       `json:"parent_tool_use_id,omitempty"`

	// result fields
	IsError       bool                   `json:"is_error,omitempty"`
	Result        string                 `json:"result,omitempty"`
	NumTurns      int                    `json:"num_turns,omitempty"`
	TotalCostUSD  *float64               `json:"total_cost_usd,omitempty"`
	DurationMS    int64                  `json:"duration_ms,omitempty"`
	DurationAPIMS int64                  `json:"duration_api_ms,omitempty"`
	Usage         map[string]interface{} `json:"usage,omitempty"`

	// control request fields
	RequestID string       `json:"request_id,omitempty"`
	Request   *requestBody `json:"request,omitempty"`
}

// messageBody is the message envelope in assistant/user lines. Content
// is either a string or a list of content blocks.
type messageBody struct {
	Role    string          `json:"role,omitempty"`
	Model   string          `json:"model,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// contentBlocks decodes the content list, tolerating the plain-string form
func (m *messageBody) contentBlocks() []contentBlock {
	if len(m.Content) == 0 {
		return nil
	}
	var blocks []contentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil
	}
	return blocks
}

// contentBlock is one element of an assistant or user content list
type contentBlock struct {
	Type string `json:"type"`

	// text / thinking
	Text      string `json:"text,omitempty"`
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// tool_use
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`

	// tool_result
	ToolUseID string      `json:"tool_use_id,omitempty"`
	IsError   *bool       `json:"is_error,omitempty"`
	Content   interface{} `json:"content,omitempty"`
}

// requestBody is the inner control request
type requestBody struct {
	Subtype    string                 `json:"subtype"`
	ToolName   string                 `json:"tool_name,omitempty"`
	Input      map[string]interface{} `json:"input,omitempty"`
	Mode       string                 `json:"mode,omitempty"`
	CallbackID string                 `json:"callback_id,omitempty"`
}

type initControlRequest struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Request   initRequestBody `json:"request"`
}

type initRequestBody struct {
	Subtype string      `json:"subtype"`
	Hooks   interface{} `json:"hooks"`
}

type userMessage struct {
	Type            string          `json:"type"`
	SessionID       string          `json:"session_id"`
	Message         userMessageBody `json:"message"`
	ParentToolUseID interface{}     `json:"parent_tool_use_id"`
}

type userMessageBody struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// stdinPayload builds the control-channel handshake: one initialize
// control_request then one user message with the prompt.
func stdinPayload(initID, sessionID, prompt string) []byte {
	init := initControlRequest{
		Type:      typeControlRequest,
		RequestID: initID,
		Request:   initRequestBody{Subtype: "initialize"},
	}
	user := userMessage{
		Type:      typeUser,
		SessionID: sessionID,
		Message:   userMessageBody{Role: "user", Content: prompt},
	}
	initLine, _ := json.Marshal(init)
	userLine, _ := json.Marshal(user)

	payload := make([]byte, 0, len(initLine)+len(userLine)+2)
	payload = append(payload, initLine...)
	payload = append(payload, '\n')
	payload = append(payload, userLine...)
	payload = append(payload, '\n')
	return payload
}
