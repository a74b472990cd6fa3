// Package control implements the agent control protocol registries.
//
// protocol.go - Control response wire format
//
// This file contains:
// - Control response envelope written to agent stdin
// - Line builders for allow and deny decisions
//
// Responses are newline-delimited JSON. An allow for can_use_tool must
// echo the original tool input as updatedInput; a deny carries only a
// message and never updatedInput.

package control

import "encoding/json"

// Recognized control-request subtypes
const (
	SubtypeInitialize        = "initialize"
	SubtypeHookCallback      = "hook_callback"
	SubtypeMCPMessage        = "mcp_message"
	SubtypeRewindFiles       = "rewind_files"
	SubtypeInterrupt         = "interrupt"
	SubtypeCanUseTool        = "can_use_tool"
	SubtypeSetPermissionMode = "set_permission_mode"
)

// DefaultDenyMessage is used when no custom deny text is supplied
const DefaultDenyMessage = "User denied"

// Response is the control response envelope
type Response struct {
	Type     string       `json:"type"`
	Response ResponseBody `json:"response"`
}

// ResponseBody wraps the inner decision keyed by request id
type ResponseBody struct {
	Subtype   string      `json:"subtype"`
	RequestID string      `json:"request_id"`
	Response  interface{} `json:"response"`
}

type allowInner struct {
	Behavior     string                 `json:"behavior"`
	UpdatedInput map[string]interface{} `json:"updatedInput,omitempty"`
}

type denyInner struct {
	Behavior string `json:"behavior"`
	Message  string `json:"message"`
}

// AllowLine builds one newline-terminated allow response.
// updatedInput may be nil for non-tool requests.
func AllowLine(requestID string, updatedInput map[string]interface{}) []byte {
	resp := Response{
		Type: "control_response",
		Response: ResponseBody{
			Subtype:   "success",
			RequestID: requestID,
			Response:  allowInner{Behavior: "allow", UpdatedInput: updatedInput},
		},
	}
	data, _ := json.Marshal(resp)
	return append(data, '\n')
}

// DenyLine builds one newline-terminated deny response
func DenyLine(requestID, message string) []byte {
	if message == "" {
		message = DefaultDenyMessage
	}
	resp := Response{
		Type: "control_response",
		Response: ResponseBody{
			Subtype:   "success",
			RequestID: requestID,
			Response:  denyInner{Behavior: "deny", Message: message},
		},
	}
	data, _ := json.Marshal(resp)
	return append(data, '\n')
}
