// Package trigger receives external events (webhooks, manual fires) and
// turns them into prompts dispatched through the bridge.
//
// types.go - Webhook and server configuration
//
// This file contains:
// - AuthMode and its accepted values
// - Webhook endpoint configuration with validation
// - ServerConfig defaults

package trigger

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/jsonschema-go/jsonschema"
)

// AuthMode selects how a webhook request is authenticated
type AuthMode string

const (
	AuthBearer     AuthMode = "bearer"
	AuthHMACSHA256 AuthMode = "hmac-sha256"
	AuthHMACSHA1   AuthMode = "hmac-sha1"
	AuthNone       AuthMode = "none"
)

// IsValidAuthMode checks if the auth mode is recognized
func IsValidAuthMode(m AuthMode) bool {
	switch m {
	case AuthBearer, AuthHMACSHA256, AuthHMACSHA1, AuthNone:
		return true
	}
	return false
}

// safePathRe restricts webhook paths to a conservative character set
var safePathRe = regexp.MustCompile(`^/[a-zA-Z0-9/_.-]+$`)

// Webhook configures a single webhook endpoint
type Webhook struct {
	ID             string         `json:"id"`
	Path           string         `json:"path"`
	Engine         string         `json:"engine,omitempty"`  // Agent engine override; empty uses the default
	ChatID         string         `json:"chat_id,omitempty"` // Destination chat; empty uses the default
	Auth           AuthMode       `json:"auth"`
	Secret         string         `json:"secret,omitempty"`
	PromptTemplate string         `json:"prompt_template"`
	EventFilter    string         `json:"event_filter,omitempty"` // Match against X-GitHub-Event / X-Event-Type
	PayloadSchema  map[string]any `json:"payload_schema,omitempty"`

	// resolved schema, compiled at validation time
	schema *jsonschema.Resolved
}

// Validate checks a single webhook definition and compiles its payload
// schema if one is configured.
func (w *Webhook) Validate() error {
	if w.ID == "" {
		return errors.New("webhook requires an id")
	}
	if w.Path == "" || w.Path[0] != '/' {
		return fmt.Errorf("webhook %s: path must start with '/'", w.ID)
	}
	if w.Path == "/health" {
		return fmt.Errorf("webhook %s: path '/health' is reserved", w.ID)
	}
	if !safePathRe.MatchString(w.Path) {
		return fmt.Errorf("webhook %s: path contains invalid characters", w.ID)
	}
	if w.Auth == "" {
		w.Auth = AuthBearer
	}
	if !IsValidAuthMode(w.Auth) {
		return fmt.Errorf("webhook %s: unknown auth mode %q", w.ID, w.Auth)
	}
	if w.Auth != AuthNone && w.Secret == "" {
		return fmt.Errorf("webhook %s: secret is required when auth=%s", w.ID, w.Auth)
	}
	if w.PromptTemplate == "" {
		return fmt.Errorf("webhook %s: prompt_template is required", w.ID)
	}
	if w.PayloadSchema != nil {
		resolved, err := compileSchema(w.PayloadSchema)
		if err != nil {
			return fmt.Errorf("webhook %s: invalid payload schema: %w", w.ID, err)
		}
		w.schema = resolved
	}
	return nil
}

// compileSchema converts a raw schema map into a resolved jsonschema.Schema.
// The library requires a proper jsonschema.Schema, not a raw map.
func compileSchema(raw map[string]any) (*jsonschema.Resolved, error) {
	schemaBytes, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	schema := &jsonschema.Schema{}
	if err := json.Unmarshal(schemaBytes, schema); err != nil {
		return nil, err
	}
	return schema.Resolve(nil)
}

// ValidateWebhooks checks a full webhook set for per-entry validity and
// duplicate ids or paths.
func ValidateWebhooks(webhooks []*Webhook) error {
	ids := make(map[string]bool, len(webhooks))
	paths := make(map[string]bool, len(webhooks))
	for _, wh := range webhooks {
		if err := wh.Validate(); err != nil {
			return err
		}
		if ids[wh.ID] {
			return fmt.Errorf("duplicate webhook id %q", wh.ID)
		}
		if paths[wh.Path] {
			return fmt.Errorf("duplicate webhook path %q", wh.Path)
		}
		ids[wh.ID] = true
		paths[wh.Path] = true
	}
	return nil
}

// ServerConfig holds HTTP server settings for webhook reception
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	RateLimit    int    `json:"rate_limit"`     // requests per minute, per webhook
	MaxBodyBytes int64  `json:"max_body_bytes"` // request body cap
}

// Defaults fills zero-valued fields with the standard defaults
func (c *ServerConfig) Defaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 9876
	}
	if c.RateLimit == 0 {
		c.RateLimit = 60
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 1 << 20
	}
}
