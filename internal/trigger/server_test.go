package trigger

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type dispatchRecorder struct {
	mu      sync.Mutex
	prompts []string
	hooks   []string
}

func (d *dispatchRecorder) fn(wh *Webhook, prompt string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hooks = append(d.hooks, wh.ID)
	d.prompts = append(d.prompts, prompt)
}

func (d *dispatchRecorder) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.prompts)
}

func testServer(t *testing.T, webhooks []*Webhook, cfg ServerConfig) (*httptest.Server, *dispatchRecorder) {
	t.Helper()
	rec := &dispatchRecorder{}
	s, err := NewServer(cfg, webhooks, rec.fn)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, rec
}

func post(t *testing.T, url, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestWebhookAccepted(t *testing.T) {
	webhooks := []*Webhook{{
		ID: "gh", Path: "/hook/gh", Auth: AuthBearer, Secret: "tok",
		PromptTemplate: "Issue: {{issue.title}}",
	}}
	ts, rec := testServer(t, webhooks, ServerConfig{})

	resp := post(t, ts.URL+"/hook/gh", `{"issue":{"title":"bug"}}`,
		map[string]string{"Authorization": "Bearer tok"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if rec.count() != 1 {
		t.Fatalf("dispatched %d times", rec.count())
	}
	if !strings.Contains(rec.prompts[0], "Issue: bug") {
		t.Errorf("prompt = %q", rec.prompts[0])
	}
	if !strings.HasPrefix(rec.prompts[0], UntrustedPrefix) {
		t.Error("prompt missing untrusted prefix")
	}
}

func TestWebhookUnknownPath(t *testing.T) {
	ts, rec := testServer(t, nil, ServerConfig{})
	resp := post(t, ts.URL+"/hook/nope", "{}", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if rec.count() != 0 {
		t.Error("unexpected dispatch")
	}
}

func TestWebhookAuthFailure(t *testing.T) {
	webhooks := []*Webhook{{
		ID: "gh", Path: "/hook/gh", Auth: AuthBearer, Secret: "tok",
		PromptTemplate: "x",
	}}
	ts, rec := testServer(t, webhooks, ServerConfig{})

	resp := post(t, ts.URL+"/hook/gh", "{}", map[string]string{"Authorization": "Bearer wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if rec.count() != 0 {
		t.Error("unexpected dispatch")
	}
}

func TestWebhookBodyTooLarge(t *testing.T) {
	webhooks := []*Webhook{{
		ID: "gh", Path: "/hook/gh", Auth: AuthNone, PromptTemplate: "x",
	}}
	ts, _ := testServer(t, webhooks, ServerConfig{MaxBodyBytes: 1024})

	big := strings.Repeat("a", 2048)
	resp := post(t, ts.URL+"/hook/gh", big, nil)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", resp.StatusCode)
	}
}

func TestWebhookInvalidJSON(t *testing.T) {
	webhooks := []*Webhook{{
		ID: "gh", Path: "/hook/gh", Auth: AuthNone, PromptTemplate: "x",
	}}
	ts, _ := testServer(t, webhooks, ServerConfig{})

	resp := post(t, ts.URL+"/hook/gh", "{not json", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestWebhookNonObjectPayloadWrapped(t *testing.T) {
	webhooks := []*Webhook{{
		ID: "gh", Path: "/hook/gh", Auth: AuthNone, PromptTemplate: "got {{_body}}",
	}}
	ts, rec := testServer(t, webhooks, ServerConfig{})

	resp := post(t, ts.URL+"/hook/gh", `"hello"`, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if !strings.Contains(rec.prompts[0], "got hello") {
		t.Errorf("prompt = %q", rec.prompts[0])
	}
}

func TestWebhookEventFilter(t *testing.T) {
	webhooks := []*Webhook{{
		ID: "gh", Path: "/hook/gh", Auth: AuthNone,
		PromptTemplate: "x", EventFilter: "issues",
	}}
	ts, rec := testServer(t, webhooks, ServerConfig{})

	// Mismatched event is acknowledged but not dispatched
	resp := post(t, ts.URL+"/hook/gh", "{}", map[string]string{"X-GitHub-Event": "push"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if rec.count() != 0 {
		t.Error("filtered event dispatched")
	}

	// Matching event dispatches; the generic header works too
	resp = post(t, ts.URL+"/hook/gh", "{}", map[string]string{"X-Event-Type": "issues"})
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}
	if rec.count() != 1 {
		t.Error("matching event not dispatched")
	}
}

func TestWebhookRateLimited(t *testing.T) {
	webhooks := []*Webhook{{
		ID: "gh", Path: "/hook/gh", Auth: AuthNone, PromptTemplate: "x",
	}}
	ts, _ := testServer(t, webhooks, ServerConfig{RateLimit: 2})

	var last int
	for i := 0; i < 3; i++ {
		resp := post(t, ts.URL+"/hook/gh", "{}", nil)
		last = resp.StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", last)
	}
}

func TestWebhookSchemaValidation(t *testing.T) {
	webhooks := []*Webhook{{
		ID: "gh", Path: "/hook/gh", Auth: AuthNone, PromptTemplate: "x",
		PayloadSchema: map[string]any{
			"type":     "object",
			"required": []any{"action"},
			"properties": map[string]any{
				"action": map[string]any{"type": "string"},
			},
		},
	}}
	ts, rec := testServer(t, webhooks, ServerConfig{})

	resp := post(t, ts.URL+"/hook/gh", `{"other":1}`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("schema mismatch status = %d, want 400", resp.StatusCode)
	}
	if rec.count() != 0 {
		t.Error("invalid payload dispatched")
	}

	resp = post(t, ts.URL+"/hook/gh", `{"action":"opened"}`, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("valid payload status = %d, want 202", resp.StatusCode)
	}
}

func TestWebhookMethodNotAllowed(t *testing.T) {
	webhooks := []*Webhook{{
		ID: "gh", Path: "/hook/gh", Auth: AuthNone, PromptTemplate: "x",
	}}
	ts, _ := testServer(t, webhooks, ServerConfig{})

	resp, err := http.Get(ts.URL + "/hook/gh")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	webhooks := []*Webhook{{
		ID: "gh", Path: "/hook/gh", Auth: AuthNone, PromptTemplate: "x",
	}}
	ts, _ := testServer(t, webhooks, ServerConfig{})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestValidateWebhooks(t *testing.T) {
	tests := []struct {
		name     string
		webhooks []*Webhook
		wantErr  bool
	}{
		{"valid", []*Webhook{
			{ID: "a", Path: "/hook/a", Auth: AuthNone, PromptTemplate: "x"},
			{ID: "b", Path: "/hook/b", Auth: AuthBearer, Secret: "s", PromptTemplate: "x"},
		}, false},
		{"duplicate id", []*Webhook{
			{ID: "a", Path: "/hook/a", Auth: AuthNone, PromptTemplate: "x"},
			{ID: "a", Path: "/hook/b", Auth: AuthNone, PromptTemplate: "x"},
		}, true},
		{"duplicate path", []*Webhook{
			{ID: "a", Path: "/hook/x", Auth: AuthNone, PromptTemplate: "x"},
			{ID: "b", Path: "/hook/x", Auth: AuthNone, PromptTemplate: "x"},
		}, true},
		{"reserved path", []*Webhook{
			{ID: "a", Path: "/health", Auth: AuthNone, PromptTemplate: "x"},
		}, true},
		{"relative path", []*Webhook{
			{ID: "a", Path: "hook", Auth: AuthNone, PromptTemplate: "x"},
		}, true},
		{"unsafe path", []*Webhook{
			{ID: "a", Path: "/hook/$(rm)", Auth: AuthNone, PromptTemplate: "x"},
		}, true},
		{"missing secret", []*Webhook{
			{ID: "a", Path: "/hook/a", Auth: AuthHMACSHA256, PromptTemplate: "x"},
		}, true},
		{"missing template", []*Webhook{
			{ID: "a", Path: "/hook/a", Auth: AuthNone},
		}, true},
		{"bad schema", []*Webhook{
			{ID: "a", Path: "/hook/a", Auth: AuthNone, PromptTemplate: "x",
				PayloadSchema: map[string]any{"type": 12}},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWebhooks(tt.webhooks)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWebhookDefaultAuthIsBearer(t *testing.T) {
	wh := &Webhook{ID: "a", Path: "/hook/a", Secret: "s", PromptTemplate: "x"}
	if err := wh.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if wh.Auth != AuthBearer {
		t.Errorf("auth = %q, want bearer", wh.Auth)
	}
}

func TestRateLimiterIndependentKeys(t *testing.T) {
	// Generous global budget so per-key limits are what we observe
	rl := NewRateLimiter(100)
	if !rl.Allow("a") || !rl.Allow("b") {
		t.Error("fresh keys should be allowed")
	}
}
