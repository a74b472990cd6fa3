// Package trigger receives external events (webhooks, manual fires) and
// turns them into prompts dispatched through the bridge.
//
// server.go - Webhook HTTP server
//
// This file contains:
// - Server setup and lifecycle
// - The webhook request pipeline: size cap, auth, rate limit, payload
//   parsing, schema validation, event filtering, prompt dispatch

package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/HyphaGroup/herald/internal/audit"
	"github.com/HyphaGroup/herald/internal/logger"
	"github.com/HyphaGroup/herald/internal/metrics"
)

// DispatchFunc forwards a rendered webhook prompt into the bridge.
// Implementations must not block; the HTTP handler answers 202 as soon
// as dispatch is accepted.
type DispatchFunc func(wh *Webhook, prompt string)

// Server receives webhook HTTP requests and dispatches matching prompts
type Server struct {
	cfg      ServerConfig
	byPath   map[string]*Webhook
	limiter  *RateLimiter
	dispatch DispatchFunc
	srv      *http.Server
}

// NewServer validates the webhook set and builds a server. The dispatch
// function is called once per accepted request.
func NewServer(cfg ServerConfig, webhooks []*Webhook, dispatch DispatchFunc) (*Server, error) {
	cfg.Defaults()
	if err := ValidateWebhooks(webhooks); err != nil {
		return nil, err
	}
	byPath := make(map[string]*Webhook, len(webhooks))
	for _, wh := range webhooks {
		if wh.Auth == AuthNone {
			logger.Info("Webhook %s (%s) has no authentication configured", wh.ID, wh.Path)
		}
		byPath[wh.Path] = wh
	}
	return &Server{
		cfg:      cfg,
		byPath:   byPath,
		limiter:  NewRateLimiter(cfg.RateLimit),
		dispatch: dispatch,
	}, nil
}

// Handler builds the HTTP handler with health and webhook routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/", metrics.Middleware(http.HandlerFunc(s.handleWebhook)))
	return mux
}

// Start begins serving in the background. It returns once the listener
// is bound, so a bad host/port fails fast.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("webhook listener: %w", err)
	}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Webhook server error: %v", err)
		}
	}()
	logger.Info("Webhook server listening on %s (%d webhooks)", addr, len(s.byPath))
	return nil
}

// Shutdown stops the server, waiting for in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "webhooks": len(s.byPath)})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	wh, ok := s.byPath[r.URL.Path]
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	// Size check before reading; MaxBytesReader guards chunked bodies
	if r.ContentLength > s.cfg.MaxBodyBytes {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	if !verifyAuth(wh, r.Header, body) {
		logger.Info("Webhook %s auth failed from %s", wh.ID, r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if !s.limiter.Allow(wh.ID) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	payload := map[string]any{}
	if len(body) > 0 {
		var decoded any
		if err := json.Unmarshal(body, &decoded); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if obj, ok := decoded.(map[string]any); ok {
			payload = obj
		} else {
			payload = map[string]any{"_body": decoded}
		}
	}

	if wh.schema != nil {
		if err := wh.schema.Validate(payload); err != nil {
			http.Error(w, "payload schema mismatch", http.StatusBadRequest)
			return
		}
	}

	// Event filter (e.g. GitHub X-GitHub-Event header)
	if wh.EventFilter != "" {
		eventType := r.Header.Get("X-GitHub-Event")
		if eventType == "" {
			eventType = r.Header.Get("X-Event-Type")
		}
		if eventType != wh.EventFilter {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("filtered"))
			return
		}
	}

	prompt := RenderPrompt(wh.PromptTemplate, payload)
	audit.LogTrigger(audit.OpTriggerWebhook, wh.ID, wh.ChatID, map[string]interface{}{
		"path": wh.Path,
	})
	metrics.RecordTriggerRun("webhook")
	s.dispatch(wh, prompt)

	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte("accepted"))
}
