// Package claude provides the Claude Code agent runner.
//
// runner.go - Subprocess lifecycle and stream loop
//
// This file contains:
// - Runner configuration and construction
// - Run, spawning the CLI and streaming canonical events
// - The stdout scan loop with per-line control-response draining
// - Synthesized completion for abnormal process exits
//
// The control queues are drained after EVERY stdout line, including
// lines that produce no events. The stream read breaks immediately after
// the Completed event: spawned children inherit the stdout pipe, so
// waiting for EOF could block long after the run is over.

package claude

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/HyphaGroup/herald/internal/agent"
	"github.com/HyphaGroup/herald/internal/audit"
	"github.com/HyphaGroup/herald/internal/control"
	"github.com/HyphaGroup/herald/internal/logger"
	"github.com/HyphaGroup/herald/internal/metrics"
	"github.com/HyphaGroup/herald/internal/planmode"
)

const (
	// scanBufferSize sizes the stdout scanner. Single stream lines can
	// carry whole file contents, so the default 64KB is far too small.
	scanBufferSize = 10 * 1024 * 1024

	// stderrCaptureMax bounds how many stderr lines are kept for errors
	stderrCaptureMax = 20

	// stderrCaptureBytes bounds the raw stderr buffer behind those lines
	stderrCaptureBytes = 64 * 1024

	// terminationGrace is how long Wait allows after SIGTERM before SIGKILL
	terminationGrace = 10 * time.Second

	// eventBuffer sizes the outgoing event channel
	eventBuffer = 64
)

// Config carries construction options for the Claude runner
type Config struct {
	// Command is the CLI binary; defaults to "claude"
	Command string

	// Model passed via --model; empty uses the CLI default
	Model string

	// AllowedTools for --allowedTools; nil uses DefaultAllowedTools
	AllowedTools []string

	// SkipPermissions adds --dangerously-skip-permissions
	SkipPermissions bool

	// UseAPIBilling keeps ANTHROPIC_API_KEY in the subprocess env
	UseAPIBilling bool

	// SessionTitle is the fallback Started title before the model is known
	SessionTitle string
}

// Runner executes Claude Code sessions
type Runner struct {
	Command         string
	Model           string
	AllowedTools    []string
	SkipPermissions bool
	UseAPIBilling   bool
	SessionTitle    string

	registry *control.Registry
	coord    *planmode.Coordinator
}

// New creates a Claude runner backed by the shared registries
func New(cfg Config, registry *control.Registry, coord *planmode.Coordinator) *Runner {
	command := cfg.Command
	if command == "" {
		command = "claude"
	}
	allowed := cfg.AllowedTools
	if allowed == nil {
		allowed = DefaultAllowedTools
	}
	title := cfg.SessionTitle
	if title == "" {
		title = "Claude Code"
	}
	return &Runner{
		Command:         command,
		Model:           cfg.Model,
		AllowedTools:    allowed,
		SkipPermissions: cfg.SkipPermissions,
		UseAPIBilling:   cfg.UseAPIBilling,
		SessionTitle:    title,
		registry:        registry,
		coord:           coord,
	}
}

// Engine returns the engine identifier
func (r *Runner) Engine() string {
	return Engine
}

// Run spawns the CLI and streams canonical events until the session ends
func (r *Runner) Run(ctx context.Context, req *agent.RunRequest) (<-chan *agent.Event, error) {
	mode := req.PermissionMode
	if mode != agent.PermissionModeNone && r.SkipPermissions {
		return nil, fmt.Errorf("permission mode %q conflicts with skip-permissions", mode)
	}

	args := r.buildArgs(req.Prompt, req.Resume, mode)
	cmd := exec.CommandContext(ctx, r.Command, args...)
	cmd.Dir = req.WorkingDir
	cmd.Env = r.environment()
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = terminationGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	// Wait drains cmd.Stderr before returning (bounded by WaitDelay), so
	// the captured tail is complete by the time completion is synthesized
	stderr := &stderrSink{}
	cmd.Stderr = stderr

	var stdin io.WriteCloser
	if mode != agent.PermissionModeNone {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
	} else {
		// One-shot mode: detach stdin so the CLI never blocks on a read
		devNull, err := os.Open(os.DevNull)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", os.DevNull, err)
		}
		cmd.Stdin = devNull
		defer devNull.Close()
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", r.Command, err)
	}
	logger.Info("Claude run started: pid=%d mode=%q resumed=%v", cmd.Process.Pid, mode, req.Resume != nil)

	if stdin != nil {
		payload := stdinPayload("init-"+uuid.NewString(), "", req.Prompt)
		if _, err := stdin.Write(payload); err != nil {
			logger.Error("Stdin handshake write failed: %v", err)
		}
	}

	events := make(chan *agent.Event, eventBuffer)
	go r.stream(ctx, cmd, req, stdin, stdout, stderr, events)
	return events, nil
}

// stream owns the subprocess after Start: it scans stdout, forwards
// events, drains control queues, and synthesizes completion when the
// stream ends without a result line.
func (r *Runner) stream(ctx context.Context, cmd *exec.Cmd, req *agent.RunRequest,
	stdin io.WriteCloser, stdout io.Reader, stderr *stderrSink, events chan<- *agent.Event) {
	defer close(events)
	start := time.Now()

	state := newStreamState(req.Resume != nil, req.PermissionMode == agent.PermissionModeAuto)
	completed := false
	status := "ok"

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), scanBufferSize)

scan:
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			r.drainControlQueues(stdin, state)
			continue
		}

		var msg streamMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			logger.Error("Undecodable stream line (%d bytes): %v", len(line), err)
			r.drainControlQueues(stdin, state)
			continue
		}

		evts := r.translate(&msg, state)

		// Session registration happens here, from this loop's own stdin
		// handle, the moment the init event surfaces the session id
		for _, evt := range evts {
			if evt.Type == agent.EventStarted && evt.SessionID() != "" {
				if stdin != nil {
					r.registry.RegisterSession(evt.SessionID(), stdin)
				}
				metrics.RecordSessionStart(Engine)
				audit.LogSessionStart(evt.SessionID(), Engine, "")
			}
		}

		r.drainControlQueues(stdin, state)

		for _, evt := range evts {
			metrics.RecordEvent(Engine, eventKind(evt))
			select {
			case events <- evt:
			case <-ctx.Done():
				break scan
			}
			if evt.Type == agent.EventCompleted {
				completed = true
				if evt.Usage != nil {
					if cost, ok := evt.Usage["total_cost_usd"].(float64); ok {
						metrics.RecordCost(cost)
					}
				}
				if !evt.Done {
					status = "error"
				}
				// Children inherit the stdout pipe; do not wait for EOF
				break scan
			}
		}
	}
	if err := scanner.Err(); err != nil && !completed {
		logger.Error("Stream scan error: %v", err)
	}

	if stdin != nil {
		stdin.Close()
	}
	waitErr := cmd.Wait()

	if !completed {
		evt := r.synthesizeCompletion(ctx, req, state, waitErr, stderr.Tail())
		status = evt.Status
		if status == "" {
			status = "error"
		}
		select {
		case events <- evt:
		case <-time.After(5 * time.Second):
			logger.Error("Synthesized completion dropped: no consumer")
		}
	}

	if state.sessionID != "" {
		r.registry.UnregisterSession(state.sessionID)
		r.coord.ClearSession(state.sessionID)
		metrics.RecordSessionEnd(Engine, status, time.Since(start).Seconds())
		audit.LogSessionEnd(state.sessionID, Engine, status == "ok", waitErr)
	}
	logger.Info("Claude run finished: session=%s status=%s elapsed=%v",
		sessionLabel(state.sessionID), status, time.Since(start).Round(time.Millisecond))
}

// drainControlQueues flushes queued auto approvals and denials to the
// subprocess stdin. Called after every stdout line; a stalled queue
// would deadlock the CLI waiting on its control response.
func (r *Runner) drainControlQueues(stdin io.Writer, state *streamState) {
	if stdin == nil {
		state.autoApproveQueue = state.autoApproveQueue[:0]
		state.autoDenyQueue = state.autoDenyQueue[:0]
		return
	}
	for _, requestID := range state.autoApproveQueue {
		if _, err := stdin.Write(control.AllowLine(requestID, nil)); err != nil {
			logger.Error("Auto-approve write failed: request=%s: %v", requestID, err)
			continue
		}
		metrics.RecordControlResponse("auto_approve")
	}
	state.autoApproveQueue = state.autoApproveQueue[:0]

	for _, denial := range state.autoDenyQueue {
		if _, err := stdin.Write(control.DenyLine(denial.requestID, denial.message)); err != nil {
			logger.Error("Auto-deny write failed: request=%s: %v", denial.requestID, err)
			continue
		}
		metrics.RecordControlResponse("auto_deny")
	}
	state.autoDenyQueue = state.autoDenyQueue[:0]
}

// synthesizeCompletion builds the terminal event when the stream ended
// without a result line.
func (r *Runner) synthesizeCompletion(ctx context.Context, req *agent.RunRequest,
	state *streamState, waitErr error, stderrTail string) *agent.Event {

	resume := req.Resume
	if state.sessionID != "" {
		resume = &agent.ResumeToken{Engine: Engine, Value: state.sessionID}
	}

	if ctx.Err() != nil {
		evt := agent.NewCompletedEvent(false, state.lastAssistantText, resume)
		evt.Status = "cancelled"
		evt.Error = "run cancelled"
		return evt
	}

	if waitErr != nil {
		rc := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			rc = exitErr.ExitCode()
		}
		var parts []string
		parts = append(parts, fmt.Sprintf("claude failed (%s).", rcLabel(rc)))
		if state.sessionID != "" {
			parts = append(parts, "session: "+sessionLabel(state.sessionID))
		}
		if stderrTail != "" {
			parts = append(parts, "stderr: "+stderrTail)
		}
		evt := agent.NewCompletedEvent(false, "", resume)
		evt.Status = "error"
		evt.Error = strings.Join(parts, "\n")
		return evt
	}

	if state.sessionID == "" {
		evt := agent.NewCompletedEvent(false, "", req.Resume)
		evt.Status = "error"
		evt.Error = "claude exited without reporting a session_id"
		if stderrTail != "" {
			evt.Error += "\nstderr: " + stderrTail
		}
		return evt
	}

	// Clean exit but no result line: surface what the agent last said
	evt := agent.NewCompletedEvent(false, state.lastAssistantText, resume)
	evt.Status = "error"
	evt.Error = "claude stream ended without a result\nsession: " + sessionLabel(state.sessionID)
	return evt
}

// stderrSink buffers the head of the subprocess stderr. Assigned to
// cmd.Stderr, so cmd.Wait waits for the feeding copy to finish and
// WaitDelay force-closes the pipe when children keep it open.
type stderrSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *stderrSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room := stderrCaptureBytes - s.buf.Len(); room > 0 {
		n := len(p)
		if n > room {
			n = room
		}
		s.buf.Write(p[:n])
	}
	return len(p), nil
}

// Tail joins the first stderrCaptureMax non-empty lines captured
func (s *stderrSink) Tail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var lines []string
	for _, line := range strings.Split(s.buf.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == stderrCaptureMax {
			break
		}
	}
	return strings.Join(lines, "\n")
}

// rcLabel renders an exit code, mapping the 128+N convention to signals
func rcLabel(rc int) string {
	if rc > 128 {
		return fmt.Sprintf("signal %d", rc-128)
	}
	return fmt.Sprintf("exit code %d", rc)
}

// eventKind labels an event for metrics
func eventKind(evt *agent.Event) string {
	switch evt.Type {
	case agent.EventStarted:
		return "started"
	case agent.EventCompleted:
		return "completed"
	case agent.EventAction:
		if evt.Action != nil {
			return string(evt.Action.Kind)
		}
		return "action"
	default:
		return "unknown"
	}
}
