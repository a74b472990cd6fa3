package claude

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/HyphaGroup/herald/internal/agent"
)

// fakeCLI writes a shell script that ignores its arguments and plays
// back the given stdout lines, then exits with rc.
func fakeCLI(t *testing.T, lines []string, rc int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	for _, line := range lines {
		b.WriteString("echo '" + line + "'\n")
	}
	if rc != 0 {
		b.WriteString("echo 'something went wrong' >&2\n")
	}
	b.WriteString("exit " + strconv.Itoa(rc) + "\n")

	path := filepath.Join(t.TempDir(), "claude")
	if err := os.WriteFile(path, []byte(b.String()), 0o755); err != nil {
		t.Fatalf("write fake cli: %v", err)
	}
	return path
}

func collectEvents(t *testing.T, ch <-chan *agent.Event) []*agent.Event {
	t.Helper()
	var out []*agent.Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, evt)
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
	}
}

func TestRunOneShotSuccess(t *testing.T) {
	r := testRunner()
	r.Command = fakeCLI(t, []string{
		`{"type":"system","subtype":"init","session_id":"sess-run-1","model":"claude-opus"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"working on it"}]}}`,
		`{"type":"result","subtype":"success","session_id":"sess-run-1","result":"finished","num_turns":1}`,
	}, 0)

	ch, err := r.Run(context.Background(), &agent.RunRequest{Prompt: "do it"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	events := collectEvents(t, ch)

	if len(events) != 2 {
		t.Fatalf("got %d events, want started + completed: %+v", len(events), events)
	}
	if events[0].Type != agent.EventStarted {
		t.Errorf("first event = %v", events[0].Type)
	}
	last := events[len(events)-1]
	if last.Type != agent.EventCompleted || !last.Done {
		t.Errorf("last event = %+v", last)
	}
	if last.Answer != "finished" {
		t.Errorf("answer = %q", last.Answer)
	}
	if last.Resume == nil || last.Resume.Value != "sess-run-1" {
		t.Errorf("resume = %v", last.Resume)
	}
}

func TestRunNonzeroExitSynthesizesError(t *testing.T) {
	r := testRunner()
	r.Command = fakeCLI(t, []string{
		`{"type":"system","subtype":"init","session_id":"sess-run-2","model":"claude-opus"}`,
	}, 3)

	ch, err := r.Run(context.Background(), &agent.RunRequest{Prompt: "do it"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	events := collectEvents(t, ch)

	last := events[len(events)-1]
	if last.Type != agent.EventCompleted || last.Done {
		t.Fatalf("last event = %+v", last)
	}
	if !strings.Contains(last.Error, "exit code 3") {
		t.Errorf("error = %q", last.Error)
	}
	if !strings.Contains(last.Error, "session: sess-run") {
		t.Errorf("error missing session label: %q", last.Error)
	}
	if !strings.Contains(last.Error, "something went wrong") {
		t.Errorf("error missing stderr tail: %q", last.Error)
	}
	// The captured session still resumes
	if last.Resume == nil || last.Resume.Value != "sess-run-2" {
		t.Errorf("resume = %v", last.Resume)
	}
}

func TestRunNoSessionID(t *testing.T) {
	r := testRunner()
	r.Command = fakeCLI(t, []string{`not json at all`}, 0)

	initial := &agent.ResumeToken{Engine: Engine, Value: "prior-session"}
	ch, err := r.Run(context.Background(), &agent.RunRequest{Prompt: "do it", Resume: initial})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	events := collectEvents(t, ch)

	last := events[len(events)-1]
	if last.Done {
		t.Error("should not be done")
	}
	if !strings.Contains(last.Error, "session_id") {
		t.Errorf("error = %q", last.Error)
	}
	// Without a captured session the initial token is preserved
	if last.Resume == nil || last.Resume.Value != "prior-session" {
		t.Errorf("resume = %v", last.Resume)
	}
}

func TestRunStreamEndWithoutResult(t *testing.T) {
	r := testRunner()
	r.Command = fakeCLI(t, []string{
		`{"type":"system","subtype":"init","session_id":"sess-run-3","model":"claude-opus"}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"partial answer"}]}}`,
	}, 0)

	ch, err := r.Run(context.Background(), &agent.RunRequest{Prompt: "do it"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	events := collectEvents(t, ch)

	last := events[len(events)-1]
	if last.Done {
		t.Error("should not be done")
	}
	if !strings.Contains(last.Error, "without a result") {
		t.Errorf("error = %q", last.Error)
	}
	if last.Answer != "partial answer" {
		t.Errorf("answer = %q, want last assistant text", last.Answer)
	}
}

func TestRunCancellation(t *testing.T) {
	// exec so the termination signal reaches the long-running child
	// directly and the stdout pipe closes with it
	script := "#!/bin/sh\n" +
		"echo '{\"type\":\"system\",\"subtype\":\"init\",\"session_id\":\"sess-run-4\",\"model\":\"m\"}'\n" +
		"exec sleep 60\n"
	path := filepath.Join(t.TempDir(), "claude")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake cli: %v", err)
	}

	r := testRunner()
	r.Command = path

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := r.Run(ctx, &agent.RunRequest{Prompt: "do it"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Wait for the started event, then cancel
	select {
	case evt := <-ch:
		if evt.Type != agent.EventStarted {
			t.Fatalf("first event = %v", evt.Type)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no started event")
	}
	cancel()

	events := collectEvents(t, ch)
	last := events[len(events)-1]
	if last.Status != "cancelled" {
		t.Errorf("status = %q, want cancelled", last.Status)
	}
	if last.Resume == nil || last.Resume.Value != "sess-run-4" {
		t.Errorf("resume = %v", last.Resume)
	}
}

func TestStderrSinkTailBounded(t *testing.T) {
	sink := &stderrSink{}
	for i := 0; i < stderrCaptureMax+5; i++ {
		if _, err := fmt.Fprintf(sink, "line %d\n\n", i); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	lines := strings.Split(sink.Tail(), "\n")
	if len(lines) != stderrCaptureMax {
		t.Fatalf("tail kept %d lines, want %d", len(lines), stderrCaptureMax)
	}
	if lines[0] != "line 0" || lines[1] != "line 1" {
		t.Errorf("tail start = %q %q", lines[0], lines[1])
	}

	// Writes past the byte cap report full length but stop buffering
	big := &stderrSink{}
	n, err := big.Write(make([]byte, stderrCaptureBytes+100))
	if err != nil || n != stderrCaptureBytes+100 {
		t.Errorf("write = %d, %v", n, err)
	}
	if _, err := big.Write([]byte("dropped")); err != nil {
		t.Fatalf("overflow write: %v", err)
	}
	if strings.Contains(big.Tail(), "dropped") {
		t.Error("buffer grew past the capture cap")
	}
}

func TestDrainControlQueues(t *testing.T) {
	r := testRunner()
	state := newStreamState(false, false)
	state.autoApproveQueue = []string{"req-a"}
	state.autoDenyQueue = []autoDenial{{requestID: "req-b", message: "held"}}

	var buf bytes.Buffer
	r.drainControlQueues(&buf, state)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"behavior":"allow"`) || !strings.Contains(lines[0], "req-a") {
		t.Errorf("allow line = %q", lines[0])
	}
	if !strings.Contains(lines[1], `"behavior":"deny"`) || !strings.Contains(lines[1], "held") {
		t.Errorf("deny line = %q", lines[1])
	}
	if len(state.autoApproveQueue) != 0 || len(state.autoDenyQueue) != 0 {
		t.Error("queues not cleared")
	}

	// Nil stdin (one-shot mode) still clears the queues
	state.autoApproveQueue = []string{"req-c"}
	r.drainControlQueues(nil, state)
	if len(state.autoApproveQueue) != 0 {
		t.Error("queue not cleared with nil stdin")
	}
}
