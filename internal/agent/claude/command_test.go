package claude

import (
	"strings"
	"testing"

	"github.com/HyphaGroup/herald/internal/agent"
	"github.com/HyphaGroup/herald/internal/control"
	"github.com/HyphaGroup/herald/internal/planmode"
)

func testRunner() *Runner {
	return New(Config{}, control.NewRegistry(), planmode.NewCoordinator())
}

func TestBuildArgsOneShot(t *testing.T) {
	r := testRunner()
	args := r.buildArgs("fix the bug", nil, agent.PermissionModeNone)

	if args[0] != "-p" {
		t.Errorf("args[0] = %q, want '-p'", args[0])
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--output-format stream-json") {
		t.Errorf("missing stream-json output format: %v", args)
	}
	if strings.Contains(joined, "--permission-mode") {
		t.Errorf("one-shot mode must not set --permission-mode: %v", args)
	}
	// Prompt is the trailing argument after the -- separator
	if args[len(args)-2] != "--" || args[len(args)-1] != "fix the bug" {
		t.Errorf("prompt not trailing after --: %v", args)
	}
}

func TestBuildArgsControlChannel(t *testing.T) {
	r := testRunner()
	args := r.buildArgs("fix the bug", nil, agent.PermissionModePlan)

	joined := strings.Join(args, " ")
	if strings.Contains(joined, "-p ") || args[0] == "-p" {
		t.Errorf("control-channel mode must not use -p: %v", args)
	}
	if !strings.Contains(joined, "--permission-mode plan") {
		t.Errorf("missing --permission-mode plan: %v", args)
	}
	if !strings.Contains(joined, "--permission-prompt-tool stdio") {
		t.Errorf("missing --permission-prompt-tool stdio: %v", args)
	}
	// The prompt travels over stdin, never argv
	for _, a := range args {
		if a == "fix the bug" {
			t.Errorf("prompt leaked into argv: %v", args)
		}
	}
}

func TestBuildArgsAutoMapsToPlan(t *testing.T) {
	r := testRunner()
	args := r.buildArgs("go", nil, agent.PermissionModeAuto)

	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--permission-mode plan") {
		t.Errorf("auto mode must launch the CLI in plan mode: %v", args)
	}
	if strings.Contains(joined, "--permission-mode auto") {
		t.Errorf("auto must not be passed through to the CLI: %v", args)
	}
}

func TestBuildArgsResume(t *testing.T) {
	r := testRunner()
	token := &agent.ResumeToken{Engine: Engine, Value: "abc-123"}
	args := r.buildArgs("continue", token, agent.PermissionModePlan)

	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--resume abc-123") {
		t.Errorf("missing --resume: %v", args)
	}
}

func TestBuildArgsModelAndTools(t *testing.T) {
	r := testRunner()
	r.Model = "opus"
	r.AllowedTools = []string{"Bash", "Read"}
	args := r.buildArgs("go", nil, agent.PermissionModeNone)

	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--model opus") {
		t.Errorf("missing --model: %v", args)
	}
	if !strings.Contains(joined, "--allowedTools Bash,Read") {
		t.Errorf("missing --allowedTools: %v", args)
	}
}

func TestExtractResume(t *testing.T) {
	r := testRunner()

	tests := []struct {
		name      string
		text      string
		wantValue string
		wantText  string
	}{
		{
			name:      "no resume line",
			text:      "just a prompt",
			wantValue: "",
			wantText:  "just a prompt",
		},
		{
			name:      "plain resume line",
			text:      "continue please\nclaude --resume abc-123",
			wantValue: "abc-123",
			wantText:  "continue please",
		},
		{
			name:      "backticked resume line",
			text:      "`claude --resume def-456`\ndo the thing",
			wantValue: "def-456",
			wantText:  "do the thing",
		},
		{
			name:      "short flag",
			text:      "claude -r xyz-789",
			wantValue: "xyz-789",
			wantText:  "",
		},
		{
			name:      "last match wins and all are stripped",
			text:      "claude --resume first\nmiddle text\nclaude --resume second",
			wantValue: "second",
			wantText:  "middle text",
		},
		{
			name:      "inline mention is not a resume line",
			text:      "run claude --resume abc-123 for me",
			wantValue: "",
			wantText:  "run claude --resume abc-123 for me",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, stripped := r.ExtractResume(tt.text)
			gotValue := ""
			if token != nil {
				gotValue = token.Value
			}
			if gotValue != tt.wantValue {
				t.Errorf("token = %q, want %q", gotValue, tt.wantValue)
			}
			if stripped != tt.wantText {
				t.Errorf("stripped = %q, want %q", stripped, tt.wantText)
			}
		})
	}
}

func TestFormatResumeRoundTrip(t *testing.T) {
	r := testRunner()
	token := &agent.ResumeToken{Engine: Engine, Value: "abc-123"}
	line := r.FormatResume(token)

	if line != "`claude --resume abc-123`" {
		t.Errorf("FormatResume = %q", line)
	}
	got, _ := r.ExtractResume("answer text\n\n" + line)
	if got == nil || got.Value != "abc-123" {
		t.Errorf("formatted line did not extract back: %v", got)
	}
}

func TestEnvironmentStripsAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "secret")

	r := testRunner()
	env := r.environment()
	for _, kv := range env {
		if strings.HasPrefix(kv, "ANTHROPIC_API_KEY=") {
			t.Error("ANTHROPIC_API_KEY not stripped with subscription billing")
		}
	}

	r.UseAPIBilling = true
	if r.environment() != nil {
		t.Error("API billing should inherit the parent environment")
	}
}

func TestRcLabel(t *testing.T) {
	if got := rcLabel(137); got != "signal 9" {
		t.Errorf("rcLabel(137) = %q, want 'signal 9'", got)
	}
	if got := rcLabel(1); got != "exit code 1" {
		t.Errorf("rcLabel(1) = %q, want 'exit code 1'", got)
	}
}
