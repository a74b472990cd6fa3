package progress

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/HyphaGroup/herald/internal/agent"
)

func TestRenderProgressShowsRecentActions(t *testing.T) {
	tr := NewTracker()
	tr.Apply(agent.NewStartedEvent("claude", "claude-opus", nil, nil))
	tr.Apply(actionEvent("ls -la", agent.ActionCommand, agent.PhaseCompleted, agent.BoolPtr(true)))
	tr.Apply(actionEvent("grep foo", agent.ActionCommand, agent.PhaseStarted, nil))

	out := RenderProgress(tr.Snapshot(), RenderOptions{})
	if !strings.Contains(out, "claude-opus") {
		t.Errorf("missing title: %q", out)
	}
	if !strings.Contains(out, "2 actions") {
		t.Errorf("missing count: %q", out)
	}
	if !strings.Contains(out, "✓ $ ls -la") {
		t.Errorf("missing completed command line: %q", out)
	}
	if !strings.Contains(out, "grep foo") {
		t.Errorf("missing in-flight command: %q", out)
	}
}

func TestRenderFinalSuccess(t *testing.T) {
	snap := &Snapshot{Finished: true, OK: true, Answer: "all done",
		Usage: map[string]interface{}{"num_turns": 3, "total_cost_usd": 0.25}}
	out := RenderFinal(snap, "`claude --resume abc`")

	if !strings.HasPrefix(out, "all done") {
		t.Errorf("answer not first: %q", out)
	}
	if !strings.Contains(out, "$0.2500") {
		t.Errorf("missing cost: %q", out)
	}
	if !strings.HasSuffix(out, "`claude --resume abc`") {
		t.Errorf("resume line not last: %q", out)
	}
}

func TestRenderFinalError(t *testing.T) {
	snap := &Snapshot{Finished: true, OK: false, Error: "claude failed (exit code 1)."}
	out := RenderFinal(snap, "")
	if !strings.Contains(out, "Run failed") || !strings.Contains(out, "exit code 1") {
		t.Errorf("out = %q", out)
	}
}

func TestRenderFinalCancelled(t *testing.T) {
	snap := &Snapshot{Finished: true, OK: false, Status: "cancelled", Error: "run cancelled"}
	out := RenderFinal(snap, "`claude --resume abc`")
	if !strings.Contains(out, "cancelled") {
		t.Errorf("out = %q", out)
	}
	if !strings.Contains(out, "--resume abc") {
		t.Errorf("cancellation must preserve the resume line: %q", out)
	}
}

func TestRenderFinalTrimsLongAnswer(t *testing.T) {
	snap := &Snapshot{Finished: true, OK: true,
		Answer: strings.Repeat("a very long line of agent output\n", 300)}
	out := RenderFinal(snap, "`claude --resume abc`")

	if len(out) > BodyBudget+100 {
		t.Errorf("final message not trimmed: %d bytes", len(out))
	}
	if !strings.Contains(out, "…") {
		t.Error("missing ellipsis")
	}
	if !strings.HasSuffix(out, "`claude --resume abc`") {
		t.Errorf("resume line must survive trimming: %q", out[len(out)-40:])
	}
}

func TestRenderProgressTrimsLongActionList(t *testing.T) {
	tr := NewTracker()
	tr.Apply(agent.NewStartedEvent("claude", "claude-opus", nil, nil))
	long := strings.Repeat("x", 110)
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("%03d-%s", i, long)
		tr.Apply(actionEvent(id, agent.ActionCommand, agent.PhaseCompleted, agent.BoolPtr(true)))
	}

	out := RenderProgress(tr.Snapshot(), RenderOptions{MaxActions: 50})
	if len(out) > BodyBudget+100 {
		t.Errorf("progress message not trimmed: %d bytes", len(out))
	}
	if !strings.HasPrefix(out, "*claude-opus* — working") {
		t.Errorf("header lost: %q", out[:40])
	}
}

func TestTrimOverflowUnderBudget(t *testing.T) {
	out := TrimOverflow("header", "short body", "footer")
	if out != "header\n\nshort body\n\nfooter" {
		t.Errorf("out = %q", out)
	}
}

func TestTrimOverflowPreservesHeaderFooter(t *testing.T) {
	body := strings.Repeat("0123456789\n", 1000)
	out := TrimOverflow("HEADER", body, "FOOTER")

	if !strings.HasPrefix(out, "HEADER") {
		t.Error("header lost")
	}
	if !strings.HasSuffix(out, "FOOTER") {
		t.Error("footer lost")
	}
	if len(out) > BodyBudget+len("HEADER")+len("FOOTER")+20 {
		t.Errorf("trimmed output too long: %d", len(out))
	}
	if !strings.Contains(out, "…") {
		t.Error("missing ellipsis")
	}
}

func TestTrimOverflowNeverSplitsCodeSpan(t *testing.T) {
	// A code fence straddling the budget boundary
	body := strings.Repeat("x", BodyBudget-10) + "\n```go\ncode inside\n```\n"
	out := TrimOverflow("", body, "")

	if strings.Count(out, "```")%2 != 0 {
		t.Errorf("unbalanced code fence in output")
	}
}

func TestTrimOverflowNeverSplitsBoldSpan(t *testing.T) {
	body := strings.Repeat("y", BodyBudget-3) + "*bold text that gets cut*"
	out := TrimOverflow("", body, "")

	if strings.Count(out, "*")%2 != 0 {
		t.Errorf("unbalanced bold span in output")
	}
}

func TestFirstLineNeverSplitsRunes(t *testing.T) {
	// The byte cut at 117 lands mid-rune for this mix
	s := "ab" + strings.Repeat("日", 60)
	got := firstLine(s)

	if !utf8.ValidString(got) {
		t.Errorf("invalid UTF-8 after cut: %q", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("missing ellipsis: %q", got)
	}
	if len(got) > 120 {
		t.Errorf("too long: %d bytes", len(got))
	}
}
