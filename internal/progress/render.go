// Package progress accumulates canonical events into renderable state.
//
// render.go - Snapshot rendering and overflow trimming
//
// This file contains:
// - Progress and final message rendering
// - Header/footer-preserving body trim for the transport message limit

package progress

import (
	"fmt"
	"strings"

	"github.com/HyphaGroup/herald/internal/agent"
)

// BodyBudget is the character budget for the trimmed message body
const BodyBudget = 3500

// Verbosity selects how much action detail is rendered
type Verbosity string

const (
	VerbosityCompact Verbosity = "compact"
	VerbosityVerbose Verbosity = "verbose"
)

// RenderOptions control snapshot presentation
type RenderOptions struct {
	Verbosity  Verbosity
	MaxActions int
}

var kindGlyphs = map[agent.ActionKind]string{
	agent.ActionCommand:    "$",
	agent.ActionFileChange: "✎",
	agent.ActionTool:       "⚙",
	agent.ActionWebSearch:  "🔎",
	agent.ActionSubagent:   "⇒",
	agent.ActionNote:       "…",
	agent.ActionWarning:    "⚠",
}

// RenderProgress renders the in-flight view of a snapshot. The action
// list is the trimmable body; the title header always survives.
func RenderProgress(snap *Snapshot, opts RenderOptions) string {
	var header strings.Builder

	title := snap.Title
	if title == "" {
		title = snap.Engine
	}
	fmt.Fprintf(&header, "*%s* — working", title)
	if snap.ActionCount > 0 {
		fmt.Fprintf(&header, "\n_%d actions_", snap.ActionCount)
	}

	var lines []string
	for _, state := range snap.LastActions(opts.MaxActions) {
		lines = append(lines, renderAction(state, opts.Verbosity))
	}
	return TrimOverflow(header.String(), strings.Join(lines, "\n"), "")
}

func renderAction(state *ActionState, verbosity Verbosity) string {
	glyph, ok := kindGlyphs[state.Action.Kind]
	if !ok {
		glyph = "•"
	}
	marker := " "
	switch {
	case state.Phase == agent.PhaseCompleted && state.OK != nil && !*state.OK:
		marker = "✗"
	case state.Phase == agent.PhaseCompleted:
		marker = "✓"
	}

	title := firstLine(state.Action.Title)
	line := fmt.Sprintf("%s %s %s", marker, glyph, title)
	if verbosity != VerbosityVerbose {
		return line
	}
	if result, ok := state.Action.Detail["result"].(string); ok && result != "" {
		line += "\n    " + firstLine(result)
	}
	return line
}

// RenderFinal renders the terminal message that replaces the anchor.
// resumeLine is the engine-formatted resume command, or ""; it rides in
// the footer so an over-budget answer can never push it out.
func RenderFinal(snap *Snapshot, resumeLine string) string {
	var b strings.Builder

	if snap.OK {
		if snap.Answer != "" {
			b.WriteString(snap.Answer)
		} else {
			b.WriteString("Done.")
		}
	} else {
		b.WriteString("❌ Run failed")
		if snap.Status == "cancelled" {
			b.Reset()
			b.WriteString("🛑 Run cancelled")
		}
		if snap.Error != "" {
			b.WriteString("\n\n")
			b.WriteString(snap.Error)
		}
		if snap.Answer != "" {
			b.WriteString("\n\n")
			b.WriteString(snap.Answer)
		}
	}

	if usage := renderUsage(snap.Usage); usage != "" {
		b.WriteString("\n\n")
		b.WriteString(usage)
	}
	return TrimOverflow("", b.String(), resumeLine)
}

func renderUsage(usage map[string]interface{}) string {
	if usage == nil {
		return ""
	}
	var parts []string
	if turns, ok := usage["num_turns"]; ok {
		parts = append(parts, fmt.Sprintf("%v turns", turns))
	}
	if cost, ok := usage["total_cost_usd"].(float64); ok {
		parts = append(parts, fmt.Sprintf("$%.4f", cost))
	}
	if len(parts) == 0 {
		return ""
	}
	return "_" + strings.Join(parts, ", ") + "_"
}

// TrimOverflow enforces the transport message limit: header and footer
// are preserved verbatim and the body is cut at the budget. The cut
// lands on a line boundary when one is near, and never splits a code
// span or bold span.
func TrimOverflow(header, body, footer string) string {
	if len(body) <= BodyBudget {
		return join(header, body, footer)
	}

	cut := BodyBudget
	// Back off to a rune boundary
	for cut > 0 && body[cut]&0xC0 == 0x80 {
		cut--
	}
	// Prefer the previous line break when it is reasonably close
	if nl := strings.LastIndexByte(body[:cut], '\n'); nl > cut-200 && nl > 0 {
		cut = nl
	}
	trimmed := body[:cut]
	trimmed = closeEntities(trimmed)
	return join(header, trimmed+"\n…", footer)
}

// closeEntities balances formatting spans so the truncation never
// leaves an unterminated code or bold region.
func closeEntities(s string) string {
	if strings.Count(s, "```")%2 == 1 {
		idx := strings.LastIndex(s, "```")
		s = s[:idx]
	}
	if strings.Count(s, "`")%2 == 1 {
		idx := strings.LastIndexByte(s, '`')
		s = s[:idx]
	}
	if strings.Count(s, "*")%2 == 1 {
		idx := strings.LastIndexByte(s, '*')
		s = s[:idx]
	}
	return s
}

func join(header, body, footer string) string {
	var parts []string
	for _, p := range []string{header, body, footer} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n\n")
}

// firstLine returns the first line of s, bounded for display. The cut
// backs off to a rune boundary so multi-byte titles stay valid UTF-8.
func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 120 {
		cut := 117
		for cut > 0 && s[cut]&0xC0 == 0x80 {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}
