// Package claude provides the Claude Code agent runner.
//
// command.go - CLI argument construction and resume-line handling

package claude

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/HyphaGroup/herald/internal/agent"
)

// Engine is the engine identifier for Claude Code
const Engine = "claude"

// DefaultAllowedTools is the allow-list applied when the config omits one
var DefaultAllowedTools = []string{"Bash", "Read", "Edit", "Write"}

// resumeRe matches a resume line like "claude --resume <id>" or
// "`claude -r <id>`" on its own line, case-insensitively.
var resumeRe = regexp.MustCompile("(?im)^\\s*`?claude\\s+(?:--resume|-r)\\s+([^`\\s]+)`?\\s*$")

// buildArgs assembles the CLI arguments for one run.
//
// With a permission mode the CLI is launched without -p: the prompt
// travels over stdin as a JSON user message and stdin stays open for
// the control protocol. Without one, -p one-shot mode is used and the
// prompt is a trailing argument.
func (r *Runner) buildArgs(prompt string, resume *agent.ResumeToken, mode agent.PermissionMode) []string {
	var args []string
	if mode != agent.PermissionModeNone {
		args = []string{
			"--output-format", "stream-json",
			"--input-format", "stream-json",
			"--verbose",
		}
	} else {
		args = []string{
			"-p",
			"--output-format", "stream-json",
			"--input-format", "stream-json",
			"--verbose",
		}
	}

	if resume != nil {
		args = append(args, "--resume", resume.Value)
	}
	if r.Model != "" {
		args = append(args, "--model", r.Model)
	}
	if len(r.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(r.AllowedTools, ","))
	}
	if r.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}

	if mode != agent.PermissionModeNone {
		// "auto" is herald's own mode: run the CLI in plan mode and
		// auto-approve ExitPlanMode in the translator
		cliMode := string(mode)
		if mode == agent.PermissionModeAuto {
			cliMode = string(agent.PermissionModePlan)
		}
		args = append(args, "--permission-mode", cliMode)
		args = append(args, "--permission-prompt-tool", "stdio")
	} else {
		args = append(args, "--", prompt)
	}

	return args
}

// environment returns the subprocess env. With subscription billing the
// API key variable is stripped so the CLI uses its own auth.
func (r *Runner) environment() []string {
	if r.UseAPIBilling {
		return nil
	}
	env := os.Environ()
	out := env[:0]
	for _, kv := range env {
		if strings.HasPrefix(kv, "ANTHROPIC_API_KEY=") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

// FormatResume renders a resume line for final messages
func (r *Runner) FormatResume(token *agent.ResumeToken) string {
	return fmt.Sprintf("`claude --resume %s`", token.Value)
}

// ExtractResume finds the last resume line in text, returning the token
// and the text with all resume lines stripped. Returns a nil token when
// no line matches.
func (r *Runner) ExtractResume(text string) (*agent.ResumeToken, string) {
	matches := resumeRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil, text
	}
	value := matches[len(matches)-1][1]
	stripped := resumeRe.ReplaceAllString(text, "")
	stripped = strings.TrimSpace(stripped)
	return &agent.ResumeToken{Engine: Engine, Value: value}, stripped
}
