// Package bridge connects the chat transport to agent runs.
//
// run.go - Run pipeline from prompt to final message
//
// This file contains:
// - Prompt preparation: resume stripping, stored-session lookup, preamble
// - The event loop feeding the progress tracker and editor
// - Completion handling: resume persistence, cost budgets, final render

package bridge

import (
	"context"
	"errors"

	"github.com/HyphaGroup/herald/internal/agent"
	"github.com/HyphaGroup/herald/internal/logger"
	"github.com/HyphaGroup/herald/internal/progress"
	"github.com/HyphaGroup/herald/internal/session"
	"github.com/HyphaGroup/herald/internal/shutdown"
	"github.com/HyphaGroup/herald/internal/transport"
)

// preambleSeparator sits between the operator preamble and the prompt
const preambleSeparator = "\n\n---\n\n"

// startChatRun prepares a prompt from a chat message and launches a run
func (b *Bridge) startChatRun(ctx context.Context, chatID, ownerID, text string) {
	engine := b.engineForChat(chatID)
	runner, err := b.factory.Get(engine)
	if err != nil {
		b.reply(ctx, chatID, "Engine unavailable: "+err.Error())
		return
	}

	// A resume line pasted into the prompt overrides the stored session
	token, prompt := runner.ExtractResume(text)
	if token == nil {
		stored, err := b.store.Resume(chatID, ownerID, engine)
		if err != nil && !errors.Is(err, session.ErrNoSession) {
			logger.Error("Resume lookup failed for chat %s: %v", chatID, err)
		}
		token = stored
	}

	if b.opts.Preamble != "" {
		prompt = b.opts.Preamble + preambleSeparator + prompt
	}

	req := b.buildRequest(chatID, engine, prompt, token)
	b.launch(ctx, chatID, ownerID, runner, req)
}

// buildRequest merges engine defaults and chat preferences
func (b *Bridge) buildRequest(chatID, engine, prompt string, token *agent.ResumeToken) *agent.RunRequest {
	defaults := b.opts.Engines[engine]
	req := &agent.RunRequest{
		Prompt:         prompt,
		Resume:         token,
		PermissionMode: defaults.PermissionMode,
		AllowedTools:   defaults.AllowedTools,
		Model:          defaults.Model,
		UseAPIBilling:  defaults.UseAPIBilling,
	}
	if prefs, err := b.store.GetPrefs(chatID); err == nil && prefs.PermissionMode != "" {
		req.PermissionMode = agent.PermissionMode(prefs.PermissionMode)
	}
	return req
}

// launch registers the run slot and spawns the event loop
func (b *Bridge) launch(ctx context.Context, chatID, ownerID string, runner agent.Runner, req *agent.RunRequest) {
	if err := b.drain.BeginRun(); err != nil {
		if errors.Is(err, shutdown.ErrDraining) {
			b.reply(ctx, chatID, "Shutting down; not accepting new runs.")
		} else {
			b.reply(ctx, chatID, "Cannot start a run: "+err.Error())
		}
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	editor := progress.NewEditor(b.tr, chatID, b.opts.Render)

	b.mu.Lock()
	if _, exists := b.running[chatID]; exists {
		b.mu.Unlock()
		cancel()
		b.drain.EndRun()
		b.reply(ctx, chatID, "A run is already in progress. Use /cancel to stop it.")
		return
	}
	b.running[chatID] = &activeRun{cancel: cancel, editor: editor}
	b.mu.Unlock()

	go func() {
		_, _ = b.executeRun(runCtx, chatID, ownerID, runner, req, editor)
	}()
}

// executeRun drives one agent session from spawn to final message. It
// returns the session id and a non-nil error when the run failed.
func (b *Bridge) executeRun(ctx context.Context, chatID, ownerID string, runner agent.Runner, req *agent.RunRequest, editor *progress.Editor) (string, error) {
	defer func() {
		b.mu.Lock()
		delete(b.running, chatID)
		b.mu.Unlock()
		b.drain.EndRun()
	}()

	events, err := runner.Run(ctx, req)
	if err != nil {
		b.reply(ctx, chatID, "Failed to start the run: "+err.Error())
		return "", err
	}

	tracker := progress.NewTracker()
	warned := make(map[string]bool) // warning action ids already notified

	for evt := range events {
		tracker.Apply(evt)

		switch evt.Type {
		case agent.EventStarted:
			b.noteSession(chatID, evt.SessionID())

		case agent.EventAction:
			if evt.Phase == agent.PhaseStarted && evt.Action != nil &&
				evt.Action.Kind == agent.ActionWarning && len(evt.Action.Buttons) > 0 &&
				!warned[evt.Action.ID] {
				warned[evt.Action.ID] = true
				b.replyEphemeral(ctx, chatID, "⚠️ Action required: "+evt.Action.Title)
			}

		case agent.EventCompleted:
			return b.finishRun(ctx, chatID, ownerID, runner, tracker, editor, evt)
		}

		snap := tracker.Snapshot()
		editor.Update(ctx, snap, keyboardFor(snap))
	}

	// The runner always synthesizes a terminal event, so a closed
	// channel without one means something went badly wrong upstream.
	logger.Error("Event stream for chat %s ended without completion", chatID)
	if _, err := editor.Finalize(context.WithoutCancel(ctx), "❌ Run ended unexpectedly"); err != nil {
		logger.Error("Finalize failed for chat %s: %v", chatID, err)
	}
	return "", errors.New("event stream ended without completion")
}

// noteSession records the session id on the chat's run slot
func (b *Bridge) noteSession(chatID, sessionID string) {
	if sessionID == "" {
		return
	}
	b.mu.Lock()
	if run, ok := b.running[chatID]; ok {
		run.sessionID = sessionID
	}
	b.mu.Unlock()
}

// finishRun persists the resume token, applies cost budgets, and
// replaces the anchor with the final message.
func (b *Bridge) finishRun(ctx context.Context, chatID, ownerID string, runner agent.Runner,
	tracker *progress.Tracker, editor *progress.Editor, evt *agent.Event) (string, error) {
	// The run context is already cancelled when the user hit /cancel;
	// the final message still has to go out.
	ctx = context.WithoutCancel(ctx)

	if evt.Resume != nil {
		if err := b.store.SaveResume(chatID, ownerID, evt.Resume); err != nil {
			logger.Error("Failed to save resume for chat %s: %v", chatID, err)
		}
	}

	sessionID := evt.SessionID()
	if b.costs != nil {
		if usd := usageCost(evt.Usage); usd > 0 {
			decision := b.costs.Record(sessionID, usd, usd)
			if decision.Warn {
				b.reply(ctx, chatID, decision.WarnMessage)
			}
		}
		b.costs.EndRun(sessionID)
	}

	resumeLine := ""
	if evt.Resume != nil {
		resumeLine = runner.FormatResume(evt.Resume)
	}
	final := progress.RenderFinal(tracker.Snapshot(), resumeLine)
	if _, err := editor.Finalize(ctx, final); err != nil {
		logger.Error("Finalize failed for chat %s: %v", chatID, err)
	}

	if !evt.Done {
		msg := evt.Error
		if msg == "" {
			msg = "run failed"
		}
		return sessionID, errors.New(msg)
	}
	return sessionID, nil
}

// usageCost extracts the run's reported USD cost
func usageCost(usage map[string]interface{}) float64 {
	if usage == nil {
		return 0
	}
	if v, ok := usage["total_cost_usd"].(float64); ok {
		return v
	}
	return 0
}

// keyboardFor returns the buttons of the newest unresolved warning
// action, or nil when nothing is waiting on the user.
func keyboardFor(snap *progress.Snapshot) transport.Keyboard {
	var kb transport.Keyboard
	for _, state := range snap.Actions {
		if state.Action == nil || state.Action.Kind != agent.ActionWarning {
			continue
		}
		if state.Phase == agent.PhaseCompleted {
			continue
		}
		if len(state.Action.Buttons) == 0 {
			continue
		}
		kb = convertButtons(state.Action.Buttons)
	}
	return kb
}

func convertButtons(rows [][]agent.Button) transport.Keyboard {
	kb := make(transport.Keyboard, 0, len(rows))
	for _, row := range rows {
		out := make([]transport.Button, 0, len(row))
		for _, btn := range row {
			out = append(out, transport.Button{Text: btn.Text, Data: btn.CallbackData})
		}
		kb = append(kb, out)
	}
	return kb
}
