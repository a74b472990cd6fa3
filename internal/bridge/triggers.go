// Package bridge connects the chat transport to agent runs.
//
// triggers.go - Webhook and cron entry points
//
// Trigger prompts flow through the same run pipeline as chat messages.
// A label message is sent to the target chat first so the run's origin
// is visible, then the run starts with the trigger's own session owner.

package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/HyphaGroup/herald/internal/agent"
	"github.com/HyphaGroup/herald/internal/logger"
	"github.com/HyphaGroup/herald/internal/progress"
	"github.com/HyphaGroup/herald/internal/schedule"
	"github.com/HyphaGroup/herald/internal/session"
	"github.com/HyphaGroup/herald/internal/trigger"
)

// triggerOwner keys trigger sessions in the session store, separate
// from any chat user's sessions.
const triggerOwner = "trigger"

// DispatchWebhook implements trigger.DispatchFunc. The run starts in
// the background; webhook runs never resume a prior session.
func (b *Bridge) DispatchWebhook(wh *trigger.Webhook, prompt string) {
	ctx := context.Background()
	chatID := wh.ChatID
	if chatID == "" {
		chatID = b.opts.DefaultChatID
	}
	if chatID == "" {
		logger.Error("Webhook %s has no target chat and no default is configured", wh.ID)
		return
	}

	engine := wh.Engine
	if engine == "" {
		engine = b.factory.DefaultEngine()
	}
	runner, err := b.factory.Get(engine)
	if err != nil {
		logger.Error("Webhook %s: %v", wh.ID, err)
		return
	}

	b.reply(ctx, chatID, fmt.Sprintf("⚡ Trigger: webhook:%s", wh.ID))

	req := b.buildRequest(chatID, engine, prompt, nil)
	b.launch(ctx, chatID, triggerOwner, runner, req)
}

// ExecuteSchedule implements schedule.ExecutionFunc. It runs the
// schedule's prompt to completion and returns the session id.
func (b *Bridge) ExecuteSchedule(ctx context.Context, sched *schedule.Schedule) (string, error) {
	engine := sched.Engine
	if engine == "" {
		engine = b.factory.DefaultEngine()
	}
	runner, err := b.factory.Get(engine)
	if err != nil {
		return "", err
	}

	var token *agent.ResumeToken
	if sched.SessionBehavior != schedule.SessionNew {
		stored, err := b.store.Resume(sched.ChatID, triggerOwner, engine)
		if err != nil && !errors.Is(err, session.ErrNoSession) {
			logger.Error("Schedule %s resume lookup failed: %v", sched.ID, err)
		}
		token = stored
	}

	if err := b.drain.BeginRun(); err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(ctx)
	editor := progress.NewEditor(b.tr, sched.ChatID, b.opts.Render)

	b.mu.Lock()
	if _, exists := b.running[sched.ChatID]; exists {
		b.mu.Unlock()
		cancel()
		b.drain.EndRun()
		return "", fmt.Errorf("chat %s already has a run in progress", sched.ChatID)
	}
	b.running[sched.ChatID] = &activeRun{cancel: cancel, editor: editor}
	b.mu.Unlock()

	b.reply(runCtx, sched.ChatID, fmt.Sprintf("⏰ Scheduled: cron:%s", sched.Name))

	req := b.buildRequest(sched.ChatID, engine, sched.Prompt, token)
	return b.executeRun(runCtx, sched.ChatID, triggerOwner, runner, req, editor)
}
