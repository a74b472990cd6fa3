// Package bridge connects the chat transport to agent runs.
//
// bridge.go - Update dispatch loop and chat commands
//
// This file contains:
// - Bridge wiring (factory, transport, stores, registries)
// - The incoming-update loop: messages, commands, callbacks
// - Pending-question answering from plain chat replies
//
// One run is active per chat at a time. Prompts arriving while a run is
// in flight either answer a pending agent question or are refused.

package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/HyphaGroup/herald/internal/agent"
	"github.com/HyphaGroup/herald/internal/control"
	"github.com/HyphaGroup/herald/internal/cost"
	"github.com/HyphaGroup/herald/internal/logger"
	"github.com/HyphaGroup/herald/internal/planmode"
	"github.com/HyphaGroup/herald/internal/progress"
	"github.com/HyphaGroup/herald/internal/session"
	"github.com/HyphaGroup/herald/internal/shutdown"
	"github.com/HyphaGroup/herald/internal/transport"
)

// EngineDefaults carries per-engine run parameters from configuration
type EngineDefaults struct {
	PermissionMode agent.PermissionMode
	Model          string
	AllowedTools   []string
	UseAPIBilling  bool
}

// Options configures bridge behavior
type Options struct {
	// Preamble is prepended to every chat prompt; empty disables
	Preamble string

	// Render controls the progress anchor appearance
	Render progress.RenderOptions

	// Engines maps engine id to its configured defaults
	Engines map[string]EngineDefaults

	// DefaultChatID receives trigger output when a webhook or
	// schedule names no chat of its own
	DefaultChatID string
}

// Bridge routes chat updates into agent runs and control responses
type Bridge struct {
	factory  *agent.Factory
	tr       transport.Transport
	store    *session.Store
	registry *control.Registry
	coord    *planmode.Coordinator
	costs    *cost.Tracker
	drain    *shutdown.Coordinator
	opts     Options

	mu      sync.Mutex
	running map[string]*activeRun // chatID -> in-flight run
}

// activeRun tracks one in-flight session per chat
type activeRun struct {
	cancel    context.CancelFunc
	editor    *progress.Editor
	sessionID string
}

// New creates a bridge. All collaborators are required except costs,
// which may be nil when no budget is configured.
func New(factory *agent.Factory, tr transport.Transport, store *session.Store,
	registry *control.Registry, coord *planmode.Coordinator,
	costs *cost.Tracker, drain *shutdown.Coordinator, opts Options) *Bridge {
	return &Bridge{
		factory:  factory,
		tr:       tr,
		store:    store,
		registry: registry,
		coord:    coord,
		costs:    costs,
		drain:    drain,
		opts:     opts,
		running:  make(map[string]*activeRun),
	}
}

// Run consumes transport updates until the context ends
func (b *Bridge) Run(ctx context.Context) error {
	updates, err := b.tr.Updates(ctx)
	if err != nil {
		return fmt.Errorf("transport updates: %w", err)
	}
	logger.Info("Bridge started, default engine %s", b.factory.DefaultEngine())

	for upd := range updates {
		if upd.Callback != nil {
			b.handleCallback(ctx, upd.Callback)
			continue
		}
		b.handleMessage(ctx, upd)
	}
	return nil
}

// handleMessage routes one chat message: command, question answer, or
// new run prompt.
func (b *Bridge) handleMessage(ctx context.Context, upd *transport.Update) {
	text := strings.TrimSpace(upd.Text)
	if text == "" {
		return
	}

	if strings.HasPrefix(text, "/") {
		b.handleCommand(ctx, upd, text)
		return
	}

	// A plain reply while the agent is waiting on a question answers it
	if b.chatHasRun(upd.ChatID) {
		if b.answerPendingAsk(ctx, upd, text) {
			return
		}
		b.reply(ctx, upd.ChatID, "A run is already in progress. Use /cancel to stop it.")
		return
	}

	b.startChatRun(ctx, upd.ChatID, upd.UserID, text)
}

// handleCommand implements the slash commands
func (b *Bridge) handleCommand(ctx context.Context, upd *transport.Update, text string) {
	fields := strings.Fields(text)
	cmd := strings.ToLower(fields[0])
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch cmd {
	case "/new":
		engine := b.engineForChat(upd.ChatID)
		if err := b.store.ClearResume(upd.ChatID, upd.UserID, engine); err != nil {
			b.reply(ctx, upd.ChatID, "Failed to clear the session: "+err.Error())
			return
		}
		b.reply(ctx, upd.ChatID, "Session cleared. The next prompt starts fresh.")

	case "/planmode":
		b.setPermissionMode(ctx, upd.ChatID, arg)

	case "/engine":
		b.setEngine(ctx, upd.ChatID, arg)

	case "/cancel":
		if b.cancelRun(upd.ChatID) {
			b.reply(ctx, upd.ChatID, "Cancelling the current run.")
		} else {
			b.reply(ctx, upd.ChatID, "No run is in progress.")
		}

	case "/status":
		b.reply(ctx, upd.ChatID, b.statusText(upd.ChatID))

	default:
		b.reply(ctx, upd.ChatID, "Unknown command "+cmd)
	}
}

func (b *Bridge) setPermissionMode(ctx context.Context, chatID, mode string) {
	prefs, err := b.store.GetPrefs(chatID)
	if err != nil {
		b.reply(ctx, chatID, "Failed to read preferences: "+err.Error())
		return
	}
	if mode == "" {
		current := prefs.PermissionMode
		if current == "" {
			current = "(engine default)"
		}
		b.reply(ctx, chatID, "Permission mode: "+current+"\nUsage: /planmode <plan|auto|acceptEdits|bypassPermissions|off>")
		return
	}
	if mode == "off" {
		mode = ""
	}
	prefs.PermissionMode = mode
	if err := b.store.SetPrefs(chatID, prefs); err != nil {
		b.reply(ctx, chatID, "Failed to save preferences: "+err.Error())
		return
	}
	if mode == "" {
		b.reply(ctx, chatID, "Permission mode reset to the engine default.")
	} else {
		b.reply(ctx, chatID, "Permission mode set to "+mode+".")
	}
}

func (b *Bridge) setEngine(ctx context.Context, chatID, engine string) {
	if engine == "" {
		b.reply(ctx, chatID, "Engine: "+b.engineForChat(chatID)+"\nAvailable: "+strings.Join(b.factory.Engines(), ", "))
		return
	}
	if _, err := b.factory.Get(engine); err != nil {
		b.reply(ctx, chatID, "Unknown engine "+engine+". Available: "+strings.Join(b.factory.Engines(), ", "))
		return
	}
	prefs, err := b.store.GetPrefs(chatID)
	if err != nil {
		b.reply(ctx, chatID, "Failed to read preferences: "+err.Error())
		return
	}
	prefs.Engine = engine
	if err := b.store.SetPrefs(chatID, prefs); err != nil {
		b.reply(ctx, chatID, "Failed to save preferences: "+err.Error())
		return
	}
	b.reply(ctx, chatID, "Engine set to "+engine+".")
}

func (b *Bridge) statusText(chatID string) string {
	b.mu.Lock()
	run, active := b.running[chatID]
	b.mu.Unlock()
	if !active {
		return "Idle. Engine: " + b.engineForChat(chatID)
	}
	label := run.sessionID
	if len(label) > 8 {
		label = label[:8]
	}
	if label == "" {
		label = "starting"
	}
	return "Run in progress (session " + label + ")."
}

// answerPendingAsk forwards a chat reply to the oldest waiting
// AskUserQuestion request. The answer travels as a deny response whose
// message embeds the user's text.
func (b *Bridge) answerPendingAsk(ctx context.Context, upd *transport.Update, text string) bool {
	requestID, _, ok := b.registry.OldestAsk()
	if !ok {
		return false
	}
	b.registry.PopAsk(requestID)

	msg := fmt.Sprintf("The user answered your question via the chat:\n\n%q\n\n"+
		"Use this answer and continue. Do not call AskUserQuestion again for this same question.", text)
	if err := b.registry.Respond(requestID, false, msg); err != nil {
		logger.Error("Failed to deliver question answer: %v", err)
		b.reply(ctx, upd.ChatID, "The question has expired; the run may have moved on.")
		return true
	}
	b.replyEphemeral(ctx, upd.ChatID, "Answer passed to the agent.")
	return true
}

// engineForChat resolves the engine preference for a chat
func (b *Bridge) engineForChat(chatID string) string {
	prefs, err := b.store.GetPrefs(chatID)
	if err == nil && prefs.Engine != "" {
		return prefs.Engine
	}
	return b.factory.DefaultEngine()
}

func (b *Bridge) chatHasRun(chatID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.running[chatID]
	return ok
}

// cancelRun cancels the chat's active run, if any
func (b *Bridge) cancelRun(chatID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	run, ok := b.running[chatID]
	if !ok {
		return false
	}
	run.cancel()
	return true
}

// reply sends a plain message, logging failures
func (b *Bridge) reply(ctx context.Context, chatID, text string) {
	if _, err := b.tr.SendMessage(ctx, &transport.Message{ChatID: chatID, Text: text}); err != nil {
		logger.Error("Failed to send reply to %s: %v", chatID, err)
	}
}

// replyEphemeral sends a message registered against the chat's active
// anchor so it is cleaned up when the run ends.
func (b *Bridge) replyEphemeral(ctx context.Context, chatID, text string) {
	id, err := b.tr.SendMessage(ctx, &transport.Message{ChatID: chatID, Text: text, Silent: true})
	if err != nil {
		logger.Error("Failed to send notice to %s: %v", chatID, err)
		return
	}
	b.mu.Lock()
	run, ok := b.running[chatID]
	b.mu.Unlock()
	if ok {
		run.editor.RegisterEphemeral(id)
	}
}
