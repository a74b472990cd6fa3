// Package progress accumulates canonical events into renderable state.
//
// editor.go - Rate-limited anchor message editing
//
// This file contains:
// - Editor owning one chat's anchor message
// - The coalescing flush loop paced by a rate limiter
// - Keyboard-removal detection and ephemeral cleanup
//
// Edits are best-effort: a failed edit is logged and skipped, the next
// flush retries with the latest snapshot. Later snapshots always
// supersede earlier ones; an older render can never overwrite a newer
// one because the flush loop reads the latest state under the lock.

package progress

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/HyphaGroup/herald/internal/logger"
	"github.com/HyphaGroup/herald/internal/metrics"
	"github.com/HyphaGroup/herald/internal/transport"
)

// editInterval is the minimum spacing between anchor edits
const editInterval = time.Second

// Editor drives one anchor message through a run's lifetime
type Editor struct {
	tr     transport.Transport
	chatID string
	opts   RenderOptions

	limiter *rate.Limiter

	mu          sync.Mutex
	anchorID    string
	latest      *Snapshot
	latestKb    transport.Keyboard
	flushing    bool
	hadApproval bool
	ephemeral   []string
}

// NewEditor creates an editor for one chat. The anchor message is sent
// lazily on the first update.
func NewEditor(tr transport.Transport, chatID string, opts RenderOptions) *Editor {
	return &Editor{
		tr:      tr,
		chatID:  chatID,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(editInterval), 1),
	}
}

// AnchorID returns the current anchor message id, if one exists
func (e *Editor) AnchorID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.anchorID
}

// RegisterEphemeral ties a transient notification message to the anchor
// so it is deleted when the keyboard resolves or the run ends.
func (e *Editor) RegisterEphemeral(messageID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ephemeral = append(e.ephemeral, messageID)
}

// Update records the newest snapshot and keyboard, starting the flush
// loop if it is idle. Snapshots landing inside the edit interval are
// coalesced: only the latest is rendered.
func (e *Editor) Update(ctx context.Context, snap *Snapshot, kb transport.Keyboard) {
	e.mu.Lock()
	if e.latest != nil {
		metrics.RecordProgressEdit("coalesced")
	}
	e.latest = snap
	e.latestKb = kb
	if e.flushing {
		e.mu.Unlock()
		return
	}
	e.flushing = true
	e.mu.Unlock()

	go e.flushLoop(ctx)
}

func (e *Editor) flushLoop(ctx context.Context) {
	for {
		if err := e.limiter.Wait(ctx); err != nil {
			e.mu.Lock()
			e.flushing = false
			e.mu.Unlock()
			return
		}

		e.mu.Lock()
		snap := e.latest
		kb := e.latestKb
		e.latest = nil
		if snap == nil {
			e.flushing = false
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()

		e.render(ctx, snap, kb)
	}
}

func (e *Editor) render(ctx context.Context, snap *Snapshot, kb transport.Keyboard) {
	text := clampText(RenderProgress(snap, e.opts))

	e.mu.Lock()
	anchorID := e.anchorID
	e.mu.Unlock()

	if anchorID == "" {
		id, err := e.tr.SendMessage(ctx, &transport.Message{
			ChatID:   e.chatID,
			Text:     text,
			Keyboard: kb,
			Markdown: true,
			Silent:   true,
		})
		if err != nil {
			logger.Error("Anchor send failed: chat=%s: %v", e.chatID, err)
			metrics.RecordProgressEdit("failed")
			return
		}
		e.mu.Lock()
		e.anchorID = id
		e.hadApproval = hasApprovalKeyboard(kb)
		e.mu.Unlock()
		metrics.RecordProgressEdit("sent")
		return
	}

	if err := e.tr.EditMessage(ctx, e.chatID, anchorID, text, kb, true); err != nil {
		logger.Error("Anchor edit failed: chat=%s msg=%s: %v", e.chatID, anchorID, err)
		metrics.RecordProgressEdit("failed")
		return
	}
	metrics.RecordProgressEdit("sent")

	e.mu.Lock()
	removed := e.hadApproval && !hasApprovalKeyboard(kb)
	e.hadApproval = hasApprovalKeyboard(kb)
	e.mu.Unlock()
	if removed {
		e.DrainEphemerals(ctx)
	}
}

// Finalize replaces the anchor with a loud terminal message and cleans
// up all ephemeral notifications. Returns the final message id.
func (e *Editor) Finalize(ctx context.Context, text string) (string, error) {
	text = clampText(text)

	e.mu.Lock()
	anchorID := e.anchorID
	e.anchorID = ""
	e.latest = nil
	e.mu.Unlock()

	if anchorID != "" {
		if err := e.tr.DeleteMessage(ctx, e.chatID, anchorID); err != nil {
			logger.Error("Anchor delete failed: chat=%s msg=%s: %v", e.chatID, anchorID, err)
		}
	}
	e.DrainEphemerals(ctx)

	id, err := e.tr.SendMessage(ctx, &transport.Message{
		ChatID:   e.chatID,
		Text:     text,
		Markdown: true,
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// DrainEphemerals deletes every registered transient notification
func (e *Editor) DrainEphemerals(ctx context.Context) {
	e.mu.Lock()
	ids := e.ephemeral
	e.ephemeral = nil
	e.mu.Unlock()

	for _, id := range ids {
		if err := e.tr.DeleteMessage(ctx, e.chatID, id); err != nil {
			logger.Error("Ephemeral delete failed: chat=%s msg=%s: %v", e.chatID, id, err)
		}
	}
}

// clampText keeps outgoing text under the transport message limit.
// RenderProgress and RenderFinal budget their own bodies; this catches
// text that reached the editor without going through them.
func clampText(text string) string {
	if len(text) <= transport.MaxMessageText {
		return text
	}
	return TrimOverflow("", text, "")
}

// hasApprovalKeyboard reports whether the keyboard carries an
// Approve/Deny pair.
func hasApprovalKeyboard(kb transport.Keyboard) bool {
	for _, row := range kb {
		var approve, deny bool
		for _, btn := range row {
			if strings.HasPrefix(btn.Text, "Approve") {
				approve = true
			}
			if btn.Text == "Deny" {
				deny = true
			}
		}
		if approve && deny {
			return true
		}
	}
	return false
}
