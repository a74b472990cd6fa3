// Package transport abstracts the bot-messaging backend.
//
// transport.go - Transport interface and message types
//
// This file contains:
// - Message, Keyboard, and Update types
// - The Transport interface implemented by messaging backends
// - Callback-data size validation (64-byte button budget)
//
// The bridge only ever talks to this interface; the concrete backend
// (Telegram) lives in a subpackage.

package transport

import (
	"context"
	"fmt"
)

// MaxCallbackData is the byte budget for one button's callback data
const MaxCallbackData = 64

// MaxMessageText is the byte budget for one message's text. Backends
// reject longer messages outright.
const MaxMessageText = 4096

// Button is one inline-keyboard button
type Button struct {
	Text string
	Data string
}

// Keyboard is rows of buttons attached to a message
type Keyboard [][]Button

// Message is an outgoing chat message
type Message struct {
	ChatID   string
	Text     string
	Keyboard Keyboard

	// Markdown enables the backend's rich-text parse mode
	Markdown bool

	// Silent suppresses the client-side notification
	Silent bool
}

// Callback is a button press delivered by the backend
type Callback struct {
	ID        string
	ChatID    string
	MessageID string
	Data      string
	UserID    string
}

// Update is one incoming item from the backend
type Update struct {
	// Message fields; empty for callback updates
	ChatID    string
	MessageID string
	Text      string
	UserID    string

	// Callback is set for button presses
	Callback *Callback
}

// Transport sends, edits, and receives chat messages
type Transport interface {
	// SendMessage delivers a message and returns its backend message id
	SendMessage(ctx context.Context, msg *Message) (string, error)

	// EditMessage rewrites an existing message's text and keyboard
	EditMessage(ctx context.Context, chatID, messageID, text string, keyboard Keyboard, markdown bool) error

	// DeleteMessage removes a message
	DeleteMessage(ctx context.Context, chatID, messageID string) error

	// AnswerCallback acknowledges a button press, optionally with a toast
	AnswerCallback(ctx context.Context, callbackID, toast string) error

	// Updates streams incoming messages and callbacks until ctx ends
	Updates(ctx context.Context) (<-chan *Update, error)
}

// ValidateKeyboard rejects keyboards whose callback data exceeds the
// per-button budget. Over-budget data is silently dropped by some
// backends, which surfaces as dead buttons.
func ValidateKeyboard(kb Keyboard) error {
	for _, row := range kb {
		for _, btn := range row {
			if len(btn.Data) > MaxCallbackData {
				return fmt.Errorf("callback data %d bytes exceeds %d byte limit: %q", len(btn.Data), MaxCallbackData, btn.Data)
			}
		}
	}
	return nil
}
