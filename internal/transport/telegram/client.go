// Package telegram implements the transport over the Telegram Bot API.
//
// client.go - Bot API client with long-polling updates
//
// This file contains:
// - Client construction and startup auth check (getMe)
// - Send, edit, delete, and callback-answer calls
// - The getUpdates long-poll loop feeding the Updates channel
//
// Only the handful of Bot API methods the bridge needs are wired; each
// call is a straight POST of a JSON body to the method endpoint.

package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/HyphaGroup/herald/internal/logger"
	"github.com/HyphaGroup/herald/internal/transport"
)

const (
	defaultBaseURL = "https://api.telegram.org"
	pollTimeout    = 50 * time.Second
	updateBuffer   = 128
)

// ErrUnauthorized means the bot token was rejected by the API
var ErrUnauthorized = errors.New("telegram: bot token rejected")

// Client talks to the Telegram Bot API for one bot token
type Client struct {
	token   string
	baseURL string
	http    *http.Client

	// AllowedUserIDs restricts who may talk to the bot; empty allows all
	AllowedUserIDs map[string]bool
}

// New creates a client. Pass baseURL "" for the public API.
func New(token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		token:   token,
		baseURL: baseURL,
		http:    &http.Client{Timeout: pollTimeout + 10*time.Second},
	}
}

// apiResponse is the Bot API envelope
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

func (c *Client) call(ctx context.Context, method string, body interface{}, result interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return fmt.Errorf("%s read: %w", method, err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("%s decode: %w", method, err)
	}
	if !envelope.OK {
		if envelope.ErrorCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %s", ErrUnauthorized, envelope.Description)
		}
		return fmt.Errorf("%s: api error %d: %s", method, envelope.ErrorCode, envelope.Description)
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("%s result decode: %w", method, err)
		}
	}
	return nil
}

// CheckAuth verifies the bot token with getMe
func (c *Client) CheckAuth(ctx context.Context) error {
	var me struct {
		Username string `json:"username"`
	}
	if err := c.call(ctx, "getMe", map[string]interface{}{}, &me); err != nil {
		return err
	}
	logger.Info("Telegram bot authenticated: @%s", me.Username)
	return nil
}

// inlineKeyboard converts the transport keyboard to the wire shape
func inlineKeyboard(kb transport.Keyboard) interface{} {
	if len(kb) == 0 {
		return nil
	}
	type button struct {
		Text         string `json:"text"`
		CallbackData string `json:"callback_data"`
	}
	rows := make([][]button, 0, len(kb))
	for _, row := range kb {
		out := make([]button, 0, len(row))
		for _, btn := range row {
			out = append(out, button{Text: btn.Text, CallbackData: btn.Data})
		}
		rows = append(rows, out)
	}
	return map[string]interface{}{"inline_keyboard": rows}
}

// SendMessage delivers a message and returns its message id
func (c *Client) SendMessage(ctx context.Context, msg *transport.Message) (string, error) {
	if err := transport.ValidateKeyboard(msg.Keyboard); err != nil {
		return "", err
	}
	body := map[string]interface{}{
		"chat_id": msg.ChatID,
		"text":    msg.Text,
	}
	if msg.Markdown {
		body["parse_mode"] = "Markdown"
	}
	if msg.Silent {
		body["disable_notification"] = true
	}
	if kb := inlineKeyboard(msg.Keyboard); kb != nil {
		body["reply_markup"] = kb
	}

	var sent struct {
		MessageID int64 `json:"message_id"`
	}
	if err := c.call(ctx, "sendMessage", body, &sent); err != nil {
		return "", err
	}
	return strconv.FormatInt(sent.MessageID, 10), nil
}

// EditMessage rewrites an existing message
func (c *Client) EditMessage(ctx context.Context, chatID, messageID, text string, keyboard transport.Keyboard, markdown bool) error {
	if err := transport.ValidateKeyboard(keyboard); err != nil {
		return err
	}
	body := map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}
	if markdown {
		body["parse_mode"] = "Markdown"
	}
	if kb := inlineKeyboard(keyboard); kb != nil {
		body["reply_markup"] = kb
	}
	return c.call(ctx, "editMessageText", body, nil)
}

// DeleteMessage removes a message
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	return c.call(ctx, "deleteMessage", map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
	}, nil)
}

// AnswerCallback acknowledges a button press
func (c *Client) AnswerCallback(ctx context.Context, callbackID, toast string) error {
	body := map[string]interface{}{"callback_query_id": callbackID}
	if toast != "" {
		body["text"] = toast
	}
	return c.call(ctx, "answerCallbackQuery", body, nil)
}

// wire shapes for getUpdates
type wireUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		From      *struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
	CallbackQuery *struct {
		ID   string `json:"id"`
		From struct {
			ID int64 `json:"id"`
		} `json:"from"`
		Message *struct {
			MessageID int64 `json:"message_id"`
			Chat      struct {
				ID int64 `json:"id"`
			} `json:"chat"`
		} `json:"message"`
		Data string `json:"data"`
	} `json:"callback_query"`
}

// Updates long-polls getUpdates until ctx is cancelled
func (c *Client) Updates(ctx context.Context) (<-chan *transport.Update, error) {
	out := make(chan *transport.Update, updateBuffer)

	go func() {
		defer close(out)
		var offset int64
		for {
			if ctx.Err() != nil {
				return
			}
			body := map[string]interface{}{
				"timeout":         int(pollTimeout.Seconds()),
				"offset":          offset,
				"allowed_updates": []string{"message", "callback_query"},
			}
			var updates []wireUpdate
			if err := c.call(ctx, "getUpdates", body, &updates); err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Error("getUpdates failed: %v", err)
				time.Sleep(3 * time.Second)
				continue
			}
			for _, wu := range updates {
				if wu.UpdateID >= offset {
					offset = wu.UpdateID + 1
				}
				update := c.convert(&wu)
				if update == nil {
					continue
				}
				select {
				case out <- update:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// convert maps a wire update to the transport shape, applying the
// allowed-user filter.
func (c *Client) convert(wu *wireUpdate) *transport.Update {
	if wu.Message != nil {
		userID := ""
		if wu.Message.From != nil {
			userID = strconv.FormatInt(wu.Message.From.ID, 10)
		}
		if !c.userAllowed(userID) {
			logger.Info("Dropping message from unauthorized user %s", userID)
			return nil
		}
		return &transport.Update{
			ChatID:    strconv.FormatInt(wu.Message.Chat.ID, 10),
			MessageID: strconv.FormatInt(wu.Message.MessageID, 10),
			Text:      wu.Message.Text,
			UserID:    userID,
		}
	}
	if wu.CallbackQuery != nil {
		cq := wu.CallbackQuery
		userID := strconv.FormatInt(cq.From.ID, 10)
		if !c.userAllowed(userID) {
			logger.Info("Dropping callback from unauthorized user %s", userID)
			return nil
		}
		cb := &transport.Callback{
			ID:     cq.ID,
			Data:   cq.Data,
			UserID: userID,
		}
		if cq.Message != nil {
			cb.ChatID = strconv.FormatInt(cq.Message.Chat.ID, 10)
			cb.MessageID = strconv.FormatInt(cq.Message.MessageID, 10)
		}
		return &transport.Update{
			ChatID:    cb.ChatID,
			MessageID: cb.MessageID,
			UserID:    userID,
			Callback:  cb,
		}
	}
	return nil
}

func (c *Client) userAllowed(userID string) bool {
	if len(c.AllowedUserIDs) == 0 {
		return true
	}
	return c.AllowedUserIDs[userID]
}
