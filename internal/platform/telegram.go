package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chatform/survey-engine/internal/keyboard"
)

const defaultAPIBase = "https://api.telegram.org"

// Telegram is the Bot API implementation of Client.
type Telegram struct {
	token   string
	baseURL string
	http    *http.Client
}

// TelegramOption customizes the Telegram client.
type TelegramOption func(*Telegram)

// WithBaseURL points the client at a different API endpoint, used by tests
// and local API servers.
func WithBaseURL(u string) TelegramOption {
	return func(t *Telegram) { t.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) TelegramOption {
	return func(t *Telegram) { t.http = c }
}

// NewTelegram creates a Bot API client.
func NewTelegram(token string, opts ...TelegramOption) (*Telegram, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	t := &Telegram{
		token:   token,
		baseURL: defaultAPIBase,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

// call posts a JSON payload to a Bot API method and decodes the result
// envelope.
func (t *Telegram) call(ctx context.Context, method string, payload any, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	var env apiResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !env.OK {
		return classifyError(method, env)
	}
	if result != nil {
		if err := json.Unmarshal(env.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// classifyError maps Bot API error descriptions onto the sentinel errors the
// delivery protocol branches on.
func classifyError(method string, env apiResponse) error {
	desc := strings.ToLower(env.Description)
	switch {
	case strings.Contains(desc, "message is not modified"):
		return fmt.Errorf("%s: %w", method, ErrNotModified)
	case strings.Contains(desc, "message to edit not found"),
		strings.Contains(desc, "message to delete not found"),
		strings.Contains(desc, "message can't be deleted"),
		strings.Contains(desc, "message can't be edited"):
		return fmt.Errorf("%s: %w", method, ErrNotFound)
	case strings.Contains(desc, "there is no text in the message to edit"),
		strings.Contains(desc, "there is no caption in the message to edit"):
		return fmt.Errorf("%s: %w", method, ErrUnsupportedEdit)
	}
	return fmt.Errorf("%s: api error %d: %s", method, env.ErrorCode, env.Description)
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
	Pay          bool   `json:"pay,omitempty"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

func markupFor(rows [][]keyboard.Button) *replyMarkup {
	if len(rows) == 0 {
		return nil
	}
	out := make([][]inlineButton, 0, len(rows))
	for _, row := range rows {
		btns := make([]inlineButton, 0, len(row))
		for _, b := range row {
			ib := inlineButton{Text: b.Label, Pay: b.Pay}
			if b.URL != "" {
				ib.URL = b.URL
			} else {
				ib.CallbackData = b.Data
			}
			btns = append(btns, ib)
		}
		out = append(out, btns)
	}
	return &replyMarkup{InlineKeyboard: out}
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

// SendText implements Client.
func (t *Telegram) SendText(ctx context.Context, chatID int64, text string, opts MessageOptions) (int64, error) {
	payload := map[string]any{
		"chat_id":                  chatID,
		"text":                     text,
		"disable_web_page_preview": opts.DisableWebPagePreview,
	}
	if opts.ParseMode != "" {
		payload["parse_mode"] = opts.ParseMode
	}
	if m := markupFor(opts.Keyboard); m != nil {
		payload["reply_markup"] = m
	}
	var msg sentMessage
	if err := t.call(ctx, "sendMessage", payload, &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// SendPhoto implements Client.
func (t *Telegram) SendPhoto(ctx context.Context, chatID int64, photo, caption string, opts MessageOptions) (int64, error) {
	payload := map[string]any{
		"chat_id": chatID,
		"photo":   photo,
	}
	if caption != "" {
		payload["caption"] = caption
	}
	if opts.ParseMode != "" {
		payload["parse_mode"] = opts.ParseMode
	}
	if m := markupFor(opts.Keyboard); m != nil {
		payload["reply_markup"] = m
	}
	var msg sentMessage
	if err := t.call(ctx, "sendPhoto", payload, &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// EditText implements Client.
func (t *Telegram) EditText(ctx context.Context, chatID, messageID int64, text string, opts MessageOptions) error {
	payload := map[string]any{
		"chat_id":                  chatID,
		"message_id":               messageID,
		"text":                     text,
		"disable_web_page_preview": opts.DisableWebPagePreview,
	}
	if opts.ParseMode != "" {
		payload["parse_mode"] = opts.ParseMode
	}
	if m := markupFor(opts.Keyboard); m != nil {
		payload["reply_markup"] = m
	}
	return t.call(ctx, "editMessageText", payload, nil)
}

// EditCaption implements Client.
func (t *Telegram) EditCaption(ctx context.Context, chatID, messageID int64, caption string, opts MessageOptions) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"caption":    caption,
	}
	if m := markupFor(opts.Keyboard); m != nil {
		payload["reply_markup"] = m
	}
	return t.call(ctx, "editMessageCaption", payload, nil)
}

// DeleteMessage implements Client.
func (t *Telegram) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	payload := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	}
	return t.call(ctx, "deleteMessage", payload, nil)
}

// AnswerCallback implements Client.
func (t *Telegram) AnswerCallback(ctx context.Context, callbackID, text string, showAlert bool) error {
	payload := map[string]any{
		"callback_query_id": callbackID,
		"show_alert":        showAlert,
	}
	if text != "" {
		payload["text"] = text
	}
	return t.call(ctx, "answerCallbackQuery", payload, nil)
}

// SetCommands implements Client.
func (t *Telegram) SetCommands(ctx context.Context, commands []BotCommand) error {
	payload := map[string]any{"commands": commands}
	return t.call(ctx, "setMyCommands", payload, nil)
}
