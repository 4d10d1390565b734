// Package platform abstracts the chat platform the engine talks to. The flow
// layer depends only on the Client interface and the sentinel errors; the
// Telegram implementation lives alongside it.
package platform

import (
	"context"
	"errors"

	"github.com/chatform/survey-engine/internal/keyboard"
)

// Sentinel errors the delivery protocol branches on.
var (
	// ErrNotModified means an edit would leave the message unchanged. Safe to
	// ignore.
	ErrNotModified = errors.New("platform: message not modified")

	// ErrNotFound means the target message no longer exists or is not
	// editable.
	ErrNotFound = errors.New("platform: message not found")

	// ErrUnsupportedEdit means the message cannot take this kind of edit,
	// e.g. editing the text of a media message.
	ErrUnsupportedEdit = errors.New("platform: edit not supported for this message")
)

// MessageOptions tune an outgoing or edited message.
type MessageOptions struct {
	Keyboard              [][]keyboard.Button
	DisableWebPagePreview bool
	ParseMode             string
}

// Client is the outbound surface towards the chat platform.
type Client interface {
	// SendText sends a text message and returns its id.
	SendText(ctx context.Context, chatID int64, text string, opts MessageOptions) (int64, error)

	// SendPhoto sends a photo by URL or file id, with an optional caption,
	// and returns the message id.
	SendPhoto(ctx context.Context, chatID int64, photo, caption string, opts MessageOptions) (int64, error)

	// EditText replaces the text and keyboard of an existing message.
	EditText(ctx context.Context, chatID, messageID int64, text string, opts MessageOptions) error

	// EditCaption replaces the caption of an existing media message.
	EditCaption(ctx context.Context, chatID, messageID int64, caption string, opts MessageOptions) error

	// DeleteMessage removes a message.
	DeleteMessage(ctx context.Context, chatID, messageID int64) error

	// AnswerCallback acknowledges a callback press, optionally showing text
	// to the user.
	AnswerCallback(ctx context.Context, callbackID, text string, showAlert bool) error

	// SetCommands publishes the bot command menu.
	SetCommands(ctx context.Context, commands []BotCommand) error
}

// BotCommand is one entry of the published command menu.
type BotCommand struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}
