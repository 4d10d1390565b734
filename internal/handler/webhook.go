package handler

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/chatform/survey-engine/internal/flow"
	"github.com/chatform/survey-engine/internal/platform"
	"github.com/chatform/survey-engine/pkg/logger"
)

// WebhookHandler ingests updates pushed by the chat platform and hands them
// to the per-chat flow manager.
type WebhookHandler struct {
	sessions *flow.Sessions
	secret   string
	logger   *logger.Logger
}

// NewWebhookHandler creates the webhook handler. secret, when non-empty, is
// matched against the platform's secret token header.
func NewWebhookHandler(sessions *flow.Sessions, secret string, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		sessions: sessions,
		secret:   secret,
		logger:   log,
	}
}

// Receive handles POST /webhook. The platform retries failed deliveries, so
// everything past decoding reports success and failures are only logged.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" {
		got := r.Header.Get("X-Telegram-Bot-Api-Secret-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid webhook secret")
			return
		}
	}

	var upd platform.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid update payload")
		return
	}

	userID, chatID := identify(&upd)
	if chatID == 0 {
		// Channel posts and other updates the engine does not handle.
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	mgr, err := h.sessions.Get(userID, chatID)
	if err != nil {
		h.logger.Error("could not create flow manager",
			zap.Int64("chat_id", chatID), zap.Error(err))
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	ctx := r.Context()
	mgr.Init(ctx)

	if !mgr.StartProcessing() {
		h.logger.Warn("conversation busy, dropping update",
			zap.Int64("chat_id", chatID), zap.Int64("update_id", upd.UpdateID))
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	defer mgr.EndProcessing()

	if _, err := mgr.ProcessUpdate(ctx, &upd); err != nil {
		h.logger.Error("processing update failed",
			zap.Int64("chat_id", chatID), zap.Int64("update_id", upd.UpdateID), zap.Error(err))
	}
	mgr.AnswerCallback(ctx)

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// identify extracts the sender and chat from an update.
func identify(upd *platform.Update) (userID, chatID int64) {
	switch {
	case upd.CallbackQuery != nil:
		if upd.CallbackQuery.From != nil {
			userID = upd.CallbackQuery.From.ID
		}
		if upd.CallbackQuery.Message != nil && upd.CallbackQuery.Message.Chat != nil {
			chatID = upd.CallbackQuery.Message.Chat.ID
		}
	case upd.Message != nil:
		if upd.Message.From != nil {
			userID = upd.Message.From.ID
		}
		if upd.Message.Chat != nil {
			chatID = upd.Message.Chat.ID
		}
	}
	return userID, chatID
}
