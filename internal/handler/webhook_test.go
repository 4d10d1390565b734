package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatform/survey-engine/internal/event"
	"github.com/chatform/survey-engine/internal/flow"
	"github.com/chatform/survey-engine/internal/platform"
	"github.com/chatform/survey-engine/internal/storage"
	"github.com/chatform/survey-engine/pkg/logger"
)

// stubClient satisfies platform.Client without talking to anything.
type stubClient struct{ nextID int64 }

func (s *stubClient) SendText(context.Context, int64, string, platform.MessageOptions) (int64, error) {
	s.nextID++
	return s.nextID, nil
}

func (s *stubClient) SendPhoto(context.Context, int64, string, string, platform.MessageOptions) (int64, error) {
	s.nextID++
	return s.nextID, nil
}

func (s *stubClient) EditText(context.Context, int64, int64, string, platform.MessageOptions) error {
	return nil
}

func (s *stubClient) EditCaption(context.Context, int64, int64, string, platform.MessageOptions) error {
	return nil
}

func (s *stubClient) DeleteMessage(context.Context, int64, int64) error { return nil }

func (s *stubClient) AnswerCallback(context.Context, string, string, bool) error { return nil }

func (s *stubClient) SetCommands(context.Context, []platform.BotCommand) error { return nil }

func testSessions(t *testing.T) *flow.Sessions {
	t.Helper()
	store := storage.NewMemory()
	client := &stubClient{}
	dispatcher := event.NewDispatcher(event.NewRegistry(), zap.NewNop())
	return flow.NewSessions(func(userID, chatID int64) (*flow.Manager, error) {
		return flow.NewManager(flow.Config{
			BotName: "surveybot",
			UserID:  userID,
			ChatID:  chatID,
			Store:   store,
			Client:  client,
			Events:  dispatcher,
			Expiry:  30 * time.Minute,
		})
	})
}

func newTestLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

func postUpdate(t *testing.T, h *WebhookHandler, body, secret string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	if secret != "" {
		req.Header.Set("X-Telegram-Bot-Api-Secret-Token", secret)
	}
	rec := httptest.NewRecorder()
	h.Receive(rec, req)
	return rec
}

const startUpdate = `{
	"update_id": 1,
	"message": {
		"message_id": 10,
		"from": {"id": 7, "username": "sam"},
		"chat": {"id": 7},
		"text": "/start"
	}
}`

func TestWebhookSecret(t *testing.T) {
	h := NewWebhookHandler(testSessions(t), "hunter2", newTestLogger())

	t.Run("missing secret", func(t *testing.T) {
		rec := postUpdate(t, h, startUpdate, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		rec := postUpdate(t, h, startUpdate, "hunter3")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("correct secret", func(t *testing.T) {
		rec := postUpdate(t, h, startUpdate, "hunter2")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestWebhookRejectsBadPayload(t *testing.T) {
	h := NewWebhookHandler(testSessions(t), "", newTestLogger())

	rec := postUpdate(t, h, "{not json", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookProcessesUpdate(t *testing.T) {
	sessions := testSessions(t)
	h := NewWebhookHandler(sessions, "", newTestLogger())

	rec := postUpdate(t, h, startUpdate, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, 1, sessions.Len(), "a flow manager was created for the chat")
}

func TestWebhookIgnoresUpdatesWithoutChat(t *testing.T) {
	sessions := testSessions(t)
	h := NewWebhookHandler(sessions, "", newTestLogger())

	rec := postUpdate(t, h, `{"update_id": 2}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, sessions.Len())
}
