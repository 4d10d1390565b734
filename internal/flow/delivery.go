package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/chatform/survey-engine/internal/keyboard"
	"github.com/chatform/survey-engine/internal/model"
	"github.com/chatform/survey-engine/internal/platform"
	"github.com/chatform/survey-engine/pkg/metrics"
)

// removeMessage deletes a message, falling back to blanking it out when
// deletion fails. It reports whether the message ended up removed or
// rewritten; a false return means the stale dashboard is still on screen.
func (m *Manager) removeMessage(ctx context.Context, messageID int64) bool {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	if messageID == m.dashboardMsgID || m.survey == nil {
		// Forces the next delivery to send a fresh dashboard.
		m.dashboardMsgID = 0
	}

	err := m.client.DeleteMessage(ctx, m.chatID, messageID)
	if err == nil || errors.Is(err, platform.ErrNotFound) {
		metrics.RecordDelivery("remove", "ok")
		return true
	}

	// Deletion can fail on old messages; blank the message out instead.
	editErr := m.client.EditText(ctx, m.chatID, messageID, staleDashboardNotice, platform.MessageOptions{})
	if editErr == nil {
		metrics.RecordDelivery("remove", "edited")
		return true
	}
	if errors.Is(editErr, platform.ErrNotModified) {
		metrics.RecordDelivery("remove", "failed")
		return false
	}

	// The message may be a photo without editable text.
	capErr := m.client.EditCaption(ctx, m.chatID, messageID, staleDashboardNotice, platform.MessageOptions{})
	if capErr == nil {
		metrics.RecordDelivery("remove", "edited")
		return true
	}
	m.log.Warn("could not delete, edit text or edit caption",
		zap.Int64("message_id", messageID),
		zap.NamedError("delete_err", err),
		zap.NamedError("edit_err", editErr),
		zap.NamedError("caption_err", capErr))
	metrics.RecordDelivery("remove", "failed")
	return false
}

// SendQuestion renders a question onto the dashboard, editing the live
// message when possible and sending a fresh one otherwise.
func (m *Manager) SendQuestion(ctx context.Context, q *model.Question) error {
	if q == nil {
		return nil
	}
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	return m.doSendQuestion(ctx, q)
}

// questionText renders the display text of a question: underlined text plus
// the follow-up separated by the follow-up separator.
func questionText(q *model.Question) string {
	text := fmt.Sprintf("<u>%s</u>", q.Text)
	if strings.TrimSpace(q.FollowUp) == "" {
		return text
	}
	if q.FollowUpSeparator != "" {
		text += "\n" + q.FollowUpSeparator
	}
	return text + "\n" + q.FollowUp
}

// doSendQuestion runs the delivery protocol. Callers hold sendMu.
func (m *Manager) doSendQuestion(ctx context.Context, q *model.Question) error {
	if m.survey == nil {
		m.log.Debug("no survey to render question on", zap.Int64("question_id", q.ID))
		return nil
	}
	surv := m.survey

	if err := m.store.SaveQuestion(ctx, q); err != nil {
		return fmt.Errorf("save question before delivery: %w", err)
	}
	if !surv.IsActive {
		m.log.Warn("rendering question on inactive survey",
			zap.Int64("survey_id", surv.ID),
			zap.Bool("completed", surv.IsCompleted),
			zap.Bool("cancelled", surv.IsCancelled))
	}

	// Stamp the question id into the choices so callbacks correlate back.
	q.StampChoices()
	rows := keyboard.Layout(q.Choices(), q.MaxButtonsPerRow, m.log)
	text := questionText(q)
	opts := platform.MessageOptions{
		Keyboard:              rows,
		ParseMode:             "HTML",
		DisableWebPagePreview: q.DisableWebPagePreview,
	}

	// A text message cannot be edited into a photo, so the old dashboard
	// goes away first.
	if q.ImageURL != "" && m.dashboardMsgID != 0 {
		if err := m.client.DeleteMessage(ctx, m.chatID, m.dashboardMsgID); err != nil {
			m.log.Debug("delete dashboard before photo", zap.Error(err))
		}
		m.dashboardMsgID = 0
	}

	var sent int64
	notModified := false
	if m.dashboardMsgID != 0 {
		err := m.client.EditText(ctx, m.chatID, m.dashboardMsgID, text, opts)
		switch {
		case err == nil:
			sent = m.dashboardMsgID
			metrics.RecordDelivery("edit", "ok")
		case errors.Is(err, platform.ErrNotModified):
			notModified = true
			metrics.RecordDelivery("edit", "not_modified")
		case errors.Is(err, platform.ErrNotFound):
			// The dashboard is gone; a new message goes out below.
			metrics.RecordDelivery("edit", "not_found")
		case errors.Is(err, platform.ErrUnsupportedEdit):
			if derr := m.client.DeleteMessage(ctx, m.chatID, m.dashboardMsgID); derr != nil {
				m.log.Debug("delete uneditable dashboard", zap.Error(derr))
			}
			metrics.RecordDelivery("edit", "unsupported")
		default:
			m.log.Error("editing dashboard failed, sending a new one",
				zap.Int64("message_id", m.dashboardMsgID), zap.Error(err))
			metrics.RecordDelivery("edit", "error")
		}
	}

	if sent == 0 && !notModified {
		if q.ImageURL != "" {
			id, err := m.client.SendPhoto(ctx, m.chatID, q.ImageURL, text, opts)
			if err != nil {
				m.log.Error("sending question photo",
					zap.String("image_url", q.ImageURL), zap.Error(err))
			} else {
				sent = id
			}
		}
		if sent == 0 {
			id, err := m.client.SendText(ctx, m.chatID, text, opts)
			if err != nil {
				metrics.RecordDelivery("send", "error")
				return fmt.Errorf("send question: %w", err)
			}
			sent = id
		}
		metrics.RecordDelivery("send", "ok")
		m.recentMessageSent = 0
	}

	if sent == 0 {
		// Not modified: the dashboard already shows this question.
		return nil
	}

	m.dashboardMsgID = sent
	if surv.MessageID != sent {
		m.log.Debug("survey dashboard message changed",
			zap.Int64("survey_id", surv.ID),
			zap.Int64("from", surv.MessageID),
			zap.Int64("to", sent))
		surv.MessageID = sent
		if err := m.store.SaveSurvey(ctx, surv, false); err != nil {
			return fmt.Errorf("save survey message id: %w", err)
		}
	}
	return nil
}

// UpdateShownQuestion re-renders a question only if it is the one currently
// on the dashboard.
func (m *Manager) UpdateShownQuestion(ctx context.Context, q *model.Question) error {
	if q == nil {
		return nil
	}
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	lastAsked := m.lastAskedQuestion(ctx)
	if lastAsked == nil {
		m.log.Debug("no last asked question to update")
		return nil
	}
	if q.InternalID != lastAsked.InternalID || q.SurveyID != lastAsked.SurveyID {
		m.log.Debug("question is not the one shown, skipping update",
			zap.Int("internal_id", q.InternalID),
			zap.Int("shown_internal_id", lastAsked.InternalID))
		return nil
	}
	return m.doSendQuestion(ctx, q)
}

func (m *Manager) lastAskedQuestion(ctx context.Context) *model.Question {
	if m.survey != nil {
		if q := m.survey.MostRecentQuestion(); q != nil {
			return q
		}
	}
	prev, err := m.store.MostRecentSurvey(ctx, m.userID)
	if err != nil {
		return nil
	}
	return prev.MostRecentQuestion()
}

// SendPreviousQuestion drops the last howMany questions and re-renders the
// one before them, reopened.
func (m *Manager) SendPreviousQuestion(ctx context.Context, howMany int) error {
	if m.survey == nil || howMany+1 > len(m.survey.Questions) {
		return nil
	}
	for i := 0; i < howMany; i++ {
		dropped := m.survey.RemoveLastQuestion()
		if dropped == nil {
			break
		}
		if err := m.store.DeleteQuestion(ctx, dropped.ID); err != nil {
			m.log.Error("delete question while going back", zap.Error(err))
		}
	}
	prev := m.survey.MostRecentQuestion()
	if prev == nil {
		return nil
	}
	prev.IsCompleted = false
	return m.SendQuestion(ctx, prev)
}

// SendMessage sends a loose message to the chat, outside the dashboard. The
// dashboard is considered scrolled up afterwards.
func (m *Manager) SendMessage(ctx context.Context, text string, opts platform.MessageOptions) (int64, error) {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	if opts.ParseMode == "" {
		opts.ParseMode = "HTML"
	}
	id, err := m.client.SendText(ctx, m.chatID, text, opts)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	m.recentMessageSent++
	return id, nil
}

// SendPhoto sends a loose photo message to the chat.
func (m *Manager) SendPhoto(ctx context.Context, photo, caption string) (int64, error) {
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	id, err := m.client.SendPhoto(ctx, m.chatID, photo, caption, platform.MessageOptions{})
	if err != nil {
		return 0, fmt.Errorf("send photo: %w", err)
	}
	m.recentMessageSent++
	return id, nil
}

// AnswerCallback acknowledges the callback press of the current interaction,
// flushing any accumulated notice. Repeat calls are no-ops.
func (m *Manager) AnswerCallback(ctx context.Context) {
	in := m.current
	if in == nil || !in.IsCallback || in.Answered() {
		return
	}
	msg := strings.TrimSpace(in.Notice())
	in.ClearNotice()
	in.MarkAnswered()
	if err := m.client.AnswerCallback(ctx, in.CallbackID, msg, msg != ""); err != nil {
		m.log.Debug("answering callback", zap.String("callback_id", in.CallbackID), zap.Error(err))
	}
}
