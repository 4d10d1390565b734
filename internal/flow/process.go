package flow

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/chatform/survey-engine/internal/event"
	"github.com/chatform/survey-engine/internal/model"
	"github.com/chatform/survey-engine/internal/platform"
	"github.com/chatform/survey-engine/internal/storage"
	"github.com/chatform/survey-engine/pkg/metrics"
)

// ProcessUpdate normalizes an inbound update and runs it through the
// conversation state machine. The returned interaction carries the parsed
// command, the picked choice and any accumulated user notice.
func (m *Manager) ProcessUpdate(ctx context.Context, upd *platform.Update) (*model.Interaction, error) {
	if upd == nil {
		return nil, nil
	}
	in := m.interactionFrom(upd)
	if in == nil {
		return nil, nil
	}

	ctx, span := otel.Tracer("flow").Start(ctx, "ProcessUpdate")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("chat.id", m.chatID),
		attribute.Bool("interaction.callback", in.IsCallback),
	)

	return m.process(ctx, in)
}

// interactionFrom builds the normalized interaction for a message or a
// callback press.
func (m *Manager) interactionFrom(upd *platform.Update) *model.Interaction {
	var raw model.Interaction

	switch {
	case upd.CallbackQuery != nil:
		q := upd.CallbackQuery
		raw.IsCallback = true
		raw.CallbackID = q.ID
		raw.Text = q.Data
		if q.From != nil {
			raw.UserID = q.From.ID
			raw.Username = q.From.Username
			raw.FirstName = q.From.FirstName
		}
		if q.Message != nil {
			raw.MessageID = q.Message.MessageID
			if q.Message.Chat != nil {
				raw.ChatID = q.Message.Chat.ID
			}
		}
	case upd.Message != nil:
		msg := upd.Message
		raw.Text = msg.Text
		if msg.Text == "" && msg.Dice != nil {
			raw.Text = strconv.Itoa(msg.Dice.Value)
		}
		raw.PhotoID = msg.LargestPhoto()
		if msg.From != nil {
			raw.UserID = msg.From.ID
			raw.Username = msg.From.Username
			raw.FirstName = msg.From.FirstName
		}
		if msg.Chat != nil {
			raw.ChatID = msg.Chat.ID
		}
	default:
		return nil
	}

	return model.ParseInteraction(raw, m.botName, m.commandNames())
}

// process is the top of the state machine: load or create the survey, detect
// stale interactions, then route the input as a system choice, a command or
// an answer.
func (m *Manager) process(ctx context.Context, in *model.Interaction) (*model.Interaction, error) {
	m.current = in
	now := m.now()

	if in.IsCallback {
		metrics.RecordInteraction("callback")
	} else {
		metrics.RecordInteraction("message")
	}

	s, err := m.store.CurrentSurvey(ctx, m.userID, now, m.expiry)
	switch {
	case err == nil:
		m.survey = s
	case errors.Is(err, storage.ErrNotFound):
		if _, err := m.CreateNewSurvey(ctx); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("load current survey: %w", err)
	}

	mostRecent := m.survey.MostRecentQuestion()
	picked := in.PickedChoice

	originatingMsgID := in.MessageID
	if originatingMsgID == 0 {
		originatingMsgID = m.dashboardMsgID
	}
	var originatingQuestID int64
	switch {
	case picked != nil && picked.QuestionID != 0:
		originatingQuestID = picked.QuestionID
	case mostRecent != nil:
		originatingQuestID = mostRecent.ID
	}

	// A brand new survey may still have a stale dashboard on screen; look at
	// the previous survey to find the question it was rendering.
	if mostRecent == nil && originatingQuestID == 0 {
		if prev, err := m.store.MostRecentSurvey(ctx, m.userID); err == nil {
			if q := prev.MostRecentQuestion(); q != nil {
				originatingQuestID = q.ID
			}
		}
	}

	questIDMismatch := mostRecent != nil && mostRecent.ID != originatingQuestID
	msgIDMismatch := m.survey.MessageID != originatingMsgID
	dashboardScrolledUp := !in.IsCallback || m.recentMessageSent > 0

	// A stale, scrolled-up or mismatching dashboard message gets removed so
	// only one live dashboard remains.
	if originatingMsgID != 0 && (dashboardScrolledUp || questIDMismatch || msgIDMismatch) {
		m.log.Debug("removing clicked message",
			zap.Int64("originating_msg_id", originatingMsgID),
			zap.Bool("scrolled_up", dashboardScrolledUp),
			zap.Bool("quest_id_mismatch", questIDMismatch),
			zap.Bool("msg_id_mismatch", msgIDMismatch))
		if !m.removeMessage(ctx, originatingMsgID) {
			in.AddNotice(staleDashboardNotice)
		}
	}

	if questIDMismatch || msgIDMismatch {
		originating := mostRecent
		if picked != nil && mostRecent != nil && picked.QuestionID != mostRecent.ID {
			originating = nil
		}
		m.events.InvalidInteraction(ctx, tagsOf(mostRecent), &event.InvalidInteraction{
			Meta:         m.meta(),
			Interaction:  in,
			Answer:       in.Text,
			PickedChoice: picked,
			Question:     originating,
		})
		if in.Command != nil && in.Command.IsValid {
			m.processCommand(ctx, nil, nil)
		}
		return in, nil
	}

	var answer *model.Answer
	if mostRecent != nil {
		if picked != nil || in.PhotoID != "" {
			answer = model.NewAnswerFromInteraction(mostRecent, in, now)
		} else {
			answer = model.NewAnswer(mostRecent, in.Text, now)
		}
	}

	// Routing order: system choice, then command, then plain answer.
	switch {
	case picked != nil && picked.IsSystem():
		m.processSystemChoice(ctx, mostRecent, answer)
	case in.Command != nil && in.Command.IsValid:
		m.processCommand(ctx, mostRecent, answer)
	default:
		m.processAnswer(ctx, mostRecent, answer)
	}

	// The survey completes when its last question just did.
	if m.survey != nil && mostRecent != nil && mostRecent.IsCompleted &&
		m.survey.MostRecentQuestion() == mostRecent {
		if err := m.CompleteSurvey(ctx); err != nil {
			return nil, err
		}
	}

	if m.survey != nil {
		m.survey.LastInteractionAt = now
		if err := m.store.SaveSurvey(ctx, m.survey, false); err != nil {
			return nil, fmt.Errorf("save survey after interaction: %w", err)
		}
	}

	return in, nil
}

// processAnswer records a plain answer against the open question.
func (m *Manager) processAnswer(ctx context.Context, mostRecent *model.Question, answer *model.Answer) {
	in := m.current
	if mostRecent == nil || answer == nil || mostRecent.IsCompleted || mostRecent.ExpectsCommand {
		m.log.Debug("invalid interaction on answer", zap.String("interaction", in.String()))
		m.raiseInvalid(ctx, mostRecent, answer)
		return
	}
	mostRecent.AddAnswer(answer)
	if err := m.store.SaveQuestion(ctx, mostRecent); err != nil {
		m.log.Error("save answered question", zap.Error(err))
	}
	m.events.QuestionAnswered(ctx, tagsOf(mostRecent), &event.QuestionAnswered{
		Meta:     m.meta(),
		Question: mostRecent,
		Answer:   answer,
	})
}

// processSystemChoice handles the navigation primitives.
func (m *Manager) processSystemChoice(ctx context.Context, mostRecent *model.Question, answer *model.Answer) {
	in := m.current
	if mostRecent == nil || mostRecent.IsCompleted || answer == nil {
		m.log.Debug("invalid interaction on system choice", zap.String("interaction", in.String()))
		m.raiseInvalid(ctx, mostRecent, answer)
		return
	}

	picked := answer.PickedChoice
	hitCancel := picked.Is(model.CancelValue)
	hitSkip := picked.Is(model.SkipValue)
	hitBack := len(m.survey.Questions) > 1 && picked.Is(model.BackValue)

	if hitBack {
		answer.Text = ""
		m.survey.RemoveLastQuestion()
		if err := m.store.DeleteQuestion(ctx, mostRecent.ID); err != nil {
			m.log.Error("delete question on back", zap.Error(err))
		}
		if prev := m.survey.MostRecentQuestion(); prev != nil {
			prev.IsCompleted = false
			if err := m.store.SaveQuestion(ctx, prev); err != nil {
				m.log.Error("reopen previous question", zap.Error(err))
			}
		}
		m.events.QuestionChanged(ctx, tagsOf(mostRecent), &event.QuestionChanged{
			Meta:     m.meta(),
			Question: mostRecent,
			HitBack:  true,
		})
		return
	}

	mostRecent.AddAnswer(answer)
	page := 0
	if picked.Param != "" {
		page, _ = strconv.Atoi(picked.Param)
	}

	switch {
	case hitSkip:
		answer.Text = ""
		mostRecent.IsCompleted = !mostRecent.IsMandatory
		if mostRecent.IsCompleted {
			m.events.QuestionChanged(ctx, tagsOf(mostRecent), &event.QuestionChanged{
				Meta:     m.meta(),
				Question: mostRecent,
				HitSkip:  true,
			})
		} else {
			m.log.Debug("skip on mandatory question", zap.String("interaction", in.String()))
			m.raiseInvalid(ctx, mostRecent, answer)
		}
	case hitCancel:
		answer.Text = ""
		if _, err := m.CancelSurvey(ctx); err != nil {
			m.log.Error("cancel survey", zap.Error(err))
		}
	case picked.Is(model.PayValue):
		mostRecent.IsCompleted = true
		m.events.PayReceived(ctx, tagsOf(mostRecent), &event.PayReceived{
			Meta:     m.meta(),
			Question: mostRecent,
		})
	case picked.Is(model.CurrPageValue):
		m.events.ChangePage(ctx, tagsOf(mostRecent), &event.ChangePage{
			Meta:          m.meta(),
			Question:      mostRecent,
			CurrentPage:   page,
			RequestedPage: page,
		})
	case picked.Is(model.NextPageValue):
		m.events.ChangePage(ctx, tagsOf(mostRecent), &event.ChangePage{
			Meta:          m.meta(),
			Question:      mostRecent,
			CurrentPage:   page,
			RequestedPage: page + 1,
		})
	case picked.Is(model.PrevPageValue):
		m.events.ChangePage(ctx, tagsOf(mostRecent), &event.ChangePage{
			Meta:          m.meta(),
			Question:      mostRecent,
			CurrentPage:   page,
			RequestedPage: page - 1,
		})
	default:
		// Back with a single question lands here too.
		m.log.Debug("unhandled system choice", zap.String("choice", picked.Value))
		m.raiseInvalid(ctx, mostRecent, answer)
	}

	if err := m.store.SaveQuestion(ctx, mostRecent); err != nil {
		m.log.Error("save question after system choice", zap.Error(err))
	}
}

// processCommand handles a parsed command. Commands that break the flow of a
// question that does not expect them raise an invalid interaction, but the
// command notification fires regardless.
func (m *Manager) processCommand(ctx context.Context, mostRecent *model.Question, answer *model.Answer) {
	in := m.current
	if mostRecent != nil && (!mostRecent.ExpectsCommand || mostRecent.IsCompleted) {
		m.log.Debug("command broke the flow", zap.String("interaction", in.String()))
		m.raiseInvalid(ctx, mostRecent, answer)
	}

	if mostRecent != nil && mostRecent.ExpectsCommand && !mostRecent.IsCompleted {
		mostRecent.AddAnswer(answer)
		if err := m.store.SaveQuestion(ctx, mostRecent); err != nil {
			m.log.Error("save command answer", zap.Error(err))
		}
	}

	m.events.CommandReceived(ctx, tagsOf(mostRecent), &event.CommandReceived{
		Meta:        m.meta(),
		Command:     in.Command,
		Question:    mostRecent,
		Interaction: in,
	})
}

func (m *Manager) raiseInvalid(ctx context.Context, q *model.Question, answer *model.Answer) {
	in := m.current
	var picked *model.Choice
	if answer != nil {
		picked = answer.PickedChoice
	} else if in != nil {
		picked = in.PickedChoice
	}
	var text string
	if in != nil {
		text = in.Text
	}
	m.events.InvalidInteraction(ctx, tagsOf(q), &event.InvalidInteraction{
		Meta:         m.meta(),
		Interaction:  in,
		Answer:       text,
		PickedChoice: picked,
		Question:     q,
	})
}

// CompleteSurvey marks the current survey completed and raises the
// completion event with the final answers.
func (m *Manager) CompleteSurvey(ctx context.Context) error {
	if m.survey == nil {
		return nil
	}
	m.survey.Complete(m.now())
	if err := m.store.SaveSurvey(ctx, m.survey, false); err != nil {
		return fmt.Errorf("save completed survey: %w", err)
	}
	metrics.RecordSurvey("completed")

	done := m.survey
	m.events.SurveyCompleted(ctx, tagsOf(done.MostRecentQuestion()), &event.SurveyCompleted{
		Meta:    m.meta(),
		Survey:  done,
		Answers: done.LastAnswers(),
	})
	m.survey = nil
	return nil
}

// CancelSurvey marks the current survey cancelled and raises the
// cancellation event. It returns the answers given so far.
func (m *Manager) CancelSurvey(ctx context.Context) ([]*model.Answer, error) {
	if m.survey == nil {
		return nil, nil
	}
	m.survey.Cancel(m.now())
	if err := m.store.SaveSurvey(ctx, m.survey, false); err != nil {
		return nil, fmt.Errorf("save cancelled survey: %w", err)
	}
	metrics.RecordSurvey("cancelled")

	cancelled := m.survey
	answers := cancelled.LastAnswers()
	meta := m.meta()
	m.survey = nil
	m.events.SurveyCancelled(ctx, tagsOf(cancelled.MostRecentQuestion()), &event.SurveyCancelled{
		Meta:     meta,
		Survey:   cancelled,
		Question: cancelled.MostRecentQuestion(),
		Answers:  answers,
	})
	return answers, nil
}
