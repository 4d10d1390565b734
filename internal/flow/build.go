package flow

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/chatform/survey-engine/internal/middleware"
	"github.com/chatform/survey-engine/internal/model"
)

// QuestionSpec describes a question to add to the open survey.
type QuestionSpec struct {
	// InternalID correlates the question across re-asks; 0 for one-off
	// questions.
	InternalID int

	Text              string
	FollowUp          string
	FollowUpSeparator string
	ImageURL          string

	IsMandatory            bool
	WithPay                bool
	PickOnlyDefaultAnswers bool
	ExpectsCommand         bool

	// FieldType defaults to FieldString.
	FieldType   model.FieldType
	Choices     []model.Choice
	Constraints []model.Constraint

	CurrentPage int
	HasNextPage bool
	HasPrevPage bool

	ShowSkip   bool
	ShowBack   bool
	ShowCancel bool

	MaxButtonsPerRow      int
	DisableWebPagePreview bool

	HandlerTag string
	EventHook  string
}

// PageSpec describes an in-place update of a question. Nil pointer fields
// keep the current value; nil Choices keeps the current domain choices while
// the navigation choices are rebuilt from the flags.
type PageSpec struct {
	Text     *string
	FollowUp *string

	Choices []model.Choice

	CurrentPage int
	HasNextPage bool
	HasPrevPage bool

	ShowSkip   bool
	ShowBack   bool
	ShowCancel bool

	ExpectsCommand *bool
}

// navigationChoices builds the trailing navigation choices from the paging
// and navigation flags. Page navigation carries the current page in Param.
func navigationChoices(currentPage int, hasPrev, hasNext, showBack, showCancel, showSkip, isMandatory bool) []model.Choice {
	var out []model.Choice
	page := strconv.Itoa(currentPage)
	if hasPrev {
		c := model.PrevPageChoice()
		c.Param = page
		out = append(out, c)
	}
	if hasPrev || hasNext {
		c := model.CurrPageChoice()
		c.Param = page
		out = append(out, c)
	}
	if hasNext {
		c := model.NextPageChoice()
		c.Param = page
		out = append(out, c)
	}
	if showBack {
		out = append(out, model.BackChoice())
	}
	if showCancel {
		out = append(out, model.CancelChoice())
	}
	if !isMandatory && showSkip {
		out = append(out, model.SkipChoice())
	}
	return out
}

// AddQuestion appends a question to the open survey, creating the survey if
// none is open, and persists both.
func (m *Manager) AddQuestion(ctx context.Context, spec QuestionSpec) (*model.Question, error) {
	if err := middleware.ValidateQuestionText(spec.Text); err != nil {
		return nil, fmt.Errorf("add question: %w", err)
	}
	for _, c := range spec.Choices {
		if c.Is(model.NewKeyboardLineValue) {
			continue
		}
		if err := middleware.ValidateChoiceValue(c.Value); err != nil {
			return nil, fmt.Errorf("add question: choice %q: %w", c.Value, err)
		}
	}

	if m.survey == nil {
		if _, err := m.CreateNewSurvey(ctx); err != nil {
			return nil, err
		}
	}

	choices := append([]model.Choice(nil), spec.Choices...)
	choices = append(choices, navigationChoices(spec.CurrentPage,
		spec.HasPrevPage, spec.HasNextPage,
		spec.ShowBack, spec.ShowCancel, spec.ShowSkip, spec.IsMandatory)...)
	if spec.WithPay {
		// The pay button stays on top.
		choices = append([]model.Choice{model.PayChoice()}, choices...)
	}

	fieldType := spec.FieldType
	if fieldType == model.FieldNone {
		fieldType = model.FieldString
	}

	q := model.NewQuestion(spec.InternalID, m.now())
	q.SurveyID = m.survey.ID
	q.FieldType = fieldType
	q.IsMandatory = spec.IsMandatory
	q.PickOnlyDefaultAnswers = spec.PickOnlyDefaultAnswers
	q.ExpectsCommand = spec.ExpectsCommand
	q.Text = spec.Text
	q.FollowUp = spec.FollowUp
	q.FollowUpSeparator = spec.FollowUpSeparator
	q.ImageURL = spec.ImageURL
	q.MaxButtonsPerRow = spec.MaxButtonsPerRow
	q.DisableWebPagePreview = spec.DisableWebPagePreview
	q.HandlerTag = spec.HandlerTag
	q.EventHook = spec.EventHook

	q.DeriveConstraint()
	q.AddConstraints(spec.Constraints...)
	q.AddChoices(choices)

	m.survey.Questions = append(m.survey.Questions, q)
	if err := m.store.SaveSurvey(ctx, m.survey, true); err != nil {
		return nil, fmt.Errorf("save survey with new question: %w", err)
	}
	return q, nil
}

// ChangePage updates a question in place: new text, new choices, new
// navigation. The question reopens, so the same dashboard message keeps
// collecting input.
func (m *Manager) ChangePage(ctx context.Context, q *model.Question, spec PageSpec) error {
	if q == nil {
		return nil
	}
	if m.survey == nil {
		return fmt.Errorf("change page: no open survey for question %d", q.ID)
	}
	if !m.survey.IsActive {
		m.log.Warn("changing page on inactive survey",
			zap.Int64("survey_id", m.survey.ID),
			zap.Bool("completed", m.survey.IsCompleted),
			zap.Bool("cancelled", m.survey.IsCancelled))
	}

	choices := spec.Choices
	if choices == nil {
		// Keep the domain choices; the navigation choices are rebuilt below.
		choices = q.DomainChoices()
	}
	choices = append(choices, navigationChoices(spec.CurrentPage,
		spec.HasPrevPage, spec.HasNextPage,
		spec.ShowBack, spec.ShowCancel, spec.ShowSkip, q.IsMandatory)...)

	q.ClearChoices(false)
	q.AddChoices(choices)
	if spec.Text != nil {
		q.Text = *spec.Text
	}
	if spec.FollowUp != nil {
		q.FollowUp = *spec.FollowUp
	}
	q.IsCompleted = false
	if spec.ExpectsCommand != nil {
		q.ExpectsCommand = *spec.ExpectsCommand
	}

	if err := m.store.SaveSurvey(ctx, m.survey, true); err != nil {
		return fmt.Errorf("save survey after page change: %w", err)
	}
	return nil
}

// FollowUpSpec tunes FollowUp.
type FollowUpSpec struct {
	// Text replaces the question text; nil keeps it.
	Text *string

	// NewQuestion asks a fresh question with InternalID+1 instead of reusing
	// the current one.
	NewQuestion bool

	Choices []model.Choice

	CurrentPage int
	HasNextPage bool
	HasPrevPage bool

	ShowSkip   bool
	ShowBack   bool
	ShowCancel bool

	ExpectsCommand *bool
}

// FollowUp attaches a follow-up message to a question. By default the
// question is reused and reopened; with NewQuestion set, a fresh question
// inheriting type, constraints and domain choices is added instead.
func (m *Manager) FollowUp(ctx context.Context, q *model.Question, followUp string, spec FollowUpSpec) (*model.Question, error) {
	if q == nil {
		return nil, nil
	}
	if m.survey == nil {
		return nil, fmt.Errorf("follow up: no open survey for question %d", q.ID)
	}
	if !m.survey.IsActive {
		m.log.Warn("follow up on inactive survey",
			zap.Int64("survey_id", m.survey.ID),
			zap.Bool("completed", m.survey.IsCompleted),
			zap.Bool("cancelled", m.survey.IsCancelled))
	}

	if spec.NewQuestion {
		choices := spec.Choices
		if choices == nil {
			choices = q.DomainChoices()
		}
		text := q.Text
		if spec.Text != nil {
			text = *spec.Text
		}
		expects := q.ExpectsCommand
		if spec.ExpectsCommand != nil {
			expects = *spec.ExpectsCommand
		}
		return m.AddQuestion(ctx, QuestionSpec{
			InternalID:             q.InternalID + 1,
			Text:                   text,
			FollowUp:               followUp,
			IsMandatory:            q.IsMandatory,
			PickOnlyDefaultAnswers: q.PickOnlyDefaultAnswers,
			FieldType:              q.FieldType,
			Choices:                choices,
			Constraints:            q.Constraints(),
			CurrentPage:            spec.CurrentPage,
			HasNextPage:            spec.HasNextPage,
			HasPrevPage:            spec.HasPrevPage,
			ShowSkip:               spec.ShowSkip,
			ShowBack:               spec.ShowBack,
			ShowCancel:             spec.ShowCancel,
			ExpectsCommand:         expects,
			HandlerTag:             q.HandlerTag,
			EventHook:              q.EventHook,
		})
	}

	err := m.ChangePage(ctx, q, PageSpec{
		Text:           spec.Text,
		FollowUp:       &followUp,
		Choices:        spec.Choices,
		CurrentPage:    spec.CurrentPage,
		HasNextPage:    spec.HasNextPage,
		HasPrevPage:    spec.HasPrevPage,
		ShowSkip:       spec.ShowSkip,
		ShowBack:       spec.ShowBack,
		ShowCancel:     spec.ShowCancel,
		ExpectsCommand: spec.ExpectsCommand,
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// CreateCommandsQuestion asks a question whose choices are the
// dashboard-visible commands.
func (m *Manager) CreateCommandsQuestion(ctx context.Context, internalID int, title, followUp string) (*model.Question, error) {
	return m.AddQuestion(ctx, QuestionSpec{
		InternalID:             internalID,
		Text:                   title,
		FollowUp:               followUp,
		IsMandatory:            true,
		PickOnlyDefaultAnswers: true,
		Choices:                m.choicesFromCommands(),
		ExpectsCommand:         true,
	})
}

// GetQuestionDefaultCommands shows the command menu: either as a fresh
// survey with a commands question, or folded into the current question.
func (m *Manager) GetQuestionDefaultCommands(ctx context.Context, caption, followUp string, reuseCurrent bool, maxButtonsPerRow int, handlerTag string) (*model.Question, error) {
	var q *model.Question
	var err error

	if !reuseCurrent || m.survey == nil || !m.survey.IsActive {
		if _, err = m.CreateNewSurvey(ctx); err != nil {
			return nil, err
		}
		q, err = m.CreateCommandsQuestion(ctx, 0, caption, followUp)
		if err != nil {
			return nil, err
		}
		q.MaxButtonsPerRow = maxButtonsPerRow
	} else {
		q = m.survey.MostRecentQuestion()
		if q == nil {
			return nil, fmt.Errorf("default commands: open survey %d has no question", m.survey.ID)
		}
		if maxButtonsPerRow != 0 {
			q.MaxButtonsPerRow = maxButtonsPerRow
		}
		expects := true
		err = m.ChangePage(ctx, q, PageSpec{
			Text:           &caption,
			FollowUp:       &followUp,
			Choices:        m.choicesFromCommands(),
			ExpectsCommand: &expects,
		})
		if err != nil {
			return nil, err
		}
	}

	if handlerTag != "" {
		q.HandlerTag = handlerTag
		if err := m.store.SaveQuestion(ctx, q); err != nil {
			return nil, fmt.Errorf("save handler tag: %w", err)
		}
	}
	return q, nil
}
