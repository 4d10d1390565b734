package flow

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatform/survey-engine/internal/model"
)

func values(choices []model.Choice) []string {
	out := make([]string, 0, len(choices))
	for _, c := range choices {
		out = append(out, c.Value)
	}
	return out
}

func TestAddQuestionChoiceOrdering(t *testing.T) {
	h := newHarness(t)

	a, _ := model.PlainChoice("a")
	b, _ := model.PlainChoice("b")
	q, err := h.mgr.AddQuestion(context.Background(), QuestionSpec{
		Text:        "Everything at once",
		FieldType:   model.FieldString,
		WithPay:     true,
		Choices:     []model.Choice{a, b},
		CurrentPage: 2,
		HasPrevPage: true,
		HasNextPage: true,
		ShowBack:    true,
		ShowCancel:  true,
		ShowSkip:    true,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		model.PayValue, "a", "b",
		model.PrevPageValue, model.CurrPageValue, model.NextPageValue,
		model.BackValue, model.CancelValue, model.SkipValue,
	}, values(q.Choices()))

	for _, c := range q.Choices() {
		if c.Is(model.PrevPageValue) || c.Is(model.CurrPageValue) || c.Is(model.NextPageValue) {
			assert.Equal(t, "2", c.Param, "page navigation carries the current page")
		}
	}
}

func TestAddQuestionMandatoryHidesSkip(t *testing.T) {
	h := newHarness(t)

	q, err := h.mgr.AddQuestion(context.Background(), QuestionSpec{
		Text:        "No way around this one",
		FieldType:   model.FieldString,
		IsMandatory: true,
		ShowSkip:    true,
		ShowCancel:  true,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{model.CancelValue}, values(q.Choices()))
}

func TestAddQuestionFiltersChoicesThroughConstraints(t *testing.T) {
	h := newHarness(t)

	one, _ := model.PlainChoice("1")
	word, _ := model.PlainChoice("banana")
	q, err := h.mgr.AddQuestion(context.Background(), QuestionSpec{
		Text:      "Pick a number",
		FieldType: model.FieldInt,
		Choices:   []model.Choice{one, word},
		ShowSkip:  true,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"1", model.SkipValue}, values(q.Choices()),
		"domain choices that fail the constraints are dropped, navigation survives")
}

func TestAddQuestionValidatesInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("blank text", func(t *testing.T) {
		_, err := h.mgr.AddQuestion(ctx, QuestionSpec{Text: "   "})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "question text")
	})

	t.Run("oversized choice value", func(t *testing.T) {
		long, _ := model.PlainChoice(strings.Repeat("x", 65))
		_, err := h.mgr.AddQuestion(ctx, QuestionSpec{
			Text:    "Pick one",
			Choices: []model.Choice{long},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "choice value")
	})

	t.Run("row break hints are not validated as values", func(t *testing.T) {
		a, _ := model.PlainChoice("a")
		_, err := h.mgr.AddQuestion(ctx, QuestionSpec{
			Text:    "Pick one",
			Choices: []model.Choice{a, model.NewKeyboardLine()},
		})
		assert.NoError(t, err)
	})
}

func TestAddQuestionCreatesSurveyOnDemand(t *testing.T) {
	h := newHarness(t)
	require.Nil(t, h.mgr.CurrentSurvey())

	q, err := h.mgr.AddQuestion(context.Background(), QuestionSpec{Text: "Hi"})
	require.NoError(t, err)

	survey := h.mgr.CurrentSurvey()
	require.NotNil(t, survey)
	assert.Equal(t, survey.ID, q.SurveyID)
	assert.Equal(t, model.FieldString, q.FieldType, "the field type defaults to string")
}

func TestChangePageKeepsDomainChoices(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, _ := model.PlainChoice("a")
	b, _ := model.PlainChoice("b")
	q, err := h.mgr.AddQuestion(ctx, QuestionSpec{
		Text:        "Page one",
		FieldType:   model.FieldString,
		Choices:     []model.Choice{a, b},
		CurrentPage: 0,
		HasNextPage: true,
	})
	require.NoError(t, err)
	q.IsCompleted = true

	newText := "Page two"
	require.NoError(t, h.mgr.ChangePage(ctx, q, PageSpec{
		Text:        &newText,
		CurrentPage: 1,
		HasPrevPage: true,
		HasNextPage: true,
	}))

	assert.Equal(t, "Page two", q.Text)
	assert.False(t, q.IsCompleted, "the question reopens")
	assert.Equal(t, []string{
		"a", "b",
		model.PrevPageValue, model.CurrPageValue, model.NextPageValue,
	}, values(q.Choices()))
	for _, c := range q.Choices() {
		if c.IsSystem() {
			assert.Equal(t, "1", c.Param)
		}
	}
}

func TestChangePageReplacesChoicesWhenGiven(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, _ := model.PlainChoice("a")
	q, err := h.mgr.AddQuestion(ctx, QuestionSpec{
		Text:      "Before",
		FieldType: model.FieldString,
		Choices:   []model.Choice{a},
	})
	require.NoError(t, err)

	c, _ := model.PlainChoice("c")
	d, _ := model.PlainChoice("d")
	require.NoError(t, h.mgr.ChangePage(ctx, q, PageSpec{Choices: []model.Choice{c, d}}))

	assert.Equal(t, []string{"c", "d"}, values(q.Choices()))
}

func TestFollowUpReusesQuestionByDefault(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	q, err := h.mgr.AddQuestion(ctx, QuestionSpec{Text: "Age?", FieldType: model.FieldInt, IsMandatory: true})
	require.NoError(t, err)
	q.IsCompleted = true

	got, err := h.mgr.FollowUp(ctx, q, "That does not look like a number.", FollowUpSpec{})
	require.NoError(t, err)

	assert.Same(t, q, got)
	assert.Equal(t, "That does not look like a number.", q.FollowUp)
	assert.False(t, q.IsCompleted)
	assert.Len(t, h.mgr.CurrentSurvey().Questions, 1)
}

func TestFollowUpAsNewQuestion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	q, err := h.mgr.AddQuestion(ctx, QuestionSpec{
		InternalID:             3,
		Text:                   "Age?",
		FieldType:              model.FieldInt,
		IsMandatory:            true,
		PickOnlyDefaultAnswers: true,
		HandlerTag:             "ask-age",
	})
	require.NoError(t, err)

	next, err := h.mgr.FollowUp(ctx, q, "Try again.", FollowUpSpec{NewQuestion: true})
	require.NoError(t, err)

	require.NotSame(t, q, next)
	assert.Equal(t, 4, next.InternalID, "the re-ask correlates through the next internal id")
	assert.Equal(t, model.FieldInt, next.FieldType)
	assert.True(t, next.IsMandatory)
	assert.True(t, next.PickOnlyDefaultAnswers)
	assert.Equal(t, "ask-age", next.HandlerTag)
	assert.Equal(t, "Try again.", next.FollowUp)
	assert.Len(t, h.mgr.CurrentSurvey().Questions, 2)
}

func TestGetQuestionDefaultCommands(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	q, err := h.mgr.GetQuestionDefaultCommands(ctx, "What next?", "", false, 2, "menu")
	require.NoError(t, err)

	assert.True(t, q.ExpectsCommand)
	assert.True(t, q.IsMandatory)
	assert.True(t, q.PickOnlyDefaultAnswers)
	assert.Equal(t, "menu", q.HandlerTag)
	assert.Equal(t, 2, q.MaxButtonsPerRow)
	assert.Equal(t, []string{"feedback", "help"}, values(q.Choices()),
		"only dashboard commands become choices")

	t.Run("reuse folds the menu into the open question", func(t *testing.T) {
		reused, err := h.mgr.GetQuestionDefaultCommands(ctx, "Still there?", "", true, 0, "")
		require.NoError(t, err)
		assert.Same(t, q, reused)
		assert.Equal(t, "Still there?", reused.Text)
	})
}
