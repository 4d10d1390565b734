package flow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatform/survey-engine/internal/event"
	"github.com/chatform/survey-engine/internal/model"
	"github.com/chatform/survey-engine/internal/platform"
	"github.com/chatform/survey-engine/internal/storage"
)

const (
	testUserID int64 = 7
	testChatID int64 = 7
)

var flowNow = time.Date(2025, 5, 12, 9, 30, 0, 0, time.UTC)

// fakeClient records outbound platform calls and returns scripted errors.
type fakeClient struct {
	mu     sync.Mutex
	nextID int64

	texts     []string
	photos    []string
	edits     []int64
	captions  []int64
	deleted   []int64
	callbacks []string
	notices   []string

	sendErr   error
	photoErr  error
	editErr   error
	capErr    error
	deleteErr error
}

func (f *fakeClient) SendText(_ context.Context, _ int64, text string, _ platform.MessageOptions) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.nextID++
	f.texts = append(f.texts, text)
	return f.nextID, nil
}

func (f *fakeClient) SendPhoto(_ context.Context, _ int64, photo, _ string, _ platform.MessageOptions) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.photoErr != nil {
		return 0, f.photoErr
	}
	f.nextID++
	f.photos = append(f.photos, photo)
	return f.nextID, nil
}

func (f *fakeClient) EditText(_ context.Context, _ int64, messageID int64, _ string, _ platform.MessageOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return f.editErr
	}
	f.edits = append(f.edits, messageID)
	return nil
}

func (f *fakeClient) EditCaption(_ context.Context, _ int64, messageID int64, _ string, _ platform.MessageOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.capErr != nil {
		return f.capErr
	}
	f.captions = append(f.captions, messageID)
	return nil
}

func (f *fakeClient) DeleteMessage(_ context.Context, _ int64, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeClient) AnswerCallback(_ context.Context, callbackID, text string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, callbackID)
	f.notices = append(f.notices, text)
	return nil
}

func (f *fakeClient) SetCommands(context.Context, []platform.BotCommand) error { return nil }

// eventRecorder subscribes to everything and keeps the payloads for
// assertions.
type eventRecorder struct {
	event.BaseHandler
	mu sync.Mutex

	types     []event.Type
	answered  []*event.QuestionAnswered
	changed   []*event.QuestionChanged
	pages     []*event.ChangePage
	invalid   []*event.InvalidInteraction
	commands  []*event.CommandReceived
	completed []*event.SurveyCompleted
	cancelled []*event.SurveyCancelled
	pays      []*event.PayReceived
}

func (r *eventRecorder) record(t event.Type) {
	r.types = append(r.types, t)
}

func (r *eventRecorder) OnQuestionAnswered(_ context.Context, ev *event.QuestionAnswered) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(event.TypeQuestionAnswered)
	r.answered = append(r.answered, ev)
	return nil
}

func (r *eventRecorder) OnQuestionChanged(_ context.Context, ev *event.QuestionChanged) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(event.TypeQuestionChanged)
	r.changed = append(r.changed, ev)
	return nil
}

func (r *eventRecorder) OnChangePage(_ context.Context, ev *event.ChangePage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(event.TypeChangePage)
	r.pages = append(r.pages, ev)
	return nil
}

func (r *eventRecorder) OnInvalidInteraction(_ context.Context, ev *event.InvalidInteraction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(event.TypeInvalidInteraction)
	r.invalid = append(r.invalid, ev)
	return nil
}

func (r *eventRecorder) OnCommandReceived(_ context.Context, ev *event.CommandReceived) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(event.TypeCommandReceived)
	r.commands = append(r.commands, ev)
	return nil
}

func (r *eventRecorder) OnSurveyCompleted(_ context.Context, ev *event.SurveyCompleted) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(event.TypeSurveyCompleted)
	r.completed = append(r.completed, ev)
	return nil
}

func (r *eventRecorder) OnSurveyCancelled(_ context.Context, ev *event.SurveyCancelled) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(event.TypeSurveyCancelled)
	r.cancelled = append(r.cancelled, ev)
	return nil
}

func (r *eventRecorder) OnPayReceived(_ context.Context, ev *event.PayReceived) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(event.TypePayReceived)
	r.pays = append(r.pays, ev)
	return nil
}

func (r *eventRecorder) seen() []event.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]event.Type, len(r.types))
	copy(out, r.types)
	return out
}

type harness struct {
	mgr      *Manager
	store    *storage.Memory
	client   *fakeClient
	recorder *eventRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := &fakeClient{}
	store := storage.NewMemory()
	recorder := &eventRecorder{}

	dispatcher := event.NewDispatcher(event.NewRegistry(), zap.NewNop())
	dispatcher.Subscribe(recorder)

	mgr, err := NewManager(Config{
		BotName: "surveybot",
		Commands: []model.CommandDef{
			{Name: "feedback", Label: "Leave feedback", ShowOnDashboard: true},
			{Name: "help", Label: "Help", ShowOnDashboard: true},
		},
		UserID: testUserID,
		ChatID: testChatID,
		Store:  store,
		Client: client,
		Events: dispatcher,
		Expiry: 30 * time.Minute,
		Now:    func() time.Time { return flowNow },
	})
	require.NoError(t, err)

	return &harness{mgr: mgr, store: store, client: client, recorder: recorder}
}

// ask adds and renders a question, returning it with stamped choices.
func (h *harness) ask(t *testing.T, spec QuestionSpec) *model.Question {
	t.Helper()
	q, err := h.mgr.AddQuestion(context.Background(), spec)
	require.NoError(t, err)
	require.NoError(t, h.mgr.SendQuestion(context.Background(), q))
	return q
}

func (h *harness) choice(t *testing.T, q *model.Question, value string) model.Choice {
	t.Helper()
	for _, c := range q.Choices() {
		if c.Is(value) {
			return c
		}
	}
	t.Fatalf("question %d offers no choice %q", q.ID, value)
	return model.Choice{}
}

func messageUpdate(text string) *platform.Update {
	return &platform.Update{
		Message: &platform.Message{
			MessageID: 9000,
			From:      &platform.User{ID: testUserID, Username: "sam"},
			Chat:      &platform.Chat{ID: testChatID},
			Text:      text,
		},
	}
}

func callbackUpdate(messageID int64, data string) *platform.Update {
	return &platform.Update{
		CallbackQuery: &platform.CallbackQuery{
			ID:   "cb-1",
			From: &platform.User{ID: testUserID, Username: "sam"},
			Message: &platform.Message{
				MessageID: messageID,
				Chat:      &platform.Chat{ID: testChatID},
			},
			Data: data,
		},
	}
}

func TestManagerRequiresDependencies(t *testing.T) {
	_, err := NewManager(Config{})
	assert.Error(t, err)

	_, err = NewManager(Config{Store: storage.NewMemory(), Client: &fakeClient{}})
	assert.Error(t, err, "dispatcher is required")

	_, err = NewManager(Config{
		Store:    storage.NewMemory(),
		Client:   &fakeClient{},
		Events:   event.NewDispatcher(event.NewRegistry(), zap.NewNop()),
		Expiry:   30 * time.Minute,
		Commands: []model.CommandDef{{Name: "Bad Name"}},
	})
	assert.Error(t, err, "command names are validated at registration")
}

func TestStartProcessingSingleSlot(t *testing.T) {
	h := newHarness(t)

	require.True(t, h.mgr.StartProcessing())
	assert.False(t, h.mgr.StartProcessing(), "slot is busy")

	h.mgr.EndProcessing()
	h.mgr.EndProcessing() // releasing twice is harmless
	assert.True(t, h.mgr.StartProcessing())
	h.mgr.EndProcessing()
}

func TestPlainTextAnswerCompletesSurvey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	q := h.ask(t, QuestionSpec{Text: "Your name?", FieldType: model.FieldString, IsMandatory: true})
	survey := h.mgr.CurrentSurvey()

	_, err := h.mgr.ProcessUpdate(ctx, messageUpdate("Sam"))
	require.NoError(t, err)

	assert.Equal(t, []event.Type{event.TypeQuestionAnswered, event.TypeSurveyCompleted}, h.recorder.seen())
	require.Len(t, h.recorder.answered, 1)
	assert.True(t, h.recorder.answered[0].Answer.IsValid)
	assert.Equal(t, "Sam", h.recorder.answered[0].Answer.Value())
	assert.EqualValues(t, survey.ID, h.recorder.answered[0].SurveyID)

	assert.True(t, survey.IsCompleted)
	assert.True(t, q.IsCompleted)
	assert.Nil(t, h.mgr.CurrentSurvey(), "manager lets go of the finished survey")

	t.Run("plain message removes the stale dashboard", func(t *testing.T) {
		assert.Contains(t, h.client.deleted, survey.MessageID)
	})
}

func TestInvalidAnswerStillRaisesQuestionAnswered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	q := h.ask(t, QuestionSpec{
		Text:        "Pick a number",
		FieldType:   model.FieldInt,
		IsMandatory: true,
		Constraints: []model.Constraint{&model.IntConstraint{}},
	})

	_, err := h.mgr.ProcessUpdate(ctx, messageUpdate("a lot"))
	require.NoError(t, err)

	assert.Equal(t, []event.Type{event.TypeQuestionAnswered}, h.recorder.seen())
	require.Len(t, h.recorder.answered, 1)
	assert.False(t, h.recorder.answered[0].Answer.IsValid)
	assert.False(t, q.IsCompleted)
	assert.NotNil(t, h.mgr.CurrentSurvey(), "survey stays open")
	assert.Len(t, q.Answers(), 1, "the failed attempt is recorded")
}

func TestCallbackChoiceAnswer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	red, _ := model.PlainChoice("red")
	blue, _ := model.PlainChoice("blue")
	q := h.ask(t, QuestionSpec{
		Text:                   "Pick a color",
		FieldType:              model.FieldString,
		IsMandatory:            true,
		PickOnlyDefaultAnswers: true,
		Choices:                []model.Choice{red, blue},
	})
	dashboard := h.mgr.CurrentSurvey().MessageID

	picked := h.choice(t, q, "blue")
	in, err := h.mgr.ProcessUpdate(ctx, callbackUpdate(dashboard, picked.CallbackData()))
	require.NoError(t, err)

	require.NotNil(t, in.PickedChoice)
	assert.Equal(t, []event.Type{event.TypeQuestionAnswered, event.TypeSurveyCompleted}, h.recorder.seen())
	assert.Equal(t, "blue", h.recorder.answered[0].Answer.Value())
	assert.Empty(t, h.client.deleted, "a live dashboard callback removes nothing")
}

func TestStaleQuestionCallbackIsInvalid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	red, _ := model.PlainChoice("red")
	q := h.ask(t, QuestionSpec{
		Text:      "Pick",
		FieldType: model.FieldString,
		Choices:   []model.Choice{red},
	})
	dashboard := h.mgr.CurrentSurvey().MessageID

	stale := h.choice(t, q, "red")
	stale.QuestionID = q.ID + 100
	_, err := h.mgr.ProcessUpdate(ctx, callbackUpdate(dashboard, stale.CallbackData()))
	require.NoError(t, err)

	assert.Equal(t, []event.Type{event.TypeInvalidInteraction}, h.recorder.seen())
	require.Len(t, h.recorder.invalid, 1)
	assert.Nil(t, h.recorder.invalid[0].Question, "the originating question is unknown")
	assert.Contains(t, h.client.deleted, dashboard, "the mismatching dashboard is removed")
	assert.Empty(t, q.Answers())
}

func TestBackReopensPreviousQuestion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	q1 := h.ask(t, QuestionSpec{Text: "First", FieldType: model.FieldString, IsMandatory: true})
	q1.IsCompleted = true
	q2 := h.ask(t, QuestionSpec{Text: "Second", FieldType: model.FieldString, ShowBack: true})
	dashboard := h.mgr.CurrentSurvey().MessageID

	back := h.choice(t, q2, model.BackValue)
	_, err := h.mgr.ProcessUpdate(ctx, callbackUpdate(dashboard, back.CallbackData()))
	require.NoError(t, err)

	require.Len(t, h.recorder.changed, 1)
	assert.True(t, h.recorder.changed[0].HitBack)
	assert.Same(t, q2, h.recorder.changed[0].Question)

	survey := h.mgr.CurrentSurvey()
	require.Len(t, survey.Questions, 1)
	assert.Same(t, q1, survey.MostRecentQuestion())
	assert.False(t, q1.IsCompleted, "the previous question reopens")
}

func TestBackOnFirstQuestionIsInvalid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	q := h.ask(t, QuestionSpec{Text: "Only one", FieldType: model.FieldString, IsMandatory: true, ShowBack: true})
	dashboard := h.mgr.CurrentSurvey().MessageID

	back := h.choice(t, q, model.BackValue)
	_, err := h.mgr.ProcessUpdate(ctx, callbackUpdate(dashboard, back.CallbackData()))
	require.NoError(t, err)

	assert.Equal(t, []event.Type{event.TypeInvalidInteraction}, h.recorder.seen())
	require.Len(t, h.mgr.CurrentSurvey().Questions, 1, "nothing is removed")
}

func TestSkipBehaviour(t *testing.T) {
	ctx := context.Background()

	t.Run("optional question completes", func(t *testing.T) {
		h := newHarness(t)
		q := h.ask(t, QuestionSpec{Text: "Comments?", FieldType: model.FieldString, ShowSkip: true})
		dashboard := h.mgr.CurrentSurvey().MessageID

		skip := h.choice(t, q, model.SkipValue)
		_, err := h.mgr.ProcessUpdate(ctx, callbackUpdate(dashboard, skip.CallbackData()))
		require.NoError(t, err)

		assert.Equal(t, []event.Type{event.TypeQuestionChanged, event.TypeSurveyCompleted}, h.recorder.seen())
		assert.True(t, h.recorder.changed[0].HitSkip)
		assert.True(t, q.IsCompleted)
	})

	t.Run("mandatory question rejects skip", func(t *testing.T) {
		h := newHarness(t)
		// The navigation builder never offers Skip on mandatory questions, so
		// smuggle one in to model a stale keyboard.
		q := h.ask(t, QuestionSpec{
			Text:        "Required",
			FieldType:   model.FieldString,
			IsMandatory: true,
			Choices:     []model.Choice{model.SkipChoice()},
		})
		dashboard := h.mgr.CurrentSurvey().MessageID

		skip := h.choice(t, q, model.SkipValue)
		_, err := h.mgr.ProcessUpdate(ctx, callbackUpdate(dashboard, skip.CallbackData()))
		require.NoError(t, err)

		assert.Equal(t, []event.Type{event.TypeInvalidInteraction}, h.recorder.seen())
		assert.False(t, q.IsCompleted)
	})
}

func TestCancelTerminatesSurvey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	q := h.ask(t, QuestionSpec{Text: "Anything?", FieldType: model.FieldString, IsMandatory: true, ShowCancel: true})
	survey := h.mgr.CurrentSurvey()
	dashboard := survey.MessageID

	cancel := h.choice(t, q, model.CancelValue)
	_, err := h.mgr.ProcessUpdate(ctx, callbackUpdate(dashboard, cancel.CallbackData()))
	require.NoError(t, err)

	assert.Equal(t, []event.Type{event.TypeSurveyCancelled}, h.recorder.seen())
	require.Len(t, h.recorder.cancelled, 1)
	assert.EqualValues(t, survey.ID, h.recorder.cancelled[0].SurveyID)
	assert.True(t, survey.IsCancelled)
	assert.False(t, survey.IsActive)
	assert.Nil(t, h.mgr.CurrentSurvey())
}

func TestPageNavigationRaisesChangePage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, _ := model.PlainChoice("a")
	q := h.ask(t, QuestionSpec{
		Text:        "Page one",
		FieldType:   model.FieldString,
		IsMandatory: true,
		Choices:     []model.Choice{a},
		CurrentPage: 2,
		HasNextPage: true,
		HasPrevPage: true,
	})
	dashboard := h.mgr.CurrentSurvey().MessageID

	next := h.choice(t, q, model.NextPageValue)
	_, err := h.mgr.ProcessUpdate(ctx, callbackUpdate(dashboard, next.CallbackData()))
	require.NoError(t, err)

	require.Len(t, h.recorder.pages, 1)
	assert.Equal(t, 2, h.recorder.pages[0].CurrentPage)
	assert.Equal(t, 3, h.recorder.pages[0].RequestedPage)

	prev := h.choice(t, q, model.PrevPageValue)
	_, err = h.mgr.ProcessUpdate(ctx, callbackUpdate(h.mgr.CurrentSurvey().MessageID, prev.CallbackData()))
	require.NoError(t, err)

	require.Len(t, h.recorder.pages, 2)
	assert.Equal(t, 1, h.recorder.pages[1].RequestedPage)
}

func TestPayCompletesQuestion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	q := h.ask(t, QuestionSpec{Text: "Settle up", FieldType: model.FieldString, WithPay: true})
	dashboard := h.mgr.CurrentSurvey().MessageID

	pay := h.choice(t, q, model.PayValue)
	_, err := h.mgr.ProcessUpdate(ctx, callbackUpdate(dashboard, pay.CallbackData()))
	require.NoError(t, err)

	require.Len(t, h.recorder.pays, 1)
	assert.Same(t, q, h.recorder.pays[0].Question)
	assert.True(t, q.IsCompleted)
	assert.Contains(t, h.recorder.seen(), event.TypeSurveyCompleted)
}

func TestCommandBreakingTheFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.ask(t, QuestionSpec{Text: "Your name?", FieldType: model.FieldString, IsMandatory: true})

	_, err := h.mgr.ProcessUpdate(ctx, messageUpdate("/feedback"))
	require.NoError(t, err)

	assert.Equal(t, []event.Type{event.TypeInvalidInteraction, event.TypeCommandReceived}, h.recorder.seen(),
		"the command fires even though it broke the flow")
	require.Len(t, h.recorder.commands, 1)
	assert.Equal(t, "feedback", h.recorder.commands[0].Command.Name)
}

func TestCommandOnCommandsQuestion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	q, err := h.mgr.CreateCommandsQuestion(ctx, 0, "Menu", "")
	require.NoError(t, err)
	require.NoError(t, h.mgr.SendQuestion(ctx, q))
	require.True(t, q.ExpectsCommand)

	picked := h.choice(t, q, "feedback")
	_, err = h.mgr.ProcessUpdate(ctx, callbackUpdate(h.mgr.CurrentSurvey().MessageID, picked.CallbackData()))
	require.NoError(t, err)

	assert.Equal(t, []event.Type{event.TypeCommandReceived, event.TypeSurveyCompleted}, h.recorder.seen(),
		"the recorded command completes the menu question and with it the survey")
	assert.Equal(t, "feedback", h.recorder.commands[0].Command.Name)
	assert.Len(t, q.Answers(), 1, "the chosen command is recorded as the answer")
}

func TestAnswerCallbackFlushesNotice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	red, _ := model.PlainChoice("red")
	q := h.ask(t, QuestionSpec{Text: "Pick", FieldType: model.FieldString, Choices: []model.Choice{red}})
	dashboard := h.mgr.CurrentSurvey().MessageID

	picked := h.choice(t, q, "red")
	in, err := h.mgr.ProcessUpdate(ctx, callbackUpdate(dashboard, picked.CallbackData()))
	require.NoError(t, err)
	in.AddNotice("noted")

	h.mgr.AnswerCallback(ctx)
	h.mgr.AnswerCallback(ctx)

	require.Len(t, h.client.callbacks, 1, "a callback is acknowledged once")
	assert.Equal(t, "noted", h.client.notices[0])
}

func TestSessions(t *testing.T) {
	built := 0
	sessions := NewSessions(func(userID, chatID int64) (*Manager, error) {
		built++
		return NewManager(Config{
			UserID: userID,
			ChatID: chatID,
			Store:  storage.NewMemory(),
			Client: &fakeClient{},
			Events: event.NewDispatcher(event.NewRegistry(), zap.NewNop()),
			Expiry: time.Minute,
		})
	})

	a, err := sessions.Get(1, 10)
	require.NoError(t, err)
	b, err := sessions.Get(1, 10)
	require.NoError(t, err)
	assert.Same(t, a, b, "one manager per chat")
	assert.Equal(t, 1, built)

	_, err = sessions.Get(2, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, sessions.Len())

	sessions.Remove(10)
	assert.Equal(t, 1, sessions.Len())
}
