package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.uber.org/zap"

	"github.com/chatform/survey-engine/internal/event"
	"github.com/chatform/survey-engine/internal/flow"
	"github.com/chatform/survey-engine/internal/model"
	"github.com/chatform/survey-engine/internal/platform"
	"github.com/chatform/survey-engine/pkg/logger"
)

// Handler tags stored on questions. They must stay stable across releases:
// a question restored from the database resolves its handler by tag.
const (
	tagRating  = "feedback.rating"
	tagComment = "feedback.comment"
)

var botCommands = []model.CommandDef{
	{Name: "start", Label: "Start"},
	{Name: "feedback", Label: "Leave feedback", ShowOnDashboard: true},
	{Name: "help", Label: "Help", ShowOnDashboard: true},
}

// ratingBranch routes a recorded rating to the follow-up prompt. When is an
// expression over the answers collected so far, compiled once at startup.
type ratingBranch struct {
	When   string
	Prompt string
}

var ratingBranches = []ratingBranch{
	{When: "rating <= 2", Prompt: "Sorry to hear that. What went wrong?"},
	{When: "rating >= 4", Prompt: "Great! What did you like most?"},
	{When: "true", Prompt: "Thanks. What could we improve?"},
}

type compiledBranch struct {
	program *vm.Program
	prompt  string
}

// flowBase resolves the per-chat manager for an event.
type flowBase struct {
	sessions *flow.Sessions
	log      *logger.Logger
}

func (f *flowBase) manager(m event.Meta) (*flow.Manager, error) {
	return f.sessions.Get(m.UserID, m.ChatID)
}

func (f *flowBase) showMenu(ctx context.Context, mgr *flow.Manager) error {
	q, err := mgr.GetQuestionDefaultCommands(ctx, "What would you like to do?", "", false, 2, "")
	if err != nil {
		return err
	}
	return mgr.SendQuestion(ctx, q)
}

// commandRouter is the ambient handler behind the bot commands. It receives
// every CommandReceived regardless of which question is open, plus the survey
// terminations, and steers the dashboard back to the command menu.
type commandRouter struct {
	event.BaseHandler
	flowBase
}

func (r *commandRouter) OnCommandReceived(ctx context.Context, ev *event.CommandReceived) error {
	mgr, err := r.manager(ev.Meta)
	if err != nil {
		return err
	}

	switch ev.Command.Name {
	case model.StartCommand, model.StartGroupCommand:
		return r.showMenu(ctx, mgr)
	case "help":
		_, err := mgr.SendMessage(ctx,
			"Pick <b>Leave feedback</b> to rate your last visit, or type /feedback.",
			platform.MessageOptions{})
		if err != nil {
			return err
		}
		return r.showMenu(ctx, mgr)
	case "feedback":
		return beginFeedback(ctx, mgr)
	default:
		r.log.Debug("unrouted command", zap.String("command", ev.Command.Name))
		return nil
	}
}

func (r *commandRouter) OnSurveyCompleted(ctx context.Context, ev *event.SurveyCompleted) error {
	mgr, err := r.manager(ev.Meta)
	if err != nil {
		return err
	}
	if _, err := mgr.SendMessage(ctx, "Thank you, your feedback is in!", platform.MessageOptions{}); err != nil {
		return err
	}
	return r.showMenu(ctx, mgr)
}

func (r *commandRouter) OnSurveyCancelled(ctx context.Context, ev *event.SurveyCancelled) error {
	mgr, err := r.manager(ev.Meta)
	if err != nil {
		return err
	}
	return r.showMenu(ctx, mgr)
}

// beginFeedback opens the rating question of a fresh feedback survey.
func beginFeedback(ctx context.Context, mgr *flow.Manager) error {
	if _, err := mgr.CreateNewSurvey(ctx); err != nil {
		return err
	}

	choices := make([]model.Choice, 0, 5)
	for i := 1; i <= 5; i++ {
		c, _ := model.PlainChoice(strconv.Itoa(i))
		choices = append(choices, c)
	}

	q, err := mgr.AddQuestion(ctx, flow.QuestionSpec{
		Text:                   "How was your visit?",
		FollowUp:               "Rate it from 1 (poor) to 5 (excellent).",
		FieldType:              model.FieldInt,
		IsMandatory:            true,
		PickOnlyDefaultAnswers: true,
		Choices:                choices,
		ShowCancel:             true,
		MaxButtonsPerRow:       5,
		HandlerTag:             tagRating,
	})
	if err != nil {
		return err
	}
	return mgr.SendQuestion(ctx, q)
}

// ratingHandler advances the feedback survey once the rating question has an
// answer. The follow-up prompt is picked by the first branch rule that
// matches the rating.
type ratingHandler struct {
	event.BaseHandler
	flowBase
	branches []compiledBranch
}

func newRatingHandler(base flowBase) (*ratingHandler, error) {
	env := map[string]any{"rating": int64(0)}
	h := &ratingHandler{flowBase: base}
	for _, b := range ratingBranches {
		program, err := expr.Compile(b.When, expr.Env(env), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compiling branch rule %q: %w", b.When, err)
		}
		h.branches = append(h.branches, compiledBranch{program: program, prompt: b.Prompt})
	}
	return h, nil
}

func (h *ratingHandler) promptFor(rating int64) (string, error) {
	env := map[string]any{"rating": rating}
	for _, b := range h.branches {
		out, err := expr.Run(b.program, env)
		if err != nil {
			return "", err
		}
		if out.(bool) {
			return b.prompt, nil
		}
	}
	return "", fmt.Errorf("no branch rule matched rating %d", rating)
}

func (h *ratingHandler) OnQuestionAnswered(ctx context.Context, ev *event.QuestionAnswered) error {
	mgr, err := h.manager(ev.Meta)
	if err != nil {
		return err
	}

	if !ev.Answer.IsValid {
		q, err := mgr.FollowUp(ctx, ev.Question, "Please pick a rating between 1 and 5.", flow.FollowUpSpec{
			ShowCancel: true,
		})
		if err != nil {
			return err
		}
		return mgr.SendQuestion(ctx, q)
	}

	prompt, err := h.promptFor(ev.Answer.AsInt())
	if err != nil {
		return err
	}
	q, err := mgr.AddQuestion(ctx, flow.QuestionSpec{
		Text:       prompt,
		FollowUp:   "A couple of words is plenty.",
		FieldType:  model.FieldString,
		ShowBack:   true,
		ShowSkip:   true,
		ShowCancel: true,
		HandlerTag: tagComment,
	})
	if err != nil {
		return err
	}
	return mgr.SendQuestion(ctx, q)
}

func (h *ratingHandler) OnInvalidInteraction(ctx context.Context, ev *event.InvalidInteraction) error {
	if ev.Interaction != nil {
		ev.Interaction.AddNotice("That answer does not fit this question.")
	}
	mgr, err := h.manager(ev.Meta)
	if err != nil {
		return err
	}
	return mgr.UpdateShownQuestion(ctx, ev.Question)
}

// commentHandler closes out the free-text question. A valid answer or a skip
// completes the question, which in turn completes the survey; the ambient
// router then thanks the user and restores the menu.
type commentHandler struct {
	event.BaseHandler
	flowBase
}

func (h *commentHandler) OnQuestionAnswered(ctx context.Context, ev *event.QuestionAnswered) error {
	if ev.Answer.IsValid {
		return nil
	}
	mgr, err := h.manager(ev.Meta)
	if err != nil {
		return err
	}
	q, err := mgr.FollowUp(ctx, ev.Question, "That did not come through, try again.", flow.FollowUpSpec{
		ShowBack:   true,
		ShowSkip:   true,
		ShowCancel: true,
	})
	if err != nil {
		return err
	}
	return mgr.SendQuestion(ctx, q)
}

func (h *commentHandler) OnQuestionChanged(ctx context.Context, ev *event.QuestionChanged) error {
	if !ev.HitBack {
		return nil
	}
	mgr, err := h.manager(ev.Meta)
	if err != nil {
		return err
	}
	s := mgr.CurrentSurvey()
	if s == nil {
		return nil
	}
	prev := s.MostRecentQuestion()
	if prev == nil {
		return nil
	}
	return mgr.SendQuestion(ctx, prev)
}

func (h *commentHandler) OnInvalidInteraction(ctx context.Context, ev *event.InvalidInteraction) error {
	if ev.Interaction != nil {
		ev.Interaction.AddNotice("That answer does not fit this question.")
	}
	mgr, err := h.manager(ev.Meta)
	if err != nil {
		return err
	}
	return mgr.UpdateShownQuestion(ctx, ev.Question)
}

// registerFlows binds the feedback flow to the event machinery: the tagged
// question handlers go into the registry, the command router subscribes to
// everything.
func registerFlows(dispatcher *event.Dispatcher, sessions *flow.Sessions, log *logger.Logger) error {
	base := flowBase{sessions: sessions, log: log}

	rating, err := newRatingHandler(base)
	if err != nil {
		return err
	}
	if err := dispatcher.Registry().Register(tagRating, rating); err != nil {
		return err
	}
	if err := dispatcher.Registry().Register(tagComment, &commentHandler{flowBase: base}); err != nil {
		return err
	}

	dispatcher.Subscribe(&commandRouter{flowBase: base})
	return nil
}
