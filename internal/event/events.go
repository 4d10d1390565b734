// Package event defines the notifications raised while a survey advances and
// the dispatch machinery that delivers them. Handlers are addressed by tag,
// not by instance, so a question restored from storage keeps firing at the
// same logical handler.
package event

import (
	"github.com/chatform/survey-engine/internal/model"
)

// Type identifies the kind of a survey event.
type Type string

const (
	TypeChangePage         Type = "change_page"
	TypeCommandReceived    Type = "command_received"
	TypeSurveyCancelled    Type = "survey_cancelled"
	TypeQuestionAnswered   Type = "question_answered"
	TypeInvalidInteraction Type = "invalid_interaction"
	TypePayReceived        Type = "pay_received"
	TypeQuestionChanged    Type = "question_changed"
	TypeSurveyCompleted    Type = "survey_completed"
)

// Meta identifies the conversation an event belongs to. The dispatcher stamps
// it on every event before delivery.
type Meta struct {
	UserID   int64 `json:"user_id"`
	ChatID   int64 `json:"chat_id"`
	SurveyID int64 `json:"survey_id"`
}

// CommandReceived is raised for every parsed command, valid or not.
type CommandReceived struct {
	Meta
	Command     *model.Command
	Question    *model.Question
	Interaction *model.Interaction
}

// QuestionAnswered is raised whenever an answer is recorded, including
// answers that failed their constraints.
type QuestionAnswered struct {
	Meta
	Question *model.Question
	Answer   *model.Answer
}

// QuestionChanged is raised when the open question changes, with the flags
// telling whether Skip or Back caused the change.
type QuestionChanged struct {
	Meta
	Question *model.Question
	HitSkip  bool
	HitBack  bool
}

// ChangePage is raised when the user navigates the choice pages of a
// question.
type ChangePage struct {
	Meta
	Question      *model.Question
	CurrentPage   int
	RequestedPage int
}

// SurveyCancelled is raised when a survey terminates through Cancel, carrying
// the answers given so far.
type SurveyCancelled struct {
	Meta
	Survey   *model.Survey
	Question *model.Question
	Answers  []*model.Answer
}

// SurveyCompleted is raised when the last question completes, carrying the
// final answer of every question.
type SurveyCompleted struct {
	Meta
	Survey  *model.Survey
	Answers []*model.Answer
}

// PayReceived is raised when the user presses the pay button.
type PayReceived struct {
	Meta
	Question *model.Question
}

// InvalidInteraction is raised for input that cannot be applied to the
// conversation in its current state.
type InvalidInteraction struct {
	Meta
	Interaction  *model.Interaction
	Answer       string
	PickedChoice *model.Choice
	Question     *model.Question
}
