// Package storage persists surveys and their questions. The flow layer
// depends on the Store interface; implementations are the Postgres store and
// an in-memory store used by tests and single-process deployments.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/chatform/survey-engine/internal/model"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// Store persists surveys. Surveys load with their questions attached, in
// creation order, each with choices, constraints and answers restored.
type Store interface {
	// CurrentSurvey returns the user's active survey, skipping surveys whose
	// expiry window elapsed since the last interaction.
	CurrentSurvey(ctx context.Context, userID int64, now time.Time, expiry time.Duration) (*model.Survey, error)

	// MostRecentSurvey returns the user's latest survey regardless of state
	// or expiry.
	MostRecentSurvey(ctx context.Context, userID int64) (*model.Survey, error)

	// CreateSurvey inserts a survey and fills in its id.
	CreateSurvey(ctx context.Context, s *model.Survey) error

	// SaveSurvey updates a survey; with withQuestions set, its questions are
	// saved too.
	SaveSurvey(ctx context.Context, s *model.Survey, withQuestions bool) error

	// SaveQuestion inserts or updates a question, filling in its id on
	// insert.
	SaveQuestion(ctx context.Context, q *model.Question) error

	// DeleteQuestion removes a question and its recorded state.
	DeleteQuestion(ctx context.Context, questionID int64) error
}
