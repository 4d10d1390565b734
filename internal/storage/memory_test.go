package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatform/survey-engine/internal/model"
)

var (
	memNow    = time.Date(2025, 5, 12, 9, 30, 0, 0, time.UTC)
	memExpiry = 30 * time.Minute
)

func TestMemoryCreateAndCurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.CurrentSurvey(ctx, 1, memNow, memExpiry)
	assert.ErrorIs(t, err, ErrNotFound)

	s := model.NewSurvey(1, 0, memNow)
	require.NoError(t, m.CreateSurvey(ctx, s))
	assert.NotZero(t, s.ID)

	got, err := m.CurrentSurvey(ctx, 1, memNow, memExpiry)
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = m.CurrentSurvey(ctx, 2, memNow, memExpiry)
	assert.ErrorIs(t, err, ErrNotFound, "surveys are per user")
}

func TestMemoryCurrentSkipsInactiveAndExpired(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	done := model.NewSurvey(1, 0, memNow)
	require.NoError(t, m.CreateSurvey(ctx, done))
	done.Complete(memNow)

	stale := model.NewSurvey(1, 0, memNow.Add(-2*memExpiry))
	require.NoError(t, m.CreateSurvey(ctx, stale))

	_, err := m.CurrentSurvey(ctx, 1, memNow, memExpiry)
	assert.ErrorIs(t, err, ErrNotFound)

	fresh := model.NewSurvey(1, 0, memNow)
	require.NoError(t, m.CreateSurvey(ctx, fresh))

	got, err := m.CurrentSurvey(ctx, 1, memNow, memExpiry)
	require.NoError(t, err)
	assert.Same(t, fresh, got)

	latest, err := m.MostRecentSurvey(ctx, 1)
	require.NoError(t, err)
	assert.Same(t, fresh, latest, "most recent ignores state")
}

func TestMemorySaveSurveyAssignsQuestionIDs(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	s := model.NewSurvey(1, 0, memNow)
	require.NoError(t, m.CreateSurvey(ctx, s))

	q1 := model.NewQuestion(0, memNow)
	q2 := model.NewQuestion(1, memNow)
	s.Questions = append(s.Questions, q1, q2)
	require.NoError(t, m.SaveSurvey(ctx, s, true))

	assert.NotZero(t, q1.ID)
	assert.NotZero(t, q2.ID)
	assert.NotEqual(t, q1.ID, q2.ID)
	assert.Equal(t, s.ID, q1.SurveyID)

	t.Run("save keeps existing ids", func(t *testing.T) {
		id := q1.ID
		require.NoError(t, m.SaveQuestion(ctx, q1))
		assert.Equal(t, id, q1.ID)
	})
}

func TestMemoryDeleteQuestion(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	s := model.NewSurvey(1, 0, memNow)
	require.NoError(t, m.CreateSurvey(ctx, s))
	q := model.NewQuestion(0, memNow)
	s.Questions = append(s.Questions, q)
	require.NoError(t, m.SaveSurvey(ctx, s, true))

	require.NoError(t, m.DeleteQuestion(ctx, q.ID))
	assert.Empty(t, s.Questions)

	assert.NoError(t, m.DeleteQuestion(ctx, 9999), "deleting a missing question is not an error")
}
