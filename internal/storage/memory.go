package storage

import (
	"context"
	"sync"
	"time"

	"github.com/chatform/survey-engine/internal/model"
)

// Memory is an in-process Store. It hands out the stored aggregates
// directly, which is what the per-user flow manager expects: one goroutine
// owns a conversation at a time.
type Memory struct {
	mu         sync.Mutex
	surveys    map[int64][]*model.Survey
	nextSurvey int64
	nextQuest  int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{surveys: make(map[int64][]*model.Survey)}
}

// CurrentSurvey implements Store.
func (m *Memory) CurrentSurvey(_ context.Context, userID int64, now time.Time, expiry time.Duration) (*model.Survey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.surveys[userID]
	for i := len(list) - 1; i >= 0; i-- {
		s := list[i]
		if s.IsActive && !s.IsExpired(now, expiry) {
			return s, nil
		}
	}
	return nil, ErrNotFound
}

// MostRecentSurvey implements Store.
func (m *Memory) MostRecentSurvey(_ context.Context, userID int64) (*model.Survey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.surveys[userID]
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[len(list)-1], nil
}

// CreateSurvey implements Store.
func (m *Memory) CreateSurvey(_ context.Context, s *model.Survey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSurvey++
	s.ID = m.nextSurvey
	m.surveys[s.UserID] = append(m.surveys[s.UserID], s)
	return nil
}

// SaveSurvey implements Store.
func (m *Memory) SaveSurvey(_ context.Context, s *model.Survey, withQuestions bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if withQuestions {
		for _, q := range s.Questions {
			m.assignQuestionID(q, s.ID)
		}
	}
	return nil
}

// SaveQuestion implements Store.
func (m *Memory) SaveQuestion(_ context.Context, q *model.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignQuestionID(q, q.SurveyID)
	return nil
}

func (m *Memory) assignQuestionID(q *model.Question, surveyID int64) {
	if q.ID == 0 {
		m.nextQuest++
		q.ID = m.nextQuest
	}
	if q.SurveyID == 0 {
		q.SurveyID = surveyID
	}
}

// DeleteQuestion implements Store.
func (m *Memory) DeleteQuestion(_ context.Context, questionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, list := range m.surveys {
		for _, s := range list {
			for i, q := range s.Questions {
				if q.ID == questionID {
					s.Questions = append(s.Questions[:i], s.Questions[i+1:]...)
					return nil
				}
			}
		}
	}
	return nil
}
