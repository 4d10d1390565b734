package model

import (
	"fmt"
	"time"
)

// Survey is one multi-turn conversation session with a user. At most one
// survey per user is active at a time; it stops being current once the expiry
// window has elapsed since the last interaction.
type Survey struct {
	ID int64

	// MessageID is the platform id of the message currently rendering the
	// survey; 0 means the survey has not been rendered yet.
	MessageID int64

	UserID      int64
	IsActive    bool
	IsCancelled bool
	IsCompleted bool

	CreatedAt         time.Time
	LastInteractionAt time.Time

	Questions []*Question
}

// NewSurvey builds an active survey for a user, remembering the message id of
// an existing dashboard when one is already on screen.
func NewSurvey(userID, messageID int64, now time.Time) *Survey {
	return &Survey{
		MessageID:         messageID,
		UserID:            userID,
		IsActive:          true,
		CreatedAt:         now,
		LastInteractionAt: now,
	}
}

// MostRecentQuestion returns the last question of the survey, or nil.
func (s *Survey) MostRecentQuestion() *Question {
	if len(s.Questions) == 0 {
		return nil
	}
	return s.Questions[len(s.Questions)-1]
}

// LastAnswers returns the most recent answer of every question, in question
// order. Questions without answers contribute a nil entry, so positions line
// up with the question sequence.
func (s *Survey) LastAnswers() []*Answer {
	out := make([]*Answer, 0, len(s.Questions))
	for _, q := range s.Questions {
		out = append(out, q.LastAnswer())
	}
	return out
}

// IsExpired reports whether the survey stopped being current: the expiry
// window elapsed since the last interaction.
func (s *Survey) IsExpired(now time.Time, window time.Duration) bool {
	return s.LastInteractionAt.Add(window).Before(now)
}

// Complete marks the survey terminal as completed.
func (s *Survey) Complete(now time.Time) {
	s.IsCompleted = true
	s.IsActive = false
	s.LastInteractionAt = now
}

// Cancel marks the survey terminal as cancelled.
func (s *Survey) Cancel(now time.Time) {
	s.IsCancelled = true
	s.IsActive = false
	s.LastInteractionAt = now
}

// RemoveLastQuestion pops the most recent question and returns it, or nil
// when the survey has none.
func (s *Survey) RemoveLastQuestion() *Question {
	if len(s.Questions) == 0 {
		return nil
	}
	q := s.Questions[len(s.Questions)-1]
	s.Questions = s.Questions[:len(s.Questions)-1]
	return q
}

func (s *Survey) String() string {
	return fmt.Sprintf("%d|%d|%d", s.ID, s.MessageID, s.UserID)
}
