package flow

import (
	"sync"

	"github.com/chatform/survey-engine/pkg/metrics"
)

// Sessions hands out the per-chat flow manager, creating it on first use.
// One manager exists per chat at a time, so the per-conversation processing
// guard actually serializes the conversation.
type Sessions struct {
	factory func(userID, chatID int64) (*Manager, error)

	mu       sync.Mutex
	managers map[int64]*Manager
}

// NewSessions builds a session registry over a manager factory.
func NewSessions(factory func(userID, chatID int64) (*Manager, error)) *Sessions {
	return &Sessions{
		factory:  factory,
		managers: make(map[int64]*Manager),
	}
}

// Get returns the manager for a chat, creating it if needed.
func (s *Sessions) Get(userID, chatID int64) (*Manager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.managers[chatID]; ok {
		return m, nil
	}
	m, err := s.factory(userID, chatID)
	if err != nil {
		return nil, err
	}
	s.managers[chatID] = m
	metrics.ActiveSessions.Inc()
	return m, nil
}

// Remove drops the manager of a chat.
func (s *Sessions) Remove(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.managers[chatID]; ok {
		delete(s.managers, chatID)
		metrics.ActiveSessions.Dec()
	}
}

// Len returns the number of loaded managers.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.managers)
}
