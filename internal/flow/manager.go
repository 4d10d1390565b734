// Package flow runs the conversation state machine for one chat: it turns
// inbound updates into answers, navigation and events, and keeps a single
// dashboard message rendering the open question.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatform/survey-engine/internal/event"
	"github.com/chatform/survey-engine/internal/middleware"
	"github.com/chatform/survey-engine/internal/model"
	"github.com/chatform/survey-engine/internal/platform"
	"github.com/chatform/survey-engine/internal/storage"
	"github.com/chatform/survey-engine/pkg/metrics"
)

// staleDashboardNotice is shown when an old dashboard message cannot be
// removed and the user should use the newest one.
const staleDashboardNotice = "Please use the new dashboard below."

// startProcessingWait bounds how long StartProcessing waits for the
// conversation slot before reporting it busy.
const startProcessingWait = 50 * time.Millisecond

// Manager owns the conversation with one user in one chat. Processing is
// serialized through a single slot acquired with StartProcessing; sending is
// serialized separately so delivery calls issued by event handlers do not
// deadlock against processing.
type Manager struct {
	botName  string
	commands []model.CommandDef
	userID   int64
	chatID   int64

	store  storage.Store
	client platform.Client
	events *event.Dispatcher
	log    *zap.Logger
	now    func() time.Time
	expiry time.Duration

	proc   chan struct{}
	sendMu sync.Mutex

	survey  *model.Survey
	current *model.Interaction

	// dashboardMsgID tracks the message currently rendering the dashboard;
	// 0 forces the next delivery to send a fresh message.
	dashboardMsgID int64

	// recentMessageSent counts loose messages sent since the last dashboard
	// render; a non-zero count means the dashboard scrolled up.
	recentMessageSent int

	initOnce sync.Once
}

// Config carries the dependencies of a Manager.
type Config struct {
	BotName  string
	Commands []model.CommandDef
	UserID   int64
	ChatID   int64
	Store    storage.Store
	Client   platform.Client
	Events   *event.Dispatcher
	Log      *zap.Logger
	Expiry   time.Duration

	// Now overrides the clock; tests inject a fixed time.
	Now func() time.Time
}

// NewManager builds the flow manager for one chat.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("flow: store is required")
	}
	if cfg.Client == nil {
		return nil, errors.New("flow: platform client is required")
	}
	if cfg.Events == nil {
		return nil, errors.New("flow: event dispatcher is required")
	}
	if cfg.Expiry <= 0 {
		return nil, fmt.Errorf("flow: invalid survey expiry %v", cfg.Expiry)
	}
	for _, c := range cfg.Commands {
		if err := middleware.ValidateCommandName(c.Name); err != nil {
			return nil, fmt.Errorf("flow: command %q: %w", c.Name, err)
		}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		botName:  cfg.BotName,
		commands: cfg.Commands,
		userID:   cfg.UserID,
		chatID:   cfg.ChatID,
		store:    cfg.Store,
		client:   cfg.Client,
		events:   cfg.Events,
		log:      log.With(zap.Int64("user_id", cfg.UserID), zap.Int64("chat_id", cfg.ChatID)),
		now:      now,
		expiry:   cfg.Expiry,
		proc:     make(chan struct{}, 1),
	}
	m.proc <- struct{}{}
	return m, nil
}

// StartProcessing acquires the conversation slot, waiting briefly for an
// in-flight interaction to finish. It reports false when the slot stays busy.
func (m *Manager) StartProcessing() bool {
	select {
	case <-m.proc:
		return true
	case <-time.After(startProcessingWait):
		return false
	}
}

// EndProcessing releases the conversation slot.
func (m *Manager) EndProcessing() {
	select {
	case m.proc <- struct{}{}:
	default:
	}
}

// Init recovers the dashboard message id from the user's latest survey, so a
// restarted process keeps editing the message already on screen.
func (m *Manager) Init(ctx context.Context) {
	m.initOnce.Do(func() {
		s, err := m.store.MostRecentSurvey(ctx, m.userID)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				m.log.Warn("could not recover dashboard message id", zap.Error(err))
			}
			return
		}
		m.dashboardMsgID = s.MessageID
	})
}

// CurrentSurvey returns the survey the manager is operating on, or nil.
func (m *Manager) CurrentSurvey() *model.Survey { return m.survey }

// CurrentInteraction returns the interaction being processed, or nil.
func (m *Manager) CurrentInteraction() *model.Interaction { return m.current }

// UserID returns the user this manager belongs to.
func (m *Manager) UserID() int64 { return m.userID }

// ChatID returns the chat this manager belongs to.
func (m *Manager) ChatID() int64 { return m.chatID }

// CreateNewSurvey starts a fresh active survey, carrying over the dashboard
// message id so the existing message keeps being edited.
func (m *Manager) CreateNewSurvey(ctx context.Context) (*model.Survey, error) {
	s := model.NewSurvey(m.userID, m.dashboardMsgID, m.now())
	if err := m.store.CreateSurvey(ctx, s); err != nil {
		return nil, fmt.Errorf("create survey: %w", err)
	}
	metrics.RecordSurvey("created")
	m.survey = s
	return s, nil
}

// commandNames returns the registered command names.
func (m *Manager) commandNames() []string {
	names := make([]string, 0, len(m.commands))
	for _, c := range m.commands {
		names = append(names, c.Name)
	}
	return names
}

// choicesFromCommands turns the dashboard-visible commands into pickable
// choices.
func (m *Manager) choicesFromCommands() []model.Choice {
	var choices []model.Choice
	for _, c := range m.commands {
		if !c.ShowOnDashboard {
			continue
		}
		choice, err := model.NewChoice(c.DisplayLabel(), c.Name)
		if err != nil {
			continue
		}
		choices = append(choices, choice)
	}
	return choices
}

// meta stamps the conversation identity onto an event.
func (m *Manager) meta() event.Meta {
	meta := event.Meta{UserID: m.userID, ChatID: m.chatID}
	if m.survey != nil {
		meta.SurveyID = m.survey.ID
	}
	return meta
}

// tagsOf collects the handler tags addressed by a question.
func tagsOf(q *model.Question) []string {
	if q == nil {
		return nil
	}
	var tags []string
	if q.HandlerTag != "" {
		tags = append(tags, q.HandlerTag)
	}
	if q.EventHook != "" {
		tags = append(tags, q.EventHook)
	}
	return tags
}
