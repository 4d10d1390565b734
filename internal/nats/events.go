package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/chatform/survey-engine/internal/event"
	"github.com/chatform/survey-engine/internal/model"
	"github.com/chatform/survey-engine/pkg/logger"
	"github.com/chatform/survey-engine/pkg/metrics"
)

const (
	// StreamName is the name of the survey events stream.
	StreamName = "SURVEYS"

	// SubjectPrefix is the prefix for all survey event subjects.
	SubjectPrefix = "surveys"
)

// Mirror subscribes to the event dispatcher and republishes every survey
// event onto JetStream, so other services can follow conversations without
// touching the engine.
type Mirror struct {
	event.BaseHandler
	client *Client
	logger *logger.Logger
}

// NewMirror creates the event mirror over a connected client.
func NewMirror(client *Client, log *logger.Logger) *Mirror {
	return &Mirror{client: client, logger: log}
}

// EnsureStream ensures the survey events stream exists.
func (m *Mirror) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Survey lifecycle events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// EventSubject returns the subject for a survey event.
func EventSubject(userID int64, eventType event.Type) string {
	return fmt.Sprintf("%s.%d.%s", SubjectPrefix, userID, eventType)
}

// UserFilter returns the filter subject for all events of a user.
func UserFilter(userID int64) string {
	return fmt.Sprintf("%s.%d.>", SubjectPrefix, userID)
}

// Envelope is the published wire form of a survey event.
type Envelope struct {
	Type       event.Type    `json:"type"`
	UserID     int64         `json:"user_id"`
	ChatID     int64         `json:"chat_id"`
	SurveyID   int64         `json:"survey_id"`
	QuestionID int64         `json:"question_id,omitempty"`
	Answer     *model.Answer `json:"answer,omitempty"`
	Command    string        `json:"command,omitempty"`
	Page       int           `json:"page,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

func (m *Mirror) publish(ctx context.Context, env Envelope) error {
	env.OccurredAt = time.Now().UTC()
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := EventSubject(env.UserID, env.Type)
	ack, err := m.client.JetStream().Publish(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	metrics.NATSStreamMessages.WithLabelValues(StreamName).Set(float64(ack.Sequence))
	m.logger.Debug("mirrored survey event",
		zap.String("subject", subject),
		zap.Uint64("sequence", ack.Sequence))
	return nil
}

func questionID(q *model.Question) int64 {
	if q == nil {
		return 0
	}
	return q.ID
}

// OnCommandReceived implements event.Handler.
func (m *Mirror) OnCommandReceived(ctx context.Context, ev *event.CommandReceived) error {
	return m.publish(ctx, Envelope{
		Type: event.TypeCommandReceived, UserID: ev.UserID, ChatID: ev.ChatID,
		SurveyID: ev.SurveyID, QuestionID: questionID(ev.Question), Command: ev.Command.Name,
	})
}

// OnQuestionAnswered implements event.Handler.
func (m *Mirror) OnQuestionAnswered(ctx context.Context, ev *event.QuestionAnswered) error {
	return m.publish(ctx, Envelope{
		Type: event.TypeQuestionAnswered, UserID: ev.UserID, ChatID: ev.ChatID,
		SurveyID: ev.SurveyID, QuestionID: questionID(ev.Question), Answer: ev.Answer,
	})
}

// OnQuestionChanged implements event.Handler.
func (m *Mirror) OnQuestionChanged(ctx context.Context, ev *event.QuestionChanged) error {
	return m.publish(ctx, Envelope{
		Type: event.TypeQuestionChanged, UserID: ev.UserID, ChatID: ev.ChatID,
		SurveyID: ev.SurveyID, QuestionID: questionID(ev.Question),
	})
}

// OnChangePage implements event.Handler.
func (m *Mirror) OnChangePage(ctx context.Context, ev *event.ChangePage) error {
	return m.publish(ctx, Envelope{
		Type: event.TypeChangePage, UserID: ev.UserID, ChatID: ev.ChatID,
		SurveyID: ev.SurveyID, QuestionID: questionID(ev.Question), Page: ev.RequestedPage,
	})
}

// OnSurveyCancelled implements event.Handler.
func (m *Mirror) OnSurveyCancelled(ctx context.Context, ev *event.SurveyCancelled) error {
	return m.publish(ctx, Envelope{
		Type: event.TypeSurveyCancelled, UserID: ev.UserID, ChatID: ev.ChatID,
		SurveyID: ev.SurveyID, QuestionID: questionID(ev.Question),
	})
}

// OnSurveyCompleted implements event.Handler.
func (m *Mirror) OnSurveyCompleted(ctx context.Context, ev *event.SurveyCompleted) error {
	return m.publish(ctx, Envelope{
		Type: event.TypeSurveyCompleted, UserID: ev.UserID, ChatID: ev.ChatID,
		SurveyID: ev.SurveyID,
	})
}

// OnPayReceived implements event.Handler.
func (m *Mirror) OnPayReceived(ctx context.Context, ev *event.PayReceived) error {
	return m.publish(ctx, Envelope{
		Type: event.TypePayReceived, UserID: ev.UserID, ChatID: ev.ChatID,
		SurveyID: ev.SurveyID, QuestionID: questionID(ev.Question),
	})
}

// OnInvalidInteraction implements event.Handler.
func (m *Mirror) OnInvalidInteraction(ctx context.Context, ev *event.InvalidInteraction) error {
	return m.publish(ctx, Envelope{
		Type: event.TypeInvalidInteraction, UserID: ev.UserID, ChatID: ev.ChatID,
		SurveyID: ev.SurveyID, QuestionID: questionID(ev.Question),
	})
}

// ReadEvents retrieves mirrored events of a user starting after a sequence.
func (m *Mirror) ReadEvents(ctx context.Context, userID int64, afterSequence uint64, limit int) ([]Envelope, uint64, error) {
	js := m.client.JetStream()

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: UserFilter(userID),
		AckPolicy:     jetstream.AckNonePolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}
	if afterSequence > 0 {
		consumerConfig.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerConfig.OptStartSeq = afterSequence + 1
	}

	consumer, err := js.CreateConsumer(ctx, StreamName, consumerConfig)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create consumer: %w", err)
	}

	batch, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch events: %w", err)
	}

	var events []Envelope
	var lastSequence uint64
	for msg := range batch.Messages() {
		var env Envelope
		if err := json.Unmarshal(msg.Data(), &env); err != nil {
			continue
		}
		if meta, err := msg.Metadata(); err == nil {
			lastSequence = meta.Sequence.Stream
		}
		events = append(events, env)
	}
	if batch.Error() != nil {
		return nil, 0, fmt.Errorf("batch error: %w", batch.Error())
	}
	return events, lastSequence, nil
}
