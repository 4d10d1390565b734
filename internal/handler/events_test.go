package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatform/survey-engine/internal/event"
	natsclient "github.com/chatform/survey-engine/internal/nats"
)

type fakeEventReader struct {
	events []natsclient.Envelope
	last   uint64
	err    error

	gotUserID int64
	gotAfter  uint64
	gotLimit  int
}

func (f *fakeEventReader) ReadEvents(_ context.Context, userID int64, after uint64, limit int) ([]natsclient.Envelope, uint64, error) {
	f.gotUserID = userID
	f.gotAfter = after
	f.gotLimit = limit
	return f.events, f.last, f.err
}

func eventsRouter(reader EventReader) http.Handler {
	h := NewEventsHandler(reader, newTestLogger())
	r := chi.NewRouter()
	r.Get("/users/{userID}/events", h.List)
	return r
}

func TestEventsList(t *testing.T) {
	reader := &fakeEventReader{
		events: []natsclient.Envelope{
			{Type: event.TypeQuestionAnswered, UserID: 7, SurveyID: 3},
			{Type: event.TypeSurveyCompleted, UserID: 7, SurveyID: 3},
		},
		last: 42,
	}
	router := eventsRouter(reader)

	rec := doRequest(t, router, http.MethodGet, "/users/7/events?after=40&limit=10")
	require.Equal(t, http.StatusOK, rec.Code)

	var view eventsView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Len(t, view.Events, 2)
	assert.Equal(t, event.TypeQuestionAnswered, view.Events[0].Type)
	assert.EqualValues(t, 42, view.LastSequence)

	assert.EqualValues(t, 7, reader.gotUserID)
	assert.EqualValues(t, 40, reader.gotAfter)
	assert.Equal(t, 10, reader.gotLimit)
}

func TestEventsListDefaults(t *testing.T) {
	reader := &fakeEventReader{}
	router := eventsRouter(reader)

	rec := doRequest(t, router, http.MethodGet, "/users/7/events")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultEventLimit, reader.gotLimit)
	assert.Zero(t, reader.gotAfter)
	assert.JSONEq(t, `{"events":[],"last_sequence":0}`, rec.Body.String())
}

func TestEventsListBadRequests(t *testing.T) {
	router := eventsRouter(&fakeEventReader{})

	for name, path := range map[string]string{
		"bad user id":  "/users/bob/events",
		"zero user id": "/users/0/events",
		"bad after":    "/users/7/events?after=later",
		"bad limit":    "/users/7/events?limit=-1",
	} {
		t.Run(name, func(t *testing.T) {
			rec := doRequest(t, router, http.MethodGet, path)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestEventsListLimitCap(t *testing.T) {
	reader := &fakeEventReader{}
	router := eventsRouter(reader)

	rec := doRequest(t, router, http.MethodGet, "/users/7/events?limit=5000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxEventLimit, reader.gotLimit)
}

func TestEventsListMirrorDisabled(t *testing.T) {
	router := eventsRouter(nil)

	rec := doRequest(t, router, http.MethodGet, "/users/7/events")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestEventsListReaderFailure(t *testing.T) {
	router := eventsRouter(&fakeEventReader{err: errors.New("stream offline")})

	rec := doRequest(t, router, http.MethodGet, "/users/7/events")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
