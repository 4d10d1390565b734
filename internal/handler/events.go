package handler

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	natsclient "github.com/chatform/survey-engine/internal/nats"
	"github.com/chatform/survey-engine/pkg/logger"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 200
)

// EventReader pages through the mirrored survey events of a user.
type EventReader interface {
	ReadEvents(ctx context.Context, userID int64, afterSequence uint64, limit int) ([]natsclient.Envelope, uint64, error)
}

// EventsHandler exposes the mirrored event stream over the admin API. A nil
// reader means the mirror is disabled and the endpoint reports so.
type EventsHandler struct {
	reader EventReader
	logger *logger.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(reader EventReader, log *logger.Logger) *EventsHandler {
	return &EventsHandler{
		reader: reader,
		logger: log,
	}
}

type eventsView struct {
	Events       []natsclient.Envelope `json:"events"`
	LastSequence uint64                `json:"last_sequence"`
}

// List handles GET /api/v1/users/{userID}/events. The after query parameter
// resumes from a previously returned last_sequence.
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "event mirror disabled")
		return
	}

	userID, err := userIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var after uint64
	if v := r.URL.Query().Get("after"); v != "" {
		after, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after sequence")
			return
		}
	}

	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if limit > maxEventLimit {
			limit = maxEventLimit
		}
	}

	events, last, err := h.reader.ReadEvents(r.Context(), userID, after, limit)
	if err != nil {
		h.logger.Error("reading mirrored events", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not read events")
		return
	}
	if events == nil {
		events = []natsclient.Envelope{}
	}
	writeJSON(w, http.StatusOK, eventsView{Events: events, LastSequence: last})
}
