package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chatform/survey-engine/internal/middleware"
	"github.com/chatform/survey-engine/internal/model"
	"github.com/chatform/survey-engine/internal/storage"
	"github.com/chatform/survey-engine/pkg/logger"
)

// SurveyHandler exposes read and admin operations over stored surveys.
type SurveyHandler struct {
	store  storage.Store
	expiry time.Duration
	logger *logger.Logger
}

// NewSurveyHandler creates a new survey handler.
func NewSurveyHandler(store storage.Store, expiry time.Duration, log *logger.Logger) *SurveyHandler {
	return &SurveyHandler{
		store:  store,
		expiry: expiry,
		logger: log,
	}
}

type questionView struct {
	ID             int64            `json:"id"`
	InternalID     int              `json:"internal_id"`
	FieldType      string           `json:"field_type"`
	Text           string           `json:"text"`
	IsMandatory    bool             `json:"is_mandatory"`
	IsCompleted    bool             `json:"is_completed"`
	ExpectsCommand bool             `json:"expects_command"`
	Choices        []model.Choice   `json:"choices,omitempty"`
	Answers        []*model.Answer  `json:"answers,omitempty"`
}

type surveyView struct {
	ID          int64          `json:"id"`
	UserID      int64          `json:"user_id"`
	MessageID   int64          `json:"message_id,omitempty"`
	IsActive    bool           `json:"is_active"`
	IsCancelled bool           `json:"is_cancelled"`
	IsCompleted bool           `json:"is_completed"`
	CreatedAt   time.Time      `json:"created_at"`
	Questions   []questionView `json:"questions"`
}

func viewOf(s *model.Survey) surveyView {
	view := surveyView{
		ID:          s.ID,
		UserID:      s.UserID,
		MessageID:   s.MessageID,
		IsActive:    s.IsActive,
		IsCancelled: s.IsCancelled,
		IsCompleted: s.IsCompleted,
		CreatedAt:   s.CreatedAt,
		Questions:   make([]questionView, 0, len(s.Questions)),
	}
	for _, q := range s.Questions {
		view.Questions = append(view.Questions, questionView{
			ID:             q.ID,
			InternalID:     q.InternalID,
			FieldType:      q.FieldType.String(),
			Text:           q.Text,
			IsMandatory:    q.IsMandatory,
			IsCompleted:    q.IsCompleted,
			ExpectsCommand: q.ExpectsCommand,
			Choices:        q.Choices(),
			Answers:        q.Answers(),
		})
	}
	return view
}

func userIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		return 0, err
	}
	if err := middleware.ValidateUserID(id); err != nil {
		return 0, err
	}
	return id, nil
}

// Current handles GET /api/v1/users/{userID}/surveys/current
func (h *SurveyHandler) Current(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	s, err := h.store.CurrentSurvey(r.Context(), userID, time.Now(), h.expiry)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no active survey")
		return
	}
	if err != nil {
		h.logger.Error("loading current survey", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load survey")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s))
}

// Latest handles GET /api/v1/users/{userID}/surveys/latest
func (h *SurveyHandler) Latest(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	s, err := h.store.MostRecentSurvey(r.Context(), userID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no survey found")
		return
	}
	if err != nil {
		h.logger.Error("loading latest survey", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load survey")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s))
}

// Cancel handles POST /api/v1/users/{userID}/surveys/current/cancel
func (h *SurveyHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	s, err := h.store.CurrentSurvey(r.Context(), userID, time.Now(), h.expiry)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no active survey")
		return
	}
	if err != nil {
		h.logger.Error("loading survey to cancel", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load survey")
		return
	}

	s.Cancel(time.Now())
	if err := h.store.SaveSurvey(r.Context(), s, false); err != nil {
		h.logger.Error("saving cancelled survey", zap.Int64("survey_id", s.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not cancel survey")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s))
}

// Complete handles POST /api/v1/users/{userID}/surveys/current/complete
func (h *SurveyHandler) Complete(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	s, err := h.store.CurrentSurvey(r.Context(), userID, time.Now(), h.expiry)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no active survey")
		return
	}
	if err != nil {
		h.logger.Error("loading survey to complete", zap.Int64("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load survey")
		return
	}

	s.Complete(time.Now())
	if err := h.store.SaveSurvey(r.Context(), s, false); err != nil {
		h.logger.Error("saving completed survey", zap.Int64("survey_id", s.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not complete survey")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s))
}
