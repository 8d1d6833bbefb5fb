package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/classpoll/go/internal/apperrors"
	"github.com/mcdev12/classpoll/go/internal/models"
	"github.com/mcdev12/classpoll/go/internal/poll/results"
)

// PollService is the coordinator surface the REST API drives. Everything
// here is teacher tooling; students interact over the WebSocket only.
type PollService interface {
	CreatePoll(ctx context.Context, title, creatorID string) (*models.Poll, error)
	AddQuestion(ctx context.Context, pollID, text string, options []string, timeLimitSec int) (*models.Question, error)
	GetPoll(ctx context.Context, pollID string) (*models.Poll, error)
	PollResults(ctx context.Context, pollID string) ([]results.QuestionResults, error)
	PollHistory(ctx context.Context, creatorID string) ([]*models.Poll, error)
	OpenQuestion(ctx context.Context, pollID, questionID string) error
	CloseQuestion(ctx context.Context, pollID, questionID string) error
	RemoveStudent(ctx context.Context, pollID, displayName, actingConnectionID string) error
}

// APIHandler exposes poll management over plain HTTP.
type APIHandler struct {
	service PollService
}

func NewAPIHandler(service PollService) *APIHandler {
	return &APIHandler{service: service}
}

// RegisterRoutes registers the REST routes with an HTTP mux.
func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/polls", h.handleCreatePoll)
	mux.HandleFunc("GET /api/polls/{pollID}", h.handleGetPoll)
	mux.HandleFunc("POST /api/polls/{pollID}/questions", h.handleAddQuestion)
	mux.HandleFunc("POST /api/polls/{pollID}/questions/{questionID}/open", h.handleOpenQuestion)
	mux.HandleFunc("POST /api/polls/{pollID}/questions/{questionID}/close", h.handleCloseQuestion)
	mux.HandleFunc("GET /api/polls/{pollID}/results", h.handleResults)
	mux.HandleFunc("DELETE /api/polls/{pollID}/students/{name}", h.handleRemoveStudent)
	mux.HandleFunc("GET /api/history", h.handleHistory)
}

type createPollRequest struct {
	Title     string `json:"title"`
	CreatorID string `json:"creatorId"`
}

func (h *APIHandler) handleCreatePoll(w http.ResponseWriter, r *http.Request) {
	var req createPollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.New(apperrors.CodeInvalidInput, apperrors.WithMessagef("invalid request body")))
		return
	}

	p, err := h.service.CreatePoll(r.Context(), req.Title, req.CreatorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *APIHandler) handleGetPoll(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetPoll(r.Context(), r.PathValue("pollID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type addQuestionRequest struct {
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	TimeLimitSec int      `json:"timeLimitSec"`
}

func (h *APIHandler) handleAddQuestion(w http.ResponseWriter, r *http.Request) {
	var req addQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.New(apperrors.CodeInvalidInput, apperrors.WithMessagef("invalid request body")))
		return
	}

	q, err := h.service.AddQuestion(r.Context(), r.PathValue("pollID"), req.Text, req.Options, req.TimeLimitSec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

func (h *APIHandler) handleOpenQuestion(w http.ResponseWriter, r *http.Request) {
	if err := h.service.OpenQuestion(r.Context(), r.PathValue("pollID"), r.PathValue("questionID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *APIHandler) handleCloseQuestion(w http.ResponseWriter, r *http.Request) {
	if err := h.service.CloseQuestion(r.Context(), r.PathValue("pollID"), r.PathValue("questionID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *APIHandler) handleResults(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.PollResults(r.Context(), r.PathValue("pollID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *APIHandler) handleRemoveStudent(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RemoveStudent(r.Context(), r.PathValue("pollID"), r.PathValue("name"), ""); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *APIHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	creatorID := r.URL.Query().Get("creator_id")
	if creatorID == "" {
		writeError(w, apperrors.New(apperrors.CodeInvalidInput, apperrors.WithMessagef("creator_id is required")))
		return
	}

	polls, err := h.service.PollHistory(r.Context(), creatorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, polls)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	ae := apperrors.Convert(err)
	writeJSON(w, ae.HTTPStatusCode(), map[string]string{
		"code":    ae.Code.String(),
		"message": ae.Message,
	})
}
