package question

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"quizlms/internal/app/apiresp"
	"quizlms/internal/auth"
	"quizlms/internal/validation"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc    quizService
	logger *slog.Logger
}

type quizService interface {
	CreateQuiz(ctx context.Context, p auth.Principal, in CreateQuizInput) (*Quiz, error)
	AddQuestion(ctx context.Context, p auth.Principal, quizID int64, in QuestionInput) (*Question, error)
	PublishQuiz(ctx context.Context, p auth.Principal, quizID int64) (*Quiz, error)
	GetQuiz(ctx context.Context, p auth.Principal, quizID int64) (*Quiz, error)
}

func NewHandler(svc quizService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) CreateQuiz(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.CurrentPrincipal(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req CreateQuizInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.svc.CreateQuiz(r.Context(), p, req)
	if err != nil {
		h.writeError(w, r, "create quiz", p, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, out)
}

func (h *Handler) AddQuestion(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.CurrentPrincipal(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	quizID, ok := parseQuizID(w, r)
	if !ok {
		return
	}
	var req QuestionInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.svc.AddQuestion(r.Context(), p, quizID, req)
	if err != nil {
		h.writeError(w, r, "add question", p, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, out)
}

func (h *Handler) PublishQuiz(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.CurrentPrincipal(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	quizID, ok := parseQuizID(w, r)
	if !ok {
		return
	}

	out, err := h.svc.PublishQuiz(r.Context(), p, quizID)
	if err != nil {
		h.writeError(w, r, "publish quiz", p, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) GetQuiz(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.CurrentPrincipal(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	quizID, ok := parseQuizID(w, r)
	if !ok {
		return
	}

	out, err := h.svc.GetQuiz(r.Context(), p, quizID)
	if err != nil {
		h.writeError(w, r, "get quiz", p, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func parseQuizID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid quiz id")
		return 0, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, p auth.Principal, err error) {
	if fields, ok := validation.Fields(err); ok {
		apiresp.WriteFields(w, r, http.StatusBadRequest, "validation failed", fields)
		return
	}
	switch {
	case errors.Is(err, ErrQuizNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrQuizForbidden):
		apiresp.WriteError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrQuizNotDraft), errors.Is(err, ErrQuizEmpty):
		apiresp.WriteError(w, r, http.StatusConflict, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "quiz operation failed",
			"op", op, "quiz_id", chi.URLParam(r, "id"), "user_id", p.UserID, "err", err)
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}
