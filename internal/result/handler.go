package result

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"quizlms/internal/app/apiresp"
	"quizlms/internal/auth"
	"quizlms/internal/fsm"
	"quizlms/internal/validation"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc    resultService
	logger *slog.Logger
}

type resultService interface {
	Submit(ctx context.Context, p auth.Principal, resultID int64, answers []AnswerInput) (*Submission, error)
	Get(ctx context.Context, p auth.Principal, resultID int64) (*Detail, error)
	Review(ctx context.Context, p auth.Principal, resultID int64, in ReviewInput) (*Detail, error)
	MarkGraded(ctx context.Context, p auth.Principal, resultID int64) (*Result, error)
	Publish(ctx context.Context, p auth.Principal, resultID int64) (*Result, error)
}

type submitRequest struct {
	Answers []AnswerInput `json:"answers"`
}

func NewHandler(svc resultService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) SubmitResponses(w http.ResponseWriter, r *http.Request) {
	p, resultID, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.svc.Submit(r.Context(), p, resultID, req.Answers)
	if err != nil {
		h.writeError(w, r, "submit responses", p, resultID, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, resultID, ok := h.begin(w, r)
	if !ok {
		return
	}

	out, err := h.svc.Get(r.Context(), p, resultID)
	if err != nil {
		h.writeError(w, r, "get result", p, resultID, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Review(w http.ResponseWriter, r *http.Request) {
	p, resultID, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req ReviewInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.svc.Review(r.Context(), p, resultID, req)
	if err != nil {
		h.writeError(w, r, "review result", p, resultID, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) MarkGraded(w http.ResponseWriter, r *http.Request) {
	p, resultID, ok := h.begin(w, r)
	if !ok {
		return
	}

	out, err := h.svc.MarkGraded(r.Context(), p, resultID)
	if err != nil {
		h.writeError(w, r, "mark result graded", p, resultID, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	p, resultID, ok := h.begin(w, r)
	if !ok {
		return
	}

	out, err := h.svc.Publish(r.Context(), p, resultID)
	if err != nil {
		h.writeError(w, r, "publish result", p, resultID, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) begin(w http.ResponseWriter, r *http.Request) (auth.Principal, int64, bool) {
	p, ok := auth.CurrentPrincipal(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return auth.Principal{}, 0, false
	}
	resultID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || resultID <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid result id")
		return auth.Principal{}, 0, false
	}
	return p, resultID, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, p auth.Principal, resultID int64, err error) {
	if fields, ok := validation.Fields(err); ok {
		apiresp.WriteFields(w, r, http.StatusBadRequest, "validation failed", fields)
		return
	}
	switch {
	case errors.Is(err, ErrResultNotFound), errors.Is(err, ErrQuestionNotFound), errors.Is(err, ErrResponseNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrForbidden), errors.Is(err, ErrResultNotVisible):
		apiresp.WriteError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrAlreadyCompleted), errors.Is(err, ErrSessionCancelled):
		apiresp.WriteError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, fsm.ErrInvalidTransition):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "result operation failed",
			"op", op, "result_id", resultID, "user_id", p.UserID, "role", p.Role, "err", err)
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}
