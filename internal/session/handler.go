package session

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
	"quizlms/internal/question"
	"quizlms/internal/result"
	"quizlms/internal/validation"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc    sessionService
	logger *slog.Logger
}

type sessionService interface {
	Create(ctx context.Context, p auth.Principal, in CreateInput) (*Session, error)
	Update(ctx context.Context, p auth.Principal, id int64, in UpdateInput) (*Session, error)
	Get(ctx context.Context, p auth.Principal, id int64) (*Session, error)
	List(ctx context.Context, p auth.Principal, status Status) ([]Session, error)
	Activate(ctx context.Context, p auth.Principal, id int64) (*Session, error)
	Complete(ctx context.Context, p auth.Principal, id int64) (*CompleteOutcome, error)
	Cancel(ctx context.Context, p auth.Principal, id int64) (*Session, error)
	Destroy(ctx context.Context, p auth.Principal, id int64) error
	Join(ctx context.Context, p auth.Principal, code string) (*JoinView, error)
	Results(ctx context.Context, p auth.Principal, id int64) ([]result.Result, error)
	Statistics(ctx context.Context, p auth.Principal, id int64) (*result.Statistics, error)
	PublishResults(ctx context.Context, p auth.Principal, id int64) (int64, error)
}

type joinRequest struct {
	SessionCode string `json:"session_code"`
}

func NewHandler(svc sessionService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.CurrentPrincipal(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req CreateInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.svc.Create(r.Context(), p, req)
	if err != nil {
		h.writeError(w, r, "create session", p, 0, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, out)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.CurrentPrincipal(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var status Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, ok := ParseStatus(raw)
		if !ok {
			apiresp.WriteFields(w, r, http.StatusBadRequest, "validation failed", map[string]string{"status": "unknown status"})
			return
		}
		status = st
	}

	out, err := h.svc.List(r.Context(), p, status)
	if err != nil {
		h.writeError(w, r, "list sessions", p, 0, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.begin(w, r)
	if !ok {
		return
	}

	out, err := h.svc.Get(r.Context(), p, id)
	if err != nil {
		h.writeError(w, r, "get session", p, id, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	out, err := h.svc.Update(r.Context(), p, id, req)
	if err != nil {
		h.writeError(w, r, "update session", p, id, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Destroy(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.begin(w, r)
	if !ok {
		return
	}

	if err := h.svc.Destroy(r.Context(), p, id); err != nil {
		h.writeError(w, r, "destroy session", p, id, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]int64{"deleted": id})
}

func (h *Handler) Activate(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, "activate session", h.svc.Activate)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, "cancel session", h.svc.Cancel)
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.begin(w, r)
	if !ok {
		return
	}

	out, err := h.svc.Complete(r.Context(), p, id)
	if err != nil {
		h.writeError(w, r, "complete session", p, id, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) PublishResults(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.begin(w, r)
	if !ok {
		return
	}

	n, err := h.svc.PublishResults(r.Context(), p, id)
	if err != nil {
		h.writeError(w, r, "publish session results", p, id, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, map[string]int64{"published_results": n})
}

func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.CurrentPrincipal(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionCode == "" {
		apiresp.WriteFields(w, r, http.StatusBadRequest, "validation failed", map[string]string{"session_code": "is required"})
		return
	}

	out, err := h.svc.Join(r.Context(), p, req.SessionCode)
	if err != nil {
		h.writeError(w, r, "join session", p, 0, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Results(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.begin(w, r)
	if !ok {
		return
	}

	out, err := h.svc.Results(r.Context(), p, id)
	if err != nil {
		h.writeError(w, r, "list session results", p, id, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	p, id, ok := h.begin(w, r)
	if !ok {
		return
	}

	out, err := h.svc.Statistics(r.Context(), p, id)
	if err != nil {
		h.writeError(w, r, "session statistics", p, id, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, out)
}

func (h *Handler) move(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, auth.Principal, int64) (*Session, error)) {
	p, id, ok := h.begin(w, r)
	if !ok {
		return
	}

	out, err := fn(r.Context(), p, id)
	if err != nil {
		h.writeError(w, r, op, p, id, err)
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
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid session id")
		return auth.Principal{}, 0, false
	}
	return p, id, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, p auth.Principal, sessionID int64, err error) {
	if fields, ok := validation.Fields(err); ok {
		apiresp.WriteFields(w, r, http.StatusBadRequest, "validation failed", fields)
		return
	}
	switch {
	case errors.Is(err, ErrDuplicateSession):
		apiresp.WriteFields(w, r, http.StatusUnprocessableEntity, "validation failed", map[string]string{"title": err.Error()})
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, question.ErrQuizNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrForbidden), errors.Is(err, ErrAdmissionDenied), errors.Is(err, ErrQuizNotOwned):
		apiresp.WriteError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrSessionNotJoinable), errors.Is(err, ErrSessionFull),
		errors.Is(err, ErrQuizNotPublished), errors.Is(err, fsm.ErrInvalidTransition):
		apiresp.WriteError(w, r, http.StatusBadRequest, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "session operation failed",
			"op", op, "session_id", sessionID, "user_id", p.UserID, "role", p.Role, "err", err)
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}
