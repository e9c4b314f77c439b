package wrongnote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"academy/internal/app/apiresp"
	"academy/internal/identity"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc noteService
}

type noteService interface {
	List(ctx context.Context, studentID string, mode Mode, chapter string) ([]Item, error)
	MarkReviewed(ctx context.Context, studentID, noteID string) (*Note, error)
	MarkReviewedBatch(ctx context.Context, studentID string, ids []string) (int, error)
	MarkAllReviewed(ctx context.Context, studentID string) (int, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type reviewBatchRequest struct {
	IDs []string `json:"ids"`
}

func NewHandler(svc noteService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}
	mode, err := ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "mode must be pending, reviewed or all"})
		return
	}
	items, err := h.svc.List(r.Context(), user.ID, mode, r.URL.Query().Get("chapter"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) Review(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}
	note, err := h.svc.MarkReviewed(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: note})
}

func (h *Handler) ReviewBatch(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}
	var req reviewBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	n, err := h.svc.MarkReviewedBatch(r.Context(), user.ID, req.IDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]int{"reviewed": n}})
}

func (h *Handler) ReviewAll(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}
	n, err := h.svc.MarkAllReviewed(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]int{"reviewed": n}})
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidMode), errors.Is(err, ErrInvalidInput):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrNoteNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "wrong note not found"})
	default:
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
