package report

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"academy/internal/app/apiresp"
	"academy/internal/identity"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc reportService
}

type reportService interface {
	Dashboard(ctx context.Context, studentID string) (*Dashboard, error)
	WeakAreas(ctx context.Context, studentID string, limit int) ([]ChapterCount, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

func NewHandler(svc reportService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}
	h.writeDashboard(w, r, user.ID)
}

// Student serves another student's dashboard to staff.
func (h *Handler) Student(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "student id is required"})
		return
	}
	h.writeDashboard(w, r, id)
}

func (h *Handler) WeakAreas(w http.ResponseWriter, r *http.Request) {
	user, ok := identity.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}
	limit := DefaultWeakAreaLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 50 {
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "limit must be between 1 and 50"})
			return
		}
		limit = n
	}
	items, err := h.svc.WeakAreas(r.Context(), user.ID, limit)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) writeDashboard(w http.ResponseWriter, r *http.Request, studentID string) {
	d, err := h.svc.Dashboard(r.Context(), studentID)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: d})
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
