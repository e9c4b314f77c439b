package exam

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"academy/internal/app/apiresp"
	"academy/internal/identity"
	"academy/internal/question"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc examService
}

type examService interface {
	ListExams(ctx context.Context, user *identity.User) ([]Exam, error)
	ListAvailable(ctx context.Context, user *identity.User) ([]Exam, error)
	GetExam(ctx context.Context, user *identity.User, id string) (*Exam, error)
	CreateExam(ctx context.Context, in Exam, actorID string) (*Exam, error)
	UpdateExam(ctx context.Context, id string, in Exam) (*Exam, error)
	StartSession(ctx context.Context, user *identity.User, examID string) (*SessionView, error)
	GetSession(ctx context.Context, user *identity.User, examID string) (*SessionView, error)
	RetrySession(ctx context.Context, user *identity.User, examID string) (*SessionView, error)
	SaveAnswer(ctx context.Context, user *identity.User, examID, questionID, answer string) (*SessionView, error)
	ToggleFlag(ctx context.Context, user *identity.User, examID, questionID string) (*SessionView, error)
	Navigate(ctx context.Context, user *identity.User, examID string, in NavigateInput) (*SessionView, error)
	SubmitSession(ctx context.Context, user *identity.User, examID string, confirmed bool) (*ResultView, error)
	GetResult(ctx context.Context, user *identity.User, attemptID string) (*ResultView, error)
	ListAttempts(ctx context.Context, user *identity.User) ([]ResultView, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type saveAnswerRequest struct {
	Answer string `json:"answer"`
}

type submitRequest struct {
	Confirmed bool `json:"confirmed"`
}

func NewHandler(svc examService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) ListExams(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ListExams(r.Context(), user)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ListAvailable(r.Context(), user)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) GetExam(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	e, err := h.svc.GetExam(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: e})
}

func (h *Handler) CreateExam(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req Exam
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	e, err := h.svc.CreateExam(r.Context(), req, user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: e})
}

func (h *Handler) UpdateExam(w http.ResponseWriter, r *http.Request) {
	var req Exam
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	e, err := h.svc.UpdateExam(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: e})
}

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	v, err := h.svc.StartSession(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: v})
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	v, err := h.svc.GetSession(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: v})
}

func (h *Handler) RetrySession(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	v, err := h.svc.RetrySession(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: v})
}

func (h *Handler) SaveAnswer(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req saveAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	v, err := h.svc.SaveAnswer(r.Context(), user, chi.URLParam(r, "id"), chi.URLParam(r, "questionID"), req.Answer)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: v})
}

func (h *Handler) ToggleFlag(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	v, err := h.svc.ToggleFlag(r.Context(), user, chi.URLParam(r, "id"), chi.URLParam(r, "questionID"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: v})
}

func (h *Handler) Navigate(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req NavigateInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	v, err := h.svc.Navigate(r.Context(), user, chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: v})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	v, err := h.svc.SubmitSession(r.Context(), user, chi.URLParam(r, "id"), req.Confirmed)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: v})
}

func (h *Handler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	v, err := h.svc.GetResult(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: v})
}

func (h *Handler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ListAttempts(r.Context(), user)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func currentUser(w http.ResponseWriter, r *http.Request) (*identity.User, bool) {
	user, ok := identity.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return nil, false
	}
	return user, true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, question.ErrInvalidInput):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrConfirmationRequired):
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrExamNotFound), errors.Is(err, ErrAttemptNotFound), errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrQuestionNotInSession):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrAttemptForbidden), errors.Is(err, ErrExamNotAvailable), errors.Is(err, ErrRetryNotAllowed), errors.Is(err, ErrAttemptLimitReached):
		writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrInvalidStatusTransition), errors.Is(err, ErrSessionNotActive), errors.Is(err, ErrAttemptNotFinal):
		writeJSON(w, r, http.StatusConflict, response{OK: false, Error: err.Error()})
	case errors.Is(err, ErrExamEmpty):
		writeJSON(w, r, http.StatusUnprocessableEntity, response{OK: false, Error: err.Error()})
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
