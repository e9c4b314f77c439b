package exam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"academy/internal/identity"

	"github.com/go-chi/chi/v5"
)

type mockExamService struct {
	listExamsFn     func(ctx context.Context, user *identity.User) ([]Exam, error)
	listAvailableFn func(ctx context.Context, user *identity.User) ([]Exam, error)
	getExamFn       func(ctx context.Context, user *identity.User, id string) (*Exam, error)
	createExamFn    func(ctx context.Context, in Exam, actorID string) (*Exam, error)
	updateExamFn    func(ctx context.Context, id string, in Exam) (*Exam, error)
	startFn         func(ctx context.Context, user *identity.User, examID string) (*SessionView, error)
	getSessionFn    func(ctx context.Context, user *identity.User, examID string) (*SessionView, error)
	retryFn         func(ctx context.Context, user *identity.User, examID string) (*SessionView, error)
	saveAnswerFn    func(ctx context.Context, user *identity.User, examID, questionID, answer string) (*SessionView, error)
	toggleFlagFn    func(ctx context.Context, user *identity.User, examID, questionID string) (*SessionView, error)
	navigateFn      func(ctx context.Context, user *identity.User, examID string, in NavigateInput) (*SessionView, error)
	submitFn        func(ctx context.Context, user *identity.User, examID string, confirmed bool) (*ResultView, error)
	getResultFn     func(ctx context.Context, user *identity.User, attemptID string) (*ResultView, error)
	listAttemptsFn  func(ctx context.Context, user *identity.User) ([]ResultView, error)
}

var errNotImplemented = errors.New("not implemented")

func (m *mockExamService) ListExams(ctx context.Context, user *identity.User) ([]Exam, error) {
	if m.listExamsFn == nil {
		return nil, errNotImplemented
	}
	return m.listExamsFn(ctx, user)
}

func (m *mockExamService) ListAvailable(ctx context.Context, user *identity.User) ([]Exam, error) {
	if m.listAvailableFn == nil {
		return nil, errNotImplemented
	}
	return m.listAvailableFn(ctx, user)
}

func (m *mockExamService) GetExam(ctx context.Context, user *identity.User, id string) (*Exam, error) {
	if m.getExamFn == nil {
		return nil, errNotImplemented
	}
	return m.getExamFn(ctx, user, id)
}

func (m *mockExamService) CreateExam(ctx context.Context, in Exam, actorID string) (*Exam, error) {
	if m.createExamFn == nil {
		return nil, errNotImplemented
	}
	return m.createExamFn(ctx, in, actorID)
}

func (m *mockExamService) UpdateExam(ctx context.Context, id string, in Exam) (*Exam, error) {
	if m.updateExamFn == nil {
		return nil, errNotImplemented
	}
	return m.updateExamFn(ctx, id, in)
}

func (m *mockExamService) StartSession(ctx context.Context, user *identity.User, examID string) (*SessionView, error) {
	if m.startFn == nil {
		return nil, errNotImplemented
	}
	return m.startFn(ctx, user, examID)
}

func (m *mockExamService) GetSession(ctx context.Context, user *identity.User, examID string) (*SessionView, error) {
	if m.getSessionFn == nil {
		return nil, errNotImplemented
	}
	return m.getSessionFn(ctx, user, examID)
}

func (m *mockExamService) RetrySession(ctx context.Context, user *identity.User, examID string) (*SessionView, error) {
	if m.retryFn == nil {
		return nil, errNotImplemented
	}
	return m.retryFn(ctx, user, examID)
}

func (m *mockExamService) SaveAnswer(ctx context.Context, user *identity.User, examID, questionID, answer string) (*SessionView, error) {
	if m.saveAnswerFn == nil {
		return nil, errNotImplemented
	}
	return m.saveAnswerFn(ctx, user, examID, questionID, answer)
}

func (m *mockExamService) ToggleFlag(ctx context.Context, user *identity.User, examID, questionID string) (*SessionView, error) {
	if m.toggleFlagFn == nil {
		return nil, errNotImplemented
	}
	return m.toggleFlagFn(ctx, user, examID, questionID)
}

func (m *mockExamService) Navigate(ctx context.Context, user *identity.User, examID string, in NavigateInput) (*SessionView, error) {
	if m.navigateFn == nil {
		return nil, errNotImplemented
	}
	return m.navigateFn(ctx, user, examID, in)
}

func (m *mockExamService) SubmitSession(ctx context.Context, user *identity.User, examID string, confirmed bool) (*ResultView, error) {
	if m.submitFn == nil {
		return nil, errNotImplemented
	}
	return m.submitFn(ctx, user, examID, confirmed)
}

func (m *mockExamService) GetResult(ctx context.Context, user *identity.User, attemptID string) (*ResultView, error) {
	if m.getResultFn == nil {
		return nil, errNotImplemented
	}
	return m.getResultFn(ctx, user, attemptID)
}

func (m *mockExamService) ListAttempts(ctx context.Context, user *identity.User) ([]ResultView, error) {
	if m.listAttemptsFn == nil {
		return nil, errNotImplemented
	}
	return m.listAttemptsFn(ctx, user)
}

func withParams(req *http.Request, user *identity.User, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if user != nil {
		ctx = identity.ContextWithUser(ctx, user)
	}
	return req.WithContext(ctx)
}

func TestSaveAnswerPassesParams(t *testing.T) {
	var gotExam, gotQuestion, gotAnswer string
	h := NewHandler(&mockExamService{
		saveAnswerFn: func(ctx context.Context, user *identity.User, examID, questionID, answer string) (*SessionView, error) {
			gotExam, gotQuestion, gotAnswer = examID, questionID, answer
			return &SessionView{ExamID: examID, State: StateInProgress}, nil
		},
	})
	stu := testStudent
	req := httptest.NewRequest(http.MethodPut, "/api/v1/exams/e1/session/answers/q2", bytes.NewBufferString(`{"answer":"3"}`))
	req = withParams(req, &stu, map[string]string{"id": "e1", "questionID": "q2"})
	w := httptest.NewRecorder()
	h.SaveAnswer(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotExam != "e1" || gotQuestion != "q2" || gotAnswer != "3" {
		t.Fatalf("unexpected args: %s %s %s", gotExam, gotQuestion, gotAnswer)
	}
}

func TestSubmitPassesConfirmation(t *testing.T) {
	var confirmed bool
	h := NewHandler(&mockExamService{
		submitFn: func(ctx context.Context, user *identity.User, examID string, c bool) (*ResultView, error) {
			confirmed = c
			if !c {
				return nil, ErrConfirmationRequired
			}
			return &ResultView{Percent: 67}, nil
		},
	})
	stu := testStudent

	req := withParams(httptest.NewRequest(http.MethodPost, "/api/v1/exams/e1/session/submit", bytes.NewBufferString(`{}`)), &stu, map[string]string{"id": "e1"})
	w := httptest.NewRecorder()
	h.Submit(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without confirmation, got %d", w.Code)
	}

	req = withParams(httptest.NewRequest(http.MethodPost, "/api/v1/exams/e1/session/submit", bytes.NewBufferString(`{"confirmed":true}`)), &stu, map[string]string{"id": "e1"})
	w = httptest.NewRecorder()
	h.Submit(w, req)
	if w.Code != http.StatusOK || !confirmed {
		t.Fatalf("expected 200 with confirmation, got %d", w.Code)
	}
	var body struct {
		OK   bool       `json:"ok"`
		Data ResultView `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.OK || body.Data.Percent != 67 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestHandlerRequiresUser(t *testing.T) {
	h := NewHandler(&mockExamService{})
	req := withParams(httptest.NewRequest(http.MethodPost, "/api/v1/exams/e1/session", nil), nil, map[string]string{"id": "e1"})
	w := httptest.NewRecorder()
	h.StartSession(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestCreateExamRejectsBadBody(t *testing.T) {
	h := NewHandler(&mockExamService{})
	staff := staffUser
	req := withParams(httptest.NewRequest(http.MethodPost, "/api/v1/exams", bytes.NewBufferString(`{`)), &staff, nil)
	w := httptest.NewRecorder()
	h.CreateExam(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreateExamUsesActor(t *testing.T) {
	var actor string
	h := NewHandler(&mockExamService{
		createExamFn: func(ctx context.Context, in Exam, actorID string) (*Exam, error) {
			actor = actorID
			in.ID = "e-new"
			return &in, nil
		},
	})
	staff := staffUser
	req := withParams(httptest.NewRequest(http.MethodPost, "/api/v1/exams", bytes.NewBufferString(`{"title":"Quiz"}`)), &staff, nil)
	w := httptest.NewRecorder()
	h.CreateExam(w, req)
	if w.Code != http.StatusCreated || actor != "t-1" {
		t.Fatalf("expected 201 by t-1, got %d by %q", w.Code, actor)
	}
}

func TestStartSessionErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", ErrExamNotFound, http.StatusNotFound},
		{"not available", ErrExamNotAvailable, http.StatusForbidden},
		{"no retry", ErrRetryNotAllowed, http.StatusForbidden},
		{"limit", ErrAttemptLimitReached, http.StatusForbidden},
		{"empty", ErrExamEmpty, http.StatusUnprocessableEntity},
		{"not active", ErrSessionNotActive, http.StatusConflict},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&mockExamService{
				startFn: func(ctx context.Context, user *identity.User, examID string) (*SessionView, error) {
					return nil, tt.err
				},
			})
			stu := testStudent
			req := withParams(httptest.NewRequest(http.MethodPost, "/api/v1/exams/e1/session", nil), &stu, map[string]string{"id": "e1"})
			w := httptest.NewRecorder()
			h.StartSession(w, req)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestGetAttemptForbidden(t *testing.T) {
	h := NewHandler(&mockExamService{
		getResultFn: func(ctx context.Context, user *identity.User, attemptID string) (*ResultView, error) {
			return nil, ErrAttemptForbidden
		},
	})
	stu := testStudent
	req := withParams(httptest.NewRequest(http.MethodGet, "/api/v1/attempts/a1", nil), &stu, map[string]string{"id": "a1"})
	w := httptest.NewRecorder()
	h.GetAttempt(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}
