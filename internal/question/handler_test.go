package question

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"academy/internal/identity"

	"github.com/go-chi/chi/v5"
)

type mockQuestionService struct {
	filterFn      func(ctx context.Context, f Filter) ([]Question, error)
	getFn         func(ctx context.Context, id string) (*Question, error)
	addFn         func(ctx context.Context, in Question, actorID string) (*Question, error)
	updateFn      func(ctx context.Context, id string, in Question) (*Question, error)
	deleteFn      func(ctx context.Context, id string) error
	taxonomyFn    func(ctx context.Context) (*Taxonomy, error)
	exportExcelFn func(ctx context.Context, f Filter) ([]byte, error)
	importExcelFn func(ctx context.Context, actorID string, r io.Reader) (*ImportReport, error)
}

func (m *mockQuestionService) Filter(ctx context.Context, f Filter) ([]Question, error) {
	if m.filterFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.filterFn(ctx, f)
}

func (m *mockQuestionService) Get(ctx context.Context, id string) (*Question, error) {
	if m.getFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getFn(ctx, id)
}

func (m *mockQuestionService) Add(ctx context.Context, in Question, actorID string) (*Question, error) {
	if m.addFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.addFn(ctx, in, actorID)
}

func (m *mockQuestionService) Update(ctx context.Context, id string, in Question) (*Question, error) {
	if m.updateFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateFn(ctx, id, in)
}

func (m *mockQuestionService) Delete(ctx context.Context, id string) error {
	if m.deleteFn == nil {
		return errors.New("not implemented")
	}
	return m.deleteFn(ctx, id)
}

func (m *mockQuestionService) Taxonomy(ctx context.Context) (*Taxonomy, error) {
	if m.taxonomyFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.taxonomyFn(ctx)
}

func (m *mockQuestionService) ExportExcel(ctx context.Context, f Filter) ([]byte, error) {
	if m.exportExcelFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.exportExcelFn(ctx, f)
}

func (m *mockQuestionService) ImportExcel(ctx context.Context, actorID string, r io.Reader) (*ImportReport, error) {
	if m.importExcelFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.importExcelFn(ctx, actorID, r)
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func TestListPassesFilter(t *testing.T) {
	var got Filter
	h := NewHandler(&mockQuestionService{
		filterFn: func(ctx context.Context, f Filter) ([]Question, error) {
			got = f
			return []Question{{ID: "q1"}}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/questions?chapter=Limits&difficulty=2&type=essay", nil)
	w := httptest.NewRecorder()
	h.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got.Chapter != "Limits" || got.Difficulty != 2 || got.Type != TypeEssay {
		t.Fatalf("unexpected filter %+v", got)
	}
}

func TestListRejectsBadDifficulty(t *testing.T) {
	h := NewHandler(&mockQuestionService{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/questions?difficulty=7", nil)
	w := httptest.NewRecorder()
	h.List(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreateUsesCallerAsAuthor(t *testing.T) {
	var gotActor string
	h := NewHandler(&mockQuestionService{
		addFn: func(ctx context.Context, in Question, actorID string) (*Question, error) {
			gotActor = actorID
			in.ID = "new"
			return &in, nil
		},
	})

	body := []byte(`{"type":"essay","difficulty":1,"content":"Explain."}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/questions", bytes.NewReader(body))
	req = req.WithContext(identity.ContextWithUser(req.Context(), &identity.User{ID: "t-9", Role: identity.RoleTeacher}))
	w := httptest.NewRecorder()
	h.Create(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if gotActor != "t-9" {
		t.Fatalf("expected actor t-9, got %q", gotActor)
	}
}

func TestCreateValidationError(t *testing.T) {
	h := NewHandler(&mockQuestionService{
		addFn: func(ctx context.Context, in Question, actorID string) (*Question, error) {
			return nil, Validate(Normalize(in))
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/questions", bytes.NewReader([]byte(`{"type":"essay","difficulty":1}`)))
	req = req.WithContext(identity.ContextWithUser(req.Context(), &identity.User{ID: "t", Role: identity.RoleTeacher}))
	w := httptest.NewRecorder()
	h.Create(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["error"] == nil {
		t.Fatalf("expected error message")
	}
}

func TestGetNotFound(t *testing.T) {
	h := NewHandler(&mockQuestionService{
		getFn: func(ctx context.Context, id string) (*Question, error) { return nil, ErrQuestionNotFound },
	})
	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/questions/x", nil), "id", "x")
	w := httptest.NewRecorder()
	h.Get(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestDeleteUsesURLParam(t *testing.T) {
	var gotID string
	h := NewHandler(&mockQuestionService{
		deleteFn: func(ctx context.Context, id string) error {
			gotID = id
			return nil
		},
	})
	req := withURLParam(httptest.NewRequest(http.MethodDelete, "/api/v1/questions/q-7", nil), "id", "q-7")
	w := httptest.NewRecorder()
	h.Delete(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotID != "q-7" {
		t.Fatalf("expected q-7, got %q", gotID)
	}
}

func TestExportExcelContentType(t *testing.T) {
	h := NewHandler(&mockQuestionService{
		exportExcelFn: func(ctx context.Context, f Filter) ([]byte, error) { return []byte("xlsx"), nil },
	})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/questions/export.xlsx", nil)
	w := httptest.NewRecorder()
	h.ExportExcel(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("unexpected content type %q", ct)
	}
}
