package exam

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"academy/internal/autosave"
	"academy/internal/identity"
	"academy/internal/kv"
	"academy/internal/question"
	"academy/internal/wrongnote"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store     *kv.Memory
	questions *question.Service
	catalog   *Catalog
	attempts  *AttemptStore
	notes     *wrongnote.Store
	cache     *autosave.Store
	recorder  *fakeRecorder
	deps      SessionDeps
}

func newFixture(t *testing.T, bank []question.Question, exams ...Exam) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := kv.NewMemory()
	f := &fixture{
		store:     mem,
		questions: question.NewService(mem, "test:questions"),
		catalog:   NewCatalog(mem, "test:exams"),
		attempts:  NewAttemptStore(mem, "test:attempts"),
		notes:     wrongnote.NewStore(mem, "test:wrong_notes"),
		cache:     autosave.NewStore(mem, "test"),
		recorder:  &fakeRecorder{},
	}
	if err := f.questions.SaveAll(ctx, bank); err != nil {
		t.Fatalf("seed questions: %v", err)
	}
	if err := f.catalog.SaveAll(ctx, exams); err != nil {
		t.Fatalf("seed exams: %v", err)
	}
	f.deps = SessionDeps{
		Exams:     f.catalog,
		Questions: f.questions,
		Attempts:  f.attempts,
		Notes:     f.notes,
		Autosave:  f.cache,
		Recorder:  f.recorder,
		Now:       func() time.Time { return testNow },
		Shuffle:   func(int, func(i, j int)) {},
	}
	return f
}

func (f *fixture) session(student identity.User, examID string) *Session {
	return NewSession(&f.deps, student, examID)
}

type fakeRecorder struct {
	mu        sync.Mutex
	submitted []string
	notes     int
	active    []int
}

func (r *fakeRecorder) AttemptSubmitted(status, trigger string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted = append(r.submitted, status+"/"+trigger)
}

func (r *fakeRecorder) WrongNotesCreated(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes += n
}

func (r *fakeRecorder) ActiveSessions(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = append(r.active, n)
}

func (r *fakeRecorder) lastActive() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.active) == 0 {
		return 0
	}
	return r.active[len(r.active)-1]
}

// failingAttempts wraps an AttemptStore and fails completed writes while
// fail is set.
type failingAttempts struct {
	*AttemptStore
	mu   sync.Mutex
	fail bool
}

func (f *failingAttempts) Upsert(ctx context.Context, a Attempt) (*Attempt, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail && a.Completed() {
		return nil, errors.New("storage unavailable")
	}
	return f.AttemptStore.Upsert(ctx, a)
}

func (f *failingAttempts) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

// failingNotes rejects every note write.
type failingNotes struct{}

func (failingNotes) Record(context.Context, []wrongnote.Note) (int, error) {
	return 0, errors.New("notes unavailable")
}

var testStudent = identity.User{ID: "stu-1", Name: "Kim", School: "Hana High", Role: identity.RoleStudent}

func mcQuestion(id, answer string) question.Question {
	return question.Question{
		ID:            id,
		Type:          question.TypeMultipleChoice,
		Difficulty:    question.DifficultyMedium,
		Content:       "question " + id,
		Options:       []question.Option{{Label: "①", Text: "one"}, {Label: "②", Text: "two"}, {Label: "③", Text: "three"}, {Label: "④", Text: "four"}},
		CorrectAnswer: answer,
	}
}

func publishedExam(id string, questionIDs ...string) Exam {
	return Exam{
		ID:          id,
		Title:       "Exam " + id,
		QuestionIDs: questionIDs,
		Status:      StatusPublished,
		AllowRetry:  true,
	}
}

func minutes(n int) *int { return &n }
