package exam

import (
	"context"
	"errors"
	"fmt"
	"time"

	"academy/internal/identity"
	"academy/internal/question"

	"golang.org/x/sync/errgroup"
)

type questionLookup interface {
	Lookup(ctx context.Context) (map[string]question.Question, error)
}

// Service is what the HTTP layer talks to: catalog administration, live
// sessions and stored results.
type Service struct {
	catalog   *Catalog
	attempts  *AttemptStore
	questions questionLookup
	sessions  *Manager
	now       func() time.Time
}

func NewService(catalog *Catalog, attempts *AttemptStore, questions questionLookup, sessions *Manager) *Service {
	return &Service{
		catalog:   catalog,
		attempts:  attempts,
		questions: questions,
		sessions:  sessions,
		now:       time.Now,
	}
}

type NavigateInput struct {
	Action string `json:"action"`
	Index  int    `json:"index"`
}

const (
	NavNext = "next"
	NavPrev = "prev"
	NavJump = "jump"
)

// ListExams returns the whole catalog to staff and the open exams to
// students.
func (s *Service) ListExams(ctx context.Context, user *identity.User) ([]Exam, error) {
	if user.IsStaff() {
		return s.catalog.List(ctx)
	}
	return s.catalog.ListAvailable(ctx, user.School, s.now())
}

func (s *Service) ListAvailable(ctx context.Context, user *identity.User) ([]Exam, error) {
	return s.catalog.ListAvailable(ctx, user.School, s.now())
}

func (s *Service) GetExam(ctx context.Context, user *identity.User, id string) (*Exam, error) {
	e, err := s.catalog.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !user.IsStaff() && (e.Status == StatusDraft || !e.Targets(user.School)) {
		return nil, ErrExamNotFound
	}
	return e, nil
}

func (s *Service) CreateExam(ctx context.Context, in Exam, actorID string) (*Exam, error) {
	return s.catalog.Add(ctx, in, actorID)
}

func (s *Service) UpdateExam(ctx context.Context, id string, in Exam) (*Exam, error) {
	return s.catalog.Update(ctx, id, in)
}

func (s *Service) StartSession(ctx context.Context, user *identity.User, examID string) (*SessionView, error) {
	sess, err := s.sessions.Start(ctx, *user, examID)
	if err != nil {
		return nil, err
	}
	v := sess.View()
	return &v, nil
}

func (s *Service) GetSession(ctx context.Context, user *identity.User, examID string) (*SessionView, error) {
	sess, err := s.sessions.Get(user.ID, examID)
	if err != nil {
		return nil, err
	}
	v := sess.View()
	return &v, nil
}

func (s *Service) RetrySession(ctx context.Context, user *identity.User, examID string) (*SessionView, error) {
	sess, err := s.sessions.Retry(ctx, *user, examID)
	if err != nil {
		return nil, err
	}
	v := sess.View()
	return &v, nil
}

func (s *Service) SaveAnswer(ctx context.Context, user *identity.User, examID, questionID, answer string) (*SessionView, error) {
	sess, err := s.sessions.Get(user.ID, examID)
	if err != nil {
		return nil, err
	}
	if err := sess.SetAnswer(ctx, questionID, answer); err != nil {
		return nil, err
	}
	v := sess.View()
	return &v, nil
}

func (s *Service) ToggleFlag(ctx context.Context, user *identity.User, examID, questionID string) (*SessionView, error) {
	sess, err := s.sessions.Get(user.ID, examID)
	if err != nil {
		return nil, err
	}
	if _, err := sess.ToggleFlag(questionID); err != nil {
		return nil, err
	}
	v := sess.View()
	return &v, nil
}

func (s *Service) Navigate(ctx context.Context, user *identity.User, examID string, in NavigateInput) (*SessionView, error) {
	sess, err := s.sessions.Get(user.ID, examID)
	if err != nil {
		return nil, err
	}
	switch in.Action {
	case NavNext:
		err = sess.Next()
	case NavPrev:
		err = sess.Prev()
	case NavJump:
		err = sess.Jump(in.Index)
	default:
		err = fmt.Errorf("%w: unknown navigation action %q", ErrInvalidInput, in.Action)
	}
	if err != nil {
		return nil, err
	}
	v := sess.View()
	return &v, nil
}

func (s *Service) SubmitSession(ctx context.Context, user *identity.User, examID string, confirmed bool) (*ResultView, error) {
	sess, err := s.sessions.Get(user.ID, examID)
	if err != nil {
		return nil, err
	}
	attempt, err := sess.Submit(ctx, confirmed)
	if err != nil {
		return nil, err
	}
	return s.render(ctx, user, *attempt)
}

// GetResult renders a stored attempt. Students may only read their own.
func (s *Service) GetResult(ctx context.Context, user *identity.User, attemptID string) (*ResultView, error) {
	a, err := s.attempts.Get(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if !user.IsStaff() && a.StudentID != user.ID {
		return nil, ErrAttemptForbidden
	}
	if !a.Completed() {
		return nil, ErrAttemptNotFinal
	}
	return s.render(ctx, user, *a)
}

// ListAttempts lists the caller's attempts with percentages, newest first.
func (s *Service) ListAttempts(ctx context.Context, user *identity.User) ([]ResultView, error) {
	items, err := s.attempts.ListByStudent(ctx, user.ID, false)
	if err != nil {
		return nil, err
	}
	exams, err := s.catalog.List(ctx)
	if err != nil {
		return nil, err
	}
	titles := make(map[string]string, len(exams))
	for _, e := range exams {
		titles[e.ID] = e.Title
	}
	out := make([]ResultView, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		a := items[i]
		a.Answers = nil
		out = append(out, ResultView{Attempt: a, ExamTitle: titles[a.ExamID], Percent: a.Percent(), ItemsHidden: true})
	}
	return out, nil
}

func (s *Service) render(ctx context.Context, user *identity.User, a Attempt) (*ResultView, error) {
	var (
		exam *Exam
		bank map[string]question.Question
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e, err := s.catalog.Get(gctx, a.ExamID)
		if err != nil && !errors.Is(err, ErrExamNotFound) {
			return err
		}
		exam = e
		return nil
	})
	g.Go(func() error {
		var err error
		bank, err = s.questions.Lookup(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load result: %w", err)
	}
	v := BuildResult(a, exam, bank, canViewItems(user.IsStaff(), exam))
	return &v, nil
}
