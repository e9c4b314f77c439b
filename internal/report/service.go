package report

import (
	"context"
	"fmt"

	"academy/internal/exam"
	"academy/internal/question"
	"academy/internal/wrongnote"

	"golang.org/x/sync/errgroup"
)

type attemptSource interface {
	ListByStudent(ctx context.Context, studentID string, completedOnly bool) ([]exam.Attempt, error)
}

type examSource interface {
	List(ctx context.Context) ([]exam.Exam, error)
}

type questionLookup interface {
	Lookup(ctx context.Context) (map[string]question.Question, error)
}

type noteSource interface {
	ListByStudent(ctx context.Context, studentID string) ([]wrongnote.Note, error)
}

type Service struct {
	attempts  attemptSource
	exams     examSource
	questions questionLookup
	notes     noteSource
}

func NewService(attempts attemptSource, exams examSource, questions questionLookup, notes noteSource) *Service {
	return &Service{attempts: attempts, exams: exams, questions: questions, notes: notes}
}

// Dashboard recomputes the student's dashboard from the stored collections.
func (s *Service) Dashboard(ctx context.Context, studentID string) (*Dashboard, error) {
	var (
		attempts []exam.Attempt
		exams    []exam.Exam
		bank     map[string]question.Question
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		attempts, err = s.attempts.ListByStudent(gctx, studentID, true)
		return err
	})
	g.Go(func() error {
		var err error
		exams, err = s.exams.List(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		bank, err = s.questions.Lookup(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load dashboard: %w", err)
	}
	d := Aggregate(attempts, bank, exams)
	return &d, nil
}

func (s *Service) WeakAreas(ctx context.Context, studentID string, limit int) ([]ChapterCount, error) {
	var (
		notes []wrongnote.Note
		bank  map[string]question.Question
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		notes, err = s.notes.ListByStudent(gctx, studentID)
		return err
	})
	g.Go(func() error {
		var err error
		bank, err = s.questions.Lookup(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load weak areas: %w", err)
	}
	return WeakAreas(notes, bank, limit), nil
}
