package exam

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"academy/internal/kv"
)

var (
	ErrAttemptNotFound  = errors.New("attempt not found")
	ErrAttemptForbidden = errors.New("attempt forbidden")
	ErrAttemptExists    = errors.New("attempt id already exists")
	ErrAttemptNotFinal  = errors.New("attempt not final")
)

type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	// AttemptSubmitted marks a finished attempt with answers still waiting for
	// manual grading.
	AttemptSubmitted AttemptStatus = "submitted"
	AttemptGraded    AttemptStatus = "graded"
)

const (
	TriggerManual = "manual"
	TriggerTimer  = "timer"
)

type Answer struct {
	QuestionID   string `json:"question_id"`
	Answer       string `json:"answer"`
	IsCorrect    *bool  `json:"is_correct"`
	PointsEarned int    `json:"points_earned"`
}

type Attempt struct {
	ID            string        `json:"id"`
	ExamID        string        `json:"exam_id"`
	StudentID     string        `json:"student_id"`
	StudentName   string        `json:"student_name"`
	StartedAt     time.Time     `json:"started_at"`
	SubmittedAt   *time.Time    `json:"submitted_at"`
	Status        AttemptStatus `json:"status"`
	TotalPoints   int           `json:"total_points"`
	Score         *int          `json:"score"`
	Answers       []Answer      `json:"answers"`
	SubmitTrigger string        `json:"submit_trigger,omitempty"`
}

func (a Attempt) Completed() bool {
	return a.Status == AttemptSubmitted || a.Status == AttemptGraded
}

// Percent is round(score/total*100), half up. Ungraded attempts report 0.
func (a Attempt) Percent() int {
	if a.Score == nil {
		return 0
	}
	return Percent(*a.Score, a.TotalPoints)
}

func Percent(score, total int) int {
	if total <= 0 || score <= 0 {
		return 0
	}
	return (score*200 + total) / (total * 2)
}

type AttemptStore struct {
	items *kv.Collection[Attempt]
}

func NewAttemptStore(store kv.Store, key string) *AttemptStore {
	return &AttemptStore{items: kv.NewCollection[Attempt](store, key)}
}

func (s *AttemptStore) List(ctx context.Context) ([]Attempt, error) {
	items, err := s.items.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	return items, nil
}

func (s *AttemptStore) Get(ctx context.Context, id string) (*Attempt, error) {
	items, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == id {
			return &items[i], nil
		}
	}
	return nil, ErrAttemptNotFound
}

// ListByStudent returns the student's attempts ordered by start time.
func (s *AttemptStore) ListByStudent(ctx context.Context, studentID string, completedOnly bool) ([]Attempt, error) {
	items, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Attempt, 0, len(items))
	for _, a := range items {
		if a.StudentID != studentID {
			continue
		}
		if completedOnly && !a.Completed() {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *AttemptStore) Add(ctx context.Context, a Attempt) error {
	_, err := s.items.Mutate(ctx, func(cur []Attempt) ([]Attempt, error) {
		for _, existing := range cur {
			if existing.ID == a.ID {
				return nil, ErrAttemptExists
			}
		}
		return append(cur, a), nil
	})
	if err != nil {
		return fmt.Errorf("add attempt: %w", err)
	}
	return nil
}

func (s *AttemptStore) Update(ctx context.Context, a Attempt) error {
	_, err := s.items.Mutate(ctx, func(cur []Attempt) ([]Attempt, error) {
		out := make([]Attempt, len(cur))
		copy(out, cur)
		for i := range out {
			if out[i].ID == a.ID {
				out[i] = a
				return out, nil
			}
		}
		return nil, ErrAttemptNotFound
	})
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	return nil
}

// Upsert inserts or replaces the attempt by id. An in-progress snapshot never
// replaces an attempt that was already completed; the stored attempt is
// returned instead.
func (s *AttemptStore) Upsert(ctx context.Context, a Attempt) (*Attempt, error) {
	stored := a
	_, err := s.items.Mutate(ctx, func(cur []Attempt) ([]Attempt, error) {
		stored = a
		out := make([]Attempt, len(cur))
		copy(out, cur)
		for i := range out {
			if out[i].ID != a.ID {
				continue
			}
			if out[i].Completed() && !a.Completed() {
				stored = out[i]
				return nil, kv.ErrSkipWrite
			}
			out[i] = a
			return out, nil
		}
		return append(out, a), nil
	})
	if err != nil {
		return nil, fmt.Errorf("upsert attempt: %w", err)
	}
	return &stored, nil
}

func (s *AttemptStore) SaveAll(ctx context.Context, items []Attempt) error {
	if err := s.items.ReplaceAll(ctx, items); err != nil {
		return fmt.Errorf("save attempts: %w", err)
	}
	return nil
}
