package exam

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"academy/internal/kv"

	"github.com/google/uuid"
)

var (
	ErrInvalidInput            = errors.New("invalid input")
	ErrExamNotFound            = errors.New("exam not found")
	ErrExamNotAvailable        = errors.New("exam is not open for attempts")
	ErrExamEmpty               = errors.New("exam has no questions")
	ErrInvalidStatusTransition = errors.New("invalid exam status transition")
	ErrRetryNotAllowed         = errors.New("exam does not allow retries")
	ErrAttemptLimitReached     = errors.New("attempt limit reached")
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusClosed    Status = "closed"
)

type Exam struct {
	ID                    string     `json:"id"`
	Title                 string     `json:"title"`
	Description           string     `json:"description,omitempty"`
	School                string     `json:"school,omitempty"`
	Grade                 string     `json:"grade,omitempty"`
	SchoolLevel           string     `json:"school_level,omitempty"`
	QuestionIDs           []string   `json:"question_ids"`
	TimeLimitMinutes      *int       `json:"time_limit_minutes"`
	ShuffleQuestions      bool       `json:"shuffle_questions"`
	ShuffleOptions        bool       `json:"shuffle_options"`
	ShowResultImmediately bool       `json:"show_result_immediately"`
	AllowRetry            bool       `json:"allow_retry"`
	MaxAttempts           int        `json:"max_attempts"`
	AvailableFrom         *time.Time `json:"available_from"`
	AvailableUntil        *time.Time `json:"available_until"`
	Status                Status     `json:"status"`
	CreatedBy             string     `json:"created_by,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// Attemptable reports whether students may start the exam at now.
func (e Exam) Attemptable(now time.Time) bool {
	if e.Status != StatusPublished {
		return false
	}
	if e.AvailableFrom != nil && now.Before(*e.AvailableFrom) {
		return false
	}
	if e.AvailableUntil != nil && now.After(*e.AvailableUntil) {
		return false
	}
	return true
}

// Targets reports whether a student of school is in the exam's audience.
// Exams without a school target everyone.
func (e Exam) Targets(school string) bool {
	return e.School == "" || strings.EqualFold(e.School, strings.TrimSpace(school))
}

// CanTransition allows draft->published->closed and draft->closed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusDraft:
		return to == StatusPublished || to == StatusClosed
	case StatusPublished:
		return to == StatusClosed
	default:
		return false
	}
}

func normalizeExam(e Exam) Exam {
	e.Title = strings.TrimSpace(e.Title)
	e.Description = strings.TrimSpace(e.Description)
	e.School = strings.TrimSpace(e.School)
	e.Grade = strings.TrimSpace(e.Grade)
	e.SchoolLevel = strings.TrimSpace(e.SchoolLevel)
	e.Status = Status(strings.ToLower(strings.TrimSpace(string(e.Status))))
	if e.Status == "" {
		e.Status = StatusDraft
	}
	ids := make([]string, 0, len(e.QuestionIDs))
	seen := map[string]struct{}{}
	for _, id := range e.QuestionIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	e.QuestionIDs = ids
	return e
}

func validateExam(e Exam) error {
	if e.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	switch e.Status {
	case StatusDraft, StatusPublished, StatusClosed:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, e.Status)
	}
	if e.TimeLimitMinutes != nil && *e.TimeLimitMinutes <= 0 {
		return fmt.Errorf("%w: time limit must be positive", ErrInvalidInput)
	}
	if e.MaxAttempts < 0 {
		return fmt.Errorf("%w: max attempts must not be negative", ErrInvalidInput)
	}
	if e.AvailableFrom != nil && e.AvailableUntil != nil && e.AvailableUntil.Before(*e.AvailableFrom) {
		return fmt.Errorf("%w: availability window ends before it starts", ErrInvalidInput)
	}
	if e.Status == StatusPublished && len(e.QuestionIDs) == 0 {
		return fmt.Errorf("%w: a published exam needs questions", ErrInvalidInput)
	}
	return nil
}

type Catalog struct {
	items *kv.Collection[Exam]
	now   func() time.Time
}

func NewCatalog(store kv.Store, key string) *Catalog {
	return &Catalog{items: kv.NewCollection[Exam](store, key), now: time.Now}
}

func (c *Catalog) List(ctx context.Context) ([]Exam, error) {
	items, err := c.items.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	return items, nil
}

func (c *Catalog) Get(ctx context.Context, id string) (*Exam, error) {
	items, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == id {
			return &items[i], nil
		}
	}
	return nil, ErrExamNotFound
}

// ListAvailable returns the exams a student of school can start at now.
func (c *Catalog) ListAvailable(ctx context.Context, school string, now time.Time) ([]Exam, error) {
	items, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Exam, 0, len(items))
	for _, e := range items {
		if e.Attemptable(now) && e.Targets(school) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (c *Catalog) Add(ctx context.Context, in Exam, actorID string) (*Exam, error) {
	e := normalizeExam(in)
	if err := validateExam(e); err != nil {
		return nil, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := c.now().UTC()
	e.CreatedBy = strings.TrimSpace(actorID)
	e.CreatedAt = now
	e.UpdatedAt = now

	_, err := c.items.Mutate(ctx, func(cur []Exam) ([]Exam, error) {
		for _, existing := range cur {
			if existing.ID == e.ID {
				return nil, fmt.Errorf("%w: exam id already exists", ErrInvalidInput)
			}
		}
		return append(cur, e), nil
	})
	if err != nil {
		return nil, fmt.Errorf("add exam: %w", err)
	}
	return &e, nil
}

// Update overwrites the exam. The status may only move forward.
func (c *Catalog) Update(ctx context.Context, id string, in Exam) (*Exam, error) {
	e := normalizeExam(in)
	if err := validateExam(e); err != nil {
		return nil, err
	}

	var saved Exam
	_, err := c.items.Mutate(ctx, func(cur []Exam) ([]Exam, error) {
		out := make([]Exam, len(cur))
		copy(out, cur)
		for i := range out {
			if out[i].ID != id {
				continue
			}
			if !CanTransition(out[i].Status, e.Status) {
				return nil, fmt.Errorf("%w: %s to %s", ErrInvalidStatusTransition, out[i].Status, e.Status)
			}
			next := e
			next.ID = id
			next.CreatedBy = out[i].CreatedBy
			next.CreatedAt = out[i].CreatedAt
			next.UpdatedAt = c.now().UTC()
			out[i] = next
			saved = next
			return out, nil
		}
		return nil, ErrExamNotFound
	})
	if err != nil {
		return nil, fmt.Errorf("update exam: %w", err)
	}
	return &saved, nil
}

func (c *Catalog) SaveAll(ctx context.Context, items []Exam) error {
	if err := c.items.ReplaceAll(ctx, items); err != nil {
		return fmt.Errorf("save exams: %w", err)
	}
	return nil
}
