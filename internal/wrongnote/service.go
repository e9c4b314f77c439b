package wrongnote

import (
	"context"
	"errors"
	"strings"
	"time"

	"academy/internal/question"
)

var (
	ErrInvalidMode  = errors.New("invalid review mode")
	ErrNoteNotFound = errors.New("wrong note not found")
	ErrInvalidInput = errors.New("invalid input")
)

type Mode string

const (
	ModePending  Mode = "pending"
	ModeReviewed Mode = "reviewed"
	ModeAll      Mode = "all"
)

func ParseMode(raw string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(raw))); m {
	case "":
		return ModePending, nil
	case ModePending, ModeReviewed, ModeAll:
		return m, nil
	default:
		return "", ErrInvalidMode
	}
}

type questionLookup interface {
	Lookup(ctx context.Context) (map[string]question.Question, error)
}

// Item is a note joined with the question it refers to. Question is nil when
// the question was deleted from the bank.
type Item struct {
	Note
	Question *question.Question `json:"question,omitempty"`
}

type Service struct {
	store     *Store
	questions questionLookup
	now       func() time.Time
}

func NewService(store *Store, questions questionLookup) *Service {
	return &Service{store: store, questions: questions, now: time.Now}
}

// List returns the student's notes newest first. chapter, when set, keeps
// only notes whose question sits in that chapter.
func (s *Service) List(ctx context.Context, studentID string, mode Mode, chapter string) ([]Item, error) {
	switch mode {
	case ModePending, ModeReviewed, ModeAll:
	default:
		return nil, ErrInvalidMode
	}
	notes, err := s.store.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	bank, err := s.questions.Lookup(ctx)
	if err != nil {
		return nil, err
	}
	chapter = strings.TrimSpace(chapter)

	out := make([]Item, 0, len(notes))
	for i := len(notes) - 1; i >= 0; i-- {
		n := notes[i]
		if mode == ModePending && n.Reviewed {
			continue
		}
		if mode == ModeReviewed && !n.Reviewed {
			continue
		}
		item := Item{Note: n}
		q, ok := bank[n.QuestionID]
		if ok {
			item.Question = &q
		}
		if chapter != "" && (!ok || q.ChapterLabel() != chapter) {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

// MarkReviewed reviews one of the student's notes. Reviewing an already
// reviewed note returns it unchanged.
func (s *Service) MarkReviewed(ctx context.Context, studentID, noteID string) (*Note, error) {
	if _, err := s.store.markReviewed(ctx, studentID, s.now().UTC(), func(n Note) bool { return n.ID == noteID }); err != nil {
		return nil, err
	}
	notes, err := s.store.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	for i := range notes {
		if notes[i].ID == noteID {
			return &notes[i], nil
		}
	}
	return nil, ErrNoteNotFound
}

// MarkReviewedBatch reviews the student's pending notes among ids and
// returns how many changed. Ids of other students' notes are ignored.
func (s *Service) MarkReviewedBatch(ctx context.Context, studentID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, ErrInvalidInput
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	changed, err := s.store.markReviewed(ctx, studentID, s.now().UTC(), func(n Note) bool {
		_, ok := want[n.ID]
		return ok
	})
	if err != nil {
		return 0, err
	}
	return len(changed), nil
}

// MarkAllReviewed reviews every pending note of the student.
func (s *Service) MarkAllReviewed(ctx context.Context, studentID string) (int, error) {
	changed, err := s.store.markReviewed(ctx, studentID, s.now().UTC(), func(Note) bool { return true })
	if err != nil {
		return 0, err
	}
	return len(changed), nil
}
