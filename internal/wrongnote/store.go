package wrongnote

import (
	"context"
	"fmt"
	"time"

	"academy/internal/kv"

	"github.com/google/uuid"
)

var noteNamespace = uuid.MustParse("5b3f8d2a-7c41-4e0b-9a55-3f1c2d7e6a90")

type Note struct {
	ID            string     `json:"id"`
	StudentID     string     `json:"student_id"`
	QuestionID    string     `json:"question_id"`
	AttemptID     string     `json:"attempt_id"`
	StudentAnswer string     `json:"student_answer"`
	Reviewed      bool       `json:"reviewed"`
	ReviewedAt    *time.Time `json:"reviewed_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

// NoteID derives the id of the note for one question of one attempt, so a
// retried submit writes the same notes again instead of duplicating them.
func NoteID(attemptID, questionID string) string {
	return uuid.NewSHA1(noteNamespace, []byte(attemptID+"/"+questionID)).String()
}

type Store struct {
	items *kv.Collection[Note]
}

func NewStore(store kv.Store, key string) *Store {
	return &Store{items: kv.NewCollection[Note](store, key)}
}

func (s *Store) List(ctx context.Context) ([]Note, error) {
	items, err := s.items.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list wrong notes: %w", err)
	}
	return items, nil
}

func (s *Store) ListByStudent(ctx context.Context, studentID string) ([]Note, error) {
	items, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Note, 0, len(items))
	for _, n := range items {
		if n.StudentID == studentID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *Store) SaveAll(ctx context.Context, notes []Note) error {
	if err := s.items.ReplaceAll(ctx, notes); err != nil {
		return fmt.Errorf("save wrong notes: %w", err)
	}
	return nil
}

// Record inserts notes whose id is not stored yet and returns how many were
// added. Existing notes, including their review state, are left alone.
func (s *Store) Record(ctx context.Context, notes []Note) (int, error) {
	if len(notes) == 0 {
		return 0, nil
	}
	added := 0
	_, err := s.items.Mutate(ctx, func(cur []Note) ([]Note, error) {
		added = 0
		seen := make(map[string]struct{}, len(cur))
		for _, n := range cur {
			seen[n.ID] = struct{}{}
		}
		out := make([]Note, len(cur), len(cur)+len(notes))
		copy(out, cur)
		for _, n := range notes {
			if _, ok := seen[n.ID]; ok {
				continue
			}
			seen[n.ID] = struct{}{}
			out = append(out, n)
			added++
		}
		if added == 0 {
			return nil, kv.ErrSkipWrite
		}
		return out, nil
	})
	if err != nil {
		return 0, fmt.Errorf("record wrong notes: %w", err)
	}
	return added, nil
}

// markReviewed flips the reviewed flag on the student's pending notes
// selected by pick. It returns the notes it changed.
func (s *Store) markReviewed(ctx context.Context, studentID string, at time.Time, pick func(Note) bool) ([]Note, error) {
	var changed []Note
	_, err := s.items.Mutate(ctx, func(cur []Note) ([]Note, error) {
		changed = nil
		out := make([]Note, len(cur))
		copy(out, cur)
		for i := range out {
			n := out[i]
			if n.StudentID != studentID || n.Reviewed || !pick(n) {
				continue
			}
			ts := at
			n.Reviewed = true
			n.ReviewedAt = &ts
			out[i] = n
			changed = append(changed, n)
		}
		if len(changed) == 0 {
			return nil, kv.ErrSkipWrite
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("mark wrong notes reviewed: %w", err)
	}
	return changed, nil
}
