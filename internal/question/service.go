package question

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"academy/internal/kv"

	"github.com/google/uuid"
)

type Service struct {
	items *kv.Collection[Question]
	now   func() time.Time
}

func NewService(store kv.Store, key string) *Service {
	return &Service{
		items: kv.NewCollection[Question](store, key),
		now:   time.Now,
	}
}

type Filter struct {
	School      string
	Grade       string
	SchoolLevel string
	Textbook    string
	Chapter     string
	Type        Type
	Difficulty  int
	Tag         string
}

func (f Filter) Match(q Question) bool {
	if f.School != "" && q.School != f.School {
		return false
	}
	if f.Grade != "" && q.Grade != f.Grade {
		return false
	}
	if f.SchoolLevel != "" && q.SchoolLevel != f.SchoolLevel {
		return false
	}
	if f.Textbook != "" && q.Textbook != f.Textbook {
		return false
	}
	if f.Chapter != "" && q.Chapter != f.Chapter {
		return false
	}
	if f.Type != "" && q.Type != f.Type {
		return false
	}
	if f.Difficulty != 0 && q.Difficulty != f.Difficulty {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, t := range q.Tags {
			if t == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

type Taxonomy struct {
	Schools      []string `json:"schools"`
	Grades       []string `json:"grades"`
	SchoolLevels []string `json:"school_levels"`
	Textbooks    []string `json:"textbooks"`
	Chapters     []string `json:"chapters"`
	Tags         []string `json:"tags"`
}

func (s *Service) List(ctx context.Context) ([]Question, error) {
	items, err := s.items.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return items, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Question, error) {
	items, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == id {
			return &items[i], nil
		}
	}
	return nil, ErrQuestionNotFound
}

// Lookup returns the bank indexed by id.
func (s *Service) Lookup(ctx context.Context) (map[string]Question, error) {
	items, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return Index(items), nil
}

func Index(items []Question) map[string]Question {
	out := make(map[string]Question, len(items))
	for _, q := range items {
		out[q.ID] = q
	}
	return out
}

func (s *Service) Filter(ctx context.Context, f Filter) ([]Question, error) {
	items, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Question, 0, len(items))
	for _, q := range items {
		if f.Match(q) {
			out = append(out, q)
		}
	}
	return out, nil
}

func (s *Service) Taxonomy(ctx context.Context) (*Taxonomy, error) {
	items, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	schools := map[string]struct{}{}
	grades := map[string]struct{}{}
	levels := map[string]struct{}{}
	textbooks := map[string]struct{}{}
	chapters := map[string]struct{}{}
	tags := map[string]struct{}{}
	for _, q := range items {
		addNonEmpty(schools, q.School)
		addNonEmpty(grades, q.Grade)
		addNonEmpty(levels, q.SchoolLevel)
		addNonEmpty(textbooks, q.Textbook)
		addNonEmpty(chapters, q.Chapter)
		for _, t := range q.Tags {
			addNonEmpty(tags, t)
		}
	}
	return &Taxonomy{
		Schools:      sortedKeys(schools),
		Grades:       sortedKeys(grades),
		SchoolLevels: sortedKeys(levels),
		Textbooks:    sortedKeys(textbooks),
		Chapters:     sortedKeys(chapters),
		Tags:         sortedKeys(tags),
	}, nil
}

func (s *Service) Add(ctx context.Context, in Question, actorID string) (*Question, error) {
	q := Normalize(in)
	if err := Validate(q); err != nil {
		return nil, err
	}
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	now := s.now().UTC()
	q.CreatedBy = strings.TrimSpace(actorID)
	q.CreatedAt = now
	q.UpdatedAt = now

	_, err := s.items.Mutate(ctx, func(cur []Question) ([]Question, error) {
		for _, existing := range cur {
			if existing.ID == q.ID {
				return nil, ErrQuestionExists
			}
		}
		return append(cur, q), nil
	})
	if err != nil {
		return nil, fmt.Errorf("add question: %w", err)
	}
	return &q, nil
}

// Update overwrites the question in place. Identity and creation audit
// fields are kept from the stored copy.
func (s *Service) Update(ctx context.Context, id string, in Question) (*Question, error) {
	q := Normalize(in)
	if err := Validate(q); err != nil {
		return nil, err
	}

	var saved Question
	_, err := s.items.Mutate(ctx, func(cur []Question) ([]Question, error) {
		out := make([]Question, len(cur))
		copy(out, cur)
		for i := range out {
			if out[i].ID != id {
				continue
			}
			q.ID = id
			q.CreatedBy = out[i].CreatedBy
			q.CreatedAt = out[i].CreatedAt
			q.UpdatedAt = s.now().UTC()
			out[i] = q
			saved = q
			return out, nil
		}
		return nil, ErrQuestionNotFound
	})
	if err != nil {
		return nil, fmt.Errorf("update question: %w", err)
	}
	return &saved, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	_, err := s.items.Mutate(ctx, func(cur []Question) ([]Question, error) {
		out := make([]Question, 0, len(cur))
		found := false
		for _, q := range cur {
			if q.ID == id {
				found = true
				continue
			}
			out = append(out, q)
		}
		if !found {
			return nil, ErrQuestionNotFound
		}
		return out, nil
	})
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	return nil
}

// SaveAll replaces the whole bank.
func (s *Service) SaveAll(ctx context.Context, items []Question) error {
	if err := s.items.ReplaceAll(ctx, items); err != nil {
		return fmt.Errorf("save questions: %w", err)
	}
	return nil
}

// upsertMany adds new questions and overwrites existing ones in a single
// versioned write. Columns named in missing keep the stored values.
func (s *Service) upsertMany(ctx context.Context, batch []Question, actorID string, missing map[string]bool) error {
	now := s.now().UTC()
	_, err := s.items.Mutate(ctx, func(cur []Question) ([]Question, error) {
		out := make([]Question, len(cur))
		copy(out, cur)
		pos := make(map[string]int, len(out))
		for i, q := range out {
			pos[q.ID] = i
		}
		for _, q := range batch {
			q.UpdatedAt = now
			if i, ok := pos[q.ID]; ok {
				for col := range missing {
					if carry, ok := carriedColumns[col]; ok {
						carry(&q, out[i])
					}
				}
				q.CreatedBy = out[i].CreatedBy
				q.CreatedAt = out[i].CreatedAt
				out[i] = q
				continue
			}
			q.CreatedBy = actorID
			q.CreatedAt = now
			pos[q.ID] = len(out)
			out = append(out, q)
		}
		return out, nil
	})
	if err != nil {
		return fmt.Errorf("import questions: %w", err)
	}
	return nil
}

func addNonEmpty(set map[string]struct{}, v string) {
	v = strings.TrimSpace(v)
	if v != "" {
		set[v] = struct{}{}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
