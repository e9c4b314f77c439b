package kv

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func TestGetReturnsDefaultWhenAbsent(t *testing.T) {
	s := NewMemory()
	got, err := Get(context.Background(), s, "missing", []string{"default"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0] != "default" {
		t.Fatalf("expected default value, got %v", got)
	}
}

func TestGetDecodeError(t *testing.T) {
	s := NewMemory()
	if _, err := s.Store(context.Background(), "bad", json.RawMessage(`{"oops"`), AnyVersion); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := Get(context.Background(), s, "bad", 0); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestMemoryStoreVersionChecks(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	v1, err := s.Store(ctx, "k", json.RawMessage(`1`), 0)
	if err != nil || v1 != 1 {
		t.Fatalf("expected version 1, got %d err=%v", v1, err)
	}
	if _, err := s.Store(ctx, "k", json.RawMessage(`2`), 0); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict on create-if-absent, got %v", err)
	}
	if _, err := s.Store(ctx, "k", json.RawMessage(`2`), 7); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict on stale version, got %v", err)
	}
	v2, err := s.Store(ctx, "k", json.RawMessage(`2`), v1)
	if err != nil || v2 != 2 {
		t.Fatalf("expected version 2, got %d err=%v", v2, err)
	}
	v3, err := s.Store(ctx, "k", json.RawMessage(`3`), AnyVersion)
	if err != nil || v3 != 3 {
		t.Fatalf("expected version 3, got %d err=%v", v3, err)
	}
}

// racingStore lets another writer slip in before the first few writes.
type racingStore struct {
	*Memory
	interrupts int
}

func (r *racingStore) Store(ctx context.Context, key string, value json.RawMessage, expected int64) (int64, error) {
	if r.interrupts > 0 && expected != AnyVersion {
		r.interrupts--
		if _, err := r.Memory.Store(ctx, key, json.RawMessage(`[{"id":"other","name":"other writer"}]`), AnyVersion); err != nil {
			return 0, err
		}
	}
	return r.Memory.Store(ctx, key, value, expected)
}

func TestUpdateRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	s := &racingStore{Memory: NewMemory(), interrupts: 2}
	c := NewCollection[item](s, "items")

	calls := 0
	got, err := c.Mutate(ctx, func(cur []item) ([]item, error) {
		calls++
		return append(cur, item{ID: "mine", Name: "mine"}), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if len(got) != 2 || got[0].ID != "other" || got[1].ID != "mine" {
		t.Fatalf("expected other writer's item preserved, got %+v", got)
	}
}

func TestUpdateGivesUpAfterRepeatedConflicts(t *testing.T) {
	s := &racingStore{Memory: NewMemory(), interrupts: 100}
	_, err := Update(context.Background(), s, "items", []item(nil), func(cur []item) ([]item, error) {
		return append(cur, item{ID: "x"}), nil
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestUpdateSkipWrite(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	if err := Save(ctx, s, "n", 5); err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err := Update(ctx, s, "n", 0, func(cur int) (int, error) { return 0, ErrSkipWrite })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 5 {
		t.Fatalf("expected current value 5, got %d", got)
	}
	e, _, _ := s.Load(ctx, "n")
	if e.Version != 1 {
		t.Fatalf("expected no write, version is %d", e.Version)
	}
}

func TestCollectionAllNeverNil(t *testing.T) {
	c := NewCollection[item](NewMemory(), "empty")
	got, err := c.All(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil {
		t.Fatalf("expected empty slice, got nil")
	}
}
