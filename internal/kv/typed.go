package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

const maxUpdateAttempts = 5

// Get decodes the value under key, returning def when the key is absent.
func Get[T any](ctx context.Context, s Store, key string, def T) (T, error) {
	v, _, err := getVersioned(ctx, s, key, def)
	return v, err
}

// Save writes v under key without a version check.
func Save[T any](ctx context.Context, s Store, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if _, err := s.Store(ctx, key, raw, AnyVersion); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

// Update runs a versioned read-modify-write. fn may be called more than once
// when another writer gets in between; it must not keep references to its
// argument across calls.
func Update[T any](ctx context.Context, s Store, key string, def T, fn func(T) (T, error)) (T, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		cur, version, err := getVersioned(ctx, s, key, def)
		if err != nil {
			return def, err
		}

		next, err := fn(cur)
		if errors.Is(err, ErrSkipWrite) {
			return cur, nil
		}
		if err != nil {
			return def, err
		}

		raw, err := json.Marshal(next)
		if err != nil {
			return def, fmt.Errorf("encode %s: %w", key, err)
		}
		if _, err := s.Store(ctx, key, raw, version); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			return def, fmt.Errorf("store %s: %w", key, err)
		}
		return next, nil
	}
	return def, fmt.Errorf("update %s: %w", key, ErrConflict)
}

func getVersioned[T any](ctx context.Context, s Store, key string, def T) (T, int64, error) {
	e, found, err := s.Load(ctx, key)
	if err != nil {
		return def, 0, fmt.Errorf("load %s: %w", key, err)
	}
	if !found {
		return def, 0, nil
	}
	if len(e.Value) == 0 || string(e.Value) == "null" {
		return def, e.Version, nil
	}
	var out T
	if err := json.Unmarshal(e.Value, &out); err != nil {
		return def, e.Version, fmt.Errorf("decode %s: %w", key, err)
	}
	return out, e.Version, nil
}
