package kv

import "context"

// Collection is one whole-collection document: a JSON array stored under a
// single key and rewritten as a unit.
type Collection[T any] struct {
	store Store
	key   string
}

func NewCollection[T any](s Store, key string) *Collection[T] {
	return &Collection[T]{store: s, key: key}
}

func (c *Collection[T]) Key() string {
	return c.key
}

// All never returns a nil slice.
func (c *Collection[T]) All(ctx context.Context) ([]T, error) {
	items, err := Get[[]T](ctx, c.store, c.key, nil)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

func (c *Collection[T]) ReplaceAll(ctx context.Context, items []T) error {
	if items == nil {
		items = []T{}
	}
	return Save(ctx, c.store, c.key, items)
}

func (c *Collection[T]) Mutate(ctx context.Context, fn func([]T) ([]T, error)) ([]T, error) {
	return Update(ctx, c.store, c.key, nil, func(cur []T) ([]T, error) {
		next, err := fn(cur)
		if err != nil {
			return nil, err
		}
		if next == nil {
			next = []T{}
		}
		return next, nil
	})
}
