// Package autosave keeps the in-progress answer map of an exam session so an
// interrupted session can pick up where it stopped.
package autosave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"academy/internal/kv"

	"github.com/redis/go-redis/v9"
)

// Cache stores one opaque serialized answer map per key.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Key scopes an entry to one student's run of one exam.
func Key(studentID, examID string) string {
	return studentID + ":" + examID
}

type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis stores entries under "<prefix>:autosave:<key>". A zero ttl keeps
// entries until removed.
func NewRedis(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.fullKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get autosave: %w", err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.fullKey(key), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set autosave: %w", err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.fullKey(key)).Err(); err != nil {
		return fmt.Errorf("redis remove autosave: %w", err)
	}
	return nil
}

func (r *Redis) fullKey(key string) string {
	return r.prefix + ":autosave:" + key
}

// Store keeps autosave entries in a kv.Store, one key per entry.
type Store struct {
	store  kv.Store
	prefix string
}

func NewStore(store kv.Store, prefix string) *Store {
	return &Store{store: store, prefix: prefix}
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	e, found, err := s.store.Load(ctx, s.fullKey(key))
	if err != nil {
		return "", false, fmt.Errorf("load autosave: %w", err)
	}
	if !found {
		return "", false, nil
	}
	var v string
	if err := json.Unmarshal(e.Value, &v); err != nil {
		return "", false, fmt.Errorf("decode autosave: %w", err)
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	return kv.Save(ctx, s.store, s.fullKey(key), value)
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.store.Delete(ctx, s.fullKey(key)); err != nil {
		return fmt.Errorf("remove autosave: %w", err)
	}
	return nil
}

func (s *Store) fullKey(key string) string {
	return s.prefix + ":autosave:" + key
}
