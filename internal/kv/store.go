// Package kv is the persistence adapter every collection is stored through.
// Values are JSON documents addressed by a string key; each write bumps a
// per-key version so concurrent writers are detected instead of silently
// overwriting each other.
package kv

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrConflict = errors.New("kv: version conflict")
	// ErrSkipWrite can be returned from an Update callback when nothing changed.
	ErrSkipWrite = errors.New("kv: skip write")
)

// AnyVersion disables the version check on Store.
const AnyVersion int64 = -1

type Entry struct {
	Value   json.RawMessage
	Version int64
}

type Store interface {
	// Load returns the entry under key. found is false when the key is absent.
	Load(ctx context.Context, key string) (Entry, bool, error)
	// Store writes value when the stored version equals expected. expected 0
	// requires the key to be absent; AnyVersion writes unconditionally.
	Store(ctx context.Context, key string, value json.RawMessage, expected int64) (int64, error)
	Delete(ctx context.Context, key string) error
}

// Mirror is implemented by stores that can hold a verbatim copy of an entry
// owned by another store, version included.
type Mirror interface {
	Put(ctx context.Context, key string, e Entry) error
}

// LocalStore is what the tiered store needs from its local cache.
type LocalStore interface {
	Store
	Mirror
}
