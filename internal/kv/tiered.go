package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultRemoteTimeout = 2 * time.Second

type TieredOptions struct {
	// RemoteTimeout bounds every remote call. Zero means two seconds.
	RemoteTimeout time.Duration
	Logger        *zap.Logger
	// OnFallback is called with "load", "store" or "delete" whenever a remote
	// failure was absorbed by the local cache.
	OnFallback func(op string)
}

// Tiered reads remote-then-local and writes to both. The local cache is
// always written so it stays usable when the remote store is unreachable.
type Tiered struct {
	remote     Store
	local      LocalStore
	timeout    time.Duration
	log        *zap.Logger
	onFallback func(op string)
}

// NewTiered builds a tiered store. A nil remote keeps everything local.
func NewTiered(remote Store, local LocalStore, opts TieredOptions) *Tiered {
	t := &Tiered{
		remote:     remote,
		local:      local,
		timeout:    opts.RemoteTimeout,
		log:        opts.Logger,
		onFallback: opts.OnFallback,
	}
	if t.timeout <= 0 {
		t.timeout = defaultRemoteTimeout
	}
	if t.log == nil {
		t.log = zap.NewNop()
	}
	return t
}

func (t *Tiered) Load(ctx context.Context, key string) (Entry, bool, error) {
	if t.remote == nil {
		return t.local.Load(ctx, key)
	}

	rctx, cancel := context.WithTimeout(ctx, t.timeout)
	remote, found, err := t.remote.Load(rctx, key)
	cancel()
	if err != nil {
		t.fallback("load", key, err)
		return t.local.Load(ctx, key)
	}

	local, localFound, lerr := t.local.Load(ctx, key)
	if lerr != nil {
		t.log.Warn("local kv load failed", zap.String("key", key), zap.Error(lerr))
		localFound = false
	}

	// Writes that landed only locally while the remote was down carry a
	// higher version; prefer them and push them back upstream.
	if localFound && (!found || local.Version > remote.Version) {
		t.resync(ctx, key, local)
		return local, true, nil
	}
	if !found {
		return Entry{}, false, nil
	}
	if err := t.local.Put(ctx, key, remote); err != nil {
		t.log.Warn("refresh local kv cache failed", zap.String("key", key), zap.Error(err))
	}
	return remote, true, nil
}

func (t *Tiered) Store(ctx context.Context, key string, value json.RawMessage, expected int64) (int64, error) {
	if t.remote == nil {
		return t.local.Store(ctx, key, value, expected)
	}

	rctx, cancel := context.WithTimeout(ctx, t.timeout)
	version, err := t.remote.Store(rctx, key, value, expected)
	cancel()
	switch {
	case err == nil:
		if perr := t.local.Put(ctx, key, Entry{Value: value, Version: version}); perr != nil {
			return 0, fmt.Errorf("write local kv cache: %w", perr)
		}
		return version, nil
	case errors.Is(err, ErrConflict):
		return 0, err
	default:
		t.fallback("store", key, err)
		return t.local.Store(ctx, key, value, expected)
	}
}

func (t *Tiered) Delete(ctx context.Context, key string) error {
	if t.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, t.timeout)
		err := t.remote.Delete(rctx, key)
		cancel()
		if err != nil {
			t.fallback("delete", key, err)
		}
	}
	return t.local.Delete(ctx, key)
}

func (t *Tiered) resync(ctx context.Context, key string, e Entry) {
	m, ok := t.remote.(Mirror)
	if !ok {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	if err := m.Put(rctx, key, e); err != nil {
		t.log.Warn("resync kv entry to remote failed", zap.String("key", key), zap.Error(err))
	}
}

func (t *Tiered) fallback(op, key string, err error) {
	t.log.Warn("remote kv unavailable, using local cache",
		zap.String("op", op),
		zap.String("key", key),
		zap.Error(err),
	)
	if t.onFallback != nil {
		t.onFallback(op)
	}
}
