package compose

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrViewNotFound is returned for unknown, expired or revoked view handles.
var ErrViewNotFound = errors.New("compose: view not found")

const viewKeyPrefix = "certverify:view:"

// ViewStore keeps composed documents briefly so they can be displayed before upload.
type ViewStore interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, handle string) ([]byte, error)
	// Revoke releases a handle. Revoking an unknown handle is not an error.
	Revoke(ctx context.Context, handle string) error
}

// RedisViews stores views in Redis with a TTL so every API replica can serve them.
type RedisViews struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisViews(rdb *redis.Client, ttl time.Duration) *RedisViews {
	return &RedisViews{rdb: rdb, ttl: ttl}
}

func (v *RedisViews) Put(ctx context.Context, data []byte) (string, error) {
	handle := uuid.NewString()
	if err := v.rdb.Set(ctx, viewKeyPrefix+handle, data, v.ttl).Err(); err != nil {
		return "", fmt.Errorf("views: put: %w", err)
	}
	return handle, nil
}

func (v *RedisViews) Get(ctx context.Context, handle string) ([]byte, error) {
	data, err := v.rdb.Get(ctx, viewKeyPrefix+handle).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrViewNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("views: get: %w", err)
	}
	return data, nil
}

func (v *RedisViews) Revoke(ctx context.Context, handle string) error {
	if err := v.rdb.Del(ctx, viewKeyPrefix+handle).Err(); err != nil {
		return fmt.Errorf("views: revoke: %w", err)
	}
	return nil
}

type memoryView struct {
	data    []byte
	expires time.Time
}

// MemoryViews is a process-local ViewStore for single-instance deployments and the CLI.
type MemoryViews struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	views map[string]memoryView
}

func NewMemoryViews(ttl time.Duration) *MemoryViews {
	return &MemoryViews{ttl: ttl, now: time.Now, views: make(map[string]memoryView)}
}

func (v *MemoryViews) Put(_ context.Context, data []byte) (string, error) {
	handle := uuid.NewString()
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sweep()
	v.views[handle] = memoryView{data: data, expires: v.now().Add(v.ttl)}
	return handle, nil
}

func (v *MemoryViews) Get(_ context.Context, handle string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	view, ok := v.views[handle]
	if !ok || (v.ttl > 0 && !v.now().Before(view.expires)) {
		delete(v.views, handle)
		return nil, ErrViewNotFound
	}
	return view.data, nil
}

func (v *MemoryViews) Revoke(_ context.Context, handle string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.views, handle)
	return nil
}

// sweep drops expired views. Callers hold mu.
func (v *MemoryViews) sweep() {
	if v.ttl <= 0 {
		return
	}
	now := v.now()
	for h, view := range v.views {
		if !now.Before(view.expires) {
			delete(v.views, h)
		}
	}
}
