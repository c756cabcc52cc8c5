package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// FlagConnectivityChecked gates the automatic once-per-session probe.
const FlagConnectivityChecked = "connectivity_checked"

// Flags stores session-scoped booleans.
type Flags interface {
	// SetOnce sets name and reports whether this call was the one that set it.
	SetOnce(ctx context.Context, name string) (bool, error)
	// IsSet reports whether name is set.
	IsSet(ctx context.Context, name string) (bool, error)
	// Clear unsets name.
	Clear(ctx context.Context, name string) error
}

// NewID returns a fresh random session id.
func NewID() string { return uuid.NewString() }

// Memory keeps flags for the life of the process.
type Memory struct {
	mu  sync.Mutex
	set map[string]struct{}
}

// NewMemory returns an empty Memory.
func NewMemory() *Memory {
	return &Memory{set: make(map[string]struct{})}
}

func (m *Memory) SetOnce(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.set[name]; ok {
		return false, nil
	}
	m.set[name] = struct{}{}
	return true, nil
}

func (m *Memory) IsSet(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.set[name]
	return ok, nil
}

func (m *Memory) Clear(_ context.Context, name string) error {
	m.mu.Lock()
	delete(m.set, name)
	m.mu.Unlock()
	return nil
}

// RedisFlags keeps flags in Redis under opspulse:session:<id>:<name>, so a
// restarted agent serving the same session id does not repeat once-only work.
// Keys expire after ttl.
type RedisFlags struct {
	rdb *redis.Client
	id  string
	ttl time.Duration
}

// NewRedisFlags returns flags for session id stored in rdb.
func NewRedisFlags(rdb *redis.Client, id string, ttl time.Duration) *RedisFlags {
	return &RedisFlags{rdb: rdb, id: id, ttl: ttl}
}

func (r *RedisFlags) key(name string) string {
	return "opspulse:session:" + r.id + ":" + name
}

func (r *RedisFlags) SetOnce(ctx context.Context, name string) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, r.key(name), time.Now().UTC().Format(time.RFC3339), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("session: set flag %s: %w", name, err)
	}
	return ok, nil
}

func (r *RedisFlags) IsSet(ctx context.Context, name string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.key(name)).Result()
	if err != nil {
		return false, fmt.Errorf("session: read flag %s: %w", name, err)
	}
	return n > 0, nil
}

func (r *RedisFlags) Clear(ctx context.Context, name string) error {
	if err := r.rdb.Del(ctx, r.key(name)).Err(); err != nil {
		return fmt.Errorf("session: clear flag %s: %w", name, err)
	}
	return nil
}
