package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// State is a phone's position in the payment flow.
type State string

const (
	// StateIdle means no session exists.
	StateIdle State = "idle"
	// StateAwaitingDocument means a receipt was accepted and a document number is expected.
	StateAwaitingDocument State = "awaiting_document"
)

// DefaultSessionTTL bounds how long an abandoned session lingers.
const DefaultSessionTTL = 30 * time.Minute

// SessionStore holds per-phone payment state. Absent keys read as StateIdle.
type SessionStore interface {
	Get(ctx context.Context, phone string) (State, error)
	Set(ctx context.Context, phone string, state State) error
	Delete(ctx context.Context, phone string) error
}

type memoryEntry struct {
	state   State
	expires time.Time
}

// MemorySessionStore is a process-local SessionStore. Sessions are lost on
// restart and are not shared between instances.
type MemorySessionStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

// NewMemorySessionStore creates a store whose entries expire after ttl.
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &MemorySessionStore{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (m *MemorySessionStore) Get(_ context.Context, phone string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[phone]
	if !ok {
		return StateIdle, nil
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, phone)
		return StateIdle, nil
	}
	return e.state, nil
}

func (m *MemorySessionStore) Set(_ context.Context, phone string, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state == StateIdle {
		delete(m.entries, phone)
		return nil
	}
	m.entries[phone] = memoryEntry{state: state, expires: m.now().Add(m.ttl)}
	return nil
}

func (m *MemorySessionStore) Delete(_ context.Context, phone string) error {
	m.mu.Lock()
	delete(m.entries, phone)
	m.mu.Unlock()
	return nil
}

// Sweep drops expired sessions and returns how many were removed.
func (m *MemorySessionStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for phone, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, phone)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("MemorySessionStore.Sweep: expired sessions removed", "count", removed)
	}
	return removed
}

// Len reports the number of stored sessions, expired or not.
func (m *MemorySessionStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

const redisKeyPrefix = "whatsbot:payment:"

// RedisSessionStore shares sessions between instances. Expiry is delegated
// to the key TTL.
type RedisSessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisSessionStore connects using a redis:// URL.
func NewRedisSessionStore(ctx context.Context, url string, ttl time.Duration) (*RedisSessionStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	slog.Debug("RedisSessionStore: connected", "addr", opts.Addr, "ttl", ttl)
	return &RedisSessionStore{rdb: rdb, ttl: ttl}, nil
}

func (r *RedisSessionStore) Get(ctx context.Context, phone string) (State, error) {
	v, err := r.rdb.Get(ctx, redisKeyPrefix+phone).Result()
	if errors.Is(err, redis.Nil) {
		return StateIdle, nil
	}
	if err != nil {
		return StateIdle, fmt.Errorf("get payment session for %s: %w", phone, err)
	}
	return State(v), nil
}

func (r *RedisSessionStore) Set(ctx context.Context, phone string, state State) error {
	if state == StateIdle {
		return r.Delete(ctx, phone)
	}
	if err := r.rdb.Set(ctx, redisKeyPrefix+phone, string(state), r.ttl).Err(); err != nil {
		return fmt.Errorf("set payment session for %s: %w", phone, err)
	}
	return nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, phone string) error {
	if err := r.rdb.Del(ctx, redisKeyPrefix+phone).Err(); err != nil {
		return fmt.Errorf("delete payment session for %s: %w", phone, err)
	}
	return nil
}

// Close releases the connection pool.
func (r *RedisSessionStore) Close() error {
	return r.rdb.Close()
}
