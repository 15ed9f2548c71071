package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is one journal record: something that happened to a session during
// one lifecycle phase.
type Entry struct {
	Phase     string         `json:"phase"`
	Timestamp time.Time      `json:"timestamp"`
	Event     string         `json:"event"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Store persists session journals. Journals are observability data; losing
// them never affects execution.
type Store interface {
	Append(ctx context.Context, sessionID string, entry Entry) error
	History(ctx context.Context, sessionID string) ([]Entry, error)
	Clear(ctx context.Context, sessionID string) error
}

// defaultRingSize bounds the in-memory journal per session.
const defaultRingSize = 256

// MemoryStore keeps journals in per-session ring buffers.
type MemoryStore struct {
	mu      sync.Mutex
	rings   map[string][]Entry
	maxSize int
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithRingSize bounds the entries retained per session.
func WithRingSize(n int) MemoryOption {
	return func(s *MemoryStore) { s.maxSize = n }
}

// NewMemoryStore builds an in-memory journal store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		rings:   make(map[string][]Entry),
		maxSize: defaultRingSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append adds an entry, evicting the oldest when the ring is full.
func (s *MemoryStore) Append(_ context.Context, sessionID string, entry Entry) error {
	if sessionID == "" {
		return fmt.Errorf("session: journal append: empty session id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ring := append(s.rings[sessionID], entry)
	if len(ring) > s.maxSize {
		ring = ring[len(ring)-s.maxSize:]
	}
	s.rings[sessionID] = ring
	return nil
}

// History returns a copy of the session's journal in append order.
func (s *MemoryStore) History(_ context.Context, sessionID string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ring := s.rings[sessionID]
	out := make([]Entry, len(ring))
	copy(out, ring)
	return out, nil
}

// Clear drops the session's journal.
func (s *MemoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rings, sessionID)
	return nil
}

// RedisStore persists journals as Redis lists with a TTL. Suitable when
// journals should survive the process or be shared with external readers.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets how long a journal outlives its last append. Zero disables
// expiration.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

// WithPrefix sets the Redis key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// NewRedisStore builds a Redis-backed journal store.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		ttl:    24 * time.Hour,
		prefix: "agentic",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + ":journal:" + sessionID
}

// Append pushes the entry onto the session's list and refreshes the TTL.
func (s *RedisStore) Append(ctx context.Context, sessionID string, entry Entry) error {
	if sessionID == "" {
		return fmt.Errorf("session: journal append: empty session id")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("session: marshal journal entry: %w", err)
	}

	key := s.key(sessionID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: journal append: %w", err)
	}
	return nil
}

// History returns the full journal for a session. A missing key yields an
// empty history, not an error.
func (s *RedisStore) History(ctx context.Context, sessionID string) ([]Entry, error) {
	raw, err := s.client.LRange(ctx, s.key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("session: journal history: %w", err)
	}
	out := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var entry Entry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("session: decode journal entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// Clear deletes the session's journal.
func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("session: journal clear: %w", err)
	}
	return nil
}
