// Package idempotency deduplicates create requests that carry an
// X-Idempotency-Key header.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/regelwerk/model"
)

// Response is a stored response replayed for a repeated key.
type Response struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Store remembers responses by idempotency key. Keys are built with
// FormatKey.
type Store interface {
	// Check looks up a previous response. If the key exists with the same
	// input hash the response is returned; a different hash is a CONFLICT.
	Check(ctx context.Context, key, inputHash string) (resp *Response, found bool, err error)

	// Save stores resp under key for ttl.
	Save(ctx context.Context, key, inputHash string, resp Response, ttl time.Duration) error

	HealthCheck(ctx context.Context) error
}

type entry struct {
	InputHash string   `json:"input_hash"`
	Response  Response `json:"response"`
}

// FormatKey builds the storage key "idem:{scope}:{key}". The scope keeps
// keys of different endpoints apart.
func FormatKey(scope, key string) string {
	return fmt.Sprintf("idem:%s:%s", scope, key)
}

// HashInput returns the hex sha256 of a request body.
func HashInput(body []byte) string {
	h := sha256.Sum256(body)
	return hex.EncodeToString(h[:])
}

func conflict(key string) error {
	return model.NewConflictError(
		fmt.Sprintf("idempotency key %q already used with different input", key),
	)
}

// MemoryStore is an in-memory Store with TTL support for tests and
// single-instance deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	data      entry
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memEntry), now: time.Now}
}

func (s *MemoryStore) Check(_ context.Context, key, inputHash string) (*Response, bool, error) {
	s.mu.RLock()
	e, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}
	if s.now().After(e.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false, nil
	}
	if e.data.InputHash != inputHash {
		return nil, true, conflict(key)
	}
	resp := e.data.Response
	resp.Body = append(json.RawMessage(nil), resp.Body...)
	return &resp, true, nil
}

func (s *MemoryStore) Save(_ context.Context, key, inputHash string, resp Response, ttl time.Duration) error {
	resp.Body = append(json.RawMessage(nil), resp.Body...)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memEntry{
		data:      entry{InputHash: inputHash, Response: resp},
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) HealthCheck(_ context.Context) error { return nil }

// Len returns the number of entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// RedisStore is a Redis-backed Store; expiry is delegated to Redis.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Check(ctx context.Context, key, inputHash string) (*Response, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("unmarshal idempotency entry %q: %w", key, err)
	}
	if e.InputHash != inputHash {
		return nil, true, conflict(key)
	}
	return &e.Response, true, nil
}

func (s *RedisStore) Save(ctx context.Context, key, inputHash string, resp Response, ttl time.Duration) error {
	data, err := json.Marshal(entry{InputHash: inputHash, Response: resp})
	if err != nil {
		return fmt.Errorf("marshal idempotency entry: %w", err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
