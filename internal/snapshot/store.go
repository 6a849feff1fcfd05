// Package snapshot persists the serialized session list so that the
// in-flight day survives a process restart.  The registry writes the full
// list after every mutation and reads it back once at boot.
package snapshot

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Key is the fixed cache key the session list is stored under.
const Key = "latest-session-list"

// ErrNotFound is returned by Load when no snapshot has been written.  The
// caller treats it as a cold start, never as a failure.
var ErrNotFound = errors.New("snapshot: not found")

// Store reads and writes the session-list snapshot blob.
type Store interface {
	Save(ctx context.Context, blob []byte) error
	Load(ctx context.Context) ([]byte, error)
	Clear(ctx context.Context) error
}

// RedisStore keeps the snapshot in Redis with no expiry; the daily rollover
// overwrites it.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedis returns a RedisStore bound to the provided client.
func NewRedis(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb} }

// Save overwrites the snapshot.
func (s *RedisStore) Save(ctx context.Context, blob []byte) error {
	return s.rdb.Set(ctx, Key, blob, 0).Err()
}

// Load returns the snapshot blob, or ErrNotFound when none exists.
func (s *RedisStore) Load(ctx context.Context) ([]byte, error) {
	b, err := s.rdb.Get(ctx, Key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	return b, err
}

// Clear removes the snapshot.
func (s *RedisStore) Clear(ctx context.Context) error {
	return s.rdb.Del(ctx, Key).Err()
}

// MemoryStore is an in-process Store for tests and single-node dev runs.
type MemoryStore struct {
	mu   sync.Mutex
	blob []byte
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore { return &MemoryStore{} }

// Save overwrites the snapshot.
func (s *MemoryStore) Save(_ context.Context, blob []byte) error {
	s.mu.Lock()
	s.blob = append([]byte(nil), blob...)
	s.mu.Unlock()
	return nil
}

// Load returns the snapshot blob, or ErrNotFound when none exists.
func (s *MemoryStore) Load(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blob == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), s.blob...), nil
}

// Clear removes the snapshot.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.blob = nil
	s.mu.Unlock()
	return nil
}
