package scheduler

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key layout: a sorted set scores each task key by its due time in
// unix milliseconds, and a hash stores the serialized task under the same
// key.  Tasks survive process restarts as long as Redis does, which is what
// lets a restarted server find (or miss, and re-arm) the force-end task of a
// session restored from the snapshot.
const (
	dueSetKey     = "session:tasks:due"
	payloadMapKey = "session:tasks:payload"
)

// pollInterval bounds how late a task can fire beyond its due time.
const pollInterval = time.Second

// dispatchBatch caps how many due tasks one poll claims.
const dispatchBatch = 16

type storedTask struct {
	Kind    TaskKind `json:"kind"`
	DueMs   int64    `json:"dueMs"`
	Payload []byte   `json:"payload,omitempty"`
}

// RedisScheduler is the production Scheduler, backed by the same Redis
// instance that holds the session-list snapshot.  Delivery is at least
// once: a task is removed only after its handler returns, so a crash
// mid-dispatch redelivers on the next poll.
type RedisScheduler struct {
	rdb *redis.Client

	mu       sync.RWMutex
	handlers map[TaskKind]Handler
}

// NewRedis returns a RedisScheduler bound to the provided client.
func NewRedis(rdb *redis.Client) *RedisScheduler {
	return &RedisScheduler{rdb: rdb, handlers: make(map[TaskKind]Handler)}
}

// Register binds a handler for kind.  Later registrations replace earlier
// ones.
func (s *RedisScheduler) Register(kind TaskKind, h Handler) {
	s.mu.Lock()
	s.handlers[kind] = h
	s.mu.Unlock()
}

// Schedule arms the task, replacing any pending task under the same key.
func (s *RedisScheduler) Schedule(ctx context.Context, task Task) error {
	body, err := json.Marshal(storedTask{Kind: task.Kind, DueMs: task.Due.UnixMilli(), Payload: task.Payload})
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, payloadMapKey, task.Key, body)
	pipe.ZAdd(ctx, dueSetKey, redis.Z{Score: float64(task.Due.UnixMilli()), Member: task.Key})
	_, err = pipe.Exec(ctx)
	return err
}

// Cancel removes a pending task.  Removing a key that is not armed is a
// no-op success.
func (s *RedisScheduler) Cancel(ctx context.Context, key string) error {
	pipe := s.rdb.TxPipeline()
	pipe.ZRem(ctx, dueSetKey, key)
	pipe.HDel(ctx, payloadMapKey, key)
	_, err := pipe.Exec(ctx)
	return err
}

// Exists reports whether key is still armed.
func (s *RedisScheduler) Exists(ctx context.Context, key string) (bool, error) {
	err := s.rdb.ZScore(ctx, dueSetKey, key).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Run polls for due tasks and dispatches them until ctx is cancelled.
// Dispatch is sequential; handlers are short (they take the registry lock,
// mutate, and hand notification work off).
func (s *RedisScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

func (s *RedisScheduler) dispatchDue(ctx context.Context) {
	now := time.Now().UnixMilli()
	keys, err := s.rdb.ZRangeByScore(ctx, dueSetKey, &redis.ZRangeBy{
		Min: "-inf", Max: formatMilli(now), Count: dispatchBatch,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("scheduler: poll failed: %v", err)
		}
		return
	}
	for _, key := range keys {
		body, err := s.rdb.HGet(ctx, payloadMapKey, key).Bytes()
		if err == redis.Nil {
			// Payload already reaped by a concurrent cancel; drop the
			// due-set entry too.
			_ = s.rdb.ZRem(ctx, dueSetKey, key).Err()
			continue
		}
		if err != nil {
			log.Printf("scheduler: load task %s failed: %v", key, err)
			continue
		}
		var st storedTask
		if err := json.Unmarshal(body, &st); err != nil {
			log.Printf("scheduler: corrupt task %s dropped: %v", key, err)
			_ = s.Cancel(ctx, key)
			continue
		}
		s.mu.RLock()
		h := s.handlers[st.Kind]
		s.mu.RUnlock()
		if h != nil {
			task := Task{Key: key, Kind: st.Kind, Due: time.UnixMilli(st.DueMs), Payload: st.Payload}
			if err := h(ctx, task); err != nil {
				log.Printf("scheduler: task %s (%s) handler: %v", key, st.Kind, err)
			}
		} else {
			log.Printf("scheduler: no handler for kind %s, dropping task %s", st.Kind, key)
		}
		// Remove only after the handler ran: at-least-once delivery.
		if err := s.Cancel(ctx, key); err != nil {
			log.Printf("scheduler: reap task %s failed: %v", key, err)
		}
	}
}

func formatMilli(ms int64) string {
	return strconv.FormatInt(ms, 10)
}
