package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

// MemoryScheduler is a timer-based Scheduler for tests and for running
// without Redis.  Tasks do not survive a process restart; the registry's
// recovery path compensates by re-arming force-end tasks it finds missing.
type MemoryScheduler struct {
	mu       sync.Mutex
	pending  map[string]*memoryTask
	handlers map[TaskKind]Handler
}

type memoryTask struct {
	task  Task
	timer *time.Timer
}

// NewMemory returns an empty MemoryScheduler.
func NewMemory() *MemoryScheduler {
	return &MemoryScheduler{
		pending:  make(map[string]*memoryTask),
		handlers: make(map[TaskKind]Handler),
	}
}

// Register binds a handler for kind.
func (s *MemoryScheduler) Register(kind TaskKind, h Handler) {
	s.mu.Lock()
	s.handlers[kind] = h
	s.mu.Unlock()
}

// Schedule arms the task, replacing any pending task under the same key.
// A task whose due time already passed fires immediately.
func (s *MemoryScheduler) Schedule(ctx context.Context, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.pending[task.Key]; ok {
		prev.timer.Stop()
		delete(s.pending, task.Key)
	}
	delay := time.Until(task.Due)
	if delay < 0 {
		delay = 0
	}
	mt := &memoryTask{task: task}
	mt.timer = time.AfterFunc(delay, func() { s.fire(task.Key) })
	s.pending[task.Key] = mt
	return nil
}

// Cancel stops a pending task.  Unknown keys are success.
func (s *MemoryScheduler) Cancel(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mt, ok := s.pending[key]; ok {
		mt.timer.Stop()
		delete(s.pending, key)
	}
	return nil
}

// Exists reports whether key is still armed.
func (s *MemoryScheduler) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok, nil
}

func (s *MemoryScheduler) fire(key string) {
	s.mu.Lock()
	mt, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	var h Handler
	if ok {
		h = s.handlers[mt.task.Kind]
	}
	s.mu.Unlock()
	if !ok {
		return // cancelled between timer fire and lock acquisition
	}
	if h == nil {
		log.Printf("scheduler: no handler for kind %s, dropping task %s", mt.task.Kind, key)
		return
	}
	if err := h(context.Background(), mt.task); err != nil {
		log.Printf("scheduler: task %s (%s) handler: %v", key, mt.task.Kind, err)
	}
}
