package tasks

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store. It keeps write order to break ties
// between tasks that share the same At, so an updated task goes behind its
// peers.
type MemoryStore struct {
	mu    sync.RWMutex
	seq   uint64
	tasks map[string]memEntry
}

type memEntry struct {
	seq  uint64
	task Task
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]memEntry)}
}

func (s *MemoryStore) Create(_ context.Context, t Task) error {
	if err := t.Normalize(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; ok {
		return fmt.Errorf("create task %s: %w", t.ID, ErrDuplicate)
	}
	s.seq++
	s.tasks[t.ID] = memEntry{seq: s.seq, task: t}
	return nil
}

func (s *MemoryStore) FetchForUpdate(ctx context.Context, q Query) ([]Task, error) {
	return s.List(ctx, q)
}

// List returns the tasks matching q in (At, write order) order.
func (s *MemoryStore) List(_ context.Context, q Query) ([]Task, error) {
	limit := q.Limit
	if limit < 1 {
		limit = 1
	}

	s.mu.RLock()
	entries := make([]memEntry, 0, len(s.tasks))
	for _, e := range s.tasks {
		if q.DueBefore != 0 && e.task.At > q.DueBefore {
			continue
		}
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].task.At != entries[j].task.At {
			return entries[i].task.At < entries[j].task.At
		}
		return entries[i].seq < entries[j].seq
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]Task, len(entries))
	for i, e := range entries {
		out[i] = e.task
	}
	return out, nil
}

func (s *MemoryStore) Update(_ context.Context, t Task) error {
	if err := t.Normalize(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.ID]; !ok {
		return fmt.Errorf("update task %s: %w", t.ID, ErrNotFound)
	}
	s.seq++
	s.tasks[t.ID] = memEntry{seq: s.seq, task: t}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	t := e.task
	return &t, nil
}

// Backlog returns the number of stored tasks.
func (s *MemoryStore) Backlog(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.tasks)), nil
}
