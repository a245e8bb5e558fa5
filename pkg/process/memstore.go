package process

import (
	"context"
	"errors"
	"sync"
)

// ErrInvalidProcess is returned when saving a process without id or state.
var ErrInvalidProcess = errors.New("invalid process")

// MemoryStore keeps processes in memory.
type MemoryStore struct {
	mu        sync.RWMutex
	processes map[string]Process
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{processes: make(map[string]Process)}
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (*Process, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.processes[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *MemoryStore) Save(_ context.Context, p Process) error {
	if p.ID == "" || p.State == "" {
		return ErrInvalidProcess
	}
	s.mu.Lock()
	s.processes[p.ID] = p
	s.mu.Unlock()
	return nil
}
