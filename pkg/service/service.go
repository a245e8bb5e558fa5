// Package service is the transactional façade over the task store. Every
// operation runs inside the configured transaction boundary, and creations are
// announced to the registered listeners within that same boundary.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/guido-cesarano/stepq/pkg/logger"
	"github.com/guido-cesarano/stepq/pkg/store"
	"github.com/guido-cesarano/stepq/pkg/tasks"
	"github.com/rs/zerolog"
)

// Listener observes successful task creation. An error fails the create.
type Listener interface {
	Created(ctx context.Context, t tasks.Task) error
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ctx context.Context, t tasks.Task) error

func (f ListenerFunc) Created(ctx context.Context, t tasks.Task) error {
	return f(ctx, t)
}

// Service coordinates task persistence with its observers.
type Service struct {
	store tasks.Store
	tx    store.TransactionContext
	log   *zerolog.Logger

	mu        sync.RWMutex
	listeners []Listener
}

// New creates a Service. A nil transaction context selects a local one.
func New(s tasks.Store, tx store.TransactionContext) *Service {
	if tx == nil {
		tx = store.NewLocalTransactionContext()
	}
	return &Service{store: s, tx: tx, log: logger.For("service")}
}

// AddListener registers l for creation notifications.
func (s *Service) AddListener(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// Transaction exposes the boundary so callers can group several operations.
func (s *Service) Transaction() store.TransactionContext {
	return s.tx
}

// Create persists t and notifies every listener inside one transaction. If a
// listener fails the record is removed again, so stores without rollback end
// up as if the transaction had been aborted.
func (s *Service) Create(ctx context.Context, t tasks.Task) (tasks.Task, error) {
	if err := t.Normalize(); err != nil {
		return tasks.Task{}, err
	}

	s.mu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.RUnlock()

	err := s.tx.Execute(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, t); err != nil {
			return err
		}
		for _, l := range listeners {
			if err := l.Created(ctx, t); err != nil {
				if delErr := s.store.Delete(ctx, t.ID); delErr != nil {
					err = errors.Join(err, fmt.Errorf("compensate create: %w", delErr))
				}
				return fmt.Errorf("notify task %s created: %w", t.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return tasks.Task{}, err
	}

	s.log.Debug().Str("task_id", t.ID).Str("name", t.Name).Int64("at", t.At).Msg("Task created")
	return t, nil
}

// FetchForUpdate returns due tasks ordered by At ascending.
func (s *Service) FetchForUpdate(ctx context.Context, q tasks.Query) ([]tasks.Task, error) {
	var out []tasks.Task
	err := s.tx.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.store.FetchForUpdate(ctx, q)
		return err
	})
	return out, err
}

func (s *Service) Update(ctx context.Context, t tasks.Task) error {
	return s.tx.Execute(ctx, func(ctx context.Context) error {
		return s.store.Update(ctx, t)
	})
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.tx.Execute(ctx, func(ctx context.Context) error {
		return s.store.Delete(ctx, id)
	})
}

// FindByID returns the task or nil when it does not exist.
func (s *Service) FindByID(ctx context.Context, id string) (*tasks.Task, error) {
	var out *tasks.Task
	err := s.tx.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = s.store.FindByID(ctx, id)
		return err
	})
	return out, err
}
