package process

import (
	"context"
	"fmt"
	"sync"

	"github.com/guido-cesarano/stepq/pkg/logger"
	"github.com/rs/zerolog"
)

// CaptureStore decorates a Store so that every save which changes a
// process's state (or creates it) is reported to the change listeners.
// Saves that keep the state are not reported. Listener failures are logged
// and never fail the save.
type CaptureStore struct {
	inner Store
	log   *zerolog.Logger

	// mu serializes load-then-save so two saves of the same process
	// cannot both observe the same previous state.
	mu        sync.Mutex
	listeners []ChangeListener
}

// NewCaptureStore wraps inner.
func NewCaptureStore(inner Store) *CaptureStore {
	return &CaptureStore{inner: inner, log: logger.For("capture-store")}
}

// AddListener registers l for change notifications.
func (s *CaptureStore) AddListener(l ChangeListener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

func (s *CaptureStore) FindByID(ctx context.Context, id string) (*Process, error) {
	return s.inner.FindByID(ctx, id)
}

// Save persists p and notifies listeners if its state changed. Listeners run
// after the store lock is released so they may save processes themselves.
func (s *CaptureStore) Save(ctx context.Context, p Process) error {
	before, listeners, err := s.save(ctx, p)
	if err != nil {
		return err
	}
	if before != nil && before.State == p.State {
		return nil
	}

	for _, l := range listeners {
		if res := l.OnChange(ctx, before, p); res.Failed() {
			s.log.Error().
				Str("process_id", p.ID).
				Str("state", p.State).
				Str("result", res.String()).
				Msg("Change listener failed")
		}
	}
	return nil
}

func (s *CaptureStore) save(ctx context.Context, p Process) (*Process, []ChangeListener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before, err := s.inner.FindByID(ctx, p.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load previous %s: %w", p.ID, err)
	}
	if err := s.inner.Save(ctx, p); err != nil {
		return nil, nil, err
	}
	return before, append([]ChangeListener(nil), s.listeners...), nil
}
