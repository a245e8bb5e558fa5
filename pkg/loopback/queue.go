// Package loopback feeds persisted process changes back into the state
// machine of the same process. It replaces the broker in single-process
// deployments.
package loopback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guido-cesarano/stepq/pkg/logger"
	"github.com/guido-cesarano/stepq/pkg/metrics"
	"github.com/guido-cesarano/stepq/pkg/process"
	"github.com/guido-cesarano/stepq/pkg/tasks"
	"github.com/rs/zerolog"
)

// Defaults applied to zero Config fields.
const (
	DefaultCapacity = 100
	DefaultDelay    = 50 * time.Millisecond
)

// ErrStarted is returned by Start when the queue was already started.
var ErrStarted = errors.New("loopback queue already started")

// Config tunes the queue.
type Config struct {
	// Capacity bounds the number of waiting changes; OnChange blocks beyond it.
	Capacity int
	// Delay is applied before each change is handed to the state machine.
	Delay time.Duration
}

type change struct {
	id    string
	state string
}

// Queue is a process.ChangeListener backed by a bounded channel and one
// consumer goroutine. A Queue runs once: after Stop it rejects changes.
type Queue struct {
	sm    process.StateMachine
	delay time.Duration
	log   *zerolog.Logger

	changes chan change
	active  atomic.Bool
	started atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// New creates a stopped queue delivering to sm.
func New(sm process.StateMachine, cfg Config) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	} else if cfg.Delay == 0 {
		cfg.Delay = DefaultDelay
	}
	return &Queue{
		sm:      sm,
		delay:   cfg.Delay,
		log:     logger.For("loopback"),
		changes: make(chan change, cfg.Capacity),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the consumer.
func (q *Queue) Start(ctx context.Context) error {
	if !q.started.CompareAndSwap(false, true) {
		return ErrStarted
	}
	q.active.Store(true)
	go q.consume(ctx)
	q.log.Info().Int("capacity", cap(q.changes)).Dur("delay", q.delay).Msg("Loopback queue started")
	return nil
}

// Stop rejects further changes and waits for the change being handled.
// Changes still queued are discarded.
func (q *Queue) Stop() {
	q.once.Do(func() {
		q.active.Store(false)
		close(q.stop)
		if q.started.Load() {
			<-q.done
		}
		if n := len(q.changes); n > 0 {
			q.log.Warn().Int("discarded", n).Msg("Loopback queue stopped with pending changes")
		}
		metrics.LoopbackQueued.Set(0)
	})
}

// OnChange enqueues the new state of the process, blocking while the queue is
// full. It fails fatally once the queue is stopped.
func (q *Queue) OnChange(ctx context.Context, _ *process.Process, after process.Process) tasks.Result {
	if !q.active.Load() {
		q.log.Warn().Str("process_id", after.ID).Msg("Loopback queue is not active, skipping change")
		return tasks.Fatal("loopback queue is not active")
	}

	select {
	case q.changes <- change{id: after.ID, state: after.State}:
		metrics.LoopbackQueued.Set(float64(len(q.changes)))
		if !q.active.Load() {
			// Stop began while we were sending; the change will be discarded.
			return tasks.Fatal("loopback queue stopped")
		}
		return tasks.Success()
	case <-q.stop:
		return tasks.Fatal("loopback queue stopped")
	case <-ctx.Done():
		q.log.Error().Err(ctx.Err()).Str("process_id", after.ID).Msg("Interrupted while enqueuing change")
		return tasks.Transient("enqueue interrupted: %v", ctx.Err())
	}
}

func (q *Queue) consume(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-q.stop:
			return
		case <-ctx.Done():
			return
		case c := <-q.changes:
			metrics.LoopbackQueued.Set(float64(len(q.changes)))
			time.Sleep(q.delay)
			q.handle(ctx, c)
		}
	}
}

func (q *Queue) handle(ctx context.Context, c change) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Str("process_id", c.id).Interface("panic", r).Msg("State machine panicked")
		}
	}()
	if res := q.sm.Handle(ctx, c.id, c.state); res.Failed() {
		q.log.Error().
			Str("process_id", c.id).
			Str("state", c.state).
			Str("result", res.String()).
			Msg("Failed to process state change")
	}
}
