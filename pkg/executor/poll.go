package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/guido-cesarano/stepq/pkg/logger"
	"github.com/guido-cesarano/stepq/pkg/metrics"
	"github.com/guido-cesarano/stepq/pkg/retry"
	"github.com/guido-cesarano/stepq/pkg/store"
	"github.com/guido-cesarano/stepq/pkg/tasks"
	"github.com/rs/zerolog"
)

// Defaults applied to zero Config fields.
const (
	DefaultInterval        = 100 * time.Millisecond
	DefaultShutdownTimeout = 10 * time.Second
)

// ErrAlreadyRunning is returned by Start on a running executor.
var ErrAlreadyRunning = errors.New("executor already running")

// State is the lifecycle state of a PollExecutor.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// TaskService is what the executor needs from the task service.
type TaskService interface {
	Transaction() store.TransactionContext
	FetchForUpdate(ctx context.Context, q tasks.Query) ([]tasks.Task, error)
	Update(ctx context.Context, t tasks.Task) error
	Delete(ctx context.Context, id string) error
}

// Config tunes the executor.
type Config struct {
	// MaxRetries is the transient failure budget per task.
	MaxRetries int
	// Interval is the pause after every iteration.
	Interval time.Duration
	// ShutdownTimeout bounds each phase of Stop.
	ShutdownTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return c
}

// Option configures a PollExecutor.
type Option func(*PollExecutor)

// WithClock replaces time.Now for due-time checks and rescheduling.
func WithClock(now func() time.Time) Option {
	return func(e *PollExecutor) { e.now = now }
}

// PollExecutor fetches one due task per iteration, runs its handler and
// applies the retry policy, all inside one transaction.
//
// Lifecycle: stopped -> running -> stopping -> stopped.
type PollExecutor struct {
	svc     TaskService
	handler tasks.Handler
	cfg     Config
	now     func() time.Time
	policy  *retry.Policy
	log     *zerolog.Logger

	mu     sync.Mutex
	state  State
	stop   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
}

// NewPollExecutor creates a stopped executor.
func NewPollExecutor(svc TaskService, handler tasks.Handler, cfg Config, opts ...Option) *PollExecutor {
	e := &PollExecutor{
		svc:     svc,
		handler: handler,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		log:     logger.For("poll-executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.policy = retry.New(cfg.MaxRetries, retry.WithClock(e.now))
	return e
}

// State returns the current lifecycle state.
func (e *PollExecutor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start launches the polling goroutine; the first iteration runs immediately.
func (e *PollExecutor) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateStopped {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	e.state = StateRunning
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.cancel = cancel

	go e.loop(ctx, e.stop, e.done)
	e.log.Info().Dur("interval", e.cfg.Interval).Int("max_retries", e.policy.MaxRetries()).Msg("Poll executor started")
	return nil
}

// Stop prevents further iterations and waits for the running one to finish.
// After ShutdownTimeout the loop context is cancelled and Stop waits once more;
// a loop that still does not exit is logged and abandoned.
func (e *PollExecutor) Stop() {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return
	}
	e.state = StateStopping
	stop, done, cancel := e.stop, e.done, e.cancel
	e.mu.Unlock()

	close(stop)
	defer func() {
		cancel()
		e.mu.Lock()
		e.state = StateStopped
		e.mu.Unlock()
	}()

	select {
	case <-done:
		e.log.Info().Msg("Poll executor stopped")
		return
	case <-time.After(e.cfg.ShutdownTimeout):
	}

	cancel()
	select {
	case <-done:
		e.log.Warn().Dur("timeout", e.cfg.ShutdownTimeout).Msg("Poll executor forced to shut down")
	case <-time.After(e.cfg.ShutdownTimeout):
		e.log.Warn().Dur("timeout", e.cfg.ShutdownTimeout).Msg("Poll executor did not shut down in time")
	}
}

func (e *PollExecutor) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-timer.C:
		}

		if _, err := e.iterate(ctx); err != nil && ctx.Err() == nil {
			e.log.Error().Err(err).Msg("Poll iteration failed")
		}
		timer.Reset(e.cfg.Interval)
	}
}

func (e *PollExecutor) iterate(ctx context.Context) (processed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("poll panic: %v", r)
		}
	}()
	return e.RunOnce(ctx)
}

// RunOnce executes at most one due task and reports whether one was found.
func (e *PollExecutor) RunOnce(ctx context.Context) (bool, error) {
	processed := false
	err := e.svc.Transaction().Execute(ctx, func(ctx context.Context) error {
		due, err := e.svc.FetchForUpdate(ctx, tasks.Query{Limit: 1, DueBefore: e.now().UnixMilli()})
		if err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}
		processed = true
		t := due[0]

		start := time.Now()
		res := SafeHandle(ctx, e.handler, t.Payload)
		metrics.TaskDuration.WithLabelValues(t.Group).Observe(time.Since(start).Seconds())

		e.log.Debug().
			Str("task_id", t.ID).
			Str("name", t.Name).
			Int("retry_count", t.RetryCount).
			Str("result", res.String()).
			Msg("Task executed")

		_, _, err = e.policy.Apply(ctx, e.svc, t, res)
		return err
	})
	return processed, err
}
