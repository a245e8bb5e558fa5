// Package retry implements the delete / reschedule / drop decision applied to
// every executed task, whichever path delivered it.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/guido-cesarano/stepq/pkg/logger"
	"github.com/guido-cesarano/stepq/pkg/metrics"
	"github.com/guido-cesarano/stepq/pkg/tasks"
	"github.com/rs/zerolog"
)

// DefaultMaxRetries is the retry budget when none is configured.
const DefaultMaxRetries = 3

// Outcome is what the policy did with a task.
type Outcome int

const (
	// Completed: the step succeeded and the task was deleted.
	Completed Outcome = iota
	// Rescheduled: the task was updated with one more retry.
	Rescheduled
	// Dropped: the retry budget was exhausted and the task was deleted.
	Dropped
	// Failed: the step failed fatally and the task was deleted.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return metrics.OutcomeSuccess
	case Rescheduled:
		return metrics.OutcomeRetry
	case Dropped:
		return metrics.OutcomeDropped
	case Failed:
		return metrics.OutcomeFatal
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Mutator is the subset of the task service the policy writes through.
type Mutator interface {
	Update(ctx context.Context, t tasks.Task) error
	Delete(ctx context.Context, id string) error
}

// Policy decides the fate of a task from its handler result.
type Policy struct {
	maxRetries int
	now        func() time.Time
	log        *zerolog.Logger
}

// Option configures a Policy.
type Option func(*Policy)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) { p.now = now }
}

// New creates a policy allowing maxRetries transient failures per task.
// Negative values are treated as zero.
func New(maxRetries int, opts ...Option) *Policy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	p := &Policy{maxRetries: maxRetries, now: time.Now, log: logger.For("retry")}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// MaxRetries returns the configured budget.
func (p *Policy) MaxRetries() int { return p.maxRetries }

// Apply persists the consequence of res for t. On Rescheduled the returned
// task is the updated one; otherwise it is t unchanged.
func (p *Policy) Apply(ctx context.Context, m Mutator, t tasks.Task, res tasks.Result) (tasks.Task, Outcome, error) {
	outcome := p.decide(t, res)
	defer metrics.TasksProcessed.WithLabelValues(outcome.String(), t.Group).Inc()

	switch outcome {
	case Rescheduled:
		next := t.Rescheduled(p.now().UnixMilli())
		if err := m.Update(ctx, next); err != nil {
			return t, outcome, fmt.Errorf("reschedule task %s: %w", t.ID, err)
		}
		p.log.Warn().
			Str("task_id", t.ID).
			Str("name", t.Name).
			Int("retry_count", next.RetryCount).
			Str("detail", res.Detail).
			Msg("Task failed, retry scheduled")
		return next, outcome, nil
	case Dropped:
		p.log.Error().
			Str("task_id", t.ID).
			Str("name", t.Name).
			Int("retry_count", t.RetryCount).
			Str("detail", res.Detail).
			Msgf("Task dropped after %d attempts", t.RetryCount+1)
	case Failed:
		p.log.Error().
			Str("task_id", t.ID).
			Str("name", t.Name).
			Str("detail", res.Detail).
			Msg("Task failed fatally")
	}

	if err := m.Delete(ctx, t.ID); err != nil {
		return t, outcome, fmt.Errorf("delete task %s: %w", t.ID, err)
	}
	return t, outcome, nil
}

func (p *Policy) decide(t tasks.Task, res tasks.Result) Outcome {
	switch {
	case res.Succeeded():
		return Completed
	case res.IsFatal():
		return Failed
	case t.RetryCount >= p.maxRetries:
		return Dropped
	default:
		return Rescheduled
	}
}
