// Package tasks defines the core data structures of the orchestration engine.
// A Task is a durable, retryable unit of work wrapping a typed process payload;
// it is created when a process changes state and deleted once its step has
// either succeeded, failed fatally or exhausted its retry budget.
package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrDuplicate is returned by Store.Create when the id already exists.
	ErrDuplicate = errors.New("task already exists")
	// ErrNotFound is returned by Store.Update when the id does not exist.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidTask reports a task that violates the persisted-task invariants.
	ErrInvalidTask = errors.New("invalid task")
)

// Task represents a unit of orchestration work.
//
// At is a logical timestamp in milliseconds. It orders the poll ("not before")
// and becomes the new due time when a transient failure reschedules the task.
// Name and Group are labels copied from the payload; they never take part in
// identity.
type Task struct {
	// ID is a unique identifier for the task (UUID unless supplied).
	ID string

	// At is the scheduling timestamp in milliseconds since the epoch.
	At int64

	// RetryCount tracks how many transient failures this task has seen.
	RetryCount int

	// Name routes and labels the task (defaults to Payload.Name()).
	Name string

	// Group classifies the task coarsely (defaults to Payload.Group()).
	Group string

	// Payload carries the process step. Its dynamic type selects the handler.
	Payload Payload
}

// New builds a validated task for the payload, due at the given time.
func New(at int64, payload Payload) (Task, error) {
	t := Task{At: at, Payload: payload}
	if err := t.Normalize(); err != nil {
		return Task{}, err
	}
	return t, nil
}

// Normalize fills the derived fields (ID, Name, Group) and checks the
// invariants every persisted task must satisfy.
func (t *Task) Normalize() error {
	if t.Payload == nil {
		return fmt.Errorf("%w: payload must be set", ErrInvalidTask)
	}
	if t.At == 0 {
		return fmt.Errorf("%w: 'at' must be set", ErrInvalidTask)
	}
	if t.RetryCount < 0 {
		return fmt.Errorf("%w: negative retry count %d", ErrInvalidTask, t.RetryCount)
	}
	if err := t.Payload.Ref().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTask, err)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Name == "" {
		t.Name = t.Payload.Name()
	}
	if t.Group == "" {
		t.Group = t.Payload.Group()
	}
	return nil
}

// Rescheduled returns a copy of the task after one more transient failure,
// due again at the given time. The payload is carried over unchanged.
func (t Task) Rescheduled(at int64) Task {
	t.RetryCount++
	t.At = at
	return t
}

// Query bounds a poll. Results are always ordered by At ascending.
type Query struct {
	// Limit caps the number of returned tasks; values below 1 mean 1.
	Limit int

	// DueBefore, when non-zero, only returns tasks with At <= DueBefore.
	DueBefore int64
}

// Store is the contract for task persistence.
//
// FetchForUpdate is the poll primitive, not a general query API. FindByID
// returns (nil, nil) when the task does not exist and Delete is idempotent.
type Store interface {
	Create(ctx context.Context, t Task) error
	FetchForUpdate(ctx context.Context, q Query) ([]Task, error)
	Update(ctx context.Context, t Task) error
	Delete(ctx context.Context, id string) error
	FindByID(ctx context.Context, id string) (*Task, error)
}

// Handler executes the side-effecting step behind a payload. Implementations
// must be idempotent with respect to re-invocation on the same payload.
type Handler interface {
	Handle(ctx context.Context, p Payload) Result
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, p Payload) Result

// Handle calls f(ctx, p).
func (f HandlerFunc) Handle(ctx context.Context, p Payload) Result {
	return f(ctx, p)
}
