package tasks

import "fmt"

// Status classifies the outcome of a step.
type Status int

const (
	// StatusSuccess means the step completed and the task can be deleted.
	StatusSuccess Status = iota
	// StatusTransient means the step may succeed if attempted again.
	StatusTransient
	// StatusFatal means retrying can never succeed.
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusTransient:
		return "transient"
	case StatusFatal:
		return "fatal"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is the three-way outcome returned by handlers and state machines.
type Result struct {
	Status Status
	Detail string
}

// Success returns a successful result.
func Success() Result {
	return Result{Status: StatusSuccess}
}

// Transient returns a retryable failure.
func Transient(format string, args ...any) Result {
	return Result{Status: StatusTransient, Detail: fmt.Sprintf(format, args...)}
}

// Fatal returns a failure that must not be retried.
func Fatal(format string, args ...any) Result {
	return Result{Status: StatusFatal, Detail: fmt.Sprintf(format, args...)}
}

// Succeeded reports whether the result is a success.
func (r Result) Succeeded() bool { return r.Status == StatusSuccess }

// Failed reports whether the result is a transient or fatal failure.
func (r Result) Failed() bool { return r.Status != StatusSuccess }

// IsFatal reports whether the result is a fatal failure.
func (r Result) IsFatal() bool { return r.Status == StatusFatal }

// IsTransient reports whether the result is a retryable failure.
func (r Result) IsTransient() bool { return r.Status == StatusTransient }

func (r Result) String() string {
	if r.Detail == "" {
		return r.Status.String()
	}
	return r.Status.String() + ": " + r.Detail
}
