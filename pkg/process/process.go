// Package process models the long-running domain processes (contract
// negotiations and transfer processes) that tasks advance, the observables
// that announce their transitions, and a store decorator that turns persisted
// state changes into change notifications.
package process

import (
	"context"

	"github.com/guido-cesarano/stepq/pkg/tasks"
)

// Kind distinguishes the two process families.
type Kind string

const (
	KindNegotiation Kind = "negotiation"
	KindTransfer    Kind = "transfer"
)

// Roles a process plays.
const (
	Consumer = "CONSUMER"
	Provider = "PROVIDER"
)

// Contract negotiation states.
const (
	NegotiationInitial     = "INITIAL"
	NegotiationRequesting  = "REQUESTING"
	NegotiationRequested   = "REQUESTED"
	NegotiationOffering    = "OFFERING"
	NegotiationOffered     = "OFFERED"
	NegotiationAccepting   = "ACCEPTING"
	NegotiationAccepted    = "ACCEPTED"
	NegotiationAgreeing    = "AGREEING"
	NegotiationAgreed      = "AGREED"
	NegotiationVerifying   = "VERIFYING"
	NegotiationVerified    = "VERIFIED"
	NegotiationFinalizing  = "FINALIZING"
	NegotiationFinalized   = "FINALIZED"
	NegotiationTerminating = "TERMINATING"
	NegotiationTerminated  = "TERMINATED"
)

// Transfer process states.
const (
	TransferInitial                 = "INITIAL"
	TransferProvisioning            = "PROVISIONING"
	TransferProvisioningRequested   = "PROVISIONING_REQUESTED"
	TransferProvisioned             = "PROVISIONED"
	TransferRequesting              = "REQUESTING"
	TransferRequested               = "REQUESTED"
	TransferStarting                = "STARTING"
	TransferStartingRequested       = "STARTING_REQUESTED"
	TransferStartupRequested        = "STARTUP_REQUESTED"
	TransferStarted                 = "STARTED"
	TransferSuspending              = "SUSPENDING"
	TransferSuspendingRequested     = "SUSPENDING_REQUESTED"
	TransferSuspended               = "SUSPENDED"
	TransferResuming                = "RESUMING"
	TransferResumed                 = "RESUMED"
	TransferCompleting              = "COMPLETING"
	TransferCompletingRequested     = "COMPLETING_REQUESTED"
	TransferCompleted               = "COMPLETED"
	TransferTerminating             = "TERMINATING"
	TransferTerminatingRequested    = "TERMINATING_REQUESTED"
	TransferTerminated              = "TERMINATED"
	TransferDeprovisioning          = "DEPROVISIONING"
	TransferDeprovisioningRequested = "DEPROVISIONING_REQUESTED"
	TransferDeprovisioned           = "DEPROVISIONED"
)

// Process is the orchestration view of a negotiation or transfer.
type Process struct {
	ID    string `json:"id"`
	Kind  Kind   `json:"kind"`
	Type  string `json:"type"`
	State string `json:"state"`
}

// IsFinal reports whether no further step can apply to the process.
func (p Process) IsFinal() bool {
	switch p.Kind {
	case KindNegotiation:
		return p.State == NegotiationFinalized || p.State == NegotiationTerminated
	case KindTransfer:
		return p.State == TransferCompleted || p.State == TransferTerminated || p.State == TransferDeprovisioned
	default:
		return false
	}
}

// Ref returns the task reference for the process in its current state.
func (p Process) Ref() (tasks.ProcessRef, error) {
	return tasks.NewProcessRef(p.ID, p.State, p.Type)
}

// Store persists processes. FindByID returns (nil, nil) for unknown ids.
type Store interface {
	FindByID(ctx context.Context, id string) (*Process, error)
	Save(ctx context.Context, p Process) error
}

// StateMachine pushes a process forward after a persisted state change.
type StateMachine interface {
	Handle(ctx context.Context, processID, state string) tasks.Result
}

// StateMachineFunc adapts a function to the StateMachine interface.
type StateMachineFunc func(ctx context.Context, processID, state string) tasks.Result

func (f StateMachineFunc) Handle(ctx context.Context, processID, state string) tasks.Result {
	return f(ctx, processID, state)
}

// ChangeListener is told about every persisted state change. before is nil
// for a process saved for the first time.
type ChangeListener interface {
	OnChange(ctx context.Context, before *Process, after Process) tasks.Result
}

// ChangeListenerFunc adapts a function to the ChangeListener interface.
type ChangeListenerFunc func(ctx context.Context, before *Process, after Process) tasks.Result

func (f ChangeListenerFunc) OnChange(ctx context.Context, before *Process, after Process) tasks.Result {
	return f(ctx, before, after)
}
