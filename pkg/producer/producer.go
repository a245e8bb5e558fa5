// Package producer turns process transitions into tasks. Producers only
// schedule the next step; they never transition a process themselves.
package producer

import (
	"context"
	"fmt"
	"time"

	"github.com/guido-cesarano/stepq/pkg/process"
	"github.com/guido-cesarano/stepq/pkg/tasks"
)

// Creator persists a new task.
type Creator interface {
	Create(ctx context.Context, t tasks.Task) (tasks.Task, error)
}

type base struct {
	svc Creator
	now func() time.Time
}

func (b base) schedule(ctx context.Context, p process.Process, build func(tasks.ProcessRef) tasks.Payload) error {
	ref, err := p.Ref()
	if err != nil {
		return fmt.Errorf("schedule step for process %q: %w", p.ID, err)
	}
	_, err = b.svc.Create(ctx, tasks.Task{At: b.now().UnixMilli(), Payload: build(ref)})
	return err
}

// NegotiationProducer schedules contract negotiation steps.
type NegotiationProducer struct {
	base
}

// NewNegotiationProducer creates a producer. now defaults to time.Now.
func NewNegotiationProducer(svc Creator, now func() time.Time) *NegotiationProducer {
	if now == nil {
		now = time.Now
	}
	return &NegotiationProducer{base{svc: svc, now: now}}
}

func (p *NegotiationProducer) Initiated(ctx context.Context, n process.Process) error {
	return p.schedule(ctx, n, func(ref tasks.ProcessRef) tasks.Payload {
		return tasks.RequestNegotiation{ProcessRef: ref}
	})
}

// Requested schedules the agreement on the provider side.
func (p *NegotiationProducer) Requested(ctx context.Context, n process.Process) error {
	if n.Type != process.Provider {
		return nil
	}
	return p.schedule(ctx, n, func(ref tasks.ProcessRef) tasks.Payload {
		return tasks.AgreeNegotiation{ProcessRef: ref}
	})
}

// Agreed schedules the verification on the consumer side.
func (p *NegotiationProducer) Agreed(ctx context.Context, n process.Process) error {
	if n.Type != process.Consumer {
		return nil
	}
	return p.schedule(ctx, n, func(ref tasks.ProcessRef) tasks.Payload {
		return tasks.VerifyNegotiation{ProcessRef: ref}
	})
}

// Verified schedules finalization on the provider side.
func (p *NegotiationProducer) Verified(ctx context.Context, n process.Process) error {
	if n.Type != process.Provider {
		return nil
	}
	return p.schedule(ctx, n, func(ref tasks.ProcessRef) tasks.Payload {
		return tasks.FinalizeNegotiation{ProcessRef: ref}
	})
}

// TransferProducer schedules transfer process steps.
type TransferProducer struct {
	base
}

// NewTransferProducer creates a producer. now defaults to time.Now.
func NewTransferProducer(svc Creator, now func() time.Time) *TransferProducer {
	if now == nil {
		now = time.Now
	}
	return &TransferProducer{base{svc: svc, now: now}}
}

func (p *TransferProducer) Initiated(ctx context.Context, tp process.Process) error {
	return p.schedule(ctx, tp, func(ref tasks.ProcessRef) tasks.Payload {
		return tasks.PrepareTransfer{ProcessRef: ref}
	})
}

func (p *TransferProducer) StartupRequested(ctx context.Context, tp process.Process) error {
	return p.schedule(ctx, tp, func(ref tasks.ProcessRef) tasks.Payload {
		return tasks.SignalDataflowStarted{ProcessRef: ref}
	})
}

func (p *TransferProducer) StartingRequested(ctx context.Context, tp process.Process) error {
	return p.schedule(ctx, tp, func(ref tasks.ProcessRef) tasks.Payload {
		return tasks.StartDataflow{ProcessRef: ref}
	})
}

func (p *TransferProducer) SuspendingRequested(ctx context.Context, tp process.Process) error {
	return p.schedule(ctx, tp, func(ref tasks.ProcessRef) tasks.Payload {
		return tasks.SuspendDataFlow{ProcessRef: ref}
	})
}

func (p *TransferProducer) TerminatingRequested(ctx context.Context, tp process.Process) error {
	return p.schedule(ctx, tp, func(ref tasks.ProcessRef) tasks.Payload {
		return tasks.TerminateDataFlow{ProcessRef: ref}
	})
}

func (p *TransferProducer) CompletingRequested(ctx context.Context, tp process.Process) error {
	return p.schedule(ctx, tp, func(ref tasks.ProcessRef) tasks.Payload {
		return tasks.CompleteDataFlow{ProcessRef: ref}
	})
}

var (
	_ process.NegotiationListener = (*NegotiationProducer)(nil)
	_ process.TransferListener    = (*TransferProducer)(nil)
)
