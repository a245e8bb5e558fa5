package main

import (
	"context"
	"math/rand"
	"time"

	"github.com/guido-cesarano/stepq/pkg/logger"
	"github.com/guido-cesarano/stepq/pkg/process"
	"github.com/guido-cesarano/stepq/pkg/steps"
	"github.com/guido-cesarano/stepq/pkg/tasks"
)

// demoOptions shape the simulated steps.
type demoOptions struct {
	// latency simulates the remote call every step makes.
	latency time.Duration
	// failRate is the probability of a transient step failure.
	failRate float64
}

var demoPayloads = []tasks.Payload{
	tasks.RequestNegotiation{},
	tasks.SendRequestNegotiation{},
	tasks.OfferNegotiation{},
	tasks.SendOffer{},
	tasks.AcceptNegotiation{},
	tasks.SendAccept{},
	tasks.AgreeNegotiation{},
	tasks.SendAgreement{},
	tasks.VerifyNegotiation{},
	tasks.SendVerificationNegotiation{},
	tasks.FinalizeNegotiation{},
	tasks.SendFinalizeNegotiation{},
	tasks.SendTerminateNegotiation{},
	tasks.PrepareTransfer{},
	tasks.SendTransferRequest{},
	tasks.StartDataflow{},
	tasks.SignalDataflowStarted{},
	tasks.SuspendDataFlow{},
	tasks.ResumeDataFlow{},
	tasks.TerminateDataFlow{},
	tasks.CompleteDataFlow{},
}

func to(state string) func(process.Process) string {
	return func(process.Process) string { return state }
}

// demoFlow moves a process to its next state once a step is done. Steps
// without an entry leave the process where it is.
var demoFlow = map[string]func(process.Process) string{
	tasks.RequestNegotiation{}.Name():  to(process.NegotiationAgreed),
	tasks.AgreeNegotiation{}.Name():    to(process.NegotiationFinalized),
	tasks.VerifyNegotiation{}.Name():   to(process.NegotiationFinalized),
	tasks.FinalizeNegotiation{}.Name(): to(process.NegotiationFinalized),
	tasks.PrepareTransfer{}.Name(): func(p process.Process) string {
		if p.Type == process.Consumer {
			return process.TransferStartupRequested
		}
		return process.TransferStartingRequested
	},
	tasks.StartDataflow{}.Name():         to(process.TransferCompletingRequested),
	tasks.SignalDataflowStarted{}.Name(): to(process.TransferCompletingRequested),
	tasks.SuspendDataFlow{}.Name():       to(process.TransferSuspended),
	tasks.ResumeDataFlow{}.Name():        to(process.TransferStarted),
	tasks.TerminateDataFlow{}.Name():     to(process.TransferTerminated),
	tasks.CompleteDataFlow{}.Name():      to(process.TransferCompleted),
}

// registerDemoSteps binds a simulated step to every built-in payload of group.
func registerDemoSteps(e *steps.Executor, group string, processes process.Store, demo demoOptions) {
	run := demoStep(processes, demo)
	for _, p := range demoPayloads {
		if p.Group() != group {
			continue
		}
		e.Register(p.Name(), steps.Step{Role: steps.Roles[p.Name()], Run: run})
	}
}

func demoStep(processes process.Store, demo demoOptions) steps.Func {
	log := logger.For("demo")
	return func(ctx context.Context, p process.Process, payload tasks.Payload) tasks.Result {
		log.Info().
			Str("process_id", p.ID).
			Str("step", payload.Name()).
			Str("state", p.State).
			Msg("Running step")

		time.Sleep(demo.latency) // Simulate the remote call

		if demo.failRate > 0 && rand.Float64() < demo.failRate {
			return tasks.Transient("simulated failure")
		}

		next, ok := demoFlow[payload.Name()]
		if !ok {
			return tasks.Success()
		}
		p.State = next(p)
		if err := processes.Save(ctx, p); err != nil {
			return tasks.Transient("save process %s: %v", p.ID, err)
		}
		return tasks.Success()
	}
}

// demoMachine stands in for the domain state machines, which live outside
// this repository.
type demoMachine struct{}

func (demoMachine) Handle(_ context.Context, processID, state string) tasks.Result {
	logger.Log.Info().Str("process_id", processID).Str("state", state).Msg("State change received")
	return tasks.Success()
}
