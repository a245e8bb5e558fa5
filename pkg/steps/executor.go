// Package steps runs process steps against the current state of their
// process. A step only runs while the process is still in the state the task
// was scheduled for and has the role the step is bound to.
package steps

import (
	"context"
	"sync"

	"github.com/guido-cesarano/stepq/pkg/logger"
	"github.com/guido-cesarano/stepq/pkg/process"
	"github.com/guido-cesarano/stepq/pkg/store"
	"github.com/guido-cesarano/stepq/pkg/tasks"
	"github.com/rs/zerolog"
)

// Func performs one step on a loaded process.
type Func func(ctx context.Context, p process.Process, payload tasks.Payload) tasks.Result

// Step binds a Func to the process role allowed to run it. An empty Role
// allows both.
type Step struct {
	Role string
	Run  Func
}

// Guard reports whether a process must be skipped, for instance while it is
// waiting on an external party.
type Guard func(p process.Process) bool

// Roles binds the built-in steps that only one side of a process runs.
var Roles = map[string]string{
	tasks.RequestNegotiation{}.Name():          process.Consumer,
	tasks.SendRequestNegotiation{}.Name():      process.Consumer,
	tasks.AgreeNegotiation{}.Name():            process.Provider,
	tasks.SendAgreement{}.Name():               process.Provider,
	tasks.VerifyNegotiation{}.Name():           process.Consumer,
	tasks.SendVerificationNegotiation{}.Name(): process.Consumer,
	tasks.FinalizeNegotiation{}.Name():         process.Provider,
	tasks.SendFinalizeNegotiation{}.Name():     process.Provider,
	tasks.SendTransferRequest{}.Name():         process.Consumer,
	tasks.StartDataflow{}.Name():               process.Provider,
	tasks.SignalDataflowStarted{}.Name():       process.Consumer,
}

// Executor is a tasks.Handler for one payload group.
type Executor struct {
	group     string
	processes process.Store
	tx        store.TransactionContext
	log       *zerolog.Logger

	mu    sync.RWMutex
	steps map[string]Step
	guard Guard
}

// New creates an executor for the payloads of group. A nil tx selects a local
// transaction boundary.
func New(group string, processes process.Store, tx store.TransactionContext) *Executor {
	if tx == nil {
		tx = store.NewLocalTransactionContext()
	}
	return &Executor{
		group:     group,
		processes: processes,
		tx:        tx,
		log:       logger.For(group + "-steps"),
		steps:     make(map[string]Step),
	}
}

// Register binds the step for payloads named name, replacing any previous one.
func (e *Executor) Register(name string, s Step) {
	e.mu.Lock()
	e.steps[name] = s
	e.mu.Unlock()
}

// SetGuard installs g; a nil guard never skips.
func (e *Executor) SetGuard(g Guard) {
	e.mu.Lock()
	e.guard = g
	e.mu.Unlock()
}

func (e *Executor) Handle(ctx context.Context, payload tasks.Payload) tasks.Result {
	if payload == nil || payload.Group() != e.group {
		return tasks.Fatal("payload %T does not belong to group %s", payload, e.group)
	}

	var res tasks.Result
	err := e.tx.Execute(ctx, func(ctx context.Context) error {
		res = e.run(ctx, payload)
		return nil
	})
	if err != nil {
		return tasks.Transient("step transaction: %v", err)
	}
	return res
}

func (e *Executor) run(ctx context.Context, payload tasks.Payload) tasks.Result {
	ref := payload.Ref()
	log := e.log.With().Str("process_id", ref.ProcessID).Str("step", payload.Name()).Logger()

	p, err := e.processes.FindByID(ctx, ref.ProcessID)
	if err != nil {
		return tasks.Fatal("load process %s: %v", ref.ProcessID, err)
	}
	if p == nil {
		return tasks.Fatal("process %s not found", ref.ProcessID)
	}

	if p.IsFinal() {
		log.Debug().Str("state", p.State).Msg("Skipping process in final state")
		return tasks.Success()
	}
	if p.State != ref.ProcessState {
		log.Warn().Str("state", p.State).Str("expected", ref.ProcessState).Msg("Skipping process not in expected state")
		return tasks.Success()
	}

	e.mu.RLock()
	step, ok := e.steps[payload.Name()]
	guard := e.guard
	e.mu.RUnlock()
	if !ok || step.Run == nil {
		log.Error().Msg("No step registered")
		return tasks.Fatal("no step registered for %s", payload.Name())
	}

	if step.Role != "" && step.Role != p.Type {
		log.Error().Str("role", p.Type).Str("expected", step.Role).Msg("Step bound to another role")
		return tasks.Fatal("expected role %s for %s, process %s is %s", step.Role, payload.Name(), p.ID, p.Type)
	}

	if guard != nil && guard(*p) {
		log.Debug().Str("state", p.State).Msg("Skipping process matched by guard")
		return tasks.Success()
	}

	return step.Run(ctx, *p, payload)
}
