package steps

import (
	"context"
	"errors"
	"testing"

	"github.com/guido-cesarano/stepq/pkg/process"
	"github.com/guido-cesarano/stepq/pkg/tasks"
)

type failingStore struct{}

func (failingStore) FindByID(context.Context, string) (*process.Process, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) Save(context.Context, process.Process) error { return nil }

func transferPayload(t *testing.T, build func(tasks.ProcessRef) tasks.Payload, state, role string) tasks.Payload {
	t.Helper()
	ref, err := tasks.NewProcessRef("tp-1", state, role)
	if err != nil {
		t.Fatalf("NewProcessRef: %v", err)
	}
	return build(ref)
}

func startDataflow(ref tasks.ProcessRef) tasks.Payload { return tasks.StartDataflow{ProcessRef: ref} }

func TestExecutorGuards(t *testing.T) {
	tests := []struct {
		name    string
		stored  *process.Process
		payload string
		role    string
		guard   Guard
		want    tasks.Status
		ran     bool
	}{
		{
			name:    "runs step in expected state",
			stored:  &process.Process{ID: "tp-1", Kind: process.KindTransfer, Type: process.Provider, State: process.TransferStarting},
			payload: process.TransferStarting,
			role:    process.Provider,
			want:    tasks.StatusSuccess,
			ran:     true,
		},
		{
			name:    "missing process is fatal",
			payload: process.TransferStarting,
			role:    process.Provider,
			want:    tasks.StatusFatal,
		},
		{
			name:    "final state is skipped",
			stored:  &process.Process{ID: "tp-1", Kind: process.KindTransfer, Type: process.Provider, State: process.TransferTerminated},
			payload: process.TransferStarting,
			role:    process.Provider,
			want:    tasks.StatusSuccess,
		},
		{
			name:    "stale state is skipped",
			stored:  &process.Process{ID: "tp-1", Kind: process.KindTransfer, Type: process.Provider, State: process.TransferStarted},
			payload: process.TransferStarting,
			role:    process.Provider,
			want:    tasks.StatusSuccess,
		},
		{
			name:    "wrong role is fatal",
			stored:  &process.Process{ID: "tp-1", Kind: process.KindTransfer, Type: process.Consumer, State: process.TransferStarting},
			payload: process.TransferStarting,
			role:    process.Consumer,
			want:    tasks.StatusFatal,
		},
		{
			name:    "guard skips",
			stored:  &process.Process{ID: "tp-1", Kind: process.KindTransfer, Type: process.Provider, State: process.TransferStarting},
			payload: process.TransferStarting,
			role:    process.Provider,
			guard:   func(process.Process) bool { return true },
			want:    tasks.StatusSuccess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processes := process.NewMemoryStore()
			if tt.stored != nil {
				processes.Save(context.Background(), *tt.stored)
			}
			e := New(tasks.GroupTransfer, processes, nil)
			ran := false
			e.Register(tasks.StartDataflow{}.Name(), Step{
				Role: Roles[tasks.StartDataflow{}.Name()],
				Run: func(_ context.Context, p process.Process, _ tasks.Payload) tasks.Result {
					ran = true
					return tasks.Success()
				},
			})
			e.SetGuard(tt.guard)

			res := e.Handle(context.Background(), transferPayload(t, startDataflow, tt.payload, tt.role))
			if res.Status != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, res)
			}
			if ran != tt.ran {
				t.Errorf("Expected ran=%v, got %v", tt.ran, ran)
			}
		})
	}
}

func TestExecutorUnregisteredStepIsFatal(t *testing.T) {
	processes := process.NewMemoryStore()
	processes.Save(context.Background(), process.Process{ID: "tp-1", Kind: process.KindTransfer, Type: process.Consumer, State: process.TransferInitial})
	e := New(tasks.GroupTransfer, processes, nil)

	res := e.Handle(context.Background(), transferPayload(t, func(ref tasks.ProcessRef) tasks.Payload {
		return tasks.PrepareTransfer{ProcessRef: ref}
	}, process.TransferInitial, process.Consumer))
	if !res.IsFatal() {
		t.Errorf("Expected fatal, got %v", res)
	}
}

func TestExecutorRejectsOtherGroup(t *testing.T) {
	e := New(tasks.GroupNegotiation, process.NewMemoryStore(), nil)
	res := e.Handle(context.Background(), transferPayload(t, startDataflow, process.TransferStarting, process.Provider))
	if !res.IsFatal() {
		t.Errorf("Expected fatal, got %v", res)
	}
}

func TestExecutorLoadFailureIsFatal(t *testing.T) {
	e := New(tasks.GroupTransfer, failingStore{}, nil)
	e.Register(tasks.StartDataflow{}.Name(), Step{Run: func(context.Context, process.Process, tasks.Payload) tasks.Result {
		return tasks.Success()
	}})
	res := e.Handle(context.Background(), transferPayload(t, startDataflow, process.TransferStarting, process.Provider))
	if !res.IsFatal() {
		t.Errorf("Expected fatal, got %v", res)
	}
}

func TestExecutorPassesStepResult(t *testing.T) {
	processes := process.NewMemoryStore()
	processes.Save(context.Background(), process.Process{ID: "tp-1", Kind: process.KindTransfer, Type: process.Provider, State: process.TransferStarting})
	e := New(tasks.GroupTransfer, processes, nil)
	e.Register(tasks.StartDataflow{}.Name(), Step{Run: func(_ context.Context, p process.Process, payload tasks.Payload) tasks.Result {
		if p.ID != payload.Ref().ProcessID {
			return tasks.Fatal("wrong process")
		}
		return tasks.Transient("data plane unavailable")
	}})

	res := e.Handle(context.Background(), transferPayload(t, startDataflow, process.TransferStarting, process.Provider))
	if !res.IsTransient() || res.Detail != "data plane unavailable" {
		t.Errorf("Expected step's transient result, got %v", res)
	}
}
