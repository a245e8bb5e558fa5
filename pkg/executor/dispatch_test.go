package executor

import (
	"context"
	"strings"
	"testing"

	"github.com/guido-cesarano/stepq/pkg/tasks"
)

type auditPayload struct{ tasks.ProcessRef }

func (auditPayload) Name() string  { return "audit.record" }
func (auditPayload) Group() string { return "audit" }

func recordingHandler(name string, calls *[]string) tasks.Handler {
	return tasks.HandlerFunc(func(_ context.Context, p tasks.Payload) tasks.Result {
		*calls = append(*calls, name+":"+p.Name())
		return tasks.Success()
	})
}

func TestDispatcherRoutesByFamily(t *testing.T) {
	ref, _ := tasks.NewProcessRef("p-1", "REQUESTED", "PROVIDER")
	var calls []string
	d := Dispatcher{
		Negotiation: recordingHandler("negotiation", &calls),
		Transfer:    recordingHandler("transfer", &calls),
	}

	tests := []struct {
		name     string
		payload  tasks.Payload
		wantCall string
		wantRes  tasks.Status
	}{
		{name: "negotiation", payload: tasks.AgreeNegotiation{ProcessRef: ref}, wantCall: "negotiation:negotiation.agreement.agree"},
		{name: "transfer", payload: tasks.StartDataflow{ProcessRef: ref}, wantCall: "transfer:transfer.start"},
		{name: "unknown family", payload: auditPayload{ProcessRef: ref}, wantRes: tasks.StatusFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls = nil
			res := d.Handle(context.Background(), tt.payload)
			if res.Status != tt.wantRes {
				t.Fatalf("Expected %v, got %v", tt.wantRes, res)
			}
			if tt.wantCall == "" {
				if len(calls) != 0 {
					t.Errorf("Expected no handler call, got %v", calls)
				}
				return
			}
			if len(calls) != 1 || calls[0] != tt.wantCall {
				t.Errorf("Expected [%s], got %v", tt.wantCall, calls)
			}
		})
	}
}

func TestDispatcherMissingHandlerIsFatal(t *testing.T) {
	ref, _ := tasks.NewProcessRef("p-1", "INITIAL", "CONSUMER")
	res := Dispatcher{}.Handle(context.Background(), tasks.PrepareTransfer{ProcessRef: ref})
	if !res.IsFatal() {
		t.Fatalf("Expected fatal, got %v", res)
	}
}

func TestSafeHandleRecoversPanic(t *testing.T) {
	ref, _ := tasks.NewProcessRef("p-1", "INITIAL", "CONSUMER")
	h := tasks.HandlerFunc(func(context.Context, tasks.Payload) tasks.Result {
		panic("connector unavailable")
	})

	res := SafeHandle(context.Background(), h, tasks.PrepareTransfer{ProcessRef: ref})
	if !res.IsTransient() {
		t.Fatalf("Expected transient, got %v", res)
	}
	if !strings.Contains(res.Detail, "connector unavailable") {
		t.Errorf("Expected panic value in detail, got %q", res.Detail)
	}
}
