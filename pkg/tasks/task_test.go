package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func testRef(t *testing.T) ProcessRef {
	t.Helper()
	ref, err := NewProcessRef("tp-1", "INITIAL", "CONSUMER")
	if err != nil {
		t.Fatalf("NewProcessRef failed: %v", err)
	}
	return ref
}

func TestNewProcessRefRequiresAllFields(t *testing.T) {
	tests := []struct {
		name              string
		id, state, typ    string
		wantErr           bool
		wantMissingFields string
	}{
		{name: "complete", id: "p", state: "INITIAL", typ: "CONSUMER"},
		{name: "missing id", state: "INITIAL", typ: "CONSUMER", wantErr: true, wantMissingFields: "processId"},
		{name: "missing all", wantErr: true, wantMissingFields: "processId, processState, processType"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProcessRef(tt.id, tt.state, tt.typ)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if err != nil && !strings.Contains(err.Error(), tt.wantMissingFields) {
				t.Errorf("Expected error to mention %q, got %q", tt.wantMissingFields, err)
			}
		})
	}
}

func TestNewTaskDerivesFields(t *testing.T) {
	task, err := New(1000, PrepareTransfer{ProcessRef: testRef(t)})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if task.ID == "" {
		t.Error("Expected generated ID")
	}
	if task.Name != "transfer.prepare" {
		t.Errorf("Expected name transfer.prepare, got %s", task.Name)
	}
	if task.Group != GroupTransfer {
		t.Errorf("Expected group %s, got %s", GroupTransfer, task.Group)
	}
}

func TestNormalizeRejectsInvalidTasks(t *testing.T) {
	ref := testRef(t)
	tests := []struct {
		name string
		task Task
	}{
		{name: "zero at", task: Task{Payload: PrepareTransfer{ProcessRef: ref}}},
		{name: "nil payload", task: Task{At: 1}},
		{name: "negative retry", task: Task{At: 1, RetryCount: -1, Payload: PrepareTransfer{ProcessRef: ref}}},
		{name: "empty ref", task: Task{At: 1, Payload: PrepareTransfer{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := tt.task
			if err := task.Normalize(); !errors.Is(err, ErrInvalidTask) {
				t.Errorf("Expected ErrInvalidTask, got %v", err)
			}
		})
	}
}

func TestTaskJSONCarriesTypeDiscriminator(t *testing.T) {
	task, err := New(42, SuspendDataFlow{ProcessRef: testRef(t)})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	task.RetryCount = 2

	data, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var envelope map[string]any
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("Unmarshal envelope failed: %v", err)
	}
	if envelope["type"] != "task:SuspendDataFlow" {
		t.Errorf("Expected type task:SuspendDataFlow, got %v", envelope["type"])
	}
	payload, _ := envelope["payload"].(map[string]any)
	if payload["processId"] != "tp-1" {
		t.Errorf("Expected payload.processId tp-1, got %v", payload["processId"])
	}

	var decoded Task
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(decoded, task) {
		t.Errorf("Expected %+v, got %+v", task, decoded)
	}
	if _, ok := decoded.Payload.(TransferPayload); !ok {
		t.Errorf("Expected a transfer payload, got %T", decoded.Payload)
	}
}

func TestUnmarshalUnknownType(t *testing.T) {
	var task Task
	err := json.Unmarshal([]byte(`{"id":"x","at":1,"type":"task:Nope","payload":{}}`), &task)
	if !errors.Is(err, ErrUnknownPayload) {
		t.Fatalf("Expected ErrUnknownPayload, got %v", err)
	}
}

func TestNewPayloadFromWireType(t *testing.T) {
	p, err := NewPayload("task:AgreeNegotiation", testRef(t))
	if err != nil {
		t.Fatalf("NewPayload failed: %v", err)
	}
	if _, ok := p.(AgreeNegotiation); !ok {
		t.Fatalf("Expected AgreeNegotiation, got %T", p)
	}
	if p.Ref().ProcessID != "tp-1" {
		t.Errorf("Expected processId tp-1, got %s", p.Ref().ProcessID)
	}
}

func TestEveryRegisteredVariantBelongsToOneFamily(t *testing.T) {
	ref := testRef(t)
	names := make(map[string]string)
	for _, wire := range WireTypes() {
		p, err := NewPayload(wire, ref)
		if err != nil {
			t.Fatalf("NewPayload(%s) failed: %v", wire, err)
		}
		_, neg := p.(NegotiationPayload)
		_, tp := p.(TransferPayload)
		if neg == tp {
			t.Errorf("%s: expected exactly one family, negotiation=%v transfer=%v", wire, neg, tp)
		}
		if prev, dup := names[p.Name()]; dup {
			t.Errorf("%s and %s share step name %s", prev, wire, p.Name())
		}
		names[p.Name()] = wire
	}
	if len(names) != 21 {
		t.Errorf("Expected 21 built-in variants, got %d", len(names))
	}
}

func TestMemoryStoreFindReturnsCreated(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	task, _ := New(10, PrepareTransfer{ProcessRef: testRef(t)})

	if err := store.Create(ctx, task); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	found, err := store.FindByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if found == nil || !reflect.DeepEqual(*found, task) {
		t.Fatalf("Expected %+v, got %+v", task, found)
	}

	if err := store.Create(ctx, task); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate, got %v", err)
	}
}

func TestMemoryStoreFetchOrdersByAt(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	ref := testRef(t)

	for _, at := range []int64{30, 10, 20, 10} {
		task, _ := New(at, PrepareTransfer{ProcessRef: ref})
		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	got, err := store.FetchForUpdate(ctx, Query{Limit: 3})
	if err != nil {
		t.Fatalf("FetchForUpdate failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 tasks, got %d", len(got))
	}
	if got[0].At != 10 || got[1].At != 10 || got[2].At != 20 {
		t.Errorf("Expected ascending at [10 10 20], got [%d %d %d]", got[0].At, got[1].At, got[2].At)
	}

	due, _ := store.FetchForUpdate(ctx, Query{Limit: 10, DueBefore: 15})
	if len(due) != 2 {
		t.Errorf("Expected 2 due tasks, got %d", len(due))
	}
}

func TestMemoryStoreUpdateAndDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	task, _ := New(10, PrepareTransfer{ProcessRef: testRef(t)})

	if err := store.Update(ctx, task); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on update of missing task, got %v", err)
	}
	store.Create(ctx, task)

	retried := task.Rescheduled(99)
	if err := store.Update(ctx, retried); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	found, _ := store.FindByID(ctx, task.ID)
	if found.RetryCount != 1 || found.At != 99 {
		t.Errorf("Expected retryCount=1 at=99, got retryCount=%d at=%d", found.RetryCount, found.At)
	}

	if err := store.Delete(ctx, task.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, task.ID); err != nil {
		t.Errorf("Expected idempotent delete, got %v", err)
	}
	if found, _ := store.FindByID(ctx, task.ID); found != nil {
		t.Errorf("Expected nil after delete, got %+v", found)
	}
}

func TestMemoryStoreUpdatedTaskGoesBehindPeers(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	ref := testRef(t)

	a, _ := New(1000, PrepareTransfer{ProcessRef: ref})
	b, _ := New(1000, PrepareTransfer{ProcessRef: ref})
	store.Create(ctx, a)
	store.Create(ctx, b)

	if err := store.Update(ctx, a.Rescheduled(1000)); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, _ := store.FetchForUpdate(ctx, Query{Limit: 2})
	if len(got) != 2 || got[0].ID != b.ID || got[1].ID != a.ID {
		t.Errorf("Expected [b a] after retrying a, got %+v", got)
	}
}
