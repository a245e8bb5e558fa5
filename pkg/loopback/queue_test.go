package loopback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/guido-cesarano/stepq/pkg/process"
	"github.com/guido-cesarano/stepq/pkg/tasks"
)

type recordingMachine struct {
	mu    sync.Mutex
	calls []string
	seen  chan struct{}
}

func newRecordingMachine() *recordingMachine {
	return &recordingMachine{seen: make(chan struct{}, 100)}
}

func (m *recordingMachine) Handle(_ context.Context, id, state string) tasks.Result {
	m.mu.Lock()
	m.calls = append(m.calls, id+":"+state)
	m.mu.Unlock()
	m.seen <- struct{}{}
	return tasks.Success()
}

func (m *recordingMachine) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-m.seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for call %d", i+1)
		}
	}
}

func TestQueueDeliversChangesInOrder(t *testing.T) {
	sm := newRecordingMachine()
	q := New(sm, Config{Delay: time.Millisecond})
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer q.Stop()

	for _, state := range []string{process.TransferInitial, process.TransferRequesting} {
		res := q.OnChange(context.Background(), nil, process.Process{ID: "tp-1", State: state})
		if !res.Succeeded() {
			t.Fatalf("Expected success, got %v", res)
		}
	}
	sm.wait(t, 2)

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if len(sm.calls) != 2 || sm.calls[0] != "tp-1:INITIAL" || sm.calls[1] != "tp-1:REQUESTING" {
		t.Errorf("Unexpected calls %v", sm.calls)
	}
}

func TestQueueRejectsWhenInactive(t *testing.T) {
	q := New(newRecordingMachine(), Config{})

	if res := q.OnChange(context.Background(), nil, process.Process{ID: "tp-1", State: "INITIAL"}); !res.IsFatal() {
		t.Errorf("Expected fatal before start, got %v", res)
	}

	q.Start(context.Background())
	q.Stop()
	if res := q.OnChange(context.Background(), nil, process.Process{ID: "tp-1", State: "INITIAL"}); !res.IsFatal() {
		t.Errorf("Expected fatal after stop, got %v", res)
	}
	if err := q.Start(context.Background()); err != ErrStarted {
		t.Errorf("Expected ErrStarted, got %v", err)
	}
}

func TestQueueBlocksWhenFullUntilContextDone(t *testing.T) {
	block := make(chan struct{})
	sm := process.StateMachineFunc(func(context.Context, string, string) tasks.Result {
		<-block
		return tasks.Success()
	})
	q := New(sm, Config{Capacity: 1, Delay: time.Millisecond})
	q.Start(context.Background())
	defer func() {
		close(block)
		q.Stop()
	}()

	// The consumer takes the first change and blocks; the second fills the queue.
	q.OnChange(context.Background(), nil, process.Process{ID: "a", State: "INITIAL"})
	time.Sleep(20 * time.Millisecond)
	if res := q.OnChange(context.Background(), nil, process.Process{ID: "b", State: "INITIAL"}); !res.Succeeded() {
		t.Fatalf("Expected queued change, got %v", res)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if res := q.OnChange(ctx, nil, process.Process{ID: "c", State: "INITIAL"}); !res.IsTransient() {
		t.Errorf("Expected transient after interrupted put, got %v", res)
	}
}

func TestQueueRejectsSendThatCompletesAfterStopBegan(t *testing.T) {
	q := New(newRecordingMachine(), Config{Capacity: 1})
	// Active without a consumer, with the only slot taken.
	q.active.Store(true)
	q.changes <- change{id: "a", state: "INITIAL"}

	results := make(chan tasks.Result, 1)
	go func() {
		results <- q.OnChange(context.Background(), nil, process.Process{ID: "b", State: "INITIAL"})
	}()
	time.Sleep(20 * time.Millisecond)

	// Stop has flipped the flag but not yet closed the stop channel when a
	// slot frees up, so the blocked send is the only ready case.
	q.active.Store(false)
	<-q.changes

	select {
	case res := <-results:
		if !res.IsFatal() {
			t.Errorf("Expected fatal for a change accepted during stop, got %v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnChange never returned")
	}
}

func TestQueueFedByCaptureStore(t *testing.T) {
	sm := newRecordingMachine()
	q := New(sm, Config{Delay: time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	store := process.NewCaptureStore(process.NewMemoryStore())
	store.AddListener(q)
	ctx := context.Background()
	store.Save(ctx, process.Process{ID: "cn-1", Kind: process.KindNegotiation, Type: process.Consumer, State: process.NegotiationInitial})
	store.Save(ctx, process.Process{ID: "cn-1", Kind: process.KindNegotiation, Type: process.Consumer, State: process.NegotiationInitial})
	store.Save(ctx, process.Process{ID: "cn-1", Kind: process.KindNegotiation, Type: process.Consumer, State: process.NegotiationRequesting})
	sm.wait(t, 2)

	select {
	case <-sm.seen:
		t.Fatal("Expected no notification for the state-preserving save")
	case <-time.After(30 * time.Millisecond):
	}
}
