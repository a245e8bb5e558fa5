package process

import (
	"context"
	"errors"
	"sync"
)

// NegotiationListener is notified of the negotiation transitions that
// schedule orchestration work.
type NegotiationListener interface {
	Initiated(ctx context.Context, p Process) error
	Requested(ctx context.Context, p Process) error
	Agreed(ctx context.Context, p Process) error
	Verified(ctx context.Context, p Process) error
}

// TransferListener is notified of the transfer transitions that schedule
// orchestration work.
type TransferListener interface {
	Initiated(ctx context.Context, p Process) error
	StartupRequested(ctx context.Context, p Process) error
	StartingRequested(ctx context.Context, p Process) error
	SuspendingRequested(ctx context.Context, p Process) error
	TerminatingRequested(ctx context.Context, p Process) error
	CompletingRequested(ctx context.Context, p Process) error
}

// Observable is a set of listeners owned by the code that wires them. It is
// created by the bootstrap and passed to whoever drives the transitions.
type Observable[L any] struct {
	mu        sync.RWMutex
	listeners []L
}

// Register adds a listener.
func (o *Observable[L]) Register(l L) {
	o.mu.Lock()
	o.listeners = append(o.listeners, l)
	o.mu.Unlock()
}

// Len returns the number of registered listeners.
func (o *Observable[L]) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.listeners)
}

// Invoke calls fn for every listener and joins their errors.
func (o *Observable[L]) Invoke(fn func(L) error) error {
	o.mu.RLock()
	listeners := append([]L(nil), o.listeners...)
	o.mu.RUnlock()

	var errs []error
	for _, l := range listeners {
		if err := fn(l); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NegotiationObservable announces negotiation transitions.
type NegotiationObservable = Observable[NegotiationListener]

// TransferObservable announces transfer transitions.
type TransferObservable = Observable[TransferListener]

// NotifyNegotiation fires the hook that matches the process state. States
// without a hook are ignored.
func NotifyNegotiation(ctx context.Context, o *NegotiationObservable, p Process) error {
	var hook func(NegotiationListener) error
	switch p.State {
	case NegotiationInitial:
		hook = func(l NegotiationListener) error { return l.Initiated(ctx, p) }
	case NegotiationRequested:
		hook = func(l NegotiationListener) error { return l.Requested(ctx, p) }
	case NegotiationAgreed:
		hook = func(l NegotiationListener) error { return l.Agreed(ctx, p) }
	case NegotiationVerified:
		hook = func(l NegotiationListener) error { return l.Verified(ctx, p) }
	default:
		return nil
	}
	return o.Invoke(hook)
}

// NotifyTransfer fires the hook that matches the process state. States
// without a hook are ignored.
func NotifyTransfer(ctx context.Context, o *TransferObservable, p Process) error {
	var hook func(TransferListener) error
	switch p.State {
	case TransferInitial:
		hook = func(l TransferListener) error { return l.Initiated(ctx, p) }
	case TransferStartupRequested:
		hook = func(l TransferListener) error { return l.StartupRequested(ctx, p) }
	case TransferStartingRequested:
		hook = func(l TransferListener) error { return l.StartingRequested(ctx, p) }
	case TransferSuspendingRequested:
		hook = func(l TransferListener) error { return l.SuspendingRequested(ctx, p) }
	case TransferTerminatingRequested:
		hook = func(l TransferListener) error { return l.TerminatingRequested(ctx, p) }
	case TransferCompletingRequested:
		hook = func(l TransferListener) error { return l.CompletingRequested(ctx, p) }
	default:
		return nil
	}
	return o.Invoke(hook)
}
