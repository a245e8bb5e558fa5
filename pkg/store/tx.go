// Package store provides the durable task stores and the transaction
// boundaries the task service runs them in.
package store

import (
	"context"
	"sync"
)

// TransactionContext runs fn inside a transaction boundary. Nested calls made
// with the context handed to fn join the enclosing transaction.
type TransactionContext interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}

type localTxKey struct{}

// LocalTransactionContext serializes work behind a process-wide mutex. It is
// the boundary for stores without native transactions (memory, Redis).
//
// fn must not wait on another goroutine that opens a fresh transaction on the
// same LocalTransactionContext.
type LocalTransactionContext struct {
	mu sync.Mutex
}

// NewLocalTransactionContext returns an unlocked local boundary.
func NewLocalTransactionContext() *LocalTransactionContext {
	return &LocalTransactionContext{}
}

func (l *LocalTransactionContext) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if owner, _ := ctx.Value(localTxKey{}).(*LocalTransactionContext); owner == l {
		return fn(ctx)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(context.WithValue(ctx, localTxKey{}, l))
}
