// Package executor runs due tasks from the task store on a single polling
// goroutine and routes each payload to the handler of its process family.
package executor

import (
	"context"
	"runtime/debug"

	"github.com/guido-cesarano/stepq/pkg/tasks"
)

// Dispatcher routes a payload to the handler of its family. Payloads outside
// the known families fail fatally.
type Dispatcher struct {
	Negotiation tasks.Handler
	Transfer    tasks.Handler
}

func (d Dispatcher) Handle(ctx context.Context, p tasks.Payload) tasks.Result {
	switch p := p.(type) {
	case tasks.NegotiationPayload:
		if d.Negotiation == nil {
			return tasks.Fatal("no negotiation handler for %s", p.Name())
		}
		return d.Negotiation.Handle(ctx, p)
	case tasks.TransferPayload:
		if d.Transfer == nil {
			return tasks.Fatal("no transfer handler for %s", p.Name())
		}
		return d.Transfer.Handle(ctx, p)
	default:
		return tasks.Fatal("unsupported payload type %T", p)
	}
}

// SafeHandle calls h and turns a panic into a transient failure.
func SafeHandle(ctx context.Context, h tasks.Handler, p tasks.Payload) (res tasks.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = tasks.Transient("handler panic: %v\n%s", r, debug.Stack())
		}
	}()
	return h.Handle(ctx, p)
}
