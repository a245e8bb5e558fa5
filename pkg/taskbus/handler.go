package taskbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/guido-cesarano/stepq/pkg/broker"
	"github.com/guido-cesarano/stepq/pkg/executor"
	"github.com/guido-cesarano/stepq/pkg/logger"
	"github.com/guido-cesarano/stepq/pkg/metrics"
	"github.com/guido-cesarano/stepq/pkg/retry"
	"github.com/guido-cesarano/stepq/pkg/store"
	"github.com/guido-cesarano/stepq/pkg/tasks"
	"github.com/rs/zerolog"
)

// TaskService is what the handler needs from the task service.
type TaskService interface {
	Transaction() store.TransactionContext
	FindByID(ctx context.Context, id string) (*tasks.Task, error)
	Update(ctx context.Context, t tasks.Task) error
	Delete(ctx context.Context, id string) error
}

// Republisher sends a rescheduled task back onto the broker.
type Republisher interface {
	Publish(ctx context.Context, t tasks.Task) error
}

// Handler executes tasks delivered by a broker.Subscriber.
//
// The store is authoritative: a delivered task that is no longer stored is
// nak'd without running the step, and the retry budget is read from the
// stored copy, not from the message.
type Handler struct {
	svc       TaskService
	handler   tasks.Handler
	family    Family
	policy    *retry.Policy
	republish Republisher
	log       *zerolog.Logger
}

// NewHandler creates a handler for one family. republish may be nil, in which
// case rescheduled tasks wait in the store for another delivery path.
func NewHandler(svc TaskService, handler tasks.Handler, family Family, maxRetries int, republish Republisher) *Handler {
	return &Handler{
		svc:       svc,
		handler:   handler,
		family:    family,
		policy:    retry.New(maxRetries),
		republish: republish,
		log:       logger.For("task-handler"),
	}
}

func (h *Handler) HandleMessage(ctx context.Context, m broker.Message) broker.Disposition {
	log := h.log.With().Str("subject", m.Subject).Str("message_id", m.ID).Logger()

	var t tasks.Task
	if err := json.Unmarshal(m.Data, &t); err != nil {
		log.Error().Err(err).Msg("Cannot decode task message")
		return broker.Term
	}
	log = log.With().Str("task_id", t.ID).Logger()
	if t.Payload == nil || !h.family.Accepts(t.Payload) {
		log.Error().Str("family", string(h.family)).Msgf("Unexpected payload type %T", t.Payload)
		return broker.Term
	}

	disposition := broker.Ack
	err := h.svc.Transaction().Execute(ctx, func(ctx context.Context) error {
		stored, err := h.svc.FindByID(ctx, t.ID)
		if err != nil {
			return err
		}
		if stored == nil {
			log.Warn().Msg("Task not found, requesting redelivery")
			disposition = broker.Nak
			return nil
		}

		start := time.Now()
		res := executor.SafeHandle(ctx, h.handler, stored.Payload)
		metrics.TaskDuration.WithLabelValues(stored.Group).Observe(time.Since(start).Seconds())

		next, outcome, err := h.policy.Apply(ctx, h.svc, *stored, res)
		if err != nil {
			return err
		}
		switch outcome {
		case retry.Failed:
			disposition = broker.Term
		case retry.Rescheduled:
			if h.republish != nil {
				if err := h.republish.Publish(ctx, next); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("Task handling failed, requesting redelivery")
		return broker.Nak
	}
	return disposition
}
