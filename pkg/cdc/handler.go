package cdc

import (
	"context"
	"encoding/json"

	"github.com/guido-cesarano/stepq/pkg/broker"
	"github.com/guido-cesarano/stepq/pkg/logger"
	"github.com/guido-cesarano/stepq/pkg/process"
	"github.com/rs/zerolog"
)

// Handler is a broker.MessageHandler that hands delivered changes to a state
// machine.
type Handler struct {
	sm  process.StateMachine
	log *zerolog.Logger
}

// NewHandler creates a handler delivering to sm.
func NewHandler(sm process.StateMachine) *Handler {
	return &Handler{sm: sm, log: logger.For("change-handler")}
}

func (h *Handler) HandleMessage(ctx context.Context, m broker.Message) broker.Disposition {
	var c Change
	if err := json.Unmarshal(m.Data, &c); err != nil || c.ProcessID == "" || c.State == "" {
		h.log.Error().Err(err).Str("message_id", m.ID).Msg("Discarding malformed change")
		return broker.Term
	}

	res := h.sm.Handle(ctx, c.ProcessID, c.State)
	switch {
	case res.Succeeded():
		return broker.Ack
	case res.IsTransient():
		h.log.Warn().Str("process_id", c.ProcessID).Str("state", c.State).Str("result", res.String()).Msg("State machine failed, change will be redelivered")
		return broker.Nak
	default:
		h.log.Error().Str("process_id", c.ProcessID).Str("state", c.State).Str("result", res.String()).Msg("State machine failed fatally")
		return broker.Term
	}
}
