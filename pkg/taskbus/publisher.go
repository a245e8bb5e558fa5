// Package taskbus carries tasks over the broker: a publisher that announces
// every created task on its routing subject, and a message handler that
// executes delivered tasks against the task store.
package taskbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/guido-cesarano/stepq/pkg/broker"
	"github.com/guido-cesarano/stepq/pkg/logger"
	"github.com/guido-cesarano/stepq/pkg/tasks"
	"github.com/rs/zerolog"
)

// ErrUnroutable reports a payload the publisher has no subject for.
var ErrUnroutable = errors.New("unroutable payload")

// Family selects the payloads a publisher or handler accepts.
type Family string

const (
	FamilyNegotiation Family = tasks.GroupNegotiation
	FamilyTransfer    Family = tasks.GroupTransfer
)

// NegotiationPrefix is the subject prefix of negotiation tasks. Transfer
// tasks use the configured publisher prefix.
const NegotiationPrefix = "negotiations"

// Accepts reports whether p belongs to the family.
func (f Family) Accepts(p tasks.Payload) bool {
	switch f {
	case FamilyNegotiation:
		_, ok := p.(tasks.NegotiationPayload)
		return ok
	case FamilyTransfer:
		_, ok := p.(tasks.TransferPayload)
		return ok
	default:
		return false
	}
}

// Subject returns the routing subject of a task:
// {prefix}.{process type, lower case}.{step name}.
func Subject(prefix string, t tasks.Task) string {
	ref := t.Payload.Ref()
	return prefix + "." + strings.ToLower(ref.ProcessType) + "." + t.Payload.Name()
}

// PublisherConfig describes where a publisher sends tasks.
type PublisherConfig struct {
	Stream        string
	SubjectPrefix string
	Family        Family
}

// Publisher is a service.Listener that publishes each created task.
// It owns its broker client.
type Publisher struct {
	client *broker.Client
	cfg    PublisherConfig
	log    *zerolog.Logger
}

// NewPublisher creates a publisher for one payload family.
func NewPublisher(client *broker.Client, cfg PublisherConfig) *Publisher {
	return &Publisher{client: client, cfg: cfg, log: logger.For("task-publisher")}
}

// Created publishes t. Errors are returned so the enclosing create fails.
func (p *Publisher) Created(ctx context.Context, t tasks.Task) error {
	return p.Publish(ctx, t)
}

// Publish serializes t and sends it on its subject.
func (p *Publisher) Publish(ctx context.Context, t tasks.Task) error {
	if t.Payload == nil || !p.cfg.Family.Accepts(t.Payload) {
		return fmt.Errorf("%w: %T for family %s", ErrUnroutable, t.Payload, p.cfg.Family)
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}

	subject := Subject(p.cfg.SubjectPrefix, t)
	if _, err := p.client.Publish(ctx, p.cfg.Stream, subject, data); err != nil {
		return err
	}
	p.log.Debug().Str("task_id", t.ID).Str("subject", subject).Msg("Task published")
	return nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// Router is a service.Listener that hands each created task to the publisher
// of its family.
type Router struct {
	publishers []*Publisher
}

// NewRouter routes to pubs; the first publisher accepting a payload wins.
func NewRouter(pubs ...*Publisher) *Router {
	return &Router{publishers: pubs}
}

func (r *Router) Created(ctx context.Context, t tasks.Task) error {
	return r.Publish(ctx, t)
}

// Publish sends t through the publisher of its family.
func (r *Router) Publish(ctx context.Context, t tasks.Task) error {
	for _, p := range r.publishers {
		if t.Payload != nil && p.cfg.Family.Accepts(t.Payload) {
			return p.Publish(ctx, t)
		}
	}
	return fmt.Errorf("%w: %T", ErrUnroutable, t.Payload)
}

// Close closes every publisher.
func (r *Router) Close() error {
	var errs []error
	for _, p := range r.publishers {
		errs = append(errs, p.Close())
	}
	return errors.Join(errs...)
}
