package cdc

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/guido-cesarano/stepq/pkg/broker"
	"github.com/guido-cesarano/stepq/pkg/logger"
	"github.com/guido-cesarano/stepq/pkg/process"
	"github.com/guido-cesarano/stepq/pkg/tasks"
	"github.com/rs/zerolog"
)

// PublisherConfig describes where changes are sent.
type PublisherConfig struct {
	Stream        string
	SubjectPrefix string
}

// Publisher is a process.ChangeListener that publishes every change it sees.
// It owns its broker client.
type Publisher struct {
	client *broker.Client
	cfg    PublisherConfig
	now    func() time.Time
	log    *zerolog.Logger
	active atomic.Bool
}

// NewPublisher creates a stopped publisher.
func NewPublisher(client *broker.Client, cfg PublisherConfig) *Publisher {
	return &Publisher{client: client, cfg: cfg, now: time.Now, log: logger.For("change-publisher")}
}

// Start enables publishing.
func (p *Publisher) Start() {
	p.active.Store(true)
	p.log.Info().Str("stream", p.cfg.Stream).Str("prefix", p.cfg.SubjectPrefix).Msg("Change publisher started")
}

// Stop disables publishing and closes the broker connection.
func (p *Publisher) Stop() error {
	if !p.active.Swap(false) {
		return nil
	}
	p.log.Info().Msg("Change publisher stopped")
	return p.client.Close()
}

// OnChange publishes the new state of the process. Any failure is fatal: the
// change is already persisted and cannot be replayed from here.
func (p *Publisher) OnChange(ctx context.Context, _ *process.Process, after process.Process) tasks.Result {
	if !p.active.Load() {
		p.log.Warn().Str("process_id", after.ID).Msg("Change publisher is not active, skipping change")
		return tasks.Fatal("change publisher is not active")
	}

	c := Change{ProcessID: after.ID, State: after.State, Type: after.Type, Timestamp: p.now().UnixMilli()}
	data, err := json.Marshal(c)
	if err != nil {
		return tasks.Fatal("encode change: %v", err)
	}
	subject := Subject(p.cfg.SubjectPrefix, c)
	if _, err := p.client.Publish(ctx, p.cfg.Stream, subject, data); err != nil {
		p.log.Error().Err(err).Str("process_id", after.ID).Str("subject", subject).Msg("Failed to publish change")
		return tasks.Fatal("publish change: %v", err)
	}
	p.log.Debug().Str("process_id", after.ID).Str("subject", subject).Msg("Change published")
	return tasks.Success()
}
