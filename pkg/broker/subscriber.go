package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guido-cesarano/stepq/pkg/logger"
	"github.com/guido-cesarano/stepq/pkg/metrics"
	"github.com/rs/zerolog"
)

// Subscriber defaults applied to zero SubscriberConfig fields.
const (
	DefaultBatchSize       = 100
	DefaultMaxWait         = 100 * time.Millisecond
	DefaultNakDelay        = time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

var (
	// ErrSubscriberRunning is returned by Start on a running subscriber.
	ErrSubscriberRunning = errors.New("subscriber already running")
	// ErrSubscriberClosed is returned by Start after Stop closed the connection.
	ErrSubscriberClosed = errors.New("subscriber closed")
)

// Disposition is the consumer's verdict on a message.
type Disposition int

const (
	// Ack: the message is done, including when a retry was scheduled in the store.
	Ack Disposition = iota
	// Nak: redeliver later without store mutation.
	Nak
	// Term: never redeliver.
	Term
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Nak:
		return "nak"
	case Term:
		return "term"
	default:
		return fmt.Sprintf("disposition(%d)", int(d))
	}
}

// MessageHandler decides what happens to a delivered message.
type MessageHandler interface {
	HandleMessage(ctx context.Context, m Message) Disposition
}

// MessageHandlerFunc adapts a function to the MessageHandler interface.
type MessageHandlerFunc func(ctx context.Context, m Message) Disposition

func (f MessageHandlerFunc) HandleMessage(ctx context.Context, m Message) Disposition {
	return f(ctx, m)
}

// SubscriberConfig describes a durable pull consumer.
type SubscriberConfig struct {
	// Name is the durable consumer group.
	Name string
	// Stream is the stream to consume.
	Stream string
	// Subject filters deliveries; non-matching messages are acked unseen.
	Subject string
	// BatchSize caps each fetch.
	BatchSize int
	// MaxWait bounds each fetch.
	MaxWait time.Duration
	// AutoCreate creates the stream and group on Start.
	AutoCreate bool
	// NakDelay is the minimum time before a nak'd message is redelivered.
	NakDelay time.Duration
	// MaxDeliver terminates messages delivered more often than this (0 = unlimited).
	MaxDeliver int64
	// ShutdownTimeout bounds each phase of Stop.
	ShutdownTimeout time.Duration
}

func (c SubscriberConfig) withDefaults() SubscriberConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	if c.NakDelay <= 0 {
		c.NakDelay = DefaultNakDelay
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return c
}

// Subscriber runs a single fetch-and-handle goroutine against a consumer
// group. It owns its Client and closes it on Stop, so a stopped Subscriber
// cannot be started again.
type Subscriber struct {
	client   *Client
	handler  MessageHandler
	cfg      SubscriberConfig
	consumer string
	log      *zerolog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
}

// NewSubscriber creates a stopped subscriber.
func NewSubscriber(client *Client, handler MessageHandler, cfg SubscriberConfig) *Subscriber {
	cfg = cfg.withDefaults()
	return &Subscriber{
		client:   client,
		handler:  handler,
		cfg:      cfg,
		consumer: cfg.Name + "-" + uuid.NewString(),
		log:      logger.For("subscriber"),
	}
}

// Start creates the topology if configured and launches the fetch loop.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSubscriberRunning
	}
	if s.closed {
		return ErrSubscriberClosed
	}
	if s.cfg.AutoCreate {
		if err := s.client.EnsureGroup(ctx, s.cfg.Stream, s.cfg.Name); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.cancel = cancel
	go s.loop(ctx, s.stop, s.done)

	s.log.Info().
		Str("group", s.cfg.Name).
		Str("stream", s.cfg.Stream).
		Str("subject", s.cfg.Subject).
		Msg("Subscriber started")
	return nil
}

// Stop halts fetching, waits for the current message to finish, then closes
// the connection. It never returns an error; timeouts are logged.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.closed = true
	stop, done, cancel := s.stop, s.done, s.cancel
	s.mu.Unlock()

	close(stop)
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownTimeout):
		cancel()
		select {
		case <-done:
			s.log.Warn().Dur("timeout", s.cfg.ShutdownTimeout).Msg("Subscriber forced to shut down")
		case <-time.After(s.cfg.ShutdownTimeout):
			s.log.Warn().Dur("timeout", s.cfg.ShutdownTimeout).Msg("Subscriber did not shut down in time")
		}
	}
	cancel()

	if err := s.client.Close(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to close broker connection")
	}
	s.log.Info().Str("group", s.cfg.Name).Msg("Subscriber stopped")
}

func (s *Subscriber) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	req := FetchRequest{
		Stream:       s.cfg.Stream,
		Group:        s.cfg.Name,
		Consumer:     s.consumer,
		Count:        int64(s.cfg.BatchSize),
		MaxWait:      s.cfg.MaxWait,
		ReclaimAfter: s.cfg.NakDelay,
	}

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := s.client.Fetch(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Error().Err(err).Str("stream", s.cfg.Stream).Msg("Fetch failed")
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.MaxWait):
			}
			continue
		}

		for _, m := range msgs {
			select {
			case <-stop:
				// Unhandled entries stay pending and are reclaimed later.
				return
			default:
			}
			s.Process(ctx, m)
		}
	}
}

// Process runs the handler for one message and settles it with the broker.
func (s *Subscriber) Process(ctx context.Context, m Message) Disposition {
	log := s.log.With().Str("subject", m.Subject).Str("message_id", m.ID).Logger()

	var d Disposition
	reason := ""
	switch {
	case !MatchSubject(s.cfg.Subject, m.Subject):
		// Not ours; the group still has to move past it.
		if err := s.client.Ack(ctx, s.cfg.Name, m); err != nil {
			log.Error().Err(err).Msg("Failed to ack filtered message")
		}
		return Ack
	case s.cfg.MaxDeliver > 0 && m.Deliveries > s.cfg.MaxDeliver:
		d = Term
		reason = fmt.Sprintf("delivered %d times", m.Deliveries)
		log.Error().Int64("deliveries", m.Deliveries).Msg("Message exceeded max deliveries")
	default:
		d = s.handle(ctx, m)
		reason = "terminated by handler"
	}

	var err error
	switch d {
	case Ack:
		err = s.client.Ack(ctx, s.cfg.Name, m)
	case Nak:
		err = s.client.Nak(ctx, s.cfg.Name, m)
	case Term:
		err = s.client.Term(ctx, s.cfg.Name, m, reason)
	}
	if err != nil {
		log.Error().Err(err).Str("disposition", d.String()).Msg("Failed to settle message")
	}

	metrics.BrokerMessages.WithLabelValues(SubjectPrefix(m.Subject), d.String()).Inc()
	return d
}

func (s *Subscriber) handle(ctx context.Context, m Message) (d Disposition) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("subject", m.Subject).Interface("panic", r).Msg("Message handler panicked")
			d = Nak
		}
	}()
	return s.handler.HandleMessage(ctx, m)
}
