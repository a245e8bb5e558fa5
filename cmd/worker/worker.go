package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/guido-cesarano/stepq/pkg/broker"
	"github.com/guido-cesarano/stepq/pkg/cdc"
	"github.com/guido-cesarano/stepq/pkg/config"
	"github.com/guido-cesarano/stepq/pkg/executor"
	"github.com/guido-cesarano/stepq/pkg/logger"
	"github.com/guido-cesarano/stepq/pkg/loopback"
	"github.com/guido-cesarano/stepq/pkg/metrics"
	"github.com/guido-cesarano/stepq/pkg/process"
	"github.com/guido-cesarano/stepq/pkg/producer"
	"github.com/guido-cesarano/stepq/pkg/service"
	"github.com/guido-cesarano/stepq/pkg/steps"
	"github.com/guido-cesarano/stepq/pkg/store"
	"github.com/guido-cesarano/stepq/pkg/taskbus"
	"github.com/guido-cesarano/stepq/pkg/tasks"
)

// Broker topology of the negotiation path and of process changes. Transfers
// use the configured subscriber and publisher settings.
const (
	negotiationConsumer = "cn-subscriber"
	changeStream        = "process-changes"
	changePrefix        = "changes"
	changeConsumer      = "change-subscriber"
)

// worker wires one deployment: exactly one production path per mode.
type worker struct {
	cfg       config.Config
	svc       *service.Service
	processes *process.CaptureStore
	machine   process.StateMachine
	dispatch  executor.Dispatcher
	collector *metrics.Collector

	poller      *executor.PollExecutor
	router      *taskbus.Router
	subscribers []*broker.Subscriber
	changes     *cdc.Publisher
	queue       *loopback.Queue
	monitor     *broker.Client
}

func newWorker(cfg config.Config, backend *store.Backend, demo demoOptions) *worker {
	svc := service.New(backend.Tasks, backend.Tx)
	processes := process.NewCaptureStore(process.NewMemoryStore())

	negotiations := &process.NegotiationObservable{}
	negotiations.Register(producer.NewNegotiationProducer(svc, time.Now))
	transfers := &process.TransferObservable{}
	transfers.Register(producer.NewTransferProducer(svc, time.Now))
	processes.AddListener(observerBridge{negotiations: negotiations, transfers: transfers})

	negotiationSteps := steps.New(tasks.GroupNegotiation, processes, svc.Transaction())
	transferSteps := steps.New(tasks.GroupTransfer, processes, svc.Transaction())
	registerDemoSteps(negotiationSteps, tasks.GroupNegotiation, processes, demo)
	registerDemoSteps(transferSteps, tasks.GroupTransfer, processes, demo)

	w := &worker{
		cfg:       cfg,
		svc:       svc,
		processes: processes,
		machine:   demoMachine{},
		dispatch:  executor.Dispatcher{Negotiation: negotiationSteps, Transfer: transferSteps},
	}

	switch cfg.Mode {
	case config.ModeBroker:
		w.wireBroker(negotiationSteps, transferSteps)
	case config.ModeLoopback:
		w.wirePoller()
		w.queue = loopback.New(w.machine, loopback.Config{Capacity: cfg.Loopback.Capacity, Delay: cfg.Loopback.Delay})
		processes.AddListener(w.queue)
	default:
		w.wirePoller()
	}

	var depths metrics.DepthSource
	if w.monitor != nil {
		depths = w.monitor
	}
	w.collector = metrics.NewCollector(backend.Tasks, depths)
	return w
}

func (w *worker) wirePoller() {
	w.poller = executor.NewPollExecutor(w.svc, w.dispatch, executor.Config{
		MaxRetries:      w.cfg.Poll.MaxRetries,
		Interval:        w.cfg.Poll.Interval,
		ShutdownTimeout: w.cfg.Poll.ShutdownTimeout,
	})
}

func (w *worker) wireBroker(negotiationSteps, transferSteps tasks.Handler) {
	addr := w.cfg.RedisAddr
	w.router = taskbus.NewRouter(
		taskbus.NewPublisher(broker.NewClient(addr), taskbus.PublisherConfig{
			Stream:        w.cfg.Publisher.Stream,
			SubjectPrefix: taskbus.NegotiationPrefix,
			Family:        taskbus.FamilyNegotiation,
		}),
		taskbus.NewPublisher(broker.NewClient(addr), taskbus.PublisherConfig{
			Stream:        w.cfg.Publisher.Stream,
			SubjectPrefix: w.cfg.Publisher.SubjectPrefix,
			Family:        taskbus.FamilyTransfer,
		}),
	)
	w.svc.AddListener(w.router)

	sub := w.cfg.Subscriber
	transferCfg := broker.SubscriberConfig{
		Name:            sub.Name,
		Stream:          sub.Stream,
		Subject:         sub.Subject,
		BatchSize:       sub.BatchSize,
		MaxWait:         sub.MaxWait,
		AutoCreate:      sub.AutoCreate,
		NakDelay:        sub.NakDelay,
		MaxDeliver:      int64(sub.MaxDeliver),
		ShutdownTimeout: sub.ShutdownTimeout,
	}
	negotiationCfg := transferCfg
	negotiationCfg.Name = negotiationConsumer
	negotiationCfg.Subject = taskbus.NegotiationPrefix + ".>"
	changeCfg := transferCfg
	changeCfg.Name = changeConsumer
	changeCfg.Stream = changeStream
	changeCfg.Subject = changePrefix + ".>"

	w.subscribers = []*broker.Subscriber{
		broker.NewSubscriber(broker.NewClient(addr),
			taskbus.NewHandler(w.svc, transferSteps, taskbus.FamilyTransfer, sub.MaxRetries, w.router), transferCfg),
		broker.NewSubscriber(broker.NewClient(addr),
			taskbus.NewHandler(w.svc, negotiationSteps, taskbus.FamilyNegotiation, sub.MaxRetries, w.router), negotiationCfg),
		broker.NewSubscriber(broker.NewClient(addr), cdc.NewHandler(w.machine), changeCfg),
	}

	w.changes = cdc.NewPublisher(broker.NewClient(addr), cdc.PublisherConfig{Stream: changeStream, SubjectPrefix: changePrefix})
	w.processes.AddListener(w.changes)

	w.monitor = broker.NewClient(addr)
	w.monitor.Watch(
		w.cfg.Publisher.Stream, w.cfg.Publisher.Stream+broker.DeadSuffix,
		sub.Stream, sub.Stream+broker.DeadSuffix,
		changeStream, changeStream+broker.DeadSuffix,
	)
}

// Start brings up the consumers before the producers of work.
func (w *worker) Start(ctx context.Context) error {
	if w.queue != nil {
		if err := w.queue.Start(ctx); err != nil {
			return err
		}
	}
	for _, s := range w.subscribers {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("start subscriber: %w", err)
		}
	}
	if w.changes != nil {
		w.changes.Start()
	}
	if w.poller != nil {
		if err := w.poller.Start(ctx); err != nil {
			return err
		}
	}
	return w.collector.Start(ctx, metrics.DefaultSchedule)
}

// Stop shuts components down in reverse order of Start.
func (w *worker) Stop() {
	w.collector.Stop()
	if w.poller != nil {
		w.poller.Stop()
	}
	if w.changes != nil {
		w.changes.Stop()
	}
	for _, s := range w.subscribers {
		s.Stop()
	}
	if w.queue != nil {
		w.queue.Stop()
	}
	if w.router != nil {
		w.router.Close()
	}
	if w.monitor != nil {
		w.monitor.Close()
	}
	logger.Log.Info().Msg("Worker stopped")
}

// Seed starts n consumer negotiations and n transfers per role and returns
// their ids.
func (w *worker) Seed(ctx context.Context, n int) ([]string, error) {
	var (
		ids  []string
		errs []error
	)
	for i := 0; i < n; i++ {
		for _, p := range []process.Process{
			{ID: uuid.NewString(), Kind: process.KindNegotiation, Type: process.Consumer, State: process.NegotiationInitial},
			{ID: uuid.NewString(), Kind: process.KindTransfer, Type: process.Consumer, State: process.TransferInitial},
			{ID: uuid.NewString(), Kind: process.KindTransfer, Type: process.Provider, State: process.TransferInitial},
		} {
			ids = append(ids, p.ID)
			errs = append(errs, w.processes.Save(ctx, p))
		}
	}
	logger.Log.Info().Int("processes", len(ids)).Msg("Demo processes started")
	return ids, errors.Join(errs...)
}

// observerBridge turns persisted changes into observable events, which the
// producers answer with tasks.
type observerBridge struct {
	negotiations *process.NegotiationObservable
	transfers    *process.TransferObservable
}

func (b observerBridge) OnChange(ctx context.Context, _ *process.Process, after process.Process) tasks.Result {
	var err error
	switch after.Kind {
	case process.KindNegotiation:
		err = process.NotifyNegotiation(ctx, b.negotiations, after)
	case process.KindTransfer:
		err = process.NotifyTransfer(ctx, b.transfers, after)
	default:
		return tasks.Fatal("unknown process kind %q", after.Kind)
	}
	if err != nil {
		return tasks.Transient("notify %s listeners: %v", after.Kind, err)
	}
	return tasks.Success()
}
