package metrics

import (
	"context"
	"sync"

	"github.com/guido-cesarano/stepq/pkg/logger"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule refreshes the gauges every five seconds.
const DefaultSchedule = "@every 5s"

// BacklogSource reports how many tasks a store holds.
type BacklogSource interface {
	Backlog(ctx context.Context) (int64, error)
}

// DepthSource reports the length of each broker stream.
type DepthSource interface {
	StreamDepths(ctx context.Context) map[string]int64
}

// Collector periodically copies store and broker sizes into the gauges.
type Collector struct {
	backlog BacklogSource
	depths  DepthSource
	cron    *cron.Cron

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewCollector creates a collector. Either source may be nil.
func NewCollector(backlog BacklogSource, depths DepthSource) *Collector {
	return &Collector{
		backlog: backlog,
		depths:  depths,
		cron:    cron.New(),
	}
}

// Start schedules Collect on spec (DefaultSchedule if empty) until Stop.
func (c *Collector) Start(ctx context.Context, spec string) error {
	if spec == "" {
		spec = DefaultSchedule
	}
	ctx, cancel := context.WithCancel(ctx)
	if _, err := c.cron.AddFunc(spec, func() { c.Collect(ctx) }); err != nil {
		cancel()
		return err
	}
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	c.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running collection to return.
func (c *Collector) Stop() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	<-c.cron.Stop().Done()
}

// Collect refreshes the gauges once.
func (c *Collector) Collect(ctx context.Context) {
	if c.backlog != nil {
		n, err := c.backlog.Backlog(ctx)
		if err != nil {
			logger.Log.Warn().Err(err).Msg("Failed to read task backlog")
		} else {
			TaskBacklog.Set(float64(n))
		}
	}
	if c.depths != nil {
		for stream, depth := range c.depths.StreamDepths(ctx) {
			StreamDepth.WithLabelValues(stream).Set(float64(depth))
		}
	}
}
