// Package coordinator implements the Orchestration Coordinator
// (SPEC_FULL.md S4.7): the single supervising context that owns the event
// bus and runs the queue processor, auto-scaling evaluator, and metrics
// collector loops, adapted from the teacher's cmd/warren/main.go wiring
// order and pkg/reconciler's ticker-loop skeleton.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/fleetforge/pkg/autoscaler"
	"github.com/cuemby/fleetforge/pkg/channelhub"
	"github.com/cuemby/fleetforge/pkg/clock"
	"github.com/cuemby/fleetforge/pkg/events"
	"github.com/cuemby/fleetforge/pkg/log"
	"github.com/cuemby/fleetforge/pkg/pool"
	"github.com/cuemby/fleetforge/pkg/queue"
)

// DefaultQueueInterval is the queue processor cadence (SPEC_FULL.md S4.7).
const DefaultQueueInterval = 1 * time.Second

// DefaultMetricsInterval is the metrics collector cadence.
const DefaultMetricsInterval = 60 * time.Second

// DefaultShutdownGrace bounds how long graceful shutdown waits for
// in-flight jobs to acknowledge Cancel before forcing session closure.
const DefaultShutdownGrace = 30 * time.Second

// Config configures a Coordinator.
type Config struct {
	Queue *queue.Queue
	Pools *pool.Manager
	Hub   *channelhub.Hub
	Bus   *events.Bus
	Clock clock.Clock

	QueueInterval   time.Duration
	ScalingInterval time.Duration // 0 means autoscaler.DefaultInterval
	MetricsInterval time.Duration
	ShutdownGrace   time.Duration
}

// SystemMetrics is the periodic snapshot published on the event bus.
type SystemMetrics struct {
	Timestamp   time.Time
	QueueDepth  int
	QueueOldest time.Duration
	Pools       int
	Workers     int
	ReadyCount  int
	BusyCount   int
}

// Coordinator runs the three background loops and owns graceful shutdown.
type Coordinator struct {
	cfg   Config
	log   zerolog.Logger
	scale *autoscaler.AutoScaler

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New constructs a Coordinator. Call Run to start its background loops.
func New(cfg Config) *Coordinator {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.QueueInterval <= 0 {
		cfg.QueueInterval = DefaultQueueInterval
	}
	if cfg.MetricsInterval <= 0 {
		cfg.MetricsInterval = DefaultMetricsInterval
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}

	c := &Coordinator{
		cfg:    cfg,
		log:    log.WithComponent("coordinator"),
		stopCh: make(chan struct{}),
	}

	c.scale = autoscaler.New(autoscaler.Config{
		Pools:    poolSource{pools: cfg.Pools},
		Queue:    cfg.Queue,
		Interval: cfg.ScalingInterval,
		OnEval:   c.applyScalingDecision,
	})

	return c
}

// Run starts every background loop. It returns immediately; loops run on
// their own goroutines until ctx is done or Shutdown is called.
func (c *Coordinator) Run(ctx context.Context) {
	c.scale.Start(ctx)

	c.wg.Add(2)
	go c.queueProcessorLoop(ctx)
	go c.metricsCollectorLoop(ctx)

	c.log.Info().Msg("coordinator started")
}

// applyScalingDecision executes the autoscaler's recommendation against the
// Pool Manager; the autoscaler itself never mutates pool state
// (SPEC_FULL.md S4.3).
func (c *Coordinator) applyScalingDecision(ctx context.Context, eval autoscaler.Evaluation) {
	switch eval.Action {
	case autoscaler.ActionScaleUp, autoscaler.ActionScaleDown:
		result := c.cfg.Pools.ScalePool(ctx, eval.PoolID, eval.Recommended, eval.Reason)
		c.log.Info().
			Str("pool_id", eval.PoolID).
			Str("action", string(eval.Action)).
			Int("target", eval.Recommended).
			Int("result_kind", int(result.Kind)).
			Msg("applied scaling decision")
	}
}

// queueProcessorLoop asks the channel hub to attempt dispatch for every
// idle Ready worker once per tick (SPEC_FULL.md S4.7: "query Pool Manager
// for available workers; if any, ask Queue for a matching job; hand to
// Channel Hub for dispatch"). The Channel Hub itself already dispatches
// reactively on each worker's own heartbeat; this loop catches jobs
// enqueued in the gap between two heartbeats.
func (c *Coordinator) queueProcessorLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := c.cfg.Clock.NewTicker(c.cfg.QueueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			if c.cfg.Hub != nil {
				c.cfg.Hub.DispatchSweep()
			}
			if swept := c.cfg.Queue.ExpireSweep(); len(swept) > 0 {
				c.log.Info().Int("count", len(swept)).Msg("expired jobs swept")
			}
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		}
	}
}

func (c *Coordinator) metricsCollectorLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := c.cfg.Clock.NewTicker(c.cfg.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			c.collectAndPublish()
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		}
	}
}

func (c *Coordinator) collectAndPublish() {
	qstats := c.cfg.Queue.Stats()
	overall := c.cfg.Pools.GetOverallMetrics()

	snapshot := SystemMetrics{
		Timestamp:   c.cfg.Clock.Now(),
		QueueDepth:  qstats.Total,
		QueueOldest: qstats.OldestWait,
		Pools:       len(c.cfg.Pools.ListPools()),
		Workers:     overall.ActualSize,
		ReadyCount:  overall.ReadyCount,
		BusyCount:   overall.BusyCount,
	}

	if c.cfg.Bus != nil {
		c.cfg.Bus.Publish(&events.Event{
			Type:      events.Type("metrics.snapshot"),
			Timestamp: snapshot.Timestamp,
			Message:   "periodic system metrics snapshot",
			Metadata: map[string]string{
				"queue_depth": itoa(snapshot.QueueDepth),
				"workers":     itoa(snapshot.Workers),
			},
		})
	}
}

// Shutdown stops every loop, sends Cancel to in-flight jobs, waits up to
// ShutdownGrace for acknowledgement, then forces session closure
// (SPEC_FULL.md S4.7 Graceful shutdown).
func (c *Coordinator) Shutdown() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.scale.Stop()
	c.wg.Wait()

	if c.cfg.Hub == nil {
		return
	}

	var wg sync.WaitGroup
	for _, d := range c.cfg.Hub.ActiveDispatches() {
		wg.Add(1)
		go func(d channelhub.ActiveDispatch) {
			defer wg.Done()
			if err := c.cfg.Hub.SendControlSignal(d.WorkerID, d.JobID, channelhub.SignalCancel); err != nil {
				c.log.Warn().Err(err).Str("worker_id", d.WorkerID).Str("job_id", d.JobID).Msg("cancel not acknowledged during shutdown")
			}
		}(d)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(c.cfg.ShutdownGrace):
		c.log.Warn().Msg("shutdown grace period elapsed, forcing session closure")
	}

	c.cfg.Hub.Close()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
