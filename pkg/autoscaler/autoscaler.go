// Package autoscaler evaluates every pool on a fixed cadence and proposes a
// scaling action; it never scales a pool itself, matching SPEC_FULL.md
// S4.3's "the scaler only proposes; the Pool Manager executes."
package autoscaler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/fleetforge/pkg/log"
	"github.com/cuemby/fleetforge/pkg/metrics"
	"github.com/cuemby/fleetforge/pkg/queue"
	"github.com/cuemby/fleetforge/pkg/types"
)

// Action is the proposed scaling action for a pool.
type Action string

const (
	ActionScaleUp          Action = "scale_up"
	ActionScaleDown        Action = "scale_down"
	ActionMaintain         Action = "maintain"
	ActionInsufficientData Action = "insufficient_data"
)

// confidenceThreshold is the minimum confidence an evaluation must reach
// before ScaleDown is proposed instead of Maintain.
const confidenceThreshold = 0.8

// PoolSnapshot is the per-pool input an evaluation is computed from.
type PoolSnapshot struct {
	PoolID      string
	Policy      types.ScalingPolicy
	CurrentSize int
	ReadyCount  int
	BusyCount   int
}

// Evaluation is the outcome of evaluating a single pool.
type Evaluation struct {
	PoolID         string
	CurrentSize    int
	Recommended    int
	Action         Action
	Reason         string
	Confidence     float64
	QueueDepth     int
	Utilization    float64
}

// DefaultInterval is the evaluation cadence (SPEC_FULL.md S4.3 default).
const DefaultInterval = 30 * time.Second

// PoolSource supplies the current snapshot of every pool under management.
type PoolSource interface {
	Snapshots() []PoolSnapshot
}

// Scaler is called with each pool's evaluation; the autoscaler itself never
// mutates pool state.
type Scaler func(ctx context.Context, eval Evaluation)

// AutoScaler periodically evaluates pools and reports recommendations.
type AutoScaler struct {
	pools    PoolSource
	q        *queue.Queue
	interval time.Duration
	onEval   Scaler
	logger   zerolog.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped bool
}

// Config configures an AutoScaler.
type Config struct {
	Pools    PoolSource
	Queue    *queue.Queue
	Interval time.Duration // 0 means DefaultInterval
	OnEval   Scaler
}

// New constructs an AutoScaler.
func New(cfg Config) *AutoScaler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &AutoScaler{
		pools:    cfg.Pools,
		q:        cfg.Queue,
		interval: cfg.Interval,
		onEval:   cfg.OnEval,
		logger:   log.WithComponent("autoscaler"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the evaluation loop in its own goroutine.
func (a *AutoScaler) Start(ctx context.Context) {
	go a.run(ctx)
}

// Stop halts the evaluation loop. Safe to call more than once.
func (a *AutoScaler) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.stopped {
		a.stopped = true
		close(a.stopCh)
	}
}

func (a *AutoScaler) run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info().Dur("interval", a.interval).Msg("autoscaler started")

	for {
		select {
		case <-ticker.C:
			a.evaluateAll(ctx)
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		}
	}
}

func (a *AutoScaler) evaluateAll(ctx context.Context) {
	qstats := queue.Stats{}
	if a.q != nil {
		qstats = a.q.Stats()
	}

	for _, snap := range a.pools.Snapshots() {
		eval := Evaluate(snap, qstats)
		metrics.AutoscalerEvaluationsTotal.WithLabelValues(string(eval.Action)).Inc()
		a.logger.Debug().
			Str("pool_id", eval.PoolID).
			Str("action", string(eval.Action)).
			Float64("confidence", eval.Confidence).
			Msg("pool evaluated")
		if a.onEval != nil {
			a.onEval(ctx, eval)
		}
	}
}

// Evaluate computes the recommended action for a single pool, given its
// current snapshot and the queue's current stats (SPEC_FULL.md S4.3).
func Evaluate(snap PoolSnapshot, qstats queue.Stats) Evaluation {
	eval := Evaluation{
		PoolID:      snap.PoolID,
		CurrentSize: snap.CurrentSize,
		Recommended: snap.CurrentSize,
		QueueDepth:  qstats.Total,
	}

	if snap.CurrentSize == 0 {
		if qstats.Total == 0 {
			eval.Action = ActionMaintain
			eval.Reason = "pool empty and queue empty"
			return eval
		}
		eval.Action = ActionScaleUp
		eval.Recommended = minInt(1, snap.Policy.Max)
		eval.Reason = "pool has no workers but jobs are queued"
		eval.Confidence = 1.0
		return eval
	}

	eval.Utilization = float64(snap.BusyCount) / float64(snap.CurrentSize)

	switch {
	case qstats.Total > 0 && eval.Utilization >= snap.Policy.UpThreshold && snap.CurrentSize < snap.Policy.Max:
		eval.Action = ActionScaleUp
		eval.Recommended = minInt(snap.CurrentSize+1, snap.Policy.Max)
		eval.Reason = "utilization above up-threshold with jobs queued"
		eval.Confidence = minFloat(1.0, eval.Utilization)

	case eval.Utilization <= snap.Policy.DownThreshold && snap.CurrentSize > snap.Policy.Min:
		eval.Confidence = scaleDownConfidence(qstats, eval.Utilization, snap.Policy.DownThreshold)
		if eval.Confidence >= confidenceThreshold {
			eval.Action = ActionScaleDown
			eval.Recommended = maxInt(snap.CurrentSize-1, snap.Policy.Min)
			eval.Reason = "utilization below down-threshold and queue sustained empty"
		} else {
			eval.Action = ActionMaintain
			eval.Reason = "utilization below down-threshold but confidence insufficient"
		}

	default:
		if snap.Policy.Max == 0 && snap.Policy.Min == 0 {
			eval.Action = ActionInsufficientData
			eval.Reason = "pool has no scaling policy configured"
		} else {
			eval.Action = ActionMaintain
			eval.Reason = "within thresholds"
		}
	}

	return eval
}

// scaleDownConfidence derives confidence from queue emptiness and how far
// utilization sits below the down-threshold: an empty queue and a wide
// utilization margin both raise confidence toward 1.0.
func scaleDownConfidence(qstats queue.Stats, utilization, downThreshold float64) float64 {
	confidence := 0.5
	if qstats.Total == 0 {
		confidence += 0.3
	}
	if downThreshold > 0 {
		margin := (downThreshold - utilization) / downThreshold
		if margin > 0 {
			confidence += 0.2 * minFloat(1.0, margin)
		}
	}
	return minFloat(1.0, confidence)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
