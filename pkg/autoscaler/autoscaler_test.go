package autoscaler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/fleetforge/pkg/queue"
	"github.com/cuemby/fleetforge/pkg/types"
)

func policy(min, max int, up, down float64) types.ScalingPolicy {
	return types.ScalingPolicy{Min: min, Max: max, UpThreshold: up, DownThreshold: down}
}

func TestEvaluateScalesUpFromZeroWhenJobsQueued(t *testing.T) {
	snap := PoolSnapshot{PoolID: "p1", Policy: policy(0, 5, 0.8, 0.2), CurrentSize: 0}
	eval := Evaluate(snap, queue.Stats{Total: 3})
	assert.Equal(t, ActionScaleUp, eval.Action)
	assert.Equal(t, 1, eval.Recommended)
}

func TestEvaluateMaintainsWhenEmptyAndNoQueue(t *testing.T) {
	snap := PoolSnapshot{PoolID: "p1", Policy: policy(0, 5, 0.8, 0.2), CurrentSize: 0}
	eval := Evaluate(snap, queue.Stats{Total: 0})
	assert.Equal(t, ActionMaintain, eval.Action)
}

func TestEvaluateScalesUpWhenUtilizationHigh(t *testing.T) {
	snap := PoolSnapshot{PoolID: "p1", Policy: policy(1, 5, 0.8, 0.2), CurrentSize: 2, BusyCount: 2}
	eval := Evaluate(snap, queue.Stats{Total: 1})
	assert.Equal(t, ActionScaleUp, eval.Action)
	assert.Equal(t, 3, eval.Recommended)
}

func TestEvaluateWontScaleUpPastMax(t *testing.T) {
	snap := PoolSnapshot{PoolID: "p1", Policy: policy(1, 2, 0.8, 0.2), CurrentSize: 2, BusyCount: 2}
	eval := Evaluate(snap, queue.Stats{Total: 1})
	assert.NotEqual(t, ActionScaleUp, eval.Action)
}

func TestEvaluateScaleDownRequiresConfidence(t *testing.T) {
	snap := PoolSnapshot{PoolID: "p1", Policy: policy(1, 5, 0.8, 0.5), CurrentSize: 4, BusyCount: 1}
	eval := Evaluate(snap, queue.Stats{Total: 0})
	assert.Equal(t, ActionScaleDown, eval.Action)
	assert.GreaterOrEqual(t, eval.Confidence, 0.8)
}

func TestEvaluateScaleDownRespectsMin(t *testing.T) {
	snap := PoolSnapshot{PoolID: "p1", Policy: policy(4, 5, 0.8, 0.9), CurrentSize: 4, BusyCount: 0}
	eval := Evaluate(snap, queue.Stats{Total: 0})
	assert.NotEqual(t, ActionScaleDown, eval.Action)
}

func TestEvaluateLowConfidenceMaintainsInsteadOfScalingDown(t *testing.T) {
	snap := PoolSnapshot{PoolID: "p1", Policy: policy(1, 5, 0.8, 0.5), CurrentSize: 4, BusyCount: 2}
	eval := Evaluate(snap, queue.Stats{Total: 5})
	assert.Equal(t, ActionMaintain, eval.Action)
}
