package queue

import (
	"testing"
	"time"

	"github.com/cuemby/fleetforge/pkg/clock"
	"github.com/cuemby/fleetforge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(id string, priority types.JobPriority, requirements map[string]string) *types.Job {
	return &types.Job{
		ID:           id,
		Name:         id,
		Priority:     priority,
		Requirements: requirements,
	}
}

func TestEnqueueRejectsDuplicateID(t *testing.T) {
	q := New(Config{}, clock.Real{})

	first := q.Enqueue(newJob("job-1", types.PriorityNormal, nil))
	require.Equal(t, EnqueueSuccess, first.Kind)

	second := q.Enqueue(newJob("job-1", types.PriorityNormal, nil))
	assert.Equal(t, EnqueueAlreadyQueued, second.Kind)
}

func TestEnqueueRejectsEmptyRequirementKey(t *testing.T) {
	q := New(Config{}, clock.Real{})

	result := q.Enqueue(newJob("job-1", types.PriorityNormal, map[string]string{"": "x"}))
	assert.Equal(t, EnqueueInvalid, result.Kind)
}

func TestEnqueueQueueFullLeavesQueueUnchanged(t *testing.T) {
	q := New(Config{MaxSize: 1}, clock.Real{})

	require.Equal(t, EnqueueSuccess, q.Enqueue(newJob("job-1", types.PriorityNormal, nil)).Kind)
	result := q.Enqueue(newJob("job-2", types.PriorityNormal, nil))
	assert.Equal(t, EnqueueQueueFull, result.Kind)
	assert.Equal(t, 1, q.Stats().Total)
}

func TestPeekNextForOrdersByPriorityThenFIFO(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	q := New(Config{}, fake)

	q.Enqueue(newJob("low", types.PriorityLow, nil))
	fake.Advance(time.Second)
	q.Enqueue(newJob("critical-1", types.PriorityCritical, nil))
	fake.Advance(time.Second)
	q.Enqueue(newJob("critical-2", types.PriorityCritical, nil))

	worker := &types.Worker{ID: "w1"}
	next := q.PeekNextFor([]*types.Worker{worker})
	require.NotNil(t, next)
	assert.Equal(t, "critical-1", next.Job.ID)
}

func TestPeekNextForRequiresCapabilityMatch(t *testing.T) {
	q := New(Config{}, clock.Real{})
	q.Enqueue(newJob("job-1", types.PriorityNormal, map[string]string{"os": "linux"}))

	unmatched := &types.Worker{ID: "w1", Capabilities: map[string]string{"os": "windows"}}
	assert.Nil(t, q.PeekNextFor([]*types.Worker{unmatched}))

	matched := &types.Worker{ID: "w2", Capabilities: map[string]string{"os": "linux"}}
	assert.NotNil(t, q.PeekNextFor([]*types.Worker{matched}))
}

func TestPeekNextForSkipsExpiredJobs(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	q := New(Config{}, fake)

	expired := newJob("expired", types.PriorityCritical, nil)
	expired.Deadline = time.Unix(500, 0)
	q.Enqueue(expired)

	fresh := newJob("fresh", types.PriorityLow, nil)
	q.Enqueue(fresh)

	worker := &types.Worker{ID: "w1"}
	next := q.PeekNextFor([]*types.Worker{worker})
	require.NotNil(t, next)
	assert.Equal(t, "fresh", next.Job.ID)
	assert.Equal(t, 1, q.Stats().ExpiredCount)
}

func TestDequeueIsIdempotent(t *testing.T) {
	q := New(Config{}, clock.Real{})
	q.Enqueue(newJob("job-1", types.PriorityNormal, nil))

	q.Dequeue("job-1")
	assert.Equal(t, 0, q.Stats().Total)

	q.Dequeue("job-1") // second call is a no-op, not an error
	assert.Equal(t, 0, q.Stats().Total)
}

func TestRequeueEnforcesMaxRetries(t *testing.T) {
	q := New(Config{}, clock.Real{})
	job := newJob("job-1", types.PriorityNormal, nil)
	job.MaxRetries = 1

	assert.True(t, q.Requeue(job, 0))
	assert.False(t, q.Requeue(job, 1))
}

func TestExpireSweepOnlyRunsWhenConfigured(t *testing.T) {
	fake := clock.NewFake(time.Unix(1000, 0))
	q := New(Config{FailOnExpiry: true}, fake)

	expired := newJob("expired", types.PriorityNormal, nil)
	expired.Deadline = time.Unix(500, 0)
	q.Enqueue(expired)

	swept := q.ExpireSweep()
	require.Len(t, swept, 1)
	assert.Equal(t, "expired", swept[0].Job.ID)
	assert.Equal(t, 0, q.Stats().Total)
}
