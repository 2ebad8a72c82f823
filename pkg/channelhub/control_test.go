package channelhub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fleetforge/api/proto"
	"github.com/cuemby/fleetforge/pkg/clock"
	"github.com/cuemby/fleetforge/pkg/events"
	"github.com/cuemby/fleetforge/pkg/queue"
	"github.com/cuemby/fleetforge/pkg/storage"
	"github.com/cuemby/fleetforge/pkg/types"
)

// TestSendControlSignalCancelDuringStagingSuppressesDispatch covers
// SPEC_FULL.md S8 scenario 6: a Cancel that arrives while a job is still
// being staged (CacheQuery sent, no CacheResponse yet) must never reach the
// worker as a ControlSignal, must suppress the JobRequest, and must leave
// the worker Ready rather than Busy.
func TestSendControlSignalCancelDuringStagingSuppressesDispatch(t *testing.T) {
	q := queue.New(queue.Config{}, clock.Real{})
	store := storage.NewMemoryStore()
	artifacts := NewMemoryArtifactStore()
	artifacts.Put("artifact-a", []byte("payload"))

	bus := events.NewBus()
	bus.Start()
	t.Cleanup(bus.Stop)

	h := New(Config{
		Queue:               q,
		Jobs:                store,
		Bus:                 bus,
		Artifacts:           artifacts,
		HeartbeatInterval:   500 * time.Millisecond,
		CacheResponseWindow: time.Second,
		ControlAckTimeout:   300 * time.Millisecond,
	})
	t.Cleanup(h.Close)

	job := &types.Job{ID: "job-5", Name: "build", Artifacts: []types.ArtifactRef{{ArtifactID: "artifact-a"}}}
	require.NoError(t, store.CreateJob(job))
	res := q.Enqueue(job)
	require.Equal(t, queue.EnqueueSuccess, res.Kind)

	stream := registerSession(t, h, "worker-5")
	require.NoError(t, stream.Send(&proto.Envelope{
		Type:      proto.MessageHeartbeat,
		Heartbeat: &proto.Heartbeat{WorkerID: "worker-5", Status: "ready", ActiveJobs: 0},
	}))

	env, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, proto.MessageCacheQuery, env.Type)

	require.Eventually(t, func() bool {
		sess, ok := h.getSession("worker-5")
		return ok && sess.getState() == stateStaging
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.SendControlSignal("worker-5", "job-5", SignalCancel))

	updated, err := store.GetJob("job-5")
	require.NoError(t, err)
	assert.Equal(t, types.JobCancelled, updated.Status)

	sess, ok := h.getSession("worker-5")
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return sess.getState() == stateReady
	}, time.Second, 5*time.Millisecond)

	// No CacheResponse was ever sent, so if staging had kept running it
	// would only now be timing out (CacheResponseWindow is 1s); the cancel
	// must have short-circuited it well before that, and no ArtifactChunk
	// or JobRequest should ever arrive on this stream.
	_ = stream.CloseSend()
}

func registerSession(t *testing.T, h *Hub, workerID string) proto.ChannelHub_SessionClient {
	t.Helper()
	client := dialHub(t, h)
	stream, err := client.Session(context.Background())
	require.NoError(t, err)
	require.NoError(t, stream.Send(&proto.Envelope{
		Type:     proto.MessageRegister,
		Register: &proto.RegisterRequest{WorkerID: workerID},
	}))
	require.Eventually(t, func() bool {
		_, ok := h.getSession(workerID)
		return ok
	}, time.Second, 5*time.Millisecond)
	return stream
}

func TestSendControlSignalCancelAcknowledged(t *testing.T) {
	store := storage.NewMemoryStore()
	job := &types.Job{ID: "job-3", Status: types.JobRunning}
	require.NoError(t, store.CreateJob(job))

	bus := events.NewBus()
	bus.Start()
	t.Cleanup(bus.Stop)

	h := New(Config{
		Jobs:                store,
		Bus:                 bus,
		Queue:               queue.New(queue.Config{}, clock.Real{}),
		HeartbeatInterval:   500 * time.Millisecond,
		ControlAckTimeout:   300 * time.Millisecond,
		CacheResponseWindow: 300 * time.Millisecond,
	})
	t.Cleanup(h.Close)

	stream := registerSession(t, h, "worker-3")

	done := make(chan error, 1)
	go func() { done <- h.SendControlSignal("worker-3", "job-3", SignalCancel) }()

	env, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, proto.MessageControlSignal, env.Type)
	require.Equal(t, SignalCancel, env.ControlSignal.Signal)

	require.NoError(t, stream.Send(&proto.Envelope{
		Type:       proto.MessageControlAck,
		ControlAck: &proto.ControlAck{JobID: "job-3", Signal: SignalCancel, Acknowledged: true},
	}))

	require.NoError(t, <-done)

	updated, err := store.GetJob("job-3")
	require.NoError(t, err)
	assert.Equal(t, types.JobCancelled, updated.Status)
}

func TestSendControlSignalTimeoutForcesFailed(t *testing.T) {
	store := storage.NewMemoryStore()
	bus := events.NewBus()
	bus.Start()
	t.Cleanup(bus.Stop)

	h := New(Config{
		Jobs:                store,
		Bus:                 bus,
		HeartbeatInterval:   500 * time.Millisecond,
		ControlAckTimeout:   30 * time.Millisecond,
		CacheResponseWindow: 300 * time.Millisecond,
	})
	t.Cleanup(h.Close)

	_ = registerSession(t, h, "worker-4")

	err := h.SendControlSignal("worker-4", "job-4", SignalCancel)
	assert.Error(t, err)

	require.Eventually(t, func() bool {
		_, ok := h.getSession("worker-4")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestSendControlSignalUnknownWorker(t *testing.T) {
	h := New(Config{})
	t.Cleanup(h.Close)

	err := h.SendControlSignal("no-such-worker", "job-x", SignalPause)
	assert.Error(t, err)
}
