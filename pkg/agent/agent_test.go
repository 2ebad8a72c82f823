package agent

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/cuemby/fleetforge/api/proto"
	"github.com/cuemby/fleetforge/pkg/channelhub"
	"github.com/cuemby/fleetforge/pkg/clock"
	"github.com/cuemby/fleetforge/pkg/events"
	"github.com/cuemby/fleetforge/pkg/queue"
	"github.com/cuemby/fleetforge/pkg/storage"
	"github.com/cuemby/fleetforge/pkg/types"
)

// fakeSessionStream is a minimal proto.ChannelHub_SessionClient that records
// every envelope the agent sends, for tests that want to drive
// handleArtifactChunk directly without a live hub on the other end.
type fakeSessionStream struct {
	grpc.ClientStream
	sent []*proto.Envelope
}

func (f *fakeSessionStream) Send(env *proto.Envelope) error {
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeSessionStream) Recv() (*proto.Envelope, error) {
	select {}
}

func dialHub(t *testing.T, h *channelhub.Hub) proto.ChannelHubClient {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	proto.RegisterChannelHubServer(srv, h)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return proto.NewChannelHubClient(conn)
}

func TestAgentRegistersAndDispatchedJobCompletes(t *testing.T) {
	q := queue.New(queue.Config{}, clock.Real{})
	store := storage.NewMemoryStore()
	bus := events.NewBus()
	bus.Start()
	t.Cleanup(bus.Stop)

	h := channelhub.New(channelhub.Config{
		Queue:               q,
		Jobs:                store,
		Bus:                 bus,
		HeartbeatInterval:   200 * time.Millisecond,
		CacheResponseWindow: 200 * time.Millisecond,
	})
	t.Cleanup(h.Close)

	job := &types.Job{ID: "job-1", Name: "echo", Command: []string{"echo", "hello"}}
	require.NoError(t, store.CreateJob(job))
	require.Equal(t, queue.EnqueueSuccess, q.Enqueue(job).Kind)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	client := dialHub(t, h)
	ag := New(Config{WorkerID: "worker-1", Client: client, HeartbeatInterval: 50 * time.Millisecond})
	t.Cleanup(ag.Stop)

	go func() { _ = ag.Run(ctx) }()

	// The hub dispatches reactively on the worker's first heartbeat once
	// the job is in queue; wait for completion via storage.
	require.Eventually(t, func() bool {
		got, err := store.GetJob("job-1")
		return err == nil && got.Status == types.JobCompleted
	}, 2*time.Second, 20*time.Millisecond)
}

func TestAgentArtifactChunkSequenceGapProducesProtocolViolationAck(t *testing.T) {
	stream := &fakeSessionStream{}
	ag := New(Config{WorkerID: "worker-3"})
	ag.stream = stream

	ag.handleArtifactChunk(&proto.ArtifactChunk{ArtifactID: "artifact-x", Sequence: 0, Data: []byte("a")})
	ag.handleArtifactChunk(&proto.ArtifactChunk{ArtifactID: "artifact-x", Sequence: 2, Data: []byte("c"), IsLast: true})

	require.Len(t, stream.sent, 1, "the gapped chunk must produce exactly one ack and stop buffering")
	ack := stream.sent[0].ArtifactAck
	require.NotNil(t, ack)
	require.True(t, ack.ProtocolViolation)
	require.False(t, ack.Success)
	require.Equal(t, "artifact-x", ack.ArtifactID)

	_, cached := ag.cfg.Cache.Has("artifact-x")
	require.False(t, cached, "a rejected transfer must never populate the worker cache")
}

func TestAgentArtifactTransferRoundTrip(t *testing.T) {
	q := queue.New(queue.Config{}, clock.Real{})
	store := storage.NewMemoryStore()
	artifacts := channelhub.NewMemoryArtifactStore()
	payload := []byte("some build context bytes to transfer to the worker")
	artifacts.Put("artifact-a", payload)

	bus := events.NewBus()
	bus.Start()
	t.Cleanup(bus.Stop)

	h := channelhub.New(channelhub.Config{
		Queue:               q,
		Jobs:                store,
		Bus:                 bus,
		Artifacts:           artifacts,
		HeartbeatInterval:   200 * time.Millisecond,
		CacheResponseWindow: 200 * time.Millisecond,
	})
	t.Cleanup(h.Close)

	job := &types.Job{
		ID:        "job-2",
		Name:      "build",
		Command:   []string{"true"},
		Artifacts: []types.ArtifactRef{{ArtifactID: "artifact-a", Name: "src"}},
	}
	require.NoError(t, store.CreateJob(job))
	require.Equal(t, queue.EnqueueSuccess, q.Enqueue(job).Kind)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	client := dialHub(t, h)
	cache := NewMemoryArtifactCache()
	ag := New(Config{WorkerID: "worker-2", Client: client, Cache: cache, HeartbeatInterval: 50 * time.Millisecond})
	t.Cleanup(ag.Stop)
	go func() { _ = ag.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, err := store.GetJob("job-2")
		return err == nil && got.Status == types.JobCompleted
	}, 2*time.Second, 20*time.Millisecond)

	_, ok := cache.Has("artifact-a")
	require.True(t, ok, "worker cache should hold the transferred artifact")
}
