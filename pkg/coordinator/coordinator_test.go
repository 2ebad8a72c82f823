package coordinator

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
	"github.com/cuemby/fleetforge/pkg/pool"
	fleetprovider "github.com/cuemby/fleetforge/pkg/provider"
	"github.com/cuemby/fleetforge/pkg/queue"
	"github.com/cuemby/fleetforge/pkg/storage"
	"github.com/cuemby/fleetforge/pkg/types"
)

// emptyProvider never creates workers; it is enough to let pool.Manager
// compute empty overall metrics in tests that don't exercise scaling.
type emptyProvider struct{}

func (emptyProvider) Name() string { return "empty" }
func (emptyProvider) CreateWorker(ctx context.Context, poolID string, tmpl types.WorkerTemplate) (*types.Worker, error) {
	return nil, nil
}
func (emptyProvider) DeleteWorker(ctx context.Context, workerID string) error { return nil }
func (emptyProvider) GetWorkerStatus(ctx context.Context, workerID string) (types.WorkerStatus, error) {
	return types.WorkerReady, nil
}
func (emptyProvider) ListWorkers(ctx context.Context, poolID string) ([]*types.Worker, error) {
	return nil, nil
}
func (emptyProvider) GetResourceAvailability(ctx context.Context) (*types.ResourceAvailability, error) {
	return &types.ResourceAvailability{AvailableNodes: 0}, nil
}
func (emptyProvider) WatchWorkerEvents(ctx context.Context) (<-chan fleetprovider.WorkerEvent, error) {
	return nil, nil
}
func (emptyProvider) ValidateTemplate(tmpl types.WorkerTemplate) error { return nil }
func (emptyProvider) GetInfo() fleetprovider.Info                     { return fleetprovider.Info{Name: "empty"} }
func (emptyProvider) HealthCheck(ctx context.Context) error           { return nil }

func newTestPoolManager(t *testing.T, bus *events.Bus) *pool.Manager {
	t.Helper()
	m, err := pool.New(pool.Config{
		Providers: map[string]fleetprovider.Provider{"empty": emptyProvider{}},
		Store:     storage.NewMemoryStore(),
		Bus:       bus,
	})
	require.NoError(t, err)
	return m
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

// TestQueueProcessorLoopDispatchesOnTick exercises the queue processor loop
// in isolation: no pool.Manager is wired in (Hub.Config.Pools left nil), so
// a registered session dispatches purely through the coordinator's ticked
// DispatchSweep call rather than through heartbeat-driven dispatch.
func TestQueueProcessorLoopDispatchesOnTick(t *testing.T) {
	bus := events.NewBus()
	bus.Start()
	t.Cleanup(bus.Stop)

	q := queue.New(queue.Config{}, clock.Real{})
	store := storage.NewMemoryStore()

	hub := channelhub.New(channelhub.Config{
		Queue:               q,
		Jobs:                store,
		Bus:                 bus,
		HeartbeatInterval:   200 * time.Millisecond,
		CacheResponseWindow: 200 * time.Millisecond,
	})
	t.Cleanup(hub.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	client := dialHub(t, hub)
	stream, err := client.Session(ctx)
	require.NoError(t, err)
	require.NoError(t, stream.Send(&proto.Envelope{
		Type:     proto.MessageRegister,
		Register: &proto.RegisterRequest{WorkerID: "worker-1"},
	}))

	// Give Session time to register before the job lands in the queue, so
	// the registering heartbeat does not race the dispatch tick.
	time.Sleep(20 * time.Millisecond)

	job := &types.Job{ID: "job-1", Name: "build", Command: []string{"make"}}
	require.NoError(t, store.CreateJob(job))
	require.Equal(t, queue.EnqueueSuccess, q.Enqueue(job).Kind)

	fc := clock.NewFake(time.Now())
	c := New(Config{Queue: q, Pools: newTestPoolManager(t, bus), Hub: hub, Bus: bus, Clock: fc, QueueInterval: time.Second, MetricsInterval: time.Minute})
	c.Run(ctx)
	t.Cleanup(c.Shutdown)

	fc.Advance(time.Second)

	env, err := stream.Recv()
	require.NoError(t, err)
	require.Equal(t, proto.MessageJobRequest, env.Type)
	require.Equal(t, "job-1", env.JobRequest.JobDefinition.ID)
}

func TestCollectAndPublishEmitsMetricsSnapshot(t *testing.T) {
	bus := events.NewBus()
	bus.Start()
	t.Cleanup(bus.Stop)
	sub := bus.Subscribe()

	q := queue.New(queue.Config{}, clock.Real{})
	require.Equal(t, queue.EnqueueSuccess, q.Enqueue(&types.Job{ID: "job-1"}).Kind)

	fc := clock.NewFake(time.Now())
	hub := channelhub.New(channelhub.Config{Queue: q, Jobs: storage.NewMemoryStore(), Bus: bus})
	t.Cleanup(hub.Close)

	c := New(Config{Queue: q, Pools: newTestPoolManager(t, bus), Hub: hub, Bus: bus, Clock: fc})
	c.collectAndPublish()

	select {
	case ev := <-sub:
		require.Equal(t, events.Type("metrics.snapshot"), ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a metrics snapshot event")
	}
}
