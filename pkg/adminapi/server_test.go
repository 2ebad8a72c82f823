package adminapi

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/cuemby/fleetforge/api/proto"
	"github.com/cuemby/fleetforge/pkg/clock"
	"github.com/cuemby/fleetforge/pkg/events"
	"github.com/cuemby/fleetforge/pkg/pool"
	fleetprovider "github.com/cuemby/fleetforge/pkg/provider"
	"github.com/cuemby/fleetforge/pkg/queue"
	"github.com/cuemby/fleetforge/pkg/storage"
	"github.com/cuemby/fleetforge/pkg/types"
)

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
	return &types.ResourceAvailability{}, nil
}
func (emptyProvider) WatchWorkerEvents(ctx context.Context) (<-chan fleetprovider.WorkerEvent, error) {
	return nil, nil
}
func (emptyProvider) ValidateTemplate(tmpl types.WorkerTemplate) error { return nil }
func (emptyProvider) GetInfo() fleetprovider.Info                     { return fleetprovider.Info{Name: "empty"} }
func (emptyProvider) HealthCheck(ctx context.Context) error           { return nil }

func dialAdmin(t *testing.T, srv *Server) proto.AdminAPIClient {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	s := grpc.NewServer()
	proto.RegisterAdminAPIServer(s, srv)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return proto.NewAdminAPIClient(conn)
}

func TestSubmitJobThenGetJobRoundTrips(t *testing.T) {
	q := queue.New(queue.Config{}, clock.Real{})
	store := storage.NewMemoryStore()
	bus := events.NewBus()
	bus.Start()
	t.Cleanup(bus.Stop)

	pools, err := pool.New(pool.Config{
		Providers: map[string]fleetprovider.Provider{"empty": emptyProvider{}},
		Store:     store,
		Bus:       bus,
	})
	require.NoError(t, err)

	client := dialAdmin(t, New(q, store, pools))

	submit, err := client.SubmitJob(context.Background(), &proto.SubmitJobRequest{
		ID:      "job-1",
		Name:    "echo",
		Command: []string{"echo", "hi"},
	})
	require.NoError(t, err)
	require.True(t, submit.Accepted)
	require.Equal(t, int32(1), submit.QueueSize)

	got, err := client.GetJob(context.Background(), &proto.GetJobRequest{ID: "job-1"})
	require.NoError(t, err)
	require.Equal(t, "job-1", got.Job.ID)
	require.Equal(t, string(types.JobQueued), got.Job.Status)
}

func TestSubmitJobRejectsDuplicate(t *testing.T) {
	q := queue.New(queue.Config{}, clock.Real{})
	store := storage.NewMemoryStore()
	bus := events.NewBus()
	bus.Start()
	t.Cleanup(bus.Stop)

	pools, err := pool.New(pool.Config{
		Providers: map[string]fleetprovider.Provider{"empty": emptyProvider{}},
		Store:     store,
		Bus:       bus,
	})
	require.NoError(t, err)

	client := dialAdmin(t, New(q, store, pools))

	req := &proto.SubmitJobRequest{ID: "job-2", Name: "echo", Command: []string{"echo"}}
	first, err := client.SubmitJob(context.Background(), req)
	require.NoError(t, err)
	require.True(t, first.Accepted)

	second, err := client.SubmitJob(context.Background(), req)
	require.NoError(t, err)
	require.False(t, second.Accepted, "duplicate job id should be rejected by the queue")
}

func TestListPoolsReportsDesiredAndReadyCounts(t *testing.T) {
	q := queue.New(queue.Config{}, clock.Real{})
	store := storage.NewMemoryStore()
	bus := events.NewBus()
	bus.Start()
	t.Cleanup(bus.Stop)

	pools, err := pool.New(pool.Config{
		Providers: map[string]fleetprovider.Provider{"empty": emptyProvider{}},
		Store:     store,
		Bus:       bus,
	})
	require.NoError(t, err)

	result := pools.CreatePool(context.Background(), types.Pool{
		ID:           "pool-1",
		Name:         "default",
		ProviderName: "empty",
		Status:       types.PoolActive,
		Policy:       types.ScalingPolicy{Min: 0, Max: 1},
	})
	require.Equal(t, pool.CreateSuccess, result.Kind)

	client := dialAdmin(t, New(q, store, pools))
	resp, err := client.ListPools(context.Background(), &proto.ListPoolsRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Pools, 1)
	require.Equal(t, "pool-1", resp.Pools[0].ID)
	require.Equal(t, int32(0), resp.Pools[0].DesiredSize)
	require.Equal(t, int32(0), resp.Pools[0].ReadyCount)
}
