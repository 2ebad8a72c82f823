// Package integration exercises channelhub + queue + pool + coordinator +
// agent together over a real in-memory gRPC connection, mirroring spec.md
// §8's concrete end-to-end scenarios. Scenarios 1 (cache miss then hit) and
// 5 (protocol violation) are already covered at the unit level by
// pkg/channelhub's own _test.go files exercising the same Session RPC; this
// package covers the scenarios that only show up once the Coordinator,
// Pool Manager, and Channel Hub run together.
package integration

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/cuemby/fleetforge/api/proto"
	"github.com/cuemby/fleetforge/pkg/agent"
	"github.com/cuemby/fleetforge/pkg/channelhub"
	"github.com/cuemby/fleetforge/pkg/clock"
	"github.com/cuemby/fleetforge/pkg/coordinator"
	"github.com/cuemby/fleetforge/pkg/events"
	fleetprovider "github.com/cuemby/fleetforge/pkg/provider"
	"github.com/cuemby/fleetforge/pkg/pool"
	"github.com/cuemby/fleetforge/pkg/queue"
	"github.com/cuemby/fleetforge/pkg/storage"
	"github.com/cuemby/fleetforge/pkg/types"
)

// unlimitedProvider is an in-memory provider.Provider with no capacity
// ceiling, enough to drive auto-scaling decisions without a real cluster.
type unlimitedProvider struct {
	mu      sync.Mutex
	workers map[string]*types.Worker
	seq     int
}

func newUnlimitedProvider() *unlimitedProvider {
	return &unlimitedProvider{workers: make(map[string]*types.Worker)}
}

func (p *unlimitedProvider) Name() string { return "unlimited" }

func (p *unlimitedProvider) CreateWorker(ctx context.Context, poolID string, tmpl types.WorkerTemplate) (*types.Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	w := &types.Worker{ID: fmt.Sprintf("w-%d", p.seq), PoolID: poolID, Status: types.WorkerReady}
	p.workers[w.ID] = w
	return w, nil
}

func (p *unlimitedProvider) DeleteWorker(ctx context.Context, workerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.workers, workerID)
	return nil
}

func (p *unlimitedProvider) GetWorkerStatus(ctx context.Context, workerID string) (types.WorkerStatus, error) {
	return types.WorkerReady, nil
}

func (p *unlimitedProvider) ListWorkers(ctx context.Context, poolID string) ([]*types.Worker, error) {
	return nil, nil
}

func (p *unlimitedProvider) GetResourceAvailability(ctx context.Context) (*types.ResourceAvailability, error) {
	return &types.ResourceAvailability{AvailableNodes: 1000}, nil
}

func (p *unlimitedProvider) WatchWorkerEvents(ctx context.Context) (<-chan fleetprovider.WorkerEvent, error) {
	return nil, nil
}

func (p *unlimitedProvider) ValidateTemplate(tmpl types.WorkerTemplate) error {
	return fleetprovider.ValidateTemplate(tmpl)
}

func (p *unlimitedProvider) GetInfo() fleetprovider.Info { return fleetprovider.Info{Name: "unlimited"} }

func (p *unlimitedProvider) HealthCheck(ctx context.Context) error { return nil }

// TestPoolScalesUpUnderQueuePressure is spec.md §8 scenario 2: a pool at
// current=1 with ten jobs queued against its template should be scaled up
// to its max by the Coordinator's auto-scaler loop, emitting a PoolScaled
// event.
func TestPoolScalesUpUnderQueuePressure(t *testing.T) {
	bus := events.NewBus()
	bus.Start()
	t.Cleanup(bus.Stop)
	sub := bus.Subscribe()
	t.Cleanup(func() { bus.Unsubscribe(sub) })

	prov := newUnlimitedProvider()
	pools, err := pool.New(pool.Config{
		Providers: map[string]fleetprovider.Provider{"unlimited": prov},
		Store:     storage.NewMemoryStore(),
		Bus:       bus,
	})
	require.NoError(t, err)

	tmpl := types.WorkerTemplate{Image: "example/worker:latest", ResourcesRaw: types.RawResources{CPU: "250m", Memory: "128Mi"}}
	created := pools.CreatePool(context.Background(), types.Pool{
		Name:         "build-pool",
		ProviderName: "unlimited",
		Template:     tmpl,
		Policy:       types.ScalingPolicy{Min: 1, Max: 5, UpThreshold: 0.5, DownThreshold: 0.1},
	})
	require.Equal(t, pool.CreateSuccess, created.Kind)
	require.Equal(t, 1, created.Pool.DesiredSize)

	q := queue.New(queue.Config{}, clock.Real{})
	store := storage.NewMemoryStore()
	for i := 0; i < 10; i++ {
		job := &types.Job{ID: fmt.Sprintf("job-%d", i), Name: "build", Command: []string{"make"}}
		require.NoError(t, store.CreateJob(job))
		require.Equal(t, queue.EnqueueSuccess, q.Enqueue(job).Kind)
	}

	coord := coordinator.New(coordinator.Config{
		Queue:           q,
		Pools:           pools,
		Bus:             bus,
		QueueInterval:   20 * time.Millisecond,
		ScalingInterval: 20 * time.Millisecond,
		MetricsInterval: time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	coord.Run(ctx)
	t.Cleanup(coord.Shutdown)

	require.Eventually(t, func() bool {
		workers, err := pools.ListWorkers(created.Pool.ID)
		return err == nil && len(workers) == 5
	}, 2*time.Second, 20*time.Millisecond, "pool should scale from 1 to its max of 5")

	var sawPoolScaled bool
	for {
		select {
		case ev := <-sub:
			if ev.Type == events.TypePoolScaled {
				sawPoolScaled = true
			}
		default:
			assert.True(t, sawPoolScaled, "expected a PoolScaled event during scale-up")
			return
		}
	}
}

// dialHub wires a Hub behind an in-process bufconn listener, mirroring
// pkg/channelhub/hub_test.go's own helper.
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

// TestWorkerCrashMidJobRetriesOnce is spec.md §8 scenario 4: a worker whose
// session ends while a job is dispatched to it should have that job marked
// Failed and requeued, rather than left stuck Running forever.
func TestWorkerCrashMidJobRetriesOnce(t *testing.T) {
	q := queue.New(queue.Config{}, clock.Real{})
	store := storage.NewMemoryStore()
	bus := events.NewBus()
	bus.Start()
	t.Cleanup(bus.Stop)

	h := channelhub.New(channelhub.Config{
		Queue:               q,
		Jobs:                store,
		Bus:                 bus,
		HeartbeatInterval:   time.Hour,
		CacheResponseWindow: 200 * time.Millisecond,
	})
	t.Cleanup(h.Close)

	job := &types.Job{ID: "job-crash", Name: "long-build", Command: []string{"sleep", "60"}, MaxRetries: 1}
	require.NoError(t, store.CreateJob(job))
	require.Equal(t, queue.EnqueueSuccess, q.Enqueue(job).Kind)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	client := dialHub(t, h)
	ag := agent.New(agent.Config{WorkerID: "worker-crash", Client: client, HeartbeatInterval: 50 * time.Millisecond})
	agentDone := make(chan struct{})
	go func() {
		_ = ag.Run(ctx)
		close(agentDone)
	}()

	// Wait for the job to actually be dispatched before killing the worker.
	require.Eventually(t, func() bool {
		for _, d := range h.ActiveDispatches() {
			if d.JobID == "job-crash" {
				return true
			}
		}
		return false
	}, 2*time.Second, 20*time.Millisecond)

	ag.Stop()
	<-agentDone

	require.Eventually(t, func() bool {
		got, err := store.GetJob("job-crash")
		return err == nil && got.Status == types.JobFailed
	}, 2*time.Second, 20*time.Millisecond, "job should be marked Failed once its worker's channel is lost")

	stats := q.Stats()
	assert.Equal(t, 1, stats.Total, "the failed job should have been requeued for its retry")
}
