package pool

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fleetforge/pkg/events"
	fleetprovider "github.com/cuemby/fleetforge/pkg/provider"
	"github.com/cuemby/fleetforge/pkg/storage"
	"github.com/cuemby/fleetforge/pkg/types"
)

// fakeProvider is an in-memory provider.Provider for pool manager tests.
type fakeProvider struct {
	mu      sync.Mutex
	workers map[string]*types.Worker
	seq     int
	avail   int // available nodes; -1 means unlimited

	failCreate bool
	failHealth bool
}

func newFakeProvider(avail int) *fakeProvider {
	return &fakeProvider{workers: make(map[string]*types.Worker), avail: avail}
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) CreateWorker(ctx context.Context, poolID string, tmpl types.WorkerTemplate) (*types.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return nil, fmt.Errorf("create disabled")
	}
	if f.avail >= 0 && len(f.workers) >= f.avail {
		return nil, fmt.Errorf("no capacity")
	}
	f.seq++
	w := &types.Worker{ID: fmt.Sprintf("w-%d", f.seq), PoolID: poolID, Status: types.WorkerReady}
	f.workers[w.ID] = w
	return w, nil
}

func (f *fakeProvider) DeleteWorker(ctx context.Context, workerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.workers, workerID)
	return nil
}

func (f *fakeProvider) GetWorkerStatus(ctx context.Context, workerID string) (types.WorkerStatus, error) {
	return types.WorkerReady, nil
}

func (f *fakeProvider) ListWorkers(ctx context.Context, poolID string) ([]*types.Worker, error) {
	return nil, nil
}

func (f *fakeProvider) GetResourceAvailability(ctx context.Context) (*types.ResourceAvailability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.avail < 0 {
		return &types.ResourceAvailability{AvailableNodes: 1000}, nil
	}
	remaining := f.avail - len(f.workers)
	if remaining < 0 {
		remaining = 0
	}
	return &types.ResourceAvailability{AvailableNodes: remaining}, nil
}

func (f *fakeProvider) WatchWorkerEvents(ctx context.Context) (<-chan fleetprovider.WorkerEvent, error) {
	return nil, nil
}

func (f *fakeProvider) ValidateTemplate(tmpl types.WorkerTemplate) error {
	return fleetprovider.ValidateTemplate(tmpl)
}

func (f *fakeProvider) GetInfo() fleetprovider.Info {
	return fleetprovider.Info{Name: "fake"}
}

func (f *fakeProvider) HealthCheck(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failHealth {
		return fmt.Errorf("provider unreachable")
	}
	return nil
}

func (f *fakeProvider) setFailHealth(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failHealth = v
}

func newTestManager(t *testing.T, avail int) (*Manager, *fakeProvider) {
	t.Helper()
	fp := newFakeProvider(avail)
	bus := events.NewBus()
	bus.Start()
	t.Cleanup(bus.Stop)

	m, err := New(Config{
		Providers: map[string]fleetprovider.Provider{"fake": fp},
		Store:     storage.NewMemoryStore(),
		Bus:       bus,
	})
	require.NoError(t, err)
	return m, fp
}

func testSpec(min, max int) types.Pool {
	return types.Pool{
		Name:         "pool-a",
		ProviderName: "fake",
		Template: types.WorkerTemplate{
			Image:        "example/worker:latest",
			ResourcesRaw: types.RawResources{CPU: "250m", Memory: "128Mi"},
		},
		Policy: types.ScalingPolicy{Min: min, Max: max},
	}
}

func TestCreatePoolScalesToMin(t *testing.T) {
	m, _ := newTestManager(t, 10)
	ctx := context.Background()

	result := m.CreatePool(ctx, testSpec(2, 5))
	require.Equal(t, CreateSuccess, result.Kind)

	workers, err := m.ListWorkers(result.Pool.ID)
	require.NoError(t, err)
	assert.Len(t, workers, 2)
}

func TestCreatePoolRejectsInvalidConfig(t *testing.T) {
	m, _ := newTestManager(t, 10)
	result := m.CreatePool(context.Background(), testSpec(5, 2))
	assert.Equal(t, CreateInvalidConfiguration, result.Kind)
}

func TestScalePoolPartialOnResourceConstraint(t *testing.T) {
	m, _ := newTestManager(t, 3)
	ctx := context.Background()

	result := m.CreatePool(ctx, testSpec(0, 10))
	require.Equal(t, CreateSuccess, result.Kind)

	scaleResult := m.ScalePool(ctx, result.Pool.ID, 5, "test scale up")
	assert.Equal(t, ScalePartial, scaleResult.Kind)
	assert.Equal(t, 3, scaleResult.To)
}

func TestScalePoolNoActionNeeded(t *testing.T) {
	m, _ := newTestManager(t, 10)
	ctx := context.Background()

	result := m.CreatePool(ctx, testSpec(2, 5))
	require.Equal(t, CreateSuccess, result.Kind)

	scaleResult := m.ScalePool(ctx, result.Pool.ID, 2, "noop")
	assert.Equal(t, ScaleNoActionNeeded, scaleResult.Kind)
}

func TestScaleDownPrefersReadyWorkers(t *testing.T) {
	m, fp := newTestManager(t, 10)
	ctx := context.Background()

	result := m.CreatePool(ctx, testSpec(3, 5))
	require.Equal(t, CreateSuccess, result.Kind)

	workers, _ := m.ListWorkers(result.Pool.ID)
	require.Len(t, workers, 3)
	fp.mu.Lock()
	fp.workers[workers[0].ID].Status = types.WorkerBusy
	fp.mu.Unlock()

	scaleResult := m.ScalePool(ctx, result.Pool.ID, 1, "scale down")
	assert.Equal(t, ScaleSuccess, scaleResult.Kind)

	remaining, _ := m.ListWorkers(result.Pool.ID)
	require.Len(t, remaining, 1)
	assert.Equal(t, workers[0].ID, remaining[0].ID, "the busy worker should have been kept")
}

func TestScaleDownNeverSpillsIntoBusyWorkers(t *testing.T) {
	m, fp := newTestManager(t, 10)
	ctx := context.Background()

	result := m.CreatePool(ctx, testSpec(3, 5))
	require.Equal(t, CreateSuccess, result.Kind)

	workers, _ := m.ListWorkers(result.Pool.ID)
	require.Len(t, workers, 3)
	fp.mu.Lock()
	fp.workers[workers[0].ID].Status = types.WorkerBusy
	fp.workers[workers[1].ID].Status = types.WorkerBusy
	fp.mu.Unlock()

	// Only one worker is Ready but scaling down asks to remove two; the
	// Busy workers must be kept rather than force-removed.
	scaleResult := m.ScalePool(ctx, result.Pool.ID, 1, "scale down")
	assert.Equal(t, ScaleResourceConstraints, scaleResult.Kind)
	assert.Equal(t, 2, scaleResult.To)

	remaining, _ := m.ListWorkers(result.Pool.ID)
	require.Len(t, remaining, 2)
	for _, w := range remaining {
		assert.Equal(t, types.WorkerBusy, w.Status, "scale-down must never remove a Busy worker without a force flag")
	}
}

func TestDeletePoolDestroysWorkers(t *testing.T) {
	m, _ := newTestManager(t, 10)
	ctx := context.Background()

	result := m.CreatePool(ctx, testSpec(2, 5))
	require.NoError(t, m.DeletePool(ctx, result.Pool.ID))

	_, err := m.GetPool(result.Pool.ID)
	assert.Error(t, err)
}

func TestFindBestPoolForJobPrefersAvailableWorkers(t *testing.T) {
	m, _ := newTestManager(t, 10)
	ctx := context.Background()

	busy := testSpec(1, 1)
	busy.Name = "busy-pool"
	busyResult := m.CreatePool(ctx, busy)
	require.Equal(t, CreateSuccess, busyResult.Kind)

	spare := testSpec(2, 5)
	spare.Name = "spare-pool"
	spareResult := m.CreatePool(ctx, spare)
	require.Equal(t, CreateSuccess, spareResult.Kind)

	best := m.FindBestPoolForJob(nil)
	require.NotNil(t, best)
	assert.Equal(t, spareResult.Pool.ID, best.ID)
}

func TestUpdateWorkerStatusAndLookups(t *testing.T) {
	m, _ := newTestManager(t, 10)
	ctx := context.Background()

	result := m.CreatePool(ctx, testSpec(1, 1))
	require.Equal(t, CreateSuccess, result.Kind)

	workers, err := m.ListWorkers(result.Pool.ID)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	workerID := workers[0].ID

	poolID, ok := m.FindPoolByWorker(workerID)
	assert.True(t, ok)
	assert.Equal(t, result.Pool.ID, poolID)

	now := time.Now()
	require.NoError(t, m.UpdateWorkerStatus(result.Pool.ID, workerID, types.WorkerBusy, 2, now))

	w, err := m.GetWorker(result.Pool.ID, workerID)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerBusy, w.Status)
	assert.Equal(t, 2, w.ActiveJobCount)
	assert.WithinDuration(t, now, w.LastHeartbeat, time.Second)
}

func TestUpdateWorkerStatusUnknownWorker(t *testing.T) {
	m, _ := newTestManager(t, 10)
	ctx := context.Background()
	result := m.CreatePool(ctx, testSpec(0, 1))
	require.Equal(t, CreateSuccess, result.Kind)

	err := m.UpdateWorkerStatus(result.Pool.ID, "no-such-worker", types.WorkerReady, 0, time.Now())
	assert.Error(t, err)

	_, ok := m.FindPoolByWorker("no-such-worker")
	assert.False(t, ok)
}

func TestRunProviderHealthChecksPublishesOnEdges(t *testing.T) {
	m, fp := newTestManager(t, 10)
	sub := m.StreamPoolEvents()
	t.Cleanup(func() { m.bus.Unsubscribe(sub) })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go m.RunProviderHealthChecks(ctx, 10*time.Millisecond)

	fp.setFailHealth(true)
	var unhealthy *events.Event
	require.Eventually(t, func() bool {
		select {
		case ev := <-sub:
			if ev.Type == events.TypeProviderUnhealthy {
				unhealthy = ev
				return true
			}
		default:
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "expected a provider.unhealthy event")
	assert.Equal(t, "fake", unhealthy.ID)

	fp.setFailHealth(false)
	require.Eventually(t, func() bool {
		select {
		case ev := <-sub:
			if ev.Type == events.TypeProviderRecovered {
				return true
			}
		default:
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "expected a provider.recovered event")
}
