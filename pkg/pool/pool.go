// Package pool implements the Worker Pool Manager (SPEC_FULL.md S4.2): it
// owns every Pool and its Workers, executes scale actions against a
// provider.Provider, and publishes pool lifecycle events. Adapted from the
// teacher's pkg/manager.Manager — same registry-plus-mutex shape, Raft/FSM/
// certificate-authority machinery removed (see DESIGN.md) since this domain
// runs a single supervising process rather than a replicated cluster.
package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/fleetforge/pkg/events"
	"github.com/cuemby/fleetforge/pkg/log"
	"github.com/cuemby/fleetforge/pkg/metrics"
	"github.com/cuemby/fleetforge/pkg/provider"
	"github.com/cuemby/fleetforge/pkg/storage"
	"github.com/cuemby/fleetforge/pkg/types"
)

// CreateResultKind is the sealed outcome of CreatePool.
type CreateResultKind int

const (
	CreateSuccess CreateResultKind = iota
	CreateInvalidConfiguration
	CreateResourceConstraints
	CreateFailed
)

// CreateResult is the tagged result of CreatePool.
type CreateResult struct {
	Kind   CreateResultKind
	Pool   *types.Pool
	Errors []string
}

// ScaleResultKind is the sealed outcome of ScalePool.
type ScaleResultKind int

const (
	ScaleSuccess ScaleResultKind = iota
	ScalePartial
	ScaleResourceConstraints
	ScaleNoActionNeeded
	ScaleFailed
)

// ScaleResult is the tagged result of ScalePool.
type ScaleResult struct {
	Kind     ScaleResultKind
	From     int
	To       int
	Target   int
	Affected []string
	Reason   string
}

// managedPool pairs a Pool record with its own workers registry and lock, so
// scaling one pool never contends with reads/writes on another (Design
// Notes: "prefer per-key locks" over one coarse registry lock).
type managedPool struct {
	mu      sync.RWMutex
	pool    types.Pool
	workers map[string]*types.Worker
}

// Manager owns every Pool and executes scaling against the Providers it was
// constructed with.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*managedPool

	providers map[string]provider.Provider
	store     storage.PoolRepository
	bus       *events.Bus

	maxConcurrentCreations int
}

// Config configures a Manager.
type Config struct {
	Providers              map[string]provider.Provider // name -> Provider
	Store                  storage.PoolRepository
	Bus                    *events.Bus
	MaxConcurrentCreations int // 0 means DefaultMaxConcurrentCreations
}

// DefaultMaxConcurrentCreations bounds parallel worker creation per scale-up.
const DefaultMaxConcurrentCreations = 8

// New constructs a Manager, loading any pools/workers already persisted in
// cfg.Store.
func New(cfg Config) (*Manager, error) {
	if cfg.MaxConcurrentCreations <= 0 {
		cfg.MaxConcurrentCreations = DefaultMaxConcurrentCreations
	}
	m := &Manager{
		pools:                  make(map[string]*managedPool),
		providers:              cfg.Providers,
		store:                  cfg.Store,
		bus:                    cfg.Bus,
		maxConcurrentCreations: cfg.MaxConcurrentCreations,
	}

	if cfg.Store != nil {
		pools, err := cfg.Store.ListPools()
		if err != nil {
			return nil, fmt.Errorf("load pools: %w", err)
		}
		for _, p := range pools {
			mp := &managedPool{pool: *p, workers: make(map[string]*types.Worker)}
			workers, err := cfg.Store.ListWorkersByPool(p.ID)
			if err != nil {
				return nil, fmt.Errorf("load workers for pool %s: %w", p.ID, err)
			}
			for _, w := range workers {
				mp.workers[w.ID] = w
			}
			m.pools[p.ID] = mp
		}
	}

	return m, nil
}

func (m *Manager) provider(name string) (provider.Provider, error) {
	p, ok := m.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return p, nil
}

// CreatePool validates poolSpec, checks resource availability, persists it
// Active, and scales to Policy.Min.
func (m *Manager) CreatePool(ctx context.Context, spec types.Pool) CreateResult {
	var errs []string
	if spec.Name == "" {
		errs = append(errs, "pool name is required")
	}
	if spec.Policy.Min > spec.Policy.Max {
		errs = append(errs, "policy min must be <= max")
	}
	prov, err := m.provider(spec.ProviderName)
	if err != nil {
		errs = append(errs, err.Error())
	} else if verr := prov.ValidateTemplate(spec.Template); verr != nil {
		errs = append(errs, verr.Error())
	}
	if len(errs) > 0 {
		return CreateResult{Kind: CreateInvalidConfiguration, Errors: errs}
	}

	if err := provider.ParseTemplateResources(&spec.Template); err != nil {
		return CreateResult{Kind: CreateInvalidConfiguration, Errors: []string{err.Error()}}
	}

	avail, err := prov.GetResourceAvailability(ctx)
	if err != nil {
		return CreateResult{Kind: CreateFailed, Errors: []string{err.Error()}}
	}
	if avail.AvailableNodes == 0 && spec.Policy.Min > 0 {
		return CreateResult{Kind: CreateResourceConstraints, Errors: []string{"no available compute nodes"}}
	}

	if spec.ID == "" {
		spec.ID = "pool-" + uuid.NewString()
	}
	spec.Status = types.PoolActive
	spec.CreatedAt = time.Now()
	spec.DesiredSize = spec.Policy.Min

	mp := &managedPool{pool: spec, workers: make(map[string]*types.Worker)}
	m.mu.Lock()
	m.pools[spec.ID] = mp
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.CreatePool(&spec); err != nil {
			log.WithPoolID(spec.ID).Error().Err(err).Msg("failed to persist pool")
		}
	}
	metrics.PoolsTotal.Inc()
	m.publish(events.TypePoolCreated, spec.ID, "pool created")

	if spec.Policy.Min > 0 {
		m.ScalePool(ctx, spec.ID, spec.Policy.Min, "initial scale to minimum")
	}

	var out types.Pool
	if result := m.pools[spec.ID]; result != nil {
		result.mu.RLock()
		out = result.pool
		result.mu.RUnlock()
	}
	return CreateResult{Kind: CreateSuccess, Pool: &out}
}

// DeletePool marks a pool Draining, destroys every member worker, and
// removes it from the registry.
func (m *Manager) DeletePool(ctx context.Context, id string) error {
	m.mu.Lock()
	mp, ok := m.pools[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("pool %s not found", id)
	}
	delete(m.pools, id)
	m.mu.Unlock()

	mp.mu.Lock()
	mp.pool.Status = types.PoolDraining
	prov, err := m.provider(mp.pool.ProviderName)
	workerIDs := make([]string, 0, len(mp.workers))
	for id := range mp.workers {
		workerIDs = append(workerIDs, id)
	}
	mp.mu.Unlock()

	if err == nil {
		for _, wid := range workerIDs {
			if derr := prov.DeleteWorker(ctx, wid); derr != nil {
				log.WithComponent("pool").Warn().Err(derr).Str("worker_id", wid).Msg("failed to delete worker during pool deletion")
			}
			if m.store != nil {
				_ = m.store.DeleteWorker(wid)
			}
		}
	}

	if m.store != nil {
		_ = m.store.DeletePool(id)
	}
	metrics.PoolsTotal.Dec()
	m.publish(events.TypePoolDeleted, id, "pool deleted")
	return nil
}

// ScalePool reconciles a pool to targetSize, bounded by resource
// availability and by maxConcurrentCreations during scale-up.
func (m *Manager) ScalePool(ctx context.Context, id string, targetSize int, reason string) ScaleResult {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ScalingLatency)

	m.mu.RLock()
	mp, ok := m.pools[id]
	m.mu.RUnlock()
	if !ok {
		return ScaleResult{Kind: ScaleFailed, Reason: "pool not found"}
	}

	mp.mu.Lock()
	current := len(mp.workers)
	mp.mu.Unlock()

	if current == targetSize {
		return ScaleResult{Kind: ScaleNoActionNeeded, From: current, To: current, Target: targetSize}
	}

	prov, err := m.provider(mp.pool.ProviderName)
	if err != nil {
		return ScaleResult{Kind: ScaleFailed, From: current, Reason: err.Error()}
	}

	if targetSize > current {
		return m.scaleUp(ctx, mp, prov, current, targetSize, reason)
	}
	return m.scaleDown(ctx, mp, prov, current, targetSize, reason)
}

func (m *Manager) scaleUp(ctx context.Context, mp *managedPool, prov provider.Provider, current, target int, reason string) ScaleResult {
	avail, err := prov.GetResourceAvailability(ctx)
	if err != nil {
		return ScaleResult{Kind: ScaleFailed, From: current, Reason: err.Error()}
	}

	want := target - current
	canAccommodate := want
	if avail.AvailableNodes > 0 && avail.AvailableNodes < want {
		canAccommodate = avail.AvailableNodes
	}

	mp.mu.RLock()
	tmpl := mp.pool.Template
	poolID := mp.pool.ID
	mp.mu.RUnlock()

	type createOutcome struct {
		worker *types.Worker
		err    error
	}

	sem := make(chan struct{}, m.maxConcurrentCreations)
	results := make(chan createOutcome, canAccommodate)
	var wg sync.WaitGroup
	for i := 0; i < canAccommodate; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w, err := prov.CreateWorker(ctx, poolID, tmpl)
			results <- createOutcome{worker: w, err: err}
		}()
	}
	go func() { wg.Wait(); close(results) }()

	var affected []string
	var failures int
	for res := range results {
		if res.err != nil {
			failures++
			metrics.WorkersCreateFailedTotal.Inc()
			log.WithPoolID(poolID).Warn().Err(res.err).Msg("worker creation failed")
			continue
		}
		mp.mu.Lock()
		mp.workers[res.worker.ID] = res.worker
		mp.mu.Unlock()
		if m.store != nil {
			_ = m.store.CreateWorker(res.worker)
		}
		affected = append(affected, res.worker.ID)
		m.publish(events.TypeWorkerCreated, res.worker.ID, "worker created in "+poolID)
	}

	mp.mu.Lock()
	newSize := len(mp.workers)
	mp.pool.DesiredSize = target
	mp.pool.LastScaled = time.Now()
	mp.pool.Status = types.PoolActive
	mp.mu.Unlock()
	if m.store != nil {
		mp.mu.RLock()
		cp := mp.pool
		mp.mu.RUnlock()
		_ = m.store.UpdatePool(&cp)
	}

	metrics.WorkersTotal.WithLabelValues(poolID, "ready").Set(float64(newSize))
	m.publish(events.TypePoolScaled, poolID, fmt.Sprintf("scaled %d -> %d (target %d)", current, newSize, target))

	if newSize < target {
		return ScaleResult{Kind: ScalePartial, From: current, To: newSize, Target: target, Affected: affected, Reason: reason}
	}
	return ScaleResult{Kind: ScaleSuccess, From: current, To: newSize, Target: target, Affected: affected, Reason: reason}
}

func (m *Manager) scaleDown(ctx context.Context, mp *managedPool, prov provider.Provider, current, target int, reason string) ScaleResult {
	mp.mu.Lock()
	toRemove := current - target
	ready := make([]*types.Worker, 0, len(mp.workers))
	for _, w := range mp.workers {
		if w.Status == types.WorkerReady {
			ready = append(ready, w)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool { return ready[i].ID < ready[j].ID })

	// Busy workers are kept unless a force flag is specified; since no force
	// flag exists anywhere in this domain, removal never spills past Ready.
	constrained := toRemove > len(ready)
	if constrained {
		toRemove = len(ready)
	}
	victims := ready[:toRemove]
	poolID := mp.pool.ID
	mp.mu.Unlock()

	var affected []string
	for _, w := range victims {
		if err := prov.DeleteWorker(ctx, w.ID); err != nil {
			log.WithPoolID(poolID).Warn().Err(err).Str("worker_id", w.ID).Msg("worker deletion failed")
			continue
		}
		mp.mu.Lock()
		delete(mp.workers, w.ID)
		mp.mu.Unlock()
		if m.store != nil {
			_ = m.store.DeleteWorker(w.ID)
		}
		affected = append(affected, w.ID)
		m.publish(events.TypeWorkerTerminated, w.ID, "worker removed from "+poolID)
	}

	mp.mu.Lock()
	newSize := len(mp.workers)
	mp.pool.DesiredSize = target
	mp.pool.LastScaled = time.Now()
	mp.pool.Status = types.PoolActive
	mp.mu.Unlock()
	if m.store != nil {
		mp.mu.RLock()
		cp := mp.pool
		mp.mu.RUnlock()
		_ = m.store.UpdatePool(&cp)
	}

	metrics.WorkersTotal.WithLabelValues(poolID, "ready").Set(float64(newSize))
	m.publish(events.TypePoolScaled, poolID, fmt.Sprintf("scaled %d -> %d (target %d)", current, newSize, target))

	if constrained {
		return ScaleResult{Kind: ScaleResourceConstraints, From: current, To: newSize, Target: target, Affected: affected, Reason: "busy workers kept: insufficient ready workers to reach target"}
	}
	if newSize > target {
		return ScaleResult{Kind: ScalePartial, From: current, To: newSize, Target: target, Affected: affected, Reason: reason}
	}
	return ScaleResult{Kind: ScaleSuccess, From: current, To: newSize, Target: target, Affected: affected, Reason: reason}
}

// poolScore implements the findBestPoolForJob scoring table: pools with
// available Ready workers score highest, pools that can still scale up
// score next, saturated pools score zero.
func poolScore(mp *managedPool) int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	available := 0
	for _, w := range mp.workers {
		if w.Status == types.WorkerReady {
			available++
		}
	}
	if available > 0 {
		return 100 + available*10
	}
	if len(mp.workers) < mp.pool.Policy.Max {
		return 50
	}
	return 0
}

// FindBestPoolForJob scores every pool whose template satisfies requirements
// and returns the highest scorer, ties broken by pool name.
func (m *Manager) FindBestPoolForJob(requirements map[string]string) *types.Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *managedPool
	bestScore := -1
	for _, mp := range m.pools {
		mp.mu.RLock()
		matches := true
		for k, v := range requirements {
			if mp.pool.Template.CapabilityHints[k] != v {
				matches = false
				break
			}
		}
		name := mp.pool.Name
		mp.mu.RUnlock()
		if !matches {
			continue
		}
		score := poolScore(mp)
		if score > bestScore || (score == bestScore && best != nil && name < best.pool.Name) {
			best = mp
			bestScore = score
		}
	}
	if best == nil || bestScore == 0 {
		return nil
	}
	best.mu.RLock()
	defer best.mu.RUnlock()
	cp := best.pool
	return &cp
}

// GetPool returns a snapshot of a single pool.
func (m *Manager) GetPool(id string) (*types.Pool, error) {
	m.mu.RLock()
	mp, ok := m.pools[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("pool %s not found", id)
	}
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	cp := mp.pool
	return &cp, nil
}

// ListPools returns a snapshot of every pool.
func (m *Manager) ListPools() []*types.Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.Pool, 0, len(m.pools))
	for _, mp := range m.pools {
		mp.mu.RLock()
		cp := mp.pool
		mp.mu.RUnlock()
		out = append(out, &cp)
	}
	return out
}

// ListWorkers returns a snapshot of a pool's workers.
func (m *Manager) ListWorkers(poolID string) ([]*types.Worker, error) {
	m.mu.RLock()
	mp, ok := m.pools[poolID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("pool %s not found", poolID)
	}
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	out := make([]*types.Worker, 0, len(mp.workers))
	for _, w := range mp.workers {
		cp := *w
		out = append(out, &cp)
	}
	return out, nil
}

// Metrics summarizes a single pool's state.
type Metrics struct {
	PoolID      string
	DesiredSize int
	ActualSize  int
	ReadyCount  int
	BusyCount   int
}

// GetMetrics reports one pool's utilization.
func (m *Manager) GetMetrics(poolID string) (Metrics, error) {
	m.mu.RLock()
	mp, ok := m.pools[poolID]
	m.mu.RUnlock()
	if !ok {
		return Metrics{}, fmt.Errorf("pool %s not found", poolID)
	}
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	out := Metrics{PoolID: poolID, DesiredSize: mp.pool.DesiredSize, ActualSize: len(mp.workers)}
	for _, w := range mp.workers {
		switch w.Status {
		case types.WorkerReady:
			out.ReadyCount++
		case types.WorkerBusy:
			out.BusyCount++
		}
	}
	return out, nil
}

// GetOverallMetrics aggregates across every pool.
func (m *Manager) GetOverallMetrics() Metrics {
	m.mu.RLock()
	ids := make([]string, 0, len(m.pools))
	for id := range m.pools {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var out Metrics
	for _, id := range ids {
		pm, err := m.GetMetrics(id)
		if err != nil {
			continue
		}
		out.DesiredSize += pm.DesiredSize
		out.ActualSize += pm.ActualSize
		out.ReadyCount += pm.ReadyCount
		out.BusyCount += pm.BusyCount
	}
	return out
}

// GetWorker returns a snapshot of one worker by pool and id.
func (m *Manager) GetWorker(poolID, workerID string) (*types.Worker, error) {
	m.mu.RLock()
	mp, ok := m.pools[poolID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("pool %s not found", poolID)
	}
	mp.mu.RLock()
	defer mp.mu.RUnlock()
	w, ok := mp.workers[workerID]
	if !ok {
		return nil, fmt.Errorf("worker %s not found in pool %s", workerID, poolID)
	}
	cp := *w
	return &cp, nil
}

// FindPoolByWorker locates which pool a worker id belongs to. The channel
// hub uses this when a worker registers with only a pool-id label and a
// worker id, before it has any other pool context.
func (m *Manager) FindPoolByWorker(workerID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, mp := range m.pools {
		mp.mu.RLock()
		_, ok := mp.workers[workerID]
		mp.mu.RUnlock()
		if ok {
			return id, true
		}
	}
	return "", false
}

// UpdateWorkerStatus records a worker's status, active job count, and last
// heartbeat as reported by the channel hub. It does not touch the provider;
// the worker's lifecycle (creation/deletion) stays exclusively under
// ScalePool.
func (m *Manager) UpdateWorkerStatus(poolID, workerID string, status types.WorkerStatus, activeJobs int, lastHeartbeat time.Time) error {
	m.mu.RLock()
	mp, ok := m.pools[poolID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("pool %s not found", poolID)
	}

	mp.mu.Lock()
	w, ok := mp.workers[workerID]
	if !ok {
		mp.mu.Unlock()
		return fmt.Errorf("worker %s not found in pool %s", workerID, poolID)
	}
	w.Status = status
	w.ActiveJobCount = activeJobs
	if !lastHeartbeat.IsZero() {
		w.LastHeartbeat = lastHeartbeat
	}
	cp := *w
	mp.mu.Unlock()

	if m.store != nil {
		_ = m.store.UpdateWorker(&cp)
	}
	return nil
}

// StreamPoolEvents subscribes to the pool lifecycle event bus.
func (m *Manager) StreamPoolEvents() events.Subscriber {
	return m.bus.Subscribe()
}

func (m *Manager) publish(t events.Type, id, message string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(&events.Event{
		Type:     t,
		Message:  message,
		Metadata: map[string]string{"id": id},
	})
}
