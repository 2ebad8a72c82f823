// Package containerd implements a provider.Provider backed by a containerd
// daemon: each Worker is a single long-lived container created from a
// WorkerTemplate's image and resource limits.
package containerd

import (
	"context"
	"fmt"
	"sync"
	"syscall"
	"time"

	containerdpkg "github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/google/uuid"

	"github.com/cuemby/fleetforge/pkg/log"
	"github.com/cuemby/fleetforge/pkg/metrics"
	"github.com/cuemby/fleetforge/pkg/provider"
	"github.com/cuemby/fleetforge/pkg/types"
)

// DefaultNamespace is the containerd namespace workers are created in.
const DefaultNamespace = "fleetforge"

// DefaultSocketPath is the default containerd socket path.
const DefaultSocketPath = "/run/containerd/containerd.sock"

// Provider is a provider.Provider implementation backed by containerd.
type Provider struct {
	client     *containerdpkg.Client
	namespace  string
	volumeRoot string

	mu      sync.RWMutex
	workers map[string]*types.Worker // workerID -> worker
}

// New connects to the containerd daemon at socketPath (DefaultSocketPath
// when empty).
func New(socketPath string) (*Provider, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	client, err := containerdpkg.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to containerd: %w", err)
	}
	return &Provider{
		client:    client,
		namespace: DefaultNamespace,
		workers:   make(map[string]*types.Worker),
	}, nil
}

// Close releases the containerd client connection.
func (p *Provider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

func (p *Provider) Name() string { return "containerd" }

func (p *Provider) GetInfo() provider.Info {
	return provider.Info{
		Name:               "containerd",
		SupportsEventWatch: false,
		MaxWorkersPerPool:  0, // unbounded
	}
}

func (p *Provider) ValidateTemplate(tmpl types.WorkerTemplate) error {
	return provider.ValidateTemplate(tmpl)
}

// CreateWorker pulls the template image and starts a container to back it.
func (p *Provider) CreateWorker(ctx context.Context, poolID string, tmpl types.WorkerTemplate) (*types.Worker, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ProviderCallDuration, "containerd", "create_worker")

	if err := provider.ValidateTemplate(tmpl); err != nil {
		metrics.ProviderErrorsTotal.WithLabelValues("containerd", "invalid_template").Inc()
		return nil, err
	}
	if err := provider.ParseTemplateResources(&tmpl); err != nil {
		return nil, err
	}

	ctx = namespaces.WithNamespace(ctx, p.namespace)
	workerID := "w-" + uuid.NewString()

	image, err := p.client.GetImage(ctx, tmpl.Image)
	if err != nil {
		image, err = p.client.Pull(ctx, tmpl.Image, containerdpkg.WithPullUnpack)
		if err != nil {
			metrics.ProviderErrorsTotal.WithLabelValues("containerd", "pull_failed").Inc()
			return nil, fmt.Errorf("pull image %s: %w", tmpl.Image, err)
		}
	}

	env := make([]string, 0, len(tmpl.Env))
	for k, v := range tmpl.Env {
		env = append(env, k+"="+v)
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(env),
	}
	if tmpl.Resources.CPUMillis > 0 {
		shares := uint64(tmpl.Resources.CPUMillis) // 1000m == 1024 shares, close enough at this fidelity
		quota := int64(tmpl.Resources.CPUMillis) * 100
		period := uint64(100000)
		opts = append(opts, oci.WithCPUShares(shares), oci.WithCPUCFS(quota, period))
	}
	if tmpl.Resources.MemoryBytes > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(tmpl.Resources.MemoryBytes)))
	}
	mounts, err := buildMounts(p.volumeRoot, poolID, tmpl.VolumeMounts)
	if err != nil {
		return nil, fmt.Errorf("prepare volumes: %w", err)
	}
	if len(mounts) > 0 {
		opts = append(opts, oci.WithMounts(mounts))
	}

	container, err := p.client.NewContainer(
		ctx,
		workerID,
		containerdpkg.WithImage(image),
		containerdpkg.WithNewSnapshot(workerID+"-snapshot", image),
		containerdpkg.WithNewSpec(opts...),
	)
	if err != nil {
		metrics.ProviderErrorsTotal.WithLabelValues("containerd", "create_failed").Inc()
		return nil, fmt.Errorf("create container: %w", err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		metrics.ProviderErrorsTotal.WithLabelValues("containerd", "task_failed").Inc()
		return nil, fmt.Errorf("create task: %w", err)
	}
	if err := task.Start(ctx); err != nil {
		metrics.ProviderErrorsTotal.WithLabelValues("containerd", "start_failed").Inc()
		return nil, fmt.Errorf("start task: %w", err)
	}

	w := &types.Worker{
		ID:            workerID,
		Name:          workerID,
		PoolID:        poolID,
		Status:        types.WorkerReady,
		Capabilities:  tmpl.CapabilityHints,
		ProviderName:  p.Name(),
		CreatedAt:     time.Now(),
		LastHeartbeat: time.Now(),
	}

	p.mu.Lock()
	p.workers[workerID] = w
	p.mu.Unlock()

	metrics.WorkersCreatedTotal.Inc()
	log.WithComponent("provider.containerd").Info().Str("worker_id", workerID).Str("pool_id", poolID).Msg("worker created")
	return w, nil
}

// DeleteWorker stops and removes the container backing a worker. Idempotent.
func (p *Provider) DeleteWorker(ctx context.Context, workerID string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ProviderCallDuration, "containerd", "delete_worker")

	ctx = namespaces.WithNamespace(ctx, p.namespace)

	container, err := p.client.LoadContainer(ctx, workerID)
	if err == nil {
		if task, terr := container.Task(ctx, nil); terr == nil {
			stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_ = task.Kill(stopCtx, syscall.SIGTERM)
			statusC, werr := task.Wait(stopCtx)
			if werr == nil {
				select {
				case <-statusC:
				case <-stopCtx.Done():
					_ = task.Kill(ctx, syscall.SIGKILL)
				}
			}
			cancel()
			_, _ = task.Delete(ctx)
		}
		if err := container.Delete(ctx, containerdpkg.WithSnapshotCleanup); err != nil {
			metrics.ProviderErrorsTotal.WithLabelValues("containerd", "delete_failed").Inc()
			return fmt.Errorf("delete container: %w", err)
		}
	}

	p.mu.Lock()
	delete(p.workers, workerID)
	p.mu.Unlock()
	return nil
}

func (p *Provider) GetWorkerStatus(ctx context.Context, workerID string) (types.WorkerStatus, error) {
	ctx = namespaces.WithNamespace(ctx, p.namespace)

	container, err := p.client.LoadContainer(ctx, workerID)
	if err != nil {
		return types.WorkerOffline, fmt.Errorf("load container %s: %w", workerID, err)
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return types.WorkerProvisioning, nil
	}
	status, err := task.Status(ctx)
	if err != nil {
		return types.WorkerFailed, fmt.Errorf("task status: %w", err)
	}
	switch status.Status {
	case containerdpkg.Running:
		return types.WorkerBusy, nil
	case containerdpkg.Stopped:
		if status.ExitStatus == 0 {
			return types.WorkerTerminating, nil
		}
		return types.WorkerFailed, nil
	default:
		return types.WorkerProvisioning, nil
	}
}

func (p *Provider) ListWorkers(ctx context.Context, poolID string) ([]*types.Worker, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*types.Worker
	for _, w := range p.workers {
		if poolID == "" || w.PoolID == poolID {
			out = append(out, w)
		}
	}
	return out, nil
}

// GetResourceAvailability reports containerd host capacity. containerd has
// no built-in notion of node capacity, so this backend does not measure it:
// it always reports a single host with one available node (TotalNodes and
// AvailableNodes both 1), so pool.Manager's scale-up creates at most one
// worker per ScalePool call on this backend; cluster-manager backends
// (pkg/provider/cluster) are the ones with real resource ceilings.
func (p *Provider) GetResourceAvailability(ctx context.Context) (*types.ResourceAvailability, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return &types.ResourceAvailability{
		TotalNodes:     1,
		AvailableNodes: 1,
	}, nil
}

// WatchWorkerEvents is unsupported by this backend: containerd events
// require a separate event subscription plumbed through a different client
// call than the lifecycle operations above, which SPEC_FULL.md marks optional.
func (p *Provider) WatchWorkerEvents(ctx context.Context) (<-chan provider.WorkerEvent, error) {
	return nil, nil
}

func (p *Provider) HealthCheck(ctx context.Context) error {
	ctx = namespaces.WithNamespace(ctx, p.namespace)
	_, err := p.client.Containers(ctx)
	if err != nil {
		return fmt.Errorf("containerd health check: %w", err)
	}
	return nil
}
