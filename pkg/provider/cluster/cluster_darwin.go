//go:build darwin

// Package cluster implements a provider.Provider backed by Lima VMs: each
// Worker is a dedicated virtual machine rather than a container, for
// workloads that need kernel-level isolation a container runtime cannot give.
package cluster

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/lima-vm/lima/pkg/instance"
	"github.com/lima-vm/lima/pkg/limayaml"
	"github.com/lima-vm/lima/pkg/store"

	"github.com/cuemby/fleetforge/pkg/log"
	"github.com/cuemby/fleetforge/pkg/metrics"
	"github.com/cuemby/fleetforge/pkg/provider"
	"github.com/cuemby/fleetforge/pkg/types"
)

// Provider is a provider.Provider implementation backed by Lima VMs. Each
// worker maps 1:1 to a Lima instance named "fleetforge-<worker id suffix>".
type Provider struct {
	dataDir string

	mu      sync.RWMutex
	workers map[string]*types.Worker
}

// New returns a cluster Provider that stages Lima instance data under dataDir.
func New(dataDir string) *Provider {
	return &Provider{
		dataDir: dataDir,
		workers: make(map[string]*types.Worker),
	}
}

func (p *Provider) Name() string { return "cluster" }

func (p *Provider) GetInfo() provider.Info {
	return provider.Info{
		Name:               "cluster",
		SupportsEventWatch: false,
		MaxWorkersPerPool:  64, // VM-per-worker is heavy; keep pools bounded
	}
}

func (p *Provider) ValidateTemplate(tmpl types.WorkerTemplate) error {
	return provider.ValidateTemplate(tmpl)
}

// CreateWorker provisions a new Lima VM sized from the template's resources.
func (p *Provider) CreateWorker(ctx context.Context, poolID string, tmpl types.WorkerTemplate) (*types.Worker, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ProviderCallDuration, "cluster", "create_worker")

	if err := provider.ValidateTemplate(tmpl); err != nil {
		metrics.ProviderErrorsTotal.WithLabelValues("cluster", "invalid_template").Inc()
		return nil, err
	}
	if err := provider.ParseTemplateResources(&tmpl); err != nil {
		return nil, err
	}
	if !isLimaInstalled() {
		metrics.ProviderErrorsTotal.WithLabelValues("cluster", "lima_missing").Inc()
		return nil, fmt.Errorf("limactl not found in PATH")
	}

	workerID := fmt.Sprintf("w-%d", time.Now().UnixNano())
	instanceName := "fleetforge-" + workerID

	cfg := p.limaConfig(tmpl)
	configYAML, err := limayaml.Marshal(&cfg, false)
	if err != nil {
		return nil, fmt.Errorf("marshal lima config: %w", err)
	}
	if _, err := instance.Create(ctx, instanceName, configYAML, false); err != nil {
		metrics.ProviderErrorsTotal.WithLabelValues("cluster", "create_failed").Inc()
		return nil, fmt.Errorf("create lima instance: %w", err)
	}

	inst, err := store.Inspect(instanceName)
	if err != nil {
		return nil, fmt.Errorf("inspect created instance: %w", err)
	}
	if err := instance.Start(ctx, inst, "", false); err != nil {
		metrics.ProviderErrorsTotal.WithLabelValues("cluster", "start_failed").Inc()
		return nil, fmt.Errorf("start lima instance: %w", err)
	}

	w := &types.Worker{
		ID:            workerID,
		Name:          instanceName,
		PoolID:        poolID,
		Status:        types.WorkerProvisioning,
		Capabilities:  tmpl.CapabilityHints,
		ProviderName:  p.Name(),
		CreatedAt:     time.Now(),
		LastHeartbeat: time.Now(),
	}

	p.mu.Lock()
	p.workers[workerID] = w
	p.mu.Unlock()

	metrics.WorkersCreatedTotal.Inc()
	log.WithComponent("provider.cluster").Info().Str("worker_id", workerID).Str("instance", instanceName).Msg("lima worker created")
	return w, nil
}

func (p *Provider) limaConfig(tmpl types.WorkerTemplate) limayaml.LimaYAML {
	arch := limayaml.AARCH64
	if runtime.GOARCH == "amd64" {
		arch = limayaml.X8664
	}

	cpus := int(tmpl.Resources.CPUMillis / 1000)
	if cpus < 1 {
		cpus = 1
	}
	memGiB := tmpl.Resources.MemoryBytes / (1 << 30)
	if memGiB < 1 {
		memGiB = 1
	}
	memory := fmt.Sprintf("%dGiB", memGiB)
	disk := "20GiB"
	trueVal := true

	return limayaml.LimaYAML{
		Arch:   &arch,
		CPUs:   &cpus,
		Memory: &memory,
		Disk:   &disk,
		Containerd: limayaml.Containerd{
			System: &trueVal,
		},
		Mounts: []limayaml.Mount{
			{Location: p.dataDir, Writable: &trueVal},
		},
		Provision: []limayaml.Provision{
			{
				Mode:   limayaml.ProvisionModeSystem,
				Script: "#!/bin/sh\nset -eux -o pipefail\nif ! command -v containerd > /dev/null; then\n  apk add containerd\nfi\nrc-update add containerd default\nrc-service containerd start || true",
			},
		},
		Message: "fleetforge worker VM ready",
	}
}

// DeleteWorker stops and removes the Lima instance backing a worker.
func (p *Provider) DeleteWorker(ctx context.Context, workerID string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ProviderCallDuration, "cluster", "delete_worker")

	p.mu.RLock()
	w, ok := p.workers[workerID]
	p.mu.RUnlock()
	if !ok {
		return nil
	}

	inst, err := store.Inspect(w.Name)
	if err == nil {
		if stopErr := instance.StopGracefully(ctx, inst, false); stopErr != nil {
			instance.StopForcibly(inst)
		}
	}

	p.mu.Lock()
	delete(p.workers, workerID)
	p.mu.Unlock()
	return nil
}

func (p *Provider) GetWorkerStatus(ctx context.Context, workerID string) (types.WorkerStatus, error) {
	p.mu.RLock()
	w, ok := p.workers[workerID]
	p.mu.RUnlock()
	if !ok {
		return types.WorkerOffline, fmt.Errorf("unknown worker %s", workerID)
	}

	inst, err := store.Inspect(w.Name)
	if err != nil {
		return types.WorkerOffline, fmt.Errorf("inspect instance %s: %w", w.Name, err)
	}
	switch inst.Status {
	case store.StatusRunning:
		return types.WorkerReady, nil
	case store.StatusStopped:
		return types.WorkerTerminating, nil
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

// GetResourceAvailability reports host capacity as the number of workers
// this backend is willing to run concurrently (GetInfo().MaxWorkersPerPool)
// minus those already provisioned.
func (p *Provider) GetResourceAvailability(ctx context.Context) (*types.ResourceAvailability, error) {
	p.mu.RLock()
	inUse := len(p.workers)
	p.mu.RUnlock()

	maxNodes := p.GetInfo().MaxWorkersPerPool
	avail := maxNodes - inUse
	if avail < 0 {
		avail = 0
	}
	return &types.ResourceAvailability{
		TotalNodes:     maxNodes,
		AvailableNodes: avail,
	}, nil
}

func (p *Provider) WatchWorkerEvents(ctx context.Context) (<-chan provider.WorkerEvent, error) {
	return nil, nil
}

func (p *Provider) HealthCheck(ctx context.Context) error {
	if !isLimaInstalled() {
		return fmt.Errorf("limactl not found in PATH")
	}
	return nil
}

func isLimaInstalled() bool {
	_, err := exec.LookPath("limactl")
	return err == nil
}
