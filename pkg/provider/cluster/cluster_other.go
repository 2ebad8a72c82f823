//go:build !darwin

package cluster

import (
	"context"
	"fmt"

	"github.com/cuemby/fleetforge/pkg/provider"
	"github.com/cuemby/fleetforge/pkg/types"
)

// Provider stubs out the Lima-backed cluster provider on platforms Lima
// doesn't support as an embedded VM hypervisor; every call fails with a
// clear error instead of the package failing to build at all.
type Provider struct{}

// New returns a cluster Provider stub. dataDir is accepted for interface
// parity with the darwin build but unused.
func New(dataDir string) *Provider {
	return &Provider{}
}

func (p *Provider) Name() string { return "cluster" }

func (p *Provider) GetInfo() provider.Info {
	return provider.Info{Name: "cluster"}
}

func (p *Provider) ValidateTemplate(tmpl types.WorkerTemplate) error {
	return provider.ValidateTemplate(tmpl)
}

func (p *Provider) CreateWorker(ctx context.Context, poolID string, tmpl types.WorkerTemplate) (*types.Worker, error) {
	return nil, fmt.Errorf("cluster provider is only supported on darwin")
}

func (p *Provider) DeleteWorker(ctx context.Context, workerID string) error {
	return fmt.Errorf("cluster provider is only supported on darwin")
}

func (p *Provider) GetWorkerStatus(ctx context.Context, workerID string) (types.WorkerStatus, error) {
	return types.WorkerOffline, fmt.Errorf("cluster provider is only supported on darwin")
}

func (p *Provider) ListWorkers(ctx context.Context, poolID string) ([]*types.Worker, error) {
	return nil, fmt.Errorf("cluster provider is only supported on darwin")
}

func (p *Provider) GetResourceAvailability(ctx context.Context) (*types.ResourceAvailability, error) {
	return nil, fmt.Errorf("cluster provider is only supported on darwin")
}

func (p *Provider) WatchWorkerEvents(ctx context.Context) (<-chan provider.WorkerEvent, error) {
	return nil, nil
}

func (p *Provider) HealthCheck(ctx context.Context) error {
	return fmt.Errorf("cluster provider is only supported on darwin")
}
