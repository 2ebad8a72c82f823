// Package provider defines the uniform interface the orchestrator uses to
// manufacture and tear down workers on top of whatever compute backend is
// actually available: a container runtime (pkg/provider/containerd) or a
// VM-based cluster manager (pkg/provider/cluster). Every backend must parse
// resource quantities identically, which is why ParseCPU/ParseMemory live
// here rather than in either backend package.
package provider

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/cuemby/fleetforge/pkg/types"
)

// Provider is implemented by each compute backend. All methods must be safe
// for concurrent use.
type Provider interface {
	Name() string
	CreateWorker(ctx context.Context, poolID string, tmpl types.WorkerTemplate) (*types.Worker, error)
	DeleteWorker(ctx context.Context, workerID string) error
	GetWorkerStatus(ctx context.Context, workerID string) (types.WorkerStatus, error)
	ListWorkers(ctx context.Context, poolID string) ([]*types.Worker, error)
	GetResourceAvailability(ctx context.Context) (*types.ResourceAvailability, error)
	// WatchWorkerEvents streams worker status changes observed out-of-band
	// from the provider's own lifecycle (e.g. an OOM kill). Optional:
	// backends that cannot observe this return a nil channel.
	WatchWorkerEvents(ctx context.Context) (<-chan WorkerEvent, error)
	ValidateTemplate(tmpl types.WorkerTemplate) error
	GetInfo() Info
	HealthCheck(ctx context.Context) error
}

// WorkerEvent reports an out-of-band change in worker state.
type WorkerEvent struct {
	WorkerID string
	Status   types.WorkerStatus
	Reason   string
}

// Info describes a provider's static capabilities.
type Info struct {
	Name               string
	SupportsEventWatch bool
	MaxWorkersPerPool  int
}

// dns1123 matches the RFC 1123 label subset used for env var keys and
// label values: lowercase alphanumerics and '-', must start/end alphanumeric.
var dns1123 = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// forbiddenCapabilities may never be requested by a worker template: each
// would let a job's container escape the sandbox the pool was provisioned
// to provide.
var forbiddenCapabilities = map[string]bool{
	"SYS_ADMIN": true,
	"SYS_MODULE": true,
	"SYS_PTRACE": true,
	"NET_ADMIN":  true,
	"ALL":        true,
}

// forbiddenMountPrefixes blocks host-path mounts that would expose the
// orchestrator's own filesystem to job workloads.
var forbiddenMountPrefixes = []string{"/proc", "/sys", "/var/run/docker.sock", "/etc"}

// ValidateTemplate applies the provider-agnostic template rules shared by
// every backend (SPEC_FULL.md S4.6). Backends call this before applying
// their own backend-specific checks.
func ValidateTemplate(tmpl types.WorkerTemplate) error {
	if strings.TrimSpace(tmpl.Image) == "" {
		return fmt.Errorf("template image is required")
	}

	if tmpl.ResourcesRaw.CPU != "" {
		if _, err := ParseCPU(tmpl.ResourcesRaw.CPU); err != nil {
			return fmt.Errorf("invalid cpu resource: %w", err)
		}
	}
	if tmpl.ResourcesRaw.Memory != "" {
		if _, err := ParseMemory(tmpl.ResourcesRaw.Memory); err != nil {
			return fmt.Errorf("invalid memory resource: %w", err)
		}
	}
	if tmpl.ResourcesRaw.Storage != "" {
		if _, err := ParseMemory(tmpl.ResourcesRaw.Storage); err != nil {
			return fmt.Errorf("invalid storage resource: %w", err)
		}
	}

	for k := range tmpl.Env {
		if !isValidEnvKey(k) {
			return fmt.Errorf("invalid env var name %q", k)
		}
	}
	for k, v := range tmpl.Labels {
		if !dns1123.MatchString(k) || !dns1123.MatchString(v) {
			return fmt.Errorf("invalid label %q=%q: must match RFC 1123 label form", k, v)
		}
	}

	for _, c := range tmpl.Security.AddCapabilities {
		if forbiddenCapabilities[strings.ToUpper(c)] {
			return fmt.Errorf("capability %q is not permitted", c)
		}
	}
	if tmpl.Security.AllowPrivilegeEscalation {
		return fmt.Errorf("allow_privilege_escalation is not permitted")
	}

	for _, m := range tmpl.VolumeMounts {
		for _, prefix := range forbiddenMountPrefixes {
			if m.Source == prefix || strings.HasPrefix(m.Source, prefix+"/") {
				return fmt.Errorf("mount source %q is not permitted", m.Source)
			}
		}
	}

	for _, p := range tmpl.Ports {
		if p.ContainerPort < 1024 || p.ContainerPort > 65535 {
			return fmt.Errorf("port %d is outside the permitted range 1024-65535", p.ContainerPort)
		}
		switch strings.ToUpper(p.Protocol) {
		case "TCP", "UDP", "SCTP":
		default:
			return fmt.Errorf("unsupported port protocol %q", p.Protocol)
		}
	}

	return nil
}

// isValidEnvKey matches POSIX shell variable naming: letters, digits,
// underscore, must not start with a digit.
var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func isValidEnvKey(k string) bool {
	return envKeyPattern.MatchString(k)
}

// ParseTemplateResources fills tmpl.Resources from tmpl.ResourcesRaw,
// applying the DefaultCPUMillis/DefaultMemoryBytes fallback when a field is
// left blank.
func ParseTemplateResources(tmpl *types.WorkerTemplate) error {
	cpu := tmpl.ResourcesRaw.CPU
	if cpu == "" {
		cpu = DefaultCPU
	}
	mem := tmpl.ResourcesRaw.Memory
	if mem == "" {
		mem = DefaultMemory
	}

	cpuMillis, err := ParseCPU(cpu)
	if err != nil {
		return err
	}
	memBytes, err := ParseMemory(mem)
	if err != nil {
		return err
	}
	tmpl.Resources.CPUMillis = cpuMillis
	tmpl.Resources.MemoryBytes = memBytes

	if tmpl.ResourcesRaw.Storage != "" {
		storageBytes, err := ParseMemory(tmpl.ResourcesRaw.Storage)
		if err != nil {
			return err
		}
		tmpl.Resources.StorageBytes = storageBytes
	}
	return nil
}

// Default resource requests applied when a template omits them.
const (
	DefaultCPU    = "250m"
	DefaultMemory = "256Mi"
)
