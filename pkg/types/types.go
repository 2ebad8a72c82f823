// Package types defines the shared data model for the orchestration plane:
// jobs, workers, pools, executions, and the artifacts staged between them.
package types

import "time"

// JobPriority orders jobs within the queue.
type JobPriority int

const (
	PriorityLow JobPriority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p JobPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// JobStatus is the lifecycle state of a Job. Transitions are monotonic
// except Queued->Queued (retry); once Terminal the status never changes.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether status is a terminal state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// DefaultMaxRetries is the retry ceiling applied to a Job when none is set
// at submission time (spec.md S9 open question, resolved in SPEC_FULL.md S4.1).
const DefaultMaxRetries = 3

// Job is a unit of work submitted for execution on a worker.
type Job struct {
	ID           string
	Name         string
	Command      []string // argv form
	Script       string   // inline script, mutually exclusive with Command
	Priority     JobPriority
	Requirements map[string]string // capability key -> required value
	Artifacts    []ArtifactRef
	Deadline     time.Time // zero means no deadline
	MaxRetries   int
	RetryCount   int // attempts already made; carried across Dequeue/Requeue
	Labels       map[string]string
	Status       JobStatus
	CreatedAt    time.Time
}

// ArtifactRef names an artifact a Job requires without embedding its bytes.
type ArtifactRef struct {
	ArtifactID string
	Name       string
}

// QueuedJob wraps a Job with queue bookkeeping.
type QueuedJob struct {
	Job        *Job
	RetryCount int
	EnqueuedAt time.Time
}

// WorkerStatus is the lifecycle state of a registered Worker.
type WorkerStatus string

const (
	WorkerProvisioning WorkerStatus = "provisioning"
	WorkerReady        WorkerStatus = "ready"
	WorkerBusy         WorkerStatus = "busy"
	WorkerTerminating  WorkerStatus = "terminating"
	WorkerFailed       WorkerStatus = "failed"
	WorkerOffline      WorkerStatus = "offline"
)

// Worker is a single ephemeral compute instance belonging to a Pool.
type Worker struct {
	ID             string
	Name           string
	PoolID         string
	Status         WorkerStatus
	Capabilities   map[string]string
	ActiveJobCount int
	ProviderName   string // which Provider created this worker
	CreatedAt      time.Time
	LastHeartbeat  time.Time
}

// Satisfies reports whether the worker's capabilities satisfy requirements.
// Matching is exact key/value equality (spec.md S6).
func (w *Worker) Satisfies(requirements map[string]string) bool {
	for k, v := range requirements {
		if w.Capabilities[k] != v {
			return false
		}
	}
	return true
}

// ResourceQuantity is a parsed, unit-normalized resource amount.
// CPU is stored in millicores, memory/disk/storage in bytes.
type ResourceQuantity struct {
	CPUMillis    int64
	MemoryBytes  int64
	StorageBytes int64
}

// VolumeMount describes a mount point for a worker template.
type VolumeMount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// SecurityContext constrains the privileges a worker's container may run with.
type SecurityContext struct {
	AllowPrivilegeEscalation bool
	AddCapabilities          []string
}

// PortSpec declares a container port a worker template exposes.
type PortSpec struct {
	ContainerPort int
	Protocol      string // TCP, UDP, SCTP
}

// WorkerTemplate is the recipe used by a Provider to manufacture a Worker.
type WorkerTemplate struct {
	Image           string
	Resources       ResourceQuantity
	ResourcesRaw    RawResources // as submitted, before parsing
	Env             map[string]string
	Labels          map[string]string
	CapabilityHints map[string]string
	NodeSelector    map[string]string
	VolumeMounts    []VolumeMount
	Ports           []PortSpec
	Security        SecurityContext
}

// RawResources carries the unparsed, human-supplied resource strings
// (e.g. "500m", "256Mi") as accepted at the API boundary.
type RawResources struct {
	CPU     string
	Memory  string
	Storage string
}

// ScalingPolicy governs a Pool's auto-scaling behavior.
type ScalingPolicy struct {
	Min           int
	Max           int
	UpThreshold   float64 // busy/total utilization that triggers scale-up
	DownThreshold float64 // utilization below which scale-down is considered
	CoolDown      time.Duration
}

// PoolStatus is the lifecycle state of a Pool.
type PoolStatus string

const (
	PoolActive      PoolStatus = "active"
	PoolScalingUp   PoolStatus = "scaling_up"
	PoolScalingDown PoolStatus = "scaling_down"
	PoolDraining    PoolStatus = "draining"
	PoolTerminated  PoolStatus = "terminated"
)

// Pool is a bounded collection of workers sharing a template and policy.
type Pool struct {
	ID           string
	Name         string
	Template     WorkerTemplate
	Policy       ScalingPolicy
	DesiredSize  int
	Status       PoolStatus
	ProviderName string
	CreatedAt    time.Time
	LastScaled   time.Time
}

// Execution links a Running Job to the Worker executing it.
type Execution struct {
	ID        string
	JobID     string
	WorkerID  string
	StartedAt time.Time
	EndedAt   time.Time
	Success   bool
	ExitCode  int
	Error     string
}

// CompressionKind names the compression applied to an artifact chunk stream.
type CompressionKind string

const (
	CompressionNone CompressionKind = "none"
	CompressionGzip CompressionKind = "gzip"
	CompressionZstd CompressionKind = "zstd"
)

// Artifact is a content-addressed binary input to a job.
type Artifact struct {
	ID          string
	Name        string
	Size        int64
	Checksum    string // hex-encoded SHA-256
	Compression CompressionKind
}

// ResourceAvailability is a point-in-time snapshot from the Resource Monitor.
type ResourceAvailability struct {
	TotalCPUMillis       int64
	AvailableCPUMillis   int64
	TotalMemoryBytes     int64
	AvailableMemoryBytes int64
	TotalNodes           int
	AvailableNodes       int
}
