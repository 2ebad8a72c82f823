// Package storage defines pluggable persistence for jobs and pools. The
// orchestrator itself is stateless between restarts except for what's
// written here: job/pool definitions and execution history survive a
// coordinator restart, queue contents and live worker sessions do not.
package storage

import (
	"errors"

	"github.com/cuemby/fleetforge/pkg/types"
)

// ErrNotFound is returned by Get methods when no record exists for the id.
var ErrNotFound = errors.New("storage: not found")

// JobRepository persists Job definitions and their terminal outcomes.
type JobRepository interface {
	CreateJob(job *types.Job) error
	GetJob(id string) (*types.Job, error)
	ListJobs() ([]*types.Job, error)
	UpdateJob(job *types.Job) error
	DeleteJob(id string) error

	CreateExecution(exec *types.Execution) error
	ListExecutionsByJob(jobID string) ([]*types.Execution, error)
}

// PoolRepository persists Pool and Worker records.
type PoolRepository interface {
	CreatePool(pool *types.Pool) error
	GetPool(id string) (*types.Pool, error)
	ListPools() ([]*types.Pool, error)
	UpdatePool(pool *types.Pool) error
	DeletePool(id string) error

	CreateWorker(worker *types.Worker) error
	GetWorker(id string) (*types.Worker, error)
	ListWorkersByPool(poolID string) ([]*types.Worker, error)
	UpdateWorker(worker *types.Worker) error
	DeleteWorker(id string) error

	Close() error
}
