package storage

import (
	"sync"

	"github.com/cuemby/fleetforge/pkg/types"
)

// MemoryStore is an in-memory JobRepository/PoolRepository used by tests and
// by fleetforged when run with no data directory configured.
type MemoryStore struct {
	mu sync.RWMutex

	jobs       map[string]*types.Job
	executions []*types.Execution
	pools      map[string]*types.Pool
	workers    map[string]*types.Worker
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string]*types.Job),
		pools:   make(map[string]*types.Pool),
		workers: make(map[string]*types.Worker),
	}
}

func (s *MemoryStore) Close() error { return nil }

// Jobs

func (s *MemoryStore) CreateJob(job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *MemoryStore) GetJob(id string) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

func (s *MemoryStore) ListJobs() ([]*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		cp := *job
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) UpdateJob(job *types.Job) error {
	return s.CreateJob(job)
}

func (s *MemoryStore) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

func (s *MemoryStore) CreateExecution(exec *types.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *exec
	s.executions = append(s.executions, &cp)
	return nil
}

func (s *MemoryStore) ListExecutionsByJob(jobID string) ([]*types.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Execution
	for _, exec := range s.executions {
		if exec.JobID == jobID {
			cp := *exec
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Pools

func (s *MemoryStore) CreatePool(pool *types.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *pool
	s.pools[pool.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPool(id string) (*types.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pool, ok := s.pools[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *pool
	return &cp, nil
}

func (s *MemoryStore) ListPools() ([]*types.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Pool, 0, len(s.pools))
	for _, pool := range s.pools {
		cp := *pool
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) UpdatePool(pool *types.Pool) error {
	return s.CreatePool(pool)
}

func (s *MemoryStore) DeletePool(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pools, id)
	return nil
}

// Workers

func (s *MemoryStore) CreateWorker(worker *types.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *worker
	s.workers[worker.ID] = &cp
	return nil
}

func (s *MemoryStore) GetWorker(id string) (*types.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	worker, ok := s.workers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *worker
	return &cp, nil
}

func (s *MemoryStore) ListWorkersByPool(poolID string) ([]*types.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Worker
	for _, worker := range s.workers {
		if poolID == "" || worker.PoolID == poolID {
			cp := *worker
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateWorker(worker *types.Worker) error {
	return s.CreateWorker(worker)
}

func (s *MemoryStore) DeleteWorker(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workers, id)
	return nil
}
