package storage

import (
	"testing"

	"github.com/cuemby/fleetforge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreJobCRUD(t *testing.T) {
	s := NewMemoryStore()

	job := &types.Job{ID: "job-1", Name: "test"}
	require.NoError(t, s.CreateJob(job))

	got, err := s.GetJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, "test", got.Name)

	job.Name = "renamed"
	require.NoError(t, s.UpdateJob(job))
	got, _ = s.GetJob("job-1")
	assert.Equal(t, "renamed", got.Name)

	require.NoError(t, s.DeleteJob("job-1"))
	_, err = s.GetJob("job-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreReturnsIndependentCopies(t *testing.T) {
	s := NewMemoryStore()
	job := &types.Job{ID: "job-1", Name: "test"}
	require.NoError(t, s.CreateJob(job))

	got, _ := s.GetJob("job-1")
	got.Name = "mutated"

	fresh, _ := s.GetJob("job-1")
	assert.Equal(t, "test", fresh.Name)
}

func TestMemoryStorePoolAndWorkerCRUD(t *testing.T) {
	s := NewMemoryStore()

	pool := &types.Pool{ID: "pool-1", Name: "default"}
	require.NoError(t, s.CreatePool(pool))

	worker := &types.Worker{ID: "w-1", PoolID: "pool-1"}
	require.NoError(t, s.CreateWorker(worker))

	workers, err := s.ListWorkersByPool("pool-1")
	require.NoError(t, err)
	assert.Len(t, workers, 1)

	require.NoError(t, s.DeletePool("pool-1"))
	_, err = s.GetPool("pool-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreListExecutionsByJob(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.CreateExecution(&types.Execution{ID: "e1", JobID: "job-1"}))
	require.NoError(t, s.CreateExecution(&types.Execution{ID: "e2", JobID: "job-2"}))

	execs, err := s.ListExecutionsByJob("job-1")
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, "e1", execs[0].ID)
}
