// Package adminapi serves fleetctl's unary AdminAPI (SPEC_FULL.md's ambient
// CLI surface): submit a job, check its status, list pools. It sits beside
// channelhub.Hub on the same gRPC server but never touches the worker
// session protocol — wiring for it lives entirely in cmd/fleetforged.
package adminapi

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/fleetforge/api/proto"
	"github.com/cuemby/fleetforge/pkg/log"
	"github.com/cuemby/fleetforge/pkg/pool"
	"github.com/cuemby/fleetforge/pkg/queue"
	"github.com/cuemby/fleetforge/pkg/storage"
	"github.com/cuemby/fleetforge/pkg/types"
)

// Server implements proto.AdminAPIServer over the orchestrator's queue,
// job repository, and pool manager.
type Server struct {
	proto.UnimplementedAdminAPIServer

	queue *queue.Queue
	jobs  storage.JobRepository
	pools *pool.Manager
	log   zerolog.Logger
}

// New constructs a Server.
func New(q *queue.Queue, jobs storage.JobRepository, pools *pool.Manager) *Server {
	return &Server{queue: q, jobs: jobs, pools: pools, log: log.WithComponent("adminapi")}
}

// SubmitJob creates the job record and enqueues it.
func (s *Server) SubmitJob(ctx context.Context, req *proto.SubmitJobRequest) (*proto.SubmitJobResponse, error) {
	job := &types.Job{
		ID:           req.ID,
		Name:         req.Name,
		Command:      req.Command,
		Script:       req.Script,
		Priority:     types.JobPriority(req.Priority),
		Requirements: req.Requirements,
		Labels:       req.Labels,
		Deadline:     req.Deadline,
		MaxRetries:   int(req.MaxRetries),
		Status:       types.JobQueued,
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = types.DefaultMaxRetries
	}

	if err := s.jobs.CreateJob(job); err != nil {
		return nil, fmt.Errorf("create job record: %w", err)
	}

	result := s.queue.Enqueue(job)
	resp := &proto.SubmitJobResponse{QueueSize: int32(result.QueueSize)}
	switch result.Kind {
	case queue.EnqueueSuccess:
		resp.Accepted = true
		s.log.Info().Str("job_id", job.ID).Msg("job submitted")
	default:
		resp.Accepted = false
		resp.Reason = result.Reason
	}
	return resp, nil
}

// GetJob reports a submitted job's current status.
func (s *Server) GetJob(ctx context.Context, req *proto.GetJobRequest) (*proto.GetJobResponse, error) {
	job, err := s.jobs.GetJob(req.ID)
	if err != nil {
		return nil, err
	}
	return &proto.GetJobResponse{Job: &proto.JobInfo{
		ID:        job.ID,
		Name:      job.Name,
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt,
	}}, nil
}

// CreatePool validates and creates a pool from a fleetctl apply manifest.
func (s *Server) CreatePool(ctx context.Context, req *proto.CreatePoolRequest) (*proto.CreatePoolResponse, error) {
	spec := types.Pool{
		Name:         req.Name,
		ProviderName: req.ProviderName,
		Template: types.WorkerTemplate{
			Image:        req.Image,
			Env:          req.Env,
			NodeSelector: req.NodeSelector,
			ResourcesRaw: types.RawResources{CPU: req.CPU, Memory: req.Memory},
		},
		Policy: types.ScalingPolicy{
			Min:           int(req.Min),
			Max:           int(req.Max),
			UpThreshold:   req.UpThreshold,
			DownThreshold: req.DownThreshold,
		},
	}

	result := s.pools.CreatePool(ctx, spec)
	if result.Kind != pool.CreateSuccess {
		reason := "pool rejected"
		if len(result.Errors) > 0 {
			reason = result.Errors[0]
		}
		return &proto.CreatePoolResponse{Accepted: false, Reason: reason}, nil
	}

	s.log.Info().Str("pool_id", result.Pool.ID).Str("name", result.Pool.Name).Msg("pool created via apply")
	return &proto.CreatePoolResponse{
		Accepted: true,
		Pool: &proto.PoolInfo{
			ID:          result.Pool.ID,
			Name:        result.Pool.Name,
			Status:      string(result.Pool.Status),
			DesiredSize: int32(result.Pool.DesiredSize),
		},
	}, nil
}

// ListPools reports every pool's current desired/ready/busy counts.
func (s *Server) ListPools(ctx context.Context, req *proto.ListPoolsRequest) (*proto.ListPoolsResponse, error) {
	pools := s.pools.ListPools()
	resp := &proto.ListPoolsResponse{Pools: make([]*proto.PoolInfo, 0, len(pools))}
	for _, p := range pools {
		m, err := s.pools.GetMetrics(p.ID)
		if err != nil {
			continue
		}
		resp.Pools = append(resp.Pools, &proto.PoolInfo{
			ID:          p.ID,
			Name:        p.Name,
			Status:      string(p.Status),
			DesiredSize: int32(p.DesiredSize),
			ReadyCount:  int32(m.ReadyCount),
			BusyCount:   int32(m.BusyCount),
		})
	}
	return resp, nil
}
