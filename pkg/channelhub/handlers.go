package channelhub

import (
	"github.com/cuemby/fleetforge/api/proto"
	"github.com/cuemby/fleetforge/pkg/events"
	"github.com/cuemby/fleetforge/pkg/metrics"
	"github.com/cuemby/fleetforge/pkg/types"
)

// handleHeartbeat updates liveness/load and, on a Ready worker with no
// active jobs, attempts to pull the next matching job off the queue
// (SPEC_FULL.md S4.4 point 2-3).
func (h *Hub) handleHeartbeat(sess *session, hb *proto.Heartbeat) error {
	if hb == nil {
		return nil
	}
	metrics.HeartbeatsTotal.Inc()
	sess.touchHeartbeat(h.cfg.Clock.Now(), hb.ActiveJobs)

	if sess.getState() == stateReady && hb.ActiveJobs == 0 {
		h.tryDispatch(sess)
	}
	return nil
}

// handleStatusUpdate processes a job status transition. On a terminal
// status it finalizes the Execution, updates the Job, frees the worker,
// and attempts to pull the next job.
func (h *Hub) handleStatusUpdate(sess *session, su *proto.StatusUpdate) error {
	if su == nil {
		return nil
	}
	status := types.JobStatus(su.Status)

	if status == types.JobRunning {
		sess.setState(stateBusy)
		h.setWorkerStatus(sess, types.WorkerBusy, 1)
		return nil
	}
	if !status.Terminal() {
		return nil
	}

	if h.cfg.Jobs != nil {
		if job, err := h.cfg.Jobs.GetJob(su.JobID); err == nil {
			job.Status = status
			_ = h.cfg.Jobs.UpdateJob(job)
		}
		exec := &types.Execution{
			ID:       su.ExecutionID,
			JobID:    su.JobID,
			WorkerID: sess.workerID,
			EndedAt:  su.Timestamp,
			Success:  status == types.JobCompleted,
			ExitCode: int(su.ExitCode),
			Error:    su.Error,
		}
		_ = h.cfg.Jobs.CreateExecution(exec)
	}

	evType := events.TypeJobCompleted
	if status != types.JobCompleted {
		evType = events.TypeJobFailed
	}
	h.publish(evType, su.JobID, "job reached terminal status "+string(status))
	metrics.JobsTerminalTotal.WithLabelValues(string(status)).Inc()

	sess.mu.Lock()
	sess.currentJobID = ""
	sess.currentExecID = ""
	sess.mu.Unlock()

	sess.setState(stateReady)
	h.setWorkerStatus(sess, types.WorkerReady, 0)
	h.tryDispatch(sess)
	return nil
}

// handleOutputChunk forwards streamed stdout/stderr onto the event bus,
// tagged with the job and execution it belongs to.
func (h *Hub) handleOutputChunk(sess *session, oc *proto.OutputChunk) error {
	if oc == nil {
		return nil
	}
	h.publish(events.Type("job.output"), oc.JobID, string(oc.Data))
	return nil
}

func (h *Hub) handleControlAck(sess *session, ack *proto.ControlAck) error {
	if ack == nil {
		return nil
	}
	select {
	case sess.controlAckCh <- ack:
	default:
		<-sess.controlAckCh
		sess.controlAckCh <- ack
	}
	return nil
}

func (h *Hub) handleCacheResponse(sess *session, resp *proto.CacheResponse) error {
	if resp == nil {
		return nil
	}
	select {
	case sess.cacheRespCh <- resp:
	default:
		<-sess.cacheRespCh
		sess.cacheRespCh <- resp
	}
	return nil
}

func (h *Hub) handleArtifactAck(sess *session, ack *proto.ArtifactAck) error {
	if ack == nil {
		return nil
	}
	select {
	case sess.artifactAckCh <- ack:
	default:
		<-sess.artifactAckCh
		sess.artifactAckCh <- ack
	}
	return nil
}

// failInFlightJob requeues (or, once it has exhausted MaxRetries, Fails) a
// session's currently dispatched/busy job, mirroring the teacher's "channel
// lost" failure semantics (SPEC_FULL.md S4.4 Failure semantics).
func (h *Hub) failInFlightJob(sess *session, reason string) {
	sess.mu.Lock()
	jobID := sess.currentJobID
	sess.currentJobID = ""
	sess.currentExecID = ""
	sess.mu.Unlock()

	if jobID == "" {
		return
	}
	if h.cfg.Jobs == nil {
		return
	}
	job, err := h.cfg.Jobs.GetJob(jobID)
	if err != nil {
		return
	}
	requeued := h.cfg.Queue != nil && h.cfg.Queue.Requeue(job, job.RetryCount)
	if requeued {
		_ = h.cfg.Jobs.UpdateJob(job)
		h.publish(events.TypeJobRequeued, jobID, reason)
		return
	}
	job.Status = types.JobFailed
	_ = h.cfg.Jobs.UpdateJob(job)
	metrics.JobsTerminalTotal.WithLabelValues(string(types.JobFailed)).Inc()
	h.publish(events.TypeJobFailed, jobID, reason+" (retry limit exceeded)")
}
