package channelhub

import (
	"time"

	"github.com/cuemby/fleetforge/api/proto"
	"github.com/cuemby/fleetforge/pkg/events"
	"github.com/cuemby/fleetforge/pkg/metrics"
	"github.com/cuemby/fleetforge/pkg/types"
)

// pendingCacheVerification is spec.md S3's PendingCacheVerification entity:
// a transient record of one in-flight CacheQuery, alive only between the
// query's send and its CacheResponse (or TTL expiry at CacheResponseWindow).
type pendingCacheVerification struct {
	JobID       string
	WorkerID    string
	RequestedAt time.Time
}

// startCacheVerification records a pending verification for jobID on
// sess's worker.
func (h *Hub) startCacheVerification(sess *session, jobID string) {
	h.verifyMu.Lock()
	h.pending[jobID] = &pendingCacheVerification{JobID: jobID, WorkerID: sess.workerID, RequestedAt: h.cfg.Clock.Now()}
	h.verifyMu.Unlock()
}

// endCacheVerification purges jobID's pending verification, whether it
// resolved via CacheResponse, TTL expiry, or cancellation.
func (h *Hub) endCacheVerification(jobID string) {
	h.verifyMu.Lock()
	delete(h.pending, jobID)
	h.verifyMu.Unlock()
}

// tryDispatch looks for a queued job this worker satisfies and, if found,
// stages its artifacts and dispatches it. Runs staging on its own goroutine
// so the session's reader loop (this call originates from a Heartbeat
// handler) keeps processing incoming messages while staging waits on
// CacheResponse/ArtifactAck round trips.
func (h *Hub) tryDispatch(sess *session) {
	if h.cfg.Queue == nil {
		return
	}

	var candidate *types.Worker
	if sess.poolID != "" && h.cfg.Pools != nil {
		if w, err := h.cfg.Pools.GetWorker(sess.poolID, sess.workerID); err == nil {
			candidate = w
		}
	}
	if candidate == nil {
		candidate = &types.Worker{ID: sess.workerID, PoolID: sess.poolID, Status: types.WorkerReady}
	}

	qj := h.cfg.Queue.PeekNextFor([]*types.Worker{candidate})
	if qj == nil {
		return
	}
	h.cfg.Queue.Dequeue(qj.Job.ID)
	sess.setState(stateStaging)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.stageAndDispatch(sess, qj.Job)
	}()
}

// stageAndDispatch runs the cache-aware artifact transfer protocol
// (SPEC_FULL.md S4.5) for job's required artifacts, then sends the single
// JobRequest dispatching it. On a transfer or send failure the job is
// requeued (or Failed once its retries are exhausted) and the session
// returns to Ready; an artifact chunk sequence violation instead fails the
// job and terminates the session. A Cancel control signal received mid-staging
// (SPEC_FULL.md S8 scenario 6) aborts before the JobRequest is ever sent:
// no further ArtifactChunks go out, the job goes Queued->Cancelled, and the
// worker stays Ready.
func (h *Hub) stageAndDispatch(sess *session, job *types.Job) {
	timer := metrics.NewTimer()

	cancelCh := sess.beginStaging(job.ID)
	defer sess.endStaging()

	artifactIDs := make([]string, 0, len(job.Artifacts))
	for _, a := range job.Artifacts {
		artifactIDs = append(artifactIDs, a.ArtifactID)
	}

	if len(artifactIDs) > 0 {
		statuses, cancelled := h.queryCache(sess, job.ID, artifactIDs, cancelCh)
		if cancelled {
			h.markJobCancelled(sess, job.ID)
			return
		}
		for _, st := range statuses {
			select {
			case <-cancelCh:
				h.markJobCancelled(sess, job.ID)
				return
			default:
			}
			if st.Cached {
				metrics.ArtifactCacheHitsTotal.Inc()
				continue
			}
			switch h.transferArtifact(sess, job.ID, st.ArtifactID, cancelCh) {
			case transferOK:
			case transferCancelled:
				h.markJobCancelled(sess, job.ID)
				return
			case transferProtocolViolation:
				h.terminateForProtocolViolation(sess, job, "artifact chunk sequence violation for "+st.ArtifactID)
				return
			default:
				h.abortDispatch(sess, job, "artifact transfer failed for "+st.ArtifactID)
				return
			}
		}
	}

	select {
	case <-cancelCh:
		h.markJobCancelled(sess, job.ID)
		return
	default:
	}

	sess.mu.Lock()
	sess.currentJobID = job.ID
	sess.mu.Unlock()

	req := &proto.Envelope{
		Type: proto.MessageJobRequest,
		JobRequest: &proto.JobRequest{
			JobDefinition: &proto.JobDefinition{
				ID:           job.ID,
				Name:         job.Name,
				Command:      job.Command,
				Script:       job.Script,
				Priority:     int32(job.Priority),
				Requirements: job.Requirements,
				Labels:       job.Labels,
				Deadline:     job.Deadline,
				MaxRetries:   int32(job.MaxRetries),
			},
			RequiredArtifacts: artifactIDs,
		},
	}
	if !sess.send(req) {
		h.abortDispatch(sess, job, "send failed dispatching job")
		return
	}

	sess.setState(stateDispatched)
	h.setWorkerStatus(sess, types.WorkerBusy, 1)
	h.publish(events.TypeJobDispatched, job.ID, "dispatched to worker "+sess.workerID)
	timer.ObserveDuration(metrics.DispatchLatency)
}

// terminateForProtocolViolation forces the worker Failed, terminates its
// session, and fails job with a reason identifying the violation
// (SPEC_FULL.md S8 scenario 5: a gapped artifact chunk sequence is a
// protocol violation, not an ordinary transfer failure, so the job is
// failed outright rather than requeued and the worker is not trusted with
// further dispatches).
func (h *Hub) terminateForProtocolViolation(sess *session, job *types.Job, reason string) {
	h.log.Warn().Str("worker_id", sess.workerID).Str("job_id", job.ID).Msg(reason)

	job.Status = types.JobFailed
	if h.cfg.Jobs != nil {
		_ = h.cfg.Jobs.UpdateJob(job)
	}
	metrics.JobsTerminalTotal.WithLabelValues(string(types.JobFailed)).Inc()
	h.publish(events.TypeJobFailed, job.ID, "protocol violation: "+reason)

	sess.mu.Lock()
	sess.currentJobID = ""
	sess.currentExecID = ""
	sess.mu.Unlock()

	h.markOffline(sess)
	sess.close()
}

// abortDispatch requeues job (or, once it has exhausted MaxRetries, marks
// it permanently Failed) and returns the session to Ready after a staging
// or dispatch failure.
func (h *Hub) abortDispatch(sess *session, job *types.Job, reason string) {
	h.log.Warn().Str("worker_id", sess.workerID).Str("job_id", job.ID).Msg(reason)
	requeued := h.cfg.Queue != nil && h.cfg.Queue.Requeue(job, job.RetryCount)
	if requeued {
		h.publish(events.TypeJobRequeued, job.ID, reason)
	} else {
		job.Status = types.JobFailed
		if h.cfg.Jobs != nil {
			_ = h.cfg.Jobs.UpdateJob(job)
		}
		metrics.JobsTerminalTotal.WithLabelValues(string(types.JobFailed)).Inc()
		h.publish(events.TypeJobFailed, job.ID, reason+" (retry limit exceeded)")
	}
	sess.setState(stateReady)
	h.setWorkerStatus(sess, types.WorkerReady, 0)
}

// queryCache asks the worker which of artifactIDs it already holds,
// treating a silent worker as needing every artifact transferred
// (SPEC_FULL.md S4.5 point 2). The second return value reports whether
// cancelCh closed before a response arrived (SPEC_FULL.md S8 scenario 6);
// callers must not act on the returned statuses when it is true.
func (h *Hub) queryCache(sess *session, jobID string, artifactIDs []string, cancelCh <-chan struct{}) ([]proto.ArtifactCacheStatus, bool) {
	h.startCacheVerification(sess, jobID)
	defer h.endCacheVerification(jobID)

	sess.send(&proto.Envelope{
		Type:       proto.MessageCacheQuery,
		CacheQuery: &proto.CacheQuery{JobID: jobID, ArtifactIDs: artifactIDs},
	})

	select {
	case resp := <-sess.cacheRespCh:
		return resp.Artifacts, false
	case <-h.cfg.Clock.After(h.cfg.CacheResponseWindow):
		out := make([]proto.ArtifactCacheStatus, len(artifactIDs))
		for i, id := range artifactIDs {
			out[i] = proto.ArtifactCacheStatus{ArtifactID: id, NeedsTransfer: true}
		}
		return out, false
	case <-cancelCh:
		return nil, true
	case <-sess.closed:
		return nil, false
	}
}

// transferOutcome is the sealed result of transferArtifact.
type transferOutcome int

const (
	transferOK transferOutcome = iota
	transferFailed
	transferProtocolViolation
	transferCancelled
)

// transferArtifact streams one artifact's chunks and waits for its ack.
// Returns transferFailed on checksum mismatch, timeout, or session loss,
// transferProtocolViolation when the worker itself rejects the transfer as
// malformed (e.g. a chunk sequence gap), and transferCancelled if cancelCh
// closes before the ack arrives (SPEC_FULL.md S8 scenario 6).
func (h *Hub) transferArtifact(sess *session, jobID, artifactID string, cancelCh <-chan struct{}) transferOutcome {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ArtifactTransferDuration)

	select {
	case <-cancelCh:
		return transferCancelled
	default:
	}

	stored, ok := h.cfg.Artifacts.Get(artifactID)
	if !ok {
		h.log.Warn().Str("artifact_id", artifactID).Msg("artifact not found in store")
		return transferFailed
	}

	compression, payload, err := compressPayload(stored.Data, types.CompressionZstd)
	if err != nil {
		h.log.Warn().Err(err).Str("artifact_id", artifactID).Msg("compression failed")
		return transferFailed
	}

	chunks := splitChunks(payload)
	for i, c := range chunks {
		select {
		case <-cancelCh:
			return transferCancelled
		default:
		}
		chunk := &proto.ArtifactChunk{
			ArtifactID:   artifactID,
			Sequence:     uint64(i),
			Data:         c,
			IsLast:       i == len(chunks)-1,
			Compression:  compression,
			OriginalSize: int64(len(stored.Data)),
		}
		if !sess.send(&proto.Envelope{Type: proto.MessageArtifactChunk, ArtifactChunk: chunk}) {
			return transferFailed
		}
		metrics.ArtifactBytesTransferred.Add(float64(len(c)))
	}

	select {
	case ack := <-sess.artifactAckCh:
		if ack.ProtocolViolation {
			metrics.ProtocolViolationsTotal.WithLabelValues("artifact_chunk_gap").Inc()
			return transferProtocolViolation
		}
		if ack.ArtifactID != artifactID || !ack.Success {
			return transferFailed
		}
		if ack.CalculatedChecksum != stored.Checksum {
			h.log.Warn().Str("artifact_id", artifactID).
				Str("expected_checksum", stored.Checksum).
				Str("calculated_checksum", ack.CalculatedChecksum).
				Msg("artifact checksum mismatch")
			return transferFailed
		}
		return transferOK
	case <-h.cfg.Clock.After(h.cfg.ArtifactAckTimeout):
		h.log.Warn().Str("artifact_id", artifactID).Str("worker_id", sess.workerID).Msg("artifact ack timed out")
		return transferFailed
	case <-cancelCh:
		return transferCancelled
	case <-sess.closed:
		return transferFailed
	}
}
