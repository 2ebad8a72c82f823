package channelhub

import (
	"fmt"

	"github.com/cuemby/fleetforge/api/proto"
	"github.com/cuemby/fleetforge/pkg/events"
	"github.com/cuemby/fleetforge/pkg/types"
)

// Control signal names carried on the wire (SPEC_FULL.md S4.4 point 6).
const (
	SignalCancel = "cancel"
	SignalPause  = "pause"
	SignalResume = "resume"
)

// SendControlSignal delivers a Cancel/Pause/Resume signal to the worker
// running jobID and waits for acknowledgement. A Cancel that times out
// without an ack forces the worker Failed and terminates the session
// (SPEC_FULL.md S4.4 point 6).
func (h *Hub) SendControlSignal(workerID, jobID, signal string) error {
	sess, ok := h.getSession(workerID)
	if !ok {
		return fmt.Errorf("no active session for worker %s", workerID)
	}

	if signal == SignalCancel && sess.cancelStagingIfMatch(jobID) {
		// Job never reached the worker: no ControlSignal to send, no ack to
		// wait for. Cancel it locally (SPEC_FULL.md S8 scenario 6).
		h.endCacheVerification(jobID)
		h.markJobCancelled(sess, jobID)
		return nil
	}

	if !sess.send(&proto.Envelope{
		Type:          proto.MessageControlSignal,
		ControlSignal: &proto.ControlSignal{JobID: jobID, Signal: signal},
	}) {
		return fmt.Errorf("session for worker %s is closed", workerID)
	}

	select {
	case ack := <-sess.controlAckCh:
		if !ack.Acknowledged {
			return fmt.Errorf("worker %s declined %s for job %s", workerID, signal, jobID)
		}
		if signal == SignalCancel {
			h.markJobCancelled(sess, jobID)
		}
		return nil
	case <-h.cfg.Clock.After(h.cfg.ControlAckTimeout):
		if signal == SignalCancel {
			h.log.Warn().Str("worker_id", workerID).Str("job_id", jobID).Msg("control ack timeout, forcing worker failed")
			h.markOffline(sess)
			sess.close()
		}
		return fmt.Errorf("timed out waiting for %s ack from worker %s", signal, workerID)
	case <-sess.closed:
		return fmt.Errorf("session for worker %s closed while awaiting ack", workerID)
	}
}

func (h *Hub) markJobCancelled(sess *session, jobID string) {
	sess.mu.Lock()
	if sess.currentJobID == jobID {
		sess.currentJobID = ""
	}
	sess.mu.Unlock()

	if h.cfg.Jobs != nil {
		if job, err := h.cfg.Jobs.GetJob(jobID); err == nil {
			job.Status = types.JobCancelled
			_ = h.cfg.Jobs.UpdateJob(job)
		}
	}
	h.publish(events.TypeJobFailed, jobID, "job cancelled")
	sess.setState(stateReady)
	h.setWorkerStatus(sess, types.WorkerReady, 0)
}
