// Package channelhub implements the Worker Channel Hub (SPEC_FULL.md S4.4):
// one bidirectional gRPC stream per registered worker, multiplexing
// registration, heartbeats, job dispatch, status updates, output streaming,
// control signals, and the cache-aware artifact transfer protocol (S4.5)
// over a single logical Envelope channel.
package channelhub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/fleetforge/api/proto"
	"github.com/cuemby/fleetforge/pkg/clock"
	"github.com/cuemby/fleetforge/pkg/events"
	"github.com/cuemby/fleetforge/pkg/log"
	"github.com/cuemby/fleetforge/pkg/metrics"
	"github.com/cuemby/fleetforge/pkg/pool"
	"github.com/cuemby/fleetforge/pkg/queue"
	"github.com/cuemby/fleetforge/pkg/storage"
	"github.com/cuemby/fleetforge/pkg/types"
)

// DefaultHeartbeatInterval is the cadence workers are expected to heartbeat
// at; a worker silent for 3x this interval is marked Offline.
const DefaultHeartbeatInterval = 10 * time.Second

// DefaultCacheResponseWindow bounds how long the hub waits for a worker's
// CacheResponse before treating every artifact as needing transfer.
const DefaultCacheResponseWindow = 5 * time.Second

// DefaultControlAckTimeout bounds how long the hub waits for a ControlAck
// before forcing the worker Failed and terminating the session.
const DefaultControlAckTimeout = 15 * time.Second

// DefaultArtifactAckTimeout bounds how long the hub waits for a worker's
// ArtifactAck before failing the transfer (SPEC_FULL.md S5 timeout table:
// "Artifact-ack per artifact = 30s").
const DefaultArtifactAckTimeout = 30 * time.Second

// Config configures a Hub.
type Config struct {
	Queue    *queue.Queue
	Pools    *pool.Manager
	Jobs     storage.JobRepository
	Bus      *events.Bus
	Clock    clock.Clock
	Artifacts ArtifactStore

	HeartbeatInterval   time.Duration
	CacheResponseWindow time.Duration
	ControlAckTimeout   time.Duration
	ArtifactAckTimeout  time.Duration
}

// Hub implements proto.ChannelHubServer: one Session call per worker.
type Hub struct {
	cfg Config
	log zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*session

	verifyMu sync.Mutex
	pending  map[string]*pendingCacheVerification

	stopCh chan struct{}
	stopOnce sync.Once
	wg     sync.WaitGroup
}

// New constructs a Hub. Callers must call Run to start the offline-sweep
// loop and Close on shutdown.
func New(cfg Config) *Hub {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.CacheResponseWindow <= 0 {
		cfg.CacheResponseWindow = DefaultCacheResponseWindow
	}
	if cfg.ControlAckTimeout <= 0 {
		cfg.ControlAckTimeout = DefaultControlAckTimeout
	}
	if cfg.ArtifactAckTimeout <= 0 {
		cfg.ArtifactAckTimeout = DefaultArtifactAckTimeout
	}
	if cfg.Artifacts == nil {
		cfg.Artifacts = NewMemoryArtifactStore()
	}
	return &Hub{
		cfg:      cfg,
		log:      log.WithComponent("channelhub"),
		sessions: make(map[string]*session),
		pending:  make(map[string]*pendingCacheVerification),
		stopCh:   make(chan struct{}),
	}
}

// Run starts the background sweep that marks silent workers Offline. It
// blocks until ctx is done or Close is called.
func (h *Hub) Run(ctx context.Context) {
	ticker := h.cfg.Clock.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			h.sweepOffline()
		case <-ctx.Done():
			return
		case <-h.stopCh:
			return
		}
	}
}

// Close terminates every live session and stops the sweep loop.
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stopCh) })

	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	h.wg.Wait()
}

func (h *Hub) sweepOffline() {
	deadline := h.cfg.Clock.Now().Add(-3 * h.cfg.HeartbeatInterval)

	h.mu.RLock()
	stale := make([]*session, 0)
	for _, s := range h.sessions {
		if s.getState() == stateInit {
			continue
		}
		if s.lastSeen().Before(deadline) {
			stale = append(stale, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range stale {
		h.log.Warn().Str("worker_id", s.workerID).Msg("worker missed heartbeat deadline, marking offline")
		h.markOffline(s)
		s.close()
	}
}

func (h *Hub) markOffline(s *session) {
	s.setState(stateTerminated)
	if s.poolID != "" && h.cfg.Pools != nil {
		_ = h.cfg.Pools.UpdateWorkerStatus(s.poolID, s.workerID, types.WorkerOffline, 0, time.Time{})
	}
	h.failInFlightJob(s, "worker channel lost")
	h.publish(events.TypeWorkerFailed, s.workerID, "worker marked offline")
}

func (h *Hub) publish(t events.Type, id, msg string) {
	if h.cfg.Bus == nil {
		return
	}
	h.cfg.Bus.Publish(&events.Event{Type: t, Timestamp: h.cfg.Clock.Now(), Message: msg, Metadata: map[string]string{"id": id}})
}

func (h *Hub) addSession(s *session) {
	h.mu.Lock()
	h.sessions[s.workerID] = s
	h.mu.Unlock()
	metrics.SessionsActive.Inc()
}

func (h *Hub) removeSession(s *session) {
	h.mu.Lock()
	if cur, ok := h.sessions[s.workerID]; ok && cur == s {
		delete(h.sessions, s.workerID)
		metrics.SessionsActive.Dec()
	}
	h.mu.Unlock()
}

func (h *Hub) getSession(workerID string) (*session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[workerID]
	return s, ok
}

// DispatchSweep attempts dispatch for every live Ready, idle session. The
// Orchestration Coordinator's 1 Hz queue processor (SPEC_FULL.md S4.7)
// calls this so a job enqueued between two heartbeats doesn't wait for the
// next one.
func (h *Hub) DispatchSweep() {
	h.mu.RLock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		s.mu.Lock()
		activeJobs := s.activeJobs
		s.mu.Unlock()
		if s.getState() == stateReady && activeJobs == 0 {
			h.tryDispatch(s)
		}
	}
}

// ActiveDispatch names a worker currently running a job, for graceful
// shutdown to cancel.
type ActiveDispatch struct {
	WorkerID string
	JobID    string
}

// ActiveDispatches lists every session with a job currently in flight.
func (h *Hub) ActiveDispatches() []ActiveDispatch {
	h.mu.RLock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	var out []ActiveDispatch
	for _, s := range sessions {
		s.mu.Lock()
		jobID := s.currentJobID
		s.mu.Unlock()
		if jobID != "" {
			out = append(out, ActiveDispatch{WorkerID: s.workerID, JobID: jobID})
		}
	}
	return out
}

// Session implements proto.ChannelHubServer. It starts the per-worker reader
// loop on its own goroutine (one goroutine per connected worker reads from
// the stream) and returns, ending the stream, once the worker disconnects or
// the hub closes the session (heartbeat sweep, control-ack timeout, protocol
// violation, Close). Writes go through session.writerLoop,
// fed by the buffered sendCh, so concurrent senders never interleave
// partial frames.
func (h *Hub) Session(stream proto.ChannelHub_SessionServer) error {
	env, err := stream.Recv()
	if err != nil {
		return err
	}
	if env.Type != proto.MessageRegister || env.Register == nil {
		metrics.ProtocolViolationsTotal.WithLabelValues("expected_register").Inc()
		return fmt.Errorf("first message on a session must be Register, got %s", env.Type)
	}

	sess := newSession(env.Register.WorkerID, stream)
	sess.poolID = env.Register.PoolID
	if sess.poolID == "" && h.cfg.Pools != nil {
		if pid, ok := h.cfg.Pools.FindPoolByWorker(sess.workerID); ok {
			sess.poolID = pid
		}
	}
	sess.touchHeartbeat(h.cfg.Clock.Now(), 0)
	sess.setState(stateReady)

	h.addSession(sess)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		sess.writerLoop()
	}()

	h.log.Info().Str("worker_id", sess.workerID).Str("pool_id", sess.poolID).Msg("worker registered")
	h.setWorkerStatus(sess, types.WorkerReady, 0)
	h.publish(events.TypeWorkerReady, sess.workerID, "worker registered")

	defer func() {
		sess.setState(stateTerminated)
		h.removeSession(sess)
		sess.close()
		h.failInFlightJob(sess, "worker channel lost")
	}()

	recvDone := make(chan struct{})
	go func() {
		defer close(recvDone)
		for {
			env, err := stream.Recv()
			if err != nil {
				return
			}
			if herr := h.handle(sess, env); herr != nil {
				h.log.Warn().Err(herr).Str("worker_id", sess.workerID).Str("message_type", env.Type.String()).Msg("error handling message")
			}
		}
	}()

	select {
	case <-recvDone:
	case <-sess.closed:
	}
	return nil
}

func (h *Hub) setWorkerStatus(sess *session, status types.WorkerStatus, activeJobs int) {
	if sess.poolID == "" || h.cfg.Pools == nil {
		return
	}
	if err := h.cfg.Pools.UpdateWorkerStatus(sess.poolID, sess.workerID, status, activeJobs, h.cfg.Clock.Now()); err != nil {
		h.log.Debug().Err(err).Str("worker_id", sess.workerID).Msg("worker status sync skipped")
	}
}

// handle routes one inbound Envelope by its MessageType.
func (h *Hub) handle(sess *session, env *proto.Envelope) error {
	switch env.Type {
	case proto.MessageHeartbeat:
		return h.handleHeartbeat(sess, env.Heartbeat)
	case proto.MessageStatusUpdate:
		return h.handleStatusUpdate(sess, env.StatusUpdate)
	case proto.MessageOutputChunk:
		return h.handleOutputChunk(sess, env.OutputChunk)
	case proto.MessageControlAck:
		return h.handleControlAck(sess, env.ControlAck)
	case proto.MessageCacheResponse:
		return h.handleCacheResponse(sess, env.CacheResponse)
	case proto.MessageArtifactAck:
		return h.handleArtifactAck(sess, env.ArtifactAck)
	case proto.MessageRegister:
		metrics.ProtocolViolationsTotal.WithLabelValues("duplicate_register").Inc()
		return fmt.Errorf("unexpected duplicate Register from worker %s", sess.workerID)
	default:
		metrics.ProtocolViolationsTotal.WithLabelValues("unknown_type").Inc()
		return fmt.Errorf("unhandled message type %s from worker %s", env.Type, sess.workerID)
	}
}
