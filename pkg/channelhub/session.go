package channelhub

import (
	"sync"
	"time"

	"github.com/cuemby/fleetforge/api/proto"
)

// sessionState is one state of the per-worker session state machine defined
// in SPEC_FULL.md S4.4.
type sessionState int32

const (
	stateInit sessionState = iota
	stateReady
	stateStaging
	stateDispatched
	stateBusy
	stateTerminated
)

func (s sessionState) String() string {
	switch s {
	case stateInit:
		return "init"
	case stateReady:
		return "ready"
	case stateStaging:
		return "staging"
	case stateDispatched:
		return "dispatched"
	case stateBusy:
		return "busy"
	case stateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// sendBufferSize bounds how many outbound envelopes a session's writer
// goroutine may queue before Send blocks the caller.
const sendBufferSize = 32

// session is the hub-side bookkeeping for one worker's bidirectional
// stream. Exactly one reader (the Session RPC's own goroutine, supplied by
// grpc) and one writer goroutine touch the stream; everything else
// synchronizes through channels or mu.
type session struct {
	workerID string
	poolID   string

	stream proto.ChannelHub_SessionServer

	mu             sync.Mutex
	state          sessionState
	activeJobs     int32
	lastHeartbeat  time.Time
	currentJobID   string
	currentExecID  string
	requiredArtIDs []string

	// stagingJobID/stagingCancel track the job currently moving through
	// stageAndDispatch so SendControlSignal can cancel it before it ever
	// reaches the worker (SPEC_FULL.md S8 scenario 6: cancel during
	// staging). nil/"" when no staging is in flight.
	stagingJobID  string
	stagingCancel chan struct{}

	sendCh chan *proto.Envelope
	closed chan struct{}
	once   sync.Once

	// Staging round-trip channels: buffered size 1 so a reader loop never
	// blocks delivering them, and a stale reply after a timeout is simply
	// dropped by the next overwrite.
	cacheRespCh  chan *proto.CacheResponse
	artifactAckCh chan *proto.ArtifactAck
	controlAckCh  chan *proto.ControlAck
}

func newSession(workerID string, stream proto.ChannelHub_SessionServer) *session {
	return &session{
		workerID:      workerID,
		stream:        stream,
		state:         stateInit,
		sendCh:        make(chan *proto.Envelope, sendBufferSize),
		closed:        make(chan struct{}),
		cacheRespCh:   make(chan *proto.CacheResponse, 1),
		artifactAckCh: make(chan *proto.ArtifactAck, 1),
		controlAckCh:  make(chan *proto.ControlAck, 1),
	}
}

func (s *session) setState(st sessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *session) getState() sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) touchHeartbeat(now time.Time, activeJobs int32) {
	s.mu.Lock()
	s.lastHeartbeat = now
	s.activeJobs = activeJobs
	s.mu.Unlock()
}

func (s *session) lastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}

// send queues env on the writer goroutine's channel. Returns false if the
// session is already closed.
func (s *session) send(env *proto.Envelope) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.sendCh <- env:
		return true
	case <-s.closed:
		return false
	}
}

// writerLoop drains sendCh to the stream until the session closes or a send
// fails, serializing every write so concurrent senders never interleave.
func (s *session) writerLoop() {
	for {
		select {
		case env, ok := <-s.sendCh:
			if !ok {
				return
			}
			if err := s.stream.Send(env); err != nil {
				s.close()
				return
			}
		case <-s.closed:
			return
		}
	}
}

// close idempotently signals the writer goroutine to stop. Safe to call
// from multiple goroutines.
func (s *session) close() {
	s.once.Do(func() { close(s.closed) })
}

// beginStaging records jobID as the job currently being staged and returns
// a channel that closes if SendControlSignal cancels it before dispatch.
func (s *session) beginStaging(jobID string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stagingJobID = jobID
	s.stagingCancel = make(chan struct{})
	return s.stagingCancel
}

// endStaging clears the staging record once stageAndDispatch has returned,
// whether it dispatched, failed, or was cancelled.
func (s *session) endStaging() {
	s.mu.Lock()
	s.stagingJobID = ""
	s.stagingCancel = nil
	s.mu.Unlock()
}

// cancelStagingIfMatch closes the staging-cancel channel if jobID is
// currently being staged on this session, and reports whether it did.
func (s *session) cancelStagingIfMatch(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stagingJobID == "" || s.stagingJobID != jobID || s.stagingCancel == nil {
		return false
	}
	select {
	case <-s.stagingCancel:
	default:
		close(s.stagingCancel)
	}
	return true
}
