// Package proto defines the wire envelope for the Worker Channel Hub's
// bidirectional session stream and a hand-maintained grpc.ServiceDesc for
// it. There is no protoc step in this build: message types are plain Go
// structs carried over gob (see codec.go), tagged with a MessageType so a
// single stream can multiplex registration, heartbeats, dispatch, status,
// output, control signals, and the cache-aware artifact transfer protocol
// (SPEC_FULL.md S4.4/S4.5).
package proto

import "time"

// MessageType tags which field of an Envelope is populated.
type MessageType int32

const (
	MessageUnspecified MessageType = iota
	MessageRegister
	MessageHeartbeat
	MessageJobRequest
	MessageStatusUpdate
	MessageOutputChunk
	MessageControlSignal
	MessageControlAck
	MessageCacheQuery
	MessageCacheResponse
	MessageArtifactChunk
	MessageArtifactAck
)

func (t MessageType) String() string {
	switch t {
	case MessageRegister:
		return "register"
	case MessageHeartbeat:
		return "heartbeat"
	case MessageJobRequest:
		return "job_request"
	case MessageStatusUpdate:
		return "status_update"
	case MessageOutputChunk:
		return "output_chunk"
	case MessageControlSignal:
		return "control_signal"
	case MessageControlAck:
		return "control_ack"
	case MessageCacheQuery:
		return "cache_query"
	case MessageCacheResponse:
		return "cache_response"
	case MessageArtifactChunk:
		return "artifact_chunk"
	case MessageArtifactAck:
		return "artifact_ack"
	default:
		return "unspecified"
	}
}

// Envelope is the single message type exchanged over ChannelHub_Session.
// Exactly one payload field is set, matching the field indicated by Type.
type Envelope struct {
	Type MessageType

	Register      *RegisterRequest
	Heartbeat     *Heartbeat
	JobRequest    *JobRequest
	StatusUpdate  *StatusUpdate
	OutputChunk   *OutputChunk
	ControlSignal *ControlSignal
	ControlAck    *ControlAck
	CacheQuery    *CacheQuery
	CacheResponse *CacheResponse
	ArtifactChunk *ArtifactChunk
	ArtifactAck   *ArtifactAck
}

// RegisterRequest is the first message a worker sends on a new session.
type RegisterRequest struct {
	WorkerID     string
	PoolID       string
	Capabilities map[string]string
}

// Heartbeat reports a worker's liveness and current load.
type Heartbeat struct {
	WorkerID   string
	Status     string
	ActiveJobs int32
}

// JobDefinition is the wire form of a dispatched job.
type JobDefinition struct {
	ID           string
	Name         string
	Command      []string
	Script       string
	Priority     int32
	Requirements map[string]string
	Labels       map[string]string
	Deadline     time.Time
	MaxRetries   int32
}

// JobRequest is the single dispatch point for a job to a worker; sent only
// after artifact staging (CacheQuery/CacheResponse/ArtifactChunk/ArtifactAck)
// has completed for every artifact the job requires.
type JobRequest struct {
	JobDefinition     *JobDefinition
	Config            map[string]string
	RequiredArtifacts []string
}

// StatusUpdate reports a job status transition from the worker.
type StatusUpdate struct {
	JobID       string
	ExecutionID string
	Status      string
	ExitCode    int32
	Error       string
	Timestamp   time.Time
}

// OutputChunk carries a slice of a running job's stdout or stderr.
type OutputChunk struct {
	JobID       string
	ExecutionID string
	Stream      string // "stdout" or "stderr"
	Data        []byte
	Sequence    uint64
}

// ControlSignal is sent orchestrator -> worker: Cancel, Pause, or Resume.
type ControlSignal struct {
	JobID  string
	Signal string
}

// ControlAck is the worker's acknowledgement of a ControlSignal.
type ControlAck struct {
	JobID        string
	Signal       string
	Acknowledged bool
}

// CacheQuery asks a worker whether it already holds a set of artifacts.
type CacheQuery struct {
	JobID       string
	ArtifactIDs []string
}

// ArtifactCacheStatus is one artifact's answer within a CacheResponse.
type ArtifactCacheStatus struct {
	ArtifactID     string
	Cached         bool
	CachedChecksum string
	NeedsTransfer  bool
}

// CacheResponse answers a CacheQuery within the bounded response window;
// on timeout the hub treats every artifact as NeedsTransfer.
type CacheResponse struct {
	JobID     string
	Artifacts []ArtifactCacheStatus
}

// ArtifactChunk is one fixed-size (64 KiB recommended) slice of an
// artifact's bytes, strictly ordered by Sequence within an ArtifactID.
type ArtifactChunk struct {
	ArtifactID   string
	Sequence     uint64
	Data         []byte
	IsLast       bool
	Compression  string // "none", "gzip", "zstd"
	OriginalSize int64
}

// CacheStats summarizes a worker's local artifact cache at ack time.
type CacheStats struct {
	Count     int64
	SizeBytes int64
}

// ArtifactAck is the worker's per-artifact response once every chunk has
// arrived (or the artifact was already cached). ProtocolViolation is set
// when the worker rejects the transfer itself (e.g. a chunk sequence gap)
// rather than merely failing it (e.g. a checksum mismatch after a clean
// transfer) — the hub treats the two differently.
type ArtifactAck struct {
	ArtifactID         string
	Success            bool
	CacheHit           bool
	CalculatedChecksum string
	CacheStatus        CacheStats
	Message            string
	ProtocolViolation  bool
}
