// Package agent is the reference worker-side implementation of the Worker
// Channel Hub's wire protocol (SPEC_FULL.md S4.4/S4.5). It is deliberately
// thin: a real execution engine (task DSL, pipelines) is out of scope, same
// as spec.md's Non-goals state. It exists so the protocol can be driven
// end-to-end from tests and from a standalone smoke binary, adapted from
// the teacher's pkg/worker heartbeat/executor loop shape onto the bidi
// stream protocol instead of warren's unary RegisterNode/Heartbeat RPCs.
package agent

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/fleetforge/api/proto"
	"github.com/cuemby/fleetforge/pkg/log"
)

// DefaultHeartbeatInterval matches channelhub.DefaultHeartbeatInterval; kept
// as an independent constant since pkg/agent must not import pkg/channelhub
// (the dependency runs the other way in tests).
const DefaultHeartbeatInterval = 10 * time.Second

// Executor runs one dispatched job. emit streams stdout/stderr chunks back
// to the orchestrator as they're produced. Returning a non-nil err marks
// the job Failed; otherwise the job is Completed with the returned exit code.
type Executor func(ctx context.Context, job *proto.JobDefinition, emit func(stream string, data []byte)) (exitCode int32, err error)

// Config configures an Agent.
type Config struct {
	WorkerID     string
	PoolID       string
	Capabilities map[string]string

	// Addr dials a real gRPC target; Client, if set, is used instead (tests
	// wire a bufconn-backed proto.ChannelHubClient directly).
	Addr   string
	TLS    *tls.Config // from Enroll; nil dials insecure (tests only)
	Client proto.ChannelHubClient

	Cache             ArtifactCache
	Executor          Executor
	HeartbeatInterval time.Duration
}

// Agent is a single worker's end of a Channel Hub session.
type Agent struct {
	cfg Config
	log zerolog.Logger

	conn   *grpc.ClientConn
	client proto.ChannelHubClient
	stream proto.ChannelHub_SessionClient

	sendMu sync.Mutex

	activeJobs int32
	transfer   *inTransfer
	jobsMu     sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs an Agent. Call Run to connect and start serving.
func New(cfg Config) *Agent {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Cache == nil {
		cfg.Cache = NewMemoryArtifactCache()
	}
	if cfg.Executor == nil {
		cfg.Executor = ShellExecutor
	}
	return &Agent{
		cfg:    cfg,
		log:    log.WithComponent("agent").With().Str("worker_id", cfg.WorkerID).Logger(),
		stopCh: make(chan struct{}),
	}
}

// Run dials the hub (unless Config.Client was provided), registers, and
// serves the session until ctx is cancelled or Stop is called. It blocks.
func (a *Agent) Run(ctx context.Context) error {
	client := a.cfg.Client
	if client == nil {
		creds := insecure.NewCredentials()
		if a.cfg.TLS != nil {
			creds = credentials.NewTLS(a.cfg.TLS)
		}
		conn, err := grpc.NewClient(a.cfg.Addr, grpc.WithTransportCredentials(creds))
		if err != nil {
			return fmt.Errorf("dial channel hub: %w", err)
		}
		a.conn = conn
		client = proto.NewChannelHubClient(conn)
	}
	a.client = client

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.stopCh:
			cancel()
		case <-sessCtx.Done():
		}
	}()

	stream, err := client.Session(sessCtx)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	a.stream = stream

	if err := a.send(&proto.Envelope{
		Type:     proto.MessageRegister,
		Register: &proto.RegisterRequest{WorkerID: a.cfg.WorkerID, PoolID: a.cfg.PoolID, Capabilities: a.cfg.Capabilities},
	}); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	a.wg.Add(1)
	go a.heartbeatLoop(ctx)

	a.log.Info().Msg("agent session established")

	for {
		env, err := stream.Recv()
		if err != nil {
			a.Stop()
			a.wg.Wait()
			return err
		}
		a.handle(ctx, env)
	}
}

// Stop ends the session stream (so Run returns) and the heartbeat loop, and
// closes the underlying connection, if this Agent owns one (i.e. it dialed
// Config.Addr itself).
func (a *Agent) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	if a.conn != nil {
		_ = a.conn.Close()
	}
}

func (a *Agent) send(env *proto.Envelope) error {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	return a.stream.Send(env)
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.jobsMu.Lock()
			active := a.activeJobs
			a.jobsMu.Unlock()
			if err := a.send(&proto.Envelope{
				Type:      proto.MessageHeartbeat,
				Heartbeat: &proto.Heartbeat{WorkerID: a.cfg.WorkerID, Status: "ready", ActiveJobs: active},
			}); err != nil {
				a.log.Warn().Err(err).Msg("heartbeat send failed")
			}
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		}
	}
}

// handle routes one inbound Envelope from the hub.
func (a *Agent) handle(ctx context.Context, env *proto.Envelope) {
	switch env.Type {
	case proto.MessageCacheQuery:
		a.handleCacheQuery(env.CacheQuery)
	case proto.MessageArtifactChunk:
		a.handleArtifactChunk(env.ArtifactChunk)
	case proto.MessageJobRequest:
		a.handleJobRequest(ctx, env.JobRequest)
	case proto.MessageControlSignal:
		a.handleControlSignal(env.ControlSignal)
	default:
		a.log.Warn().Str("message_type", env.Type.String()).Msg("unexpected message from hub")
	}
}

func (a *Agent) handleCacheQuery(q *proto.CacheQuery) {
	statuses := make([]proto.ArtifactCacheStatus, 0, len(q.ArtifactIDs))
	for _, id := range q.ArtifactIDs {
		if checksum, ok := a.cfg.Cache.Has(id); ok {
			statuses = append(statuses, proto.ArtifactCacheStatus{ArtifactID: id, Cached: true, CachedChecksum: checksum})
			continue
		}
		statuses = append(statuses, proto.ArtifactCacheStatus{ArtifactID: id, NeedsTransfer: true})
	}
	if err := a.send(&proto.Envelope{
		Type:          proto.MessageCacheResponse,
		CacheResponse: &proto.CacheResponse{JobID: q.JobID, Artifacts: statuses},
	}); err != nil {
		a.log.Warn().Err(err).Msg("cache response send failed")
	}
}

// inTransfer buffers an artifact's chunks across a transferArtifact round
// trip; only one transfer is ever in flight at a time since the hub
// transfers artifacts for one job serially before dispatching it.
type inTransfer struct {
	artifactID   string
	buf          []byte
	compression  string
	originalSize int64
	nextSeq      uint64
}

func (a *Agent) handleArtifactChunk(chunk *proto.ArtifactChunk) {
	a.jobsMu.Lock()
	if a.transfer == nil || a.transfer.artifactID != chunk.ArtifactID {
		a.transfer = &inTransfer{artifactID: chunk.ArtifactID, compression: chunk.Compression, originalSize: chunk.OriginalSize}
	}
	t := a.transfer

	if chunk.Sequence != t.nextSeq {
		a.transfer = nil
		a.jobsMu.Unlock()
		a.log.Warn().Str("artifact_id", chunk.ArtifactID).Uint64("expected", t.nextSeq).Uint64("got", chunk.Sequence).Msg("artifact chunk sequence gap")
		if err := a.send(&proto.Envelope{Type: proto.MessageArtifactAck, ArtifactAck: &proto.ArtifactAck{
			ArtifactID:        chunk.ArtifactID,
			Success:           false,
			ProtocolViolation: true,
			Message:           fmt.Sprintf("sequence gap: expected chunk %d, got %d", t.nextSeq, chunk.Sequence),
		}}); err != nil {
			a.log.Warn().Err(err).Msg("artifact ack send failed")
		}
		return
	}

	t.buf = append(t.buf, chunk.Data...)
	t.nextSeq++
	last := chunk.IsLast
	if last {
		a.transfer = nil
	}
	a.jobsMu.Unlock()

	if !last {
		return
	}

	ack := &proto.ArtifactAck{ArtifactID: chunk.ArtifactID}
	data, err := decompress(t.compression, t.buf, t.originalSize)
	if err != nil {
		ack.Success = false
		ack.Message = err.Error()
	} else {
		sum := sha256.Sum256(data)
		ack.CalculatedChecksum = hex.EncodeToString(sum[:])
		ack.Success = true
		a.cfg.Cache.Store(chunk.ArtifactID, data)
	}

	if err := a.send(&proto.Envelope{Type: proto.MessageArtifactAck, ArtifactAck: ack}); err != nil {
		a.log.Warn().Err(err).Msg("artifact ack send failed")
	}
}

func (a *Agent) handleJobRequest(ctx context.Context, req *proto.JobRequest) {
	a.jobsMu.Lock()
	a.activeJobs++
	a.jobsMu.Unlock()

	go func() {
		defer func() {
			a.jobsMu.Lock()
			a.activeJobs--
			a.jobsMu.Unlock()
		}()

		job := req.JobDefinition
		a.sendStatus(job.ID, "", "running", 0, "")

		var seq uint64
		emit := func(stream string, data []byte) {
			if len(data) == 0 {
				return
			}
			seq++
			_ = a.send(&proto.Envelope{
				Type: proto.MessageOutputChunk,
				OutputChunk: &proto.OutputChunk{JobID: job.ID, Stream: stream, Data: data, Sequence: seq},
			})
		}

		exitCode, err := a.cfg.Executor(ctx, job, emit)
		if err != nil {
			a.sendStatus(job.ID, "", "failed", exitCode, err.Error())
			return
		}
		a.sendStatus(job.ID, "", "completed", exitCode, "")
	}()
}

func (a *Agent) sendStatus(jobID, execID, status string, exitCode int32, errMsg string) {
	if err := a.send(&proto.Envelope{
		Type: proto.MessageStatusUpdate,
		StatusUpdate: &proto.StatusUpdate{
			JobID:       jobID,
			ExecutionID: execID,
			Status:      status,
			ExitCode:    exitCode,
			Error:       errMsg,
			Timestamp:   time.Now(),
		},
	}); err != nil {
		a.log.Warn().Err(err).Str("job_id", jobID).Msg("status update send failed")
	}
}

func (a *Agent) handleControlSignal(sig *proto.ControlSignal) {
	// The reference agent has no real cancellation hook into ShellExecutor's
	// blocking os/exec call in this build; it acknowledges every signal and
	// lets the job run to completion, matching a "best-effort" worker that
	// still reports its true terminal status afterward.
	if err := a.send(&proto.Envelope{
		Type:       proto.MessageControlAck,
		ControlAck: &proto.ControlAck{JobID: sig.JobID, Signal: sig.Signal, Acknowledged: true},
	}); err != nil {
		a.log.Warn().Err(err).Str("job_id", sig.JobID).Msg("control ack send failed")
	}
}
