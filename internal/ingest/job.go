package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsewire/harvester/internal/globaltime"
)

// Phase is one stage of an ingestion run's lifecycle.
type Phase string

const (
	PhasePending       Phase = "pending"
	PhaseSearching     Phase = "searching"
	PhaseDeduplicating Phase = "deduplicating"
	PhaseQualityGating Phase = "quality_gating"
	PhaseFetching      Phase = "fetching"
	PhaseEnriching     Phase = "enriching"
	PhasePersisting    Phase = "persisting"
	PhaseCompleted     Phase = "completed"
	PhaseFailed        Phase = "failed"
	PhaseCancelled     Phase = "cancelled"
)

// Terminal reports whether a phase ends the job.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseCancelled:
		return true
	default:
		return false
	}
}

// ErrorKind classifies recoverable pipeline errors for reporting.
type ErrorKind string

const (
	ErrorProvider    ErrorKind = "provider_error"
	ErrorQuota       ErrorKind = "quota_exceeded"
	ErrorFetch       ErrorKind = "fetch_timeout"
	ErrorEnrichment  ErrorKind = "enrichment_error"
	ErrorPersistence ErrorKind = "persistence_error"
	ErrorIndexing    ErrorKind = "indexing_error"
	ErrorInternal    ErrorKind = "internal_error"
)

// ItemError is one recoverable failure surfaced in the job summary.
type ItemError struct {
	Item   string    `json:"item"`
	Reason string    `json:"reason"`
	Kind   ErrorKind `json:"kind"`
}

// Counts are the per-phase counters of one run. They only ever increase
// within a run.
type Counts struct {
	Found         int `json:"found"`
	Deduplicated  int `json:"deduplicated"`
	QualityPassed int `json:"quality_passed"`
	Rejected      int `json:"rejected"`
	AlreadyStored int `json:"already_stored"`
	Fetched       int `json:"fetched"`
	Enriched      int `json:"enriched"`
	Saved         int `json:"saved"`
	Errors        int `json:"errors"`
}

// Snapshot is a read-only view of a job, safe to serialize.
type Snapshot struct {
	JobID        string      `json:"job_id"`
	GroupID      int64       `json:"group_id"`
	Topic        string      `json:"topic"`
	Phase        Phase       `json:"phase"`
	Counts       Counts      `json:"counts"`
	Errors       []ItemError `json:"errors"`
	DryRun       bool        `json:"dry_run"`
	StartedAt    time.Time   `json:"started_at"`
	FinishedAt   *time.Time  `json:"finished_at,omitempty"`
	FailureCause string      `json:"failure_cause,omitempty"`
}

// Job is the mutable state of one ingestion run. Only the owning controller
// goroutine mutates it; progress subscribers read snapshots.
type Job struct {
	mu sync.RWMutex

	id      string
	groupID int64
	topic   string
	dryRun  bool

	phase        Phase
	counts       Counts
	errs         []ItemError
	failureCause string
	startedAt    time.Time
	finishedAt   *time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newJob(groupID int64, topic string, dryRun bool) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	return &Job{
		id:        uuid.NewString(),
		groupID:   groupID,
		topic:     topic,
		dryRun:    dryRun,
		phase:     PhasePending,
		startedAt: globaltime.UTC(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

func (j *Job) ID() string { return j.id }

// Done closes once the job reaches a terminal phase.
func (j *Job) Done() <-chan struct{} { return j.done }

// Cancel requests cooperative cancellation: no new work is dispatched and
// in-flight results are discarded instead of persisted.
func (j *Job) Cancel() {
	j.cancel()
}

// Cancelled reports whether cancellation was requested.
func (j *Job) Cancelled() bool {
	return j.ctx.Err() != nil
}

// Context is cancelled when the job is.
func (j *Job) Context() context.Context { return j.ctx }

func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	errs := make([]ItemError, len(j.errs))
	copy(errs, j.errs)

	return Snapshot{
		JobID:        j.id,
		GroupID:      j.groupID,
		Topic:        j.topic,
		Phase:        j.phase,
		Counts:       j.counts,
		Errors:       errs,
		DryRun:       j.dryRun,
		StartedAt:    j.startedAt,
		FinishedAt:   j.finishedAt,
		FailureCause: j.failureCause,
	}
}

func (j *Job) setPhase(phase Phase) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.phase = phase
	if phase.Terminal() {
		now := globaltime.UTC()
		j.finishedAt = &now
	}
}

func (j *Job) phaseNow() Phase {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.phase
}

func (j *Job) addError(kind ErrorKind, item, reason string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errs = append(j.errs, ItemError{Item: item, Reason: reason, Kind: kind})
	j.counts.Errors++
}

func (j *Job) setFailureCause(reason string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.failureCause = reason
}

func (j *Job) updateCounts(apply func(*Counts)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	apply(&j.counts)
}

func (j *Job) countsNow() Counts {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.counts
}
