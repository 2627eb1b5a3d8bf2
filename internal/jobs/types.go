package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/finance-ingest/internal/domain"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job ended without producing a record.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed transiently and is scheduled again.
	JobStatusRetrying JobStatus = "retrying"
)

// Terminal reports whether no further attempt will be made.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Outcome is the recorded result of a finished job.
type Outcome string

const (
	OutcomeSuccess   Outcome = "SUCCESS"
	OutcomeFailure   Outcome = "FAILURE"
	OutcomeThrottled Outcome = "THROTTLED"
)

// GroupStatus summarises a group of jobs.
type GroupStatus string

const (
	GroupStatusPending   GroupStatus = "PENDING"
	GroupStatusProgress  GroupStatus = "PROGRESS"
	GroupStatusCompleted GroupStatus = "COMPLETED"
)

// Job is one unit of per-file extraction work.
type Job struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// GroupID ties the job to the ingestion run that created it.
	GroupID string `json:"group_id"`

	// Kind selects the extraction handler.
	Kind domain.PendingKind `json:"kind"`

	// OwnerID is the user whose cloud folder the file came from.
	OwnerID string `json:"owner_id"`

	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	MIMEType string `json:"mime_type"`

	// DebtID is set for amortization jobs.
	DebtID string `json:"debt_id,omitempty"`

	// Status is the current status of the job.
	Status JobStatus `json:"status"`

	// Outcome is set once the job is terminal.
	Outcome Outcome `json:"outcome,omitempty"`

	// Error contains error details of the last failed attempt.
	Error string `json:"error,omitempty"`

	// Attempts counts handler invocations so far.
	Attempts int `json:"attempts"`

	// MaxAttempts bounds Attempts; zero means the queue default.
	MaxAttempts int `json:"max_attempts"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Group records one fan-out: every job created for a single ingestion request.
type Group struct {
	GroupID   string             `json:"group_id"`
	Kind      domain.PendingKind `json:"kind"`
	OwnerID   string             `json:"owner_id"`
	Total     int                `json:"total"`
	JobIDs    []string           `json:"job_ids"`
	CreatedAt time.Time          `json:"created_at"`
}

// GroupProgress is the fan-in view of a group.
type GroupProgress struct {
	GroupID   string      `json:"group_id"`
	Status    GroupStatus `json:"status"`
	Total     int         `json:"total"`
	Completed int         `json:"completed"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Throttled int         `json:"throttled"`
	Progress  int         `json:"progress"`
}

// Progress folds the current state of a group's jobs into a GroupProgress.
// Completed counts every terminal job regardless of outcome.
func Progress(group *Group, jobs []*Job) *GroupProgress {
	p := &GroupProgress{GroupID: group.GroupID, Total: group.Total}
	started := false
	for _, j := range jobs {
		if j.Status != JobStatusPending {
			started = true
		}
		if !j.Status.Terminal() {
			continue
		}
		p.Completed++
		switch j.Outcome {
		case OutcomeSuccess:
			p.Succeeded++
		case OutcomeThrottled:
			p.Throttled++
		default:
			p.Failed++
		}
	}

	switch {
	case p.Total > 0 && p.Completed >= p.Total:
		p.Status = GroupStatusCompleted
	case started:
		p.Status = GroupStatusProgress
	default:
		p.Status = GroupStatusPending
	}
	if p.Total > 0 {
		p.Progress = p.Completed * 100 / p.Total
	} else {
		p.Status = GroupStatusCompleted
		p.Progress = 100
	}
	return p
}

// Classify maps a handler error to the outcome it would record and whether
// another attempt is allowed. Connection, throttling and semantic errors are
// final; everything else is treated as transient.
func Classify(err error) (Outcome, bool) {
	switch {
	case err == nil:
		return OutcomeSuccess, false
	case errors.Is(err, domain.ErrThrottled):
		return OutcomeThrottled, false
	case errors.Is(err, domain.ErrConnection),
		errors.Is(err, domain.ErrSemantic),
		errors.Is(err, context.Canceled):
		return OutcomeFailure, false
	default:
		return OutcomeFailure, true
	}
}

// Publisher defines the interface for publishing jobs to a queue.
// This abstraction allows for different queue implementations (in-memory, Cloud Tasks, Pub/Sub).
type Publisher interface {
	// PublishGroup records the group and every job, then enqueues them.
	PublishGroup(ctx context.Context, group *Group, jobs []*Job) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. The returned error is classified with Classify.
type JobHandler func(ctx context.Context, job *Job) error

// JobStore defines the interface for storing and retrieving job status.
type JobStore interface {
	SaveJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error)

	SaveGroup(ctx context.Context, group *Group) error
	GetGroup(ctx context.Context, groupID string) (*Group, error)
	GroupProgress(ctx context.Context, groupID string) (*GroupProgress, error)
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	GroupID string
	OwnerID string
	Kind    domain.PendingKind
	Status  JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
