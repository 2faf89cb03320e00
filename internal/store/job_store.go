package store

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/JakeFAU/pagecapture/internal/capture"
)

var (
	// ErrNotFound signals that the requested job does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrJobExists is returned when a job id is registered twice.
	ErrJobExists = errors.New("job already exists")
)

// JobRecord is the persisted view of one capture job.
type JobRecord struct {
	ID        string        `json:"job_id"`
	Source    string        `json:"source,omitempty"`
	State     capture.State `json:"state"`
	Submitted time.Time     `json:"submitted_at"`
	// Started and Finished stay nil until the job reaches those states.
	Started     *time.Time `json:"started_at,omitempty"`
	Finished    *time.Time `json:"finished_at,omitempty"`
	TaskCount   int        `json:"task_count"`
	Succeeded   int        `json:"succeeded"`
	Failed      int        `json:"failed"`
	ArchivePath string     `json:"archive_path,omitempty"`
	RemoteURI   string     `json:"remote_uri,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// OutcomeRecord is the persisted result of one capture task.
type OutcomeRecord struct {
	JobID      string         `json:"job_id"`
	Seq        int            `json:"seq"`
	Locale     string         `json:"locale"`
	Device     string         `json:"device"`
	URL        string         `json:"url"`
	Path       string         `json:"path"`
	Status     capture.Status `json:"status"`
	DurationMs int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// JobStore persists job lifecycle and task outcomes.
type JobStore interface {
	// CreateJob registers a queued job. Returns ErrJobExists on duplicate ids.
	CreateJob(ctx context.Context, job JobRecord) error
	// MarkStarted moves the job to running and records its task count.
	MarkStarted(ctx context.Context, id string, at time.Time, taskCount int) error
	// RecordOutcome appends a task result and bumps the job's counters.
	RecordOutcome(ctx context.Context, outcome OutcomeRecord) error
	// CompleteJob records the terminal state. errMsg is empty on success.
	CompleteJob(ctx context.Context, id string, at time.Time, state capture.State, archivePath, errMsg string) error
	// SetRemoteURI records where the archive was mirrored.
	SetRemoteURI(ctx context.Context, id, uri string) error
	// GetJob loads a job or returns ErrNotFound.
	GetJob(ctx context.Context, id string) (JobRecord, error)
	// ListOutcomes returns a job's outcomes ordered by Seq.
	ListOutcomes(ctx context.Context, id string) ([]OutcomeRecord, error)
}

// BlobStore uploads finished archives to durable object storage.
type BlobStore interface {
	// PutObject writes r under key and returns the object's URI.
	PutObject(ctx context.Context, key, contentType string, r io.Reader) (string, error)
}
