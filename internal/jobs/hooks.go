package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/JakeFAU/pagecapture/internal/capture"
	"github.com/JakeFAU/pagecapture/internal/orchestrator"
	"github.com/JakeFAU/pagecapture/internal/store"
)

// Completion is passed through the hooks of one finished job. Hooks may
// enrich it for the hooks that follow.
type Completion struct {
	orchestrator.Result
	Source    string
	RemoteURI string
	// Err is the orchestrator's error for aborted jobs.
	Err error
}

// Hook runs after a job reaches a terminal state.
type Hook interface {
	Name() string
	AfterJob(ctx context.Context, c *Completion) error
}

// MirrorHook uploads completed archives to a BlobStore and records the URI.
type MirrorHook struct {
	Blobs store.BlobStore
	Jobs  store.JobStore
}

// Name implements Hook.
func (h MirrorHook) Name() string { return "mirror" }

// AfterJob implements Hook.
func (h MirrorHook) AfterJob(ctx context.Context, c *Completion) error {
	if c.State != capture.StateCompleted || c.ArchivePath == "" {
		return nil
	}
	f, err := os.Open(c.ArchivePath) // #nosec G304 -- path produced by the packager
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	uri, err := h.Blobs.PutObject(ctx, filepath.Base(c.ArchivePath), "application/zip", f)
	if err != nil {
		return fmt.Errorf("mirror archive: %w", err)
	}
	c.RemoteURI = uri
	if h.Jobs != nil {
		if err := h.Jobs.SetRemoteURI(ctx, c.JobID, uri); err != nil {
			return fmt.Errorf("record remote uri: %w", err)
		}
	}
	return nil
}

// Publisher sends a payload to a topic and returns the message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Notification is the message published for every finished job.
type Notification struct {
	JobID       string        `json:"job_id"`
	Source      string        `json:"source,omitempty"`
	State       capture.State `json:"state"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	ElapsedMs   int64         `json:"elapsed_ms"`
	ArchivePath string        `json:"archive_path,omitempty"`
	RemoteURI   string        `json:"remote_uri,omitempty"`
	FinishedAt  time.Time     `json:"finished_at"`
}

// NotifyHook publishes a Notification for every finished job.
type NotifyHook struct {
	Publisher Publisher
	Topic     string
	Clock     capture.Clock
}

// Name implements Hook.
func (h NotifyHook) Name() string { return "notify" }

// AfterJob implements Hook.
func (h NotifyHook) AfterJob(ctx context.Context, c *Completion) error {
	finished := time.Now().UTC()
	if h.Clock != nil {
		finished = h.Clock.Now().UTC()
	}
	_, err := h.Publisher.Publish(ctx, h.Topic, Notification{
		JobID:       c.JobID,
		Source:      c.Source,
		State:       c.State,
		Succeeded:   c.Succeeded,
		Failed:      c.Failed,
		ElapsedMs:   c.Elapsed.Milliseconds(),
		ArchivePath: c.ArchivePath,
		RemoteURI:   c.RemoteURI,
		FinishedAt:  finished,
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
