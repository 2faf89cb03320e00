package progress

import (
	"errors"
	"fmt"
	"time"
)

// Kind discriminates the event union.
type Kind string

// Supported event kinds.
const (
	KindConnected     Kind = "CONNECTED"
	KindJobStarted    Kind = "JOB_STARTED"
	KindTaskStarted   Kind = "TASK_STARTED"
	KindTaskSucceeded Kind = "TASK_SUCCEEDED"
	KindTaskFailed    Kind = "TASK_FAILED"
	KindJobElapsed    Kind = "JOB_ELAPSED"
	KindJobCompleted  Kind = "JOB_COMPLETED"
	KindJobAborted    Kind = "JOB_ABORTED"
)

// Event is one progress notification. Which fields are set depends on Kind.
type Event struct {
	JobID string    `json:"job_id"`
	TS    time.Time `json:"ts"`
	Kind  Kind      `json:"kind"`
	// Seq is the 1-based position of the task; Total is the job's task count.
	Seq   int `json:"seq,omitempty"`
	Total int `json:"total,omitempty"`

	Locale string `json:"locale,omitempty"`
	Device string `json:"device,omitempty"`
	URL    string `json:"url,omitempty"`
	Path   string `json:"path,omitempty"`

	// Dur is the capture duration for task events, the estimate for
	// JobStarted and the wall-clock run time for JobElapsed/JobCompleted.
	Dur time.Duration `json:"dur,omitempty"`

	ArchivePath string `json:"archive_path,omitempty"`
	Link        string `json:"link,omitempty"`
	Err         string `json:"error,omitempty"`
}

// Validate performs coarse checks on the payload.
func (e Event) Validate() error {
	if e.JobID == "" && e.Kind != KindConnected {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindConnected, KindJobStarted, KindJobElapsed:
	case KindTaskStarted, KindTaskSucceeded:
		if e.URL == "" || e.Device == "" {
			return fmt.Errorf("%s requires url and device", e.Kind)
		}
	case KindTaskFailed:
		if e.URL == "" || e.Err == "" {
			return errors.New("task failure requires url and error")
		}
	case KindJobCompleted:
		if e.ArchivePath == "" {
			return errors.New("job completion requires archive path")
		}
	case KindJobAborted:
		if e.Err == "" {
			return errors.New("job abort requires error")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Terminal reports whether the event ends a job's stream.
func (e Event) Terminal() bool {
	return e.Kind == KindJobCompleted || e.Kind == KindJobAborted
}

// Message renders the human-readable log line shown to observers.
func (e Event) Message() string {
	switch e.Kind {
	case KindConnected:
		return "Connected to server."
	case KindJobStarted:
		return fmt.Sprintf("Starting screenshot process (%d captures). Estimated time: %s minutes.",
			e.Total, minutes(e.Dur))
	case KindTaskStarted:
		return fmt.Sprintf("Capturing %s view for %s: %s", e.Device, e.Locale, e.URL)
	case KindTaskSucceeded:
		return fmt.Sprintf("Captured %s view for %s: %s (%.1fs)", e.Device, e.Locale, e.URL, e.Dur.Seconds())
	case KindTaskFailed:
		return fmt.Sprintf("Failed to capture screenshot for %s: %s", e.URL, e.Err)
	case KindJobElapsed:
		return fmt.Sprintf("Actual time taken: %s minutes.", minutes(e.Dur))
	case KindJobCompleted:
		if e.Link != "" {
			return fmt.Sprintf("Process completed. Download: %s", e.Link)
		}
		return fmt.Sprintf("Process completed. Archive: %s", e.ArchivePath)
	case KindJobAborted:
		return fmt.Sprintf("Process aborted: %s", e.Err)
	default:
		return string(e.Kind)
	}
}

func minutes(d time.Duration) string {
	return fmt.Sprintf("%.2f", d.Minutes())
}
