package capture

import (
	"strings"
	"time"
)

// LocaleURL is one locale column of an input row.
type LocaleURL struct {
	Locale string
	URL    string
}

// URLPair holds the parallel locale variants of a single input row. Locales
// keep the order of the configured input columns.
type URLPair struct {
	URLs []LocaleURL
}

// NewURLPair builds a pair from alternating locale/url arguments, e.g.
// NewURLPair("EN", "https://a", "ES", "").
func NewURLPair(localeURLs ...string) URLPair {
	pair := URLPair{}
	for i := 0; i+1 < len(localeURLs); i += 2 {
		pair.URLs = append(pair.URLs, LocaleURL{Locale: localeURLs[i], URL: localeURLs[i+1]})
	}
	return pair
}

// Present returns the locale URLs that are not blank, trimmed.
func (p URLPair) Present() []LocaleURL {
	out := make([]LocaleURL, 0, len(p.URLs))
	for _, entry := range p.URLs {
		trimmed := strings.TrimSpace(entry.URL)
		if trimmed == "" {
			continue
		}
		out = append(out, LocaleURL{Locale: entry.Locale, URL: trimmed})
	}
	return out
}

// Task is a single (url, locale, viewport) capture with its destination file.
type Task struct {
	// Index is the zero-based position in execution order.
	Index       int
	URL         string
	Locale      string
	Viewport    Viewport
	Destination string
}

// Status is the result class of one capture.
type Status string

// Capture status values.
const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Outcome records what happened to exactly one Task. It is never mutated
// after the worker returns it.
type Outcome struct {
	Task     Task
	Status   Status
	Duration time.Duration
	Error    string
}

// Succeeded reports whether the screenshot was written.
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSuccess
}

// DurationMs returns the capture duration in whole milliseconds.
func (o Outcome) DurationMs() int64 {
	return o.Duration.Milliseconds()
}

// State is the lifecycle position of a job.
type State string

// Job states. Queued is only used by the job manager before a runner picks the
// job up; the orchestrator drives the rest.
const (
	StateQueued       State = "queued"
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StatePackaging    State = "packaging"
	StateCompleted    State = "completed"
	StateAborted      State = "aborted"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

const jobIDLayout = "2006-01-02T15-04-05.000Z"

// JobID derives the timestamp-based identifier for a job started at t.
func JobID(t time.Time) string {
	return t.UTC().Format(jobIDLayout)
}

// RootName is the directory (and archive base) name for a job.
func RootName(jobID string) string {
	return "screenshots_" + jobID
}
