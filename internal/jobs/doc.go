// Package jobs accepts capture submissions, queues them and runs them in the
// background through the orchestrator. Each job gets a progress.Journal that
// observers can attach to at any time while the job is retained.
package jobs
