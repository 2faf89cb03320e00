package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/pagecapture/internal/capture"
	"github.com/JakeFAU/pagecapture/internal/store"
)

// JobStore provides an in-memory store.JobStore for development and tests.
type JobStore struct {
	mu       sync.RWMutex
	jobs     map[string]store.JobRecord
	outcomes map[string][]store.OutcomeRecord
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:     make(map[string]store.JobRecord),
		outcomes: make(map[string][]store.OutcomeRecord),
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job store.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("create job %s: %w", job.ID, store.ErrJobExists)
	}
	if job.State == "" {
		job.State = capture.StateQueued
	}
	s.jobs[job.ID] = job
	return nil
}

// MarkStarted implements store.JobStore.
func (s *JobStore) MarkStarted(_ context.Context, id string, at time.Time, taskCount int) error {
	return s.update(id, func(job *store.JobRecord) {
		job.State = capture.StateRunning
		job.TaskCount = taskCount
		if job.Started == nil {
			job.Started = pointerTime(at)
		}
	})
}

// RecordOutcome implements store.JobStore.
func (s *JobStore) RecordOutcome(_ context.Context, outcome store.OutcomeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[outcome.JobID]
	if !ok {
		return fmt.Errorf("record outcome for %s: %w", outcome.JobID, store.ErrNotFound)
	}
	if outcome.Status == capture.StatusSuccess {
		job.Succeeded++
	} else {
		job.Failed++
	}
	s.jobs[outcome.JobID] = job
	s.outcomes[outcome.JobID] = append(s.outcomes[outcome.JobID], outcome)
	return nil
}

// CompleteJob implements store.JobStore.
func (s *JobStore) CompleteJob(
	_ context.Context,
	id string,
	at time.Time,
	state capture.State,
	archivePath, errMsg string,
) error {
	return s.update(id, func(job *store.JobRecord) {
		job.State = state
		job.Finished = pointerTime(at)
		job.ArchivePath = archivePath
		job.Error = errMsg
	})
}

// SetRemoteURI implements store.JobStore.
func (s *JobStore) SetRemoteURI(_ context.Context, id, uri string) error {
	return s.update(id, func(job *store.JobRecord) {
		job.RemoteURI = uri
	})
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, id string) (store.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return store.JobRecord{}, store.ErrNotFound
	}
	return job, nil
}

// ListOutcomes returns a copy of the job's outcomes ordered by sequence.
func (s *JobStore) ListOutcomes(_ context.Context, id string) ([]store.OutcomeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.jobs[id]; !ok {
		return nil, store.ErrNotFound
	}
	out := append([]store.OutcomeRecord(nil), s.outcomes[id]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *JobStore) update(id string, fn func(*store.JobRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("update job %s: %w", id, store.ErrNotFound)
	}
	fn(&job)
	s.jobs[id] = job
	return nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t.UTC()
	return &ts
}
