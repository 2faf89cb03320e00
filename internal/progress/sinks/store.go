package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagecapture/internal/capture"
	"github.com/JakeFAU/pagecapture/internal/progress"
	"github.com/JakeFAU/pagecapture/internal/store"
)

// StoreSink persists job state transitions and task outcomes to a JobStore.
type StoreSink struct {
	jobs   store.JobStore
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for jobs.
func NewStoreSink(jobs store.JobStore, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{jobs: jobs, logger: logger}
}

// Consume writes each relevant event in order. It stops at the first store
// error so the Hub can report it.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.jobs == nil {
		return nil
	}
	for _, evt := range batch {
		if err := s.apply(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) apply(ctx context.Context, evt progress.Event) error {
	switch evt.Kind {
	case progress.KindJobStarted:
		if err := s.jobs.MarkStarted(ctx, evt.JobID, evt.TS, evt.Total); err != nil {
			return fmt.Errorf("mark job started: %w", err)
		}
	case progress.KindTaskSucceeded, progress.KindTaskFailed:
		status := capture.StatusSuccess
		if evt.Kind == progress.KindTaskFailed {
			status = capture.StatusFailure
		}
		err := s.jobs.RecordOutcome(ctx, store.OutcomeRecord{
			JobID:      evt.JobID,
			Seq:        evt.Seq,
			Locale:     evt.Locale,
			Device:     evt.Device,
			URL:        evt.URL,
			Path:       evt.Path,
			Status:     status,
			DurationMs: evt.Dur.Milliseconds(),
			Error:      evt.Err,
			RecordedAt: evt.TS,
		})
		if err != nil {
			return fmt.Errorf("record outcome: %w", err)
		}
	case progress.KindJobCompleted:
		if err := s.jobs.CompleteJob(ctx, evt.JobID, evt.TS, capture.StateCompleted, evt.ArchivePath, ""); err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
	case progress.KindJobAborted:
		if err := s.jobs.CompleteJob(ctx, evt.JobID, evt.TS, capture.StateAborted, "", evt.Err); err != nil {
			return fmt.Errorf("abort job: %w", err)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
