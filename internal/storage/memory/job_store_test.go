package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pagecapture/internal/capture"
	"github.com/JakeFAU/pagecapture/internal/store"
)

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	s := NewJobStore()
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	id := "2024-05-01T10-00-00.000Z"

	require.NoError(t, s.CreateJob(ctx, store.JobRecord{ID: id, Source: "urls.xlsx", Submitted: now}))
	require.ErrorIs(t, s.CreateJob(ctx, store.JobRecord{ID: id}), store.ErrJobExists)

	require.NoError(t, s.MarkStarted(ctx, id, now.Add(time.Second), 3))
	require.NoError(t, s.RecordOutcome(ctx, store.OutcomeRecord{JobID: id, Seq: 2, Status: capture.StatusFailure, Error: "boom"}))
	require.NoError(t, s.RecordOutcome(ctx, store.OutcomeRecord{JobID: id, Seq: 1, Status: capture.StatusSuccess}))
	require.NoError(t, s.CompleteJob(ctx, id, now.Add(time.Minute), capture.StateCompleted, "/out/a.zip", ""))
	require.NoError(t, s.SetRemoteURI(ctx, id, "gs://bucket/a.zip"))

	job, err := s.GetJob(ctx, id)
	require.NoError(t, err)
	require.Equal(t, capture.StateCompleted, job.State)
	require.Equal(t, 3, job.TaskCount)
	require.Equal(t, 1, job.Succeeded)
	require.Equal(t, 1, job.Failed)
	require.NotNil(t, job.Started)
	require.NotNil(t, job.Finished)
	require.Equal(t, "/out/a.zip", job.ArchivePath)
	require.Equal(t, "gs://bucket/a.zip", job.RemoteURI)

	outcomes, err := s.ListOutcomes(ctx, id)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	require.Equal(t, 1, outcomes[0].Seq)
	outcomes[0].URL = "modified"
	again, err := s.ListOutcomes(ctx, id)
	require.NoError(t, err)
	require.Empty(t, again[0].URL)
}

func TestJobStoreUnknownJob(t *testing.T) {
	t.Parallel()

	s := NewJobStore()
	ctx := context.Background()
	_, err := s.GetJob(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.MarkStarted(ctx, "missing", time.Now(), 1), store.ErrNotFound)
	require.ErrorIs(t, s.RecordOutcome(ctx, store.OutcomeRecord{JobID: "missing"}), store.ErrNotFound)
	_, err = s.ListOutcomes(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}
