package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJournalReplaysHistoryAndStreams(t *testing.T) {
	t.Parallel()

	j := NewJournal("job-1", 4)
	j.Emit(Event{Kind: KindJobStarted, Total: 2})

	history, events, cancel := j.Subscribe()
	defer cancel()
	require.Len(t, history, 1)
	require.Equal(t, "job-1", history[0].JobID)
	require.False(t, history[0].TS.IsZero())

	j.Emit(taskEvent(KindTaskStarted))
	got := <-events
	require.Equal(t, KindTaskStarted, got.Kind)
}

func TestJournalClosesSubscribersOnTerminal(t *testing.T) {
	t.Parallel()

	j := NewJournal("job-2", 4)
	_, events, cancel := j.Subscribe()
	defer cancel()

	j.Emit(Event{Kind: KindJobAborted, Err: "disk full"})
	evt, ok := <-events
	require.True(t, ok)
	require.Equal(t, KindJobAborted, evt.Kind)
	_, ok = <-events
	require.False(t, ok)

	select {
	case <-j.Done():
	case <-time.After(time.Second):
		t.Fatal("journal not done")
	}

	j.Emit(taskEvent(KindTaskStarted))
	require.Len(t, j.History(), 1)
}

func TestJournalSubscribeAfterEnd(t *testing.T) {
	t.Parallel()

	j := NewJournal("job-3", 1)
	j.Emit(Event{Kind: KindJobCompleted, ArchivePath: "/tmp/a.zip"})

	history, events, cancel := j.Subscribe()
	cancel()
	require.Len(t, history, 1)
	_, ok := <-events
	require.False(t, ok)
}

func TestJournalDropsSlowSubscriber(t *testing.T) {
	t.Parallel()

	j := NewJournal("job-4", 1)
	_, events, cancel := j.Subscribe()
	defer cancel()

	j.Emit(taskEvent(KindTaskStarted))
	j.Emit(taskEvent(KindTaskSucceeded))
	require.Zero(t, j.Subscribers())

	<-events
	_, ok := <-events
	require.False(t, ok)
	require.Len(t, j.History(), 2)
}

func TestJournalCancelIsIdempotent(t *testing.T) {
	t.Parallel()

	j := NewJournal("job-5", 1)
	_, _, cancel := j.Subscribe()
	require.Equal(t, 1, j.Subscribers())
	cancel()
	cancel()
	require.Zero(t, j.Subscribers())
}
