package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubFlushesWhenBatchFull(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(HubConfig{Buffer: 8, BatchSize: 2, FlushEvery: time.Minute}, zap.NewNop(), sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(taskEvent(KindTaskStarted))
	hub.Emit(taskEvent(KindTaskSucceeded))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubFlushesOnTicker(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(HubConfig{Buffer: 4, BatchSize: 10, FlushEvery: 20 * time.Millisecond}, nil, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(taskEvent(KindTaskStarted))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubDrainsOnClose(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	hub := NewHub(HubConfig{Buffer: 4, BatchSize: 100, FlushEvery: time.Minute}, nil, sink)
	hub.Emit(taskEvent(KindTaskStarted))

	require.NoError(t, hub.Close(context.Background()))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Equal(t, 1, sink.closed)
}

func TestHubDropsWhenFull(t *testing.T) {
	t.Parallel()

	hub := &Hub{in: make(chan Event), logger: zap.NewNop()}
	start := time.Now()
	hub.Emit(taskEvent(KindTaskStarted))
	hub.Emit(taskEvent(KindTaskStarted))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(2), hub.Dropped())
}

func TestHubIgnoresInvalidEvents(t *testing.T) {
	t.Parallel()

	hub := &Hub{in: make(chan Event, 1), logger: zap.NewNop()}
	hub.Emit(Event{Kind: KindTaskStarted})
	require.Empty(t, hub.in)
	require.Zero(t, hub.Dropped())
}

func TestNilHubIsSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(taskEvent(KindTaskStarted))
	require.NoError(t, hub.Close(context.Background()))
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  int
}

func (s *recordingSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *recordingSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	copy(out, s.batches)
	return out
}

func taskEvent(kind Kind) Event {
	evt := Event{
		JobID:  "2024-05-01T10-00-00.000Z",
		TS:     time.Now(),
		Kind:   kind,
		Seq:    1,
		Total:  3,
		Locale: "EN",
		Device: "desktop",
		URL:    "https://example.com/",
	}
	if kind == KindTaskFailed {
		evt.Err = "boom"
	}
	return evt
}
