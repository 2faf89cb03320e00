package headless

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
)

// idleTracker counts in-flight requests from CDP network events. The network
// is idle once no more than limit requests have been open for a full window.
type idleTracker struct {
	mu         sync.Mutex
	inflight   map[network.RequestID]struct{}
	limit      int
	quietSince time.Time
	now        func() time.Time
}

func newIdleTracker(limit int, now func() time.Time) *idleTracker {
	return &idleTracker{
		inflight:   make(map[network.RequestID]struct{}),
		limit:      limit,
		quietSince: now(),
		now:        now,
	}
}

func (t *idleTracker) observe(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.started(e.RequestID)
	case *network.EventLoadingFinished:
		t.finished(e.RequestID)
	case *network.EventLoadingFailed:
		t.finished(e.RequestID)
	}
}

func (t *idleTracker) started(id network.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight[id] = struct{}{}
	if len(t.inflight) > t.limit {
		t.quietSince = time.Time{}
	}
}

func (t *idleTracker) finished(id network.RequestID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inflight, id)
	if len(t.inflight) <= t.limit && t.quietSince.IsZero() {
		t.quietSince = t.now()
	}
}

// reset restarts the quiet window for a new navigation.
func (t *idleTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight = make(map[network.RequestID]struct{})
	t.quietSince = t.now()
}

func (t *idleTracker) quietFor() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.quietSince.IsZero() {
		return 0
	}
	return t.now().Sub(t.quietSince)
}

func (t *idleTracker) wait(ctx context.Context, window time.Duration) error {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for {
		if t.quietFor() >= window {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for network idle: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
