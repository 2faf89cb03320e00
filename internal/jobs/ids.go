package jobs

import (
	"sync"
	"time"

	"github.com/JakeFAU/pagecapture/internal/capture"
)

// IDSource derives timestamp job ids that never repeat within the process.
// When two ids would share a millisecond the later one is bumped forward.
type IDSource struct {
	clock capture.Clock
	mu    sync.Mutex
	last  time.Time
}

// NewIDSource constructs an IDSource over clock.
func NewIDSource(clock capture.Clock) *IDSource {
	return &IDSource{clock: clock}
}

// Next returns a fresh id.
func (s *IDSource) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.clock.Now().UTC().Truncate(time.Millisecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Millisecond)
	}
	s.last = t
	return capture.JobID(t)
}
