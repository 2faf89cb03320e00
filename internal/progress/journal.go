package progress

import (
	"sync"
	"time"
)

const defaultSubscriberBuffer = 256

// Journal is the per-job progress handle. It keeps the full event history so
// late observers can replay it, and fans each new event out to live
// subscribers. A subscriber that cannot keep up is disconnected rather than
// allowed to stall the job.
type Journal struct {
	jobID  string
	buffer int

	mu      sync.Mutex
	history []Event
	subs    map[int]chan Event
	nextSub int
	done    chan struct{}
	ended   bool
}

// NewJournal creates a Journal for jobID. buffer sizes each subscriber channel.
func NewJournal(jobID string, buffer int) *Journal {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Journal{
		jobID:  jobID,
		buffer: buffer,
		subs:   make(map[int]chan Event),
		done:   make(chan struct{}),
	}
}

// JobID returns the id this journal records.
func (j *Journal) JobID() string { return j.jobID }

// Emit implements Emitter. Events after the terminal event are ignored.
func (j *Journal) Emit(evt Event) {
	if j == nil {
		return
	}
	if evt.JobID == "" {
		evt.JobID = j.jobID
	}
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.ended {
		return
	}
	j.history = append(j.history, evt)
	for id, ch := range j.subs {
		select {
		case ch <- evt:
		default:
			close(ch)
			delete(j.subs, id)
		}
	}
	if evt.Terminal() {
		j.ended = true
		for id, ch := range j.subs {
			close(ch)
			delete(j.subs, id)
		}
		close(j.done)
	}
}

// Subscribe returns the history recorded so far and a channel of subsequent
// events. The channel is closed after the terminal event, when the subscriber
// falls behind, or when cancel is called. For a finished job the channel is
// already closed.
func (j *Journal) Subscribe() (history []Event, events <-chan Event, cancel func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	history = append([]Event(nil), j.history...)
	ch := make(chan Event, j.buffer)
	if j.ended {
		close(ch)
		return history, ch, func() {}
	}
	id := j.nextSub
	j.nextSub++
	j.subs[id] = ch
	var once sync.Once
	cancel = func() {
		once.Do(func() {
			j.mu.Lock()
			defer j.mu.Unlock()
			if sub, ok := j.subs[id]; ok {
				close(sub)
				delete(j.subs, id)
			}
		})
	}
	return history, ch, cancel
}

// History returns a copy of every event recorded so far.
func (j *Journal) History() []Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Event(nil), j.history...)
}

// Done is closed once the terminal event has been recorded.
func (j *Journal) Done() <-chan struct{} { return j.done }

// Subscribers reports the number of live subscribers.
func (j *Journal) Subscribers() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.subs)
}
