package progress

import "context"

// Sink consumes batches of progress events. Implementations must be safe for
// repeated calls and honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events. Implementations must not block the
// caller for long and must tolerate being invoked after the observer is gone.
type Emitter interface {
	Emit(evt Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

// Emit calls f.
func (f EmitterFunc) Emit(evt Event) {
	if f != nil {
		f(evt)
	}
}

// Tee forwards each event to every non-nil emitter in order.
type Tee []Emitter

// Emit implements Emitter.
func (t Tee) Emit(evt Event) {
	for _, e := range t {
		if e == nil {
			continue
		}
		e.Emit(evt)
	}
}

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(Event) {})

// OrDiscard returns e, or Discard when e is nil.
func OrDiscard(e Emitter) Emitter {
	if e == nil {
		return Discard
	}
	return e
}
