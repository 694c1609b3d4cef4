package progress

import "context"

// Sink consumes batches of progress events. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// fetcher and engine stay agnostic about how events are buffered.
type Emitter interface {
	Emit(evt Event)
}

// Nop discards every event.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(Event) {}

type runEmitter struct {
	next  Emitter
	runID [16]byte
}

// WithRun returns an Emitter that stamps runID on events that carry none.
func WithRun(next Emitter, runID [16]byte) Emitter {
	if next == nil {
		next = Nop{}
	}
	return runEmitter{next: next, runID: runID}
}

func (r runEmitter) Emit(evt Event) {
	if evt.RunID == [16]byte{} {
		evt.RunID = r.runID
	}
	r.next.Emit(evt)
}
