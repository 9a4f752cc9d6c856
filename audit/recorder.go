package audit

import (
	"log/slog"

	"tradevault/core/events"
	"tradevault/core/types"
)

// payloadEvent is satisfied by every typed vault event; Event returns the
// canonical attribute payload.
type payloadEvent interface {
	Event() *types.Event
}

// Recorder is an events.Emitter that persists every event to the store and
// forwards the sequenced copy to an optional downstream emitter (for example
// the websocket broadcaster, which should only see events that made it into
// the audit log).
type Recorder struct {
	store  *Store
	next   func(types.Event)
	logger *slog.Logger
}

// NewRecorder wires a recorder over the store. next may be nil.
func NewRecorder(store *Store, next func(types.Event), logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, next: next, logger: logger}
}

// Emit implements events.Emitter. Persistence failures are logged, not
// propagated: the state commit already happened, and losing an audit row must
// not fail the operation retroactively.
func (r *Recorder) Emit(event events.Event) {
	if r == nil || event == nil {
		return
	}
	typed, ok := event.(payloadEvent)
	if !ok {
		r.logger.Warn("dropping event without payload", "type", event.EventType())
		return
	}
	stored, err := r.store.Append(typed.Event())
	if err != nil {
		r.logger.Error("failed to persist audit event", "type", event.EventType(), "error", err)
		return
	}
	if r.next != nil {
		r.next(*stored)
	}
}

var _ events.Emitter = (*Recorder)(nil)
