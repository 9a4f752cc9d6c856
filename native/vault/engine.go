package vault

import (
	"time"

	"lukechampine.com/blake3"

	"tradevault/core/events"
	extengine "tradevault/engine"
)

// Engine wires the vault business logic with persistent state, external
// execution engines and an event emitter. It performs no locking of its own;
// the surrounding node serializes operations per vault.
type Engine struct {
	state   *State
	emitter events.Emitter
	engines map[string]extengine.Engine
	nowFn   func() int64
}

// NewEngine creates a vault engine with a no-op emitter and no registered
// external engines.
func NewEngine(state *State) *Engine {
	return &Engine{
		state:   state,
		emitter: events.NoopEmitter{},
		engines: make(map[string]extengine.Engine),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// RegisterEngine makes an external execution engine available for delegated
// calls. A vault can only reach engines whose identifier its owner pinned via
// initialize or set-params.
func (e *Engine) RegisterEngine(eng extengine.Engine) {
	if eng == nil {
		return
	}
	e.engines[eng.ID()] = eng
}

func (e *Engine) engineByID(id string) (extengine.Engine, bool) {
	eng, ok := e.engines[id]
	return eng, ok
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func payloadDigest(payload []byte) [32]byte {
	return blake3.Sum256(payload)
}
