package types

// Event represents a typed record emitted by a successful state-changing
// vault operation. Sequence is assigned by the audit store when the event is
// persisted; it is zero while the event is in flight.
type Event struct {
	Type       string            `json:"type"`
	Sequence   uint64            `json:"sequence,omitempty"`
	Timestamp  int64             `json:"timestamp"`
	Attributes map[string]string `json:"attributes"`
}
