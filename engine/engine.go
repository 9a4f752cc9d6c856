// Package engine defines the narrow contract the vault uses to talk to
// external swap and position execution engines. The vault never interprets
// the payload it forwards; it only bounds its size and verifies identity and
// balance deltas around the call.
package engine

import (
	"context"
	"math/big"

	"tradevault/crypto"
)

// CallKind names the delegated operation being performed.
type CallKind string

const (
	KindSwap          CallKind = "swap"
	KindOpenPosition  CallKind = "open_position"
	KindClosePosition CallKind = "close_position"
)

// Authority is the restricted custody handle handed to an engine for the
// duration of one delegated call. It is the only way an external engine can
// move vault funds, and every movement lands in the same transaction as the
// enclosing operation so a failed call rolls everything back.
type Authority interface {
	// Address returns the escrow authority identity co-signing the call.
	Address() crypto.Address
	// Debit moves amount of asset out of vault custody.
	Debit(asset string, amount *big.Int) error
	// Credit moves amount of asset into vault custody.
	Credit(asset string, amount *big.Int) error
}

// Call carries one delegated invocation. Payload is opaque to the vault and
// forwarded verbatim.
type Call struct {
	Kind      CallKind
	Vault     crypto.Address
	AssetIn   string
	AssetOut  string
	Payload   []byte
	Handle    string
	Authority Authority
}

// Receipt reports the engine-side outcome of a successful call. Handle is the
// engine's identifier for a long-lived position; empty for swaps and closes.
type Receipt struct {
	Handle string
}

// Engine executes delegated calls. Execute is all-or-nothing from the vault's
// point of view: a non-nil error rejects the enclosing operation and rolls
// back every custody movement the engine performed through the Authority.
type Engine interface {
	// ID returns the engine identifier the vault owner pins in its
	// configuration.
	ID() string
	Execute(ctx context.Context, call Call) (*Receipt, error)
}
