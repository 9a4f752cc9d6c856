package vault

import (
	"errors"
	"fmt"
	"strings"
)

var (
	errNilState      = errors.New("vault engine: state not configured")
	ErrVaultNotFound = errors.New("vault engine: vault not found")
	ErrVaultExists   = errors.New("vault engine: vault already initialized")
)

// RejectKind classifies a rejection by recovery semantics. Unauthorized and
// precondition failures are caller errors; policy rejections clear once the
// caller waits or adjusts the request; external and postcondition failures
// mean the delegated call ran (or tried to) and the whole operation rolled
// back.
type RejectKind uint8

const (
	KindUnauthorized RejectKind = iota
	KindPolicy
	KindPrecondition
	KindExternal
	KindPostcondition
)

// String returns the canonical label used in events and RPC error payloads.
func (k RejectKind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindPolicy:
		return "policy_rejection"
	case KindPrecondition:
		return "precondition_violation"
	case KindExternal:
		return "external_call_failure"
	case KindPostcondition:
		return "postcondition_violation"
	default:
		return "unknown"
	}
}

// RejectCode enumerates the specific reasons an operation can be refused.
type RejectCode string

const (
	CodeUnauthorized     RejectCode = "unauthorized"
	CodePaused           RejectCode = "vault_paused"
	CodeExecutorDisabled RejectCode = "executor_disabled"
	CodeZeroAmount       RejectCode = "zero_amount"
	CodeReplay           RejectCode = "order_id_replay"
	CodeCooldown         RejectCode = "cooldown"
	CodePerTradeCap      RejectCode = "per_trade_cap"
	CodeDailyCap         RejectCode = "daily_cap"
	CodeWhitelistMiss    RejectCode = "asset_not_whitelisted"
	CodeWhitelistFull    RejectCode = "whitelist_full"
	CodeDuplicateMint    RejectCode = "duplicate_mint"
	CodeUnknownMint      RejectCode = "unknown_mint"
	CodeEngineMismatch   RejectCode = "engine_mismatch"
	CodePayloadTooLarge  RejectCode = "payload_too_large"
	CodeMaxPositions     RejectCode = "max_positions"
	CodeMaxEscrow        RejectCode = "max_escrow"
	CodePositionExists   RejectCode = "position_exists"
	CodePositionInactive RejectCode = "position_inactive"
	CodePositionUnknown  RejectCode = "position_unknown"
	CodeInsufficientBal  RejectCode = "insufficient_balance"
	CodeExternalCall     RejectCode = "external_call_failed"
	CodeOverspend        RejectCode = "overspend"
	CodeUnderfill        RejectCode = "underfill"
)

// Rejection conveys a refused operation alongside diagnostic context. It is
// the only error type the engine returns for domain-level refusals; transport
// and storage faults surface as plain wrapped errors.
type Rejection struct {
	Kind    RejectKind
	Code    RejectCode
	Message string
	Err     error
}

// Error satisfies the error interface.
func (r *Rejection) Error() string {
	if r == nil {
		return ""
	}
	if strings.TrimSpace(r.Message) != "" {
		return r.Message
	}
	return fmt.Sprintf("vault: operation rejected: %s", r.Code)
}

// Unwrap exposes the underlying cause, if any (external call failures carry
// the engine error).
func (r *Rejection) Unwrap() error {
	if r == nil {
		return nil
	}
	return r.Err
}

// AsRejection unwraps err into a *Rejection when it is one.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

func reject(kind RejectKind, code RejectCode, format string, args ...interface{}) *Rejection {
	return &Rejection{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func rejectExternal(err error) *Rejection {
	return &Rejection{
		Kind:    KindExternal,
		Code:    CodeExternalCall,
		Message: fmt.Sprintf("delegated call failed: %v", err),
		Err:     err,
	}
}
