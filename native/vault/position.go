package vault

import (
	"context"
	"fmt"
	"math/big"

	"tradevault/core/events"
	"tradevault/crypto"
	extengine "tradevault/engine"
)

// OpenPositionParams carries one open-position request from an executor.
type OpenPositionParams struct {
	PositionID   uint64
	AssetIn      string
	AssetOut     string
	TotalDeposit *big.Int
	OrderID      uint64
	Payload      []byte
}

// OpenPositionResult reports the realized escrow of an accepted open.
type OpenPositionResult struct {
	Position      *Position
	TotalEscrowed *big.Int
	Timestamp     int64
}

// ClosePositionResult reports the outcome of a close, including the refund
// observed via balance delta.
type ClosePositionResult struct {
	Position      *Position
	Refund        *big.Int
	TotalEscrowed *big.Int
	Timestamp     int64
}

// OpenPosition opens a long-lived order against the external position engine.
// Escrow accounting uses the realized spend, not the requested deposit: the
// position records what actually left custody, and that amount is what close
// later reconciles out of TotalEscrowed.
func (e *Engine) OpenPosition(ctx context.Context, vaultID, executor crypto.Address, params OpenPositionParams) (*OpenPositionResult, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if params.TotalDeposit == nil || params.TotalDeposit.Sign() == 0 {
		return nil, reject(KindPrecondition, CodeZeroAmount, "total_deposit must be positive")
	}
	if len(params.Payload) > MaxPayloadBytes {
		return nil, reject(KindPrecondition, CodePayloadTooLarge,
			"payload %d bytes exceeds limit %d", len(params.Payload), MaxPayloadBytes)
	}
	assetIn, err := NormalizeAsset(params.AssetIn)
	if err != nil {
		return nil, err
	}
	assetOut, err := NormalizeAsset(params.AssetOut)
	if err != nil {
		return nil, err
	}

	txn := e.state.Txn()
	defer txn.Discard()

	v, ok, err := txn.GetVault(vaultID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrVaultNotFound
	}

	if params.PositionID == 0 || params.PositionID > uint64(v.MaxPositions) {
		return nil, reject(KindPolicy, CodeMaxPositions,
			"position id %d outside slot range 1..%d", params.PositionID, v.MaxPositions)
	}
	if existing, found, err := txn.GetPosition(vaultID, params.PositionID); err != nil {
		return nil, err
	} else if found && existing.Active {
		return nil, reject(KindPrecondition, CodePositionExists,
			"position %d already active", params.PositionID)
	}
	projected := new(big.Int).Add(v.TotalEscrowed, params.TotalDeposit)
	if projected.Cmp(v.MaxEscrow) > 0 {
		return nil, reject(KindPolicy, CodeMaxEscrow,
			"escrow %s would exceed limit %s", projected, v.MaxEscrow)
	}

	whitelist, err := txn.GetWhitelist(vaultID)
	if err != nil {
		return nil, err
	}
	if !whitelist.Contains(assetIn) {
		return nil, reject(KindPolicy, CodeWhitelistMiss, "input asset %s not whitelisted", assetIn)
	}
	if !whitelist.Contains(assetOut) {
		return nil, reject(KindPolicy, CodeWhitelistMiss, "output asset %s not whitelisted", assetOut)
	}
	eng, ok := e.engineByID(v.PositionEngine)
	if !ok {
		return nil, reject(KindPrecondition, CodeEngineMismatch,
			"position engine %q not available", v.PositionEngine)
	}

	preSource, err := txn.Balance(vaultID, assetIn)
	if err != nil {
		return nil, err
	}
	rec, found, err := txn.GetExecutor(vaultID, executor)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, reject(KindPolicy, CodeExecutorDisabled, "executor %s not registered", executor)
	}
	now := e.now()
	if rej := Authorize(v, rec, now, params.TotalDeposit, params.OrderID); rej != nil {
		return nil, rej
	}

	call := extengine.Call{
		Kind:      extengine.KindOpenPosition,
		Vault:     vaultID,
		AssetIn:   assetIn,
		AssetOut:  assetOut,
		Payload:   params.Payload,
		Authority: txn.Authority(vaultID, v.Authority),
	}
	receipt, err := eng.Execute(ctx, call)
	if err != nil {
		return nil, rejectExternal(err)
	}

	postSource, err := txn.Balance(vaultID, assetIn)
	if err != nil {
		return nil, err
	}
	spentIn := floorZero(new(big.Int).Sub(preSource, postSource))
	if spentIn.Cmp(params.TotalDeposit) > 0 {
		return nil, reject(KindPostcondition, CodeOverspend,
			"engine escrowed %s, authorized %s", spentIn, params.TotalDeposit)
	}

	position := &Position{
		ID:        params.PositionID,
		AssetIn:   assetIn,
		AssetOut:  assetOut,
		Deposited: spentIn,
		CreatedAt: now,
		Active:    true,
	}
	if receipt != nil {
		position.Handle = receipt.Handle
	}
	v.TotalEscrowed = new(big.Int).Add(v.TotalEscrowed, spentIn)
	if err := txn.PutVault(v); err != nil {
		return nil, err
	}
	if err := txn.PutExecutor(vaultID, rec); err != nil {
		return nil, err
	}
	if err := txn.PutPosition(vaultID, position); err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("vault engine: commit open position: %w", err)
	}
	e.emit(events.PositionOpened{
		Vault:         vaultID,
		Executor:      executor,
		PositionID:    position.ID,
		AssetIn:       assetIn,
		AssetOut:      assetOut,
		Deposited:     cloneAmount(position.Deposited),
		TotalEscrowed: cloneAmount(v.TotalEscrowed),
		OrderID:       params.OrderID,
		PayloadHash:   payloadDigest(params.Payload),
		Timestamp:     now,
	})
	return &OpenPositionResult{
		Position:      position.Clone(),
		TotalEscrowed: cloneAmount(v.TotalEscrowed),
		Timestamp:     now,
	}, nil
}

// ClosePosition closes an active position via the external position engine.
// The refund is whatever the engine returned to custody, observed by balance
// delta; TotalEscrowed is decremented by the position's deposited amount, not
// by the refund, because escrow accounting reflects what was committed.
// Per-cycle behavior of the engine between open and close is not verified
// here; only the opening deposit and the final close are checked.
func (e *Engine) ClosePosition(ctx context.Context, vaultID, caller crypto.Address, positionID uint64, payload []byte) (*ClosePositionResult, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if len(payload) > MaxPayloadBytes {
		return nil, reject(KindPrecondition, CodePayloadTooLarge,
			"payload %d bytes exceeds limit %d", len(payload), MaxPayloadBytes)
	}

	txn := e.state.Txn()
	defer txn.Discard()

	v, ok, err := txn.GetVault(vaultID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrVaultNotFound
	}
	if !v.Owner.Equal(caller) {
		return nil, reject(KindUnauthorized, CodeUnauthorized, "close-position requires the vault owner")
	}

	position, found, err := txn.GetPosition(vaultID, positionID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, reject(KindPrecondition, CodePositionUnknown, "position %d not found", positionID)
	}
	if !position.Active {
		return nil, reject(KindPrecondition, CodePositionInactive, "position %d is not active", positionID)
	}
	eng, ok := e.engineByID(v.PositionEngine)
	if !ok {
		return nil, reject(KindPrecondition, CodeEngineMismatch,
			"position engine %q not available", v.PositionEngine)
	}

	preBalance, err := txn.Balance(vaultID, position.AssetIn)
	if err != nil {
		return nil, err
	}
	call := extengine.Call{
		Kind:      extengine.KindClosePosition,
		Vault:     vaultID,
		AssetIn:   position.AssetIn,
		AssetOut:  position.AssetOut,
		Payload:   payload,
		Handle:    position.Handle,
		Authority: txn.Authority(vaultID, v.Authority),
	}
	if _, err := eng.Execute(ctx, call); err != nil {
		return nil, rejectExternal(err)
	}
	postBalance, err := txn.Balance(vaultID, position.AssetIn)
	if err != nil {
		return nil, err
	}
	refund := floorZero(new(big.Int).Sub(postBalance, preBalance))

	v.TotalEscrowed = floorZero(new(big.Int).Sub(v.TotalEscrowed, position.Deposited))
	position.Active = false
	if err := txn.PutVault(v); err != nil {
		return nil, err
	}
	if err := txn.PutPosition(vaultID, position); err != nil {
		return nil, err
	}
	now := e.now()
	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("vault engine: commit close position: %w", err)
	}
	e.emit(events.PositionClosed{
		Vault:         vaultID,
		Owner:         caller,
		PositionID:    positionID,
		Deposited:     cloneAmount(position.Deposited),
		Refund:        refund,
		TotalEscrowed: cloneAmount(v.TotalEscrowed),
		PayloadHash:   payloadDigest(payload),
		Timestamp:     now,
	})
	return &ClosePositionResult{
		Position:      position.Clone(),
		Refund:        refund,
		TotalEscrowed: cloneAmount(v.TotalEscrowed),
		Timestamp:     now,
	}, nil
}
