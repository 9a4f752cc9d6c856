package vault

import (
	"context"
	"fmt"
	"math/big"

	"tradevault/core/events"
	"tradevault/crypto"
	extengine "tradevault/engine"
)

// SwapParams carries one swap request from an executor.
type SwapParams struct {
	AssetIn  string
	AssetOut string
	AmountIn *big.Int
	MinOut   *big.Int
	OrderID  uint64
	Payload  []byte
}

// SwapResult reports the realized outcome of an accepted swap.
type SwapResult struct {
	SpentIn     *big.Int
	ReceivedOut *big.Int
	DailyUsed   *big.Int
	TradeCount  uint64
	Timestamp   int64
}

// ExecuteSwap orchestrates a single swap: whitelist check, authorization,
// balance snapshot, delegated call into the external swap engine, then
// balance-delta verification. Caps and whitelists bound intent; the pre/post
// balance deltas bound the actual outcome, which is the sole defense against
// a malicious or buggy external engine. Any failure after the delegated call
// rolls the entire operation back, delegated custody movements included.
func (e *Engine) ExecuteSwap(ctx context.Context, vaultID, executor crypto.Address, params SwapParams) (*SwapResult, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if params.AmountIn == nil || params.AmountIn.Sign() == 0 {
		return nil, reject(KindPrecondition, CodeZeroAmount, "amount_in must be positive")
	}
	if params.MinOut == nil || params.MinOut.Sign() == 0 {
		return nil, reject(KindPrecondition, CodeZeroAmount, "min_out must be positive")
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

	eng, ok := e.engineByID(v.SwapEngine)
	if !ok {
		return nil, reject(KindPrecondition, CodeEngineMismatch,
			"swap engine %q not available", v.SwapEngine)
	}

	preSource, err := txn.Balance(vaultID, assetIn)
	if err != nil {
		return nil, err
	}
	preDest, err := txn.Balance(vaultID, assetOut)
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
	if rej := Authorize(v, rec, now, params.AmountIn, params.OrderID); rej != nil {
		return nil, rej
	}
	if err := txn.PutVault(v); err != nil {
		return nil, err
	}
	if err := txn.PutExecutor(vaultID, rec); err != nil {
		return nil, err
	}

	call := extengine.Call{
		Kind:      extengine.KindSwap,
		Vault:     vaultID,
		AssetIn:   assetIn,
		AssetOut:  assetOut,
		Payload:   params.Payload,
		Authority: txn.Authority(vaultID, v.Authority),
	}
	if _, err := eng.Execute(ctx, call); err != nil {
		return nil, rejectExternal(err)
	}

	postSource, err := txn.Balance(vaultID, assetIn)
	if err != nil {
		return nil, err
	}
	postDest, err := txn.Balance(vaultID, assetOut)
	if err != nil {
		return nil, err
	}
	spentIn := floorZero(new(big.Int).Sub(preSource, postSource))
	receivedOut := floorZero(new(big.Int).Sub(postDest, preDest))
	if spentIn.Cmp(params.AmountIn) > 0 {
		return nil, reject(KindPostcondition, CodeOverspend,
			"engine spent %s, authorized %s", spentIn, params.AmountIn)
	}
	if receivedOut.Cmp(params.MinOut) < 0 {
		return nil, reject(KindPostcondition, CodeUnderfill,
			"engine returned %s, floor %s", receivedOut, params.MinOut)
	}

	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("vault engine: commit swap: %w", err)
	}
	e.emit(events.SwapExecuted{
		Vault:       vaultID,
		Executor:    executor,
		AssetIn:     assetIn,
		AssetOut:    assetOut,
		AmountIn:    cloneAmount(params.AmountIn),
		MinOut:      cloneAmount(params.MinOut),
		SpentIn:     spentIn,
		ReceivedOut: receivedOut,
		OrderID:     params.OrderID,
		PayloadHash: payloadDigest(params.Payload),
		DailyUsed:   cloneAmount(v.DailyUsed),
		TradeCount:  v.TradeCount,
		Timestamp:   now,
	})
	return &SwapResult{
		SpentIn:     spentIn,
		ReceivedOut: receivedOut,
		DailyUsed:   cloneAmount(v.DailyUsed),
		TradeCount:  v.TradeCount,
		Timestamp:   now,
	}, nil
}
