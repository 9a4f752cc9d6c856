package vault

import (
	"context"
	"math/big"
	"reflect"
	"testing"

	extengine "tradevault/engine"
)

// positionScript escrows spend of AssetIn and reports the given handle.
func positionScript(spend int64, handle string) func(context.Context, extengine.Call) (*extengine.Receipt, error) {
	return func(_ context.Context, call extengine.Call) (*extengine.Receipt, error) {
		if spend > 0 {
			if err := call.Authority.Debit(call.AssetIn, big.NewInt(spend)); err != nil {
				return nil, err
			}
		}
		return &extengine.Receipt{Handle: handle}, nil
	}
}

// closeScript refunds the given amount of AssetIn to custody.
func closeScript(refund int64) func(context.Context, extengine.Call) (*extengine.Receipt, error) {
	return func(_ context.Context, call extengine.Call) (*extengine.Receipt, error) {
		if refund > 0 {
			if err := call.Authority.Credit(call.AssetIn, big.NewInt(refund)); err != nil {
				return nil, err
			}
		}
		return &extengine.Receipt{}, nil
	}
}

func openParams(positionID, orderID uint64, deposit int64) OpenPositionParams {
	return OpenPositionParams{
		PositionID:   positionID,
		AssetIn:      assetUSDC,
		AssetOut:     assetSOL,
		TotalDeposit: big.NewInt(deposit),
		OrderID:      orderID,
	}
}

func TestOpenPositionHappyPath(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.position.fn = positionScript(100, "tuna-7f")

	result, err := h.engine.OpenPosition(context.Background(), h.vaultID, h.executor, openParams(1, 1, 100))
	if err != nil {
		t.Fatalf("open position: %v", err)
	}
	if result.Position.Deposited.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("deposited: %s", result.Position.Deposited)
	}
	if result.Position.Handle != "tuna-7f" {
		t.Fatalf("handle: %q", result.Position.Handle)
	}
	if result.TotalEscrowed.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("total escrowed: %s", result.TotalEscrowed)
	}
	if h.balance(t, assetUSDC).Cmp(big.NewInt(9_900)) != 0 {
		t.Fatalf("custody balance: %s", h.balance(t, assetUSDC))
	}
	stored, found, err := h.engine.Position(h.vaultID, 1)
	if err != nil || !found {
		t.Fatalf("load position: found=%v err=%v", found, err)
	}
	if !stored.Active || stored.Deposited.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("stored position: %+v", stored)
	}
}

// Escrow headroom is enforced before the delegated call ever runs.
func TestOpenPositionEscrowCapBeforeDelegatedCall(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.position.fn = positionScript(100, "")
	before := h.snapshot()

	// max_escrow is 400; a 500 deposit must be refused up front.
	bigDeposit := openParams(1, 1, 500)
	bigDeposit.TotalDeposit = big.NewInt(500)
	_, err := h.engine.OpenPosition(context.Background(), h.vaultID, h.executor, bigDeposit)
	requireRejection(t, err, CodeMaxEscrow)
	if h.position.calls != 0 {
		t.Fatal("delegated call must not run when escrow cap is exceeded")
	}
	if !reflect.DeepEqual(before, h.snapshot()) {
		t.Fatal("rejected open mutated storage")
	}
}

func TestOpenPositionSlotRange(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.position.fn = positionScript(10, "")
	for _, slot := range []uint64{0, 5} {
		_, err := h.engine.OpenPosition(context.Background(), h.vaultID, h.executor, openParams(slot, 1, 10))
		requireRejection(t, err, CodeMaxPositions)
	}
}

func TestOpenPositionDuplicateSlot(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.position.fn = positionScript(10, "")
	if _, err := h.engine.OpenPosition(context.Background(), h.vaultID, h.executor, openParams(1, 1, 10)); err != nil {
		t.Fatalf("first open: %v", err)
	}
	_, err := h.engine.OpenPosition(context.Background(), h.vaultID, h.executor, openParams(1, 2, 10))
	requireRejection(t, err, CodePositionExists)
}

func TestOpenPositionOverspendRollsBack(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.position.fn = positionScript(80, "")
	before := h.snapshot()
	_, err := h.engine.OpenPosition(context.Background(), h.vaultID, h.executor, openParams(1, 1, 50))
	requireRejection(t, err, CodeOverspend)
	if !reflect.DeepEqual(before, h.snapshot()) {
		t.Fatal("overspend left state mutated")
	}
}

func TestOpenPositionConsumesDailyBudget(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.position.fn = positionScript(100, "")
	h.swap.fn = swapScript(100, 95)

	if _, err := h.engine.OpenPosition(context.Background(), h.vaultID, h.executor, openParams(1, 1, 100)); err != nil {
		t.Fatalf("open: %v", err)
	}
	h.advance(1)
	h.mustSwap(t, 2, 100, 90)
	h.advance(1)
	h.mustSwap(t, 3, 100, 90)
	h.advance(1)
	// Opens and swaps share the 300 daily budget.
	_, err := h.engine.OpenPosition(context.Background(), h.vaultID, h.executor, openParams(2, 4, 1))
	requireRejection(t, err, CodeDailyCap)
}

func TestClosePositionHappyPath(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.position.fn = positionScript(100, "tuna-1")
	if _, err := h.engine.OpenPosition(context.Background(), h.vaultID, h.executor, openParams(1, 1, 100)); err != nil {
		t.Fatalf("open: %v", err)
	}

	h.position.fn = closeScript(110)
	result, err := h.engine.ClosePosition(context.Background(), h.vaultID, h.owner, 1, nil)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if result.Refund.Cmp(big.NewInt(110)) != 0 {
		t.Fatalf("refund: %s", result.Refund)
	}
	if result.TotalEscrowed.Sign() != 0 {
		t.Fatalf("total escrowed after close: %s", result.TotalEscrowed)
	}
	if result.Position.Active {
		t.Fatal("position still active after close")
	}
	if h.balance(t, assetUSDC).Cmp(big.NewInt(10_010)) != 0 {
		t.Fatalf("custody balance after close: %s", h.balance(t, assetUSDC))
	}
}

func TestClosePositionOwnerOnly(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.position.fn = positionScript(100, "")
	if _, err := h.engine.OpenPosition(context.Background(), h.vaultID, h.executor, openParams(1, 1, 100)); err != nil {
		t.Fatalf("open: %v", err)
	}
	h.position.fn = closeScript(100)
	// The executor drives trades but can never unwind custody.
	_, err := h.engine.ClosePosition(context.Background(), h.vaultID, h.executor, 1, nil)
	rej := requireRejection(t, err, CodeUnauthorized)
	if rej.Kind != KindUnauthorized {
		t.Fatalf("expected unauthorized kind, got %s", rej.Kind)
	}
}

func TestClosePositionInactiveRejected(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.position.fn = positionScript(100, "")
	if _, err := h.engine.OpenPosition(context.Background(), h.vaultID, h.executor, openParams(1, 1, 100)); err != nil {
		t.Fatalf("open: %v", err)
	}
	h.position.fn = closeScript(100)
	if _, err := h.engine.ClosePosition(context.Background(), h.vaultID, h.owner, 1, nil); err != nil {
		t.Fatalf("first close: %v", err)
	}

	before := h.snapshot()
	calls := h.position.calls
	_, err := h.engine.ClosePosition(context.Background(), h.vaultID, h.owner, 1, nil)
	requireRejection(t, err, CodePositionInactive)
	if h.position.calls != calls {
		t.Fatal("delegated call ran for inactive position")
	}
	if !reflect.DeepEqual(before, h.snapshot()) {
		t.Fatal("rejected close mutated storage")
	}
}

func TestClosePositionUnknown(t *testing.T) {
	h := newHarness(t, defaultParams())
	_, err := h.engine.ClosePosition(context.Background(), h.vaultID, h.owner, 3, nil)
	requireRejection(t, err, CodePositionUnknown)
}

func TestCloseFreesSlotForReuse(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.position.fn = positionScript(100, "")
	if _, err := h.engine.OpenPosition(context.Background(), h.vaultID, h.executor, openParams(1, 1, 100)); err != nil {
		t.Fatalf("open: %v", err)
	}
	h.position.fn = closeScript(100)
	if _, err := h.engine.ClosePosition(context.Background(), h.vaultID, h.owner, 1, nil); err != nil {
		t.Fatalf("close: %v", err)
	}
	h.advance(1)
	h.position.fn = positionScript(50, "tuna-2")
	result, err := h.engine.OpenPosition(context.Background(), h.vaultID, h.executor, openParams(1, 2, 50))
	if err != nil {
		t.Fatalf("reopen slot: %v", err)
	}
	if result.Position.Handle != "tuna-2" || result.Position.Deposited.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("reopened position: %+v", result.Position)
	}
}

func TestCloseDecrementsEscrowByDeposit(t *testing.T) {
	h := newHarness(t, defaultParams())
	h.position.fn = positionScript(100, "")
	if _, err := h.engine.OpenPosition(context.Background(), h.vaultID, h.executor, openParams(1, 1, 100)); err != nil {
		t.Fatalf("open 1: %v", err)
	}
	h.advance(1)
	h.position.fn = positionScript(200, "")
	if _, err := h.engine.OpenPosition(context.Background(), h.vaultID, h.executor, openParams(2, 2, 200)); err != nil {
		t.Fatalf("open 2: %v", err)
	}

	// Escrow drops by what the position committed, regardless of the
	// engine's refund (a loss-making close here).
	h.position.fn = closeScript(60)
	result, err := h.engine.ClosePosition(context.Background(), h.vaultID, h.owner, 1, nil)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if result.TotalEscrowed.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("total escrowed: %s", result.TotalEscrowed)
	}
}
