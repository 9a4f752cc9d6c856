package core

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"

	"tradevault/core/events"
	"tradevault/crypto"
	extengine "tradevault/engine"
	"tradevault/native/vault"
	"tradevault/storage"
)

type stubEngine struct {
	id string
	fn func(ctx context.Context, call extengine.Call) (*extengine.Receipt, error)
}

func (s *stubEngine) ID() string { return s.id }

func (s *stubEngine) Execute(ctx context.Context, call extengine.Call) (*extengine.Receipt, error) {
	if s.fn == nil {
		return &extengine.Receipt{}, nil
	}
	return s.fn(ctx, call)
}

type captureEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureEmitter) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.EventType())
	}
	return out
}

func nodeAddress(seed byte) crypto.Address {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = seed
	}
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func nodeParams() vault.VaultParams {
	return vault.VaultParams{
		SwapEngine:     "jupiter",
		PositionEngine: "tuna",
		PerTradeCap:    big.NewInt(100),
		DailyCap:       big.NewInt(1_000),
		MaxPositions:   4,
		MaxEscrow:      big.NewInt(500),
	}
}

func TestNodeLifecycle(t *testing.T) {
	swap := &stubEngine{id: "jupiter", fn: func(_ context.Context, call extengine.Call) (*extengine.Receipt, error) {
		if err := call.Authority.Debit(call.AssetIn, big.NewInt(100)); err != nil {
			return nil, err
		}
		if err := call.Authority.Credit(call.AssetOut, big.NewInt(97)); err != nil {
			return nil, err
		}
		return &extengine.Receipt{}, nil
	}}
	position := &stubEngine{id: "tuna", fn: func(_ context.Context, call extengine.Call) (*extengine.Receipt, error) {
		switch call.Kind {
		case extengine.KindOpenPosition:
			if err := call.Authority.Debit(call.AssetIn, big.NewInt(50)); err != nil {
				return nil, err
			}
			return &extengine.Receipt{Handle: "pos-abc"}, nil
		case extengine.KindClosePosition:
			if err := call.Authority.Credit(call.AssetIn, big.NewInt(55)); err != nil {
				return nil, err
			}
			return &extengine.Receipt{}, nil
		}
		return nil, fmt.Errorf("unexpected call kind %s", call.Kind)
	}}
	emitter := &captureEmitter{}
	clock := int64(1_700_000_000)
	node := NewNode(storage.NewMemDB(),
		WithEngines(swap, position),
		WithEmitter(emitter),
		WithNowFunc(func() int64 { return clock }),
	)

	owner := nodeAddress(0x01)
	executor := nodeAddress(0x02)

	created, err := node.Initialize(owner, nodeParams())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	vaultID := created.ID
	for _, asset := range []string{"USDC", "SOL"} {
		if err := node.AddMint(vaultID, owner, asset); err != nil {
			t.Fatalf("add mint %s: %v", asset, err)
		}
	}
	if _, err := node.SetExecutor(vaultID, owner, executor, true, big.NewInt(100), big.NewInt(1_000)); err != nil {
		t.Fatalf("set executor: %v", err)
	}
	if _, err := node.Deposit(vaultID, owner, "USDC", big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	ctx := context.Background()
	swapResult, err := node.ExecuteSwap(ctx, vaultID, executor, vault.SwapParams{
		AssetIn:  "USDC",
		AssetOut: "SOL",
		AmountIn: big.NewInt(100),
		MinOut:   big.NewInt(95),
		OrderID:  1,
	})
	if err != nil {
		t.Fatalf("execute swap: %v", err)
	}
	if swapResult.SpentIn.Cmp(big.NewInt(100)) != 0 || swapResult.ReceivedOut.Cmp(big.NewInt(97)) != 0 {
		t.Fatalf("swap result: spent=%s received=%s", swapResult.SpentIn, swapResult.ReceivedOut)
	}

	openResult, err := node.OpenPosition(ctx, vaultID, executor, vault.OpenPositionParams{
		PositionID:   1,
		AssetIn:      "USDC",
		AssetOut:     "SOL",
		TotalDeposit: big.NewInt(50),
		OrderID:      2,
	})
	if err != nil {
		t.Fatalf("open position: %v", err)
	}
	if openResult.Position.Handle != "pos-abc" {
		t.Fatalf("position handle: %q", openResult.Position.Handle)
	}
	if openResult.TotalEscrowed.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("escrow after open: %s", openResult.TotalEscrowed)
	}

	closeResult, err := node.ClosePosition(ctx, vaultID, owner, 1, nil)
	if err != nil {
		t.Fatalf("close position: %v", err)
	}
	if closeResult.Refund.Cmp(big.NewInt(55)) != 0 {
		t.Fatalf("refund: %s", closeResult.Refund)
	}
	if closeResult.TotalEscrowed.Sign() != 0 {
		t.Fatalf("escrow after close: %s", closeResult.TotalEscrowed)
	}

	balance, err := node.CustodyBalance(vaultID, "USDC")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	// 1000 deposited, 100 swapped out, 50 into the position, 55 refunded.
	if balance.Cmp(big.NewInt(905)) != 0 {
		t.Fatalf("final USDC balance: %s", balance)
	}

	if _, err := node.Withdraw(vaultID, owner, "USDC", big.NewInt(905)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	balance, err = node.CustodyBalance(vaultID, "USDC")
	if err != nil {
		t.Fatalf("balance after withdraw: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("drained balance: %s", balance)
	}

	want := []string{
		events.TypeVaultInitialized,
		events.TypeMintAdded,
		events.TypeMintAdded,
		events.TypeExecutorUpdated,
		events.TypeDeposited,
		events.TypeSwapExecuted,
		events.TypePositionOpened,
		events.TypePositionClosed,
		events.TypeWithdrawn,
	}
	got := emitter.types()
	if len(got) != len(want) {
		t.Fatalf("event count: got %d want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %s want %s", i, got[i], want[i])
		}
	}
}

func TestNodePauseBlocksTrading(t *testing.T) {
	swap := &stubEngine{id: "jupiter"}
	node := NewNode(storage.NewMemDB(), WithEngines(swap, &stubEngine{id: "tuna"}))
	owner := nodeAddress(0x01)
	executor := nodeAddress(0x02)

	created, err := node.Initialize(owner, nodeParams())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := node.AddMint(created.ID, owner, "USDC"); err != nil {
		t.Fatalf("add mint: %v", err)
	}
	if _, err := node.SetExecutor(created.ID, owner, executor, true, big.NewInt(100), big.NewInt(1_000)); err != nil {
		t.Fatalf("set executor: %v", err)
	}
	if err := node.Pause(created.ID, owner); err != nil {
		t.Fatalf("pause: %v", err)
	}
	_, err = node.ExecuteSwap(context.Background(), created.ID, executor, vault.SwapParams{
		AssetIn:  "USDC",
		AssetOut: "USDC",
		AmountIn: big.NewInt(1),
		MinOut:   big.NewInt(0),
		OrderID:  1,
	})
	rej, ok := vault.AsRejection(err)
	if !ok || rej.Code != vault.CodePaused {
		t.Fatalf("expected paused rejection, got %v", err)
	}
	if err := node.Unpause(created.ID, owner); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	v, err := node.Vault(created.ID)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	if v.Paused {
		t.Fatal("vault still paused")
	}
}

// Concurrent deposits on one vault must serialize through the per-vault lock
// so the final balance reflects every deposit exactly once.
func TestNodeSerializesVaultOperations(t *testing.T) {
	node := NewNode(storage.NewMemDB(), WithEngines(&stubEngine{id: "jupiter"}, &stubEngine{id: "tuna"}))
	owner := nodeAddress(0x01)
	created, err := node.Initialize(owner, nodeParams())
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := node.AddMint(created.ID, owner, "USDC"); err != nil {
		t.Fatalf("add mint: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	wg.Add(workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if _, err := node.Deposit(created.ID, owner, "USDC", big.NewInt(10)); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("deposit: %v", err)
	}
	balance, err := node.CustodyBalance(created.ID, "USDC")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(10*workers)) != 0 {
		t.Fatalf("balance after concurrent deposits: %s", balance)
	}
}

func TestNodeIndependentVaultsDoNotInterfere(t *testing.T) {
	node := NewNode(storage.NewMemDB(), WithEngines(&stubEngine{id: "jupiter"}, &stubEngine{id: "tuna"}))
	ownerA := nodeAddress(0x0a)
	ownerB := nodeAddress(0x0b)

	vaultA, err := node.Initialize(ownerA, nodeParams())
	if err != nil {
		t.Fatalf("initialize A: %v", err)
	}
	vaultB, err := node.Initialize(ownerB, nodeParams())
	if err != nil {
		t.Fatalf("initialize B: %v", err)
	}
	if vaultA.ID.Equal(vaultB.ID) {
		t.Fatal("vault ids collide")
	}
	if err := node.AddMint(vaultA.ID, ownerA, "USDC"); err != nil {
		t.Fatalf("add mint A: %v", err)
	}
	if _, err := node.Deposit(vaultA.ID, ownerA, "USDC", big.NewInt(500)); err != nil {
		t.Fatalf("deposit A: %v", err)
	}
	balance, err := node.CustodyBalance(vaultB.ID, "USDC")
	if err != nil {
		t.Fatalf("balance B: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("vault B inherited balance %s", balance)
	}

	// Owner of B cannot administer A.
	err = node.AddMint(vaultA.ID, ownerB, "SOL")
	rej, ok := vault.AsRejection(err)
	if !ok || rej.Kind != vault.KindUnauthorized {
		t.Fatalf("expected unauthorized rejection, got %v", err)
	}
}
