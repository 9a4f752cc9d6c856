package vault

import (
	"context"
	"math/big"
	"testing"

	"tradevault/core/events"
	"tradevault/crypto"
	extengine "tradevault/engine"
	"tradevault/storage"
)

const (
	testSwapEngine     = "jupiter"
	testPositionEngine = "tuna"
	assetUSDC          = "USDC"
	assetSOL           = "SOL"
)

// fakeEngine scripts a delegated call; fn drives custody movements through
// the authority handle exactly like a remote engine would.
type fakeEngine struct {
	id    string
	fn    func(ctx context.Context, call extengine.Call) (*extengine.Receipt, error)
	calls int
}

func (f *fakeEngine) ID() string { return f.id }

func (f *fakeEngine) Execute(ctx context.Context, call extengine.Call) (*extengine.Receipt, error) {
	f.calls++
	if f.fn == nil {
		return &extengine.Receipt{}, nil
	}
	return f.fn(ctx, call)
}

// swapScript returns an engine function that debits spend of AssetIn and
// credits receive of AssetOut.
func swapScript(spend, receive int64) func(context.Context, extengine.Call) (*extengine.Receipt, error) {
	return func(_ context.Context, call extengine.Call) (*extengine.Receipt, error) {
		if spend > 0 {
			if err := call.Authority.Debit(call.AssetIn, big.NewInt(spend)); err != nil {
				return nil, err
			}
		}
		if receive > 0 {
			if err := call.Authority.Credit(call.AssetOut, big.NewInt(receive)); err != nil {
				return nil, err
			}
		}
		return &extengine.Receipt{}, nil
	}
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(event events.Event) {
	r.events = append(r.events, event)
}

func (r *recordingEmitter) last() events.Event {
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

type harness struct {
	db       *storage.MemDB
	engine   *Engine
	emitter  *recordingEmitter
	swap     *fakeEngine
	position *fakeEngine
	owner    crypto.Address
	executor crypto.Address
	vaultID  crypto.Address
	now      int64
}

func (h *harness) setNow(now int64) {
	h.now = now
}

func (h *harness) advance(seconds int64) {
	h.now += seconds
}

func testAddress(t *testing.T, seed byte) crypto.Address {
	t.Helper()
	var raw [20]byte
	for i := range raw {
		raw[i] = seed
	}
	return crypto.NewAddress(crypto.AccountPrefix, raw[:])
}

func defaultParams() VaultParams {
	return VaultParams{
		SwapEngine:     testSwapEngine,
		PositionEngine: testPositionEngine,
		Cooldown:       0,
		PerTradeCap:    big.NewInt(100),
		DailyCap:       big.NewInt(300),
		MaxPositions:   4,
		MaxEscrow:      big.NewInt(400),
	}
}

// newHarness builds a funded vault with a whitelisted pair and one enabled
// executor whose caps match the vault caps.
func newHarness(t *testing.T, params VaultParams) *harness {
	t.Helper()
	h := &harness{
		db:       storage.NewMemDB(),
		emitter:  &recordingEmitter{},
		swap:     &fakeEngine{id: testSwapEngine},
		position: &fakeEngine{id: testPositionEngine},
		owner:    testAddress(t, 0x11),
		executor: testAddress(t, 0x22),
		now:      1_700_000_000,
	}
	h.engine = NewEngine(NewState(h.db))
	h.engine.SetEmitter(h.emitter)
	h.engine.SetNowFunc(func() int64 { return h.now })
	h.engine.RegisterEngine(h.swap)
	h.engine.RegisterEngine(h.position)

	created, err := h.engine.Initialize(h.owner, params)
	if err != nil {
		t.Fatalf("initialize vault: %v", err)
	}
	h.vaultID = created.ID

	for _, asset := range []string{assetUSDC, assetSOL} {
		if err := h.engine.AddMint(h.vaultID, h.owner, asset); err != nil {
			t.Fatalf("whitelist %s: %v", asset, err)
		}
	}
	if _, err := h.engine.SetExecutor(h.vaultID, h.owner, h.executor, true, params.PerTradeCap, params.DailyCap); err != nil {
		t.Fatalf("set executor: %v", err)
	}
	if _, err := h.engine.Deposit(h.vaultID, h.owner, assetUSDC, big.NewInt(10_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	h.emitter.events = nil
	return h
}

func (h *harness) swapParams(orderID uint64, amountIn, minOut int64) SwapParams {
	return SwapParams{
		AssetIn:  assetUSDC,
		AssetOut: assetSOL,
		AmountIn: big.NewInt(amountIn),
		MinOut:   big.NewInt(minOut),
		OrderID:  orderID,
	}
}

func (h *harness) mustSwap(t *testing.T, orderID uint64, amountIn, minOut int64) *SwapResult {
	t.Helper()
	result, err := h.engine.ExecuteSwap(context.Background(), h.vaultID, h.executor, h.swapParams(orderID, amountIn, minOut))
	if err != nil {
		t.Fatalf("execute swap order %d: %v", orderID, err)
	}
	return result
}

func (h *harness) vault(t *testing.T) *Vault {
	t.Helper()
	v, err := h.engine.Vault(h.vaultID)
	if err != nil {
		t.Fatalf("load vault: %v", err)
	}
	return v
}

func (h *harness) balance(t *testing.T, asset string) *big.Int {
	t.Helper()
	balance, err := h.engine.CustodyBalance(h.vaultID, asset)
	if err != nil {
		t.Fatalf("load balance %s: %v", asset, err)
	}
	return balance
}

// snapshot captures the raw key/value state so tests can assert rejected
// operations leave storage bit for bit unchanged.
func (h *harness) snapshot() map[string]string {
	return h.db.Snapshot()
}

func requireRejection(t *testing.T, err error, code RejectCode) *Rejection {
	t.Helper()
	if err == nil {
		t.Fatalf("expected rejection %s, got nil error", code)
	}
	rej, ok := AsRejection(err)
	if !ok {
		t.Fatalf("expected rejection %s, got %v", code, err)
	}
	if rej.Code != code {
		t.Fatalf("expected rejection code %s, got %s (%s)", code, rej.Code, rej.Message)
	}
	return rej
}
