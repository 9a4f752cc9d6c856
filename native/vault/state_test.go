package vault

import (
	"errors"
	"math/big"
	"reflect"
	"testing"

	"tradevault/crypto"
	"tradevault/storage"
)

func stateFixtureVault(owner byte) *Vault {
	id := DeriveVaultID(testVaultAddress(owner))
	return &Vault{
		ID:             id,
		Owner:          testVaultAddress(owner),
		Authority:      crypto.DeriveAuthority(id),
		SwapEngine:     "jupiter",
		PositionEngine: "tuna",
		Cooldown:       45,
		PerTradeCap:    big.NewInt(100),
		DailyCap:       big.NewInt(300),
		MaxPositions:   4,
		MaxEscrow:      big.NewInt(400),
		TotalEscrowed:  big.NewInt(25),
		DayIndex:       19_700,
		DailyUsed:      big.NewInt(75),
		LastTradeAt:    1_700_000_100,
		LastOrderID:    12,
		TradeCount:     12,
		CreatedAt:      1_700_000_000,
	}
}

func testVaultAddress(seed byte) crypto.Address {
	var raw [20]byte
	for i := range raw {
		raw[i] = seed
	}
	return crypto.NewAddress(crypto.AccountPrefix, raw[:])
}

func TestVaultRecordRoundTrip(t *testing.T) {
	state := NewState(storage.NewMemDB())
	want := stateFixtureVault(0x10)

	txn := state.Txn()
	if err := txn.PutVault(want); err != nil {
		t.Fatalf("put vault: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	read := state.Txn()
	defer read.Discard()
	got, ok, err := read.GetVault(want.ID)
	if err != nil || !ok {
		t.Fatalf("get vault: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", want, got)
	}
}

func TestUncommittedWritesInvisible(t *testing.T) {
	state := NewState(storage.NewMemDB())
	v := stateFixtureVault(0x20)

	txn := state.Txn()
	if err := txn.PutVault(v); err != nil {
		t.Fatalf("put vault: %v", err)
	}
	// A parallel transaction opened before commit must not see the write.
	other := state.Txn()
	defer other.Discard()
	if _, ok, err := other.GetVault(v.ID); err != nil || ok {
		t.Fatalf("overlay leaked across transactions: ok=%v err=%v", ok, err)
	}
	txn.Discard()

	// Discarded writes never land.
	final := state.Txn()
	defer final.Discard()
	if _, ok, _ := final.GetVault(v.ID); ok {
		t.Fatal("discarded write persisted")
	}
}

func TestTxnReadsOwnWrites(t *testing.T) {
	state := NewState(storage.NewMemDB())
	v := stateFixtureVault(0x30)

	txn := state.Txn()
	defer txn.Discard()
	if err := txn.PutVault(v); err != nil {
		t.Fatalf("put vault: %v", err)
	}
	got, ok, err := txn.GetVault(v.ID)
	if err != nil || !ok {
		t.Fatalf("read own write: ok=%v err=%v", ok, err)
	}
	if got.TradeCount != v.TradeCount {
		t.Fatalf("read own write mismatch: %+v", got)
	}
}

func TestClosedTxnRejectsWrites(t *testing.T) {
	state := NewState(storage.NewMemDB())
	txn := state.Txn()
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit empty txn: %v", err)
	}
	if err := txn.PutVault(stateFixtureVault(0x40)); !errors.Is(err, errTxnClosed) {
		t.Fatalf("expected closed txn error, got %v", err)
	}
	if err := txn.Commit(); !errors.Is(err, errTxnClosed) {
		t.Fatalf("expected closed txn error on double commit, got %v", err)
	}
}

func TestCommitIsAtomicBatch(t *testing.T) {
	db := storage.NewMemDB()
	state := NewState(db)
	v := stateFixtureVault(0x50)

	txn := state.Txn()
	if err := txn.PutVault(v); err != nil {
		t.Fatalf("put vault: %v", err)
	}
	if err := txn.PutWhitelist(v.ID, &Whitelist{assets: []string{"USDC"}}); err != nil {
		t.Fatalf("put whitelist: %v", err)
	}
	if err := txn.creditBalance(v.ID, "USDC", big.NewInt(500)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if len(db.Snapshot()) != 0 {
		t.Fatal("writes reached the database before commit")
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(db.Snapshot()) != 3 {
		t.Fatalf("expected 3 committed keys, got %d", len(db.Snapshot()))
	}
}

func TestExecutorAndPositionRoundTrip(t *testing.T) {
	state := NewState(storage.NewMemDB())
	vaultID := DeriveVaultID(testVaultAddress(0x60))
	executor := testVaultAddress(0x61)

	rec := &ExecutorRecord{
		Executor:    executor,
		Enabled:     true,
		PerTradeCap: big.NewInt(50),
		DailyCap:    big.NewInt(200),
		DayIndex:    19_700,
		DailyUsed:   big.NewInt(30),
		LastTradeAt: 1_700_000_200,
	}
	pos := &Position{
		ID:        2,
		Handle:    "tuna-9c",
		AssetIn:   "USDC",
		AssetOut:  "SOL",
		Deposited: big.NewInt(120),
		CreatedAt: 1_700_000_300,
		Active:    true,
	}

	txn := state.Txn()
	if err := txn.PutExecutor(vaultID, rec); err != nil {
		t.Fatalf("put executor: %v", err)
	}
	if err := txn.PutPosition(vaultID, pos); err != nil {
		t.Fatalf("put position: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	read := state.Txn()
	defer read.Discard()
	gotRec, ok, err := read.GetExecutor(vaultID, executor)
	if err != nil || !ok {
		t.Fatalf("get executor: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(rec, gotRec) {
		t.Fatalf("executor mismatch:\nwant %+v\ngot  %+v", rec, gotRec)
	}
	gotPos, ok, err := read.GetPosition(vaultID, pos.ID)
	if err != nil || !ok {
		t.Fatalf("get position: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(pos, gotPos) {
		t.Fatalf("position mismatch:\nwant %+v\ngot  %+v", pos, gotPos)
	}
	// Slots are independent per vault.
	otherVault := DeriveVaultID(testVaultAddress(0x62))
	if _, ok, _ := read.GetPosition(otherVault, pos.ID); ok {
		t.Fatal("position leaked across vaults")
	}
}

func TestVaultIndex(t *testing.T) {
	state := NewState(storage.NewMemDB())
	first := stateFixtureVault(0x70)
	second := stateFixtureVault(0x80)

	txn := state.Txn()
	for _, v := range []*Vault{first, second} {
		if err := txn.PutVault(v); err != nil {
			t.Fatalf("put vault: %v", err)
		}
		if err := txn.appendVaultIndex(v.ID); err != nil {
			t.Fatalf("append index: %v", err)
		}
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	read := state.Txn()
	defer read.Discard()
	ids, err := read.VaultIDs()
	if err != nil {
		t.Fatalf("vault ids: %v", err)
	}
	if len(ids) != 2 || !ids[0].Equal(first.ID) || !ids[1].Equal(second.ID) {
		t.Fatalf("unexpected index: %v", ids)
	}
}

func TestBalanceDebitGuards(t *testing.T) {
	state := NewState(storage.NewMemDB())
	vaultID := DeriveVaultID(testVaultAddress(0x90))

	txn := state.Txn()
	defer txn.Discard()
	if err := txn.creditBalance(vaultID, "USDC", big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	err := txn.debitBalance(vaultID, "USDC", big.NewInt(101))
	rej, ok := AsRejection(err)
	if !ok || rej.Code != CodeInsufficientBal {
		t.Fatalf("expected insufficient balance rejection, got %v", err)
	}
	if err := txn.debitBalance(vaultID, "USDC", big.NewInt(100)); err != nil {
		t.Fatalf("debit to zero: %v", err)
	}
	balance, err := txn.Balance(vaultID, "USDC")
	if err != nil || balance.Sign() != 0 {
		t.Fatalf("balance after debit: %s err=%v", balance, err)
	}
}
