package vault

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"tradevault/crypto"
	"tradevault/storage"
)

// State provides typed access to the persisted vault entities. Every
// operation runs inside a Txn so the engine's all-or-nothing semantics hold:
// either the whole mutation set commits in one batch or none of it does.
type State struct {
	db storage.Database
}

// NewState wraps the provided database.
func NewState(db storage.Database) *State {
	return &State{db: db}
}

// Txn opens a buffered transaction. Reads fall through to the underlying
// database; writes stay in the overlay until Commit.
func (s *State) Txn() *Txn {
	return &Txn{db: s.db, writes: make(map[string]txnEntry)}
}

// View runs fn against a read-only transaction that is always discarded.
func (s *State) View(fn func(*Txn) error) error {
	txn := s.Txn()
	defer txn.Discard()
	return fn(txn)
}

type txnEntry struct {
	value   []byte
	deleted bool
}

// Txn buffers all writes of a single vault operation.
type Txn struct {
	db     storage.Database
	writes map[string]txnEntry
	order  []string
	closed bool
}

var errTxnClosed = errors.New("vault state: transaction already closed")

func (t *Txn) rawGet(key []byte) ([]byte, bool, error) {
	if entry, ok := t.writes[string(key)]; ok {
		if entry.deleted {
			return nil, false, nil
		}
		return entry.value, true, nil
	}
	value, err := t.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (t *Txn) stage(key []byte, entry txnEntry) {
	k := string(key)
	if _, seen := t.writes[k]; !seen {
		t.order = append(t.order, k)
	}
	t.writes[k] = entry
}

// KVGet decodes the RLP record stored under key into out.
func (t *Txn) KVGet(key []byte, out interface{}) (bool, error) {
	raw, ok, err := t.rawGet(key)
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("vault state: decode %q: %w", key, err)
	}
	return true, nil
}

// KVPut stages the RLP encoding of value under key.
func (t *Txn) KVPut(key []byte, value interface{}) error {
	if t.closed {
		return errTxnClosed
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("vault state: encode %q: %w", key, err)
	}
	t.stage(key, txnEntry{value: encoded})
	return nil
}

// KVDelete stages removal of key.
func (t *Txn) KVDelete(key []byte) error {
	if t.closed {
		return errTxnClosed
	}
	t.stage(key, txnEntry{deleted: true})
	return nil
}

// Commit flushes the overlay in one atomic batch.
func (t *Txn) Commit() error {
	if t.closed {
		return errTxnClosed
	}
	t.closed = true
	if len(t.order) == 0 {
		return nil
	}
	batch := new(storage.Batch)
	for _, key := range t.order {
		entry := t.writes[key]
		if entry.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), entry.value)
	}
	return t.db.Write(batch)
}

// Discard drops the overlay. Safe to call after Commit.
func (t *Txn) Discard() {
	t.closed = true
	t.writes = nil
	t.order = nil
}

// --- stored record layouts (RLP) ---

type storedVault struct {
	Owner          []byte
	Authority      []byte
	Paused         bool
	SwapEngine     string
	PositionEngine string
	Cooldown       uint64
	PerTradeCap    *big.Int
	DailyCap       *big.Int
	MaxPositions   uint32
	MaxEscrow      *big.Int
	TotalEscrowed  *big.Int
	DayIndex       uint64
	DailyUsed      *big.Int
	LastTradeAt    uint64
	LastOrderID    uint64
	TradeCount     uint64
	CreatedAt      uint64
}

type storedExecutor struct {
	Executor    []byte
	Enabled     bool
	PerTradeCap *big.Int
	DailyCap    *big.Int
	DayIndex    uint64
	DailyUsed   *big.Int
	LastTradeAt uint64
}

type storedPosition struct {
	ID        uint64
	Handle    string
	AssetIn   string
	AssetOut  string
	Deposited *big.Int
	CreatedAt uint64
	Active    bool
}

type storedWhitelist struct {
	Assets []string
}

type storedBalance struct {
	Amount *big.Int
}

type storedVaultIndex struct {
	IDs [][]byte
}

// --- vault records ---

// GetVault loads the vault record for id.
func (t *Txn) GetVault(id crypto.Address) (*Vault, bool, error) {
	var record storedVault
	ok, err := t.KVGet(vaultKey(id), &record)
	if err != nil || !ok {
		return nil, false, err
	}
	v := &Vault{
		ID:             id,
		Owner:          crypto.NewAddress(crypto.AccountPrefix, record.Owner),
		Authority:      crypto.NewAddress(crypto.VaultPrefix, record.Authority),
		Paused:         record.Paused,
		SwapEngine:     record.SwapEngine,
		PositionEngine: record.PositionEngine,
		Cooldown:       int64(record.Cooldown),
		PerTradeCap:    cloneAmount(record.PerTradeCap),
		DailyCap:       cloneAmount(record.DailyCap),
		MaxPositions:   record.MaxPositions,
		MaxEscrow:      cloneAmount(record.MaxEscrow),
		TotalEscrowed:  cloneAmount(record.TotalEscrowed),
		DayIndex:       int64(record.DayIndex),
		DailyUsed:      cloneAmount(record.DailyUsed),
		LastTradeAt:    int64(record.LastTradeAt),
		LastOrderID:    record.LastOrderID,
		TradeCount:     record.TradeCount,
		CreatedAt:      int64(record.CreatedAt),
	}
	return v, true, nil
}

// PutVault stages the vault record.
func (t *Txn) PutVault(v *Vault) error {
	if v == nil {
		return fmt.Errorf("vault state: nil vault")
	}
	record := storedVault{
		Owner:          v.Owner.Bytes(),
		Authority:      v.Authority.Bytes(),
		Paused:         v.Paused,
		SwapEngine:     v.SwapEngine,
		PositionEngine: v.PositionEngine,
		Cooldown:       uint64(v.Cooldown),
		PerTradeCap:    cloneAmount(v.PerTradeCap),
		DailyCap:       cloneAmount(v.DailyCap),
		MaxPositions:   v.MaxPositions,
		MaxEscrow:      cloneAmount(v.MaxEscrow),
		TotalEscrowed:  cloneAmount(v.TotalEscrowed),
		DayIndex:       uint64(v.DayIndex),
		DailyUsed:      cloneAmount(v.DailyUsed),
		LastTradeAt:    uint64(v.LastTradeAt),
		LastOrderID:    v.LastOrderID,
		TradeCount:     v.TradeCount,
		CreatedAt:      uint64(v.CreatedAt),
	}
	return t.KVPut(vaultKey(v.ID), record)
}

// HasVault reports whether a vault record exists for id.
func (t *Txn) HasVault(id crypto.Address) (bool, error) {
	var record storedVault
	return t.KVGet(vaultKey(id), &record)
}

// VaultIDs returns every initialized vault identifier.
func (t *Txn) VaultIDs() ([]crypto.Address, error) {
	var index storedVaultIndex
	ok, err := t.KVGet(vaultIndexKey(), &index)
	if err != nil || !ok {
		return nil, err
	}
	ids := make([]crypto.Address, 0, len(index.IDs))
	for _, raw := range index.IDs {
		if len(raw) != 20 {
			continue
		}
		ids = append(ids, crypto.NewAddress(crypto.VaultPrefix, raw))
	}
	return ids, nil
}

func (t *Txn) appendVaultIndex(id crypto.Address) error {
	var index storedVaultIndex
	if _, err := t.KVGet(vaultIndexKey(), &index); err != nil {
		return err
	}
	for _, raw := range index.IDs {
		if bytes.Equal(raw, id.Bytes()) {
			return nil
		}
	}
	index.IDs = append(index.IDs, id.Bytes())
	return t.KVPut(vaultIndexKey(), index)
}

// --- executor records ---

// GetExecutor loads the executor record keyed by (vault, executor).
func (t *Txn) GetExecutor(vaultID, executor crypto.Address) (*ExecutorRecord, bool, error) {
	var record storedExecutor
	ok, err := t.KVGet(executorKey(vaultID, executor), &record)
	if err != nil || !ok {
		return nil, false, err
	}
	rec := &ExecutorRecord{
		Executor:    crypto.NewAddress(crypto.AccountPrefix, record.Executor),
		Enabled:     record.Enabled,
		PerTradeCap: cloneAmount(record.PerTradeCap),
		DailyCap:    cloneAmount(record.DailyCap),
		DayIndex:    int64(record.DayIndex),
		DailyUsed:   cloneAmount(record.DailyUsed),
		LastTradeAt: int64(record.LastTradeAt),
	}
	return rec, true, nil
}

// PutExecutor stages the executor record for (vault, executor).
func (t *Txn) PutExecutor(vaultID crypto.Address, rec *ExecutorRecord) error {
	if rec == nil {
		return fmt.Errorf("vault state: nil executor record")
	}
	record := storedExecutor{
		Executor:    rec.Executor.Bytes(),
		Enabled:     rec.Enabled,
		PerTradeCap: cloneAmount(rec.PerTradeCap),
		DailyCap:    cloneAmount(rec.DailyCap),
		DayIndex:    uint64(rec.DayIndex),
		DailyUsed:   cloneAmount(rec.DailyUsed),
		LastTradeAt: uint64(rec.LastTradeAt),
	}
	return t.KVPut(executorKey(vaultID, rec.Executor), record)
}

// --- position records ---

// GetPosition loads the position keyed by (vault, position id).
func (t *Txn) GetPosition(vaultID crypto.Address, positionID uint64) (*Position, bool, error) {
	var record storedPosition
	ok, err := t.KVGet(positionKey(vaultID, positionID), &record)
	if err != nil || !ok {
		return nil, false, err
	}
	p := &Position{
		ID:        record.ID,
		Handle:    record.Handle,
		AssetIn:   record.AssetIn,
		AssetOut:  record.AssetOut,
		Deposited: cloneAmount(record.Deposited),
		CreatedAt: int64(record.CreatedAt),
		Active:    record.Active,
	}
	return p, true, nil
}

// PutPosition stages the position record.
func (t *Txn) PutPosition(vaultID crypto.Address, p *Position) error {
	if p == nil {
		return fmt.Errorf("vault state: nil position")
	}
	record := storedPosition{
		ID:        p.ID,
		Handle:    p.Handle,
		AssetIn:   p.AssetIn,
		AssetOut:  p.AssetOut,
		Deposited: cloneAmount(p.Deposited),
		CreatedAt: uint64(p.CreatedAt),
		Active:    p.Active,
	}
	return t.KVPut(positionKey(vaultID, p.ID), record)
}

// --- whitelist ---

// GetWhitelist loads the vault's asset whitelist, returning an empty list when
// none has been stored yet.
func (t *Txn) GetWhitelist(vaultID crypto.Address) (*Whitelist, error) {
	var record storedWhitelist
	if _, err := t.KVGet(whitelistKey(vaultID), &record); err != nil {
		return nil, err
	}
	return &Whitelist{assets: record.Assets}, nil
}

// PutWhitelist stages the whitelist.
func (t *Txn) PutWhitelist(vaultID crypto.Address, wl *Whitelist) error {
	if wl == nil {
		return fmt.Errorf("vault state: nil whitelist")
	}
	return t.KVPut(whitelistKey(vaultID), storedWhitelist{Assets: wl.assets})
}

// --- custody balances ---

// Balance returns the vault's custody balance for asset.
func (t *Txn) Balance(vaultID crypto.Address, asset string) (*big.Int, error) {
	var record storedBalance
	ok, err := t.KVGet(balanceKey(vaultID, asset), &record)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return cloneAmount(record.Amount), nil
}

func (t *Txn) setBalance(vaultID crypto.Address, asset string, amount *big.Int) error {
	return t.KVPut(balanceKey(vaultID, asset), storedBalance{Amount: cloneAmount(amount)})
}

func (t *Txn) creditBalance(vaultID crypto.Address, asset string, amount *big.Int) error {
	current, err := t.Balance(vaultID, asset)
	if err != nil {
		return err
	}
	return t.setBalance(vaultID, asset, new(big.Int).Add(current, amount))
}

func (t *Txn) debitBalance(vaultID crypto.Address, asset string, amount *big.Int) error {
	current, err := t.Balance(vaultID, asset)
	if err != nil {
		return err
	}
	if current.Cmp(amount) < 0 {
		return reject(KindPrecondition, CodeInsufficientBal,
			"insufficient custody balance for %s: have %s, need %s", asset, current, amount)
	}
	return t.setBalance(vaultID, asset, new(big.Int).Sub(current, amount))
}
