package vault

import (
	"fmt"
	"math/big"

	"tradevault/core/events"
	"tradevault/crypto"
)

// Initialize creates the vault for owner along with an empty whitelist. The
// vault identifier is derived from the owner, so each owner holds exactly one
// vault; re-initializing is rejected.
func (e *Engine) Initialize(owner crypto.Address, params VaultParams) (*Vault, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	sanitized, err := params.Sanitize()
	if err != nil {
		return nil, err
	}
	vaultID := DeriveVaultID(owner)

	txn := e.state.Txn()
	defer txn.Discard()

	if exists, err := txn.HasVault(vaultID); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrVaultExists
	}

	now := e.now()
	v := &Vault{
		ID:             vaultID,
		Owner:          owner,
		Authority:      crypto.DeriveAuthority(vaultID),
		SwapEngine:     sanitized.SwapEngine,
		PositionEngine: sanitized.PositionEngine,
		Cooldown:       sanitized.Cooldown,
		PerTradeCap:    sanitized.PerTradeCap,
		DailyCap:       sanitized.DailyCap,
		MaxPositions:   sanitized.MaxPositions,
		MaxEscrow:      sanitized.MaxEscrow,
		TotalEscrowed:  big.NewInt(0),
		DailyUsed:      big.NewInt(0),
		CreatedAt:      now,
	}
	if err := txn.PutVault(v); err != nil {
		return nil, err
	}
	if err := txn.PutWhitelist(vaultID, &Whitelist{}); err != nil {
		return nil, err
	}
	if err := txn.appendVaultIndex(vaultID); err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("vault engine: commit initialize: %w", err)
	}
	e.emit(events.VaultInitialized{
		Vault:          vaultID,
		Owner:          owner,
		Authority:      v.Authority,
		SwapEngine:     v.SwapEngine,
		PositionEngine: v.PositionEngine,
		Timestamp:      now,
	})
	return v.Clone(), nil
}

// Pause flips the vault into its paused state. Owner only.
func (e *Engine) Pause(vaultID, caller crypto.Address) error {
	return e.setPaused(vaultID, caller, true)
}

// Unpause resumes trading. Owner only.
func (e *Engine) Unpause(vaultID, caller crypto.Address) error {
	return e.setPaused(vaultID, caller, false)
}

func (e *Engine) setPaused(vaultID, caller crypto.Address, paused bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	txn := e.state.Txn()
	defer txn.Discard()

	v, err := e.requireOwner(txn, vaultID, caller)
	if err != nil {
		return err
	}
	v.Paused = paused
	if err := txn.PutVault(v); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("vault engine: commit pause: %w", err)
	}
	now := e.now()
	if paused {
		e.emit(events.VaultPaused{Vault: vaultID, Owner: caller, Timestamp: now})
	} else {
		e.emit(events.VaultUnpaused{Vault: vaultID, Owner: caller, Timestamp: now})
	}
	return nil
}

// SetParams overwrites the engine identifiers and all tunable limits. Owner
// only. Risk counters and escrow totals are preserved.
func (e *Engine) SetParams(vaultID, caller crypto.Address, params VaultParams) (*Vault, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	sanitized, err := params.Sanitize()
	if err != nil {
		return nil, err
	}
	txn := e.state.Txn()
	defer txn.Discard()

	v, err := e.requireOwner(txn, vaultID, caller)
	if err != nil {
		return nil, err
	}
	v.SwapEngine = sanitized.SwapEngine
	v.PositionEngine = sanitized.PositionEngine
	v.Cooldown = sanitized.Cooldown
	v.PerTradeCap = sanitized.PerTradeCap
	v.DailyCap = sanitized.DailyCap
	v.MaxPositions = sanitized.MaxPositions
	v.MaxEscrow = sanitized.MaxEscrow
	if err := txn.PutVault(v); err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("vault engine: commit set-params: %w", err)
	}
	e.emit(events.ParamsUpdated{
		Vault:          vaultID,
		Owner:          caller,
		SwapEngine:     v.SwapEngine,
		PositionEngine: v.PositionEngine,
		Cooldown:       v.Cooldown,
		PerTradeCap:    cloneAmount(v.PerTradeCap),
		DailyCap:       cloneAmount(v.DailyCap),
		MaxPositions:   v.MaxPositions,
		MaxEscrow:      cloneAmount(v.MaxEscrow),
		Timestamp:      e.now(),
	})
	return v.Clone(), nil
}

// AddMint whitelists an asset. Owner only.
func (e *Engine) AddMint(vaultID, caller crypto.Address, asset string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	txn := e.state.Txn()
	defer txn.Discard()

	if _, err := e.requireOwner(txn, vaultID, caller); err != nil {
		return err
	}
	whitelist, err := txn.GetWhitelist(vaultID)
	if err != nil {
		return err
	}
	if rej := whitelist.Add(normalized); rej != nil {
		return rej
	}
	if err := txn.PutWhitelist(vaultID, whitelist); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("vault engine: commit add-mint: %w", err)
	}
	e.emit(events.MintAdded{Vault: vaultID, Owner: caller, Asset: normalized, Timestamp: e.now()})
	return nil
}

// RemoveMint removes an asset from the whitelist. Owner only.
func (e *Engine) RemoveMint(vaultID, caller crypto.Address, asset string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	txn := e.state.Txn()
	defer txn.Discard()

	if _, err := e.requireOwner(txn, vaultID, caller); err != nil {
		return err
	}
	whitelist, err := txn.GetWhitelist(vaultID)
	if err != nil {
		return err
	}
	if rej := whitelist.Remove(normalized); rej != nil {
		return rej
	}
	if err := txn.PutWhitelist(vaultID, whitelist); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("vault engine: commit remove-mint: %w", err)
	}
	e.emit(events.MintRemoved{Vault: vaultID, Owner: caller, Asset: normalized, Timestamp: e.now()})
	return nil
}

// SetExecutor creates or resets the record for a delegate identity, zeroing
// its risk counters. Owner only.
func (e *Engine) SetExecutor(vaultID, caller, executor crypto.Address, enabled bool, perTradeCap, dailyCap *big.Int) (*ExecutorRecord, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if perTradeCap == nil || perTradeCap.Sign() <= 0 {
		return nil, reject(KindPrecondition, CodeZeroAmount, "executor per-trade cap must be positive")
	}
	if dailyCap == nil || dailyCap.Sign() <= 0 {
		return nil, reject(KindPrecondition, CodeZeroAmount, "executor daily cap must be positive")
	}
	txn := e.state.Txn()
	defer txn.Discard()

	if _, err := e.requireOwner(txn, vaultID, caller); err != nil {
		return nil, err
	}
	rec := &ExecutorRecord{
		Executor:    executor,
		Enabled:     enabled,
		PerTradeCap: cloneAmount(perTradeCap),
		DailyCap:    cloneAmount(dailyCap),
		DailyUsed:   big.NewInt(0),
	}
	if err := txn.PutExecutor(vaultID, rec); err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("vault engine: commit set-executor: %w", err)
	}
	e.emit(events.ExecutorUpdated{
		Vault:       vaultID,
		Owner:       caller,
		Executor:    executor,
		Enabled:     enabled,
		PerTradeCap: cloneAmount(perTradeCap),
		DailyCap:    cloneAmount(dailyCap),
		Timestamp:   e.now(),
	})
	return rec.Clone(), nil
}

// Deposit moves funds into the vault's custody. Owner only.
func (e *Engine) Deposit(vaultID, caller crypto.Address, asset string, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, reject(KindPrecondition, CodeZeroAmount, "deposit amount must be positive")
	}
	txn := e.state.Txn()
	defer txn.Discard()

	if _, err := e.requireOwner(txn, vaultID, caller); err != nil {
		return nil, err
	}
	if err := txn.creditBalance(vaultID, normalized, amount); err != nil {
		return nil, err
	}
	balance, err := txn.Balance(vaultID, normalized)
	if err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("vault engine: commit deposit: %w", err)
	}
	e.emit(events.Deposited{
		Vault:     vaultID,
		Owner:     caller,
		Asset:     normalized,
		Amount:    cloneAmount(amount),
		Balance:   balance,
		Timestamp: e.now(),
	})
	return balance, nil
}

// Withdraw moves funds out of custody to the owner. It is the only path by
// which funds leave custody to a non-vault destination, and the transfer is
// co-signed by the escrow authority: the debit runs through the same
// restricted Authority handle the delegated calls use.
func (e *Engine) Withdraw(vaultID, caller crypto.Address, asset string, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, reject(KindPrecondition, CodeZeroAmount, "withdraw amount must be positive")
	}
	txn := e.state.Txn()
	defer txn.Discard()

	v, err := e.requireOwner(txn, vaultID, caller)
	if err != nil {
		return nil, err
	}
	authority := txn.Authority(vaultID, v.Authority)
	if err := authority.Debit(normalized, amount); err != nil {
		return nil, err
	}
	balance, err := txn.Balance(vaultID, normalized)
	if err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("vault engine: commit withdraw: %w", err)
	}
	e.emit(events.Withdrawn{
		Vault:     vaultID,
		Owner:     caller,
		Authority: v.Authority,
		Asset:     normalized,
		Amount:    cloneAmount(amount),
		Balance:   balance,
		Timestamp: e.now(),
	})
	return balance, nil
}

func (e *Engine) requireOwner(txn *Txn, vaultID, caller crypto.Address) (*Vault, error) {
	v, ok, err := txn.GetVault(vaultID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrVaultNotFound
	}
	if !v.Owner.Equal(caller) {
		return nil, reject(KindUnauthorized, CodeUnauthorized, "caller is not the vault owner")
	}
	return v, nil
}

// --- read-only queries ---

// Vault returns a copy of the vault record.
func (e *Engine) Vault(vaultID crypto.Address) (*Vault, error) {
	var out *Vault
	err := e.state.View(func(txn *Txn) error {
		v, ok, err := txn.GetVault(vaultID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrVaultNotFound
		}
		out = v
		return nil
	})
	return out, err
}

// Executor returns a copy of the executor record, if present.
func (e *Engine) Executor(vaultID, executor crypto.Address) (*ExecutorRecord, bool, error) {
	var (
		out   *ExecutorRecord
		found bool
	)
	err := e.state.View(func(txn *Txn) error {
		rec, ok, err := txn.GetExecutor(vaultID, executor)
		if err != nil {
			return err
		}
		out, found = rec, ok
		return nil
	})
	return out, found, err
}

// Position returns a copy of the position record, if present.
func (e *Engine) Position(vaultID crypto.Address, positionID uint64) (*Position, bool, error) {
	var (
		out   *Position
		found bool
	)
	err := e.state.View(func(txn *Txn) error {
		p, ok, err := txn.GetPosition(vaultID, positionID)
		if err != nil {
			return err
		}
		out, found = p, ok
		return nil
	})
	return out, found, err
}

// CustodyBalance returns the vault's custody balance for asset.
func (e *Engine) CustodyBalance(vaultID crypto.Address, asset string) (*big.Int, error) {
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	var out *big.Int
	err = e.state.View(func(txn *Txn) error {
		balance, err := txn.Balance(vaultID, normalized)
		if err != nil {
			return err
		}
		out = balance
		return nil
	})
	return out, err
}

// WhitelistedAssets returns the current whitelist entries.
func (e *Engine) WhitelistedAssets(vaultID crypto.Address) ([]string, error) {
	var out []string
	err := e.state.View(func(txn *Txn) error {
		whitelist, err := txn.GetWhitelist(vaultID)
		if err != nil {
			return err
		}
		out = whitelist.Assets()
		return nil
	})
	return out, err
}
