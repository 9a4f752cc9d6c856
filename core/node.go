package core

import (
	"context"
	"math/big"
	"sync"

	"tradevault/core/events"
	"tradevault/crypto"
	extengine "tradevault/engine"
	"tradevault/native/vault"
	"tradevault/observability"
	"tradevault/storage"
)

// Node owns the vault engine and serializes operations per vault: no two
// operations observe or mutate the same vault concurrently, while operations
// on different vaults proceed in parallel. The engine itself stays lock-free.
type Node struct {
	state  *vault.State
	engine *vault.Engine

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option customizes node construction.
type Option func(*Node)

// WithEmitter wires an event emitter into the vault engine.
func WithEmitter(emitter events.Emitter) Option {
	return func(n *Node) { n.engine.SetEmitter(emitter) }
}

// WithNowFunc overrides the engine time source. Primarily for tests.
func WithNowFunc(now func() int64) Option {
	return func(n *Node) { n.engine.SetNowFunc(now) }
}

// WithEngines registers external execution engines.
func WithEngines(engines ...extengine.Engine) Option {
	return func(n *Node) {
		for _, eng := range engines {
			n.engine.RegisterEngine(eng)
		}
	}
}

// NewNode constructs a node over the provided database.
func NewNode(db storage.Database, opts ...Option) *Node {
	state := vault.NewState(db)
	n := &Node{
		state:  state,
		engine: vault.NewEngine(state),
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Node) lockFor(vaultID crypto.Address) *sync.Mutex {
	key := string(vaultID.Bytes())
	n.mu.Lock()
	defer n.mu.Unlock()
	if lock, ok := n.locks[key]; ok {
		return lock
	}
	lock := new(sync.Mutex)
	n.locks[key] = lock
	return lock
}

func (n *Node) withVault(vaultID crypto.Address, op string, fn func() error) error {
	lock := n.lockFor(vaultID)
	lock.Lock()
	defer lock.Unlock()
	metrics := observability.VaultMetrics()
	stop := metrics.Time(op)
	err := fn()
	stop()
	metrics.Observe(op, err)
	return err
}

// Initialize creates the vault for owner and returns the new record.
func (n *Node) Initialize(owner crypto.Address, params vault.VaultParams) (*vault.Vault, error) {
	var out *vault.Vault
	err := n.withVault(vault.DeriveVaultID(owner), "initialize", func() error {
		v, err := n.engine.Initialize(owner, params)
		out = v
		return err
	})
	return out, err
}

// Pause flips the vault into its paused state.
func (n *Node) Pause(vaultID, caller crypto.Address) error {
	return n.withVault(vaultID, "pause", func() error {
		return n.engine.Pause(vaultID, caller)
	})
}

// Unpause resumes trading.
func (n *Node) Unpause(vaultID, caller crypto.Address) error {
	return n.withVault(vaultID, "unpause", func() error {
		return n.engine.Unpause(vaultID, caller)
	})
}

// SetParams overwrites the vault's engine identifiers and limits.
func (n *Node) SetParams(vaultID, caller crypto.Address, params vault.VaultParams) (*vault.Vault, error) {
	var out *vault.Vault
	err := n.withVault(vaultID, "set_params", func() error {
		v, err := n.engine.SetParams(vaultID, caller, params)
		out = v
		return err
	})
	return out, err
}

// AddMint whitelists an asset.
func (n *Node) AddMint(vaultID, caller crypto.Address, asset string) error {
	return n.withVault(vaultID, "add_mint", func() error {
		return n.engine.AddMint(vaultID, caller, asset)
	})
}

// RemoveMint removes an asset from the whitelist.
func (n *Node) RemoveMint(vaultID, caller crypto.Address, asset string) error {
	return n.withVault(vaultID, "remove_mint", func() error {
		return n.engine.RemoveMint(vaultID, caller, asset)
	})
}

// SetExecutor creates or resets a delegate record.
func (n *Node) SetExecutor(vaultID, caller, executor crypto.Address, enabled bool, perTradeCap, dailyCap *big.Int) (*vault.ExecutorRecord, error) {
	var out *vault.ExecutorRecord
	err := n.withVault(vaultID, "set_executor", func() error {
		rec, err := n.engine.SetExecutor(vaultID, caller, executor, enabled, perTradeCap, dailyCap)
		out = rec
		return err
	})
	return out, err
}

// Deposit moves owner funds into custody and returns the resulting balance.
func (n *Node) Deposit(vaultID, caller crypto.Address, asset string, amount *big.Int) (*big.Int, error) {
	var out *big.Int
	err := n.withVault(vaultID, "deposit", func() error {
		balance, err := n.engine.Deposit(vaultID, caller, asset, amount)
		out = balance
		return err
	})
	return out, err
}

// Withdraw moves funds out of custody and returns the resulting balance.
func (n *Node) Withdraw(vaultID, caller crypto.Address, asset string, amount *big.Int) (*big.Int, error) {
	var out *big.Int
	err := n.withVault(vaultID, "withdraw", func() error {
		balance, err := n.engine.Withdraw(vaultID, caller, asset, amount)
		out = balance
		return err
	})
	return out, err
}

// ExecuteSwap runs one delegated swap for an executor.
func (n *Node) ExecuteSwap(ctx context.Context, vaultID, executor crypto.Address, params vault.SwapParams) (*vault.SwapResult, error) {
	var out *vault.SwapResult
	err := n.withVault(vaultID, "execute_swap", func() error {
		result, err := n.engine.ExecuteSwap(ctx, vaultID, executor, params)
		out = result
		return err
	})
	return out, err
}

// OpenPosition opens a long-lived order for an executor.
func (n *Node) OpenPosition(ctx context.Context, vaultID, executor crypto.Address, params vault.OpenPositionParams) (*vault.OpenPositionResult, error) {
	var out *vault.OpenPositionResult
	err := n.withVault(vaultID, "open_position", func() error {
		result, err := n.engine.OpenPosition(ctx, vaultID, executor, params)
		out = result
		return err
	})
	return out, err
}

// ClosePosition closes an active position on the owner's behalf.
func (n *Node) ClosePosition(ctx context.Context, vaultID, caller crypto.Address, positionID uint64, payload []byte) (*vault.ClosePositionResult, error) {
	var out *vault.ClosePositionResult
	err := n.withVault(vaultID, "close_position", func() error {
		result, err := n.engine.ClosePosition(ctx, vaultID, caller, positionID, payload)
		out = result
		return err
	})
	return out, err
}

// --- queries (reads are consistent because commits are atomic batches) ---

// Vault returns the vault record.
func (n *Node) Vault(vaultID crypto.Address) (*vault.Vault, error) {
	return n.engine.Vault(vaultID)
}

// Executor returns the executor record, if present.
func (n *Node) Executor(vaultID, executor crypto.Address) (*vault.ExecutorRecord, bool, error) {
	return n.engine.Executor(vaultID, executor)
}

// Position returns the position record, if present.
func (n *Node) Position(vaultID crypto.Address, positionID uint64) (*vault.Position, bool, error) {
	return n.engine.Position(vaultID, positionID)
}

// CustodyBalance returns the custody balance for asset.
func (n *Node) CustodyBalance(vaultID crypto.Address, asset string) (*big.Int, error) {
	return n.engine.CustodyBalance(vaultID, asset)
}

// WhitelistedAssets returns the vault's whitelist entries.
func (n *Node) WhitelistedAssets(vaultID crypto.Address) ([]string, error) {
	return n.engine.WhitelistedAssets(vaultID)
}
