package vault

import (
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"tradevault/crypto"
)

const (
	// MaxWhitelistEntries bounds the number of tradable assets a vault may
	// whitelist.
	MaxWhitelistEntries = 64
	// MaxPayloadBytes bounds the opaque payload forwarded to an external
	// engine on a delegated call.
	MaxPayloadBytes = 4096
	// secondsPerDay is the fixed day window used by the daily-cap ledger.
	secondsPerDay = 86400
)

// Vault is the per-owner custody and policy record. All amounts are integer
// base units of the respective asset.
type Vault struct {
	ID             crypto.Address
	Owner          crypto.Address
	Authority      crypto.Address
	Paused         bool
	SwapEngine     string
	PositionEngine string
	Cooldown       int64
	PerTradeCap    *big.Int
	DailyCap       *big.Int
	MaxPositions   uint32
	MaxEscrow      *big.Int
	TotalEscrowed  *big.Int
	DayIndex       int64
	DailyUsed      *big.Int
	LastTradeAt    int64
	LastOrderID    uint64
	TradeCount     uint64
	CreatedAt      int64
}

// Clone returns a deep copy so callers can mutate freely without touching the
// stored instance.
func (v *Vault) Clone() *Vault {
	if v == nil {
		return nil
	}
	clone := *v
	clone.PerTradeCap = cloneAmount(v.PerTradeCap)
	clone.DailyCap = cloneAmount(v.DailyCap)
	clone.MaxEscrow = cloneAmount(v.MaxEscrow)
	clone.TotalEscrowed = cloneAmount(v.TotalEscrowed)
	clone.DailyUsed = cloneAmount(v.DailyUsed)
	return &clone
}

// ExecutorRecord tracks the policy and risk counters for one delegate
// identity, keyed by (vault, executor).
type ExecutorRecord struct {
	Executor    crypto.Address
	Enabled     bool
	PerTradeCap *big.Int
	DailyCap    *big.Int
	DayIndex    int64
	DailyUsed   *big.Int
	LastTradeAt int64
}

// Clone returns a deep copy of the executor record.
func (r *ExecutorRecord) Clone() *ExecutorRecord {
	if r == nil {
		return nil
	}
	clone := *r
	clone.PerTradeCap = cloneAmount(r.PerTradeCap)
	clone.DailyCap = cloneAmount(r.DailyCap)
	clone.DailyUsed = cloneAmount(r.DailyUsed)
	return &clone
}

// Position records one long-lived order opened against the external position
// engine. Deposited reflects what actually left custody at open time and is
// the amount reconciled back out of TotalEscrowed at close.
type Position struct {
	ID        uint64
	Handle    string
	AssetIn   string
	AssetOut  string
	Deposited *big.Int
	CreatedAt int64
	Active    bool
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Deposited = cloneAmount(p.Deposited)
	return &clone
}

// VaultParams carries the tunable limits applied at initialize and set-params
// time.
type VaultParams struct {
	SwapEngine     string
	PositionEngine string
	Cooldown       int64
	PerTradeCap    *big.Int
	DailyCap       *big.Int
	MaxPositions   uint32
	MaxEscrow      *big.Int
}

// Sanitize validates the parameter block and returns a canonical copy.
func (p VaultParams) Sanitize() (VaultParams, error) {
	out := VaultParams{
		SwapEngine:     strings.TrimSpace(p.SwapEngine),
		PositionEngine: strings.TrimSpace(p.PositionEngine),
		Cooldown:       p.Cooldown,
		PerTradeCap:    cloneAmount(p.PerTradeCap),
		DailyCap:       cloneAmount(p.DailyCap),
		MaxPositions:   p.MaxPositions,
		MaxEscrow:      cloneAmount(p.MaxEscrow),
	}
	if out.SwapEngine == "" {
		return out, fmt.Errorf("vault: swap engine identifier required")
	}
	if out.PositionEngine == "" {
		return out, fmt.Errorf("vault: position engine identifier required")
	}
	if out.Cooldown < 0 {
		return out, fmt.Errorf("vault: cooldown must not be negative")
	}
	if out.PerTradeCap.Sign() <= 0 {
		return out, fmt.Errorf("vault: per-trade cap must be positive")
	}
	if out.DailyCap.Sign() <= 0 {
		return out, fmt.Errorf("vault: daily cap must be positive")
	}
	if out.MaxEscrow.Sign() < 0 {
		return out, fmt.Errorf("vault: max escrow must not be negative")
	}
	return out, nil
}

// NormalizeAsset trims the supplied asset identifier. Identifiers are
// case-sensitive mint addresses, so no case folding is applied.
func NormalizeAsset(asset string) (string, error) {
	trimmed := strings.TrimSpace(asset)
	if trimmed == "" {
		return "", fmt.Errorf("vault: empty asset identifier")
	}
	return trimmed, nil
}

// DeriveVaultID computes the deterministic vault identifier for an owner.
// Vaults are singletons per owner, so the id is a pure function of the owner
// identity.
func DeriveVaultID(owner crypto.Address) crypto.Address {
	seed := make([]byte, 0, len(vaultIDDomain)+20)
	seed = append(seed, vaultIDDomain...)
	seed = append(seed, owner.Bytes()...)
	digest := ethcrypto.Keccak256(seed)
	return crypto.NewAddress(crypto.VaultPrefix, digest[12:])
}

var vaultIDDomain = []byte("tradevault/vault/v1")

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func floorZero(v *big.Int) *big.Int {
	if v == nil || v.Sign() < 0 {
		return big.NewInt(0)
	}
	return v
}
