package config

import (
	"fmt"
	"math/big"

	"github.com/BurntSushi/toml"
)

// Policy is the operator-authored vault policy file. vaultd init reads it to
// create the genesis vault; amounts are decimal strings in the asset's base
// units so no precision is lost to TOML number parsing.
type Policy struct {
	Vault VaultPolicy  `toml:"vault"`
	Mints []MintPolicy `toml:"mints"`
}

// VaultPolicy mirrors the tunable vault limits.
type VaultPolicy struct {
	SwapEngine      string `toml:"swap_engine"`
	PositionEngine  string `toml:"position_engine"`
	CooldownSeconds int64  `toml:"cooldown_seconds"`
	PerTradeCap     string `toml:"per_trade_cap"`
	DailyCap        string `toml:"daily_cap"`
	MaxPositions    uint32 `toml:"max_positions"`
	MaxEscrow       string `toml:"max_escrow"`
}

// MintPolicy whitelists one asset at genesis.
type MintPolicy struct {
	Asset string `toml:"asset"`
}

// LoadPolicy parses the policy file at path.
func LoadPolicy(path string) (Policy, error) {
	var policy Policy
	if _, err := toml.DecodeFile(path, &policy); err != nil {
		return policy, fmt.Errorf("decode policy: %w", err)
	}
	if policy.Vault.SwapEngine == "" {
		return policy, fmt.Errorf("policy: vault.swap_engine required")
	}
	if policy.Vault.PositionEngine == "" {
		return policy, fmt.Errorf("policy: vault.position_engine required")
	}
	for i, mint := range policy.Mints {
		if mint.Asset == "" {
			return policy, fmt.Errorf("policy: mints[%d].asset required", i)
		}
	}
	return policy, nil
}

// Amount parses a policy amount string into base units.
func Amount(raw, field string) (*big.Int, error) {
	if raw == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("policy: %s must be a non-negative decimal string", field)
	}
	return value, nil
}
