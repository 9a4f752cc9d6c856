package events

import (
	"math/big"

	"tradevault/core/types"
	"tradevault/crypto"
)

const (
	TypeVaultInitialized = "vault.initialized"
	TypeVaultPaused      = "vault.paused"
	TypeVaultUnpaused    = "vault.unpaused"
	TypeParamsUpdated    = "vault.params_updated"
	TypeMintAdded        = "vault.mint_added"
	TypeMintRemoved      = "vault.mint_removed"
	TypeExecutorUpdated  = "vault.executor_updated"
	TypeDeposited        = "vault.deposited"
	TypeWithdrawn        = "vault.withdrawn"
	TypeSwapExecuted     = "vault.swap_executed"
	TypePositionOpened   = "vault.position_opened"
	TypePositionClosed   = "vault.position_closed"
)

type VaultInitialized struct {
	Vault          crypto.Address
	Owner          crypto.Address
	Authority      crypto.Address
	SwapEngine     string
	PositionEngine string
	Timestamp      int64
}

func (VaultInitialized) EventType() string { return TypeVaultInitialized }

func (e VaultInitialized) Event() *types.Event {
	return &types.Event{
		Type:      TypeVaultInitialized,
		Timestamp: e.Timestamp,
		Attributes: map[string]string{
			"vault":          e.Vault.String(),
			"owner":          e.Owner.String(),
			"authority":      e.Authority.String(),
			"swapEngine":     e.SwapEngine,
			"positionEngine": e.PositionEngine,
		},
	}
}

type VaultPaused struct {
	Vault     crypto.Address
	Owner     crypto.Address
	Timestamp int64
}

func (VaultPaused) EventType() string { return TypeVaultPaused }

func (e VaultPaused) Event() *types.Event {
	return &types.Event{
		Type:      TypeVaultPaused,
		Timestamp: e.Timestamp,
		Attributes: map[string]string{
			"vault": e.Vault.String(),
			"owner": e.Owner.String(),
		},
	}
}

type VaultUnpaused struct {
	Vault     crypto.Address
	Owner     crypto.Address
	Timestamp int64
}

func (VaultUnpaused) EventType() string { return TypeVaultUnpaused }

func (e VaultUnpaused) Event() *types.Event {
	return &types.Event{
		Type:      TypeVaultUnpaused,
		Timestamp: e.Timestamp,
		Attributes: map[string]string{
			"vault": e.Vault.String(),
			"owner": e.Owner.String(),
		},
	}
}

type ParamsUpdated struct {
	Vault          crypto.Address
	Owner          crypto.Address
	SwapEngine     string
	PositionEngine string
	Cooldown       int64
	PerTradeCap    *big.Int
	DailyCap       *big.Int
	MaxPositions   uint32
	MaxEscrow      *big.Int
	Timestamp      int64
}

func (ParamsUpdated) EventType() string { return TypeParamsUpdated }

func (e ParamsUpdated) Event() *types.Event {
	return &types.Event{
		Type:      TypeParamsUpdated,
		Timestamp: e.Timestamp,
		Attributes: map[string]string{
			"vault":          e.Vault.String(),
			"owner":          e.Owner.String(),
			"swapEngine":     e.SwapEngine,
			"positionEngine": e.PositionEngine,
			"cooldown":       intToString(e.Cooldown),
			"perTradeCap":    formatAmount(e.PerTradeCap),
			"dailyCap":       formatAmount(e.DailyCap),
			"maxPositions":   uintToString(uint64(e.MaxPositions)),
			"maxEscrow":      formatAmount(e.MaxEscrow),
		},
	}
}

type MintAdded struct {
	Vault     crypto.Address
	Owner     crypto.Address
	Asset     string
	Timestamp int64
}

func (MintAdded) EventType() string { return TypeMintAdded }

func (e MintAdded) Event() *types.Event {
	return &types.Event{
		Type:      TypeMintAdded,
		Timestamp: e.Timestamp,
		Attributes: map[string]string{
			"vault": e.Vault.String(),
			"owner": e.Owner.String(),
			"asset": e.Asset,
		},
	}
}

type MintRemoved struct {
	Vault     crypto.Address
	Owner     crypto.Address
	Asset     string
	Timestamp int64
}

func (MintRemoved) EventType() string { return TypeMintRemoved }

func (e MintRemoved) Event() *types.Event {
	return &types.Event{
		Type:      TypeMintRemoved,
		Timestamp: e.Timestamp,
		Attributes: map[string]string{
			"vault": e.Vault.String(),
			"owner": e.Owner.String(),
			"asset": e.Asset,
		},
	}
}

type ExecutorUpdated struct {
	Vault       crypto.Address
	Owner       crypto.Address
	Executor    crypto.Address
	Enabled     bool
	PerTradeCap *big.Int
	DailyCap    *big.Int
	Timestamp   int64
}

func (ExecutorUpdated) EventType() string { return TypeExecutorUpdated }

func (e ExecutorUpdated) Event() *types.Event {
	return &types.Event{
		Type:      TypeExecutorUpdated,
		Timestamp: e.Timestamp,
		Attributes: map[string]string{
			"vault":       e.Vault.String(),
			"owner":       e.Owner.String(),
			"executor":    e.Executor.String(),
			"enabled":     boolToString(e.Enabled),
			"perTradeCap": formatAmount(e.PerTradeCap),
			"dailyCap":    formatAmount(e.DailyCap),
		},
	}
}

type Deposited struct {
	Vault     crypto.Address
	Owner     crypto.Address
	Asset     string
	Amount    *big.Int
	Balance   *big.Int
	Timestamp int64
}

func (Deposited) EventType() string { return TypeDeposited }

func (e Deposited) Event() *types.Event {
	return &types.Event{
		Type:      TypeDeposited,
		Timestamp: e.Timestamp,
		Attributes: map[string]string{
			"vault":   e.Vault.String(),
			"owner":   e.Owner.String(),
			"asset":   e.Asset,
			"amount":  formatAmount(e.Amount),
			"balance": formatAmount(e.Balance),
		},
	}
}

type Withdrawn struct {
	Vault     crypto.Address
	Owner     crypto.Address
	Authority crypto.Address
	Asset     string
	Amount    *big.Int
	Balance   *big.Int
	Timestamp int64
}

func (Withdrawn) EventType() string { return TypeWithdrawn }

func (e Withdrawn) Event() *types.Event {
	return &types.Event{
		Type:      TypeWithdrawn,
		Timestamp: e.Timestamp,
		Attributes: map[string]string{
			"vault":     e.Vault.String(),
			"owner":     e.Owner.String(),
			"authority": e.Authority.String(),
			"asset":     e.Asset,
			"amount":    formatAmount(e.Amount),
			"balance":   formatAmount(e.Balance),
		},
	}
}

type SwapExecuted struct {
	Vault       crypto.Address
	Executor    crypto.Address
	AssetIn     string
	AssetOut    string
	AmountIn    *big.Int
	MinOut      *big.Int
	SpentIn     *big.Int
	ReceivedOut *big.Int
	OrderID     uint64
	PayloadHash [32]byte
	DailyUsed   *big.Int
	TradeCount  uint64
	Timestamp   int64
}

func (SwapExecuted) EventType() string { return TypeSwapExecuted }

func (e SwapExecuted) Event() *types.Event {
	return &types.Event{
		Type:      TypeSwapExecuted,
		Timestamp: e.Timestamp,
		Attributes: map[string]string{
			"vault":       e.Vault.String(),
			"executor":    e.Executor.String(),
			"assetIn":     e.AssetIn,
			"assetOut":    e.AssetOut,
			"amountIn":    formatAmount(e.AmountIn),
			"minOut":      formatAmount(e.MinOut),
			"spentIn":     formatAmount(e.SpentIn),
			"receivedOut": formatAmount(e.ReceivedOut),
			"orderId":     uintToString(e.OrderID),
			"payloadHash": hashToString(e.PayloadHash),
			"dailyUsed":   formatAmount(e.DailyUsed),
			"tradeCount":  uintToString(e.TradeCount),
		},
	}
}

type PositionOpened struct {
	Vault         crypto.Address
	Executor      crypto.Address
	PositionID    uint64
	AssetIn       string
	AssetOut      string
	Deposited     *big.Int
	TotalEscrowed *big.Int
	OrderID       uint64
	PayloadHash   [32]byte
	Timestamp     int64
}

func (PositionOpened) EventType() string { return TypePositionOpened }

func (e PositionOpened) Event() *types.Event {
	return &types.Event{
		Type:      TypePositionOpened,
		Timestamp: e.Timestamp,
		Attributes: map[string]string{
			"vault":         e.Vault.String(),
			"executor":      e.Executor.String(),
			"positionId":    uintToString(e.PositionID),
			"assetIn":       e.AssetIn,
			"assetOut":      e.AssetOut,
			"deposited":     formatAmount(e.Deposited),
			"totalEscrowed": formatAmount(e.TotalEscrowed),
			"orderId":       uintToString(e.OrderID),
			"payloadHash":   hashToString(e.PayloadHash),
		},
	}
}

type PositionClosed struct {
	Vault         crypto.Address
	Owner         crypto.Address
	PositionID    uint64
	Deposited     *big.Int
	Refund        *big.Int
	TotalEscrowed *big.Int
	PayloadHash   [32]byte
	Timestamp     int64
}

func (PositionClosed) EventType() string { return TypePositionClosed }

func (e PositionClosed) Event() *types.Event {
	return &types.Event{
		Type:      TypePositionClosed,
		Timestamp: e.Timestamp,
		Attributes: map[string]string{
			"vault":         e.Vault.String(),
			"owner":         e.Owner.String(),
			"positionId":    uintToString(e.PositionID),
			"deposited":     formatAmount(e.Deposited),
			"refund":        formatAmount(e.Refund),
			"totalEscrowed": formatAmount(e.TotalEscrowed),
			"payloadHash":   hashToString(e.PayloadHash),
		},
	}
}
