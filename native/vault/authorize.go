package vault

import (
	"math/big"
)

// Authorize is the pure decision function gating every trade. It checks the
// vault and executor risk ledgers against the proposed amount and order id
// and, only on acceptance, commits the counter updates to the passed-in
// records as a single logical step. Callers hand in clones and persist them
// only when Authorize returns nil, so a rejection leaves zero state changes.
//
// The order id must be strictly increasing across the vault's entire history,
// independent of which executor submits it.
func Authorize(v *Vault, ex *ExecutorRecord, now int64, amount *big.Int, orderID uint64) *Rejection {
	if v.Paused {
		return reject(KindPolicy, CodePaused, "vault is paused")
	}
	if ex == nil || !ex.Enabled {
		return reject(KindPolicy, CodeExecutorDisabled, "executor is not enabled")
	}
	if amount == nil || amount.Sign() == 0 {
		return reject(KindPrecondition, CodeZeroAmount, "amount must be positive")
	}
	if orderID <= v.LastOrderID {
		return reject(KindPolicy, CodeReplay,
			"order id %d not greater than last accepted %d", orderID, v.LastOrderID)
	}
	if v.Cooldown > 0 {
		if now-v.LastTradeAt < v.Cooldown {
			return reject(KindPolicy, CodeCooldown,
				"vault cooldown: %ds since last trade, need %ds", now-v.LastTradeAt, v.Cooldown)
		}
		if now-ex.LastTradeAt < v.Cooldown {
			return reject(KindPolicy, CodeCooldown,
				"executor cooldown: %ds since last trade, need %ds", now-ex.LastTradeAt, v.Cooldown)
		}
	}
	if amount.Cmp(v.PerTradeCap) > 0 {
		return reject(KindPolicy, CodePerTradeCap,
			"amount %s exceeds vault per-trade cap %s", amount, v.PerTradeCap)
	}
	if amount.Cmp(ex.PerTradeCap) > 0 {
		return reject(KindPolicy, CodePerTradeCap,
			"amount %s exceeds executor per-trade cap %s", amount, ex.PerTradeCap)
	}

	day := now / secondsPerDay
	vaultUsed := v.DailyUsed
	if day != v.DayIndex {
		vaultUsed = big.NewInt(0)
	}
	executorUsed := ex.DailyUsed
	if day != ex.DayIndex {
		executorUsed = big.NewInt(0)
	}
	projectedVault := new(big.Int).Add(vaultUsed, amount)
	if projectedVault.Cmp(v.DailyCap) > 0 {
		return reject(KindPolicy, CodeDailyCap,
			"vault daily cap %s exceeded: %s used, %s requested", v.DailyCap, vaultUsed, amount)
	}
	projectedExecutor := new(big.Int).Add(executorUsed, amount)
	if projectedExecutor.Cmp(ex.DailyCap) > 0 {
		return reject(KindPolicy, CodeDailyCap,
			"executor daily cap %s exceeded: %s used, %s requested", ex.DailyCap, executorUsed, amount)
	}

	// Every check passed: commit the ledger updates atomically.
	v.DayIndex = day
	v.DailyUsed = projectedVault
	v.LastTradeAt = now
	v.LastOrderID = orderID
	v.TradeCount++
	ex.DayIndex = day
	ex.DailyUsed = projectedExecutor
	ex.LastTradeAt = now
	return nil
}
