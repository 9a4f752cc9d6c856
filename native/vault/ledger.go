package vault

import (
	"math/big"

	"tradevault/crypto"
)

// Authority implements engine.Authority over a single open transaction. It is
// constructed by the engine wrapper just before a delegated call and becomes
// inert once the transaction closes, so an external engine can never hold a
// live handle to vault custody outside an operation.
type Authority struct {
	txn     *Txn
	vaultID crypto.Address
	address crypto.Address
}

// Authority returns the restricted custody handle for a vault within this
// transaction.
func (t *Txn) Authority(vaultID, address crypto.Address) *Authority {
	return &Authority{txn: t, vaultID: vaultID, address: address}
}

// Address returns the escrow authority identity.
func (a *Authority) Address() crypto.Address {
	return a.address
}

// Debit moves amount of asset out of vault custody.
func (a *Authority) Debit(asset string, amount *big.Int) error {
	if a.txn.closed {
		return errTxnClosed
	}
	if amount == nil || amount.Sign() <= 0 {
		return reject(KindPrecondition, CodeZeroAmount, "debit amount must be positive")
	}
	return a.txn.debitBalance(a.vaultID, asset, amount)
}

// Credit moves amount of asset into vault custody.
func (a *Authority) Credit(asset string, amount *big.Int) error {
	if a.txn.closed {
		return errTxnClosed
	}
	if amount == nil || amount.Sign() <= 0 {
		return reject(KindPrecondition, CodeZeroAmount, "credit amount must be positive")
	}
	return a.txn.creditBalance(a.vaultID, asset, amount)
}
