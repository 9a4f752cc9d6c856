package vault

import (
	"encoding/binary"
	"encoding/hex"

	"tradevault/crypto"
)

var (
	vaultRecordPrefix    = []byte("vault/state/")
	vaultIndexKeyBytes   = []byte("vault/index")
	executorRecordPrefix = []byte("vault/executor/")
	positionRecordPrefix = []byte("vault/position/")
	whitelistPrefix      = []byte("vault/whitelist/")
	balancePrefix        = []byte("vault/balance/")
)

func vaultKey(id crypto.Address) []byte {
	return appendHex(vaultRecordPrefix, id.Bytes())
}

func vaultIndexKey() []byte {
	return vaultIndexKeyBytes
}

func executorKey(vaultID, executor crypto.Address) []byte {
	key := appendHex(executorRecordPrefix, vaultID.Bytes())
	key = append(key, '/')
	return appendHexTo(key, executor.Bytes())
}

func positionKey(vaultID crypto.Address, positionID uint64) []byte {
	key := appendHex(positionRecordPrefix, vaultID.Bytes())
	key = append(key, '/')
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], positionID)
	return appendHexTo(key, id[:])
}

func whitelistKey(vaultID crypto.Address) []byte {
	return appendHex(whitelistPrefix, vaultID.Bytes())
}

func balanceKey(vaultID crypto.Address, asset string) []byte {
	key := appendHex(balancePrefix, vaultID.Bytes())
	key = append(key, '/')
	return append(key, asset...)
}

func appendHex(prefix, raw []byte) []byte {
	key := make([]byte, 0, len(prefix)+hex.EncodedLen(len(raw)))
	key = append(key, prefix...)
	return appendHexTo(key, raw)
}

func appendHexTo(key, raw []byte) []byte {
	encoded := make([]byte, hex.EncodedLen(len(raw)))
	hex.Encode(encoded, raw)
	return append(key, encoded...)
}
