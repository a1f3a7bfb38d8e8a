package web3

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Keccak hashes the tight concatenation of parts, matching Solidity's
// abi.encodePacked for fixed-width arguments.
func Keccak(parts ...[]byte) common.Hash {
	return crypto.Keccak256Hash(parts...)
}

// KeccakHashes hashes a packed sequence of 32-byte words.
func KeccakHashes(words ...common.Hash) common.Hash {
	parts := make([][]byte, len(words))
	for i := range words {
		parts[i] = words[i].Bytes()
	}
	return crypto.Keccak256Hash(parts...)
}

// U256 encodes v as a 32-byte big-endian word.
func U256(v uint64) []byte {
	return common.LeftPadBytes(new(big.Int).SetUint64(v).Bytes(), 32)
}

// ModuleAddress derives the identity a protocol component acts under when it
// calls into another component.
func ModuleAddress(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("riftbeacon.module." + name)))
}

// ParseAddress accepts a hex address with or without 0x prefix.
func ParseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// ParseHash accepts a 32-byte hex string with or without 0x prefix.
func ParseHash(s string) (common.Hash, bool) {
	raw := common.FromHex(s)
	if len(raw) != common.HashLength {
		return common.Hash{}, false
	}
	return common.BytesToHash(raw), true
}
