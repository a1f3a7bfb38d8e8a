package riftbeacon

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// NewEntropyHash mixes the current time with 32 random bytes and hashes the
// result. Device-backed entropy sources should replace it in production.
func NewEntropyHash() (common.Hash, error) {
	random := make([]byte, 32)
	if _, err := rand.Read(random); err != nil {
		return common.Hash{}, fmt.Errorf("read entropy: %w", err)
	}
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(time.Now().UnixMilli()))
	return crypto.Keccak256Hash(ts[:], random), nil
}

// NewChallengeHash returns the hash of 32 random bytes.
func NewChallengeHash() (common.Hash, error) {
	random := make([]byte, 32)
	if _, err := rand.Read(random); err != nil {
		return common.Hash{}, fmt.Errorf("read challenge: %w", err)
	}
	return crypto.Keccak256Hash(random), nil
}

// BuildAttestation packs the session id, the user address and a millisecond
// timestamp into an opaque attestation payload.
func BuildAttestation(sessionID common.Hash, user common.Address, at time.Time) []byte {
	out := make([]byte, 0, common.HashLength+common.AddressLength+32)
	out = append(out, sessionID.Bytes()...)
	out = append(out, user.Bytes()...)
	var ts [32]byte
	binary.BigEndian.PutUint64(ts[24:], uint64(at.UnixMilli()))
	return append(out, ts[:]...)
}

// ProofResponse computes the response a prover reveals for a commitment
// challenge: keccak256(commitment || challenge || inputs...).
func ProofResponse(commitment, challenge common.Hash, publicInputs ...common.Hash) common.Hash {
	parts := make([][]byte, 0, 2+len(publicInputs))
	parts = append(parts, commitment.Bytes(), challenge.Bytes())
	for _, in := range publicInputs {
		parts = append(parts, in.Bytes())
	}
	return crypto.Keccak256Hash(parts...)
}
