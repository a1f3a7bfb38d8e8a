package verifier

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"RiftBeacon/internal/events"
	"RiftBeacon/internal/ledger"
	"RiftBeacon/internal/web3"
)

var prover = common.HexToAddress("0x9e")

func newVerifier() (*Verifier, *events.Recorder) {
	rec := events.NewRecorder()
	return New(ledger.NewMemory(web3.NewManualClock(1), ledger.WithPublisher(rec))), rec
}

func TestComputeResponseMatchesPackedKeccak(t *testing.T) {
	c := common.HexToHash("0x01")
	ch := common.HexToHash("0x02")
	in := common.HexToHash("0x03")

	packed := append(append(append([]byte{}, c.Bytes()...), ch.Bytes()...), in.Bytes()...)
	require.Equal(t, crypto.Keccak256Hash(packed), ComputeResponse(c, ch, []common.Hash{in}))
	require.NotEqual(t, ComputeResponse(c, ch, nil), ComputeResponse(c, ch, []common.Hash{in}))
}

func TestRegisterCommitment(t *testing.T) {
	ctx := context.Background()
	v, rec := newVerifier()
	commitment := common.HexToHash("0xc0c0")

	require.NoError(t, v.RegisterCommitment(ctx, prover, commitment))
	err := v.RegisterCommitment(ctx, common.HexToAddress("0x01"), commitment)
	require.True(t, errors.Is(err, ErrDuplicateCommitment))

	got, found, err := v.GetCommitment(ctx, commitment)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, prover, got.Prover)
	require.False(t, got.Used)
	require.Equal(t, []events.Kind{events.KindCommitmentRegistered}, rec.Kinds())
}

func TestVerifyProof(t *testing.T) {
	ctx := context.Background()
	v, rec := newVerifier()
	commitment := common.HexToHash("0xc0c0")
	challenge := common.HexToHash("0xcafe")
	inputs := []common.Hash{common.HexToHash("0x11"), common.HexToHash("0x22")}
	require.NoError(t, v.RegisterCommitment(ctx, prover, commitment))
	rec.Reset()

	bad := Proof{Commitment: commitment, Challenge: challenge, Response: common.HexToHash("0xbad")}
	require.True(t, errors.Is(v.VerifyProof(ctx, prover, bad, inputs), ErrInvalidProof))

	good := Proof{Commitment: commitment, Challenge: challenge, Response: ComputeResponse(commitment, challenge, inputs)}
	require.NoError(t, v.VerifyProof(ctx, prover, good, inputs))

	used, err := v.IsProofUsed(ctx, good)
	require.NoError(t, err)
	require.True(t, used)

	got, _, _ := v.GetCommitment(ctx, commitment)
	require.True(t, got.Used)

	require.True(t, errors.Is(v.VerifyProof(ctx, prover, good, inputs), ErrProofAlreadyUsed))

	// 新的挑战可以再次使用同一承诺。
	challenge2 := common.HexToHash("0xf00d")
	again := Proof{Commitment: commitment, Challenge: challenge2, Response: ComputeResponse(commitment, challenge2, inputs)}
	require.NoError(t, v.VerifyProof(ctx, prover, again, inputs))

	require.Equal(t, []events.Kind{events.KindProofVerified, events.KindProofVerified}, rec.Kinds())
}

func TestVerifyProofWithoutRegisteredCommitment(t *testing.T) {
	ctx := context.Background()
	v, _ := newVerifier()
	commitment := common.HexToHash("0xdead")
	proof := Proof{Commitment: commitment, Challenge: common.HexToHash("0x01"), Response: ComputeResponse(commitment, common.HexToHash("0x01"), nil)}

	require.NoError(t, v.VerifyProof(ctx, prover, proof, nil))
	_, found, err := v.GetCommitment(ctx, commitment)
	require.NoError(t, err)
	require.False(t, found)
}
