// Package verifier 实现承诺-揭示绑定：证明者先登记承诺，之后揭示的响应必须等于
// keccak256(commitment ‖ challenge ‖ publicInputs...)。
// 每个被接受的 (commitment, challenge, response) 三元组只能使用一次。
package verifier

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"RiftBeacon/internal/events"
	xerrors "RiftBeacon/internal/errors"
	"RiftBeacon/internal/ledger"
	"RiftBeacon/internal/web3"
)

// Proof 是揭示阶段提交的三元组。
type Proof struct {
	Commitment common.Hash `json:"commitment"`
	Challenge  common.Hash `json:"challenge"`
	Response   common.Hash `json:"response"`
}

// Commitment 是已登记承诺的存储记录。
type Commitment struct {
	Prover       common.Address `json:"prover"`
	Used         bool           `json:"used"`
	RegisteredAt uint64         `json:"registered_at"`
}

const (
	CodeDuplicateCommitment xerrors.Code = "VERIFIER_DUPLICATE_COMMITMENT"
	CodeInvalidProof        xerrors.Code = "VERIFIER_INVALID_PROOF"
	CodeProofAlreadyUsed    xerrors.Code = "VERIFIER_PROOF_ALREADY_USED"
)

var (
	ErrDuplicateCommitment = xerrors.New(CodeDuplicateCommitment, "commitment already registered")
	ErrInvalidProof        = xerrors.New(CodeInvalidProof, "response does not match commitment binding")
	ErrProofAlreadyUsed    = xerrors.New(CodeProofAlreadyUsed, "proof already used")
)

func init() {
	xerrors.Register(CodeDuplicateCommitment, xerrors.Attributes{
		Message:  "commitment already registered",
		Category: xerrors.CategoryConflict,
	})
	xerrors.Register(CodeInvalidProof, xerrors.Attributes{
		Message:  "response does not match commitment binding",
		Category: xerrors.CategoryValidation,
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeProofAlreadyUsed, xerrors.Attributes{
		Message:  "proof already used",
		Category: xerrors.CategoryConflict,
		Severity: xerrors.SeverityWarning,
	})
}

const (
	commitmentSpace = "commitment"
	usedProofSpace  = "proof_used"
)

// Verifier 校验承诺-揭示证明，两个操作都不需要能力授权。
type Verifier struct {
	ledger *ledger.Ledger
}

// New 构造 Verifier。
func New(led *ledger.Ledger) *Verifier {
	return &Verifier{ledger: led}
}

// ComputeResponse 返回证明者应当揭示的响应。
func ComputeResponse(commitment, challenge common.Hash, publicInputs []common.Hash) common.Hash {
	words := make([]common.Hash, 0, 2+len(publicInputs))
	words = append(words, commitment, challenge)
	words = append(words, publicInputs...)
	return web3.KeccakHashes(words...)
}

// RegisterCommitment 登记承诺，调用者即为证明者。
func (v *Verifier) RegisterCommitment(ctx context.Context, caller common.Address, commitment common.Hash) error {
	return v.ledger.Execute(ctx, caller, "verifier.register_commitment", func(tx *ledger.Tx) error {
		key := ledger.Key(commitmentSpace, commitment.Bytes())
		exists, err := tx.Has(key)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateCommitment
		}
		if err := tx.Set(key, Commitment{Prover: tx.Sender(), RegisteredAt: tx.Now()}); err != nil {
			return err
		}
		tx.Emit(events.KindCommitmentRegistered, commitment.Hex(), map[string]string{
			"commitment": commitment.Hex(),
			"prover":     tx.Sender().Hex(),
		})
		return nil
	})
}

// VerifyProof 在响应与绑定一致时接受证明，同一证明只接受一次。
func (v *Verifier) VerifyProof(ctx context.Context, caller common.Address, proof Proof, publicInputs []common.Hash) error {
	return v.ledger.Execute(ctx, caller, "verifier.verify_proof", func(tx *ledger.Tx) error {
		expected := ComputeResponse(proof.Commitment, proof.Challenge, publicInputs)
		if proof.Response != expected {
			return ErrInvalidProof
		}
		usedKey := proofKey(proof)
		used, err := tx.Has(usedKey)
		if err != nil {
			return err
		}
		if used {
			return ErrProofAlreadyUsed
		}
		if err := tx.Set(usedKey, tx.Now()); err != nil {
			return err
		}

		commitKey := ledger.Key(commitmentSpace, proof.Commitment.Bytes())
		var rec Commitment
		found, err := tx.Get(commitKey, &rec)
		if err != nil {
			return err
		}
		if found && !rec.Used {
			rec.Used = true
			if err := tx.Set(commitKey, rec); err != nil {
				return err
			}
		}

		tx.Emit(events.KindProofVerified, proof.Commitment.Hex(), map[string]string{
			"commitment": proof.Commitment.Hex(),
		})
		return nil
	})
}

// IsProofUsed 判断该三元组是否已被接受过。
func (v *Verifier) IsProofUsed(ctx context.Context, proof Proof) (bool, error) {
	var used bool
	err := v.ledger.View(ctx, func(r ledger.Reader) error {
		var err error
		used, err = r.Has(proofKey(proof))
		return err
	})
	return used, err
}

// GetCommitment 返回承诺记录。
func (v *Verifier) GetCommitment(ctx context.Context, commitment common.Hash) (Commitment, bool, error) {
	var (
		rec   Commitment
		found bool
	)
	err := v.ledger.View(ctx, func(r ledger.Reader) error {
		var err error
		found, err = r.Get(ledger.Key(commitmentSpace, commitment.Bytes()), &rec)
		return err
	})
	return rec, found, err
}

func proofKey(p Proof) []byte {
	return ledger.Key(usedProofSpace, web3.KeccakHashes(p.Commitment, p.Challenge, p.Response).Bytes())
}
