package batch

import (
	"context"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"RiftBeacon/internal/auth"
	xerrors "RiftBeacon/internal/errors"
	"RiftBeacon/internal/events"
	"RiftBeacon/internal/ledger"
	"RiftBeacon/internal/web3"
)

// ModuleName 是批量操作调用分数引擎时使用的模块身份。
const ModuleName = "batch"

const CodeLengthMismatch xerrors.Code = "BATCH_LENGTH_MISMATCH"

// ErrLengthMismatch 表示身份列表与增量列表长度不一致。
var ErrLengthMismatch = xerrors.New(CodeLengthMismatch, "identities and deltas differ in length")

func init() {
	xerrors.Register(CodeLengthMismatch, xerrors.Attributes{
		Message:  "identities and deltas differ in length",
		Category: xerrors.CategoryValidation,
	})
}

// Scores 是批量更新依赖的分数操作。
type Scores interface {
	UpdateTx(tx *ledger.Tx, identity common.Address, delta int64) (uint64, error)
}

// Operator 在一次账本操作中批量更新分数。
type Operator struct {
	ledger *ledger.Ledger
	auth   auth.Authorizer
	scores Scores
	module common.Address
}

func NewOperator(led *ledger.Ledger, authorizer auth.Authorizer, scores Scores) *Operator {
	return &Operator{
		ledger: led,
		auth:   authorizer,
		scores: scores,
		module: web3.ModuleAddress(ModuleName),
	}
}

// Module 返回批量操作调用分数引擎时的身份地址。
func (o *Operator) Module() common.Address { return o.module }

// BatchUpdateScores 需要 operator 能力。任一条目失败则整批回滚。
// 返回每个身份更新后的分数，顺序与输入一致。
func (o *Operator) BatchUpdateScores(ctx context.Context, caller common.Address, identities []common.Address, deltas []int64) ([]uint64, error) {
	var out []uint64
	err := o.ledger.Execute(ctx, caller, "batch.update_scores", func(tx *ledger.Tx) error {
		if err := o.auth.Authorize(tx.Context(), tx.Sender(), auth.CapabilityOperator); err != nil {
			return err
		}
		if len(identities) != len(deltas) {
			return xerrors.New(CodeLengthMismatch, "",
				xerrors.WithMetadata("identities", strconv.Itoa(len(identities))),
				xerrors.WithMetadata("deltas", strconv.Itoa(len(deltas))))
		}
		scoped := tx.As(o.module)
		results := make([]uint64, len(identities))
		for i, identity := range identities {
			updated, err := o.scores.UpdateTx(scoped, identity, deltas[i])
			if err != nil {
				return err
			}
			results[i] = updated
		}
		tx.Emit(events.KindBatchScoreUpdate, caller.Hex(), map[string]string{
			"count": strconv.Itoa(len(identities)),
		})
		out = results
		return nil
	})
	return out, err
}
