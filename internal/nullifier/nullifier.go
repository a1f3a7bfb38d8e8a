package nullifier

import (
	"github.com/ethereum/go-ethereum/common"

	xerrors "RiftBeacon/internal/errors"
)

// Record 记录一次性令牌的消费信息。
type Record struct {
	Consumer   common.Address `json:"consumer"`
	ConsumedAt uint64         `json:"consumed_at"`
}

const (
	CodeInvalidToken    xerrors.Code = "NULLIFIER_INVALID_TOKEN"
	CodeAlreadyConsumed xerrors.Code = "NULLIFIER_ALREADY_CONSUMED"
)

var (
	// ErrInvalidToken 表示令牌为零值。
	ErrInvalidToken = xerrors.New(CodeInvalidToken, "nullifier token must be non-zero")
	// ErrAlreadyConsumed 表示令牌已被消费。
	ErrAlreadyConsumed = xerrors.New(CodeAlreadyConsumed, "nullifier already consumed")
)

func init() {
	xerrors.Register(CodeInvalidToken, xerrors.Attributes{
		Message:  "nullifier token must be non-zero",
		Category: xerrors.CategoryValidation,
	})
	xerrors.Register(CodeAlreadyConsumed, xerrors.Attributes{
		Message:  "nullifier already consumed",
		Category: xerrors.CategoryConflict,
		Severity: xerrors.SeverityWarning,
	})
}
