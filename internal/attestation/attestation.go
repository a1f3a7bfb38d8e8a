package attestation

import (
	"github.com/ethereum/go-ethereum/common"

	xerrors "RiftBeacon/internal/errors"
)

// Record 绑定会话与证明材料的哈希。
type Record struct {
	SessionID    common.Hash `json:"session_id"`
	RegisteredAt uint64      `json:"registered_at"`
	ExpiresAt    uint64      `json:"expires_at"`
	Revoked      bool        `json:"revoked"`
}

// ValidAt 判断记录在 now 时刻是否有效。
func (r Record) ValidAt(now uint64) bool {
	return !r.Revoked && now < r.ExpiresAt
}

const (
	CodePastExpiry        xerrors.Code = "ATTESTATION_PAST_EXPIRY"
	CodeAlreadyRegistered xerrors.Code = "ATTESTATION_ALREADY_REGISTERED"
	CodeNotFound          xerrors.Code = "ATTESTATION_NOT_FOUND"
	CodeAlreadyRevoked    xerrors.Code = "ATTESTATION_ALREADY_REVOKED"
)

var (
	// ErrPastExpiry 表示过期时间不在未来。
	ErrPastExpiry = xerrors.New(CodePastExpiry, "attestation expiry must be in the future")
	// ErrAlreadyRegistered 表示哈希已登记。
	ErrAlreadyRegistered = xerrors.New(CodeAlreadyRegistered, "attestation already registered")
	// ErrNotFound 表示哈希未登记。
	ErrNotFound = xerrors.New(CodeNotFound, "attestation not found")
	// ErrAlreadyRevoked 表示证明已被撤销，撤销不可重复执行。
	ErrAlreadyRevoked = xerrors.New(CodeAlreadyRevoked, "attestation already revoked")
)

func init() {
	xerrors.Register(CodePastExpiry, xerrors.Attributes{
		Message:  "attestation expiry must be in the future",
		Category: xerrors.CategoryValidation,
	})
	xerrors.Register(CodeAlreadyRegistered, xerrors.Attributes{
		Message:  "attestation already registered",
		Category: xerrors.CategoryConflict,
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeNotFound, xerrors.Attributes{
		Message:  "attestation not found",
		Category: xerrors.CategoryNotFound,
	})
	xerrors.Register(CodeAlreadyRevoked, xerrors.Attributes{
		Message:  "attestation already revoked",
		Category: xerrors.CategoryConflict,
	})
}
