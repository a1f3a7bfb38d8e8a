package penalty

import (
	"fmt"

	xerrors "RiftBeacon/internal/errors"
)

// Params 配置升级规则。
type Params struct {
	Threshold         uint64 `mapstructure:"threshold" json:"threshold"`
	CountLimit        uint64 `mapstructure:"count_limit" json:"count_limit"`
	BlacklistDuration uint64 `mapstructure:"blacklist_duration" json:"blacklist_duration"`
}

// DefaultParams 返回协议参考值。
func DefaultParams() Params {
	return Params{
		Threshold:         500,
		CountLimit:        3,
		BlacklistDuration: 604_800,
	}
}

// Validate 检查参数是否可用。
func (p Params) Validate() error {
	if p.CountLimit == 0 {
		return fmt.Errorf("penalty count limit must be positive")
	}
	if p.BlacklistDuration == 0 {
		return fmt.Errorf("blacklist duration must be positive")
	}
	return nil
}

// Record 保存身份的处罚状态。Reason 只保留最近一次处罚的原因。
type Record struct {
	Count            uint64 `json:"count"`
	LastPenaltyTime  uint64 `json:"last_penalty_time"`
	BlacklistedUntil uint64 `json:"blacklisted_until"`
	Reason           string `json:"reason"`
}

// BlacklistedAt 判断在 now 时刻是否处于黑名单中。
func (r Record) BlacklistedAt(now uint64) bool {
	return r.BlacklistedUntil > now
}

const (
	CodeZeroAmount     xerrors.Code = "PENALTY_ZERO_AMOUNT"
	CodeNotBlacklisted xerrors.Code = "PENALTY_NOT_BLACKLISTED"
)

var (
	// ErrZeroAmount 表示处罚数额为 0。
	ErrZeroAmount = xerrors.New(CodeZeroAmount, "penalty amount must be positive")
	// ErrNotBlacklisted 表示身份当前不在黑名单中。
	ErrNotBlacklisted = xerrors.New(CodeNotBlacklisted, "identity is not blacklisted")
)

func init() {
	xerrors.Register(CodeZeroAmount, xerrors.Attributes{
		Message:  "penalty amount must be positive",
		Category: xerrors.CategoryValidation,
	})
	xerrors.Register(CodeNotBlacklisted, xerrors.Attributes{
		Message:  "identity is not blacklisted",
		Category: xerrors.CategoryConflict,
	})
}
