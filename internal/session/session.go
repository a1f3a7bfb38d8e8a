package session

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	xerrors "RiftBeacon/internal/errors"
)

// Params 配置挑战时长窗口与奖励。
type Params struct {
	MinDuration    uint64 `mapstructure:"min_duration" json:"min_duration"`
	MaxDuration    uint64 `mapstructure:"max_duration" json:"max_duration"`
	Reward         int64  `mapstructure:"reward" json:"reward"`
	AttestationTTL uint64 `mapstructure:"attestation_ttl" json:"attestation_ttl"`
}

// DefaultParams 返回协议参考值。
func DefaultParams() Params {
	return Params{
		MinDuration:    30,
		MaxDuration:    600,
		Reward:         100,
		AttestationTTL: 2_592_000,
	}
}

// Validate 检查参数是否可用。
func (p Params) Validate() error {
	if p.MinDuration == 0 || p.MinDuration > p.MaxDuration {
		return fmt.Errorf("invalid duration window [%d, %d]", p.MinDuration, p.MaxDuration)
	}
	if p.Reward <= 0 {
		return fmt.Errorf("session reward must be positive")
	}
	if p.AttestationTTL == 0 {
		return fmt.Errorf("attestation ttl must be positive")
	}
	return nil
}

// Session 是一轮存活证明。Completed 只会从 false 变为 true；过期由时间隐式决定。
type Session struct {
	ID            common.Hash    `json:"id"`
	User          common.Address `json:"user"`
	ChallengeHash common.Hash    `json:"challenge_hash"`
	IssuedAt      uint64         `json:"issued_at"`
	ExpiresAt     uint64         `json:"expires_at"`
	Completed     bool           `json:"completed"`
}

// ActiveAt 判断会话在 now 时刻是否可提交。
func (s Session) ActiveAt(now uint64) bool {
	return !s.Completed && now < s.ExpiresAt
}

// Receipt 汇总一次成功提交产生的副作用。
type Receipt struct {
	SessionID            common.Hash `json:"session_id"`
	Nullifier            common.Hash `json:"nullifier"`
	AttestationHash      common.Hash `json:"attestation_hash"`
	AttestationExpiresAt uint64      `json:"attestation_expires_at"`
	Score                uint64      `json:"score"`
}

const (
	CodeInvalidDuration  xerrors.Code = "SESSION_INVALID_DURATION"
	CodeNotFound         xerrors.Code = "SESSION_NOT_FOUND"
	CodeExpired          xerrors.Code = "SESSION_EXPIRED"
	CodeWrongUser        xerrors.Code = "SESSION_WRONG_USER"
	CodeAlreadyCompleted xerrors.Code = "SESSION_ALREADY_COMPLETED"
	CodeEmptyAttestation xerrors.Code = "SESSION_EMPTY_ATTESTATION"
)

var (
	ErrInvalidDuration  = xerrors.New(CodeInvalidDuration, "challenge duration out of range")
	ErrNotFound         = xerrors.New(CodeNotFound, "session not found")
	ErrExpired          = xerrors.New(CodeExpired, "session expired")
	ErrWrongUser        = xerrors.New(CodeWrongUser, "caller is not the session user")
	ErrAlreadyCompleted = xerrors.New(CodeAlreadyCompleted, "session already completed")
	ErrEmptyAttestation = xerrors.New(CodeEmptyAttestation, "attestation must not be empty")
)

func init() {
	xerrors.Register(CodeInvalidDuration, xerrors.Attributes{
		Message:  "challenge duration out of range",
		Category: xerrors.CategoryValidation,
	})
	xerrors.Register(CodeNotFound, xerrors.Attributes{
		Message:  "session not found",
		Category: xerrors.CategoryNotFound,
	})
	xerrors.Register(CodeExpired, xerrors.Attributes{
		Message:  "session expired",
		Category: xerrors.CategoryTemporal,
	})
	xerrors.Register(CodeWrongUser, xerrors.Attributes{
		Message:  "caller is not the session user",
		Category: xerrors.CategoryIdentity,
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeAlreadyCompleted, xerrors.Attributes{
		Message:  "session already completed",
		Category: xerrors.CategoryConflict,
	})
	xerrors.Register(CodeEmptyAttestation, xerrors.Attributes{
		Message:  "attestation must not be empty",
		Category: xerrors.CategoryValidation,
	})
}
