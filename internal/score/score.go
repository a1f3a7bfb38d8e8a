package score

import (
	"fmt"

	xerrors "RiftBeacon/internal/errors"
)

// Params 配置分数上限与衰减策略。
type Params struct {
	MaxScore      uint64 `mapstructure:"max_score" json:"max_score"`
	DecayInterval uint64 `mapstructure:"decay_interval" json:"decay_interval"`
	DecayRateBPS  uint64 `mapstructure:"decay_rate_bps" json:"decay_rate_bps"`
}

// DefaultParams 返回协议参考值。
func DefaultParams() Params {
	return Params{
		MaxScore:      10_000,
		DecayInterval: 86_400,
		DecayRateBPS:  500,
	}
}

// Validate 检查参数是否可用。
func (p Params) Validate() error {
	if p.MaxScore == 0 {
		return fmt.Errorf("max score must be positive")
	}
	if p.DecayInterval == 0 {
		return fmt.Errorf("decay interval must be positive")
	}
	if p.DecayRateBPS > bpsDenominator {
		return fmt.Errorf("decay rate %d exceeds %d bps", p.DecayRateBPS, bpsDenominator)
	}
	return nil
}

const bpsDenominator = 10_000

// Record 是单个身份的分数记录。DecayedThrough 记录衰减已结算到的时间点，
// 与 LastActivity 分开保存，使衰减不会刷新活跃时间。
type Record struct {
	Score          uint64 `json:"score"`
	LastActivity   uint64 `json:"last_activity"`
	DecayedThrough uint64 `json:"decayed_through,omitempty"`
}

const (
	CodeAlreadyInitialized xerrors.Code = "SCORE_ALREADY_INITIALIZED"
	CodeNotInitialized     xerrors.Code = "SCORE_NOT_INITIALIZED"
)

var (
	// ErrAlreadyInitialized 表示身份已存在分数记录。
	ErrAlreadyInitialized = xerrors.New(CodeAlreadyInitialized, "score already initialized")
	// ErrNotInitialized 表示身份尚无分数记录。
	ErrNotInitialized = xerrors.New(CodeNotInitialized, "score not initialized")
)

func init() {
	xerrors.Register(CodeAlreadyInitialized, xerrors.Attributes{
		Message:  "score already initialized",
		Category: xerrors.CategoryConflict,
	})
	xerrors.Register(CodeNotInitialized, xerrors.Attributes{
		Message:  "score not initialized",
		Category: xerrors.CategoryConflict,
	})
}

// ApplyDelta 在 [0, max] 区间内饱和地加上 delta。
func ApplyDelta(current uint64, delta int64, max uint64) uint64 {
	if current > max {
		current = max
	}
	if delta >= 0 {
		d := uint64(delta)
		if d >= max-current {
			return max
		}
		return current + d
	}
	// -(delta+1)+1 避免 MinInt64 取反溢出。
	d := uint64(-(delta + 1)) + 1
	if d >= current {
		return 0
	}
	return current - d
}

// Decay 计算 now 时刻的衰减结果。anchor 之后每满一个周期，分数按
// rateBPS 比例下降，每个周期至少下降 1，直到 0 为止。
// 返回新分数与结算到的时间点；不足一个周期时 ok 为 false。
func Decay(rec Record, now uint64, p Params) (score uint64, through uint64, ok bool) {
	anchor := rec.LastActivity
	if rec.DecayedThrough > anchor {
		anchor = rec.DecayedThrough
	}
	if now < anchor || now-anchor < p.DecayInterval {
		return rec.Score, anchor, false
	}
	intervals := (now - anchor) / p.DecayInterval
	through = anchor + intervals*p.DecayInterval

	score = rec.Score
	if p.DecayRateBPS == 0 {
		return score, through, true
	}
	for i := uint64(0); i < intervals && score > 0; i++ {
		cut := score * p.DecayRateBPS / bpsDenominator
		if cut == 0 {
			cut = 1
		}
		if cut >= score {
			score = 0
			break
		}
		score -= cut
	}
	return score, through, true
}
