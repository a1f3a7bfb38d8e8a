package penalty

import (
	"context"
	"log/slog"
	"math"

	"github.com/ethereum/go-ethereum/common"

	"RiftBeacon/internal/auth"
	"RiftBeacon/internal/events"
	"RiftBeacon/internal/ledger"
	"RiftBeacon/internal/score"
	"RiftBeacon/internal/web3"
	"RiftBeacon/pkg/logger"
)

// ModuleName 是处罚引擎调用分数引擎时使用的模块身份。
const ModuleName = "penalty"

const keySpace = "penalty"

// Engine 施加处罚并在需要时将身份列入限时黑名单。
type Engine struct {
	ledger *ledger.Ledger
	auth   auth.Authorizer
	scores *score.Engine
	params Params
	module common.Address
	logger *slog.Logger
}

// NewEngine 构造 Engine。
func NewEngine(led *ledger.Ledger, authorizer auth.Authorizer, scores *score.Engine, params Params) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		ledger: led,
		auth:   authorizer,
		scores: scores,
		params: params,
		module: web3.ModuleAddress(ModuleName),
		logger: logger.Named("penalty"),
	}, nil
}

// Module 返回引擎调用分数引擎时的身份地址。
func (e *Engine) Module() common.Address { return e.module }

// ApplyPenalty 扣减分数并记录处罚，需要 enforcer 能力。
// 扣减后分数低于阈值，或处罚次数达到上限时，身份会被列入黑名单。
func (e *Engine) ApplyPenalty(ctx context.Context, caller, identity common.Address, amount uint64, reason string) (Record, error) {
	var (
		out         Record
		newScore    uint64
		blacklisted bool
	)
	err := e.ledger.Execute(ctx, caller, "penalty.apply", func(tx *ledger.Tx) error {
		blacklisted = false
		if err := e.auth.Authorize(tx.Context(), tx.Sender(), auth.CapabilityEnforcer); err != nil {
			return err
		}
		if amount == 0 {
			return ErrZeroAmount
		}

		delta := int64(math.MaxInt64)
		if amount < math.MaxInt64 {
			delta = int64(amount)
		}
		var err error
		newScore, err = e.scores.UpdateTx(tx.As(e.module), identity, -delta)
		if err != nil {
			return err
		}

		key := identityKey(identity)
		var rec Record
		if _, err := tx.Get(key, &rec); err != nil {
			return err
		}
		rec.Count++
		rec.LastPenaltyTime = tx.Now()
		rec.Reason = reason
		tx.Emit(events.KindPenalized, identity.Hex(), map[string]string{
			"identity": identity.Hex(),
			"amount":   ledger.FormatUint(amount),
			"reason":   reason,
			"count":    ledger.FormatUint(rec.Count),
		})

		if newScore < e.params.Threshold || rec.Count >= e.params.CountLimit {
			rec.BlacklistedUntil = tx.Now() + e.params.BlacklistDuration
			tx.Emit(events.KindBlacklisted, identity.Hex(), map[string]string{
				"identity": identity.Hex(),
				"until":    ledger.FormatUint(rec.BlacklistedUntil),
			})
			blacklisted = true
		}
		out = rec
		return tx.Set(key, rec)
	})
	if err != nil {
		return Record{}, err
	}
	if blacklisted {
		e.logger.Info("身份已列入黑名单",
			slog.String("identity", identity.Hex()),
			slog.Uint64("until", out.BlacklistedUntil),
			slog.Uint64("score", newScore),
			slog.Uint64("count", out.Count))
	}
	return out, nil
}

// RemoveBlacklist 解除黑名单，需要 administrator 能力。不会重置处罚次数与原因。
func (e *Engine) RemoveBlacklist(ctx context.Context, caller, identity common.Address) error {
	return e.ledger.Execute(ctx, caller, "penalty.remove_blacklist", func(tx *ledger.Tx) error {
		if err := e.auth.Authorize(tx.Context(), tx.Sender(), auth.CapabilityAdministrator); err != nil {
			return err
		}
		key := identityKey(identity)
		var rec Record
		if _, err := tx.Get(key, &rec); err != nil {
			return err
		}
		if !rec.BlacklistedAt(tx.Now()) {
			return ErrNotBlacklisted
		}
		rec.BlacklistedUntil = 0
		if err := tx.Set(key, rec); err != nil {
			return err
		}
		tx.Emit(events.KindBlacklistRemoved, identity.Hex(), map[string]string{
			"identity": identity.Hex(),
		})
		return nil
	})
}

// IsBlacklisted 按当前时间惰性判断黑名单状态。
func (e *Engine) IsBlacklisted(ctx context.Context, identity common.Address) (bool, error) {
	var blacklisted bool
	err := e.ledger.View(ctx, func(r ledger.Reader) error {
		var rec Record
		if _, err := r.Get(identityKey(identity), &rec); err != nil {
			return err
		}
		blacklisted = rec.BlacklistedAt(r.Now())
		return nil
	})
	return blacklisted, err
}

// GetPenalty 返回完整处罚记录，不存在时返回零值记录。
func (e *Engine) GetPenalty(ctx context.Context, identity common.Address) (Record, error) {
	var rec Record
	err := e.ledger.View(ctx, func(r ledger.Reader) error {
		_, err := r.Get(identityKey(identity), &rec)
		return err
	})
	return rec, err
}

func identityKey(identity common.Address) []byte {
	return ledger.Key(keySpace, identity.Bytes())
}
