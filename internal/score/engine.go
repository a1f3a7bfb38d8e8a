package score

import (
	"context"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"RiftBeacon/internal/auth"
	"RiftBeacon/internal/events"
	"RiftBeacon/internal/ledger"
)

const keySpace = "score"

// Engine 管理每个身份的有界分数，支持饱和更新与按时间衰减。
type Engine struct {
	ledger *ledger.Ledger
	auth   auth.Authorizer
	params Params
}

// NewEngine 构造 Engine，参数非法时返回错误。
func NewEngine(led *ledger.Ledger, authorizer auth.Authorizer, params Params) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Engine{ledger: led, auth: authorizer, params: params}, nil
}

// Params 返回当前参数。
func (e *Engine) Params() Params { return e.params }

// Initialize 为 identity 创建分数记录，需要 scorer 能力。
func (e *Engine) Initialize(ctx context.Context, caller, identity common.Address, initial uint64) error {
	return e.ledger.Execute(ctx, caller, "score.initialize", func(tx *ledger.Tx) error {
		return e.InitializeTx(tx, identity, initial)
	})
}

// InitializeTx 在已有事务中初始化分数。
func (e *Engine) InitializeTx(tx *ledger.Tx, identity common.Address, initial uint64) error {
	if err := e.auth.Authorize(tx.Context(), tx.Sender(), auth.CapabilityScorer); err != nil {
		return err
	}
	key := identityKey(identity)
	exists, err := tx.Has(key)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyInitialized
	}
	if initial > e.params.MaxScore {
		initial = e.params.MaxScore
	}
	return tx.Set(key, Record{Score: initial, LastActivity: tx.Now()})
}

// EnsureTx 在记录不存在时以 0 分初始化，已存在时不做任何修改。
func (e *Engine) EnsureTx(tx *ledger.Tx, identity common.Address) error {
	exists, err := tx.Has(identityKey(identity))
	if err != nil || exists {
		return err
	}
	return e.InitializeTx(tx, identity, 0)
}

// Update 对分数施加带符号的增量，需要 scorer 能力。返回新分数。
func (e *Engine) Update(ctx context.Context, caller, identity common.Address, delta int64) (uint64, error) {
	var updated uint64
	err := e.ledger.Execute(ctx, caller, "score.update", func(tx *ledger.Tx) error {
		var err error
		updated, err = e.UpdateTx(tx, identity, delta)
		return err
	})
	return updated, err
}

// UpdateTx 在已有事务中更新分数。
func (e *Engine) UpdateTx(tx *ledger.Tx, identity common.Address, delta int64) (uint64, error) {
	if err := e.auth.Authorize(tx.Context(), tx.Sender(), auth.CapabilityScorer); err != nil {
		return 0, err
	}
	key := identityKey(identity)
	var rec Record
	found, err := tx.Get(key, &rec)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, ErrNotInitialized
	}
	previous := rec.Score
	rec.Score = ApplyDelta(rec.Score, delta, e.params.MaxScore)
	if tx.Now() > rec.LastActivity {
		rec.LastActivity = tx.Now()
	}
	if err := tx.Set(key, rec); err != nil {
		return 0, err
	}
	tx.Emit(events.KindScoreChanged, identity.Hex(), map[string]string{
		"identity":  identity.Hex(),
		"new_score": ledger.FormatUint(rec.Score),
		"previous":  ledger.FormatUint(previous),
		"delta":     strconv.FormatInt(delta, 10),
	})
	return rec.Score, nil
}

// ApplyDecay 结算 identity 的衰减。任何人都可调用；不足一个衰减周期或记录不存在时
// 视为成功的空操作。衰减不会刷新 LastActivity。返回结算后的分数。
func (e *Engine) ApplyDecay(ctx context.Context, caller, identity common.Address) (uint64, error) {
	var result uint64
	err := e.ledger.Execute(ctx, caller, "score.apply_decay", func(tx *ledger.Tx) error {
		key := identityKey(identity)
		var rec Record
		found, err := tx.Get(key, &rec)
		if err != nil || !found {
			return err
		}
		result = rec.Score
		decayed, through, ok := Decay(rec, tx.Now(), e.params)
		if !ok {
			return nil
		}
		previous := rec.Score
		rec.Score = decayed
		rec.DecayedThrough = through
		if err := tx.Set(key, rec); err != nil {
			return err
		}
		result = decayed
		if decayed != previous {
			tx.Emit(events.KindScoreChanged, identity.Hex(), map[string]string{
				"identity":  identity.Hex(),
				"new_score": ledger.FormatUint(decayed),
				"previous":  ledger.FormatUint(previous),
				"reason":    "decay",
			})
		}
		return nil
	})
	return result, err
}

// Get 返回完整记录。
func (e *Engine) Get(ctx context.Context, identity common.Address) (Record, bool, error) {
	var (
		rec   Record
		found bool
	)
	err := e.ledger.View(ctx, func(r ledger.Reader) error {
		var err error
		found, err = r.Get(identityKey(identity), &rec)
		return err
	})
	return rec, found, err
}

// GetScore 返回当前分数，未初始化的身份为 0。
func (e *Engine) GetScore(ctx context.Context, identity common.Address) (uint64, error) {
	rec, _, err := e.Get(ctx, identity)
	return rec.Score, err
}

// GetLastActivity 返回最近一次活跃时间，未初始化的身份为 0。
func (e *Engine) GetLastActivity(ctx context.Context, identity common.Address) (uint64, error) {
	rec, _, err := e.Get(ctx, identity)
	return rec.LastActivity, err
}

func identityKey(identity common.Address) []byte {
	return ledger.Key(keySpace, identity.Bytes())
}
