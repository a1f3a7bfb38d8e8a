package session

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"RiftBeacon/internal/events"
	"RiftBeacon/internal/ledger"
	"RiftBeacon/internal/web3"
)

// ModuleName 是会话管理器调用其他组件时使用的模块身份。
const ModuleName = "session"

const (
	keySpace     = "session"
	nonceCounter = "session.nonce"
)

// Nullifiers 是会话管理器依赖的一次性令牌存储。
type Nullifiers interface {
	ConsumeTx(tx *ledger.Tx, token common.Hash) error
}

// Attestations 是会话管理器依赖的证明登记。
type Attestations interface {
	RegisterTx(tx *ledger.Tx, sessionID, hash common.Hash, expiresAt uint64) error
}

// Scores 是会话管理器依赖的分数账本。
type Scores interface {
	EnsureTx(tx *ledger.Tx, identity common.Address) error
	UpdateTx(tx *ledger.Tx, identity common.Address, delta int64) (uint64, error)
}

// Manager 编排挑战/响应会话。
type Manager struct {
	ledger       *ledger.Ledger
	nullifiers   Nullifiers
	attestations Attestations
	scores       Scores
	params       Params
	module       common.Address
}

// NewManager 构造 Manager。
func NewManager(led *ledger.Ledger, nullifiers Nullifiers, attestations Attestations, scores Scores, params Params) (*Manager, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		ledger:       led,
		nullifiers:   nullifiers,
		attestations: attestations,
		scores:       scores,
		params:       params,
		module:       web3.ModuleAddress(ModuleName),
	}, nil
}

// Module 返回会话管理器调用其他组件时的身份地址。
func (m *Manager) Module() common.Address { return m.module }

// Params 返回当前参数。
func (m *Manager) Params() Params { return m.params }

// DeriveSessionID 计算会话标识：keccak256(user ‖ challengeHash ‖ issuedAt ‖ nonce)。
// nonce 来自账本内的单调序列，同一时刻同一挑战也不会碰撞。
func DeriveSessionID(user common.Address, challengeHash common.Hash, issuedAt, nonce uint64) common.Hash {
	return web3.Keccak(user.Bytes(), challengeHash.Bytes(), web3.U256(issuedAt), web3.U256(nonce))
}

// NullifierFor 计算提交时消费的一次性令牌：keccak256(sessionId ‖ entropyHash)。
func NullifierFor(sessionID, entropyHash common.Hash) common.Hash {
	return web3.KeccakHashes(sessionID, entropyHash)
}

// AttestationHashFor 计算登记的证明哈希：keccak256(sessionId ‖ attestation)。
func AttestationHashFor(sessionID common.Hash, attestation []byte) common.Hash {
	return web3.Keccak(sessionID.Bytes(), attestation)
}

// StartChallenge 为 caller 创建新的会话。
func (m *Manager) StartChallenge(ctx context.Context, caller common.Address, challengeHash common.Hash, duration uint64) (Session, error) {
	var out Session
	err := m.ledger.Execute(ctx, caller, "session.start_challenge", func(tx *ledger.Tx) error {
		if duration < m.params.MinDuration || duration > m.params.MaxDuration {
			return ErrInvalidDuration
		}
		nonce, err := tx.NextSequence(nonceCounter)
		if err != nil {
			return err
		}
		now := tx.Now()
		s := Session{
			ID:            DeriveSessionID(caller, challengeHash, now, nonce),
			User:          caller,
			ChallengeHash: challengeHash,
			IssuedAt:      now,
			ExpiresAt:     now + duration,
		}
		if err := tx.Set(sessionKey(s.ID), s); err != nil {
			return err
		}
		tx.Emit(events.KindChallengeIssued, s.ID.Hex(), map[string]string{
			"session_id":     s.ID.Hex(),
			"user":           caller.Hex(),
			"challenge_hash": challengeHash.Hex(),
			"expires_at":     ledger.FormatUint(s.ExpiresAt),
		})
		out = s
		return nil
	})
	return out, err
}

// SubmitResponse 完成会话。消费令牌、登记证明、奖励分数与标记完成在同一事务中执行，
// 任何一步失败都不会留下部分状态。
func (m *Manager) SubmitResponse(ctx context.Context, caller common.Address, sessionID common.Hash, attestation []byte, entropyHash common.Hash) (Receipt, error) {
	var out Receipt
	err := m.ledger.Execute(ctx, caller, "session.submit_response", func(tx *ledger.Tx) error {
		if len(attestation) == 0 {
			return ErrEmptyAttestation
		}
		key := sessionKey(sessionID)
		var s Session
		found, err := tx.Get(key, &s)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		if tx.Now() >= s.ExpiresAt {
			return ErrExpired
		}
		if s.User != caller {
			return ErrWrongUser
		}
		if s.Completed {
			return ErrAlreadyCompleted
		}

		module := tx.As(m.module)
		nullifier := NullifierFor(sessionID, entropyHash)
		if err := m.nullifiers.ConsumeTx(module, nullifier); err != nil {
			return err
		}
		attestationHash := AttestationHashFor(sessionID, attestation)
		expiresAt := tx.Now() + m.params.AttestationTTL
		if err := m.attestations.RegisterTx(module, sessionID, attestationHash, expiresAt); err != nil {
			return err
		}
		if err := m.scores.EnsureTx(module, s.User); err != nil {
			return err
		}
		newScore, err := m.scores.UpdateTx(module, s.User, m.params.Reward)
		if err != nil {
			return err
		}

		s.Completed = true
		if err := tx.Set(key, s); err != nil {
			return err
		}
		tx.Emit(events.KindResponseSubmitted, sessionID.Hex(), map[string]string{
			"session_id": sessionID.Hex(),
			"user":       s.User.Hex(),
		})
		out = Receipt{
			SessionID:            sessionID,
			Nullifier:            nullifier,
			AttestationHash:      attestationHash,
			AttestationExpiresAt: expiresAt,
			Score:                newScore,
		}
		return nil
	})
	return out, err
}

// IsSessionActive 判断会话存在、未完成且未过期。
func (m *Manager) IsSessionActive(ctx context.Context, sessionID common.Hash) (bool, error) {
	var active bool
	err := m.ledger.View(ctx, func(r ledger.Reader) error {
		var s Session
		found, err := r.Get(sessionKey(sessionID), &s)
		if err != nil {
			return err
		}
		active = found && s.ActiveAt(r.Now())
		return nil
	})
	return active, err
}

// GetSession 返回完整会话记录，不存在时返回 ErrNotFound。
func (m *Manager) GetSession(ctx context.Context, sessionID common.Hash) (Session, error) {
	var s Session
	err := m.ledger.View(ctx, func(r ledger.Reader) error {
		found, err := r.Get(sessionKey(sessionID), &s)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		return nil
	})
	return s, err
}

func sessionKey(id common.Hash) []byte {
	return ledger.Key(keySpace, id.Bytes())
}
