package nullifier

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"RiftBeacon/internal/auth"
	"RiftBeacon/internal/events"
	"RiftBeacon/internal/ledger"
)

const keySpace = "nullifier"

// Store 记录一次性令牌，阻止重放。
type Store struct {
	ledger *ledger.Ledger
	auth   auth.Authorizer
}

// NewStore 构造 Store。
func NewStore(led *ledger.Ledger, authorizer auth.Authorizer) *Store {
	return &Store{ledger: led, auth: authorizer}
}

// Consume 以 caller 身份消费 token，需要 consumer 能力。
func (s *Store) Consume(ctx context.Context, caller common.Address, token common.Hash) error {
	return s.ledger.Execute(ctx, caller, "nullifier.consume", func(tx *ledger.Tx) error {
		return s.ConsumeTx(tx, token)
	})
}

// ConsumeTx 在已有事务中消费 token，调用者为 tx.Sender()。
func (s *Store) ConsumeTx(tx *ledger.Tx, token common.Hash) error {
	if err := s.auth.Authorize(tx.Context(), tx.Sender(), auth.CapabilityConsumer); err != nil {
		return err
	}
	if token == (common.Hash{}) {
		return ErrInvalidToken
	}
	key := tokenKey(token)
	exists, err := tx.Has(key)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyConsumed
	}
	if err := tx.Set(key, Record{Consumer: tx.Sender(), ConsumedAt: tx.Now()}); err != nil {
		return err
	}
	tx.Emit(events.KindNullifierConsumed, token.Hex(), map[string]string{
		"token":    token.Hex(),
		"consumer": tx.Sender().Hex(),
	})
	return nil
}

// IsConsumed 判断 token 是否已被消费。
func (s *Store) IsConsumed(ctx context.Context, token common.Hash) (bool, error) {
	_, ok, err := s.Get(ctx, token)
	return ok, err
}

// ConsumerOf 返回消费 token 的身份。
func (s *Store) ConsumerOf(ctx context.Context, token common.Hash) (common.Address, bool, error) {
	rec, ok, err := s.Get(ctx, token)
	return rec.Consumer, ok, err
}

// Get 返回完整的消费记录。
func (s *Store) Get(ctx context.Context, token common.Hash) (Record, bool, error) {
	var (
		rec   Record
		found bool
	)
	err := s.ledger.View(ctx, func(r ledger.Reader) error {
		var err error
		found, err = r.Get(tokenKey(token), &rec)
		return err
	})
	return rec, found, err
}

func tokenKey(token common.Hash) []byte {
	return ledger.Key(keySpace, token.Bytes())
}
