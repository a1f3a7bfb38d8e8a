package attestation

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"RiftBeacon/internal/auth"
	"RiftBeacon/internal/events"
	"RiftBeacon/internal/ledger"
)

const keySpace = "attestation"

// Registry 登记带有过期与撤销语义的证明。
type Registry struct {
	ledger *ledger.Ledger
	auth   auth.Authorizer
}

// NewRegistry 构造 Registry。
func NewRegistry(led *ledger.Ledger, authorizer auth.Authorizer) *Registry {
	return &Registry{ledger: led, auth: authorizer}
}

// Register 登记一条证明，需要 registrar 能力。
func (r *Registry) Register(ctx context.Context, caller common.Address, sessionID, hash common.Hash, expiresAt uint64) error {
	return r.ledger.Execute(ctx, caller, "attestation.register", func(tx *ledger.Tx) error {
		return r.RegisterTx(tx, sessionID, hash, expiresAt)
	})
}

// RegisterTx 在已有事务中登记证明。
func (r *Registry) RegisterTx(tx *ledger.Tx, sessionID, hash common.Hash, expiresAt uint64) error {
	if err := r.auth.Authorize(tx.Context(), tx.Sender(), auth.CapabilityRegistrar); err != nil {
		return err
	}
	if expiresAt <= tx.Now() {
		return ErrPastExpiry
	}
	key := hashKey(hash)
	exists, err := tx.Has(key)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyRegistered
	}
	rec := Record{SessionID: sessionID, RegisteredAt: tx.Now(), ExpiresAt: expiresAt}
	if err := tx.Set(key, rec); err != nil {
		return err
	}
	tx.Emit(events.KindAttestationRegistered, hash.Hex(), map[string]string{
		"session_id": sessionID.Hex(),
		"hash":       hash.Hex(),
		"expires_at": ledger.FormatUint(expiresAt),
	})
	return nil
}

// Revoke 撤销证明，需要 registrar 能力。已撤销的证明再次撤销会返回 ErrAlreadyRevoked。
func (r *Registry) Revoke(ctx context.Context, caller common.Address, hash common.Hash) error {
	return r.ledger.Execute(ctx, caller, "attestation.revoke", func(tx *ledger.Tx) error {
		if err := r.auth.Authorize(tx.Context(), tx.Sender(), auth.CapabilityRegistrar); err != nil {
			return err
		}
		key := hashKey(hash)
		var rec Record
		found, err := tx.Get(key, &rec)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		if rec.Revoked {
			return ErrAlreadyRevoked
		}
		rec.Revoked = true
		if err := tx.Set(key, rec); err != nil {
			return err
		}
		tx.Emit(events.KindAttestationRevoked, hash.Hex(), map[string]string{
			"hash": hash.Hex(),
		})
		return nil
	})
}

// IsValid 判断证明存在、未撤销且未过期。
func (r *Registry) IsValid(ctx context.Context, hash common.Hash) (bool, error) {
	var valid bool
	err := r.ledger.View(ctx, func(view ledger.Reader) error {
		var rec Record
		found, err := view.Get(hashKey(hash), &rec)
		if err != nil {
			return err
		}
		valid = found && rec.ValidAt(view.Now())
		return nil
	})
	return valid, err
}

// Get 返回完整记录。
func (r *Registry) Get(ctx context.Context, hash common.Hash) (Record, bool, error) {
	var (
		rec   Record
		found bool
	)
	err := r.ledger.View(ctx, func(view ledger.Reader) error {
		var err error
		found, err = view.Get(hashKey(hash), &rec)
		return err
	})
	return rec, found, err
}

func hashKey(hash common.Hash) []byte {
	return ledger.Key(keySpace, hash.Bytes())
}
