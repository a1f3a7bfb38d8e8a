package nullifier

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"RiftBeacon/internal/auth"
	"RiftBeacon/internal/events"
	xerrors "RiftBeacon/internal/errors"
	"RiftBeacon/internal/ledger"
	"RiftBeacon/internal/web3"
)

var (
	consumer = common.HexToAddress("0xc0")
	stranger = common.HexToAddress("0x5e")
)

func newStore() (*Store, *events.Recorder) {
	rec := events.NewRecorder()
	led := ledger.NewMemory(web3.NewManualClock(1_000), ledger.WithPublisher(rec))
	policy := auth.NewPolicy()
	policy.Grant(consumer, auth.CapabilityConsumer)
	return NewStore(led, policy), rec
}

func TestConsume(t *testing.T) {
	ctx := context.Background()
	store, rec := newStore()
	token := common.HexToHash("0x1234")

	require.NoError(t, store.Consume(ctx, consumer, token))

	consumed, err := store.IsConsumed(ctx, token)
	require.NoError(t, err)
	require.True(t, consumed)

	who, ok, err := store.ConsumerOf(ctx, token)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, consumer, who)

	record, _, err := store.Get(ctx, token)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), record.ConsumedAt)

	emitted := rec.Events()
	require.Len(t, emitted, 1)
	require.Equal(t, events.KindNullifierConsumed, emitted[0].Kind)
	require.Equal(t, token.Hex(), emitted[0].Attr("token"))
	require.Equal(t, consumer.Hex(), emitted[0].Attr("consumer"))
}

func TestConsumeFailures(t *testing.T) {
	ctx := context.Background()
	store, rec := newStore()
	token := common.HexToHash("0xbeef")

	cases := []struct {
		name     string
		caller   common.Address
		token    common.Hash
		setup    bool
		want     error
		category xerrors.Category
	}{
		{name: "zero token", caller: consumer, token: common.Hash{}, want: ErrInvalidToken, category: xerrors.CategoryValidation},
		{name: "missing capability", caller: stranger, token: token, want: auth.ErrUnauthorized, category: xerrors.CategoryAuthorization},
		{name: "replay", caller: consumer, token: token, setup: true, want: ErrAlreadyConsumed, category: xerrors.CategoryConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setup {
				require.NoError(t, store.Consume(ctx, consumer, tc.token))
				rec.Reset()
			}
			err := store.Consume(ctx, tc.caller, tc.token)
			require.True(t, errors.Is(err, tc.want), "got %v", err)
			require.Equal(t, tc.category, xerrors.CategoryOf(err))
			require.Empty(t, rec.Events())
		})
	}

	_, ok, err := store.ConsumerOf(ctx, common.HexToHash("0x99"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestConsumeAtMostOnceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		store, _ := newStore()
		raw := rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "token").([]byte)
		token := common.BytesToHash(raw)
		attempts := rapid.IntRange(1, 5).Draw(t, "attempts").(int)

		successes := 0
		for i := 0; i < attempts; i++ {
			err := store.Consume(ctx, consumer, token)
			switch {
			case err == nil:
				successes++
			case token == (common.Hash{}):
				if !errors.Is(err, ErrInvalidToken) {
					t.Fatalf("zero token should fail validation, got %v", err)
				}
			case !errors.Is(err, ErrAlreadyConsumed):
				t.Fatalf("unexpected error %v", err)
			}
		}
		if token == (common.Hash{}) {
			if successes != 0 {
				t.Fatalf("zero token consumed")
			}
			return
		}
		if successes != 1 {
			t.Fatalf("expected exactly one success, got %d", successes)
		}
	})
}
