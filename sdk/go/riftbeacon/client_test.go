package riftbeacon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"RiftBeacon/internal/api"
	"RiftBeacon/internal/auth"
	"RiftBeacon/internal/ledger"
	"RiftBeacon/internal/protocol"
	"RiftBeacon/internal/web3"
)

var user = common.HexToAddress("0x00000000000000000000000000000000000005e2")

func newProtocolServer(t *testing.T) (*httptest.Server, *web3.ManualClock) {
	t.Helper()
	clock := web3.NewManualClock(1_700_000_000)
	p, err := protocol.New(ledger.NewMemory(clock), auth.NewPolicy(), protocol.DefaultParams())
	require.NoError(t, err)
	srv := httptest.NewServer(api.NewServer(":0", p).Handler())
	t.Cleanup(srv.Close)
	return srv, clock
}

func TestProveAgainstServer(t *testing.T) {
	srv, _ := newProtocolServer(t)
	client, err := NewClient(srv.URL, WithCaller(user), WithRetry(NoRetry()))
	require.NoError(t, err)
	ctx := context.Background()

	receipt, err := client.Prove(ctx, user, 300)
	require.NoError(t, err)
	require.Equal(t, uint64(100), receipt.Score)

	sess, err := client.GetSession(ctx, receipt.SessionID)
	require.NoError(t, err)
	require.True(t, sess.Completed)
	require.False(t, sess.Active)

	_, err = client.SubmitResponse(ctx, receipt.SessionID, []byte{0x01}, common.HexToHash("0x01"))
	require.True(t, IsAlreadyCompleted(err), "got %v", err)

	consumed, err := client.IsNullifierConsumed(ctx, receipt.Nullifier)
	require.NoError(t, err)
	require.True(t, consumed)

	score, err := client.GetScore(ctx, user)
	require.NoError(t, err)
	require.True(t, score.Initialized)
	require.Equal(t, uint64(100), score.Score)
}

func TestExpiredSessionHelper(t *testing.T) {
	srv, clock := newProtocolServer(t)
	client, err := NewClient(srv.URL, WithCaller(user), WithRetry(NoRetry()))
	require.NoError(t, err)
	ctx := context.Background()

	challenge, err := NewChallengeHash()
	require.NoError(t, err)
	sess, err := client.StartChallenge(ctx, challenge, 60)
	require.NoError(t, err)
	require.True(t, sess.Active)

	clock.Advance(61)
	_, err = client.SubmitResponse(ctx, sess.ID, BuildAttestation(sess.ID, user, time.Now()), common.HexToHash("0x02"))
	require.True(t, IsSessionExpired(err), "got %v", err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusGone, apiErr.StatusCode)
}

func TestBearerTokenIsSent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer abc123", r.Header.Get("Authorization"))
		require.Empty(t, r.Header.Get(CallerHeader))
		_ = json.NewEncoder(w).Encode(Penalty{Address: user, Count: 2})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, WithAccessToken("abc123"), WithCaller(user))
	require.NoError(t, err)
	p, err := client.GetPenalty(context.Background(), user)
	require.NoError(t, err)
	require.Equal(t, uint64(2), p.Count)
}

func TestMissingIdentityFailsBeforeRequest(t *testing.T) {
	client, err := NewClient("http://127.0.0.1:1")
	require.NoError(t, err)
	_, err = client.GetScore(context.Background(), user)
	require.Error(t, err)
}

func TestRetryableFailuresAreRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(APIError{Code: "STORAGE_FAILURE", Message: "storage failure", Retryable: true})
			return
		}
		_ = json.NewEncoder(w).Encode(Score{Address: user, Initialized: true, Score: 7})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, WithCaller(user), WithRetry(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}))
	require.NoError(t, err)
	score, err := client.GetScore(context.Background(), user)
	require.NoError(t, err)
	require.Equal(t, uint64(7), score.Score)
	require.Equal(t, int32(3), calls.Load())
}

func TestPermanentFailuresAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(APIError{Code: CodeUnauthorized, Message: "caller lacks the required capability"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, WithCaller(user), WithRetry(RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}))
	require.NoError(t, err)
	_, err = client.GetScore(context.Background(), user)
	require.True(t, IsUnauthorized(err))
	require.Equal(t, int32(1), calls.Load())
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 10, BaseDelay: time.Hour}
	attempts := 0
	err := policy.Do(ctx, func() error {
		attempts++
		cancel()
		return &APIError{StatusCode: http.StatusServiceUnavailable}
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, attempts)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := RetryPolicy{BaseDelay: time.Second, MaxDelay: 5 * time.Second}.newBackOff()
	require.Equal(t, time.Second, b.NextBackOff())
	require.Equal(t, 2*time.Second, b.NextBackOff())
	require.Equal(t, 4*time.Second, b.NextBackOff())
	require.Equal(t, 5*time.Second, b.NextBackOff())
	require.Equal(t, 5*time.Second, b.NextBackOff())
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	attempts := 0
	unavailable := &APIError{StatusCode: http.StatusServiceUnavailable}
	err := policy.Do(context.Background(), func() error {
		attempts++
		return unavailable
	})
	require.ErrorIs(t, err, unavailable)
	require.Equal(t, 4, attempts)
}

func TestProofResponseMatchesServerHash(t *testing.T) {
	commitment := common.HexToHash("0xc0")
	challenge := common.HexToHash("0xc1")
	input := common.HexToHash("0x01")
	require.Equal(t, web3.KeccakHashes(commitment, challenge, input), ProofResponse(commitment, challenge, input))
}

func TestBuildAttestationLayout(t *testing.T) {
	id := common.HexToHash("0xaa")
	att := BuildAttestation(id, user, time.UnixMilli(1234))
	require.Len(t, att, 84)
	require.Equal(t, id.Bytes(), att[:32])
	require.Equal(t, user.Bytes(), att[32:52])
	require.Equal(t, byte(0xd2), att[83])
}
