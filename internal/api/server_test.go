package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"RiftBeacon/internal/auth"
	xerrors "RiftBeacon/internal/errors"
	"RiftBeacon/internal/events"
	"RiftBeacon/internal/ledger"
	"RiftBeacon/internal/observability/metrics"
	"RiftBeacon/internal/protocol"
	"RiftBeacon/internal/session"
	"RiftBeacon/internal/storage/mysql"
	"RiftBeacon/internal/verifier"
	"RiftBeacon/internal/web3"
)

const start = 1_700_000_000

var (
	admin = common.HexToAddress("0xad")
	user  = common.HexToAddress("0x05e2")
	other = common.HexToAddress("0x07e2")
)

// repoPublisher 将提交的事件直接写入仓库。
type repoPublisher struct{ repo *mysql.MemoryEventRepository }

func (p repoPublisher) Publish(ctx context.Context, evt events.Event) error {
	return p.repo.SaveEvent(ctx, evt)
}

func (repoPublisher) Close() error { return nil }

type testEnv struct {
	handler http.Handler
	clock   *web3.ManualClock
	p       *protocol.Protocol
}

func newTestEnv(t *testing.T, opts ...Option) testEnv {
	t.Helper()
	repo, err := mysql.NewMemoryEventRepository("")
	require.NoError(t, err)
	clock := web3.NewManualClock(start)
	led := ledger.NewMemory(clock, ledger.WithPublisher(repoPublisher{repo: repo}))
	policy := auth.NewPolicy()
	policy.Grant(admin, auth.AllCapabilities...)
	p, err := protocol.New(led, policy, protocol.DefaultParams())
	require.NoError(t, err)

	opts = append([]Option{WithEventQuery(repo), WithMetrics(metrics.New())}, opts...)
	srv := NewServer(":0", p, opts...)
	return testEnv{handler: srv.Handler(), clock: clock, p: p}
}

func (e testEnv) do(t *testing.T, method, path string, caller *common.Address, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != nil {
		req.Header.Set(auth.CallerHeader, caller.Hex())
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	out := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestSessionRoundTripOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	u := user

	rec, body := env.do(t, http.MethodPost, "/api/v1/sessions", &u, map[string]any{
		"challenge_hash": common.HexToHash("0xc0ffee").Hex(),
		"duration":       300,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := body["id"].(string)
	require.Equal(t, float64(start+300), body["expires_at"])

	rec, body = env.do(t, http.MethodGet, "/api/v1/sessions/"+id, &u, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["active"])

	rec, body = env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/response", &u, map[string]any{
		"attestation":  "0x6174746573746174696f6e",
		"entropy_hash": common.HexToHash("0xe1").Hex(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, float64(100), body["score"])

	rec, body = env.do(t, http.MethodGet, "/api/v1/scores/"+user.Hex(), &u, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["initialized"])
	require.Equal(t, float64(100), body["score"])

	token := session.NullifierFor(common.HexToHash(id), common.HexToHash("0xe1"))
	rec, body = env.do(t, http.MethodGet, "/api/v1/nullifiers/"+token.Hex(), &u, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["consumed"])

	rec, body = env.do(t, http.MethodGet, "/api/v1/nullifiers/"+common.HexToHash("0x77").Hex(), &u, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, body["consumed"])

	rec, body = env.do(t, http.MethodGet, "/api/v1/events?limit=10", &u, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["events"], 5)

	rec, body = env.do(t, http.MethodGet, "/api/v1/events?subject="+id, &u, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, body["events"])
}

func TestErrorStatusMapping(t *testing.T) {
	env := newTestEnv(t)
	u, o, a := user, other, admin

	_, body := env.do(t, http.MethodPost, "/api/v1/sessions", &u, map[string]any{
		"challenge_hash": common.HexToHash("0x01").Hex(),
		"duration":       60,
	})
	id := body["id"].(string)
	submit := map[string]any{"attestation": "0x01", "entropy_hash": common.HexToHash("0x02").Hex()}

	cases := []struct {
		name   string
		method string
		path   string
		caller *common.Address
		body   any
		status int
		code   string
	}{
		{"invalid duration", http.MethodPost, "/api/v1/sessions", &u, map[string]any{"challenge_hash": common.HexToHash("0x01").Hex(), "duration": 5}, http.StatusBadRequest, "SESSION_INVALID_DURATION"},
		{"malformed body", http.MethodPost, "/api/v1/sessions", &u, map[string]any{"unknown": 1}, http.StatusBadRequest, string(xerrors.CodeInvalidArgument)},
		{"wrong user", http.MethodPost, "/api/v1/sessions/" + id + "/response", &o, submit, http.StatusForbidden, "SESSION_WRONG_USER"},
		{"unknown session", http.MethodGet, "/api/v1/sessions/" + common.HexToHash("0x404").Hex(), &u, nil, http.StatusNotFound, "SESSION_NOT_FOUND"},
		{"missing capability", http.MethodPost, "/api/v1/scores/" + user.Hex() + "/delta", &u, map[string]any{"delta": 5}, http.StatusForbidden, string(xerrors.CodeUnauthorized)},
		{"zero penalty", http.MethodPost, "/api/v1/penalties", &a, map[string]any{"address": user.Hex(), "amount": 0, "reason": "x"}, http.StatusBadRequest, "PENALTY_ZERO_AMOUNT"},
		{"not blacklisted", http.MethodDelete, "/api/v1/blacklist/" + user.Hex(), &a, nil, http.StatusConflict, "PENALTY_NOT_BLACKLISTED"},
		{"batch mismatch", http.MethodPost, "/api/v1/scores/batch", &a, map[string]any{"identities": []string{user.Hex()}, "deltas": []int{}}, http.StatusBadRequest, "BATCH_LENGTH_MISMATCH"},
		{"bad address", http.MethodGet, "/api/v1/scores/0x1234", &u, nil, http.StatusBadRequest, string(xerrors.CodeInvalidArgument)},
		{"unknown attestation", http.MethodGet, "/api/v1/attestations/" + common.HexToHash("0x9").Hex(), &u, nil, http.StatusNotFound, "ATTESTATION_NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := env.do(t, tc.method, tc.path, tc.caller, tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			require.Equal(t, tc.code, body["code"])
		})
	}

	rec, _ := env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/response", &u, submit)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, body = env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/response", &u, submit)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "SESSION_ALREADY_COMPLETED", body["code"])
}

func TestExpiredSessionIsGone(t *testing.T) {
	env := newTestEnv(t)
	u := user
	_, body := env.do(t, http.MethodPost, "/api/v1/sessions", &u, map[string]any{
		"challenge_hash": common.HexToHash("0x01").Hex(),
		"duration":       30,
	})
	env.clock.Advance(30)

	rec, body := env.do(t, http.MethodPost, "/api/v1/sessions/"+body["id"].(string)+"/response", &u, map[string]any{
		"attestation":  "0x01",
		"entropy_hash": common.HexToHash("0x02").Hex(),
	})
	require.Equal(t, http.StatusGone, rec.Code)
	require.Equal(t, "SESSION_EXPIRED", body["code"])
}

func TestPenaltyAndBlacklistRoutes(t *testing.T) {
	env := newTestEnv(t)
	a := admin

	rec, _ := env.do(t, http.MethodPost, "/api/v1/scores", &a, map[string]any{"address": user.Hex(), "initial": 1000})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, body := env.do(t, http.MethodPost, "/api/v1/penalties", &a, map[string]any{"address": user.Hex(), "amount": 1100, "reason": "x"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, true, body["blacklisted"])
	require.Equal(t, float64(1), body["count"])

	rec, body = env.do(t, http.MethodDelete, "/api/v1/blacklist/"+user.Hex(), &a, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, body["blacklisted"])
	require.Equal(t, float64(1), body["count"])
}

func TestAttestationAndProofRoutes(t *testing.T) {
	env := newTestEnv(t)
	a, u := admin, user
	hash := common.HexToHash("0xa7").Hex()

	rec, body := env.do(t, http.MethodPost, "/api/v1/attestations", &a, map[string]any{
		"session_id": common.HexToHash("0x5e").Hex(),
		"hash":       hash,
		"expires_at": start + 100,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, true, body["valid"])

	rec, body = env.do(t, http.MethodDelete, "/api/v1/attestations/"+hash, &a, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, body["valid"])
	rec, _ = env.do(t, http.MethodDelete, "/api/v1/attestations/"+hash, &a, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	commitment := common.HexToHash("0xc0")
	challenge := common.HexToHash("0xc1")
	rec, _ = env.do(t, http.MethodPost, "/api/v1/commitments", &u, map[string]any{"commitment": commitment.Hex()})
	require.Equal(t, http.StatusCreated, rec.Code)

	response := verifier.ComputeResponse(commitment, challenge, nil)
	rec, body = env.do(t, http.MethodPost, "/api/v1/proofs/verify", &u, map[string]any{
		"commitment": commitment.Hex(),
		"challenge":  challenge.Hex(),
		"response":   response.Hex(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, true, body["valid"])
}

func TestJWTModeRequiresBearerToken(t *testing.T) {
	tokens, err := auth.NewTokenManager(auth.JWTOptions{Secret: "test-secret", Issuer: "riftbeacon", Audience: "api", AccessTTL: time.Hour})
	require.NoError(t, err)
	env := newTestEnv(t, WithAuth(auth.MiddlewareConfig{Mode: auth.ModeJWT, Tokens: tokens}))

	rec, _ := env.do(t, http.MethodGet, "/api/v1/scores/"+user.Hex(), nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	token, _, err := tokens.Issue(user, 0)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/scores/"+user.Hex(), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	out := httptest.NewRecorder()
	env.handler.ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code, out.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	u := user
	env.do(t, http.MethodGet, "/api/v1/scores/"+user.Hex(), &u, nil)

	rec, _ := env.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `handler="/api/v1/scores/{address}"`)
}

func TestStatusForCategories(t *testing.T) {
	cases := map[xerrors.Category]int{
		xerrors.CategoryAuthorization: http.StatusForbidden,
		xerrors.CategoryIdentity:      http.StatusForbidden,
		xerrors.CategoryValidation:    http.StatusBadRequest,
		xerrors.CategoryNotFound:      http.StatusNotFound,
		xerrors.CategoryConflict:      http.StatusConflict,
		xerrors.CategoryTemporal:      http.StatusGone,
		xerrors.CategoryInternal:      http.StatusInternalServerError,
	}
	for category, want := range cases {
		require.Equal(t, want, statusFor(category), string(category))
	}
}
