// Package riftbeacon is a Go client for the RiftBeacon REST API.
package riftbeacon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// CallerHeader identifies the caller when the server runs with auth disabled.
const CallerHeader = "X-Caller-Address"

// Client wraps the HTTP interactions with the RiftBeacon API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	retry      RetryPolicy

	mu          sync.RWMutex
	accessToken string
	caller      *common.Address
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRetry sets the retry policy for retryable failures.
func WithRetry(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithAccessToken sets the bearer token sent with every request.
func WithAccessToken(token string) Option {
	return func(c *Client) { c.accessToken = token }
}

// WithCaller sends addr in the caller header, for servers with auth disabled.
func WithCaller(addr common.Address) Option {
	return func(c *Client) { c.caller = &addr }
}

// NewClient instantiates a client for the API rooted at rawURL.
func NewClient(rawURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	c := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
		retry:      DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken overrides the stored access token.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// Session mirrors a liveness session.
type Session struct {
	ID            common.Hash    `json:"id"`
	User          common.Address `json:"user"`
	ChallengeHash common.Hash    `json:"challenge_hash"`
	IssuedAt      uint64         `json:"issued_at"`
	ExpiresAt     uint64         `json:"expires_at"`
	Completed     bool           `json:"completed"`
	Active        bool           `json:"active"`
}

// Receipt is returned by a successful response submission.
type Receipt struct {
	SessionID            common.Hash `json:"session_id"`
	Nullifier            common.Hash `json:"nullifier"`
	AttestationHash      common.Hash `json:"attestation_hash"`
	AttestationExpiresAt uint64      `json:"attestation_expires_at"`
	Score                uint64      `json:"score"`
}

// Score is the liveness score of an address.
type Score struct {
	Address      common.Address `json:"address"`
	Initialized  bool           `json:"initialized"`
	Score        uint64         `json:"score"`
	LastActivity uint64         `json:"last_activity"`
}

// Penalty is the penalty state of an address.
type Penalty struct {
	Address          common.Address `json:"address"`
	Blacklisted      bool           `json:"blacklisted"`
	Count            uint64         `json:"count"`
	LastPenaltyTime  uint64         `json:"last_penalty_time"`
	BlacklistedUntil uint64         `json:"blacklisted_until"`
	Reason           string         `json:"reason"`
}

// Event is an indexed protocol event.
type Event struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	Height     uint64            `json:"height"`
	Index      int               `json:"index"`
	Timestamp  uint64            `json:"timestamp"`
	Sender     string            `json:"sender"`
	Subject    string            `json:"subject"`
	Operation  string            `json:"operation"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// StartChallenge opens a session for the caller.
func (c *Client) StartChallenge(ctx context.Context, challengeHash common.Hash, duration uint64) (Session, error) {
	var s Session
	err := c.call(ctx, http.MethodPost, "/api/v1/sessions", map[string]any{
		"challenge_hash": challengeHash,
		"duration":       duration,
	}, &s)
	return s, err
}

// GetSession fetches a session and whether it is still active.
func (c *Client) GetSession(ctx context.Context, id common.Hash) (Session, error) {
	var s Session
	err := c.call(ctx, http.MethodGet, "/api/v1/sessions/"+id.Hex(), nil, &s)
	return s, err
}

// SubmitResponse answers an open session.
func (c *Client) SubmitResponse(ctx context.Context, id common.Hash, attestation []byte, entropyHash common.Hash) (Receipt, error) {
	var r Receipt
	err := c.call(ctx, http.MethodPost, "/api/v1/sessions/"+id.Hex()+"/response", map[string]any{
		"attestation":  hexutil.Bytes(attestation),
		"entropy_hash": entropyHash,
	}, &r)
	return r, err
}

// GetScore returns the score of addr.
func (c *Client) GetScore(ctx context.Context, addr common.Address) (Score, error) {
	var s Score
	err := c.call(ctx, http.MethodGet, "/api/v1/scores/"+addr.Hex(), nil, &s)
	return s, err
}

// GetPenalty returns the penalty state of addr.
func (c *Client) GetPenalty(ctx context.Context, addr common.Address) (Penalty, error) {
	var p Penalty
	err := c.call(ctx, http.MethodGet, "/api/v1/penalties/"+addr.Hex(), nil, &p)
	return p, err
}

// IsNullifierConsumed reports whether token has been spent.
func (c *Client) IsNullifierConsumed(ctx context.Context, token common.Hash) (bool, error) {
	var out struct {
		Consumed bool `json:"consumed"`
	}
	err := c.call(ctx, http.MethodGet, "/api/v1/nullifiers/"+token.Hex(), nil, &out)
	return out.Consumed, err
}

// ListEvents returns recent events, optionally filtered by subject.
func (c *Client) ListEvents(ctx context.Context, subject string, limit int) ([]Event, error) {
	q := url.Values{}
	if subject != "" {
		q.Set("subject", subject)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := "/api/v1/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var out struct {
		Events []Event `json:"events"`
	}
	err := c.call(ctx, http.MethodGet, endpoint, nil, &out)
	return out.Events, err
}

// Prove runs a full liveness round: start a challenge, build an attestation
// and submit it with fresh entropy.
func (c *Client) Prove(ctx context.Context, user common.Address, duration uint64) (Receipt, error) {
	challenge, err := NewChallengeHash()
	if err != nil {
		return Receipt{}, err
	}
	sess, err := c.StartChallenge(ctx, challenge, duration)
	if err != nil {
		return Receipt{}, err
	}
	entropy, err := NewEntropyHash()
	if err != nil {
		return Receipt{}, err
	}
	return c.SubmitResponse(ctx, sess.ID, BuildAttestation(sess.ID, user, time.Now()), entropy)
}

func (c *Client) call(ctx context.Context, method, endpoint string, payload, out any) error {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = encoded
	}
	return c.retry.Do(ctx, func() error {
		req, err := c.newRequest(ctx, method, endpoint, body)
		if err != nil {
			return err
		}
		return c.do(req, out)
	})
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body []byte) (*http.Request, error) {
	rel, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	rel.Path = path.Join(c.baseURL.Path, rel.Path)
	u := c.baseURL.ResolveReference(rel)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.RLock()
	token, caller := c.accessToken, c.caller
	c.mu.RUnlock()
	switch {
	case token != "":
		req.Header.Set("Authorization", "Bearer "+token)
	case caller != nil:
		req.Header.Set(CallerHeader, caller.Hex())
	default:
		return nil, errors.New("riftbeacon: neither access token nor caller is set")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type transportError struct{ err error }

func (e *transportError) Error() string { return "perform request: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }
