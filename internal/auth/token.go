package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
)

// Common errors returned by the token layer.
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Mode enumerates the supported API authentication modes.
type Mode string

const (
	// ModeDisabled trusts the X-Caller-Address header. Development only.
	ModeDisabled Mode = "disabled"
	ModeJWT      Mode = "jwt"
)

// JWTOptions contains parameters for local JWT issuance.
type JWTOptions struct {
	Secret    string
	Issuer    string
	Audience  string
	AccessTTL time.Duration
	Leeway    time.Duration
}

// Claims are embedded in API access tokens. The subject is the caller address.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenManager issues and verifies HS256 access tokens.
type TokenManager struct {
	secret []byte
	opts   JWTOptions
	now    func() time.Time
}

// NewTokenManager validates options and returns a manager.
func NewTokenManager(opts JWTOptions) (*TokenManager, error) {
	if strings.TrimSpace(opts.Secret) == "" {
		return nil, errors.New("jwt secret must be configured")
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = time.Hour
	}
	return &TokenManager{secret: []byte(opts.Secret), opts: opts, now: time.Now}, nil
}

// Issue signs a token for caller valid for ttl (the configured default when
// ttl is zero).
func (m *TokenManager) Issue(caller common.Address, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = m.opts.AccessTTL
	}
	now := m.now()
	expires := now.Add(ttl)
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   caller.Hex(),
		Issuer:    m.opts.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}}
	if m.opts.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.opts.Audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify parses a token and returns the caller address it was issued for.
func (m *TokenManager) Verify(token string) (common.Address, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithExpirationRequired(),
	}
	if m.opts.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.opts.Leeway))
	}
	if m.opts.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.opts.Issuer))
	}
	if m.opts.Audience != "" {
		options = append(options, jwt.WithAudience(m.opts.Audience))
	}

	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return common.Address{}, ErrInvalidToken
	}
	if !common.IsHexAddress(claims.Subject) {
		return common.Address{}, fmt.Errorf("%w: subject is not an address", ErrInvalidToken)
	}
	return common.HexToAddress(claims.Subject), nil
}

// bearerToken extracts the token from an Authorization header value.
func bearerToken(header string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
