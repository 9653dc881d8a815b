package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType is the OAuth2 token type reported to clients.
const TokenType = "bearer"

var (
	// ErrInvalidToken indicates a malformed token, bad signature or missing subject.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired indicates the token's expiry has passed.
	ErrTokenExpired = errors.New("token expired")
)

// TokenIssuer signs and verifies stateless HS256 bearer tokens.
// There is no revocation list: expiry is the only lifecycle bound.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption configures a TokenIssuer.
type TokenOption func(*TokenIssuer)

// WithTokenClock overrides the clock used for issuing and validating tokens.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(t *TokenIssuer) { t.now = now }
}

// NewTokenIssuer creates a TokenIssuer. The secret must be stable across
// process restarts for issued tokens to stay valid.
func NewTokenIssuer(secret []byte, ttl time.Duration, opts ...TokenOption) *TokenIssuer {
	t := &TokenIssuer{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TTL returns the validity window of issued tokens.
func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}

// Issue signs a token for subject. The returned expiry is the exact
// instant from which the token is rejected.
func (t *TokenIssuer) Issue(subject string) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, errors.New("token subject is empty")
	}

	now := t.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(t.ttl)

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	return signed, expiresAt, nil
}

// Parse verifies the signature and expiry of a token and returns its subject.
// A token is accepted strictly before its expiry and rejected from then on.
func (t *TokenIssuer) Parse(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", ErrInvalidToken
	}

	return claims.Subject, nil
}
