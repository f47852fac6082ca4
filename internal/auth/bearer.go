package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// ErrInvalidBearer indicates a bearer token failed validation.
var ErrInvalidBearer = errors.New("auth: invalid bearer token")

// BearerVerifier validates the HS256 bearer tokens used by API clients.
// This is the header-based path the bearer sentinel cookie defers to: the
// session cookie machinery never sees these tokens.
type BearerVerifier struct {
	secret []byte
	issuer string
}

// NewBearerVerifier configures verification against a shared secret.
func NewBearerVerifier(secret, issuer string) (*BearerVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: bearer secret is required")
	}
	return &BearerVerifier{secret: []byte(secret), issuer: issuer}, nil
}

// IssueBearer signs a bearer token for a user id. Primarily used by tests
// and provisioning tooling; interactive sessions use the cookie token.
func (v *BearerVerifier) IssueBearer(userID ulid.ULID, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", errors.New("auth: ttl must be greater than zero")
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    v.issuer,
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify checks the signature and claims and returns the subject user id.
func (v *BearerVerifier) Verify(raw string) (ulid.ULID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ulid.ULID{}, ErrInvalidBearer
	}
	parsed, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidBearer
		}
		return v.secret, nil
	})
	if err != nil {
		return ulid.ULID{}, ErrInvalidBearer
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return ulid.ULID{}, ErrInvalidBearer
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return ulid.ULID{}, ErrInvalidBearer
	}
	userID, err := ulid.ParseStrict(claims.Subject)
	if err != nil {
		return ulid.ULID{}, ErrInvalidBearer
	}
	return userID, nil
}
