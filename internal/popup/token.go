package popup

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "skyprovider/popup"

// TokenClaims binds a popup token to the handle, host session and popup kind it was issued for.
type TokenClaims struct {
	HandleID string `json:"hid"`
	Session  string `json:"sid"`
	Kind     Kind   `json:"knd"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies popup tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer. A non-positive ttl defaults to 30 minutes.
func NewTokenIssuer(secret string, ttl time.Duration, now func() time.Time) (*TokenIssuer, error) {
	if len(secret) < 16 {
		return nil, errors.New("popup token: secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: now}, nil
}

// TTL returns how long issued tokens stay valid.
func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}

// Issue signs a token for the handle.
func (t *TokenIssuer) Issue(handleID, session string, kind Kind) (string, error) {
	now := t.now().UTC()
	claims := TokenClaims{
		HandleID: handleID,
		Session:  session,
		Kind:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			ID:        handleID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("popup token: sign: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns its claims.
func (t *TokenIssuer) Parse(token string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(tok *jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken.WithInternal(err)
	}
	if claims.HandleID == "" || !claims.Kind.Valid() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
