package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hireme/chatsync/internal/clock"
)

const issuerName = "chatsync"

// Claims are the token claims. Subject carries the user id.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Issuer mints and verifies HS256 tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

// NewIssuer returns an issuer. A nil clock uses the real clock.
func NewIssuer(secret string, ttl time.Duration, clk clock.Clock) *Issuer {
	if clk == nil {
		clk = clock.Real()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, clock: clk}
}

// Mint issues a token for p and returns it with its expiry.
func (i *Issuer) Mint(p Principal) (string, time.Time, error) {
	if p.UserID == "" {
		return "", time.Time{}, ErrNotAuthenticated
	}
	now := i.clock.Now()
	exp := now.Add(i.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Name: p.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerName,
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	ss, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return ss, exp, nil
}

// Verify checks signature, issuer and expiry and returns the principal.
func (i *Issuer) Verify(tokenString string) (Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuerName),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, ErrTokenExpired
		}
		return Principal{}, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return Principal{}, errors.New("invalid token: missing subject")
	}
	return Principal{UserID: claims.Subject, DisplayName: claims.Name}, nil
}
