package identity

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hireme/chatsync/internal/clock"
)

// StaticSource serves a pre-issued token. The principal is read from the
// token without verifying it; the server verifies.
type StaticSource struct {
	token     string
	principal Principal
	claims    *Claims
	clock     clock.Clock
}

// NewStaticSource parses token for its subject.
func NewStaticSource(token string, clk clock.Clock) (*StaticSource, error) {
	if clk == nil {
		clk = clock.Real()
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("parse token: missing subject")
	}
	return &StaticSource{
		token:     token,
		principal: Principal{UserID: claims.Subject, DisplayName: claims.Name},
		claims:    claims,
		clock:     clk,
	}, nil
}

// Current returns the token's principal.
func (s *StaticSource) Current() (Principal, bool) {
	return s.principal, true
}

// Token returns the static token, or ErrTokenExpired once it has expired.
// A static token cannot be refreshed.
func (s *StaticSource) Token(ctx context.Context, _ bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.claims.ExpiresAt != nil && !s.clock.Now().Before(s.claims.ExpiresAt.Time) {
		return "", ErrTokenExpired
	}
	return s.token, nil
}
