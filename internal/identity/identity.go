// Package identity supplies the authenticated principal and short-lived
// bearer tokens to the messaging core.
package identity

import (
	"context"
	"errors"
)

// ErrNotAuthenticated is returned when no principal is signed in.
var ErrNotAuthenticated = errors.New("not authenticated")

// ErrTokenExpired is returned by sources that cannot mint a replacement.
var ErrTokenExpired = errors.New("token expired")

// Principal is the signed-in user.
type Principal struct {
	UserID      string
	DisplayName string
}

// Source is the identity service contract. Token is called before every
// authenticated request and before opening the realtime channel.
type Source interface {
	Current() (Principal, bool)
	Token(ctx context.Context, forceRefresh bool) (string, error)
}
