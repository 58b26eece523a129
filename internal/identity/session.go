package identity

import (
	"context"
	"sync"
	"time"

	"github.com/hireme/chatsync/internal/clock"
)

// refreshSkew is how long before expiry a cached token is replaced.
const refreshSkew = 30 * time.Second

// Session is a Source backed by an Issuer. It caches the current token
// and mints a new one near expiry or on forced refresh.
type Session struct {
	issuer *Issuer
	clock  clock.Clock

	mu        sync.Mutex
	principal *Principal
	token     string
	expires   time.Time
}

// NewSession returns a signed-out session.
func NewSession(issuer *Issuer, clk clock.Clock) *Session {
	if clk == nil {
		clk = clock.Real()
	}
	return &Session{issuer: issuer, clock: clk}
}

// SignIn sets the principal and drops any cached token.
func (s *Session) SignIn(p Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principal = &p
	s.token = ""
	s.expires = time.Time{}
}

// SignOut clears the principal.
func (s *Session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principal = nil
	s.token = ""
}

// Current returns the signed-in principal.
func (s *Session) Current() (Principal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.principal == nil {
		return Principal{}, false
	}
	return *s.principal, true
}

// Token returns the cached token, minting a new one when forced, missing
// or within refreshSkew of expiry.
func (s *Session) Token(ctx context.Context, forceRefresh bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.principal == nil {
		return "", ErrNotAuthenticated
	}
	if !forceRefresh && s.token != "" && s.clock.Now().Add(refreshSkew).Before(s.expires) {
		return s.token, nil
	}
	token, exp, err := s.issuer.Mint(*s.principal)
	if err != nil {
		return "", err
	}
	s.token = token
	s.expires = exp
	return token, nil
}
