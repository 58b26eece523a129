package devserver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/hireme/chatsync/internal/identity"
)

type contextKey struct{}

// Verifier checks bearer tokens.
type Verifier interface {
	Verify(token string) (identity.Principal, error)
}

// principalFrom returns the caller set by requireAuth.
func principalFrom(ctx context.Context) (identity.Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(identity.Principal)
	return p, ok
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// requireAuth rejects requests without a valid bearer token and puts the
// token's principal on the request context.
func requireAuth(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "Missing authentication token")
				return
			}
			p, err := v.Verify(token)
			if err != nil {
				msg := "Invalid token"
				if errors.Is(err, identity.ErrTokenExpired) {
					msg = "Token expired"
				}
				writeError(w, http.StatusUnauthorized, msg)
				return
			}
			ctx := context.WithValue(r.Context(), contextKey{}, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
