package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/dmitrymomot/fitcore/handler"
)

type ctxKey struct{}

// WithAccount stores the authenticated account on the context.
func WithAccount(ctx context.Context, account Account) context.Context {
	return context.WithValue(ctx, ctxKey{}, account)
}

// AccountFromContext returns the authenticated account, if any.
func AccountFromContext(ctx context.Context) (Account, bool) {
	account, ok := ctx.Value(ctxKey{}).(Account)
	return account, ok
}

// Middleware requires a valid bearer token and injects the live account
// into the request context.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			handler.JSONError(w, handler.ErrUnauthorized)
			return
		}

		account, err := s.Authenticate(r.Context(), token)
		if err != nil {
			handler.JSONError(w, handler.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
	})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return header[len(prefix):]
}
