// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Unirate Contributors

package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/unirate/unirate/internal/auth"
)

type contextKey struct{ name string }

// identityKey carries the verified identity through the request context.
var identityKey = &contextKey{"identity"}

// IdentityFromContext returns the verified identity attached by RequireAuth.
func IdentityFromContext(ctx context.Context) (*auth.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*auth.Identity)
	return identity, ok
}

// BearerToken extracts the token from an Authorization: Bearer header value.
// Returns "" when the header is absent or not a bearer scheme.
func BearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return header[len(prefix):]
	}
	return ""
}

// RequireAuth verifies the bearer access token on each request and attaches
// the identity to the context. Verification is a pure function of the header
// value plus current user state; expired and invalid tokens both get 401 so
// clients know to attempt a refresh.
func (s *Server) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		identity, err := s.sessions.Verify(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrTokenExpired):
				writeError(w, http.StatusUnauthorized, "token expired")
			case errors.Is(err, auth.ErrTokenMalformed), errors.Is(err, auth.ErrUserNotFound):
				writeError(w, http.StatusUnauthorized, "invalid token")
			default:
				writeError(w, http.StatusInternalServerError, "verification failed")
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
	})
}
