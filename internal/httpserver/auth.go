// apps/go-server/internal/httpserver/auth.go
//
// Request identity.
// Notes:
//   - Tokens are HS256 JWTs carrying the user id in the "id" claim.
//   - Read from the Authorization header, the ?token= query param used by
//     websocket clients, or the auth cookie.
//   - A verified caller gets a users row on first sight.

package httpserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// cookieName is the auth cookie read as a fallback to the Authorization header.
const cookieName = "wordgrid_token"

// ctxUserKey is the context key type for the caller's user id.
type ctxUserKey struct{}

// userID returns the authenticated caller, set by requireAuth.
func userID(r *http.Request) string {
	id, _ := r.Context().Value(ctxUserKey{}).(string)
	return id
}

// requireAuth enforces a valid HS256 JWT whose "id" claim names the user,
// makes sure the user row exists, and injects the id into the request context.
func (s *Server) requireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := bearerOrCookie(r)
			if tokenStr == "" {
				writeJSON(w, http.StatusUnauthorized, apiError{Code: "unauthorized", Message: "missing token"})
				return
			}
			id, err := s.verify(tokenStr)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, apiError{Code: "invalid_token", Message: "invalid token"})
				return
			}
			if err := s.records.EnsureUser(r.Context(), id); err != nil {
				s.log.Error().Err(err).Str("user", id).Msg("ensure user")
				writeError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), ctxUserKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// verify parses tokenStr and returns its "id" claim.
func (s *Server) verify(tokenStr string) (string, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", jwt.ErrTokenInvalidClaims
	}
	id, _ := claims["id"].(string)
	if id == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	return id, nil
}

// bearerOrCookie extracts a token from the Authorization header, the "token"
// query parameter (browsers cannot set headers on websocket upgrades), or the
// auth cookie.
func bearerOrCookie(r *http.Request) string {
	// Authorization: Bearer <token>
	if a := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(a), "bearer ") {
		return strings.TrimSpace(a[7:])
	}
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value
	}
	return ""
}
