package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const UserIDKey contextKey = "user_id"

// TokenValidator resolves a bearer token to a stable user id.
type TokenValidator interface {
	ValidateToken(tokenStr string) (string, error)
}

// AuthMiddleware validates the identity token and injects the user id
// into the request context. Browser WebSocket clients cannot set
// headers on the upgrade request, so a token query parameter is
// accepted as well.
func AuthMiddleware(tokenSvc TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ""
			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				parts := strings.Split(authHeader, " ")
				if len(parts) != 2 || parts[0] != "Bearer" {
					http.Error(w, "Invalid authorization format", http.StatusUnauthorized)
					return
				}
				token = parts[1]
			} else {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				http.Error(w, "Authorization required", http.StatusUnauthorized)
				return
			}
			userID, err := tokenSvc.ValidateToken(token)
			if err != nil {
				http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
