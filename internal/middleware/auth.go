// Package middleware hosts authentication, logging, and rate limiting middleware.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"ecycle/internal/domain"
)

// contextKey avoids collisions when storing values in request contexts.
type contextKey string

const ctxActorKey contextKey = "acting_user"

// AuthMiddleware validates bearer JWTs issued by the identity
// collaborator and injects the acting user into the context. The token
// carries identity and role; the lifecycle engine re-validates the role
// against the transition policy on every request.
type AuthMiddleware struct {
	jwtSecret string
}

// NewAuthMiddleware constructs an AuthMiddleware with the given secret.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: secret}
}

// Authenticate enforces bearer auth and populates the acting user on the
// request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if strings.TrimSpace(authHeader) == "" {
			jsonError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			jsonError(w, http.StatusUnauthorized, "Invalid authorization format")
			return
		}
		tokenString := parts[1]

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(m.jwtSecret), nil
		})

		if err != nil || !token.Valid {
			jsonError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			jsonError(w, http.StatusUnauthorized, "Invalid token claims")
			return
		}

		if exp, ok := claims["exp"].(float64); ok {
			if time.Now().Unix() > int64(exp) {
				jsonError(w, http.StatusUnauthorized, "Token expired")
				return
			}
		}

		userIDStr, ok := claims["user_id"].(string)
		if !ok {
			jsonError(w, http.StatusUnauthorized, "Invalid user ID in token")
			return
		}

		userID, err := uuid.Parse(userIDStr)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "Invalid user ID format")
			return
		}

		roleStr, ok := claims["role"].(string)
		if !ok {
			jsonError(w, http.StatusUnauthorized, "Invalid role in token")
			return
		}
		role := domain.Role(roleStr)
		if !role.Known() {
			jsonError(w, http.StatusUnauthorized, "Unknown role in token")
			return
		}

		actor := domain.ActingUser{ID: userID, Role: role}
		ctx := context.WithValue(r.Context(), ctxActorKey, actor)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ActorFromContext returns the authenticated acting user from context.
func ActorFromContext(ctx context.Context) (domain.ActingUser, bool) {
	v := ctx.Value(ctxActorKey)
	actor, ok := v.(domain.ActingUser)
	return actor, ok
}
