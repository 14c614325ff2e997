package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/staffchat/internal/directory"
	"github.com/eldtechnologies/staffchat/internal/models"
)

type contextKey string

const UserContextKey contextKey = "user"

// Auth resolves the bearer token to a chat-eligible directory user.
// Tokens are issued by the host application; this service only verifies them.
type Auth struct {
	secret []byte
	dir    directory.Directory
	logger zerolog.Logger
}

// NewAuth creates the authentication middleware.
func NewAuth(secret string, dir directory.Directory, logger zerolog.Logger) *Auth {
	return &Auth{secret: []byte(secret), dir: dir, logger: logger}
}

// RequireAuth rejects requests without a valid token for a known staff user.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			jsonError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}

		userID, err := a.ParseToken(token)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}

		user, err := directory.Get(r.Context(), a.dir, userID)
		if err != nil {
			a.logger.Error().Err(err).Str("user_id", userID).Msg("directory lookup failed")
			jsonError(w, http.StatusServiceUnavailable, "unavailable", "user directory unavailable")
			return
		}
		if user == nil {
			jsonError(w, http.StatusForbidden, "forbidden", "user may not use chat")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// ParseToken verifies an HS256 token and returns its user id, taken from the
// user_id claim or, failing that, sub.
func (a *Auth) ParseToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token or claims")
	}
	if id, ok := claims["user_id"].(string); ok && id != "" {
		return id, nil
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	return "", errors.New("invalid token claims: user_id not found")
}

// bearerToken reads the Authorization header. Browsers cannot set headers
// on websocket upgrades, so access_token is accepted there as well.
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

// WithUser returns a context carrying the authenticated user.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// GetUserFromContext retrieves the authenticated user from context.
func GetUserFromContext(ctx context.Context) *models.User {
	user, _ := ctx.Value(UserContextKey).(*models.User)
	return user
}

func jsonError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}
