package security

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/tributary-ai/agent-gateway/internal/types"
)

// AuthInfo is the authenticated identity attached to a request's context.
type AuthInfo struct {
	TokenPrefix string     `json:"token_prefix"`
	Workspace   string     `json:"workspace,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// JWTClaims is the shape of the optional workspace token (spec §6: "a
// separate workspace token may be issued").
type JWTClaims struct {
	Workspace string `json:"workspace"`
	jwt.RegisteredClaims
}

// Config holds Chat API authentication configuration.
type Config struct {
	MainToken      string        // 40-hex opaque token (spec §6)
	WorkspaceJWTSecret string
	JWTExpiry      time.Duration
}

// DefaultAuthProvider validates the X-Auth-Token header against the
// configured opaque token, and optionally a workspace JWT.
type DefaultAuthProvider struct {
	config *Config
	logger *logrus.Logger
}

func NewDefaultAuthProvider(config *Config, logger *logrus.Logger) *DefaultAuthProvider {
	if config.JWTExpiry == 0 {
		config.JWTExpiry = 24 * time.Hour
	}
	return &DefaultAuthProvider{config: config, logger: logger}
}

// ValidateToken checks token against the configured main token using a
// constant-time comparison (spec §6: "X-Auth-Token: <40-hex token>").
func (a *DefaultAuthProvider) ValidateToken(token string) (*AuthInfo, error) {
	if token == "" {
		return nil, errors.New("auth token is required")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.config.MainToken)) == 1 {
		return &AuthInfo{TokenPrefix: maskToken(token)}, nil
	}
	return nil, errors.New("invalid auth token")
}

// GenerateWorkspaceJWT issues an optional workspace-scoped token.
func (a *DefaultAuthProvider) GenerateWorkspaceJWT(workspace string) (string, error) {
	now := time.Now()
	claims := &JWTClaims{
		Workspace: workspace,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "agent-gateway",
			Subject:   workspace,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.JWTExpiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.config.WorkspaceJWTSecret))
}

// ValidateWorkspaceJWT validates an optional workspace token.
func (a *DefaultAuthProvider) ValidateWorkspaceJWT(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(a.config.WorkspaceJWTSecret), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*JWTClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid workspace token")
}

type authInfoKey struct{}

// AuthMiddleware enforces the X-Auth-Token header on every route except
// /health (spec §6 path table: /health has auth "none").
func (a *DefaultAuthProvider) AuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			token := r.Header.Get("X-Auth-Token")
			authInfo, err := a.ValidateToken(token)
			if err != nil {
				a.logger.WithFields(logrus.Fields{
					"path":      r.URL.Path,
					"remote_ip": getClientIPFromRequest(r),
				}).Warn("authentication failed")
				writeAuthError(w, "invalid authentication token")
				return
			}

			ctx := context.WithValue(r.Context(), authInfoKey{}, authInfo)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "****" + token[len(token)-4:]
}

func getClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(types.ErrorResponse{
		Error: types.ErrorBody{Message: message, Type: "authentication_error"},
	})
}

// AuthInfoFromContext extracts the authenticated identity from a request
// context, set by AuthMiddleware.
func AuthInfoFromContext(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authInfoKey{}).(*AuthInfo)
	return info, ok
}
