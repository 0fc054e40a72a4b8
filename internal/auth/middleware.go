package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Project-GrADyS/uav-api/internal/audit"
	"github.com/Project-GrADyS/uav-api/internal/logging"
)

type claimsKey struct{}

// Middleware authenticates requests and enforces scopes.
type Middleware struct {
	verifier *Verifier
	logger   *slog.Logger
}

// NewMiddleware creates the middleware. A nil verifier disables
// authentication.
func NewMiddleware(verifier *Verifier, logger *slog.Logger) *Middleware {
	return &Middleware{
		verifier: verifier,
		logger:   logging.OrDiscard(logger).With("component", "auth"),
	}
}

// Enabled reports whether tokens are checked.
func (m *Middleware) Enabled() bool {
	return m.verifier != nil
}

// RequireScope rejects requests whose token lacks scope. The token subject
// becomes the audit user.
func (m *Middleware) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.verifier == nil {
				next.ServeHTTP(w, r)
				return
			}

			token, err := extractBearerToken(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
				return
			}
			claims, err := m.verifier.VerifyToken(token)
			if err != nil {
				m.logger.Debug("token rejected", "error", err, "path", r.URL.Path)
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
				return
			}
			if !claims.HasScope(scope) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient permissions")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			ctx = audit.WithUser(ctx, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the verified claims, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey{}).(*Claims)
	return claims
}

func extractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing Authorization header")
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", errors.New("invalid Authorization header format")
	}
	if token == "" {
		return "", errors.New("empty token")
	}
	return token, nil
}

// writeError writes an error in the API envelope format.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"result":        "error",
		"code":          code,
		"message":       message,
		"correlationId": uuid.NewString(),
	})
}
