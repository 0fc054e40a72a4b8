package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Project-GrADyS/uav-api/internal/audit"
)

const testSecret = "test-secret"

func newTestMiddleware(t *testing.T) *Middleware {
	t.Helper()
	v, err := NewVerifier(testSecret)
	if err != nil {
		t.Fatalf("NewVerifier() = %v", err)
	}
	return NewMiddleware(v, nil)
}

func token(t *testing.T, secret, subject string, scopes ...string) string {
	t.Helper()
	tok, err := IssueToken(secret, subject, scopes, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken() = %v", err)
	}
	return tok
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier(" "); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestVerifyToken(t *testing.T) {
	v, _ := NewVerifier(testSecret)

	claims, err := v.VerifyToken(token(t, testSecret, "pilot", ScopeRead, ScopeControl))
	if err != nil {
		t.Fatalf("VerifyToken() = %v", err)
	}
	if claims.Subject != "pilot" || !claims.HasScope(ScopeControl) {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := v.VerifyToken(token(t, "other-secret", "pilot", ScopeRead)); err == nil {
		t.Error("accepted token signed with another secret")
	}

	expired, _ := IssueToken(testSecret, "pilot", []string{ScopeRead}, -time.Hour)
	if _, err := v.VerifyToken(expired); err == nil {
		t.Error("accepted expired token")
	}

	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "pilot"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := v.VerifyToken(none); err == nil {
		t.Error("accepted unsigned token")
	}
}

func TestRequireScope(t *testing.T) {
	m := newTestMiddleware(t)

	var gotUser string
	h := m.RequireScope(ScopeControl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = audit.UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"missing", "", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"not bearer", "Basic abc", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"garbage", "Bearer nope", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"read only", "Bearer " + token(t, testSecret, "viewer", ScopeRead), http.StatusForbidden, "FORBIDDEN"},
		{"control", "Bearer " + token(t, testSecret, "pilot", ScopeRead, ScopeControl), http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/command/arm", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.code == "" {
				return
			}
			var body map[string]any
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["code"] != tt.code || body["result"] != "error" || body["correlationId"] == "" {
				t.Errorf("body = %v", body)
			}
		})
	}

	if gotUser != "pilot" {
		t.Errorf("audit user = %q, want pilot", gotUser)
	}
}

func TestDisabledMiddlewarePassesThrough(t *testing.T) {
	m := NewMiddleware(nil, nil)
	if m.Enabled() {
		t.Error("Enabled() with no verifier")
	}

	called := false
	h := m.RequireScope(ScopeControl)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/command/arm", nil))
	if !called {
		t.Error("request blocked with auth disabled")
	}
}
