package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	pkgauth "github.com/partnerhubhq/partnerhub-backend/pkg/auth"
	"github.com/partnerhubhq/partnerhub-backend/pkg/config"
	"github.com/partnerhubhq/partnerhub-backend/pkg/logger"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "test-secret",
		Issuer:            "partnerhub",
		ExpirationMinutes: 60,
	}
}

func newMiddlewareLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "middleware-test", Output: io.Discard})
}

func mintToken(t *testing.T, cfg config.JWTConfig, role pkgauth.Role) (string, pkgauth.AccessTokenPayload) {
	t.Helper()

	payload := pkgauth.AccessTokenPayload{
		UserID:   uuid.New(),
		TenantID: uuid.New(),
		Role:     role,
	}
	token, err := pkgauth.MintAccessToken(cfg, time.Now(), payload)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token, payload
}

func TestAuthSeedsRequestContext(t *testing.T) {
	cfg := testJWTConfig()
	token, payload := mintToken(t, cfg, pkgauth.RoleMember)

	var gotUser, gotRole string
	var gotTenant uuid.UUID
	handler := Auth(cfg, newMiddlewareLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotRole = RoleFromContext(r.Context())
		gotTenant = TenantIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotUser != payload.UserID.String() {
		t.Fatalf("user mismatch: %s", gotUser)
	}
	if gotTenant != payload.TenantID {
		t.Fatalf("tenant mismatch: %s", gotTenant)
	}
	if gotRole != string(pkgauth.RoleMember) {
		t.Fatalf("role mismatch: %s", gotRole)
	}
}

func TestAuthRejectsMissingOrMalformedCredentials(t *testing.T) {
	cfg := testJWTConfig()
	handler := Auth(cfg, newMiddlewareLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without credentials")
	}))

	cases := []struct {
		name  string
		value string
	}{
		{"missing header", ""},
		{"bare bearer", "Bearer "},
		{"garbage token", "Bearer not.a.jwt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.value != "" {
				req.Header.Set("Authorization", tc.value)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestAuthRejectsWrongSecret(t *testing.T) {
	minting := testJWTConfig()
	minting.Secret = "other-secret"
	token, _ := mintToken(t, minting, pkgauth.RoleMember)

	handler := Auth(testJWTConfig(), newMiddlewareLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for a forged token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	logg := newMiddlewareLogger()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := RequireRole(string(pkgauth.RoleOperator), logg)(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(withRole(req.Context(), string(pkgauth.RoleOperator)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected operator allowed, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(withRole(req.Context(), string(pkgauth.RoleMember)))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected member forbidden, got %d", rec.Code)
	}
}

func TestContextAccessorsDefaults(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := req.Context()

	if UserIDFromContext(ctx) != "" {
		t.Fatal("expected empty user id")
	}
	if RoleFromContext(ctx) != "" {
		t.Fatal("expected empty role")
	}
	if TenantIDFromContext(ctx) != uuid.Nil {
		t.Fatal("expected nil tenant")
	}
}
