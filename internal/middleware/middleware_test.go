package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"paperplane/internal/logging"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return raw
}

func tenantEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetTenantID(r.Context())))
	})
}

func TestTenantAuth(t *testing.T) {
	verifier, err := NewTokenVerifier(testSecret, "", logging.Discard())
	require.NoError(t, err)
	handler := TenantAuth(verifier, logging.Discard())(tenantEcho())
	exp := time.Now().Add(time.Hour).Unix()

	cases := []struct {
		name   string
		header string
		status int
		tenant string
	}{
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "ApiKey abc", http.StatusUnauthorized, ""},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized, ""},
		{"subject", "Bearer " + signToken(t, jwt.MapClaims{"sub": "t1", "exp": exp}), http.StatusOK, "t1"},
		{"tenant claim wins", "Bearer " + signToken(t, jwt.MapClaims{"sub": "user-9", "tenant": "t2", "exp": exp}), http.StatusOK, "t2"},
		{"expired", "Bearer " + signToken(t, jwt.MapClaims{"sub": "t1", "exp": time.Now().Add(-time.Minute).Unix()}), http.StatusUnauthorized, ""},
		{"no expiry", "Bearer " + signToken(t, jwt.MapClaims{"sub": "t1"}), http.StatusUnauthorized, ""},
		{"no tenant", "Bearer " + signToken(t, jwt.MapClaims{"exp": exp}), http.StatusUnauthorized, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, tc.tenant, rec.Body.String())
			} else {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
			}
		})
	}
}

func TestTenantAuthRejectsForeignSecret(t *testing.T) {
	verifier, err := NewTokenVerifier("another-secret", "", logging.Discard())
	require.NoError(t, err)
	handler := TenantAuth(verifier, logging.Discard())(tenantEcho())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{"sub": "t1", "exp": time.Now().Add(time.Hour).Unix()}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNewTokenVerifierRequiresKeyMaterial(t *testing.T) {
	_, err := NewTokenVerifier("", "", logging.Discard())
	assert.Error(t, err)
}

func TestStaticTenant(t *testing.T) {
	rec := httptest.NewRecorder()
	StaticTenant("dev")(tenantEcho()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "dev", rec.Body.String())
}

func TestRateLimit(t *testing.T) {
	handler := RateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, send("10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusNoContent, send("10.0.0.1:1001").Code)
	blocked := send("10.0.0.1:1002")
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.Equal(t, "30", blocked.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, send("10.0.0.2:1000").Code)
}

func TestRateLimitDisabled(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	handler := RateLimit(0, time.Minute)(next)
	for range 10 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS([]string{"http://localhost:5173"})(tenantEcho())

	req := httptest.NewRequest(http.MethodOptions, "/api/upload/partial/create", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodOptions, "/api/upload/partial/create", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
