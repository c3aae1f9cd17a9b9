package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// TenantContextKey 是 context 中租户 id 的键。
type TenantContextKey struct{}

// Verifier 把原始令牌解析为租户 id，*TokenVerifier 为默认实现。
type Verifier interface {
	Verify(raw string) (string, error)
}

// TenantAuth 要求 Authorization: Bearer <jwt>，校验通过后把租户 id 写入 context。
func TenantAuth(verifier Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing Authorization header")
				return
			}

			const prefix = "Bearer "
			if !strings.HasPrefix(authHeader, prefix) {
				writeAuthError(w, http.StatusUnauthorized, "invalid Authorization format, expected: Bearer <token>")
				return
			}

			raw := strings.TrimSpace(strings.TrimPrefix(authHeader, prefix))
			if raw == "" {
				writeAuthError(w, http.StatusUnauthorized, "empty token")
				return
			}

			tenantID, err := verifier.Verify(raw)
			if err != nil {
				logger.Debug("token rejected", "error", err)
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithTenantID(r.Context(), tenantID)))
		})
	}
}

// StaticTenant 在关闭鉴权的开发模式下为所有请求注入固定租户。
func StaticTenant(tenantID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithTenantID(r.Context(), tenantID)))
		})
	}
}

// WithTenantID 返回携带租户 id 的 context。
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantContextKey{}, tenantID)
}

// GetTenantID 从 context 中获取经过鉴权的租户 id。
func GetTenantID(ctx context.Context) string {
	if v, ok := ctx.Value(TenantContextKey{}).(string); ok {
		return v
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="PaperPlane API"`)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
