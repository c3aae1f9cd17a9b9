package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORS 生成允许指定来源访问的跨域中间件；列表含 "*" 时放行所有来源且不携带凭据。
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
			break
		}
	}

	return cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Requested-With"},
		AllowCredentials: !allowAll,
		MaxAge:           600,
	}).Handler
}
