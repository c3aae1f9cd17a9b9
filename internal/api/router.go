package api

import (
	"log/slog"
	"net/http"

	"paperplane/internal/config"
	ppmiddleware "paperplane/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers 汇集路由需要的处理器与鉴权中间件。
type Handlers struct {
	Uploads *UploadHandler
	Files   *FileHandler
	// Auth 为 /api 路由组注入租户 id
	Auth func(http.Handler) http.Handler
}

// NewRouter 构建 HTTP 路由，集中注册所有对外服务的端点。
func NewRouter(cfg *config.Config, logger *slog.Logger, h Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(ppmiddleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(ppmiddleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(ppmiddleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
	r.Use(ppmiddleware.Metrics())

	// 健康检查不需要鉴权
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Prometheus 指标端点
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if h.Auth != nil {
			r.Use(h.Auth)
		}
		if h.Uploads != nil {
			h.Uploads.RegisterRoutes(r)
		}
		if h.Files != nil {
			h.Files.RegisterRoutes(r)
		}
	})

	if h.Files != nil {
		h.Files.RegisterPublicRoutes(r)
	}

	return r
}
