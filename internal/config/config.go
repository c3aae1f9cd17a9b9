package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 聚合服务启动需要的关键配置。
type Config struct {
	Env                string
	HTTPPort           string
	PublicScheme       string
	DataDir            string
	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	SentryDSN          string
	// 数据库配置
	DBDriver   string // "pgx" 或 "sqlite"
	DBDSN      string // 显式连接串，优先于 DB_HOST 等字段
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	// 鉴权配置
	AuthEnabled   bool
	JWTSecret     string
	JWKSURL       string
	DevTenantID   string // 关闭鉴权时使用的租户
	EncryptionKey string
	// 存储配置
	StorageDriver string // "local" 或 "s3"
	S3Endpoint    string // S3/MinIO 端点，不含协议
	S3AccessKey   string
	S3SecretKey   string
	S3Bucket      string
	S3Region      string
	S3UseSSL      bool
	S3PathStyle   bool
	// 分片上传
	UploadExpiry        time.Duration
	UploadMaxChunkBytes int64
	UploadMaxFileBytes  int64 // 单请求直传的整文件上限，0 表示不限
	AssemblyWorkers     int
	AssemblyQueue       int
	// 可选的外部服务
	NATSURL    string
	ClamAVAddr string
}

// IsDev 报告是否运行在开发环境。
func (c *Config) IsDev() bool {
	return c.Env == "" || c.Env == "development" || c.Env == "dev"
}

// Load 从环境变量（以及可选的 .env 文件）加载配置，并提供默认值。
func Load() (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	dataDir := envOrDefault("DATA_DIR", "./data")
	if err := ensureDir(dataDir); err != nil {
		return nil, fmt.Errorf("ensure data dir: %w", err)
	}

	corsOrigins := parseList(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:5173"}
	}

	rateLimitRequests, err := parseIntEnv("RATE_LIMIT_REQUESTS", 120)
	if err != nil {
		return nil, err
	}

	rateLimitWindow, err := parseDurationEnv("RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		return nil, err
	}

	dbPort, err := parseIntEnv("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}

	uploadExpiry, err := parseDurationEnv("UPLOAD_EXPIRY", 24*time.Hour)
	if err != nil {
		return nil, err
	}

	maxChunk, err := parseSizeEnv("UPLOAD_MAX_CHUNK_BYTES", 100*1024*1024)
	if err != nil {
		return nil, err
	}

	maxFile, err := parseSizeEnv("UPLOAD_MAX_FILE_BYTES", 100*1024*1024)
	if err != nil {
		return nil, err
	}

	workers, err := parseIntEnv("ASSEMBLY_WORKERS", 2)
	if err != nil {
		return nil, err
	}

	queue, err := parseIntEnv("ASSEMBLY_QUEUE", 64)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Env:                 envOrDefault("APP_ENV", "development"),
		HTTPPort:            envOrDefault("PORT", "8080"),
		PublicScheme:        envOrDefault("PUBLIC_SCHEME", "https"),
		DataDir:             dataDir,
		CORSAllowedOrigins:  corsOrigins,
		RateLimitRequests:   rateLimitRequests,
		RateLimitWindow:     rateLimitWindow,
		SentryDSN:           os.Getenv("SENTRY_DSN"),
		DBDriver:            envOrDefault("DB_DRIVER", "sqlite"),
		DBDSN:               os.Getenv("DB_DSN"),
		DBHost:              envOrDefault("DB_HOST", "127.0.0.1"),
		DBPort:              dbPort,
		DBUser:              envOrDefault("DB_USER", "paperplane"),
		DBPassword:          envOrDefault("DB_PASSWORD", "paperplane"),
		DBName:              envOrDefault("DB_NAME", "paperplane"),
		DBSSLMode:           envOrDefault("DB_SSL_MODE", "disable"),
		AuthEnabled:         parseBoolEnv("AUTH_ENABLED", true),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		JWKSURL:             os.Getenv("JWKS_URL"),
		DevTenantID:         os.Getenv("DEV_TENANT_ID"),
		EncryptionKey:       os.Getenv("ENCRYPTION_SECRET"),
		StorageDriver:       envOrDefault("STORAGE_DRIVER", "local"),
		S3Endpoint:          envOrDefault("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey:         envOrDefault("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:         envOrDefault("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:            envOrDefault("S3_BUCKET", "paperplane"),
		S3Region:            envOrDefault("S3_REGION", "us-east-1"),
		S3UseSSL:            parseBoolEnv("S3_USE_SSL", false),
		S3PathStyle:         parseBoolEnv("S3_PATH_STYLE", true),
		UploadExpiry:        uploadExpiry,
		UploadMaxChunkBytes: maxChunk,
		UploadMaxFileBytes:  maxFile,
		AssemblyWorkers:     workers,
		AssemblyQueue:       queue,
		NATSURL:             os.Getenv("NATS_URL"),
		ClamAVAddr:          os.Getenv("CLAMAV_ADDR"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "pgx", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	switch c.StorageDriver {
	case "local", "s3":
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.EncryptionKey == "" {
		if !c.IsDev() {
			return fmt.Errorf("ENCRYPTION_SECRET is required outside development")
		}
		c.EncryptionKey = "paperplane-dev-secret"
	}
	if c.AuthEnabled && c.JWTSecret == "" && c.JWKSURL == "" {
		return fmt.Errorf("AUTH_ENABLED requires JWT_SECRET or JWKS_URL")
	}
	if !c.AuthEnabled && c.DevTenantID == "" {
		return fmt.Errorf("DEV_TENANT_ID is required when AUTH_ENABLED=false")
	}
	return nil
}

// DatabaseDSN 返回当前驱动使用的连接串。
func (c *Config) DatabaseDSN() string {
	if c.DBDSN != "" {
		return c.DBDSN
	}
	if c.DBDriver == "sqlite" {
		return filepath.Join(c.DataDir, "paperplane.db")
	}
	return c.PostgresDSN()
}

// PostgresDSN 生成标准 postgres:// 连接串。
func (c *Config) PostgresDSN() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:   c.DBName,
	}

	q := url.Values{}
	if c.DBSSLMode != "" {
		q.Set("sslmode", c.DBSSLMode)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func ensureDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("path %s exists but is not a directory", path)
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(path, 0o755)
	}

	return err
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}

	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

// parseSizeEnv 解析字节上限，0 表示不限，负数视为配置错误。
func parseSizeEnv(key string, defaultValue int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return value, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseBoolEnv(key string, defaultValue bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	lower := strings.ToLower(raw)
	return lower == "true" || lower == "1" || lower == "yes"
}

func envOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
