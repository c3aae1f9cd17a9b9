package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paperplane/internal/api"
	"paperplane/internal/assembly"
	"paperplane/internal/config"
	"paperplane/internal/database"
	"paperplane/internal/events"
	"paperplane/internal/logging"
	"paperplane/internal/middleware"
	"paperplane/internal/migrations"
	"paperplane/internal/repository/sqlstore"
	"paperplane/internal/secure"
	"paperplane/internal/service"
	"paperplane/internal/storage"
	"paperplane/internal/storage/local"
	"paperplane/internal/storage/s3"
	"paperplane/internal/upload"

	"github.com/getsentry/sentry-go"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Options{Dev: cfg.IsDev(), SentryDSN: cfg.SentryDSN})
	defer sentry.Flush(2 * time.Second)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		sentry.Flush(2 * time.Second)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.DBDriver, cfg.DatabaseDSN())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrations.Apply(db.DB, cfg.DBDriver); err != nil {
		return err
	}

	store, err := newStorage(ctx, cfg)
	if err != nil {
		return err
	}

	cipher, err := secure.NewCipher(cfg.EncryptionKey)
	if err != nil {
		return err
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		nats, err := events.ConnectNATS(cfg.NATSURL, logger)
		if err != nil {
			return err
		}
		publisher = nats
		logger.Info("publishing upload events", "url", cfg.NATSURL)
	}
	defer publisher.Close()

	tenants := sqlstore.NewTenantRepository(db)
	files := sqlstore.NewFileRepository(db)
	partials := sqlstore.NewPartialUploadRepository(db)

	opts := []assembly.Option{assembly.WithPublisher(publisher)}
	if cfg.ClamAVAddr != "" {
		scanner, err := assembly.DialClamd(cfg.ClamAVAddr)
		if err != nil {
			return err
		}
		logger.Info("scanning uploads with clamd", "addr", cfg.ClamAVAddr)
		opts = append(opts, assembly.WithScanner(scanner))
	}
	assembler := assembly.NewAssembler(files, store, cipher, logger, opts...)
	pool := assembly.NewPool(assembler, cfg.AssemblyWorkers, cfg.AssemblyQueue, logger)

	manager := upload.NewManager(upload.Config{
		DataDir:   cfg.DataDir,
		Expiry:    cfg.UploadExpiry,
		Store:     partials,
		Tenants:   tenants,
		Submitter: pool,
		Sealer:    cipher,
		Logger:    logger,
	})
	if err := manager.Load(ctx); err != nil {
		return err
	}

	auth, closeAuth, err := newAuth(cfg, logger)
	if err != nil {
		return err
	}
	defer closeAuth()

	uploads := service.NewUploadService(service.UploadServiceConfig{
		Tenants:       tenants,
		Files:         files,
		Manager:       manager,
		PublicScheme:  cfg.PublicScheme,
		MaxChunkBytes: cfg.UploadMaxChunkBytes,
		Logger:        logger,
	})
	fileSvc := service.NewFileService(tenants, files, store, cipher, logger)
	if _, err := fileSvc.SweepPending(ctx); err != nil {
		return err
	}

	router := api.NewRouter(cfg, logger, api.Handlers{
		Uploads: api.NewUploadHandler(uploads, cfg.UploadMaxChunkBytes, logger),
		Files:   api.NewFileHandler(fileSvc, cfg.UploadMaxFileBytes, cfg.PublicScheme == "https", logger),
		Auth:    auth,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// 分片与文件下载可能较大，读写超时放宽
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		logger.Error("assembly pool shutdown", "error", err)
	}
	manager.Shutdown()

	logger.Info("server stopped")
	return nil
}

func newStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	if cfg.StorageDriver == "s3" {
		return s3.New(ctx, s3.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
			PathStyle: cfg.S3PathStyle,
		})
	}
	return local.NewWriter(cfg.DataDir, ""), nil
}

func newAuth(cfg *config.Config, logger *slog.Logger) (func(http.Handler) http.Handler, func(), error) {
	if !cfg.AuthEnabled {
		logger.Warn("authentication disabled, all requests act as the dev tenant", "tenant_id", cfg.DevTenantID)
		return middleware.StaticTenant(cfg.DevTenantID), func() {}, nil
	}

	verifier, err := middleware.NewTokenVerifier(cfg.JWTSecret, cfg.JWKSURL, logger)
	if err != nil {
		return nil, nil, err
	}
	return middleware.TenantAuth(verifier, logger), verifier.Close, nil
}
