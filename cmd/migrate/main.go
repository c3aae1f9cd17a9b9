package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"strings"
	"time"

	"paperplane/internal/config"
	"paperplane/internal/database"
	"paperplane/internal/logging"
	"paperplane/internal/migrations"
	"paperplane/internal/naming"
	"paperplane/internal/repository"
	"paperplane/internal/repository/sqlstore"

	"github.com/google/uuid"
)

func main() {
	down := flag.Bool("down", false, "roll back the most recent migration")
	seedDomain := flag.String("seed-domain", "", "create a tenant for this domain after migrating")
	seedID := flag.String("seed-id", "", "tenant id for -seed-domain (random when empty)")
	seedQuota := flag.Int64("seed-max-bytes", 0, "storage quota for the seeded tenant, 0 means unlimited")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.New(logging.Options{Dev: cfg.IsDev()})

	ctx := context.Background()
	db, err := database.Connect(ctx, cfg.DBDriver, cfg.DatabaseDSN())
	if err != nil {
		logger.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if *down {
		if err := migrations.Rollback(db.DB, cfg.DBDriver); err != nil {
			logger.Error("rollback migration", "error", err)
			os.Exit(1)
		}
		logger.Info("migration rolled back")
		return
	}

	if err := migrations.Apply(db.DB, cfg.DBDriver); err != nil {
		logger.Error("apply migrations", "error", err)
		os.Exit(1)
	}

	domain := strings.TrimSpace(*seedDomain)
	if domain == "" {
		return
	}

	id := *seedID
	if id == "" {
		id = uuid.NewString()
	}
	tenant := &repository.Tenant{
		ID:              id,
		Domain:          domain,
		MaxStorageBytes: *seedQuota,
		ExtensionsMode:  repository.ExtensionsDeny,
		NamingStrategy:  string(naming.StrategyRandom),
		NameLength:      naming.DefaultLength,
		CreatedAt:       time.Now().UTC(),
	}
	err = sqlstore.NewTenantRepository(db).Create(ctx, tenant)
	switch {
	case errors.Is(err, repository.ErrConflict):
		logger.Info("tenant already exists", "domain", domain)
	case err != nil:
		logger.Error("seed tenant", "domain", domain, "error", err)
		os.Exit(1)
	default:
		logger.Info("tenant created", "tenant_id", id, "domain", domain)
	}
}
