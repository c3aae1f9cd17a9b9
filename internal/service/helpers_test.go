package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"paperplane/internal/assembly"
	"paperplane/internal/database"
	"paperplane/internal/logging"
	"paperplane/internal/migrations"
	"paperplane/internal/repository"
	"paperplane/internal/repository/sqlstore"
	"paperplane/internal/secure"
	"paperplane/internal/storage/local"
	"paperplane/internal/upload"

	"github.com/stretchr/testify/require"
)

type harness struct {
	tenants  *sqlstore.TenantRepository
	files    *sqlstore.FileRepository
	partials *sqlstore.PartialUploadRepository
	store    *local.Writer
	cipher   *secure.Cipher
	manager  *upload.Manager
	uploads  *UploadService
	fileSvc  *FileService
}

// newHarness 组装真实的 sqlite、本地存储与组装工作池。
func newHarness(t *testing.T, tenant repository.Tenant, maxChunk int64) *harness {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	logger := logging.Discard()

	db, err := database.Connect(ctx, "sqlite", filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.Apply(db.DB, "sqlite"))

	h := &harness{
		tenants:  sqlstore.NewTenantRepository(db),
		files:    sqlstore.NewFileRepository(db),
		partials: sqlstore.NewPartialUploadRepository(db),
		store:    local.NewWriter(filepath.Join(dir, "objects"), ""),
	}
	h.cipher, err = secure.NewCipher("test-secret")
	require.NoError(t, err)

	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = time.Now().UTC()
	}
	require.NoError(t, h.tenants.Create(ctx, &tenant))

	assembler := assembly.NewAssembler(h.files, h.store, h.cipher, logger)
	pool := assembly.NewPool(assembler, 1, 8, logger)
	h.manager = upload.NewManager(upload.Config{
		DataDir:   filepath.Join(dir, "data"),
		Store:     h.partials,
		Tenants:   h.tenants,
		Submitter: pool,
		Sealer:    h.cipher,
		Logger:    logger,
	})
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Shutdown(shutdownCtx)
		h.manager.Shutdown()
	})

	h.uploads = NewUploadService(UploadServiceConfig{
		Tenants:       h.tenants,
		Files:         h.files,
		Manager:       h.manager,
		PublicScheme:  "https",
		MaxChunkBytes: maxChunk,
		Logger:        logger,
	})
	h.fileSvc = NewFileService(h.tenants, h.files, h.store, h.cipher, logger)
	return h
}

func defaultTenant() repository.Tenant {
	return repository.Tenant{
		ID:             "t1",
		Domain:         "files.example.com",
		ExtensionsMode: repository.ExtensionsDeny,
		Extensions:     repository.StringList{"exe"},
		NamingStrategy: "random",
		NameLength:     8,
	}
}
