package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"paperplane/internal/repository"

	"github.com/jmoiron/sqlx"
)

var tenantColumns = []string{
	"id",
	"domain",
	"max_storage_bytes",
	"extensions_mode",
	"extensions",
	"naming_strategy",
	"name_length",
	"created_at",
}

// TenantRepository 实现 repository.TenantRepository。
type TenantRepository struct {
	db *sqlx.DB
}

func NewTenantRepository(db *sqlx.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

func (r *TenantRepository) Create(ctx context.Context, t *repository.Tenant) error {
	if t == nil {
		return fmt.Errorf("tenant is nil")
	}
	t.Domain = strings.ToLower(strings.TrimSpace(t.Domain))
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`INSERT INTO tenants (%s) VALUES (%s)`,
		strings.Join(tenantColumns, ","), placeholders(len(tenantColumns)))
	_, err := r.db.ExecContext(ctx, query,
		t.ID,
		t.Domain,
		t.MaxStorageBytes,
		t.ExtensionsMode,
		t.Extensions,
		t.NamingStrategy,
		t.NameLength,
		t.CreatedAt,
	)
	return translateError(err)
}

func (r *TenantRepository) GetByID(ctx context.Context, id string) (*repository.Tenant, error) {
	return r.getBy(ctx, "id", id)
}

func (r *TenantRepository) GetByDomain(ctx context.Context, domain string) (*repository.Tenant, error) {
	return r.getBy(ctx, "domain", strings.ToLower(domain))
}

func (r *TenantRepository) getBy(ctx context.Context, column, value string) (*repository.Tenant, error) {
	var t repository.Tenant
	query := fmt.Sprintf(`SELECT %s FROM tenants WHERE %s = $1`, strings.Join(tenantColumns, ","), column)
	if err := r.db.GetContext(ctx, &t, query, value); err != nil {
		return nil, translateError(err)
	}
	return &t, nil
}

func (r *TenantRepository) List(ctx context.Context) ([]repository.Tenant, error) {
	var out []repository.Tenant
	query := fmt.Sprintf(`SELECT %s FROM tenants ORDER BY created_at`, strings.Join(tenantColumns, ","))
	if err := r.db.SelectContext(ctx, &out, query); err != nil {
		return nil, err
	}
	return out, nil
}
