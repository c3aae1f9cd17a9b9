package upload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"paperplane/internal/repository"
)

// DefaultExpiry 是未完成上传的存活时长。
const DefaultExpiry = 24 * time.Hour

// Config 汇集所有租户注册表共享的依赖。
type Config struct {
	DataDir   string
	Expiry    time.Duration
	Store     repository.PartialUploadRepository
	Tenants   repository.TenantRepository
	Submitter Submitter
	Scheduler *Scheduler
	Sealer    Sealer
	Logger    *slog.Logger
}

// Manager 持有每个租户的 Registry。
type Manager struct {
	cfg Config

	mu         sync.Mutex
	registries map[string]*Registry
}

func NewManager(cfg Config) *Manager {
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultExpiry
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = NewScheduler(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{cfg: cfg, registries: make(map[string]*Registry)}
}

// TenantTmpRoot 返回租户临时目录 <dataDir>/<tenant>/tmp。
func TenantTmpRoot(dataDir, tenantID string) string {
	return filepath.Join(dataDir, tenantID, "tmp")
}

// Registry 返回租户的注册表，不存在时创建；租户配置以本次传入为准。
func (m *Manager) Registry(tenant *repository.Tenant) (*Registry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.registries[tenant.ID]; ok {
		r.setTenant(*tenant)
		return r, nil
	}

	tmpRoot := TenantTmpRoot(m.cfg.DataDir, tenant.ID)
	if err := os.MkdirAll(tmpRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create tenant tmp root: %w", err)
	}

	r := &Registry{
		tenant:    *tenant,
		tmpRoot:   tmpRoot,
		ttl:       m.cfg.Expiry,
		store:     m.cfg.Store,
		submitter: m.cfg.Submitter,
		scheduler: m.cfg.Scheduler,
		sealer:    m.cfg.Sealer,
		logger:    m.cfg.Logger.With("tenant_id", tenant.ID),
		handles:   make(map[string]*Handle),
	}
	m.registries[tenant.ID] = r
	return r, nil
}

// Lookup 返回已存在的注册表，不会创建。
func (m *Manager) Lookup(tenantID string) (*Registry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.registries[tenantID]
	return r, ok
}

// Load 在启动时从持久化记录重建所有租户的句柄。
// 每个句柄按目录列表恢复分片，过期时间按 createdAt 计算剩余值，已超时的立即回收。
func (m *Manager) Load(ctx context.Context) error {
	tenants, err := m.cfg.Tenants.List(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}

	total := 0
	for i := range tenants {
		reg, err := m.Registry(&tenants[i])
		if err != nil {
			return err
		}

		rows, err := m.cfg.Store.ListByTenant(ctx, tenants[i].ID)
		if err != nil {
			return fmt.Errorf("list partial uploads for %s: %w", tenants[i].ID, err)
		}
		for _, row := range rows {
			if _, err := reg.restore(row); err != nil {
				m.cfg.Logger.Error("restore partial upload", "upload_id", row.ID, "tenant_id", row.TenantID, "error", err)
				continue
			}
			total++
		}
	}

	m.cfg.Logger.Info("partial uploads restored", "tenants", len(tenants), "uploads", total)
	return nil
}

// Shutdown 停止全部过期定时器。
func (m *Manager) Shutdown() {
	m.cfg.Scheduler.Stop()
}
