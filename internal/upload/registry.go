package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"paperplane/internal/metrics"
	"paperplane/internal/mimeext"
	"paperplane/internal/naming"
	"paperplane/internal/repository"

	"github.com/google/uuid"
)

// Sealer 用租户密钥加密密码。
type Sealer interface {
	Encrypt(tenantID, plaintext string) (string, error)
}

// CreateOptions 是客户端创建分片上传时提交的参数。
type CreateOptions struct {
	Filename string
	MimeType string
	Visible  bool
	Password string
}

// Registry 是单个租户内存中的句柄索引，与持久化记录保持一致。
type Registry struct {
	tenant    repository.Tenant
	tmpRoot   string
	ttl       time.Duration
	store     repository.PartialUploadRepository
	submitter Submitter
	scheduler *Scheduler
	sealer    Sealer
	logger    *slog.Logger

	mu      sync.RWMutex
	handles map[string]*Handle
}

// Tenant 返回注册表所属租户的配置快照。
func (r *Registry) Tenant() repository.Tenant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tenant
}

func (r *Registry) setTenant(t repository.Tenant) {
	r.mu.Lock()
	r.tenant = t
	r.mu.Unlock()
}

// TmpRoot 返回租户的临时目录，分片先落在此处再移动进句柄目录。
func (r *Registry) TmpRoot() string { return r.tmpRoot }

// ResolveExtension 校验 MIME 类型并按租户策略检查扩展名。
func ResolveExtension(tenant repository.Tenant, mimeType string) (string, error) {
	ext, ok := mimeext.Extension(mimeType)
	if !ok {
		return "", ErrInvalidMimeType
	}
	if !tenant.AllowsExtension(ext) {
		return "", ErrDisallowedExtension
	}
	return ext, nil
}

// ClientFilename 返回客户端指定名称对应的最终文件名；未指定时返回空串。
// 调用方据此在创建前检查重名。
func ClientFilename(filename, mimeType string) string {
	base := naming.Sanitize(filename)
	if base == "" {
		return ""
	}
	ext, ok := mimeext.Extension(mimeType)
	if !ok {
		return ""
	}
	return naming.WithExtension(base, ext)
}

// Create 校验参数、分配分片目录并持久化记录。重名检查由调用方负责。
func (r *Registry) Create(ctx context.Context, opts CreateOptions) (*Handle, error) {
	tenant := r.Tenant()

	ext, err := ResolveExtension(tenant, opts.MimeType)
	if err != nil {
		return nil, err
	}

	filename := ClientFilename(opts.Filename, opts.MimeType)
	if filename == "" {
		base, err := naming.Generate(naming.Parse(tenant.NamingStrategy), tenant.NameLength, opts.Filename)
		if err != nil {
			return nil, err
		}
		filename = naming.WithExtension(base, ext)
	}

	var password *string
	if opts.Password != "" {
		sealed, err := r.sealer.Encrypt(tenant.ID, opts.Password)
		if err != nil {
			return nil, fmt.Errorf("encrypt password: %w", err)
		}
		password = &sealed
	}

	id := uuid.NewString()
	dir := filepath.Join(r.tmpRoot, "chunks_"+id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}

	record := &repository.PartialUploadRecord{
		ID:        id,
		TenantID:  tenant.ID,
		Path:      dir,
		Filename:  filename,
		MimeType:  strings.TrimSpace(opts.MimeType),
		Password:  password,
		Visible:   opts.Visible,
		Status:    StatusOpen,
		CreatedAt: r.scheduler.Now().UTC(),
	}
	if err := r.store.Create(ctx, record); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("persist partial upload: %w", err)
	}

	h := r.newHandle(record, nil, -1)
	r.add(h)
	metrics.HandlesCreated.Inc()

	r.logger.Info("partial upload created", "upload_id", id, "tenant_id", tenant.ID, "filename", filename)
	return h, nil
}

// Get 按 id 查找句柄。
func (r *Registry) Get(id string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	return h, ok
}

// Len 返回内存中的句柄数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Delete 删除分片目录、持久化记录、过期任务与内存条目。
// id 不存在时是空操作；返回值表示本次调用是否真正移除了句柄。
func (r *Registry) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	h, ok := r.handles[id]
	if ok {
		delete(r.handles, id)
	}
	r.mu.Unlock()

	if !ok {
		return false, nil
	}
	metrics.ActiveHandles.Dec()
	r.scheduler.Cancel(id)

	var errs []error
	if err := os.RemoveAll(h.path); err != nil {
		errs = append(errs, fmt.Errorf("remove chunk dir: %w", err))
	}
	if err := r.store.Delete(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
		errs = append(errs, fmt.Errorf("delete partial upload record: %w", err))
	}
	return true, errors.Join(errs...)
}

// restore 从持久化记录重建句柄，分片以目录列表为准。
func (r *Registry) restore(rec repository.PartialUploadRecord) (*Handle, error) {
	chunks, last, err := ReconcileDir(rec.Path)
	if err != nil {
		return nil, err
	}
	if rec.Status == StatusOpen {
		if err := os.MkdirAll(rec.Path, 0o755); err != nil {
			return nil, fmt.Errorf("recreate chunk dir: %w", err)
		}
	}

	h := r.newHandle(&rec, chunks, last)
	h.status = rec.Status
	h.documentID = rec.DocumentID
	for _, c := range chunks {
		if info, err := os.Stat(filepath.Join(rec.Path, strconv.Itoa(c))); err == nil {
			h.receivedBytes += info.Size()
		}
	}

	r.add(h)
	return h, nil
}

func (r *Registry) newHandle(rec *repository.PartialUploadRecord, chunks []int, last int) *Handle {
	tenant := r.Tenant()
	return &Handle{
		id:             rec.ID,
		tenantID:       rec.TenantID,
		path:           rec.Path,
		createdAt:      rec.CreatedAt,
		filename:       rec.Filename,
		mimeType:       rec.MimeType,
		password:       rec.Password,
		visible:        rec.Visible,
		namingStrategy: tenant.NamingStrategy,
		nameLength:     tenant.NameLength,
		store:          r.store,
		submitter:      r.submitter,
		onSettled:      func(id string) { r.scheduler.Cancel(id) },
		logger:         r.logger,
		status:         StatusOpen,
		chunks:         chunks,
		lastChunkID:    last,
		settled:        make(chan struct{}),
	}
}

// add 登记句柄并按 createdAt+ttl 安排过期；已完成的句柄不安排过期。
func (r *Registry) add(h *Handle) {
	r.mu.Lock()
	r.handles[h.id] = h
	r.mu.Unlock()
	metrics.ActiveHandles.Inc()

	if h.status == StatusFinished {
		return
	}

	id := h.id
	r.scheduler.Schedule(id, h.createdAt.Add(r.ttl), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		removed, err := r.Delete(ctx, id)
		if err != nil {
			r.logger.Error("expire partial upload", "upload_id", id, "error", err)
		}
		if removed {
			metrics.HandlesExpired.Inc()
			r.logger.Info("partial upload expired", "upload_id", id, "tenant_id", h.tenantID)
		}
	})
}
