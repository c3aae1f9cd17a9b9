package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"paperplane/internal/quota"
	"paperplane/internal/repository"
	"paperplane/internal/upload"
)

// UploadService 编排分片上传的三个阶段：创建、登记分片、完成轮询。
type UploadService struct {
	tenants       repository.TenantRepository
	files         repository.FileRepository
	manager       *upload.Manager
	scheme        string
	maxChunkBytes int64
	logger        *slog.Logger
}

// UploadServiceConfig 汇集 UploadService 的依赖。
type UploadServiceConfig struct {
	Tenants       repository.TenantRepository
	Files         repository.FileRepository
	Manager       *upload.Manager
	PublicScheme  string
	MaxChunkBytes int64
	Logger        *slog.Logger
}

func NewUploadService(cfg UploadServiceConfig) *UploadService {
	if cfg.PublicScheme == "" {
		cfg.PublicScheme = "https"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &UploadService{
		tenants:       cfg.Tenants,
		files:         cfg.Files,
		manager:       cfg.Manager,
		scheme:        cfg.PublicScheme,
		maxChunkBytes: cfg.MaxChunkBytes,
		logger:        cfg.Logger,
	}
}

// CompleteResult 是完成轮询的响应。URL 仅在 FINISHED 时非空。
type CompleteResult struct {
	Status upload.Status
	URL    *string
}

// Create 校验配额与重名后在租户注册表中创建句柄，返回句柄 id。
func (s *UploadService) Create(ctx context.Context, tenantID string, opts upload.CreateOptions) (string, error) {
	tenant, err := loadTenant(ctx, s.tenants, tenantID)
	if err != nil {
		return "", err
	}

	budget, err := s.budget(ctx, tenant)
	if err != nil {
		return "", err
	}
	if budget.Exhausted() {
		return "", ErrQuotaExceeded
	}

	// 扩展名先于重名检查，非法类型不应暴露已有文件名
	if _, err := upload.ResolveExtension(*tenant, opts.MimeType); err != nil {
		return "", err
	}
	if name := upload.ClientFilename(opts.Filename, opts.MimeType); name != "" {
		exists, err := s.files.Exists(ctx, tenant.ID, name)
		if err != nil {
			return "", fmt.Errorf("check filename: %w", err)
		}
		if exists {
			return "", upload.ErrDuplicateFilename
		}
	}

	reg, err := s.manager.Registry(tenant)
	if err != nil {
		return "", err
	}
	h, err := reg.Create(ctx, opts)
	if err != nil {
		return "", err
	}
	return h.ID(), nil
}

// UploadChunk 把分片内容写入租户临时目录，再登记到句柄。
// size 为客户端声明的长度，小于 0 时以实际写入为准。
func (s *UploadService) UploadChunk(ctx context.Context, tenantID, uploadID string, r io.Reader, size int64) (int, error) {
	if s.maxChunkBytes > 0 && size > s.maxChunkBytes {
		return -1, ErrChunkTooLarge
	}

	tenant, err := loadTenant(ctx, s.tenants, tenantID)
	if err != nil {
		return -1, err
	}
	reg, h, err := s.lookup(tenant, uploadID)
	if err != nil {
		return -1, err
	}

	budget, err := s.budget(ctx, tenant)
	if err != nil {
		return -1, err
	}
	if size > 0 && !budget.Allows(h.ReceivedBytes()+size) {
		return -1, ErrQuotaExceeded
	}

	tmp, err := os.CreateTemp(reg.TmpRoot(), "chunk-*")
	if err != nil {
		return -1, fmt.Errorf("create temp chunk: %w", err)
	}
	tmpPath := tmp.Name()

	src := r
	if s.maxChunkBytes > 0 {
		src = io.LimitReader(r, s.maxChunkBytes+1)
	}
	written, err := io.Copy(tmp, src)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return -1, fmt.Errorf("write temp chunk: %w", err)
	}
	if s.maxChunkBytes > 0 && written > s.maxChunkBytes {
		_ = os.Remove(tmpPath)
		return -1, ErrChunkTooLarge
	}
	if written == 0 {
		_ = os.Remove(tmpPath)
		return -1, ErrEmptyFile
	}
	if !budget.Allows(h.ReceivedBytes() + written) {
		_ = os.Remove(tmpPath)
		return -1, ErrQuotaExceeded
	}

	index, err := h.RegisterChunk(tmpPath, written)
	if err != nil {
		_ = os.Remove(tmpPath)
		return -1, err
	}
	s.logger.Debug("chunk registered", "upload_id", uploadID, "tenant_id", tenant.ID, "index", index, "size", written)
	return index, nil
}

// Complete 触发或轮询组装。首次返回 FINISHED 的调用会删除句柄，之后的调用返回 upload.ErrNotFound。
func (s *UploadService) Complete(ctx context.Context, tenantID, uploadID string) (CompleteResult, error) {
	tenant, err := loadTenant(ctx, s.tenants, tenantID)
	if err != nil {
		return CompleteResult{}, err
	}
	reg, h, err := s.lookup(tenant, uploadID)
	if err != nil {
		return CompleteResult{}, err
	}

	status, err := h.Complete(ctx)
	if err != nil {
		return CompleteResult{}, err
	}
	if status != upload.StatusFinished {
		return CompleteResult{Status: status}, nil
	}

	// 并发轮询时只有真正移除句柄的那次调用拿到 URL
	removed, err := reg.Delete(ctx, uploadID)
	if err != nil {
		s.logger.Error("delete finished upload", "upload_id", uploadID, "tenant_id", tenant.ID, "error", err)
	}
	if !removed {
		return CompleteResult{}, upload.ErrNotFound
	}

	url := s.FileURL(tenant, h.Snapshot().DocumentID)
	return CompleteResult{Status: status, URL: &url}, nil
}

// FileURL 返回最终文件的公开地址。
func (s *UploadService) FileURL(tenant *repository.Tenant, fileID string) string {
	return fmt.Sprintf("%s://%s/%s", s.scheme, tenant.Domain, fileID)
}

func (s *UploadService) lookup(tenant *repository.Tenant, uploadID string) (*upload.Registry, *upload.Handle, error) {
	if uploadID == "" {
		return nil, nil, upload.ErrNotFound
	}
	reg, err := s.manager.Registry(tenant)
	if err != nil {
		return nil, nil, err
	}
	h, ok := reg.Get(uploadID)
	if !ok {
		return nil, nil, upload.ErrNotFound
	}
	return reg, h, nil
}

func (s *UploadService) budget(ctx context.Context, tenant *repository.Tenant) (quota.Budget, error) {
	if tenant.MaxStorageBytes == 0 {
		return quota.Remaining(0, 0), nil
	}
	usage, err := s.files.UsageByTenant(ctx, tenant.ID)
	if err != nil {
		return quota.Budget{}, fmt.Errorf("load usage: %w", err)
	}
	return quota.Remaining(tenant.MaxStorageBytes, usage), nil
}

// IsValidation 报告错误是否属于客户端输入问题（4xx）。
func IsValidation(err error) bool {
	for _, target := range []error{
		upload.ErrInvalidMimeType,
		upload.ErrDisallowedExtension,
		upload.ErrDuplicateFilename,
		upload.ErrMissingChunks,
		upload.ErrNotOpen,
		upload.ErrNotFound,
		ErrQuotaExceeded,
		ErrChunkTooLarge,
		ErrEmptyFile,
		ErrTenantNotFound,
		ErrFileNotFound,
		ErrPasswordRequired,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
