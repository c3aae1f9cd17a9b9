package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"paperplane/internal/naming"
	"paperplane/internal/quota"
	"paperplane/internal/repository"
	"paperplane/internal/storage"
	"paperplane/internal/upload"
)

const maxNameAttempts = 8

// Cipher 是文件服务需要的加解密能力，*secure.Cipher 为默认实现。
type Cipher interface {
	Encrypt(tenantID, plaintext string) (string, error)
	Decrypt(tenantID, encoded string) (string, error)
	FileAuthSecret(tenantID, fileID string, now time.Time) (string, error)
}

// FileService 封装最终文件的上传、查询与访问控制。
type FileService struct {
	tenants repository.TenantRepository
	repo    repository.FileRepository
	store   storage.Storage
	cipher  Cipher
	logger  *slog.Logger
	now     func() time.Time
}

func NewFileService(tenants repository.TenantRepository, repo repository.FileRepository, store storage.Storage, cipher Cipher, logger *slog.Logger) *FileService {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileService{
		tenants: tenants,
		repo:    repo,
		store:   store,
		cipher:  cipher,
		logger:  logger,
		now:     time.Now,
	}
}

// UploadFileInput 描述一次单请求上传。
type UploadFileInput struct {
	Filename  string
	MimeType  string
	SizeBytes int64
	Visible   bool
	Password  string
	Reader    io.Reader
}

// Upload 校验类型、配额与重名后写入存储并登记文件记录。
func (s *FileService) Upload(ctx context.Context, tenantID string, input UploadFileInput) (*repository.FileRecord, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("file service not initialized")
	}
	if input.SizeBytes <= 0 || input.Reader == nil {
		return nil, ErrEmptyFile
	}

	tenant, err := loadTenant(ctx, s.tenants, tenantID)
	if err != nil {
		return nil, err
	}
	ext, err := upload.ResolveExtension(*tenant, input.MimeType)
	if err != nil {
		return nil, err
	}

	budget, err := s.budget(ctx, tenant)
	if err != nil {
		return nil, err
	}
	if !budget.Allows(input.SizeBytes) {
		return nil, ErrQuotaExceeded
	}

	requested := upload.ClientFilename(input.Filename, input.MimeType)
	if requested != "" {
		exists, err := s.repo.Exists(ctx, tenant.ID, requested)
		if err != nil {
			return nil, fmt.Errorf("check filename: %w", err)
		}
		if exists {
			return nil, upload.ErrDuplicateFilename
		}
	}

	var password *string
	if input.Password != "" {
		sealed, err := s.cipher.Encrypt(tenant.ID, input.Password)
		if err != nil {
			return nil, fmt.Errorf("encrypt password: %w", err)
		}
		password = &sealed
	}

	now := s.now().UTC()
	record, err := s.reserve(ctx, tenant, requested, ext, now, func(r *repository.FileRecord) {
		r.MimeType = strings.TrimSpace(input.MimeType)
		r.Visible = input.Visible
		r.Password = password
	})
	if err != nil {
		return nil, err
	}

	counter := &countingReader{r: input.Reader}
	_, err = s.store.Write(ctx, record.StoragePath, counter)
	if err == nil && counter.n != input.SizeBytes {
		err = fmt.Errorf("size mismatch: declared %d, received %d", input.SizeBytes, counter.n)
	}
	if err == nil {
		err = s.repo.UpdateSize(ctx, tenant.ID, record.ID, input.SizeBytes)
	}
	if err != nil {
		if delErr := s.store.Delete(ctx, record.StoragePath); delErr != nil {
			s.logger.Error("discard file", "file_id", record.ID, "error", delErr)
		}
		if delErr := s.repo.Delete(ctx, tenant.ID, record.ID); delErr != nil {
			s.logger.Error("release file record", "file_id", record.ID, "error", delErr)
		}
		return nil, fmt.Errorf("write storage: %w", err)
	}

	record.SizeBytes = input.SizeBytes

	s.logger.Info("file uploaded", "tenant_id", tenant.ID, "file_id", record.ID, "size", record.SizeBytes)
	return record, nil
}

// reserve 登记记录以占用文件名；客户端指定的名称冲突时直接报重名，生成的名称冲突时重试。
func (s *FileService) reserve(ctx context.Context, tenant *repository.Tenant, requested, ext string, now time.Time, fill func(*repository.FileRecord)) (*repository.FileRecord, error) {
	for range maxNameAttempts {
		fileID := requested
		if fileID == "" {
			base, err := naming.Generate(naming.Parse(tenant.NamingStrategy), tenant.NameLength, "")
			if err != nil {
				return nil, err
			}
			fileID = naming.WithExtension(base, ext)
		}

		secret, err := s.cipher.FileAuthSecret(tenant.ID, fileID, now)
		if err != nil {
			return nil, fmt.Errorf("generate auth secret: %w", err)
		}
		record := &repository.FileRecord{
			ID:          fileID,
			TenantID:    tenant.ID,
			StoragePath: storage.FileKey(tenant.ID, fileID),
			AuthSecret:  secret,
			CreatedAt:   now,
		}
		fill(record)

		err = s.repo.Create(ctx, record)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("persist file record: %w", err)
		}
		if requested != "" {
			return nil, upload.ErrDuplicateFilename
		}
	}
	return nil, fmt.Errorf("no free filename after %d attempts", maxNameAttempts)
}

// SweepPending 清理写入中途进程退出遗留的记录与对象，只应在启动时、开始接收请求前调用。
func (s *FileService) SweepPending(ctx context.Context) (int, error) {
	pending, err := s.repo.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending files: %w", err)
	}

	removed := 0
	for _, rec := range pending {
		if err := s.store.Delete(ctx, rec.StoragePath); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error("discard pending file", "tenant_id", rec.TenantID, "file_id", rec.ID, "error", err)
			continue
		}
		if err := s.repo.Delete(ctx, rec.TenantID, rec.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			s.logger.Error("release pending file record", "tenant_id", rec.TenantID, "file_id", rec.ID, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Warn("removed unfinished files", "count", removed)
	}
	return removed, nil
}

// ListFiles 以分页形式列出租户文件。
func (s *FileService) ListFiles(ctx context.Context, tenantID string, params repository.ListFilesParams) ([]repository.FileRecord, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("file service not initialized")
	}
	return s.repo.ListByTenant(ctx, tenantID, params)
}

// Usage 返回租户的存储用量与剩余预算。
func (s *FileService) Usage(ctx context.Context, tenantID string) (int64, quota.Budget, error) {
	tenant, err := loadTenant(ctx, s.tenants, tenantID)
	if err != nil {
		return 0, quota.Budget{}, err
	}
	usage, err := s.repo.UsageByTenant(ctx, tenant.ID)
	if err != nil {
		return 0, quota.Budget{}, fmt.Errorf("load usage: %w", err)
	}
	return usage, quota.Remaining(tenant.MaxStorageBytes, usage), nil
}

func (s *FileService) budget(ctx context.Context, tenant *repository.Tenant) (quota.Budget, error) {
	if tenant.MaxStorageBytes == 0 {
		return quota.Remaining(0, 0), nil
	}
	usage, err := s.repo.UsageByTenant(ctx, tenant.ID)
	if err != nil {
		return quota.Budget{}, fmt.Errorf("load usage: %w", err)
	}
	return quota.Remaining(tenant.MaxStorageBytes, usage), nil
}

// Credentials 是访问受保护文件时客户端提供的凭据。
type Credentials struct {
	Password string
	Secret   string
}

// ResolvePublic 按域名解析公开访问的文件。隐藏文件只是不出现在列表中，凭链接仍可访问；
// 受密码保护的文件需要正确的密码或与记录一致的访问密钥。
func (s *FileService) ResolvePublic(ctx context.Context, host, fileID string, creds Credentials) (*repository.FileRecord, error) {
	tenant, err := tenantByHost(ctx, s.tenants, host)
	if errors.Is(err, ErrTenantNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}

	record, err := s.repo.GetByID(ctx, tenant.ID, fileID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load file: %w", err)
	}
	if record.SizeBytes == 0 {
		return nil, ErrFileNotFound
	}
	if !record.Protected() {
		return record, nil
	}

	if creds.Secret != "" && subtle.ConstantTimeCompare([]byte(creds.Secret), []byte(record.AuthSecret)) == 1 {
		return record, nil
	}
	if creds.Password != "" {
		plain, err := s.cipher.Decrypt(tenant.ID, *record.Password)
		if err != nil {
			return nil, fmt.Errorf("decrypt password: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(creds.Password), []byte(plain)) == 1 {
			return record, nil
		}
	}
	return nil, ErrPasswordRequired
}

// Open 打开文件内容供下载，调用方负责关闭。
func (s *FileService) Open(ctx context.Context, record *repository.FileRecord) (io.ReadCloser, error) {
	rc, err := s.store.Read(ctx, record.StoragePath)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrFileNotFound
	}
	return rc, err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
