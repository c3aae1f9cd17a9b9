package repository

import (
	"context"
	"time"
)

// FileRecord 代表已落盘的最终文件。ID 即最终文件名，在租户内唯一。
// SizeBytes 为 0 表示记录已占用文件名但内容尚未写完。
type FileRecord struct {
	ID          string    `db:"id" json:"id"`
	TenantID    string    `db:"tenant_id" json:"tenant_id"`
	StoragePath string    `db:"storage_path" json:"-"`
	SizeBytes   int64     `db:"size_bytes" json:"size_bytes"`
	MimeType    string    `db:"mime_type" json:"mime_type"`
	Visible     bool      `db:"visible" json:"visible"`
	Password    *string   `db:"password" json:"-"`
	AuthSecret  string    `db:"auth_secret" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Protected 报告文件是否设置了访问密码。
func (f *FileRecord) Protected() bool {
	return f.Password != nil && *f.Password != ""
}

// ListFilesParams 用于分页检索文件。
type ListFilesParams struct {
	IncludeHidden bool
	Limit         int
	Offset        int
}

// FileRepository 统一文件元数据持久层接口。
type FileRepository interface {
	Create(ctx context.Context, record *FileRecord) error
	GetByID(ctx context.Context, tenantID, id string) (*FileRecord, error)
	Exists(ctx context.Context, tenantID, id string) (bool, error)
	ListByTenant(ctx context.Context, tenantID string, params ListFilesParams) ([]FileRecord, error)
	UsageByTenant(ctx context.Context, tenantID string) (int64, error)
	UpdateSize(ctx context.Context, tenantID, id string, size int64) error
	ListPending(ctx context.Context) ([]FileRecord, error)
	Delete(ctx context.Context, tenantID, id string) error
}
