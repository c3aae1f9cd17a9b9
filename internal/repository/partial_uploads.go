package repository

import (
	"context"
	"time"
)

// UploadStatus 描述分片上传的生命周期，只能 OPEN → PROCESSING → FINISHED 单向推进。
type UploadStatus string

const (
	UploadStatusOpen       UploadStatus = "OPEN"
	UploadStatusProcessing UploadStatus = "PROCESSING"
	UploadStatusFinished   UploadStatus = "FINISHED"
)

// PartialUploadRecord 是分片上传句柄的持久化镜像。
// 已接收的分片不落库，重启时以分片目录为准重新推导。
type PartialUploadRecord struct {
	ID         string       `db:"id"`
	TenantID   string       `db:"tenant_id"`
	Path       string       `db:"path"`
	Filename   string       `db:"filename"`
	MimeType   string       `db:"mime_type"`
	Password   *string      `db:"password"`
	Visible    bool         `db:"visible"`
	Status     UploadStatus `db:"status"`
	DocumentID *string      `db:"document_id"`
	CreatedAt  time.Time    `db:"created_at"`
}

// PartialUploadRepository 统一分片上传持久层接口。
type PartialUploadRepository interface {
	Create(ctx context.Context, record *PartialUploadRecord) error
	ListByTenant(ctx context.Context, tenantID string) ([]PartialUploadRecord, error)
	UpdateStatus(ctx context.Context, id string, status UploadStatus, documentID *string) error
	Delete(ctx context.Context, id string) error
}
