package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"paperplane/internal/repository"

	"github.com/jmoiron/sqlx"
)

var partialUploadColumns = []string{
	"id",
	"tenant_id",
	"path",
	"filename",
	"mime_type",
	"password",
	"visible",
	"status",
	"document_id",
	"created_at",
}

// PartialUploadRepository 实现 repository.PartialUploadRepository。
type PartialUploadRepository struct {
	db *sqlx.DB
}

func NewPartialUploadRepository(db *sqlx.DB) *PartialUploadRepository {
	return &PartialUploadRepository{db: db}
}

func (r *PartialUploadRepository) Create(ctx context.Context, p *repository.PartialUploadRecord) error {
	if p == nil {
		return fmt.Errorf("partial upload record is nil")
	}

	query := fmt.Sprintf(`INSERT INTO partial_uploads (%s) VALUES (%s)`,
		strings.Join(partialUploadColumns, ","), placeholders(len(partialUploadColumns)))
	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.TenantID,
		p.Path,
		p.Filename,
		p.MimeType,
		p.Password,
		p.Visible,
		p.Status,
		p.DocumentID,
		p.CreatedAt,
	)
	return translateError(err)
}

func (r *PartialUploadRepository) ListByTenant(ctx context.Context, tenantID string) ([]repository.PartialUploadRecord, error) {
	out := []repository.PartialUploadRecord{}
	query := fmt.Sprintf(`SELECT %s FROM partial_uploads WHERE tenant_id = $1 ORDER BY created_at`,
		strings.Join(partialUploadColumns, ","))
	if err := r.db.SelectContext(ctx, &out, query, tenantID); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PartialUploadRepository) UpdateStatus(ctx context.Context, id string, status repository.UploadStatus, documentID *string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE partial_uploads SET status = $1, document_id = $2 WHERE id = $3`, status, documentID, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r *PartialUploadRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM partial_uploads WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}
