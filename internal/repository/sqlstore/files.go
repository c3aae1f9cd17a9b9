package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"paperplane/internal/repository"

	"github.com/jmoiron/sqlx"
)

var fileColumns = []string{
	"id",
	"tenant_id",
	"storage_path",
	"size_bytes",
	"mime_type",
	"visible",
	"password",
	"auth_secret",
	"created_at",
}

// FileRepository 实现 repository.FileRepository。
type FileRepository struct {
	db *sqlx.DB
}

func NewFileRepository(db *sqlx.DB) *FileRepository {
	return &FileRepository{db: db}
}

// Create 插入最终文件记录，同一租户下文件名冲突返回 repository.ErrConflict。
func (r *FileRepository) Create(ctx context.Context, f *repository.FileRecord) error {
	if f == nil {
		return fmt.Errorf("file record is nil")
	}

	query := fmt.Sprintf(`INSERT INTO files (%s) VALUES (%s)`,
		strings.Join(fileColumns, ","), placeholders(len(fileColumns)))
	_, err := r.db.ExecContext(ctx, query,
		f.ID,
		f.TenantID,
		f.StoragePath,
		f.SizeBytes,
		f.MimeType,
		f.Visible,
		f.Password,
		f.AuthSecret,
		f.CreatedAt,
	)
	return translateError(err)
}

func (r *FileRepository) GetByID(ctx context.Context, tenantID, id string) (*repository.FileRecord, error) {
	var f repository.FileRecord
	query := fmt.Sprintf(`SELECT %s FROM files WHERE tenant_id = $1 AND id = $2`, strings.Join(fileColumns, ","))
	if err := r.db.GetContext(ctx, &f, query, tenantID, id); err != nil {
		return nil, translateError(err)
	}
	return &f, nil
}

func (r *FileRepository) Exists(ctx context.Context, tenantID, id string) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM files WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListByTenant 按创建时间倒序分页返回租户文件。
func (r *FileRepository) ListByTenant(ctx context.Context, tenantID string, params repository.ListFilesParams) ([]repository.FileRecord, error) {
	limit := params.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	args := []any{tenantID}
	where := "WHERE tenant_id = $1 AND size_bytes > 0"
	if !params.IncludeHidden {
		args = append(args, true)
		where += fmt.Sprintf(" AND visible = $%d", len(args))
	}

	args = append(args, limit)
	tail := fmt.Sprintf("ORDER BY created_at DESC LIMIT $%d", len(args))
	if params.Offset > 0 {
		args = append(args, params.Offset)
		tail += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	query := fmt.Sprintf(`SELECT %s FROM files %s %s`, strings.Join(fileColumns, ","), where, tail)
	out := []repository.FileRecord{}
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// UsageByTenant 汇总租户已占用的字节数。
func (r *FileRepository) UsageByTenant(ctx context.Context, tenantID string) (int64, error) {
	var used int64
	err := r.db.GetContext(ctx, &used,
		`SELECT CAST(COALESCE(SUM(size_bytes), 0) AS BIGINT) FROM files WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return 0, err
	}
	return used, nil
}

// UpdateSize 在内容写完后登记最终大小。
func (r *FileRepository) UpdateSize(ctx context.Context, tenantID, id string, size int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE files SET size_bytes = $1 WHERE tenant_id = $2 AND id = $3`, size, tenantID, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// ListPending 返回所有租户中内容尚未写完的记录。
func (r *FileRepository) ListPending(ctx context.Context) ([]repository.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM files WHERE size_bytes = 0`, strings.Join(fileColumns, ","))
	out := []repository.FileRecord{}
	if err := r.db.SelectContext(ctx, &out, query); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *FileRepository) Delete(ctx context.Context, tenantID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}
