// Package sqlstore 提供基于 sqlx 的仓储实现，同时兼容 PostgreSQL（pgx）与 SQLite（modernc）。
package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"paperplane/internal/repository"

	"github.com/jackc/pgx/v5/pgconn"
)

func placeholders(n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(out, ",")
}

// translateError 将驱动错误转换为仓储层哨兵错误。
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", repository.ErrConflict, pgErr.ConstraintName)
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %v", repository.ErrConflict, err)
	}
	return err
}

func expectAffected(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}
