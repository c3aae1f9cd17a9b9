package migrations

import (
	"database/sql"
	"fmt"
	"log/slog"

	dbmigrations "paperplane/db/migrations"

	"github.com/pressly/goose/v3"
)

// dialects 将数据库驱动名映射为 goose 方言。
var dialects = map[string]string{
	"sqlite": "sqlite3",
	"pgx":    "postgres",
}

func setup(driver string) error {
	dialect, ok := dialects[driver]
	if !ok {
		return fmt.Errorf("unsupported driver %q", driver)
	}
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	goose.SetBaseFS(dbmigrations.FS)
	goose.SetLogger(goose.NopLogger())
	return nil
}

// Apply 执行全部内嵌的 up 迁移，已执行的迁移会被跳过。
func Apply(db *sql.DB, driver string) error {
	if db == nil {
		return fmt.Errorf("nil database connection")
	}
	if err := setup(driver); err != nil {
		return err
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	version, err := goose.GetDBVersion(db)
	if err == nil {
		slog.Info("migrations applied", "version", version)
	}
	return nil
}

// Rollback 回滚最近一次迁移。
func Rollback(db *sql.DB, driver string) error {
	if err := setup(driver); err != nil {
		return err
	}
	if err := goose.Down(db, "."); err != nil {
		return fmt.Errorf("rollback migration: %w", err)
	}
	return nil
}
