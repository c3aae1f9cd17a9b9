package repository

import "errors"

var (
	// ErrNotFound 表示目标记录不存在。
	ErrNotFound = errors.New("repository: record not found")
	// ErrConflict 表示主键或唯一约束冲突。
	ErrConflict = errors.New("repository: record already exists")
)
