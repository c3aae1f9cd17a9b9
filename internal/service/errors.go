package service

import "errors"

var (
	// ErrQuotaExceeded 表示租户剩余存储不足。
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrChunkTooLarge 表示单个分片超过配置上限。
	ErrChunkTooLarge = errors.New("chunk exceeds size limit")
	// ErrEmptyFile 表示上传内容为空。
	ErrEmptyFile = errors.New("file must not be empty")
	// ErrTenantNotFound 表示请求方租户不存在。
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrFileNotFound 表示最终文件不存在或对请求方不可见。
	ErrFileNotFound = errors.New("file not found")
	// ErrPasswordRequired 表示文件受密码保护且未提供有效凭据。
	ErrPasswordRequired = errors.New("password required")
)
