// Package mimeext 把声明的 MIME 类型映射为文件扩展名。
package mimeext

import (
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Extension 返回 MIME 类型对应的扩展名（不含点）。
// 参数（如 charset）会被忽略；未知类型或没有扩展名的类型返回 false。
func Extension(mimeType string) (string, bool) {
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		return "", false
	}

	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return "", false
	}

	m := mimetype.Lookup(strings.ToLower(mediaType))
	if m == nil {
		return "", false
	}

	ext := strings.TrimPrefix(m.Extension(), ".")
	if ext == "" {
		return "", false
	}
	return ext, true
}

// Detect 通过内容嗅探推断 MIME 类型，用于客户端未声明类型时。
func Detect(head []byte) string {
	return mimetype.Detect(head).String()
}
