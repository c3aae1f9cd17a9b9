package repository

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// ExtensionsMode 决定扩展名列表是白名单还是黑名单。
type ExtensionsMode string

const (
	ExtensionsAllow ExtensionsMode = "allow"
	ExtensionsDeny  ExtensionsMode = "deny"
)

// Tenant 是一个接入的域名账户，拥有独立的配额与命名配置。
type Tenant struct {
	ID              string         `db:"id" json:"id"`
	Domain          string         `db:"domain" json:"domain"`
	MaxStorageBytes int64          `db:"max_storage_bytes" json:"max_storage_bytes"`
	ExtensionsMode  ExtensionsMode `db:"extensions_mode" json:"extensions_mode"`
	Extensions      StringList     `db:"extensions" json:"extensions"`
	NamingStrategy  string         `db:"naming_strategy" json:"naming_strategy"`
	NameLength      int            `db:"name_length" json:"name_length"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
}

// AllowsExtension 按租户的 allow/deny 策略判断扩展名（不含点）是否允许上传。
func (t *Tenant) AllowsExtension(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	listed := false
	for _, item := range t.Extensions {
		if strings.EqualFold(strings.TrimPrefix(item, "."), ext) {
			listed = true
			break
		}
	}
	if t.ExtensionsMode == ExtensionsAllow {
		return listed
	}
	return !listed
}

// TenantRepository 统一租户持久层接口。
type TenantRepository interface {
	Create(ctx context.Context, tenant *Tenant) error
	GetByID(ctx context.Context, id string) (*Tenant, error)
	GetByDomain(ctx context.Context, domain string) (*Tenant, error)
	List(ctx context.Context) ([]Tenant, error)
}

// StringList 以逗号分隔文本形式存储在单列中。
type StringList []string

// Value 实现 driver.Valuer。
func (l StringList) Value() (driver.Value, error) {
	return strings.Join(l, ","), nil
}

// Scan 实现 sql.Scanner。
func (l *StringList) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("scan StringList: unsupported type %T", src)
	}

	out := StringList{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	*l = out
	return nil
}
