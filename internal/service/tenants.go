package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"paperplane/internal/repository"
)

func loadTenant(ctx context.Context, tenants repository.TenantRepository, tenantID string) (*repository.Tenant, error) {
	tenant, err := tenants.GetByID(ctx, tenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load tenant: %w", err)
	}
	return tenant, nil
}

// tenantByHost 按请求 Host 解析租户，忽略端口与大小写。
func tenantByHost(ctx context.Context, tenants repository.TenantRepository, host string) (*repository.Tenant, error) {
	host = strings.ToLower(strings.TrimSpace(host))
	if i := strings.LastIndex(host, ":"); i > 0 && !strings.HasSuffix(host, "]") {
		host = host[:i]
	}
	tenant, err := tenants.GetByDomain(ctx, host)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load tenant by domain: %w", err)
	}
	return tenant, nil
}
