package directory

import (
	"context"

	"github.com/pulseboard/pulseboard/internal/core"
)

// Directory is the engine's read-only view of the relational store: active
// tenants, their provider credentials and their tracked populations. The
// engine treats everything here as owned elsewhere; a tenant vanishing
// between calls is expected, not an error.
type Directory interface {
	ListActiveTenants(ctx context.Context) ([]core.Tenant, error)
	GetTenant(ctx context.Context, tenantID int64) (*core.Tenant, error)
	GetCredentials(ctx context.Context, tenantID int64) (*core.Credentials, error)
	ListDepartments(ctx context.Context, tenantID int64) ([]core.Subject, error)
	ListDepartmentRoster(ctx context.Context, tenantID int64, departmentName string) ([]core.SubjectRecord, error)
	ListIndividualsRoster(ctx context.Context, tenantID int64) ([]core.SubjectRecord, error)
}
