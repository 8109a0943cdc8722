package directory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pulseboard/pulseboard/internal/core"
)

// Postgres implements Directory against the dashboard's relational schema
// (see migrations/).
type Postgres struct {
	db *sqlx.DB
}

func NewConnection(databaseURL string, maxConns, maxIdle int) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) ListActiveTenants(ctx context.Context) ([]core.Tenant, error) {
	tenants := []core.Tenant{}
	query := `
		SELECT id, slug, name, active FROM tenants
		WHERE active = true
		ORDER BY id`

	if err := p.db.SelectContext(ctx, &tenants, query); err != nil {
		return nil, fmt.Errorf("failed to list active tenants: %w", err)
	}
	return tenants, nil
}

func (p *Postgres) GetTenant(ctx context.Context, tenantID int64) (*core.Tenant, error) {
	var t core.Tenant
	query := `SELECT id, slug, name, active FROM tenants WHERE id = $1`

	err := p.db.GetContext(ctx, &t, query, tenantID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tenant %d not found", tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant %d: %w", tenantID, err)
	}
	return &t, nil
}

func (p *Postgres) GetCredentials(ctx context.Context, tenantID int64) (*core.Credentials, error) {
	var c core.Credentials
	query := `
		SELECT department_key, COALESCE(individuals_key, '') AS individuals_key, endpoint
		FROM tenants WHERE id = $1`

	err := p.db.GetContext(ctx, &c, query, tenantID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tenant %d not found", tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials for tenant %d: %w", tenantID, err)
	}
	return &c, nil
}

func (p *Postgres) ListDepartments(ctx context.Context, tenantID int64) ([]core.Subject, error) {
	subjects := []core.Subject{}
	query := `
		SELECT name, provider_code FROM departments
		WHERE tenant_id = $1
		ORDER BY name`

	if err := p.db.SelectContext(ctx, &subjects, query, tenantID); err != nil {
		return nil, fmt.Errorf("failed to list departments for tenant %d: %w", tenantID, err)
	}
	return subjects, nil
}

func (p *Postgres) ListDepartmentRoster(ctx context.Context, tenantID int64, departmentName string) ([]core.SubjectRecord, error) {
	records := []core.SubjectRecord{}
	query := `
		SELECT p.external_id, p.display_name, p.email, COALESCE(p.channel_code, '') AS channel_code
		FROM people p
		JOIN departments d ON d.id = p.department_id
		WHERE d.tenant_id = $1 AND d.name = $2
		ORDER BY p.display_name`

	if err := p.db.SelectContext(ctx, &records, query, tenantID, departmentName); err != nil {
		return nil, fmt.Errorf("failed to list roster for %q: %w", departmentName, err)
	}
	return records, nil
}

func (p *Postgres) ListIndividualsRoster(ctx context.Context, tenantID int64) ([]core.SubjectRecord, error) {
	records := []core.SubjectRecord{}
	query := `
		SELECT external_id, display_name, email, COALESCE(channel_code, '') AS channel_code
		FROM people
		WHERE tenant_id = $1 AND individual = true
		ORDER BY display_name`

	if err := p.db.SelectContext(ctx, &records, query, tenantID); err != nil {
		return nil, fmt.Errorf("failed to list individuals for tenant %d: %w", tenantID, err)
	}
	return records, nil
}
