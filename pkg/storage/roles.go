package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aquiline/gatehouse/pkg/observability"
	"github.com/aquiline/gatehouse/pkg/rbac"
)

// RoleStore persists role definitions and implements rbac.Catalog.
type RoleStore struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// NewRoleStore creates a role store. metrics may be nil.
func NewRoleStore(db *sql.DB, metrics *observability.Metrics) *RoleStore {
	return &RoleStore{db: db, metrics: metrics}
}

const roleColumns = `id, scope, name, description, permissions, is_system, is_default, created_at, updated_at`

// Create inserts a new role definition with a generated id.
func (s *RoleStore) Create(ctx context.Context, role *rbac.Role) error {
	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now

	query := `
		INSERT INTO roles (id, scope, name, description, permissions, is_system, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.db.ExecContext(ctx, query,
		role.ID,
		string(role.Scope),
		role.Name,
		role.Description,
		string(permissionsJSON),
		role.IsSystem,
		role.IsDefault,
		role.CreatedAt,
		role.UpdatedAt,
	)
	s.track("roles", "create", err)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

// Update replaces the permissions and description of a non-system role.
func (s *RoleStore) Update(ctx context.Context, role *rbac.Role) error {
	existing, err := s.FindByID(ctx, role.ID)
	if err != nil {
		return err
	}
	if existing.IsSystem {
		return fmt.Errorf("cannot update system role %s/%s", existing.Scope, existing.Name)
	}

	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	role.UpdatedAt = time.Now().UTC()
	query := `UPDATE roles SET description = $1, permissions = $2, is_default = $3, updated_at = $4 WHERE id = $5`
	_, err = s.db.ExecContext(ctx, query, role.Description, string(permissionsJSON), role.IsDefault, role.UpdatedAt, role.ID)
	s.track("roles", "update", err)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	return nil
}

// Delete removes a non-system role.
func (s *RoleStore) Delete(ctx context.Context, id string) error {
	existing, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if existing.IsSystem {
		return fmt.Errorf("cannot delete system role %s/%s", existing.Scope, existing.Name)
	}

	_, err = s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id)
	s.track("roles", "delete", err)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return nil
}

// FindByID retrieves a role by id. Fails with rbac.ErrRoleNotFound when
// absent.
func (s *RoleStore) FindByID(ctx context.Context, id string) (*rbac.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1`
	role, err := scanRole(s.db.QueryRowContext(ctx, query, id))
	s.track("roles", "find_by_id", err)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: id %q", rbac.ErrRoleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// FindByScopeAndName retrieves a role by its natural key, or (nil, nil) when
// absent.
func (s *RoleStore) FindByScopeAndName(ctx context.Context, scope rbac.Scope, name string) (*rbac.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE scope = $1 AND name = $2`
	role, err := scanRole(s.db.QueryRowContext(ctx, query, string(scope), name))
	s.track("roles", "find_by_key", err)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// FindDefaultRoles returns the default role of each requested scope.
func (s *RoleStore) FindDefaultRoles(ctx context.Context, scopes ...rbac.Scope) ([]rbac.Role, error) {
	if len(scopes) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(scopes))
	args := make([]interface{}, len(scopes))
	for i, scope := range scopes {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = string(scope)
	}

	query := `SELECT ` + roleColumns + ` FROM roles WHERE is_default AND scope IN (` + strings.Join(placeholders, ", ") + `) ORDER BY scope`
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.track("roles", "find_defaults", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list default roles: %w", err)
	}
	defer rows.Close()

	return collectRoles(rows)
}

// FindAll returns every role definition.
func (s *RoleStore) FindAll(ctx context.Context) ([]rbac.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles ORDER BY scope, name`
	rows, err := s.db.QueryContext(ctx, query)
	s.track("roles", "find_all", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	return collectRoles(rows)
}

// SeedBuiltInRoles installs the built-in role set, skipping roles that
// already exist. Intended for gatehousectl seed and test setup.
func (s *RoleStore) SeedBuiltInRoles(ctx context.Context) error {
	for _, role := range rbac.BuiltInRoles() {
		existing, err := s.FindByScopeAndName(ctx, role.Scope, role.Name)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		r := role
		if err := s.Create(ctx, &r); err != nil {
			return err
		}
	}
	return nil
}

func (s *RoleStore) track(store, op string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.StorageOperationsTotal.WithLabelValues(store, op).Inc()
	if err != nil && err != sql.ErrNoRows {
		s.metrics.StorageErrorsTotal.WithLabelValues(store, op).Inc()
	}
	s.metrics.UpdateDBStats(s.db)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(scanner rowScanner) (*rbac.Role, error) {
	var role rbac.Role
	var scope string
	var permissionsJSON string

	err := scanner.Scan(
		&role.ID,
		&scope,
		&role.Name,
		&role.Description,
		&permissionsJSON,
		&role.IsSystem,
		&role.IsDefault,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	role.Scope = rbac.Scope(scope)
	if err := json.Unmarshal([]byte(permissionsJSON), &role.Permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions for role %q: %w", role.ID, err)
	}
	return &role, nil
}

func collectRoles(rows *sql.Rows) ([]rbac.Role, error) {
	var roles []rbac.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}
