package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aquiline/gatehouse/pkg/observability"
	"github.com/aquiline/gatehouse/pkg/rbac"
)

// Group is a named collection of users whose members receive the group's
// memberships transitively.
type Group struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GroupStore persists groups and their per-scope default roles. It implements
// provisioning.GroupDefaults.
type GroupStore struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// NewGroupStore creates a group store. metrics may be nil.
func NewGroupStore(db *sql.DB, metrics *observability.Metrics) *GroupStore {
	return &GroupStore{db: db, metrics: metrics}
}

// Create inserts a new group with a generated id.
func (s *GroupStore) Create(ctx context.Context, group *Group) error {
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	group.CreatedAt = now
	group.UpdatedAt = now

	query := `INSERT INTO groups (id, name, created_at, updated_at) VALUES ($1, $2, $3, $4)`
	_, err := s.db.ExecContext(ctx, query, group.ID, group.Name, group.CreatedAt, group.UpdatedAt)
	s.track("groups", "create", err)
	if err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}
	return nil
}

// FindByID returns the group with the given id, or (nil, nil) when absent.
func (s *GroupStore) FindByID(ctx context.Context, id string) (*Group, error) {
	query := `SELECT id, name, created_at, updated_at FROM groups WHERE id = $1`
	var group Group
	err := s.db.QueryRowContext(ctx, query, id).Scan(&group.ID, &group.Name, &group.CreatedAt, &group.UpdatedAt)
	s.track("groups", "find_by_id", err)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return &group, nil
}

// FindAll returns every group ordered by name.
func (s *GroupStore) FindAll(ctx context.Context) ([]Group, error) {
	query := `SELECT id, name, created_at, updated_at FROM groups ORDER BY name`
	rows, err := s.db.QueryContext(ctx, query)
	s.track("groups", "find_all", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var group Group
		if err := rows.Scan(&group.ID, &group.Name, &group.CreatedAt, &group.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, group)
	}
	return groups, rows.Err()
}

// Delete removes the group. Default-role rows cascade.
func (s *GroupStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id)
	s.track("groups", "delete", err)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	return nil
}

// SetDefaultRole records the role new group members receive at the given
// scope, replacing any previous choice for that scope.
func (s *GroupStore) SetDefaultRole(ctx context.Context, groupID string, scope rbac.Scope, roleID string) error {
	query := `
		INSERT INTO group_default_roles (group_id, scope, role_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, scope) DO UPDATE SET role_id = excluded.role_id
	`
	_, err := s.db.ExecContext(ctx, query, groupID, string(scope), roleID)
	s.track("groups", "set_default_role", err)
	if err != nil {
		return fmt.Errorf("failed to set group default role: %w", err)
	}
	return nil
}

// DefaultRoleID returns the group's default role id at the given scope, or
// "" when the group carries none.
func (s *GroupStore) DefaultRoleID(ctx context.Context, groupID string, scope rbac.Scope) (string, error) {
	query := `SELECT role_id FROM group_default_roles WHERE group_id = $1 AND scope = $2`
	var roleID string
	err := s.db.QueryRowContext(ctx, query, groupID, string(scope)).Scan(&roleID)
	s.track("groups", "default_role", err)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get group default role: %w", err)
	}
	return roleID, nil
}

func (s *GroupStore) track(store, op string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.StorageOperationsTotal.WithLabelValues(store, op).Inc()
	if err != nil && err != sql.ErrNoRows {
		s.metrics.StorageErrorsTotal.WithLabelValues(store, op).Inc()
	}
	s.metrics.UpdateDBStats(s.db)
}
