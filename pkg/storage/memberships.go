package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aquiline/gatehouse/pkg/membership"
	"github.com/aquiline/gatehouse/pkg/observability"
	"github.com/aquiline/gatehouse/pkg/rbac"
)

// MembershipStore persists membership edges and implements membership.Store.
// The unique constraint on (member_id, member_type, reference_id,
// reference_type) backs the upsert semantics.
type MembershipStore struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// NewMembershipStore creates a membership store. metrics may be nil.
func NewMembershipStore(db *sql.DB, metrics *observability.Metrics) *MembershipStore {
	return &MembershipStore{db: db, metrics: metrics}
}

const membershipColumns = `id, member_id, member_type, reference_id, reference_type, role_id, source, created_at, updated_at`

// Upsert inserts the edge or updates the existing edge for the same key.
func (s *MembershipStore) Upsert(ctx context.Context, edge *membership.Membership) error {
	query := `
		INSERT INTO memberships (id, member_id, member_type, reference_id, reference_type, role_id, source, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (member_id, member_type, reference_id, reference_type)
		DO UPDATE SET role_id = excluded.role_id, source = excluded.source, updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		edge.ID,
		edge.MemberID,
		string(edge.MemberType),
		edge.ReferenceID,
		string(edge.ReferenceType),
		edge.RoleID,
		edge.Source,
		edge.CreatedAt,
		edge.UpdatedAt,
	)
	s.track("memberships", "upsert", err)
	if err != nil {
		return fmt.Errorf("failed to upsert membership: %w", err)
	}
	return nil
}

// Delete removes the edge with the given key, reporting whether one existed.
func (s *MembershipStore) Delete(ctx context.Context, key membership.Key) (bool, error) {
	query := `
		DELETE FROM memberships
		WHERE member_id = $1 AND member_type = $2 AND reference_id = $3 AND reference_type = $4
	`
	result, err := s.db.ExecContext(ctx, query,
		key.MemberID, string(key.MemberType), key.ReferenceID, string(key.ReferenceType))
	s.track("memberships", "delete", err)
	if err != nil {
		return false, fmt.Errorf("failed to delete membership: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read delete result: %w", err)
	}
	return affected > 0, nil
}

// DeleteByMember removes every edge held by the member.
func (s *MembershipStore) DeleteByMember(ctx context.Context, memberID string, memberType membership.MemberType) error {
	query := `DELETE FROM memberships WHERE member_id = $1 AND member_type = $2`
	_, err := s.db.ExecContext(ctx, query, memberID, string(memberType))
	s.track("memberships", "delete_by_member", err)
	if err != nil {
		return fmt.Errorf("failed to delete memberships by member: %w", err)
	}
	return nil
}

// DeleteByReference removes every edge attached to the reference.
func (s *MembershipStore) DeleteByReference(ctx context.Context, referenceType rbac.Scope, referenceID string) error {
	query := `DELETE FROM memberships WHERE reference_type = $1 AND reference_id = $2`
	_, err := s.db.ExecContext(ctx, query, string(referenceType), referenceID)
	s.track("memberships", "delete_by_reference", err)
	if err != nil {
		return fmt.Errorf("failed to delete memberships by reference: %w", err)
	}
	return nil
}

// FindByKey returns the edge for the key, or (nil, nil) when absent.
func (s *MembershipStore) FindByKey(ctx context.Context, key membership.Key) (*membership.Membership, error) {
	query := `
		SELECT ` + membershipColumns + ` FROM memberships
		WHERE member_id = $1 AND member_type = $2 AND reference_id = $3 AND reference_type = $4
	`
	edge, err := scanMembership(s.db.QueryRowContext(ctx, query,
		key.MemberID, string(key.MemberType), key.ReferenceID, string(key.ReferenceType)))
	s.track("memberships", "find_by_key", err)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return edge, nil
}

// FindByMemberAndType returns every edge the member holds on references of
// the given type.
func (s *MembershipStore) FindByMemberAndType(ctx context.Context, memberID string, memberType membership.MemberType, referenceType rbac.Scope) ([]membership.Membership, error) {
	query := `
		SELECT ` + membershipColumns + ` FROM memberships
		WHERE member_id = $1 AND member_type = $2 AND reference_type = $3
		ORDER BY reference_id
	`
	rows, err := s.db.QueryContext(ctx, query, memberID, string(memberType), string(referenceType))
	s.track("memberships", "find_by_member", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships by member: %w", err)
	}
	defer rows.Close()

	return collectMemberships(rows)
}

// FindByReference returns every edge attached to the reference.
func (s *MembershipStore) FindByReference(ctx context.Context, referenceType rbac.Scope, referenceID string) ([]membership.Membership, error) {
	query := `
		SELECT ` + membershipColumns + ` FROM memberships
		WHERE reference_type = $1 AND reference_id = $2
		ORDER BY member_id
	`
	rows, err := s.db.QueryContext(ctx, query, string(referenceType), referenceID)
	s.track("memberships", "find_by_reference", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships by reference: %w", err)
	}
	defer rows.Close()

	return collectMemberships(rows)
}

// FindGroupIDs returns the ids of groups the user belongs to.
func (s *MembershipStore) FindGroupIDs(ctx context.Context, memberID string) ([]string, error) {
	query := `
		SELECT reference_id FROM memberships
		WHERE member_id = $1 AND member_type = $2 AND reference_type = $3
		ORDER BY reference_id
	`
	rows, err := s.db.QueryContext(ctx, query, memberID, string(membership.MemberUser), string(rbac.ScopeGroup))
	s.track("memberships", "find_group_ids", err)
	if err != nil {
		return nil, fmt.Errorf("failed to list group ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *MembershipStore) track(store, op string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.StorageOperationsTotal.WithLabelValues(store, op).Inc()
	if err != nil && err != sql.ErrNoRows {
		s.metrics.StorageErrorsTotal.WithLabelValues(store, op).Inc()
	}
	s.metrics.UpdateDBStats(s.db)
}

func scanMembership(scanner rowScanner) (*membership.Membership, error) {
	var edge membership.Membership
	var memberType, referenceType string

	err := scanner.Scan(
		&edge.ID,
		&edge.MemberID,
		&memberType,
		&edge.ReferenceID,
		&referenceType,
		&edge.RoleID,
		&edge.Source,
		&edge.CreatedAt,
		&edge.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	edge.MemberType = membership.MemberType(memberType)
	edge.ReferenceType = rbac.Scope(referenceType)
	return &edge, nil
}

func collectMemberships(rows *sql.Rows) ([]membership.Membership, error) {
	var edges []membership.Membership
	for rows.Next() {
		edge, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		edges = append(edges, *edge)
	}
	return edges, rows.Err()
}
