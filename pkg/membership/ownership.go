package membership

import (
	"context"
	"fmt"

	"github.com/aquiline/gatehouse/pkg/audit"
	"github.com/aquiline/gatehouse/pkg/rbac"
)

// Transactor performs atomic primary-ownership operations on top of the
// graph. Both operations serialize on a per-reference mutex so that a
// concurrent reader never observes zero or two owners for a live reference.
type Transactor struct {
	graph   *Graph
	catalog rbac.Catalog
	sink    audit.Sink
	locks   *lockTable
}

// NewTransactor creates an ownership transactor over graph.
func NewTransactor(graph *Graph, sink audit.Sink) *Transactor {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Transactor{
		graph:   graph,
		catalog: graph.Catalog(),
		sink:    sink,
		locks:   newLockTable(),
	}
}

// GrantInitialOwnership creates the PRIMARY_OWNER edge for a newly created
// API or application. Valid only once per reference: ErrAlreadyOwned when an
// owner edge already exists.
func (t *Transactor) GrantInitialOwnership(ctx context.Context, referenceType rbac.Scope, referenceID, ownerID string) error {
	if !referenceType.Ownable() {
		return fmt.Errorf("%w: scope %s does not support ownership", ErrInvalidRole, referenceType)
	}

	release := t.locks.acquire(string(referenceType) + "/" + referenceID)
	defer release()

	ownerRole, err := t.primaryOwnerRole(ctx, referenceType)
	if err != nil {
		return err
	}

	current, err := t.currentOwner(ctx, referenceType, referenceID, ownerRole.ID)
	if err != nil {
		return err
	}
	if current != nil {
		return fmt.Errorf("%w: %s/%s owned by %q", ErrAlreadyOwned, referenceType, referenceID, current.MemberID)
	}

	if _, err := t.graph.Upsert(ctx, ownerID, MemberUser, referenceID, referenceType, ownerRole.ID, SourceManual); err != nil {
		return err
	}

	t.sink.Record(ctx, audit.Event{
		Type:          audit.EventOwnershipGranted,
		Actor:         ownerID,
		MemberID:      ownerID,
		MemberType:    string(MemberUser),
		ReferenceType: string(referenceType),
		ReferenceID:   referenceID,
		RoleName:      rbac.RolePrimaryOwner,
	})
	return nil
}

// TransferOwnership atomically re-roles the current owner's edge to
// toOwnerNewRoleName and makes toOwnerID the primary owner. ErrNotOwner when
// fromOwnerID does not currently hold the owner edge. If the second re-role
// fails the first is rolled back; at no point does a concurrent reader see
// zero or two owners.
func (t *Transactor) TransferOwnership(ctx context.Context, referenceType rbac.Scope, referenceID, fromOwnerID, toOwnerID, toOwnerNewRoleName string) error {
	if !referenceType.Ownable() {
		return fmt.Errorf("%w: scope %s does not support ownership", ErrInvalidRole, referenceType)
	}

	release := t.locks.acquire(string(referenceType) + "/" + referenceID)
	defer release()

	ownerRole, err := t.primaryOwnerRole(ctx, referenceType)
	if err != nil {
		return err
	}

	current, err := t.currentOwner(ctx, referenceType, referenceID, ownerRole.ID)
	if err != nil {
		return err
	}
	if current == nil || current.MemberID != fromOwnerID {
		return fmt.Errorf("%w: %q does not own %s/%s", ErrNotOwner, fromOwnerID, referenceType, referenceID)
	}

	newRole, err := t.catalog.FindByScopeAndName(ctx, referenceType, toOwnerNewRoleName)
	if err != nil {
		return fmt.Errorf("failed to resolve role %q: %w", toOwnerNewRoleName, err)
	}
	if newRole == nil {
		return fmt.Errorf("%w: no %s role named %q", rbac.ErrRoleNotFound, referenceType, toOwnerNewRoleName)
	}

	// Step one: demote the outgoing owner so they keep a non-owner role.
	if _, err := t.graph.Upsert(ctx, fromOwnerID, MemberUser, referenceID, referenceType, newRole.ID, current.Source); err != nil {
		return fmt.Errorf("failed to re-role outgoing owner: %w", err)
	}

	// Step two: promote the incoming owner. On failure, restore step one.
	if _, err := t.graph.Upsert(ctx, toOwnerID, MemberUser, referenceID, referenceType, ownerRole.ID, SourceManual); err != nil {
		if _, rbErr := t.graph.Upsert(ctx, fromOwnerID, MemberUser, referenceID, referenceType, ownerRole.ID, current.Source); rbErr != nil {
			return fmt.Errorf("failed to promote incoming owner (%v) and to restore previous owner: %w", err, rbErr)
		}
		return fmt.Errorf("failed to promote incoming owner: %w", err)
	}

	t.sink.Record(ctx, audit.Event{
		Type:          audit.EventOwnershipTransfer,
		Actor:         fromOwnerID,
		MemberID:      toOwnerID,
		MemberType:    string(MemberUser),
		ReferenceType: string(referenceType),
		ReferenceID:   referenceID,
		RoleName:      rbac.RolePrimaryOwner,
		Metadata: map[string]interface{}{
			"previous_owner":      fromOwnerID,
			"previous_owner_role": toOwnerNewRoleName,
		},
	})
	return nil
}

// Owner returns the member currently holding the PRIMARY_OWNER edge on the
// reference, or nil when the reference has no owner.
func (t *Transactor) Owner(ctx context.Context, referenceType rbac.Scope, referenceID string) (*Membership, error) {
	if !referenceType.Ownable() {
		return nil, fmt.Errorf("%w: scope %s does not support ownership", ErrInvalidRole, referenceType)
	}
	ownerRole, err := t.primaryOwnerRole(ctx, referenceType)
	if err != nil {
		return nil, err
	}
	return t.currentOwner(ctx, referenceType, referenceID, ownerRole.ID)
}

func (t *Transactor) primaryOwnerRole(ctx context.Context, scope rbac.Scope) (*rbac.Role, error) {
	role, err := t.catalog.FindByScopeAndName(ctx, scope, rbac.RolePrimaryOwner)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve PRIMARY_OWNER role for %s: %w", scope, err)
	}
	if role == nil {
		return nil, fmt.Errorf("%w: no PRIMARY_OWNER role configured for scope %s", rbac.ErrRoleNotFound, scope)
	}
	return role, nil
}

func (t *Transactor) currentOwner(ctx context.Context, referenceType rbac.Scope, referenceID, ownerRoleID string) (*Membership, error) {
	edges, err := t.graph.FindByReference(ctx, referenceType, referenceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	for i := range edges {
		if edges[i].MemberType == MemberUser && edges[i].RoleID == ownerRoleID {
			return &edges[i], nil
		}
	}
	return nil, nil
}
