package audit

import (
	"time"
)

// EventType identifies what happened.
type EventType string

const (
	EventMembershipCreated EventType = "membership.created"
	EventMembershipUpdated EventType = "membership.updated"
	EventMembershipDeleted EventType = "membership.deleted"
	EventOwnershipGranted  EventType = "ownership.granted"
	EventOwnershipTransfer EventType = "ownership.transferred"
	EventReconcileApplied  EventType = "provisioning.reconciled"
)

// Event is a single audit record. Actor is the principal that triggered the
// change; for provisioning-originated changes the actor is the identity
// provider id.
type Event struct {
	Type          EventType              `json:"type"`
	Actor         string                 `json:"actor"`
	MemberID      string                 `json:"member_id,omitempty"`
	MemberType    string                 `json:"member_type,omitempty"`
	ReferenceType string                 `json:"reference_type,omitempty"`
	ReferenceID   string                 `json:"reference_id,omitempty"`
	RoleName      string                 `json:"role_name,omitempty"`
	Source        string                 `json:"source,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}
