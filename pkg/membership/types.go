package membership

import (
	"time"

	"github.com/aquiline/gatehouse/pkg/rbac"
)

// MemberType distinguishes the two kinds of members an edge can attach.
type MemberType string

const (
	MemberUser  MemberType = "USER"
	MemberGroup MemberType = "GROUP"
)

// Valid reports whether the member type is known.
func (t MemberType) Valid() bool {
	return t == MemberUser || t == MemberGroup
}

// SourceManual marks edges created through the console rather than by a
// provisioning reconciler. Reconciler-created edges carry the identity
// provider id instead.
const SourceManual = ""

// Reference identifies the resource a membership applies to.
type Reference struct {
	Type rbac.Scope `json:"type"`
	ID   string     `json:"id"`
}

// Key is the natural key of a membership edge. At most one edge exists per
// key; role changes update the edge in place.
type Key struct {
	MemberID      string     `json:"member_id"`
	MemberType    MemberType `json:"member_type"`
	ReferenceID   string     `json:"reference_id"`
	ReferenceType rbac.Scope `json:"reference_type"`
}

// Membership is an edge in the membership graph: a member (user or group)
// holding exactly one role on a reference.
type Membership struct {
	ID            string     `json:"id"`
	MemberID      string     `json:"member_id"`
	MemberType    MemberType `json:"member_type"`
	ReferenceID   string     `json:"reference_id"`
	ReferenceType rbac.Scope `json:"reference_type"`
	RoleID        string     `json:"role_id"`
	Source        string     `json:"source,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Key returns the edge's natural key.
func (m *Membership) Key() Key {
	return Key{
		MemberID:      m.MemberID,
		MemberType:    m.MemberType,
		ReferenceID:   m.ReferenceID,
		ReferenceType: m.ReferenceType,
	}
}
