package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is the role a user holds within an organization.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Membership links a user to an organization with a role. Every organization
// has at least one owner membership from the moment it is created; the
// membership row is written in the same transaction as the organization.
type Membership struct {
	OrgID     uuid.UUID
	UserID    uuid.UUID
	Role      Role
	CreatedAt time.Time
}

// CanManage reports whether the role may update organization settings.
func (r Role) CanManage() bool {
	return r == RoleOwner || r == RoleAdmin
}
