package models

// Role is the access level attached to an identity profile.
type Role string

const (
	RoleUser       Role = "User"
	RoleAdmin      Role = "Admin"
	RoleSuperAdmin Role = "Super Admin"
)

// Roles lists every assignable role.
var Roles = []Role{RoleUser, RoleAdmin, RoleSuperAdmin}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// ManagesRecords reports whether the role may read and write an
// administrator namespace.
func (r Role) ManagesRecords() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// IdentityProfile is the public per-identity profile document.
type IdentityProfile struct {
	IdentityID string `json:"identityId,omitempty"`
	Role       Role   `json:"role"`
}

// Actor is an authenticated identity with its resolved role.
type Actor struct {
	ID    string
	Email string
	Role  Role
}
