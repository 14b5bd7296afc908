package models

// Role values mirror the user-management service.
const (
	RoleEmployee   = "employee"
	RoleManager    = "manager"
	RoleSuperAdmin = "super_admin"
)

// User is the read-only projection of a platform user the chat core needs.
type User struct {
	ID       int    `db:"id" json:"id"`
	Username string `db:"username" json:"username"`
	Role     string `db:"role" json:"role"`
	IsActive bool   `db:"is_active" json:"is_active"`
}

// IsPrivileged reports whether the role may open direct rooms.
func IsPrivileged(role string) bool {
	return role == RoleManager || role == RoleSuperAdmin
}
