package user

import "fmt"

type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

type Permission string

const (
	PermRead           Permission = "read"
	PermWrite          Permission = "write"
	PermDelete         Permission = "delete"
	PermManageUsers    Permission = "manage_users"
	PermManageProducts Permission = "manage_products"
	PermManageOrders   Permission = "manage_orders"
	PermViewAnalytics  Permission = "view_analytics"
)

var AllPermissions = []Permission{
	PermRead,
	PermWrite,
	PermDelete,
	PermManageUsers,
	PermManageProducts,
	PermManageOrders,
	PermViewAnalytics,
}

var rolePermissions = map[Role][]Permission{
	RoleUser:      {PermRead},
	RoleModerator: {PermRead, PermWrite, PermManageProducts},
	RoleAdmin:     AllPermissions,
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := rolePermissions[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

func ParsePermission(s string) (Permission, error) {
	p := Permission(s)
	for _, known := range AllPermissions {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown permission %q", s)
}

// PermissionsFor returns a fresh copy of the default permission set for role.
// Unknown roles fall back to read-only.
func PermissionsFor(role Role) []Permission {
	perms, ok := rolePermissions[role]
	if !ok {
		perms = rolePermissions[RoleUser]
	}

	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// ApplyRole sets the role and replaces permissions wholesale.
// Admin forces IsAdmin on; no role ever clears it.
func (u *User) ApplyRole(role Role) {
	u.Role = role
	u.Permissions = PermissionsFor(role)

	if role == RoleAdmin {
		u.IsAdmin = true
	}
}
