package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner      = "owner"
	RoleAdmin      = "admin"
	RoleMember     = "member"
	RoleSuperAdmin = "super_admin"
	RoleService    = "service" // hidden role for the assistant runtime
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleService }

// TaskRoles may schedule, edit and cancel tasks.
var TaskRoles = []string{RoleOwner, RoleAdmin, RoleMember}

// TelephonyRoles may provision, repair and buy numbers for their tenant.
var TelephonyRoles = []string{RoleOwner, RoleAdmin}
