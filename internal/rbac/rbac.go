package rbac

// Role is the closed permission set on a todo list. The author of a list is
// always treated as RoleOwner; the other roles come from explicit
// membership grants.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// All lists every valid role, in descending order of privilege.
var All = []Role{RoleOwner, RoleEditor, RoleViewer}

// Writers are the roles allowed to mutate items on a list.
var Writers = []Role{RoleOwner, RoleEditor}

func Valid(role Role) bool {
	switch role {
	case RoleOwner, RoleEditor, RoleViewer:
		return true
	default:
		return false
	}
}

// In reports whether role is one of allowed.
func In(role Role, allowed ...Role) bool {
	for _, candidate := range allowed {
		if role == candidate {
			return true
		}
	}
	return false
}
