package domain

// PermissionWildcard grants every permission to the members of a group.
const PermissionWildcard = "*"

// PermissionGroup is a per-channel group of members sharing permissions.
type PermissionGroup struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	Members     []string `json:"members"`
}

func (g *PermissionGroup) HasMember(user string) bool {
	for _, m := range g.Members {
		if m == user {
			return true
		}
	}
	return false
}

// Grants reports whether the group carries perm or the wildcard.
func (g *PermissionGroup) Grants(perm string) bool {
	for _, p := range g.Permissions {
		if p == perm || p == PermissionWildcard {
			return true
		}
	}
	return false
}
