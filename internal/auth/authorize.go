package auth

import "strings"

// Principal is the authenticated caller carried through the request context.
type Principal struct {
	UserID     string   `json:"user_id"`
	Name       string   `json:"name,omitempty"`
	EmployeeID string   `json:"employee_id,omitempty"`
	Roles      []string `json:"roles,omitempty"`
}

// HasRole reports whether the principal holds the role (case-insensitive).
func (p Principal) HasRole(role string) bool {
	role = strings.TrimSpace(strings.ToLower(role))
	if role == "" {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasPermission reports whether any of the principal's roles grants key.
func (p Principal) HasPermission(key string) bool {
	for _, r := range p.Roles {
		for _, perm := range rolePermissions[r] {
			if perm == key {
				return true
			}
		}
	}
	return false
}
