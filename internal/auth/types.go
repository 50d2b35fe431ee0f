package auth

import "time"

// User is a login-capable principal, optionally linked to an employee record.
type User struct {
	ID           string
	Email        string
	Name         string
	EmployeeID   string
	PasswordHash string
	Roles        []string
	Active       bool
	CreatedAt    time.Time
}

// Principal returns the token-facing view of the user.
func (u User) Principal() Principal {
	return Principal{
		UserID:     u.ID,
		Name:       u.Name,
		EmployeeID: u.EmployeeID,
		Roles:      normalizeRoles(u.Roles),
	}
}
