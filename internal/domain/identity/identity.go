// Package identity defines the caller identity the auth collaborator
// resolves. Session and token management live outside the engine; every
// core operation receives the acting user explicitly.
package identity

// Role classifies a caller.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleHospital  Role = "hospital"
	RolePatient   Role = "patient"
	RoleBloodBank Role = "blood_bank"
	RoleDonor     Role = "donor"
)

// User is the resolved caller.
type User struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }
