package auth

import "errors"

// Role represents an authorisation tier for API callers.
type Role string

const (
	// RoleViewer may read state and the transition journal.
	RoleViewer Role = "viewer"

	// RoleOperator may also start, stop and reset the controller.
	RoleOperator Role = "operator"
)

// ValidRoles returns every known role.
func ValidRoles() []Role {
	return []Role{RoleViewer, RoleOperator}
}

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	for _, v := range ValidRoles() {
		if r == v {
			return true
		}
	}
	return false
}

// Domain errors.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrForbidden    = errors.New("permission denied")
)
