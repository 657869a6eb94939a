package auth

import "slices"

// Permission represents a named capability in the API.
type Permission string

// Permission constants.
const (
	PermStateRead        Permission = "state:read"
	PermLifecycleOperate Permission = "lifecycle:operate"
)

// rolePermissions maps each role to its granted permissions.
var rolePermissions = map[Role][]Permission{
	RoleViewer:   {PermStateRead},
	RoleOperator: {PermStateRead, PermLifecycleOperate},
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	return slices.Contains(rolePermissions[role], perm)
}

// Authorize parses the token and checks it grants perm.
//
// Returns the claims on success, ErrTokenInvalid for a bad token and
// ErrForbidden for a valid token lacking perm.
func Authorize(tokenString, secret string, perm Permission) (*CustomClaims, error) {
	claims, err := ParseToken(tokenString, secret)
	if err != nil {
		return nil, err
	}
	if !HasPermission(claims.Role, perm) {
		return claims, ErrForbidden
	}
	return claims, nil
}
