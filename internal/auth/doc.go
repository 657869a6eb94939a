// Package auth issues and checks the bearer tokens that guard the
// control API's lifecycle commands.
//
// Tokens are HS256 JWTs signed with api.jwt.secret and carry a role:
//   - viewer: read state and the transition journal
//   - operator: also start, stop and reset the controller
//
// Permissions are a static role mapping; there is no user store.
package auth
