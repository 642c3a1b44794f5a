// Package jwt issues and verifies HS256 access and refresh tokens.
//
// Access and refresh tokens are signed with distinct secrets and carry
// distinct audiences, so neither can be replayed as the other. Verification
// failures collapse into three errors: [ErrExpired], [ErrMalformed] and
// [ErrAudienceMismatch].
package jwt
