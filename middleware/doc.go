// Package middleware guards HTTP routes with rentAuth access tokens.
//
// [Guard] reads the bearer token from the Authorization header, verifies it
// through the engine and stores the resulting claims in the request
// context, where handlers read them back with [ClaimsFromContext].
// [RequireRole] restricts a guarded route to a set of roles. [ClientInfo]
// forwards the caller's IP and User-Agent to the engine for lockout
// tracking, device info and audit events.
//
// The Echo* variants do the same for echo routers.
//
// This package makes no authentication decisions of its own. A missing or
// rejected token is 401, a role mismatch is 403 and an engine dependency
// failure is 503.
package middleware
