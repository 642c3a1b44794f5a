// Package rentAuth is the authentication core of the rental backend: account
// registration, credential login with brute-force lockout, short-lived JWT
// access tokens and rotating refresh tokens with reuse detection.
//
// An [Engine] is built once through [Builder.Build] and is safe for
// concurrent use. Identities live behind the caller's [IdentityStore]; refresh
// tokens, revocations and lockout counters live either in process memory or
// in Redis when [Builder.WithRedis] is used.
//
// # Sessions
//
// Login and Register each start a refresh family. Every Refresh spends the
// presented refresh token and issues its successor in the same family.
// Presenting a spent token again revokes the whole family and fails with
// [KindRefreshTokenReuseDetected]. Revoking a family also blacklists it, so
// access tokens minted for it are rejected by [Engine.Authenticate] until
// they expire on their own.
//
// # Errors
//
// Every failure returned by an Engine method is an [*Error] carrying an
// [ErrorKind]. Compare with errors.Is against the Err* sentinels or use
// [KindOf]. Dependency failures are logged and surface as
// [KindServiceUnavailable] without leaking the cause to callers.
package rentAuth
