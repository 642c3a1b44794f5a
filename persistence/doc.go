// Package persistence stores identities and refresh tokens in a relational
// database through gorm.
//
// [IdentityRepository] implements rentAuth.IdentityStore and
// [RefreshRepository] implements refresh.Store. Both work against SQLite
// (pure Go, no cgo) and PostgreSQL; pick the driver with [Config.Driver].
// Rotation runs inside a transaction and claims the presented token with a
// conditional UPDATE, so two instances can never both rotate one token.
package persistence
