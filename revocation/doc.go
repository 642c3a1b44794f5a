// Package revocation tracks access tokens invalidated before their natural
// expiry.
//
// Entries carry the expiry of the token they block and are discarded once
// it passes, so the registry only holds tokens that are still valid but
// revoked. [RedisRegistry] relies on native key expiry and is shared across
// instances. [MemoryRegistry] is process-local and needs [Sweeper] or
// explicit SweepExpired calls to release memory. Lookups never depend on
// sweeping.
package revocation
