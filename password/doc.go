// Package password implements credential hashing, password policy checks and
// strong password generation.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Legacy bcrypt hashes ($2a$, $2b$, $2y$) are accepted by [Hasher.Verify] and
// always report [Hasher.NeedsUpgrade] so callers can rehash them on the next
// successful login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other rentAuth package.
//   - Log plaintext passwords.
package password
