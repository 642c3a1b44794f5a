// Package lockout implements the login guard: failed attempts are counted
// per identity key inside a sliding window, and reaching the threshold locks
// the key for a fixed duration.
//
// Keys are opaque to this package. Callers use one key per attacked
// dimension, for example "email:<addr>" and "ip:<addr>".
package lockout
