// Package rate throttles request bursts with Redis fixed-window counters.
//
// It sits in front of the auth endpoints and caps requests per client IP,
// independent of the engine's per-account lockout.
package rate
