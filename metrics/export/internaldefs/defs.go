package internaldefs

import (
	rentAuth "github.com/MrEthical07/rentAuth"
)

type CounterDef struct {
	ID   rentAuth.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   rentAuth.MetricID
	Name string
	Help string
}

// CounterDefs lists every engine counter in exposition order.
var CounterDefs = []CounterDef{
	{ID: rentAuth.MetricRegisterSuccess, Name: "rentauth_register_success_total", Help: "Accounts registered."},
	{ID: rentAuth.MetricRegisterDuplicate, Name: "rentauth_register_duplicate_total", Help: "Registrations rejected because the email exists."},
	{ID: rentAuth.MetricLoginSuccess, Name: "rentauth_login_success_total", Help: "Successful logins."},
	{ID: rentAuth.MetricLoginFailure, Name: "rentauth_login_failure_total", Help: "Logins rejected for bad credentials."},
	{ID: rentAuth.MetricLoginLocked, Name: "rentauth_login_locked_total", Help: "Logins rejected by the lockout guard."},
	{ID: rentAuth.MetricRefreshSuccess, Name: "rentauth_refresh_success_total", Help: "Refresh token rotations."},
	{ID: rentAuth.MetricRefreshFailure, Name: "rentauth_refresh_failure_total", Help: "Failed refresh attempts."},
	{ID: rentAuth.MetricRefreshReuseDetected, Name: "rentauth_refresh_reuse_detected_total", Help: "Replayed refresh tokens; each burns a session family."},
	{ID: rentAuth.MetricLogout, Name: "rentauth_logout_total", Help: "Single-session logouts."},
	{ID: rentAuth.MetricLogoutAll, Name: "rentauth_logout_all_total", Help: "All-device logouts."},
	{ID: rentAuth.MetricPasswordChangeSuccess, Name: "rentauth_password_change_success_total", Help: "Password changes."},
	{ID: rentAuth.MetricPasswordChangeInvalidOld, Name: "rentauth_password_change_invalid_old_total", Help: "Password changes rejected for a wrong current password."},
	{ID: rentAuth.MetricPasswordReset, Name: "rentauth_password_reset_total", Help: "Administrative password resets."},
	{ID: rentAuth.MetricSessionsRevoked, Name: "rentauth_sessions_revoked_total", Help: "Administrative revocations of all sessions."},
	{ID: rentAuth.MetricAuthenticateSuccess, Name: "rentauth_authenticate_success_total", Help: "Accepted access tokens."},
	{ID: rentAuth.MetricAuthenticateFailure, Name: "rentauth_authenticate_failure_total", Help: "Access tokens rejected as expired, malformed or for another audience."},
	{ID: rentAuth.MetricAuthenticateRevoked, Name: "rentauth_authenticate_revoked_total", Help: "Access tokens rejected as revoked."},
	{ID: rentAuth.MetricHashUpgraded, Name: "rentauth_password_hash_upgraded_total", Help: "Stored hashes upgraded on login."},
	{ID: rentAuth.MetricServiceUnavailable, Name: "rentauth_service_unavailable_total", Help: "Operations failed by a dependency."},
}

var HistogramDefs = []HistogramDef{
	{ID: rentAuth.MetricAuthenticateLatency, Name: "rentauth_authenticate_latency_seconds", Help: "Authenticate latency."},
}

// AuditDroppedName is exported alongside the engine counters.
const (
	AuditDroppedName = "rentauth_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."
)

// HistogramUpperBounds are the engine's bucket limits in seconds; the last
// bucket is unbounded.
var HistogramUpperBounds = [7]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, zero filling.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
