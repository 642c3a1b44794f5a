package rentAuth

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind is the closed set of outcomes an Engine operation can fail with.
// Callers dispatch on the kind, never on message text.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	// KindInvalidCredentials never distinguishes an unknown email from a
	// wrong password.
	KindInvalidCredentials
	KindAccountAlreadyExists
	// KindAccountLocked carries a RetryAfter duration.
	KindAccountLocked
	KindTokenExpired
	KindTokenMalformed
	KindTokenRevoked
	KindTokenAudienceMismatch
	KindRefreshTokenNotFound
	// KindRefreshTokenReuseDetected means the token family has already been
	// burned.
	KindRefreshTokenReuseDetected
	KindGenerationError
	// KindServiceUnavailable is retryable: a store failed or a deadline passed.
	KindServiceUnavailable
	KindPasswordPolicy
	KindInvalidInput
)

var kindNames = [...]string{
	KindUnknown:                   "unknown",
	KindInvalidCredentials:        "invalid_credentials",
	KindAccountAlreadyExists:      "account_already_exists",
	KindAccountLocked:             "account_locked",
	KindTokenExpired:              "token_expired",
	KindTokenMalformed:            "token_malformed",
	KindTokenRevoked:              "token_revoked",
	KindTokenAudienceMismatch:     "token_audience_mismatch",
	KindRefreshTokenNotFound:      "refresh_token_not_found",
	KindRefreshTokenReuseDetected: "refresh_token_reuse_detected",
	KindGenerationError:           "generation_error",
	KindServiceUnavailable:        "service_unavailable",
	KindPasswordPolicy:            "password_policy",
	KindInvalidInput:              "invalid_input",
}

// String returns the snake_case name used in logs, audit events and HTTP
// error bodies.
func (k ErrorKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Retryable reports whether the same request may succeed later unchanged.
func (k ErrorKind) Retryable() bool {
	return k == KindServiceUnavailable || k == KindAccountLocked
}

// Error is the single error type returned by Engine operations.
type Error struct {
	Kind ErrorKind
	// Op is the Engine operation that failed, e.g. "login".
	Op string
	// RetryAfter is set for KindAccountLocked.
	RetryAfter time.Duration
	// Detail is safe to show to the caller.
	Detail string
	// Err is the underlying cause. It is never shown to the caller.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("rentauth: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.RetryAfter > 0 {
		fmt.Fprintf(&b, " (retry after %s)", e.RetryAfter.Round(time.Second))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the package sentinels work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrInvalidCredentials        = &Error{Kind: KindInvalidCredentials}
	ErrAccountAlreadyExists      = &Error{Kind: KindAccountAlreadyExists}
	ErrAccountLocked             = &Error{Kind: KindAccountLocked}
	ErrTokenExpired              = &Error{Kind: KindTokenExpired}
	ErrTokenMalformed            = &Error{Kind: KindTokenMalformed}
	ErrTokenRevoked              = &Error{Kind: KindTokenRevoked}
	ErrTokenAudienceMismatch     = &Error{Kind: KindTokenAudienceMismatch}
	ErrRefreshTokenNotFound      = &Error{Kind: KindRefreshTokenNotFound}
	ErrRefreshTokenReuseDetected = &Error{Kind: KindRefreshTokenReuseDetected}
	ErrGeneration                = &Error{Kind: KindGenerationError}
	ErrServiceUnavailable        = &Error{Kind: KindServiceUnavailable}
	ErrPasswordPolicy            = &Error{Kind: KindPasswordPolicy}
	ErrInvalidInput              = &Error{Kind: KindInvalidInput}

	// ErrInvalidConfig is returned by Config.Validate and Builder.Build.
	ErrInvalidConfig = errors.New("rentauth: invalid config")
	// ErrBuilderUsed is returned by a second Build call.
	ErrBuilderUsed = errors.New("rentauth: builder already used")
)

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// RetryAfter returns the lockout delay carried by err, or zero.
func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

func newError(kind ErrorKind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}
