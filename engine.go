package rentAuth

import (
	"context"
	"errors"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/MrEthical07/rentAuth/internal"
	internalaudit "github.com/MrEthical07/rentAuth/internal/audit"
	"github.com/MrEthical07/rentAuth/internal/flows"
	"github.com/MrEthical07/rentAuth/jwt"
	"github.com/MrEthical07/rentAuth/lockout"
	"github.com/MrEthical07/rentAuth/password"
	"github.com/MrEthical07/rentAuth/refresh"
	"github.com/MrEthical07/rentAuth/revocation"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Engine runs the authentication use cases. Build one with New().Build();
// it is safe for concurrent use.
type Engine struct {
	config Config
	clock  Clock
	random io.Reader
	logger *zap.Logger

	hasher    *password.Hasher
	policy    password.Policy
	hashSlots *semaphore.Weighted
	dummyHash string

	codec       *jwt.Codec
	identities  IdentityStore
	refreshes   refresh.Store
	revocations revocation.Registry
	guard       lockout.Guard
	flows       flows.Service

	audit   *internalaudit.Dispatcher
	metrics *Metrics
}

// Close flushes buffered audit events. The engine must not be used after.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped counts audit events discarded because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Sweepables returns the process-local components that need periodic
// expiry sweeps. It is empty when every component is Redis-backed.
func (e *Engine) Sweepables() []revocation.Sweepable {
	var out []revocation.Sweepable
	for _, c := range []any{e.refreshes, e.revocations, e.guard} {
		if s, ok := c.(revocation.Sweepable); ok {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func (e *Engine) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.Timeouts.Store)
}

// unavailable logs an unexpected dependency failure and hides it behind
// KindServiceUnavailable.
func (e *Engine) unavailable(op string, err error, fields ...zap.Field) error {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind == KindServiceUnavailable {
		return err
	}
	e.metricInc(MetricServiceUnavailable)
	e.logger.Error("dependency failure", append(fields, zap.String("op", op), zap.Error(err))...)
	return newError(KindServiceUnavailable, op, err)
}

// Register creates an account and signs it in with a new session family.
// Uniqueness is enforced by the identity store, never by a prior lookup.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	const op = "register"

	email := normalizeEmail(req.Email)
	if !validEmail(email) {
		return nil, &Error{Kind: KindInvalidInput, Op: op, Detail: "email is not a valid address"}
	}
	if err := e.policy.Check(req.Password); err != nil {
		return nil, &Error{Kind: KindPasswordPolicy, Op: op, Detail: policyDetail(err), Err: err}
	}
	role := req.Role
	if role == "" {
		role = e.config.DefaultRole
	}
	if !e.config.roleAllowed(role) {
		return nil, &Error{Kind: KindInvalidInput, Op: op, Detail: "role is not available for registration"}
	}

	hash, err := e.hashPassword(ctx, op, req.Password)
	if err != nil {
		return nil, err
	}
	id, err := internal.NewID(e.random)
	if err != nil {
		return nil, newError(KindGenerationError, op, err)
	}

	identity := Identity{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Profile:      cloneProfile(req.Profile),
		CreatedAt:    e.clock.Now().UTC(),
	}

	sctx, cancel := e.storeContext(ctx)
	err = e.identities.Create(sctx, identity)
	cancel()
	switch {
	case errors.Is(err, ErrIdentityExists):
		e.metricInc(MetricRegisterDuplicate)
		e.emitAudit(ctx, AuditEventRegisterDuplicate, false, "", "", ErrAccountAlreadyExists, nil)
		return nil, newError(KindAccountAlreadyExists, op, nil)
	case err != nil:
		return nil, e.unavailable(op, err)
	}

	pair, familyID, err := e.issueSession(ctx, op, identity, deviceInfo(ctx, req.DeviceInfo))
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, AuditEventRegisterSuccess, true, identity.ID, familyID, nil, func() map[string]string {
		return map[string]string{"role": role}
	})
	return &AuthResult{Identity: identity.Sanitized(), Tokens: pair}, nil
}

// Login verifies credentials and starts a new session family. Locked keys
// are rejected before any hashing happens.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*AuthResult, error) {
	const op = "login"

	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, newError(KindInvalidCredentials, op, nil)
	}
	keys := e.lockoutKeys(ctx, email)

	if err := e.checkLocked(ctx, op, keys); err != nil {
		return nil, err
	}

	sctx, cancel := e.storeContext(ctx)
	identity, err := e.identities.FindByEmail(sctx, email)
	cancel()
	if err != nil && !errors.Is(err, ErrIdentityNotFound) {
		return nil, e.unavailable(op, err)
	}

	if identity == nil {
		// Same hashing cost as a real account so response time does not
		// reveal whether the email is registered.
		if _, err := e.verifyPassword(ctx, op, req.Password, e.dummyHash); err != nil {
			return nil, err
		}
		return nil, e.loginFailed(ctx, op, "", keys)
	}

	ok, err := e.verifyPassword(ctx, op, req.Password, identity.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, e.loginFailed(ctx, op, identity.ID, keys)
	}

	sctx, cancel = e.storeContext(ctx)
	err = e.guard.RecordSuccess(sctx, keys[0])
	cancel()
	if err != nil {
		e.logger.Warn("lockout reset failed", zap.String("op", op), zap.String("subject_id", identity.ID), zap.Error(err))
	}
	e.maybeUpgradeHash(ctx, identity, req.Password)

	pair, familyID, err := e.issueSession(ctx, op, *identity, deviceInfo(ctx, req.DeviceInfo))
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, AuditEventLoginSuccess, true, identity.ID, familyID, nil, nil)
	return &AuthResult{Identity: identity.Sanitized(), Tokens: pair}, nil
}

// lockoutKeys returns the email key first, then the client IP key when
// IP tracking is on and the request carries one.
func (e *Engine) lockoutKeys(ctx context.Context, email string) []string {
	keys := []string{"email:" + email}
	if e.config.Lockout.TrackIP {
		if ip := clientIPFromContext(ctx); ip != "" {
			keys = append(keys, "ip:"+ip)
		}
	}
	return keys
}

func (e *Engine) checkLocked(ctx context.Context, op string, keys []string) error {
	for _, key := range keys {
		sctx, cancel := e.storeContext(ctx)
		status, err := e.guard.CheckLocked(sctx, key)
		cancel()
		if err != nil {
			return e.unavailable(op, err, zap.String("lockout_key", key))
		}
		if status.Locked {
			e.metricInc(MetricLoginLocked)
			lockErr := &Error{Kind: KindAccountLocked, Op: op, RetryAfter: status.RetryAfter}
			e.emitAudit(ctx, AuditEventLoginLocked, false, "", "", lockErr, func() map[string]string {
				return map[string]string{"key": keyScope(key)}
			})
			return lockErr
		}
	}
	return nil
}

// loginFailed records the failure on every key and reports
// InvalidCredentials. A lock engaged by this attempt applies from the next
// attempt on.
func (e *Engine) loginFailed(ctx context.Context, op, subjectID string, keys []string) error {
	var locked *lockout.GuardState
	for _, key := range keys {
		sctx, cancel := e.storeContext(ctx)
		state, err := e.guard.RecordFailure(sctx, key)
		cancel()
		if err != nil {
			return e.unavailable(op, err, zap.String("lockout_key", key))
		}
		if state.State == lockout.StateLocked && (locked == nil || state.RetryAfter > locked.RetryAfter) {
			s := state
			locked = &s
		}
	}

	e.metricInc(MetricLoginFailure)
	invalid := newError(KindInvalidCredentials, op, nil)
	var meta func() map[string]string
	if locked != nil {
		e.logger.Warn("lockout engaged", zap.String("op", op), zap.String("subject_id", subjectID), zap.Duration("retry_after", locked.RetryAfter))
		until := locked.LockedUntil
		meta = func() map[string]string {
			return map[string]string{"locked_until": until.UTC().Format(time.RFC3339)}
		}
	}
	e.emitAudit(ctx, AuditEventLoginFailure, false, subjectID, "", invalid, meta)
	return invalid
}

func (e *Engine) maybeUpgradeHash(ctx context.Context, identity *Identity, secret string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	stale, err := e.hasher.NeedsUpgrade(identity.PasswordHash)
	if err != nil || !stale {
		return
	}

	hash, err := e.hashPassword(ctx, "login", secret)
	if err != nil {
		return
	}
	sctx, cancel := e.storeContext(ctx)
	defer cancel()
	if err := e.identities.UpdatePasswordHash(sctx, identity.ID, hash); err != nil {
		e.logger.Warn("password hash upgrade failed", zap.String("subject_id", identity.ID), zap.Error(err))
		return
	}
	identity.PasswordHash = hash
	e.metricInc(MetricHashUpgraded)
	e.emitAudit(ctx, AuditEventHashUpgraded, true, identity.ID, "", nil, nil)
}

// issueSession persists a new refresh family for identity and mints its
// token pair.
func (e *Engine) issueSession(ctx context.Context, op string, identity Identity, device string) (TokenPair, string, error) {
	record, err := refresh.NewToken(e.random, identity.ID, "", e.clock.Now(), e.codec.RefreshTTL(), device)
	if err != nil {
		return TokenPair{}, "", newError(KindGenerationError, op, err)
	}

	sctx, cancel := e.storeContext(ctx)
	err = e.refreshes.Create(sctx, record)
	cancel()
	if err != nil {
		return TokenPair{}, "", e.unavailable(op, err, zap.String("subject_id", identity.ID))
	}

	sub := jwt.Subject{ID: identity.ID, Role: identity.Role}
	refreshJWT, err := e.codec.IssueRefresh(sub, jwt.RefreshSpec{
		TokenID:   record.ID,
		FamilyID:  record.FamilyID,
		IssuedAt:  record.IssuedAt,
		ExpiresAt: record.ExpiresAt,
	})
	if err != nil {
		return TokenPair{}, "", newError(KindGenerationError, op, err)
	}
	access, claims, err := e.codec.IssueAccess(sub, jwt.Binding{FamilyID: record.FamilyID, RefreshID: record.ID})
	if err != nil {
		return TokenPair{}, "", newError(KindGenerationError, op, err)
	}

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refreshJWT,
		TokenType:        "Bearer",
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshExpiresAt: record.ExpiresAt,
	}, record.FamilyID, nil
}

func deviceInfo(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return userAgentFromContext(ctx)
}

func cloneProfile(p map[string]string) map[string]string {
	if len(p) == 0 {
		return nil
	}
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func keyScope(key string) string {
	scope, _, _ := strings.Cut(key, ":")
	return scope
}

func policyDetail(err error) string {
	msg := err.Error()
	if _, rest, ok := strings.Cut(msg, password.ErrPolicyViolation.Error()+": "); ok {
		return rest
	}
	return msg
}
