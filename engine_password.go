package rentAuth

import (
	"context"
	"errors"

	"github.com/MrEthical07/rentAuth/password"
	"github.com/MrEthical07/rentAuth/refresh"
	"github.com/MrEthical07/rentAuth/revocation"
	"go.uber.org/zap"
)

const minGeneratedPasswordLength = 16

// ChangePassword replaces the subject's password after re-verifying the
// current one, then ends every session of the subject. Wrong current
// passwords count toward the same lockout as failed logins.
func (e *Engine) ChangePassword(ctx context.Context, req ChangePasswordRequest) error {
	const op = "change_password"

	if req.SubjectID == "" {
		return &Error{Kind: KindInvalidInput, Op: op, Detail: "subject id is required"}
	}

	identity, err := e.findIdentity(ctx, op, req.SubjectID)
	if err != nil {
		return err
	}
	keys := []string{"email:" + identity.Email}
	if err := e.checkLocked(ctx, op, keys); err != nil {
		return err
	}

	ok, err := e.verifyPassword(ctx, op, req.CurrentPassword, identity.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		e.metricInc(MetricPasswordChangeInvalidOld)
		failErr := e.loginFailed(ctx, op, identity.ID, keys)
		e.emitAudit(ctx, AuditEventPasswordChangeFailure, false, identity.ID, "", failErr, nil)
		return failErr
	}

	if req.NewPassword == req.CurrentPassword {
		return &Error{Kind: KindPasswordPolicy, Op: op, Detail: "new password must differ from the current password"}
	}
	if err := e.policy.Check(req.NewPassword); err != nil {
		return &Error{Kind: KindPasswordPolicy, Op: op, Detail: policyDetail(err), Err: err}
	}

	if err := e.replacePassword(ctx, op, identity.ID, req.NewPassword); err != nil {
		return err
	}
	if _, err := e.revokeAllSessions(ctx, op, identity.ID, refresh.ReasonPasswordChange, revocation.ReasonPasswordChange); err != nil {
		return err
	}

	sctx, cancel := e.storeContext(ctx)
	if err := e.guard.RecordSuccess(sctx, keys[0]); err != nil {
		e.logger.Warn("lockout reset failed", zap.String("op", op), zap.String("subject_id", identity.ID), zap.Error(err))
	}
	cancel()

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, AuditEventPasswordChangeSuccess, true, identity.ID, "", nil, nil)
	return nil
}

// ResetPassword replaces the subject's password with a generated one that
// satisfies the configured policy, ends every session and returns the new
// password for out-of-band delivery.
func (e *Engine) ResetPassword(ctx context.Context, subjectID string) (string, error) {
	const op = "reset_password"

	if subjectID == "" {
		return "", &Error{Kind: KindInvalidInput, Op: op, Detail: "subject id is required"}
	}
	identity, err := e.findIdentity(ctx, op, subjectID)
	if err != nil {
		return "", err
	}

	length := max(e.policy.MinLength, minGeneratedPasswordLength)
	if e.policy.MaxLength > 0 {
		length = min(length, e.policy.MaxLength)
	}
	generated, err := password.GenerateStrong(e.random, length, e.policy)
	if err != nil {
		return "", newError(KindGenerationError, op, err)
	}

	if err := e.replacePassword(ctx, op, identity.ID, generated); err != nil {
		return "", err
	}
	if _, err := e.revokeAllSessions(ctx, op, identity.ID, refresh.ReasonPasswordChange, revocation.ReasonPasswordChange); err != nil {
		return "", err
	}

	e.metricInc(MetricPasswordReset)
	e.emitAudit(ctx, AuditEventPasswordReset, true, identity.ID, "", nil, nil)
	return generated, nil
}

// findIdentity maps an unknown subject to InvalidCredentials.
func (e *Engine) findIdentity(ctx context.Context, op, subjectID string) (*Identity, error) {
	sctx, cancel := e.storeContext(ctx)
	defer cancel()

	identity, err := e.identities.FindByID(sctx, subjectID)
	switch {
	case errors.Is(err, ErrIdentityNotFound) || (err == nil && identity == nil):
		return nil, newError(KindInvalidCredentials, op, nil)
	case err != nil:
		return nil, e.unavailable(op, err, zap.String("subject_id", subjectID))
	}
	return identity, nil
}

func (e *Engine) replacePassword(ctx context.Context, op, subjectID, secret string) error {
	hash, err := e.hashPassword(ctx, op, secret)
	if err != nil {
		return err
	}

	sctx, cancel := e.storeContext(context.WithoutCancel(ctx))
	defer cancel()

	err = e.identities.UpdatePasswordHash(sctx, subjectID, hash)
	switch {
	case errors.Is(err, ErrIdentityNotFound):
		return newError(KindInvalidCredentials, op, nil)
	case err != nil:
		return e.unavailable(op, err, zap.String("subject_id", subjectID))
	}
	return nil
}
