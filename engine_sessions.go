package rentAuth

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/rentAuth/jwt"
	"github.com/MrEthical07/rentAuth/refresh"
	"github.com/MrEthical07/rentAuth/revocation"
	"go.uber.org/zap"
)

// SessionActive reports whether a refresh token can still be rotated. An
// expired token is inactive, not an error.
func (e *Engine) SessionActive(ctx context.Context, refreshToken string) (bool, error) {
	const op = "session_active"

	claims, err := e.codec.VerifyRefresh(refreshToken)
	if errors.Is(err, jwt.ErrExpired) {
		return false, nil
	}
	if err != nil {
		return false, tokenError(op, err)
	}

	sctx, cancel := e.storeContext(ctx)
	defer cancel()

	active, err := e.refreshes.IsActive(sctx, claims.ID)
	if err != nil {
		return false, e.unavailable(op, err, zap.String("subject_id", claims.Subject))
	}
	return active, nil
}

// RevokeAllSessions ends every session of a subject, for administrators
// and account compromise handling. Outstanding access tokens are rejected
// by Authenticate from now on.
func (e *Engine) RevokeAllSessions(ctx context.Context, subjectID string) error {
	const op = "revoke_all_sessions"

	if subjectID == "" {
		return &Error{Kind: KindInvalidInput, Op: op, Detail: "subject id is required"}
	}
	families, err := e.revokeAllSessions(ctx, op, subjectID, refresh.ReasonAdmin, revocation.ReasonCompromise)
	if err != nil {
		return err
	}

	e.metricInc(MetricSessionsRevoked)
	e.emitAudit(ctx, AuditEventSessionsRevoked, true, subjectID, "", nil, func() map[string]string {
		return map[string]string{"families": strconv.Itoa(len(families))}
	})
	return nil
}

// revokeAllSessions revokes every refresh family of the subject and
// blacklists each one so access tokens minted from them stop working.
// It runs detached from ctx's cancellation.
func (e *Engine) revokeAllSessions(ctx context.Context, op, subjectID string, reason refresh.Reason, blReason revocation.Reason) ([]string, error) {
	sctx, cancel := e.storeContext(context.WithoutCancel(ctx))
	defer cancel()

	families, err := e.refreshes.RevokeSubject(sctx, subjectID, reason)
	if err != nil {
		return nil, e.unavailable(op, err, zap.String("subject_id", subjectID))
	}
	for _, fam := range families {
		if err := e.blacklistFamily(sctx, fam, blReason); err != nil {
			return nil, e.unavailable(op, err, zap.String("subject_id", subjectID), zap.String("family_id", fam))
		}
	}
	return families, nil
}
