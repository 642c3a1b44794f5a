package rentAuth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/rentAuth/internal/flows"
	"github.com/MrEthical07/rentAuth/jwt"
	"github.com/MrEthical07/rentAuth/refresh"
	"github.com/MrEthical07/rentAuth/revocation"
	"go.uber.org/zap"
)

// Refresh rotates a refresh token and returns the successor pair. The
// presented token is spent: presenting it again burns its whole family and
// fails with RefreshTokenReuseDetected.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	const op = "refresh"

	res := e.flows.Refresh(ctx, refreshToken)
	if res.Failure == flows.RefreshFailureNone {
		e.metricInc(MetricRefreshSuccess)
		e.emitAudit(ctx, AuditEventRefreshSuccess, true, res.SubjectID, res.FamilyID, nil, nil)
		return &TokenPair{
			AccessToken:      res.AccessToken,
			RefreshToken:     res.RefreshToken,
			TokenType:        "Bearer",
			AccessExpiresAt:  res.AccessExpiresAt,
			RefreshExpiresAt: res.RefreshExpiresAt,
		}, nil
	}

	var err error
	switch res.Failure {
	case flows.RefreshFailureDecode:
		err = tokenError(op, res.Err)
	case flows.RefreshFailureIdentity:
		if errors.Is(res.Err, ErrIdentityNotFound) {
			err = &Error{Kind: KindTokenRevoked, Op: op, Detail: "account no longer exists"}
		} else {
			err = e.unavailable(op, res.Err, zap.String("subject_id", res.SubjectID))
		}
	case flows.RefreshFailureRotate:
		err = e.rotateError(ctx, op, res)
	case flows.RefreshFailureNextToken, flows.RefreshFailureIssue:
		err = newError(KindGenerationError, op, res.Err)
	default:
		err = e.unavailable(op, res.Err)
	}

	e.metricInc(MetricRefreshFailure)
	if KindOf(err) != KindRefreshTokenReuseDetected {
		e.emitAudit(ctx, AuditEventRefreshInvalid, false, res.SubjectID, res.FamilyID, err, nil)
	}
	return nil, err
}

func (e *Engine) rotateError(ctx context.Context, op string, res flows.RefreshResult) error {
	switch {
	case errors.Is(res.Err, refresh.ErrNotFound):
		return newError(KindRefreshTokenNotFound, op, nil)
	case errors.Is(res.Err, refresh.ErrReuseDetected):
		e.metricInc(MetricRefreshReuseDetected)
		e.logger.Warn("refresh token reuse detected, family revoked",
			zap.String("op", op),
			zap.String("subject_id", res.SubjectID),
			zap.String("family_id", res.FamilyID),
		)
		if res.BlacklistErr != nil {
			e.logger.Error("burned family not blacklisted", zap.String("family_id", res.FamilyID), zap.Error(res.BlacklistErr))
		}
		reuse := newError(KindRefreshTokenReuseDetected, op, nil)
		e.emitAudit(ctx, AuditEventRefreshReuseDetected, false, res.SubjectID, res.FamilyID, reuse, nil)
		return reuse
	case errors.Is(res.Err, refresh.ErrRevoked):
		return newError(KindTokenRevoked, op, nil)
	case errors.Is(res.Err, refresh.ErrExpired):
		return newError(KindTokenExpired, op, nil)
	default:
		return e.unavailable(op, res.Err, zap.String("subject_id", res.SubjectID), zap.String("family_id", res.FamilyID))
	}
}

// tokenError maps codec verification failures onto token kinds.
func tokenError(op string, err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return newError(KindTokenExpired, op, nil)
	case errors.Is(err, jwt.ErrAudienceMismatch):
		return newError(KindTokenAudienceMismatch, op, nil)
	default:
		return newError(KindTokenMalformed, op, err)
	}
}

// Logout ends the session the access token belongs to. The access token
// is blacklisted until it expires and its refresh family is revoked; with
// AllDevices every family of the subject is revoked. An already expired
// access token is accepted so a client can always log out.
func (e *Engine) Logout(ctx context.Context, req LogoutRequest) error {
	const op = "logout"

	res := e.flows.Logout(ctx, flows.LogoutRequest{
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		AllDevices:   req.AllDevices,
	})

	switch res.Failure {
	case flows.LogoutFailureNone:
	case flows.LogoutFailureDecodeAccess, flows.LogoutFailureDecodeRefresh:
		return tokenError(op, res.Err)
	case flows.LogoutFailureSubjectMismatch:
		return &Error{Kind: KindTokenMalformed, Op: op, Detail: "refresh token belongs to another subject"}
	default:
		return e.unavailable(op, res.Err, zap.String("subject_id", res.SubjectID))
	}

	event, metric := AuditEventLogoutSession, MetricLogout
	if req.AllDevices {
		event, metric = AuditEventLogoutAll, MetricLogoutAll
	}
	e.metricInc(metric)
	e.emitAudit(ctx, event, true, res.SubjectID, "", nil, func() map[string]string {
		return map[string]string{"families": strconv.Itoa(len(res.Families))}
	})
	return nil
}

// Authenticate verifies an access token for the configured audience and
// rejects it when it or its session family has been revoked.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*Claims, error) {
	return e.AuthenticateAudience(ctx, accessToken, "")
}

// AuthenticateAudience is Authenticate for a caller that expects a specific
// audience. An empty audience means the configured one.
func (e *Engine) AuthenticateAudience(ctx context.Context, accessToken, audience string) (*Claims, error) {
	const op = "authenticate"

	var start time.Time
	if e.metrics.LatencyEnabled() {
		start = time.Now()
		defer func() { e.metrics.Observe(MetricAuthenticateLatency, time.Since(start)) }()
	}

	res := e.flows.Validate(ctx, accessToken, audience)
	switch res.Failure {
	case flows.ValidateFailureNone:
		e.metricInc(MetricAuthenticateSuccess)
		c := res.Claims
		return &Claims{
			SubjectID: c.Subject,
			Role:      c.Role,
			TokenID:   c.ID,
			FamilyID:  c.FamilyID,
			RefreshID: c.RefreshID,
			IssuedAt:  c.IssuedAt.Time,
			ExpiresAt: c.ExpiresAt.Time,
		}, nil
	case flows.ValidateFailureDecode:
		e.metricInc(MetricAuthenticateFailure)
		return nil, tokenError(op, res.Err)
	case flows.ValidateFailureRevoked:
		e.metricInc(MetricAuthenticateRevoked)
		return nil, newError(KindTokenRevoked, op, nil)
	default:
		return nil, e.unavailable(op, res.Err)
	}
}

// blacklistFamily blocks every access token minted for familyID. Access
// tokens outlive their family's revocation by at most one access lifetime.
func (e *Engine) blacklistFamily(ctx context.Context, familyID string, reason revocation.Reason) error {
	if familyID == "" {
		return nil
	}
	until := e.clock.Now().Add(e.codec.AccessTTL() + e.config.JWT.Leeway + time.Second)
	return e.revocations.Add(ctx, flows.FamilyKey(familyID), reason, until)
}
