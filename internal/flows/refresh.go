package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/rentAuth/jwt"
	"github.com/MrEthical07/rentAuth/refresh"
	"github.com/MrEthical07/rentAuth/revocation"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureDecode
	RefreshFailureIdentity
	RefreshFailureNextToken
	RefreshFailureRotate
	RefreshFailureIssue
)

// RefreshResult carries either the issued token pair or failure metadata.
// SubjectID and FamilyID are set whenever the presented token decoded.
type RefreshResult struct {
	Failure   RefreshFailureKind
	Err       error
	SubjectID string
	FamilyID  string

	// BlacklistErr is set when reuse was detected but the burned family
	// could not be added to the revocation registry.
	BlacklistErr error

	Next             *refresh.Token
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	VerifyRefresh     func(string) (*jwt.RefreshClaims, error)
	LookupRole        func(context.Context, string) (string, error)
	NewSuccessor      func(device string) (refresh.Successor, error)
	IssueAccess       func(jwt.Subject, jwt.Binding) (string, *jwt.AccessClaims, error)
	IssueRefresh      func(jwt.Subject, jwt.RefreshSpec) (string, error)
	DeviceFromContext func(context.Context) string
	BlacklistFamily   func(ctx context.Context, familyID string, reason revocation.Reason) error
	Store             refresh.Store
	StoreTimeout      time.Duration
}

// RunRefresh verifies a refresh token, rotates it and mints the successor
// pair. The identity is loaded before rotation so a lookup failure leaves
// the presented token usable. Rotation runs detached from ctx's
// cancellation; the store timeout still applies.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	claims, err := deps.VerifyRefresh(refreshToken)
	if err != nil {
		res := RefreshResult{Failure: RefreshFailureDecode, Err: err}
		if claims != nil {
			res.SubjectID, res.FamilyID = claims.Subject, claims.FamilyID
		}
		return res
	}

	res := RefreshResult{SubjectID: claims.Subject, FamilyID: claims.FamilyID}

	role, err := deps.LookupRole(ctx, claims.Subject)
	if err != nil {
		res.Failure, res.Err = RefreshFailureIdentity, err
		return res
	}

	device := ""
	if deps.DeviceFromContext != nil {
		device = deps.DeviceFromContext(ctx)
	}
	next, err := deps.NewSuccessor(device)
	if err != nil {
		res.Failure, res.Err = RefreshFailureNextToken, err
		return res
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deps.StoreTimeout)
	defer cancel()

	rotated, err := deps.Store.Rotate(rctx, claims.ID, next)
	if err != nil {
		res.Failure, res.Err = RefreshFailureRotate, err
		if rotated.Previous.FamilyID != "" {
			res.SubjectID, res.FamilyID = rotated.Previous.SubjectID, rotated.Previous.FamilyID
		}
		if errors.Is(err, refresh.ErrReuseDetected) && deps.BlacklistFamily != nil {
			res.BlacklistErr = deps.BlacklistFamily(rctx, res.FamilyID, revocation.ReasonReuseDetected)
		}
		return res
	}

	sub := jwt.Subject{ID: rotated.Next.SubjectID, Role: role}
	refreshJWT, err := deps.IssueRefresh(sub, jwt.RefreshSpec{
		TokenID:   rotated.Next.ID,
		FamilyID:  rotated.Next.FamilyID,
		IssuedAt:  rotated.Next.IssuedAt,
		ExpiresAt: rotated.Next.ExpiresAt,
	})
	if err != nil {
		res.Failure, res.Err = RefreshFailureIssue, err
		return res
	}
	access, accessClaims, err := deps.IssueAccess(sub, jwt.Binding{
		FamilyID:  rotated.Next.FamilyID,
		RefreshID: rotated.Next.ID,
	})
	if err != nil {
		res.Failure, res.Err = RefreshFailureIssue, err
		return res
	}

	res.Next = rotated.Next
	res.AccessToken = access
	res.RefreshToken = refreshJWT
	res.AccessExpiresAt = accessClaims.ExpiresAt.Time
	res.RefreshExpiresAt = rotated.Next.ExpiresAt
	return res
}
