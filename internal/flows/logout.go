package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/rentAuth/jwt"
	"github.com/MrEthical07/rentAuth/refresh"
	"github.com/MrEthical07/rentAuth/revocation"
)

// LogoutFailureKind classifies logout flow failures for root-level mapping.
type LogoutFailureKind int

const (
	LogoutFailureNone LogoutFailureKind = iota
	LogoutFailureDecodeAccess
	LogoutFailureDecodeRefresh
	// LogoutFailureSubjectMismatch means the refresh token belongs to a
	// different subject than the access token.
	LogoutFailureSubjectMismatch
	LogoutFailureBlacklist
	LogoutFailureRevoke
)

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	// VerifyAccess and VerifyRefresh must return claims alongside
	// jwt.ErrExpired so an expired token still identifies its session.
	VerifyAccess    func(string) (*jwt.AccessClaims, error)
	VerifyRefresh   func(string) (*jwt.RefreshClaims, error)
	BlacklistFamily func(ctx context.Context, familyID string, reason revocation.Reason) error
	Registry        revocation.Registry
	Store           refresh.Store
	StoreTimeout    time.Duration
}

type LogoutRequest struct {
	AccessToken  string
	RefreshToken string
	AllDevices   bool
}

type LogoutResult struct {
	Failure   LogoutFailureKind
	Err       error
	SubjectID string
	// Families lists every family id that was blacklisted.
	Families []string
}

// RunLogout blacklists the access token and revokes its session family, or
// every family of the subject for AllDevices. Mutations run detached from
// ctx's cancellation so a disconnecting client cannot half-finish a logout.
func RunLogout(ctx context.Context, req LogoutRequest, deps LogoutDeps) LogoutResult {
	access, err := deps.VerifyAccess(req.AccessToken)
	accessExpired := errors.Is(err, jwt.ErrExpired)
	if err != nil && !accessExpired {
		return LogoutResult{Failure: LogoutFailureDecodeAccess, Err: err}
	}

	res := LogoutResult{SubjectID: access.Subject}
	family := access.FamilyID

	if req.RefreshToken != "" {
		rc, err := deps.VerifyRefresh(req.RefreshToken)
		if err != nil && !errors.Is(err, jwt.ErrExpired) {
			res.Failure, res.Err = LogoutFailureDecodeRefresh, err
			return res
		}
		if rc.Subject != access.Subject {
			res.Failure = LogoutFailureSubjectMismatch
			return res
		}
		family = rc.FamilyID
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deps.StoreTimeout)
	defer cancel()

	reason := revocation.ReasonLogout
	if req.AllDevices {
		reason = revocation.ReasonLogoutAll
	}

	if !accessExpired {
		if err := deps.Registry.Add(sctx, access.ID, reason, access.ExpiresAt.Time); err != nil {
			res.Failure, res.Err = LogoutFailureBlacklist, err
			return res
		}
	}

	var families []string
	if req.AllDevices {
		families, err = deps.Store.RevokeSubject(sctx, access.Subject, refresh.ReasonLogoutAll)
		if err != nil {
			res.Failure, res.Err = LogoutFailureRevoke, err
			return res
		}
		if family != "" && !contains(families, family) {
			families = append(families, family)
		}
	} else if family != "" {
		if _, err := deps.Store.RevokeFamily(sctx, family, refresh.ReasonLogout); err != nil {
			res.Failure, res.Err = LogoutFailureRevoke, err
			return res
		}
		families = []string{family}
	}

	for _, fam := range families {
		if err := deps.BlacklistFamily(sctx, fam, reason); err != nil {
			res.Failure, res.Err = LogoutFailureBlacklist, err
			return res
		}
		res.Families = append(res.Families, fam)
	}
	return res
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
