package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/rentAuth/jwt"
	"github.com/MrEthical07/rentAuth/revocation"
)

// FamilyKey is the revocation registry key that blocks every access token
// minted for a refresh family.
func FamilyKey(familyID string) string {
	return "family:" + familyID
}

// ValidateFailureKind classifies validate flow failures for root-level mapping.
type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureDecode
	ValidateFailureRevoked
	ValidateFailureRegistry
)

// ValidateDeps captures validate flow dependencies.
type ValidateDeps struct {
	VerifyAccess func(token, audience string) (*jwt.AccessClaims, error)
	Registry     revocation.Registry
	StoreTimeout time.Duration
}

type ValidateResult struct {
	Failure ValidateFailureKind
	Err     error
	Claims  *jwt.AccessClaims
}

// RunValidate verifies an access token and rejects it when its jti or its
// family is blacklisted. Both are checked in one registry call.
func RunValidate(ctx context.Context, token, audience string, deps ValidateDeps) ValidateResult {
	claims, err := deps.VerifyAccess(token, audience)
	if err != nil {
		return ValidateResult{Failure: ValidateFailureDecode, Err: err}
	}

	ids := []string{claims.ID}
	if claims.FamilyID != "" {
		ids = append(ids, FamilyKey(claims.FamilyID))
	}

	sctx, cancel := context.WithTimeout(ctx, deps.StoreTimeout)
	defer cancel()

	revoked, err := deps.Registry.ContainsAny(sctx, ids...)
	if err != nil {
		return ValidateResult{Failure: ValidateFailureRegistry, Err: err, Claims: claims}
	}
	if revoked {
		return ValidateResult{Failure: ValidateFailureRevoked, Claims: claims}
	}
	return ValidateResult{Claims: claims}
}
