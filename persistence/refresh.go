package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/rentAuth/refresh"
	"gorm.io/gorm"
)

// Instants are stored as unix milliseconds so expiry comparisons stay
// portable across SQLite and PostgreSQL.
type refreshRecord struct {
	ID            string `gorm:"primaryKey;size:64"`
	SubjectID     string `gorm:"size:64;index;not null"`
	FamilyID      string `gorm:"size:64;index;not null"`
	IssuedAt      int64  `gorm:"not null"`
	ExpiresAt     int64  `gorm:"index;not null"`
	RotatedFrom   string `gorm:"size:64"`
	Revoked       bool   `gorm:"not null"`
	RevokedReason string `gorm:"size:32"`
	DeviceInfo    string
}

func (refreshRecord) TableName() string { return "refresh_tokens" }

func (r refreshRecord) token() refresh.Token {
	return refresh.Token{
		ID:            r.ID,
		SubjectID:     r.SubjectID,
		FamilyID:      r.FamilyID,
		IssuedAt:      time.UnixMilli(r.IssuedAt),
		ExpiresAt:     time.UnixMilli(r.ExpiresAt),
		RotatedFrom:   r.RotatedFrom,
		Revoked:       r.Revoked,
		RevokedReason: refresh.Reason(r.RevokedReason),
		DeviceInfo:    r.DeviceInfo,
	}
}

func recordOf(t refresh.Token) refreshRecord {
	return refreshRecord{
		ID:            t.ID,
		SubjectID:     t.SubjectID,
		FamilyID:      t.FamilyID,
		IssuedAt:      t.IssuedAt.UnixMilli(),
		ExpiresAt:     t.ExpiresAt.UnixMilli(),
		RotatedFrom:   t.RotatedFrom,
		Revoked:       t.Revoked,
		RevokedReason: string(t.RevokedReason),
		DeviceInfo:    t.DeviceInfo,
	}
}

// RefreshRepository is a gorm-backed refresh.Store.
type RefreshRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRefreshRepository returns a store reading the time from now, or
// time.Now when nil.
func NewRefreshRepository(db *gorm.DB, now func() time.Time) *RefreshRepository {
	if now == nil {
		now = time.Now
	}
	return &RefreshRepository{db: db, now: now}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", refresh.ErrUnavailable, err)
}

func (r *RefreshRepository) Create(ctx context.Context, t refresh.Token) error {
	if t.ID == "" || t.SubjectID == "" || t.FamilyID == "" {
		return fmt.Errorf("refresh: token requires id, subject and family")
	}
	rec := recordOf(t)
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isDuplicate(err) {
			return refresh.ErrDuplicate
		}
		return unavailable(err)
	}
	return nil
}

// Rotate claims the presented token with an UPDATE conditioned on it still
// being unrevoked. A caller that loses that race sees the token as spent.
func (r *RefreshRepository) Rotate(ctx context.Context, presentedID string, next refresh.Successor) (refresh.RotateResult, error) {
	var (
		res     refresh.RotateResult
		outcome error
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur refreshRecord
		if err := tx.Take(&cur, "id = ?", presentedID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				outcome = refresh.ErrNotFound
				return nil
			}
			return err
		}
		res.Previous = cur.token()

		if cur.Revoked {
			reason := refresh.Reason(cur.RevokedReason)
			if reason.Spent() {
				reason, outcome = refresh.ReasonReuseDetected, refresh.ErrReuseDetected
			} else {
				outcome = refresh.ErrRevoked
			}
			_, err := revokeFamily(tx, cur.FamilyID, reason)
			return err
		}
		if !r.now().Before(res.Previous.ExpiresAt) {
			outcome = refresh.ErrExpired
			return nil
		}

		claim := tx.Model(&refreshRecord{}).
			Where("id = ? AND revoked = ?", cur.ID, false).
			Updates(map[string]any{"revoked": true, "revoked_reason": string(refresh.ReasonRotated)})
		if claim.Error != nil {
			return claim.Error
		}
		if claim.RowsAffected == 0 {
			outcome = refresh.ErrReuseDetected
			_, err := revokeFamily(tx, cur.FamilyID, refresh.ReasonReuseDetected)
			return err
		}

		successor := refresh.Token{
			ID:          next.ID,
			SubjectID:   cur.SubjectID,
			FamilyID:    cur.FamilyID,
			IssuedAt:    next.IssuedAt,
			ExpiresAt:   next.ExpiresAt,
			RotatedFrom: cur.ID,
			DeviceInfo:  next.DeviceInfo,
		}
		rec := recordOf(successor)
		if err := tx.Create(&rec).Error; err != nil {
			if isDuplicate(err) {
				return refresh.ErrDuplicate
			}
			return err
		}
		res.Next = &successor
		return nil
	})

	switch {
	case errors.Is(err, refresh.ErrDuplicate):
		return refresh.RotateResult{}, err
	case err != nil:
		return refresh.RotateResult{}, unavailable(err)
	case errors.Is(outcome, refresh.ErrNotFound):
		return refresh.RotateResult{}, outcome
	case outcome != nil:
		return refresh.RotateResult{Previous: res.Previous}, outcome
	}
	return res, nil
}

func revokeFamily(tx *gorm.DB, familyID string, reason refresh.Reason) (int, error) {
	res := tx.Model(&refreshRecord{}).
		Where("family_id = ? AND revoked = ?", familyID, false).
		Updates(map[string]any{"revoked": true, "revoked_reason": string(reason)})
	return int(res.RowsAffected), res.Error
}

func (r *RefreshRepository) RevokeFamily(ctx context.Context, familyID string, reason refresh.Reason) (int, error) {
	n, err := revokeFamily(r.db.WithContext(ctx), familyID, reason)
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func (r *RefreshRepository) RevokeSubject(ctx context.Context, subjectID string, reason refresh.Reason) ([]string, error) {
	var families []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&refreshRecord{}).
			Where("subject_id = ? AND revoked = ?", subjectID, false).
			Distinct().
			Pluck("family_id", &families).Error; err != nil {
			return err
		}
		if len(families) == 0 {
			return nil
		}
		return tx.Model(&refreshRecord{}).
			Where("subject_id = ? AND revoked = ?", subjectID, false).
			Updates(map[string]any{"revoked": true, "revoked_reason": string(reason)}).Error
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return families, nil
}

func (r *RefreshRepository) IsActive(ctx context.Context, tokenID string) (bool, error) {
	t, err := r.Get(ctx, tokenID)
	if errors.Is(err, refresh.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return t.Active(r.now()), nil
}

func (r *RefreshRepository) Get(ctx context.Context, tokenID string) (*refresh.Token, error) {
	var rec refreshRecord
	err := r.db.WithContext(ctx).Take(&rec, "id = ?", tokenID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, refresh.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	t := rec.token()
	return &t, nil
}

// SweepExpired deletes tokens past their expiry. Family lineage of live
// tokens is unaffected since a successor never expires before its parent.
func (r *RefreshRepository) SweepExpired(ctx context.Context) (int, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", r.now().UnixMilli()).Delete(&refreshRecord{})
	if res.Error != nil {
		return 0, unavailable(res.Error)
	}
	return int(res.RowsAffected), nil
}
