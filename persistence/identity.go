package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	rentAuth "github.com/MrEthical07/rentAuth"
	"gorm.io/gorm"
)

type identityRecord struct {
	ID           string            `gorm:"primaryKey;size:64"`
	Email        string            `gorm:"size:254;uniqueIndex;not null"`
	PasswordHash string            `gorm:"not null"`
	Role         string            `gorm:"size:64;not null"`
	Profile      map[string]string `gorm:"serializer:json;type:text"`
	CreatedAt    time.Time
}

func (identityRecord) TableName() string { return "identities" }

func (r identityRecord) identity() *rentAuth.Identity {
	return &rentAuth.Identity{
		ID:           r.ID,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Role:         r.Role,
		Profile:      r.Profile,
		CreatedAt:    r.CreatedAt.UTC(),
	}
}

// IdentityRepository is a gorm-backed rentAuth.IdentityStore. Email
// uniqueness is enforced by a unique index.
type IdentityRepository struct {
	db *gorm.DB
}

func NewIdentityRepository(db *gorm.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

func (r *IdentityRepository) FindByEmail(ctx context.Context, email string) (*rentAuth.Identity, error) {
	return r.find(ctx, "email = ?", email)
}

func (r *IdentityRepository) FindByID(ctx context.Context, id string) (*rentAuth.Identity, error) {
	return r.find(ctx, "id = ?", id)
}

func (r *IdentityRepository) find(ctx context.Context, query string, arg string) (*rentAuth.Identity, error) {
	var rec identityRecord
	err := r.db.WithContext(ctx).Take(&rec, query, arg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, rentAuth.ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("persistence: find identity: %w", err)
	}
	return rec.identity(), nil
}

func (r *IdentityRepository) Create(ctx context.Context, identity rentAuth.Identity) error {
	rec := identityRecord{
		ID:           identity.ID,
		Email:        identity.Email,
		PasswordHash: identity.PasswordHash,
		Role:         identity.Role,
		Profile:      identity.Profile,
		CreatedAt:    identity.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isDuplicate(err) {
			return rentAuth.ErrIdentityExists
		}
		return fmt.Errorf("persistence: create identity: %w", err)
	}
	return nil
}

func (r *IdentityRepository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	res := r.db.WithContext(ctx).Model(&identityRecord{}).Where("id = ?", id).Update("password_hash", hash)
	if res.Error != nil {
		return fmt.Errorf("persistence: update password hash: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return rentAuth.ErrIdentityNotFound
	}
	return nil
}
