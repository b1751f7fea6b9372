package repository

import (
	"context"
	"time"

	"github.com/amirasaad/ecclesia/pkg/domain/token"
	repo "github.com/amirasaad/ecclesia/pkg/repository"
	"gorm.io/gorm"
)

type tokenRepository struct {
	db *gorm.DB
}

// NewTokenRepository creates a payment token store backed by gorm.
func NewTokenRepository(db *gorm.DB) repo.TokenRepository {
	return &tokenRepository{db: db}
}

// Create implements repository.TokenRepository.
func (r *tokenRepository) Create(ctx context.Context, t *token.PaymentToken) error {
	m := PaymentToken{
		Token:     t.Token,
		PayerID:   t.PayerID,
		TenantID:  t.TenantID,
		ExpiresAt: t.ExpiresAt,
		UsedAt:    t.UsedAt,
		CreatedAt: t.CreatedAt,
	}
	return WrapError(func() error {
		return r.db.WithContext(ctx).Create(&m).Error
	})
}

// Get implements repository.TokenRepository.
func (r *tokenRepository) Get(ctx context.Context, value string) (*token.PaymentToken, error) {
	var m PaymentToken
	if err := WrapError(func() error {
		return r.db.WithContext(ctx).First(&m, "token = ?", value).Error
	}); err != nil {
		return nil, err
	}
	return &token.PaymentToken{
		Token:     m.Token,
		PayerID:   m.PayerID,
		TenantID:  m.TenantID,
		ExpiresAt: m.ExpiresAt,
		UsedAt:    m.UsedAt,
		CreatedAt: m.CreatedAt,
	}, nil
}

// MarkUsed implements repository.TokenRepository.
func (r *tokenRepository) MarkUsed(ctx context.Context, value string, at time.Time) error {
	return WrapError(func() error {
		return r.db.WithContext(ctx).
			Model(&PaymentToken{}).
			Where("token = ? AND used_at IS NULL", value).
			Update("used_at", at).Error
	})
}

// DeleteExpired implements repository.TokenRepository.
func (r *tokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&PaymentToken{})
	if res.Error != nil {
		return 0, MapGormErrorToDomain(res.Error)
	}
	return res.RowsAffected, nil
}
