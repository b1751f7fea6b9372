package repository

import (
	"context"

	"github.com/amirasaad/ecclesia/pkg/domain/payer"
	repo "github.com/amirasaad/ecclesia/pkg/repository"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type payerRepository struct {
	db *gorm.DB
}

// NewPayerRepository creates a read-only payer and tenant view backed by gorm.
func NewPayerRepository(db *gorm.DB) repo.PayerRepository {
	return &payerRepository{db: db}
}

// Get implements repository.PayerRepository.
func (r *payerRepository) Get(ctx context.Context, id uuid.UUID) (*payer.Payer, error) {
	var m Payer
	if err := WrapError(func() error {
		return r.db.WithContext(ctx).First(&m, "id = ?", id).Error
	}); err != nil {
		return nil, err
	}
	return mapModelToPayer(&m), nil
}

// ListActive implements repository.PayerRepository.
func (r *payerRepository) ListActive(ctx context.Context, tenantID uuid.UUID) ([]*payer.Payer, error) {
	var rows []Payer
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND active = ?", tenantID, true).
		Order("name").
		Find(&rows).Error; err != nil {
		return nil, MapGormErrorToDomain(err)
	}
	out := make([]*payer.Payer, 0, len(rows))
	for i := range rows {
		out = append(out, mapModelToPayer(&rows[i]))
	}
	return out, nil
}

// GetTenant implements repository.PayerRepository.
func (r *payerRepository) GetTenant(ctx context.Context, id uuid.UUID) (*payer.Tenant, error) {
	var m Tenant
	if err := WrapError(func() error {
		return r.db.WithContext(ctx).First(&m, "id = ?", id).Error
	}); err != nil {
		return nil, err
	}
	return mapModelToTenant(&m), nil
}

// ListTenants implements repository.PayerRepository.
func (r *payerRepository) ListTenants(ctx context.Context) ([]*payer.Tenant, error) {
	var rows []Tenant
	if err := r.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, MapGormErrorToDomain(err)
	}
	out := make([]*payer.Tenant, 0, len(rows))
	for i := range rows {
		out = append(out, mapModelToTenant(&rows[i]))
	}
	return out, nil
}

func mapModelToPayer(m *Payer) *payer.Payer {
	return &payer.Payer{
		ID:           m.ID,
		TenantID:     m.TenantID,
		Name:         m.Name,
		Email:        m.Email,
		Phone:        m.Phone,
		DueDay:       m.DueDay,
		Active:       m.Active,
		RegisteredAt: m.RegisteredAt,
	}
}

func mapModelToTenant(m *Tenant) *payer.Tenant {
	return &payer.Tenant{
		ID:       m.ID,
		Name:     m.Name,
		Timezone: m.Timezone,
		Locale:   m.Locale,
		Currency: m.Currency,
	}
}
