package repository

import (
	"context"

	"github.com/amirasaad/ecclesia/pkg/domain/notification"
	repo "github.com/amirasaad/ecclesia/pkg/repository"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ruleRepository struct {
	db *gorm.DB
}

// NewRuleRepository creates a notification rule store backed by gorm.
func NewRuleRepository(db *gorm.DB) repo.RuleRepository {
	return &ruleRepository{db: db}
}

// Create implements repository.RuleRepository.
func (r *ruleRepository) Create(ctx context.Context, rule *notification.Rule) error {
	m := mapRuleToModel(rule)
	if err := WrapError(func() error {
		return r.db.WithContext(ctx).Create(&m).Error
	}); err != nil {
		return err
	}
	rule.CreatedAt = m.CreatedAt
	rule.UpdatedAt = m.UpdatedAt
	return nil
}

// Update implements repository.RuleRepository.
func (r *ruleRepository) Update(ctx context.Context, rule *notification.Rule) error {
	res := r.db.WithContext(ctx).
		Model(&NotificationRule{}).
		Where("id = ? AND tenant_id = ?", rule.ID, rule.TenantID).
		Updates(map[string]any{
			"name":        rule.Name,
			"trigger":     string(rule.Trigger),
			"days_offset": rule.DaysOffset,
			"template":    rule.Template,
			"email":       rule.Email,
			"whatsapp":    rule.WhatsApp,
			"active":      rule.Active,
		})
	if res.Error != nil {
		return MapGormErrorToDomain(res.Error)
	}
	if res.RowsAffected == 0 {
		return MapGormErrorToDomain(gorm.ErrRecordNotFound)
	}
	return nil
}

// Delete implements repository.RuleRepository.
func (r *ruleRepository) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Delete(&NotificationRule{})
	if res.Error != nil {
		return MapGormErrorToDomain(res.Error)
	}
	if res.RowsAffected == 0 {
		return MapGormErrorToDomain(gorm.ErrRecordNotFound)
	}
	return nil
}

// Get implements repository.RuleRepository.
func (r *ruleRepository) Get(ctx context.Context, tenantID, id uuid.UUID) (*notification.Rule, error) {
	var m NotificationRule
	if err := WrapError(func() error {
		return r.db.WithContext(ctx).
			Where("id = ? AND tenant_id = ?", id, tenantID).
			First(&m).Error
	}); err != nil {
		return nil, err
	}
	return mapModelToRule(&m), nil
}

// List implements repository.RuleRepository.
func (r *ruleRepository) List(ctx context.Context, tenantID uuid.UUID) ([]*notification.Rule, error) {
	return r.find(ctx, r.db.Where("tenant_id = ?", tenantID))
}

// ListActive implements repository.RuleRepository.
func (r *ruleRepository) ListActive(ctx context.Context, tenantID uuid.UUID) ([]*notification.Rule, error) {
	return r.find(ctx, r.db.Where("tenant_id = ? AND active = ?", tenantID, true))
}

func (r *ruleRepository) find(ctx context.Context, q *gorm.DB) ([]*notification.Rule, error) {
	var rows []NotificationRule
	if err := q.WithContext(ctx).Order("created_at").Find(&rows).Error; err != nil {
		return nil, MapGormErrorToDomain(err)
	}
	out := make([]*notification.Rule, 0, len(rows))
	for i := range rows {
		out = append(out, mapModelToRule(&rows[i]))
	}
	return out, nil
}

func mapRuleToModel(r *notification.Rule) NotificationRule {
	return NotificationRule{
		ID:         r.ID,
		TenantID:   r.TenantID,
		Name:       r.Name,
		Trigger:    string(r.Trigger),
		DaysOffset: r.DaysOffset,
		Template:   r.Template,
		Email:      r.Email,
		WhatsApp:   r.WhatsApp,
		Active:     r.Active,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func mapModelToRule(m *NotificationRule) *notification.Rule {
	return &notification.Rule{
		ID:         m.ID,
		TenantID:   m.TenantID,
		Name:       m.Name,
		Trigger:    notification.Trigger(m.Trigger),
		DaysOffset: m.DaysOffset,
		Template:   m.Template,
		Email:      m.Email,
		WhatsApp:   m.WhatsApp,
		Active:     m.Active,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}
