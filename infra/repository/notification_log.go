package repository

import (
	"context"
	"time"

	"github.com/amirasaad/ecclesia/pkg/domain/notification"
	repo "github.com/amirasaad/ecclesia/pkg/repository"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type notificationLogRepository struct {
	db *gorm.DB
}

// NewNotificationLogRepository creates the dedup ledger backed by gorm. The
// unique index on (user_id, rule_key, channel, day) is what makes Claim
// atomic across replicas.
func NewNotificationLogRepository(db *gorm.DB) repo.NotificationLogRepository {
	return &notificationLogRepository{db: db}
}

// Claim implements repository.NotificationLogRepository.
func (r *notificationLogRepository) Claim(ctx context.Context, entry *notification.Log) (bool, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Outcome == "" {
		entry.Outcome = notification.OutcomeClaimed
	}
	m := NotificationLog{
		ID:       entry.ID,
		TenantID: entry.TenantID,
		UserID:   entry.UserID,
		RuleKey:  entry.RuleKey,
		Channel:  string(entry.Channel),
		Day:      entry.Day,
		SentAt:   entry.SentAt,
		Outcome:  string(entry.Outcome),
		Error:    entry.Error,
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "user_id"}, {Name: "rule_key"}, {Name: "channel"}, {Name: "day"},
			},
			DoNothing: true,
		}).
		Create(&m)
	if res.Error != nil {
		return false, MapGormErrorToDomain(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Complete implements repository.NotificationLogRepository.
func (r *notificationLogRepository) Complete(
	ctx context.Context,
	id uuid.UUID,
	outcome notification.Outcome,
	errMsg string,
) error {
	return WrapError(func() error {
		return r.db.WithContext(ctx).
			Model(&NotificationLog{}).
			Where("id = ?", id).
			Updates(map[string]any{"outcome": string(outcome), "error": errMsg}).Error
	})
}

// DeleteBefore implements repository.NotificationLogRepository.
func (r *notificationLogRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("sent_at < ?", before).Delete(&NotificationLog{})
	if res.Error != nil {
		return 0, MapGormErrorToDomain(res.Error)
	}
	return res.RowsAffected, nil
}
