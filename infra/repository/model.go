package repository

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Transaction represents a persisted contribution payment. Rows are never
// hard deleted; DeletedAt is the soft-delete marker.
type Transaction struct {
	ID                    uuid.UUID        `gorm:"type:uuid;primaryKey"`
	ProviderTransactionID *string          `gorm:"type:varchar(128);column:provider_transaction_id;index:idx_transactions_provider,priority:2"`
	TenantID              uuid.UUID        `gorm:"type:uuid;not null;index"`
	PayerID               uuid.UUID        `gorm:"type:uuid;not null;index:idx_transactions_payer_amount,priority:1"`
	OriginID              *uuid.UUID       `gorm:"type:uuid"`
	Amount                decimal.Decimal  `gorm:"type:numeric(14,2);not null;index:idx_transactions_payer_amount,priority:2"`
	Method                string           `gorm:"type:varchar(16);not null"`
	Status                string           `gorm:"type:varchar(16);not null;default:'pending';index"`
	Gateway               string           `gorm:"type:varchar(32);not null;index:idx_transactions_provider,priority:1"`
	FraudFlagged          bool             `gorm:"not null;default:false"`
	FraudMarkedBy         *uuid.UUID       `gorm:"type:uuid"`
	FraudMarkedAt         *time.Time
	FraudReason           string           `gorm:"type:varchar(255)"`
	RefundReason          *string          `gorm:"type:varchar(255)"`
	RefundAmount          *decimal.Decimal `gorm:"type:numeric(14,2)"`
	ManualRefundPending   bool             `gorm:"not null;default:false"`
	CreatedAt             time.Time        `gorm:"index"`
	UpdatedAt             time.Time
	DeletedAt             gorm.DeletedAt `gorm:"index"`
}

// TableName specifies the table name for the Transaction model.
func (Transaction) TableName() string { return "transactions" }

// PaymentToken is a magic-link token row.
type PaymentToken struct {
	Token     string    `gorm:"type:varchar(96);primaryKey"`
	PayerID   uuid.UUID `gorm:"type:uuid;not null;index"`
	TenantID  uuid.UUID `gorm:"type:uuid;not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
	UsedAt    *time.Time
	CreatedAt time.Time
}

func (PaymentToken) TableName() string { return "payment_tokens" }

// Payer is the platform owned member record.
type Payer struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID     uuid.UUID `gorm:"type:uuid;not null;index"`
	Name         string    `gorm:"type:varchar(255);not null"`
	Email        string    `gorm:"type:varchar(255)"`
	Phone        string    `gorm:"type:varchar(32)"`
	DueDay       int       `gorm:"not null;default:10"`
	Active       bool      `gorm:"not null;default:true"`
	RegisteredAt time.Time `gorm:"not null"`
	DeletedAt    gorm.DeletedAt
}

func (Payer) TableName() string { return "payers" }

// Tenant is the platform owned organization record.
type Tenant struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name     string    `gorm:"type:varchar(255);not null"`
	Timezone string    `gorm:"type:varchar(64);not null;default:'America/Sao_Paulo'"`
	Locale   string    `gorm:"type:varchar(16);not null;default:'pt-BR'"`
	Currency string    `gorm:"type:varchar(3);not null;default:'BRL'"`
}

func (Tenant) TableName() string { return "tenants" }

// NotificationRule is an administrator configured rule.
type NotificationRule struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID   uuid.UUID `gorm:"type:uuid;not null;index"`
	Name       string    `gorm:"type:varchar(128);not null"`
	Trigger    string    `gorm:"type:varchar(32);not null"`
	DaysOffset int       `gorm:"not null;default:0"`
	Template   string    `gorm:"type:text;not null"`
	Email      bool      `gorm:"not null;default:false"`
	WhatsApp   bool      `gorm:"column:whatsapp;not null;default:false"`
	Active     bool      `gorm:"not null;default:true"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (NotificationRule) TableName() string { return "notification_rules" }

// NotificationLog is the append-only dedup ledger.
type NotificationLog struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID uuid.UUID `gorm:"type:uuid;not null"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_notification_logs_dedup,priority:1"`
	RuleKey  string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_notification_logs_dedup,priority:2"`
	Channel  string    `gorm:"type:varchar(16);not null;uniqueIndex:ux_notification_logs_dedup,priority:3"`
	Day      string    `gorm:"type:char(10);not null;uniqueIndex:ux_notification_logs_dedup,priority:4"`
	SentAt   time.Time `gorm:"not null;index"`
	Outcome  string    `gorm:"type:varchar(16);not null"`
	Error    string    `gorm:"type:text"`
}

func (NotificationLog) TableName() string { return "notification_logs" }
