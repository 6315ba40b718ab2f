package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusInactive  = "inactive"
	SubscriptionStatusCancelled = "cancelled"
)

const (
	MandateStatusActive    = "active"
	MandateStatusPending   = "pending"
	MandateStatusCancelled = "cancelled"
)

// UserSubscription is the billing record of one profile. Superseded rows are
// marked inactive, never deleted.
type UserSubscription struct {
	ID                     uint            `gorm:"primaryKey" json:"id"`
	UserID                 string          `gorm:"type:varchar(36);not null;index:idx_user_subscriptions_user_status,priority:1" json:"user_id"`
	PlanID                 *uint           `gorm:"index" json:"plan_id,omitempty"`
	PlanTier               string          `gorm:"type:varchar(32);not null;default:'free'" json:"plan_tier"`
	Status                 string          `gorm:"type:varchar(16);not null;default:'active';index:idx_user_subscriptions_user_status,priority:2" json:"status"`
	CurrentPeriodStart     time.Time       `gorm:"type:timestamp;not null" json:"current_period_start"`
	CurrentPeriodEnd       time.Time       `gorm:"type:timestamp;not null" json:"current_period_end"`
	Amount                 decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency               string          `gorm:"type:varchar(8);not null;default:'INR'" json:"currency"`
	Interval               string          `gorm:"type:varchar(16);not null;default:'monthly'" json:"interval"`
	PaymentGateway         string          `gorm:"type:varchar(16);not null" json:"payment_gateway"`
	RazorpaySubscriptionID string          `gorm:"type:varchar(64);default:'';index" json:"razorpay_subscription_id,omitempty"`
	PaypalSubscriptionID   string          `gorm:"type:varchar(64);default:'';index" json:"paypal_subscription_id,omitempty"`
	AutopayEnabled         bool            `gorm:"default:false" json:"autopay_enabled"`
	MandateStatus          string          `gorm:"type:varchar(16);default:''" json:"mandate_status,omitempty"`
	TotalPaid              decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"total_paid"`
	BillingCycleCount      int             `gorm:"not null;default:0" json:"billing_cycle_count"`
	CreatedAt              time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserSubscription) TableName() string {
	return "user_subscriptions"
}

func (s *UserSubscription) IsActive() bool {
	return s != nil && s.Status == SubscriptionStatusActive
}
