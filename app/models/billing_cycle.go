package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const BillingCycleStatusPaid = "paid"

// BillingCycle is one paid period of a subscription.
type BillingCycle struct {
	ID                   uint            `gorm:"primaryKey" json:"id"`
	SubscriptionID       uint            `gorm:"not null;index" json:"subscription_id"`
	PaymentTransactionID uint            `gorm:"not null;index" json:"payment_transaction_id"`
	CycleNumber          int             `gorm:"not null;default:1" json:"cycle_number"`
	PeriodStart          time.Time       `gorm:"type:timestamp;not null" json:"period_start"`
	PeriodEnd            time.Time       `gorm:"type:timestamp;not null" json:"period_end"`
	Amount               decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency             string          `gorm:"type:varchar(8);not null" json:"currency"`
	Status               string          `gorm:"type:varchar(16);not null;default:'paid'" json:"status"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
}
