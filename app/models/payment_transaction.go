package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	PaymentGatewayRazorpay = "razorpay"
	PaymentGatewayPayPal   = "paypal"
)

const (
	PaymentStatusSuccess = "success"
	PaymentStatusFailed  = "failed"
)

const (
	PaymentTypeInitial        = "initial"
	PaymentTypeRecurring      = "recurring"
	PaymentTypeOneTime        = "one_time"
	PaymentTypeAdvisorCredits = "advisor_credits"
	PaymentTypeMentorPayment  = "mentor_payment"
)

// PaymentTransaction is an immutable record of one gateway charge. Only
// SubscriptionID is ever back-filled after creation.
type PaymentTransaction struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	UserID           string          `gorm:"type:varchar(36);not null;index" json:"user_id"`
	SubscriptionID   *uint           `gorm:"index" json:"subscription_id"`
	PaymentGateway   string          `gorm:"type:varchar(16);not null;index:ux_payment_transactions_gateway_payment,unique,priority:1" json:"payment_gateway"`
	GatewayOrderID   string          `gorm:"type:varchar(64);default:''" json:"gateway_order_id,omitempty"`
	GatewayPaymentID string          `gorm:"type:varchar(64);not null;index:ux_payment_transactions_gateway_payment,unique,priority:2" json:"gateway_payment_id"`
	GatewaySignature string          `gorm:"type:varchar(128);default:''" json:"-"`
	Amount           decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Currency         string          `gorm:"type:varchar(8);not null;default:'INR'" json:"currency"`
	Status           string          `gorm:"type:varchar(16);not null;index" json:"status"`
	PaymentType      string          `gorm:"type:varchar(32);not null" json:"payment_type"`
	PlanTier         string          `gorm:"type:varchar(32);default:''" json:"plan_tier,omitempty"`
	Metadata         datatypes.JSON  `json:"metadata,omitempty"`
	CreatedAt        time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

// IsOrphaned reports a successful charge with no linked subscription.
func (t *PaymentTransaction) IsOrphaned() bool {
	return t.Status == PaymentStatusSuccess && t.SubscriptionID == nil &&
		(t.PaymentType == PaymentTypeInitial || t.PaymentType == PaymentTypeRecurring)
}
