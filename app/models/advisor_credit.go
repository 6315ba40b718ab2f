package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	CreditPurchaseCompleted = "completed"
	CreditPurchaseFailed    = "failed"
)

// AdvisorCredit is the prepaid credit balance of an investment advisor. It is
// only mutated through an additive upsert.
type AdvisorCredit struct {
	ID                   uint            `gorm:"primaryKey" json:"id"`
	AdvisorUserID        string          `gorm:"type:varchar(36);not null;uniqueIndex" json:"advisor_user_id"`
	CreditsAvailable     int             `gorm:"not null;default:0" json:"credits_available"`
	CreditsUsed          int             `gorm:"not null;default:0" json:"credits_used"`
	CreditsPurchased     int             `gorm:"not null;default:0" json:"credits_purchased"`
	LastPurchaseAmount   decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"last_purchase_amount"`
	LastPurchaseCurrency string          `gorm:"type:varchar(8);default:''" json:"last_purchase_currency"`
	LastPurchaseDate     *time.Time      `gorm:"type:timestamp;default:null" json:"last_purchase_date,omitempty"`
	CreatedAt            time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// CreditPurchaseHistory is the append-only audit log of credit top-ups,
// written for failed attempts too.
type CreditPurchaseHistory struct {
	ID                    uint            `gorm:"primaryKey" json:"id"`
	AdvisorUserID         string          `gorm:"type:varchar(36);not null;index" json:"advisor_user_id"`
	CreditsPurchased      int             `gorm:"not null" json:"credits_purchased"`
	AmountPaid            decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount_paid"`
	Currency              string          `gorm:"type:varchar(8);not null" json:"currency"`
	PaymentGateway        string          `gorm:"type:varchar(16);default:''" json:"payment_gateway"`
	PaymentTransactionID  string          `gorm:"type:varchar(64);default:''" json:"payment_transaction_id"`
	Status                string          `gorm:"type:varchar(16);not null;index" json:"status"`
	ErrorMessage          string          `gorm:"type:text" json:"error_message,omitempty"`
	CreditsAvailableAfter *int            `json:"credits_available_after,omitempty"`
	CreditsPurchasedAfter *int            `json:"credits_purchased_after,omitempty"`
	Details               datatypes.JSON  `json:"details,omitempty"`
	// CompletionKey is set on completed purchases that carry a payment id so
	// one payment can be applied at most once.
	CompletionKey         *string         `gorm:"type:varchar(191);uniqueIndex" json:"-"`
	CreatedAt             time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (CreditPurchaseHistory) TableName() string {
	return "credit_purchase_history"
}
