package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	IntervalMonthly = "monthly"
	IntervalYearly  = "yearly"
)

const PlanTierFree = "free"

// SubscriptionPlan is a sellable plan. RazorpayPlanID points at a pre-created
// gateway plan (subscription button) when the plan is sold through Razorpay
// subscriptions.
type SubscriptionPlan struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	Name           string          `gorm:"type:varchar(100);not null" json:"name"`
	Tier           string          `gorm:"type:varchar(32);not null;default:'free';index" json:"tier"`
	UserType       string          `gorm:"type:varchar(32);default:''" json:"user_type"`
	Price          decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	Currency       string          `gorm:"type:varchar(8);not null;default:'INR'" json:"currency"`
	Interval       string          `gorm:"type:varchar(16);not null;default:'monthly'" json:"interval"`
	RazorpayPlanID string          `gorm:"type:varchar(64);default:''" json:"razorpay_plan_id,omitempty"`
	IsActive       bool            `gorm:"default:true;index" json:"is_active"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
