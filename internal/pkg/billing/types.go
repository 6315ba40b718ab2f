package billing

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trackmystartup/tms-payments/app/models"
)

const (
	PurposeSubscription   = "subscription"
	PurposeAdvisorCredits = "advisor_credits"
	PurposeMentorPayment  = "mentor_payment"
)

// PlanRef is a subscription plan id that clients send either as a JSON
// number or as a string.
type PlanRef struct {
	ID    uint
	Valid bool
}

func (p *PlanRef) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*p = PlanRef{}
		return nil
	}
	s := strings.Trim(string(raw), `"`)
	s = strings.TrimSpace(s)
	if s == "" {
		*p = PlanRef{}
		return nil
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return validationErrorf("plan_id %q is not a valid plan id", s)
	}
	*p = PlanRef{ID: uint(id), Valid: true}
	return nil
}

func (p PlanRef) MarshalJSON() ([]byte, error) {
	if !p.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatUint(uint64(p.ID), 10)), nil
}

// Ptr returns the id as a nullable column value.
func (p PlanRef) Ptr() *uint {
	if !p.Valid {
		return nil
	}
	id := p.ID
	return &id
}

// VerifyFields are shared by every gateway verification variant.
type VerifyFields struct {
	UserID        string          `json:"user_id" validate:"required"`
	PlanID        PlanRef         `json:"plan_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Interval      string          `json:"interval"`
	Purpose       string          `json:"purpose" validate:"omitempty,oneof=subscription advisor_credits mentor_payment one_time"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	TaxPercentage decimal.Decimal `json:"tax_percentage"`
	BaseAmount    decimal.Decimal `json:"base_amount"`
	CreditsToAdd  int             `json:"credits_to_add" validate:"gte=0"`
	MentorID      string          `json:"mentor_id"`
}

// RazorpayVerifyRequest is the Razorpay checkout confirmation.
type RazorpayVerifyRequest struct {
	PaymentID      string `json:"razorpay_payment_id" validate:"required"`
	OrderID        string `json:"razorpay_order_id"`
	SubscriptionID string `json:"razorpay_subscription_id"`
	Signature      string `json:"razorpay_signature" validate:"required"`
	VerifyFields
}

// PayPalVerifyRequest is the PayPal approval confirmation. Exactly one of
// the ids is expected.
type PayPalVerifyRequest struct {
	OrderID        string `json:"paypal_order_id"`
	SubscriptionID string `json:"paypal_subscription_id"`
	VerifyFields
}

// VerifyResult is returned to the client after a verified payment.
type VerifyResult struct {
	Success           bool                  `json:"success"`
	Message           string                `json:"message"`
	SubscriptionID    *uint                 `json:"subscription_id,omitempty"`
	TransactionID     *uint                 `json:"transaction_id,omitempty"`
	LedgerRecorded    bool                  `json:"ledger_recorded"`
	Duplicate         bool                  `json:"duplicate,omitempty"`
	SignatureVerified bool                  `json:"signature_verified"`
	Credits           *models.AdvisorCredit `json:"credits,omitempty"`
}

// VerifiedPayment is a gateway charge that passed verification and is ready
// to be written to the ledger.
type VerifiedPayment struct {
	ProfileID              string
	Gateway                string
	GatewayOrderID         string
	GatewayPaymentID       string
	GatewaySignature       string
	RazorpaySubscriptionID string
	PayPalSubscriptionID   string
	PlanID                 *uint
	Amount                 decimal.Decimal
	Currency               string
	Interval               string
	PaymentType            string
	AutopayEnabled         bool
	Metadata               map[string]interface{}
	PaidAt                 time.Time
}

// LedgerResult describes what the ledger writer persisted. On a failed write
// Transaction may hold the orphan record and Subscription is nil.
type LedgerResult struct {
	Subscription   *models.UserSubscription
	Transaction    *models.PaymentTransaction
	BillingCycle   *models.BillingCycle
	LedgerRecorded bool
	Duplicate      bool
}

// AddCreditsInput is an advisor credit top-up.
type AddCreditsInput struct {
	AdvisorUserID        string            `json:"advisor_user_id" validate:"required"`
	CreditsToAdd         int               `json:"credits_to_add" validate:"gt=0"`
	AmountPaid           decimal.Decimal   `json:"amount_paid"`
	Currency             string            `json:"currency"`
	PaymentGateway       string            `json:"payment_gateway"`
	PaymentTransactionID string            `json:"payment_transaction_id"`
	Notes                map[string]string `json:"notes,omitempty"`
}

// CreateOrderRequest is a one-time Razorpay order.
type CreateOrderRequest struct {
	Amount   decimal.Decimal   `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes"`
}

// CreateRazorpaySubscriptionRequest starts a Razorpay subscription on the
// configured plan for the interval.
type CreateRazorpaySubscriptionRequest struct {
	UserID     string  `json:"user_id" validate:"required"`
	PlanID     PlanRef `json:"plan_id"`
	Interval   string  `json:"interval"`
	TotalCount int     `json:"total_count" validate:"gte=0"`
}

// CreatePayPalOrderRequest is a one-time PayPal order.
type CreatePayPalOrderRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// CreatePayPalSubscriptionRequest creates product, plan and subscription.
type CreatePayPalSubscriptionRequest struct {
	UserID      string          `json:"user_id" validate:"required"`
	FinalAmount decimal.Decimal `json:"final_amount"`
	Interval    string          `json:"interval"`
	PlanName    string          `json:"plan_name"`
	Currency    string          `json:"currency"`
}

// PayPalSubscriptionResult is returned once the subscription awaits approval.
type PayPalSubscriptionResult struct {
	SubscriptionID string `json:"subscriptionId"`
	Status         string `json:"status"`
	ApproveURL     string `json:"approveUrl,omitempty"`
	PlanID         string `json:"planId,omitempty"`
	ProductID      string `json:"productId,omitempty"`
}

// StopAutopayRequest cancels a recurring mandate.
type StopAutopayRequest struct {
	SubscriptionID string `json:"subscription_id" validate:"required"`
	UserID         string `json:"user_id" validate:"required"`
}

// CleanupResult lists what the customer cleanup removed.
type CleanupResult struct {
	OK                     bool     `json:"ok"`
	CancelledSubscriptions []string `json:"cancelled_subscriptions"`
	DeletedTokens          []string `json:"deleted_tokens"`
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

// WebhookResult is the webhook acknowledgement.
type WebhookResult struct {
	OK        bool   `json:"ok"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Ignored   bool   `json:"ignored,omitempty"`
	Event     string `json:"event,omitempty"`
}

func purposeOrDefault(purpose string) string {
	p := strings.ToLower(strings.TrimSpace(purpose))
	if p == "" {
		return PurposeSubscription
	}
	return p
}

func currencyOrDefault(currency, def string) string {
	c := strings.ToUpper(strings.TrimSpace(currency))
	if c == "" {
		return def
	}
	return c
}

func encodeMetadata(meta map[string]interface{}) []byte {
	if len(meta) == 0 {
		return nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return b
}
