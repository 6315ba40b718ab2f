package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trackmystartup/tms-payments/app/models"
	"github.com/trackmystartup/tms-payments/internal/pkg/env"
)

const defaultRazorpayAPIBaseURL = "https://api.razorpay.com"

const razorpayPageSize = 100

// Razorpay subscription states that still hold a mandate.
const (
	RazorpaySubscriptionCreated       = "created"
	RazorpaySubscriptionAuthenticated = "authenticated"
	RazorpaySubscriptionActive        = "active"
	RazorpaySubscriptionPending       = "pending"
	RazorpaySubscriptionHalted        = "halted"
	RazorpaySubscriptionCancelled     = "cancelled"
	RazorpaySubscriptionCompleted     = "completed"
)

type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	PlanIDMonthly string
	PlanIDYearly  string
	BaseURL       string
	Timeout       time.Duration
}

type RazorpayClient struct {
	cfg  RazorpayConfig
	http *resty.Client
}

type RazorpayOrder struct {
	ID         string          `json:"id"`
	Entity     string          `json:"entity"`
	Amount     int64           `json:"amount"`
	AmountPaid int64           `json:"amount_paid"`
	AmountDue  int64           `json:"amount_due"`
	Currency   string          `json:"currency"`
	Receipt    string          `json:"receipt"`
	Status     string          `json:"status"`
	Attempts   int             `json:"attempts"`
	Notes      json.RawMessage `json:"notes,omitempty"`
	CreatedAt  int64           `json:"created_at"`
}

type RazorpaySubscription struct {
	ID             string          `json:"id"`
	Entity         string          `json:"entity"`
	PlanID         string          `json:"plan_id"`
	CustomerID     string          `json:"customer_id"`
	Status         string          `json:"status"`
	ShortURL       string          `json:"short_url"`
	TotalCount     int             `json:"total_count"`
	PaidCount      int             `json:"paid_count"`
	RemainingCount json.Number     `json:"remaining_count"`
	CurrentStart   *int64          `json:"current_start"`
	CurrentEnd     *int64          `json:"current_end"`
	ChargeAt       *int64          `json:"charge_at"`
	Notes          json.RawMessage `json:"notes,omitempty"`
	CreatedAt      int64           `json:"created_at"`
}

type RazorpayToken struct {
	ID        string `json:"id"`
	Entity    string `json:"entity"`
	Method    string `json:"method"`
	Recurring bool   `json:"recurring"`
	ExpiredAt int64  `json:"expired_at"`
	CreatedAt int64  `json:"created_at"`
}

type razorpayCollection[T any] struct {
	Entity string `json:"entity"`
	Count  int    `json:"count"`
	Items  []T    `json:"items"`
}

// RazorpaySubscriptionInput starts a subscription on a pre-created plan.
// PlanID overrides the plan configured for the interval.
type RazorpaySubscriptionInput struct {
	PlanID         string
	Interval       string
	TotalCount     int
	CustomerNotify bool
	Notes          map[string]string
}

func NewRazorpayClient(cfg RazorpayConfig) *RazorpayClient {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultRazorpayAPIBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	return &RazorpayClient{cfg: cfg, http: client}
}

func NewRazorpayClientFromEnv() *RazorpayClient {
	return NewRazorpayClient(RazorpayConfig{
		KeyID:         strings.TrimSpace(env.GetEnv("RAZORPAY_KEY_ID", "")),
		KeySecret:     strings.TrimSpace(env.GetEnv("RAZORPAY_KEY_SECRET", "")),
		WebhookSecret: strings.TrimSpace(env.GetEnv("RAZORPAY_WEBHOOK_SECRET", "")),
		PlanIDMonthly: strings.TrimSpace(env.GetEnv("RAZORPAY_PLAN_ID_MONTHLY", "")),
		PlanIDYearly:  strings.TrimSpace(env.GetEnv("RAZORPAY_PLAN_ID_YEARLY", "")),
		BaseURL:       strings.TrimSpace(env.GetEnv("RAZORPAY_API_BASE_URL", defaultRazorpayAPIBaseURL)),
	})
}

// Configured reports whether API credentials are present.
func (c *RazorpayClient) Configured() bool {
	return c != nil && c.cfg.KeyID != "" && c.cfg.KeySecret != ""
}

// KeyID is the public key id clients need to open checkout.
func (c *RazorpayClient) KeyID() string {
	return c.cfg.KeyID
}

func (c *RazorpayClient) keySecret() (string, error) {
	if c == nil || c.cfg.KeySecret == "" {
		return "", configErrorf("RAZORPAY_KEY_SECRET is not configured")
	}
	return c.cfg.KeySecret, nil
}

func (c *RazorpayClient) webhookSecret() (string, error) {
	if c == nil || c.cfg.WebhookSecret == "" {
		return "", configErrorf("RAZORPAY_WEBHOOK_SECRET is not configured")
	}
	return c.cfg.WebhookSecret, nil
}

// PlanIDFor returns the configured subscription plan for an interval.
func (c *RazorpayClient) PlanIDFor(interval string) (string, error) {
	if NormalizeInterval(interval) == models.IntervalYearly {
		if c.cfg.PlanIDYearly == "" {
			return "", configErrorf("RAZORPAY_PLAN_ID_YEARLY is not configured")
		}
		return c.cfg.PlanIDYearly, nil
	}
	if c.cfg.PlanIDMonthly == "" {
		return "", configErrorf("RAZORPAY_PLAN_ID_MONTHLY is not configured")
	}
	return c.cfg.PlanIDMonthly, nil
}

// CreateOrder creates a one-time order. amount is in major units.
func (c *RazorpayClient) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string, notes map[string]string) (*RazorpayOrder, error) {
	minor, err := ToMinorUnits(amount)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(receipt) == "" {
		receipt = "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
	}

	body := map[string]interface{}{
		"amount":   minor,
		"currency": currencyOrDefault(currency, "INR"),
		"receipt":  receipt,
	}
	if len(notes) > 0 {
		body["notes"] = notes
	}

	var order RazorpayOrder
	if err := c.do(ctx, http.MethodPost, "/v1/orders", nil, body, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CreateSubscription starts a subscription on the plan configured for the
// interval. TotalCount defaults to ten years of cycles.
func (c *RazorpayClient) CreateSubscription(ctx context.Context, in RazorpaySubscriptionInput) (*RazorpaySubscription, error) {
	planID := in.PlanID
	if planID == "" {
		var err error
		if planID, err = c.PlanIDFor(in.Interval); err != nil {
			return nil, err
		}
	}
	total := in.TotalCount
	if total <= 0 {
		total = 120
		if NormalizeInterval(in.Interval) == models.IntervalYearly {
			total = 10
		}
	}

	notify := 0
	if in.CustomerNotify {
		notify = 1
	}
	body := map[string]interface{}{
		"plan_id":         planID,
		"total_count":     total,
		"customer_notify": notify,
	}
	if len(in.Notes) > 0 {
		body["notes"] = in.Notes
	}

	var sub RazorpaySubscription
	if err := c.do(ctx, http.MethodPost, "/v1/subscriptions", nil, body, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// CancelSubscription cancels immediately, or at the end of the current
// billing cycle when atCycleEnd is set.
func (c *RazorpayClient) CancelSubscription(ctx context.Context, subscriptionID string, atCycleEnd bool) (*RazorpaySubscription, error) {
	flag := 0
	if atCycleEnd {
		flag = 1
	}
	var sub RazorpaySubscription
	path := "/v1/subscriptions/" + url.PathEscape(subscriptionID) + "/cancel"
	if err := c.do(ctx, http.MethodPost, path, nil, map[string]interface{}{"cancel_at_cycle_end": flag}, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListCustomerSubscriptions pages through all subscriptions and keeps the
// ones owned by customerID.
func (c *RazorpayClient) ListCustomerSubscriptions(ctx context.Context, customerID string) ([]RazorpaySubscription, error) {
	var out []RazorpaySubscription
	for skip := 0; ; skip += razorpayPageSize {
		var page razorpayCollection[RazorpaySubscription]
		query := map[string]string{
			"count": strconv.Itoa(razorpayPageSize),
			"skip":  strconv.Itoa(skip),
		}
		if err := c.do(ctx, http.MethodGet, "/v1/subscriptions", query, nil, &page); err != nil {
			return nil, err
		}
		for _, sub := range page.Items {
			if sub.CustomerID == customerID {
				out = append(out, sub)
			}
		}
		if len(page.Items) < razorpayPageSize {
			return out, nil
		}
	}
}

func (c *RazorpayClient) ListTokens(ctx context.Context, customerID string) ([]RazorpayToken, error) {
	var page razorpayCollection[RazorpayToken]
	if err := c.do(ctx, http.MethodGet, "/v1/customers/"+url.PathEscape(customerID)+"/tokens", nil, nil, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

func (c *RazorpayClient) DeleteToken(ctx context.Context, customerID, tokenID string) error {
	path := "/v1/customers/" + url.PathEscape(customerID) + "/tokens/" + url.PathEscape(tokenID)
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

func (c *RazorpayClient) do(ctx context.Context, method, path string, query map[string]string, body, result interface{}) error {
	if !c.Configured() {
		return configErrorf("RAZORPAY_KEY_ID/RAZORPAY_KEY_SECRET are not configured")
	}

	req := c.http.R().
		SetContext(ctx).
		SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return &GatewayError{Provider: models.PaymentGatewayRazorpay, Err: err}
	}
	if resp.IsError() {
		return &GatewayError{
			Provider:   models.PaymentGatewayRazorpay,
			StatusCode: resp.StatusCode(),
			Body:       strings.TrimSpace(string(resp.Body())),
		}
	}
	return nil
}

// IsMandateHolding reports whether a subscription still holds a mandate that
// a customer cleanup has to cancel.
func IsMandateHolding(status string) bool {
	switch status {
	case RazorpaySubscriptionActive, RazorpaySubscriptionAuthenticated, RazorpaySubscriptionPending, RazorpaySubscriptionHalted:
		return true
	default:
		return false
	}
}
