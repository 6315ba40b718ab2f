package billing

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trackmystartup/tms-payments/app/models"
	"github.com/trackmystartup/tms-payments/internal/pkg/env"
)

const defaultPayPalAPIBaseURL = "https://api-m.sandbox.paypal.com"

// tokens are refreshed this long before PayPal expires them
const payPalTokenLeeway = 60 * time.Second

const (
	PayPalOrderCompleted = "COMPLETED"
	PayPalOrderApproved  = "APPROVED"

	PayPalSubscriptionActive   = "ACTIVE"
	PayPalSubscriptionApproved = "APPROVED"
)

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	BrandName    string
	ReturnURL    string
	CancelURL    string
	Timeout      time.Duration
}

type PayPalClient struct {
	cfg  PayPalConfig
	http *resty.Client
	now  func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

type PayPalLink struct {
	Href   string `json:"href"`
	Rel    string `json:"rel"`
	Method string `json:"method"`
}

type PayPalMoney struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type PayPalCapture struct {
	ID     string      `json:"id"`
	Status string      `json:"status"`
	Amount PayPalMoney `json:"amount"`
}

type PayPalPurchaseUnit struct {
	ReferenceID string      `json:"reference_id,omitempty"`
	CustomID    string      `json:"custom_id,omitempty"`
	Amount      PayPalMoney `json:"amount"`
	Payments    struct {
		Captures []PayPalCapture `json:"captures"`
	} `json:"payments"`
}

type PayPalOrder struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"`
	PurchaseUnits []PayPalPurchaseUnit `json:"purchase_units"`
	Links         []PayPalLink         `json:"links"`
}

// Capture returns the first capture of the order, if any.
func (o *PayPalOrder) Capture() *PayPalCapture {
	for i := range o.PurchaseUnits {
		if caps := o.PurchaseUnits[i].Payments.Captures; len(caps) > 0 {
			return &caps[0]
		}
	}
	return nil
}

type PayPalProduct struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type PayPalPlan struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
}

type PayPalSubscription struct {
	ID          string             `json:"id"`
	PlanID      string             `json:"plan_id"`
	Status      string             `json:"status"`
	CustomID    string             `json:"custom_id"`
	BillingInfo *PayPalBillingInfo `json:"billing_info,omitempty"`
	Links       []PayPalLink       `json:"links"`
}

type PayPalBillingInfo struct {
	LastPayment     *PayPalLastPayment `json:"last_payment,omitempty"`
	NextBillingTime string             `json:"next_billing_time,omitempty"`
}

// PayPalLastPayment is the most recent charge of a subscription.
type PayPalLastPayment struct {
	Amount PayPalMoney `json:"amount"`
	Time   string      `json:"time"`
}

// LastPayment returns the most recent charge, if PayPal reported one.
func (s *PayPalSubscription) LastPayment() *PayPalLastPayment {
	if s == nil || s.BillingInfo == nil {
		return nil
	}
	return s.BillingInfo.LastPayment
}

// PayPalPlanInput describes a fixed price billing plan.
type PayPalPlanInput struct {
	ProductID string
	Name      string
	Amount    decimal.Decimal
	Currency  string
	Interval  string
}

type payPalTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func NewPayPalClient(cfg PayPalConfig) *PayPalClient {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultPayPalAPIBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.BrandName == "" {
		cfg.BrandName = "TrackMyStartup"
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	return &PayPalClient{cfg: cfg, http: client, now: time.Now}
}

func NewPayPalClientFromEnv() *PayPalClient {
	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	returnURL := strings.TrimSpace(env.GetEnv("PAYPAL_RETURN_URL", ""))
	if returnURL == "" && base != "" {
		returnURL = base + "/payment/success"
	}
	cancelURL := strings.TrimSpace(env.GetEnv("PAYPAL_CANCEL_URL", ""))
	if cancelURL == "" && base != "" {
		cancelURL = base + "/payment/cancel"
	}

	return NewPayPalClient(PayPalConfig{
		ClientID:     strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_ID", "")),
		ClientSecret: strings.TrimSpace(env.GetEnv("PAYPAL_CLIENT_SECRET", "")),
		BaseURL:      strings.TrimSpace(env.GetEnv("PAYPAL_API_BASE_URL", defaultPayPalAPIBaseURL)),
		BrandName:    strings.TrimSpace(env.GetEnv("PAYPAL_BRAND_NAME", "")),
		ReturnURL:    returnURL,
		CancelURL:    cancelURL,
	})
}

// Configured reports whether API credentials are present.
func (c *PayPalClient) Configured() bool {
	return c != nil && c.cfg.ClientID != "" && c.cfg.ClientSecret != ""
}

// CreateOrder creates a capture-intent order. amount is in major units.
func (c *PayPalClient) CreateOrder(ctx context.Context, amount decimal.Decimal, currency string) (*PayPalOrder, error) {
	if !amount.IsPositive() {
		return nil, validationErrorf("amount must be positive")
	}
	body := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				"amount": PayPalMoney{
					CurrencyCode: currencyOrDefault(currency, "USD"),
					Value:        formatAmount(amount),
				},
			},
		},
	}

	var order PayPalOrder
	if err := c.do(ctx, http.MethodPost, "/v2/checkout/orders", body, &order, true); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *PayPalClient) GetOrder(ctx context.Context, orderID string) (*PayPalOrder, error) {
	var order PayPalOrder
	if err := c.do(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), nil, &order, false); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *PayPalClient) CaptureOrder(ctx context.Context, orderID string) (*PayPalOrder, error) {
	var order PayPalOrder
	path := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	if err := c.do(ctx, http.MethodPost, path, map[string]interface{}{}, &order, true); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *PayPalClient) CreateProduct(ctx context.Context, name string) (*PayPalProduct, error) {
	body := map[string]interface{}{
		"name":     name,
		"type":     "SERVICE",
		"category": "SOFTWARE",
	}
	var product PayPalProduct
	if err := c.do(ctx, http.MethodPost, "/v1/catalogs/products", body, &product, true); err != nil {
		return nil, err
	}
	return &product, nil
}

// CreatePlan creates an active plan billing in.Amount every month or year
// until cancelled.
func (c *PayPalClient) CreatePlan(ctx context.Context, in PayPalPlanInput) (*PayPalPlan, error) {
	if !in.Amount.IsPositive() {
		return nil, validationErrorf("amount must be positive")
	}
	unit := "MONTH"
	if NormalizeInterval(in.Interval) == models.IntervalYearly {
		unit = "YEAR"
	}

	body := map[string]interface{}{
		"product_id": in.ProductID,
		"name":       in.Name,
		"status":     "ACTIVE",
		"billing_cycles": []map[string]interface{}{
			{
				"frequency":    map[string]interface{}{"interval_unit": unit, "interval_count": 1},
				"tenure_type":  "REGULAR",
				"sequence":     1,
				"total_cycles": 0,
				"pricing_scheme": map[string]interface{}{
					"fixed_price": PayPalMoney{
						CurrencyCode: currencyOrDefault(in.Currency, "USD"),
						Value:        formatAmount(in.Amount),
					},
				},
			},
		},
		"payment_preferences": map[string]interface{}{
			"auto_bill_outstanding":     true,
			"setup_fee_failure_action":  "CONTINUE",
			"payment_failure_threshold": 3,
		},
	}

	var plan PayPalPlan
	if err := c.do(ctx, http.MethodPost, "/v1/billing/plans", body, &plan, true); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (c *PayPalClient) DeactivatePlan(ctx context.Context, planID string) error {
	path := "/v1/billing/plans/" + url.PathEscape(planID) + "/deactivate"
	return c.do(ctx, http.MethodPost, path, nil, nil, false)
}

// CreateSubscription creates a subscription awaiting buyer approval. customID
// is echoed back by PayPal and carries the profile id.
func (c *PayPalClient) CreateSubscription(ctx context.Context, planID, customID string) (*PayPalSubscription, error) {
	appCtx := map[string]interface{}{
		"brand_name":          c.cfg.BrandName,
		"user_action":         "SUBSCRIBE_NOW",
		"shipping_preference": "NO_SHIPPING",
	}
	if c.cfg.ReturnURL != "" {
		appCtx["return_url"] = c.cfg.ReturnURL
	}
	if c.cfg.CancelURL != "" {
		appCtx["cancel_url"] = c.cfg.CancelURL
	}
	body := map[string]interface{}{
		"plan_id":             planID,
		"custom_id":           customID,
		"application_context": appCtx,
	}

	var sub PayPalSubscription
	if err := c.do(ctx, http.MethodPost, "/v1/billing/subscriptions", body, &sub, true); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *PayPalClient) GetSubscription(ctx context.Context, subscriptionID string) (*PayPalSubscription, error) {
	var sub PayPalSubscription
	if err := c.do(ctx, http.MethodGet, "/v1/billing/subscriptions/"+url.PathEscape(subscriptionID), nil, &sub, false); err != nil {
		return nil, err
	}
	return &sub, nil
}

// ApproveURL returns the buyer approval link.
func ApproveURL(links []PayPalLink) string {
	for _, l := range links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}

// accessToken returns a cached client credentials token, fetching a new one
// when it is missing or about to expire.
func (c *PayPalClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	var tok payPalTokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		SetResult(&tok).
		Post("/v1/oauth2/token")
	if err != nil {
		return "", &GatewayError{Provider: models.PaymentGatewayPayPal, Err: err}
	}
	if resp.IsError() {
		return "", &GatewayError{
			Provider:   models.PaymentGatewayPayPal,
			StatusCode: resp.StatusCode(),
			Body:       strings.TrimSpace(string(resp.Body())),
		}
	}
	if tok.AccessToken == "" {
		return "", &GatewayError{Provider: models.PaymentGatewayPayPal, StatusCode: resp.StatusCode(), Body: "empty access token"}
	}

	c.token = tok.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(tok.ExpiresIn)*time.Second - payPalTokenLeeway)
	return c.token, nil
}

func (c *PayPalClient) do(ctx context.Context, method, path string, body, result interface{}, withRequestID bool) error {
	if !c.Configured() {
		return configErrorf("PAYPAL_CLIENT_ID/PAYPAL_CLIENT_SECRET are not configured")
	}
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	req := c.http.R().
		SetContext(ctx).
		SetAuthToken(token)
	if withRequestID {
		req.SetHeader("PayPal-Request-Id", uuid.NewString())
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return &GatewayError{Provider: models.PaymentGatewayPayPal, Err: err}
	}
	if resp.IsError() {
		return &GatewayError{
			Provider:   models.PaymentGatewayPayPal,
			StatusCode: resp.StatusCode(),
			Body:       strings.TrimSpace(string(resp.Body())),
		}
	}
	return nil
}
