package controllers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/trackmystartup/tms-payments/app/models"
	"github.com/trackmystartup/tms-payments/internal/pkg/billing"
	"github.com/trackmystartup/tms-payments/internal/pkg/testutil"
)

const (
	testKeySecret     = "rzp_test_secret"
	testWebhookSecret = "rzp_webhook_secret"
)

func newTestPaymentApp(t *testing.T, razorpayURL string) (*fiber.App, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t)
	require.NoError(t, db.Create(&models.Profile{ID: "profile-A", AuthUserID: "auth-A", Role: models.RoleStartup}).Error)
	require.NoError(t, db.Create(&models.SubscriptionPlan{
		ID: 7, Name: "Basic", Tier: "basic", UserType: models.RoleStartup,
		Price: decimal.NewFromInt(500), Currency: "INR", Interval: models.IntervalMonthly, IsActive: true,
	}).Error)

	if razorpayURL == "" {
		razorpayURL = "http://127.0.0.1:1"
	}
	svc := billing.NewService(db, billing.Options{
		Razorpay: billing.NewRazorpayClient(billing.RazorpayConfig{
			KeyID:         "rzp_test_key",
			KeySecret:     testKeySecret,
			WebhookSecret: testWebhookSecret,
			PlanIDMonthly: "plan_monthly",
			BaseURL:       razorpayURL,
		}),
		PayPal:   billing.NewPayPalClient(billing.PayPalConfig{BaseURL: "http://127.0.0.1:1"}),
		Settings: &billing.Settings{LenientSubscriptionSignature: true},
	})
	pc := NewPaymentController(svc)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Post("/api/payment/verify", pc.HandleVerifyPayment)
	app.Post("/api/payment/verify/razorpay", pc.HandleVerifyRazorpay)
	app.Post("/api/razorpay/create-order", pc.HandleCreateRazorpayOrder)
	app.Post("/api/razorpay/webhook", pc.HandleRazorpayWebhook)
	app.Post("/api/paypal/create-order", pc.HandleCreatePayPalOrder)
	app.Get("/api/subscriptions/:user_id/active", pc.HandleGetActiveSubscription)
	return app, db
}

func postJSON(t *testing.T, app *fiber.App, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var raw string
	switch v := body.(type) {
	case string:
		raw = v
	default:
		b, err := json.Marshal(v)
		require.NoError(t, err)
		raw = string(b)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(b) > 0 {
		require.NoError(t, json.Unmarshal(b, &out), string(b))
	}
	return out
}

func verifyBody(signature string) map[string]interface{} {
	return map[string]interface{}{
		"provider":            "razorpay",
		"razorpay_order_id":   "order_1",
		"razorpay_payment_id": "pay_1",
		"razorpay_signature":  signature,
		"user_id":             "profile-A",
		"plan_id":             "7",
		"amount":              500,
		"interval":            "monthly",
	}
}

func TestHandleVerifyPayment_Razorpay(t *testing.T) {
	app, db := newTestPaymentApp(t, "")

	resp, body := postJSON(t, app, "/api/payment/verify", verifyBody(billing.ComputeRazorpaySignature("order_1|pay_1", testKeySecret)))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["ledger_recorded"])
	assert.NotNil(t, body["subscription_id"])

	var n int64
	require.NoError(t, db.Model(&models.UserSubscription{}).Where("user_id = ? AND status = ?", "profile-A", "active").Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestHandleVerifyRazorpay_InvalidSignature(t *testing.T) {
	app, db := newTestPaymentApp(t, "")

	resp, body := postJSON(t, app, "/api/payment/verify/razorpay", verifyBody("0000"))
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_signature", body["error"])

	var n int64
	require.NoError(t, db.Model(&models.PaymentTransaction{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestHandleVerifyRazorpay_BadRequests(t *testing.T) {
	app, _ := newTestPaymentApp(t, "")

	tests := []struct {
		name string
		body interface{}
		code string
	}{
		{"empty body", "", "validation_error"},
		{"malformed json", "{", "invalid_json"},
		{"bad plan id", `{"razorpay_payment_id":"pay_1","razorpay_order_id":"o","razorpay_signature":"s","user_id":"u","plan_id":"abc"}`, "validation_error"},
		{"missing signature", map[string]interface{}{"razorpay_payment_id": "pay_1", "razorpay_order_id": "o", "user_id": "profile-A"}, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postJSON(t, app, "/api/payment/verify/razorpay", tt.body)
			if resp.StatusCode != fiber.StatusBadRequest {
				t.Fatalf("expected 400, got %d (%v)", resp.StatusCode, body)
			}
			assert.Equal(t, tt.code, body["error"])
		})
	}
}

func TestHandleVerifyPayment_UnknownProvider(t *testing.T) {
	app, _ := newTestPaymentApp(t, "")

	resp, body := postJSON(t, app, "/api/payment/verify", map[string]interface{}{"provider": "stripe", "user_id": "profile-A"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "unsupported_provider", body["error"])
}

func TestVerifyEndpoints_WrongMethod(t *testing.T) {
	app, _ := newTestPaymentApp(t, "")

	for _, path := range []string{"/api/payment/verify", "/api/razorpay/webhook"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusMethodNotAllowed, resp.StatusCode, path)
		assert.Equal(t, "method_not_allowed", decodeBody(t, resp)["error"])
	}
}

func TestHandleRazorpayWebhook_Statuses(t *testing.T) {
	app, _ := newTestPaymentApp(t, "")
	payload := `{"event":"subscription.charged","payload":{"subscription":{"entity":{"id":"sub_1","status":"active"}}}}`

	send := func(signature string) (*http.Response, map[string]interface{}) {
		req := httptest.NewRequest(http.MethodPost, "/api/razorpay/webhook", strings.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Razorpay-Signature", signature)
		req.Header.Set("X-Razorpay-Event-Id", "evt_1")
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return resp, decodeBody(t, resp)
	}

	resp, body := send("bogus")
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_signature", body["error"])

	sig := billing.ComputeRazorpaySignature(payload, testWebhookSecret)
	resp, body = send(sig)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ok"])
	assert.Nil(t, body["duplicate"])

	resp, body = send(sig)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["duplicate"])
}

func TestHandleCreateRazorpayOrder_GatewayErrorPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"Currency is not supported"}}`))
	}))
	defer srv.Close()
	app, _ := newTestPaymentApp(t, srv.URL)

	resp, body := postJSON(t, app, "/api/razorpay/create-order", map[string]interface{}{"amount": 10, "currency": "XYZ"})
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "gateway_error", body["error"])
	details, ok := body["details"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Currency is not supported", details["error"].(map[string]interface{})["description"])
}

func TestHandleCreateRazorpayOrder_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"order_9","amount":1050,"currency":"INR","status":"created"}`))
	}))
	defer srv.Close()
	app, _ := newTestPaymentApp(t, srv.URL)

	resp, body := postJSON(t, app, "/api/razorpay/create-order", map[string]interface{}{"amount": "10.50"})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "rzp_test_key", body["key_id"])
	assert.Equal(t, "order_9", body["order"].(map[string]interface{})["id"])
}

func TestHandleCreatePayPalOrder_NotConfigured(t *testing.T) {
	app, _ := newTestPaymentApp(t, "")

	resp, body := postJSON(t, app, "/api/paypal/create-order", map[string]interface{}{"amount": 10})
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "server_configuration_error", body["error"])
}

func TestHandleGetActiveSubscription_NotFound(t *testing.T) {
	app, _ := newTestPaymentApp(t, "")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/subscriptions/profile-A/active", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/subscriptions/nobody/active", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "profile_not_found", decodeBody(t, resp)["error"])
}

func TestVerifyProvider(t *testing.T) {
	tests := []struct {
		provider, endpoint string
		rzp, pp            bool
		want               string
	}{
		{"razorpay", "", false, false, "razorpay"},
		{"PayPal", "", false, false, "paypal"},
		{"", "/api/razorpay/verify", false, false, "razorpay"},
		{"", "verify-paypal", false, false, "paypal"},
		{"", "", true, false, "razorpay"},
		{"", "", false, true, "paypal"},
		{"stripe", "", true, false, ""},
		{"", "", false, false, ""},
	}
	for _, tt := range tests {
		if got := verifyProvider(tt.provider, tt.endpoint, tt.rzp, tt.pp); got != tt.want {
			t.Fatalf("verifyProvider(%q, %q, %v, %v) = %q, want %q", tt.provider, tt.endpoint, tt.rzp, tt.pp, got, tt.want)
		}
	}
}
