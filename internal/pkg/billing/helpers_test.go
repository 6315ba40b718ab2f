package billing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/trackmystartup/tms-payments/app/models"
	"github.com/trackmystartup/tms-payments/internal/pkg/testutil"
)

const (
	testKeyID         = "rzp_test_key"
	testKeySecret     = "rzp_test_secret"
	testWebhookSecret = "rzp_webhook_secret"
)

type fixture struct {
	db      *gorm.DB
	profile *models.Profile
	plan    *models.SubscriptionPlan
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)

	profile := &models.Profile{ID: "profile-A", AuthUserID: "auth-A", Role: models.RoleStartup, Name: "Acme"}
	require.NoError(t, db.Create(profile).Error)

	plan := &models.SubscriptionPlan{
		ID:       7,
		Name:     "Startup Basic",
		Tier:     "basic",
		UserType: models.RoleStartup,
		Price:    decimal.NewFromInt(500),
		Currency: "INR",
		Interval: models.IntervalMonthly,
		IsActive: true,
	}
	require.NoError(t, db.Create(plan).Error)

	return &fixture{db: db, profile: profile, plan: plan}
}

func (f *fixture) service(t *testing.T, opts Options) *Service {
	t.Helper()
	if opts.Razorpay == nil {
		opts.Razorpay = NewRazorpayClient(RazorpayConfig{
			KeyID:         testKeyID,
			KeySecret:     testKeySecret,
			WebhookSecret: testWebhookSecret,
			PlanIDMonthly: "plan_monthly",
			PlanIDYearly:  "plan_yearly",
			BaseURL:       "http://127.0.0.1:1",
		})
	}
	if opts.PayPal == nil {
		opts.PayPal = NewPayPalClient(PayPalConfig{BaseURL: "http://127.0.0.1:1"})
	}
	if opts.Settings == nil {
		opts.Settings = &Settings{LenientSubscriptionSignature: true}
	}
	return NewService(f.db, opts)
}

func countRows(t *testing.T, db *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func uintPtr(v uint) *uint {
	return &v
}
