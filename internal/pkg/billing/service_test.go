package billing

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/trackmystartup/tms-payments/app/models"
)

func razorpayVerifyRequest(orderID, paymentID string) RazorpayVerifyRequest {
	return RazorpayVerifyRequest{
		PaymentID: paymentID,
		OrderID:   orderID,
		Signature: ComputeRazorpaySignature(orderID+"|"+paymentID, testKeySecret),
		VerifyFields: VerifyFields{
			UserID:   "profile-A",
			PlanID:   PlanRef{ID: 7, Valid: true},
			Amount:   decimal.NewFromInt(500),
			Interval: "monthly",
		},
	}
}

func TestVerifyRazorpay_ActivatesSubscription(t *testing.T) {
	f := newFixture(t)
	s := f.service(t, Options{})
	before := time.Now()

	res, err := s.VerifyRazorpay(context.Background(), razorpayVerifyRequest("order_1", "pay_1"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.LedgerRecorded)
	assert.True(t, res.SignatureVerified)
	require.NotNil(t, res.SubscriptionID)
	require.NotNil(t, res.TransactionID)

	var subs []models.UserSubscription
	require.NoError(t, f.db.Where("user_id = ? AND status = ?", "profile-A", models.SubscriptionStatusActive).Find(&subs).Error)
	require.Len(t, subs, 1)
	assert.Equal(t, "basic", subs[0].PlanTier)
	assert.WithinDuration(t, before.AddDate(0, 1, 0), subs[0].CurrentPeriodEnd, time.Minute)

	var txn models.PaymentTransaction
	require.NoError(t, f.db.First(&txn, *res.TransactionID).Error)
	require.NotNil(t, txn.SubscriptionID)
	assert.Equal(t, subs[0].ID, *txn.SubscriptionID)
	assert.Equal(t, "order_1", txn.GatewayOrderID)
	assert.EqualValues(t, 1, countRows(t, f.db, &models.BillingCycle{}, "subscription_id = ?", subs[0].ID))
}

func TestVerifyRazorpay_ResolvesAuthUserID(t *testing.T) {
	f := newFixture(t)
	s := f.service(t, Options{})

	req := razorpayVerifyRequest("order_1", "pay_1")
	req.UserID = "auth-A"
	_, err := s.VerifyRazorpay(context.Background(), req)
	require.NoError(t, err)
	assert.EqualValues(t, 1, countRows(t, f.db, &models.UserSubscription{}, "user_id = ?", "profile-A"))
}

func TestVerifyRazorpay_InvalidSignature(t *testing.T) {
	f := newFixture(t)
	s := f.service(t, Options{})

	req := razorpayVerifyRequest("order_1", "pay_1")
	req.Signature = ComputeRazorpaySignature("order_1|pay_1", "wrong-secret")
	_, err := s.VerifyRazorpay(context.Background(), req)
	assert.True(t, errors.Is(err, ErrInvalidSignature))
	assert.EqualValues(t, 0, countRows(t, f.db, &models.PaymentTransaction{}, ""))
	assert.EqualValues(t, 0, countRows(t, f.db, &models.UserSubscription{}, ""))
}

func TestVerifyRazorpay_RequestValidation(t *testing.T) {
	f := newFixture(t)
	s := f.service(t, Options{})

	tests := []struct {
		name   string
		mutate func(r *RazorpayVerifyRequest)
		want   error
	}{
		{"missing ids", func(r *RazorpayVerifyRequest) { r.OrderID = "" }, ErrValidation},
		{"missing payment", func(r *RazorpayVerifyRequest) { r.PaymentID = "" }, ErrValidation},
		{"missing user", func(r *RazorpayVerifyRequest) { r.UserID = "" }, ErrValidation},
		{"bad purpose", func(r *RazorpayVerifyRequest) { r.Purpose = "donation" }, ErrValidation},
		{"credits without count", func(r *RazorpayVerifyRequest) { r.Purpose = PurposeAdvisorCredits }, ErrValidation},
		{"unknown user", func(r *RazorpayVerifyRequest) { r.UserID = "ghost" }, ErrProfileNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := razorpayVerifyRequest("order_1", "pay_1")
			tt.mutate(&req)
			_, err := s.VerifyRazorpay(context.Background(), req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestVerifyRazorpay_MissingKeySecret(t *testing.T) {
	f := newFixture(t)
	s := f.service(t, Options{Razorpay: NewRazorpayClient(RazorpayConfig{KeyID: testKeyID})})

	_, err := s.VerifyRazorpay(context.Background(), razorpayVerifyRequest("order_1", "pay_1"))
	assert.True(t, errors.Is(err, ErrServerConfiguration))
}

func TestVerifyRazorpay_SubscriptionSignatureModes(t *testing.T) {
	sub := func(signature string) RazorpayVerifyRequest {
		req := razorpayVerifyRequest("", "pay_1")
		req.SubscriptionID = "sub_1"
		req.Signature = signature
		return req
	}

	t.Run("payment then subscription ordering", func(t *testing.T) {
		f := newFixture(t)
		s := f.service(t, Options{Settings: &Settings{}})
		res, err := s.VerifyRazorpay(context.Background(), sub(ComputeRazorpaySignature("pay_1|sub_1", testKeySecret)))
		require.NoError(t, err)
		assert.True(t, res.SignatureVerified)

		var rec models.UserSubscription
		require.NoError(t, f.db.First(&rec, *res.SubscriptionID).Error)
		assert.True(t, rec.AutopayEnabled)
		assert.Equal(t, "sub_1", rec.RazorpaySubscriptionID)
	})

	t.Run("lenient mismatch proceeds", func(t *testing.T) {
		f := newFixture(t)
		s := f.service(t, Options{Settings: &Settings{LenientSubscriptionSignature: true}})
		res, err := s.VerifyRazorpay(context.Background(), sub("not-a-signature"))
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.False(t, res.SignatureVerified)
	})

	t.Run("strict mismatch rejected", func(t *testing.T) {
		f := newFixture(t)
		s := f.service(t, Options{Settings: &Settings{}})
		_, err := s.VerifyRazorpay(context.Background(), sub("not-a-signature"))
		assert.True(t, errors.Is(err, ErrInvalidSignature))
		assert.EqualValues(t, 0, countRows(t, f.db, &models.UserSubscription{}, ""))
	})
}

func TestVerifyRazorpay_LedgerFailure(t *testing.T) {
	t.Run("reported as pending", func(t *testing.T) {
		f := newFixture(t)
		s := f.service(t, Options{})
		restore := failBillingCycleInserts(t, f.db)
		res, err := s.VerifyRazorpay(context.Background(), razorpayVerifyRequest("order_1", "pay_1"))
		restore()

		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.False(t, res.LedgerRecorded)
		assert.Nil(t, res.SubscriptionID)
		require.NotNil(t, res.TransactionID)

		res, err = s.VerifyRazorpay(context.Background(), razorpayVerifyRequest("order_1", "pay_1"))
		require.NoError(t, err)
		assert.True(t, res.LedgerRecorded)
		assert.EqualValues(t, 1, countRows(t, f.db, &models.PaymentTransaction{}, ""))
	})

	t.Run("strict ledger fails the request", func(t *testing.T) {
		f := newFixture(t)
		s := f.service(t, Options{Settings: &Settings{StrictLedger: true}})
		restore := failBillingCycleInserts(t, f.db)
		_, err := s.VerifyRazorpay(context.Background(), razorpayVerifyRequest("order_1", "pay_1"))
		restore()

		assert.True(t, errors.Is(err, ErrLedgerWrite))
	})
}

func TestVerifyRazorpay_AdvisorCreditsNotAddedTwice(t *testing.T) {
	f := newFixture(t)
	advisor := &models.Profile{ID: "advisor-1", AuthUserID: "auth-adv", Role: models.RoleInvestmentAdvisor}
	require.NoError(t, f.db.Create(advisor).Error)
	s := f.service(t, Options{})

	req := razorpayVerifyRequest("order_c1", "pay_c1")
	req.UserID = "auth-adv"
	req.PlanID = PlanRef{}
	req.Purpose = PurposeAdvisorCredits
	req.CreditsToAdd = 10
	req.Amount = decimal.NewFromInt(5000)

	res, err := s.VerifyRazorpay(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res.Credits)
	assert.Equal(t, 10, res.Credits.CreditsAvailable)
	assert.Nil(t, res.SubscriptionID)

	res, err = s.VerifyRazorpay(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, 10, res.Credits.CreditsAvailable)

	assert.EqualValues(t, 0, countRows(t, f.db, &models.UserSubscription{}, ""))
	assert.EqualValues(t, 1, countRows(t, f.db, &models.PaymentTransaction{}, "payment_type = ?", models.PaymentTypeAdvisorCredits))
	assert.EqualValues(t, 1, countRows(t, f.db, &models.CreditPurchaseHistory{}, ""))
}

func TestVerifyRazorpay_InProgress(t *testing.T) {
	f := newFixture(t)
	lock := NewLocalPaymentLock()
	s := f.service(t, Options{Lock: lock})

	release, ok, err := lock.Acquire(context.Background(), "razorpay:pay_1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.VerifyRazorpay(context.Background(), razorpayVerifyRequest("order_1", "pay_1"))
	assert.True(t, errors.Is(err, ErrVerificationInProgress))

	release()
	_, err = s.VerifyRazorpay(context.Background(), razorpayVerifyRequest("order_1", "pay_1"))
	assert.NoError(t, err)
}

func TestVerifyPayPal_CapturesApprovedOrder(t *testing.T) {
	f := newFixture(t)
	g, srv := newFakeGateway(t)
	withPayPalToken(g)
	g.json(http.MethodGet, "/v2/checkout/orders/PP-1", http.StatusOK, `{"id":"PP-1","status":"APPROVED"}`)
	g.json(http.MethodPost, "/v2/checkout/orders/PP-1/capture", http.StatusCreated, `{
		"id":"PP-1","status":"COMPLETED",
		"purchase_units":[{"payments":{"captures":[{"id":"CAP-1","status":"COMPLETED","amount":{"currency_code":"USD","value":"25.00"}}]}}]
	}`)
	s := f.service(t, Options{PayPal: newTestPayPal(srv.URL)})

	res, err := s.VerifyPayPal(context.Background(), PayPalVerifyRequest{
		OrderID:      "PP-1",
		VerifyFields: VerifyFields{UserID: "profile-A", PlanID: PlanRef{ID: 7, Valid: true}, Amount: decimal.NewFromInt(25)},
	})
	require.NoError(t, err)
	assert.True(t, res.LedgerRecorded)

	var txn models.PaymentTransaction
	require.NoError(t, f.db.First(&txn, *res.TransactionID).Error)
	assert.Equal(t, models.PaymentGatewayPayPal, txn.PaymentGateway)
	assert.Equal(t, "CAP-1", txn.GatewayPaymentID)
	assert.Equal(t, "USD", txn.Currency)
	assert.Len(t, g.calls(http.MethodPost, "/v2/checkout/orders/PP-1/capture"), 1)
}

func TestVerifyPayPal_NotCompleted(t *testing.T) {
	f := newFixture(t)
	g, srv := newFakeGateway(t)
	withPayPalToken(g)
	g.json(http.MethodGet, "/v2/checkout/orders/PP-2", http.StatusOK, `{"id":"PP-2","status":"CREATED"}`)
	g.json(http.MethodGet, "/v1/billing/subscriptions/I-1", http.StatusOK, `{"id":"I-1","status":"APPROVAL_PENDING"}`)
	s := f.service(t, Options{PayPal: newTestPayPal(srv.URL)})

	_, err := s.VerifyPayPal(context.Background(), PayPalVerifyRequest{OrderID: "PP-2", VerifyFields: VerifyFields{UserID: "profile-A"}})
	assert.True(t, errors.Is(err, ErrPaymentNotCompleted))

	_, err = s.VerifyPayPal(context.Background(), PayPalVerifyRequest{SubscriptionID: "I-1", VerifyFields: VerifyFields{UserID: "profile-A"}})
	assert.True(t, errors.Is(err, ErrPaymentNotCompleted))
	assert.EqualValues(t, 0, countRows(t, f.db, &models.PaymentTransaction{}, ""))
}

func TestVerifyPayPal_ActiveSubscription(t *testing.T) {
	f := newFixture(t)
	g, srv := newFakeGateway(t)
	withPayPalToken(g)
	g.json(http.MethodGet, "/v1/billing/subscriptions/I-2", http.StatusOK, `{"id":"I-2","status":"ACTIVE","custom_id":"profile-A"}`)
	s := f.service(t, Options{PayPal: newTestPayPal(srv.URL)})

	res, err := s.VerifyPayPal(context.Background(), PayPalVerifyRequest{
		SubscriptionID: "I-2",
		VerifyFields:   VerifyFields{UserID: "profile-A", PlanID: PlanRef{ID: 7, Valid: true}, Interval: "yearly"},
	})
	require.NoError(t, err)

	var sub models.UserSubscription
	require.NoError(t, f.db.First(&sub, *res.SubscriptionID).Error)
	assert.Equal(t, "I-2", sub.PaypalSubscriptionID)
	assert.True(t, sub.AutopayEnabled)
	assert.Equal(t, models.IntervalYearly, sub.Interval)
	assert.True(t, sub.Amount.Equal(decimal.NewFromInt(500)))
}

func TestCreateRazorpaySubscription_NotesCarryProfile(t *testing.T) {
	f := newFixture(t)
	g, srv := newFakeGateway(t)
	g.json(http.MethodPost, "/v1/subscriptions", http.StatusOK, `{"id":"sub_new","status":"created"}`)
	s := f.service(t, Options{Razorpay: newTestRazorpay(srv.URL)})

	sub, err := s.CreateRazorpaySubscription(context.Background(), CreateRazorpaySubscriptionRequest{
		UserID: "auth-A",
		PlanID: PlanRef{ID: 7, Valid: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "sub_new", sub.ID)

	req := g.calls(http.MethodPost, "/v1/subscriptions")
	require.Len(t, req, 1)
	assert.Equal(t, map[string]interface{}{"user_id": "profile-A", "plan_id": "7"}, req[0].Body["notes"])
}

func TestStopAutopay(t *testing.T) {
	f := newFixture(t)
	g, srv := newFakeGateway(t)
	g.json(http.MethodPost, "/v1/subscriptions/sub_1/cancel", http.StatusOK, `{"id":"sub_1","status":"cancelled"}`)
	s := f.service(t, Options{Razorpay: newTestRazorpay(srv.URL)})

	rec := &models.UserSubscription{
		UserID:                 f.profile.ID,
		PlanTier:               "basic",
		Status:                 models.SubscriptionStatusActive,
		PaymentGateway:         models.PaymentGatewayRazorpay,
		RazorpaySubscriptionID: "sub_1",
		AutopayEnabled:         true,
		MandateStatus:          models.MandateStatusActive,
		CurrentPeriodEnd:       time.Now().AddDate(0, 1, 0),
	}
	require.NoError(t, f.db.Create(rec).Error)

	out, err := s.StopAutopay(context.Background(), StopAutopayRequest{SubscriptionID: "sub_1", UserID: "auth-A"})
	require.NoError(t, err)
	assert.False(t, out.AutopayEnabled)

	var stored models.UserSubscription
	require.NoError(t, f.db.First(&stored, rec.ID).Error)
	assert.False(t, stored.AutopayEnabled)
	assert.Equal(t, models.MandateStatusCancelled, stored.MandateStatus)
	assert.Equal(t, models.SubscriptionStatusActive, stored.Status)

	_, err = s.StopAutopay(context.Background(), StopAutopayRequest{SubscriptionID: "sub_other", UserID: "profile-A"})
	assert.True(t, errors.Is(err, ErrSubscriptionNotFound))
	assert.Len(t, g.calls(http.MethodPost, "/v1/subscriptions/sub_other/cancel"), 0)
}

func TestStopAutopay_GatewayFailureKeepsAutopay(t *testing.T) {
	f := newFixture(t)
	g, srv := newFakeGateway(t)
	g.json(http.MethodPost, "/v1/subscriptions/sub_1/cancel", http.StatusBadRequest, `{"error":{"description":"already cancelled"}}`)
	s := f.service(t, Options{Razorpay: newTestRazorpay(srv.URL)})

	rec := &models.UserSubscription{
		UserID:                 f.profile.ID,
		Status:                 models.SubscriptionStatusActive,
		PaymentGateway:         models.PaymentGatewayRazorpay,
		RazorpaySubscriptionID: "sub_1",
		AutopayEnabled:         true,
	}
	require.NoError(t, f.db.Create(rec).Error)

	_, err := s.StopAutopay(context.Background(), StopAutopayRequest{SubscriptionID: "sub_1", UserID: "profile-A"})
	var gwErr *GatewayError
	require.True(t, errors.As(err, &gwErr))

	var stored models.UserSubscription
	require.NoError(t, f.db.First(&stored, rec.ID).Error)
	assert.True(t, stored.AutopayEnabled)
}

func TestCleanupCustomer_SkipsFailures(t *testing.T) {
	f := newFixture(t)
	g, srv := newFakeGateway(t)
	g.json(http.MethodGet, "/v1/subscriptions", http.StatusOK, `{"entity":"collection","count":4,"items":[
		{"id":"sub_a","customer_id":"cust_1","status":"active"},
		{"id":"sub_b","customer_id":"cust_1","status":"halted"},
		{"id":"sub_c","customer_id":"cust_1","status":"completed"},
		{"id":"sub_d","customer_id":"cust_2","status":"active"}
	]}`)
	g.json(http.MethodPost, "/v1/subscriptions/sub_a/cancel", http.StatusOK, `{"id":"sub_a","status":"cancelled"}`)
	g.json(http.MethodPost, "/v1/subscriptions/sub_b/cancel", http.StatusInternalServerError, `{}`)
	g.json(http.MethodGet, "/v1/customers/cust_1/tokens", http.StatusOK, `{"entity":"collection","count":2,"items":[{"id":"token_1"},{"id":"token_2"}]}`)
	g.json(http.MethodDelete, "/v1/customers/cust_1/tokens/token_1", http.StatusOK, `{"deleted":true}`)
	g.json(http.MethodDelete, "/v1/customers/cust_1/tokens/token_2", http.StatusBadRequest, `{}`)
	s := f.service(t, Options{Razorpay: newTestRazorpay(srv.URL)})

	res, err := s.CleanupCustomer(context.Background(), "cust_1")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, []string{"sub_a"}, res.CancelledSubscriptions)
	assert.Equal(t, []string{"token_1"}, res.DeletedTokens)
	assert.Empty(t, g.calls(http.MethodPost, "/v1/subscriptions/sub_c/cancel"))
	assert.Empty(t, g.calls(http.MethodPost, "/v1/subscriptions/sub_d/cancel"))

	_, err = s.CleanupCustomer(context.Background(), " ")
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestAdvisorCreditsThroughService(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Create(&models.Profile{ID: "advisor-1", AuthUserID: "auth-adv", Role: models.RoleInvestmentAdvisor}).Error)
	s := f.service(t, Options{})

	res, err := s.AddAdvisorCredits(context.Background(), AddCreditsInput{AdvisorUserID: "auth-adv", CreditsToAdd: 3})
	require.NoError(t, err)
	assert.Equal(t, "advisor-1", res.Balance.AdvisorUserID)

	bal, err := s.GetAdvisorCredits(context.Background(), "auth-adv")
	require.NoError(t, err)
	assert.Equal(t, 3, bal.CreditsAvailable)

	_, err = s.GetActiveSubscription(context.Background(), "auth-adv")
	assert.True(t, errors.Is(err, ErrSubscriptionNotFound))
}

func TestAddAdvisorCredits_ReplayedPaymentAddsOnce(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Create(&models.Profile{ID: "advisor-1", AuthUserID: "auth-adv", Role: models.RoleInvestmentAdvisor}).Error)
	s := f.service(t, Options{})
	in := AddCreditsInput{AdvisorUserID: "advisor-1", CreditsToAdd: 10, PaymentTransactionID: "pay_x"}

	first, err := s.AddAdvisorCredits(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	again, err := s.AddAdvisorCredits(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, 10, again.Balance.CreditsAvailable)

	// a verify replay of the same gateway payment does not add them a third time
	req := razorpayVerifyRequest("order_x", "pay_x")
	req.UserID = "advisor-1"
	req.PlanID = PlanRef{}
	req.Purpose = PurposeAdvisorCredits
	req.CreditsToAdd = 10
	res, err := s.VerifyRazorpay(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, 10, res.Credits.CreditsAvailable)
}

func TestAdvisorCredits_RejectsOtherRoles(t *testing.T) {
	f := newFixture(t)
	s := f.service(t, Options{})

	tests := []struct {
		name string
		call func() error
	}{
		{"add", func() error {
			_, err := s.AddAdvisorCredits(context.Background(), AddCreditsInput{AdvisorUserID: "profile-A", CreditsToAdd: 3})
			return err
		}},
		{"add by auth id", func() error {
			_, err := s.AddAdvisorCredits(context.Background(), AddCreditsInput{AdvisorUserID: "auth-A", CreditsToAdd: 3})
			return err
		}},
		{"get", func() error {
			_, err := s.GetAdvisorCredits(context.Background(), "profile-A")
			return err
		}},
		{"verify", func() error {
			req := razorpayVerifyRequest("order_s", "pay_s")
			req.PlanID = PlanRef{}
			req.Purpose = PurposeAdvisorCredits
			req.CreditsToAdd = 5
			_, err := s.VerifyRazorpay(context.Background(), req)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	assert.EqualValues(t, 0, countRows(t, f.db, &models.AdvisorCredit{}, ""))
	assert.EqualValues(t, 0, countRows(t, f.db, &models.PaymentTransaction{}, ""))
}

func TestAdvisorCredits_AuthIDPrefersAdvisorProfile(t *testing.T) {
	f := newFixture(t)
	older := time.Now().Add(-time.Hour)
	require.NoError(t, f.db.Create(&models.Profile{ID: "advisor-2", AuthUserID: "auth-multi", Role: models.RoleInvestmentAdvisor, CreatedAt: older}).Error)
	require.NoError(t, f.db.Create(&models.Profile{ID: "startup-2", AuthUserID: "auth-multi", Role: models.RoleStartup}).Error)
	s := f.service(t, Options{})

	res, err := s.AddAdvisorCredits(context.Background(), AddCreditsInput{AdvisorUserID: "auth-multi", CreditsToAdd: 4})
	require.NoError(t, err)
	assert.Equal(t, "advisor-2", res.Balance.AdvisorUserID)

	_, err = s.AddAdvisorCredits(context.Background(), AddCreditsInput{AdvisorUserID: "startup-2", CreditsToAdd: 4})
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestVerifyRazorpay_AdvisorCreditsRetryAfterCreditFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Create(&models.Profile{ID: "advisor-1", AuthUserID: "auth-adv", Role: models.RoleInvestmentAdvisor}).Error)
	s := f.service(t, Options{})

	req := razorpayVerifyRequest("order_r1", "pay_r1")
	req.UserID = "auth-adv"
	req.PlanID = PlanRef{}
	req.Purpose = PurposeAdvisorCredits
	req.CreditsToAdd = 6
	req.Amount = decimal.NewFromInt(3000)

	name := "test:fail_advisor_credits"
	require.NoError(t, f.db.Callback().Create().Before("gorm:create").Register(name, func(tx *gorm.DB) {
		if tx.Statement.Table == "advisor_credits" {
			_ = tx.AddError(errors.New("balance write failed"))
		}
	}))
	_, err := s.VerifyRazorpay(context.Background(), req)
	require.NoError(t, f.db.Callback().Create().Remove(name))
	require.True(t, errors.Is(err, ErrLedgerWrite))
	assert.EqualValues(t, 1, countRows(t, f.db, &models.PaymentTransaction{}, "payment_type = ?", models.PaymentTypeAdvisorCredits))

	res, err := s.VerifyRazorpay(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, 6, res.Credits.CreditsAvailable)

	res, err = s.VerifyRazorpay(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, 6, res.Credits.CreditsAvailable)
	assert.EqualValues(t, 1, countRows(t, f.db, &models.PaymentTransaction{}, "payment_type = ?", models.PaymentTypeAdvisorCredits))
}

func TestCreateRazorpaySubscription_UsesPlanRecord(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Create(&models.SubscriptionPlan{
		ID: 8, Name: "Startup Pro", Tier: "pro", UserType: models.RoleStartup,
		Price: decimal.NewFromInt(5000), Currency: "INR", Interval: models.IntervalYearly,
		RazorpayPlanID: "plan_pro_yearly", IsActive: true,
	}).Error)
	g, srv := newFakeGateway(t)
	g.json(http.MethodPost, "/v1/subscriptions", http.StatusOK, `{"id":"sub_pro","status":"created"}`)
	s := f.service(t, Options{Razorpay: newTestRazorpay(srv.URL)})

	_, err := s.CreateRazorpaySubscription(context.Background(), CreateRazorpaySubscriptionRequest{
		UserID: "profile-A",
		PlanID: PlanRef{ID: 8, Valid: true},
	})
	require.NoError(t, err)

	req := g.calls(http.MethodPost, "/v1/subscriptions")
	require.Len(t, req, 1)
	assert.Equal(t, "plan_pro_yearly", req[0].Body["plan_id"])
	assert.EqualValues(t, 10, req[0].Body["total_count"])

	_, err = s.CreateRazorpaySubscription(context.Background(), CreateRazorpaySubscriptionRequest{
		UserID: "profile-A",
		PlanID: PlanRef{ID: 99, Valid: true},
	})
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Len(t, g.calls(http.MethodPost, "/v1/subscriptions"), 1)
}

func TestVerifyPayPal_SubscriptionRenewalsAreSeparatePayments(t *testing.T) {
	f := newFixture(t)
	g, srv := newFakeGateway(t)
	withPayPalToken(g)
	s := f.service(t, Options{PayPal: newTestPayPal(srv.URL)})
	verify := func() *VerifyResult {
		t.Helper()
		res, err := s.VerifyPayPal(context.Background(), PayPalVerifyRequest{
			SubscriptionID: "I-9",
			VerifyFields:   VerifyFields{UserID: "profile-A", PlanID: PlanRef{ID: 7, Valid: true}},
		})
		require.NoError(t, err)
		return res
	}
	lastPayment := func(at string) string {
		return `{"id":"I-9","status":"ACTIVE","billing_info":{"last_payment":{"amount":{"currency_code":"INR","value":"500.00"},"time":"` + at + `"}}}`
	}

	g.json(http.MethodGet, "/v1/billing/subscriptions/I-9", http.StatusOK, lastPayment("2024-01-10T10:00:00Z"))
	first := verify()
	assert.False(t, first.Duplicate)

	assert.True(t, verify().Duplicate)

	g.json(http.MethodGet, "/v1/billing/subscriptions/I-9", http.StatusOK, lastPayment("2024-02-10T10:00:00Z"))
	renewal := verify()
	assert.False(t, renewal.Duplicate)

	var sub models.UserSubscription
	require.NoError(t, f.db.First(&sub, *renewal.SubscriptionID).Error)
	assert.Equal(t, 2, sub.BillingCycleCount)
	assert.True(t, sub.CurrentPeriodStart.Equal(time.Date(2024, time.February, 10, 10, 0, 0, 0, time.UTC)))

	var txn models.PaymentTransaction
	require.NoError(t, f.db.First(&txn, *renewal.TransactionID).Error)
	assert.Equal(t, models.PaymentTypeRecurring, txn.PaymentType)
	assert.EqualValues(t, 2, countRows(t, f.db, &models.PaymentTransaction{}, ""))
	assert.EqualValues(t, 1, countRows(t, f.db, &models.UserSubscription{}, "status = ?", models.SubscriptionStatusActive))
}
