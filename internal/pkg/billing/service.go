package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/trackmystartup/tms-payments/app/models"
	"github.com/trackmystartup/tms-payments/internal/pkg/env"
)

// PayloadArchiver stores raw webhook payloads outside the database.
type PayloadArchiver interface {
	PutPayload(ctx context.Context, key string, body []byte) error
}

// Settings are the behavior switches of the verification flow.
type Settings struct {
	// LenientSubscriptionSignature accepts a subscription payment whose
	// signature matches none of the known formats, logging a warning.
	LenientSubscriptionSignature bool
	// StrictLedger fails verification when the ledger could not be written.
	StrictLedger bool
	LockTTL      time.Duration
}

func SettingsFromEnv() Settings {
	return Settings{
		LenientSubscriptionSignature: env.GetBool("BILLING_LENIENT_SUBSCRIPTION_SIGNATURE", true),
		StrictLedger:                 env.GetBool("BILLING_STRICT_LEDGER", false),
		LockTTL:                      DefaultPaymentLockTTL,
	}
}

// Options configure NewService. Nil gateway clients are built from env.
type Options struct {
	Razorpay *RazorpayClient
	PayPal   *PayPalClient
	Resolver IdentityResolver
	Lock     PaymentLock
	Archive  PayloadArchiver
	Settings *Settings
}

// Service is the payment and subscription reconciliation facade used by the
// HTTP handlers.
type Service struct {
	repo     Repository
	resolver IdentityResolver
	ledger   *LedgerWriter
	credits  *CreditLedger
	razorpay *RazorpayClient
	paypal   *PayPalClient
	lock     PaymentLock
	archive  PayloadArchiver
	settings Settings
	validate *validator.Validate
}

func NewService(db *gorm.DB, opts Options) *Service {
	s := &Service{
		repo:     NewRepository(db),
		resolver: opts.Resolver,
		ledger:   NewLedgerWriter(db),
		credits:  NewCreditLedger(db),
		razorpay: opts.Razorpay,
		paypal:   opts.PayPal,
		lock:     opts.Lock,
		archive:  opts.Archive,
		validate: validator.New(),
	}
	if s.resolver == nil {
		s.resolver = NewGormIdentityResolver(db)
	}
	if s.razorpay == nil {
		s.razorpay = NewRazorpayClientFromEnv()
	}
	if s.paypal == nil {
		s.paypal = NewPayPalClientFromEnv()
	}
	if opts.Settings != nil {
		s.settings = *opts.Settings
	} else {
		s.settings = SettingsFromEnv()
	}
	return s
}

// NewServiceFromDB creates a service with env configured gateways and no
// verification lock.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(db, Options{})
}

func (s *Service) RazorpayKeyID() string {
	return s.razorpay.KeyID()
}

// CreateRazorpayOrder creates a one-time order; amount is in major units.
func (s *Service) CreateRazorpayOrder(ctx context.Context, req CreateOrderRequest) (*RazorpayOrder, error) {
	if !req.Amount.IsPositive() {
		return nil, validationErrorf("amount must be positive")
	}
	return s.razorpay.CreateOrder(ctx, req.Amount, req.Currency, strings.TrimSpace(req.Receipt), req.Notes)
}

// CreateRazorpaySubscription starts a subscription for the resolved profile.
// The profile id travels in the notes so the activation webhook can find it.
func (s *Service) CreateRazorpaySubscription(ctx context.Context, req CreateRazorpaySubscriptionRequest) (*RazorpaySubscription, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	if !s.razorpay.Configured() {
		return nil, configErrorf("RAZORPAY_KEY_ID/RAZORPAY_KEY_SECRET are not configured")
	}
	profileID, err := s.resolver.ResolveProfileID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	in := RazorpaySubscriptionInput{
		Interval:   req.Interval,
		TotalCount: req.TotalCount,
		Notes:      map[string]string{"user_id": profileID},
	}
	if req.PlanID.Valid {
		plan, err := s.repo.GetPlan(req.PlanID.ID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, validationErrorf("plan %d not found", req.PlanID.ID)
		}
		if err != nil {
			return nil, err
		}
		if !plan.IsActive {
			return nil, validationErrorf("plan %d is not active", plan.ID)
		}
		if strings.TrimSpace(in.Interval) == "" {
			in.Interval = plan.Interval
		}
		in.PlanID = strings.TrimSpace(plan.RazorpayPlanID)
		in.Notes["plan_id"] = fmt.Sprint(plan.ID)
	}
	return s.razorpay.CreateSubscription(ctx, in)
}

func (s *Service) CreatePayPalOrder(ctx context.Context, req CreatePayPalOrderRequest) (*PayPalOrder, error) {
	if !req.Amount.IsPositive() {
		return nil, validationErrorf("amount must be positive")
	}
	return s.paypal.CreateOrder(ctx, req.Amount, req.Currency)
}

func (s *Service) CreatePayPalSubscription(ctx context.Context, req CreatePayPalSubscriptionRequest) (*PayPalSubscriptionResult, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	if !req.FinalAmount.IsPositive() {
		return nil, validationErrorf("final_amount must be positive")
	}
	if !s.paypal.Configured() {
		return nil, configErrorf("PAYPAL_CLIENT_ID/PAYPAL_CLIENT_SECRET are not configured")
	}
	profileID, err := s.resolver.ResolveProfileID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	return s.paypal.CreateRecurringSubscription(ctx, profileID, req)
}

// VerifyRazorpay checks a Razorpay checkout signature and reconciles the
// ledgers for the payment purpose.
func (s *Service) VerifyRazorpay(ctx context.Context, req RazorpayVerifyRequest) (*VerifyResult, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	if req.OrderID == "" && req.SubscriptionID == "" {
		return nil, validationErrorf("razorpay_order_id or razorpay_subscription_id is required")
	}
	if err := validatePurposeFields(req.VerifyFields); err != nil {
		return nil, err
	}
	secret, err := s.razorpay.keySecret()
	if err != nil {
		return nil, err
	}

	release, err := s.acquire(ctx, models.PaymentGatewayRazorpay+":"+req.PaymentID)
	if err != nil {
		return nil, err
	}
	defer release()

	verified, err := s.checkRazorpaySignature(req, secret)
	if err != nil {
		return nil, err
	}

	profileID, err := s.resolver.ResolveProfileID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	payment := VerifiedPayment{
		ProfileID:              profileID,
		Gateway:                models.PaymentGatewayRazorpay,
		GatewayOrderID:         req.OrderID,
		GatewayPaymentID:       req.PaymentID,
		GatewaySignature:       req.Signature,
		RazorpaySubscriptionID: req.SubscriptionID,
		PlanID:                 req.PlanID.Ptr(),
		Amount:                 req.Amount,
		Currency:               req.Currency,
		Interval:               req.Interval,
		AutopayEnabled:         req.SubscriptionID != "",
		Metadata:               verifyMetadata(req.VerifyFields, verified),
	}
	return s.reconcile(ctx, req.VerifyFields, payment, verified)
}

func (s *Service) checkRazorpaySignature(req RazorpayVerifyRequest, secret string) (bool, error) {
	if req.OrderID != "" && VerifyRazorpayPaymentSignature(req.OrderID, req.PaymentID, req.Signature, secret) {
		return true, nil
	}
	if req.SubscriptionID == "" {
		log.Warnf("[Verify] Signature mismatch for order %s payment %s", req.OrderID, req.PaymentID)
		return false, ErrInvalidSignature
	}
	if VerifyRazorpaySubscriptionSignature(req.SubscriptionID, req.PaymentID, req.Signature, secret) ||
		VerifyRazorpaySubscriptionFallback(req.PaymentID, req.Signature, secret) {
		return true, nil
	}
	if !s.settings.LenientSubscriptionSignature {
		log.Warnf("[Verify] Signature mismatch for subscription %s payment %s", req.SubscriptionID, req.PaymentID)
		return false, ErrInvalidSignature
	}
	log.Warnf("[Verify] Signature mismatch for subscription %s payment %s, proceeding in lenient mode", req.SubscriptionID, req.PaymentID)
	return false, nil
}

// VerifyPayPal confirms a PayPal order (capturing it when only approved) or
// subscription and reconciles the ledgers for the payment purpose.
func (s *Service) VerifyPayPal(ctx context.Context, req PayPalVerifyRequest) (*VerifyResult, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	if req.OrderID == "" && req.SubscriptionID == "" {
		return nil, validationErrorf("paypal_order_id or paypal_subscription_id is required")
	}
	if err := validatePurposeFields(req.VerifyFields); err != nil {
		return nil, err
	}
	if !s.paypal.Configured() {
		return nil, configErrorf("PAYPAL_CLIENT_ID/PAYPAL_CLIENT_SECRET are not configured")
	}

	ref := req.OrderID
	if ref == "" {
		ref = req.SubscriptionID
	}
	release, err := s.acquire(ctx, models.PaymentGatewayPayPal+":"+ref)
	if err != nil {
		return nil, err
	}
	defer release()

	profileID, err := s.resolver.ResolveProfileID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	payment := VerifiedPayment{
		ProfileID: profileID,
		Gateway:   models.PaymentGatewayPayPal,
		PlanID:    req.PlanID.Ptr(),
		Amount:    req.Amount,
		Currency:  req.Currency,
		Interval:  req.Interval,
		Metadata:  verifyMetadata(req.VerifyFields, true),
	}

	if req.OrderID != "" {
		order, err := s.paypal.GetOrder(ctx, req.OrderID)
		if err != nil {
			return nil, err
		}
		if order.Status == PayPalOrderApproved {
			if order, err = s.paypal.CaptureOrder(ctx, req.OrderID); err != nil {
				return nil, err
			}
		}
		if order.Status != PayPalOrderCompleted {
			return nil, fmt.Errorf("%w: paypal order %s is %s", ErrPaymentNotCompleted, order.ID, order.Status)
		}
		payment.GatewayOrderID = order.ID
		payment.GatewayPaymentID = order.ID
		if capture := order.Capture(); capture != nil {
			payment.GatewayPaymentID = capture.ID
			if !payment.Amount.IsPositive() {
				if v, err := decimal.NewFromString(capture.Amount.Value); err == nil {
					payment.Amount = v
				}
			}
			if payment.Currency == "" {
				payment.Currency = capture.Amount.CurrencyCode
			}
		}
	} else {
		sub, err := s.paypal.GetSubscription(ctx, req.SubscriptionID)
		if err != nil {
			return nil, err
		}
		if sub.Status != PayPalSubscriptionActive && sub.Status != PayPalSubscriptionApproved {
			return nil, fmt.Errorf("%w: paypal subscription %s is %s", ErrPaymentNotCompleted, sub.ID, sub.Status)
		}
		payment.GatewayPaymentID = sub.ID
		payment.PayPalSubscriptionID = sub.ID
		payment.AutopayEnabled = true
		// each renewal is a distinct payment keyed on its charge time
		if last := sub.LastPayment(); last != nil && strings.TrimSpace(last.Time) != "" {
			payment.GatewayPaymentID = sub.ID + "@" + strings.TrimSpace(last.Time)
			if paidAt, err := time.Parse(time.RFC3339, strings.TrimSpace(last.Time)); err == nil {
				payment.PaidAt = paidAt
			}
			if !payment.Amount.IsPositive() {
				if v, err := decimal.NewFromString(last.Amount.Value); err == nil {
					payment.Amount = v
				}
			}
			if payment.Currency == "" {
				payment.Currency = last.Amount.CurrencyCode
			}
		}
	}

	return s.reconcile(ctx, req.VerifyFields, payment, true)
}

func (s *Service) reconcile(ctx context.Context, fields VerifyFields, payment VerifiedPayment, verified bool) (*VerifyResult, error) {
	switch purposeOrDefault(fields.Purpose) {
	case PurposeAdvisorCredits:
		return s.reconcileAdvisorCredits(ctx, fields, payment, verified)
	case PurposeMentorPayment:
		payment.PaymentType = models.PaymentTypeMentorPayment
		return s.reconcileOneTime(ctx, payment, verified)
	case "one_time":
		payment.PaymentType = models.PaymentTypeOneTime
		return s.reconcileOneTime(ctx, payment, verified)
	}

	res, err := s.ledger.RecordSubscriptionPayment(ctx, payment)
	if err != nil {
		if !errors.Is(err, ErrLedgerWrite) || s.settings.StrictLedger {
			return nil, err
		}
		out := &VerifyResult{
			Success:           true,
			Message:           "Payment verified; subscription update pending",
			SignatureVerified: verified,
		}
		if res != nil && res.Transaction != nil {
			out.TransactionID = &res.Transaction.ID
		}
		return out, nil
	}

	msg := "Payment verified and subscription activated"
	if res.Duplicate {
		msg = "Payment already processed"
	}
	return &VerifyResult{
		Success:           true,
		Message:           msg,
		SubscriptionID:    &res.Subscription.ID,
		TransactionID:     &res.Transaction.ID,
		LedgerRecorded:    true,
		Duplicate:         res.Duplicate,
		SignatureVerified: verified,
	}, nil
}

func (s *Service) reconcileOneTime(ctx context.Context, payment VerifiedPayment, verified bool) (*VerifyResult, error) {
	res, err := s.ledger.RecordOneTimePayment(ctx, payment)
	if err != nil {
		if !errors.Is(err, ErrLedgerWrite) || s.settings.StrictLedger {
			return nil, err
		}
		return &VerifyResult{Success: true, Message: "Payment verified", SignatureVerified: verified}, nil
	}
	msg := "Payment verified"
	if res.Duplicate {
		msg = "Payment already processed"
	}
	return &VerifyResult{
		Success:           true,
		Message:           msg,
		TransactionID:     &res.Transaction.ID,
		LedgerRecorded:    true,
		Duplicate:         res.Duplicate,
		SignatureVerified: verified,
	}, nil
}

// reconcileAdvisorCredits records the top-up payment and then adds the
// credits to the advisor profile. Credits are keyed on the gateway payment id,
// so a retry after a failed increment still applies them and a replay after
// success does not apply them twice.
func (s *Service) reconcileAdvisorCredits(ctx context.Context, fields VerifyFields, payment VerifiedPayment, verified bool) (*VerifyResult, error) {
	advisorID, err := s.resolveAdvisor(ctx, fields.UserID)
	if err != nil {
		return nil, err
	}
	payment.ProfileID = advisorID
	payment.PaymentType = models.PaymentTypeAdvisorCredits

	res, err := s.ledger.RecordOneTimePayment(ctx, payment)
	if err != nil {
		if !errors.Is(err, ErrLedgerWrite) || s.settings.StrictLedger {
			return nil, err
		}
		res = &LedgerResult{}
	}

	credits, err := s.credits.AddCredits(ctx, AddCreditsInput{
		AdvisorUserID:        advisorID,
		CreditsToAdd:         fields.CreditsToAdd,
		AmountPaid:           payment.Amount,
		Currency:             payment.Currency,
		PaymentGateway:       payment.Gateway,
		PaymentTransactionID: payment.GatewayPaymentID,
		Notes: map[string]string{
			"source":           "verify",
			"gateway_order_id": payment.GatewayOrderID,
		},
	})
	if err != nil {
		return nil, err
	}

	out := &VerifyResult{
		Success:           true,
		Message:           "Payment verified and credits added",
		LedgerRecorded:    res.LedgerRecorded,
		Duplicate:         credits.Duplicate,
		SignatureVerified: verified,
		Credits:           credits.Balance,
	}
	if res.Transaction != nil {
		out.TransactionID = &res.Transaction.ID
	}
	if credits.Duplicate {
		out.Message = "Payment already processed"
	}
	return out, nil
}

// AddAdvisorCredits tops up the balance of the resolved advisor profile.
func (s *Service) AddAdvisorCredits(ctx context.Context, in AddCreditsInput) (*CreditResult, error) {
	if err := s.validateStruct(in); err != nil {
		return nil, err
	}
	advisorID, err := s.resolveAdvisor(ctx, in.AdvisorUserID)
	if err != nil {
		return nil, err
	}
	in.AdvisorUserID = advisorID
	return s.credits.AddCredits(ctx, in)
}

func (s *Service) GetAdvisorCredits(ctx context.Context, advisorUserID string) (*models.AdvisorCredit, error) {
	advisorID, err := s.resolveAdvisor(ctx, advisorUserID)
	if err != nil {
		return nil, err
	}
	return s.credits.GetCredits(ctx, advisorID)
}

// resolveAdvisor maps a user id onto an Investment Advisor profile. An auth
// id whose latest profile has another role falls back to the advisor profile
// of the same identity; a profile id of another role is rejected.
func (s *Service) resolveAdvisor(ctx context.Context, userID string) (string, error) {
	profileID, err := s.resolver.ResolveProfileID(ctx, userID)
	if err != nil {
		return "", err
	}
	profile, err := s.repo.GetProfile(profileID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrProfileNotFound
	}
	if err != nil {
		return "", err
	}
	if profile.IsAdvisor() {
		return profile.ID, nil
	}

	if strings.TrimSpace(userID) != profile.ID {
		siblings, err := s.repo.ListProfilesByAuthUserID(profile.AuthUserID)
		if err != nil {
			return "", err
		}
		for i := range siblings {
			if siblings[i].IsAdvisor() {
				return siblings[i].ID, nil
			}
		}
	}
	return "", validationErrorf("profile %s is not an %s profile", profile.ID, models.RoleInvestmentAdvisor)
}

// StopAutopay cancels the gateway subscription and turns autopay off on the
// local record. The subscription stays active until its period ends.
func (s *Service) StopAutopay(ctx context.Context, req StopAutopayRequest) (*models.UserSubscription, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	if !s.razorpay.Configured() {
		return nil, configErrorf("RAZORPAY_KEY_ID/RAZORPAY_KEY_SECRET are not configured")
	}
	profileID, err := s.resolver.ResolveProfileID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	sub, err := s.repo.GetSubscriptionForUser(profileID, req.SubscriptionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}

	if _, err := s.razorpay.CancelSubscription(ctx, req.SubscriptionID, false); err != nil {
		return nil, err
	}
	if err := s.repo.DisableAutopay(sub.ID, models.MandateStatusCancelled); err != nil {
		return nil, err
	}
	sub.AutopayEnabled = false
	sub.MandateStatus = models.MandateStatusCancelled
	log.Infof("[Autopay] Stopped autopay for subscription %s of profile %s", req.SubscriptionID, profileID)
	return sub, nil
}

// CleanupCustomer cancels every mandate holding subscription of a Razorpay
// customer and deletes its saved tokens. Failures of single items are logged
// and skipped.
func (s *Service) CleanupCustomer(ctx context.Context, customerID string) (*CleanupResult, error) {
	id := strings.TrimSpace(customerID)
	if id == "" {
		return nil, validationErrorf("customer_id is required")
	}
	if !s.razorpay.Configured() {
		return nil, configErrorf("RAZORPAY_KEY_ID/RAZORPAY_KEY_SECRET are not configured")
	}

	result := &CleanupResult{OK: true, CancelledSubscriptions: []string{}, DeletedTokens: []string{}}

	subs, err := s.razorpay.ListCustomerSubscriptions(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		if !IsMandateHolding(sub.Status) {
			continue
		}
		if _, err := s.razorpay.CancelSubscription(ctx, sub.ID, false); err != nil {
			log.Warnf("[Cleanup] Failed to cancel subscription %s of %s: %v", sub.ID, id, err)
			continue
		}
		result.CancelledSubscriptions = append(result.CancelledSubscriptions, sub.ID)
	}

	tokens, err := s.razorpay.ListTokens(ctx, id)
	if err != nil {
		log.Warnf("[Cleanup] Failed to list tokens of %s: %v", id, err)
		return result, nil
	}
	for _, tok := range tokens {
		if err := s.razorpay.DeleteToken(ctx, id, tok.ID); err != nil {
			log.Warnf("[Cleanup] Failed to delete token %s of %s: %v", tok.ID, id, err)
			continue
		}
		result.DeletedTokens = append(result.DeletedTokens, tok.ID)
	}

	log.Infof("[Cleanup] Customer %s: cancelled=%d tokens=%d", id, len(result.CancelledSubscriptions), len(result.DeletedTokens))
	return result, nil
}

// GetActiveSubscription returns the active subscription of the resolved profile.
func (s *Service) GetActiveSubscription(ctx context.Context, userID string) (*models.UserSubscription, error) {
	profileID, err := s.resolver.ResolveProfileID(ctx, userID)
	if err != nil {
		return nil, err
	}
	sub, err := s.repo.GetActiveSubscription(profileID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	return sub, err
}

func (s *Service) acquire(ctx context.Context, key string) (func(), error) {
	if s.lock == nil {
		return func() {}, nil
	}
	release, ok, err := s.lock.Acquire(ctx, key, s.settings.LockTTL)
	if err != nil {
		log.Warnf("[Verify] Payment lock unavailable, continuing without it: %v", err)
		return func() {}, nil
	}
	if !ok {
		return nil, ErrVerificationInProgress
	}
	return release, nil
}

func (s *Service) validateStruct(v interface{}) error {
	if err := s.validate.Struct(v); err != nil {
		return validationErrorf("%v", err)
	}
	return nil
}

func validatePurposeFields(f VerifyFields) error {
	if f.Amount.IsNegative() {
		return validationErrorf("amount must not be negative")
	}
	switch purposeOrDefault(f.Purpose) {
	case PurposeAdvisorCredits:
		if f.CreditsToAdd <= 0 {
			return validationErrorf("credits_to_add must be positive for advisor credit purchases")
		}
		if !f.Amount.IsPositive() {
			return validationErrorf("amount is required for advisor credit purchases")
		}
	case PurposeMentorPayment, "one_time":
		if !f.Amount.IsPositive() {
			return validationErrorf("amount is required for one-time payments")
		}
	}
	return nil
}

func verifyMetadata(f VerifyFields, verified bool) map[string]interface{} {
	meta := map[string]interface{}{
		"purpose":            purposeOrDefault(f.Purpose),
		"signature_verified": verified,
	}
	if f.Interval != "" {
		meta["interval"] = NormalizeInterval(f.Interval)
	}
	if f.PlanID.Valid {
		meta["plan_id"] = f.PlanID.ID
	}
	if !f.BaseAmount.IsZero() {
		meta["base_amount"] = f.BaseAmount
	}
	if !f.TaxAmount.IsZero() {
		meta["tax_amount"] = f.TaxAmount
	}
	if !f.TaxPercentage.IsZero() {
		meta["tax_percentage"] = f.TaxPercentage
	}
	if f.MentorID != "" {
		meta["mentor_id"] = f.MentorID
	}
	return meta
}
