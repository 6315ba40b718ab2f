package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trackmystartup/tms-payments/app/models"
)

// LedgerWriter turns verified payments into subscription, transaction and
// billing cycle rows.
type LedgerWriter struct {
	db  *gorm.DB
	now func() time.Time
}

func NewLedgerWriter(db *gorm.DB) *LedgerWriter {
	return &LedgerWriter{db: db, now: time.Now}
}

type ledgerTerms struct {
	tier     string
	amount   decimal.Decimal
	currency string
	interval string
}

// RecordSubscriptionPayment writes the subscription ledger for a verified
// payment in one transaction with the profile row locked:
// deactivate active subscriptions, insert the payment transaction, insert the
// new subscription, link the transaction and insert the billing cycle.
//
// A gateway payment id that is already linked to a subscription is returned
// as a duplicate without writing anything. When the transaction fails the
// payment is kept as an orphan transaction and ErrLedgerWrite is returned
// together with the partial result.
func (l *LedgerWriter) RecordSubscriptionPayment(ctx context.Context, p VerifiedPayment) (*LedgerResult, error) {
	if err := validateVerifiedPayment(p); err != nil {
		return nil, err
	}

	terms := l.resolveTerms(ctx, p)
	if !terms.amount.IsPositive() {
		return nil, validationErrorf("amount must be positive")
	}

	paidAt := p.PaidAt
	if paidAt.IsZero() {
		paidAt = l.now()
	}
	periodEnd := PeriodEnd(paidAt, terms.interval)
	paymentType := p.PaymentType
	if paymentType == "" {
		paymentType = models.PaymentTypeInitial
	}

	result := &LedgerResult{}
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var profile models.Profile
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", p.ProfileID).
			First(&profile).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrProfileNotFound
			}
			return err
		}

		txn, err := findTransaction(tx, p.Gateway, p.GatewayPaymentID)
		if err != nil {
			return err
		}
		if txn != nil && txn.SubscriptionID != nil {
			var sub models.UserSubscription
			if err := tx.First(&sub, *txn.SubscriptionID).Error; err != nil {
				return err
			}
			result.Duplicate = true
			result.Transaction = txn
			result.Subscription = &sub
			result.LedgerRecorded = true
			return nil
		}

		cycleNumber := 1
		totalPaid := terms.amount
		if prev := previousGatewaySubscription(tx, p); prev != nil {
			cycleNumber = prev.BillingCycleCount + 1
			totalPaid = prev.TotalPaid.Add(terms.amount)
			if paymentType == models.PaymentTypeInitial {
				paymentType = models.PaymentTypeRecurring
			}
		}

		if err := tx.Model(&models.UserSubscription{}).
			Where("user_id = ? AND status = ?", p.ProfileID, models.SubscriptionStatusActive).
			Update("status", models.SubscriptionStatusInactive).Error; err != nil {
			return fmt.Errorf("deactivate subscriptions: %w", err)
		}

		if txn == nil {
			txn = newTransaction(p, terms, paymentType, p.Metadata)
			if err := tx.Create(txn).Error; err != nil {
				return fmt.Errorf("insert payment transaction: %w", err)
			}
		} else {
			log.Infof("[Ledger] Completing orphaned transaction %d for payment %s", txn.ID, p.GatewayPaymentID)
		}

		sub := &models.UserSubscription{
			UserID:                 p.ProfileID,
			PlanID:                 p.PlanID,
			PlanTier:               terms.tier,
			Status:                 models.SubscriptionStatusActive,
			CurrentPeriodStart:     paidAt,
			CurrentPeriodEnd:       periodEnd,
			Amount:                 terms.amount,
			Currency:               terms.currency,
			Interval:               terms.interval,
			PaymentGateway:         p.Gateway,
			RazorpaySubscriptionID: p.RazorpaySubscriptionID,
			PaypalSubscriptionID:   p.PayPalSubscriptionID,
			AutopayEnabled:         p.AutopayEnabled,
			TotalPaid:              totalPaid,
			BillingCycleCount:      cycleNumber,
		}
		if p.AutopayEnabled {
			sub.MandateStatus = models.MandateStatusActive
		}
		if err := tx.Create(sub).Error; err != nil {
			return fmt.Errorf("insert subscription: %w", err)
		}

		if err := tx.Model(&models.PaymentTransaction{}).
			Where("id = ?", txn.ID).
			Update("subscription_id", sub.ID).Error; err != nil {
			return fmt.Errorf("link payment transaction: %w", err)
		}
		txn.SubscriptionID = &sub.ID

		cycle := &models.BillingCycle{
			SubscriptionID:       sub.ID,
			PaymentTransactionID: txn.ID,
			CycleNumber:          cycleNumber,
			PeriodStart:          paidAt,
			PeriodEnd:            periodEnd,
			Amount:               terms.amount,
			Currency:             terms.currency,
			Status:               models.BillingCycleStatusPaid,
		}
		if err := tx.Create(cycle).Error; err != nil {
			return fmt.Errorf("insert billing cycle: %w", err)
		}

		result.Transaction = txn
		result.Subscription = sub
		result.BillingCycle = cycle
		result.LedgerRecorded = true
		return nil
	})
	if err == nil {
		if result.Duplicate {
			log.Infof("[Ledger] Payment %s already recorded on subscription %d", p.GatewayPaymentID, result.Subscription.ID)
		}
		return result, nil
	}
	if errors.Is(err, ErrProfileNotFound) {
		return nil, err
	}

	log.Errorf("[Ledger] Failed to record subscription for profile %s payment %s: %v", p.ProfileID, p.GatewayPaymentID, err)
	orphan := l.recordOrphan(ctx, p, terms, paymentType, err)
	return &LedgerResult{Transaction: orphan}, fmt.Errorf("%w: %v", ErrLedgerWrite, err)
}

// RecordOneTimePayment stores a single payment transaction without touching
// subscriptions. Replays of the same gateway payment id are reported as
// duplicates.
func (l *LedgerWriter) RecordOneTimePayment(ctx context.Context, p VerifiedPayment) (*LedgerResult, error) {
	if err := validateVerifiedPayment(p); err != nil {
		return nil, err
	}
	if !p.Amount.IsPositive() {
		return nil, validationErrorf("amount must be positive")
	}

	paymentType := p.PaymentType
	if paymentType == "" {
		paymentType = models.PaymentTypeOneTime
	}
	terms := ledgerTerms{
		amount:   p.Amount,
		currency: currencyOrDefault(p.Currency, "INR"),
		interval: NormalizeInterval(p.Interval),
	}
	txn := newTransaction(p, terms, paymentType, p.Metadata)

	res := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "payment_gateway"},
			{Name: "gateway_payment_id"},
		},
		DoNothing: true,
	}).Create(txn)
	if res.Error != nil {
		log.Errorf("[Ledger] Failed to record %s payment %s: %v", paymentType, p.GatewayPaymentID, res.Error)
		return &LedgerResult{}, fmt.Errorf("%w: %v", ErrLedgerWrite, res.Error)
	}

	stored, err := findTransaction(l.db.WithContext(ctx), p.Gateway, p.GatewayPaymentID)
	if err != nil || stored == nil {
		return &LedgerResult{Transaction: txn, LedgerRecorded: true}, nil
	}
	return &LedgerResult{
		Transaction:    stored,
		LedgerRecorded: true,
		Duplicate:      res.RowsAffected == 0,
	}, nil
}

func (l *LedgerWriter) resolveTerms(ctx context.Context, p VerifiedPayment) ledgerTerms {
	terms := ledgerTerms{
		tier:     models.PlanTierFree,
		amount:   p.Amount,
		currency: currencyOrDefault(p.Currency, ""),
		interval: strings.TrimSpace(p.Interval),
	}

	if p.PlanID != nil {
		var plan models.SubscriptionPlan
		err := l.db.WithContext(ctx).First(&plan, *p.PlanID).Error
		switch {
		case err == nil:
			terms.tier = normalizeTier(plan.Tier)
			terms.amount = firstPositive(p.Amount, plan.Price)
			if terms.currency == "" {
				terms.currency = currencyOrDefault(plan.Currency, "")
			}
			if terms.interval == "" {
				terms.interval = plan.Interval
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			log.Warnf("[Ledger] Plan %d not found, recording tier %q", *p.PlanID, models.PlanTierFree)
		default:
			log.Warnf("[Ledger] Plan %d lookup failed, recording tier %q: %v", *p.PlanID, models.PlanTierFree, err)
		}
	}

	terms.currency = currencyOrDefault(terms.currency, "INR")
	terms.interval = NormalizeInterval(terms.interval)
	return terms
}

func (l *LedgerWriter) recordOrphan(ctx context.Context, p VerifiedPayment, terms ledgerTerms, paymentType string, cause error) *models.PaymentTransaction {
	db := l.db.WithContext(ctx)
	if existing, err := findTransaction(db, p.Gateway, p.GatewayPaymentID); err == nil && existing != nil {
		return existing
	}

	meta := make(map[string]interface{}, len(p.Metadata)+1)
	for k, v := range p.Metadata {
		meta[k] = v
	}
	meta["ledger_error"] = cause.Error()

	txn := newTransaction(p, terms, paymentType, meta)
	if err := db.Create(txn).Error; err != nil {
		log.Errorf("[Ledger] Failed to record orphaned payment %s for profile %s: %v", p.GatewayPaymentID, p.ProfileID, err)
		return nil
	}
	log.Warnf("[Ledger] Recorded orphaned payment %s as transaction %d", p.GatewayPaymentID, txn.ID)
	return txn
}

func newTransaction(p VerifiedPayment, terms ledgerTerms, paymentType string, meta map[string]interface{}) *models.PaymentTransaction {
	return &models.PaymentTransaction{
		UserID:           p.ProfileID,
		PaymentGateway:   p.Gateway,
		GatewayOrderID:   p.GatewayOrderID,
		GatewayPaymentID: p.GatewayPaymentID,
		GatewaySignature: p.GatewaySignature,
		Amount:           terms.amount,
		Currency:         terms.currency,
		Status:           models.PaymentStatusSuccess,
		PaymentType:      paymentType,
		PlanTier:         terms.tier,
		Metadata:         datatypes.JSON(encodeMetadata(meta)),
	}
}

func findTransaction(db *gorm.DB, gateway, gatewayPaymentID string) (*models.PaymentTransaction, error) {
	var txns []models.PaymentTransaction
	if err := db.Where("payment_gateway = ? AND gateway_payment_id = ?", gateway, gatewayPaymentID).
		Limit(1).
		Find(&txns).Error; err != nil {
		return nil, err
	}
	if len(txns) == 0 {
		return nil, nil
	}
	return &txns[0], nil
}

// previousGatewaySubscription returns the active subscription that a
// renewal of the same gateway subscription continues.
func previousGatewaySubscription(tx *gorm.DB, p VerifiedPayment) *models.UserSubscription {
	q := tx.Where("user_id = ? AND status = ?", p.ProfileID, models.SubscriptionStatusActive)
	switch {
	case p.RazorpaySubscriptionID != "":
		q = q.Where("razorpay_subscription_id = ?", p.RazorpaySubscriptionID)
	case p.PayPalSubscriptionID != "":
		q = q.Where("paypal_subscription_id = ?", p.PayPalSubscriptionID)
	default:
		return nil
	}

	var subs []models.UserSubscription
	if err := q.Order("id DESC").Limit(1).Find(&subs).Error; err != nil || len(subs) == 0 {
		return nil
	}
	return &subs[0]
}

func validateVerifiedPayment(p VerifiedPayment) error {
	switch {
	case strings.TrimSpace(p.ProfileID) == "":
		return validationErrorf("profile id is required")
	case strings.TrimSpace(p.Gateway) == "":
		return validationErrorf("payment gateway is required")
	case strings.TrimSpace(p.GatewayPaymentID) == "":
		return validationErrorf("gateway payment id is required")
	}
	return nil
}
