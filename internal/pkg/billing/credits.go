package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trackmystartup/tms-payments/app/models"
)

// CreditLedger maintains prepaid advisor credit balances.
type CreditLedger struct {
	db       *gorm.DB
	validate *validator.Validate
	now      func() time.Time
}

func NewCreditLedger(db *gorm.DB) *CreditLedger {
	return &CreditLedger{db: db, validate: validator.New(), now: time.Now}
}

// CreditResult is the balance after a top-up. Duplicate is set when the
// payment had already been applied and nothing changed.
type CreditResult struct {
	Balance   *models.AdvisorCredit `json:"credits"`
	Duplicate bool                  `json:"duplicate"`
}

// AddCredits increments the advisor balance with a single upsert statement so
// concurrent top-ups add up exactly. A top-up carrying a payment transaction
// id is applied at most once per advisor; replays return the current balance.
// Every applied or failed attempt leaves a purchase history row.
func (c *CreditLedger) AddCredits(ctx context.Context, in AddCreditsInput) (*CreditResult, error) {
	in.AdvisorUserID = strings.TrimSpace(in.AdvisorUserID)
	in.PaymentTransactionID = strings.TrimSpace(in.PaymentTransactionID)
	in.Currency = currencyOrDefault(in.Currency, "INR")
	in.PaymentGateway = strings.ToLower(strings.TrimSpace(in.PaymentGateway))
	if err := c.validate.Struct(in); err != nil {
		return nil, validationErrorf("%v", err)
	}
	if in.AmountPaid.IsNegative() {
		return nil, validationErrorf("amount_paid must not be negative")
	}
	key := completionKey(in)

	var balance models.AdvisorCredit
	duplicate := false
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if key != nil {
			applied, err := purchaseCompleted(tx, *key)
			if err != nil {
				return err
			}
			if applied {
				duplicate = true
				balance.AdvisorUserID = in.AdvisorUserID
				return tx.Where("advisor_user_id = ?", in.AdvisorUserID).Limit(1).Find(&balance).Error
			}
		}

		now := c.now()
		row := &models.AdvisorCredit{
			AdvisorUserID:        in.AdvisorUserID,
			CreditsAvailable:     in.CreditsToAdd,
			CreditsPurchased:     in.CreditsToAdd,
			LastPurchaseAmount:   in.AmountPaid,
			LastPurchaseCurrency: in.Currency,
			LastPurchaseDate:     &now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "advisor_user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"credits_available":      gorm.Expr("advisor_credits.credits_available + ?", in.CreditsToAdd),
				"credits_purchased":      gorm.Expr("advisor_credits.credits_purchased + ?", in.CreditsToAdd),
				"last_purchase_amount":   in.AmountPaid,
				"last_purchase_currency": in.Currency,
				"last_purchase_date":     now,
				"updated_at":             now,
			}),
		}).Create(row).Error; err != nil {
			return err
		}
		if err := tx.Where("advisor_user_id = ?", in.AdvisorUserID).First(&balance).Error; err != nil {
			return err
		}
		// unique completion_key rejects a concurrent apply of the same payment
		return tx.Create(historyRow(in, models.CreditPurchaseCompleted, "", &balance, key)).Error
	})
	if err != nil && key != nil {
		if applied, lookupErr := purchaseCompleted(c.db.WithContext(ctx), *key); lookupErr == nil && applied {
			current, getErr := c.GetCredits(ctx, in.AdvisorUserID)
			if getErr == nil {
				balance, duplicate, err = *current, true, nil
			}
		}
	}
	if err != nil {
		log.Errorf("[AdvisorCredits] Failed to add %d credits for %s: %v", in.CreditsToAdd, in.AdvisorUserID, err)
		c.recordFailure(ctx, in, err)
		return nil, fmt.Errorf("%w: %v", ErrLedgerWrite, err)
	}

	if duplicate {
		log.Infof("[AdvisorCredits] Payment %s already applied for %s", in.PaymentTransactionID, in.AdvisorUserID)
	} else {
		log.Infof("[AdvisorCredits] Added %d credits for %s, available=%d", in.CreditsToAdd, in.AdvisorUserID, balance.CreditsAvailable)
	}
	return &CreditResult{Balance: &balance, Duplicate: duplicate}, nil
}

// GetCredits returns the advisor balance, zero valued when none exists yet.
func (c *CreditLedger) GetCredits(ctx context.Context, advisorUserID string) (*models.AdvisorCredit, error) {
	id := strings.TrimSpace(advisorUserID)
	if id == "" {
		return nil, validationErrorf("advisor_user_id is required")
	}
	var balance models.AdvisorCredit
	err := c.db.WithContext(ctx).Where("advisor_user_id = ?", id).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.AdvisorCredit{AdvisorUserID: id}, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (c *CreditLedger) recordFailure(ctx context.Context, in AddCreditsInput, cause error) {
	h := historyRow(in, models.CreditPurchaseFailed, cause.Error(), nil, nil)
	if err := c.db.WithContext(ctx).Create(h).Error; err != nil {
		log.Errorf("[AdvisorCredits] Failed to write failed purchase history for %s: %v", in.AdvisorUserID, err)
	}
}

// completionKey identifies a payment applied to an advisor balance. Top-ups
// without a payment id have none and are never deduplicated.
func completionKey(in AddCreditsInput) *string {
	if in.PaymentTransactionID == "" {
		return nil
	}
	key := in.AdvisorUserID + "|" + in.PaymentTransactionID
	return &key
}

func purchaseCompleted(db *gorm.DB, key string) (bool, error) {
	var count int64
	err := db.Model(&models.CreditPurchaseHistory{}).
		Where("completion_key = ? AND status = ?", key, models.CreditPurchaseCompleted).
		Count(&count).Error
	return count > 0, err
}

func historyRow(in AddCreditsInput, status, errMsg string, balance *models.AdvisorCredit, key *string) *models.CreditPurchaseHistory {
	h := &models.CreditPurchaseHistory{
		AdvisorUserID:        in.AdvisorUserID,
		CreditsPurchased:     in.CreditsToAdd,
		AmountPaid:           in.AmountPaid,
		Currency:             in.Currency,
		PaymentGateway:       in.PaymentGateway,
		PaymentTransactionID: in.PaymentTransactionID,
		Status:               status,
		ErrorMessage:         errMsg,
		CompletionKey:        key,
	}
	if len(in.Notes) > 0 {
		if b, err := json.Marshal(in.Notes); err == nil {
			h.Details = datatypes.JSON(b)
		}
	}
	if balance != nil {
		available := balance.CreditsAvailable
		purchased := balance.CreditsPurchased
		h.CreditsAvailableAfter = &available
		h.CreditsPurchasedAfter = &purchased
	}
	return h
}
