package repository

import (
	"github.com/trackmystartup/tms-payments/app/models"
	"gorm.io/gorm"
)

// subscriptionRepository implements the SubscriptionRepository interface
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// GetActiveByUserID returns the newest active subscription of a profile
func (r *subscriptionRepository) GetActiveByUserID(userID string) (*models.UserSubscription, error) {
	var sub models.UserSubscription
	err := r.db.Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusActive).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetByRazorpaySubscriptionID(razorpaySubscriptionID string) (*models.UserSubscription, error) {
	var sub models.UserSubscription
	err := r.db.Where("razorpay_subscription_id = ?", razorpaySubscriptionID).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetByRazorpaySubscriptionIDForUser(userID, razorpaySubscriptionID string) (*models.UserSubscription, error) {
	var sub models.UserSubscription
	err := r.db.Where("user_id = ? AND razorpay_subscription_id = ?", userID, razorpaySubscriptionID).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// DisableAutopay turns off autopay and records the mandate status
func (r *subscriptionRepository) DisableAutopay(id uint, mandateStatus string) error {
	return r.db.Model(&models.UserSubscription{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"autopay_enabled": false,
			"mandate_status":  mandateStatus,
		}).Error
}
