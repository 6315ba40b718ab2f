package billing

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trackmystartup/tms-payments/app/models"
	"github.com/trackmystartup/tms-payments/app/repository"
)

// Repository provides DB operations used by the billing service outside of
// the ledger transactions.
type Repository interface {
	GetPlan(id uint) (*models.SubscriptionPlan, error)
	GetProfile(id string) (*models.Profile, error)
	ListProfilesByAuthUserID(authUserID string) ([]models.Profile, error)
	GetSubscriptionForUser(userID, razorpaySubscriptionID string) (*models.UserSubscription, error)
	GetSubscriptionByRazorpayID(razorpaySubscriptionID string) (*models.UserSubscription, error)
	GetActiveSubscription(userID string) (*models.UserSubscription, error)
	DisableAutopay(subscriptionID uint, mandateStatus string) error
	SetRazorpayCustomerID(profileID, customerID string) error
	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
	SetWebhookArchiveKey(id uint, key string) error
}

type gormRepository struct {
	db    *gorm.DB
	repos *repository.Repositories
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db, repos: repository.NewRepositories(db)}
}

func (r *gormRepository) GetPlan(id uint) (*models.SubscriptionPlan, error) {
	return r.repos.Plan.GetByID(id)
}

func (r *gormRepository) GetProfile(id string) (*models.Profile, error) {
	return r.repos.Profile.GetByID(id)
}

func (r *gormRepository) ListProfilesByAuthUserID(authUserID string) ([]models.Profile, error) {
	return r.repos.Profile.ListByAuthUserID(authUserID)
}

func (r *gormRepository) GetSubscriptionForUser(userID, razorpaySubscriptionID string) (*models.UserSubscription, error) {
	return r.repos.Subscription.GetByRazorpaySubscriptionIDForUser(userID, razorpaySubscriptionID)
}

func (r *gormRepository) GetSubscriptionByRazorpayID(razorpaySubscriptionID string) (*models.UserSubscription, error) {
	return r.repos.Subscription.GetByRazorpaySubscriptionID(razorpaySubscriptionID)
}

func (r *gormRepository) GetActiveSubscription(userID string) (*models.UserSubscription, error) {
	return r.repos.Subscription.GetActiveByUserID(userID)
}

func (r *gormRepository) DisableAutopay(subscriptionID uint, mandateStatus string) error {
	return r.repos.Subscription.DisableAutopay(subscriptionID, mandateStatus)
}

func (r *gormRepository) SetRazorpayCustomerID(profileID, customerID string) error {
	return r.repos.Profile.SetRazorpayCustomerID(profileID, customerID)
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormRepository) SetWebhookArchiveKey(id uint, key string) error {
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Update("archive_key", key).Error
}
