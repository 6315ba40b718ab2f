package repository

import (
	"github.com/trackmystartup/tms-payments/app/models"
	"gorm.io/gorm"
)

// ProfileRepository defines the interface for profile-related database operations
type ProfileRepository interface {
	Create(profile *models.Profile) error
	GetByID(id string) (*models.Profile, error)
	GetLatestByAuthUserID(authUserID string) (*models.Profile, error)
	ListByAuthUserID(authUserID string) ([]models.Profile, error)
	SetRazorpayCustomerID(profileID, customerID string) error
}

// PlanRepository defines the interface for subscription plan lookups
type PlanRepository interface {
	Create(plan *models.SubscriptionPlan) error
	GetByID(id uint) (*models.SubscriptionPlan, error)
}

// SubscriptionRepository defines the interface for user subscription queries
type SubscriptionRepository interface {
	GetActiveByUserID(userID string) (*models.UserSubscription, error)
	GetByRazorpaySubscriptionID(razorpaySubscriptionID string) (*models.UserSubscription, error)
	GetByRazorpaySubscriptionIDForUser(userID, razorpaySubscriptionID string) (*models.UserSubscription, error)
	DisableAutopay(id uint, mandateStatus string) error
}

// Repositories aggregates all repositories
type Repositories struct {
	Profile      ProfileRepository
	Plan         PlanRepository
	Subscription SubscriptionRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Profile:      NewProfileRepository(db),
		Plan:         NewPlanRepository(db),
		Subscription: NewSubscriptionRepository(db),
	}
}
