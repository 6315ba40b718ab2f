package repository

import (
	"github.com/go-playground/validator/v10"
	"github.com/trackmystartup/tms-payments/app/models"
	"gorm.io/gorm"
)

// profileRepository implements the ProfileRepository interface
type profileRepository struct {
	db *gorm.DB
}

// NewProfileRepository creates a new profile repository instance
func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &profileRepository{db: db}
}

// Create validates and inserts a profile
func (r *profileRepository) Create(profile *models.Profile) error {
	if err := validator.New().Struct(profile); err != nil {
		return err
	}
	return r.db.Create(profile).Error
}

// GetByID retrieves a profile by its canonical id
func (r *profileRepository) GetByID(id string) (*models.Profile, error) {
	var profile models.Profile
	err := r.db.Where("id = ?", id).First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// GetLatestByAuthUserID returns the most recently created profile owned by
// an auth identity. Ties on created_at are broken by id.
func (r *profileRepository) GetLatestByAuthUserID(authUserID string) (*models.Profile, error) {
	var profile models.Profile
	err := r.db.Where("auth_user_id = ?", authUserID).
		Order("created_at DESC").
		Order("id DESC").
		First(&profile).Error
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// ListByAuthUserID lists all profiles of an auth identity, newest first
func (r *profileRepository) ListByAuthUserID(authUserID string) ([]models.Profile, error) {
	var profiles []models.Profile
	err := r.db.Where("auth_user_id = ?", authUserID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&profiles).Error
	return profiles, err
}

// SetRazorpayCustomerID stores the gateway customer id on a profile
func (r *profileRepository) SetRazorpayCustomerID(profileID, customerID string) error {
	res := r.db.Model(&models.Profile{}).
		Where("id = ?", profileID).
		Update("razorpay_customer_id", customerID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
