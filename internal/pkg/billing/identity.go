package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/trackmystartup/tms-payments/app/models"
	"github.com/trackmystartup/tms-payments/app/repository"
)

// IdentityResolver maps a caller supplied user id, which may be a profile id
// or an auth identity id, onto the canonical profile id.
type IdentityResolver interface {
	ResolveProfileID(ctx context.Context, userID string) (string, error)
}

// ProfileLookup is the subset of the profile repository the resolver needs.
type ProfileLookup interface {
	GetByID(id string) (*models.Profile, error)
	GetLatestByAuthUserID(authUserID string) (*models.Profile, error)
}

type profileIdentityResolver struct {
	profiles ProfileLookup
}

// NewIdentityResolver resolves ids through profiles. A direct profile id match
// wins; otherwise the most recently created profile of the auth identity is
// used, ties broken by the higher profile id.
func NewIdentityResolver(profiles ProfileLookup) IdentityResolver {
	return &profileIdentityResolver{profiles: profiles}
}

// NewGormIdentityResolver is NewIdentityResolver over the GORM profile repository.
func NewGormIdentityResolver(db *gorm.DB) IdentityResolver {
	return NewIdentityResolver(repository.NewProfileRepository(db))
}

func (r *profileIdentityResolver) ResolveProfileID(_ context.Context, userID string) (string, error) {
	id := strings.TrimSpace(userID)
	if id == "" {
		return "", validationErrorf("user_id is required")
	}

	profile, err := r.profiles.GetByID(id)
	if err == nil {
		return profile.ID, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	profile, err = r.profiles.GetLatestByAuthUserID(id)
	if err == nil {
		log.Infof("[Identity] Resolved auth user %s to profile %s (%s)", id, profile.ID, profile.Role)
		return profile.ID, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrProfileNotFound
	}
	return "", err
}
