package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleStartup           = "Startup"
	RoleInvestor          = "Investor"
	RoleMentor            = "Mentor"
	RoleInvestmentAdvisor = "Investment Advisor"
	RoleFacilitator       = "Facilitator"
)

// Profile is a role-scoped identity. One auth identity may own several
// profiles, at most one per role.
type Profile struct {
	ID                 string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	AuthUserID         string    `gorm:"type:varchar(36);not null;index;index:ux_profiles_auth_role,unique,priority:1" json:"auth_user_id"`
	Role               string    `gorm:"type:varchar(32);not null;index:ux_profiles_auth_role,unique,priority:2" json:"role" validate:"required,oneof=Startup Investor Mentor 'Investment Advisor' Facilitator"`
	Name               string    `gorm:"type:varchar(200);default:''" json:"name"`
	Email              string    `gorm:"type:varchar(200);default:''" json:"email"`
	FirmName           string    `gorm:"type:varchar(200);default:''" json:"firm_name,omitempty"`
	StartupName        string    `gorm:"type:varchar(200);default:''" json:"startup_name,omitempty"`
	InvestorCode       string    `gorm:"type:varchar(50);default:''" json:"investor_code,omitempty"`
	AdvisorCode        string    `gorm:"type:varchar(50);default:''" json:"advisor_code,omitempty"`
	RazorpayCustomerID string    `gorm:"type:varchar(64);default:'';index" json:"razorpay_customer_id,omitempty"`
	CreatedAt          time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Profile) BeforeCreate(tx *gorm.DB) error {
	if strings.TrimSpace(p.ID) == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// IsAdvisor reports whether the profile may hold prepaid advisor credits.
func (p *Profile) IsAdvisor() bool {
	return p != nil && p.Role == RoleInvestmentAdvisor
}
