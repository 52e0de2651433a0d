package accounts

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when an account or membership does not exist
	ErrNotFound = errors.New("not found")
	// ErrAccessDenied is returned when a user selects an account they are not a member of
	ErrAccessDenied = errors.New("access denied: not a member of this account")
)

// Role is a user's role within an account
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// NoPlan is the sentinel plan value of an account that never picked a plan
const NoPlan = "no_plan"

// IsPaidPlan reports whether plan names a real subscription plan
func IsPaidPlan(plan *string) bool {
	if plan == nil {
		return false
	}
	p := strings.TrimSpace(*plan)
	return p != "" && p != NoPlan
}

// Account is a tenant: the unit that owns businesses and carries a plan
type Account struct {
	ID                   string     `json:"id"`
	Plan                 *string    `json:"plan,omitempty"`
	TrialStart           *time.Time `json:"trial_start,omitempty"`
	TrialEnd             *time.Time `json:"trial_end,omitempty"`
	HasHadPaidPlan       bool       `json:"has_had_paid_plan"`
	IsFreeAccount        bool       `json:"is_free_account"`
	StripeCustomerID     string     `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string     `json:"stripe_subscription_id,omitempty"`
	MaxContacts          int        `json:"max_contacts"`
	MaxLocations         int        `json:"max_locations"`
	MaxUsers             int        `json:"max_users"`
	MaxPromptPages       int        `json:"max_prompt_pages"`
	CreatedAt            time.Time  `json:"created_at"`
}

// PlanName returns the plan, or "" when unset
func (a *Account) PlanName() string {
	if a == nil || a.Plan == nil {
		return ""
	}
	return strings.TrimSpace(*a.Plan)
}

// HasPaidPlan reports whether the account is on a paid plan
func (a *Account) HasPaidPlan() bool {
	return a != nil && IsPaidPlan(a.Plan)
}

// Membership links a user to an account. AccountPlan is the account's plan
// at read time, joined in so resolution needs a single query.
type Membership struct {
	UserID      string    `json:"user_id"`
	AccountID   string    `json:"account_id"`
	Role        Role      `json:"role"`
	AccountPlan *string   `json:"account_plan,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Business is a business profile owned by an account
type Business struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"account_id"`
	Name           string    `json:"name"`
	AddressStreet  string    `json:"address_street,omitempty"`
	AddressCity    string    `json:"address_city,omitempty"`
	AddressState   string    `json:"address_state,omitempty"`
	AddressZip     string    `json:"address_zip,omitempty"`
	AddressCountry string    `json:"address_country,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
