package identity

import (
	"math"
	"time"

	"github.com/platinummonkey/tenancy/pkg/accounts"
)

// SubscriptionStatus summarises where an account is in its billing lifecycle
type SubscriptionStatus string

const (
	SubscriptionFree         SubscriptionStatus = "free"
	SubscriptionActive       SubscriptionStatus = "active"
	SubscriptionTrialing     SubscriptionStatus = "trialing"
	SubscriptionTrialExpired SubscriptionStatus = "trial_expired"
	SubscriptionCanceled     SubscriptionStatus = "canceled"
	SubscriptionNone         SubscriptionStatus = "none"
)

// Subscription is the billing view of an account
type Subscription struct {
	Status             SubscriptionStatus `json:"status"`
	Plan               string             `json:"plan,omitempty"`
	TrialEnd           *time.Time         `json:"trial_end,omitempty"`
	TrialDaysRemaining int                `json:"trial_days_remaining"`
	HasStripeCustomer  bool               `json:"has_stripe_customer"`
}

// Features is the plan-derived view of an account: tier, limits and
// subscription status
type Features struct {
	PlanTier     string              `json:"plan_tier"`
	Limits       accounts.PlanLimits `json:"limits"`
	Subscription Subscription        `json:"subscription"`
}

// DeriveFeatures computes the feature snapshot of account at now. A nil
// account has no tier and no subscription.
func DeriveFeatures(account *accounts.Account, catalog accounts.PlanCatalog, now time.Time) Features {
	if account == nil {
		return Features{Subscription: Subscription{Status: SubscriptionNone}}
	}

	tier := account.PlanName()
	switch {
	case tier != "" && tier != accounts.NoPlan:
	case account.IsFreeAccount:
		tier = string(accounts.PlanFree)
	default:
		tier = accounts.NoPlan
	}

	return Features{
		PlanTier:     tier,
		Limits:       catalog.LimitsFor(account),
		Subscription: deriveSubscription(account, now),
	}
}

func deriveSubscription(account *accounts.Account, now time.Time) Subscription {
	sub := Subscription{
		Plan:              account.PlanName(),
		TrialEnd:          account.TrialEnd,
		HasStripeCustomer: account.StripeCustomerID != "",
	}
	if account.TrialEnd != nil && now.Before(*account.TrialEnd) {
		sub.TrialDaysRemaining = int(math.Ceil(account.TrialEnd.Sub(now).Hours() / 24))
	}

	switch {
	case account.IsFreeAccount:
		sub.Status = SubscriptionFree
	case account.StripeSubscriptionID != "" && account.HasPaidPlan():
		sub.Status = SubscriptionActive
	case sub.TrialDaysRemaining > 0:
		sub.Status = SubscriptionTrialing
	case account.TrialEnd != nil && !account.HasHadPaidPlan:
		sub.Status = SubscriptionTrialExpired
	case account.HasHadPaidPlan:
		sub.Status = SubscriptionCanceled
	default:
		sub.Status = SubscriptionNone
	}
	return sub
}
