package accounts

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PlanTier names a subscription plan
type PlanTier string

const (
	PlanFree    PlanTier = "free"
	PlanGrower  PlanTier = "grower"
	PlanBuilder PlanTier = "builder"
	PlanMaven   PlanTier = "maven"
)

// PlanLimits are the usage limits attached to a plan
type PlanLimits struct {
	MaxContacts    int `json:"max_contacts" yaml:"max_contacts"`
	MaxLocations   int `json:"max_locations" yaml:"max_locations"`
	MaxUsers       int `json:"max_users" yaml:"max_users"`
	MaxPromptPages int `json:"max_prompt_pages" yaml:"max_prompt_pages"`
}

// PlanCatalog maps plan names to their default limits
type PlanCatalog map[PlanTier]PlanLimits

// DefaultPlanCatalog returns the built-in plan limits
func DefaultPlanCatalog() PlanCatalog {
	return PlanCatalog{
		PlanFree: {
			MaxContacts:    0,
			MaxLocations:   0,
			MaxUsers:       1,
			MaxPromptPages: 3,
		},
		PlanGrower: {
			MaxContacts:    0,
			MaxLocations:   0,
			MaxUsers:       1,
			MaxPromptPages: 3,
		},
		PlanBuilder: {
			MaxContacts:    1000,
			MaxLocations:   0,
			MaxUsers:       3,
			MaxPromptPages: 50,
		},
		PlanMaven: {
			MaxContacts:    10000,
			MaxLocations:   10,
			MaxUsers:       5,
			MaxPromptPages: 500,
		},
	}
}

// LoadPlanCatalog reads a YAML mapping of plan name to limits and lays it
// over the defaults. An empty path returns the defaults.
//
//	maven:
//	  max_contacts: 20000
//	  max_locations: 25
func LoadPlanCatalog(path string) (PlanCatalog, error) {
	catalog := DefaultPlanCatalog()
	if path == "" {
		return catalog, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan catalog: %w", err)
	}

	var overrides map[string]PlanLimits
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse plan catalog: %w", err)
	}

	for name, limits := range overrides {
		tier := PlanTier(strings.ToLower(strings.TrimSpace(name)))
		if tier == "" || string(tier) == NoPlan {
			return nil, fmt.Errorf("invalid plan name in catalog: %q", name)
		}
		catalog[tier] = limits
	}

	return catalog, nil
}

// Limits returns the limits of a plan; unknown plans report false
func (c PlanCatalog) Limits(plan string) (PlanLimits, bool) {
	limits, ok := c[PlanTier(strings.ToLower(strings.TrimSpace(plan)))]
	return limits, ok
}

// LimitsFor returns the effective limits of an account. Limits stored on the
// account win; zero values fall back to the plan's defaults.
func (c PlanCatalog) LimitsFor(a *Account) PlanLimits {
	if a == nil {
		return PlanLimits{}
	}

	defaults, _ := c.Limits(a.PlanName())
	if a.IsFreeAccount && !a.HasPaidPlan() {
		defaults, _ = c.Limits(string(PlanFree))
	}

	return PlanLimits{
		MaxContacts:    firstNonZero(a.MaxContacts, defaults.MaxContacts),
		MaxLocations:   firstNonZero(a.MaxLocations, defaults.MaxLocations),
		MaxUsers:       firstNonZero(a.MaxUsers, defaults.MaxUsers),
		MaxPromptPages: firstNonZero(a.MaxPromptPages, defaults.MaxPromptPages),
	}
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
