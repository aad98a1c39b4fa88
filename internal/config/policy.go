// ABOUTME: Loads the underwriting policy from a TOML file over the defaults
// ABOUTME: An empty path means the built-in policy values

package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/finwell/loan-gateway/internal/underwriting"
)

// LoadPolicy reads the policy TOML at path on top of the default policy.
// Fields absent from the file keep their defaults; an explicit rate_tier
// table replaces the built-in one.
func LoadPolicy(path string) (underwriting.Policy, error) {
	policy := underwriting.DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	var overlay underwriting.Policy
	meta, err := toml.DecodeFile(path, &overlay)
	if err != nil {
		return underwriting.Policy{}, fmt.Errorf("reading policy file: %w", err)
	}

	if meta.IsDefined("min_credit_score") {
		policy.MinCreditScore = overlay.MinCreditScore
	}
	if meta.IsDefined("pre_approved_multiplier") {
		policy.PreApprovedMultiplier = overlay.PreApprovedMultiplier
	}
	if meta.IsDefined("emi_income_ratio") {
		policy.EMIIncomeRatio = overlay.EMIIncomeRatio
	}
	if meta.IsDefined("max_dti") {
		policy.MaxDTI = overlay.MaxDTI
	}
	if meta.IsDefined("max_tenure_months") {
		policy.MaxTenureMonths = overlay.MaxTenureMonths
	}
	if meta.IsDefined("fallback_rate") {
		policy.FallbackRate = overlay.FallbackRate
	}
	if meta.IsDefined("rate_tier") {
		policy.RateTiers = overlay.RateTiers
	}

	if err := policy.Validate(); err != nil {
		return underwriting.Policy{}, fmt.Errorf("invalid policy: %w", err)
	}
	return policy, nil
}
