// ABOUTME: Pure underwriting decision engine with an auditable reasoning trace.
// ABOUTME: Policy thresholds and the rate table are injected, never hard-coded.

package underwriting

import (
	"fmt"
	"math"
)

// Outcome is the final result of an underwriting run.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeDeclined Outcome = "declined"
)

// Profile is the customer financial data the engine evaluates.
type Profile struct {
	MonthlyIncome    int64
	ExistingEMI      int64 // monthly obligations already being serviced
	CreditScore      int
	PreApprovedLimit int64
}

// Request carries the requested terms plus the salary evidence available.
type Request struct {
	Amount       int64
	TenureMonths int

	// SalaryDeclared is a caller-supplied monthly salary figure, 0 if absent.
	// HasSalarySlip is true when a salary slip document is attached to the
	// application; either form of evidence lets the engine trust income for
	// above-limit requests.
	SalaryDeclared int64
	HasSalarySlip  bool
}

// RuleResult records one rule evaluation for the reasoning trace.
type RuleResult struct {
	Rule    string `json:"rule"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
}

// Decision is the immutable output of Decide.
type Decision struct {
	Outcome        Outcome      `json:"decision"`
	ApprovedAmount int64        `json:"approved_amount,omitempty"`
	TenureMonths   int          `json:"approved_tenure,omitempty"`
	AnnualRate     float64      `json:"rate,omitempty"`
	EMI            float64      `json:"emi,omitempty"`
	Reason         string       `json:"reason"`
	Trace          []RuleResult `json:"reasoning"`
}

// RateTier is one row of the rate table: the first tier whose bounds admit the
// approved amount and the customer's credit score supplies the annual rate.
type RateTier struct {
	MaxAmount int64   `toml:"max_amount"` // 0 means no upper bound
	MinScore  int     `toml:"min_score"`
	Rate      float64 `toml:"rate"`
}

// Policy is the externally configured rule set. DefaultPolicy documents the
// shipped values; deployments override them via the policy file.
type Policy struct {
	MinCreditScore        int        `toml:"min_credit_score"`
	PreApprovedMultiplier float64    `toml:"pre_approved_multiplier"`
	EMIIncomeRatio        float64    `toml:"emi_income_ratio"`
	MaxDTI                float64    `toml:"max_dti"`
	MaxTenureMonths       int        `toml:"max_tenure_months"`
	FallbackRate          float64    `toml:"fallback_rate"`
	RateTiers             []RateTier `toml:"rate_tier"`
}

// DefaultPolicy returns the built-in policy values.
func DefaultPolicy() Policy {
	return Policy{
		MinCreditScore:        700,
		PreApprovedMultiplier: 2.0,
		EMIIncomeRatio:        0.5,
		MaxDTI:                0.6,
		MaxTenureMonths:       60,
		FallbackRate:          14.0,
		RateTiers: []RateTier{
			{MaxAmount: 200_000, MinScore: 750, Rate: 10.5},
			{MaxAmount: 200_000, MinScore: 700, Rate: 11.5},
			{MaxAmount: 500_000, MinScore: 750, Rate: 11.0},
			{MaxAmount: 500_000, MinScore: 700, Rate: 12.0},
			{MaxAmount: 0, MinScore: 750, Rate: 12.5},
			{MaxAmount: 0, MinScore: 700, Rate: 13.5},
		},
	}
}

// Validate checks the policy for values that would make decisions nonsensical.
func (p Policy) Validate() error {
	if p.MinCreditScore <= 0 {
		return fmt.Errorf("min_credit_score must be positive")
	}
	if p.PreApprovedMultiplier < 1 {
		return fmt.Errorf("pre_approved_multiplier must be >= 1")
	}
	if p.EMIIncomeRatio <= 0 || p.EMIIncomeRatio > 1 {
		return fmt.Errorf("emi_income_ratio must be in (0, 1]")
	}
	if p.MaxDTI <= 0 || p.MaxDTI > 1 {
		return fmt.Errorf("max_dti must be in (0, 1]")
	}
	if p.MaxTenureMonths <= 0 {
		return fmt.Errorf("max_tenure_months must be positive")
	}
	return nil
}

// EMI computes the equated monthly installment for a principal at the given
// annual percentage rate over n months, using the standard amortization
// formula. A zero rate degrades to straight division.
func EMI(principal int64, annualRate float64, months int) float64 {
	if months <= 0 {
		return 0
	}
	p := float64(principal)
	r := annualRate / 12.0 / 100.0
	if r == 0 {
		return p / float64(months)
	}
	pow := math.Pow(1+r, float64(months))
	return p * r * pow / (pow - 1)
}

// Decide runs the policy against a profile and requested terms. It is
// deterministic: identical inputs always produce an identical decision.
func (p Policy) Decide(profile Profile, req Request) Decision {
	var trace []RuleResult
	record := func(rule, outcome, detail string) {
		trace = append(trace, RuleResult{Rule: rule, Outcome: outcome, Detail: detail})
	}
	declined := func(reason string) Decision {
		return Decision{Outcome: OutcomeDeclined, Reason: reason, Trace: trace}
	}

	tenure := req.TenureMonths
	if tenure > p.MaxTenureMonths {
		record("tenure_cap", "adjusted",
			fmt.Sprintf("requested %d months capped to %d", tenure, p.MaxTenureMonths))
		tenure = p.MaxTenureMonths
	} else {
		record("tenure_cap", "pass", fmt.Sprintf("%d months within cap", tenure))
	}

	if profile.CreditScore < p.MinCreditScore {
		record("min_credit_score", "fail",
			fmt.Sprintf("score %d below cutoff %d", profile.CreditScore, p.MinCreditScore))
		return declined("credit_score_below_cutoff")
	}
	record("min_credit_score", "pass",
		fmt.Sprintf("score %d meets cutoff %d", profile.CreditScore, p.MinCreditScore))

	hardCap := int64(p.PreApprovedMultiplier * float64(profile.PreApprovedLimit))
	if req.Amount > hardCap {
		record("amount_cap", "fail",
			fmt.Sprintf("requested %d exceeds %.1fx pre-approved limit %d",
				req.Amount, p.PreApprovedMultiplier, profile.PreApprovedLimit))
		return declined("amount_exceeds_policy_maximum")
	}

	amount := req.Amount
	rate := p.rateFor(amount, profile.CreditScore)
	emi := EMI(amount, rate, tenure)

	if req.Amount <= profile.PreApprovedLimit {
		record("pre_approved_limit", "pass",
			fmt.Sprintf("requested %d within limit %d", req.Amount, profile.PreApprovedLimit))
		return Decision{
			Outcome:        OutcomeApproved,
			ApprovedAmount: amount,
			TenureMonths:   tenure,
			AnnualRate:     rate,
			EMI:            emi,
			Reason:         "within_pre_approved_limit",
			Trace:          trace,
		}
	}
	record("pre_approved_limit", "escalate",
		fmt.Sprintf("requested %d above limit %d, income check required", req.Amount, profile.PreApprovedLimit))

	// Above the pre-approved limit the engine needs salary evidence before it
	// will trust the income figure.
	income := profile.MonthlyIncome
	switch {
	case req.SalaryDeclared > 0:
		income = req.SalaryDeclared
		record("salary_evidence", "pass", "caller-declared salary used")
	case req.HasSalarySlip:
		record("salary_evidence", "pass", "salary slip on file, profile income used")
	default:
		record("salary_evidence", "fail", "no declared salary and no slip on file")
		return declined("salary_evidence_required")
	}

	if income <= 0 {
		record("income_known", "fail", "no income figure available")
		return declined("income_unknown")
	}

	if emi > p.EMIIncomeRatio*float64(income) {
		record("emi_affordability", "fail",
			fmt.Sprintf("emi %.2f exceeds %.0f%% of income %d", emi, p.EMIIncomeRatio*100, income))
		return declined("emi_exceeds_income_ratio")
	}
	record("emi_affordability", "pass",
		fmt.Sprintf("emi %.2f within %.0f%% of income %d", emi, p.EMIIncomeRatio*100, income))

	dti := (float64(profile.ExistingEMI) + emi) / float64(income)
	if dti > p.MaxDTI {
		record("debt_to_income", "fail",
			fmt.Sprintf("dti %.2f exceeds cutoff %.2f", dti, p.MaxDTI))
		return declined("dti_exceeds_cutoff")
	}
	record("debt_to_income", "pass", fmt.Sprintf("dti %.2f within cutoff %.2f", dti, p.MaxDTI))

	return Decision{
		Outcome:        OutcomeApproved,
		ApprovedAmount: amount,
		TenureMonths:   tenure,
		AnnualRate:     rate,
		EMI:            emi,
		Reason:         "emi_within_income_ratio",
		Trace:          trace,
	}
}

// rateFor picks the annual rate from the tier table: first tier whose amount
// bound admits the amount and whose score floor the customer meets.
func (p Policy) rateFor(amount int64, score int) float64 {
	for _, t := range p.RateTiers {
		if t.MaxAmount != 0 && amount > t.MaxAmount {
			continue
		}
		if score >= t.MinScore {
			return t.Rate
		}
	}
	return p.FallbackRate
}
