// ABOUTME: Tests for the underwriting engine: determinism, policy rules, EMI math.
// ABOUTME: Uses the default policy unless a rule needs a tuned threshold.

package underwriting

import (
	"math"
	"reflect"
	"testing"
)

func profile() Profile {
	return Profile{
		MonthlyIncome:    100_000,
		ExistingEMI:      0,
		CreditScore:      745,
		PreApprovedLimit: 500_000,
	}
}

func TestDecide_WithinPreApprovedLimit(t *testing.T) {
	p := DefaultPolicy()

	d := p.Decide(profile(), Request{Amount: 450_000, TenureMonths: 36})
	if d.Outcome != OutcomeApproved {
		t.Fatalf("outcome = %v (%s), want approved", d.Outcome, d.Reason)
	}
	if d.ApprovedAmount != 450_000 {
		t.Errorf("approved amount = %d, want 450000", d.ApprovedAmount)
	}
	if d.TenureMonths != 36 {
		t.Errorf("tenure = %d, want 36", d.TenureMonths)
	}
	if d.AnnualRate != 12.0 {
		t.Errorf("rate = %v, want 12.0", d.AnnualRate)
	}
	if len(d.Trace) == 0 {
		t.Error("expected a reasoning trace")
	}
}

func TestDecide_Deterministic(t *testing.T) {
	p := DefaultPolicy()
	req := Request{Amount: 450_000, TenureMonths: 36}

	first := p.Decide(profile(), req)
	for i := 0; i < 5; i++ {
		if got := p.Decide(profile(), req); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differed:\n got %+v\nwant %+v", i, got, first)
		}
	}
}

func TestDecide_LowCreditScore(t *testing.T) {
	p := DefaultPolicy()
	prof := profile()
	prof.CreditScore = 690

	d := p.Decide(prof, Request{Amount: 100_000, TenureMonths: 12})
	if d.Outcome != OutcomeDeclined {
		t.Fatalf("outcome = %v, want declined", d.Outcome)
	}
	if d.Reason != "credit_score_below_cutoff" {
		t.Errorf("reason = %q", d.Reason)
	}
}

func TestDecide_AboveHardCap(t *testing.T) {
	p := DefaultPolicy()

	d := p.Decide(profile(), Request{Amount: 1_100_000, TenureMonths: 36})
	if d.Outcome != OutcomeDeclined {
		t.Fatalf("outcome = %v, want declined", d.Outcome)
	}
	if d.Reason != "amount_exceeds_policy_maximum" {
		t.Errorf("reason = %q", d.Reason)
	}
}

func TestDecide_SalaryEvidenceRequired(t *testing.T) {
	p := DefaultPolicy()

	// Above the pre-approved limit with no evidence.
	d := p.Decide(profile(), Request{Amount: 600_000, TenureMonths: 36})
	if d.Outcome != OutcomeDeclined || d.Reason != "salary_evidence_required" {
		t.Fatalf("got (%v, %q), want declined salary_evidence_required", d.Outcome, d.Reason)
	}

	// Same request with a slip on file passes the evidence gate.
	d = p.Decide(profile(), Request{Amount: 600_000, TenureMonths: 36, HasSalarySlip: true})
	if d.Outcome != OutcomeApproved {
		t.Fatalf("with slip: outcome = %v (%s), want approved", d.Outcome, d.Reason)
	}
}

func TestDecide_EMIAffordability(t *testing.T) {
	p := DefaultPolicy()
	prof := profile()
	prof.PreApprovedLimit = 200_000
	prof.MonthlyIncome = 20_000

	d := p.Decide(prof, Request{Amount: 350_000, TenureMonths: 12, HasSalarySlip: true})
	if d.Outcome != OutcomeDeclined || d.Reason != "emi_exceeds_income_ratio" {
		t.Fatalf("got (%v, %q), want declined emi_exceeds_income_ratio", d.Outcome, d.Reason)
	}
}

func TestDecide_DTICutoff(t *testing.T) {
	p := DefaultPolicy()
	prof := profile()
	prof.PreApprovedLimit = 200_000
	prof.MonthlyIncome = 60_000
	prof.ExistingEMI = 28_000

	// EMI on 300000/36 at ~12% is about 10k: affordable alone, but existing
	// obligations push DTI past the cutoff.
	d := p.Decide(prof, Request{Amount: 300_000, TenureMonths: 36, HasSalarySlip: true})
	if d.Outcome != OutcomeDeclined || d.Reason != "dti_exceeds_cutoff" {
		t.Fatalf("got (%v, %q), want declined dti_exceeds_cutoff", d.Outcome, d.Reason)
	}
}

func TestDecide_TenureCapped(t *testing.T) {
	p := DefaultPolicy()

	d := p.Decide(profile(), Request{Amount: 100_000, TenureMonths: 120})
	if d.Outcome != OutcomeApproved {
		t.Fatalf("outcome = %v, want approved", d.Outcome)
	}
	if d.TenureMonths != p.MaxTenureMonths {
		t.Errorf("tenure = %d, want capped to %d", d.TenureMonths, p.MaxTenureMonths)
	}
}

func TestDecide_DeclaredSalaryOverridesProfile(t *testing.T) {
	p := DefaultPolicy()
	prof := profile()
	prof.PreApprovedLimit = 200_000
	prof.MonthlyIncome = 10_000 // profile income alone would fail

	d := p.Decide(prof, Request{Amount: 300_000, TenureMonths: 36, SalaryDeclared: 80_000})
	if d.Outcome != OutcomeApproved {
		t.Fatalf("outcome = %v (%s), want approved", d.Outcome, d.Reason)
	}
}

func TestEMI(t *testing.T) {
	// 100000 at 12% over 12 months: well-known amortization value.
	got := EMI(100_000, 12.0, 12)
	if math.Abs(got-8884.88) > 0.5 {
		t.Errorf("EMI = %.2f, want ~8884.88", got)
	}

	// Zero rate degrades to straight division.
	if got := EMI(120_000, 0, 12); got != 10_000 {
		t.Errorf("zero-rate EMI = %v, want 10000", got)
	}

	if got := EMI(100_000, 12.0, 0); got != 0 {
		t.Errorf("zero-month EMI = %v, want 0", got)
	}
}

func TestRateFor_TierSelection(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		amount int64
		score  int
		want   float64
	}{
		{150_000, 760, 10.5},
		{150_000, 710, 11.5},
		{450_000, 745, 12.0},
		{450_000, 780, 11.0},
		{800_000, 760, 12.5},
		{800_000, 705, 13.5},
	}
	for _, tt := range tests {
		if got := p.rateFor(tt.amount, tt.score); got != tt.want {
			t.Errorf("rateFor(%d, %d) = %v, want %v", tt.amount, tt.score, got, tt.want)
		}
	}
}

func TestPolicyValidate(t *testing.T) {
	good := DefaultPolicy()
	if err := good.Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}

	bad := DefaultPolicy()
	bad.EMIIncomeRatio = 1.5
	if err := bad.Validate(); err == nil {
		t.Error("expected error for emi_income_ratio > 1")
	}
}
