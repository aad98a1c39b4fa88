// ABOUTME: Demo customer seed data for local development and testing
// ABOUTME: Inserts a fixed set of customers with varied credit profiles

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// DemoCustomers returns the fixed demo dataset. Profiles span the
// underwriting outcomes: comfortable pre-approved headroom, salary-evidence
// cases, thin credit, and sub-cutoff scores.
func DemoCustomers() []*Customer {
	return []*Customer{
		{ID: "CUST001", Name: "Rahul Sharma", Age: 32, City: "Mumbai", Phone: "+91-9876500001", Email: "rahul.sharma@example.com", MonthlyIncome: 100000, ExistingEMI: 0, CreditScore: 745, PreApprovedLimit: 500000},
		{ID: "CUST002", Name: "Priya Patel", Age: 28, City: "Ahmedabad", Phone: "+91-9876500002", Email: "priya.patel@example.com", MonthlyIncome: 65000, ExistingEMI: 8000, CreditScore: 762, PreApprovedLimit: 250000},
		{ID: "CUST003", Name: "Amit Verma", Age: 41, City: "Delhi", Phone: "+91-9876500003", Email: "amit.verma@example.com", MonthlyIncome: 120000, ExistingEMI: 25000, CreditScore: 710, PreApprovedLimit: 400000},
		{ID: "CUST004", Name: "Sneha Reddy", Age: 35, City: "Hyderabad", Phone: "+91-9876500004", Email: "sneha.reddy@example.com", MonthlyIncome: 85000, ExistingEMI: 12000, CreditScore: 695, PreApprovedLimit: 200000},
		{ID: "CUST005", Name: "Vikram Singh", Age: 45, City: "Jaipur", Phone: "+91-9876500005", Email: "vikram.singh@example.com", MonthlyIncome: 150000, ExistingEMI: 30000, CreditScore: 780, PreApprovedLimit: 600000},
		{ID: "CUST006", Name: "Ananya Iyer", Age: 26, City: "Chennai", Phone: "+91-9876500006", Email: "ananya.iyer@example.com", MonthlyIncome: 48000, ExistingEMI: 0, CreditScore: 721, PreApprovedLimit: 150000},
		{ID: "CUST007", Name: "Karan Mehta", Age: 38, City: "Pune", Phone: "+91-9876500007", Email: "karan.mehta@example.com", MonthlyIncome: 95000, ExistingEMI: 18000, CreditScore: 668, PreApprovedLimit: 300000},
		{ID: "CUST008", Name: "Deepa Nair", Age: 30, City: "Kochi", Phone: "+91-9876500008", Email: "deepa.nair@example.com", MonthlyIncome: 72000, ExistingEMI: 5000, CreditScore: 735, PreApprovedLimit: 280000},
		{ID: "CUST009", Name: "Rohan Gupta", Age: 52, City: "Kolkata", Phone: "+91-9876500009", Email: "rohan.gupta@example.com", MonthlyIncome: 180000, ExistingEMI: 45000, CreditScore: 755, PreApprovedLimit: 750000},
		{ID: "CUST010", Name: "Meera Joshi", Age: 29, City: "Bengaluru", Phone: "+91-9876500010", Email: "meera.joshi@example.com", MonthlyIncome: 58000, ExistingEMI: 9000, CreditScore: 642, PreApprovedLimit: 100000},
	}
}

// SeedDemoCustomers inserts the demo dataset, skipping customers that
// already exist so reseeding is idempotent.
func SeedDemoCustomers(ctx context.Context, s Store, logger *slog.Logger) error {
	var inserted int
	for _, c := range DemoCustomers() {
		err := s.CreateCustomer(ctx, c)
		if errors.Is(err, ErrDuplicateCustomer) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seeding customer %s: %w", c.ID, err)
		}
		inserted++
	}
	logger.Info("seeded demo customers", "inserted", inserted, "total", len(DemoCustomers()))
	return nil
}
