// ABOUTME: The fixed loan-origination tool pack: descriptors and handlers
// ABOUTME: Handlers stage entities; the dispatcher commits them with the transition

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/finwell/loan-gateway/internal/letter"
	"github.com/finwell/loan-gateway/internal/store"
	"github.com/finwell/loan-gateway/internal/underwriting"
	"github.com/finwell/loan-gateway/internal/workflow"
)

// Default returns the registry holding the complete loan tool pack.
func Default() *Registry {
	return NewRegistry(
		customerInfoTool(),
		verifyKYCTool(),
		creditScoreTool(),
		underwriteTool(),
		uploadSalarySlipTool(),
		sanctionLetterTool(),
		logEventTool(),
	)
}

func customerIDProperty() *Schema {
	return &Schema{Type: "string", Description: "Customer identifier, e.g. CUST001"}
}

type applicationSummary struct {
	ID              string `json:"id"`
	State           string `json:"state"`
	RequestedAmount int64  `json:"requested_amount,omitempty"`
	RequestedTenure int    `json:"requested_tenure,omitempty"`
}

func summarize(app *store.Application) *applicationSummary {
	if app == nil {
		return nil
	}
	return &applicationSummary{
		ID:              app.ID,
		State:           string(app.State),
		RequestedAmount: app.RequestedAmount,
		RequestedTenure: app.RequestedTenure,
	}
}

func customerInfoTool() *Descriptor {
	return &Descriptor{
		Kind:        workflow.KindCustomerInfo,
		Name:        workflow.KindCustomerInfo.String(),
		Description: "Fetch a customer's profile and the state of their active loan application",
		InputSchema: &Schema{
			Type:       "object",
			Properties: map[string]*Schema{"customer_id": customerIDProperty()},
			Required:   []string{"customer_id"},
		},
		Handler: func(ctx context.Context, env *Env, inv *Invocation) (*Result, error) {
			c := inv.Customer
			out, err := json.Marshal(struct {
				CustomerID       string              `json:"customer_id"`
				Name             string              `json:"name"`
				Age              int                 `json:"age"`
				City             string              `json:"city"`
				Phone            string              `json:"phone"`
				Email            string              `json:"email"`
				MonthlyIncome    int64               `json:"monthly_income"`
				ExistingEMI      int64               `json:"existing_emi"`
				CreditScore      int                 `json:"credit_score"`
				PreApprovedLimit int64               `json:"pre_approved_limit"`
				Application      *applicationSummary `json:"application"`
			}{
				CustomerID:       c.ID,
				Name:             c.Name,
				Age:              c.Age,
				City:             c.City,
				Phone:            c.Phone,
				Email:            c.Email,
				MonthlyIncome:    c.MonthlyIncome,
				ExistingEMI:      c.ExistingEMI,
				CreditScore:      c.CreditScore,
				PreApprovedLimit: c.PreApprovedLimit,
				Application:      summarize(inv.App),
			})
			if err != nil {
				return nil, err
			}
			return &Result{Output: out}, nil
		},
	}
}

func verifyKYCTool() *Descriptor {
	return &Descriptor{
		Kind:        workflow.KindVerifyKYC,
		Name:        workflow.KindVerifyKYC.String(),
		Description: "Verify a customer's phone and address against the records on file",
		InputSchema: &Schema{
			Type: "object",
			Properties: map[string]*Schema{
				"customer_id": customerIDProperty(),
				"phone":       {Type: "string", Description: "Phone number to verify against the record"},
			},
			Required: []string{"customer_id", "phone"},
		},
		Handler: func(ctx context.Context, env *Env, inv *Invocation) (*Result, error) {
			var in struct {
				CustomerID string `json:"customer_id"`
				Phone      string `json:"phone"`
			}
			if err := json.Unmarshal(inv.Input, &in); err != nil {
				return nil, &FieldError{Message: "body is not valid JSON"}
			}

			out, err := json.Marshal(struct {
				CustomerID      string `json:"customer_id"`
				PhoneVerified   bool   `json:"phone_verified"`
				AddressVerified bool   `json:"address_verified"`
			}{inv.Customer.ID, inv.Customer.Phone == in.Phone, true})
			if err != nil {
				return nil, err
			}
			return &Result{Output: out}, nil
		},
	}
}

func creditScoreTool() *Descriptor {
	return &Descriptor{
		Kind:        workflow.KindCreditScore,
		Name:        workflow.KindCreditScore.String(),
		Description: "Fetch the customer's current bureau credit score",
		InputSchema: &Schema{
			Type:       "object",
			Properties: map[string]*Schema{"customer_id": customerIDProperty()},
			Required:   []string{"customer_id"},
		},
		Handler: func(ctx context.Context, env *Env, inv *Invocation) (*Result, error) {
			out, err := json.Marshal(struct {
				CustomerID  string `json:"customer_id"`
				CreditScore int    `json:"credit_score"`
			}{inv.Customer.ID, inv.Customer.CreditScore})
			if err != nil {
				return nil, err
			}
			return &Result{Output: out}, nil
		},
	}
}

func underwriteTool() *Descriptor {
	return &Descriptor{
		Kind:        workflow.KindUnderwrite,
		Name:        workflow.KindUnderwrite.String(),
		Description: "Run the underwriting rules for a requested amount and tenure",
		InputSchema: &Schema{
			Type: "object",
			Properties: map[string]*Schema{
				"customer_id":      customerIDProperty(),
				"requested_amount": {Type: "number", Description: "Requested loan amount", ExclusiveMinimum: floatPtr(0)},
				"tenure_months":    {Type: "integer", Description: "Requested tenure in months", Minimum: floatPtr(1)},
				"salary_monthly": {
					Type:             "number",
					Description:      "Declared monthly salary, used as income evidence for above-limit requests",
					ExclusiveMinimum: floatPtr(0),
				},
			},
			Required: []string{"customer_id", "requested_amount", "tenure_months"},
		},
		CreatesApplication: true,
		Handler:            handleUnderwrite,
	}
}

func handleUnderwrite(ctx context.Context, env *Env, inv *Invocation) (*Result, error) {
	var in struct {
		CustomerID    string  `json:"customer_id"`
		Amount        float64 `json:"requested_amount"`
		TenureMonths  int     `json:"tenure_months"`
		SalaryMonthly float64 `json:"salary_monthly"`
	}
	if err := json.Unmarshal(inv.Input, &in); err != nil {
		return nil, &FieldError{Message: "body is not valid JSON"}
	}

	docs, err := env.Store.ListDocuments(ctx, inv.App.ID)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	hasSlip := false
	for _, d := range docs {
		if d.Kind == store.DocumentKindSalarySlip {
			hasSlip = true
			break
		}
	}

	c := inv.Customer
	decision := env.Policy.Decide(
		underwriting.Profile{
			MonthlyIncome:    c.MonthlyIncome,
			ExistingEMI:      c.ExistingEMI,
			CreditScore:      c.CreditScore,
			PreApprovedLimit: c.PreApprovedLimit,
		},
		underwriting.Request{
			Amount:         int64(in.Amount),
			TenureMonths:   in.TenureMonths,
			SalaryDeclared: int64(in.SalaryMonthly),
			HasSalarySlip:  hasSlip,
		},
	)

	reasoning, err := json.Marshal(decision.Trace)
	if err != nil {
		return nil, fmt.Errorf("marshaling reasoning trace: %w", err)
	}
	staged := &store.Decision{
		ID:             uuid.New().String(),
		ApplicationID:  inv.App.ID,
		Outcome:        string(decision.Outcome),
		ApprovedAmount: decision.ApprovedAmount,
		ApprovedTenure: decision.TenureMonths,
		AnnualRate:     decision.AnnualRate,
		EMI:            decision.EMI,
		Reason:         decision.Reason,
		Reasoning:      reasoning,
	}
	inv.App.RequestedAmount = int64(in.Amount)
	inv.App.RequestedTenure = in.TenureMonths

	outcome := workflow.OutcomeApproved
	if decision.Outcome == underwriting.OutcomeDeclined {
		outcome = workflow.OutcomeDeclined
	}
	next := workflow.Next(workflow.KindUnderwrite, inv.App.State, outcome)

	out, err := json.Marshal(struct {
		ApplicationID string `json:"application_id"`
		State         string `json:"state"`
		DecisionID    string `json:"decision_id"`
		underwriting.Decision
	}{inv.App.ID, string(next), staged.ID, decision})
	if err != nil {
		return nil, err
	}
	return &Result{Output: out, Outcome: outcome, Decision: staged}, nil
}

func uploadSalarySlipTool() *Descriptor {
	return &Descriptor{
		Kind:        workflow.KindUploadDocument,
		Name:        workflow.KindUploadDocument.String(),
		Description: "Attach a salary slip to the customer's application as income evidence",
		InputSchema: &Schema{
			Type:       "object",
			Properties: map[string]*Schema{"customer_id": customerIDProperty()},
			Required:   []string{"customer_id"},
		},
		CreatesApplication: true,
		Handler:            handleUploadSalarySlip,
	}
}

func handleUploadSalarySlip(ctx context.Context, env *Env, inv *Invocation) (*Result, error) {
	if inv.Upload == nil || len(inv.Upload.Content) == 0 {
		return nil, &FieldError{Path: "file", Message: "salary slip file is required"}
	}

	ext := strings.TrimPrefix(path.Ext(inv.Upload.Filename), ".")
	contentPath, sum, size, err := env.Files.Put(inv.Upload.Content, ext)
	if err != nil {
		return nil, err
	}

	doc := &store.Document{
		ID:            uuid.New().String(),
		ApplicationID: inv.App.ID,
		Kind:          store.DocumentKindSalarySlip,
		Filename:      inv.Upload.Filename,
		ContentType:   inv.Upload.ContentType,
		ContentPath:   contentPath,
		SHA256:        sum,
		Size:          size,
	}
	next := workflow.Next(workflow.KindUploadDocument, inv.App.State, workflow.OutcomeNone)

	out, err := json.Marshal(struct {
		ApplicationID string `json:"application_id"`
		State         string `json:"state"`
		DocumentID    string `json:"document_id"`
		ResourceID    string `json:"resource_id"`
		Filename      string `json:"filename"`
		SHA256        string `json:"sha256"`
		Size          int64  `json:"size"`
	}{inv.App.ID, string(next), doc.ID, doc.ID, doc.Filename, doc.SHA256, doc.Size})
	if err != nil {
		return nil, err
	}
	return &Result{Output: out, Document: doc}, nil
}

func sanctionLetterTool() *Descriptor {
	return &Descriptor{
		Kind:        workflow.KindSanctionLetter,
		Name:        workflow.KindSanctionLetter.String(),
		Description: "Issue the sanction letter for an approved application",
		InputSchema: &Schema{
			Type: "object",
			Properties: map[string]*Schema{
				"customer_id":   customerIDProperty(),
				"amount":        {Type: "number", Description: "Sanctioned amount, defaults to the approved amount", ExclusiveMinimum: floatPtr(0)},
				"tenure_months": {Type: "integer", Description: "Sanctioned tenure, defaults to the approved tenure", Minimum: floatPtr(1)},
				"interest_rate": {Type: "number", Description: "Annual rate in percent, defaults to the approved rate", ExclusiveMinimum: floatPtr(0)},
			},
			Required: []string{"customer_id"},
		},
		Handler: handleSanctionLetter,
	}
}

type letterOutput struct {
	ApplicationID string  `json:"application_id"`
	State         string  `json:"state"`
	LetterID      string  `json:"letter_id"`
	DecisionID    string  `json:"decision_id"`
	Amount        int64   `json:"amount"`
	TenureMonths  int     `json:"tenure_months"`
	AnnualRate    float64 `json:"rate"`
	EMI           float64 `json:"emi"`
	ResourceID    string  `json:"resource_id"`
	ContentRef    string  `json:"content_ref"`
}

func letterContentRef(documentID string) string {
	return "/resource/" + documentID
}

func handleSanctionLetter(ctx context.Context, env *Env, inv *Invocation) (*Result, error) {
	var in struct {
		CustomerID   string   `json:"customer_id"`
		Amount       *float64 `json:"amount"`
		TenureMonths *int     `json:"tenure_months"`
		InterestRate *float64 `json:"interest_rate"`
	}
	if err := json.Unmarshal(inv.Input, &in); err != nil {
		return nil, &FieldError{Message: "body is not valid JSON"}
	}

	if inv.App.DecisionID == "" {
		return nil, fmt.Errorf("application %s has no decision", inv.App.ID)
	}
	dec, err := env.Store.GetDecision(ctx, inv.App.DecisionID)
	if err != nil {
		return nil, fmt.Errorf("loading decision: %w", err)
	}
	if dec.Outcome != string(underwriting.OutcomeApproved) {
		return nil, fmt.Errorf("decision %s is not an approval", dec.ID)
	}

	amount := dec.ApprovedAmount
	if in.Amount != nil {
		requested := int64(*in.Amount)
		if requested > dec.ApprovedAmount {
			return nil, fieldErrf("amount", "exceeds approved amount %d", dec.ApprovedAmount)
		}
		amount = requested
	}
	tenure := dec.ApprovedTenure
	if in.TenureMonths != nil {
		if *in.TenureMonths > dec.ApprovedTenure {
			return nil, fieldErrf("tenure_months", "exceeds approved tenure %d", dec.ApprovedTenure)
		}
		tenure = *in.TenureMonths
	}
	rate := dec.AnnualRate
	if in.InterestRate != nil {
		if *in.InterestRate > dec.AnnualRate {
			return nil, fieldErrf("interest_rate", "exceeds approved rate %g", dec.AnnualRate)
		}
		rate = *in.InterestRate
	}

	// Idempotent replay: an existing letter for this decision is returned
	// as-is when the terms match.
	existing, err := env.Store.GetLetterByDecision(ctx, dec.ID)
	if err == nil {
		if existing.Amount != amount || existing.TenureMonths != tenure || existing.AnnualRate != rate {
			return nil, fieldErrf("amount", "letter already issued for amount %d over %d months at %g%%",
				existing.Amount, existing.TenureMonths, existing.AnnualRate)
		}
		out, err := json.Marshal(letterOutput{
			ApplicationID: inv.App.ID,
			State:         string(inv.App.State),
			LetterID:      existing.ID,
			DecisionID:    dec.ID,
			Amount:        existing.Amount,
			TenureMonths:  existing.TenureMonths,
			AnnualRate:    existing.AnnualRate,
			EMI:           underwriting.EMI(existing.Amount, existing.AnnualRate, existing.TenureMonths),
			ResourceID:    existing.DocumentID,
			ContentRef:    letterContentRef(existing.DocumentID),
		})
		if err != nil {
			return nil, err
		}
		return &Result{Output: out}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up letter: %w", err)
	}

	emi := underwriting.EMI(amount, rate, tenure)
	html, err := env.Renderer.Render(letter.Data{
		CustomerName:  inv.Customer.Name,
		CustomerID:    inv.Customer.ID,
		ApplicationID: inv.App.ID,
		Amount:        amount,
		TenureMonths:  tenure,
		AnnualRate:    rate,
		EMI:           emi,
		IssuedAt:      time.Now(),
	})
	if err != nil {
		return nil, err
	}

	contentPath, sum, size, err := env.Files.Put(html, "html")
	if err != nil {
		return nil, err
	}
	doc := &store.Document{
		ID:            uuid.New().String(),
		ApplicationID: inv.App.ID,
		Kind:          store.DocumentKindSanctionLetter,
		Filename:      "sanction_letter.html",
		ContentType:   "text/html; charset=utf-8",
		ContentPath:   contentPath,
		SHA256:        sum,
		Size:          size,
	}
	row := &store.Letter{
		ID:            uuid.New().String(),
		ApplicationID: inv.App.ID,
		DecisionID:    dec.ID,
		Amount:        amount,
		TenureMonths:  tenure,
		AnnualRate:    rate,
		DocumentID:    doc.ID,
	}

	next := workflow.Next(workflow.KindSanctionLetter, inv.App.State, workflow.OutcomeNone)
	out, err := json.Marshal(letterOutput{
		ApplicationID: inv.App.ID,
		State:         string(next),
		LetterID:      row.ID,
		DecisionID:    dec.ID,
		Amount:        amount,
		TenureMonths:  tenure,
		AnnualRate:    rate,
		EMI:           emi,
		ResourceID:    doc.ID,
		ContentRef:    letterContentRef(doc.ID),
	})
	if err != nil {
		return nil, err
	}
	return &Result{Output: out, Letter: row, Document: doc}, nil
}

func logEventTool() *Descriptor {
	return &Descriptor{
		Kind:        workflow.KindLogEvent,
		Name:        workflow.KindLogEvent.String(),
		Description: "Record a business event against a customer in the audit log",
		InputSchema: &Schema{
			Type: "object",
			Properties: map[string]*Schema{
				"customer_id": customerIDProperty(),
				"event":       {Type: "string", Description: "Event name, e.g. branch_visit"},
				"detail":      {Type: "string", Description: "Free-form event detail"},
			},
			Required: []string{"customer_id", "event"},
		},
		Handler: func(ctx context.Context, env *Env, inv *Invocation) (*Result, error) {
			var in struct {
				CustomerID string `json:"customer_id"`
				Event      string `json:"event"`
				Detail     string `json:"detail"`
			}
			if err := json.Unmarshal(inv.Input, &in); err != nil {
				return nil, &FieldError{Message: "body is not valid JSON"}
			}

			detail, err := json.Marshal(struct {
				CustomerID string `json:"customer_id"`
				Event      string `json:"event"`
				Detail     string `json:"detail,omitempty"`
			}{in.CustomerID, in.Event, in.Detail})
			if err != nil {
				return nil, err
			}
			ev := &store.AuditEvent{
				ID:       uuid.New().String(),
				CallerID: inv.CallerID,
				Tool:     workflow.KindLogEvent.String(),
				Detail:   detail,
			}
			if err := env.Store.SaveAuditEvent(ctx, ev); err != nil {
				return nil, fmt.Errorf("saving audit event: %w", err)
			}

			out, err := json.Marshal(struct {
				Logged  bool   `json:"logged"`
				EventID string `json:"event_id"`
			}{true, ev.ID})
			if err != nil {
				return nil, err
			}
			return &Result{Output: out}, nil
		},
	}
}
