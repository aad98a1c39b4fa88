// ABOUTME: Tests for the loan tool pack handlers
// ABOUTME: Runs handlers against a real SQLite store and file store

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finwell/loan-gateway/internal/letter"
	"github.com/finwell/loan-gateway/internal/store"
	"github.com/finwell/loan-gateway/internal/underwriting"
	"github.com/finwell/loan-gateway/internal/workflow"
)

func newTestEnv(t *testing.T) *Env {
	t.Helper()
	s, err := store.NewSQLiteStore(t.TempDir() + "/tools.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)

	return &Env{
		Store:    s,
		Files:    fs,
		Policy:   underwriting.DefaultPolicy(),
		Renderer: letter.NewRenderer(),
	}
}

func seedCustomer(t *testing.T, env *Env) *store.Customer {
	t.Helper()
	c := &store.Customer{
		ID:               "CUST001",
		Name:             "Rahul Sharma",
		City:             "Mumbai",
		Phone:            "+91-9876500001",
		MonthlyIncome:    100000,
		CreditScore:      745,
		PreApprovedLimit: 500000,
	}
	require.NoError(t, env.Store.CreateCustomer(context.Background(), c))
	return c
}

func openApplication(t *testing.T, env *Env, customerID string) *store.Application {
	t.Helper()
	app := &store.Application{
		ID:         uuid.New().String(),
		CustomerID: customerID,
		State:      workflow.StateDraft,
	}
	require.NoError(t, env.Store.CreateApplication(context.Background(), app))
	return app
}

func TestDefaultRegistryOrder(t *testing.T) {
	reg := Default()

	var names []string
	for _, d := range reg.List() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{
		"get_customer_info", "verify_kyc", "get_credit_score",
		"underwrite_loan", "upload_salary_slip", "generate_sanction_letter",
		"log_event",
	}, names)

	d, err := reg.Resolve("underwrite_loan")
	require.NoError(t, err)
	assert.Equal(t, workflow.KindUnderwrite, d.Kind)
	assert.True(t, d.CreatesApplication)

	_, err = reg.Resolve("open_the_vault")
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func resolveHandler(t *testing.T, name string) *Descriptor {
	t.Helper()
	d, err := Default().Resolve(name)
	require.NoError(t, err)
	return d
}

func TestCustomerInfoHandler(t *testing.T) {
	env := newTestEnv(t)
	c := seedCustomer(t, env)

	d := resolveHandler(t, "get_customer_info")
	res, err := d.Handler(context.Background(), env, &Invocation{
		CallerID: "demo",
		Customer: c,
		Input:    json.RawMessage(`{"customer_id":"CUST001"}`),
	})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(res.Output, &out))
	assert.Equal(t, "Rahul Sharma", out["name"])
	assert.EqualValues(t, 500000, out["pre_approved_limit"])
	assert.Nil(t, out["application"])
	assert.Nil(t, res.Decision)
}

func TestVerifyKYCHandler(t *testing.T) {
	env := newTestEnv(t)
	c := seedCustomer(t, env)
	d := resolveHandler(t, "verify_kyc")

	res, err := d.Handler(context.Background(), env, &Invocation{
		CallerID: "demo",
		Customer: c,
		Input:    json.RawMessage(`{"customer_id":"CUST001","phone":"` + c.Phone + `"}`),
	})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(res.Output, &out))
	assert.Equal(t, true, out["phone_verified"])
	assert.Equal(t, true, out["address_verified"])

	// A phone that does not match the record fails that check alone
	res, err = d.Handler(context.Background(), env, &Invocation{
		CallerID: "demo",
		Customer: c,
		Input:    json.RawMessage(`{"customer_id":"CUST001","phone":"+91-1234567890"}`),
	})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(res.Output, &out))
	assert.Equal(t, false, out["phone_verified"])
	assert.Equal(t, true, out["address_verified"])
}

func TestUnderwriteHandlerApproves(t *testing.T) {
	env := newTestEnv(t)
	c := seedCustomer(t, env)
	app := openApplication(t, env, c.ID)

	d := resolveHandler(t, "underwrite_loan")
	res, err := d.Handler(context.Background(), env, &Invocation{
		CallerID: "demo",
		Customer: c,
		App:      app,
		Input:    json.RawMessage(`{"customer_id":"CUST001","requested_amount":450000,"tenure_months":36}`),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Decision)

	assert.Equal(t, workflow.OutcomeApproved, res.Outcome)
	assert.Equal(t, "approved", res.Decision.Outcome)
	assert.EqualValues(t, 450000, res.Decision.ApprovedAmount)
	assert.EqualValues(t, 450000, app.RequestedAmount)
	assert.Equal(t, 36, app.RequestedTenure)

	var out map[string]any
	require.NoError(t, json.Unmarshal(res.Output, &out))
	assert.Equal(t, "approved", out["decision"])
	assert.Equal(t, string(workflow.StateUnderwritten), out["state"])
	assert.NotEmpty(t, out["reasoning"])
}

func TestUnderwriteHandlerSeesUploadedSlip(t *testing.T) {
	env := newTestEnv(t)
	c := seedCustomer(t, env)
	app := openApplication(t, env, c.ID)

	// Put a salary slip on file so an above-limit request gets past the
	// evidence gate.
	slip := &store.Document{
		ID:            uuid.New().String(),
		ApplicationID: app.ID,
		Kind:          store.DocumentKindSalarySlip,
		Filename:      "slip.pdf",
		ContentPath:   "slip.pdf",
	}
	require.NoError(t, env.Store.CommitDocument(context.Background(), app, slip, workflow.StateDocumentsPending))

	d := resolveHandler(t, "underwrite_loan")
	res, err := d.Handler(context.Background(), env, &Invocation{
		CallerID: "demo",
		Customer: c,
		App:      app,
		Input:    json.RawMessage(`{"customer_id":"CUST001","requested_amount":600000,"tenure_months":48}`),
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.OutcomeApproved, res.Outcome)
	assert.NotEqual(t, "salary_evidence_required", res.Decision.Reason)
}

func TestUploadHandlerRequiresFile(t *testing.T) {
	env := newTestEnv(t)
	c := seedCustomer(t, env)
	app := openApplication(t, env, c.ID)

	d := resolveHandler(t, "upload_salary_slip")
	_, err := d.Handler(context.Background(), env, &Invocation{
		CallerID: "demo",
		Customer: c,
		App:      app,
		Input:    json.RawMessage(`{"customer_id":"CUST001"}`),
	})
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "file", fe.Path)
}

func TestUploadHandlerStoresContent(t *testing.T) {
	env := newTestEnv(t)
	c := seedCustomer(t, env)
	app := openApplication(t, env, c.ID)

	d := resolveHandler(t, "upload_salary_slip")
	res, err := d.Handler(context.Background(), env, &Invocation{
		CallerID: "demo",
		Customer: c,
		App:      app,
		Input:    json.RawMessage(`{"customer_id":"CUST001"}`),
		Upload: &Upload{
			Filename:    "payslip_august.pdf",
			ContentType: "application/pdf",
			Content:     []byte("salary slip bytes"),
		},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Document)

	assert.Equal(t, store.DocumentKindSalarySlip, res.Document.Kind)
	assert.Equal(t, "payslip_august.pdf", res.Document.Filename)

	content, err := env.Files.Get(res.Document.ContentPath)
	require.NoError(t, err)
	assert.Equal(t, "salary slip bytes", string(content))
}

func underwrittenApplication(t *testing.T, env *Env, c *store.Customer) *store.Application {
	t.Helper()
	app := openApplication(t, env, c.ID)
	dec := &store.Decision{
		ID:             uuid.New().String(),
		ApplicationID:  app.ID,
		Outcome:        "approved",
		ApprovedAmount: 450000,
		ApprovedTenure: 36,
		AnnualRate:     12.0,
		EMI:            underwriting.EMI(450000, 12.0, 36),
		Reason:         "within_pre_approved_limit",
	}
	require.NoError(t, env.Store.CommitDecision(context.Background(), app, dec, workflow.StateUnderwritten))
	return app
}

func TestSanctionLetterHandler(t *testing.T) {
	env := newTestEnv(t)
	c := seedCustomer(t, env)
	app := underwrittenApplication(t, env, c)

	d := resolveHandler(t, "generate_sanction_letter")
	res, err := d.Handler(context.Background(), env, &Invocation{
		CallerID: "demo",
		Customer: c,
		App:      app,
		Input:    json.RawMessage(`{"customer_id":"CUST001"}`),
	})
	require.NoError(t, err)
	require.NotNil(t, res.Letter)
	require.NotNil(t, res.Document)

	assert.EqualValues(t, 450000, res.Letter.Amount)
	assert.Equal(t, 36, res.Letter.TenureMonths)
	assert.Equal(t, store.DocumentKindSanctionLetter, res.Document.Kind)

	content, err := env.Files.Get(res.Document.ContentPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "Loan Sanction Letter")
	assert.Contains(t, string(content), "Rahul Sharma")
}

func TestSanctionLetterIdempotentReplay(t *testing.T) {
	env := newTestEnv(t)
	c := seedCustomer(t, env)
	app := underwrittenApplication(t, env, c)
	ctx := context.Background()

	d := resolveHandler(t, "generate_sanction_letter")
	first, err := d.Handler(ctx, env, &Invocation{
		CallerID: "demo", Customer: c, App: app,
		Input: json.RawMessage(`{"customer_id":"CUST001"}`),
	})
	require.NoError(t, err)
	require.NoError(t, env.Store.CommitLetter(ctx, app, first.Letter, first.Document, workflow.StateSanctioned))

	replay, err := d.Handler(ctx, env, &Invocation{
		CallerID: "demo", Customer: c, App: app,
		Input: json.RawMessage(`{"customer_id":"CUST001"}`),
	})
	require.NoError(t, err)
	assert.Nil(t, replay.Letter, "replay must not stage a new letter")

	var out letterOutput
	require.NoError(t, json.Unmarshal(replay.Output, &out))
	assert.Equal(t, first.Letter.ID, out.LetterID)
}

func TestSanctionLetterTermBounds(t *testing.T) {
	env := newTestEnv(t)
	c := seedCustomer(t, env)
	app := underwrittenApplication(t, env, c)

	d := resolveHandler(t, "generate_sanction_letter")
	_, err := d.Handler(context.Background(), env, &Invocation{
		CallerID: "demo", Customer: c, App: app,
		Input: json.RawMessage(`{"customer_id":"CUST001","amount":500000}`),
	})
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "amount", fe.Path)

	_, err = d.Handler(context.Background(), env, &Invocation{
		CallerID: "demo", Customer: c, App: app,
		Input: json.RawMessage(`{"customer_id":"CUST001","interest_rate":14.0}`),
	})
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "interest_rate", fe.Path)

	// Reduced terms within the approved envelope are fine
	res, err := d.Handler(context.Background(), env, &Invocation{
		CallerID: "demo", Customer: c, App: app,
		Input: json.RawMessage(`{"customer_id":"CUST001","amount":400000,"tenure_months":24,"interest_rate":11.5}`),
	})
	require.NoError(t, err)
	assert.EqualValues(t, 400000, res.Letter.Amount)
	assert.Equal(t, 24, res.Letter.TenureMonths)
	assert.Equal(t, 11.5, res.Letter.AnnualRate)

	var out letterOutput
	require.NoError(t, json.Unmarshal(res.Output, &out))
	assert.Equal(t, 11.5, out.AnnualRate)
	assert.Equal(t, "/resource/"+res.Document.ID, out.ContentRef)
}

func TestLogEventHandler(t *testing.T) {
	env := newTestEnv(t)
	c := seedCustomer(t, env)
	ctx := context.Background()

	d := resolveHandler(t, "log_event")
	res, err := d.Handler(ctx, env, &Invocation{
		CallerID: "demo",
		Customer: c,
		Input:    json.RawMessage(`{"customer_id":"CUST001","event":"branch_visit","detail":"walked in for a top-up"}`),
	})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(res.Output, &out))
	assert.Equal(t, true, out["logged"])

	events, err := env.Store.ListAuditEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "log_event", events[0].Tool)
	assert.Contains(t, string(events[0].Detail), "branch_visit")
}

func TestHandlerErrorsAreNotFieldErrors(t *testing.T) {
	env := newTestEnv(t)
	c := seedCustomer(t, env)
	app := openApplication(t, env, c.ID)

	// Sanctioning without a decision is a server-side inconsistency, not
	// caller input.
	d := resolveHandler(t, "generate_sanction_letter")
	_, err := d.Handler(context.Background(), env, &Invocation{
		CallerID: "demo", Customer: c, App: app,
		Input: json.RawMessage(`{"customer_id":"CUST001"}`),
	})
	require.Error(t, err)
	var fe *FieldError
	assert.False(t, errors.As(err, &fe))
}
