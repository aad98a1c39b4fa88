// ABOUTME: Tests for the tool dispatcher covering the full invocation path
// ABOUTME: Exercises error kinds, workflow gating, and concurrent serialization

package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finwell/loan-gateway/internal/letter"
	"github.com/finwell/loan-gateway/internal/store"
	"github.com/finwell/loan-gateway/internal/tools"
	"github.com/finwell/loan-gateway/internal/underwriting"
	"github.com/finwell/loan-gateway/internal/workflow"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(t.TempDir() + "/dispatch.db")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return newDispatcherFor(t, s), s
}

func newDispatcherFor(t *testing.T, s store.Store) *Dispatcher {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env := &tools.Env{
		Store:    s,
		Files:    fs,
		Policy:   underwriting.DefaultPolicy(),
		Renderer: letter.NewRenderer(),
		Logger:   logger,
	}
	return New(tools.Default(), env, 5*time.Second, logger)
}

func seedCustomers(t *testing.T, s store.Store) {
	t.Helper()
	require.NoError(t, store.SeedDemoCustomers(context.Background(), s, slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func invoke(t *testing.T, d *Dispatcher, tool, payload string) (map[string]any, error) {
	t.Helper()
	out, err := d.Invoke(context.Background(), "caller-1", tool, json.RawMessage(payload), nil)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	return m, nil
}

func dispatchErr(t *testing.T, err error) *Error {
	t.Helper()
	de, ok := err.(*Error)
	require.True(t, ok, "expected *dispatch.Error, got %T: %v", err, err)
	return de
}

func TestInvokeUnknownTool(t *testing.T) {
	d, s := newTestDispatcher(t)
	seedCustomers(t, s)

	_, err := invoke(t, d, "open_the_vault", `{"customer_id":"CUST001"}`)
	assert.Equal(t, KindUnknownTool, dispatchErr(t, err).Kind)
}

func TestInvokeUnknownCustomerIsNotFound(t *testing.T) {
	d, s := newTestDispatcher(t)
	seedCustomers(t, s)

	_, err := invoke(t, d, "get_customer_info", `{"customer_id":"CUST999"}`)
	de := dispatchErr(t, err)
	assert.Equal(t, KindNotFound, de.Kind, "unknown customer must not be invalid input")
}

func TestInvokeInvalidInputFieldPath(t *testing.T) {
	d, s := newTestDispatcher(t)
	seedCustomers(t, s)

	_, err := invoke(t, d, "underwrite_loan", `{"customer_id":"CUST001","requested_amount":450000}`)
	de := dispatchErr(t, err)
	assert.Equal(t, KindInvalidInput, de.Kind)
	assert.Equal(t, "tenure_months", de.Detail["field"])
}

func TestInvokeSanctionFromDraftIsInvalidState(t *testing.T) {
	d, s := newTestDispatcher(t)
	seedCustomers(t, s)
	ctx := context.Background()

	// Open a draft application via an upload
	_, err := d.Invoke(ctx, "caller-1", "upload_salary_slip",
		json.RawMessage(`{"customer_id":"CUST002"}`),
		&tools.Upload{Filename: "slip.pdf", ContentType: "application/pdf", Content: []byte("x")})
	require.NoError(t, err)

	_, err = invoke(t, d, "generate_sanction_letter", `{"customer_id":"CUST002"}`)
	de := dispatchErr(t, err)
	assert.Equal(t, KindInvalidState, de.Kind)
	assert.Equal(t, "documents_pending", de.Detail["actual_state"])
	assert.Contains(t, de.Detail["required_states"], "underwritten")
}

func TestInvokeSanctionWithoutApplication(t *testing.T) {
	d, s := newTestDispatcher(t)
	seedCustomers(t, s)

	_, err := invoke(t, d, "generate_sanction_letter", `{"customer_id":"CUST001"}`)
	assert.Equal(t, KindNotFound, dispatchErr(t, err).Kind)
}

func TestInvokeHappyPath(t *testing.T) {
	d, s := newTestDispatcher(t)
	seedCustomers(t, s)
	ctx := context.Background()

	// CUST001: 450000 over 36 months sits inside the pre-approved limit
	out, err := invoke(t, d, "underwrite_loan",
		`{"customer_id":"CUST001","requested_amount":450000,"tenure_months":36}`)
	require.NoError(t, err)
	assert.Equal(t, "approved", out["decision"])
	assert.EqualValues(t, 450000, out["approved_amount"])
	assert.Equal(t, "underwritten", out["state"])

	appID := out["application_id"].(string)
	app, err := s.GetApplication(ctx, appID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateUnderwritten, app.State)
	assert.NotEmpty(t, app.DecisionID)

	out, err = invoke(t, d, "generate_sanction_letter", `{"customer_id":"CUST001"}`)
	require.NoError(t, err)
	assert.Equal(t, "sanctioned", out["state"])
	letterID := out["letter_id"].(string)
	require.NotEmpty(t, letterID)
	assert.Contains(t, out["content_ref"], "/resource/")

	app, err = s.GetApplication(ctx, appID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateSanctioned, app.State)

	// Replay is idempotent: same letter id, still sanctioned
	replay, err := invoke(t, d, "generate_sanction_letter", `{"customer_id":"CUST001"}`)
	require.NoError(t, err)
	assert.Equal(t, letterID, replay["letter_id"])
}

func TestInvokeSanctionWithReducedTerms(t *testing.T) {
	d, s := newTestDispatcher(t)
	seedCustomers(t, s)

	out, err := invoke(t, d, "underwrite_loan",
		`{"customer_id":"CUST001","requested_amount":450000,"tenure_months":36}`)
	require.NoError(t, err)
	require.Equal(t, "approved", out["decision"])
	assert.EqualValues(t, 12.0, out["rate"])

	// Asking above the approved rate is rejected before anything is issued
	_, err = invoke(t, d, "generate_sanction_letter",
		`{"customer_id":"CUST001","amount":300000,"tenure_months":24,"interest_rate":13.5}`)
	de := dispatchErr(t, err)
	assert.Equal(t, KindInvalidInput, de.Kind)
	assert.Equal(t, "interest_rate", de.Detail["field"])

	// The letter may sanction less than what was approved on every axis
	out, err = invoke(t, d, "generate_sanction_letter",
		`{"customer_id":"CUST001","amount":300000,"tenure_months":24,"interest_rate":12.0}`)
	require.NoError(t, err)
	assert.Equal(t, "sanctioned", out["state"])
	assert.EqualValues(t, 300000, out["amount"])
	assert.EqualValues(t, 24, out["tenure_months"])
	assert.EqualValues(t, 12.0, out["rate"])
	assert.NotEmpty(t, out["content_ref"])
}

func TestInvokeSanctionOnDeclinedIsInvalidState(t *testing.T) {
	d, s := newTestDispatcher(t)
	seedCustomers(t, s)

	out, err := invoke(t, d, "underwrite_loan",
		`{"customer_id":"CUST010","requested_amount":50000,"tenure_months":12}`)
	require.NoError(t, err)
	require.Equal(t, "declined", out["decision"])

	// The declined application is found, then refused by the workflow gate
	_, err = invoke(t, d, "generate_sanction_letter", `{"customer_id":"CUST010"}`)
	de := dispatchErr(t, err)
	assert.Equal(t, KindInvalidState, de.Kind)
	assert.Equal(t, "declined", de.Detail["actual_state"])
}

func TestInvokeDeclineIsTerminalThenNewApplication(t *testing.T) {
	d, s := newTestDispatcher(t)
	seedCustomers(t, s)
	ctx := context.Background()

	// CUST010 has a 642 score, below the cutoff
	out, err := invoke(t, d, "underwrite_loan",
		`{"customer_id":"CUST010","requested_amount":50000,"tenure_months":12}`)
	require.NoError(t, err)
	assert.Equal(t, "declined", out["decision"])
	firstApp := out["application_id"].(string)

	app, err := s.GetApplication(ctx, firstApp)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateDeclined, app.State)

	// The declined application is terminal; the next call opens a fresh draft
	out, err = invoke(t, d, "underwrite_loan",
		`{"customer_id":"CUST010","requested_amount":50000,"tenure_months":12}`)
	require.NoError(t, err)
	assert.NotEqual(t, firstApp, out["application_id"])
}

func TestInvokeUploadThenAboveLimitUnderwrite(t *testing.T) {
	d, s := newTestDispatcher(t)
	seedCustomers(t, s)
	ctx := context.Background()

	// CUST005: limit 600000, income 150000. Above-limit request without
	// evidence declines.
	out, err := invoke(t, d, "underwrite_loan",
		`{"customer_id":"CUST005","requested_amount":800000,"tenure_months":48}`)
	require.NoError(t, err)
	assert.Equal(t, "declined", out["decision"])
	assert.Equal(t, "salary_evidence_required", out["reason"])

	// Fresh application with a slip on file gets underwritten on income
	_, err = d.Invoke(ctx, "caller-1", "upload_salary_slip",
		json.RawMessage(`{"customer_id":"CUST005"}`),
		&tools.Upload{Filename: "slip.pdf", ContentType: "application/pdf", Content: []byte("slip")})
	require.NoError(t, err)

	out, err = invoke(t, d, "underwrite_loan",
		`{"customer_id":"CUST005","requested_amount":800000,"tenure_months":48}`)
	require.NoError(t, err)
	assert.Equal(t, "approved", out["decision"])
}

func TestInvokeReadOnlyWithoutApplication(t *testing.T) {
	d, s := newTestDispatcher(t)
	seedCustomers(t, s)

	out, err := invoke(t, d, "get_customer_info", `{"customer_id":"CUST003"}`)
	require.NoError(t, err)
	assert.Equal(t, "Amit Verma", out["name"])
	assert.Nil(t, out["application"])

	out, err = invoke(t, d, "get_credit_score", `{"customer_id":"CUST003"}`)
	require.NoError(t, err)
	assert.EqualValues(t, 710, out["credit_score"])

	out, err = invoke(t, d, "verify_kyc", `{"customer_id":"CUST003","phone":"+91-9876500003"}`)
	require.NoError(t, err)
	assert.Equal(t, true, out["phone_verified"])
	assert.Equal(t, true, out["address_verified"])

	out, err = invoke(t, d, "verify_kyc", `{"customer_id":"CUST003","phone":"+91-0000000000"}`)
	require.NoError(t, err)
	assert.Equal(t, false, out["phone_verified"])
	assert.Equal(t, true, out["address_verified"])
}

func TestInvokeWritesAuditTrail(t *testing.T) {
	d, s := newTestDispatcher(t)
	seedCustomers(t, s)
	ctx := context.Background()

	_, err := invoke(t, d, "get_credit_score", `{"customer_id":"CUST001"}`)
	require.NoError(t, err)

	events, err := s.ListAuditEvents(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "get_credit_score", events[0].Tool)
	assert.Equal(t, "caller-1", events[0].CallerID)
	assert.Contains(t, string(events[0].Detail), "CUST001")
}

func TestConcurrentUnderwritesSerialize(t *testing.T) {
	d, s := newTestDispatcher(t)
	seedCustomers(t, s)
	ctx := context.Background()

	const callers = 5
	var wg sync.WaitGroup
	results := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := d.Invoke(ctx, "caller-1", "underwrite_loan",
				json.RawMessage(`{"customer_id":"CUST001","requested_amount":450000,"tenure_months":36}`), nil)
			results[i] = err
		}(i)
	}
	wg.Wait()

	var successes int
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		de := dispatchErr(t, err)
		assert.Contains(t, []Kind{KindConflict, KindInvalidState}, de.Kind)
	}
	assert.Equal(t, 1, successes, "exactly one call may land the decision")

	// However the race resolved, one application holding one decision
	app, err := s.GetActiveApplication(ctx, "CUST001")
	require.NoError(t, err)
	assert.Equal(t, workflow.StateUnderwritten, app.State)
	assert.NotEmpty(t, app.DecisionID)
}

// racingStore makes the first CreateApplication lose to a draft opened by a
// concurrent call, the way two first calls for a customer can interleave.
type racingStore struct {
	store.Store
	mu       sync.Mutex
	injected bool
	winnerID string
}

func (r *racingStore) CreateApplication(ctx context.Context, app *store.Application) error {
	r.mu.Lock()
	inject := !r.injected
	r.injected = true
	r.mu.Unlock()
	if !inject {
		return r.Store.CreateApplication(ctx, app)
	}

	winner := &store.Application{
		ID:         uuid.New().String(),
		CustomerID: app.CustomerID,
		State:      workflow.StateDraft,
	}
	if err := r.Store.CreateApplication(ctx, winner); err != nil {
		return err
	}
	r.mu.Lock()
	r.winnerID = winner.ID
	r.mu.Unlock()
	return store.ErrActiveApplicationExists
}

func TestInvokeJoinsDraftWhenCreationRaceLost(t *testing.T) {
	sqlite, err := store.NewSQLiteStore(t.TempDir() + "/dispatch.db")
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	rs := &racingStore{Store: sqlite}
	d := newDispatcherFor(t, rs)
	seedCustomers(t, rs)

	// Losing the creation race must not surface a conflict: the call joins
	// the draft the other caller opened.
	out, err := invoke(t, d, "underwrite_loan",
		`{"customer_id":"CUST001","requested_amount":450000,"tenure_months":36}`)
	require.NoError(t, err)
	assert.Equal(t, "approved", out["decision"])
	assert.Equal(t, rs.winnerID, out["application_id"])
}
