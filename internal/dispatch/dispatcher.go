// ABOUTME: The generic tool invocation path: resolve, validate, gate, run, commit
// ABOUTME: Handler side effects commit atomically with the workflow transition

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/finwell/loan-gateway/internal/store"
	"github.com/finwell/loan-gateway/internal/tools"
	"github.com/finwell/loan-gateway/internal/workflow"
)

// DefaultTimeout bounds a single handler run when config does not override it.
const DefaultTimeout = 10 * time.Second

// Dispatcher routes tool calls through validation, workflow gating, and the
// per-application lock before running the handler.
type Dispatcher struct {
	registry *tools.Registry
	env      *tools.Env
	locks    *keyedLocks
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a dispatcher. A non-positive timeout falls back to
// DefaultTimeout.
func New(registry *tools.Registry, env *tools.Env, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		registry: registry,
		env:      env,
		locks:    newKeyedLocks(),
		timeout:  timeout,
		logger:   logger.With("component", "dispatch"),
	}
}

// Invoke runs one tool call for an authenticated caller. On success the
// tool's result JSON is returned; every failure is an *Error.
func (d *Dispatcher) Invoke(ctx context.Context, callerID, toolName string, payload json.RawMessage, upload *tools.Upload) (json.RawMessage, error) {
	desc, err := d.registry.Resolve(toolName)
	if err != nil {
		return nil, Errf(KindUnknownTool, "no tool named %q", toolName)
	}

	if err := desc.InputSchema.Validate(payload); err != nil {
		var fe *tools.FieldError
		if errors.As(err, &fe) {
			return nil, &Error{
				Kind:    KindInvalidInput,
				Message: fe.Error(),
				Detail:  map[string]any{"field": fe.Path},
			}
		}
		return nil, Errf(KindInvalidInput, "%v", err)
	}

	var target struct {
		CustomerID string `json:"customer_id"`
	}
	if err := json.Unmarshal(payload, &target); err != nil || target.CustomerID == "" {
		return nil, &Error{
			Kind:    KindInvalidInput,
			Message: "customer_id is required",
			Detail:  map[string]any{"field": "customer_id"},
		}
	}

	customer, err := d.env.Store.GetCustomer(ctx, target.CustomerID)
	if errors.Is(err, store.ErrNotFound) {
		// An unknown customer is an entity failure, never an input failure
		return nil, Errf(KindNotFound, "no customer %s", target.CustomerID)
	}
	if err != nil {
		return nil, d.internal("loading customer", err)
	}

	app, err := d.resolveApplication(ctx, desc, customer)
	if err != nil {
		return nil, err
	}

	if app != nil {
		if err := workflow.Check(desc.Kind, app.State); err != nil {
			return nil, invalidState(err)
		}
	}

	if !desc.ReadOnly() {
		if !d.locks.acquire(ctx, app.ID) {
			return nil, Errf(KindConflict, "application %s has another call in flight", app.ID)
		}
		defer d.locks.release(app.ID)

		// Another call may have transitioned the application while this one
		// waited for the lock; re-read and re-check under the lock.
		app, err = d.env.Store.GetApplication(ctx, app.ID)
		if err != nil {
			return nil, d.internal("reloading application", err)
		}
		if err := workflow.Check(desc.Kind, app.State); err != nil {
			return nil, invalidState(err)
		}
	}

	hctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	started := time.Now()
	res, err := desc.Handler(hctx, d.env, &tools.Invocation{
		CallerID: callerID,
		Customer: customer,
		App:      app,
		Input:    payload,
		Upload:   upload,
	})
	if err != nil {
		return nil, d.classify(toolName, err)
	}

	if err := d.commit(ctx, desc.Kind, app, res); err != nil {
		return nil, err
	}

	d.audit(ctx, callerID, toolName, customer.ID, app)
	d.logger.Info("tool call completed",
		"tool", toolName,
		"caller_id", callerID,
		"customer_id", customer.ID,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return res.Output, nil
}

// createAttempts bounds the draft-creation race loop: losing the race means
// another call just created the application, so the next read should find it.
const createAttempts = 3

// resolveApplication finds the application a tool call operates on. The
// active application wins; tools that cannot open one fall back to the
// customer's most recent application so terminal-state calls reach the
// workflow gate instead of failing lookup. Read-only tools run without one.
func (d *Dispatcher) resolveApplication(ctx context.Context, desc *tools.Descriptor, customer *store.Customer) (*store.Application, error) {
	app, err := d.env.Store.GetActiveApplication(ctx, customer.ID)
	if err == nil {
		return app, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, d.internal("loading active application", err)
	}

	if desc.ReadOnly() {
		return nil, nil
	}
	if !desc.CreatesApplication {
		app, err = d.env.Store.GetLatestApplication(ctx, customer.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, Errf(KindNotFound, "customer %s has no application", customer.ID)
		}
		if err != nil {
			return nil, d.internal("loading latest application", err)
		}
		return app, nil
	}

	for attempt := 0; ; attempt++ {
		app = &store.Application{
			ID:         uuid.New().String(),
			CustomerID: customer.ID,
			State:      workflow.StateDraft,
		}
		err = d.env.Store.CreateApplication(ctx, app)
		if err == nil {
			d.logger.Info("opened draft application", "application_id", app.ID, "customer_id", customer.ID)
			return app, nil
		}
		if !errors.Is(err, store.ErrActiveApplicationExists) {
			return nil, d.internal("creating application", err)
		}

		// Lost a race with a concurrent first call for this customer; the
		// winner's draft is the application this call should join.
		app, err = d.env.Store.GetActiveApplication(ctx, customer.ID)
		if err == nil {
			return app, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, d.internal("loading active application", err)
		}
		if attempt+1 >= createAttempts {
			return nil, Errf(KindConflict, "application already being opened for %s", customer.ID)
		}
	}
}

// commit persists the handler's staged entity together with the workflow
// transition. A result with nothing staged commits nothing.
func (d *Dispatcher) commit(ctx context.Context, kind workflow.ToolKind, app *store.Application, res *tools.Result) error {
	switch {
	case res.Decision != nil:
		next := workflow.Next(kind, app.State, res.Outcome)
		if err := d.env.Store.CommitDecision(ctx, app, res.Decision, next); err != nil {
			return d.internal("committing decision", err)
		}
	case res.Letter != nil:
		next := workflow.Next(kind, app.State, res.Outcome)
		if err := d.env.Store.CommitLetter(ctx, app, res.Letter, res.Document, next); err != nil {
			if errors.Is(err, store.ErrDuplicateLetter) {
				return Errf(KindConflict, "letter already issued for decision %s", res.Letter.DecisionID)
			}
			return d.internal("committing letter", err)
		}
	case res.Document != nil:
		next := workflow.Next(kind, app.State, res.Outcome)
		if err := d.env.Store.CommitDocument(ctx, app, res.Document, next); err != nil {
			return d.internal("committing document", err)
		}
	}
	return nil
}

// classify maps a handler error to a dispatch error kind.
func (d *Dispatcher) classify(toolName string, err error) error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	var fe *tools.FieldError
	if errors.As(err, &fe) {
		return &Error{
			Kind:    KindInvalidInput,
			Message: fe.Error(),
			Detail:  map[string]any{"field": fe.Path},
		}
	}
	var se *workflow.InvalidStateError
	if errors.As(err, &se) {
		return invalidState(se)
	}
	if errors.Is(err, store.ErrNotFound) {
		return Errf(KindNotFound, "%v", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Errf(KindTimeout, "tool %s timed out", toolName)
	}
	return d.internal("tool "+toolName, err)
}

func invalidState(err error) *Error {
	var se *workflow.InvalidStateError
	if !errors.As(err, &se) {
		return Errf(KindInvalidState, "%v", err)
	}
	required := make([]string, len(se.Required))
	for i, s := range se.Required {
		required[i] = string(s)
	}
	return &Error{
		Kind:    KindInvalidState,
		Message: se.Error(),
		Detail: map[string]any{
			"required_states": required,
			"actual_state":    string(se.Actual),
		},
	}
}

func (d *Dispatcher) internal(op string, err error) *Error {
	d.logger.Error(op+" failed", "error", err)
	return Errf(KindInternal, "%s: %v", op, err)
}

// audit records the completed call, best effort.
func (d *Dispatcher) audit(ctx context.Context, callerID, toolName, customerID string, app *store.Application) {
	detail := map[string]any{"customer_id": customerID}
	if app != nil {
		detail["application_id"] = app.ID
		detail["state"] = string(app.State)
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return
	}
	ev := &store.AuditEvent{
		ID:       uuid.New().String(),
		CallerID: callerID,
		Tool:     toolName,
		Detail:   raw,
	}
	if err := d.env.Store.SaveAuditEvent(ctx, ev); err != nil {
		d.logger.Warn("audit write failed", "tool", toolName, "error", err)
	}
}
