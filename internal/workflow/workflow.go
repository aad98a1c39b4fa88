// ABOUTME: Loan application workflow state machine and tool gating rules.
// ABOUTME: Defines states, the closed set of tool kinds, and legal transitions.

package workflow

import (
	"fmt"
	"strings"
)

// State is the lifecycle stage of a loan application.
type State string

const (
	StateDraft            State = "draft"
	StateDocumentsPending State = "documents_pending"
	StateUnderwritten     State = "underwritten"
	StateSanctioned       State = "sanctioned"
	StateDeclined         State = "declined"
)

// Terminal reports whether no further mutating tool may act on the application.
// Sanctioned still permits the idempotent sanction-letter replay.
func (s State) Terminal() bool {
	return s == StateSanctioned || s == StateDeclined
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateDraft, StateDocumentsPending, StateUnderwritten, StateSanctioned, StateDeclined:
		return true
	}
	return false
}

// ToolKind identifies a tool internally. The string tool name exists only at
// the HTTP boundary; dispatch and gating switch on this closed set so the
// compiler can check transition coverage.
type ToolKind int

const (
	KindCustomerInfo ToolKind = iota
	KindVerifyKYC
	KindCreditScore
	KindUnderwrite
	KindUploadDocument
	KindSanctionLetter
	KindLogEvent
)

// String returns the boundary tool name for the kind.
func (k ToolKind) String() string {
	switch k {
	case KindCustomerInfo:
		return "get_customer_info"
	case KindVerifyKYC:
		return "verify_kyc"
	case KindCreditScore:
		return "get_credit_score"
	case KindUnderwrite:
		return "underwrite_loan"
	case KindUploadDocument:
		return "upload_salary_slip"
	case KindSanctionLetter:
		return "generate_sanction_letter"
	case KindLogEvent:
		return "log_event"
	}
	return fmt.Sprintf("ToolKind(%d)", int(k))
}

// ReadOnly reports whether the kind never mutates application state and may
// run without the per-application lock.
func (k ToolKind) ReadOnly() bool {
	switch k {
	case KindCustomerInfo, KindVerifyKYC, KindCreditScore, KindLogEvent:
		return true
	}
	return false
}

// Outcome is the result a handler reports for transition purposes.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeApproved
	OutcomeDeclined
)

// InvalidStateError reports a tool invoked in a state where it is not legal.
// It names the allowed states so callers can tell a workflow violation apart
// from bad input.
type InvalidStateError struct {
	Tool     string
	Required []State
	Actual   State
}

func (e *InvalidStateError) Error() string {
	names := make([]string, len(e.Required))
	for i, s := range e.Required {
		names[i] = string(s)
	}
	return fmt.Sprintf("tool %s requires state %s, application is %s",
		e.Tool, strings.Join(names, " or "), e.Actual)
}

// allowed maps each mutating kind to the states it may run in.
// Read-only kinds are valid from any state and are absent from the table.
var allowed = map[ToolKind][]State{
	KindUploadDocument: {StateDraft, StateDocumentsPending},
	KindUnderwrite:     {StateDraft, StateDocumentsPending},
	KindSanctionLetter: {StateUnderwritten, StateSanctioned},
}

// AllowedStates returns the states in which kind may run, or nil for any.
func AllowedStates(kind ToolKind) []State {
	return allowed[kind]
}

// Check validates that kind may run against an application in state.
// Returns an *InvalidStateError naming required vs actual states otherwise.
func Check(kind ToolKind, state State) error {
	states, gated := allowed[kind]
	if !gated {
		return nil
	}
	for _, s := range states {
		if s == state {
			return nil
		}
	}
	return &InvalidStateError{Tool: kind.String(), Required: states, Actual: state}
}

// Next computes the post-state after a successful run of kind in from.
// Check must have passed for the same (kind, from) pair.
func Next(kind ToolKind, from State, outcome Outcome) State {
	switch kind {
	case KindUploadDocument:
		return StateDocumentsPending
	case KindUnderwrite:
		if outcome == OutcomeDeclined {
			return StateDeclined
		}
		return StateUnderwritten
	case KindSanctionLetter:
		return StateSanctioned
	case KindCustomerInfo, KindVerifyKYC, KindCreditScore, KindLogEvent:
		return from
	}
	return from
}
