// ABOUTME: Store interface and data types for loan-gateway persistence.
// ABOUTME: Defines customers, applications, decisions, documents, and letters.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/finwell/loan-gateway/internal/workflow"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrActiveApplicationExists is returned when creating an application for a
// customer that already has a non-terminal one.
var ErrActiveApplicationExists = errors.New("customer already has an active application")

// ErrDuplicateCustomer is returned when creating a customer whose ID exists.
var ErrDuplicateCustomer = errors.New("customer already exists")

// ErrDuplicateLetter is returned when a decision already has a sanction letter.
var ErrDuplicateLetter = errors.New("sanction letter already exists for decision")

// Customer holds identity and the financial profile underwriting evaluates.
type Customer struct {
	ID               string
	Name             string
	Age              int
	City             string
	Phone            string
	Email            string
	MonthlyIncome    int64
	ExistingEMI      int64
	CreditScore      int
	PreApprovedLimit int64
	CreatedAt        time.Time
}

// Application is a loan application. At most one non-terminal application
// exists per customer; DecisionID points at the latest (authoritative)
// underwriting decision, empty until one is produced.
type Application struct {
	ID              string
	CustomerID      string
	RequestedAmount int64
	RequestedTenure int
	State           workflow.State
	DecisionID      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Decision is a persisted underwriting decision. Decisions are append-only:
// a re-run writes a new row and repoints the application.
type Decision struct {
	ID             string
	ApplicationID  string
	Outcome        string
	ApprovedAmount int64
	ApprovedTenure int
	AnnualRate     float64
	EMI            float64
	Reason         string
	Reasoning      json.RawMessage
	CreatedAt      time.Time
}

// DocumentKindSalarySlip is the only upload kind the gateway accepts today.
const DocumentKindSalarySlip = "salary_slip"

// DocumentKindSanctionLetter marks rendered sanction letter artifacts.
const DocumentKindSanctionLetter = "sanction_letter"

// Document is uploaded or generated content attached to an application.
// The raw bytes live on disk at ContentPath; the row is the metadata.
type Document struct {
	ID            string
	ApplicationID string
	Kind          string
	Filename      string
	ContentType   string
	ContentPath   string
	SHA256        string
	Size          int64
	CreatedAt     time.Time
}

// Letter is a sanction letter generated for an approved decision, at most
// one per decision. DocumentID references the rendered artifact.
type Letter struct {
	ID            string
	ApplicationID string
	DecisionID    string
	Amount        int64
	TenureMonths  int
	AnnualRate    float64
	DocumentID    string
	CreatedAt     time.Time
}

// AuditEvent is an audit-log row written by the log_event tool and by
// dispatch for every mutating call.
type AuditEvent struct {
	ID        string
	CallerID  string
	Tool      string
	Detail    json.RawMessage
	CreatedAt time.Time
}

// Store defines persistence for the loan workflow. Mutations that change an
// application's workflow state commit the staged entity and the transition in
// a single transaction, so a failed handler never leaves a partial state.
type Store interface {
	// Customers
	CreateCustomer(ctx context.Context, c *Customer) error
	GetCustomer(ctx context.Context, id string) (*Customer, error)
	ListCustomers(ctx context.Context) ([]*Customer, error)

	// Applications
	CreateApplication(ctx context.Context, app *Application) error
	GetApplication(ctx context.Context, id string) (*Application, error)
	GetActiveApplication(ctx context.Context, customerID string) (*Application, error)
	GetLatestApplication(ctx context.Context, customerID string) (*Application, error)

	// Transition commits (all-or-nothing with the state change)
	CommitDecision(ctx context.Context, app *Application, d *Decision, next workflow.State) error
	CommitDocument(ctx context.Context, app *Application, doc *Document, next workflow.State) error
	CommitLetter(ctx context.Context, app *Application, letter *Letter, doc *Document, next workflow.State) error

	// Reads
	GetDecision(ctx context.Context, id string) (*Decision, error)
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context, applicationID string) ([]*Document, error)
	GetLetterByDecision(ctx context.Context, decisionID string) (*Letter, error)

	// Audit
	SaveAuditEvent(ctx context.Context, ev *AuditEvent) error
	ListAuditEvents(ctx context.Context, limit int) ([]*AuditEvent, error)

	// Close releases any resources held by the store
	Close() error
}
