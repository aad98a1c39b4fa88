// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides loan workflow persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/finwell/loan-gateway/internal/workflow"
)

// busyRetries bounds the retry loop for transient SQLITE_BUSY failures.
const busyRetries = 3

// busyBackoff is the base delay between busy retries.
const busyBackoff = 25 * time.Millisecond

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS customers (
			id                 TEXT PRIMARY KEY,
			name               TEXT NOT NULL,
			age                INTEGER NOT NULL DEFAULT 0,
			city               TEXT NOT NULL DEFAULT '',
			phone              TEXT NOT NULL DEFAULT '',
			email              TEXT NOT NULL DEFAULT '',
			monthly_income     INTEGER NOT NULL,
			existing_emi       INTEGER NOT NULL DEFAULT 0,
			credit_score       INTEGER NOT NULL,
			pre_approved_limit INTEGER NOT NULL,
			created_at         TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS applications (
			id               TEXT PRIMARY KEY,
			customer_id      TEXT NOT NULL REFERENCES customers(id),
			requested_amount INTEGER NOT NULL DEFAULT 0,
			requested_tenure INTEGER NOT NULL DEFAULT 0,
			state            TEXT NOT NULL,
			decision_id      TEXT,
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL,

			CHECK (state IN ('draft', 'documents_pending', 'underwritten', 'sanctioned', 'declined'))
		);

		-- At most one non-terminal application per customer.
		CREATE UNIQUE INDEX IF NOT EXISTS idx_applications_active
			ON applications(customer_id)
			WHERE state NOT IN ('sanctioned', 'declined');

		CREATE INDEX IF NOT EXISTS idx_applications_customer ON applications(customer_id);

		CREATE TABLE IF NOT EXISTS decisions (
			id              TEXT PRIMARY KEY,
			application_id  TEXT NOT NULL REFERENCES applications(id),
			outcome         TEXT NOT NULL,
			approved_amount INTEGER NOT NULL DEFAULT 0,
			approved_tenure INTEGER NOT NULL DEFAULT 0,
			annual_rate     REAL NOT NULL DEFAULT 0,
			emi             REAL NOT NULL DEFAULT 0,
			reason          TEXT NOT NULL DEFAULT '',
			reasoning_json  TEXT,
			created_at      TEXT NOT NULL,

			CHECK (outcome IN ('approved', 'declined'))
		);

		CREATE INDEX IF NOT EXISTS idx_decisions_application ON decisions(application_id);

		CREATE TABLE IF NOT EXISTS documents (
			id             TEXT PRIMARY KEY,
			application_id TEXT NOT NULL REFERENCES applications(id),
			kind           TEXT NOT NULL,
			filename       TEXT NOT NULL,
			content_type   TEXT NOT NULL DEFAULT '',
			content_path   TEXT NOT NULL,
			sha256         TEXT NOT NULL DEFAULT '',
			size           INTEGER NOT NULL DEFAULT 0,
			created_at     TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_documents_application ON documents(application_id);

		CREATE TABLE IF NOT EXISTS letters (
			id             TEXT PRIMARY KEY,
			application_id TEXT NOT NULL REFERENCES applications(id),
			decision_id    TEXT NOT NULL UNIQUE REFERENCES decisions(id),
			amount         INTEGER NOT NULL,
			tenure_months  INTEGER NOT NULL,
			annual_rate    REAL NOT NULL,
			document_id    TEXT NOT NULL REFERENCES documents(id),
			created_at     TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS audit_events (
			id          TEXT PRIMARY KEY,
			caller_id   TEXT NOT NULL,
			tool        TEXT NOT NULL,
			detail_json TEXT,
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_audit_events_created ON audit_events(created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// isBusy checks for transient lock contention errors worth retrying.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "SQLITE_BUSY")
}

// withRetry runs fn, retrying a bounded number of times on transient busy
// errors with backoff. Context cancellation aborts between attempts.
func (s *SQLiteStore) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= busyRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(busyBackoff * time.Duration(attempt)):
			}
			s.logger.Debug("retrying after busy database", "attempt", attempt)
		}
		err = fn()
		if !isBusy(err) {
			return err
		}
	}
	return err
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// CreateCustomer inserts a customer record.
// Returns ErrDuplicateCustomer if the ID is already taken.
func (s *SQLiteStore) CreateCustomer(ctx context.Context, c *Customer) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO customers (id, name, age, city, phone, email, monthly_income,
			existing_emi, credit_score, pre_approved_limit, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query,
			c.ID, c.Name, c.Age, c.City, c.Phone, c.Email,
			c.MonthlyIncome, c.ExistingEMI, c.CreditScore, c.PreApprovedLimit,
			fmtTime(c.CreatedAt),
		)
		return err
	})
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateCustomer
		}
		return fmt.Errorf("inserting customer: %w", err)
	}

	s.logger.Debug("created customer", "id", c.ID)
	return nil
}

// GetCustomer retrieves a customer by ID.
// Returns ErrNotFound if the customer doesn't exist.
func (s *SQLiteStore) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	query := `
		SELECT id, name, age, city, phone, email, monthly_income,
			existing_emi, credit_score, pre_approved_limit, created_at
		FROM customers
		WHERE id = ?
	`

	var c Customer
	var createdAt string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.Age, &c.City, &c.Phone, &c.Email,
		&c.MonthlyIncome, &c.ExistingEMI, &c.CreditScore, &c.PreApprovedLimit,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying customer: %w", err)
	}

	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &c, nil
}

// ListCustomers returns all customers ordered by ID.
func (s *SQLiteStore) ListCustomers(ctx context.Context) ([]*Customer, error) {
	query := `
		SELECT id, name, age, city, phone, email, monthly_income,
			existing_emi, credit_score, pre_approved_limit, created_at
		FROM customers
		ORDER BY id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying customers: %w", err)
	}
	defer rows.Close()

	var customers []*Customer
	for rows.Next() {
		var c Customer
		var createdAt string
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Age, &c.City, &c.Phone, &c.Email,
			&c.MonthlyIncome, &c.ExistingEMI, &c.CreditScore, &c.PreApprovedLimit,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning customer: %w", err)
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		customers = append(customers, &c)
	}
	return customers, rows.Err()
}

// CreateApplication inserts a new application.
// Returns ErrActiveApplicationExists if the customer already has a
// non-terminal application (enforced by the partial unique index).
func (s *SQLiteStore) CreateApplication(ctx context.Context, app *Application) error {
	now := time.Now()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}
	if app.UpdatedAt.IsZero() {
		app.UpdatedAt = now
	}

	query := `
		INSERT INTO applications (id, customer_id, requested_amount, requested_tenure,
			state, decision_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query,
			app.ID, app.CustomerID, app.RequestedAmount, app.RequestedTenure,
			string(app.State), nullable(app.DecisionID),
			fmtTime(app.CreatedAt), fmtTime(app.UpdatedAt),
		)
		return err
	})
	if err != nil {
		if isConstraintViolation(err) {
			return ErrActiveApplicationExists
		}
		return fmt.Errorf("inserting application: %w", err)
	}

	s.logger.Debug("created application", "id", app.ID, "customer_id", app.CustomerID)
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanApplication(row interface{ Scan(...any) error }) (*Application, error) {
	var app Application
	var state, createdAt, updatedAt string
	var decisionID sql.NullString

	err := row.Scan(
		&app.ID, &app.CustomerID, &app.RequestedAmount, &app.RequestedTenure,
		&state, &decisionID, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning application: %w", err)
	}

	app.State = workflow.State(state)
	app.DecisionID = decisionID.String
	if app.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if app.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &app, nil
}

const applicationColumns = `id, customer_id, requested_amount, requested_tenure,
	state, decision_id, created_at, updated_at`

// GetApplication retrieves an application by ID.
func (s *SQLiteStore) GetApplication(ctx context.Context, id string) (*Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE id = ?`
	return scanApplication(s.db.QueryRowContext(ctx, query, id))
}

// GetActiveApplication retrieves the customer's single non-terminal
// application. Returns ErrNotFound if every application is terminal or none
// exist.
func (s *SQLiteStore) GetActiveApplication(ctx context.Context, customerID string) (*Application, error) {
	query := `
		SELECT ` + applicationColumns + `
		FROM applications
		WHERE customer_id = ? AND state NOT IN ('sanctioned', 'declined')
	`
	return scanApplication(s.db.QueryRowContext(ctx, query, customerID))
}

// GetLatestApplication retrieves the customer's most recent application
// regardless of state. Returns ErrNotFound when the customer has none.
func (s *SQLiteStore) GetLatestApplication(ctx context.Context, customerID string) (*Application, error) {
	query := `
		SELECT ` + applicationColumns + `
		FROM applications
		WHERE customer_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	return scanApplication(s.db.QueryRowContext(ctx, query, customerID))
}

// updateApplicationTx writes the application's state, decision pointer, and
// requested terms inside an open transaction.
func updateApplicationTx(ctx context.Context, tx *sql.Tx, app *Application) error {
	query := `
		UPDATE applications
		SET requested_amount = ?, requested_tenure = ?, state = ?, decision_id = ?, updated_at = ?
		WHERE id = ?
	`
	res, err := tx.ExecContext(ctx, query,
		app.RequestedAmount, app.RequestedTenure, string(app.State),
		nullable(app.DecisionID), fmtTime(app.UpdatedAt), app.ID,
	)
	if err != nil {
		return fmt.Errorf("updating application: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CommitDecision writes the decision row and the application's transition to
// next in one transaction. On success app reflects the committed state.
func (s *SQLiteStore) CommitDecision(ctx context.Context, app *Application, d *Decision, next workflow.State) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer tx.Rollback()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO decisions (id, application_id, outcome, approved_amount,
				approved_tenure, annual_rate, emi, reason, reasoning_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			d.ID, d.ApplicationID, d.Outcome, d.ApprovedAmount,
			d.ApprovedTenure, d.AnnualRate, d.EMI, d.Reason,
			string(d.Reasoning), fmtTime(d.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting decision: %w", err)
		}

		staged := *app
		staged.State = next
		staged.DecisionID = d.ID
		staged.UpdatedAt = time.Now()
		if err := updateApplicationTx(ctx, tx, &staged); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing transaction: %w", err)
		}
		*app = staged
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("committed decision",
		"application_id", app.ID,
		"decision_id", d.ID,
		"outcome", d.Outcome,
		"state", app.State,
	)
	return nil
}

func insertDocumentTx(ctx context.Context, tx *sql.Tx, doc *Document) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, application_id, kind, filename, content_type,
			content_path, sha256, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		doc.ID, doc.ApplicationID, doc.Kind, doc.Filename, doc.ContentType,
		doc.ContentPath, doc.SHA256, doc.Size, fmtTime(doc.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting document: %w", err)
	}
	return nil
}

// CommitDocument writes the document row and the application's transition to
// next in one transaction.
func (s *SQLiteStore) CommitDocument(ctx context.Context, app *Application, doc *Document, next workflow.State) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}

	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer tx.Rollback()

		if err := insertDocumentTx(ctx, tx, doc); err != nil {
			return err
		}

		staged := *app
		staged.State = next
		staged.UpdatedAt = time.Now()
		if err := updateApplicationTx(ctx, tx, &staged); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing transaction: %w", err)
		}
		*app = staged
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("committed document",
		"application_id", app.ID,
		"document_id", doc.ID,
		"kind", doc.Kind,
	)
	return nil
}

// CommitLetter writes the letter row, its rendered document, and the
// application's transition to next in one transaction.
// Returns ErrDuplicateLetter if the decision already has a letter.
func (s *SQLiteStore) CommitLetter(ctx context.Context, app *Application, letter *Letter, doc *Document, next workflow.State) error {
	now := time.Now()
	if letter.CreatedAt.IsZero() {
		letter.CreatedAt = now
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}

	err := s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("beginning transaction: %w", err)
		}
		defer tx.Rollback()

		if err := insertDocumentTx(ctx, tx, doc); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO letters (id, application_id, decision_id, amount,
				tenure_months, annual_rate, document_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			letter.ID, letter.ApplicationID, letter.DecisionID, letter.Amount,
			letter.TenureMonths, letter.AnnualRate, letter.DocumentID,
			fmtTime(letter.CreatedAt),
		)
		if err != nil {
			if isConstraintViolation(err) {
				return ErrDuplicateLetter
			}
			return fmt.Errorf("inserting letter: %w", err)
		}

		staged := *app
		staged.State = next
		staged.UpdatedAt = time.Now()
		if err := updateApplicationTx(ctx, tx, &staged); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing transaction: %w", err)
		}
		*app = staged
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("committed sanction letter",
		"application_id", app.ID,
		"letter_id", letter.ID,
		"decision_id", letter.DecisionID,
	)
	return nil
}

// GetDecision retrieves a decision by ID.
func (s *SQLiteStore) GetDecision(ctx context.Context, id string) (*Decision, error) {
	query := `
		SELECT id, application_id, outcome, approved_amount, approved_tenure,
			annual_rate, emi, reason, reasoning_json, created_at
		FROM decisions
		WHERE id = ?
	`

	var d Decision
	var reasoning sql.NullString
	var createdAt string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&d.ID, &d.ApplicationID, &d.Outcome, &d.ApprovedAmount, &d.ApprovedTenure,
		&d.AnnualRate, &d.EMI, &d.Reason, &reasoning, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying decision: %w", err)
	}

	if reasoning.Valid {
		d.Reasoning = []byte(reasoning.String)
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &d, nil
}

// GetDocument retrieves a document's metadata by ID.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	query := `
		SELECT id, application_id, kind, filename, content_type, content_path,
			sha256, size, created_at
		FROM documents
		WHERE id = ?
	`

	var doc Document
	var createdAt string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID, &doc.ApplicationID, &doc.Kind, &doc.Filename, &doc.ContentType,
		&doc.ContentPath, &doc.SHA256, &doc.Size, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying document: %w", err)
	}

	if doc.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &doc, nil
}

// ListDocuments returns the documents attached to an application, oldest first.
func (s *SQLiteStore) ListDocuments(ctx context.Context, applicationID string) ([]*Document, error) {
	query := `
		SELECT id, application_id, kind, filename, content_type, content_path,
			sha256, size, created_at
		FROM documents
		WHERE application_id = ?
		ORDER BY created_at
	`

	rows, err := s.db.QueryContext(ctx, query, applicationID)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var doc Document
		var createdAt string
		if err := rows.Scan(
			&doc.ID, &doc.ApplicationID, &doc.Kind, &doc.Filename, &doc.ContentType,
			&doc.ContentPath, &doc.SHA256, &doc.Size, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		if doc.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// GetLetterByDecision retrieves the sanction letter for a decision, if any.
func (s *SQLiteStore) GetLetterByDecision(ctx context.Context, decisionID string) (*Letter, error) {
	query := `
		SELECT id, application_id, decision_id, amount, tenure_months,
			annual_rate, document_id, created_at
		FROM letters
		WHERE decision_id = ?
	`

	var l Letter
	var createdAt string
	err := s.db.QueryRowContext(ctx, query, decisionID).Scan(
		&l.ID, &l.ApplicationID, &l.DecisionID, &l.Amount, &l.TenureMonths,
		&l.AnnualRate, &l.DocumentID, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying letter: %w", err)
	}

	if l.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &l, nil
}

// SaveAuditEvent appends an audit event.
func (s *SQLiteStore) SaveAuditEvent(ctx context.Context, ev *AuditEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO audit_events (id, caller_id, tool, detail_json, created_at)
			VALUES (?, ?, ?, ?, ?)
		`,
			ev.ID, ev.CallerID, ev.Tool, string(ev.Detail), fmtTime(ev.CreatedAt),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns the most recent audit events, newest first.
func (s *SQLiteStore) ListAuditEvents(ctx context.Context, limit int) ([]*AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, caller_id, tool, detail_json, created_at
		FROM audit_events
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		var ev AuditEvent
		var detail sql.NullString
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.CallerID, &ev.Tool, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		if detail.Valid {
			ev.Detail = []byte(detail.String)
		}
		if ev.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
