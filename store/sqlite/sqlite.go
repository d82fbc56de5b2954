/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of the settlement engine using
  SQLite. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  approval.Store:           Requests, delegations, settings versions + ledgers + audit
  payroll.Store:            Payroll months and records + ledgers + audit
  directory.Directory:      Employee records (the server hosts its own directory)
  payroll.AttendanceSource: Hours worked per employee and month

OPTIMISTIC LOCKING:
  Every mutable row has a version column. Saves run
    UPDATE ... SET ..., version = version + 1 WHERE id = ? AND version = ?
  and report generic.ErrConcurrentModification when no row matched. A
  record with Version 0 is inserted; a primary-key clash is a conflict too.

APPEND-ONLY ENFORCEMENT:
  audit_log rejects UPDATE and DELETE through triggers.
  payroll_records rejects every write once its month left draft, so a
  finalized or locked month cannot change even through a bug in the
  service layer.

KEY TABLES:
  employees:          Directory records
  approval_requests:  Requests; payload and chain stored as JSON documents
  delegations:        Approver delegation windows
  approval_settings:  One row per settings version (JSON document)
  leave_balances:     Leave buckets per employee
  loans:              Installment schedules
  adjustments:        Allowances and custom deductions
  payroll_months:     Month lifecycle (draft/finalized/locked)
  payroll_records:    Per-employee settlement of a month
  attendance:         Hours worked (fed by the attendance collaborator)
  audit_log:          Append-only audit trail

CONCURRENCY:
  The pool is limited to one connection: SQLite has a single writer, and a
  transaction holding the connection serializes every other operation
  behind it. Callers must not touch the Store (only the Tx handed to them)
  inside a transaction.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better crash recovery.

USAGE:
  store, err := sqlite.New("./data/settlement.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := approval.NewEngine(store, store, logger)
  payroll := payroll.NewService(store, store, store, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - approval/store.go, ledger/store.go, payroll/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/approval"
	"github.com/warp/settlement-engine/directory"
	"github.com/warp/settlement-engine/factory"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/payroll"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	queries
	db *sql.DB
}

var (
	_ approval.Store           = (*Store)(nil)
	_ payroll.Store            = (*Store)(nil)
	_ directory.Directory      = (*Store)(nil)
	_ payroll.AttendanceSource = (*Store)(nil)
)

// dbtx is satisfied by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries holds every statement. Bound to the pool it serves plain reads
// and single writes; bound to a *sql.Tx it is the transactional view.
type queries struct {
	db       dbtx
	settings *factory.SettingsFactory
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{
		queries: queries{db: db, settings: factory.NewSettingsFactory()},
		db:      db,
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Directory
	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		manager_id TEXT NOT NULL DEFAULT '',
		base_salary TEXT NOT NULL DEFAULT '0',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_employees_manager
		ON employees(manager_id);

	-- Approval requests
	CREATE TABLE IF NOT EXISTS approval_requests (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		requester_id TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		chain_json TEXT NOT NULL,
		final_status TEXT NOT NULL,
		auto_approved BOOLEAN NOT NULL DEFAULT FALSE,
		cancelled_by TEXT,
		cancelled_at TEXT,
		override_status TEXT,
		override_reason TEXT,
		override_admin_id TEXT,
		override_at TEXT,
		effect TEXT NOT NULL DEFAULT 'none',
		escalated BOOLEAN NOT NULL DEFAULT FALSE,
		escalated_at TEXT,
		settings_version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_requests_requester
		ON approval_requests(requester_id);
	CREATE INDEX IF NOT EXISTS idx_requests_status
		ON approval_requests(final_status, escalated);

	-- Delegations
	CREATE TABLE IF NOT EXISTS delegations (
		id TEXT PRIMARY KEY,
		delegator_id TEXT NOT NULL,
		delegate_id TEXT NOT NULL,
		active_from TEXT NOT NULL,
		active_to TEXT NOT NULL,
		ended BOOLEAN NOT NULL DEFAULT FALSE,
		ended_at TEXT,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		CHECK (delegator_id <> delegate_id),
		CHECK (active_from <= active_to)
	);

	CREATE INDEX IF NOT EXISTS idx_delegations_delegator
		ON delegations(delegator_id, active_from);

	-- Approval settings (one row per version, never updated)
	CREATE TABLE IF NOT EXISTS approval_settings (
		version INTEGER PRIMARY KEY,
		document_json TEXT NOT NULL,
		updated_by TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	-- Ledgers
	CREATE TABLE IF NOT EXISTS leave_balances (
		employee_id TEXT PRIMARY KEY,
		annual TEXT NOT NULL DEFAULT '0',
		sick TEXT NOT NULL DEFAULT '0',
		emergency TEXT NOT NULL DEFAULT '0',
		unpaid_taken TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 1,
		CHECK (CAST(annual AS REAL) >= 0),
		CHECK (CAST(sick AS REAL) >= 0),
		CHECK (CAST(emergency AS REAL) >= 0)
	);

	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		request_id TEXT NOT NULL DEFAULT '',
		loan_amount TEXT NOT NULL,
		installment_amount TEXT NOT NULL,
		total_installments INTEGER NOT NULL,
		remaining_installments INTEGER NOT NULL,
		disbursed BOOLEAN NOT NULL DEFAULT FALSE,
		disbursed_at TEXT,
		start_month TEXT NOT NULL DEFAULT '',
		consumed_months_json TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		CHECK (remaining_installments >= 0 AND remaining_installments <= total_installments)
	);

	CREATE INDEX IF NOT EXISTS idx_loans_employee
		ON loans(employee_id, status);

	CREATE TABLE IF NOT EXISTS adjustments (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		category TEXT NOT NULL,
		amount TEXT NOT NULL,
		is_recurring BOOLEAN NOT NULL DEFAULT FALSE,
		start_month TEXT NOT NULL,
		end_month TEXT,
		status TEXT NOT NULL,
		source_request_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		stopped_at TEXT,
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_adjustments_employee
		ON adjustments(employee_id, kind, status);

	-- Payroll
	CREATE TABLE IF NOT EXISTS payroll_months (
		month TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		generated_at TEXT,
		generated_by TEXT NOT NULL DEFAULT '',
		finalized_at TEXT,
		finalized_by TEXT NOT NULL DEFAULT '',
		locked_at TEXT,
		locked_by TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS payroll_records (
		month TEXT NOT NULL,
		employee_id TEXT NOT NULL,
		base_salary TEXT NOT NULL,
		total_hours TEXT NOT NULL,
		total_allowances TEXT NOT NULL,
		custom_deductions TEXT NOT NULL,
		loan_installments TEXT NOT NULL,
		total_deductions TEXT NOT NULL,
		estimated_net TEXT NOT NULL,
		lines_json TEXT NOT NULL DEFAULT '[]',
		generated_at TEXT NOT NULL,
		PRIMARY KEY (month, employee_id)
	);

	-- CRITICAL: records of a finalized or locked month are frozen
	CREATE TRIGGER IF NOT EXISTS trg_payroll_records_insert_frozen
		BEFORE INSERT ON payroll_records
		WHEN EXISTS (SELECT 1 FROM payroll_months WHERE month = NEW.month AND status <> 'draft')
	BEGIN
		SELECT RAISE(ABORT, 'payroll month not editable');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_payroll_records_update_frozen
		BEFORE UPDATE ON payroll_records
		WHEN EXISTS (SELECT 1 FROM payroll_months WHERE month = OLD.month AND status <> 'draft')
	BEGIN
		SELECT RAISE(ABORT, 'payroll month not editable');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_payroll_records_delete_frozen
		BEFORE DELETE ON payroll_records
		WHEN EXISTS (SELECT 1 FROM payroll_months WHERE month = OLD.month AND status <> 'draft')
	BEGIN
		SELECT RAISE(ABORT, 'payroll month not editable');
	END;

	-- Attendance (collaborator feed)
	CREATE TABLE IF NOT EXISTS attendance (
		employee_id TEXT NOT NULL,
		month TEXT NOT NULL,
		hours TEXT NOT NULL,
		PRIMARY KEY (employee_id, month)
	);

	-- Audit trail (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		action TEXT NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		timestamp TEXT NOT NULL,
		before_state TEXT NOT NULL DEFAULT '',
		after_state TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		metadata_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_entity
		ON audit_log(entity_type, entity_id);
	CREATE INDEX IF NOT EXISTS idx_audit_actor
		ON audit_log(actor_id);

	CREATE TRIGGER IF NOT EXISTS trg_audit_log_no_update
		BEFORE UPDATE ON audit_log
	BEGIN
		SELECT RAISE(ABORT, 'audit log is append-only');
	END;

	CREATE TRIGGER IF NOT EXISTS trg_audit_log_no_delete
		BEFORE DELETE ON audit_log
	BEGIN
		SELECT RAISE(ABORT, 'audit log is append-only');
	END;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithApprovalTx implements approval.Store.
func (s *Store) WithApprovalTx(ctx context.Context, fn func(tx approval.Tx) error) error {
	return s.withTx(ctx, func(q *queries) error { return fn(q) })
}

// WithPayrollTx implements payroll.Store.
func (s *Store) WithPayrollTx(ctx context.Context, fn func(tx payroll.Tx) error) error {
	return s.withTx(ctx, func(q *queries) error { return fn(q) })
}

func (s *Store) withTx(ctx context.Context, fn func(q *queries) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{db: sqlTx, settings: s.settings}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// EMPLOYEE DIRECTORY (directory.Directory interface)
// =============================================================================

// PutEmployee inserts or replaces an employee.
func (s *Store) PutEmployee(ctx context.Context, emp directory.Employee) error {
	if emp.ID == "" {
		return fmt.Errorf("%w: employee id is required", generic.ErrInvalidInput)
	}
	query := `
		INSERT INTO employees (id, name, email, manager_id, base_salary, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			manager_id = excluded.manager_id,
			base_salary = excluded.base_salary,
			active = excluded.active
	`
	_, err := s.db.ExecContext(ctx, query,
		emp.ID, emp.Name, emp.Email, emp.ManagerID,
		emp.BaseSalary.String(), emp.Active,
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save employee: %w", err)
	}
	return nil
}

// GetEmployee retrieves an employee by ID.
func (s *Store) GetEmployee(ctx context.Context, id string) (*directory.Employee, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, manager_id, base_salary, active FROM employees WHERE id = ?", id)

	var (
		emp    directory.Employee
		salary string
	)
	err := row.Scan(&emp.ID, &emp.Name, &emp.Email, &emp.ManagerID, &salary, &emp.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NewNotFound("employee", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}
	emp.BaseSalary = generic.MustParseDecimal(salary)
	return &emp, nil
}

// ListEmployees returns all employees ordered by id.
func (s *Store) ListEmployees(ctx context.Context) ([]directory.Employee, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, email, manager_id, base_salary, active FROM employees ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	defer rows.Close()

	var employees []directory.Employee
	for rows.Next() {
		var (
			emp    directory.Employee
			salary string
		)
		if err := rows.Scan(&emp.ID, &emp.Name, &emp.Email, &emp.ManagerID, &salary, &emp.Active); err != nil {
			return nil, err
		}
		emp.BaseSalary = generic.MustParseDecimal(salary)
		employees = append(employees, emp)
	}
	return employees, rows.Err()
}

// =============================================================================
// ATTENDANCE (payroll.AttendanceSource interface)
// =============================================================================

// SetHours records the hours worked by an employee in a month.
func (s *Store) SetHours(ctx context.Context, employeeID string, month generic.MonthKey, hours decimal.Decimal) error {
	if hours.IsNegative() {
		return fmt.Errorf("%w: hours must not be negative", generic.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance (employee_id, month, hours) VALUES (?, ?, ?)
		ON CONFLICT(employee_id, month) DO UPDATE SET hours = excluded.hours
	`, employeeID, string(month), hours.String())
	return err
}

// HoursWorked returns zero for months without attendance data.
func (s *Store) HoursWorked(ctx context.Context, employeeID string, month generic.MonthKey) (decimal.Decimal, error) {
	var hours string
	err := s.db.QueryRowContext(ctx,
		"SELECT hours FROM attendance WHERE employee_id = ? AND month = ?",
		employeeID, string(month),
	).Scan(&hours)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read attendance: %w", err)
	}
	return generic.MustParseDecimal(hours), nil
}

// =============================================================================
// OPTIMISTIC LOCKING HELPERS
// =============================================================================

// save inserts when version is 0 and updates guarded by version otherwise.
// update ends with "WHERE <key> = ? AND version = ?"; id and version are
// bound after args. The caller bumps its in-memory Version after a nil return.
func (q *queries) save(ctx context.Context, entity, id string, version int, insert, update string, args ...any) error {
	if version == 0 {
		if _, err := q.db.ExecContext(ctx, insert, args...); err != nil {
			if isUniqueConstraintError(err) {
				return conflict(entity, id, version)
			}
			return fmt.Errorf("failed to insert %s %s: %w", entity, id, err)
		}
		return nil
	}

	updateArgs := append(append(make([]any, 0, len(args)+2), args...), id, version)
	res, err := q.db.ExecContext(ctx, update, updateArgs...)
	if err != nil {
		return fmt.Errorf("failed to update %s %s: %w", entity, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return conflict(entity, id, version)
	}
	return nil
}

func conflict(entity, id string, expected int) error {
	return generic.NewStateError(generic.ErrConcurrentModification, "save", entity, id, "stale").
		WithDetail("expected version %d", expected)
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed"))
}

func isFrozenMonthError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "payroll month not editable")
}
