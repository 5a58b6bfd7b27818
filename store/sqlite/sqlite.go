/*
Package sqlite provides a SQLite-backed implementation of the payroll stores.

PURPOSE:
  Implements every persistence interface the engine consumes on one SQLite
  database, and raises a change signal after each write so readers can
  subscribe to live result sets.

INTERFACES IMPLEMENTED:
  leave.Store:            Leave records (append, soft delete, list, watch)
  leave.EmployeeLookup:   Salary lookup when recording leave
  payroll.Directory:      Employee roster and salary metadata
  payroll.PaymentStore:   Salary payments (append, list, watch)
  payroll.RunStore:       Batch run audit

APPEND-ONLY ENFORCEMENT:
  - salary_payments: INSERT only
  - leaves: INSERT, plus the status/deleted_at flip of a soft delete
  - employees: upsert, plus the salary metadata columns after a payment

KEY INDEXES:
  - idx_salary_payments_paid_once: unique (employee_id, month, payment_type)
    over paid records. A second paid bank record for the same month fails
    with generic.ErrAlreadyPaid, so two concurrent runs cannot both pay.
  - idx_leaves_month_status: month-scoped leave reads (hot path)

MIGRATION:
  Versioned goose migrations embedded from migrations/*.sql, applied on New().

CONCURRENCY:
  Uses sync.RWMutex around statements. ":memory:" databases are pinned to
  one connection so every statement sees the same database.

USAGE:
  store, err := sqlite.New("./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - generic/feed.go: change signals and Watch
  - store/memory: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/leave"
	"github.com/warp/payroll-engine/payroll"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	employeeFeed *generic.Feed
	leaveFeed    *generic.Feed
	paymentFeed  *generic.Feed
}

// New opens the database at dbPath and applies migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{
		db:           db,
		employeeFeed: generic.NewFeed(),
		leaveFeed:    generic.NewFeed(),
		paymentFeed:  generic.NewFeed(),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var migrateMu sync.Mutex

func migrate(db *sql.DB) error {
	// goose keeps its base FS and dialect in package state.
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// =============================================================================
// EMPLOYEE DIRECTORY (payroll.Directory)
// =============================================================================

const employeeColumns = `id, full_name, name, first_name, last_name, bank_salary, cash_salary, status,
	last_payment_date, last_payment_month, last_bank_amount`

// SaveEmployee inserts or replaces an employee. Salary metadata is only
// written by UpdateSalaryMeta.
func (s *Store) SaveEmployee(ctx context.Context, e payroll.Employee) error {
	s.mu.Lock()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees
		(id, full_name, name, first_name, last_name, bank_salary, cash_salary, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			full_name = excluded.full_name,
			name = excluded.name,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			bank_salary = excluded.bank_salary,
			cash_salary = excluded.cash_salary,
			status = excluded.status,
			updated_at = excluded.updated_at
	`,
		e.ID, e.FullName, e.Name, e.FirstName, e.LastName,
		e.BankSalary.String(), e.CashSalary.String(), string(e.Status),
		now, now,
	)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to save employee %s: %w", e.ID, err)
	}

	s.employeeFeed.Publish()
	return nil
}

// GetEmployee returns generic.ErrNotFound for unknown ids.
func (s *Store) GetEmployee(ctx context.Context, id string) (*payroll.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+employeeColumns+" FROM employees WHERE id = ?", id)
	e, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]payroll.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+employeeColumns+" FROM employees ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var employees []payroll.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

func (s *Store) UpdateSalaryMeta(ctx context.Context, id string, meta payroll.SalaryMeta) error {
	s.mu.Lock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE employees
		SET last_payment_date = ?, last_payment_month = ?, last_bank_amount = ?, updated_at = ?
		WHERE id = ?
	`,
		meta.LastPaymentDate.String(), meta.LastPaymentMonth.String(), meta.LastBankAmount.String(),
		time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to update salary metadata: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.ErrNotFound
	}

	s.employeeFeed.Publish()
	return nil
}

func (s *Store) WatchEmployees(ctx context.Context) <-chan generic.Update[payroll.Employee] {
	return generic.Watch(ctx, s.employeeFeed, s.ListEmployees)
}

func (s *Store) LookupEmployee(ctx context.Context, id string) (leave.EmployeeRef, error) {
	return payroll.EmployeeLookup{Directory: s}.LookupEmployee(ctx, id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEmployee(sc scanner) (payroll.Employee, error) {
	var (
		e                            payroll.Employee
		bank, cash, status           string
		lastDate, lastMonth, lastAmt string
	)
	err := sc.Scan(&e.ID, &e.FullName, &e.Name, &e.FirstName, &e.LastName,
		&bank, &cash, &status, &lastDate, &lastMonth, &lastAmt)
	if err != nil {
		return payroll.Employee{}, err
	}
	e.BankSalary = generic.MustParseDecimal(bank)
	e.CashSalary = generic.MustParseDecimal(cash)
	e.Status = payroll.EmployeeStatus(status)
	e.Meta = payroll.SalaryMeta{
		LastPaymentDate:  parseDate(lastDate),
		LastPaymentMonth: generic.MonthKey(lastMonth),
		LastBankAmount:   generic.MustParseDecimal(lastAmt),
	}
	return e, nil
}

// =============================================================================
// LEAVE STORE (leave.Store)
// =============================================================================

const leaveColumns = `id, employee_id, employee_name, leave_type, start_date, end_date, days,
	daily_salary, deduction, note, status, month, created_by, created_at, deleted_at`

func (s *Store) AppendLeave(ctx context.Context, r leave.Record) error {
	s.mu.Lock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leaves (`+leaveColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.EmployeeID, r.EmployeeName, string(r.Type),
		r.Start.String(), r.End.String(), r.Days,
		r.DailySalary.String(), r.Deduction.String(), r.Note,
		string(r.Status), r.Month.String(), r.CreatedBy,
		r.CreatedAt.UTC().Format(time.RFC3339Nano), nullTime(r.DeletedAt),
	)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to append leave: %w", err)
	}

	s.leaveFeed.Publish()
	return nil
}

func (s *Store) GetLeave(ctx context.Context, id string) (*leave.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+leaveColumns+" FROM leaves WHERE id = ?", id)
	r, err := scanLeave(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// SoftDeleteLeave flips an active record to deleted. The guard in the WHERE
// clause makes a concurrent second delete report ErrAlreadyDeleted.
func (s *Store) SoftDeleteLeave(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	res, err := s.db.ExecContext(ctx,
		"UPDATE leaves SET status = ?, deleted_at = ? WHERE id = ? AND status = ?",
		string(leave.StatusDeleted), at.UTC().Format(time.RFC3339Nano), id, string(leave.StatusActive),
	)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to delete leave: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		var status string
		err := s.db.QueryRowContext(ctx, "SELECT status FROM leaves WHERE id = ?", id).Scan(&status)
		s.mu.Unlock()
		if errors.Is(err, sql.ErrNoRows) {
			return generic.ErrNotFound
		}
		if err != nil {
			return err
		}
		return generic.ErrAlreadyDeleted
	}
	s.mu.Unlock()

	s.leaveFeed.Publish()
	return nil
}

func (s *Store) ListLeaves(ctx context.Context, f leave.Filter) ([]leave.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if !f.IncludeDeleted {
		where = append(where, "status = ?")
		args = append(args, string(leave.StatusActive))
	}
	if f.Month != "" {
		where = append(where, "month = ?")
		args = append(args, f.Month.String())
	}
	if f.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, f.EmployeeID)
	}

	query := "SELECT " + leaveColumns + " FROM leaves" + whereClause(where) + " ORDER BY start_date, created_at"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []leave.Record
	for rows.Next() {
		r, err := scanLeave(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Store) WatchLeaves(ctx context.Context, f leave.Filter) <-chan generic.Update[leave.Record] {
	return generic.Watch(ctx, s.leaveFeed, func(ctx context.Context) ([]leave.Record, error) {
		return s.ListLeaves(ctx, f)
	})
}

func scanLeave(sc scanner) (leave.Record, error) {
	var (
		r                        leave.Record
		leaveType, start, end    string
		daily, deduction, status string
		month, createdAt         string
		deletedAt                sql.NullString
	)
	err := sc.Scan(&r.ID, &r.EmployeeID, &r.EmployeeName, &leaveType, &start, &end, &r.Days,
		&daily, &deduction, &r.Note, &status, &month, &r.CreatedBy, &createdAt, &deletedAt)
	if err != nil {
		return leave.Record{}, err
	}
	r.Type = leave.Type(leaveType)
	r.Start = parseDate(start)
	r.End = parseDate(end)
	r.DailySalary = generic.MustParseDecimal(daily)
	r.Deduction = generic.MustParseDecimal(deduction)
	r.Status = leave.Status(status)
	r.Month = generic.MonthKey(month)
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if deletedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, deletedAt.String)
		r.DeletedAt = &t
	}
	return r, nil
}

// =============================================================================
// PAYMENT STORE (payroll.PaymentStore)
// =============================================================================

const paymentColumns = `id, employee_id, employee_name, amount, gross_amount, deduction, payment_date,
	payment_type, status, month, run_id, created_at`

// AppendPayment inserts a payment. A second paid record for the same
// employee, month and type returns generic.ErrAlreadyPaid.
func (s *Store) AppendPayment(ctx context.Context, p payroll.PaymentRecord) error {
	s.mu.Lock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO salary_payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.EmployeeID, p.EmployeeName,
		p.Amount.String(), p.GrossAmount.String(), p.Deduction.String(),
		p.PaymentDate.String(), string(p.Type), string(p.Status), p.Month.String(),
		p.RunID, p.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	s.mu.Unlock()
	if err != nil {
		if isUniqueConstraintError(err) && strings.Contains(err.Error(), "salary_payments.employee_id") {
			return generic.ErrAlreadyPaid
		}
		return fmt.Errorf("failed to append payment: %w", err)
	}

	s.paymentFeed.Publish()
	return nil
}

func (s *Store) ListPayments(ctx context.Context, f payroll.PaymentFilter) ([]payroll.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		where []string
		args  []any
	)
	if f.Month != "" {
		where = append(where, "month = ?")
		args = append(args, f.Month.String())
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Type != "" {
		where = append(where, "payment_type = ?")
		args = append(args, string(f.Type))
	}
	if f.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, f.EmployeeID)
	}

	query := "SELECT " + paymentColumns + " FROM salary_payments" + whereClause(where) + " ORDER BY created_at, id"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []payroll.PaymentRecord
	for rows.Next() {
		var (
			p                        payroll.PaymentRecord
			amount, gross, deduction string
			date, ptype, status, mon string
			createdAt                string
		)
		if err := rows.Scan(&p.ID, &p.EmployeeID, &p.EmployeeName, &amount, &gross, &deduction,
			&date, &ptype, &status, &mon, &p.RunID, &createdAt); err != nil {
			return nil, err
		}
		p.Amount = generic.MustParseDecimal(amount)
		p.GrossAmount = generic.MustParseDecimal(gross)
		p.Deduction = generic.MustParseDecimal(deduction)
		p.PaymentDate = parseDate(date)
		p.Type = payroll.PaymentType(ptype)
		p.Status = payroll.PaymentStatus(status)
		p.Month = generic.MonthKey(mon)
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (s *Store) WatchPayments(ctx context.Context, f payroll.PaymentFilter) <-chan generic.Update[payroll.PaymentRecord] {
	return generic.Watch(ctx, s.paymentFeed, func(ctx context.Context) ([]payroll.PaymentRecord, error) {
		return s.ListPayments(ctx, f)
	})
}

// =============================================================================
// RUN AUDIT (payroll.RunStore)
// =============================================================================

func (s *Store) SaveRun(ctx context.Context, r payroll.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	failures := r.Failures
	if failures == nil {
		failures = []payroll.Failure{}
	}
	failuresJSON, err := json.Marshal(failures)
	if err != nil {
		return fmt.Errorf("failed to encode run failures: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payroll_runs
		(id, month, payment_date, attempted, success_count, failure_count, total, paid_total,
		 failures_json, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.Month.String(), r.PaymentDate.String(),
		r.Attempted, r.SuccessCount, r.FailureCount,
		r.Total.String(), r.PaidTotal.String(), string(failuresJSON),
		r.StartedAt.UTC().Format(time.RFC3339Nano), r.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// ListRuns returns runs newest first. An empty month lists every run.
func (s *Store) ListRuns(ctx context.Context, month generic.MonthKey) ([]payroll.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, month, payment_date, attempted, success_count, failure_count, total, paid_total,
		       failures_json, started_at, finished_at
		FROM payroll_runs`
	var args []any
	if month != "" {
		query += " WHERE month = ?"
		args = append(args, month.String())
	}
	query += " ORDER BY started_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []payroll.RunRecord
	for rows.Next() {
		var (
			r                             payroll.RunRecord
			mon, date, total, paid, fails string
			started, finished             string
		)
		if err := rows.Scan(&r.ID, &mon, &date, &r.Attempted, &r.SuccessCount, &r.FailureCount,
			&total, &paid, &fails, &started, &finished); err != nil {
			return nil, err
		}
		r.Month = generic.MonthKey(mon)
		r.PaymentDate = parseDate(date)
		r.Total = generic.MustParseDecimal(total)
		r.PaidTotal = generic.MustParseDecimal(paid)
		if err := json.Unmarshal([]byte(fails), &r.Failures); err != nil {
			return nil, fmt.Errorf("failed to decode failures of run %s: %w", r.ID, err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// MAINTENANCE
// =============================================================================

// Reset clears all data. Used by the demo scenario loader.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	for _, table := range []string{"payroll_runs", "salary_payments", "leaves", "employees"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	s.mu.Unlock()

	s.employeeFeed.Publish()
	s.leaveFeed.Publish()
	s.paymentFeed.Publish()
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func parseDate(s string) generic.Date {
	if s == "" {
		return generic.Date{}
	}
	t, err := time.Parse(generic.DateLayout, s)
	if err != nil {
		return generic.Date{}
	}
	return generic.DateOf(t)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
