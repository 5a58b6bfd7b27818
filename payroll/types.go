// Package payroll turns the employee directory, the month's leave records and
// the month's payment records into a payable view, lets an operator shape a
// batch from it, and disburses the batch one employee at a time.
package payroll

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/leave"
)

// =============================================================================
// EMPLOYEE
// =============================================================================

type EmployeeStatus string

const (
	EmployeeActive   EmployeeStatus = "active"
	EmployeeInactive EmployeeStatus = "inactive"
)

// SalaryMeta is the denormalized "last paid" summary kept on the employee.
type SalaryMeta struct {
	LastPaymentDate  generic.Date
	LastPaymentMonth generic.MonthKey
	LastBankAmount   decimal.Decimal
}

// Employee is a directory entry. Records imported from older systems carry
// the name in one of several fields; DisplayName resolves them.
type Employee struct {
	ID         string
	FullName   string
	Name       string
	FirstName  string
	LastName   string
	BankSalary decimal.Decimal
	CashSalary decimal.Decimal
	Status     EmployeeStatus
	Meta       SalaryMeta
}

// DisplayName returns the first non-empty of FullName, Name and
// "FirstName LastName", falling back to the ID.
func (e Employee) DisplayName() string {
	if n := strings.TrimSpace(e.FullName); n != "" {
		return n
	}
	if n := strings.TrimSpace(e.Name); n != "" {
		return n
	}
	if n := strings.TrimSpace(strings.TrimSpace(e.FirstName) + " " + strings.TrimSpace(e.LastName)); n != "" {
		return n
	}
	return e.ID
}

func (e Employee) IsActive() bool { return e.Status == EmployeeActive }

// Validate checks an employee before it is written to the directory.
func (e Employee) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return generic.Validationf("id", "employee id is required")
	}
	if e.BankSalary.IsNegative() {
		return generic.Validationf("bank_salary", "must not be negative")
	}
	if e.CashSalary.IsNegative() {
		return generic.Validationf("cash_salary", "must not be negative")
	}
	switch e.Status {
	case EmployeeActive, EmployeeInactive:
	default:
		return generic.Validationf("status", "unknown status %q", e.Status)
	}
	return nil
}

// =============================================================================
// PAYMENT RECORD
// =============================================================================

type PaymentType string

const (
	PaymentBank PaymentType = "bank"
	PaymentCash PaymentType = "cash"
)

type PaymentStatus string

const PaymentPaid PaymentStatus = "paid"

// PaymentRecord is one salary payment. The engine only writes bank payments.
type PaymentRecord struct {
	ID           string
	EmployeeID   string
	EmployeeName string
	Amount       decimal.Decimal
	GrossAmount  decimal.Decimal
	Deduction    decimal.Decimal
	PaymentDate  generic.Date
	Type         PaymentType
	Status       PaymentStatus
	Month        generic.MonthKey
	RunID        string
	CreatedAt    time.Time
}

// PaymentFilter selects payment records. Empty fields match everything.
type PaymentFilter struct {
	Month      generic.MonthKey
	Status     PaymentStatus
	Type       PaymentType
	EmployeeID string
}

func (f PaymentFilter) Match(p PaymentRecord) bool {
	if f.Month != "" && p.Month != f.Month {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.Type != "" && p.Type != f.Type {
		return false
	}
	if f.EmployeeID != "" && p.EmployeeID != f.EmployeeID {
		return false
	}
	return true
}

// proves reports whether p shows the employee is paid for the month.
func (p PaymentRecord) proves(month generic.MonthKey) bool {
	return p.Month == month && p.Type == PaymentBank && p.Status == PaymentPaid
}

// =============================================================================
// RUN RECORD - audit of one committed batch
// =============================================================================

type RunRecord struct {
	ID           string
	Month        generic.MonthKey
	PaymentDate  generic.Date
	Attempted    int
	SuccessCount int
	FailureCount int
	Total        decimal.Decimal
	PaidTotal    decimal.Decimal
	Failures     []Failure
	StartedAt    time.Time
	FinishedAt   time.Time
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// Directory is the employee directory.
type Directory interface {
	ListEmployees(ctx context.Context) ([]Employee, error)

	// GetEmployee returns generic.ErrNotFound for unknown ids.
	GetEmployee(ctx context.Context, id string) (*Employee, error)

	// SaveEmployee inserts or replaces an employee.
	SaveEmployee(ctx context.Context, e Employee) error

	UpdateSalaryMeta(ctx context.Context, employeeID string, meta SalaryMeta) error

	WatchEmployees(ctx context.Context) <-chan generic.Update[Employee]
}

// PaymentStore holds salary payments. AppendPayment returns
// generic.ErrAlreadyPaid when a paid bank record already exists for the same
// employee and month.
type PaymentStore interface {
	AppendPayment(ctx context.Context, p PaymentRecord) error
	ListPayments(ctx context.Context, f PaymentFilter) ([]PaymentRecord, error)
	WatchPayments(ctx context.Context, f PaymentFilter) <-chan generic.Update[PaymentRecord]
}

type RunStore interface {
	SaveRun(ctx context.Context, r RunRecord) error
	ListRuns(ctx context.Context, month generic.MonthKey) ([]RunRecord, error)
}

// =============================================================================
// DIRECTORY -> LEAVE ADAPTER
// =============================================================================

// EmployeeLookup adapts a Directory to leave.EmployeeLookup.
type EmployeeLookup struct {
	Directory Directory
}

func (l EmployeeLookup) LookupEmployee(ctx context.Context, id string) (leave.EmployeeRef, error) {
	e, err := l.Directory.GetEmployee(ctx, id)
	if err != nil {
		return leave.EmployeeRef{}, err
	}
	return leave.EmployeeRef{
		ID:         e.ID,
		Name:       e.DisplayName(),
		BankSalary: e.BankSalary,
		Active:     e.IsActive(),
	}, nil
}
