// Package leave converts recorded employee leave into salary deductions.
// It owns the closed set of leave types, the deduction rules and the leave
// record lifecycle (active -> soft-deleted).
package leave

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// LEAVE TYPE - Closed set
// =============================================================================

// Type is a category of employee absence. The set is closed: the rule engine
// rejects any value not listed here.
type Type string

const (
	Unpaid       Type = "unpaid"
	Annual       Type = "annual"
	Sick         Type = "sick"
	WorkAccident Type = "work_accident"
)

// Types lists every leave type in display order.
func Types() []Type {
	return []Type{Unpaid, Annual, Sick, WorkAccident}
}

// ParseType converts operator input into a Type. Unknown input is a
// validation error; use Compute's ConfigurationError for values that got past
// the boundary.
func ParseType(s string) (Type, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	switch norm {
	case string(Unpaid):
		return Unpaid, nil
	case string(Annual), "paid":
		return Annual, nil
	case string(Sick):
		return Sick, nil
	case string(WorkAccident), "accident":
		return WorkAccident, nil
	}
	return "", generic.Validationf("leave_type", "unknown leave type %q", s)
}

func (t Type) Label() string {
	switch t {
	case Unpaid:
		return "Unpaid leave"
	case Annual:
		return "Annual leave"
	case Sick:
		return "Sick leave"
	case WorkAccident:
		return "Work accident leave"
	}
	return string(t)
}

// =============================================================================
// LEAVE RECORD - Historical, immutable except for soft delete
// =============================================================================

type Status string

const (
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
)

// Record is one leave entry. DailySalary and Deduction are snapshots taken
// when the record was created; later salary changes never rewrite them.
type Record struct {
	ID           string
	EmployeeID   string
	EmployeeName string
	Type         Type
	Start        generic.Date
	End          generic.Date
	Days         int
	DailySalary  decimal.Decimal
	Deduction    decimal.Decimal
	Note         string
	Status       Status
	Month        generic.MonthKey // month of Start
	CreatedBy    string
	CreatedAt    time.Time
	DeletedAt    *time.Time
}

func (r Record) Period() generic.Period { return generic.Period{Start: r.Start, End: r.End} }
func (r Record) IsActive() bool         { return r.Status == StatusActive }

// Filter selects leave records. The zero value matches every active record.
type Filter struct {
	Month          generic.MonthKey
	EmployeeID     string
	IncludeDeleted bool
}

func (f Filter) Match(r Record) bool {
	if !f.IncludeDeleted && !r.IsActive() {
		return false
	}
	if f.Month != "" && r.Month != f.Month {
		return false
	}
	if f.EmployeeID != "" && r.EmployeeID != f.EmployeeID {
		return false
	}
	return true
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// Store persists leave records. Records are appended and soft-deleted, never
// updated or removed.
type Store interface {
	AppendLeave(ctx context.Context, r Record) error

	// GetLeave returns generic.ErrNotFound for unknown ids.
	GetLeave(ctx context.Context, id string) (*Record, error)

	// SoftDeleteLeave flips status to deleted. Returns generic.ErrNotFound or
	// generic.ErrAlreadyDeleted.
	SoftDeleteLeave(ctx context.Context, id string, at time.Time) error

	ListLeaves(ctx context.Context, f Filter) ([]Record, error)

	// WatchLeaves streams the filtered result set on every change.
	WatchLeaves(ctx context.Context, f Filter) <-chan generic.Update[Record]
}

// EmployeeRef is what the leave service needs to know about an employee.
type EmployeeRef struct {
	ID         string
	Name       string
	BankSalary decimal.Decimal
	Active     bool
}

// EmployeeLookup resolves an employee id. Unknown ids return generic.ErrNotFound.
type EmployeeLookup interface {
	LookupEmployee(ctx context.Context, id string) (EmployeeRef, error)
}
