/*
aggregate.go - Monthly payable view

PURPOSE:
  Joins the employee roster, the month's leave records and the month's
  payment records into one row per payable employee. Pure: the same inputs
  always give the same rows, so callers recompute on every upstream change
  instead of patching a cached aggregate.

RULES:
  - Only active employees with a positive bank salary get a row.
  - Deductions and days are summed over the employee's active leave records
    for the month. Records for other months or soft-deleted records are
    ignored even if the caller passes them in.
  - NetBankSalary = max(0, BankSalary - Deduction).
  - IsPaid when a bank/paid payment exists for (employee, month).
  - Selected defaults to !IsPaid and BankAmount to NetBankSalary.

ORDERING:
  Unpaid rows first, then by name using a locale-aware collator, then by
  employee id. This is a display contract; commit order is whatever order
  the rows are handed to the Disburser.
*/
package payroll

import (
	"slices"

	"github.com/shopspring/decimal"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/leave"
)

// DefaultLocale is used for name ordering when Options.Locale is empty or
// unparseable.
const DefaultLocale = "en"

// PayableView is one employee's row in a payroll run.
type PayableView struct {
	EmployeeID    string
	Name          string
	Month         generic.MonthKey
	BankSalary    decimal.Decimal
	CashSalary    decimal.Decimal
	Deduction     decimal.Decimal
	LeaveDays     int
	LeaveCount    int
	NetBankSalary decimal.Decimal
	IsPaid        bool

	// Operator state, seeded with defaults.
	Selected   bool
	BankAmount decimal.Decimal
	Overridden bool // BankAmount was set by the operator
}

type Options struct {
	Locale string
}

func (o Options) tag() language.Tag {
	if o.Locale == "" {
		return language.Make(DefaultLocale)
	}
	tag, err := language.Parse(o.Locale)
	if err != nil {
		return language.Make(DefaultLocale)
	}
	return tag
}

// Aggregate builds the payable view for month.
func Aggregate(month generic.MonthKey, employees []Employee, leaves []leave.Record, payments []PaymentRecord, opts Options) []PayableView {
	type leaveSum struct {
		amount decimal.Decimal
		days   int
		count  int
	}

	sums := make(map[string]leaveSum)
	for _, r := range leaves {
		if !r.IsActive() || r.Month != month {
			continue
		}
		s := sums[r.EmployeeID]
		s.amount = s.amount.Add(r.Deduction)
		s.days += r.Days
		s.count++
		sums[r.EmployeeID] = s
	}

	paid := make(map[string]bool)
	for _, p := range payments {
		if p.proves(month) {
			paid[p.EmployeeID] = true
		}
	}

	views := make([]PayableView, 0, len(employees))
	for _, e := range employees {
		if !e.IsActive() || !e.BankSalary.IsPositive() {
			continue
		}
		s := sums[e.ID]
		net := generic.NonNegative(e.BankSalary.Sub(s.amount))
		isPaid := paid[e.ID]

		views = append(views, PayableView{
			EmployeeID:    e.ID,
			Name:          e.DisplayName(),
			Month:         month,
			BankSalary:    e.BankSalary,
			CashSalary:    e.CashSalary,
			Deduction:     s.amount,
			LeaveDays:     s.days,
			LeaveCount:    s.count,
			NetBankSalary: net,
			IsPaid:        isPaid,
			Selected:      !isPaid,
			BankAmount:    net,
		})
	}

	sortViews(views, opts)
	return views
}

func sortViews(views []PayableView, opts Options) {
	// collate.Collator keeps internal buffers and is not safe for concurrent
	// use, so each sort gets its own.
	c := collate.New(opts.tag(), collate.IgnoreCase)

	slices.SortStableFunc(views, func(a, b PayableView) int {
		if a.IsPaid != b.IsPaid {
			if a.IsPaid {
				return 1
			}
			return -1
		}
		if n := c.CompareString(a.Name, b.Name); n != 0 {
			return n
		}
		switch {
		case a.EmployeeID < b.EmployeeID:
			return -1
		case a.EmployeeID > b.EmployeeID:
			return 1
		}
		return 0
	})
}
