package payroll

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
)

var (
	// ErrRowPaid is returned when an operator tries to change a row that is
	// already paid for the month.
	ErrRowPaid = &generic.ValidationError{Field: "employee_id", Message: "employee is already paid for this month"}

	// ErrRowNotSelected is returned by SetAmount on an unselected row.
	ErrRowNotSelected = &generic.ValidationError{Field: "employee_id", Message: "amount can only be changed on a selected row"}
)

// Totals are the derived figures shown next to a batch.
type Totals struct {
	SelectedUnpaid         int
	Unpaid                 int
	Paid                   int
	CashEmployees          int
	SelectedBankTotal      decimal.Decimal
	SelectedDeductionTotal decimal.Decimal
	PendingCashTotal       decimal.Decimal // informational, never disbursed
}

// Batch is the operator's working selection over a payable view. Rows keep
// the order they were given in.
type Batch struct {
	mu    sync.RWMutex
	month generic.MonthKey
	rows  []PayableView
	index map[string]int
}

func NewBatch(month generic.MonthKey, views []PayableView) *Batch {
	b := &Batch{month: month}
	b.reset(views)
	return b
}

func (b *Batch) reset(views []PayableView) {
	b.rows = cloneRows(views)
	b.index = make(map[string]int, len(b.rows))
	for i, r := range b.rows {
		b.index[r.EmployeeID] = i
	}
}

func (b *Batch) Month() generic.MonthKey { return b.month }

func (b *Batch) row(employeeID string) (*PayableView, error) {
	i, ok := b.index[employeeID]
	if !ok {
		return nil, fmt.Errorf("employee %s in batch: %w", employeeID, generic.ErrNotFound)
	}
	return &b.rows[i], nil
}

// Toggle flips a row's selection. Paid rows cannot be toggled.
func (b *Batch) Toggle(employeeID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, err := b.row(employeeID)
	if err != nil {
		return err
	}
	if r.IsPaid {
		return ErrRowPaid
	}
	r.Selected = !r.Selected
	return nil
}

// SetAmount overrides the amount that will be disbursed for a selected row.
// The row's deduction is left as computed.
func (b *Batch) SetAmount(employeeID string, amount decimal.Decimal) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, err := b.row(employeeID)
	if err != nil {
		return err
	}
	if r.IsPaid {
		return ErrRowPaid
	}
	if !r.Selected {
		return ErrRowNotSelected
	}
	if !amount.IsPositive() {
		return generic.Validationf("amount", "amount must be greater than zero, got %s", amount)
	}
	r.BankAmount = generic.RoundMoney(amount)
	r.Overridden = true
	return nil
}

// SelectAllUnpaid selects exactly the unpaid rows with a positive bank
// salary and deselects the rest.
func (b *Batch) SelectAllUnpaid() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.rows {
		b.rows[i].Selected = !b.rows[i].IsPaid && b.rows[i].BankSalary.IsPositive()
	}
}

func (b *Batch) DeselectAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.rows {
		b.rows[i].Selected = false
	}
}

func (b *Batch) Totals() Totals {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return totalsOf(b.rows)
}

func totalsOf(rows []PayableView) Totals {
	t := Totals{
		SelectedBankTotal:      decimal.Zero,
		SelectedDeductionTotal: decimal.Zero,
		PendingCashTotal:       decimal.Zero,
	}
	for _, r := range rows {
		if r.IsPaid {
			t.Paid++
		} else {
			t.Unpaid++
			t.PendingCashTotal = t.PendingCashTotal.Add(r.CashSalary)
		}
		if r.CashSalary.IsPositive() {
			t.CashEmployees++
		}
		if r.Selected {
			t.SelectedBankTotal = t.SelectedBankTotal.Add(r.BankAmount)
			t.SelectedDeductionTotal = t.SelectedDeductionTotal.Add(r.Deduction)
			if !r.IsPaid {
				t.SelectedUnpaid++
			}
		}
	}
	return t
}

// Rows returns a copy of every row in display order.
func (b *Batch) Rows() []PayableView {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return cloneRows(b.rows)
}

// Selected returns the selected rows in display order.
func (b *Batch) Selected() []PayableView {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]PayableView, 0, len(b.rows))
	for _, r := range b.rows {
		if r.Selected {
			out = append(out, r)
		}
	}
	return out
}

// Refresh replaces the rows with a freshly aggregated view while keeping
// the operator's work: rows that are still unpaid keep their selection and
// any amount override, rows that became paid are forced unselected, new
// rows arrive with their defaults and rows that left the view are dropped.
func (b *Batch) Refresh(views []PayableView) {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := cloneRows(views)
	for i := range next {
		n := &next[i]
		if n.IsPaid {
			n.Selected = false
			continue
		}
		prev, err := b.row(n.EmployeeID)
		if err != nil || prev.IsPaid {
			continue
		}
		n.Selected = prev.Selected
		if prev.Overridden {
			n.BankAmount = prev.BankAmount
			n.Overridden = true
		}
	}
	b.reset(next)
}

func cloneRows(in []PayableView) []PayableView {
	out := make([]PayableView, len(in))
	copy(out, in)
	return out
}
