/*
disburse.go - Sequential batch disbursement

PURPOSE:
  Pays a confirmed selection of payable rows, one employee at a time, and
  reports which employees were paid and which failed.

FLOW:
  1. Prepare     validates the selection and computes the total
  2. Acknowledge the operator echoes the total they were shown
  3. Commit      takes the month's run lock and walks Steps to the end

PER EMPLOYEE:
  Each row is its own unit of work: append a bank/paid payment record, then
  update the employee's salary metadata. If either write fails the employee
  is reported as a failure and the loop moves on. Nothing is rolled back, so
  re-running the batch only offers the employees that are still unpaid.

  If the payment append succeeds and the metadata update fails, the employee
  is reported as failed but shows as paid on the next aggregation, because the
  payment record is what proves payment.

CANCELLATION:
  Once Commit starts it runs to completion. The loop is detached from the
  caller's cancellation and each write gets its own WriteTimeout, so a slow
  store surfaces as per-employee failures rather than an aborted batch.

SEE ALSO:
  - batch.go: selection and overrides feeding Prepare
  - lock.go, store/redislock: the run lock
*/
package payroll

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"github.com/warp/payroll-engine/generic"
)

// DefaultWriteTimeout bounds each store write during a commit.
const DefaultWriteTimeout = 10 * time.Second

// =============================================================================
// CONFIRMATION
// =============================================================================

// Confirmation is a prepared batch waiting for the operator to acknowledge
// its total. Its ID becomes the run id of the commit.
type Confirmation struct {
	ID          string
	Month       generic.MonthKey
	PaymentDate generic.Date
	Rows        []PayableView
	Total       decimal.Decimal
	Count       int // rows that will be paid
	CreatedAt   time.Time

	mu           sync.Mutex
	acknowledged bool
	used         bool
}

// Acknowledge records the operator's confirmation. The echoed total must
// match the computed one.
func (c *Confirmation) Acknowledge(total decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !generic.RoundMoney(total).Equal(c.Total) {
		return generic.Validationf("total", "confirmed total %s does not match batch total %s",
			total.StringFixed(2), c.Total.StringFixed(2))
	}
	c.acknowledged = true
	return nil
}

func (c *Confirmation) Acknowledged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acknowledged
}

// claim marks the confirmation as consumed by a commit.
func (c *Confirmation) claim() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.acknowledged {
		return generic.ErrConfirmationRequired
	}
	if c.used {
		return generic.Validationf("confirmation_id", "confirmation %s was already committed", c.ID)
	}
	c.used = true
	return nil
}

// =============================================================================
// REPORT
// =============================================================================

type Failure struct {
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name"`
	Message    string `json:"message"`
}

// Outcome is the result of paying one row.
type Outcome struct {
	EmployeeID string
	Name       string
	Amount     decimal.Decimal
	PaymentID  string
	Err        error
}

func (o Outcome) OK() bool { return o.Err == nil }

type Report struct {
	RunID        string
	Month        generic.MonthKey
	PaymentDate  generic.Date
	Attempted    int
	SuccessCount int
	Failures     []Failure
	Total        decimal.Decimal // confirmed total
	PaidTotal    decimal.Decimal // sum over successful rows
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Summary renders the operator-facing one-liner.
func (r Report) Summary() string {
	return fmt.Sprintf("%d succeeded, %d failed", r.SuccessCount, len(r.Failures))
}

func (r Report) HasFailures() bool { return len(r.Failures) > 0 }

func (r *Report) add(o Outcome) {
	r.Attempted++
	if o.OK() {
		r.SuccessCount++
		r.PaidTotal = r.PaidTotal.Add(o.Amount)
		return
	}
	r.Failures = append(r.Failures, Failure{EmployeeID: o.EmployeeID, Name: o.Name, Message: o.Err.Error()})
}

func (r Report) runRecord() RunRecord {
	return RunRecord{
		ID:           r.RunID,
		Month:        r.Month,
		PaymentDate:  r.PaymentDate,
		Attempted:    r.Attempted,
		SuccessCount: r.SuccessCount,
		FailureCount: len(r.Failures),
		Total:        r.Total,
		PaidTotal:    r.PaidTotal,
		Failures:     r.Failures,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
	}
}

// =============================================================================
// DISBURSER
// =============================================================================

type Disburser struct {
	Payments  PaymentStore
	Directory Directory
	Runs      RunStore // optional audit
	Lock      RunLock  // optional

	Logger       *zap.Logger
	WriteTimeout time.Duration
	Now          func() time.Time
	NewID        func() string
}

func NewDisburser(payments PaymentStore, directory Directory, logger ...*zap.Logger) *Disburser {
	l := zap.L()
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	}
	return &Disburser{
		Payments:     payments,
		Directory:    directory,
		Logger:       l.Named("payroll.disburser"),
		WriteTimeout: DefaultWriteTimeout,
		Now:          time.Now,
		NewID:        uuid.NewString,
	}
}

// Prepare validates a selection and computes its total. Rows already paid
// are carried but skipped at commit and left out of the total.
func (d *Disburser) Prepare(month generic.MonthKey, paymentDate generic.Date, rows []PayableView) (*Confirmation, error) {
	if _, err := generic.ParseMonth(month.String()); err != nil {
		return nil, err
	}
	if paymentDate.IsZero() {
		return nil, generic.Validationf("payment_date", "payment date is required")
	}
	if len(rows) == 0 {
		return nil, generic.Validationf("selection", "no employee selected")
	}

	seen := make(map[string]bool, len(rows))
	total := decimal.Zero
	count := 0
	for _, r := range rows {
		if seen[r.EmployeeID] {
			return nil, generic.Validationf("selection", "employee %s selected twice", r.EmployeeID)
		}
		seen[r.EmployeeID] = true

		if r.Month != "" && r.Month != month {
			return nil, generic.Validationf("selection", "row for %s belongs to %s, not %s", r.EmployeeID, r.Month, month)
		}
		if !r.BankAmount.IsPositive() {
			return nil, generic.Validationf("amount", "amount for %s must be greater than zero", r.Name)
		}
		if r.IsPaid {
			continue
		}
		total = total.Add(r.BankAmount)
		count++
	}
	if count == 0 {
		return nil, generic.Validationf("selection", "every selected employee is already paid for %s", month)
	}

	conf := &Confirmation{
		ID:          d.NewID(),
		Month:       month,
		PaymentDate: paymentDate,
		Rows:        cloneRows(rows),
		Total:       generic.RoundMoney(total),
		Count:       count,
		CreatedAt:   d.Now().UTC(),
	}

	d.Logger.Debug("batch prepared",
		zap.String("run_id", conf.ID),
		zap.String("month", month.String()),
		zap.Int("count", count),
		zap.String("total", conf.Total.StringFixed(2)),
	)
	return conf, nil
}

// Steps pays the confirmation's unpaid rows in order, yielding one Outcome
// per row. Stopping the iteration early stops the writes; Commit never does.
func (d *Disburser) Steps(ctx context.Context, conf *Confirmation) (iter.Seq[Outcome], error) {
	if conf == nil || !conf.Acknowledged() {
		return nil, generic.ErrConfirmationRequired
	}

	return func(yield func(Outcome) bool) {
		for _, row := range conf.Rows {
			if row.IsPaid {
				continue
			}
			if !yield(d.pay(ctx, conf, row)) {
				return
			}
		}
	}, nil
}

func (d *Disburser) pay(ctx context.Context, conf *Confirmation, row PayableView) Outcome {
	out := Outcome{EmployeeID: row.EmployeeID, Name: row.Name, Amount: row.BankAmount}

	p := PaymentRecord{
		ID:           d.NewID(),
		EmployeeID:   row.EmployeeID,
		EmployeeName: row.Name,
		Amount:       row.BankAmount,
		GrossAmount:  row.BankSalary,
		Deduction:    row.Deduction,
		PaymentDate:  conf.PaymentDate,
		Type:         PaymentBank,
		Status:       PaymentPaid,
		Month:        conf.Month,
		RunID:        conf.ID,
		CreatedAt:    d.Now().UTC(),
	}

	if err := d.write(ctx, func(ctx context.Context) error { return d.Payments.AppendPayment(ctx, p) }); err != nil {
		out.Err = &generic.PersistenceError{Op: "append payment", EmployeeID: row.EmployeeID, Err: err}
		d.Logger.Warn("payment write failed",
			zap.String("run_id", conf.ID),
			zap.String("employee_id", row.EmployeeID),
			zap.Error(err),
		)
		return out
	}
	out.PaymentID = p.ID

	meta := SalaryMeta{
		LastPaymentDate:  conf.PaymentDate,
		LastPaymentMonth: conf.Month,
		LastBankAmount:   row.BankAmount,
	}
	if err := d.write(ctx, func(ctx context.Context) error {
		return d.Directory.UpdateSalaryMeta(ctx, row.EmployeeID, meta)
	}); err != nil {
		out.Err = &generic.PersistenceError{Op: "update salary metadata", EmployeeID: row.EmployeeID, Err: err}
		d.Logger.Warn("salary metadata update failed after payment was recorded",
			zap.String("run_id", conf.ID),
			zap.String("employee_id", row.EmployeeID),
			zap.String("payment_id", p.ID),
			zap.Error(err),
		)
		return out
	}

	d.Logger.Debug("employee paid",
		zap.String("run_id", conf.ID),
		zap.String("employee_id", row.EmployeeID),
		zap.String("amount", row.BankAmount.StringFixed(2)),
	)
	return out
}

func (d *Disburser) write(ctx context.Context, fn func(context.Context) error) error {
	if d.WriteTimeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, d.WriteTimeout)
	defer cancel()
	return fn(ctx)
}

// Commit pays the confirmation. It returns generic.ErrConfirmationRequired
// when the total was not acknowledged and generic.ErrRunInProgress when
// another commit holds the month. Per-employee failures are in the report,
// not the error.
func (d *Disburser) Commit(ctx context.Context, conf *Confirmation) (Report, error) {
	if conf == nil {
		return Report{}, generic.ErrConfirmationRequired
	}
	if !conf.Acknowledged() {
		d.Logger.Warn("commit without confirmation", zap.String("run_id", conf.ID))
		return Report{}, generic.ErrConfirmationRequired
	}

	if d.Lock != nil {
		release, err := d.Lock.Acquire(ctx, RunLockKey(conf.Month))
		if err != nil {
			d.Logger.Warn("run lock busy", zap.String("month", conf.Month.String()), zap.Error(err))
			return Report{}, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				d.Logger.Error("run lock release failed", zap.String("month", conf.Month.String()), zap.Error(err))
			}
		}()
	}

	if err := conf.claim(); err != nil {
		return Report{}, err
	}

	work := context.WithoutCancel(ctx)
	steps, err := d.Steps(work, conf)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		RunID:       conf.ID,
		Month:       conf.Month,
		PaymentDate: conf.PaymentDate,
		Total:       conf.Total,
		PaidTotal:   decimal.Zero,
		StartedAt:   d.Now().UTC(),
	}

	d.Logger.Info("batch commit started",
		zap.String("run_id", conf.ID),
		zap.String("month", conf.Month.String()),
		zap.Int("count", conf.Count),
	)

	for o := range steps {
		report.add(o)
	}
	report.FinishedAt = d.Now().UTC()

	if d.Runs != nil {
		if err := d.write(work, func(ctx context.Context) error { return d.Runs.SaveRun(ctx, report.runRecord()) }); err != nil {
			d.Logger.Error("run audit save failed", zap.String("run_id", conf.ID), zap.Error(err))
		}
	}

	d.Logger.Info("batch commit finished",
		zap.String("run_id", conf.ID),
		zap.String("month", conf.Month.String()),
		zap.Int("succeeded", report.SuccessCount),
		zap.Int("failed", len(report.Failures)),
		zap.String("paid_total", report.PaidTotal.StringFixed(2)),
	)
	return report, nil
}
