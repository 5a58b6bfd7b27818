package payroll_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/leave"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/store/memory"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// flakyPayments fails AppendPayment for the listed employees.
type flakyPayments struct {
	payroll.PaymentStore
	failFor map[string]error
	calls   []string
}

func (f *flakyPayments) AppendPayment(ctx context.Context, p payroll.PaymentRecord) error {
	f.calls = append(f.calls, p.EmployeeID)
	if err, ok := f.failFor[p.EmployeeID]; ok {
		return err
	}
	return f.PaymentStore.AppendPayment(ctx, p)
}

// flakyDirectory fails UpdateSalaryMeta for the listed employees.
type flakyDirectory struct {
	payroll.Directory
	failFor map[string]error
}

func (f *flakyDirectory) UpdateSalaryMeta(ctx context.Context, id string, meta payroll.SalaryMeta) error {
	if err, ok := f.failFor[id]; ok {
		return err
	}
	return f.Directory.UpdateSalaryMeta(ctx, id, meta)
}

type fixture struct {
	store     *memory.Store
	payments  *flakyPayments
	directory *flakyDirectory
	disburser *payroll.Disburser
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	for _, e := range []payroll.Employee{
		employee("emp-a", "Alice", "3000"),
		employee("emp-b", "Bruno", "2000"),
	} {
		require.NoError(t, store.SaveEmployee(ctx, e))
	}
	require.NoError(t, store.AppendLeave(ctx, leaveRecord(t, "l1", "emp-a", leave.Unpaid, "3000", d(10), d(12))))

	f := &fixture{
		store:     store,
		payments:  &flakyPayments{PaymentStore: store, failFor: map[string]error{}},
		directory: &flakyDirectory{Directory: store, failFor: map[string]error{}},
	}
	f.disburser = payroll.NewDisburser(f.payments, f.directory, zaptest.NewLogger(t))
	f.disburser.Runs = store
	f.disburser.Lock = payroll.NewLocalLock()
	n := 0
	f.disburser.NewID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return f
}

func (f *fixture) batch(t *testing.T) *payroll.Batch {
	t.Helper()
	ctx := context.Background()
	employees, err := f.store.ListEmployees(ctx)
	require.NoError(t, err)
	leaves, err := f.store.ListLeaves(ctx, leave.Filter{Month: march})
	require.NoError(t, err)
	payments, err := f.store.ListPayments(ctx, payroll.PaymentFilter{Month: march})
	require.NoError(t, err)
	return payroll.NewBatch(march, payroll.Aggregate(march, employees, leaves, payments, payroll.Options{}))
}

func (f *fixture) confirm(t *testing.T, b *payroll.Batch) *payroll.Confirmation {
	t.Helper()
	conf, err := f.disburser.Prepare(march, d(28), b.Selected())
	require.NoError(t, err)
	require.NoError(t, conf.Acknowledge(conf.Total))
	return conf
}

// =============================================================================
// PRECONDITIONS
// =============================================================================

func TestPrepare_EmptySelection(t *testing.T) {
	f := newFixture(t)

	_, err := f.disburser.Prepare(march, d(28), nil)

	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestPrepare_NonPositiveAmount(t *testing.T) {
	f := newFixture(t)
	rows := f.batch(t).Selected()
	rows[0].BankAmount = money("0")

	_, err := f.disburser.Prepare(march, d(28), rows)

	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestPrepare_MissingPaymentDate(t *testing.T) {
	f := newFixture(t)

	_, err := f.disburser.Prepare(march, generic.Date{}, f.batch(t).Selected())

	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestCommit_RequiresAcknowledgement(t *testing.T) {
	// GIVEN: a prepared but unacknowledged confirmation
	f := newFixture(t)
	conf, err := f.disburser.Prepare(march, d(28), f.batch(t).Selected())
	require.NoError(t, err)

	// WHEN
	_, err = f.disburser.Commit(context.Background(), conf)

	// THEN: nothing was written
	assert.ErrorIs(t, err, generic.ErrConfirmationRequired)
	assert.Empty(t, f.payments.calls)
}

func TestAcknowledge_TotalMustMatch(t *testing.T) {
	f := newFixture(t)
	conf, err := f.disburser.Prepare(march, d(28), f.batch(t).Selected())
	require.NoError(t, err)

	err = conf.Acknowledge(money("1"))

	assert.ErrorIs(t, err, generic.ErrValidation)
	assert.False(t, conf.Acknowledged())
}

// =============================================================================
// COMMIT
// =============================================================================

func TestCommit_PartialFailureIsIsolated(t *testing.T) {
	// GIVEN: Alice at 2700 and Bruno overridden to 1800, Bruno's write fails
	// WHEN: the batch is committed
	// THEN: total 4500, 1 succeeded, Bruno reported; Alice paid, Bruno still selectable

	f := newFixture(t)
	ctx := context.Background()
	b := f.batch(t)
	require.NoError(t, b.SetAmount("emp-b", money("1800")))
	f.payments.failFor["emp-b"] = errors.New("write timeout")

	conf := f.confirm(t, b)
	assert.True(t, money("4500").Equal(conf.Total), conf.Total.String())

	report, err := f.disburser.Commit(ctx, conf)

	require.NoError(t, err)
	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, 1, report.SuccessCount)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "emp-b", report.Failures[0].EmployeeID)
	assert.Contains(t, report.Failures[0].Message, "write timeout")
	assert.Equal(t, "1 succeeded, 1 failed", report.Summary())
	assert.True(t, money("2700").Equal(report.PaidTotal))
	assert.Equal(t, []string{"emp-a", "emp-b"}, f.payments.calls, "display order is write order")

	next := f.batch(t)
	assert.True(t, rowOf(t, next, "emp-a").IsPaid)
	assert.False(t, rowOf(t, next, "emp-b").IsPaid)
	assert.True(t, rowOf(t, next, "emp-b").Selected)

	alice, err := f.store.GetEmployee(ctx, "emp-a")
	require.NoError(t, err)
	assert.Equal(t, march, alice.Meta.LastPaymentMonth)
	assert.True(t, money("2700").Equal(alice.Meta.LastBankAmount))
}

func TestCommit_RetryPaysOnlyFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.payments.failFor["emp-b"] = errors.New("boom")
	_, err := f.disburser.Commit(ctx, f.confirm(t, f.batch(t)))
	require.NoError(t, err)

	delete(f.payments.failFor, "emp-b")
	f.payments.calls = nil

	b := f.batch(t)
	b.SelectAllUnpaid()
	report, err := f.disburser.Commit(ctx, f.confirm(t, b))

	require.NoError(t, err)
	assert.Equal(t, 1, report.SuccessCount)
	assert.Empty(t, report.Failures)
	assert.Equal(t, []string{"emp-b"}, f.payments.calls)
}

func TestCommit_MetadataFailureIsReported(t *testing.T) {
	// GIVEN: the payment append works but the directory update fails
	f := newFixture(t)
	f.directory.failFor["emp-a"] = errors.New("directory offline")

	// WHEN
	report, err := f.disburser.Commit(context.Background(), f.confirm(t, f.batch(t)))

	// THEN: Alice is a failure, yet her payment record already proves payment
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "emp-a", report.Failures[0].EmployeeID)
	assert.True(t, rowOf(t, f.batch(t), "emp-a").IsPaid)
}

func TestCommit_SkipsRowsAlreadyPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.AppendPayment(ctx, paidRecord("emp-a", march)))

	rows := f.batch(t).Rows()
	conf, err := f.disburser.Prepare(march, d(28), rows)
	require.NoError(t, err)
	require.NoError(t, conf.Acknowledge(conf.Total))

	report, err := f.disburser.Commit(ctx, conf)

	require.NoError(t, err)
	assert.Equal(t, 1, report.Attempted)
	assert.Equal(t, []string{"emp-b"}, f.payments.calls)
}

func TestCommit_DuplicatePaymentBecomesFailure(t *testing.T) {
	// GIVEN: a confirmation prepared before another run paid Alice
	f := newFixture(t)
	ctx := context.Background()
	conf := f.confirm(t, f.batch(t))
	require.NoError(t, f.store.AppendPayment(ctx, paidRecord("emp-a", march)))

	// WHEN
	report, err := f.disburser.Commit(ctx, conf)

	// THEN: the store's uniqueness check stops a double payment
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "emp-a", report.Failures[0].EmployeeID)
	assert.Equal(t, 1, report.SuccessCount)
}

func TestCommit_ConfirmationIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conf := f.confirm(t, f.batch(t))

	_, err := f.disburser.Commit(ctx, conf)
	require.NoError(t, err)
	_, err = f.disburser.Commit(ctx, conf)

	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestCommit_RunLockContention(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	release, err := f.disburser.Lock.Acquire(ctx, payroll.RunLockKey(march))
	require.NoError(t, err)

	_, err = f.disburser.Commit(ctx, f.confirm(t, f.batch(t)))

	assert.ErrorIs(t, err, generic.ErrRunInProgress)
	assert.Empty(t, f.payments.calls)

	require.NoError(t, release(ctx))
	_, err = f.disburser.Commit(ctx, f.confirm(t, f.batch(t)))
	assert.NoError(t, err)
}

func TestCommit_RunsToCompletionAfterCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	conf := f.confirm(t, f.batch(t))
	cancel()

	report, err := f.disburser.Commit(ctx, conf)

	require.NoError(t, err)
	assert.Equal(t, 2, report.SuccessCount)
}

func TestCommit_SavesRunAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.payments.failFor["emp-b"] = errors.New("boom")

	report, err := f.disburser.Commit(ctx, f.confirm(t, f.batch(t)))
	require.NoError(t, err)

	runs, err := f.store.ListRuns(ctx, march)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.RunID, runs[0].ID)
	assert.Equal(t, 1, runs[0].SuccessCount)
	assert.Equal(t, 1, runs[0].FailureCount)
	assert.False(t, runs[0].FinishedAt.Before(runs[0].StartedAt))
}

func TestSteps_YieldsOnePerRow(t *testing.T) {
	f := newFixture(t)
	conf := f.confirm(t, f.batch(t))

	steps, err := f.disburser.Steps(context.Background(), conf)
	require.NoError(t, err)

	var got []string
	for o := range steps {
		assert.True(t, o.OK())
		got = append(got, o.EmployeeID)
		break
	}

	assert.Equal(t, []string{"emp-a"}, got)
	assert.Equal(t, []string{"emp-a"}, f.payments.calls, "stopping the iteration stops the writes")
}

func TestCommit_WriteTimeoutSurfacesPerEmployee(t *testing.T) {
	f := newFixture(t)
	f.disburser.WriteTimeout = 20 * time.Millisecond
	f.disburser.Payments = &slowPayments{PaymentStore: f.payments, slowFor: "emp-a"}

	report, err := f.disburser.Commit(context.Background(), f.confirm(t, f.batch(t)))

	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "emp-a", report.Failures[0].EmployeeID)
	assert.Equal(t, 1, report.SuccessCount)
}

type slowPayments struct {
	payroll.PaymentStore
	slowFor string
}

func (s *slowPayments) AppendPayment(ctx context.Context, p payroll.PaymentRecord) error {
	if p.EmployeeID == s.slowFor {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.PaymentStore.AppendPayment(ctx, p)
}
