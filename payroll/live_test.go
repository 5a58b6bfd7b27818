package payroll_test

import (
	"context"
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

func next(t *testing.T, ch <-chan generic.Update[payroll.PayableView]) []payroll.PayableView {
	t.Helper()
	select {
	case u, ok := <-ch:
		require.True(t, ok, "stream closed")
		require.NoError(t, u.Err)
		return u.Items
	case <-time.After(2 * time.Second):
		t.Fatal("no update")
		return nil
	}
}

// waitFor drains updates until cond holds.
func waitFor(t *testing.T, ch <-chan generic.Update[payroll.PayableView], cond func([]payroll.PayableView) bool) []payroll.PayableView {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case u, ok := <-ch:
			require.True(t, ok, "stream closed")
			if u.Err == nil && cond(u.Items) {
				return u.Items
			}
		case <-deadline:
			t.Fatal("condition never held")
			return nil
		}
	}
}

func TestWatch_RecomputesOnEveryStore(t *testing.T) {
	// GIVEN: a live view over March with one employee
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := memory.New()
	require.NoError(t, store.SaveEmployee(ctx, employee("emp-a", "Alice", "3000")))

	updates := payroll.Watch(ctx, payroll.Sources{Directory: store, Leaves: store, Payments: store},
		march, payroll.Options{}, zaptest.NewLogger(t))

	views := next(t, updates)
	require.Len(t, views, 1)
	assert.True(t, money("3000").Equal(views[0].NetBankSalary))

	// WHEN: leave is recorded
	require.NoError(t, store.AppendLeave(ctx, leaveRecord(t, "l1", "emp-a", leave.Unpaid, "3000", d(10), d(12))))

	// THEN: the net drops
	waitFor(t, updates, func(v []payroll.PayableView) bool {
		return len(v) == 1 && v[0].NetBankSalary.Equal(money("2700"))
	})

	// WHEN: a payment lands
	require.NoError(t, store.AppendPayment(ctx, paidRecord("emp-a", march)))

	// THEN: the row turns paid
	waitFor(t, updates, func(v []payroll.PayableView) bool { return len(v) == 1 && v[0].IsPaid })

	// WHEN: a new employee joins
	require.NoError(t, store.SaveEmployee(ctx, employee("emp-b", "Bruno", "2000")))

	// THEN
	waitFor(t, updates, func(v []payroll.PayableView) bool { return len(v) == 2 })

	cancel()
	for range updates {
	}
}

func TestLoad_MatchesAggregate(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.SaveEmployee(ctx, employee("emp-a", "Alice", "3000")))
	require.NoError(t, store.AppendLeave(ctx, leaveRecord(t, "l1", "emp-a", leave.Unpaid, "3000", d(10), d(12))))

	views, err := payroll.Load(ctx, payroll.Sources{Directory: store, Leaves: store, Payments: store}, march, payroll.Options{})

	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, money("2700").Equal(views[0].NetBankSalary))
	assert.Equal(t, 3, views[0].LeaveDays)
}
