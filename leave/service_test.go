package leave_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/leave"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeStore struct {
	mu        sync.Mutex
	records   map[string]leave.Record
	appendErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]leave.Record)}
}

func (s *fakeStore) AppendLeave(_ context.Context, r leave.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.records[r.ID] = r
	return nil
}

func (s *fakeStore) GetLeave(_ context.Context, id string) (*leave.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, generic.ErrNotFound
	}
	return &r, nil
}

func (s *fakeStore) SoftDeleteLeave(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return generic.ErrNotFound
	}
	if !r.IsActive() {
		return generic.ErrAlreadyDeleted
	}
	r.Status = leave.StatusDeleted
	r.DeletedAt = &at
	s.records[id] = r
	return nil
}

func (s *fakeStore) ListLeaves(_ context.Context, f leave.Filter) ([]leave.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []leave.Record
	for _, r := range s.records {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) WatchLeaves(ctx context.Context, f leave.Filter) <-chan generic.Update[leave.Record] {
	return generic.Watch(ctx, generic.NewFeed(), func(ctx context.Context) ([]leave.Record, error) {
		return s.ListLeaves(ctx, f)
	})
}

type fakeDirectory map[string]leave.EmployeeRef

func (d fakeDirectory) LookupEmployee(_ context.Context, id string) (leave.EmployeeRef, error) {
	e, ok := d[id]
	if !ok {
		return leave.EmployeeRef{}, generic.ErrNotFound
	}
	return e, nil
}

func newTestService(t *testing.T) (*leave.Service, *fakeStore) {
	store := newFakeStore()
	dir := fakeDirectory{
		"emp-a": {ID: "emp-a", Name: "Alice", BankSalary: decimal.NewFromInt(3000), Active: true},
		"emp-b": {ID: "emp-b", Name: "Bruno", BankSalary: decimal.NewFromInt(2000), Active: true},
		"emp-x": {ID: "emp-x", Name: "Xavier", BankSalary: decimal.NewFromInt(2500), Active: false},
	}
	svc := leave.NewService(store, dir, zaptest.NewLogger(t))
	svc.Now = func() time.Time { return time.Date(2025, time.March, 20, 9, 0, 0, 0, time.UTC) }
	n := 0
	svc.NewID = func() string {
		n++
		return "leave-" + string(rune('0'+n))
	}
	return svc, store
}

// =============================================================================
// RECORD
// =============================================================================

func TestService_RecordUnpaidLeave(t *testing.T) {
	// GIVEN: employee with a 3000 bank salary
	// WHEN: 3 days of unpaid leave are recorded
	// THEN: the record snapshots daily 100 and deduction 300 in the start month

	svc, store := newTestService(t)
	ctx := context.Background()

	r, err := svc.Record(ctx, leave.RecordInput{
		EmployeeID: "emp-a",
		Type:       leave.Unpaid,
		Start:      date(2025, time.March, 10),
		End:        date(2025, time.March, 12),
		Note:       "  family  ",
		CreatedBy:  "ops",
	})

	require.NoError(t, err)
	assert.Equal(t, "leave-1", r.ID)
	assert.Equal(t, "Alice", r.EmployeeName)
	assert.Equal(t, 3, r.Days)
	assert.True(t, money("100").Equal(r.DailySalary))
	assert.True(t, money("300").Equal(r.Deduction))
	assert.Equal(t, generic.MonthKey("2025-03"), r.Month)
	assert.Equal(t, leave.StatusActive, r.Status)
	assert.Equal(t, "family", r.Note)

	stored, err := store.GetLeave(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Deduction.String(), stored.Deduction.String())
}

func TestService_RecordSickLeave(t *testing.T) {
	svc, _ := newTestService(t)

	r, err := svc.Record(context.Background(), leave.RecordInput{
		EmployeeID: "emp-b",
		Type:       leave.Sick,
		Start:      date(2025, time.March, 1),
		End:        date(2025, time.March, 10),
	})

	require.NoError(t, err)
	assert.Equal(t, 10, r.Days)
	assert.True(t, money("133.33").Equal(r.Deduction), r.Deduction.String())
}

func TestService_RecordCrossMonthBelongsToStartMonth(t *testing.T) {
	svc, _ := newTestService(t)

	r, err := svc.Record(context.Background(), leave.RecordInput{
		EmployeeID: "emp-a",
		Type:       leave.Unpaid,
		Start:      date(2025, time.January, 30),
		End:        date(2025, time.February, 2),
	})

	require.NoError(t, err)
	assert.Equal(t, 4, r.Days)
	assert.Equal(t, generic.MonthKey("2025-01"), r.Month)
}

func TestService_RecordRejections(t *testing.T) {
	tests := []struct {
		name  string
		in    leave.RecordInput
		check func(t *testing.T, err error)
	}{
		{
			name: "missing employee",
			in:   leave.RecordInput{Type: leave.Unpaid, Start: date(2025, 3, 1), End: date(2025, 3, 1)},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, generic.ErrValidation)
			},
		},
		{
			name: "unknown employee",
			in:   leave.RecordInput{EmployeeID: "ghost", Type: leave.Unpaid, Start: date(2025, 3, 1), End: date(2025, 3, 1)},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, generic.ErrValidation)
			},
		},
		{
			name: "inactive employee",
			in:   leave.RecordInput{EmployeeID: "emp-x", Type: leave.Unpaid, Start: date(2025, 3, 1), End: date(2025, 3, 1)},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, generic.ErrValidation)
			},
		},
		{
			name: "end before start",
			in:   leave.RecordInput{EmployeeID: "emp-a", Type: leave.Unpaid, Start: date(2025, 3, 10), End: date(2025, 3, 9)},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, generic.ErrInvalidPeriod)
			},
		},
		{
			name: "unknown type",
			in:   leave.RecordInput{EmployeeID: "emp-a", Type: "sabbatical", Start: date(2025, 3, 1), End: date(2025, 3, 2)},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, generic.ErrConfiguration)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestService(t)

			_, err := svc.Record(context.Background(), tt.in)

			require.Error(t, err)
			tt.check(t, err)
			assert.Empty(t, store.records, "nothing is written on rejection")
		})
	}
}

func TestService_RecordPersistenceFailure(t *testing.T) {
	svc, store := newTestService(t)
	store.appendErr = errors.New("connection reset")

	_, err := svc.Record(context.Background(), leave.RecordInput{
		EmployeeID: "emp-a", Type: leave.Unpaid,
		Start: date(2025, time.March, 1), End: date(2025, time.March, 1),
	})

	assert.ErrorIs(t, err, generic.ErrPersistence)
	var pErr *generic.PersistenceError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "emp-a", pErr.EmployeeID)
}

func TestService_PreviewWritesNothing(t *testing.T) {
	svc, store := newTestService(t)

	d, emp, err := svc.Preview(context.Background(), leave.RecordInput{
		EmployeeID: "emp-a", Type: leave.Unpaid,
		Start: date(2025, time.March, 10), End: date(2025, time.March, 12),
	})

	require.NoError(t, err)
	assert.Equal(t, "Alice", emp.Name)
	assert.True(t, money("300").Equal(d.Amount))
	assert.Empty(t, store.records)
}

// =============================================================================
// DELETE
// =============================================================================

func TestService_DeleteIsSoft(t *testing.T) {
	// GIVEN: one recorded leave
	// WHEN: it is deleted twice
	// THEN: it stays in the store as deleted, and the second delete conflicts

	svc, store := newTestService(t)
	ctx := context.Background()
	r, err := svc.Record(ctx, leave.RecordInput{
		EmployeeID: "emp-a", Type: leave.Unpaid,
		Start: date(2025, time.March, 10), End: date(2025, time.March, 12),
	})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, r.ID))

	got, err := store.GetLeave(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusDeleted, got.Status)
	require.NotNil(t, got.DeletedAt)

	active, err := svc.List(ctx, leave.Filter{Month: "2025-03"})
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := svc.List(ctx, leave.Filter{Month: "2025-03", IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	err = svc.Delete(ctx, r.ID)
	assert.ErrorIs(t, err, generic.ErrAlreadyDeleted)
}

func TestService_DeleteUnknown(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.Delete(context.Background(), "nope")

	assert.ErrorIs(t, err, generic.ErrNotFound)
}
