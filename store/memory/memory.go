// Package memory provides in-memory stores for tests and local development.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/leave"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// MEMORY STORE - employees, leave, payments and runs in one process
// =============================================================================

type Store struct {
	mu        sync.RWMutex
	employees map[string]payroll.Employee
	leaves    []leave.Record
	payments  []payroll.PaymentRecord
	runs      []payroll.RunRecord
	paid      map[paidKey]bool

	employeeFeed *generic.Feed
	leaveFeed    *generic.Feed
	paymentFeed  *generic.Feed
}

// paidKey mirrors the unique index on paid payments.
type paidKey struct {
	EmployeeID string
	Month      generic.MonthKey
	Type       payroll.PaymentType
}

func New() *Store {
	return &Store{
		employees:    make(map[string]payroll.Employee),
		paid:         make(map[paidKey]bool),
		employeeFeed: generic.NewFeed(),
		leaveFeed:    generic.NewFeed(),
		paymentFeed:  generic.NewFeed(),
	}
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (s *Store) ListEmployees(_ context.Context) ([]payroll.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]payroll.Employee, 0, len(s.employees))
	for _, e := range s.employees {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b payroll.Employee) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) GetEmployee(_ context.Context, id string) (*payroll.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.employees[id]
	if !ok {
		return nil, generic.ErrNotFound
	}
	return &e, nil
}

func (s *Store) SaveEmployee(_ context.Context, e payroll.Employee) error {
	s.mu.Lock()
	s.employees[e.ID] = e
	s.mu.Unlock()

	s.employeeFeed.Publish()
	return nil
}

func (s *Store) UpdateSalaryMeta(_ context.Context, id string, meta payroll.SalaryMeta) error {
	s.mu.Lock()
	e, ok := s.employees[id]
	if !ok {
		s.mu.Unlock()
		return generic.ErrNotFound
	}
	e.Meta = meta
	s.employees[id] = e
	s.mu.Unlock()

	s.employeeFeed.Publish()
	return nil
}

func (s *Store) WatchEmployees(ctx context.Context) <-chan generic.Update[payroll.Employee] {
	return generic.Watch(ctx, s.employeeFeed, s.ListEmployees)
}

// LookupEmployee lets the store serve leave.Service directly.
func (s *Store) LookupEmployee(ctx context.Context, id string) (leave.EmployeeRef, error) {
	return payroll.EmployeeLookup{Directory: s}.LookupEmployee(ctx, id)
}

// =============================================================================
// LEAVE
// =============================================================================

func (s *Store) AppendLeave(_ context.Context, r leave.Record) error {
	s.mu.Lock()
	s.leaves = append(s.leaves, r)
	s.mu.Unlock()

	s.leaveFeed.Publish()
	return nil
}

func (s *Store) GetLeave(_ context.Context, id string) (*leave.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.leaves {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, generic.ErrNotFound
}

func (s *Store) SoftDeleteLeave(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	i := slices.IndexFunc(s.leaves, func(r leave.Record) bool { return r.ID == id })
	if i < 0 {
		s.mu.Unlock()
		return generic.ErrNotFound
	}
	if !s.leaves[i].IsActive() {
		s.mu.Unlock()
		return generic.ErrAlreadyDeleted
	}
	s.leaves[i].Status = leave.StatusDeleted
	s.leaves[i].DeletedAt = &at
	s.mu.Unlock()

	s.leaveFeed.Publish()
	return nil
}

func (s *Store) ListLeaves(_ context.Context, f leave.Filter) ([]leave.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []leave.Record
	for _, r := range s.leaves {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) WatchLeaves(ctx context.Context, f leave.Filter) <-chan generic.Update[leave.Record] {
	return generic.Watch(ctx, s.leaveFeed, func(ctx context.Context) ([]leave.Record, error) {
		return s.ListLeaves(ctx, f)
	})
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (s *Store) AppendPayment(_ context.Context, p payroll.PaymentRecord) error {
	s.mu.Lock()
	if p.Status == payroll.PaymentPaid {
		k := paidKey{EmployeeID: p.EmployeeID, Month: p.Month, Type: p.Type}
		if s.paid[k] {
			s.mu.Unlock()
			return generic.ErrAlreadyPaid
		}
		s.paid[k] = true
	}
	s.payments = append(s.payments, p)
	s.mu.Unlock()

	s.paymentFeed.Publish()
	return nil
}

func (s *Store) ListPayments(_ context.Context, f payroll.PaymentFilter) ([]payroll.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []payroll.PaymentRecord
	for _, p := range s.payments {
		if f.Match(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) WatchPayments(ctx context.Context, f payroll.PaymentFilter) <-chan generic.Update[payroll.PaymentRecord] {
	return generic.Watch(ctx, s.paymentFeed, func(ctx context.Context) ([]payroll.PaymentRecord, error) {
		return s.ListPayments(ctx, f)
	})
}

// =============================================================================
// RUNS
// =============================================================================

func (s *Store) SaveRun(_ context.Context, r payroll.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, r)
	return nil
}

// ListRuns returns runs newest first. An empty month lists every run.
func (s *Store) ListRuns(_ context.Context, month generic.MonthKey) ([]payroll.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []payroll.RunRecord
	for i := len(s.runs) - 1; i >= 0; i-- {
		if month == "" || s.runs[i].Month == month {
			out = append(out, s.runs[i])
		}
	}
	return out, nil
}

// Reset drops every record and wakes all watchers.
func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	s.employees = make(map[string]payroll.Employee)
	s.paid = make(map[paidKey]bool)
	s.leaves = nil
	s.payments = nil
	s.runs = nil
	s.mu.Unlock()

	s.employeeFeed.Publish()
	s.leaveFeed.Publish()
	s.paymentFeed.Publish()
	return nil
}
