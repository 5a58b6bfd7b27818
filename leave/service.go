package leave

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"github.com/warp/payroll-engine/generic"
)

// RecordInput is an operator's leave entry.
type RecordInput struct {
	EmployeeID string
	Type       Type
	Start      generic.Date
	End        generic.Date
	Note       string
	CreatedBy  string
}

// Service records leave and soft-deletes it.
type Service struct {
	store     Store
	employees EmployeeLookup
	logger    *zap.Logger

	Now   func() time.Time
	NewID func() string
}

func NewService(store Store, employees EmployeeLookup, logger ...*zap.Logger) *Service {
	l := zap.L().Named("leave.service")
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0].Named("leave.service")
	}
	return &Service{
		store:     store,
		employees: employees,
		logger:    l,
		Now:       time.Now,
		NewID:     func() string { return uuid.NewString() },
	}
}

// Preview runs the rule engine against the employee's current salary without
// writing anything.
func (s *Service) Preview(ctx context.Context, in RecordInput) (Deduction, EmployeeRef, error) {
	if strings.TrimSpace(in.EmployeeID) == "" {
		return Deduction{}, EmployeeRef{}, generic.Validationf("employee_id", "employee is required")
	}

	period, err := generic.NewPeriod(in.Start, in.End)
	if err != nil {
		return Deduction{}, EmployeeRef{}, err
	}

	emp, err := s.employees.LookupEmployee(ctx, in.EmployeeID)
	if err != nil {
		if errors.Is(err, generic.ErrNotFound) {
			return Deduction{}, EmployeeRef{}, generic.Validationf("employee_id", "unknown employee %q", in.EmployeeID)
		}
		return Deduction{}, EmployeeRef{}, err
	}
	if !emp.Active {
		return Deduction{}, EmployeeRef{}, generic.Validationf("employee_id", "employee %q is not active", in.EmployeeID)
	}

	d, err := Compute(emp.BankSalary, in.Type, period)
	if err != nil {
		return Deduction{}, EmployeeRef{}, err
	}
	return d, emp, nil
}

// Record computes the deduction and appends a new active leave record.
func (s *Service) Record(ctx context.Context, in RecordInput) (Record, error) {
	s.logger.Debug("record leave requested",
		zap.String("employee_id", in.EmployeeID),
		zap.String("leave_type", string(in.Type)),
		zap.Stringer("start", in.Start),
		zap.Stringer("end", in.End),
	)

	d, emp, err := s.Preview(ctx, in)
	if err != nil {
		if errors.Is(err, generic.ErrConfiguration) {
			s.logger.Error("record leave rejected by rule engine", zap.Error(err))
		} else {
			s.logger.Warn("record leave validation failed", zap.Error(err))
		}
		return Record{}, err
	}

	r := Record{
		ID:           s.NewID(),
		EmployeeID:   emp.ID,
		EmployeeName: emp.Name,
		Type:         in.Type,
		Start:        in.Start,
		End:          in.End,
		Days:         d.Days,
		DailySalary:  d.DailySalary,
		Deduction:    d.Amount,
		Note:         strings.TrimSpace(in.Note),
		Status:       StatusActive,
		Month:        in.Start.MonthKey(),
		CreatedBy:    in.CreatedBy,
		CreatedAt:    s.Now().UTC(),
	}

	if err := s.store.AppendLeave(ctx, r); err != nil {
		s.logger.Error("record leave persist failed", zap.String("employee_id", emp.ID), zap.Error(err))
		return Record{}, &generic.PersistenceError{Op: "append leave", EmployeeID: emp.ID, Err: err}
	}

	s.logger.Info("record leave success",
		zap.String("leave_id", r.ID),
		zap.String("employee_id", r.EmployeeID),
		zap.String("month", r.Month.String()),
		zap.Int("days", r.Days),
		zap.String("deduction", r.Deduction.StringFixed(2)),
	)
	return r, nil
}

// Delete soft-deletes a leave record. The record stays in the store with
// status deleted and stops counting towards the month's deductions.
func (s *Service) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return generic.Validationf("id", "leave id is required")
	}

	if err := s.store.SoftDeleteLeave(ctx, id, s.Now().UTC()); err != nil {
		if generic.IsNotFound(err) || generic.IsConflict(err) {
			return err
		}
		s.logger.Error("delete leave failed", zap.String("leave_id", id), zap.Error(err))
		return &generic.PersistenceError{Op: "soft delete leave", Err: err}
	}

	s.logger.Info("delete leave success", zap.String("leave_id", id))
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	return s.store.GetLeave(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]Record, error) {
	return s.store.ListLeaves(ctx, f)
}
