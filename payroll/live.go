package payroll

import (
	"context"

	"go.uber.org/zap"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/leave"
)

// Sources are the three reactive inputs of a month's payable view.
type Sources struct {
	Directory Directory
	Leaves    leave.Store
	Payments  PaymentStore
}

// Watch re-aggregates month every time the roster, the month's leave or the
// month's payments change. Nothing is emitted until each source has
// delivered once. The channel closes when ctx is done or a source closes.
func Watch(ctx context.Context, src Sources, month generic.MonthKey, opts Options, logger *zap.Logger) <-chan generic.Update[PayableView] {
	if logger == nil {
		logger = zap.L()
	}
	logger = logger.Named("payroll.live").With(zap.String("month", month.String()))

	employeesCh := src.Directory.WatchEmployees(ctx)
	leavesCh := src.Leaves.WatchLeaves(ctx, leave.Filter{Month: month})
	paymentsCh := src.Payments.WatchPayments(ctx, PaymentFilter{Month: month})

	out := make(chan generic.Update[PayableView])

	go func() {
		defer close(out)

		var (
			employees           []Employee
			leaves              []leave.Record
			payments            []PaymentRecord
			haveE, haveL, haveP bool
		)

		for {
			var err error
			select {
			case <-ctx.Done():
				return
			case u, ok := <-employeesCh:
				if !ok {
					return
				}
				if err = u.Err; err == nil {
					employees, haveE = u.Items, true
				}
			case u, ok := <-leavesCh:
				if !ok {
					return
				}
				if err = u.Err; err == nil {
					leaves, haveL = u.Items, true
				}
			case u, ok := <-paymentsCh:
				if !ok {
					return
				}
				if err = u.Err; err == nil {
					payments, haveP = u.Items, true
				}
			}

			var next generic.Update[PayableView]
			switch {
			case err != nil:
				logger.Warn("source reload failed", zap.Error(err))
				next.Err = err
			case haveE && haveL && haveP:
				next.Items = Aggregate(month, employees, leaves, payments, opts)
			default:
				continue
			}

			select {
			case out <- next:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// Load aggregates month once from the current state of the sources.
func Load(ctx context.Context, src Sources, month generic.MonthKey, opts Options) ([]PayableView, error) {
	employees, err := src.Directory.ListEmployees(ctx)
	if err != nil {
		return nil, err
	}
	leaves, err := src.Leaves.ListLeaves(ctx, leave.Filter{Month: month})
	if err != nil {
		return nil, err
	}
	payments, err := src.Payments.ListPayments(ctx, PaymentFilter{Month: month})
	if err != nil {
		return nil, err
	}
	return Aggregate(month, employees, leaves, payments, opts), nil
}
