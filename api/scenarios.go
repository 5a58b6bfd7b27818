/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for demos. Each scenario imports employees, records leave through
	the leave service and optionally seeds prior payments.

AVAILABLE SCENARIOS:

	unpaid-leave:   3000 salary, 3 unpaid days, net 2700
	sick-leave:     2000 salary, 10 sick days, net 1866.67
	already-paid:   one employee holds a paid bank record for the month
	two-employees:  two unpaid employees ready for a batch with an override
	full-team:      mixed leave types, cash salaries, legacy name fields,
	                a cross-month leave, a deleted leave, an inactive employee

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Import employees
 3. Record leave through leave.Service (same path as the API)
 4. Optionally seed payments

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "unpaid-leave"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler wiring
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/leave"
	"github.com/warp/payroll-engine/payroll"
)

// ScenarioMonth is the payroll month every scenario is built around.
const ScenarioMonth generic.MonthKey = "2025-03"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "unpaid-leave",
		Name:        "Unpaid Leave",
		Description: "3000 bank salary with 3 unpaid days: deduction 300, net 2700",
		Month:       ScenarioMonth.String(),
	},
	{
		ID:          "sick-leave",
		Name:        "Sick Leave",
		Description: "2000 bank salary with 10 sick days at 20% withholding: net 1866.67",
		Month:       ScenarioMonth.String(),
	},
	{
		ID:          "already-paid",
		Name:        "Already Paid",
		Description: "One employee already holds a paid bank record and is not selectable",
		Month:       ScenarioMonth.String(),
	},
	{
		ID:          "two-employees",
		Name:        "Two Employees",
		Description: "Two unpaid employees; override the second to 1800 for a 4500 batch",
		Month:       ScenarioMonth.String(),
	},
	{
		ID:          "full-team",
		Name:        "Full Team",
		Description: "Mixed leave types, cash salaries, legacy names, deleted and cross-month leave",
		Month:       ScenarioMonth.String(),
	},
}

var scenarioLoaders = map[string]func(h *Handler, ctx context.Context) error{
	"unpaid-leave":  (*Handler).loadUnpaidLeaveScenario,
	"sick-leave":    (*Handler).loadSickLeaveScenario,
	"already-paid":  (*Handler).loadAlreadyPaidScenario,
	"two-employees": (*Handler).loadTwoEmployeesScenario,
	"full-team":     (*Handler).loadFullTeamScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	if err := load(h, ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	h.Logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) reset(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadUnpaidLeaveScenario(ctx context.Context) error {
	if err := h.saveEmployees(ctx, demoEmployee("emp-alice", "Alice Martin", "3000", "0")); err != nil {
		return err
	}
	return h.recordLeaves(ctx, demoLeave("emp-alice", leave.Unpaid, 10, 12, "family matters"))
}

func (h *Handler) loadSickLeaveScenario(ctx context.Context) error {
	if err := h.saveEmployees(ctx, demoEmployee("emp-bruno", "Bruno Costa", "2000", "0")); err != nil {
		return err
	}
	return h.recordLeaves(ctx, demoLeave("emp-bruno", leave.Sick, 3, 12, "flu"))
}

func (h *Handler) loadAlreadyPaidScenario(ctx context.Context) error {
	err := h.saveEmployees(ctx,
		demoEmployee("emp-alice", "Alice Martin", "3000", "0"),
		demoEmployee("emp-carla", "Carla Duarte", "2500", "0"),
	)
	if err != nil {
		return err
	}
	return h.seedPayment(ctx, "emp-carla", "Carla Duarte", "2500", 1)
}

func (h *Handler) loadTwoEmployeesScenario(ctx context.Context) error {
	err := h.saveEmployees(ctx,
		demoEmployee("emp-alice", "Alice Martin", "3000", "0"),
		demoEmployee("emp-bruno", "Bruno Costa", "2000", "500"),
	)
	if err != nil {
		return err
	}
	return h.recordLeaves(ctx, demoLeave("emp-alice", leave.Unpaid, 10, 12, ""))
}

func (h *Handler) loadFullTeamScenario(ctx context.Context) error {
	legacy := payroll.Employee{
		ID:         "emp-dmitri",
		FirstName:  "Dmitri",
		LastName:   "Volkov",
		BankSalary: generic.MustParseDecimal("2800"),
		CashSalary: generic.MustParseDecimal("300"),
		Status:     payroll.EmployeeActive,
	}
	shortName := payroll.Employee{
		ID:         "emp-emilie",
		Name:       "émilie",
		BankSalary: generic.MustParseDecimal("2200"),
		Status:     payroll.EmployeeActive,
	}
	gone := demoEmployee("emp-frank", "Frank Ochoa", "2600", "0")
	gone.Status = payroll.EmployeeInactive

	err := h.saveEmployees(ctx,
		demoEmployee("emp-alice", "Alice Martin", "3000", "0"),
		demoEmployee("emp-bruno", "Bruno Costa", "2000", "500"),
		demoEmployee("emp-carla", "Carla Duarte", "2500", "0"),
		legacy,
		shortName,
		gone,
	)
	if err != nil {
		return err
	}

	err = h.recordLeaves(ctx,
		demoLeave("emp-alice", leave.Unpaid, 10, 12, ""),
		demoLeave("emp-alice", leave.Annual, 20, 21, "long weekend"),
		demoLeave("emp-bruno", leave.Sick, 3, 12, ""),
		demoLeave("emp-dmitri", leave.WorkAccident, 5, 9, "site injury"),
		// Belongs to March: a record is scoped to the month it starts in.
		leave.RecordInput{
			EmployeeID: "emp-emilie",
			Type:       leave.Unpaid,
			Start:      generic.NewDate(2025, time.March, 28),
			End:        generic.NewDate(2025, time.April, 2),
			CreatedBy:  "scenario",
		},
	)
	if err != nil {
		return err
	}

	mistake, err := h.Leaves.Record(ctx, demoLeave("emp-carla", leave.Unpaid, 17, 19, "entered by mistake"))
	if err != nil {
		return err
	}
	if err := h.Leaves.Delete(ctx, mistake.ID); err != nil {
		return err
	}

	// Paid last month, unpaid this month.
	return h.seedPaymentFor(ctx, "emp-alice", "Alice Martin", "3000", generic.NewDate(2025, time.February, 28))
}

// =============================================================================
// HELPERS
// =============================================================================

func demoEmployee(id, fullName, bank, cash string) payroll.Employee {
	return payroll.Employee{
		ID:         id,
		FullName:   fullName,
		BankSalary: generic.MustParseDecimal(bank),
		CashSalary: generic.MustParseDecimal(cash),
		Status:     payroll.EmployeeActive,
	}
}

func demoLeave(employeeID string, t leave.Type, fromDay, toDay int, note string) leave.RecordInput {
	return leave.RecordInput{
		EmployeeID: employeeID,
		Type:       t,
		Start:      generic.NewDate(2025, time.March, fromDay),
		End:        generic.NewDate(2025, time.March, toDay),
		Note:       note,
		CreatedBy:  "scenario",
	}
}

func (h *Handler) saveEmployees(ctx context.Context, employees ...payroll.Employee) error {
	for _, e := range employees {
		if err := h.Store.SaveEmployee(ctx, e); err != nil {
			return fmt.Errorf("save employee %s: %w", e.ID, err)
		}
	}
	return nil
}

func (h *Handler) recordLeaves(ctx context.Context, inputs ...leave.RecordInput) error {
	for _, in := range inputs {
		if _, err := h.Leaves.Record(ctx, in); err != nil {
			return fmt.Errorf("record leave for %s: %w", in.EmployeeID, err)
		}
	}
	return nil
}

func (h *Handler) seedPayment(ctx context.Context, employeeID, name, amount string, day int) error {
	return h.seedPaymentFor(ctx, employeeID, name, amount, generic.NewDate(2025, time.March, day))
}

func (h *Handler) seedPaymentFor(ctx context.Context, employeeID, name, amount string, date generic.Date) error {
	amt := generic.MustParseDecimal(amount)
	p := payroll.PaymentRecord{
		ID:           fmt.Sprintf("seed-%s-%s", employeeID, date.MonthKey()),
		EmployeeID:   employeeID,
		EmployeeName: name,
		Amount:       amt,
		GrossAmount:  amt,
		Deduction:    generic.MustParseDecimal("0"),
		PaymentDate:  date,
		Type:         payroll.PaymentBank,
		Status:       payroll.PaymentPaid,
		Month:        date.MonthKey(),
		CreatedAt:    date.Time,
	}
	if err := h.Store.AppendPayment(ctx, p); err != nil {
		return fmt.Errorf("seed payment for %s: %w", employeeID, err)
	}
	return h.Store.UpdateSalaryMeta(ctx, employeeID, payroll.SalaryMeta{
		LastPaymentDate:  date,
		LastPaymentMonth: date.MonthKey(),
		LastBankAmount:   amt,
	})
}
