/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication, decoupled from the
  domain types in leave and payroll.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Composite response wrappers

MONEY:
  Amounts travel as decimal strings ("2700.00") both ways so no float ever
  touches a salary.

VALIDATION:
  Request types carry go-playground/validator tags; handlers.decode runs
  them and turns the first failure into a generic.ValidationError.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/payroll-engine/leave"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// EMPLOYEES
// =============================================================================

type EmployeeDTO struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	FullName         string `json:"full_name,omitempty"`
	FirstName        string `json:"first_name,omitempty"`
	LastName         string `json:"last_name,omitempty"`
	BankSalary       string `json:"bank_salary"`
	CashSalary       string `json:"cash_salary"`
	Status           string `json:"status"`
	LastPaymentDate  string `json:"last_payment_date,omitempty"`
	LastPaymentMonth string `json:"last_payment_month,omitempty"`
	LastBankAmount   string `json:"last_bank_amount,omitempty"`
}

// CreateEmployeeRequest imports a directory entry. One of the name fields
// must be set.
type CreateEmployeeRequest struct {
	ID         string `json:"id" validate:"required,max=64"`
	FullName   string `json:"full_name" validate:"required_without_all=Name FirstName LastName,max=200"`
	Name       string `json:"name" validate:"max=200"`
	FirstName  string `json:"first_name" validate:"max=100"`
	LastName   string `json:"last_name" validate:"max=100"`
	BankSalary string `json:"bank_salary" validate:"required,numeric"`
	CashSalary string `json:"cash_salary" validate:"omitempty,numeric"`
	Status     string `json:"status" validate:"omitempty,oneof=active inactive"`
}

func toEmployeeDTO(e payroll.Employee) EmployeeDTO {
	dto := EmployeeDTO{
		ID:               e.ID,
		Name:             e.DisplayName(),
		FullName:         e.FullName,
		FirstName:        e.FirstName,
		LastName:         e.LastName,
		BankSalary:       e.BankSalary.StringFixed(2),
		CashSalary:       e.CashSalary.StringFixed(2),
		Status:           string(e.Status),
		LastPaymentDate:  e.Meta.LastPaymentDate.String(),
		LastPaymentMonth: e.Meta.LastPaymentMonth.String(),
	}
	if e.Meta.LastPaymentMonth != "" {
		dto.LastBankAmount = e.Meta.LastBankAmount.StringFixed(2)
	}
	return dto
}

// =============================================================================
// LEAVE
// =============================================================================

type RecordLeaveRequest struct {
	EmployeeID string `json:"employee_id" validate:"required"`
	LeaveType  string `json:"leave_type" validate:"required"`
	StartDate  string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate    string `json:"end_date" validate:"required,datetime=2006-01-02"`
	Note       string `json:"note" validate:"max=500"`
	CreatedBy  string `json:"created_by" validate:"max=100"`
}

type LeaveDTO struct {
	ID           string     `json:"id"`
	EmployeeID   string     `json:"employee_id"`
	EmployeeName string     `json:"employee_name"`
	LeaveType    string     `json:"leave_type"`
	StartDate    string     `json:"start_date"`
	EndDate      string     `json:"end_date"`
	Days         int        `json:"days"`
	DailySalary  string     `json:"daily_salary"`
	Deduction    string     `json:"deduction"`
	Note         string     `json:"note,omitempty"`
	Status       string     `json:"status"`
	Month        string     `json:"month"`
	CreatedBy    string     `json:"created_by,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

type LeavePreviewDTO struct {
	EmployeeID   string `json:"employee_id"`
	EmployeeName string `json:"employee_name"`
	LeaveType    string `json:"leave_type"`
	Days         int    `json:"days"`
	DailySalary  string `json:"daily_salary"`
	Deduction    string `json:"deduction"`
	Explanation  string `json:"explanation"`
}

func toLeaveDTO(r leave.Record) LeaveDTO {
	return LeaveDTO{
		ID:           r.ID,
		EmployeeID:   r.EmployeeID,
		EmployeeName: r.EmployeeName,
		LeaveType:    string(r.Type),
		StartDate:    r.Start.String(),
		EndDate:      r.End.String(),
		Days:         r.Days,
		DailySalary:  r.DailySalary.StringFixed(2),
		Deduction:    r.Deduction.StringFixed(2),
		Note:         r.Note,
		Status:       string(r.Status),
		Month:        r.Month.String(),
		CreatedBy:    r.CreatedBy,
		CreatedAt:    r.CreatedAt,
		DeletedAt:    r.DeletedAt,
	}
}

// =============================================================================
// PAYROLL VIEW AND BATCHES
// =============================================================================

type PayableRowDTO struct {
	EmployeeID    string `json:"employee_id"`
	Name          string `json:"name"`
	BankSalary    string `json:"bank_salary"`
	CashSalary    string `json:"cash_salary"`
	Deduction     string `json:"deduction"`
	LeaveDays     int    `json:"leave_days"`
	NetBankSalary string `json:"net_bank_salary"`
	IsPaid        bool   `json:"is_paid"`
	Selected      bool   `json:"selected"`
	BankAmount    string `json:"bank_amount"`
	Overridden    bool   `json:"overridden"`
}

type TotalsDTO struct {
	SelectedUnpaid         int    `json:"selected_unpaid"`
	Unpaid                 int    `json:"unpaid"`
	Paid                   int    `json:"paid"`
	CashEmployees          int    `json:"cash_employees"`
	SelectedBankTotal      string `json:"selected_bank_total"`
	SelectedDeductionTotal string `json:"selected_deduction_total"`
	PendingCashTotal       string `json:"pending_cash_total"`
}

type PayrollViewResponse struct {
	Month  string          `json:"month"`
	Rows   []PayableRowDTO `json:"rows"`
	Totals TotalsDTO       `json:"totals"`
}

type BatchResponse struct {
	ID           string           `json:"id"`
	Month        string           `json:"month"`
	Rows         []PayableRowDTO  `json:"rows"`
	Totals       TotalsDTO        `json:"totals"`
	Confirmation *ConfirmationDTO `json:"confirmation,omitempty"`
}

type SetAmountRequest struct {
	Amount string `json:"amount" validate:"required,numeric"`
}

type ConfirmRequest struct {
	PaymentDate string `json:"payment_date" validate:"required,datetime=2006-01-02"`
}

type ConfirmationDTO struct {
	ID          string `json:"confirmation_id"`
	Month       string `json:"month"`
	PaymentDate string `json:"payment_date"`
	Total       string `json:"total"`
	Count       int    `json:"count"`
	Message     string `json:"message"`
}

// CommitRequest echoes the confirmed total. A missing confirmation is
// answered with 428, not a validation error.
type CommitRequest struct {
	ConfirmationID string `json:"confirmation_id"`
	Total          string `json:"total" validate:"omitempty,numeric"`
}

type FailureDTO struct {
	EmployeeID string `json:"employee_id"`
	Name       string `json:"name"`
	Message    string `json:"message"`
}

type ReportDTO struct {
	RunID        string       `json:"run_id"`
	Month        string       `json:"month"`
	PaymentDate  string       `json:"payment_date"`
	Attempted    int          `json:"attempted"`
	SuccessCount int          `json:"success_count"`
	Failures     []FailureDTO `json:"failures"`
	Total        string       `json:"total"`
	PaidTotal    string       `json:"paid_total"`
	Summary      string       `json:"summary"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
}

func toRowDTOs(views []payroll.PayableView) []PayableRowDTO {
	out := make([]PayableRowDTO, len(views))
	for i, v := range views {
		out[i] = PayableRowDTO{
			EmployeeID:    v.EmployeeID,
			Name:          v.Name,
			BankSalary:    v.BankSalary.StringFixed(2),
			CashSalary:    v.CashSalary.StringFixed(2),
			Deduction:     v.Deduction.StringFixed(2),
			LeaveDays:     v.LeaveDays,
			NetBankSalary: v.NetBankSalary.StringFixed(2),
			IsPaid:        v.IsPaid,
			Selected:      v.Selected,
			BankAmount:    v.BankAmount.StringFixed(2),
			Overridden:    v.Overridden,
		}
	}
	return out
}

func toTotalsDTO(t payroll.Totals) TotalsDTO {
	return TotalsDTO{
		SelectedUnpaid:         t.SelectedUnpaid,
		Unpaid:                 t.Unpaid,
		Paid:                   t.Paid,
		CashEmployees:          t.CashEmployees,
		SelectedBankTotal:      t.SelectedBankTotal.StringFixed(2),
		SelectedDeductionTotal: t.SelectedDeductionTotal.StringFixed(2),
		PendingCashTotal:       t.PendingCashTotal.StringFixed(2),
	}
}

func toConfirmationDTO(c *payroll.Confirmation) *ConfirmationDTO {
	if c == nil {
		return nil
	}
	return &ConfirmationDTO{
		ID:          c.ID,
		Month:       c.Month.String(),
		PaymentDate: c.PaymentDate.String(),
		Total:       c.Total.StringFixed(2),
		Count:       c.Count,
		Message:     "Pay " + c.Total.StringFixed(2) + " to the selected employees? Echo the total to commit.",
	}
}

func toFailureDTOs(fs []payroll.Failure) []FailureDTO {
	out := make([]FailureDTO, len(fs))
	for i, f := range fs {
		out[i] = FailureDTO{EmployeeID: f.EmployeeID, Name: f.Name, Message: f.Message}
	}
	return out
}

func toReportDTO(r payroll.Report) ReportDTO {
	return ReportDTO{
		RunID:        r.RunID,
		Month:        r.Month.String(),
		PaymentDate:  r.PaymentDate.String(),
		Attempted:    r.Attempted,
		SuccessCount: r.SuccessCount,
		Failures:     toFailureDTOs(r.Failures),
		Total:        r.Total.StringFixed(2),
		PaidTotal:    r.PaidTotal.StringFixed(2),
		Summary:      r.Summary(),
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
	}
}

// =============================================================================
// PAYMENTS AND RUNS
// =============================================================================

type PaymentDTO struct {
	ID           string    `json:"id"`
	EmployeeID   string    `json:"employee_id"`
	EmployeeName string    `json:"employee_name"`
	Amount       string    `json:"amount"`
	GrossAmount  string    `json:"gross_amount"`
	Deduction    string    `json:"deduction"`
	PaymentDate  string    `json:"payment_date"`
	PaymentType  string    `json:"payment_type"`
	Status       string    `json:"status"`
	Month        string    `json:"month"`
	RunID        string    `json:"run_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func toPaymentDTO(p payroll.PaymentRecord) PaymentDTO {
	return PaymentDTO{
		ID:           p.ID,
		EmployeeID:   p.EmployeeID,
		EmployeeName: p.EmployeeName,
		Amount:       p.Amount.StringFixed(2),
		GrossAmount:  p.GrossAmount.StringFixed(2),
		Deduction:    p.Deduction.StringFixed(2),
		PaymentDate:  p.PaymentDate.String(),
		PaymentType:  string(p.Type),
		Status:       string(p.Status),
		Month:        p.Month.String(),
		RunID:        p.RunID,
		CreatedAt:    p.CreatedAt,
	}
}

type RunDTO struct {
	ID           string       `json:"id"`
	Month        string       `json:"month"`
	PaymentDate  string       `json:"payment_date"`
	Attempted    int          `json:"attempted"`
	SuccessCount int          `json:"success_count"`
	FailureCount int          `json:"failure_count"`
	Total        string       `json:"total"`
	PaidTotal    string       `json:"paid_total"`
	Failures     []FailureDTO `json:"failures"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
}

func toRunDTO(r payroll.RunRecord) RunDTO {
	return RunDTO{
		ID:           r.ID,
		Month:        r.Month.String(),
		PaymentDate:  r.PaymentDate.String(),
		Attempted:    r.Attempted,
		SuccessCount: r.SuccessCount,
		FailureCount: r.FailureCount,
		Total:        r.Total.StringFixed(2),
		PaidTotal:    r.PaidTotal.StringFixed(2),
		Failures:     toFailureDTOs(r.Failures),
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
	}
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Month       string `json:"month"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}
