/*
handlers.go - HTTP API handlers for the payroll engine

PURPOSE:
  Exposes leave recording, the monthly payable view and batch
  disbursement via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to the leave and payroll packages.

ENDPOINTS:
  Employees:
    GET    /api/employees                          List directory
    POST   /api/employees                          Import or update employee
    GET    /api/employees/{id}                     Get employee

  Leave:
    GET    /api/leaves                             List (month, employee_id, include_deleted)
    POST   /api/leaves                             Record leave
    POST   /api/leaves/preview                     Compute deduction without saving
    GET    /api/leaves/{id}                        Get leave record
    DELETE /api/leaves/{id}                        Soft delete

  Payroll:
    GET    /api/payroll/{month}                    Payable view, default selection
    POST   /api/payroll/{month}/batches            Open a live batch session

  Batches:
    GET    /api/batches/{id}                       Rows, totals, pending confirmation
    DELETE /api/batches/{id}                       Close session
    POST   /api/batches/{id}/rows/{employeeID}/toggle
    PUT    /api/batches/{id}/rows/{employeeID}/amount
    POST   /api/batches/{id}/select-all
    POST   /api/batches/{id}/deselect-all
    POST   /api/batches/{id}/confirm               Prepare, returns total to echo
    POST   /api/batches/{id}/commit                Disburse acknowledged batch

  History:
    GET    /api/payments                           Payment records
    GET    /api/runs                               Run audit trail

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Already paid, already deleted, run in progress
  - 428: Commit without an acknowledged confirmation
  - 500: Configuration and persistence errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - sessions.go: Live batch sessions
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/leave"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is everything the API reads and writes.
type Store interface {
	leave.Store
	payroll.Directory
	payroll.PaymentStore
	payroll.RunStore
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     Store
	Leaves    *leave.Service
	Disburser *payroll.Disburser
	Sessions  *SessionManager
	Options   payroll.Options
	Logger    *zap.Logger

	validate *validator.Validate

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires a handler. Sessions and the disburser read from store.
func NewHandler(store Store, leaves *leave.Service, disburser *payroll.Disburser, sessions *SessionManager, logger ...*zap.Logger) *Handler {
	l := zap.L()
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	}
	return &Handler{
		Store:     store,
		Leaves:    leaves,
		Disburser: disburser,
		Sessions:  sessions,
		Options:   sessions.Options,
		Logger:    l.Named("api"),
		validate:  newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (h *Handler) sources() payroll.Sources {
	return payroll.Sources{Directory: h.Store, Leaves: h.Store, Payments: h.Store}
}

// =============================================================================
// EMPLOYEES
// =============================================================================

// ListEmployees returns the directory.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Store.GetEmployee(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// CreateEmployee imports an employee. Payment metadata already on file is
// kept.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}

	bank, err := generic.ParseMoney("bank_salary", req.BankSalary)
	if err != nil {
		h.fail(w, err)
		return
	}
	cash := decimal.Zero
	if req.CashSalary != "" {
		if cash, err = generic.ParseMoney("cash_salary", req.CashSalary); err != nil {
			h.fail(w, err)
			return
		}
	}
	status := payroll.EmployeeActive
	if req.Status != "" {
		status = payroll.EmployeeStatus(req.Status)
	}

	emp := payroll.Employee{
		ID:         req.ID,
		FullName:   req.FullName,
		Name:       req.Name,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		BankSalary: bank,
		CashSalary: cash,
		Status:     status,
	}
	if err := emp.Validate(); err != nil {
		h.fail(w, err)
		return
	}
	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		h.fail(w, &generic.PersistenceError{Op: "save employee", EmployeeID: emp.ID, Err: err})
		return
	}

	saved, err := h.Store.GetEmployee(r.Context(), emp.ID)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(*saved))
}

// =============================================================================
// LEAVE
// =============================================================================

func (h *Handler) leaveInput(r *http.Request) (leave.RecordInput, error) {
	var req RecordLeaveRequest
	if err := h.decode(r, &req); err != nil {
		return leave.RecordInput{}, err
	}
	start, err := generic.ParseDate("start_date", req.StartDate)
	if err != nil {
		return leave.RecordInput{}, err
	}
	end, err := generic.ParseDate("end_date", req.EndDate)
	if err != nil {
		return leave.RecordInput{}, err
	}
	if _, err := generic.NewPeriod(start, end); err != nil {
		return leave.RecordInput{}, err
	}
	typ, err := leave.ParseType(req.LeaveType)
	if err != nil {
		return leave.RecordInput{}, err
	}
	return leave.RecordInput{
		EmployeeID: req.EmployeeID,
		Type:       typ,
		Start:      start,
		End:        end,
		Note:       req.Note,
		CreatedBy:  req.CreatedBy,
	}, nil
}

// RecordLeave validates, computes and appends a leave record.
func (h *Handler) RecordLeave(w http.ResponseWriter, r *http.Request) {
	in, err := h.leaveInput(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	rec, err := h.Leaves.Record(r.Context(), in)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLeaveDTO(rec))
}

// PreviewLeave shows the deduction a record would carry.
func (h *Handler) PreviewLeave(w http.ResponseWriter, r *http.Request) {
	in, err := h.leaveInput(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	ded, emp, err := h.Leaves.Preview(r.Context(), in)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LeavePreviewDTO{
		EmployeeID:   emp.ID,
		EmployeeName: emp.Name,
		LeaveType:    string(ded.Type),
		Days:         ded.Days,
		DailySalary:  ded.DailySalary.StringFixed(2),
		Deduction:    ded.Amount.StringFixed(2),
		Explanation:  ded.Explanation,
	})
}

// ListLeaves filters by month, employee_id and include_deleted.
func (h *Handler) ListLeaves(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f leave.Filter

	if m := q.Get("month"); m != "" {
		month, err := generic.ParseMonth(m)
		if err != nil {
			h.fail(w, err)
			return
		}
		f.Month = month
	}
	f.EmployeeID = q.Get("employee_id")
	if v := q.Get("include_deleted"); v != "" {
		inc, err := strconv.ParseBool(v)
		if err != nil {
			h.fail(w, generic.Validationf("include_deleted", "invalid boolean %q", v))
			return
		}
		f.IncludeDeleted = inc
	}

	records, err := h.Leaves.List(r.Context(), f)
	if err != nil {
		h.fail(w, err)
		return
	}
	dtos := make([]LeaveDTO, len(records))
	for i, rec := range records {
		dtos[i] = toLeaveDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetLeave(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Leaves.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveDTO(*rec))
}

// DeleteLeave soft-deletes a record.
func (h *Handler) DeleteLeave(w http.ResponseWriter, r *http.Request) {
	if err := h.Leaves.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PAYROLL VIEW
// =============================================================================

// GetPayroll returns the month's payable view with the default selection.
func (h *Handler) GetPayroll(w http.ResponseWriter, r *http.Request) {
	month, err := generic.ParseMonth(chi.URLParam(r, "month"))
	if err != nil {
		h.fail(w, err)
		return
	}
	views, err := payroll.Load(r.Context(), h.sources(), month, h.Options)
	if err != nil {
		h.fail(w, &generic.PersistenceError{Op: "load payable view", Err: err})
		return
	}
	b := payroll.NewBatch(month, views)
	writeJSON(w, http.StatusOK, PayrollViewResponse{
		Month:  month.String(),
		Rows:   toRowDTOs(b.Rows()),
		Totals: toTotalsDTO(b.Totals()),
	})
}

// =============================================================================
// BATCHES
// =============================================================================

// OpenBatch starts a live session for the month.
func (h *Handler) OpenBatch(w http.ResponseWriter, r *http.Request) {
	month, err := generic.ParseMonth(chi.URLParam(r, "month"))
	if err != nil {
		h.fail(w, err)
		return
	}
	sess, err := h.Sessions.Open(r.Context(), month)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, batchResponse(sess))
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess, err := h.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return nil, false
	}
	return sess, true
}

func batchResponse(s *Session) BatchResponse {
	return BatchResponse{
		ID:           s.ID,
		Month:        s.Month.String(),
		Rows:         toRowDTOs(s.Batch.Rows()),
		Totals:       toTotalsDTO(s.Batch.Totals()),
		Confirmation: toConfirmationDTO(s.Confirmation()),
	}
}

func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, batchResponse(sess))
}

func (h *Handler) CloseBatch(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.Close(chi.URLParam(r, "id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// mutate applies a selection change. Any pending confirmation is dropped
// since its total no longer matches.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, fn func(*payroll.Batch) error) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := fn(sess.Batch); err != nil {
		h.fail(w, err)
		return
	}
	sess.setConfirmation(nil)
	writeJSON(w, http.StatusOK, batchResponse(sess))
}

func (h *Handler) ToggleRow(w http.ResponseWriter, r *http.Request) {
	employeeID := chi.URLParam(r, "employeeID")
	h.mutate(w, r, func(b *payroll.Batch) error { return b.Toggle(employeeID) })
}

func (h *Handler) SetRowAmount(w http.ResponseWriter, r *http.Request) {
	var req SetAmountRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	amount, err := generic.ParseMoney("amount", req.Amount)
	if err != nil {
		h.fail(w, err)
		return
	}
	employeeID := chi.URLParam(r, "employeeID")
	h.mutate(w, r, func(b *payroll.Batch) error { return b.SetAmount(employeeID, amount) })
}

func (h *Handler) SelectAll(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(b *payroll.Batch) error {
		b.SelectAllUnpaid()
		return nil
	})
}

func (h *Handler) DeselectAll(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(b *payroll.Batch) error {
		b.DeselectAll()
		return nil
	})
}

// ConfirmBatch prepares the selection and returns the total the operator
// must echo back to commit.
func (h *Handler) ConfirmBatch(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req ConfirmRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	date, err := generic.ParseDate("payment_date", req.PaymentDate)
	if err != nil {
		h.fail(w, err)
		return
	}

	conf, err := h.Disburser.Prepare(sess.Month, date, sess.Batch.Selected())
	if err != nil {
		h.fail(w, err)
		return
	}
	sess.setConfirmation(conf)
	writeJSON(w, http.StatusOK, toConfirmationDTO(conf))
}

// CommitBatch disburses an acknowledged confirmation. Per-employee failures
// come back in the report with status 200.
func (h *Handler) CommitBatch(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req CommitRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, err)
		return
	}

	conf := sess.Confirmation()
	if conf == nil || req.ConfirmationID == "" || conf.ID != req.ConfirmationID || req.Total == "" {
		h.fail(w, generic.ErrConfirmationRequired)
		return
	}
	total, err := generic.ParseMoney("total", req.Total)
	if err != nil {
		h.fail(w, err)
		return
	}
	if err := conf.Acknowledge(total); err != nil {
		h.fail(w, err)
		return
	}

	report, err := h.Disburser.Commit(r.Context(), conf)
	if err != nil {
		h.fail(w, err)
		return
	}
	sess.setConfirmation(nil)

	// The live view catches up on its own; refresh now so the response and
	// the next read already show who was paid.
	if views, err := payroll.Load(r.Context(), h.sources(), sess.Month, h.Options); err == nil {
		sess.Batch.Refresh(views)
	} else {
		h.Logger.Warn("post-commit refresh failed", zap.String("batch_id", sess.ID), zap.Error(err))
	}

	writeJSON(w, http.StatusOK, struct {
		Report ReportDTO     `json:"report"`
		Batch  BatchResponse `json:"batch"`
	}{toReportDTO(report), batchResponse(sess)})
}

// =============================================================================
// HISTORY
// =============================================================================

// ListPayments filters by month, status, type and employee_id.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := payroll.PaymentFilter{
		Status:     payroll.PaymentStatus(q.Get("status")),
		Type:       payroll.PaymentType(q.Get("type")),
		EmployeeID: q.Get("employee_id"),
	}
	if m := q.Get("month"); m != "" {
		month, err := generic.ParseMonth(m)
		if err != nil {
			h.fail(w, err)
			return
		}
		f.Month = month
	}

	payments, err := h.Store.ListPayments(r.Context(), f)
	if err != nil {
		h.fail(w, err)
		return
	}
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListRuns returns the run audit trail, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	var month generic.MonthKey
	if m := r.URL.Query().Get("month"); m != "" {
		parsed, err := generic.ParseMonth(m)
		if err != nil {
			h.fail(w, err)
			return
		}
		month = parsed
	}

	runs, err := h.Store.ListRuns(r.Context(), month)
	if err != nil {
		h.fail(w, err)
		return
	}
	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Health reports whether the handler is up.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads the JSON body into dst and runs its validate tags.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return generic.Validationf("body", "invalid request body: %v", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			switch fe.Tag() {
			case "required", "required_without_all":
				return generic.Validationf(fe.Field(), "is required")
			}
			return generic.Validationf(fe.Field(), "is invalid (%s)", fe.Tag())
		}
		return generic.Validationf("body", "%v", err)
	}
	return nil
}

// classify maps domain errors to an HTTP status and a stable code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, generic.ErrConfirmationRequired):
		return http.StatusPreconditionRequired, "confirmation_required"
	case errors.Is(err, generic.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, generic.ErrAlreadyPaid):
		return http.StatusConflict, "already_paid"
	case errors.Is(err, generic.ErrAlreadyDeleted):
		return http.StatusConflict, "already_deleted"
	case errors.Is(err, generic.ErrRunInProgress):
		return http.StatusConflict, "run_in_progress"
	case errors.Is(err, generic.ErrConfiguration):
		return http.StatusInternalServerError, "configuration"
	case errors.Is(err, generic.ErrPersistence):
		return http.StatusInternalServerError, "persistence"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "timeout"
	}
	return http.StatusInternalServerError, "internal"
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	status, code := classify(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}

	var vErr *generic.ValidationError
	if errors.As(err, &vErr) {
		resp.Field = vErr.Field
		resp.Error = vErr.Message
	}
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed", zap.String("code", code), zap.Error(err))
		resp.Error = http.StatusText(status)
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message, Code: strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path), nil)
}
