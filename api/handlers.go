/*
handlers.go - HTTP API handlers for the settlement engine

PURPOSE:
  Exposes the approval engine, the ledgers and the payroll lifecycle via
  REST. Handles HTTP request/response and JSON serialization; every rule
  lives in the domain packages.

ENDPOINTS:
  Employees:
    GET    /api/employees                          List employees
    POST   /api/employees                          Create or replace an employee
    GET    /api/employees/{id}                     Employee details
    GET    /api/employees/{id}/managers            Manager chain, nearest first
    GET    /api/employees/{id}/balance             Leave balance
    PUT    /api/employees/{id}/balance             Set leave balance (admin)
    GET    /api/employees/{id}/requests            Requests of the employee
    GET    /api/employees/{id}/loans               Loans of the employee
    GET    /api/employees/{id}/adjustments         Allowances and deductions
    POST   /api/employees/{id}/adjustments         Book an adjustment (admin)
    PUT    /api/employees/{id}/attendance/{month}  Record worked hours

  Requests:
    POST   /api/requests                 Submit as the acting employee
    GET    /api/requests/pending         Work queue of the actor
    GET    /api/requests/escalated       Escalated pending requests
    GET    /api/requests/{id}            Request details
    POST   /api/requests/{id}/approve    Approve a level
    POST   /api/requests/{id}/reject     Reject a level
    POST   /api/requests/{id}/cancel     Cancel
    POST   /api/requests/{id}/override   Administrative override
    DELETE /api/requests/{id}            Hard delete (admin, reason required)

  Delegations, settings, escalation, payroll, audit:
    see server.go for the full route table.

ACTOR:
  The acting user is read from the X-Actor-ID header. Authentication is
  a collaborator in front of this service.

ERROR HANDLING:
  Domain errors map to HTTP statuses in statusFor:
  - 400: Invalid input, missing reason, overlapping delegation
  - 403: Not the effective approver
  - 404: Unknown entity
  - 409: State conflicts, concurrent modification
  - 422: Insufficient balance, hierarchy cycle
  - 500: Everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/settlement-engine/approval"
	"github.com/warp/settlement-engine/directory"
	"github.com/warp/settlement-engine/factory"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/payroll"
)

// ActorHeader names the header carrying the acting user id.
const ActorHeader = "X-Actor-ID"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Employees is the writable directory behind the employee endpoints.
type Employees interface {
	directory.Directory
	PutEmployee(ctx context.Context, e directory.Employee) error
	SetHours(ctx context.Context, employeeID string, month generic.MonthKey, hours decimal.Decimal) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Employees Employees
	Engine    *approval.Engine
	Scanner   *approval.EscalationScanner
	Payroll   *payroll.Service
	Settings  *factory.SettingsFactory
	Logger    *zap.Logger
}

// NewHandler creates a handler over the engine and payroll service.
func NewHandler(employees Employees, engine *approval.Engine, svc *payroll.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Employees: employees,
		Engine:    engine,
		Scanner:   approval.NewEscalationScanner(engine),
		Payroll:   svc,
		Settings:  factory.NewSettingsFactory(),
		Logger:    logger,
	}
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Employees.ListEmployees(r.Context())
	if err != nil {
		h.fail(w, "Failed to list employees", err)
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
	emp, err := h.Employees.GetEmployee(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "Failed to get employee", err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// CreateEmployee creates or replaces an employee.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ID) == "" || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}
	if req.BaseSalary.IsNegative() {
		writeError(w, http.StatusBadRequest, "base_salary must not be negative", nil)
		return
	}

	emp := directory.Employee{
		ID:         req.ID,
		Name:       req.Name,
		Email:      req.Email,
		ManagerID:  req.ManagerID,
		BaseSalary: req.BaseSalary,
		Active:     req.Active == nil || *req.Active,
	}
	if err := h.Employees.PutEmployee(r.Context(), emp); err != nil {
		h.fail(w, "Failed to save employee", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// GetManagers returns the manager chain of an employee, nearest first.
// GET /api/employees/{id}/managers
func (h *Handler) GetManagers(w http.ResponseWriter, r *http.Request) {
	chain, err := directory.ManagerChain(r.Context(), h.Employees, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "Failed to resolve hierarchy", err)
		return
	}
	if chain == nil {
		chain = []string{}
	}
	writeJSON(w, http.StatusOK, chain)
}

// SetAttendance records the hours an employee worked in a month.
// PUT /api/employees/{id}/attendance/{month}
func (h *Handler) SetAttendance(w http.ResponseWriter, r *http.Request) {
	month, ok := monthParam(w, r)
	if !ok {
		return
	}
	var req SetHoursRequest
	if !decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := h.Employees.GetEmployee(r.Context(), id); err != nil {
		h.fail(w, "Failed to get employee", err)
		return
	}
	if err := h.Employees.SetHours(r.Context(), id, month, req.Hours); err != nil {
		h.fail(w, "Failed to record attendance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"employee_id": id, "month": month, "hours": req.Hours})
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// GetBalance returns the leave balance of an employee.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.Engine.Balance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(*b))
}

// SetBalance replaces the leave balance of an employee.
func (h *Handler) SetBalance(w http.ResponseWriter, r *http.Request) {
	var req BalanceDTO
	if !decode(w, r, &req) {
		return
	}
	b, err := h.Engine.SetBalance(r.Context(), ledger.LeaveBalance{
		EmployeeID:  chi.URLParam(r, "id"),
		Annual:      req.Annual,
		Sick:        req.Sick,
		Emergency:   req.Emergency,
		UnpaidTaken: req.UnpaidTaken,
	}, actor(r))
	if err != nil {
		h.fail(w, "Failed to set balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(*b))
}

// ListLoans returns the loans of an employee.
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := h.Engine.Loans(r.Context(), ledger.LoanFilter{EmployeeID: chi.URLParam(r, "id")})
	if err != nil {
		h.fail(w, "Failed to list loans", err)
		return
	}
	dtos := make([]LoanDTO, len(loans))
	for i, l := range loans {
		dtos[i] = toLoanDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListAdjustments returns the allowances and deductions of an employee.
func (h *Handler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	adjs, err := h.Engine.Adjustments(r.Context(), ledger.AdjustmentFilter{
		EmployeeID: chi.URLParam(r, "id"),
		Kind:       ledger.AdjustmentKind(r.URL.Query().Get("kind")),
		Status:     ledger.AdjustmentStatus(r.URL.Query().Get("status")),
	})
	if err != nil {
		h.fail(w, "Failed to list adjustments", err)
		return
	}
	dtos := make([]AdjustmentDTO, len(adjs))
	for i, a := range adjs {
		dtos[i] = toAdjustmentDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAdjustment books an allowance or deduction outside the request flow.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req CreateAdjustmentRequest
	if !decode(w, r, &req) {
		return
	}
	a, err := h.Engine.AddAdjustment(r.Context(), ledger.Adjustment{
		EmployeeID:  chi.URLParam(r, "id"),
		Kind:        ledger.AdjustmentKind(req.Kind),
		Category:    req.Category,
		Amount:      req.Amount,
		IsRecurring: req.IsRecurring,
		StartMonth:  req.StartMonth,
		EndMonth:    req.EndMonth,
	}, actor(r))
	if err != nil {
		h.fail(w, "Failed to add adjustment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAdjustmentDTO(*a))
}

// StopAdjustment ends a recurring adjustment.
// POST /api/adjustments/{id}/stop
func (h *Handler) StopAdjustment(w http.ResponseWriter, r *http.Request) {
	a, err := h.Engine.StopAdjustment(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		h.fail(w, "Failed to stop adjustment", err)
		return
	}
	writeJSON(w, http.StatusOK, toAdjustmentDTO(*a))
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// SubmitRequest creates a request on behalf of the acting employee.
// POST /api/requests
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	requester, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req SubmitRequest
	if !decode(w, r, &req) {
		return
	}

	t := approval.RequestType(req.Type)
	payload, err := approval.DecodePayload(t, req.Payload)
	if err != nil {
		h.fail(w, "Invalid payload", err)
		return
	}

	created, err := h.Engine.Submit(r.Context(), approval.SubmitInput{
		Type:        t,
		RequesterID: requester,
		Payload:     payload,
	})
	if err != nil {
		h.fail(w, "Failed to submit request", err)
		return
	}
	h.writeRequest(w, http.StatusCreated, created)
}

// GetRequest returns a single request.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.Engine.GetRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "Failed to get request", err)
		return
	}
	h.writeRequest(w, http.StatusOK, req)
}

// ListEmployeeRequests returns the requests an employee submitted,
// optionally filtered by ?status= and ?type=.
func (h *Handler) ListEmployeeRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.listRequests(w, r, approval.RequestFilter{
		RequesterID: chi.URLParam(r, "id"),
		Status:      approval.Status(q.Get("status")),
		Type:        approval.RequestType(q.Get("type")),
	})
}

// ListEscalated returns pending requests the sweep has flagged.
func (h *Handler) ListEscalated(w http.ResponseWriter, r *http.Request) {
	escalated := true
	h.listRequests(w, r, approval.RequestFilter{Status: approval.StatusPending, Escalated: &escalated})
}

func (h *Handler) listRequests(w http.ResponseWriter, r *http.Request, filter approval.RequestFilter) {
	reqs, err := h.Engine.ListRequests(r.Context(), filter)
	if err != nil {
		h.fail(w, "Failed to list requests", err)
		return
	}
	h.writeRequests(w, reqs)
}

// ListPendingRequests returns the actor's work queue, delegated work
// included.
// GET /api/requests/pending
func (h *Handler) ListPendingRequests(w http.ResponseWriter, r *http.Request) {
	approver, ok := requireActor(w, r)
	if !ok {
		return
	}
	reqs, err := h.Engine.PendingFor(r.Context(), approver)
	if err != nil {
		h.fail(w, "Failed to list pending requests", err)
		return
	}
	h.writeRequests(w, reqs)
}

// ApproveRequest approves one level of a request.
// POST /api/requests/{id}/approve
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.Engine.ApproveStep)
}

// RejectRequest rejects one level of a request.
// POST /api/requests/{id}/reject
func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.Engine.RejectStep)
}

type stepAction func(ctx context.Context, requestID, actorID string, level int, comment string) (*approval.Request, error)

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, act stepAction) {
	approver, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req DecisionRequest
	if !decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")

	// Level defaults to the active one.
	if req.Level == 0 {
		current, err := h.Engine.GetRequest(r.Context(), id)
		if err != nil {
			h.fail(w, "Failed to get request", err)
			return
		}
		req.Level = current.Chain.ActiveLevel()
	}

	updated, err := act(r.Context(), id, approver, req.Level, req.Comment)
	if err != nil {
		h.fail(w, "Failed to decide request", err)
		return
	}
	h.writeRequest(w, http.StatusOK, updated)
}

// CancelRequest cancels a request as the actor.
// POST /api/requests/{id}/cancel
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	updated, err := h.Engine.CancelRequest(r.Context(), chi.URLParam(r, "id"), actorID)
	if err != nil {
		h.fail(w, "Failed to cancel request", err)
		return
	}
	h.writeRequest(w, http.StatusOK, updated)
}

// OverrideRequest forces the final status of a request.
// POST /api/requests/{id}/override
func (h *Handler) OverrideRequest(w http.ResponseWriter, r *http.Request) {
	adminID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req OverrideRequest
	if !decode(w, r, &req) {
		return
	}
	updated, err := h.Engine.AdminOverride(r.Context(), chi.URLParam(r, "id"), approval.Status(req.Status), req.Reason, adminID)
	if err != nil {
		h.fail(w, "Failed to override request", err)
		return
	}
	h.writeRequest(w, http.StatusOK, updated)
}

// DeleteRequest removes a request outright.
// DELETE /api/requests/{id}
func (h *Handler) DeleteRequest(w http.ResponseWriter, r *http.Request) {
	adminID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req ReasonRequest
	if !decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.Engine.HardDelete(r.Context(), id, adminID, req.Reason); err != nil {
		h.fail(w, "Failed to delete request", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

// =============================================================================
// DELEGATION HANDLERS
// =============================================================================

// ListDelegations returns delegations, optionally of one ?delegator=.
func (h *Handler) ListDelegations(w http.ResponseWriter, r *http.Request) {
	ds, err := h.Engine.ListDelegations(r.Context(), r.URL.Query().Get("delegator"))
	if err != nil {
		h.fail(w, "Failed to list delegations", err)
		return
	}
	dtos := make([]DelegationDTO, len(ds))
	for i, d := range ds {
		dtos[i] = toDelegationDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateDelegation stores a delegation window.
func (h *Handler) CreateDelegation(w http.ResponseWriter, r *http.Request) {
	var req CreateDelegationRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := h.Engine.CreateDelegation(r.Context(), approval.DelegationInput{
		DelegatorID: req.DelegatorID,
		DelegateID:  req.DelegateID,
		ActiveFrom:  req.ActiveFrom,
		ActiveTo:    req.ActiveTo,
	}, actor(r))
	if err != nil {
		h.fail(w, "Failed to create delegation", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDelegationDTO(*d))
}

// EndDelegation takes a delegation out of force.
// POST /api/delegations/{id}/end
func (h *Handler) EndDelegation(w http.ResponseWriter, r *http.Request) {
	d, err := h.Engine.EndDelegation(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		h.fail(w, "Failed to end delegation", err)
		return
	}
	writeJSON(w, http.StatusOK, toDelegationDTO(*d))
}

// ResolveDelegation answers who acts for ?approver= on ?date= (today by
// default).
// GET /api/delegations/resolve
func (h *Handler) ResolveDelegation(w http.ResponseWriter, r *http.Request) {
	approver := r.URL.Query().Get("approver")
	if approver == "" {
		writeError(w, http.StatusBadRequest, "approver is required", nil)
		return
	}
	onDate := generic.DayOf(h.now())
	if s := r.URL.Query().Get("date"); s != "" {
		d, err := generic.ParseDay(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
			return
		}
		onDate = d
	}

	effective, d, err := approval.DelegationResolver{Store: h.Engine.Store}.ResolveApprover(r.Context(), approver, onDate)
	if err != nil {
		h.fail(w, "Failed to resolve approver", err)
		return
	}
	dto := ResolveDTO{ApproverID: approver, OnDate: onDate, EffectiveApproverID: effective}
	if d != nil {
		dto.DelegationID = d.ID
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// SETTINGS & ESCALATION HANDLERS
// =============================================================================

// GetSettings returns the current approval settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Engine.CurrentSettings(r.Context())
	if err != nil {
		h.fail(w, "Failed to get settings", err)
		return
	}
	writeJSON(w, http.StatusOK, h.Settings.ToJSON(*s))
}

// UpdateSettings stores a new settings version.
// PUT /api/settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req factory.SettingsJSON
	if !decode(w, r, &req) {
		return
	}
	s, err := h.Settings.FromJSON(req)
	if err != nil {
		h.fail(w, "Invalid settings", err)
		return
	}
	saved, err := h.Engine.UpdateSettings(r.Context(), *s, actor(r))
	if err != nil {
		h.fail(w, "Failed to update settings", err)
		return
	}
	writeJSON(w, http.StatusOK, h.Settings.ToJSON(*saved))
}

// ScanEscalations runs the overdue sweep now.
// POST /api/escalations/scan
func (h *Handler) ScanEscalations(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	ids, err := h.Scanner.ScanOverdue(r.Context(), now)
	if err != nil {
		h.fail(w, "Escalation sweep failed", err)
		return
	}
	writeJSON(w, http.StatusOK, ScanResultDTO{Escalated: ids, ScannedAt: now})
}

// =============================================================================
// PAYROLL HANDLERS
// =============================================================================

// ListPayrollMonths returns every payroll month.
func (h *Handler) ListPayrollMonths(w http.ResponseWriter, r *http.Request) {
	months, err := h.Payroll.ListMonths(r.Context())
	if err != nil {
		h.fail(w, "Failed to list payroll months", err)
		return
	}
	dtos := make([]MonthDTO, len(months))
	for i, m := range months {
		dtos[i] = toMonthDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPayroll returns a month with its records.
// GET /api/payroll/{month}
func (h *Handler) GetPayroll(w http.ResponseWriter, r *http.Request) {
	month, ok := monthParam(w, r)
	if !ok {
		return
	}
	m, err := h.Payroll.GetMonth(r.Context(), month)
	if err != nil {
		h.fail(w, "Failed to get payroll month", err)
		return
	}
	records, err := h.Payroll.ListRecords(r.Context(), month)
	if err != nil {
		h.fail(w, "Failed to list payroll records", err)
		return
	}
	writeJSON(w, http.StatusOK, toPayrollDTO(*m, records))
}

// GeneratePayroll (re)computes a draft month.
// POST /api/payroll/{month}/generate
func (h *Handler) GeneratePayroll(w http.ResponseWriter, r *http.Request) {
	month, ok := monthParam(w, r)
	if !ok {
		return
	}
	m, records, err := h.Payroll.Generate(r.Context(), month, actor(r))
	if err != nil {
		h.fail(w, "Failed to generate payroll", err)
		return
	}
	writeJSON(w, http.StatusOK, toPayrollDTO(*m, records))
}

// FinalizePayroll freezes a draft month.
func (h *Handler) FinalizePayroll(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, month generic.MonthKey, actorID string) (*payroll.Month, error) {
		return h.Payroll.Finalize(ctx, month, actorID)
	})
}

// LockPayroll closes a finalized month.
func (h *Handler) LockPayroll(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, month generic.MonthKey, actorID string) (*payroll.Month, error) {
		return h.Payroll.Lock(ctx, month, actorID)
	})
}

// ReopenPayroll steps a month back one state. Body: {"reason": "..."}.
func (h *Handler) ReopenPayroll(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if !decode(w, r, &req) {
		return
	}
	h.transition(w, r, func(ctx context.Context, month generic.MonthKey, actorID string) (*payroll.Month, error) {
		return h.Payroll.Reopen(ctx, month, actorID, req.Reason)
	})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, generic.MonthKey, string) (*payroll.Month, error)) {
	month, ok := monthParam(w, r)
	if !ok {
		return
	}
	m, err := fn(r.Context(), month, actor(r))
	if err != nil {
		h.fail(w, "Payroll transition failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toMonthDTO(*m))
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// QueryAudit returns audit entries filtered by ?entity_type=, ?entity_id=,
// ?actor_id= and repeated ?action=.
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := generic.AuditFilter{
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		ActorID:    q.Get("actor_id"),
	}
	for _, a := range q["action"] {
		filter.Actions = append(filter.Actions, generic.AuditAction(a))
	}

	entries, err := h.Engine.AuditTrail(r.Context(), filter)
	if err != nil {
		h.fail(w, "Failed to query audit trail", err)
		return
	}
	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) now() time.Time {
	if h.Engine.Clock == nil {
		return generic.SystemClock()
	}
	return h.Engine.Clock()
}

func (h *Handler) writeRequest(w http.ResponseWriter, status int, req *approval.Request) {
	dto, err := toRequestDTO(*req)
	if err != nil {
		h.fail(w, "Failed to encode request", err)
		return
	}
	writeJSON(w, status, dto)
}

func (h *Handler) writeRequests(w http.ResponseWriter, reqs []approval.Request) {
	dtos, err := toRequestDTOs(reqs)
	if err != nil {
		h.fail(w, "Failed to encode requests", err)
		return
	}
	writeJSON(w, http.StatusOK, dtos)
}

// fail writes err with the status its class maps to. Server errors are
// logged; client errors are not.
func (h *Handler) fail(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error(message, zap.Error(err))
	}
	writeError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case generic.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, generic.ErrInsufficientBalance), errors.Is(err, generic.ErrCycleDetected):
		return http.StatusUnprocessableEntity
	case generic.IsConflict(err):
		return http.StatusConflict
	case generic.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func actor(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(ActorHeader))
}

func requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := actor(r)
	if id == "" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s header is required", ActorHeader), nil)
		return "", false
	}
	return id, true
}

func monthParam(w http.ResponseWriter, r *http.Request) (generic.MonthKey, bool) {
	month, err := generic.ParseMonthKey(chi.URLParam(r, "month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month (use YYYY-MM)", err)
		return "", false
	}
	return month, true
}

// decode reads a JSON body. An empty body decodes to the zero value.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
