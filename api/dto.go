/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Directory:   EmployeeDTO, CreateEmployeeRequest
  Ledger:      BalanceDTO, LoanDTO, AdjustmentDTO, CreateAdjustmentRequest
  Approval:    RequestDTO, StepDTO, SubmitRequest, DecisionRequest,
               OverrideRequest, ReasonRequest
  Delegation:  DelegationDTO, CreateDelegationRequest, ResolveDTO
  Settings:    factory.SettingsJSON (used as is)
  Payroll:     MonthDTO, RecordDTO, LineDTO, PayrollDTO
  Audit:       AuditEntryDTO

VALIDATION:
  Validation is done by the domain packages, not in DTOs. DTOs are pure
  data carriers. Money and day amounts are decimals encoded as JSON
  strings.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/settings.go: SettingsJSON type
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/approval"
	"github.com/warp/settlement-engine/directory"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/payroll"
)

// =============================================================================
// DIRECTORY
// =============================================================================

// EmployeeDTO represents an employee in API responses.
type EmployeeDTO struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Email      string          `json:"email,omitempty"`
	ManagerID  string          `json:"manager_id,omitempty"`
	BaseSalary decimal.Decimal `json:"base_salary"`
	Active     bool            `json:"active"`
}

// CreateEmployeeRequest creates or replaces an employee. Active defaults
// to true.
type CreateEmployeeRequest struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Email      string          `json:"email"`
	ManagerID  string          `json:"manager_id"`
	BaseSalary decimal.Decimal `json:"base_salary"`
	Active     *bool           `json:"active"`
}

func toEmployeeDTO(e directory.Employee) EmployeeDTO {
	return EmployeeDTO{
		ID:         e.ID,
		Name:       e.Name,
		Email:      e.Email,
		ManagerID:  e.ManagerID,
		BaseSalary: e.BaseSalary,
		Active:     e.Active,
	}
}

// SetHoursRequest records attendance for one month.
type SetHoursRequest struct {
	Hours decimal.Decimal `json:"hours"`
}

// =============================================================================
// LEDGER
// =============================================================================

type BalanceDTO struct {
	EmployeeID  string          `json:"employee_id"`
	Annual      decimal.Decimal `json:"annual"`
	Sick        decimal.Decimal `json:"sick"`
	Emergency   decimal.Decimal `json:"emergency"`
	UnpaidTaken decimal.Decimal `json:"unpaid_taken"`
	Version     int             `json:"version"`
}

func toBalanceDTO(b ledger.LeaveBalance) BalanceDTO {
	return BalanceDTO{
		EmployeeID:  b.EmployeeID,
		Annual:      b.Annual,
		Sick:        b.Sick,
		Emergency:   b.Emergency,
		UnpaidTaken: b.UnpaidTaken,
		Version:     b.Version,
	}
}

type LoanDTO struct {
	ID                    string           `json:"id"`
	EmployeeID            string           `json:"employee_id"`
	RequestID             string           `json:"request_id"`
	LoanAmount            decimal.Decimal  `json:"loan_amount"`
	InstallmentAmount     decimal.Decimal  `json:"installment_amount"`
	TotalInstallments     int              `json:"total_installments"`
	RemainingInstallments int              `json:"remaining_installments"`
	Disbursed             bool             `json:"disbursed"`
	DisbursedAt           *time.Time       `json:"disbursed_at,omitempty"`
	StartMonth            generic.MonthKey `json:"start_month,omitempty"`
	ConsumedMonths        []string         `json:"consumed_months"`
	Status                string           `json:"status"`
	CreatedAt             time.Time        `json:"created_at"`
}

func toLoanDTO(l ledger.Loan) LoanDTO {
	consumed := make([]string, len(l.ConsumedMonths))
	for i, m := range l.ConsumedMonths {
		consumed[i] = m.String()
	}
	return LoanDTO{
		ID:                    l.ID,
		EmployeeID:            l.EmployeeID,
		RequestID:             l.RequestID,
		LoanAmount:            l.LoanAmount,
		InstallmentAmount:     l.InstallmentAmount,
		TotalInstallments:     l.TotalInstallments,
		RemainingInstallments: l.RemainingInstallments,
		Disbursed:             l.Disbursed,
		DisbursedAt:           l.DisbursedAt,
		StartMonth:            l.StartMonth,
		ConsumedMonths:        consumed,
		Status:                string(l.Status),
		CreatedAt:             l.CreatedAt,
	}
}

type AdjustmentDTO struct {
	ID              string            `json:"id"`
	EmployeeID      string            `json:"employee_id"`
	Kind            string            `json:"kind"`
	Category        string            `json:"category"`
	Amount          decimal.Decimal   `json:"amount"`
	IsRecurring     bool              `json:"is_recurring"`
	StartMonth      generic.MonthKey  `json:"start_month"`
	EndMonth        *generic.MonthKey `json:"end_month,omitempty"`
	Status          string            `json:"status"`
	SourceRequestID string            `json:"source_request_id,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	StoppedAt       *time.Time        `json:"stopped_at,omitempty"`
}

func toAdjustmentDTO(a ledger.Adjustment) AdjustmentDTO {
	return AdjustmentDTO{
		ID:              a.ID,
		EmployeeID:      a.EmployeeID,
		Kind:            string(a.Kind),
		Category:        a.Category,
		Amount:          a.Amount,
		IsRecurring:     a.IsRecurring,
		StartMonth:      a.StartMonth,
		EndMonth:        a.EndMonth,
		Status:          string(a.Status),
		SourceRequestID: a.SourceRequestID,
		CreatedAt:       a.CreatedAt,
		StoppedAt:       a.StoppedAt,
	}
}

// CreateAdjustmentRequest books an allowance or deduction directly.
type CreateAdjustmentRequest struct {
	Kind        string            `json:"kind"`
	Category    string            `json:"category"`
	Amount      decimal.Decimal   `json:"amount"`
	IsRecurring bool              `json:"is_recurring"`
	StartMonth  generic.MonthKey  `json:"start_month"`
	EndMonth    *generic.MonthKey `json:"end_month"`
}

// =============================================================================
// APPROVAL REQUESTS
// =============================================================================

type StepDTO struct {
	Level        int        `json:"level"`
	ApproverID   string     `json:"approver_id"`
	Status       string     `json:"status"`
	DecidedBy    string     `json:"decided_by,omitempty"`
	DelegationID string     `json:"delegation_id,omitempty"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	Comment      string     `json:"comment,omitempty"`
}

type OverrideDTO struct {
	Status  string    `json:"status"`
	Reason  string    `json:"reason"`
	AdminID string    `json:"admin_id"`
	At      time.Time `json:"at"`
}

type CancellationDTO struct {
	ActorID string    `json:"actor_id"`
	At      time.Time `json:"at"`
}

// RequestDTO represents an approval request in API responses.
type RequestDTO struct {
	ID              string           `json:"id"`
	Type            string           `json:"type"`
	RequesterID     string           `json:"requester_id"`
	Payload         json.RawMessage  `json:"payload"`
	Chain           []StepDTO        `json:"chain"`
	ActiveLevel     int              `json:"active_level,omitempty"`
	FinalStatus     string           `json:"final_status"`
	AutoApproved    bool             `json:"auto_approved"`
	Effect          string           `json:"effect"`
	Escalated       bool             `json:"escalated"`
	EscalatedAt     *time.Time       `json:"escalated_at,omitempty"`
	Override        *OverrideDTO     `json:"override,omitempty"`
	Cancellation    *CancellationDTO `json:"cancellation,omitempty"`
	SettingsVersion int              `json:"settings_version"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
	Version         int              `json:"version"`
}

func toRequestDTO(r approval.Request) (RequestDTO, error) {
	payload, err := approval.EncodePayload(r.Payload)
	if err != nil {
		return RequestDTO{}, err
	}

	dto := RequestDTO{
		ID:              r.ID,
		Type:            string(r.Type),
		RequesterID:     r.RequesterID,
		Payload:         payload,
		Chain:           make([]StepDTO, len(r.Chain)),
		ActiveLevel:     r.Chain.ActiveLevel(),
		FinalStatus:     string(r.FinalStatus),
		AutoApproved:    r.AutoApproved,
		Effect:          string(r.Effect),
		Escalated:       r.Escalated,
		EscalatedAt:     r.EscalatedAt,
		SettingsVersion: r.SettingsVersion,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		Version:         r.Version,
	}
	if r.FinalStatus != approval.StatusPending {
		dto.ActiveLevel = 0
	}
	for i, s := range r.Chain {
		dto.Chain[i] = StepDTO{
			Level:        s.Level,
			ApproverID:   s.ApproverID,
			Status:       string(s.Status),
			DecidedBy:    s.DecidedBy,
			DelegationID: s.DelegationID,
			DecidedAt:    s.DecidedAt,
			Comment:      s.Comment,
		}
	}
	if r.Override != nil {
		dto.Override = &OverrideDTO{
			Status:  string(r.Override.Status),
			Reason:  r.Override.Reason,
			AdminID: r.Override.AdminID,
			At:      r.Override.At,
		}
	}
	if r.Cancellation != nil {
		dto.Cancellation = &CancellationDTO{ActorID: r.Cancellation.ActorID, At: r.Cancellation.At}
	}
	return dto, nil
}

func toRequestDTOs(rs []approval.Request) ([]RequestDTO, error) {
	dtos := make([]RequestDTO, 0, len(rs))
	for _, r := range rs {
		dto, err := toRequestDTO(r)
		if err != nil {
			return nil, err
		}
		dtos = append(dtos, dto)
	}
	return dtos, nil
}

// SubmitRequest creates an approval request for the acting employee. The
// payload shape depends on Type.
type SubmitRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DecisionRequest approves or rejects one level.
type DecisionRequest struct {
	Level   int    `json:"level"`
	Comment string `json:"comment"`
}

type OverrideRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// ReasonRequest carries the mandatory reason of administrative actions.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// =============================================================================
// DELEGATIONS
// =============================================================================

type DelegationDTO struct {
	ID          string      `json:"id"`
	DelegatorID string      `json:"delegator_id"`
	DelegateID  string      `json:"delegate_id"`
	ActiveFrom  generic.Day `json:"active_from"`
	ActiveTo    generic.Day `json:"active_to"`
	Ended       bool        `json:"ended"`
	EndedAt     *time.Time  `json:"ended_at,omitempty"`
	CreatedBy   string      `json:"created_by"`
	CreatedAt   time.Time   `json:"created_at"`
}

func toDelegationDTO(d approval.Delegation) DelegationDTO {
	return DelegationDTO{
		ID:          d.ID,
		DelegatorID: d.DelegatorID,
		DelegateID:  d.DelegateID,
		ActiveFrom:  d.ActiveFrom,
		ActiveTo:    d.ActiveTo,
		Ended:       d.Ended,
		EndedAt:     d.EndedAt,
		CreatedBy:   d.CreatedBy,
		CreatedAt:   d.CreatedAt,
	}
}

type CreateDelegationRequest struct {
	DelegatorID string      `json:"delegator_id"`
	DelegateID  string      `json:"delegate_id"`
	ActiveFrom  generic.Day `json:"active_from"`
	ActiveTo    generic.Day `json:"active_to"`
}

// ResolveDTO answers who acts for an approver on a date.
type ResolveDTO struct {
	ApproverID          string      `json:"approver_id"`
	OnDate              generic.Day `json:"on_date"`
	EffectiveApproverID string      `json:"effective_approver_id"`
	DelegationID        string      `json:"delegation_id,omitempty"`
}

// ScanResultDTO lists the requests flagged by an escalation sweep.
type ScanResultDTO struct {
	Escalated []string  `json:"escalated"`
	ScannedAt time.Time `json:"scanned_at"`
}

// =============================================================================
// PAYROLL
// =============================================================================

type MonthDTO struct {
	Month       generic.MonthKey `json:"month"`
	Status      string           `json:"status"`
	GeneratedAt *time.Time       `json:"generated_at,omitempty"`
	GeneratedBy string           `json:"generated_by,omitempty"`
	FinalizedAt *time.Time       `json:"finalized_at,omitempty"`
	FinalizedBy string           `json:"finalized_by,omitempty"`
	LockedAt    *time.Time       `json:"locked_at,omitempty"`
	LockedBy    string           `json:"locked_by,omitempty"`
}

func toMonthDTO(m payroll.Month) MonthDTO {
	return MonthDTO{
		Month:       m.Key,
		Status:      string(m.Status),
		GeneratedAt: m.GeneratedAt,
		GeneratedBy: m.GeneratedBy,
		FinalizedAt: m.FinalizedAt,
		FinalizedBy: m.FinalizedBy,
		LockedAt:    m.LockedAt,
		LockedBy:    m.LockedBy,
	}
}

type LineDTO struct {
	Kind     string          `json:"kind"`
	SourceID string          `json:"source_id"`
	Category string          `json:"category,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
}

type RecordDTO struct {
	EmployeeID       string          `json:"employee_id"`
	BaseSalary       decimal.Decimal `json:"base_salary"`
	TotalHours       decimal.Decimal `json:"total_hours"`
	TotalAllowances  decimal.Decimal `json:"total_allowances"`
	CustomDeductions decimal.Decimal `json:"custom_deductions"`
	LoanInstallments decimal.Decimal `json:"loan_installments"`
	TotalDeductions  decimal.Decimal `json:"total_deductions"`
	EstimatedNet     decimal.Decimal `json:"estimated_net"`
	Lines            []LineDTO       `json:"lines"`
	GeneratedAt      time.Time       `json:"generated_at"`
}

func toRecordDTO(r payroll.Record) RecordDTO {
	lines := make([]LineDTO, len(r.Lines))
	for i, l := range r.Lines {
		lines[i] = LineDTO{Kind: string(l.Kind), SourceID: l.SourceID, Category: l.Category, Amount: l.Amount}
	}
	return RecordDTO{
		EmployeeID:       r.EmployeeID,
		BaseSalary:       r.BaseSalary,
		TotalHours:       r.TotalHours,
		TotalAllowances:  r.TotalAllowances,
		CustomDeductions: r.CustomDeductions,
		LoanInstallments: r.LoanInstallments,
		TotalDeductions:  r.TotalDeductions,
		EstimatedNet:     r.EstimatedNet,
		Lines:            lines,
		GeneratedAt:      r.GeneratedAt,
	}
}

// PayrollDTO is a month with its records.
type PayrollDTO struct {
	Month   MonthDTO    `json:"month"`
	Records []RecordDTO `json:"records"`
}

func toPayrollDTO(m payroll.Month, records []payroll.Record) PayrollDTO {
	dto := PayrollDTO{Month: toMonthDTO(m), Records: make([]RecordDTO, len(records))}
	for i, r := range records {
		dto.Records[i] = toRecordDTO(r)
	}
	return dto
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditEntryDTO struct {
	ID          string            `json:"id"`
	EntityType  string            `json:"entity_type"`
	EntityID    string            `json:"entity_id"`
	Action      string            `json:"action"`
	ActorID     string            `json:"actor_id"`
	Timestamp   time.Time         `json:"timestamp"`
	BeforeState string            `json:"before_state,omitempty"`
	AfterState  string            `json:"after_state,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func toAuditEntryDTO(e generic.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:          e.ID,
		EntityType:  e.EntityType,
		EntityID:    e.EntityID,
		Action:      string(e.Action),
		ActorID:     e.ActorID,
		Timestamp:   e.Timestamp,
		BeforeState: e.BeforeState,
		AfterState:  e.AfterState,
		Reason:      e.Reason,
		Metadata:    e.Metadata,
	}
}

// =============================================================================
// MISC
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ScenarioDTO describes a seed scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}
