package approval

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/ledger"
)

// =============================================================================
// PAYLOAD - Tagged union keyed by request type
// =============================================================================

// Payload is the type-specific body of a request. Each variant carries only
// its own fields; ChainBuilder, TryAutoApprove and the effect dispatcher
// switch on the concrete type.
type Payload interface {
	Type() RequestType

	// Magnitude is the quantity compared with the auto-approve threshold:
	// days for leave, money for loans/allowances/penalties. ok is false for
	// payloads without a magnitude.
	Magnitude() (value decimal.Decimal, ok bool)

	Validate() error
}

// LeavePayload requests days off from one leave bucket.
type LeavePayload struct {
	LeaveType ledger.LeaveType `json:"leave_type"`
	StartDate generic.Day      `json:"start_date"`
	EndDate   generic.Day      `json:"end_date"`
	// Days overrides the calendar-day count (e.g. half days, excluded
	// weekends). Zero means the inclusive calendar count.
	Days decimal.Decimal `json:"days"`
}

func (LeavePayload) Type() RequestType { return TypeLeave }

// DayCount returns the number of days deducted on approval.
func (p LeavePayload) DayCount() decimal.Decimal {
	if p.Days.IsPositive() {
		return p.Days
	}
	return decimal.NewFromInt(int64(generic.InclusiveDays(p.StartDate, p.EndDate)))
}

func (p LeavePayload) Magnitude() (decimal.Decimal, bool) { return p.DayCount(), true }

func (p LeavePayload) Validate() error {
	switch {
	case !p.LeaveType.Valid():
		return fmt.Errorf("%w: unknown leave type %q", generic.ErrInvalidInput, p.LeaveType)
	case p.StartDate.IsZero() || p.EndDate.IsZero():
		return fmt.Errorf("%w: leave dates are required", generic.ErrInvalidInput)
	case p.EndDate.Before(p.StartDate):
		return fmt.Errorf("%w: leave ends before it starts", generic.ErrInvalidInput)
	case p.Days.IsNegative():
		return fmt.Errorf("%w: days must not be negative", generic.ErrInvalidInput)
	}
	return nil
}

// LoanPayload requests a salary loan repaid in installments.
type LoanPayload struct {
	Amount       decimal.Decimal `json:"amount"`
	Installments int             `json:"installments"`
	// StartMonth is the first month charged. Empty means the month after approval.
	StartMonth generic.MonthKey `json:"start_month,omitempty"`
	// LoanID is assigned by the engine at submission.
	LoanID string `json:"loan_id,omitempty"`
}

func (LoanPayload) Type() RequestType                    { return TypeLoan }
func (p LoanPayload) Magnitude() (decimal.Decimal, bool) { return p.Amount, true }

func (p LoanPayload) Validate() error {
	switch {
	case !p.Amount.IsPositive():
		return fmt.Errorf("%w: loan amount must be positive", generic.ErrInvalidInput)
	case p.Installments < 1:
		return fmt.Errorf("%w: loan needs at least one installment", generic.ErrInvalidInput)
	}
	if p.StartMonth != "" {
		if _, err := generic.ParseMonthKey(string(p.StartMonth)); err != nil {
			return err
		}
	}
	return nil
}

// AllowancePayload requests a one-time or recurring allowance.
type AllowancePayload struct {
	Category    string            `json:"category"`
	Amount      decimal.Decimal   `json:"amount"`
	IsRecurring bool              `json:"is_recurring"`
	StartMonth  generic.MonthKey  `json:"start_month"`
	EndMonth    *generic.MonthKey `json:"end_month,omitempty"`
	// AdjustmentID is assigned when the allowance is booked.
	AdjustmentID string `json:"adjustment_id,omitempty"`
}

func (AllowancePayload) Type() RequestType                    { return TypeAllowance }
func (p AllowancePayload) Magnitude() (decimal.Decimal, bool) { return p.Amount, true }

func (p AllowancePayload) Validate() error {
	return validateAdjustmentFields(p.Category, p.Amount, p.StartMonth, p.IsRecurring, p.EndMonth)
}

// PenaltyPayload records a disciplinary penalty, booked as a one-time deduction.
type PenaltyPayload struct {
	EmployeeID string           `json:"employee_id"` // penalized employee; empty = requester
	Category   string           `json:"category"`
	Amount     decimal.Decimal  `json:"amount"`
	Month      generic.MonthKey `json:"month"`
	Reason     string           `json:"reason"`
	// AdjustmentID is assigned when the deduction is booked.
	AdjustmentID string `json:"adjustment_id,omitempty"`
}

func (PenaltyPayload) Type() RequestType                    { return TypePenalty }
func (p PenaltyPayload) Magnitude() (decimal.Decimal, bool) { return p.Amount, true }

func (p PenaltyPayload) Validate() error {
	if strings.TrimSpace(p.Reason) == "" {
		return fmt.Errorf("%w: penalty reason is required", generic.ErrMissingReason)
	}
	return validateAdjustmentFields(p.Category, p.Amount, p.Month, false, nil)
}

// OtherPayload is a free-form request with no ledger effect.
type OtherPayload struct {
	Description string `json:"description"`
}

func (OtherPayload) Type() RequestType                  { return TypeOther }
func (OtherPayload) Magnitude() (decimal.Decimal, bool) { return decimal.Zero, false }

func (p OtherPayload) Validate() error {
	if strings.TrimSpace(p.Description) == "" {
		return fmt.Errorf("%w: description is required", generic.ErrInvalidInput)
	}
	return nil
}

func validateAdjustmentFields(category string, amount decimal.Decimal, start generic.MonthKey, recurring bool, end *generic.MonthKey) error {
	if strings.TrimSpace(category) == "" {
		return fmt.Errorf("%w: category is required", generic.ErrInvalidInput)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", generic.ErrInvalidInput)
	}
	if _, err := generic.ParseMonthKey(string(start)); err != nil {
		return err
	}
	if end != nil {
		if !recurring {
			return fmt.Errorf("%w: one-time entries have no end month", generic.ErrInvalidInput)
		}
		if end.Before(start) {
			return fmt.Errorf("%w: end month before start month", generic.ErrInvalidInput)
		}
	}
	return nil
}

func clonePayload(p Payload) Payload {
	switch v := p.(type) {
	case AllowancePayload:
		if v.EndMonth != nil {
			end := *v.EndMonth
			v.EndMonth = &end
		}
		return v
	default:
		return p
	}
}

// =============================================================================
// ENCODING - Stores and the HTTP layer persist payloads as JSON + type tag
// =============================================================================

// EncodePayload serializes the payload body. The tag is p.Type().
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: payload is required", generic.ErrInvalidInput)
	}
	return json.Marshal(p)
}

// DecodePayload parses a payload body for request type t.
func DecodePayload(t RequestType, data []byte) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch t {
	case TypeLeave:
		var v LeavePayload
		err = json.Unmarshal(data, &v)
		p = v
	case TypeLoan:
		var v LoanPayload
		err = json.Unmarshal(data, &v)
		p = v
	case TypeAllowance:
		var v AllowancePayload
		err = json.Unmarshal(data, &v)
		p = v
	case TypePenalty:
		var v PenaltyPayload
		err = json.Unmarshal(data, &v)
		p = v
	case TypeOther:
		var v OtherPayload
		err = json.Unmarshal(data, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: unknown request type %q", generic.ErrInvalidInput, t)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: malformed %s payload: %v", generic.ErrInvalidInput, t, err)
	}
	return p, nil
}
