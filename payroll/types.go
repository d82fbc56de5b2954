/*
Package payroll aggregates a month's committed ledger effects into
per-employee records and drives the month through its lifecycle.

PURPOSE:
  Payroll is where approvals turn into money. For a month it combines
  base salary, active allowances, custom deductions (penalties included)
  and due loan installments into one record per active employee, then
  freezes the month so the numbers can no longer move.

LIFECYCLE:
  ┌───────┐  Finalize   ┌───────────┐   Lock   ┌────────┐
  │ draft │ ──────────▶ │ finalized │ ───────▶ │ locked │
  └───────┘ ◀────────── └───────────┘ ◀─────── └────────┘
      ▲       Reopen                    Reopen
      │
   Generate (draft only, replaces every record of the month)

  Finalize consumes one installment of every loan charged in the month.
  Consumption is recorded per loan per month, so reopening and
  finalizing again never charges a loan twice.

INVARIANTS:
  - Records of a non-draft month are never written
  - EstimatedNet = BaseSalary + TotalAllowances - CustomDeductions - LoanInstallments
  - TotalDeductions = CustomDeductions + LoanInstallments

SEE ALSO:
  - ledger: Sources of allowances, deductions and loans
  - store/sqlite: Trigger rejecting record writes for non-draft months
*/
package payroll

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// MONTH
// =============================================================================

type MonthStatus string

const (
	StatusDraft     MonthStatus = "draft"
	StatusFinalized MonthStatus = "finalized"
	StatusLocked    MonthStatus = "locked"
)

// Month is the lifecycle record of one payroll month.
type Month struct {
	Key         generic.MonthKey
	Status      MonthStatus
	GeneratedAt *time.Time
	GeneratedBy string
	FinalizedAt *time.Time
	FinalizedBy string
	LockedAt    *time.Time
	LockedBy    string
	Version     int
}

// Clone deep-copies the month.
func (m Month) Clone() Month {
	for _, p := range []**time.Time{&m.GeneratedAt, &m.FinalizedAt, &m.LockedAt} {
		if *p != nil {
			t := **p
			*p = &t
		}
	}
	return m
}

// =============================================================================
// RECORD
// =============================================================================

type LineKind string

const (
	LineAllowance LineKind = "allowance"
	LineDeduction LineKind = "deduction"
	LineLoan      LineKind = "loan"
)

// Line is one contribution to a record, traceable to its ledger source.
type Line struct {
	Kind     LineKind
	SourceID string // adjustment or loan id
	Category string
	Amount   decimal.Decimal
}

// Record is one employee's settlement for a month.
type Record struct {
	Month            generic.MonthKey
	EmployeeID       string
	BaseSalary       decimal.Decimal
	TotalHours       decimal.Decimal
	TotalAllowances  decimal.Decimal
	CustomDeductions decimal.Decimal
	LoanInstallments decimal.Decimal
	TotalDeductions  decimal.Decimal
	EstimatedNet     decimal.Decimal
	Lines            []Line
	GeneratedAt      time.Time
}

// Clone deep-copies the record.
func (r Record) Clone() Record {
	if r.Lines != nil {
		r.Lines = append([]Line(nil), r.Lines...)
	}
	return r
}

// LoanIDs returns the loans charged by the record.
func (r Record) LoanIDs() []string {
	var ids []string
	for _, l := range r.Lines {
		if l.Kind == LineLoan {
			ids = append(ids, l.SourceID)
		}
	}
	return ids
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// AttendanceSource reports worked hours. Attendance capture lives elsewhere.
type AttendanceSource interface {
	HoursWorked(ctx context.Context, employeeID string, month generic.MonthKey) (decimal.Decimal, error)
}

// NoAttendance reports zero hours for everyone.
type NoAttendance struct{}

func (NoAttendance) HoursWorked(context.Context, string, generic.MonthKey) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
