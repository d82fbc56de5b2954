/*
Package ledger holds the financial side effects of approved requests:
leave balances, loan installment schedules and recurring/one-time
allowances and deductions.

PURPOSE:
  The approval engine decides; the ledgers remember. Each ledger is a small
  read-modify-write over one record, executed inside the caller's store
  transaction so that the decision, its effect and the audit row commit
  together or not at all.

OPTIMISTIC CONCURRENCY:
  Every record carries a Version. Save* methods compare the stored version
  with the one read by the caller and fail with
  generic.ErrConcurrentModification on mismatch. A Version of 0 means
  "insert". On success the store bumps the caller's Version in place.

COMPONENTS:
  - BalanceLedger  (balance.go):    leave buckets, deduct/restore
  - LoanLedger     (loan.go):       activation, installment consumption
  - AdjustmentBook (adjustment.go): allowances and deductions by month

SEE ALSO:
  - approval/effects.go: Dispatches request outcomes to these ledgers
  - payroll/aggregator.go: Reads loans and adjustments for a month
*/
package ledger

import "context"

// =============================================================================
// STORE INTERFACES
// =============================================================================

// BalanceStore persists leave balances.
type BalanceStore interface {
	// GetBalance returns generic.ErrNotFound for employees without a balance row.
	GetBalance(ctx context.Context, employeeID string) (*LeaveBalance, error)
	SaveBalance(ctx context.Context, b *LeaveBalance) error
}

// LoanStore persists loans.
type LoanStore interface {
	GetLoan(ctx context.Context, id string) (*Loan, error)
	SaveLoan(ctx context.Context, l *Loan) error
	ListLoans(ctx context.Context, filter LoanFilter) ([]Loan, error)
}

// AdjustmentStore persists allowances and deductions.
type AdjustmentStore interface {
	GetAdjustment(ctx context.Context, id string) (*Adjustment, error)
	SaveAdjustment(ctx context.Context, a *Adjustment) error
	ListAdjustments(ctx context.Context, filter AdjustmentFilter) ([]Adjustment, error)
}

// Store is everything the ledgers persist.
type Store interface {
	BalanceStore
	LoanStore
	AdjustmentStore
}

type LoanFilter struct {
	EmployeeID string
	Statuses   []LoanStatus
}

// Matches reports whether l passes the filter.
func (f LoanFilter) Matches(l Loan) bool {
	if f.EmployeeID != "" && l.EmployeeID != f.EmployeeID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if l.Status == s {
			return true
		}
	}
	return false
}

type AdjustmentFilter struct {
	EmployeeID string
	Kind       AdjustmentKind
	Status     AdjustmentStatus
}

// Matches reports whether a passes the filter.
func (f AdjustmentFilter) Matches(a Adjustment) bool {
	if f.EmployeeID != "" && a.EmployeeID != f.EmployeeID {
		return false
	}
	if f.Kind != "" && a.Kind != f.Kind {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	return true
}
