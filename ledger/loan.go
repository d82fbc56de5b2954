package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// LOAN
// =============================================================================

type LoanStatus string

const (
	LoanPending   LoanStatus = "pending"   // requested, awaiting approval
	LoanActive    LoanStatus = "active"    // approved and disbursed, installments due
	LoanClosed    LoanStatus = "closed"    // every installment consumed
	LoanCancelled LoanStatus = "cancelled" // request rejected/cancelled, or reversed before any installment
)

// Loan is an installment schedule.
//
// INVARIANTS:
//   - 0 <= RemainingInstallments <= TotalInstallments
//   - Status == closed  <=>  RemainingInstallments == 0 after activation
//   - ConsumedMonths has no duplicates; len(ConsumedMonths) == Total - Remaining
type Loan struct {
	ID                    string
	EmployeeID            string
	RequestID             string
	LoanAmount            decimal.Decimal
	InstallmentAmount     decimal.Decimal
	TotalInstallments     int
	RemainingInstallments int
	Disbursed             bool
	DisbursedAt           *time.Time
	StartMonth            generic.MonthKey
	ConsumedMonths        []generic.MonthKey
	Status                LoanStatus
	CreatedAt             time.Time
	Version               int
}

// NewLoan builds a pending loan. The installment amount is the loan amount
// split evenly, rounded to cents.
func NewLoan(id, employeeID, requestID string, amount decimal.Decimal, installments int, createdAt time.Time) (Loan, error) {
	if !amount.IsPositive() {
		return Loan{}, fmt.Errorf("%w: loan amount must be positive", generic.ErrInvalidInput)
	}
	if installments < 1 {
		return Loan{}, fmt.Errorf("%w: loan needs at least one installment", generic.ErrInvalidInput)
	}
	return Loan{
		ID:                    id,
		EmployeeID:            employeeID,
		RequestID:             requestID,
		LoanAmount:            amount,
		InstallmentAmount:     amount.DivRound(decimal.NewFromInt(int64(installments)), 2),
		TotalInstallments:     installments,
		RemainingInstallments: installments,
		Status:                LoanPending,
		CreatedAt:             createdAt,
	}, nil
}

// ConsumedIn reports whether an installment was already taken for month.
func (l Loan) ConsumedIn(month generic.MonthKey) bool {
	for _, m := range l.ConsumedMonths {
		if m == month {
			return true
		}
	}
	return false
}

// DueIn reports whether payroll for month charges an installment of this loan.
// A month that already consumed an installment stays due, so regenerating a
// reopened month reproduces the same charge.
func (l Loan) DueIn(month generic.MonthKey) bool {
	if l.ConsumedIn(month) {
		return true
	}
	return l.Status == LoanActive &&
		l.RemainingInstallments > 0 &&
		!month.Before(l.StartMonth)
}

// =============================================================================
// LOAN LEDGER
// =============================================================================

// LoanLedger manages the installment schedule. Consumption is driven by
// payroll finalization, once per loan per month.
type LoanLedger struct{}

// Create stores a new pending loan.
func (LoanLedger) Create(ctx context.Context, store LoanStore, loan *Loan) error {
	if loan.Status != LoanPending || loan.Version != 0 {
		return fmt.Errorf("%w: new loans must be pending", generic.ErrInvalidInput)
	}
	return store.SaveLoan(ctx, loan)
}

// Activate marks an approved loan active and disbursed. Installments are
// due from startMonth on. A cancelled loan that never charged an
// installment can be activated again (an override re-approving its request).
func (LoanLedger) Activate(ctx context.Context, store LoanStore, loanID string, startMonth generic.MonthKey, at time.Time) (*Loan, error) {
	loan, err := store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	reopenable := loan.Status == LoanCancelled && len(loan.ConsumedMonths) == 0
	if loan.Status != LoanPending && !reopenable {
		return nil, generic.NewStateError(generic.ErrInvalidTransition, "activate_loan",
			generic.EntityLoan, loan.ID, string(loan.Status))
	}

	loan.Status = LoanActive
	loan.Disbursed = true
	loan.DisbursedAt = &at
	loan.StartMonth = startMonth

	if err := store.SaveLoan(ctx, loan); err != nil {
		return nil, fmt.Errorf("activate loan %s: %w", loan.ID, err)
	}
	return loan, nil
}

// Cancel withdraws a loan that never charged an installment. Loans with
// consumed installments cannot be unwound here; that needs a payroll reversal.
func (LoanLedger) Cancel(ctx context.Context, store LoanStore, loanID string) (*Loan, error) {
	loan, err := store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	switch {
	case loan.Status == LoanCancelled:
		return loan, nil
	case len(loan.ConsumedMonths) > 0 || loan.Status == LoanClosed:
		return nil, generic.NewStateError(generic.ErrInvalidTransition, "cancel_loan",
			generic.EntityLoan, loan.ID, string(loan.Status)).
			WithDetail("%d installment(s) already consumed", len(loan.ConsumedMonths))
	}

	loan.Status = LoanCancelled
	if err := store.SaveLoan(ctx, loan); err != nil {
		return nil, fmt.Errorf("cancel loan %s: %w", loan.ID, err)
	}
	return loan, nil
}

// ConsumeInstallment takes one installment for month. Consuming the same
// month twice is a no-op (consumed == false). A loan that is no longer
// active cannot be charged; the payroll draft that referenced it is stale.
func (LoanLedger) ConsumeInstallment(ctx context.Context, store LoanStore, loanID string, month generic.MonthKey) (loan *Loan, consumed bool, err error) {
	loan, err = store.GetLoan(ctx, loanID)
	if err != nil {
		return nil, false, err
	}
	if loan.ConsumedIn(month) {
		return loan, false, nil
	}
	if loan.Status != LoanActive || loan.RemainingInstallments == 0 {
		return nil, false, generic.NewStateError(generic.ErrInvalidTransition, "consume_installment",
			generic.EntityLoan, loan.ID, string(loan.Status)).
			WithDetail("no installment due in %s", month)
	}

	loan.RemainingInstallments--
	loan.ConsumedMonths = append(loan.ConsumedMonths, month)
	sort.Slice(loan.ConsumedMonths, func(i, j int) bool { return loan.ConsumedMonths[i] < loan.ConsumedMonths[j] })
	if loan.RemainingInstallments == 0 {
		loan.Status = LoanClosed
	}

	if err := store.SaveLoan(ctx, loan); err != nil {
		return nil, false, fmt.Errorf("consume installment of loan %s: %w", loan.ID, err)
	}
	return loan, true, nil
}

// DueLoans lists the loans of employeeID charged in month.
func (LoanLedger) DueLoans(ctx context.Context, store LoanStore, employeeID string, month generic.MonthKey) ([]Loan, error) {
	loans, err := store.ListLoans(ctx, LoanFilter{
		EmployeeID: employeeID,
		Statuses:   []LoanStatus{LoanActive, LoanClosed},
	})
	if err != nil {
		return nil, err
	}
	var due []Loan
	for _, l := range loans {
		if l.DueIn(month) {
			due = append(due, l)
		}
	}
	return due, nil
}
