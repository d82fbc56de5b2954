package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/generic/store"
	"github.com/warp/settlement-engine/ledger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal { return generic.MustParseDecimal(s) }

func month(s string) generic.MonthKey { return generic.MonthKey(s) }

var jan1 = time.Date(2025, time.January, 1, 9, 0, 0, 0, time.UTC)

func seedBalance(t *testing.T, s *store.Memory, b ledger.LeaveBalance) {
	t.Helper()
	_, err := ledger.BalanceLedger{}.Set(context.Background(), s, b)
	require.NoError(t, err)
}

// =============================================================================
// BALANCE LEDGER
// =============================================================================

func TestBalance_InsufficientThenSufficient(t *testing.T) {
	// GIVEN: annual balance of 5
	// WHEN: deduct 6, then deduct 3
	// THEN: first fails without writing, second leaves 2
	ctx := context.Background()
	s := store.NewMemory()
	seedBalance(t, s, ledger.LeaveBalance{EmployeeID: "emp-1", Annual: dec("5")})
	bl := ledger.BalanceLedger{}

	_, err := bl.Deduct(ctx, s, "emp-1", ledger.LeaveAnnual, dec("6"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, generic.ErrInsufficientBalance))
	var ibe *generic.InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assert.True(t, ibe.Available.Equal(dec("5")))

	current, err := bl.Get(ctx, s, "emp-1")
	require.NoError(t, err)
	assert.True(t, current.Annual.Equal(dec("5")), "failed deduction must not mutate")

	after, err := bl.Deduct(ctx, s, "emp-1", ledger.LeaveAnnual, dec("3"))
	require.NoError(t, err)
	assert.True(t, after.Annual.Equal(dec("2")))
}

func TestBalance_UnpaidAlwaysSucceedsAndCounts(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	bl := ledger.BalanceLedger{}

	b, err := bl.Deduct(ctx, s, "emp-1", ledger.LeaveUnpaid, dec("10"))
	require.NoError(t, err)
	assert.True(t, b.UnpaidTaken.Equal(dec("10")))

	b, err = bl.Restore(ctx, s, "emp-1", ledger.LeaveUnpaid, dec("4"))
	require.NoError(t, err)
	assert.True(t, b.UnpaidTaken.Equal(dec("6")))
}

func TestBalance_RestoreIsInverseOfDeduct(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seedBalance(t, s, ledger.LeaveBalance{EmployeeID: "emp-1", Sick: dec("7.5")})
	bl := ledger.BalanceLedger{}

	_, err := bl.Deduct(ctx, s, "emp-1", ledger.LeaveSick, dec("2.5"))
	require.NoError(t, err)
	b, err := bl.Restore(ctx, s, "emp-1", ledger.LeaveSick, dec("2.5"))
	require.NoError(t, err)

	assert.True(t, b.Sick.Equal(dec("7.5")))
}

func TestBalance_StaleVersionIsRejected(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seedBalance(t, s, ledger.LeaveBalance{EmployeeID: "emp-1", Annual: dec("10")})

	first, err := s.GetBalance(ctx, "emp-1")
	require.NoError(t, err)
	second, err := s.GetBalance(ctx, "emp-1")
	require.NoError(t, err)

	first.Annual = dec("9")
	require.NoError(t, s.SaveBalance(ctx, first))

	second.Annual = dec("8")
	err = s.SaveBalance(ctx, second)
	assert.True(t, errors.Is(err, generic.ErrConcurrentModification))
}

func TestBalance_SetRejectsNegativeBuckets(t *testing.T) {
	_, err := ledger.BalanceLedger{}.Set(context.Background(), store.NewMemory(),
		ledger.LeaveBalance{EmployeeID: "emp-1", Annual: dec("-1")})
	assert.True(t, errors.Is(err, generic.ErrInvalidInput))
}

// =============================================================================
// LOAN LEDGER
// =============================================================================

func newActiveLoan(t *testing.T, s *store.Memory) *ledger.Loan {
	t.Helper()
	ctx := context.Background()
	ll := ledger.LoanLedger{}

	loan, err := ledger.NewLoan("loan-1", "emp-1", "req-1", dec("1200"), 12, jan1)
	require.NoError(t, err)
	require.NoError(t, ll.Create(ctx, s, &loan))

	active, err := ll.Activate(ctx, s, loan.ID, month("2025-02"), jan1)
	require.NoError(t, err)
	return active
}

func TestLoan_InstallmentSchedule(t *testing.T) {
	// GIVEN: loan of 1200 over 12 installments
	// WHEN: one installment consumed
	// THEN: installment 100, 11 remaining
	ctx := context.Background()
	s := store.NewMemory()
	loan := newActiveLoan(t, s)
	assert.True(t, loan.InstallmentAmount.Equal(dec("100")))

	after, consumed, err := ledger.LoanLedger{}.ConsumeInstallment(ctx, s, loan.ID, month("2025-02"))

	require.NoError(t, err)
	assert.True(t, consumed)
	assert.Equal(t, 11, after.RemainingInstallments)
	assert.Equal(t, ledger.LoanActive, after.Status)
}

func TestLoan_ClosesAfterLastInstallment(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	loan := newActiveLoan(t, s)
	ll := ledger.LoanLedger{}

	m := month("2025-02")
	var last *ledger.Loan
	for i := 0; i < 12; i++ {
		var err error
		last, _, err = ll.ConsumeInstallment(ctx, s, loan.ID, m)
		require.NoError(t, err)
		m = m.Next()
	}

	assert.Equal(t, 0, last.RemainingInstallments)
	assert.Equal(t, ledger.LoanClosed, last.Status)
	assert.Len(t, last.ConsumedMonths, 12)

	_, _, err := ll.ConsumeInstallment(ctx, s, loan.ID, m)
	assert.True(t, errors.Is(err, generic.ErrInvalidTransition))
}

func TestLoan_SameMonthConsumedOnce(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	loan := newActiveLoan(t, s)
	ll := ledger.LoanLedger{}

	_, first, err := ll.ConsumeInstallment(ctx, s, loan.ID, month("2025-03"))
	require.NoError(t, err)
	after, second, err := ll.ConsumeInstallment(ctx, s, loan.ID, month("2025-03"))
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, 11, after.RemainingInstallments)
}

func TestLoan_DueIn(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	loan := newActiveLoan(t, s)
	ll := ledger.LoanLedger{}

	assert.False(t, loan.DueIn(month("2025-01")), "before start month")
	assert.True(t, loan.DueIn(month("2025-02")))

	due, err := ll.DueLoans(ctx, s, "emp-1", month("2025-01"))
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = ll.DueLoans(ctx, s, "emp-1", month("2025-04"))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, loan.ID, due[0].ID)
}

func TestLoan_CancelOnlyBeforeConsumption(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	loan := newActiveLoan(t, s)
	ll := ledger.LoanLedger{}

	_, _, err := ll.ConsumeInstallment(ctx, s, loan.ID, month("2025-02"))
	require.NoError(t, err)

	_, err = ll.Cancel(ctx, s, loan.ID)
	assert.True(t, errors.Is(err, generic.ErrInvalidTransition))
}

func TestLoan_PendingNotDue(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	ll := ledger.LoanLedger{}

	loan, err := ledger.NewLoan("loan-2", "emp-1", "req-2", dec("500"), 5, jan1)
	require.NoError(t, err)
	require.NoError(t, ll.Create(ctx, s, &loan))

	due, err := ll.DueLoans(ctx, s, "emp-1", month("2025-03"))
	require.NoError(t, err)
	assert.Empty(t, due)

	cancelled, err := ll.Cancel(ctx, s, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.LoanCancelled, cancelled.Status)
}

// =============================================================================
// ADJUSTMENT BOOK
// =============================================================================

func TestAdjustment_AppliesTo(t *testing.T) {
	end := month("2025-06")
	tests := []struct {
		name  string
		adj   ledger.Adjustment
		month generic.MonthKey
		want  bool
	}{
		{"one-time in its month", ledger.Adjustment{StartMonth: "2025-03", Status: ledger.AdjustmentActive}, "2025-03", true},
		{"one-time other month", ledger.Adjustment{StartMonth: "2025-03", Status: ledger.AdjustmentActive}, "2025-04", false},
		{"recurring open-ended", ledger.Adjustment{IsRecurring: true, StartMonth: "2025-03", Status: ledger.AdjustmentActive}, "2026-01", true},
		{"recurring before start", ledger.Adjustment{IsRecurring: true, StartMonth: "2025-03", Status: ledger.AdjustmentActive}, "2025-02", false},
		{"recurring end inclusive", ledger.Adjustment{IsRecurring: true, StartMonth: "2025-03", EndMonth: &end, Status: ledger.AdjustmentActive}, "2025-06", true},
		{"recurring after end", ledger.Adjustment{IsRecurring: true, StartMonth: "2025-03", EndMonth: &end, Status: ledger.AdjustmentActive}, "2025-07", false},
		{"stopped", ledger.Adjustment{IsRecurring: true, StartMonth: "2025-03", Status: ledger.AdjustmentStopped}, "2025-04", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.adj.AppliesTo(tt.month))
		})
	}
}

func TestAdjustment_DuplicateOneTimeRejected(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	book := ledger.AdjustmentBook{}

	first := &ledger.Adjustment{ID: "adj-1", EmployeeID: "emp-1", Kind: ledger.KindAllowance,
		Category: "Transport", Amount: dec("50"), StartMonth: "2025-03", CreatedAt: jan1}
	require.NoError(t, book.Add(ctx, s, first))

	dup := &ledger.Adjustment{ID: "adj-2", EmployeeID: "emp-1", Kind: ledger.KindAllowance,
		Category: "transport", Amount: dec("70"), StartMonth: "2025-03", CreatedAt: jan1}
	err := book.Add(ctx, s, dup)
	assert.True(t, errors.Is(err, generic.ErrDuplicateAdjustment))

	// A deduction of the same category is a different entry.
	ded := &ledger.Adjustment{ID: "adj-3", EmployeeID: "emp-1", Kind: ledger.KindDeduction,
		Category: "transport", Amount: dec("70"), StartMonth: "2025-03", CreatedAt: jan1}
	require.NoError(t, book.Add(ctx, s, ded))

	// Once the first is stopped the category is free again.
	_, err = book.Stop(ctx, s, "adj-1", jan1)
	require.NoError(t, err)
	require.NoError(t, book.Add(ctx, s, dup))
}

func TestAdjustment_EffectiveSelectsByMonth(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	book := ledger.AdjustmentBook{}

	require.NoError(t, book.Add(ctx, s, &ledger.Adjustment{ID: "adj-housing", EmployeeID: "emp-1", Kind: ledger.KindAllowance,
		Category: "housing", Amount: dec("300"), IsRecurring: true, StartMonth: "2025-01", CreatedAt: jan1}))
	require.NoError(t, book.Add(ctx, s, &ledger.Adjustment{ID: "adj-bonus", EmployeeID: "emp-1", Kind: ledger.KindAllowance,
		Category: "bonus", Amount: dec("150"), StartMonth: "2025-02", CreatedAt: jan1}))

	jan, err := book.Effective(ctx, s, "emp-1", ledger.KindAllowance, "2025-01")
	require.NoError(t, err)
	feb, err := book.Effective(ctx, s, "emp-1", ledger.KindAllowance, "2025-02")
	require.NoError(t, err)

	assert.Len(t, jan, 1)
	assert.Len(t, feb, 2)
}

func TestAdjustment_ValidationFailures(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	book := ledger.AdjustmentBook{}
	end := month("2025-05")

	for name, a := range map[string]ledger.Adjustment{
		"zero amount":       {ID: "a", EmployeeID: "emp-1", Kind: ledger.KindAllowance, Category: "x", StartMonth: "2025-03"},
		"missing category":  {ID: "b", EmployeeID: "emp-1", Kind: ledger.KindAllowance, Amount: dec("1"), StartMonth: "2025-03"},
		"one-time with end": {ID: "c", EmployeeID: "emp-1", Kind: ledger.KindAllowance, Category: "x", Amount: dec("1"), StartMonth: "2025-03", EndMonth: &end},
		"unknown kind":      {ID: "d", EmployeeID: "emp-1", Kind: "bonus", Category: "x", Amount: dec("1"), StartMonth: "2025-03"},
	} {
		a := a
		t.Run(name, func(t *testing.T) {
			err := book.Add(ctx, s, &a)
			assert.True(t, errors.Is(err, generic.ErrInvalidInput), "got %v", err)
		})
	}
}
