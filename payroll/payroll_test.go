package payroll_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/settlement-engine/directory"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/generic/store"
	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/payroll"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal { return generic.MustParseDecimal(s) }

var now = time.Date(2025, time.January, 20, 12, 0, 0, 0, time.UTC)

type fixture struct {
	ctx     context.Context
	store   *store.Memory
	service *payroll.Service
	loanID  string
}

// newFixture: emp earns 3000 with a recurring 250 housing allowance from
// February, a one-time 40 penalty in February and a 1200 loan repaid in
// 12 installments of 100 starting in February. A second, inactive
// employee must never appear in payroll.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory(
		directory.Employee{ID: "boss", Active: true, BaseSalary: dec("8000")},
		directory.Employee{ID: "emp", ManagerID: "boss", Active: true, BaseSalary: dec("3000")},
		directory.Employee{ID: "gone", ManagerID: "boss", Active: false, BaseSalary: dec("2500")},
	)

	book := ledger.AdjustmentBook{}
	require.NoError(t, book.Add(ctx, s, &ledger.Adjustment{
		ID: "adj-housing", EmployeeID: "emp", Kind: ledger.KindAllowance, Category: "housing",
		Amount: dec("250"), IsRecurring: true, StartMonth: "2025-02", CreatedAt: now,
	}))
	require.NoError(t, book.Add(ctx, s, &ledger.Adjustment{
		ID: "adj-late", EmployeeID: "emp", Kind: ledger.KindDeduction, Category: "late",
		Amount: dec("40"), StartMonth: "2025-02", CreatedAt: now,
	}))

	ll := ledger.LoanLedger{}
	loan, err := ledger.NewLoan("loan-1", "emp", "req-1", dec("1200"), 12, now)
	require.NoError(t, err)
	require.NoError(t, ll.Create(ctx, s, &loan))
	_, err = ll.Activate(ctx, s, loan.ID, "2025-02", now)
	require.NoError(t, err)

	svc := payroll.NewService(s, s, s, nil)
	svc.Clock = generic.FixedClock(now)
	return &fixture{ctx: ctx, store: s, service: svc, loanID: loan.ID}
}

func recordOf(t *testing.T, records []payroll.Record, employeeID string) payroll.Record {
	t.Helper()
	for _, r := range records {
		if r.EmployeeID == employeeID {
			return r
		}
	}
	t.Fatalf("no record for %s", employeeID)
	return payroll.Record{}
}

// =============================================================================
// GENERATE
// =============================================================================

func TestGenerate_ComputesRecord(t *testing.T) {
	f := newFixture(t)
	f.store.SetHours("emp", "2025-02", dec("152.5"))

	month, records, err := f.service.Generate(f.ctx, "2025-02", "payroll-admin")
	require.NoError(t, err)

	assert.Equal(t, payroll.StatusDraft, month.Status)
	require.Len(t, records, 2, "inactive employees are excluded")

	rec := recordOf(t, records, "emp")
	assert.True(t, rec.BaseSalary.Equal(dec("3000")))
	assert.True(t, rec.TotalAllowances.Equal(dec("250")))
	assert.True(t, rec.CustomDeductions.Equal(dec("40")))
	assert.True(t, rec.LoanInstallments.Equal(dec("100")))
	assert.True(t, rec.TotalDeductions.Equal(dec("140")))
	assert.True(t, rec.EstimatedNet.Equal(dec("3110")), "3000 + 250 - 40 - 100, got %s", rec.EstimatedNet)
	assert.True(t, rec.TotalHours.Equal(dec("152.5")))
	assert.Equal(t, []string{f.loanID}, rec.LoanIDs())

	boss := recordOf(t, records, "boss")
	assert.True(t, boss.EstimatedNet.Equal(dec("8000")))
	assert.Empty(t, boss.Lines)
}

func TestGenerate_IsIdempotent(t *testing.T) {
	f := newFixture(t)

	_, first, err := f.service.Generate(f.ctx, "2025-02", "payroll-admin")
	require.NoError(t, err)
	_, second, err := f.service.Generate(f.ctx, "2025-02", "payroll-admin")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	stored, err := f.service.ListRecords(f.ctx, "2025-02")
	require.NoError(t, err)
	assert.Len(t, stored, 2, "records are replaced, not appended")
}

func TestGenerate_RejectsMalformedMonth(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.service.Generate(f.ctx, "2025-13", "payroll-admin")
	assert.True(t, errors.Is(err, generic.ErrInvalidInput))
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestFinalize_BlocksRegeneration(t *testing.T) {
	f := newFixture(t)
	_, before, err := f.service.Generate(f.ctx, "2025-02", "payroll-admin")
	require.NoError(t, err)

	month, err := f.service.Finalize(f.ctx, "2025-02", "payroll-admin")
	require.NoError(t, err)
	assert.Equal(t, payroll.StatusFinalized, month.Status)

	_, _, err = f.service.Generate(f.ctx, "2025-02", "payroll-admin")
	require.Error(t, err)
	assert.True(t, errors.Is(err, generic.ErrMonthNotEditable))
	var se *generic.StateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "2025-02", se.EntityID)
	assert.Equal(t, string(payroll.StatusFinalized), se.State)

	after, err := f.service.ListRecords(f.ctx, "2025-02")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestFinalize_ConcurrentCallsConsumeOnce(t *testing.T) {
	// GIVEN: a generated draft month with one due installment
	f := newFixture(t)
	_, _, err := f.service.Generate(f.ctx, "2025-02", "payroll-admin")
	require.NoError(t, err)

	// WHEN: eight administrators finalize it at the same time
	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.service.Finalize(f.ctx, "2025-02", "payroll-admin")
		}(i)
	}
	wg.Wait()

	// THEN: one succeeds, the rest see a month that is no longer a draft
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, generic.ErrMonthNotEditable), "got %v", err)
	}
	assert.Equal(t, 1, succeeded)

	// AND: the installment was taken exactly once
	loan, err := f.store.GetLoan(f.ctx, f.loanID)
	require.NoError(t, err)
	assert.Equal(t, 11, loan.RemainingInstallments)

	finalized, err := f.store.QueryAudit(f.ctx, generic.AuditFilter{
		EntityType: generic.EntityPayroll,
		EntityID:   "2025-02",
		Actions:    []generic.AuditAction{generic.AuditPayrollFinalized},
	})
	require.NoError(t, err)
	assert.Len(t, finalized, 1)
}

func TestFinalize_ConsumesInstallments(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.service.Generate(f.ctx, "2025-02", "payroll-admin")
	require.NoError(t, err)

	_, err = f.service.Finalize(f.ctx, "2025-02", "payroll-admin")
	require.NoError(t, err)

	loan, err := f.store.GetLoan(f.ctx, f.loanID)
	require.NoError(t, err)
	assert.Equal(t, 11, loan.RemainingInstallments)

	entries, err := f.store.QueryAudit(f.ctx, generic.AuditFilter{
		EntityType: generic.EntityLoan, EntityID: f.loanID,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, generic.AuditInstallmentConsumed, entries[0].Action)
}

func TestFinalize_TwelveCyclesCloseLoan(t *testing.T) {
	f := newFixture(t)
	m := generic.MonthKey("2025-02")

	for i := 0; i < 12; i++ {
		_, _, err := f.service.Generate(f.ctx, m, "payroll-admin")
		require.NoError(t, err)
		_, err = f.service.Finalize(f.ctx, m, "payroll-admin")
		require.NoError(t, err)
		_, err = f.service.Lock(f.ctx, m, "payroll-admin")
		require.NoError(t, err)
		m = m.Next()
	}

	loan, err := f.store.GetLoan(f.ctx, f.loanID)
	require.NoError(t, err)
	assert.Equal(t, 0, loan.RemainingInstallments)
	assert.Equal(t, ledger.LoanClosed, loan.Status)

	// Thirteenth month: no installment line.
	_, records, err := f.service.Generate(f.ctx, m, "payroll-admin")
	require.NoError(t, err)
	rec := recordOf(t, records, "emp")
	assert.True(t, rec.LoanInstallments.IsZero())
	assert.Empty(t, rec.LoanIDs())
}

func TestLock_RequiresFinalized(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.service.Generate(f.ctx, "2025-02", "payroll-admin")
	require.NoError(t, err)

	_, err = f.service.Lock(f.ctx, "2025-02", "payroll-admin")
	assert.True(t, errors.Is(err, generic.ErrMonthNotEditable))

	_, err = f.service.Lock(f.ctx, "2025-03", "payroll-admin")
	assert.True(t, generic.IsNotFound(err))
}

func TestReopen_StepsBackWithoutDoubleConsumption(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.service.Generate(f.ctx, "2025-02", "payroll-admin")
	require.NoError(t, err)
	_, err = f.service.Finalize(f.ctx, "2025-02", "payroll-admin")
	require.NoError(t, err)
	_, err = f.service.Lock(f.ctx, "2025-02", "payroll-admin")
	require.NoError(t, err)

	_, err = f.service.Reopen(f.ctx, "2025-02", "payroll-admin", "")
	assert.True(t, errors.Is(err, generic.ErrMissingReason))

	month, err := f.service.Reopen(f.ctx, "2025-02", "payroll-admin", "late overtime correction")
	require.NoError(t, err)
	assert.Equal(t, payroll.StatusFinalized, month.Status)
	assert.Nil(t, month.LockedAt)

	month, err = f.service.Reopen(f.ctx, "2025-02", "payroll-admin", "late overtime correction")
	require.NoError(t, err)
	assert.Equal(t, payroll.StatusDraft, month.Status)

	// Regenerate: the consumed installment is still charged in its month.
	_, records, err := f.service.Generate(f.ctx, "2025-02", "payroll-admin")
	require.NoError(t, err)
	assert.True(t, recordOf(t, records, "emp").LoanInstallments.Equal(dec("100")))

	_, err = f.service.Finalize(f.ctx, "2025-02", "payroll-admin")
	require.NoError(t, err)
	loan, err := f.store.GetLoan(f.ctx, f.loanID)
	require.NoError(t, err)
	assert.Equal(t, 11, loan.RemainingInstallments)

	_, err = f.service.Reopen(f.ctx, "2025-03", "payroll-admin", "reason")
	assert.True(t, generic.IsNotFound(err))
}

func TestFinalize_StaleDraftFails(t *testing.T) {
	// GIVEN: a draft charging the loan, then the loan is cancelled
	// THEN: finalization refuses the stale draft and changes nothing
	f := newFixture(t)
	ctx := f.ctx
	loan, err := ledger.NewLoan("loan-2", "boss", "req-2", dec("500"), 5, now)
	require.NoError(t, err)
	ll := ledger.LoanLedger{}
	require.NoError(t, ll.Create(ctx, f.store, &loan))
	_, err = ll.Activate(ctx, f.store, loan.ID, "2025-02", now)
	require.NoError(t, err)

	_, _, err = f.service.Generate(ctx, "2025-02", "payroll-admin")
	require.NoError(t, err)
	_, err = ll.Cancel(ctx, f.store, loan.ID)
	require.NoError(t, err)

	_, err = f.service.Finalize(ctx, "2025-02", "payroll-admin")
	assert.True(t, errors.Is(err, generic.ErrInvalidTransition))

	month, err := f.service.GetMonth(ctx, "2025-02")
	require.NoError(t, err)
	assert.Equal(t, payroll.StatusDraft, month.Status)
	first, err := f.store.GetLoan(ctx, f.loanID)
	require.NoError(t, err)
	assert.Equal(t, 12, first.RemainingInstallments, "rolled back")
}

func TestListMonths(t *testing.T) {
	f := newFixture(t)
	for _, m := range []generic.MonthKey{"2025-03", "2025-02"} {
		_, _, err := f.service.Generate(f.ctx, m, "payroll-admin")
		require.NoError(t, err)
	}

	months, err := f.service.ListMonths(f.ctx)
	require.NoError(t, err)
	require.Len(t, months, 2)
	assert.Equal(t, generic.MonthKey("2025-02"), months[0].Key)
}
