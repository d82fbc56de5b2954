package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/settlement-engine/approval"
	"github.com/warp/settlement-engine/directory"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/payroll"
	"github.com/warp/settlement-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal { return generic.MustParseDecimal(s) }

var now = time.Date(2025, time.January, 10, 9, 30, 0, 0, time.UTC)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	for _, e := range []directory.Employee{
		{ID: "ceo", Name: "Chief", Active: true, BaseSalary: dec("9000")},
		{ID: "lead", Name: "Lead", ManagerID: "ceo", Active: true, BaseSalary: dec("5000")},
		{ID: "emp", Name: "Employee", ManagerID: "lead", Active: true, BaseSalary: dec("3000")},
	} {
		require.NoError(t, s.PutEmployee(ctx, e))
	}
	return s
}

func newEngine(t *testing.T, s *sqlite.Store) *approval.Engine {
	t.Helper()
	e := approval.NewEngine(s, s, nil)
	e.Clock = generic.FixedClock(now)
	return e
}

// =============================================================================
// DIRECTORY
// =============================================================================

func TestDirectory(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	emp, err := s.GetEmployee(ctx, "emp")
	require.NoError(t, err)
	assert.Equal(t, "lead", emp.ManagerID)
	assert.True(t, emp.BaseSalary.Equal(dec("3000")))

	_, err = s.GetEmployee(ctx, "ghost")
	assert.True(t, generic.IsNotFound(err))

	chain, err := directory.ManagerChain(ctx, s, "emp")
	require.NoError(t, err)
	assert.Equal(t, []string{"lead", "ceo"}, chain)

	all, err := s.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "ceo", all[0].ID)
}

// =============================================================================
// OPTIMISTIC LOCKING
// =============================================================================

func TestSave_StaleVersionConflicts(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	b := &ledger.LeaveBalance{EmployeeID: "emp", Annual: dec("5")}
	require.NoError(t, s.SaveBalance(ctx, b))
	assert.Equal(t, 1, b.Version)

	first, err := s.GetBalance(ctx, "emp")
	require.NoError(t, err)
	second, err := s.GetBalance(ctx, "emp")
	require.NoError(t, err)

	first.Annual = dec("4")
	require.NoError(t, s.SaveBalance(ctx, first))
	assert.Equal(t, 2, first.Version)

	second.Annual = dec("3")
	err = s.SaveBalance(ctx, second)
	assert.True(t, errors.Is(err, generic.ErrConcurrentModification))

	// Inserting an existing key is a conflict too.
	err = s.SaveBalance(ctx, &ledger.LeaveBalance{EmployeeID: "emp", Annual: dec("1")})
	assert.True(t, errors.Is(err, generic.ErrConcurrentModification))

	stored, err := s.GetBalance(ctx, "emp")
	require.NoError(t, err)
	assert.True(t, stored.Annual.Equal(dec("4")))
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	boom := errors.New("boom")

	err := s.WithApprovalTx(ctx, func(tx approval.Tx) error {
		require.NoError(t, tx.SaveBalance(ctx, &ledger.LeaveBalance{EmployeeID: "emp", Annual: dec("5")}))
		require.NoError(t, generic.Audit(ctx, tx, now, generic.AuditEntry{
			EntityType: generic.EntityBalance, EntityID: "emp", Action: generic.AuditBalanceSet,
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetBalance(ctx, "emp")
	assert.True(t, generic.IsNotFound(err))
	entries, err := s.QueryAudit(ctx, generic.AuditFilter{EntityID: "emp"})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// =============================================================================
// APPROVAL FLOW
// =============================================================================

func TestEngine_RequestRoundTrip(t *testing.T) {
	// GIVEN: a two-level leave request stored in sqlite
	// WHEN: both levels approve
	// THEN: the chain, effect and balance survive the round trip through SQL
	ctx := context.Background()
	s := newStore(t)
	e := newEngine(t, s)

	_, err := e.UpdateSettings(ctx, approval.Settings{
		Types: map[approval.RequestType]approval.TypeSettings{
			approval.TypeLeave: {RequiredLevels: 2},
		},
		DefaultOverdueDays: 3,
	}, "admin")
	require.NoError(t, err)
	_, err = e.SetBalance(ctx, ledger.LeaveBalance{EmployeeID: "emp", Annual: dec("5")}, "admin")
	require.NoError(t, err)

	r, err := e.Submit(ctx, approval.SubmitInput{
		Type:        approval.TypeLeave,
		RequesterID: "emp",
		Payload: approval.LeavePayload{
			LeaveType: ledger.LeaveAnnual,
			StartDate: generic.NewDay(2025, time.February, 3),
			EndDate:   generic.NewDay(2025, time.February, 4),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, r.SettingsVersion)

	stored, err := s.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, stored.Chain, 2)
	assert.Equal(t, "lead", stored.Chain[0].ApproverID)
	assert.Equal(t, "ceo", stored.Chain[1].ApproverID)
	assert.Equal(t, approval.StatusPending, stored.FinalStatus)
	payload, ok := stored.Payload.(approval.LeavePayload)
	require.True(t, ok)
	assert.Equal(t, "2025-02-03", payload.StartDate.String())

	_, err = e.ApproveStep(ctx, r.ID, "lead", 1, "fine")
	require.NoError(t, err)
	_, err = e.ApproveStep(ctx, r.ID, "ceo", 2, "")
	require.NoError(t, err)

	stored, err = s.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusApproved, stored.FinalStatus)
	assert.Equal(t, approval.EffectApplied, stored.Effect)
	assert.Equal(t, "fine", stored.Chain[0].Comment)
	require.NotNil(t, stored.Chain[1].DecidedAt)
	assert.True(t, stored.Chain[1].DecidedAt.Equal(now))
	assert.Equal(t, 3, stored.Version)

	b, err := s.GetBalance(ctx, "emp")
	require.NoError(t, err)
	assert.True(t, b.Annual.Equal(dec("3")))

	list, err := s.ListRequests(ctx, approval.RequestFilter{RequesterID: "emp", Status: approval.StatusApproved})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	entries, err := s.QueryAudit(ctx, generic.AuditFilter{EntityType: generic.EntityRequest, EntityID: r.ID})
	require.NoError(t, err)
	var actions []generic.AuditAction
	for _, en := range entries {
		actions = append(actions, en.Action)
	}
	assert.Equal(t, []generic.AuditAction{
		generic.AuditRequestCreated,
		generic.AuditStepApproved,
		generic.AuditStepApproved,
		generic.AuditEffectApplied,
	}, actions)
	assert.Equal(t, "1", entries[1].Metadata["level"])
}

func TestEngine_OverrideAndCancellationPersist(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	e := newEngine(t, s)

	r, err := e.Submit(ctx, approval.SubmitInput{
		Type:        approval.TypeOther,
		RequesterID: "emp",
		Payload:     approval.OtherPayload{Description: "new laptop"},
	})
	require.NoError(t, err)

	_, err = e.AdminOverride(ctx, r.ID, approval.StatusRejected, "budget freeze", "hr-admin")
	require.NoError(t, err)

	stored, err := s.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Override)
	assert.Equal(t, "budget freeze", stored.Override.Reason)
	assert.Equal(t, approval.StatusRejected, stored.FinalStatus)

	other, err := e.Submit(ctx, approval.SubmitInput{
		Type:        approval.TypeOther,
		RequesterID: "emp",
		Payload:     approval.OtherPayload{Description: "desk"},
	})
	require.NoError(t, err)
	_, err = e.CancelRequest(ctx, other.ID, "emp")
	require.NoError(t, err)

	stored, err = s.GetRequest(ctx, other.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Cancellation)
	assert.Equal(t, "emp", stored.Cancellation.ActorID)
	assert.Equal(t, approval.StatusCancelled, stored.FinalStatus)
}

func TestDelegationsAndSettings(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	e := newEngine(t, s)

	d, err := e.CreateDelegation(ctx, approval.DelegationInput{
		DelegatorID: "lead",
		DelegateID:  "ceo",
		ActiveFrom:  generic.NewDay(2025, time.January, 1),
		ActiveTo:    generic.NewDay(2025, time.January, 31),
	}, "admin")
	require.NoError(t, err)

	got, err := s.GetDelegation(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-31", got.ActiveTo.String())
	assert.False(t, got.Ended)

	_, err = e.EndDelegation(ctx, d.ID, "admin")
	require.NoError(t, err)
	got, err = s.GetDelegation(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, got.Ended)
	require.NotNil(t, got.EndedAt)

	_, err = s.CurrentSettings(ctx)
	assert.True(t, generic.IsNotFound(err))

	for i := 0; i < 2; i++ {
		_, err = e.UpdateSettings(ctx, approval.DefaultSettings(), "admin")
		require.NoError(t, err)
	}
	current, err := s.CurrentSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, current.Version)
	assert.Equal(t, 2, current.For(approval.TypeLoan).RequiredLevels)

	dup := approval.DefaultSettings()
	dup.Version = 2
	err = s.SaveSettings(ctx, &dup)
	assert.True(t, errors.Is(err, generic.ErrConcurrentModification))
}

// =============================================================================
// PAYROLL
// =============================================================================

func TestPayroll_FrozenMonthRejectsRecordWrites(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.SetHours(ctx, "emp", "2025-02", dec("160")))

	ll := ledger.LoanLedger{}
	loan, err := ledger.NewLoan("loan-1", "emp", "req-1", dec("600"), 6, now)
	require.NoError(t, err)
	require.NoError(t, ll.Create(ctx, s, &loan))
	_, err = ll.Activate(ctx, s, loan.ID, "2025-02", now)
	require.NoError(t, err)

	svc := payroll.NewService(s, s, s, nil)
	svc.Clock = generic.FixedClock(now)

	_, records, err := svc.Generate(ctx, "2025-02", "payroll-admin")
	require.NoError(t, err)
	require.Len(t, records, 3)

	stored, err := svc.ListRecords(ctx, "2025-02")
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, "emp", stored[1].EmployeeID)
	assert.True(t, stored[1].TotalHours.Equal(dec("160")))
	assert.True(t, stored[1].EstimatedNet.Equal(dec("2900")))
	assert.Equal(t, []string{"loan-1"}, stored[1].LoanIDs())

	_, err = svc.Finalize(ctx, "2025-02", "payroll-admin")
	require.NoError(t, err)

	got, err := s.GetLoan(ctx, "loan-1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.RemainingInstallments)
	assert.Equal(t, []generic.MonthKey{"2025-02"}, got.ConsumedMonths)

	// Direct writes are refused once the month left draft.
	err = s.WithPayrollTx(ctx, func(tx payroll.Tx) error {
		return tx.ReplaceRecords(ctx, "2025-02", nil)
	})
	assert.True(t, errors.Is(err, generic.ErrMonthNotEditable))

	after, err := svc.ListRecords(ctx, "2025-02")
	require.NoError(t, err)
	assert.Len(t, after, 3)

	months, err := svc.ListMonths(ctx)
	require.NoError(t, err)
	require.Len(t, months, 1)
	assert.Equal(t, payroll.StatusFinalized, months[0].Status)
	require.NotNil(t, months[0].FinalizedAt)
}

func TestAttendance_DefaultsToZero(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	h, err := s.HoursWorked(ctx, "emp", "2025-03")
	require.NoError(t, err)
	assert.True(t, h.IsZero())

	assert.True(t, errors.Is(s.SetHours(ctx, "emp", "2025-03", dec("-1")), generic.ErrInvalidInput))
}

func TestAuditFilter(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	for i, action := range []generic.AuditAction{generic.AuditRequestCreated, generic.AuditStepApproved, generic.AuditRequestCancelled} {
		require.NoError(t, generic.Audit(ctx, s, now.Add(time.Duration(i)*time.Hour), generic.AuditEntry{
			EntityType: generic.EntityRequest,
			EntityID:   "req-1",
			Action:     action,
			ActorID:    "emp",
			Metadata:   map[string]string{"i": string(rune('a' + i))},
		}))
	}

	from := now.Add(30 * time.Minute)
	entries, err := s.QueryAudit(ctx, generic.AuditFilter{EntityID: "req-1", From: &from})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, generic.AuditStepApproved, entries[0].Action)
	assert.Equal(t, "b", entries[0].Metadata["i"])

	entries, err = s.QueryAudit(ctx, generic.AuditFilter{Actions: []generic.AuditAction{generic.AuditRequestCancelled}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Timestamp.Equal(now.Add(2*time.Hour)))
}
