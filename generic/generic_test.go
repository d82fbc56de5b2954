package generic_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// MONTH KEY / DAY
// =============================================================================

func TestMonthKey_Boundaries(t *testing.T) {
	m := generic.NewMonthKey(2024, time.February)

	assert.Equal(t, generic.MonthKey("2024-02"), m)
	assert.Equal(t, "2024-02-01", m.Start().String())
	assert.Equal(t, "2024-02-29", m.End().String(), "leap year")
	assert.Equal(t, generic.MonthKey("2024-03"), m.Next())
	assert.Equal(t, generic.MonthKey("2025-01"), generic.MonthKey("2024-12").Next())
}

func TestMonthKey_InRange(t *testing.T) {
	end := generic.MonthKey("2025-03")

	assert.True(t, generic.MonthKey("2025-01").InRange("2025-01", &end))
	assert.True(t, generic.MonthKey("2025-03").InRange("2025-01", &end), "end is inclusive")
	assert.False(t, generic.MonthKey("2025-04").InRange("2025-01", &end))
	assert.False(t, generic.MonthKey("2024-12").InRange("2025-01", &end))
	assert.True(t, generic.MonthKey("2030-06").InRange("2025-01", nil), "open-ended")
}

func TestParseMonthKey_Invalid(t *testing.T) {
	_, err := generic.ParseMonthKey("2025-13")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	m, err := generic.ParseMonthKey("2025-07")
	require.NoError(t, err)
	assert.Equal(t, generic.MonthKey("2025-07"), m)
}

func TestDay_JSONRoundTrip(t *testing.T) {
	d := generic.NewDay(2025, time.January, 15)

	data, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"2025-01-15"`, string(data))

	var back generic.Day
	require.NoError(t, back.UnmarshalJSON(data))
	assert.True(t, back.Equal(d))
}

func TestInclusiveDays(t *testing.T) {
	from := generic.NewDay(2025, time.March, 10)
	assert.Equal(t, 1, generic.InclusiveDays(from, from))
	assert.Equal(t, 5, generic.InclusiveDays(from, from.AddDays(4)))
}

// =============================================================================
// ERRORS
// =============================================================================

func TestStateError_UnwrapsToSentinel(t *testing.T) {
	err := fmt.Errorf("wrapped: %w",
		generic.NewStateError(generic.ErrMonthNotEditable, "generate_payroll", generic.EntityPayroll, "2025-01", "finalized"))

	assert.ErrorIs(t, err, generic.ErrMonthNotEditable)
	assert.True(t, generic.IsConflict(err))

	var se *generic.StateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "finalized", se.State)
	assert.Equal(t, "2025-01", se.EntityID)
}

func TestCycleError_Path(t *testing.T) {
	err := &generic.CycleError{EmployeeID: "a", Path: []string{"a", "b", "a"}}
	assert.ErrorIs(t, err, generic.ErrCycleDetected)
	assert.Contains(t, err.Error(), "a -> b -> a")
}

// =============================================================================
// RETRY
// =============================================================================

func TestRetryOnConflict_RetriesConflictsOnly(t *testing.T) {
	ctx := context.Background()
	policy := generic.RetryPolicy{Attempts: 3}

	// GIVEN: An operation that conflicts twice then succeeds
	calls := 0
	err := generic.RetryOnConflict(ctx, policy, func() error {
		calls++
		if calls < 3 {
			return generic.ErrConcurrentModification
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	// GIVEN: An operation failing with a business error
	calls = 0
	err = generic.RetryOnConflict(ctx, policy, func() error {
		calls++
		return generic.ErrNotAuthorized
	})
	assert.ErrorIs(t, err, generic.ErrNotAuthorized)
	assert.Equal(t, 1, calls, "business errors are not retried")
}

func TestRetryOnConflict_SurfacesConcurrentModification(t *testing.T) {
	calls := 0
	err := generic.RetryOnConflict(context.Background(), generic.RetryPolicy{Attempts: 2}, func() error {
		calls++
		return generic.ErrConcurrentModification
	})

	assert.Equal(t, 2, calls)
	assert.True(t, errors.Is(err, generic.ErrConcurrentModification))
}

func TestBackoff_FullJitterWithinCeiling(t *testing.T) {
	base := 10 * time.Millisecond

	// GIVEN: Repeated draws for the third attempt
	// THEN: Every wait lies in [0, base*4)
	for i := 0; i < 200; i++ {
		d := generic.Backoff(base, 2)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, 40*time.Millisecond)
	}

	assert.Equal(t, time.Duration(0), generic.Backoff(0, 3), "no base, no wait")
	assert.GreaterOrEqual(t, generic.Backoff(time.Hour, 100), time.Duration(0), "large attempts do not overflow")
}

// =============================================================================
// AUDIT FILTER
// =============================================================================

func TestAuditFilter_Matches(t *testing.T) {
	entry := generic.AuditEntry{
		EntityType: generic.EntityRequest,
		EntityID:   "req-1",
		Action:     generic.AuditStepApproved,
		ActorID:    "mgr-1",
		Timestamp:  time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
	}

	assert.True(t, generic.AuditFilter{}.Matches(entry))
	assert.True(t, generic.AuditFilter{EntityID: "req-1", Actions: []generic.AuditAction{generic.AuditStepApproved}}.Matches(entry))
	assert.False(t, generic.AuditFilter{EntityID: "req-2"}.Matches(entry))
	assert.False(t, generic.AuditFilter{Actions: []generic.AuditAction{generic.AuditStepRejected}}.Matches(entry))
}
