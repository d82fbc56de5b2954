package api_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/settlement-engine/api"
	"github.com/warp/settlement-engine/approval"
	"github.com/warp/settlement-engine/directory"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/generic/store"
)

func TestEscalationScheduler_RunNowFlagsOnce(t *testing.T) {
	// GIVEN: a pending request submitted five days ago
	ctx := context.Background()
	submitted := time.Date(2025, time.January, 6, 9, 0, 0, 0, time.UTC)
	dir := directory.NewStatic(
		directory.Employee{ID: "lead", Name: "Lead", Active: true},
		directory.Employee{ID: "emp", Name: "Employee", ManagerID: "lead", Active: true},
	)
	engine := approval.NewEngine(store.NewMemory(), dir, zaptest.NewLogger(t))
	engine.Clock = generic.FixedClock(submitted)

	r, err := engine.Submit(ctx, approval.SubmitInput{
		Type:        approval.TypeOther,
		RequesterID: "emp",
		Payload:     approval.OtherPayload{Description: "standing desk"},
	})
	require.NoError(t, err)

	scheduler := api.NewEscalationScheduler(approval.NewEscalationScanner(engine), zaptest.NewLogger(t))
	scheduler.Clock = generic.FixedClock(submitted.Add(5 * 24 * time.Hour))

	// WHEN: the scheduler sweeps twice
	first := scheduler.RunNow(ctx)
	second := scheduler.RunNow(ctx)

	// THEN: the request is flagged by the first sweep only
	assert.Equal(t, []string{r.ID}, first)
	assert.Empty(t, second)

	at, flagged := scheduler.LastRun()
	assert.Equal(t, submitted.Add(5*24*time.Hour), at)
	assert.Equal(t, 0, flagged)
	assert.Equal(t, at.Add(time.Hour), scheduler.NextRunTime())

	got, err := engine.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, got.Escalated)
	assert.Equal(t, approval.StatusPending, got.FinalStatus)
}

func TestEscalationScheduler_StartStop(t *testing.T) {
	engine := approval.NewEngine(store.NewMemory(), directory.NewStatic(), nil)
	scheduler := api.NewEscalationScheduler(approval.NewEscalationScanner(engine), nil)
	scheduler.CheckInterval = time.Millisecond

	scheduler.Start()
	scheduler.Start()
	assert.Eventually(t, func() bool {
		at, _ := scheduler.LastRun()
		return !at.IsZero()
	}, time.Second, time.Millisecond)
	scheduler.Stop()
	scheduler.Stop()

	disabled := api.NewEscalationScheduler(approval.NewEscalationScanner(engine), nil)
	disabled.Enabled = false
	disabled.Start()
	at, _ := disabled.LastRun()
	assert.True(t, at.IsZero())
	disabled.Stop()
}
