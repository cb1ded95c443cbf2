package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnavshah/shift-planner/pkg/models"
	"github.com/arnavshah/shift-planner/pkg/store"
)

func (f *fixture) history(id string) []models.AssignmentHistory {
	f.t.Helper()
	out, err := f.p.History(context.Background(), id)
	require.NoError(f.t, err)
	return out
}

func TestHistory_LifecycleTrail(t *testing.T) {
	f := newFixture(t, "ops", engineer("A", 0, models.ProficiencyBasic))
	f.repo.PutTemplate(businessWeekTemplate("biz", "ops"))
	ctx := context.Background()

	summary, err := f.p.RunPlanning(ctx, "ops", week(0))
	require.NoError(t, err)
	require.Len(t, summary.NewAssignments, 1)
	id := summary.NewAssignments[0].ID

	f.now = clockStart.Add(time.Hour)
	_, err = f.p.Confirm(ctx, id)
	require.NoError(t, err)
	f.now = clockStart.Add(2 * time.Hour)
	_, err = f.p.Cancel(ctx, id)
	require.NoError(t, err)

	trail := f.history(id)
	require.Len(t, trail, 3)

	assert.Equal(t, models.HistoryCreated, trail[0].Action)
	assert.Empty(t, trail[0].PreviousStatus)
	assert.Equal(t, models.AssignmentProposed, trail[0].NewStatus)
	assert.Equal(t, clockStart, trail[0].At)

	assert.Equal(t, models.HistoryConfirmed, trail[1].Action)
	assert.Equal(t, models.AssignmentProposed, trail[1].PreviousStatus)
	assert.Equal(t, models.AssignmentConfirmed, trail[1].NewStatus)
	assert.Equal(t, clockStart.Add(time.Hour), trail[1].At)

	assert.Equal(t, models.HistoryCancelled, trail[2].Action)
	assert.Equal(t, models.AssignmentConfirmed, trail[2].PreviousStatus)
	assert.Equal(t, models.AssignmentCancelled, trail[2].NewStatus)
	for _, h := range trail {
		assert.Equal(t, id, h.AssignmentID)
		assert.Equal(t, "A", h.UserID)
		assert.Empty(t, h.PreviousUserID)
	}
}

func TestHistory_SwapRecordsPreviousHolder(t *testing.T) {
	f := newFixture(t, "ops",
		engineer("a", 0, models.ProficiencyBasic),
		engineer("b", 0, models.ProficiencyBasic),
	)
	inst := f.instance(waakdienstTemplate("ops"), day(2))
	f.assign("as-1", "a", inst, models.AssignmentConfirmed)

	req := f.submit(SwapSubmission{RequesterID: "a", SourceAssignmentID: "as-1", TargetUserID: "b"})
	require.Equal(t, models.SwapAccepted, f.evaluate(req.ID).Status)

	trail := f.history("as-1")
	require.Len(t, trail, 1)
	assert.Equal(t, models.HistorySwapped, trail[0].Action)
	assert.Equal(t, "b", trail[0].UserID)
	assert.Equal(t, "a", trail[0].PreviousUserID)
	assert.Equal(t, req.ID, trail[0].SwapRequestID)
	assert.Equal(t, models.AssignmentConfirmed, trail[0].NewStatus)
}

func TestHistory_RejectedSwapLeavesNoTrail(t *testing.T) {
	f := newFixture(t, "ops",
		engineer("a", 0, models.ProficiencyBasic),
		engineer("b", 0, models.ProficiencyBasic),
	)
	f.assign("as-1", "a", f.instance(waakdienstTemplate("ops"), day(2)), models.AssignmentProposed)
	other := f.instance(dailyTemplate("day", "ops", "09:00", "17:00", "incident", 1), day(3))
	f.assign("b-day", "b", other, models.AssignmentConfirmed)

	req := f.submit(SwapSubmission{RequesterID: "a", SourceAssignmentID: "as-1", TargetUserID: "b"})
	require.Equal(t, models.SwapRejected, f.evaluate(req.ID).Status)
	assert.Empty(t, f.history("as-1"))
}

func TestHistory_SweepRecordsExpiry(t *testing.T) {
	f := newFixture(t, "ops", engineer("a", 0, models.ProficiencyBasic))
	f.assign("late", "a", f.instance(waakdienstTemplate("ops"), day(2)), models.AssignmentProposed)

	now := clockStart.Add(100 * time.Hour)
	_, err := f.p.SweepExpirations(context.Background(), now)
	require.NoError(t, err)

	trail := f.history("late")
	require.Len(t, trail, 1)
	assert.Equal(t, models.HistoryExpired, trail[0].Action)
	assert.Equal(t, models.AssignmentProposed, trail[0].PreviousStatus)
	assert.Equal(t, models.AssignmentRejected, trail[0].NewStatus)
	assert.Equal(t, now, trail[0].At)
}

func TestHistory_UnknownAssignment(t *testing.T) {
	f := newFixture(t, "ops")
	_, err := f.p.History(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRuns_NewestFirst(t *testing.T) {
	f := newFixture(t, "ops",
		engineer("A", 0, models.ProficiencyBasic),
		engineer("B", 0, models.ProficiencyBasic),
	)
	f.repo.PutTemplate(businessWeekTemplate("biz", "ops"))
	ctx := context.Background()

	first, err := f.p.RunPlanning(ctx, "ops", week(0))
	require.NoError(t, err)
	f.now = clockStart.Add(time.Hour)
	second, err := f.p.RunPlanning(ctx, "ops", week(1))
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	runs, err := f.p.Runs(ctx, "ops", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, first.ID, runs[1].ID)
	assert.Equal(t, week(1), runs[0].Period)
	assert.Equal(t, 1, runs[0].Filled)
	assert.Equal(t, 1, runs[0].NewAssignments)
	assert.Equal(t, "ops", runs[0].TeamID)

	limited, err := f.p.Runs(ctx, "ops", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, second.ID, limited[0].ID)

	_, err = f.p.Runs(ctx, "nope", 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRuns_IdempotentRerunIsStillRecorded(t *testing.T) {
	f := newFixture(t, "ops", engineer("A", 0, models.ProficiencyBasic))
	f.repo.PutTemplate(businessWeekTemplate("biz", "ops"))
	ctx := context.Background()

	_, err := f.p.RunPlanning(ctx, "ops", week(0))
	require.NoError(t, err)
	again, err := f.p.RunPlanning(ctx, "ops", week(0))
	require.NoError(t, err)
	require.Empty(t, again.NewAssignments)

	runs, err := f.p.Runs(ctx, "ops", 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 0, runs[0].NewAssignments)
}
