package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arnavshah/shift-planner/internal/metrics"
	"github.com/arnavshah/shift-planner/pkg/models"
)

// recorder counts what the planner reports
type recorder struct {
	metrics.Nop
	mu       sync.Mutex
	proposed map[string]int
	gaps     map[string]int
	swaps    map[string]int
	runs     int
}

func newRecorder() *recorder {
	return &recorder{proposed: map[string]int{}, gaps: map[string]int{}, swaps: map[string]int{}}
}

func (r *recorder) IncrementAssignmentsProposed(category string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proposed[category] += n
}

func (r *recorder) IncrementCoverageGaps(category, segment string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gaps[category+"/"+segment]++
}

func (r *recorder) IncrementSwapOutcome(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.swaps[status]++
}

func (r *recorder) ObserveRunDuration(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs++
}

func TestRunAll(t *testing.T) {
	f := newFixture(t, "red", engineer("r1", 0, models.ProficiencyBasic), engineer("r2", 0, models.ProficiencyBasic))
	f.addTeam("blue", engineer("b1", 0, models.ProficiencyBasic), engineer("b2", 0, models.ProficiencyBasic))
	f.repo.PutTemplate(waakdienstTemplate("red"))
	f.repo.PutTemplate(waakdienstTemplate("blue"))

	batch := f.p.RunAll(context.Background(), []string{"red", "blue", "ghost"}, []models.Period{week(0), week(1)})

	require.Len(t, batch.Runs, 4)
	assert.Equal(t, "red", batch.Runs[0].TeamID)
	assert.Equal(t, week(0), batch.Runs[0].Period)
	assert.Equal(t, "red", batch.Runs[1].TeamID)
	assert.Equal(t, week(1), batch.Runs[1].Period)
	assert.Equal(t, "blue", batch.Runs[2].TeamID)

	require.Len(t, batch.Failures, 2)
	for _, fail := range batch.Failures {
		assert.Equal(t, "ghost", fail.TeamID)
		assert.NotEmpty(t, fail.Error)
	}

	assert.Equal(t, 4, batch.Filled)
	assert.Zero(t, batch.Unfilled)
	assert.Equal(t, 4, batch.Totals[models.CategoryWaakdienst].Instances)
	assert.Equal(t, 4, batch.Totals[models.CategoryWaakdienst].NewAssignments)
	requireNoDoubleBooking(t, f.repo)
}

func TestRunAll_CancelledContext(t *testing.T) {
	f := newFixture(t, "ops", engineer("a", 0, models.ProficiencyBasic))
	f.repo.PutTemplate(waakdienstTemplate("ops"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	batch := f.p.RunAll(ctx, []string{"ops"}, []models.Period{week(0), week(1), week(2)})

	assert.Equal(t, 3, len(batch.Runs)+len(batch.Failures))
	requireNoDoubleBooking(t, f.repo)
}

func TestRunAll_Empty(t *testing.T) {
	f := newFixture(t, "ops")
	batch := f.p.RunAll(context.Background(), nil, nil)
	assert.Empty(t, batch.Runs)
	assert.Empty(t, batch.Failures)
}

func TestPlanner_ReportsMetrics(t *testing.T) {
	f := newFixture(t, "ops",
		engineer("a", 0, models.ProficiencyBasic),
		engineer("b", 0, models.ProficiencyBasic),
	)
	rec := newRecorder()
	f.p = New(f.repo, f.p.Policy(), WithClock(func() time.Time { return f.now }), WithMetrics(rec))
	tmpl := waakdienstTemplate("ops")
	tmpl.Headcount = 3
	f.repo.PutTemplate(tmpl)

	summary, err := f.p.RunPlanning(context.Background(), "ops", week(0))
	require.NoError(t, err)
	require.Len(t, summary.NewAssignments, 2)

	req := f.submit(SwapSubmission{RequesterID: "a", SourceAssignmentID: summary.NewAssignments[0].ID, TargetUserID: "b"})
	f.evaluate(req.ID)

	assert.Equal(t, 2, rec.proposed[string(models.CategoryWaakdienst)])
	assert.Equal(t, 1, rec.gaps[string(models.CategoryWaakdienst)+"/"+models.SegmentShift])
	assert.Equal(t, 1, rec.runs)
	assert.Equal(t, 1, rec.swaps[string(models.SwapRejected)], "b already holds the same rotation")
}

func TestExpandTemplate(t *testing.T) {
	f := newFixture(t, "ops")
	f.repo.PutTemplate(dailyTemplate("day", "ops", "09:00", "17:00", "incident", 1))

	out, err := f.p.ExpandTemplate(context.Background(), "day", week(0))
	require.NoError(t, err)
	assert.Len(t, out, 7)
	assert.Empty(t, f.repo.Assignments())

	_, err = f.p.ExpandTemplate(context.Background(), "missing", week(0))
	assert.Error(t, err)
}
