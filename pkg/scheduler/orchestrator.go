package scheduler

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/arnavshah/shift-planner/pkg/models"
)

type runJob struct {
	idx    int
	teamID string
	period models.Period
}

type runResult struct {
	summary *models.RunSummary
	err     error
}

// RunAll plans every (team, period) pair on a bounded worker pool. Pairs
// run independently; a failing pair is reported in Failures and does not
// stop the others. Runs come back in input order.
func (p *Planner) RunAll(ctx context.Context, teamIDs []string, periods []models.Period) *models.BatchSummary {
	var jobs []runJob
	for _, teamID := range teamIDs {
		for _, period := range periods {
			jobs = append(jobs, runJob{idx: len(jobs), teamID: teamID, period: period})
		}
	}

	results := make([]runResult, len(jobs))
	queue := make(chan runJob)
	workers := p.policy.Workers
	if workers > len(jobs) {
		workers = len(jobs)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range queue {
				summary, err := p.RunPlanning(ctx, job.teamID, job.period)
				results[job.idx] = runResult{summary: summary, err: err}
			}
		}()
	}
	for _, job := range jobs {
		select {
		case <-ctx.Done():
			results[job.idx] = runResult{err: ctx.Err()}
			continue
		case queue <- job:
		}
	}
	close(queue)
	wg.Wait()

	batch := &models.BatchSummary{
		Runs:   []models.RunSummary{},
		Totals: make(map[models.Category]models.CategoryStats),
	}
	for i, res := range results {
		if res.err != nil {
			batch.Failures = append(batch.Failures, models.RunFailure{
				TeamID: jobs[i].teamID,
				Period: jobs[i].period,
				Error:  res.err.Error(),
			})
			p.log.Error("planning run failed", zap.String("team", jobs[i].teamID), zap.Error(res.err))
			continue
		}
		batch.Runs = append(batch.Runs, *res.summary)
		batch.Filled += res.summary.Filled
		batch.Unfilled += res.summary.Unfilled
		for cat, cs := range res.summary.ByCategory {
			t := batch.Totals[cat]
			t.Instances += cs.Instances
			t.Filled += cs.Filled
			t.Unfilled += cs.Unfilled
			t.NewAssignments += cs.NewAssignments
			batch.Totals[cat] = t
		}
	}
	return batch
}

// ExpandTemplate previews the instances a stored template produces over
// period
func (p *Planner) ExpandTemplate(ctx context.Context, templateID string, period models.Period) ([]models.ShiftInstance, error) {
	t, err := p.repo.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	skills, err := p.repo.LoadSkills(ctx)
	if err != nil {
		return nil, err
	}
	return Expand(*t, period, skills, p.policy.Handover, p.policy.Location)
}

// Skills returns the current skill catalog
func (p *Planner) Skills(ctx context.Context) (models.SkillCatalog, error) {
	return p.repo.LoadSkills(ctx)
}
