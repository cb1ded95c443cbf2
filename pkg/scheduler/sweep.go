package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arnavshah/shift-planner/pkg/models"
	"github.com/arnavshah/shift-planner/pkg/store"
)

// SweepExpirations rejects proposed assignments whose confirmation deadline
// passed and expires pending swap requests past their expiry. Records that
// are busy or changed concurrently are skipped and picked up by the next
// sweep, which makes the sweep safe to run alongside planning runs.
func (p *Planner) SweepExpirations(ctx context.Context, now time.Time) (*models.SweepResult, error) {
	assignments, swaps, err := p.repo.ListExpired(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list expired records: %w", err)
	}

	res := &models.SweepResult{
		ExpiredAssignments: []models.Assignment{},
		ExpiredSwaps:       []models.SwapRequest{},
	}
	for _, a := range assignments {
		out, err := p.expireAssignment(ctx, a.ID, now)
		if err != nil {
			if skippable(err) {
				p.log.Debug("skipping busy assignment", zap.String("assignment", a.ID), zap.Error(err))
				continue
			}
			return res, err
		}
		if out != nil {
			res.ExpiredAssignments = append(res.ExpiredAssignments, *out)
		}
	}
	for _, r := range swaps {
		out, err := p.expireSwap(ctx, r, now)
		if err != nil {
			if skippable(err) {
				p.log.Debug("skipping busy swap request", zap.String("swap", r.ID), zap.Error(err))
				continue
			}
			return res, err
		}
		if out != nil {
			res.ExpiredSwaps = append(res.ExpiredSwaps, *out)
		}
	}

	p.metrics.IncrementExpired("assignment", len(res.ExpiredAssignments))
	p.metrics.IncrementExpired("swap", len(res.ExpiredSwaps))
	if len(res.ExpiredAssignments) > 0 || len(res.ExpiredSwaps) > 0 {
		p.log.Info("expiry sweep",
			zap.Int("assignments", len(res.ExpiredAssignments)),
			zap.Int("swaps", len(res.ExpiredSwaps)),
		)
	}
	return res, nil
}

func skippable(err error) bool {
	return errors.Is(err, ErrContention) || errors.Is(err, store.ErrOptimisticLock) || errors.Is(err, store.ErrNotFound)
}

func (p *Planner) expireAssignment(ctx context.Context, id string, now time.Time) (*models.Assignment, error) {
	a, err := p.repo.GetAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	release, err := p.locks.Acquire(ctx, a.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	fresh, err := p.repo.GetAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if fresh.Status != models.AssignmentProposed || fresh.ConfirmationDeadline.IsZero() || now.Before(fresh.ConfirmationDeadline) {
		return nil, nil
	}
	next := *fresh
	next.Status = models.AssignmentRejected
	next.Version = fresh.Version + 1
	commit := models.Commit{
		Assignments: []models.Assignment{next},
		History:     []models.AssignmentHistory{historyEntry(models.HistoryExpired, fresh, next, now)},
	}
	if err := p.repo.Persist(ctx, commit); err != nil {
		return nil, fmt.Errorf("persist expired assignment %s: %w", id, err)
	}
	return &next, nil
}

func (p *Planner) expireSwap(ctx context.Context, r models.SwapRequest, now time.Time) (*models.SwapRequest, error) {
	release, err := p.locks.Acquire(ctx, r.RequesterID, r.TargetUserID)
	if err != nil {
		return nil, err
	}
	defer release()

	fresh, err := p.repo.GetSwapRequest(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	if fresh.Status != models.SwapPending || !fresh.ExpiredAt(now) {
		return nil, nil
	}
	next := *fresh
	next.Status = models.SwapExpired
	next.Reason = string(ReasonSwapExpired)
	next.ResolvedAt = &now
	next.Version = fresh.Version + 1
	if err := p.repo.Persist(ctx, models.Commit{SwapRequests: []models.SwapRequest{next}}); err != nil {
		return nil, fmt.Errorf("persist expired swap %s: %w", r.ID, err)
	}
	return &next, nil
}
