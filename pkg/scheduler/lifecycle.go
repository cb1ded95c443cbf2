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

// transitionFunc mutates a fresh copy of an assignment and returns the
// ledger deltas the transition causes
type transitionFunc func(a *models.Assignment, now time.Time) ([]models.YTDDelta, error)

// Confirm moves a proposed assignment to confirmed and counts it in the
// ledger. A confirmation that would exceed a category cap is rejected and
// leaves the ledger unchanged.
func (p *Planner) Confirm(ctx context.Context, assignmentID string) (*models.Assignment, error) {
	return p.transition(ctx, assignmentID, models.HistoryConfirmed, func(a *models.Assignment, now time.Time) ([]models.YTDDelta, error) {
		if a.Status != models.AssignmentProposed {
			return nil, invalid(ReasonInvalidTransition, "assignment %s is %s, not proposed", a.ID, a.Status)
		}
		if !a.ConfirmationDeadline.IsZero() && !now.Before(a.ConfirmationDeadline) {
			return nil, invalid(ReasonInvalidTransition, "confirmation deadline of assignment %s has passed", a.ID)
		}
		confirmed := latest(now, a.AssignedAt)
		a.Status = models.AssignmentConfirmed
		a.ConfirmedAt = &confirmed
		return p.ledgerDeltas(*a, 1), nil
	})
}

// Decline rejects a proposed assignment
func (p *Planner) Decline(ctx context.Context, assignmentID string) (*models.Assignment, error) {
	return p.transition(ctx, assignmentID, models.HistoryDeclined, func(a *models.Assignment, now time.Time) ([]models.YTDDelta, error) {
		if a.Status != models.AssignmentProposed {
			return nil, invalid(ReasonInvalidTransition, "assignment %s is %s, not proposed", a.ID, a.Status)
		}
		a.Status = models.AssignmentRejected
		return nil, nil
	})
}

// Complete marks a confirmed assignment as worked. Confirmation already
// counted it, so the ledger does not change.
func (p *Planner) Complete(ctx context.Context, assignmentID string) (*models.Assignment, error) {
	return p.transition(ctx, assignmentID, models.HistoryCompleted, func(a *models.Assignment, now time.Time) ([]models.YTDDelta, error) {
		if a.Status != models.AssignmentConfirmed {
			return nil, invalid(ReasonInvalidTransition, "assignment %s is %s, not confirmed", a.ID, a.Status)
		}
		completed := now
		if a.ConfirmedAt != nil {
			completed = latest(now, *a.ConfirmedAt)
		}
		a.Status = models.AssignmentCompleted
		a.CompletedAt = &completed
		return nil, nil
	})
}

// Cancel withdraws a proposed or confirmed assignment. Cancelling a
// confirmed assignment gives its ledger amount back.
func (p *Planner) Cancel(ctx context.Context, assignmentID string) (*models.Assignment, error) {
	return p.transition(ctx, assignmentID, models.HistoryCancelled, func(a *models.Assignment, now time.Time) ([]models.YTDDelta, error) {
		var deltas []models.YTDDelta
		switch a.Status {
		case models.AssignmentProposed:
		case models.AssignmentConfirmed:
			deltas = p.ledgerDeltas(*a, -1)
		default:
			return nil, invalid(ReasonInvalidTransition, "assignment %s is %s and cannot be cancelled", a.ID, a.Status)
		}
		a.Status = models.AssignmentCancelled
		a.CancelledAt = &now
		return deltas, nil
	})
}

// transition applies fn to an assignment inside its user's critical
// section, retrying when storage reports a concurrent modification
func (p *Planner) transition(ctx context.Context, assignmentID string, op models.HistoryAction, fn transitionFunc) (*models.Assignment, error) {
	for attempt := 0; attempt < p.policy.LockAttempts; attempt++ {
		out, err := p.transitionOnce(ctx, assignmentID, op, fn)
		if errors.Is(err, store.ErrOptimisticLock) {
			p.metrics.IncrementLockRetry()
			p.log.Debug("assignment modified concurrently, retrying", zap.String("assignment", assignmentID), zap.String("op", string(op)))
			continue
		}
		if err != nil {
			return nil, err
		}
		p.log.Info("assignment transitioned",
			zap.String("assignment", out.ID),
			zap.String("user", out.UserID),
			zap.String("op", string(op)),
			zap.String("status", string(out.Status)),
		)
		return out, nil
	}
	return nil, ErrContention
}

func (p *Planner) transitionOnce(ctx context.Context, assignmentID string, op models.HistoryAction, fn transitionFunc) (*models.Assignment, error) {
	a, err := p.repo.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("load assignment %s: %w", assignmentID, err)
	}
	release, err := p.locks.Acquire(ctx, a.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	fresh, err := p.repo.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("load assignment %s: %w", assignmentID, err)
	}
	if fresh.UserID != a.UserID {
		// reassigned by a swap between the two reads
		return nil, store.ErrOptimisticLock
	}
	if err := p.syncUsers(ctx, fresh.UserID); err != nil {
		return nil, err
	}

	now := p.now()
	next := *fresh
	deltas, err := fn(&next, now)
	if err != nil {
		return nil, err
	}
	if err := p.ledger.Check(deltas); err != nil {
		return nil, err
	}
	next.Version = fresh.Version + 1

	commit := models.Commit{
		Assignments: []models.Assignment{next},
		YTDDeltas:   deltas,
		History:     []models.AssignmentHistory{historyEntry(op, fresh, next, now)},
	}
	if err := p.repo.Persist(ctx, commit); err != nil {
		if errors.Is(err, store.ErrCapExceeded) {
			return nil, invalid(ReasonCapExceeded, "assignment %s: %v", next.ID, err)
		}
		return nil, fmt.Errorf("persist assignment %s: %w", next.ID, err)
	}
	p.ledger.Apply(deltas)
	return &next, nil
}

// syncUsers refreshes the ledger cache from storage for users whose
// critical sections are held
func (p *Planner) syncUsers(ctx context.Context, ids ...string) error {
	users, err := p.repo.LoadUsers(ctx, ids)
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	for _, u := range users {
		p.ledger.Sync(u)
	}
	return nil
}

// ledgerDeltas returns the signed ledger change of counting (sign 1) or
// uncounting (sign -1) an assignment. Zero-weight categories yield nothing.
func (p *Planner) ledgerDeltas(a models.Assignment, sign float64) []models.YTDDelta {
	amount := a.LedgerAmount()
	if amount.IsZero() {
		return nil
	}
	if sign < 0 {
		amount = amount.Neg()
	}
	return []models.YTDDelta{p.ledger.Delta(a.UserID, a.Category, amount)}
}

// LedgerFor returns a user's counters per category, read fresh from storage
func (p *Planner) LedgerFor(ctx context.Context, userID string) (map[models.Category]models.Counters, error) {
	users, err := p.repo.LoadUsers(ctx, []string{userID})
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	out := make(map[models.Category]models.Counters)
	for cat, c := range users[userID].YTD {
		out[cat] = c
	}
	return out, nil
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
