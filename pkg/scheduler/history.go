package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arnavshah/shift-planner/pkg/models"
)

// historyEntry describes the change from before to after. before is nil for
// a newly created assignment.
func historyEntry(action models.HistoryAction, before *models.Assignment, after models.Assignment, at time.Time) models.AssignmentHistory {
	h := models.AssignmentHistory{
		ID:           uuid.NewString(),
		AssignmentID: after.ID,
		Action:       action,
		UserID:       after.UserID,
		NewStatus:    after.Status,
		At:           at,
	}
	if before != nil {
		h.PreviousStatus = before.Status
		if before.UserID != after.UserID {
			h.PreviousUserID = before.UserID
		}
	}
	return h
}

// History returns the audit trail of an assignment, oldest first
func (p *Planner) History(ctx context.Context, assignmentID string) ([]models.AssignmentHistory, error) {
	if _, err := p.repo.GetAssignment(ctx, assignmentID); err != nil {
		return nil, fmt.Errorf("load assignment %s: %w", assignmentID, err)
	}
	out, err := p.repo.AssignmentHistory(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("load history of assignment %s: %w", assignmentID, err)
	}
	return out, nil
}

// Runs returns the recorded planning runs of a team, newest first
func (p *Planner) Runs(ctx context.Context, teamID string, limit int) ([]models.PlanningRun, error) {
	if _, err := p.repo.LoadTeam(ctx, teamID); err != nil {
		return nil, fmt.Errorf("load team %s: %w", teamID, err)
	}
	out, err := p.repo.PlanningRuns(ctx, teamID, limit)
	if err != nil {
		return nil, fmt.Errorf("load planning runs of team %s: %w", teamID, err)
	}
	return out, nil
}
