// Package store defines the storage collaborator the planning core reads
// snapshots from and commits results to, plus an in-memory implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/arnavshah/shift-planner/pkg/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrOptimisticLock is returned when a versioned record was modified concurrently
	ErrOptimisticLock = errors.New("record was modified by another operation")
	// ErrCapExceeded is returned when a YTD delta would push a capped category over its cap
	ErrCapExceeded = errors.New("ytd cap exceeded")
	// ErrLedgerUnderflow is returned when a YTD delta would make a counter negative
	ErrLedgerUnderflow = errors.New("ytd counter would become negative")
	// ErrInstanceFull is returned when a commit adds an occupant to an instance
	// that is already staffed to its headcount
	ErrInstanceFull = errors.New("instance is fully staffed")
)

// ledgerEpsilon absorbs float rounding of fractional week credits
const ledgerEpsilon = 1e-9

// Repository is the storage collaborator consumed by the planning core.
//
// Persist applies a Commit atomically: either every instance, assignment,
// swap request, gap, conflict and YTD delta is stored, or none is.
// Versioned records (assignments, swap requests) are compare-and-swap
// writes: a new record must carry Version 1, an update must carry the stored
// version plus one. A commit that creates occupying assignments fails with
// ErrInstanceFull when it would staff a stored instance past its headcount.
type Repository interface {
	LoadSnapshot(ctx context.Context, teamID string, window models.Period) (*models.Snapshot, error)
	LoadUsers(ctx context.Context, ids []string) (map[string]*models.User, error)
	LoadTeam(ctx context.Context, id string) (*models.Team, error)
	LoadSkills(ctx context.Context) (models.SkillCatalog, error)
	GetTemplate(ctx context.Context, id string) (*models.ShiftTemplate, error)
	GetInstance(ctx context.Context, id string) (*models.ShiftInstance, error)
	GetAssignment(ctx context.Context, id string) (*models.Assignment, error)
	GetSwapRequest(ctx context.Context, id string) (*models.SwapRequest, error)
	CreateSwapRequest(ctx context.Context, req *models.SwapRequest) error
	UserAssignments(ctx context.Context, userID string, from, to time.Time) ([]models.Assignment, error)
	InstanceAssignments(ctx context.Context, instanceID string) ([]models.Assignment, error)
	ListExpired(ctx context.Context, now time.Time) ([]models.Assignment, []models.SwapRequest, error)
	// AssignmentHistory returns an assignment's audit trail, oldest first
	AssignmentHistory(ctx context.Context, assignmentID string) ([]models.AssignmentHistory, error)
	// PlanningRuns returns a team's planning runs, newest first. A limit of
	// 0 returns all of them.
	PlanningRuns(ctx context.Context, teamID string, limit int) ([]models.PlanningRun, error)
	Persist(ctx context.Context, c models.Commit) error
}

// Directory is the write side for the reference data planning reads:
// users, teams with their memberships, shift templates and skills. Saves are
// upserts keyed by id.
type Directory interface {
	SaveUser(ctx context.Context, u *models.User) error
	SaveTeam(ctx context.Context, t *models.Team) error
	SaveTemplate(ctx context.Context, t *models.ShiftTemplate) error
	SaveSkill(ctx context.Context, s *models.Skill) error
}

// CheckDelta validates that applying d to current stays within [0, cap]
func CheckDelta(current models.Counters, d models.YTDDelta) error {
	next := current.Add(d.Counters())
	if next.Weeks < -ledgerEpsilon || next.Hours < -ledgerEpsilon {
		return ErrLedgerUnderflow
	}
	if d.Cap > 0 && d.Weeks > 0 && next.Weeks > d.Cap+ledgerEpsilon {
		return ErrCapExceeded
	}
	return nil
}
