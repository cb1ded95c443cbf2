package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arnavshah/shift-planner/pkg/models"
	"github.com/arnavshah/shift-planner/pkg/store"
)

// SwapSubmission is what a requester asks for. Exactly one shape applies:
// TargetUserID with TargetAssignmentID (direct exchange), TargetUserID alone
// (giveaway) or TargetInstanceID alone (move onto an open shift).
type SwapSubmission struct {
	RequesterID        string
	SourceAssignmentID string
	TargetUserID       string
	TargetAssignmentID string
	TargetInstanceID   string
	Note               string
	// ExpiresAt defaults to now plus the policy's swap TTL
	ExpiresAt time.Time
}

// SubmitSwap validates the shape of a swap request and stores it pending.
// Eligibility of the receiving side is checked when the request is
// evaluated, not here.
func (p *Planner) SubmitSwap(ctx context.Context, s SwapSubmission) (*models.SwapRequest, error) {
	now := p.now()
	req := &models.SwapRequest{
		ID:                 uuid.NewString(),
		RequesterID:        s.RequesterID,
		TargetUserID:       s.TargetUserID,
		SourceAssignmentID: s.SourceAssignmentID,
		TargetAssignmentID: s.TargetAssignmentID,
		TargetInstanceID:   s.TargetInstanceID,
		Status:             models.SwapPending,
		Note:               s.Note,
		RequestedAt:        now,
		ExpiresAt:          s.ExpiresAt,
		Version:            1,
	}
	if req.ExpiresAt.IsZero() {
		req.ExpiresAt = now.Add(p.policy.SwapTTL)
	}
	if !req.ExpiresAt.After(req.RequestedAt) {
		return nil, invalid(ReasonInvalidSwap, "swap must expire after it is requested")
	}
	if req.RequesterID == "" || req.SourceAssignmentID == "" {
		return nil, invalid(ReasonInvalidSwap, "requester and source assignment are required")
	}

	kind := req.Kind()
	if kind == models.SwapInvalid {
		return nil, invalid(ReasonInvalidSwap, "swap must name a target user, a target user and assignment, or a target instance")
	}
	if kind != models.SwapOpenShift && req.TargetUserID == req.RequesterID {
		return nil, invalid(ReasonInvalidSwap, "cannot swap with yourself")
	}

	source, err := p.repo.GetAssignment(ctx, req.SourceAssignmentID)
	if err != nil {
		return nil, fmt.Errorf("load source assignment: %w", err)
	}
	if source.UserID != req.RequesterID {
		return nil, invalid(ReasonInvalidSwap, "assignment %s does not belong to %s", source.ID, req.RequesterID)
	}
	if !swappable(source.Status) {
		return nil, invalid(ReasonInvalidTransition, "assignment %s is %s", source.ID, source.Status)
	}

	switch kind {
	case models.SwapDirect:
		target, err := p.repo.GetAssignment(ctx, req.TargetAssignmentID)
		if err != nil {
			return nil, fmt.Errorf("load target assignment: %w", err)
		}
		if target.UserID != req.TargetUserID {
			return nil, invalid(ReasonInvalidSwap, "assignment %s does not belong to %s", target.ID, req.TargetUserID)
		}
		if !swappable(target.Status) {
			return nil, invalid(ReasonInvalidTransition, "assignment %s is %s", target.ID, target.Status)
		}
	case models.SwapGiveaway:
		if _, err := p.repo.LoadUsers(ctx, []string{req.TargetUserID}); err != nil {
			return nil, fmt.Errorf("load target user: %w", err)
		}
	case models.SwapOpenShift:
		inst, err := p.repo.GetInstance(ctx, req.TargetInstanceID)
		if err != nil {
			return nil, fmt.Errorf("load target instance: %w", err)
		}
		if inst.ID == source.InstanceID {
			return nil, invalid(ReasonInvalidSwap, "source assignment is already on instance %s", inst.ID)
		}
	}

	if err := p.repo.CreateSwapRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("store swap request: %w", err)
	}
	p.log.Info("swap requested",
		zap.String("swap", req.ID),
		zap.String("kind", string(kind)),
		zap.String("requester", req.RequesterID),
	)
	return req, nil
}

func swappable(s models.AssignmentStatus) bool {
	return s == models.AssignmentProposed || s == models.AssignmentConfirmed
}

// EvaluateSwap tries to accept a pending swap request. Expired requests are
// marked expired; requests whose receiving side fails eligibility or
// conflict checks are marked rejected with a reason code. In both cases no
// assignment is touched. Evaluating a request that is no longer pending is
// a validation error.
func (p *Planner) EvaluateSwap(ctx context.Context, requestID string) (*models.SwapOutcome, error) {
	for attempt := 0; attempt < p.policy.LockAttempts; attempt++ {
		out, err := p.evaluateOnce(ctx, requestID)
		if errors.Is(err, store.ErrOptimisticLock) {
			p.metrics.IncrementLockRetry()
			p.log.Debug("swap touched concurrently, retrying", zap.String("swap", requestID))
			continue
		}
		if err != nil {
			return nil, err
		}
		p.metrics.IncrementSwapOutcome(string(out.Status))
		p.log.Info("swap evaluated",
			zap.String("swap", requestID),
			zap.String("status", string(out.Status)),
			zap.String("reason", out.Reason),
		)
		return out, nil
	}
	return nil, ErrContention
}

func (p *Planner) evaluateOnce(ctx context.Context, requestID string) (*models.SwapOutcome, error) {
	req, err := p.repo.GetSwapRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("load swap request %s: %w", requestID, err)
	}
	if req.Status != models.SwapPending {
		return nil, invalid(ReasonNotPending, "swap request %s is %s", req.ID, req.Status)
	}

	keys := []string{req.RequesterID, req.TargetUserID}
	if req.TargetInstanceID != "" {
		keys = append(keys, instanceKey(req.TargetInstanceID))
	}
	release, err := p.locks.Acquire(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer release()

	fresh, err := p.repo.GetSwapRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("load swap request %s: %w", requestID, err)
	}
	if fresh.Status != models.SwapPending {
		return nil, invalid(ReasonNotPending, "swap request %s is %s", fresh.ID, fresh.Status)
	}

	now := p.now()
	if fresh.ExpiredAt(now) {
		return p.resolve(ctx, *fresh, models.SwapExpired, ReasonSwapExpired, now)
	}

	plan, err := p.planSwap(ctx, *fresh, now)
	if err != nil {
		if reason := ReasonOf(err); reason != "" {
			p.log.Info("swap rejected", zap.String("swap", fresh.ID), zap.Error(err))
			return p.resolve(ctx, *fresh, models.SwapRejected, reason, now)
		}
		return nil, err
	}

	accepted := *fresh
	accepted.Status = models.SwapAccepted
	accepted.ResolvedAt = &now
	accepted.Version = fresh.Version + 1

	commit := models.Commit{
		Assignments:  plan.assignments,
		SwapRequests: []models.SwapRequest{accepted},
		YTDDeltas:    plan.deltas,
		History:      plan.history,
	}
	if err := p.repo.Persist(ctx, commit); err != nil {
		if errors.Is(err, store.ErrCapExceeded) {
			return p.resolve(ctx, *fresh, models.SwapRejected, ReasonCapExceeded, now)
		}
		if errors.Is(err, store.ErrInstanceFull) {
			return p.resolve(ctx, *fresh, models.SwapRejected, ReasonOpenShiftFull, now)
		}
		return nil, fmt.Errorf("persist swap %s: %w", fresh.ID, err)
	}
	p.ledger.Apply(plan.deltas)
	return &models.SwapOutcome{RequestID: fresh.ID, Status: models.SwapAccepted, Assignments: plan.assignments}, nil
}

// resolve closes a request without touching any assignment
func (p *Planner) resolve(ctx context.Context, req models.SwapRequest, status models.SwapStatus, reason ReasonCode, now time.Time) (*models.SwapOutcome, error) {
	req.Status = status
	req.Reason = string(reason)
	req.ResolvedAt = &now
	req.Version++
	if err := p.repo.Persist(ctx, models.Commit{SwapRequests: []models.SwapRequest{req}}); err != nil {
		return nil, fmt.Errorf("persist swap %s: %w", req.ID, err)
	}
	return &models.SwapOutcome{RequestID: req.ID, Status: status, Reason: string(reason)}, nil
}

type swapPlan struct {
	request     string
	at          time.Time
	assignments []models.Assignment
	deltas      []models.YTDDelta
	history     []models.AssignmentHistory
}

func (s *swapPlan) record(action models.HistoryAction, before *models.Assignment, after models.Assignment) {
	h := historyEntry(action, before, after, s.at)
	h.SwapRequestID = s.request
	s.history = append(s.history, h)
}

// planSwap validates every receiving side against fresh reads and builds
// the assignment updates and ledger deltas. It returns a ValidationError
// when the swap must be rejected.
func (p *Planner) planSwap(ctx context.Context, req models.SwapRequest, now time.Time) (*swapPlan, error) {
	source, err := p.loadSwapAssignment(ctx, req.SourceAssignmentID, req.RequesterID)
	if err != nil {
		return nil, err
	}
	if err := p.syncUsers(ctx, req.RequesterID); err != nil {
		return nil, err
	}

	plan := &swapPlan{request: req.ID, at: now}
	switch req.Kind() {
	case models.SwapDirect:
		target, err := p.loadSwapAssignment(ctx, req.TargetAssignmentID, req.TargetUserID)
		if err != nil {
			return nil, err
		}
		if err := p.syncUsers(ctx, req.TargetUserID); err != nil {
			return nil, err
		}
		ignore := []string{source.ID, target.ID}
		if err := p.checkReceiver(ctx, req.TargetUserID, source.InstanceID, ignore); err != nil {
			return nil, err
		}
		if err := p.checkReceiver(ctx, req.RequesterID, target.InstanceID, ignore); err != nil {
			return nil, err
		}
		plan.reassign(p, *source, req.TargetUserID)
		plan.reassign(p, *target, req.RequesterID)

	case models.SwapGiveaway:
		if err := p.syncUsers(ctx, req.TargetUserID); err != nil {
			return nil, err
		}
		if err := p.checkReceiver(ctx, req.TargetUserID, source.InstanceID, []string{source.ID}); err != nil {
			return nil, err
		}
		plan.reassign(p, *source, req.TargetUserID)

	case models.SwapOpenShift:
		inst, err := p.repo.GetInstance(ctx, req.TargetInstanceID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, invalid(ReasonNotFound, "instance %s", req.TargetInstanceID)
			}
			return nil, fmt.Errorf("load instance %s: %w", req.TargetInstanceID, err)
		}
		if inst.Status == models.InstanceCancelled || inst.Status == models.InstanceCompleted {
			return nil, invalid(ReasonOpenShiftFull, "instance %s is %s", inst.ID, inst.Status)
		}
		if err := p.checkCapacity(ctx, *inst); err != nil {
			if ReasonOf(err) == ReasonInstanceFull {
				return nil, invalid(ReasonOpenShiftFull, "instance %s is fully staffed", inst.ID)
			}
			return nil, err
		}
		if err := p.checkReceiver(ctx, req.RequesterID, inst.ID, []string{source.ID}); err != nil {
			return nil, err
		}
		plan.moveToOpenShift(p, *source, *inst, now)

	default:
		return nil, invalid(ReasonInvalidSwap, "swap request %s has no valid shape", req.ID)
	}

	plan.deltas = mergeDeltas(plan.deltas)
	if err := p.ledger.Check(plan.deltas); err != nil {
		return nil, err
	}
	return plan, nil
}

// loadSwapAssignment re-reads one side of a swap and checks it still
// belongs to owner in a swappable status
func (p *Planner) loadSwapAssignment(ctx context.Context, id, owner string) (*models.Assignment, error) {
	a, err := p.repo.GetAssignment(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, invalid(ReasonNotFound, "assignment %s", id)
		}
		return nil, fmt.Errorf("load assignment %s: %w", id, err)
	}
	if a.UserID != owner {
		return nil, invalid(ReasonInvalidSwap, "assignment %s no longer belongs to %s", id, owner)
	}
	if !swappable(a.Status) {
		return nil, invalid(ReasonInvalidTransition, "assignment %s is %s", id, a.Status)
	}
	return a, nil
}

// checkReceiver runs the same eligibility and conflict rules as a fresh
// assignment for a user taking over an instance. ignore lists the
// assignments the swap moves away from the user.
func (p *Planner) checkReceiver(ctx context.Context, userID, instanceID string, ignore []string) error {
	inst, err := p.repo.GetInstance(ctx, instanceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return invalid(ReasonNotFound, "instance %s", instanceID)
		}
		return fmt.Errorf("load instance %s: %w", instanceID, err)
	}
	tmpl, err := p.repo.GetTemplate(ctx, inst.TemplateID)
	if err != nil {
		return fmt.Errorf("load template %s: %w", inst.TemplateID, err)
	}
	team, err := p.repo.LoadTeam(ctx, inst.TeamID)
	if err != nil {
		return fmt.Errorf("load team %s: %w", inst.TeamID, err)
	}
	skills, err := p.repo.LoadSkills(ctx)
	if err != nil {
		return fmt.Errorf("load skills: %w", err)
	}
	users, err := p.repo.LoadUsers(ctx, []string{userID})
	if err != nil {
		return fmt.Errorf("load user %s: %w", userID, err)
	}

	w := inst.Window()
	fresh, err := p.repo.UserAssignments(ctx, userID, w.Start.Add(-p.contextPad()), w.End.Add(p.contextPad()))
	if err != nil {
		return fmt.Errorf("load assignments of %s: %w", userID, err)
	}
	existing := fresh[:0:0]
	for _, a := range fresh {
		if !contains(ignore, a.ID) {
			existing = append(existing, a)
		}
	}
	if c := FindConflict(existing, w); c != nil {
		return invalid(ReasonConflict, "user %s already works %s overlapping instance %s", userID, c.ID, inst.ID)
	}
	_, err = CheckUser(Request{Instance: *inst, Template: *tmpl, Team: team, Skills: skills}, users[userID], existing)
	return err
}

// reassign hands an assignment to another user, moving its ledger amount
// along when it is counted
func (s *swapPlan) reassign(p *Planner, a models.Assignment, to string) {
	moved := a
	moved.UserID = to
	moved.Source = models.SourceSwap
	moved.Version = a.Version + 1
	s.assignments = append(s.assignments, moved)
	s.record(models.HistorySwapped, &a, moved)
	if a.Status.Counted() {
		s.deltas = append(s.deltas, p.ledgerDeltas(a, -1)...)
		s.deltas = append(s.deltas, p.ledgerDeltas(moved, 1)...)
	}
}

// moveToOpenShift cancels the source assignment and creates one for the
// same user on the open instance, in the same status
func (s *swapPlan) moveToOpenShift(p *Planner, source models.Assignment, inst models.ShiftInstance, now time.Time) {
	cancelled := source
	cancelled.Status = models.AssignmentCancelled
	cancelled.CancelledAt = &now
	cancelled.Version = source.Version + 1

	created := models.Assignment{
		ID:                   uuid.NewString(),
		UserID:               source.UserID,
		InstanceID:           inst.ID,
		TeamID:               inst.TeamID,
		TemplateID:           inst.TemplateID,
		Category:             inst.Category,
		Start:                inst.Start,
		End:                  inst.End,
		Weight:               inst.Weight,
		WeekCredit:           inst.WeekCredit,
		Status:               source.Status,
		Source:               models.SourceSwap,
		Version:              1,
		AssignedAt:           now,
		ConfirmationDeadline: p.deadline(now, inst.Start),
	}
	if source.Status == models.AssignmentConfirmed {
		created.ConfirmedAt = &now
		s.deltas = append(s.deltas, p.ledgerDeltas(source, -1)...)
		s.deltas = append(s.deltas, p.ledgerDeltas(created, 1)...)
	}
	s.assignments = append(s.assignments, cancelled, created)
	s.record(models.HistorySwapped, &source, cancelled)
	s.record(models.HistoryCreated, nil, created)
}
