// Package scheduler is the planning core: it expands shift templates, picks
// eligible and fairly ranked engineers for every instance, and keeps
// assignments, swaps and the YTD ledger consistent under concurrency.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arnavshah/shift-planner/internal/metrics"
	"github.com/arnavshah/shift-planner/pkg/models"
	"github.com/arnavshah/shift-planner/pkg/store"
)

// Planner drives planning runs, swaps, assignment transitions and expiry
// sweeps against a storage collaborator
type Planner struct {
	repo    store.Repository
	policy  Policy
	log     *zap.Logger
	metrics metrics.Collector
	ledger  *Ledger
	locks   *LockRegistry
	now     func() time.Time
}

// Option configures a Planner
type Option func(*Planner)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(p *Planner) {
		if l != nil {
			p.log = l
		}
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(m metrics.Collector) Option {
	return func(p *Planner) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(p *Planner) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a planner on top of repo
func New(repo store.Repository, policy Policy, opts ...Option) *Planner {
	p := &Planner{
		repo:    repo,
		policy:  policy.withDefaults(),
		log:     zap.NewNop(),
		metrics: metrics.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.ledger = NewLedger(p.policy.Caps)
	p.locks = NewLockRegistry(p.policy.LockAttempts, p.policy.LockBackoffBase, p.policy.LockBackoffCap, p.metrics.IncrementLockRetry)
	return p
}

// Policy returns the effective policy
func (p *Planner) Policy() Policy {
	return p.policy
}

// Ledger returns the planner's YTD ledger cache
func (p *Planner) Ledger() *Ledger {
	return p.ledger
}

func (p *Planner) contextPad() time.Duration {
	return time.Duration(p.policy.ContextDays) * 24 * time.Hour
}

// run is the working state of one (team, period) planning run
type run struct {
	snap       *models.Snapshot
	templates  map[string]models.ShiftTemplate
	known      map[string]models.ShiftInstance
	byInstance map[string][]models.Assignment
	byUser     map[string][]models.Assignment
	pending    map[string]map[models.Category]float64

	instances []models.ShiftInstance
	scopes    []string
	summary   *models.RunSummary
}

func newRun(snap *models.Snapshot, period models.Period, started time.Time) *run {
	r := &run{
		snap:       snap,
		templates:  make(map[string]models.ShiftTemplate, len(snap.Templates)),
		known:      make(map[string]models.ShiftInstance, len(snap.Instances)),
		byInstance: make(map[string][]models.Assignment),
		byUser:     make(map[string][]models.Assignment),
		pending:    make(map[string]map[models.Category]float64),
		summary: &models.RunSummary{
			ID:             uuid.NewString(),
			TeamID:         snap.Team.ID,
			Period:         period,
			NewAssignments: []models.Assignment{},
			Gaps:           []models.CoverageGap{},
			Conflicts:      []models.ConflictRecord{},
			ByCategory:     make(map[models.Category]*models.CategoryStats),
			StartedAt:      started,
		},
	}
	for _, t := range snap.Templates {
		r.templates[t.ID] = t
	}
	for _, s := range snap.Instances {
		r.known[s.ID] = s
	}
	for _, a := range snap.Assignments {
		if a.Status.Occupies() {
			r.add(a)
		}
	}
	return r
}

// add records an occupying assignment in the run's view
func (r *run) add(a models.Assignment) {
	r.byInstance[a.InstanceID] = append(r.byInstance[a.InstanceID], a)
	r.byUser[a.UserID] = append(r.byUser[a.UserID], a)
	if a.Status == models.AssignmentProposed {
		if w := a.LedgerAmount().Weeks; w > 0 {
			if r.pending[a.UserID] == nil {
				r.pending[a.UserID] = make(map[models.Category]float64)
			}
			r.pending[a.UserID][a.Category.Normalize()] += w
		}
	}
}

func (r *run) pendingWeeks(userID string, cat models.Category) float64 {
	return r.pending[userID][cat.Normalize()]
}

func (r *run) stats(cat models.Category) *models.CategoryStats {
	cs, ok := r.summary.ByCategory[cat]
	if !ok {
		cs = &models.CategoryStats{}
		r.summary.ByCategory[cat] = cs
	}
	return cs
}

// RunPlanning expands the team's active templates over period and fills
// every instance up to its headcount. Unfillable headcount is reported as
// coverage gaps; the run itself only fails on malformed input, storage
// errors or contention.
func (p *Planner) RunPlanning(ctx context.Context, teamID string, period models.Period) (*models.RunSummary, error) {
	started := p.now()
	if !period.Valid() {
		return nil, invalid(ReasonInvalidPeriod, "period must end after it starts")
	}

	snap, err := p.repo.LoadSnapshot(ctx, teamID, period.Pad(p.policy.ContextDays))
	if err != nil {
		return nil, fmt.Errorf("load snapshot for team %s: %w", teamID, err)
	}
	// Counters may have been edited or committed elsewhere since the last run
	for _, u := range snap.Users {
		p.ledger.Sync(u)
	}

	r := newRun(snap, period, started)
	if !snap.Team.Active {
		p.log.Info("skipping inactive team", zap.String("team", teamID))
		r.summary.FinishedAt = p.now()
		return r.summary, nil
	}

	var instances []models.ShiftInstance
	for _, t := range snap.Templates {
		expanded, err := Expand(t, period, snap.Skills, p.policy.Handover, p.policy.Location)
		if err != nil {
			return nil, err
		}
		instances = append(instances, expanded...)
	}
	for i, inst := range instances {
		if stored, ok := r.known[inst.ID]; ok {
			instances[i] = stored
		} else {
			r.known[inst.ID] = inst
		}
	}
	sort.SliceStable(instances, func(i, j int) bool {
		if !instances[i].Start.Equal(instances[j].Start) {
			return instances[i].Start.Before(instances[j].Start)
		}
		return instances[i].TemplateID < instances[j].TemplateID
	})

	p.log.Info("planning run started",
		zap.String("team", teamID),
		zap.Time("from", period.From),
		zap.Time("to", period.To),
		zap.Int("instances", len(instances)),
	)

	for _, inst := range instances {
		if err := p.fill(ctx, r, inst); err != nil {
			p.log.Error("planning run aborted", zap.String("team", teamID), zap.String("instance", inst.ID), zap.Error(err))
			return nil, err
		}
	}

	categories := make([]models.Category, 0, len(r.summary.ByCategory))
	for cat := range r.summary.ByCategory {
		categories = append(categories, cat)
	}
	r.summary.Fairness = categoryFairness(activeMembers(snap), p.ledger, categories, r.pendingWeeks)
	r.summary.FinishedAt = p.now()

	commit := models.Commit{
		Instances:    r.instances,
		CoverageGaps: r.summary.Gaps,
		Conflicts:    r.summary.Conflicts,
		GapScopes:    r.scopes,
		Runs:         []models.PlanningRun{r.summary.Record()},
	}
	if err := p.repo.Persist(ctx, commit); err != nil {
		p.log.Error("persisting run outcome failed", zap.String("team", teamID), zap.Error(err))
		return nil, fmt.Errorf("persist run outcome for team %s: %w", teamID, err)
	}

	p.metrics.ObserveRunDuration(r.summary.FinishedAt.Sub(started))
	p.metrics.IncrementConflicts(len(r.summary.Conflicts))
	p.log.Info("planning run finished",
		zap.String("team", teamID),
		zap.Int("filled", r.summary.Filled),
		zap.Int("unfilled", r.summary.Unfilled),
		zap.Int("new_assignments", len(r.summary.NewAssignments)),
		zap.Int("gaps", len(r.summary.Gaps)),
		zap.Int("conflicts", len(r.summary.Conflicts)),
	)
	return r.summary, nil
}

// fill staffs one instance and records its gap, if any
func (p *Planner) fill(ctx context.Context, r *run, inst models.ShiftInstance) error {
	if inst.Status == models.InstanceCancelled {
		return nil
	}
	tmpl := r.templates[inst.TemplateID]
	cs := r.stats(inst.Category)
	cs.Instances++

	current := r.byInstance[inst.ID]
	need := inst.Headcount - len(current)
	var attempts []models.ConflictRecord

	if need > 0 {
		req := Request{Instance: inst, Template: tmpl, Team: r.snap.Team, Skills: r.snap.Skills}
		cands, rejected := Eligible(req, r.snap.Users, r.byUser)
		cands = withoutUsers(cands, current)
		ranked := Rank(cands, inst.Weight, func(userID string) float64 {
			return p.ledger.Read(userID, inst.Category).Weeks + r.pendingWeeks(userID, inst.Category)
		})

		for _, c := range ranked {
			if need == 0 {
				break
			}
			if existing := FindConflict(r.byUser[c.User.ID], inst.Window()); existing != nil {
				attempts = append(attempts, p.conflictRecord(c.User.ID, existing, inst))
				continue
			}
			a, existing, err := p.propose(ctx, req, c.User)
			if ReasonOf(err) == ReasonInstanceFull {
				// staffed concurrently by another run
				if err := p.refreshInstance(ctx, r, inst.ID); err != nil {
					return err
				}
				break
			}
			if err != nil {
				if ReasonOf(err) != "" {
					p.log.Debug("candidate no longer eligible", zap.String("user", c.User.ID), zap.Error(err))
					continue
				}
				return err
			}
			if existing != nil {
				attempts = append(attempts, p.conflictRecord(c.User.ID, existing, inst))
				continue
			}
			r.add(*a)
			r.summary.NewAssignments = append(r.summary.NewAssignments, *a)
			cs.NewAssignments++
			p.metrics.IncrementAssignmentsProposed(string(inst.Category), 1)
			need--
		}
		if need > 0 && len(rejected) > 0 {
			p.log.Debug("candidates turned away", zap.String("instance", inst.ID), zap.Any("reasons", rejected))
		}
	}

	assigned := len(r.byInstance[inst.ID])
	shortfall := inst.Headcount - assigned
	if shortfall < 0 {
		shortfall = 0
	}
	r.instances = append(r.instances, inst)
	r.scopes = append(r.scopes, inst.ID)

	if shortfall > 0 {
		gap := p.gap(inst, models.SegmentShift, inst.Window(), inst.Headcount, assigned, shortfall)
		r.summary.Gaps = append(r.summary.Gaps, gap)
		r.summary.Conflicts = append(r.summary.Conflicts, attempts...)
		r.summary.Unfilled++
		cs.Unfilled++
	} else {
		r.summary.Filled++
		cs.Filled++
	}

	if inst.Handover != nil {
		p.checkHandover(r, inst, shortfall)
	}
	return nil
}

// refreshInstance adds occupants stored by others to the run's view of an
// instance
func (p *Planner) refreshInstance(ctx context.Context, r *run, instanceID string) error {
	stored, err := p.repo.InstanceAssignments(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("load assignments of instance %s: %w", instanceID, err)
	}
	known := make(map[string]bool)
	for _, a := range r.byInstance[instanceID] {
		known[a.ID] = true
	}
	for _, a := range stored {
		if a.Status.Occupies() && !known[a.ID] {
			r.add(a)
		}
	}
	return nil
}

// checkHandover evaluates the handover window separately: it needs the
// outgoing rotation's assignees and the incoming ones at the same time.
// Only shortfall not already reported for the instance itself is reported.
func (p *Planner) checkHandover(r *run, inst models.ShiftInstance, reported int) {
	prev, ok := r.known[previousRotation(inst)]
	if !ok || prev.Status == models.InstanceCancelled {
		return
	}
	w := *inst.Handover
	required := prev.Headcount + inst.Headcount
	assigned := 0
	for _, id := range []string{prev.ID, inst.ID} {
		for _, a := range r.byInstance[id] {
			if a.Window().Covers(w) {
				assigned++
			}
		}
	}
	extra := required - assigned - reported
	if extra <= 0 {
		return
	}
	r.summary.Gaps = append(r.summary.Gaps, p.gap(inst, models.SegmentHandover, w, required, assigned, extra))
}

func (p *Planner) gap(inst models.ShiftInstance, segment string, w models.Window, required, assigned, shortfall int) models.CoverageGap {
	p.metrics.IncrementCoverageGaps(string(inst.Category), segment)
	p.log.Warn("coverage gap",
		zap.String("team", inst.TeamID),
		zap.String("instance", inst.ID),
		zap.String("category", string(inst.Category)),
		zap.String("segment", segment),
		zap.Time("start", w.Start),
		zap.Int("shortfall", shortfall),
	)
	return models.CoverageGap{
		ID:         uuid.NewString(),
		InstanceID: inst.ID,
		TeamID:     inst.TeamID,
		Category:   inst.Category,
		Segment:    segment,
		Start:      w.Start,
		End:        w.End,
		Required:   required,
		Assigned:   assigned,
		Shortfall:  shortfall,
		DetectedAt: p.now(),
	}
}

func (p *Planner) conflictRecord(userID string, existing *models.Assignment, inst models.ShiftInstance) models.ConflictRecord {
	o := overlapOf(existing.Window(), inst.Window())
	return models.ConflictRecord{
		ID:                   uuid.NewString(),
		UserID:               userID,
		ExistingAssignmentID: existing.ID,
		InstanceID:           inst.ID,
		TeamID:               inst.TeamID,
		OverlapStart:         o.Start,
		OverlapEnd:           o.End,
		DetectedAt:           p.now(),
	}
}

// propose commits a proposed assignment inside the critical sections of the
// user and the instance. It re-reads the user's assignments, so a conflict
// created concurrently by another run is returned instead of double-booking
// the user, and the instance's occupants, so it is never staffed past its
// headcount.
func (p *Planner) propose(ctx context.Context, req Request, u *models.User) (*models.Assignment, *models.Assignment, error) {
	inst := req.Instance
	release, err := p.locks.Acquire(ctx, u.ID, instanceKey(inst.ID))
	if err != nil {
		return nil, nil, err
	}
	defer release()

	w := inst.Window()
	fresh, err := p.repo.UserAssignments(ctx, u.ID, w.Start.Add(-p.contextPad()), w.End.Add(p.contextPad()))
	if err != nil {
		return nil, nil, fmt.Errorf("load assignments of %s: %w", u.ID, err)
	}
	if existing := FindConflict(fresh, w); existing != nil {
		return nil, existing, nil
	}
	if err := checkLimits(u, w, fresh); err != nil {
		return nil, nil, err
	}
	if err := p.checkCapacity(ctx, inst); err != nil {
		return nil, nil, err
	}

	now := p.now()
	a := models.Assignment{
		ID:                   uuid.NewString(),
		UserID:               u.ID,
		InstanceID:           inst.ID,
		TeamID:               inst.TeamID,
		TemplateID:           inst.TemplateID,
		Category:             inst.Category,
		Start:                inst.Start,
		End:                  inst.End,
		Weight:               inst.Weight,
		WeekCredit:           inst.WeekCredit,
		Status:               models.AssignmentProposed,
		Source:               models.SourcePlanner,
		Version:              1,
		AssignedAt:           now,
		ConfirmationDeadline: p.deadline(now, inst.Start),
	}
	commit := models.Commit{
		Instances:   []models.ShiftInstance{inst},
		Assignments: []models.Assignment{a},
		History:     []models.AssignmentHistory{historyEntry(models.HistoryCreated, nil, a, now)},
	}
	if err := p.repo.Persist(ctx, commit); err != nil {
		if errors.Is(err, store.ErrInstanceFull) {
			return nil, nil, invalid(ReasonInstanceFull, "instance %s is fully staffed", inst.ID)
		}
		return nil, nil, fmt.Errorf("persist assignment of %s to %s: %w", u.ID, inst.ID, err)
	}
	return &a, nil, nil
}

// checkCapacity fails with ReasonInstanceFull when the stored occupants of
// inst already reach its headcount
func (p *Planner) checkCapacity(ctx context.Context, inst models.ShiftInstance) error {
	staffed, err := p.repo.InstanceAssignments(ctx, inst.ID)
	if err != nil {
		return fmt.Errorf("load assignments of instance %s: %w", inst.ID, err)
	}
	occupied := 0
	for _, a := range staffed {
		if a.Status.Occupies() {
			occupied++
		}
	}
	if occupied >= inst.Headcount {
		return invalid(ReasonInstanceFull, "instance %s is fully staffed", inst.ID)
	}
	return nil
}

// instanceKey is the critical-section key of a shift instance. It shares the
// lock registry with user ids.
func instanceKey(id string) string {
	return "instance/" + id
}

// deadline is the confirmation deadline of an assignment made at now. It
// never lies after a future shift start.
func (p *Planner) deadline(now, shiftStart time.Time) time.Time {
	d := now.Add(p.policy.ConfirmationWindow)
	if shiftStart.After(now) && shiftStart.Before(d) {
		return shiftStart
	}
	return d
}

func withoutUsers(cands []Candidate, current []models.Assignment) []Candidate {
	if len(current) == 0 {
		return cands
	}
	out := cands[:0:0]
	for _, c := range cands {
		taken := false
		for _, a := range current {
			if a.UserID == c.User.ID {
				taken = true
				break
			}
		}
		if !taken {
			out = append(out, c)
		}
	}
	return out
}

func activeMembers(snap *models.Snapshot) map[string]*models.User {
	out := make(map[string]*models.User)
	for _, id := range snap.Team.MemberIDs() {
		if u, ok := snap.Users[id]; ok && !u.Archived {
			out[id] = u
		}
	}
	return out
}
