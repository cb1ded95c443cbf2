package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arnavshah/shift-planner/pkg/models"
)

// Memory is a mutex-guarded in-memory Repository. Every read returns copies,
// so callers can never mutate stored state without going through Persist.
type Memory struct {
	mu          sync.RWMutex
	users       map[string]*models.User
	teams       map[string]*models.Team
	templates   map[string]models.ShiftTemplate
	skills      models.SkillCatalog
	instances   map[string]models.ShiftInstance
	assignments map[string]models.Assignment
	swaps       map[string]models.SwapRequest
	gaps        map[string][]models.CoverageGap
	conflicts   []models.ConflictRecord
	history     map[string][]models.AssignmentHistory
	runs        []models.PlanningRun

	persistErr error
	persists   int
}

// NewMemory creates an empty in-memory repository
func NewMemory() *Memory {
	return &Memory{
		users:       make(map[string]*models.User),
		teams:       make(map[string]*models.Team),
		templates:   make(map[string]models.ShiftTemplate),
		skills:      make(models.SkillCatalog),
		instances:   make(map[string]models.ShiftInstance),
		assignments: make(map[string]models.Assignment),
		swaps:       make(map[string]models.SwapRequest),
		gaps:        make(map[string][]models.CoverageGap),
		history:     make(map[string][]models.AssignmentHistory),
	}
}

// PutUser stores or replaces a user
func (m *Memory) PutUser(u *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = copyUser(u)
}

// PutTeam stores or replaces a team
func (m *Memory) PutTeam(t *models.Team) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teams[t.ID] = copyTeam(t)
}

// PutTemplate stores or replaces a shift template
func (m *Memory) PutTemplate(t models.ShiftTemplate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[t.ID] = copyTemplate(t)
}

// PutSkill stores or replaces a skill
func (m *Memory) PutSkill(s models.Skill) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skills[s.ID] = s
}

// PutInstance stores or replaces a shift instance
func (m *Memory) PutInstance(s models.ShiftInstance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[s.ID] = copyInstance(s)
}

// PutAssignment stores or replaces an assignment without version checks
func (m *Memory) PutAssignment(a models.Assignment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[a.ID] = a
}

// PutSwapRequest stores or replaces a swap request without version checks
func (m *Memory) PutSwapRequest(r models.SwapRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.swaps[r.ID] = r
}

func (m *Memory) SaveUser(_ context.Context, u *models.User) error {
	m.PutUser(u)
	return nil
}

func (m *Memory) SaveTeam(_ context.Context, t *models.Team) error {
	m.PutTeam(t)
	return nil
}

func (m *Memory) SaveTemplate(_ context.Context, t *models.ShiftTemplate) error {
	m.PutTemplate(*t)
	return nil
}

func (m *Memory) SaveSkill(_ context.Context, s *models.Skill) error {
	m.PutSkill(*s)
	return nil
}

// FailPersist makes every following Persist return err until cleared with nil
func (m *Memory) FailPersist(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistErr = err
}

// PersistCount returns how many commits were applied
func (m *Memory) PersistCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.persists
}

// Assignments returns every stored assignment ordered by start then id
func (m *Memory) Assignments() []models.Assignment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Assignment, 0, len(m.assignments))
	for _, a := range m.assignments {
		out = append(out, a)
	}
	sortAssignments(out)
	return out
}

// Gaps returns every stored coverage gap
func (m *Memory) Gaps() []models.CoverageGap {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.CoverageGap
	for _, gs := range m.gaps {
		out = append(out, gs...)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].Segment < out[j].Segment
	})
	return out
}

// Conflicts returns every stored conflict record
func (m *Memory) Conflicts() []models.ConflictRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.ConflictRecord(nil), m.conflicts...)
}

// User returns a copy of a stored user
func (m *Memory) User(id string) (*models.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, false
	}
	return copyUser(u), true
}

func (m *Memory) LoadSnapshot(_ context.Context, teamID string, window models.Period) (*models.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	team, ok := m.teams[teamID]
	if !ok {
		return nil, fmt.Errorf("team %s: %w", teamID, ErrNotFound)
	}
	snap := &models.Snapshot{
		Team:   copyTeam(team),
		Users:  make(map[string]*models.User),
		Skills: make(models.SkillCatalog, len(m.skills)),
	}
	for id, s := range m.skills {
		snap.Skills[id] = s
	}
	members := make(map[string]bool)
	for _, ms := range team.Memberships {
		if u, ok := m.users[ms.UserID]; ok {
			snap.Users[u.ID] = copyUser(u)
			members[u.ID] = true
		}
	}
	for _, t := range m.templates {
		if t.TeamID == teamID && t.Active {
			snap.Templates = append(snap.Templates, copyTemplate(t))
		}
	}
	sort.Slice(snap.Templates, func(i, j int) bool { return snap.Templates[i].ID < snap.Templates[j].ID })

	w := models.Window{Start: window.From, End: window.To}
	for _, s := range m.instances {
		if s.TeamID == teamID && s.Window().Overlaps(w) {
			snap.Instances = append(snap.Instances, copyInstance(s))
		}
	}
	sort.Slice(snap.Instances, func(i, j int) bool { return snap.Instances[i].Start.Before(snap.Instances[j].Start) })

	for _, a := range m.assignments {
		if members[a.UserID] && a.Window().Overlaps(w) {
			snap.Assignments = append(snap.Assignments, a)
		}
	}
	sortAssignments(snap.Assignments)
	return snap, nil
}

func (m *Memory) LoadUsers(_ context.Context, ids []string) (map[string]*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*models.User, len(ids))
	for _, id := range ids {
		u, ok := m.users[id]
		if !ok {
			return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		out[id] = copyUser(u)
	}
	return out, nil
}

func (m *Memory) LoadTeam(_ context.Context, id string) (*models.Team, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.teams[id]
	if !ok {
		return nil, fmt.Errorf("team %s: %w", id, ErrNotFound)
	}
	return copyTeam(t), nil
}

func (m *Memory) LoadSkills(_ context.Context) (models.SkillCatalog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(models.SkillCatalog, len(m.skills))
	for id, s := range m.skills {
		out[id] = s
	}
	return out, nil
}

func (m *Memory) GetTemplate(_ context.Context, id string) (*models.ShiftTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", id, ErrNotFound)
	}
	c := copyTemplate(t)
	return &c, nil
}

func (m *Memory) GetInstance(_ context.Context, id string) (*models.ShiftInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.instances[id]
	if !ok {
		return nil, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	c := copyInstance(s)
	return &c, nil
}

func (m *Memory) GetAssignment(_ context.Context, id string) (*models.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assignments[id]
	if !ok {
		return nil, fmt.Errorf("assignment %s: %w", id, ErrNotFound)
	}
	return &a, nil
}

func (m *Memory) GetSwapRequest(_ context.Context, id string) (*models.SwapRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.swaps[id]
	if !ok {
		return nil, fmt.Errorf("swap request %s: %w", id, ErrNotFound)
	}
	return &r, nil
}

func (m *Memory) CreateSwapRequest(_ context.Context, req *models.SwapRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.swaps[req.ID]; exists {
		return ErrOptimisticLock
	}
	if req.Version == 0 {
		req.Version = 1
	}
	m.swaps[req.ID] = *req
	return nil
}

func (m *Memory) UserAssignments(_ context.Context, userID string, from, to time.Time) ([]models.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w := models.Window{Start: from, End: to}
	var out []models.Assignment
	for _, a := range m.assignments {
		if a.UserID == userID && a.Window().Overlaps(w) {
			out = append(out, a)
		}
	}
	sortAssignments(out)
	return out, nil
}

func (m *Memory) InstanceAssignments(_ context.Context, instanceID string) ([]models.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Assignment
	for _, a := range m.assignments {
		if a.InstanceID == instanceID {
			out = append(out, a)
		}
	}
	sortAssignments(out)
	return out, nil
}

func (m *Memory) ListExpired(_ context.Context, now time.Time) ([]models.Assignment, []models.SwapRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var assignments []models.Assignment
	for _, a := range m.assignments {
		if a.Status == models.AssignmentProposed && !a.ConfirmationDeadline.IsZero() && !now.Before(a.ConfirmationDeadline) {
			assignments = append(assignments, a)
		}
	}
	sortAssignments(assignments)
	var swaps []models.SwapRequest
	for _, r := range m.swaps {
		if r.Status == models.SwapPending && r.ExpiredAt(now) {
			swaps = append(swaps, r)
		}
	}
	sort.Slice(swaps, func(i, j int) bool { return swaps[i].ID < swaps[j].ID })
	return assignments, swaps, nil
}

func (m *Memory) AssignmentHistory(_ context.Context, assignmentID string) ([]models.AssignmentHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.AssignmentHistory{}, m.history[assignmentID]...), nil
}

func (m *Memory) PlanningRuns(_ context.Context, teamID string, limit int) ([]models.PlanningRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.PlanningRun{}
	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].TeamID != teamID {
			continue
		}
		out = append(out, m.runs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Persist validates the whole commit first and only then applies it
func (m *Memory) Persist(_ context.Context, c models.Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.persistErr != nil {
		return m.persistErr
	}

	for _, a := range c.Assignments {
		if err := checkVersion(a.Version, m.assignmentVersion(a.ID)); err != nil {
			return fmt.Errorf("assignment %s: %w", a.ID, err)
		}
	}
	for _, r := range c.SwapRequests {
		if err := checkVersion(r.Version, m.swapVersion(r.ID)); err != nil {
			return fmt.Errorf("swap request %s: %w", r.ID, err)
		}
	}

	// Deltas may touch the same user/category more than once
	pending := make(map[string]map[models.Category]models.Counters)
	for _, d := range c.YTDDeltas {
		u, ok := m.users[d.UserID]
		if !ok {
			return fmt.Errorf("user %s: %w", d.UserID, ErrNotFound)
		}
		if pending[d.UserID] == nil {
			pending[d.UserID] = make(map[models.Category]models.Counters)
		}
		current, seen := pending[d.UserID][d.Category]
		if !seen {
			current = u.YTD[d.Category]
		}
		if err := CheckDelta(current, d); err != nil {
			return fmt.Errorf("user %s category %s: %w", d.UserID, d.Category, err)
		}
		pending[d.UserID][d.Category] = current.Add(d.Counters())
	}
	if err := m.checkHeadcount(c); err != nil {
		return err
	}

	for _, s := range c.Instances {
		m.instances[s.ID] = copyInstance(s)
	}
	for _, a := range c.Assignments {
		m.assignments[a.ID] = a
	}
	for _, r := range c.SwapRequests {
		m.swaps[r.ID] = r
	}
	scoped := make(map[string]bool, len(c.GapScopes))
	for _, id := range c.GapScopes {
		delete(m.gaps, id)
		scoped[id] = true
	}
	for _, g := range c.CoverageGaps {
		m.gaps[g.InstanceID] = append(m.gaps[g.InstanceID], g)
	}
	if len(scoped) > 0 {
		kept := m.conflicts[:0]
		for _, cr := range m.conflicts {
			if !scoped[cr.InstanceID] {
				kept = append(kept, cr)
			}
		}
		m.conflicts = kept
	}
	m.conflicts = append(m.conflicts, c.Conflicts...)
	for _, h := range c.History {
		m.history[h.AssignmentID] = append(m.history[h.AssignmentID], h)
	}
	m.runs = append(m.runs, c.Runs...)
	for userID, cats := range pending {
		u := m.users[userID]
		if u.YTD == nil {
			u.YTD = make(map[models.Category]models.Counters)
		}
		for cat, counters := range cats {
			u.YTD[cat] = counters
		}
	}
	m.persists++
	return nil
}

// checkHeadcount counts the occupants every instance gaining a new
// assignment would have after the commit
func (m *Memory) checkHeadcount(c models.Commit) error {
	gaining := make(map[string]bool)
	for _, a := range c.Assignments {
		if a.Version == 1 && a.Status.Occupies() {
			gaining[a.InstanceID] = true
		}
	}
	if len(gaining) == 0 {
		return nil
	}
	headcount := make(map[string]int, len(gaining))
	for id := range gaining {
		if s, ok := m.instances[id]; ok {
			headcount[id] = s.Headcount
		}
	}
	for _, s := range c.Instances {
		if gaining[s.ID] {
			headcount[s.ID] = s.Headcount
		}
	}

	after := make(map[string]models.Assignment)
	for id, a := range m.assignments {
		if gaining[a.InstanceID] {
			after[id] = a
		}
	}
	for _, a := range c.Assignments {
		after[a.ID] = a
	}
	occupied := make(map[string]int)
	for _, a := range after {
		if gaining[a.InstanceID] && a.Status.Occupies() {
			occupied[a.InstanceID]++
		}
	}
	for id := range gaining {
		if hc, known := headcount[id]; known && occupied[id] > hc {
			return fmt.Errorf("instance %s: %w", id, ErrInstanceFull)
		}
	}
	return nil
}

func (m *Memory) assignmentVersion(id string) int {
	if a, ok := m.assignments[id]; ok {
		return a.Version
	}
	return 0
}

func (m *Memory) swapVersion(id string) int {
	if r, ok := m.swaps[id]; ok {
		return r.Version
	}
	return 0
}

func checkVersion(next, stored int) error {
	if next != stored+1 {
		return ErrOptimisticLock
	}
	return nil
}

func sortAssignments(as []models.Assignment) {
	sort.Slice(as, func(i, j int) bool {
		if !as[i].Start.Equal(as[j].Start) {
			return as[i].Start.Before(as[j].Start)
		}
		return as[i].ID < as[j].ID
	})
}

func copyUser(u *models.User) *models.User {
	c := *u
	c.Skills = append([]models.UserSkill(nil), u.Skills...)
	c.Availability.Weekdays = append([]time.Weekday(nil), u.Availability.Weekdays...)
	c.Availability.Blackouts = append([]models.DateRange(nil), u.Availability.Blackouts...)
	c.YTD = make(map[models.Category]models.Counters, len(u.YTD))
	for k, v := range u.YTD {
		c.YTD[k] = v
	}
	return &c
}

func copyTeam(t *models.Team) *models.Team {
	c := *t
	c.Memberships = append([]models.Membership(nil), t.Memberships...)
	return &c
}

func copyTemplate(t models.ShiftTemplate) models.ShiftTemplate {
	t.RequiredSkills = append([]models.SkillRequirement(nil), t.RequiredSkills...)
	t.Recurrence.Weekdays = append([]time.Weekday(nil), t.Recurrence.Weekdays...)
	return t
}

func copyInstance(s models.ShiftInstance) models.ShiftInstance {
	if s.Handover != nil {
		h := *s.Handover
		s.Handover = &h
	}
	return s
}
