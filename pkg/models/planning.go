package models

import "time"

// Coverage gap segments
const (
	SegmentShift    = "shift"
	SegmentHandover = "handover"
)

// CoverageGap reports a shift instance (or its handover window) that could
// not be staffed. It is a planning outcome, not an error.
type CoverageGap struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instance_id"`
	TeamID     string    `json:"team_id"`
	Category   Category  `json:"category"`
	Segment    string    `json:"segment"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Required   int       `json:"required"`
	Assigned   int       `json:"assigned"`
	Shortfall  int       `json:"shortfall"`
	DetectedAt time.Time `json:"detected_at"`
}

// ConflictRecord reports a rejected assignment attempt that overlapped an
// existing assignment of the same user
type ConflictRecord struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	ExistingAssignmentID string    `json:"existing_assignment_id"`
	InstanceID           string    `json:"instance_id"`
	TeamID               string    `json:"team_id"`
	OverlapStart         time.Time `json:"overlap_start"`
	OverlapEnd           time.Time `json:"overlap_end"`
	DetectedAt           time.Time `json:"detected_at"`
}

// YTDDelta is a signed change to a user's ledger counters. Cap is the weekly
// cap of the category (0 means uncapped) and is enforced by the store.
type YTDDelta struct {
	UserID   string   `json:"user_id"`
	Category Category `json:"category"`
	Weeks    float64  `json:"weeks"`
	Hours    float64  `json:"hours"`
	Cap      float64  `json:"-"`
}

// Counters returns the delta as counters
func (d YTDDelta) Counters() Counters {
	return Counters{Weeks: d.Weeks, Hours: d.Hours}
}

// Commit is one atomic unit handed to the storage collaborator
type Commit struct {
	Instances    []ShiftInstance     `json:"instances,omitempty"`
	Assignments  []Assignment        `json:"assignments,omitempty"`
	SwapRequests []SwapRequest       `json:"swap_requests,omitempty"`
	CoverageGaps []CoverageGap       `json:"coverage_gaps,omitempty"`
	Conflicts    []ConflictRecord    `json:"conflicts,omitempty"`
	YTDDeltas    []YTDDelta          `json:"ytd_deltas,omitempty"`
	History      []AssignmentHistory `json:"history,omitempty"`
	Runs         []PlanningRun       `json:"runs,omitempty"`
	// GapScopes lists instance ids whose stored gaps and conflict records
	// are replaced by CoverageGaps and Conflicts, so a re-run clears what
	// was since resolved and never duplicates what is still open.
	GapScopes []string `json:"gap_scopes,omitempty"`
}

// IsEmpty reports whether the commit carries nothing
func (c Commit) IsEmpty() bool {
	return len(c.Instances) == 0 && len(c.Assignments) == 0 && len(c.SwapRequests) == 0 &&
		len(c.CoverageGaps) == 0 && len(c.Conflicts) == 0 && len(c.YTDDeltas) == 0 && len(c.GapScopes) == 0 &&
		len(c.History) == 0 && len(c.Runs) == 0
}

// Period is a planning period of calendar days [From, To)
type Period struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Valid reports whether the period is non-empty
func (p Period) Valid() bool {
	return !p.From.IsZero() && p.To.After(p.From)
}

// Contains reports whether day lies within the period
func (p Period) Contains(day time.Time) bool {
	return !day.Before(p.From) && day.Before(p.To)
}

// Pad widens the period by the given number of days on both sides
func (p Period) Pad(days int) Period {
	return Period{From: p.From.AddDate(0, 0, -days), To: p.To.AddDate(0, 0, days)}
}

// Weeks splits the period into consecutive chunks of at most n weeks
func (p Period) Weeks(n int) []Period {
	if n <= 0 || !p.Valid() {
		return []Period{p}
	}
	var out []Period
	for from := p.From; from.Before(p.To); {
		to := from.AddDate(0, 0, 7*n)
		if to.After(p.To) {
			to = p.To
		}
		out = append(out, Period{From: from, To: to})
		from = to
	}
	return out
}

// Snapshot is the read view of one team the core plans against
type Snapshot struct {
	Team        *Team            `json:"team"`
	Users       map[string]*User `json:"users"`
	Templates   []ShiftTemplate  `json:"templates"`
	Skills      SkillCatalog     `json:"skills"`
	Instances   []ShiftInstance  `json:"instances"`
	Assignments []Assignment     `json:"assignments"`
}

// CategoryStats counts shift instances per category for a run
type CategoryStats struct {
	Instances      int `json:"instances"`
	Filled         int `json:"filled"`
	Unfilled       int `json:"unfilled"`
	NewAssignments int `json:"new_assignments"`
}

// RunSummary is the outcome of planning one team over one period
type RunSummary struct {
	ID             string                      `json:"id"`
	TeamID         string                      `json:"team_id"`
	Period         Period                      `json:"period"`
	Filled         int                         `json:"filled"`
	Unfilled       int                         `json:"unfilled"`
	NewAssignments []Assignment                `json:"new_assignments"`
	Gaps           []CoverageGap               `json:"gaps"`
	Conflicts      []ConflictRecord            `json:"conflicts"`
	ByCategory     map[Category]*CategoryStats `json:"by_category"`
	// Fairness is the 0-100 evenness of weighted weeks per category across
	// the team's active members after the run
	Fairness   map[Category]float64 `json:"fairness"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
}

// Record returns the stored history entry of the run
func (s RunSummary) Record() PlanningRun {
	return PlanningRun{
		ID:             s.ID,
		TeamID:         s.TeamID,
		Period:         s.Period,
		Filled:         s.Filled,
		Unfilled:       s.Unfilled,
		NewAssignments: len(s.NewAssignments),
		Gaps:           len(s.Gaps),
		Conflicts:      len(s.Conflicts),
		StartedAt:      s.StartedAt,
		FinishedAt:     s.FinishedAt,
	}
}

// PlanningRun is the stored history entry of one planning run
type PlanningRun struct {
	ID             string    `json:"id"`
	TeamID         string    `json:"team_id"`
	Period         Period    `json:"period"`
	Filled         int       `json:"filled"`
	Unfilled       int       `json:"unfilled"`
	NewAssignments int       `json:"new_assignments"`
	Gaps           int       `json:"gaps"`
	Conflicts      int       `json:"conflicts"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// RunFailure records a (team, period) pair whose run returned an error
type RunFailure struct {
	TeamID string `json:"team_id"`
	Period Period `json:"period"`
	Error  string `json:"error"`
}

// BatchSummary aggregates the runs of a multi-team planning batch
type BatchSummary struct {
	Runs     []RunSummary               `json:"runs"`
	Failures []RunFailure               `json:"failures,omitempty"`
	Filled   int                        `json:"filled"`
	Unfilled int                        `json:"unfilled"`
	Totals   map[Category]CategoryStats `json:"totals"`
}

// SwapOutcome is the result of evaluating a swap request
type SwapOutcome struct {
	RequestID   string       `json:"request_id"`
	Status      SwapStatus   `json:"status"`
	Reason      string       `json:"reason,omitempty"`
	Assignments []Assignment `json:"assignments,omitempty"`
}

// SweepResult lists what an expiry sweep transitioned
type SweepResult struct {
	ExpiredAssignments []Assignment  `json:"expired_assignments"`
	ExpiredSwaps       []SwapRequest `json:"expired_swaps"`
}
