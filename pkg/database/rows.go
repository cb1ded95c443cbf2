package database

import (
	"time"

	"github.com/arnavshah/shift-planner/pkg/models"
)

// Rows store every column timestamp in UTC so window comparisons work on
// sqlite's text timestamps; reads convert back to the planning location.
// Timestamps inside JSON columns keep their offset.

type skillRow struct {
	ID                    string `gorm:"primaryKey"`
	Name                  string
	Category              string `gorm:"index"`
	MinProficiency        int
	RequiresCertification bool
	Weight                float64
}

func (skillRow) TableName() string { return "skills" }

type userRow struct {
	ID           string `gorm:"primaryKey"`
	Name         string
	Role         string
	Archived     bool
	Skills       []models.UserSkill  `gorm:"serializer:json"`
	Availability models.Availability `gorm:"serializer:json"`
	Limits       models.Limits       `gorm:"serializer:json"`
	UpdatedAt    time.Time
}

func (userRow) TableName() string { return "users" }

// ledgerRow holds one user's YTD counters for one category
type ledgerRow struct {
	UserID    string `gorm:"primaryKey"`
	Category  string `gorm:"primaryKey"`
	Weeks     float64
	Hours     float64
	UpdatedAt time.Time
}

func (ledgerRow) TableName() string { return "ytd_counters" }

type teamRow struct {
	ID     string `gorm:"primaryKey"`
	Name   string
	Active bool
}

func (teamRow) TableName() string { return "teams" }

type membershipRow struct {
	TeamID string `gorm:"primaryKey"`
	UserID string `gorm:"primaryKey;index"`
	Role   string
	Active bool
	From   *time.Time `gorm:"column:valid_from"`
	Until  *time.Time `gorm:"column:valid_until"`
}

func (membershipRow) TableName() string { return "team_memberships" }

type templateRow struct {
	ID               string `gorm:"primaryKey"`
	TeamID           string `gorm:"index"`
	Name             string
	Category         string
	Active           bool
	StartTime        string
	EndTime          string
	SpanDays         int
	Recurrence       models.Recurrence         `gorm:"serializer:json"`
	RequiredSkills   []models.SkillRequirement `gorm:"serializer:json"`
	Headcount        int
	RequiresHandover bool
}

func (templateRow) TableName() string { return "shift_templates" }

type instanceRow struct {
	ID            string `gorm:"primaryKey"`
	TemplateID    string `gorm:"index"`
	TeamID        string `gorm:"index:idx_instance_team_start"`
	Category      string
	Date          time.Time
	Start         time.Time `gorm:"column:starts_at;index:idx_instance_team_start"`
	End           time.Time `gorm:"column:ends_at"`
	Status        string
	Headcount     int
	HandoverStart *time.Time
	HandoverEnd   *time.Time
	Weight        float64
	WeekCredit    float64
}

func (instanceRow) TableName() string { return "shift_instances" }

type assignmentRow struct {
	ID                   string `gorm:"primaryKey"`
	UserID               string `gorm:"index:idx_assignment_user_start"`
	InstanceID           string `gorm:"index"`
	TeamID               string
	TemplateID           string
	Category             string
	Start                time.Time `gorm:"column:starts_at;index:idx_assignment_user_start"`
	End                  time.Time `gorm:"column:ends_at"`
	Weight               float64
	WeekCredit           float64
	Status               string `gorm:"index"`
	Source               string
	Version              int
	AssignedAt           time.Time
	ConfirmationDeadline time.Time
	ConfirmedAt          *time.Time
	CompletedAt          *time.Time
	CancelledAt          *time.Time
}

func (assignmentRow) TableName() string { return "assignments" }

type swapRow struct {
	ID                 string `gorm:"primaryKey"`
	RequesterID        string `gorm:"index"`
	TargetUserID       string
	SourceAssignmentID string
	TargetAssignmentID string
	TargetInstanceID   string
	Status             string `gorm:"index"`
	Reason             string
	Note               string
	RequestedAt        time.Time
	ExpiresAt          time.Time
	ResolvedAt         *time.Time
	Version            int
}

func (swapRow) TableName() string { return "swap_requests" }

type gapRow struct {
	ID         string `gorm:"primaryKey"`
	InstanceID string `gorm:"index"`
	TeamID     string `gorm:"index"`
	Category   string
	Segment    string
	Start      time.Time `gorm:"column:starts_at"`
	End        time.Time `gorm:"column:ends_at"`
	Required   int
	Assigned   int
	Shortfall  int
	DetectedAt time.Time
}

func (gapRow) TableName() string { return "coverage_gaps" }

type conflictRow struct {
	ID                   string `gorm:"primaryKey"`
	UserID               string `gorm:"index"`
	ExistingAssignmentID string
	InstanceID           string
	TeamID               string
	OverlapStart         time.Time
	OverlapEnd           time.Time
	DetectedAt           time.Time
}

func (conflictRow) TableName() string { return "conflict_records" }

// historyRow is keyed by an insertion sequence so entries written at the
// same instant keep their order
type historyRow struct {
	Seq            uint   `gorm:"primaryKey;autoIncrement"`
	ID             string `gorm:"uniqueIndex"`
	AssignmentID   string `gorm:"index"`
	Action         string
	UserID         string
	PreviousUserID string
	PreviousStatus string
	NewStatus      string
	SwapRequestID  string
	At             time.Time
}

func (historyRow) TableName() string { return "assignment_history" }

type runRow struct {
	ID             string `gorm:"primaryKey"`
	TeamID         string `gorm:"index:idx_run_team_started"`
	PeriodFrom     time.Time
	PeriodTo       time.Time
	Filled         int
	Unfilled       int
	NewAssignments int
	Gaps           int
	Conflicts      int
	StartedAt      time.Time `gorm:"index:idx_run_team_started"`
	FinishedAt     time.Time
}

func (runRow) TableName() string { return "planning_runs" }

func utc(t time.Time) time.Time { return t.UTC() }

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (r *Repository) local(t time.Time) time.Time { return t.In(r.loc) }

func (r *Repository) localPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	l := t.In(r.loc)
	return &l
}

func toSkillRow(s models.Skill) skillRow {
	return skillRow{
		ID:                    s.ID,
		Name:                  s.Name,
		Category:              string(s.Category),
		MinProficiency:        int(s.MinProficiency),
		RequiresCertification: s.RequiresCertification,
		Weight:                s.Weight,
	}
}

func (s skillRow) model() models.Skill {
	return models.Skill{
		ID:                    s.ID,
		Name:                  s.Name,
		Category:              models.Category(s.Category),
		MinProficiency:        models.Proficiency(s.MinProficiency),
		RequiresCertification: s.RequiresCertification,
		Weight:                s.Weight,
	}
}

func toUserRow(u *models.User) userRow {
	return userRow{
		ID:           u.ID,
		Name:         u.Name,
		Role:         u.Role,
		Archived:     u.Archived,
		Skills:       u.Skills,
		Availability: u.Availability,
		Limits:       u.Limits,
	}
}

func (r *Repository) userModel(row userRow, ledger []ledgerRow) *models.User {
	u := &models.User{
		ID:           row.ID,
		Name:         row.Name,
		Role:         row.Role,
		Archived:     row.Archived,
		Skills:       row.Skills,
		YTD:          make(map[models.Category]models.Counters, len(ledger)),
		Availability: row.Availability,
		Limits:       row.Limits,
	}
	for _, l := range ledger {
		u.YTD[models.Category(l.Category)] = models.Counters{Weeks: l.Weeks, Hours: l.Hours}
	}
	return u
}

func toTemplateRow(t *models.ShiftTemplate) templateRow {
	return templateRow{
		ID:               t.ID,
		TeamID:           t.TeamID,
		Name:             t.Name,
		Category:         string(t.Category),
		Active:           t.Active,
		StartTime:        t.StartTime,
		EndTime:          t.EndTime,
		SpanDays:         t.SpanDays,
		Recurrence:       t.Recurrence,
		RequiredSkills:   t.RequiredSkills,
		Headcount:        t.Headcount,
		RequiresHandover: t.RequiresHandover,
	}
}

func (t templateRow) model() models.ShiftTemplate {
	return models.ShiftTemplate{
		ID:               t.ID,
		TeamID:           t.TeamID,
		Name:             t.Name,
		Category:         models.Category(t.Category),
		Active:           t.Active,
		StartTime:        t.StartTime,
		EndTime:          t.EndTime,
		SpanDays:         t.SpanDays,
		Recurrence:       t.Recurrence,
		RequiredSkills:   t.RequiredSkills,
		Headcount:        t.Headcount,
		RequiresHandover: t.RequiresHandover,
	}
}

func toInstanceRow(s models.ShiftInstance) instanceRow {
	row := instanceRow{
		ID:         s.ID,
		TemplateID: s.TemplateID,
		TeamID:     s.TeamID,
		Category:   string(s.Category),
		Date:       utc(s.Date),
		Start:      utc(s.Start),
		End:        utc(s.End),
		Status:     string(s.Status),
		Headcount:  s.Headcount,
		Weight:     s.Weight,
		WeekCredit: s.WeekCredit,
	}
	if s.Handover != nil {
		row.HandoverStart = utcPtr(&s.Handover.Start)
		row.HandoverEnd = utcPtr(&s.Handover.End)
	}
	return row
}

func (r *Repository) instanceModel(row instanceRow) models.ShiftInstance {
	s := models.ShiftInstance{
		ID:         row.ID,
		TemplateID: row.TemplateID,
		TeamID:     row.TeamID,
		Category:   models.Category(row.Category),
		Date:       r.local(row.Date),
		Start:      r.local(row.Start),
		End:        r.local(row.End),
		Status:     models.InstanceStatus(row.Status),
		Headcount:  row.Headcount,
		Weight:     row.Weight,
		WeekCredit: row.WeekCredit,
	}
	if row.HandoverStart != nil && row.HandoverEnd != nil {
		s.Handover = &models.Window{Start: r.local(*row.HandoverStart), End: r.local(*row.HandoverEnd)}
	}
	return s
}

func toAssignmentRow(a models.Assignment) assignmentRow {
	return assignmentRow{
		ID:                   a.ID,
		UserID:               a.UserID,
		InstanceID:           a.InstanceID,
		TeamID:               a.TeamID,
		TemplateID:           a.TemplateID,
		Category:             string(a.Category),
		Start:                utc(a.Start),
		End:                  utc(a.End),
		Weight:               a.Weight,
		WeekCredit:           a.WeekCredit,
		Status:               string(a.Status),
		Source:               a.Source,
		Version:              a.Version,
		AssignedAt:           utc(a.AssignedAt),
		ConfirmationDeadline: utc(a.ConfirmationDeadline),
		ConfirmedAt:          utcPtr(a.ConfirmedAt),
		CompletedAt:          utcPtr(a.CompletedAt),
		CancelledAt:          utcPtr(a.CancelledAt),
	}
}

func (r *Repository) assignmentModel(row assignmentRow) models.Assignment {
	return models.Assignment{
		ID:                   row.ID,
		UserID:               row.UserID,
		InstanceID:           row.InstanceID,
		TeamID:               row.TeamID,
		TemplateID:           row.TemplateID,
		Category:             models.Category(row.Category),
		Start:                r.local(row.Start),
		End:                  r.local(row.End),
		Weight:               row.Weight,
		WeekCredit:           row.WeekCredit,
		Status:               models.AssignmentStatus(row.Status),
		Source:               row.Source,
		Version:              row.Version,
		AssignedAt:           r.local(row.AssignedAt),
		ConfirmationDeadline: r.local(row.ConfirmationDeadline),
		ConfirmedAt:          r.localPtr(row.ConfirmedAt),
		CompletedAt:          r.localPtr(row.CompletedAt),
		CancelledAt:          r.localPtr(row.CancelledAt),
	}
}

func toSwapRow(s models.SwapRequest) swapRow {
	return swapRow{
		ID:                 s.ID,
		RequesterID:        s.RequesterID,
		TargetUserID:       s.TargetUserID,
		SourceAssignmentID: s.SourceAssignmentID,
		TargetAssignmentID: s.TargetAssignmentID,
		TargetInstanceID:   s.TargetInstanceID,
		Status:             string(s.Status),
		Reason:             s.Reason,
		Note:               s.Note,
		RequestedAt:        utc(s.RequestedAt),
		ExpiresAt:          utc(s.ExpiresAt),
		ResolvedAt:         utcPtr(s.ResolvedAt),
		Version:            s.Version,
	}
}

func (r *Repository) swapModel(row swapRow) models.SwapRequest {
	return models.SwapRequest{
		ID:                 row.ID,
		RequesterID:        row.RequesterID,
		TargetUserID:       row.TargetUserID,
		SourceAssignmentID: row.SourceAssignmentID,
		TargetAssignmentID: row.TargetAssignmentID,
		TargetInstanceID:   row.TargetInstanceID,
		Status:             models.SwapStatus(row.Status),
		Reason:             row.Reason,
		Note:               row.Note,
		RequestedAt:        r.local(row.RequestedAt),
		ExpiresAt:          r.local(row.ExpiresAt),
		ResolvedAt:         r.localPtr(row.ResolvedAt),
		Version:            row.Version,
	}
}

func toGapRow(g models.CoverageGap) gapRow {
	return gapRow{
		ID:         g.ID,
		InstanceID: g.InstanceID,
		TeamID:     g.TeamID,
		Category:   string(g.Category),
		Segment:    g.Segment,
		Start:      utc(g.Start),
		End:        utc(g.End),
		Required:   g.Required,
		Assigned:   g.Assigned,
		Shortfall:  g.Shortfall,
		DetectedAt: utc(g.DetectedAt),
	}
}

func (r *Repository) gapModel(row gapRow) models.CoverageGap {
	return models.CoverageGap{
		ID:         row.ID,
		InstanceID: row.InstanceID,
		TeamID:     row.TeamID,
		Category:   models.Category(row.Category),
		Segment:    row.Segment,
		Start:      r.local(row.Start),
		End:        r.local(row.End),
		Required:   row.Required,
		Assigned:   row.Assigned,
		Shortfall:  row.Shortfall,
		DetectedAt: r.local(row.DetectedAt),
	}
}

func toConflictRow(c models.ConflictRecord) conflictRow {
	return conflictRow{
		ID:                   c.ID,
		UserID:               c.UserID,
		ExistingAssignmentID: c.ExistingAssignmentID,
		InstanceID:           c.InstanceID,
		TeamID:               c.TeamID,
		OverlapStart:         utc(c.OverlapStart),
		OverlapEnd:           utc(c.OverlapEnd),
		DetectedAt:           utc(c.DetectedAt),
	}
}

func toHistoryRow(h models.AssignmentHistory) historyRow {
	return historyRow{
		ID:             h.ID,
		AssignmentID:   h.AssignmentID,
		Action:         string(h.Action),
		UserID:         h.UserID,
		PreviousUserID: h.PreviousUserID,
		PreviousStatus: string(h.PreviousStatus),
		NewStatus:      string(h.NewStatus),
		SwapRequestID:  h.SwapRequestID,
		At:             utc(h.At),
	}
}

func (r *Repository) historyModel(row historyRow) models.AssignmentHistory {
	return models.AssignmentHistory{
		ID:             row.ID,
		AssignmentID:   row.AssignmentID,
		Action:         models.HistoryAction(row.Action),
		UserID:         row.UserID,
		PreviousUserID: row.PreviousUserID,
		PreviousStatus: models.AssignmentStatus(row.PreviousStatus),
		NewStatus:      models.AssignmentStatus(row.NewStatus),
		SwapRequestID:  row.SwapRequestID,
		At:             r.local(row.At),
	}
}

func toRunRow(run models.PlanningRun) runRow {
	return runRow{
		ID:             run.ID,
		TeamID:         run.TeamID,
		PeriodFrom:     utc(run.Period.From),
		PeriodTo:       utc(run.Period.To),
		Filled:         run.Filled,
		Unfilled:       run.Unfilled,
		NewAssignments: run.NewAssignments,
		Gaps:           run.Gaps,
		Conflicts:      run.Conflicts,
		StartedAt:      utc(run.StartedAt),
		FinishedAt:     utc(run.FinishedAt),
	}
}

func (r *Repository) runModel(row runRow) models.PlanningRun {
	return models.PlanningRun{
		ID:             row.ID,
		TeamID:         row.TeamID,
		Period:         models.Period{From: r.local(row.PeriodFrom), To: r.local(row.PeriodTo)},
		Filled:         row.Filled,
		Unfilled:       row.Unfilled,
		NewAssignments: row.NewAssignments,
		Gaps:           row.Gaps,
		Conflicts:      row.Conflicts,
		StartedAt:      r.local(row.StartedAt),
		FinishedAt:     r.local(row.FinishedAt),
	}
}
