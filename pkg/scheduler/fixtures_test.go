package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arnavshah/shift-planner/pkg/models"
	"github.com/arnavshah/shift-planner/pkg/store"
)

var (
	// monday is the first day of the planning weeks used in tests
	monday     = time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC)
	clockStart = time.Date(2026, time.January, 1, 12, 0, 0, 0, time.UTC)
)

func week(n int) models.Period {
	from := monday.AddDate(0, 0, 7*n)
	return models.Period{From: from, To: from.AddDate(0, 0, 7)}
}

func weeks(n, count int) models.Period {
	from := monday.AddDate(0, 0, 7*n)
	return models.Period{From: from, To: from.AddDate(0, 0, 7*count)}
}

func day(offset int) time.Time {
	return monday.AddDate(0, 0, offset)
}

func testSkills() []models.Skill {
	return []models.Skill{
		{ID: "oncall", Name: "On-call", Category: models.CategoryWaakdienst, MinProficiency: models.ProficiencyBasic, RequiresCertification: true, Weight: 1},
		{ID: "incident", Name: "Incident response", Category: models.CategoryIncident, Weight: 1},
		{ID: "changes", Name: "Change work", Category: models.CategoryChanges, Weight: 0},
	}
}

func catalog() models.SkillCatalog {
	c := make(models.SkillCatalog)
	for _, s := range testSkills() {
		c[s.ID] = s
	}
	return c
}

// rotationHours is the length of one waakdienst rotation, Wednesday 08:00 to
// the next Wednesday 17:00
const rotationHours = 177

func engineer(id string, waakWeeks float64, p models.Proficiency) *models.User {
	return &models.User{
		ID:   id,
		Name: id,
		Role: "engineer",
		Skills: []models.UserSkill{
			{SkillID: "oncall", Proficiency: p, Certified: true},
			{SkillID: "incident", Proficiency: p},
			{SkillID: "changes", Proficiency: p},
		},
		YTD: map[models.Category]models.Counters{
			models.CategoryWaakdienst: {Weeks: waakWeeks, Hours: waakWeeks * rotationHours},
		},
	}
}

func waakdienstTemplate(teamID string) models.ShiftTemplate {
	return models.ShiftTemplate{
		ID:               teamID + "-waakdienst",
		TeamID:           teamID,
		Name:             "Waakdienst",
		Category:         models.CategoryWaakdienst,
		Active:           true,
		Recurrence:       models.Recurrence{Kind: models.RecurrenceWeekly, Weekdays: []time.Weekday{time.Wednesday}},
		RequiredSkills:   []models.SkillRequirement{{SkillID: "oncall", MinProficiency: models.ProficiencyBasic}},
		Headcount:        1,
		RequiresHandover: true,
	}
}

func dailyTemplate(id, teamID, start, end, skill string, headcount int) models.ShiftTemplate {
	cat := models.CategoryIncident
	if skill == "changes" {
		cat = models.CategoryChanges
	}
	return models.ShiftTemplate{
		ID:             id,
		TeamID:         teamID,
		Name:           id,
		Category:       cat,
		Active:         true,
		StartTime:      start,
		EndTime:        end,
		Recurrence:     models.Recurrence{Kind: models.RecurrenceDaily},
		RequiredSkills: []models.SkillRequirement{{SkillID: skill}},
		Headcount:      headcount,
	}
}

// businessWeekTemplate is a Monday 09:00 to Friday 17:00 incident week
func businessWeekTemplate(id, teamID string) models.ShiftTemplate {
	return models.ShiftTemplate{
		ID:             id,
		TeamID:         teamID,
		Name:           id,
		Category:       models.CategoryIncident,
		Active:         true,
		StartTime:      "09:00",
		EndTime:        "17:00",
		SpanDays:       4,
		Recurrence:     models.Recurrence{Kind: models.RecurrenceWeekly, Weekdays: []time.Weekday{time.Monday}},
		RequiredSkills: []models.SkillRequirement{{SkillID: "incident"}},
		Headcount:      1,
	}
}

type fixture struct {
	t    *testing.T
	repo *store.Memory
	p    *Planner
	now  time.Time
}

func newFixture(t *testing.T, teamID string, users ...*models.User) *fixture {
	t.Helper()
	f := &fixture{t: t, repo: store.NewMemory(), now: clockStart}
	for _, s := range testSkills() {
		f.repo.PutSkill(s)
	}
	f.addTeam(teamID, users...)
	f.p = f.planner(f.repo)
	return f
}

// planner creates a planner on repo sharing the fixture's clock but not its
// critical sections, like a second process would
func (f *fixture) planner(repo store.Repository) *Planner {
	return New(repo, Policy{
		Location:        time.UTC,
		LockAttempts:    50,
		LockBackoffBase: time.Millisecond,
		LockBackoffCap:  5 * time.Millisecond,
	}, WithClock(func() time.Time { return f.now }))
}

func (f *fixture) addTeam(teamID string, users ...*models.User) {
	team := &models.Team{ID: teamID, Name: teamID, Active: true}
	for _, u := range users {
		if _, exists := f.repo.User(u.ID); !exists {
			f.repo.PutUser(u)
		}
		team.Memberships = append(team.Memberships, models.Membership{UserID: u.ID, Role: "member", Active: true})
	}
	f.repo.PutTeam(team)
}

// instance expands tmpl on the given day and stores the template and instance
func (f *fixture) instance(tmpl models.ShiftTemplate, d time.Time) models.ShiftInstance {
	f.t.Helper()
	f.repo.PutTemplate(tmpl)
	out, err := Expand(tmpl, models.Period{From: d, To: d.AddDate(0, 0, 1)}, catalog(), DefaultPolicy().Handover, time.UTC)
	require.NoError(f.t, err)
	require.Len(f.t, out, 1)
	f.repo.PutInstance(out[0])
	return out[0]
}

// assign stores an assignment of userID to inst in the given status
func (f *fixture) assign(id, userID string, inst models.ShiftInstance, status models.AssignmentStatus) models.Assignment {
	a := models.Assignment{
		ID:                   id,
		UserID:               userID,
		InstanceID:           inst.ID,
		TeamID:               inst.TeamID,
		TemplateID:           inst.TemplateID,
		Category:             inst.Category,
		Start:                inst.Start,
		End:                  inst.End,
		Weight:               inst.Weight,
		WeekCredit:           inst.WeekCredit,
		Status:               status,
		Source:               models.SourcePlanner,
		Version:              1,
		AssignedAt:           clockStart,
		ConfirmationDeadline: clockStart.Add(72 * time.Hour),
	}
	if status == models.AssignmentConfirmed || status == models.AssignmentCompleted {
		confirmed := clockStart
		a.ConfirmedAt = &confirmed
	}
	f.repo.PutAssignment(a)
	return a
}

func (f *fixture) assignment(id string) models.Assignment {
	f.t.Helper()
	a, err := f.repo.GetAssignment(context.Background(), id)
	require.NoError(f.t, err)
	return *a
}

func (f *fixture) ytd(userID string, cat models.Category) models.Counters {
	f.t.Helper()
	u, ok := f.repo.User(userID)
	require.True(f.t, ok)
	return u.YTD[cat]
}

// occupying returns the user's occupying assignments
func (f *fixture) occupying(userID string) []models.Assignment {
	var out []models.Assignment
	for _, a := range f.repo.Assignments() {
		if a.UserID == userID && a.Status.Occupies() {
			out = append(out, a)
		}
	}
	return out
}

// requireNoDoubleBooking fails when any user holds two overlapping
// occupying assignments
func requireNoDoubleBooking(t *testing.T, repo *store.Memory) {
	t.Helper()
	byUser := make(map[string][]models.Assignment)
	for _, a := range repo.Assignments() {
		if a.Status.Occupies() {
			byUser[a.UserID] = append(byUser[a.UserID], a)
		}
	}
	for user, as := range byUser {
		for i := range as {
			for j := i + 1; j < len(as); j++ {
				require.Falsef(t, as[i].Window().Overlaps(as[j].Window()),
					"user %s double-booked: %s and %s", user, as[i].ID, as[j].ID)
			}
		}
	}
}
