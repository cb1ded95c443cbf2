package scheduler

import (
	"sort"
	"time"

	"github.com/arnavshah/shift-planner/pkg/models"
)

// Candidate is a user that passed the eligibility filter for one instance
type Candidate struct {
	User *models.User
	// Proficiency is the user's weakest level across the required skills
	Proficiency models.Proficiency
	// Certified is set when the user holds a valid certification for every
	// required skill
	Certified bool
}

// Request bundles what the eligibility filter evaluates against
type Request struct {
	Instance models.ShiftInstance
	Template models.ShiftTemplate
	Team     *models.Team
	Skills   models.SkillCatalog
}

// CheckUser runs every eligibility rule for one user. existing are the
// user's assignments around the instance; overlapping ones are left to the
// conflict detector.
func CheckUser(req Request, u *models.User, existing []models.Assignment) (Candidate, error) {
	inst := req.Instance
	if u.Archived {
		return Candidate{}, invalid(ReasonArchived, "user %s is archived", u.ID)
	}
	ms, ok := req.Team.Membership(u.ID)
	if !ok || !ms.Covers(inst.Date) {
		return Candidate{}, invalid(ReasonNotMember, "user %s is not an active member of team %s on %s", u.ID, req.Team.ID, inst.Date.Format(time.DateOnly))
	}

	c := Candidate{User: u, Proficiency: models.ProficiencyExpert, Certified: len(req.Template.RequiredSkills) > 0}
	if len(req.Template.RequiredSkills) == 0 {
		c.Proficiency = models.ProficiencyLearning
	}
	for _, r := range req.Template.RequiredSkills {
		need := r.MinProficiency
		skill, known := req.Skills.Lookup(r.SkillID)
		if known && skill.MinProficiency > need {
			need = skill.MinProficiency
		}
		held, ok := u.Skill(r.SkillID)
		if !ok || held.Proficiency < need {
			return Candidate{}, invalid(ReasonMissingSkill, "user %s lacks %s at %s", u.ID, r.SkillID, need)
		}
		certified := held.CertifiedOn(inst.Date)
		if known && skill.RequiresCertification && !certified {
			return Candidate{}, invalid(ReasonMissingSkill, "user %s has no valid %s certification on %s", u.ID, r.SkillID, inst.Date.Format(time.DateOnly))
		}
		if held.Proficiency < c.Proficiency {
			c.Proficiency = held.Proficiency
		}
		c.Certified = c.Certified && certified
	}

	w := inst.Window()
	for _, day := range w.Days() {
		if u.Availability.BlackedOut(day) {
			return Candidate{}, invalid(ReasonBlackedOut, "user %s is blacked out on %s", u.ID, day.Format(time.DateOnly))
		}
	}
	if !u.Availability.AvailableOn(inst.Date) {
		return Candidate{}, invalid(ReasonUnavailable, "user %s does not work on %s", u.ID, inst.Date.Weekday())
	}

	if err := checkLimits(u, w, existing); err != nil {
		return Candidate{}, err
	}
	return c, nil
}

// checkLimits enforces the consecutive-day and rest-hour limits
func checkLimits(u *models.User, w models.Window, existing []models.Assignment) error {
	if maxDays := u.Limits.MaxConsecutiveDays; maxDays > 0 {
		if run := consecutiveRun(w, existing); run > maxDays {
			return invalid(ReasonConsecutiveDays, "user %s would work %d consecutive days (max %d)", u.ID, run, maxDays)
		}
	}
	if minRest := u.Limits.MinRestHours; minRest > 0 {
		for _, a := range existing {
			if !a.Status.Occupies() || a.Window().Overlaps(w) {
				continue
			}
			var gap time.Duration
			if !a.End.After(w.Start) {
				gap = w.Start.Sub(a.End)
			} else {
				gap = a.Start.Sub(w.End)
			}
			if gap.Hours() < minRest {
				return invalid(ReasonRestHours, "user %s would rest %.1fh between shifts (min %.1fh)", u.ID, gap.Hours(), minRest)
			}
		}
	}
	return nil
}

// consecutiveRun is the length of the run of worked days containing w.
// Days are taken in w's location.
func consecutiveRun(w models.Window, existing []models.Assignment) int {
	loc := w.Start.Location()
	worked := make(map[string]bool)
	for _, a := range existing {
		if !a.Status.Occupies() {
			continue
		}
		aw := models.Window{Start: a.Start.In(loc), End: a.End.In(loc)}
		for _, d := range aw.Days() {
			worked[d.Format(time.DateOnly)] = true
		}
	}
	days := w.Days()
	for _, d := range days {
		worked[d.Format(time.DateOnly)] = true
	}
	run := len(days)
	for d := days[0].AddDate(0, 0, -1); worked[d.Format(time.DateOnly)]; d = d.AddDate(0, 0, -1) {
		run++
	}
	for d := days[len(days)-1].AddDate(0, 0, 1); worked[d.Format(time.DateOnly)]; d = d.AddDate(0, 0, 1) {
		run++
	}
	return run
}

// Eligible returns the team members that may fill the instance, ordered by
// user id, and how many were turned away per reason. Nobody qualifying is
// not an error.
func Eligible(req Request, users map[string]*models.User, history map[string][]models.Assignment) ([]Candidate, map[ReasonCode]int) {
	ids := make([]string, 0, len(req.Team.Memberships))
	for _, ms := range req.Team.Memberships {
		ids = append(ids, ms.UserID)
	}
	sort.Strings(ids)

	var out []Candidate
	rejected := make(map[ReasonCode]int)
	for _, id := range ids {
		u, ok := users[id]
		if !ok {
			continue
		}
		c, err := CheckUser(req, u, history[id])
		if err != nil {
			rejected[ReasonOf(err)]++
			continue
		}
		out = append(out, c)
	}
	return out, rejected
}
