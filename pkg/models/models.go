package models

import (
	"strings"
	"time"
)

// Category identifies a kind of shift work. Categories are plain data so new
// ones can be introduced without code changes.
type Category string

// Well-known categories. Only the first two are capped by default.
const (
	CategoryWaakdienst Category = "waakdienst"
	CategoryIncident   Category = "incident"
	CategoryChanges    Category = "changes"
	CategoryProjects   Category = "projects"
)

// Normalize lower-cases and trims a category name
func (c Category) Normalize() Category {
	return Category(strings.ToLower(strings.TrimSpace(string(c))))
}

// Proficiency is an ordered skill level, learning < basic < ... < expert
type Proficiency int

const (
	ProficiencyLearning Proficiency = iota
	ProficiencyBasic
	ProficiencyIntermediate
	ProficiencyAdvanced
	ProficiencyExpert
)

var proficiencyNames = []string{"learning", "basic", "intermediate", "advanced", "expert"}

// String returns the level name
func (p Proficiency) String() string {
	if p < 0 || int(p) >= len(proficiencyNames) {
		return "unknown"
	}
	return proficiencyNames[p]
}

// ParseProficiency maps a level name to its Proficiency
func ParseProficiency(s string) (Proficiency, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range proficiencyNames {
		if name == s {
			return Proficiency(i), true
		}
	}
	return 0, false
}

// Skill is a configurable skill record. Weight is the load-balancing
// multiplier: 0 keeps the skill's shifts out of fairness and the YTD ledger.
type Skill struct {
	ID                    string      `json:"id"`
	Name                  string      `json:"name"`
	Category              Category    `json:"category"`
	MinProficiency        Proficiency `json:"min_proficiency"`
	RequiresCertification bool        `json:"requires_certification"`
	Weight                float64     `json:"weight"`
}

// SkillCatalog is the run-time lookup table of skills keyed by id
type SkillCatalog map[string]Skill

// Lookup returns the skill with the given id
func (c SkillCatalog) Lookup(id string) (Skill, bool) {
	s, ok := c[id]
	return s, ok
}

// Weight returns the load-balancing weight of a skill. Unknown skills and
// negative weights are treated as 0.
func (c SkillCatalog) Weight(id string) float64 {
	s, ok := c[id]
	if !ok || s.Weight < 0 {
		return 0
	}
	return s.Weight
}

// UserSkill is a skill held by a user
type UserSkill struct {
	SkillID        string      `json:"skill_id"`
	Proficiency    Proficiency `json:"proficiency"`
	Certified      bool        `json:"certified"`
	CertifiedUntil *time.Time  `json:"certified_until,omitempty"`
}

// CertifiedOn reports whether the certification is valid on the given day
func (s UserSkill) CertifiedOn(day time.Time) bool {
	if !s.Certified {
		return false
	}
	if s.CertifiedUntil == nil {
		return true
	}
	return !s.CertifiedUntil.Before(day)
}

// Counters are the year-to-date workload counters of one category
type Counters struct {
	Weeks float64 `json:"weeks"`
	Hours float64 `json:"hours"`
}

// Add returns the sum of two counters
func (c Counters) Add(o Counters) Counters {
	return Counters{Weeks: c.Weeks + o.Weeks, Hours: c.Hours + o.Hours}
}

// Neg returns the counters with flipped sign
func (c Counters) Neg() Counters {
	return Counters{Weeks: -c.Weeks, Hours: -c.Hours}
}

// IsZero reports whether both counters are zero
func (c Counters) IsZero() bool {
	return c.Weeks == 0 && c.Hours == 0
}

// DateRange is an inclusive range of calendar days
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether the calendar day of t lies in the range
func (r DateRange) Contains(t time.Time) bool {
	d := DayOf(t)
	return !d.Before(DayOf(r.From)) && !d.After(DayOf(r.To))
}

// Availability holds a user's weekly pattern and blackout ranges. An empty
// Weekdays list means every weekday is available.
type Availability struct {
	Weekdays  []time.Weekday `json:"weekdays,omitempty"`
	Blackouts []DateRange    `json:"blackouts,omitempty"`
}

// AvailableOn reports whether the weekly pattern allows the given day
func (a Availability) AvailableOn(day time.Time) bool {
	if len(a.Weekdays) == 0 {
		return true
	}
	for _, wd := range a.Weekdays {
		if wd == day.Weekday() {
			return true
		}
	}
	return false
}

// BlackedOut reports whether the given day falls in a blackout range
func (a Availability) BlackedOut(day time.Time) bool {
	for _, r := range a.Blackouts {
		if r.Contains(day) {
			return true
		}
	}
	return false
}

// Limits are the hard working-time limits of a user. Zero disables a limit.
type Limits struct {
	MaxConsecutiveDays int     `json:"max_consecutive_days"`
	MinRestHours       float64 `json:"min_rest_hours"`
}

// User is an engineer that can be assigned to shifts
type User struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	Role         string                `json:"role"`
	Archived     bool                  `json:"archived"`
	Skills       []UserSkill           `json:"skills"`
	YTD          map[Category]Counters `json:"ytd"`
	Availability Availability          `json:"availability"`
	Limits       Limits                `json:"limits"`
}

// Skill returns the user's record for a skill id
func (u *User) Skill(id string) (UserSkill, bool) {
	for _, s := range u.Skills {
		if s.SkillID == id {
			return s, true
		}
	}
	return UserSkill{}, false
}

// Membership links a user to a team
type Membership struct {
	UserID string     `json:"user_id"`
	Role   string     `json:"role"`
	Active bool       `json:"active"`
	From   *time.Time `json:"from,omitempty"`
	Until  *time.Time `json:"until,omitempty"`
}

// Covers reports whether the membership is active on the given day
func (m Membership) Covers(day time.Time) bool {
	if !m.Active {
		return false
	}
	d := DayOf(day)
	if m.From != nil && d.Before(DayOf(*m.From)) {
		return false
	}
	if m.Until != nil && d.After(DayOf(*m.Until)) {
		return false
	}
	return true
}

// Team groups users and owns a set of shift templates
type Team struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Active      bool         `json:"active"`
	Memberships []Membership `json:"memberships"`
}

// Membership returns the membership of a user in the team
func (t *Team) Membership(userID string) (Membership, bool) {
	for _, m := range t.Memberships {
		if m.UserID == userID {
			return m, true
		}
	}
	return Membership{}, false
}

// MemberIDs returns the ids of all active members
func (t *Team) MemberIDs() []string {
	ids := make([]string, 0, len(t.Memberships))
	for _, m := range t.Memberships {
		if m.Active {
			ids = append(ids, m.UserID)
		}
	}
	return ids
}

// DayOf truncates t to midnight of its calendar day in t's location
func DayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
