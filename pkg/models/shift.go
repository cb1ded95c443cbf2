package models

import "time"

// RecurrenceKind selects how a template repeats
type RecurrenceKind string

const (
	RecurrenceDaily      RecurrenceKind = "daily"
	RecurrenceWeekly     RecurrenceKind = "weekly"
	RecurrenceDaysOfWeek RecurrenceKind = "days_of_week"
)

// Recurrence describes on which days a template produces an instance. Weekly
// recurrences use exactly one weekday as the anchor.
type Recurrence struct {
	Kind     RecurrenceKind `json:"kind"`
	Weekdays []time.Weekday `json:"weekdays,omitempty"`
}

// SkillRequirement is a skill a template needs at a minimum level
type SkillRequirement struct {
	SkillID        string      `json:"skill_id"`
	MinProficiency Proficiency `json:"min_proficiency"`
}

// ShiftTemplate is a recurring shift definition owned by a team.
//
// StartTime and EndTime are "HH:MM" wall-clock times. SpanDays is the number
// of days after the anchor day on which the shift ends; with SpanDays 0 an
// EndTime at or before StartTime ends on the next day. Templates with
// RequiresHandover run week-long from the handover day and overlap the next
// rotation during the handover window.
type ShiftTemplate struct {
	ID               string             `json:"id"`
	TeamID           string             `json:"team_id"`
	Name             string             `json:"name"`
	Category         Category           `json:"category"`
	Active           bool               `json:"active"`
	StartTime        string             `json:"start_time"`
	EndTime          string             `json:"end_time"`
	SpanDays         int                `json:"span_days"`
	Recurrence       Recurrence         `json:"recurrence"`
	RequiredSkills   []SkillRequirement `json:"required_skills"`
	Headcount        int                `json:"headcount"`
	RequiresHandover bool               `json:"requires_handover"`
}

// InstanceStatus is the lifecycle state of a shift instance
type InstanceStatus string

const (
	InstanceScheduled InstanceStatus = "scheduled"
	InstanceConfirmed InstanceStatus = "confirmed"
	InstanceCancelled InstanceStatus = "cancelled"
	InstanceCompleted InstanceStatus = "completed"
)

// Window is a half-open time interval [Start, End)
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether two half-open windows intersect
func (w Window) Overlaps(o Window) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// Covers reports whether w fully contains o
func (w Window) Covers(o Window) bool {
	return !w.Start.After(o.Start) && !w.End.Before(o.End)
}

// Hours returns the window length in hours
func (w Window) Hours() float64 {
	return w.End.Sub(w.Start).Hours()
}

// Days returns every calendar day the window touches
func (w Window) Days() []time.Time {
	if !w.End.After(w.Start) {
		return []time.Time{DayOf(w.Start)}
	}
	var days []time.Time
	last := DayOf(w.End.Add(-time.Nanosecond))
	for d := DayOf(w.Start); !d.After(last); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// ShiftInstance is one concrete occurrence of a template
type ShiftInstance struct {
	ID         string         `json:"id"`
	TemplateID string         `json:"template_id"`
	TeamID     string         `json:"team_id"`
	Category   Category       `json:"category"`
	Date       time.Time      `json:"date"`
	Start      time.Time      `json:"start"`
	End        time.Time      `json:"end"`
	Status     InstanceStatus `json:"status"`
	Headcount  int            `json:"headcount"`
	// Handover is the window at the start of the instance that overlaps the
	// previous rotation. Nil for templates without a handover.
	Handover *Window `json:"handover,omitempty"`
	// Weight is the category weight resolved from the skill catalog at
	// expansion time; WeekCredit the ledger weeks one assignment is worth
	// before weighting.
	Weight     float64 `json:"weight"`
	WeekCredit float64 `json:"week_credit"`
}

// Window returns the instance's time window
func (s ShiftInstance) Window() Window {
	return Window{Start: s.Start, End: s.End}
}

// LedgerAmount is what one confirmed assignment of this instance adds to the
// YTD ledger. Zero-weight categories never add anything.
func (s ShiftInstance) LedgerAmount() Counters {
	if s.Weight <= 0 {
		return Counters{}
	}
	return Counters{Weeks: s.Weight * s.WeekCredit, Hours: s.Window().Hours()}
}
