package scheduler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arnavshah/shift-planner/pkg/models"
)

// instanceNamespace scopes the name-based ids of shift instances, so the same
// template and date always expand to the same instance id.
var instanceNamespace = uuid.MustParse("5b0f6f1e-3c55-4a7e-9a57-2f1b8c0e6d41")

// InstanceID returns the deterministic id of a template's instance on a day
func InstanceID(templateID string, day time.Time) string {
	return uuid.NewSHA1(instanceNamespace, []byte(templateID+"|"+day.Format("2006-01-02"))).String()
}

// parseClock parses an "HH:MM" wall-clock time
func parseClock(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// at returns the wall-clock time of offset on day, honouring DST shifts
func at(day time.Time, offset time.Duration) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location()).Add(offset)
}

// ValidateTemplate checks a template's recurrence, times and headcount
func ValidateTemplate(t models.ShiftTemplate, h Handover) error {
	if t.ID == "" {
		return invalid(ReasonMalformedTemplate, "template has no id")
	}
	if t.Category.Normalize() == "" {
		return invalid(ReasonMalformedTemplate, "template %s has no category", t.ID)
	}
	if t.Headcount < 1 {
		return invalid(ReasonMalformedTemplate, "template %s needs a headcount of at least 1", t.ID)
	}
	if t.SpanDays < 0 {
		return invalid(ReasonMalformedTemplate, "template %s has negative span", t.ID)
	}
	start, end := t.StartTime, t.EndTime
	if t.RequiresHandover {
		if start == "" {
			start = h.Start
		}
		if end == "" {
			end = h.End
		}
	}
	s, err := parseClock(start)
	if err != nil {
		return invalid(ReasonMalformedTemplate, "template %s start: %v", t.ID, err)
	}
	e, err := parseClock(end)
	if err != nil {
		return invalid(ReasonMalformedTemplate, "template %s end: %v", t.ID, err)
	}
	if t.RequiresHandover && e <= s {
		return invalid(ReasonMalformedTemplate, "template %s handover window must end after it starts", t.ID)
	}

	days := t.Recurrence.Weekdays
	for _, wd := range days {
		if wd < time.Sunday || wd > time.Saturday {
			return invalid(ReasonMalformedRecurrence, "template %s has weekday %d", t.ID, wd)
		}
	}
	switch t.Recurrence.Kind {
	case models.RecurrenceDaily:
		if len(days) > 0 {
			return invalid(ReasonMalformedRecurrence, "template %s: daily recurrence takes no weekdays", t.ID)
		}
	case models.RecurrenceWeekly:
		if len(days) > 1 || (len(days) == 0 && !t.RequiresHandover) {
			return invalid(ReasonMalformedRecurrence, "template %s: weekly recurrence needs exactly one weekday", t.ID)
		}
	case models.RecurrenceDaysOfWeek:
		if len(uniqueWeekdays(days)) == 0 {
			return invalid(ReasonMalformedRecurrence, "template %s: days_of_week recurrence needs weekdays", t.ID)
		}
		if len(uniqueWeekdays(days)) != len(days) {
			return invalid(ReasonMalformedRecurrence, "template %s repeats a weekday", t.ID)
		}
	default:
		return invalid(ReasonMalformedRecurrence, "template %s has unknown recurrence %q", t.ID, t.Recurrence.Kind)
	}
	if t.RequiresHandover && t.Recurrence.Kind != models.RecurrenceWeekly {
		return invalid(ReasonMalformedRecurrence, "template %s: handover needs a weekly recurrence", t.ID)
	}
	return nil
}

func uniqueWeekdays(days []time.Weekday) []time.Weekday {
	seen := make(map[time.Weekday]bool, len(days))
	var out []time.Weekday
	for _, d := range days {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CategoryWeight is the largest catalog weight among the template's required
// skills. Unknown skills weigh 0.
func CategoryWeight(t models.ShiftTemplate, catalog models.SkillCatalog) float64 {
	var w float64
	for _, req := range t.RequiredSkills {
		if sw := catalog.Weight(req.SkillID); sw > w {
			w = sw
		}
	}
	return w
}

// WeekCredit is the ledger weeks one instance of the template is worth
// before weighting
func WeekCredit(t models.ShiftTemplate) float64 {
	switch t.Recurrence.Kind {
	case models.RecurrenceWeekly:
		return 1
	case models.RecurrenceDaysOfWeek:
		if n := len(uniqueWeekdays(t.Recurrence.Weekdays)); n > 0 {
			return 1 / float64(n)
		}
	case models.RecurrenceDaily:
		return 1.0 / 7
	}
	return 0
}

func matches(t models.ShiftTemplate, anchor time.Weekday, day time.Time) bool {
	switch t.Recurrence.Kind {
	case models.RecurrenceDaily:
		return true
	case models.RecurrenceWeekly:
		return day.Weekday() == anchor
	case models.RecurrenceDaysOfWeek:
		for _, wd := range t.Recurrence.Weekdays {
			if wd == day.Weekday() {
				return true
			}
		}
	}
	return false
}

// Expand produces the concrete instances of a template for every calendar
// day in period, in loc. Handover templates run a full week from the anchor
// day's handover start to the next anchor day's handover end, so consecutive
// rotations overlap during the handover window.
func Expand(t models.ShiftTemplate, period models.Period, catalog models.SkillCatalog, h Handover, loc *time.Location) ([]models.ShiftInstance, error) {
	if err := ValidateTemplate(t, h); err != nil {
		return nil, err
	}
	if !period.Valid() {
		return nil, invalid(ReasonInvalidPeriod, "period %s..%s is empty", period.From.Format(time.DateOnly), period.To.Format(time.DateOnly))
	}
	if loc == nil {
		loc = time.UTC
	}

	startTime, endTime := t.StartTime, t.EndTime
	anchor := h.Weekday
	if len(t.Recurrence.Weekdays) == 1 {
		anchor = t.Recurrence.Weekdays[0]
	}
	if t.RequiresHandover {
		if startTime == "" {
			startTime = h.Start
		}
		if endTime == "" {
			endTime = h.End
		}
	}
	startOff, _ := parseClock(startTime)
	endOff, _ := parseClock(endTime)

	weight := CategoryWeight(t, catalog)
	credit := WeekCredit(t)
	category := t.Category.Normalize()

	from := time.Date(period.From.Year(), period.From.Month(), period.From.Day(), 0, 0, 0, 0, loc)
	to := time.Date(period.To.Year(), period.To.Month(), period.To.Day(), 0, 0, 0, 0, loc)

	var out []models.ShiftInstance
	for day := from; day.Before(to); day = day.AddDate(0, 0, 1) {
		if !matches(t, anchor, day) {
			continue
		}
		inst := models.ShiftInstance{
			ID:         InstanceID(t.ID, day),
			TemplateID: t.ID,
			TeamID:     t.TeamID,
			Category:   category,
			Date:       day,
			Status:     models.InstanceScheduled,
			Headcount:  t.Headcount,
			Weight:     weight,
			WeekCredit: credit,
		}
		if t.RequiresHandover {
			inst.Start = at(day, startOff)
			inst.End = at(day.AddDate(0, 0, 7), endOff)
			inst.Handover = &models.Window{Start: inst.Start, End: at(day, endOff)}
		} else {
			inst.Start = at(day, startOff)
			endDay := day.AddDate(0, 0, t.SpanDays)
			inst.End = at(endDay, endOff)
			if t.SpanDays == 0 && !inst.End.After(inst.Start) {
				inst.End = at(day.AddDate(0, 0, 1), endOff)
			}
			if !inst.End.After(inst.Start) {
				return nil, invalid(ReasonMalformedTemplate, "template %s ends before it starts", t.ID)
			}
		}
		out = append(out, inst)
	}
	return out, nil
}

// previousRotation returns the id of the rotation a handover instance takes
// over from
func previousRotation(inst models.ShiftInstance) string {
	return InstanceID(inst.TemplateID, inst.Date.AddDate(0, 0, -7))
}
