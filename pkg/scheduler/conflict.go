package scheduler

import (
	"time"

	"github.com/arnavshah/shift-planner/pkg/models"
)

// Overlap checks if two half-open time ranges overlap
func Overlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// FindConflict returns the first of the user's occupying assignments whose
// window overlaps w, skipping the ids in ignore. Nil means no conflict.
func FindConflict(existing []models.Assignment, w models.Window, ignore ...string) *models.Assignment {
	for i := range existing {
		a := &existing[i]
		if !a.Status.Occupies() || contains(ignore, a.ID) {
			continue
		}
		if Overlap(a.Start, a.End, w.Start, w.End) {
			return a
		}
	}
	return nil
}

// overlapOf returns the intersection of two overlapping windows
func overlapOf(a, b models.Window) models.Window {
	start, end := a.Start, a.End
	if b.Start.After(start) {
		start = b.Start
	}
	if b.End.Before(end) {
		end = b.End
	}
	return models.Window{Start: start, End: end}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
