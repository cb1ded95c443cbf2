package scheduler

import (
	"time"

	"github.com/arnavshah/shift-planner/pkg/models"
)

// Handover is the fixed mid-week window in which two week-long rotations
// overlap. Start and End are "HH:MM" wall-clock times on Weekday.
type Handover struct {
	Weekday time.Weekday
	Start   string
	End     string
}

// Policy holds the tunables of the planning core
type Policy struct {
	Location           *time.Location
	ConfirmationWindow time.Duration
	SwapTTL            time.Duration
	Workers            int
	LockAttempts       int
	LockBackoffBase    time.Duration
	LockBackoffCap     time.Duration
	// ContextDays pads snapshot reads and fresh per-user reads so rest-hour,
	// consecutive-day and handover checks see neighbouring shifts.
	ContextDays int
	Caps        map[models.Category]float64
	Handover    Handover
}

// DefaultPolicy returns the production defaults
func DefaultPolicy() Policy {
	return Policy{
		Location:           time.UTC,
		ConfirmationWindow: 72 * time.Hour,
		SwapTTL:            48 * time.Hour,
		Workers:            4,
		LockAttempts:       8,
		LockBackoffBase:    5 * time.Millisecond,
		LockBackoffCap:     200 * time.Millisecond,
		ContextDays:        14,
		Caps: map[models.Category]float64{
			models.CategoryWaakdienst: 52,
			models.CategoryIncident:   52,
		},
		Handover: Handover{Weekday: time.Wednesday, Start: "08:00", End: "17:00"},
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Location == nil {
		p.Location = d.Location
	}
	if p.ConfirmationWindow <= 0 {
		p.ConfirmationWindow = d.ConfirmationWindow
	}
	if p.SwapTTL <= 0 {
		p.SwapTTL = d.SwapTTL
	}
	if p.Workers <= 0 {
		p.Workers = d.Workers
	}
	if p.LockAttempts <= 0 {
		p.LockAttempts = d.LockAttempts
	}
	if p.LockBackoffBase <= 0 {
		p.LockBackoffBase = d.LockBackoffBase
	}
	if p.LockBackoffCap <= 0 {
		p.LockBackoffCap = d.LockBackoffCap
	}
	if p.ContextDays <= 0 {
		p.ContextDays = d.ContextDays
	}
	if p.Caps == nil {
		p.Caps = d.Caps
	}
	if p.Handover.Start == "" || p.Handover.End == "" {
		p.Handover = d.Handover
	}
	return p
}
