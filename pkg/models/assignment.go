package models

import "time"

// AssignmentStatus is the lifecycle state of an assignment
type AssignmentStatus string

const (
	AssignmentProposed  AssignmentStatus = "proposed"
	AssignmentConfirmed AssignmentStatus = "confirmed"
	AssignmentRejected  AssignmentStatus = "rejected"
	AssignmentCancelled AssignmentStatus = "cancelled"
	AssignmentCompleted AssignmentStatus = "completed"
)

// Occupies reports whether an assignment in this status blocks the user's time
func (s AssignmentStatus) Occupies() bool {
	return s == AssignmentProposed || s == AssignmentConfirmed || s == AssignmentCompleted
}

// Counted reports whether an assignment in this status is part of the YTD ledger
func (s AssignmentStatus) Counted() bool {
	return s == AssignmentConfirmed || s == AssignmentCompleted
}

// Assignment sources
const (
	SourcePlanner = "planner"
	SourceSwap    = "swap"
)

// Assignment pairs a user with a shift instance. The instance window and
// ledger attributes are denormalized so conflict checks and ledger deltas
// need no extra lookups.
type Assignment struct {
	ID                   string           `json:"id"`
	UserID               string           `json:"user_id"`
	InstanceID           string           `json:"instance_id"`
	TeamID               string           `json:"team_id"`
	TemplateID           string           `json:"template_id"`
	Category             Category         `json:"category"`
	Start                time.Time        `json:"start"`
	End                  time.Time        `json:"end"`
	Weight               float64          `json:"weight"`
	WeekCredit           float64          `json:"week_credit"`
	Status               AssignmentStatus `json:"status"`
	Source               string           `json:"source"`
	Version              int              `json:"version"`
	AssignedAt           time.Time        `json:"assigned_at"`
	ConfirmationDeadline time.Time        `json:"confirmation_deadline"`
	ConfirmedAt          *time.Time       `json:"confirmed_at,omitempty"`
	CompletedAt          *time.Time       `json:"completed_at,omitempty"`
	CancelledAt          *time.Time       `json:"cancelled_at,omitempty"`
}

// Window returns the assignment's time window
func (a Assignment) Window() Window {
	return Window{Start: a.Start, End: a.End}
}

// LedgerAmount is what the assignment contributes to the YTD ledger while
// counted
func (a Assignment) LedgerAmount() Counters {
	if a.Weight <= 0 {
		return Counters{}
	}
	return Counters{Weeks: a.Weight * a.WeekCredit, Hours: a.Window().Hours()}
}

// HistoryAction is what happened to an assignment
type HistoryAction string

const (
	HistoryCreated   HistoryAction = "created"
	HistoryConfirmed HistoryAction = "confirmed"
	HistoryDeclined  HistoryAction = "declined"
	HistoryCompleted HistoryAction = "completed"
	HistoryCancelled HistoryAction = "cancelled"
	HistorySwapped   HistoryAction = "swapped"
	HistoryExpired   HistoryAction = "expired"
)

// AssignmentHistory is one audit trail entry of an assignment. Entries are
// append-only and committed together with the change they describe.
type AssignmentHistory struct {
	ID             string           `json:"id"`
	AssignmentID   string           `json:"assignment_id"`
	Action         HistoryAction    `json:"action"`
	UserID         string           `json:"user_id"`
	PreviousUserID string           `json:"previous_user_id,omitempty"`
	PreviousStatus AssignmentStatus `json:"previous_status,omitempty"`
	NewStatus      AssignmentStatus `json:"new_status"`
	SwapRequestID  string           `json:"swap_request_id,omitempty"`
	At             time.Time        `json:"at"`
}

// SwapStatus is the state of a swap request
type SwapStatus string

const (
	SwapPending  SwapStatus = "pending"
	SwapAccepted SwapStatus = "accepted"
	SwapRejected SwapStatus = "rejected"
	SwapExpired  SwapStatus = "expired"
)

// SwapKind is derived from which targets a request names
type SwapKind string

const (
	SwapDirect    SwapKind = "direct"
	SwapGiveaway  SwapKind = "giveaway"
	SwapOpenShift SwapKind = "open_shift"
	SwapInvalid   SwapKind = "invalid"
)

// SwapRequest asks to move the requester's source assignment to another user
// or onto an open shift
type SwapRequest struct {
	ID                 string     `json:"id"`
	RequesterID        string     `json:"requester_id"`
	TargetUserID       string     `json:"target_user_id,omitempty"`
	SourceAssignmentID string     `json:"source_assignment_id"`
	TargetAssignmentID string     `json:"target_assignment_id,omitempty"`
	TargetInstanceID   string     `json:"target_instance_id,omitempty"`
	Status             SwapStatus `json:"status"`
	Reason             string     `json:"reason,omitempty"`
	Note               string     `json:"note,omitempty"`
	RequestedAt        time.Time  `json:"requested_at"`
	ExpiresAt          time.Time  `json:"expires_at"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
	Version            int        `json:"version"`
}

// Kind classifies the request by the targets it names
func (r SwapRequest) Kind() SwapKind {
	switch {
	case r.TargetUserID != "" && r.TargetAssignmentID != "" && r.TargetInstanceID == "":
		return SwapDirect
	case r.TargetUserID != "" && r.TargetAssignmentID == "" && r.TargetInstanceID == "":
		return SwapGiveaway
	case r.TargetUserID == "" && r.TargetAssignmentID == "" && r.TargetInstanceID != "":
		return SwapOpenShift
	default:
		return SwapInvalid
	}
}

// ExpiredAt reports whether the request is past its expiry at now
func (r SwapRequest) ExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
