package scheduler

import (
	"errors"
	"fmt"
)

// ReasonCode is a stable machine-readable validation failure reason
type ReasonCode string

const (
	ReasonCapExceeded         ReasonCode = "ytd_cap_exceeded"
	ReasonSwapExpired         ReasonCode = "swap_expired"
	ReasonMalformedRecurrence ReasonCode = "malformed_recurrence"
	ReasonMalformedTemplate   ReasonCode = "malformed_template"
	ReasonMissingSkill        ReasonCode = "missing_skill"
	ReasonBlackedOut          ReasonCode = "blacked_out"
	ReasonUnavailable         ReasonCode = "unavailable"
	ReasonConsecutiveDays     ReasonCode = "consecutive_days"
	ReasonRestHours           ReasonCode = "rest_hours"
	ReasonNotMember           ReasonCode = "not_member"
	ReasonArchived            ReasonCode = "archived"
	ReasonConflict            ReasonCode = "conflict"
	ReasonInvalidTransition   ReasonCode = "invalid_transition"
	ReasonNotPending          ReasonCode = "not_pending"
	ReasonInvalidSwap         ReasonCode = "invalid_swap"
	ReasonOpenShiftFull       ReasonCode = "open_shift_full"
	ReasonInstanceFull        ReasonCode = "instance_full"
	ReasonNotFound            ReasonCode = "not_found"
	ReasonInvalidPeriod       ReasonCode = "invalid_period"
)

// ValidationError is a synchronous rejection that was never partially applied
type ValidationError struct {
	Reason ReasonCode
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func invalid(reason ReasonCode, format string, args ...any) error {
	return &ValidationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// ReasonOf returns the reason code of a validation error, or "" for any
// other error
func ReasonOf(err error) ReasonCode {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return ""
}

// ErrContention is returned when a per-user critical section could not be
// entered, or storage kept reporting concurrent modification, within the
// retry budget. Callers retry the whole operation.
var ErrContention = errors.New("per-user critical section contended, retry later")
