package metrics

import "time"

// Nop discards all metrics. Used in tests and when metrics are disabled.
type Nop struct{}

var _ Collector = (*Nop)(nil)

// NewNop creates a no-op collector
func NewNop() *Nop {
	return &Nop{}
}

func (n *Nop) IncrementAssignmentsProposed(_ string, _ int) {}

func (n *Nop) IncrementCoverageGaps(_, _ string) {}

func (n *Nop) IncrementConflicts(_ int) {}

func (n *Nop) IncrementSwapOutcome(_ string) {}

func (n *Nop) IncrementExpired(_ string, _ int) {}

func (n *Nop) IncrementLockRetry() {}

func (n *Nop) ObserveRunDuration(_ time.Duration) {}
