// Package metrics holds the planner's instrumentation: a Collector interface
// consumed by the scheduling core, a Prometheus implementation and a no-op one.
package metrics

import "time"

// Collector receives planner events
type Collector interface {
	// IncrementAssignmentsProposed counts new proposed assignments by category.
	IncrementAssignmentsProposed(category string, n int)
	// IncrementCoverageGaps counts reported coverage gaps by category and segment.
	IncrementCoverageGaps(category, segment string)
	// IncrementConflicts counts conflict records.
	IncrementConflicts(n int)
	// IncrementSwapOutcome counts evaluated swaps by resulting status.
	IncrementSwapOutcome(status string)
	// IncrementExpired counts records transitioned by the expiry sweep (kind: assignment|swap).
	IncrementExpired(kind string, n int)
	// IncrementLockRetry counts per-user critical section retries.
	IncrementLockRetry()
	// ObserveRunDuration records the duration of one (team, period) planning run.
	ObserveRunDuration(d time.Duration)
}
