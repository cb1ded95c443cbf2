package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus implements Collector backed by Prometheus. Metrics are
// registered lazily on first use.
type Prometheus struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	proposed    *prometheus.CounterVec
	gaps        *prometheus.CounterVec
	conflicts   prometheus.Counter
	swaps       *prometheus.CounterVec
	expired     *prometheus.CounterVec
	lockRetries prometheus.Counter
	runDuration prometheus.Histogram
}

var _ Collector = (*Prometheus)(nil)

// NewPrometheus creates a collector registering into reg (the default
// registerer when nil) under namespace (default "planner").
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "planner"
	}
	return &Prometheus{reg: reg, namespace: namespace}
}

func (p *Prometheus) ensureRegistered() {
	p.once.Do(func() {
		p.proposed = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "assignments_proposed_total",
			Help:      "Total assignments proposed by category.",
		}, []string{"category"})
		p.gaps = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "coverage_gaps_total",
			Help:      "Total coverage gaps reported by category and segment.",
		}, []string{"category", "segment"})
		p.conflicts = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "conflicts_total",
			Help:      "Total conflict records reported.",
		})
		p.swaps = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "swap",
			Name:      "evaluated_total",
			Help:      "Total evaluated swap requests by outcome (accepted,rejected,expired).",
		}, []string{"status"})
		p.expired = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "sweep",
			Name:      "expired_total",
			Help:      "Total records expired by the sweep by kind (assignment,swap).",
		}, []string{"kind"})
		p.lockRetries = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "locks",
			Name:      "retries_total",
			Help:      "Total per-user critical section retries.",
		})
		p.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "orchestrator",
			Name:      "run_duration_seconds",
			Help:      "Duration of one team/period planning run in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms .. ~10s
		})

		p.reg.MustRegister(p.proposed)
		p.reg.MustRegister(p.gaps)
		p.reg.MustRegister(p.conflicts)
		p.reg.MustRegister(p.swaps)
		p.reg.MustRegister(p.expired)
		p.reg.MustRegister(p.lockRetries)
		p.reg.MustRegister(p.runDuration)
	})
}

func (p *Prometheus) IncrementAssignmentsProposed(category string, n int) {
	p.ensureRegistered()
	p.proposed.WithLabelValues(category).Add(float64(n))
}

func (p *Prometheus) IncrementCoverageGaps(category, segment string) {
	p.ensureRegistered()
	p.gaps.WithLabelValues(category, segment).Inc()
}

func (p *Prometheus) IncrementConflicts(n int) {
	p.ensureRegistered()
	p.conflicts.Add(float64(n))
}

func (p *Prometheus) IncrementSwapOutcome(status string) {
	p.ensureRegistered()
	p.swaps.WithLabelValues(status).Inc()
}

func (p *Prometheus) IncrementExpired(kind string, n int) {
	p.ensureRegistered()
	p.expired.WithLabelValues(kind).Add(float64(n))
}

func (p *Prometheus) IncrementLockRetry() {
	p.ensureRegistered()
	p.lockRetries.Inc()
}

func (p *Prometheus) ObserveRunDuration(d time.Duration) {
	p.ensureRegistered()
	p.runDuration.Observe(d.Seconds())
}
