package maint

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the orchestrator's Prometheus instruments, registered
// the way the teacher's worker.Pool.registerMetrics does: one counter
// vector keyed by state/reason, incremented from the hot path.
type Metrics struct {
	jobsByState     *prometheus.CounterVec
	jobsSkipped     *prometheus.CounterVec
	scheduleCalls   prometheus.Counter
	auditWriteFails prometheus.Counter
}

// NewMetrics constructs and registers a Metrics on reg. Passing a nil
// reg is valid for tests: metrics are created but not registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobsByState: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "felix",
			Name:      "host_state_transitions_total",
			Help:      "Count of per-host state-machine transitions, by state.",
		}, []string{"state"}),
		jobsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "felix",
			Name:      "jobs_skipped_total",
			Help:      "Count of jobs skipped before drain, by reason.",
		}, []string{"reason"}),
		scheduleCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "felix",
			Name:      "schedule_requests_total",
			Help:      "Count of maintenance schedule requests issued.",
		}),
		auditWriteFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "felix",
			Name:      "audit_write_failures_total",
			Help:      "Count of audit sink append failures.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.jobsByState, m.jobsSkipped, m.scheduleCalls, m.auditWriteFails)
	}
	return m
}

// observeState increments the per-state transition counter. m may be
// nil (e.g. in tests that don't wire metrics), in which case it is a
// no-op.
func (m *Metrics) observeState(s State) {
	if m == nil {
		return
	}
	m.jobsByState.WithLabelValues(string(s)).Inc()
}

func (m *Metrics) observeSkip(reason string) {
	if m == nil {
		return
	}
	m.jobsSkipped.WithLabelValues(reason).Inc()
}

// observeScheduleCall increments the schedule-request counter. m may
// be nil.
func (m *Metrics) observeScheduleCall() {
	if m == nil {
		return
	}
	m.scheduleCalls.Inc()
}

// observeAuditWriteFail increments the audit-write-failure counter. m
// may be nil.
func (m *Metrics) observeAuditWriteFail() {
	if m == nil {
		return
	}
	m.auditWriteFails.Inc()
}
