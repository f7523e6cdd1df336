package maint

import "sync/atomic"

// EligibilityResult is the outcome of the eligibility gate.
type EligibilityResult string

const (
	Proceed       EligibilityResult = "PROCEED"
	SkipCap       EligibilityResult = "SKIP-CAP"
	SkipExcluded  EligibilityResult = "SKIP-EXCLUDED"
	SkipFault     EligibilityResult = "SKIP-FAULT"
)

// DailyCap bounds the number of jobs that may be scheduled within a
// single process lifetime, enforced by an atomic counter so a worker
// that loses the race returns SkipCap rather than over-scheduling.
type DailyCap struct {
	limit   int64
	counter int64
}

// NewDailyCap returns a DailyCap that permits at most limit accepted
// reservations. A non-positive limit disables the cap.
func NewDailyCap(limit int64) *DailyCap {
	return &DailyCap{limit: limit}
}

// Reserve atomically claims one slot. It returns true if the job may
// proceed to schedule.
func (c *DailyCap) Reserve() bool {
	if c.limit <= 0 {
		return true
	}
	return atomic.AddInt64(&c.counter, 1) <= c.limit
}

// Count returns the number of reservations made so far (including
// ones that exceeded the cap). It stays zero when the cap is disabled.
func (c *DailyCap) Count() int64 {
	return atomic.LoadInt64(&c.counter)
}

// CheckEligibility is the pure function applied before dispatching
// each Job: defence-in-depth re-check of exclusion and fault approval,
// plus the daily cap. It never mutates external state.
func CheckEligibility(cfg Config, cap *DailyCap, job Job) EligibilityResult {
	if cfg.ExcludedHosts.Contains(job.Hostname) {
		return SkipExcluded
	}
	if !cfg.ApprovedFaults.Contains(job.FaultID) {
		return SkipFault
	}
	if !cap.Reserve() {
		return SkipCap
	}
	return Proceed
}
