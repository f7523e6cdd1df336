package maint

import (
	"context"
	"time"

	"github.com/veeragoni/hpc-maintenance/internal/audit"
)

// HealthResult is the pluggable health predicate's verdict.
type HealthResult struct {
	Pass   bool
	Reason string
}

// HealthChecker is the pluggable post-maintenance health predicate. It
// must be callable repeatedly, must not mutate external state, and
// must return within a caller-imposed timeout; the concrete GPU/NIC
// diagnostic suite is out of scope for this module.
type HealthChecker interface {
	Check(ctx context.Context, hostname string) HealthResult
}

// AlwaysPass is the default placeholder HealthChecker.
type AlwaysPass struct{}

func (AlwaysPass) Check(ctx context.Context, hostname string) HealthResult {
	return HealthResult{Pass: true}
}

// HealthDriver implements §4.6.
type HealthDriver struct {
	Checker HealthChecker
	Audit   audit.Sink
	Metrics *Metrics
	Timeout time.Duration
}

// Run evaluates job.Hostname's health, imposing Timeout on the
// predicate per the pluggable-health contract.
func (h *HealthDriver) Run(ctx context.Context, job Job) Outcome {
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}
	result := h.Checker.Check(ctx, job.Hostname)
	if result.Pass {
		appendAudit(h.Audit, h.Metrics, auditRecord("health", "pass", job.Hostname, map[string]interface{}{}))
		return Success()
	}
	appendAudit(h.Audit, h.Metrics, auditRecord("health", "fail", job.Hostname,
		map[string]interface{}{"reason": result.Reason}))
	return Failure(KindHealthFailed, result.Reason)
}
