package maint

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/veeragoni/hpc-maintenance/internal/audit"
	"github.com/veeragoni/hpc-maintenance/internal/cloudmaint"
)

// PollDriver implements §4.5: repeatedly read the event until its
// lifecycle state is terminal, backing off geometrically with no
// overall timeout (only orchestrator-level cancellation aborts it).
type PollDriver struct {
	Cloud       cloudmaint.Client
	Audit       audit.Sink
	Metrics     *Metrics
	Logger      logrus.FieldLogger
	Interval    time.Duration
	MaxDelay    time.Duration
	CallTimeout time.Duration
}

// Run polls job's event to a terminal lifecycle state.
func (p *PollDriver) Run(ctx context.Context, job Job, dryRun bool) Outcome {
	if dryRun {
		// No schedule was actually accepted in dry-run, so there is
		// nothing to poll; the pipeline simulates immediate success.
		return Success()
	}

	delay := p.Interval
	for {
		callCtx, cancel := withCallTimeout(ctx, p.CallTimeout)
		ev, err := p.Cloud.GetInstanceMaintenanceEvent(callCtx, job.EventID)
		cancel()
		switch {
		case err != nil:
			// A transient read error during a wait that can span
			// multi-day maintenance windows is absorbed by the same
			// backoff loop as a non-terminal state, not escalated on
			// the first hiccup; only cancellation ends the wait.
			if p.Logger != nil {
				p.Logger.WithFields(logrus.Fields{"hostname": job.Hostname, "event_id": job.EventID, "err": err}).
					Debug("poll: transient read error, retrying")
			}
		case ev.LifecycleState.Success():
			appendAudit(p.Audit, p.Metrics, auditRecord("maintenance", "event_complete", job.Hostname,
				map[string]interface{}{"event_id": job.EventID}))
			return Success()
		case ev.LifecycleState == cloudmaint.LifecycleFailed || ev.LifecycleState == cloudmaint.LifecycleCanceled:
			appendAudit(p.Audit, p.Metrics, auditRecord("maintenance", "event_failed", job.Hostname,
				map[string]interface{}{"event_id": job.EventID, "lifecycle_state": string(ev.LifecycleState)}))
			return Failure(KindMaintenanceFailed, string(ev.LifecycleState))
		default:
			// STARTED, PROCESSING, or a re-observed SCHEDULED: keep
			// waiting, per the design note on ambiguous re-appearance.
		}

		select {
		case <-ctx.Done():
			return Failure(KindCancelled, ctx.Err().Error())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}
