package maint

import (
	"context"
	"fmt"
	"time"

	"github.com/veeragoni/hpc-maintenance/internal/audit"
	"github.com/veeragoni/hpc-maintenance/internal/wlm"
)

// DrainDriver implements §4.3: request the workload manager to drain
// a host, then poll until it is observed quiesced.
type DrainDriver struct {
	WLM         wlm.Manager
	Audit       audit.Sink
	Metrics     *Metrics
	Poll        time.Duration
	Timeout     time.Duration
	CallTimeout time.Duration
}

// Run drains job.Hostname, blocking until it is quiesced, the timeout
// elapses, or ctx is cancelled.
func (d *DrainDriver) Run(ctx context.Context, job Job, dryRun bool) Outcome {
	reason := job.FaultID
	appendAudit(d.Audit, d.Metrics, auditRecord("drain", "requested", job.Hostname,
		dryRunFields(dryRun, map[string]interface{}{"reason": reason})))

	if !dryRun {
		callCtx, cancel := withCallTimeout(ctx, d.CallTimeout)
		err := d.WLM.SetDrain(callCtx, job.Hostname, reason)
		cancel()
		if err != nil {
			return Failure(KindTransient, fmt.Sprintf("set_drain: %s", err))
		}
	}

	deadline := time.Now().Add(d.Timeout)
	ticker := time.NewTicker(d.Poll)
	defer ticker.Stop()

	for {
		callCtx, cancel := withCallTimeout(ctx, d.CallTimeout)
		state, err := d.WLM.NodeState(callCtx, job.Hostname)
		cancel()
		if err == nil && (dryRun || state.Quiesced()) {
			appendAudit(d.Audit, d.Metrics, auditRecord("drain", "drained_empty", job.Hostname,
				dryRunFields(dryRun, map[string]interface{}{"state": string(state)})))
			return Success()
		}
		if time.Now().After(deadline) {
			return Failure(KindDrainTimeout, fmt.Sprintf("host %s not quiesced within %s", job.Hostname, d.Timeout))
		}
		select {
		case <-ctx.Done():
			return Failure(KindCancelled, ctx.Err().Error())
		case <-ticker.C:
		}
	}
}
