package maint

import (
	"context"
	"fmt"
	"time"

	"github.com/veeragoni/hpc-maintenance/internal/audit"
	"github.com/veeragoni/hpc-maintenance/internal/wlm"
)

// FinalizeDriver implements §4.7: translates the combined outcome of
// prior phases into a workload-manager state transition.
type FinalizeDriver struct {
	WLM         wlm.Manager
	Audit       audit.Sink
	Metrics     *Metrics
	CallTimeout time.Duration
}

// Run finalizes job given whether the combined prior outcome passed.
// failureKind/detail describe the failure when pass is false. Both
// branches guard their mutating call behind a pre-read — NodeState for
// resume, CurrentReason for hold — so re-entering finalize twice for
// the same terminal event (catchup's idempotence contract) issues at
// most one SetResume/SetDrain rather than one per invocation.
func (f *FinalizeDriver) Run(ctx context.Context, job Job, dryRun, pass bool, failureKind ErrorKind, detail string) Outcome {
	if pass {
		if !dryRun {
			callCtx, cancel := withCallTimeout(ctx, f.CallTimeout)
			state, err := f.WLM.NodeState(callCtx, job.Hostname)
			cancel()
			if err != nil {
				return Failure(KindTransient, fmt.Sprintf("node_state: %s", err))
			}
			if state.Quiesced() {
				callCtx, cancel := withCallTimeout(ctx, f.CallTimeout)
				err := f.WLM.SetResume(callCtx, job.Hostname)
				cancel()
				if err != nil {
					return Failure(KindTransient, fmt.Sprintf("set_resume: %s", err))
				}
			}
		}
		appendAudit(f.Audit, f.Metrics, auditRecord("finalize", "resumed", job.Hostname,
			dryRunFields(dryRun, map[string]interface{}{})))
		return Success()
	}

	reason := fmt.Sprintf("%s:%s", job.FaultID, failureKind)
	if !dryRun {
		callCtx, cancel := withCallTimeout(ctx, f.CallTimeout)
		current, err := f.WLM.CurrentReason(callCtx, job.Hostname)
		cancel()
		if err != nil {
			return Failure(KindTransient, fmt.Sprintf("current_reason: %s", err))
		}
		if current != reason {
			callCtx, cancel := withCallTimeout(ctx, f.CallTimeout)
			err := f.WLM.SetDrain(callCtx, job.Hostname, reason)
			cancel()
			if err != nil {
				return Failure(KindTransient, fmt.Sprintf("set_drain (held): %s", err))
			}
		}
	}
	appendAudit(f.Audit, f.Metrics, auditRecord("finalize", "held", job.Hostname,
		dryRunFields(dryRun, map[string]interface{}{"reason": reason})))

	if !dryRun {
		if err := f.Audit.Ticket("finalize", job.Hostname, "maintenance held: "+reason, map[string]interface{}{
			"fault_id":      job.FaultID,
			"fault_summary": job.FaultSummary,
			"detail":        detail,
		}); err != nil {
			f.Metrics.observeAuditWriteFail()
		}
	}
	return Outcome{OK: false, Kind: failureKind, Detail: detail}
}
