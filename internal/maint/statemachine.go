package maint

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/veeragoni/hpc-maintenance/internal/audit"
	"github.com/veeragoni/hpc-maintenance/internal/cloudmaint"
	"github.com/veeragoni/hpc-maintenance/internal/wlm"
)

// Mode selects how far into the state machine a Runner enters/exits,
// per §4.8's stage-only and catchup truncations.
type Mode int

const (
	// ModeFull runs PENDING through DONE.
	ModeFull Mode = iota
	// ModeStage truncates at DRAINED -> SCHEDULING -> DONE, skipping
	// HEALTH/FINALIZE.
	ModeStage
	// ModeCatchupMaintenance enters directly at IN_MAINTENANCE,
	// skipping DRAIN and SCHEDULE.
	ModeCatchupMaintenance
	// ModeCatchupHealth enters directly at HEALTH, for events already
	// observed as a terminal success.
	ModeCatchupHealth
	// ModeCatchupFinalizeFail enters directly at FINALIZING on the
	// fail branch, for events already observed as a terminal failure.
	ModeCatchupFinalizeFail
)

// Runner composes the phase drivers into the per-host state machine.
// One Runner instance is shared read-only across workers; it holds no
// per-job mutable state.
type Runner struct {
	Cfg     Config
	Cloud   cloudmaint.Client
	WLM     wlm.Manager
	Audit   audit.Sink
	Health  HealthChecker
	DailyCap *DailyCap
	Metrics  *Metrics
	Logger   logrus.FieldLogger

	drain    *DrainDriver
	schedule *ScheduleDriver
	poll     *PollDriver
	health   *HealthDriver
	finalize *FinalizeDriver
}

// NewRunner wires the phase drivers from cfg and the collaborators.
func NewRunner(cfg Config, cloud cloudmaint.Client, manager wlm.Manager, sink audit.Sink, checker HealthChecker, cap *DailyCap, metrics *Metrics, logger logrus.FieldLogger) *Runner {
	if checker == nil {
		checker = AlwaysPass{}
	}
	r := &Runner{Cfg: cfg, Cloud: cloud, WLM: manager, Audit: sink, Health: checker, DailyCap: cap, Metrics: metrics, Logger: logger}
	r.drain = &DrainDriver{WLM: manager, Audit: sink, Metrics: metrics, Poll: cfg.DrainPollInterval, Timeout: cfg.DrainTimeout, CallTimeout: cfg.CallTimeout}
	r.schedule = &ScheduleDriver{Cloud: cloud, Audit: sink, Metrics: metrics, LeadTime: cfg.ScheduleLeadTime, ProcessedTag: cfg.ProcessedTag, Retry: ScheduleRetryPolicy(), Poll: cfg.MaintPollInterval, CallTimeout: cfg.CallTimeout}
	r.poll = &PollDriver{Cloud: cloud, Audit: sink, Metrics: metrics, Logger: logger, Interval: cfg.MaintPollInterval, MaxDelay: cfg.MaintPollMax, CallTimeout: cfg.CallTimeout}
	r.health = &HealthDriver{Checker: checker, Audit: sink, Metrics: metrics, Timeout: cfg.HealthCheckTimeout}
	r.finalize = &FinalizeDriver{WLM: manager, Audit: sink, Metrics: metrics, CallTimeout: cfg.CallTimeout}
	return r
}

// RunDrainPhase runs only the drain driver for job, for the CLI's
// single-phase `drain <hostname>` entry point.
func (r *Runner) RunDrainPhase(ctx context.Context, job Job) Outcome {
	return r.drain.Run(ctx, job, r.Cfg.DryRun)
}

// RunMaintenancePhase runs the schedule driver followed by the poll
// driver for job, for the CLI's single-phase `maintenance <hostname>`
// entry point. This mirrors the original tool's combined
// trigger-then-wait "maintenance" phase.
func (r *Runner) RunMaintenancePhase(ctx context.Context, job Job) Outcome {
	schedOut := r.schedule.Run(ctx, job, r.Cfg.DryRun)
	if !schedOut.OK {
		return schedOut.Outcome
	}
	return r.poll.Run(ctx, job, r.Cfg.DryRun)
}

// RunHealthPhase runs only the health driver for job, for the CLI's
// single-phase `health <hostname>` entry point.
func (r *Runner) RunHealthPhase(ctx context.Context, job Job) Outcome {
	return r.health.Run(ctx, job)
}

// RunFinalizePhase runs only the finalize driver for job, for the
// CLI's single-phase `finalize <hostname>` entry point. Run standalone
// with no preceding health reading in this pass, it defaults to the
// PASS branch, matching the original tool's finalize phase defaulting
// health_ok to true when nothing upstream has recorded otherwise.
func (r *Runner) RunFinalizePhase(ctx context.Context, job Job) Outcome {
	return r.finalize.Run(ctx, job, r.Cfg.DryRun, true, "", "")
}

// Run drives job through the state machine in the given mode and
// returns its terminal HostResult. It never panics; every transition
// is total.
func (r *Runner) Run(ctx context.Context, job Job, mode Mode) HostResult {
	state := StatePending
	record := func(s State) { state = s; r.Metrics.observeState(s) }

	switch mode {
	case ModeCatchupMaintenance:
		record(StateInMaintenance)
	case ModeCatchupHealth:
		record(StateHealth)
	case ModeCatchupFinalizeFail:
		record(StateFinalizing)
		out := r.finalize.Run(ctx, job, r.Cfg.DryRun, false, KindMaintenanceFailed, "observed terminal failure on catchup")
		record(StateDone)
		return HostResult{Job: job, State: StateDone, Outcome: out}
	default:
		elig := CheckEligibility(r.Cfg, r.DailyCap, job)
		if elig != Proceed {
			reason := skipAction(elig)
			r.Metrics.observeSkip(reason)
			appendAudit(r.Audit, r.Metrics, auditRecord("discover", reason, job.Hostname,
				map[string]interface{}{"event_id": job.EventID}))
			record(StateSkipped)
			return HostResult{Job: job, State: StateSkipped, Outcome: Success()}
		}
		record(StateDraining)
	}

	if ctx.Err() != nil {
		return r.cancelled(job, state)
	}

	if state == StateDraining {
		out := r.drain.Run(ctx, job, r.Cfg.DryRun)
		if !out.OK {
			record(StateFailed)
			return HostResult{Job: job, State: StateFailed, Outcome: out}
		}
		record(StateDrained)
		record(StateScheduling)

		schedOut := r.schedule.Run(ctx, job, r.Cfg.DryRun)
		if !schedOut.OK {
			record(StateFailed)
			return HostResult{Job: job, State: StateFailed, Outcome: schedOut.Outcome}
		}
		record(StateInMaintenance)

		if mode == ModeStage {
			record(StateDone)
			return HostResult{Job: job, State: StateDone, Outcome: Success()}
		}
	}

	if ctx.Err() != nil {
		return r.cancelled(job, state)
	}

	var pollOut Outcome
	if mode != ModeCatchupHealth {
		pollOut = r.poll.Run(ctx, job, r.Cfg.DryRun)
	} else {
		pollOut = Success()
	}

	if !pollOut.OK {
		record(StateFinalizing)
		out := r.finalize.Run(ctx, job, r.Cfg.DryRun, false, pollOut.Kind, pollOut.Detail)
		record(StateDone)
		return HostResult{Job: job, State: StateDone, Outcome: out}
	}

	record(StateHealth)
	if ctx.Err() != nil {
		return r.cancelled(job, state)
	}
	healthOut := r.health.Run(ctx, job)

	record(StateFinalizing)
	out := r.finalize.Run(ctx, job, r.Cfg.DryRun, healthOut.OK, healthOut.Kind, healthOut.Detail)
	record(StateDone)
	return HostResult{Job: job, State: StateDone, Outcome: out}
}

func (r *Runner) cancelled(job Job, state State) HostResult {
	r.Metrics.observeState(StateFailed)
	return HostResult{Job: job, State: StateFailed, Outcome: Failure(KindCancelled, "orchestrator cancellation")}
}

func skipAction(r EligibilityResult) string {
	switch r {
	case SkipCap:
		return "cap_reached"
	case SkipExcluded:
		return "excluded"
	case SkipFault:
		return "unapproved_fault"
	default:
		return "skip"
	}
}
