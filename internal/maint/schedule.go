package maint

import (
	"context"
	"fmt"
	"time"

	"github.com/veeragoni/hpc-maintenance/internal/audit"
	"github.com/veeragoni/hpc-maintenance/internal/cloudmaint"
)

// ScheduleDriver implements §4.4: issue the maintenance trigger with a
// computed window start and the processed-tag, then poll the
// resulting work request to a terminal state.
type ScheduleDriver struct {
	Cloud        cloudmaint.Client
	Audit        audit.Sink
	Metrics      *Metrics
	LeadTime     time.Duration
	ProcessedTag string
	Retry        RetryPolicy
	Poll         time.Duration
	CallTimeout  time.Duration
}

// ScheduleOutcome augments Outcome with a flag distinguishing "already
// transitioned" (a no-op) from a fresh accept, since the state machine
// treats both as advancing to IN_MAINTENANCE.
type ScheduleOutcome struct {
	Outcome
	AlreadyTransitioned bool
}

// Run executes the schedule phase for job's event.
func (s *ScheduleDriver) Run(ctx context.Context, job Job, dryRun bool) ScheduleOutcome {
	callCtx, cancel := withCallTimeout(ctx, s.CallTimeout)
	ev, err := s.Cloud.GetInstanceMaintenanceEvent(callCtx, job.EventID)
	cancel()
	if err != nil {
		return ScheduleOutcome{Outcome: Failure(KindTransient, err.Error())}
	}
	if ev.LifecycleState != cloudmaint.LifecycleScheduled {
		return ScheduleOutcome{Outcome: Success(), AlreadyTransitioned: true}
	}

	windowStart := time.Now().Add(s.LeadTime)
	appendAudit(s.Audit, s.Metrics, auditRecord("maintenance", "schedule_request", job.Hostname,
		dryRunFields(dryRun, map[string]interface{}{
			"event_id":     job.EventID,
			"window_start": windowStart.UTC().Format(time.RFC3339),
		})))

	if dryRun {
		return ScheduleOutcome{Outcome: Success()}
	}

	var wr cloudmaint.WorkRequest
	err = s.Retry.Do(ctx, func(ctx context.Context) error {
		callCtx, cancel := withCallTimeout(ctx, s.CallTimeout)
		defer cancel()
		s.Metrics.observeScheduleCall()
		w, err := s.Cloud.UpdateInstanceMaintenanceEvent(callCtx, job.EventID, cloudmaint.UpdateInput{
			TimeWindowStart: windowStart,
			FreeformTags:    map[string]string{s.ProcessedTag: s.ProcessedTag},
		})
		if err != nil {
			return classifyScheduleErr(err)
		}
		wr = w
		return nil
	})
	if err != nil {
		return ScheduleOutcome{Outcome: Failure(KindScheduleFailed, err.Error())}
	}

	appendAudit(s.Audit, s.Metrics, auditRecord("maintenance", "schedule_accepted", job.Hostname,
		map[string]interface{}{"event_id": job.EventID, "work_request_id": wr.ID}))
	if err := s.Audit.Ticket("maintenance", job.Hostname, "maintenance scheduled: "+job.FaultSummary, map[string]interface{}{
		"event_id":        job.EventID,
		"work_request_id": wr.ID,
		"fault_summary":   job.FaultSummary,
	}); err != nil {
		s.Metrics.observeAuditWriteFail()
	}

	if err := s.pollWorkRequest(ctx, wr.ID); err != nil {
		return ScheduleOutcome{Outcome: Failure(KindScheduleFailed, err.Error())}
	}
	return ScheduleOutcome{Outcome: Success()}
}

func (s *ScheduleDriver) pollWorkRequest(ctx context.Context, id string) error {
	ticker := time.NewTicker(s.Poll)
	defer ticker.Stop()
	for {
		callCtx, cancel := withCallTimeout(ctx, s.CallTimeout)
		wr, err := s.Cloud.GetWorkRequest(callCtx, id)
		cancel()
		if err != nil {
			return err
		}
		if wr.State.Terminal() {
			if wr.State == cloudmaint.WorkRequestSucceeded {
				return nil
			}
			return fmt.Errorf("work request %s ended %s", id, wr.State)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func classifyScheduleErr(err error) error {
	if _, ok := err.(*cloudmaint.QuotaError); ok {
		// Not retriable: retrying won't free quota within this pass.
		return err
	}
	return &TransientError{Err: err}
}
