package maint

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/veeragoni/hpc-maintenance/internal/audit"
	"github.com/veeragoni/hpc-maintenance/internal/cloudmaint"
	"github.com/veeragoni/hpc-maintenance/internal/inventory"
)

// Discoverer produces the job set for a pass.
type Discoverer struct {
	Cloud     cloudmaint.Client
	Inventory inventory.Resolver
	Audit     audit.Sink
	Metrics   *Metrics
	Logger    logrus.FieldLogger
	Retry     RetryPolicy
}

// NewDiscoverer returns a Discoverer using the default inventory
// retry policy. metrics may be nil.
func NewDiscoverer(cloud cloudmaint.Client, inv inventory.Resolver, sink audit.Sink, metrics *Metrics, logger logrus.FieldLogger) *Discoverer {
	return &Discoverer{Cloud: cloud, Inventory: inv, Audit: sink, Metrics: metrics, Logger: logger, Retry: DiscoveryRetryPolicy()}
}

// DiscoverOptions narrows or widens what Discover reports.
type DiscoverOptions struct {
	// IncludeAll makes Discover also return SkippedEvent entries for
	// events it drops, instead of only building the Job list.
	IncludeAll bool

	// CatchupStates, when non-empty, replaces the default "only
	// SCHEDULED" filter with membership in this set. Catchup mode uses
	// it to pick up events already past SCHEDULED.
	CatchupStates map[cloudmaint.LifecycleState]bool
}

// SkippedEvent records one event discovery dropped, with the reason,
// for read-only reporting (discover --all).
type SkippedEvent struct {
	Event  cloudmaint.MaintenanceEvent
	Reason string
}

// DiscoverResult is everything one discovery pass produced.
type DiscoverResult struct {
	Jobs      []Job
	Skipped   []SkippedEvent
	AllEvents []cloudmaint.MaintenanceEvent

	// EventLifecycle records each job's source event lifecycle state
	// at discovery time, keyed by event id, so catchup can choose
	// which state to re-enter at.
	EventLifecycle map[string]cloudmaint.LifecycleState
}

// Discover implements §4.1: enumerate compartments, list events,
// filter to SCHEDULED, resolve hostnames, reject excluded hosts,
// intersect fault ids with ApprovedFaults, and return the resulting
// Job list sorted by hostname, with at most one Job per hostname.
func (d *Discoverer) Discover(ctx context.Context, cfg Config, opts DiscoverOptions) (DiscoverResult, error) {
	result := DiscoverResult{EventLifecycle: map[string]cloudmaint.LifecycleState{}}

	compartments, err := d.Cloud.ListCompartments(ctx)
	if err != nil {
		return result, err
	}

	for _, compartmentID := range compartments {
		events, err := d.Cloud.ListInstanceMaintenanceEvents(ctx, compartmentID)
		if err != nil {
			// A per-compartment listing error does not abort
			// discovery; it is recorded and the rest continue.
			d.Logger.WithFields(logrus.Fields{"compartment": compartmentID, "err": err}).
				Warn("discover: listing events failed, continuing")
			continue
		}
		result.AllEvents = append(result.AllEvents, events...)

		for _, ev := range events {
			job, skip, host := d.evaluate(ctx, cfg, ev, opts.CatchupStates)
			if skip != "" {
				d.Metrics.observeSkip(skip)
				if opts.IncludeAll {
					result.Skipped = append(result.Skipped, SkippedEvent{Event: ev, Reason: skip})
				}
				if auditedSkipReasons[skip] {
					d.audit(ev, host, "discover", skip)
				}
				continue
			}
			result.Jobs = append(result.Jobs, job)
			result.EventLifecycle[job.EventID] = ev.LifecycleState
		}
	}

	sort.Slice(result.Jobs, func(i, j int) bool {
		if result.Jobs[i].Hostname != result.Jobs[j].Hostname {
			return result.Jobs[i].Hostname < result.Jobs[j].Hostname
		}
		return result.Jobs[i].EventID < result.Jobs[j].EventID
	})
	// Keep one job per hostname (the smallest event id), so no two
	// workers act on the same host within a pass.
	jobs := result.Jobs[:0]
	for _, j := range result.Jobs {
		if n := len(jobs); n > 0 && jobs[n-1].Hostname == j.Hostname {
			continue
		}
		jobs = append(jobs, j)
	}
	result.Jobs = jobs
	return result, nil
}

// auditedSkipReasons names the skip reasons the spec's scenarios (or
// its supplemented idempotency guard) expect an audit entry for.
var auditedSkipReasons = map[string]bool{
	"unresolved":        true,
	"excluded":          true,
	"already_processed": true,
}

// evaluate applies discovery's filter chain to a single event. It
// returns either a Job, or a non-empty skip reason code plus the best
// available host label (hostname if resolved, else instance id) for
// auditing.
func (d *Discoverer) evaluate(ctx context.Context, cfg Config, ev cloudmaint.MaintenanceEvent, catchupStates map[cloudmaint.LifecycleState]bool) (Job, string, string) {
	if tag, ok := ev.Tag(cfg.ProcessedTag); ok && tag != "" && len(catchupStates) == 0 {
		return Job{}, "already_processed", ev.InstanceID
	}

	if len(catchupStates) == 0 {
		if ev.LifecycleState != cloudmaint.LifecycleScheduled {
			return Job{}, "not_scheduled", ev.InstanceID
		}
	} else if !catchupStates[ev.LifecycleState] {
		return Job{}, "not_catchup_eligible", ev.InstanceID
	}

	var hostname string
	err := d.Retry.Do(ctx, func(ctx context.Context) error {
		h, ok, err := d.Inventory.ResolveHost(ctx, ev.InstanceID)
		if err != nil {
			return &TransientError{Err: err}
		}
		if !ok {
			return &TransientError{Err: errNotFound}
		}
		hostname = h
		return nil
	})
	if err != nil {
		return Job{}, "unresolved", ev.InstanceID
	}

	if cfg.ExcludedHosts.Contains(hostname) {
		return Job{}, "excluded", hostname
	}

	faultID, ok := cfg.ApprovedFaults.SmallestApproved(ev.FaultIDs)
	if !ok {
		return Job{}, "unapproved_fault", hostname
	}

	job := Job{
		EventID:       ev.EventID,
		InstanceID:    ev.InstanceID,
		Hostname:      hostname,
		FaultID:       faultID,
		FaultSummary:  joinFaults(ev.FaultIDs),
		CompartmentID: ev.CompartmentID,
	}
	if ev.TimeWindowStart != nil {
		job.WindowStart = *ev.TimeWindowStart
	}
	return job, "", hostname
}

func (d *Discoverer) audit(ev cloudmaint.MaintenanceEvent, host, phase, action string) {
	appendAudit(d.Audit, d.Metrics, auditRecord(phase, action, host, map[string]interface{}{
		"event_id": ev.EventID,
	}))
}

func joinFaults(faultIDs []string) string {
	cp := append([]string(nil), faultIDs...)
	sort.Strings(cp)
	out := ""
	for i, f := range cp {
		if i > 0 {
			out += ","
		}
		out += f
	}
	return out
}

var errNotFound = errNotFoundError{}

type errNotFoundError struct{}

func (errNotFoundError) Error() string { return "inventory: instance not found" }
