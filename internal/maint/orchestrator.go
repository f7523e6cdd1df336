package maint

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/veeragoni/hpc-maintenance/internal/audit"
	"github.com/veeragoni/hpc-maintenance/internal/cloudmaint"
	"github.com/veeragoni/hpc-maintenance/internal/inventory"
	"github.com/veeragoni/hpc-maintenance/internal/wlm"
)

// Orchestrator builds a job set per pass and fans out per-host state
// machine instances to a bounded worker pool. The queue guarantees
// each hostname appears at most once per pass, so per-host mutual
// exclusion holds without any additional locking.
type Orchestrator struct {
	Cfg        Config
	Discoverer *Discoverer
	Runner     *Runner
	Logger     logrus.FieldLogger
}

// NewOrchestrator wires an Orchestrator from collaborators.
func NewOrchestrator(cfg Config, cloud cloudmaint.Client, manager wlm.Manager, inv inventory.Resolver, sink audit.Sink, checker HealthChecker, metrics *Metrics, logger logrus.FieldLogger) *Orchestrator {
	cap := NewDailyCap(cfg.DailyScheduleCap)
	return &Orchestrator{
		Cfg:        cfg,
		Discoverer: NewDiscoverer(cloud, inv, sink, metrics, logger),
		Runner:     NewRunner(cfg, cloud, manager, sink, checker, cap, metrics, logger),
		Logger:     logger,
	}
}

// PassResult summarizes one orchestrator pass.
type PassResult struct {
	Jobs    []Job
	Results []HostResult
}

// FailedHosts returns the hostnames that ended in StateFailed.
func (p PassResult) FailedHosts() []string {
	var out []string
	for _, r := range p.Results {
		if r.State == StateFailed {
			out = append(out, r.Job.Hostname)
		}
	}
	sort.Strings(out)
	return out
}

// FindJob discovers the current job set and returns the one Job whose
// hostname matches, for the CLI's single-phase subcommands
// (`drain|maintenance|health|finalize <hostname>`), which each run
// exactly one phase driver against a job discovery resolves rather
// than driving the whole state machine.
func (o *Orchestrator) FindJob(ctx context.Context, hostname string) (Job, bool, error) {
	disc, err := o.Discoverer.Discover(ctx, o.Cfg, DiscoverOptions{})
	if err != nil {
		return Job{}, false, err
	}
	for _, j := range disc.Jobs {
		if j.Hostname == hostname {
			return j, true, nil
		}
	}
	return Job{}, false, nil
}

// RunPass performs one full discovery + dispatch pass in the given
// mode. jobFilter, if non-nil, narrows the discovered job set.
func (o *Orchestrator) RunPass(ctx context.Context, mode Mode, jobFilter func(Job) bool) (PassResult, error) {
	disc, err := o.Discoverer.Discover(ctx, o.Cfg, DiscoverOptions{})
	if err != nil {
		return PassResult{}, err
	}
	jobs := disc.Jobs
	if jobFilter != nil {
		var filtered []Job
		for _, j := range jobs {
			if jobFilter(j) {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}

	results := o.dispatch(ctx, jobs, mode)
	return PassResult{Jobs: jobs, Results: results}, nil
}

// catchupStates are the lifecycle states eligible for catchup re-entry:
// anything past SCHEDULED.
var catchupStates = map[cloudmaint.LifecycleState]bool{
	cloudmaint.LifecycleStarted:    true,
	cloudmaint.LifecycleProcessing: true,
	cloudmaint.LifecycleSucceeded:  true,
	cloudmaint.LifecycleCompleted:  true,
	cloudmaint.LifecycleFailed:     true,
	cloudmaint.LifecycleCanceled:   true,
}

// RunCatchup discovers events already past SCHEDULED and re-enters the
// state machine at IN_MAINTENANCE (event still in progress), HEALTH
// (terminal success), or FINALIZING on the fail branch (terminal
// failure), skipping DRAIN and SCHEDULE. hostFilter, if
// non-empty, narrows catchup to a single hostname.
func (o *Orchestrator) RunCatchup(ctx context.Context, hostFilter string) (PassResult, error) {
	disc, err := o.Discoverer.Discover(ctx, o.Cfg, DiscoverOptions{CatchupStates: catchupStates})
	if err != nil {
		return PassResult{}, err
	}
	jobs := disc.Jobs
	if hostFilter != "" {
		var filtered []Job
		for _, j := range jobs {
			if j.Hostname == hostFilter {
				filtered = append(filtered, j)
			}
		}
		jobs = filtered
	}

	results := make([]HostResult, len(jobs))
	workers := o.Cfg.MaxWorkers
	if workers < 1 || workers > len(jobs) {
		workers = len(jobs)
	}
	if workers == 0 {
		return PassResult{Jobs: jobs, Results: results}, nil
	}

	type indexedJob struct {
		index int
		job   Job
	}
	queue := make(chan indexedJob)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ij := range queue {
				mode := ModeCatchupMaintenance
				if lc := disc.EventLifecycle[ij.job.EventID]; lc.Terminal() {
					if lc.Success() {
						mode = ModeCatchupHealth
					} else {
						mode = ModeCatchupFinalizeFail
					}
				}
				results[ij.index] = o.Runner.Run(ctx, ij.job, mode)
			}
		}()
	}
	for i, j := range jobs {
		queue <- indexedJob{index: i, job: j}
	}
	close(queue)
	wg.Wait()
	return PassResult{Jobs: jobs, Results: results}, nil
}

// dispatch fans jobs out to a bounded pool of workers, each owning one
// Job end-to-end, and collects results in discovery order.
func (o *Orchestrator) dispatch(ctx context.Context, jobs []Job, mode Mode) []HostResult {
	results := make([]HostResult, len(jobs))
	workers := o.Cfg.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}
	if workers == 0 {
		return results
	}

	type indexedJob struct {
		index int
		job   Job
	}
	queue := make(chan indexedJob)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ij := range queue {
				results[ij.index] = o.Runner.Run(ctx, ij.job, mode)
			}
		}()
	}

	for i, j := range jobs {
		queue <- indexedJob{index: i, job: j}
	}
	close(queue)
	wg.Wait()
	return results
}
