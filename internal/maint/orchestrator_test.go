package maint

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	check "gopkg.in/check.v1"

	"github.com/veeragoni/hpc-maintenance/internal/audit"
	"github.com/veeragoni/hpc-maintenance/internal/cloudmaint"
	"github.com/veeragoni/hpc-maintenance/internal/inventory"
	"github.com/veeragoni/hpc-maintenance/internal/wlm"
)

func Test(t *testing.T) {
	check.TestingT(t)
}

var _ = check.Suite(&OrchestratorSuite{})

type OrchestratorSuite struct{}

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fastConfig returns a Config tuned for tests: sub-millisecond polling
// so scenarios complete without sleeping for the spec's real-world
// defaults.
func fastConfig(approved []string, excluded []string, cap int64) Config {
	cfg := DefaultConfig()
	cfg.DrainPollInterval = time.Millisecond
	cfg.DrainTimeout = 200 * time.Millisecond
	cfg.MaintPollInterval = time.Millisecond
	cfg.MaintPollMax = 5 * time.Millisecond
	cfg.ScheduleLeadTime = 5 * time.Minute
	cfg.CallTimeout = time.Second
	cfg.HealthCheckTimeout = time.Second
	cfg.MaxWorkers = 4
	cfg.DailyScheduleCap = cap
	cfg.ApprovedFaults = NewApprovedFaults(approved...)
	cfg.ExcludedHosts = NewExcludedHosts(excluded...)
	return cfg
}

type harness struct {
	cfg     Config
	cloud   *cloudmaint.FakeClient
	manager *wlm.FakeManager
	inv     *inventory.FakeResolver
	sink    *audit.MemorySink
	orch    *Orchestrator
}

func newHarness(cfg Config, instanceToHost map[string]string) *harness {
	cloud := cloudmaint.NewFakeClient(cfg.Region)
	manager := wlm.NewFakeManager()
	inv := inventory.NewFakeResolver(instanceToHost)
	sink := audit.NewMemorySink()
	orch := NewOrchestrator(cfg, cloud, manager, inv, sink, AlwaysPass{}, NewMetrics(nil), testLogger())
	return &harness{cfg: cfg, cloud: cloud, manager: manager, inv: inv, sink: sink, orch: orch}
}

func scheduledEvent(instanceID, hostInstanceID, compartment string, faults []string) cloudmaint.MaintenanceEvent {
	return cloudmaint.MaintenanceEvent{
		EventID:        instanceID + "/instance-reboot",
		InstanceID:     instanceID,
		CompartmentID:  compartment,
		FaultIDs:       faults,
		LifecycleState: cloudmaint.LifecycleScheduled,
	}
}

// --- S1: happy path ---

func (s *OrchestratorSuite) TestS1HappyPath(c *check.C) {
	cfg := fastConfig([]string{"HPCRDMA-0002-02"}, nil, 0)
	h := newHarness(cfg, map[string]string{"i-001": "GPU-332"})
	h.cloud.AddEvent(scheduledEvent("i-001", "i-001", cfg.Region, []string{"HPCRDMA-0002-02"}))
	h.cloud.SetPostUpdateLifecycle("i-001/instance-reboot", cloudmaint.LifecycleSucceeded)

	result, err := h.orch.RunPass(context.Background(), ModeFull, nil)
	c.Assert(err, check.IsNil)
	c.Assert(len(result.Results), check.Equals, 1)
	c.Check(result.Results[0].State, check.Equals, StateDone)
	c.Check(result.Results[0].Outcome.OK, check.Equals, true)

	c.Check(h.sink.Actions(), check.DeepEquals, []string{
		"drain/requested",
		"drain/drained_empty",
		"maintenance/schedule_request",
		"maintenance/schedule_accepted",
		"maintenance/event_complete",
		"health/pass",
		"finalize/resumed",
	})
	c.Check(h.manager.DrainCalls(), check.DeepEquals, []string{"GPU-332"})
	c.Check(h.manager.Reason("GPU-332"), check.Equals, "")
	c.Check(h.manager.ResumeCalls(), check.DeepEquals, []string{"GPU-332"})

	windowStart, ok := h.sink.Records()[2].Fields["window_start"]
	c.Assert(ok, check.Equals, true)
	c.Check(windowStart, check.Not(check.Equals), "")
}

// --- S2: excluded host ---

func (s *OrchestratorSuite) TestS2ExcludedHost(c *check.C) {
	cfg := fastConfig([]string{"HPCRDMA-0002-02"}, []string{"GPU-332"}, 0)
	h := newHarness(cfg, map[string]string{"i-001": "GPU-332"})
	h.cloud.AddEvent(scheduledEvent("i-001", "i-001", cfg.Region, []string{"HPCRDMA-0002-02"}))

	result, err := h.orch.RunPass(context.Background(), ModeFull, nil)
	c.Assert(err, check.IsNil)
	c.Check(len(result.Jobs), check.Equals, 0)
	c.Check(h.manager.DrainCalls(), check.HasLen, 0)
	c.Check(h.manager.ResumeCalls(), check.HasLen, 0)
	c.Check(h.sink.Actions(), check.DeepEquals, []string{"discover/excluded"})
}

// --- S3: unapproved fault ---

func (s *OrchestratorSuite) TestS3UnapprovedFault(c *check.C) {
	cfg := fastConfig([]string{"HPCRDMA-0002-02"}, nil, 0)
	h := newHarness(cfg, map[string]string{"i-001": "GPU-332"})
	h.cloud.AddEvent(scheduledEvent("i-001", "i-001", cfg.Region, []string{"OTHER-9999-99"}))

	result, err := h.orch.RunPass(context.Background(), ModeFull, nil)
	c.Assert(err, check.IsNil)
	c.Check(len(result.Jobs), check.Equals, 0)
	c.Check(h.manager.DrainCalls(), check.HasLen, 0)
}

// --- S4: daily cap ---

func (s *OrchestratorSuite) TestS4DailyCap(c *check.C) {
	cfg := fastConfig([]string{"HPCRDMA-0002-02"}, nil, 1)
	h := newHarness(cfg, map[string]string{"i-001": "GPU-332", "i-002": "GPU-333"})
	h.cloud.AddEvent(scheduledEvent("i-001", "i-001", cfg.Region, []string{"HPCRDMA-0002-02"}))
	h.cloud.AddEvent(scheduledEvent("i-002", "i-002", cfg.Region, []string{"HPCRDMA-0002-02"}))
	h.cloud.SetPostUpdateLifecycle("i-001/instance-reboot", cloudmaint.LifecycleSucceeded)
	h.cloud.SetPostUpdateLifecycle("i-002/instance-reboot", cloudmaint.LifecycleSucceeded)

	result, err := h.orch.RunPass(context.Background(), ModeFull, nil)
	c.Assert(err, check.IsNil)
	c.Assert(len(result.Results), check.Equals, 2)

	scheduleRequests := 0
	for _, a := range h.sink.Actions() {
		if a == "maintenance/schedule_request" {
			scheduleRequests++
		}
	}
	c.Check(scheduleRequests, check.Equals, 1)

	var skipped, done int
	for _, r := range result.Results {
		switch r.State {
		case StateSkipped:
			skipped++
		case StateDone:
			done++
		}
	}
	c.Check(skipped, check.Equals, 1)
	c.Check(done, check.Equals, 1)
}

// --- S5: maintenance failed ---

func (s *OrchestratorSuite) TestS5MaintenanceFailed(c *check.C) {
	cfg := fastConfig([]string{"HPCRDMA-0002-02"}, nil, 0)
	h := newHarness(cfg, map[string]string{"i-001": "GPU-332"})
	h.cloud.AddEvent(scheduledEvent("i-001", "i-001", cfg.Region, []string{"HPCRDMA-0002-02"}))
	h.cloud.SetPostUpdateLifecycle("i-001/instance-reboot", cloudmaint.LifecycleFailed)

	result, err := h.orch.RunPass(context.Background(), ModeFull, nil)
	c.Assert(err, check.IsNil)
	c.Assert(len(result.Results), check.Equals, 1)
	c.Check(result.Results[0].Outcome.Kind, check.Equals, KindMaintenanceFailed)

	actions := h.sink.Actions()
	c.Check(contains(actions, "maintenance/event_failed"), check.Equals, true)
	c.Check(contains(actions, "finalize/held"), check.Equals, true)
	c.Check(contains(actions, "health/pass"), check.Equals, false)
	c.Check(h.manager.ResumeCalls(), check.HasLen, 0)
	c.Check(h.manager.Reason("GPU-332"), check.Matches, "HPCRDMA-0002-02:.*")
}

// --- S6: dry run of S1 ---

func (s *OrchestratorSuite) TestS6DryRun(c *check.C) {
	cfg := fastConfig([]string{"HPCRDMA-0002-02"}, nil, 0)
	cfg.DryRun = true
	h := newHarness(cfg, map[string]string{"i-001": "GPU-332"})
	h.cloud.AddEvent(scheduledEvent("i-001", "i-001", cfg.Region, []string{"HPCRDMA-0002-02"}))

	result, err := h.orch.RunPass(context.Background(), ModeFull, nil)
	c.Assert(err, check.IsNil)
	c.Check(result.Results[0].State, check.Equals, StateDone)

	c.Check(h.manager.DrainCalls(), check.HasLen, 0)
	c.Check(h.manager.ResumeCalls(), check.HasLen, 0)
	c.Check(h.cloud.UpdateCalls(), check.Equals, int64(0))

	actions := h.sink.Actions()
	c.Check(contains(actions, "drain/requested"), check.Equals, true)
	c.Check(contains(actions, "maintenance/schedule_request"), check.Equals, true)
	c.Check(contains(actions, "maintenance/schedule_accepted"), check.Equals, false)
	c.Check(contains(actions, "maintenance/event_complete"), check.Equals, false)

	for _, r := range h.sink.Records() {
		if r.Phase == "drain" && r.Action == "requested" {
			c.Check(r.Fields["dry_run"], check.Equals, true)
		}
		if r.Phase == "maintenance" && r.Action == "schedule_request" {
			c.Check(r.Fields["dry_run"], check.Equals, true)
		}
	}
}

// --- Boundary behaviors ---

func (s *OrchestratorSuite) TestEmptyApprovedSetYieldsEmptyJobList(c *check.C) {
	cfg := fastConfig(nil, nil, 0)
	h := newHarness(cfg, map[string]string{"i-001": "GPU-332"})
	h.cloud.AddEvent(scheduledEvent("i-001", "i-001", cfg.Region, []string{"HPCRDMA-0002-02"}))

	result, err := h.orch.RunPass(context.Background(), ModeFull, nil)
	c.Assert(err, check.IsNil)
	c.Check(len(result.Jobs), check.Equals, 0)
}

func (s *OrchestratorSuite) TestMultipleApprovedFaultsPickSmallest(c *check.C) {
	cfg := fastConfig([]string{"FAULT-B", "FAULT-A"}, nil, 0)
	h := newHarness(cfg, map[string]string{"i-001": "GPU-332"})
	h.cloud.AddEvent(scheduledEvent("i-001", "i-001", cfg.Region, []string{"FAULT-B", "FAULT-A"}))
	h.cloud.SetPostUpdateLifecycle("i-001/instance-reboot", cloudmaint.LifecycleSucceeded)

	result, err := h.orch.RunPass(context.Background(), ModeFull, nil)
	c.Assert(err, check.IsNil)
	c.Assert(len(result.Jobs), check.Equals, 1)
	c.Check(result.Jobs[0].FaultID, check.Equals, "FAULT-A")
}

func (s *OrchestratorSuite) TestDrainAlreadyQuiescedStillAuditsRequested(c *check.C) {
	cfg := fastConfig([]string{"HPCRDMA-0002-02"}, nil, 0)
	h := newHarness(cfg, map[string]string{"i-001": "GPU-332"})
	h.manager.SetState("GPU-332", wlm.StateDrained)
	h.cloud.AddEvent(scheduledEvent("i-001", "i-001", cfg.Region, []string{"HPCRDMA-0002-02"}))
	h.cloud.SetPostUpdateLifecycle("i-001/instance-reboot", cloudmaint.LifecycleSucceeded)

	result, err := h.orch.RunPass(context.Background(), ModeFull, nil)
	c.Assert(err, check.IsNil)
	c.Check(result.Results[0].State, check.Equals, StateDone)
	c.Check(contains(h.sink.Actions(), "drain/requested"), check.Equals, true)
}

func (s *OrchestratorSuite) TestUnresolvedInstanceAudited(c *check.C) {
	cfg := fastConfig([]string{"HPCRDMA-0002-02"}, nil, 0)
	h := newHarness(cfg, map[string]string{}) // no mapping: unresolved
	h.cloud.AddEvent(scheduledEvent("i-404", "i-404", cfg.Region, []string{"HPCRDMA-0002-02"}))

	result, err := h.orch.RunPass(context.Background(), ModeFull, nil)
	c.Assert(err, check.IsNil)
	c.Check(len(result.Jobs), check.Equals, 0)
	c.Check(h.sink.Actions(), check.DeepEquals, []string{"discover/unresolved"})
}

// --- Idempotence: running catchup twice on a terminal-success event ---

func (s *OrchestratorSuite) TestCatchupIdempotentOnTerminalSuccess(c *check.C) {
	cfg := fastConfig([]string{"HPCRDMA-0002-02"}, nil, 0)
	h := newHarness(cfg, map[string]string{"i-001": "GPU-332"})
	h.manager.SetState("GPU-332", wlm.StateDrained) // drained by the original pass, pending resume
	ev := scheduledEvent("i-001", "i-001", cfg.Region, []string{"HPCRDMA-0002-02"})
	ev.LifecycleState = cloudmaint.LifecycleSucceeded
	ev.FreeformTags = map[string]string{cfg.ProcessedTag: cfg.ProcessedTag}
	h.cloud.AddEvent(ev)

	first, err := h.orch.RunCatchup(context.Background(), "")
	c.Assert(err, check.IsNil)
	c.Assert(len(first.Results), check.Equals, 1)
	c.Check(first.Results[0].Outcome.OK, check.Equals, true)

	second, err := h.orch.RunCatchup(context.Background(), "")
	c.Assert(err, check.IsNil)
	c.Assert(len(second.Results), check.Equals, 1)
	c.Check(second.Results[0].Outcome.OK, check.Equals, true)

	c.Check(h.manager.ResumeCalls(), check.DeepEquals, []string{"GPU-332"})
	c.Check(h.cloud.UpdateCalls(), check.Equals, int64(0))
}

func contains(items []string, target string) bool {
	for _, it := range items {
		if it == target {
			return true
		}
	}
	return false
}
