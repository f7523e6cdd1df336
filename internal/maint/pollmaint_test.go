package maint

import (
	"context"
	"time"

	check "gopkg.in/check.v1"

	"github.com/veeragoni/hpc-maintenance/internal/audit"
	"github.com/veeragoni/hpc-maintenance/internal/cloudmaint"
)

var _ = check.Suite(&PollDriverSuite{})

type PollDriverSuite struct{}

func (s *PollDriverSuite) TestTransientReadErrorIsAbsorbedByBackoff(c *check.C) {
	cloud := cloudmaint.NewFakeClient("region-1")
	ev := scheduledEvent("i-001", "i-001", "region-1", []string{"HPCRDMA-0002-02"})
	cloud.AddEvent(ev)
	cloud.FailNextGets(3)
	cloud.SetLifecycleState(ev.EventID, cloudmaint.LifecycleSucceeded)

	p := &PollDriver{
		Cloud:       cloud,
		Audit:       audit.NewMemorySink(),
		Metrics:     NewMetrics(nil),
		Logger:      testLogger(),
		Interval:    time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		CallTimeout: time.Second,
	}

	outcome := p.Run(context.Background(), Job{Hostname: "GPU-332", EventID: ev.EventID}, false)
	c.Check(outcome.OK, check.Equals, true)
}

func (s *PollDriverSuite) TestCancellationEndsTheWait(c *check.C) {
	cloud := cloudmaint.NewFakeClient("region-1")
	ev := scheduledEvent("i-001", "i-001", "region-1", []string{"HPCRDMA-0002-02"})
	cloud.AddEvent(ev)
	cloud.SetLifecycleState(ev.EventID, cloudmaint.LifecycleStarted)

	p := &PollDriver{
		Cloud:       cloud,
		Audit:       audit.NewMemorySink(),
		Metrics:     NewMetrics(nil),
		Logger:      testLogger(),
		Interval:    time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		CallTimeout: time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcome := p.Run(ctx, Job{Hostname: "GPU-332", EventID: ev.EventID}, false)
	c.Check(outcome.OK, check.Equals, false)
	c.Check(outcome.Kind, check.Equals, KindCancelled)
}

func (s *PollDriverSuite) TestPersistentReadErrorWaitsForCancellationNotImmediateFailure(c *check.C) {
	cloud := cloudmaint.NewFakeClient("region-1")
	ev := scheduledEvent("i-001", "i-001", "region-1", []string{"HPCRDMA-0002-02"})
	cloud.AddEvent(ev)
	cloud.FailNextGets(1 << 30) // never stops erroring on its own

	p := &PollDriver{
		Cloud:       cloud,
		Audit:       audit.NewMemorySink(),
		Metrics:     NewMetrics(nil),
		Logger:      testLogger(),
		Interval:    time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		CallTimeout: time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	outcome := p.Run(ctx, Job{Hostname: "GPU-332", EventID: ev.EventID}, false)
	c.Check(outcome.OK, check.Equals, false)
	c.Check(outcome.Kind, check.Equals, KindCancelled)
}
