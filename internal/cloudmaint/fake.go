package cloudmaint

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// FakeClient is an in-memory Client for tests, modelled on the
// teacher's lib/cloud/loopback in-memory InstanceSet: no network
// calls, deterministic, safe for concurrent use.
type FakeClient struct {
	mu                  sync.Mutex
	compartments        []string
	events              map[string]MaintenanceEvent
	workRequests        map[string]WorkRequest
	nextWRSeq           int64
	updateCalls         int64
	postUpdateLifecycle map[string]LifecycleState
	failNextGets        int
}

// NewFakeClient returns an empty FakeClient scoped to the given
// compartments.
func NewFakeClient(compartments ...string) *FakeClient {
	return &FakeClient{
		compartments: compartments,
		events:       map[string]MaintenanceEvent{},
		workRequests: map[string]WorkRequest{},
	}
}

// AddEvent registers an event as discoverable.
func (f *FakeClient) AddEvent(ev MaintenanceEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev.FreeformTags == nil {
		ev.FreeformTags = map[string]string{}
	}
	f.events[ev.EventID] = ev
}

// SetLifecycleState lets a test simulate the provider transitioning an
// event, e.g. to FAILED mid-poll.
func (f *FakeClient) SetLifecycleState(eventID string, s LifecycleState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev := f.events[eventID]
	ev.LifecycleState = s
	f.events[eventID] = ev
}

// SetPostUpdateLifecycle arranges for eventID's lifecycle_state to
// move to s as a side effect of the next UpdateInstanceMaintenanceEvent
// call, simulating the provider starting to act on the accepted
// schedule. Without this, a scheduled event's lifecycle never advances
// past SCHEDULED in the fake, and the maintenance-polling phase would
// wait forever.
func (f *FakeClient) SetPostUpdateLifecycle(eventID string, s LifecycleState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postUpdateLifecycle == nil {
		f.postUpdateLifecycle = map[string]LifecycleState{}
	}
	f.postUpdateLifecycle[eventID] = s
}

// SetWorkRequestState lets a test simulate a work request reaching a
// given state on its next poll.
func (f *FakeClient) SetWorkRequestState(workRequestID string, s WorkRequestState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wr := f.workRequests[workRequestID]
	wr.State = s
	f.workRequests[workRequestID] = wr
}

// FailNextGets arranges for the next n GetInstanceMaintenanceEvent
// calls to return a transient read error, simulating momentary
// provider throttling mid-poll.
func (f *FakeClient) FailNextGets(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNextGets = n
}

// UpdateCalls returns the number of UpdateInstanceMaintenanceEvent
// calls made so far, for asserting dry-run made none.
func (f *FakeClient) UpdateCalls() int64 {
	return atomic.LoadInt64(&f.updateCalls)
}

func (f *FakeClient) ListCompartments(ctx context.Context) ([]string, error) {
	return append([]string(nil), f.compartments...), nil
}

func (f *FakeClient) ListInstanceMaintenanceEvents(ctx context.Context, compartmentID string) ([]MaintenanceEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []MaintenanceEvent
	for _, ev := range f.events {
		if ev.CompartmentID == compartmentID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out, nil
}

func (f *FakeClient) GetInstanceMaintenanceEvent(ctx context.Context, eventID string) (MaintenanceEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNextGets > 0 {
		f.failNextGets--
		return MaintenanceEvent{}, fmt.Errorf("cloudmaint: fake: simulated transient read error for %q", eventID)
	}
	ev, ok := f.events[eventID]
	if !ok {
		return MaintenanceEvent{}, fmt.Errorf("cloudmaint: fake: event %q not found", eventID)
	}
	return ev, nil
}

func (f *FakeClient) UpdateInstanceMaintenanceEvent(ctx context.Context, eventID string, in UpdateInput) (WorkRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	atomic.AddInt64(&f.updateCalls, 1)
	ev, ok := f.events[eventID]
	if !ok {
		return WorkRequest{}, fmt.Errorf("cloudmaint: fake: event %q not found", eventID)
	}
	ev.TimeWindowStart = &in.TimeWindowStart
	if ev.FreeformTags == nil {
		ev.FreeformTags = map[string]string{}
	}
	for k, v := range in.FreeformTags {
		ev.FreeformTags[k] = v
	}
	if s, ok := f.postUpdateLifecycle[eventID]; ok {
		ev.LifecycleState = s
	}
	f.events[eventID] = ev

	f.nextWRSeq++
	wrID := fmt.Sprintf("wr-%d", f.nextWRSeq)
	// Mirrors ec2Client: the fake's provider has no asynchronous accept
	// step either, so the work request starts terminal. Any state set
	// for this id beforehand is overwritten here; SetWorkRequestState
	// only changes the request after it has been created.
	wr := WorkRequest{ID: wrID, State: WorkRequestSucceeded}
	f.workRequests[wrID] = wr
	return wr, nil
}

func (f *FakeClient) GetWorkRequest(ctx context.Context, workRequestID string) (WorkRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wr, ok := f.workRequests[workRequestID]
	if !ok {
		return WorkRequest{}, fmt.Errorf("cloudmaint: fake: work request %q not found", workRequestID)
	}
	return wr, nil
}
