package wlm

import (
	"context"
	"sync"
)

// FakeManager is an in-memory Manager for tests.
type FakeManager struct {
	mu          sync.Mutex
	states      map[string]NodeState
	reasons     map[string]string
	drainCalls  []string
	resumeCalls []string
	downCalls   []string
}

// NewFakeManager returns a FakeManager with every host initially IDLE.
func NewFakeManager() *FakeManager {
	return &FakeManager{
		states:  map[string]NodeState{},
		reasons: map[string]string{},
	}
}

// SetState lets a test seed or change a host's observed state, e.g. to
// simulate it already being drained when discovered.
func (f *FakeManager) SetState(hostname string, s NodeState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[hostname] = s
}

// Reason returns the last reason string set for hostname.
func (f *FakeManager) Reason(hostname string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reasons[hostname]
}

// DrainCalls, ResumeCalls, and DownCalls return the hostnames passed to
// the corresponding mutating call, in call order, for asserting dry-run
// made none and live-run made the expected ones.
func (f *FakeManager) DrainCalls() []string  { return f.snapshot(f.drainCalls) }
func (f *FakeManager) ResumeCalls() []string { return f.snapshot(f.resumeCalls) }
func (f *FakeManager) DownCalls() []string   { return f.snapshot(f.downCalls) }

func (f *FakeManager) snapshot(s []string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), s...)
}

func (f *FakeManager) CurrentReason(ctx context.Context, hostname string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reasons[hostname], nil
}

func (f *FakeManager) NodeState(ctx context.Context, hostname string) (NodeState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[hostname]
	if !ok {
		return StateIdle, nil
	}
	return s, nil
}

func (f *FakeManager) SetDrain(ctx context.Context, hostname, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drainCalls = append(f.drainCalls, hostname)
	f.reasons[hostname] = reason
	f.states[hostname] = StateDrained
	return nil
}

func (f *FakeManager) SetResume(ctx context.Context, hostname string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumeCalls = append(f.resumeCalls, hostname)
	delete(f.reasons, hostname)
	f.states[hostname] = StateIdle
	return nil
}

func (f *FakeManager) SetDown(ctx context.Context, hostname, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downCalls = append(f.downCalls, hostname)
	f.reasons[hostname] = reason
	f.states[hostname] = StateDown
	return nil
}
