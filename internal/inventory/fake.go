package inventory

import (
	"context"
	"sync"
)

// FakeResolver is an in-memory Resolver for tests.
type FakeResolver struct {
	mu   sync.Mutex
	byID map[string]string
}

// NewFakeResolver returns a FakeResolver seeded with the given
// instanceID -> hostname mapping.
func NewFakeResolver(byID map[string]string) *FakeResolver {
	cp := make(map[string]string, len(byID))
	for k, v := range byID {
		cp[k] = v
	}
	return &FakeResolver{byID: cp}
}

func (f *FakeResolver) ResolveHost(ctx context.Context, instanceID string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hostname, ok := f.byID[instanceID]
	return hostname, ok, nil
}
