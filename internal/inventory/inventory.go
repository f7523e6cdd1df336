// Package inventory defines the inventory collaborator the
// orchestrator uses to resolve a cloud instance id to a cluster
// hostname, plus a CLI-backed driver and an in-memory fake for tests.
package inventory

import (
	"context"
)

// Resolver is the inventory collaborator.
type Resolver interface {
	// ResolveHost maps instanceID to a hostname. ok is false if the
	// instance is not present in inventory.
	ResolveHost(ctx context.Context, instanceID string) (hostname string, ok bool, err error)
}
