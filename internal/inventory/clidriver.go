package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// node mirrors one entry of the management tool's "nodes list json"
// output: an instance id ("ocid" in the original tool's vocabulary)
// paired with the hostname it is currently racked as.
type node struct {
	InstanceID string `json:"ocid"`
	Hostname   string `json:"hostname"`
}

// CLIResolver resolves hosts by shelling out to a cluster management
// tool and caching its inventory snapshot for a short TTL, the same
// way the original tool invoked "manage.py nodes list json" on every
// lookup but kept the parsed result in memory for the life of a pass.
type CLIResolver struct {
	Command []string // e.g. []string{"/config/mgmt/manage.py", "nodes", "list", "json"}
	TTL     time.Duration

	logger logrus.FieldLogger
	mu     sync.Mutex
	cache  map[string]string
	loaded time.Time
}

// NewCLIResolver returns a CLIResolver that runs command to refresh its
// cache, at most once per ttl.
func NewCLIResolver(command []string, ttl time.Duration, logger logrus.FieldLogger) *CLIResolver {
	return &CLIResolver{Command: command, TTL: ttl, logger: logger}
}

func (r *CLIResolver) ResolveHost(ctx context.Context, instanceID string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache == nil || time.Since(r.loaded) > r.TTL {
		if err := r.refresh(ctx); err != nil {
			return "", false, err
		}
	}
	hostname, ok := r.cache[instanceID]
	return hostname, ok, nil
}

func (r *CLIResolver) refresh(ctx context.Context) error {
	if len(r.Command) == 0 {
		return fmt.Errorf("inventory: no command configured")
	}
	cmd := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...)
	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("inventory: %s: %w", cmd.Path, err)
	}
	var nodes []node
	if err := json.Unmarshal(out, &nodes); err != nil {
		return fmt.Errorf("inventory: parsing %s output: %w", cmd.Path, err)
	}
	cache := make(map[string]string, len(nodes))
	for _, n := range nodes {
		if n.Hostname != "" {
			cache[n.InstanceID] = n.Hostname
		}
	}
	r.cache = cache
	r.loaded = time.Now()
	r.logger.WithFields(logrus.Fields{"nodes": len(cache)}).Debug("refreshed inventory cache")
	return nil
}
