package maint

import "time"

// Config is the immutable configuration record for one orchestrator
// pass. It is constructed once by the CLI boundary from environment
// variables and JSON list files and passed explicitly to every
// component; the core never reads the environment itself.
type Config struct {
	TenancyOCID string
	Region      string

	DrainPollInterval  time.Duration
	DrainTimeout       time.Duration
	MaintPollInterval  time.Duration
	MaintPollMax       time.Duration
	LoopInterval       time.Duration
	DailyScheduleCap   int64
	MaxWorkers         int
	ScheduleLeadTime   time.Duration
	ProcessedTag       string
	CallTimeout        time.Duration
	HealthCheckTimeout time.Duration

	ApprovedFaults ApprovedFaults
	ExcludedHosts  ExcludedHosts

	DryRun bool
}

// DefaultConfig returns a Config with every numeric field at the
// value spec.md names as the default, and empty fault/host sets. The
// CLI boundary overrides fields from the environment before use.
func DefaultConfig() Config {
	return Config{
		DrainPollInterval:  30 * time.Second,
		DrainTimeout:       30 * time.Minute,
		MaintPollInterval:  30 * time.Second,
		MaintPollMax:       300 * time.Second,
		LoopInterval:       900 * time.Second,
		DailyScheduleCap:   10,
		MaxWorkers:         8,
		ScheduleLeadTime:   5 * time.Minute,
		ProcessedTag:       "felix",
		CallTimeout:        30 * time.Second,
		HealthCheckTimeout: 30 * time.Second,
		ApprovedFaults:     NewApprovedFaults(),
		ExcludedHosts:      NewExcludedHosts(),
	}
}

// ApprovedFaults is the exact, case-sensitive set of fault ids the
// operator has whitelisted for automated action.
type ApprovedFaults struct {
	set map[string]bool
}

// NewApprovedFaults builds an ApprovedFaults set from faultIDs.
func NewApprovedFaults(faultIDs ...string) ApprovedFaults {
	set := make(map[string]bool, len(faultIDs))
	for _, id := range faultIDs {
		set[id] = true
	}
	return ApprovedFaults{set: set}
}

// Contains reports whether faultID is exactly approved.
func (a ApprovedFaults) Contains(faultID string) bool {
	return a.set[faultID]
}

// SmallestApproved returns the lexicographically smallest member of
// faultIDs that is approved, and whether one was found.
func (a ApprovedFaults) SmallestApproved(faultIDs []string) (string, bool) {
	var best string
	found := false
	for _, id := range faultIDs {
		if !a.Contains(id) {
			continue
		}
		if !found || id < best {
			best = id
			found = true
		}
	}
	return best, found
}

// ExcludedHosts is the set of hostnames that must never receive a
// mutating call.
type ExcludedHosts struct {
	set map[string]bool
}

// NewExcludedHosts builds an ExcludedHosts set from hostnames.
func NewExcludedHosts(hostnames ...string) ExcludedHosts {
	set := make(map[string]bool, len(hostnames))
	for _, h := range hostnames {
		set[h] = true
	}
	return ExcludedHosts{set: set}
}

// Contains reports whether hostname is excluded.
func (e ExcludedHosts) Contains(hostname string) bool {
	return e.set[hostname]
}
