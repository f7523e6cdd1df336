package wlm

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// SlurmCLI drives Slurm's scontrol(1) to read and mutate node state,
// the same way the teacher's slurmCLI drives sbatch/scancel: a
// semaphore bounds concurrent subprocess invocations, and every
// invocation's combined output is logged before the error (if any) is
// wrapped and returned.
type SlurmCLI struct {
	runSemaphore chan bool
	logger       logrus.FieldLogger
	sudo         bool
}

// NewSlurmCLI returns a SlurmCLI that runs at most maxConcurrent
// scontrol invocations at a time. If sudo is true, commands are run
// via sudo, matching the original tool's privilege model.
func NewSlurmCLI(maxConcurrent int, sudo bool, logger logrus.FieldLogger) *SlurmCLI {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &SlurmCLI{
		runSemaphore: make(chan bool, maxConcurrent),
		logger:       logger,
		sudo:         sudo,
	}
}

func (s *SlurmCLI) NodeState(ctx context.Context, hostname string) (NodeState, error) {
	out, err := s.run(ctx, false, "scontrol", "show", "node", hostname)
	if err != nil {
		return "", err
	}
	for _, tok := range strings.Fields(strings.ReplaceAll(out, "\n", " ")) {
		if strings.HasPrefix(tok, "State=") {
			return NodeState(strings.TrimRight(strings.TrimPrefix(tok, "State="), ",")), nil
		}
	}
	return "", fmt.Errorf("wlm: no State= field in scontrol output for %s", hostname)
}

// CurrentReason reads scontrol's Reason= field, empty if the node
// carries none (e.g. freshly resumed).
func (s *SlurmCLI) CurrentReason(ctx context.Context, hostname string) (string, error) {
	out, err := s.run(ctx, false, "scontrol", "show", "node", hostname)
	if err != nil {
		return "", err
	}
	for _, tok := range strings.Fields(strings.ReplaceAll(out, "\n", " ")) {
		if strings.HasPrefix(tok, "Reason=") {
			return strings.TrimPrefix(tok, "Reason="), nil
		}
	}
	return "", nil
}

func (s *SlurmCLI) SetDrain(ctx context.Context, hostname, reason string) error {
	_, err := s.run(ctx, true, "scontrol", "update",
		"NodeName="+hostname,
		"State=DRAIN",
		fmt.Sprintf("Reason=%s", reason))
	return err
}

func (s *SlurmCLI) SetResume(ctx context.Context, hostname string) error {
	_, err := s.run(ctx, true, "scontrol", "update",
		"NodeName="+hostname,
		"State=RESUME",
		"Reason=Maintenance_OK")
	return err
}

func (s *SlurmCLI) SetDown(ctx context.Context, hostname, reason string) error {
	_, err := s.run(ctx, true, "scontrol", "update",
		"NodeName="+hostname,
		"State=DOWN",
		fmt.Sprintf("Reason=%s", reason))
	return err
}

func (s *SlurmCLI) run(ctx context.Context, mutating bool, prog string, args ...string) (string, error) {
	s.runSemaphore <- true
	defer func() { <-s.runSemaphore }()

	if mutating && s.sudo {
		args = append([]string{prog}, args...)
		prog = "sudo"
	}
	cmd := exec.CommandContext(ctx, prog, args...)
	out, err := cmd.CombinedOutput()
	outTrim := strings.TrimSpace(string(out))
	if err != nil || len(out) > 0 {
		s.logger.WithFields(logrus.Fields{"cmd": cmd.Path, "args": cmd.Args}).Debug(outTrim)
	}
	if err != nil {
		return outTrim, fmt.Errorf("%s: %w (%q)", cmd.Path, err, outTrim)
	}
	return outTrim, nil
}
