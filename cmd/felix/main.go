// Command felix drains, schedules, and resumes cluster hosts around
// cloud-issued hardware maintenance events, per the orchestrator
// implemented in internal/maint.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/veeragoni/hpc-maintenance/internal/audit"
	"github.com/veeragoni/hpc-maintenance/internal/cloudmaint"
	"github.com/veeragoni/hpc-maintenance/internal/cmd"
	"github.com/veeragoni/hpc-maintenance/internal/inventory"
	"github.com/veeragoni/hpc-maintenance/internal/maint"
	"github.com/veeragoni/hpc-maintenance/internal/wlm"
)

var version = "dev"

func main() {
	os.Exit(runCmd("felix", os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

var runCmd = cmd.Multi(map[string]cmd.RunFunc{
	"run":      runPass,
	"loop":     runLoop,
	"stage":    runStage,
	"catchup":  runCatchup,
	"discover": runDiscover,
	"report":   runReport,
	"drain": singlePhase("drain", func(r *maint.Runner, ctx context.Context, job maint.Job) maint.Outcome {
		return r.RunDrainPhase(ctx, job)
	}),
	"maintenance": singlePhase("maintenance", func(r *maint.Runner, ctx context.Context, job maint.Job) maint.Outcome {
		return r.RunMaintenancePhase(ctx, job)
	}),
	"health": singlePhase("health", func(r *maint.Runner, ctx context.Context, job maint.Job) maint.Outcome {
		return r.RunHealthPhase(ctx, job)
	}),
	"finalize": singlePhase("finalize", func(r *maint.Runner, ctx context.Context, job maint.Job) maint.Outcome {
		return r.RunFinalizePhase(ctx, job)
	}),
	"version": func(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
		fmt.Fprintf(stdout, "felix %s\n", version)
		return 0
	},
})

// bootstrap is everything every subcommand needs: the loaded Config
// plus wired collaborators. Building it is the one place main.go owns
// logic beyond argument parsing; everything else is internal/maint.
type bootstrap struct {
	cfg     maint.Config
	env     envConfig
	logger  *logrus.Logger
	cloud   cloudmaint.Client
	manager wlm.Manager
	inv     inventory.Resolver
	sink    audit.Sink
	closer  func()
}

func newBootstrap(ctx context.Context, dryRun bool) (*bootstrap, error) {
	cfg, env, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cfg.DryRun = dryRun

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(env.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	if env.LogFile != "" {
		f, err := os.OpenFile(env.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		logger.SetOutput(f)
	}

	var cloud cloudmaint.Client
	if env.Cloud == "fake" {
		cloud = cloudmaint.NewFakeClient(cfg.Region)
	} else {
		cloud, err = cloudmaint.NewEC2Client(ctx, cloudmaint.EC2Config{Region: cfg.Region}, logger)
		if err != nil {
			return nil, err
		}
	}

	manager := wlm.NewSlurmCLI(cfg.MaxWorkers, os.Getenv("SLURM_SUDO") == "1", logger)

	var invResolver inventory.Resolver
	if mgmtCmd := os.Getenv("INVENTORY_COMMAND"); mgmtCmd != "" {
		invResolver = inventory.NewCLIResolver([]string{"/bin/sh", "-c", mgmtCmd}, time.Minute, logger)
	} else {
		invResolver = inventory.NewCLIResolver(nil, time.Minute, logger)
	}

	sink, err := audit.NewJSONLSink(env.EventsLog)
	if err != nil {
		return nil, err
	}

	return &bootstrap{
		cfg: cfg, env: env, logger: logger,
		cloud: cloud, manager: manager, inv: invResolver, sink: sink,
		closer: func() { sink.Close() },
	}, nil
}

func (b *bootstrap) orchestrator() *maint.Orchestrator {
	metrics := maint.NewMetrics(prometheus.DefaultRegisterer)
	return maint.NewOrchestrator(b.cfg, b.cloud, b.manager, b.inv, b.sink, maint.AlwaysPass{}, metrics, b.logger)
}

func runPass(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	dryRun := hasFlag(args, "--dry-run")
	ctx := context.Background()
	b, err := newBootstrap(ctx, dryRun)
	if err != nil {
		return exitForSetupError(err, stderr)
	}
	defer b.closer()

	result, err := b.orchestrator().RunPass(ctx, maint.ModeFull, nil)
	if err != nil {
		return exitForSetupError(err, stderr)
	}
	printSummary(stdout, result)
	if len(result.FailedHosts()) > 0 {
		return 2
	}
	return 0
}

func runStage(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	dryRun := hasFlag(args, "--dry-run")
	ctx := context.Background()
	b, err := newBootstrap(ctx, dryRun)
	if err != nil {
		return exitForSetupError(err, stderr)
	}
	defer b.closer()

	result, err := b.orchestrator().RunPass(ctx, maint.ModeStage, nil)
	if err != nil {
		return exitForSetupError(err, stderr)
	}
	printSummary(stdout, result)
	if len(result.FailedHosts()) > 0 {
		return 2
	}
	return 0
}

func runCatchup(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	dryRun := hasFlag(args, "--dry-run")
	host := flagValue(args, "--host")
	ctx := context.Background()
	b, err := newBootstrap(ctx, dryRun)
	if err != nil {
		return exitForSetupError(err, stderr)
	}
	defer b.closer()

	result, err := b.orchestrator().RunCatchup(ctx, host)
	if err != nil {
		return exitForSetupError(err, stderr)
	}
	printSummary(stdout, result)
	if len(result.FailedHosts()) > 0 {
		return 2
	}
	return 0
}

func runDiscover(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	all := hasFlag(args, "--all")
	asJSON := hasFlag(args, "--json")
	ctx := context.Background()
	b, err := newBootstrap(ctx, true)
	if err != nil {
		return exitForSetupError(err, stderr)
	}
	defer b.closer()

	disc := maint.NewDiscoverer(b.cloud, b.inv, b.sink, maint.NewMetrics(prometheus.DefaultRegisterer), b.logger)
	result, err := disc.Discover(ctx, b.cfg, maint.DiscoverOptions{IncludeAll: all})
	if err != nil {
		return exitForSetupError(err, stderr)
	}

	if asJSON {
		enc := json.NewEncoder(stdout)
		return encodeOrFail(enc, result, stderr)
	}
	for _, j := range result.Jobs {
		fmt.Fprintf(stdout, "%s\t%s\t%s\n", j.Hostname, j.FaultID, j.EventID)
	}
	if all {
		for _, s := range result.Skipped {
			fmt.Fprintf(stdout, "SKIPPED\t%s\t%s\n", s.Event.InstanceID, s.Reason)
		}
	}
	return 0
}

func runReport(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	includeCanceled := hasFlag(args, "--include-canceled")
	asJSON := hasFlag(args, "--json")
	ctx := context.Background()
	b, err := newBootstrap(ctx, true)
	if err != nil {
		return exitForSetupError(err, stderr)
	}
	defer b.closer()

	disc := maint.NewDiscoverer(b.cloud, b.inv, b.sink, maint.NewMetrics(prometheus.DefaultRegisterer), b.logger)
	result, err := disc.Discover(ctx, b.cfg, maint.DiscoverOptions{IncludeAll: true})
	if err != nil {
		return exitForSetupError(err, stderr)
	}

	if asJSON {
		enc := json.NewEncoder(stdout)
		return encodeOrFail(enc, result, stderr)
	}

	states := make(map[cloudmaint.LifecycleState]int)
	for _, ev := range result.AllEvents {
		if !includeCanceled && ev.LifecycleState == cloudmaint.LifecycleCanceled {
			continue
		}
		states[ev.LifecycleState]++
	}
	var keys []string
	for s := range states {
		keys = append(keys, string(s))
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(stdout, "%s\t%d\n", k, states[cloudmaint.LifecycleState(k)])
	}
	return 0
}

// phaseFunc runs exactly one phase driver against a discovered job.
type phaseFunc func(r *maint.Runner, ctx context.Context, job maint.Job) maint.Outcome

// singlePhase builds a RunFunc that resolves hostname's Job via
// discovery and runs exactly one phase driver against it, mirroring
// the original tool's one-subcommand-per-phase CLI: `drain` only
// drains, `maintenance` only schedules and waits for the provider's
// terminal state, `health` only evaluates the health predicate, and
// `finalize` only applies the workload-manager resume/hold decision.
func singlePhase(name string, run phaseFunc) cmd.RunFunc {
	return func(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
		if len(args) < 1 {
			fmt.Fprintf(stderr, "usage: felix %s <hostname>\n", name)
			return 2
		}
		hostname := args[0]
		dryRun := hasFlag(args, "--dry-run")
		ctx := context.Background()
		b, err := newBootstrap(ctx, dryRun)
		if err != nil {
			return exitForSetupError(err, stderr)
		}
		defer b.closer()

		orch := b.orchestrator()
		job, ok, err := orch.FindJob(ctx, hostname)
		if err != nil {
			return exitForSetupError(err, stderr)
		}
		if !ok {
			fmt.Fprintf(stderr, "felix %s: no maintenance job found for host %q\n", name, hostname)
			return 2
		}

		outcome := run(orch.Runner, ctx, job)
		fmt.Fprintf(stdout, "%s\t%s\tok=%t\t%s\n", hostname, name, outcome.OK, outcome.Detail)
		if !outcome.OK {
			return 2
		}
		return 0
	}
}

func runLoop(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	dryRun := hasFlag(args, "--dry-run")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := newBootstrap(ctx, dryRun)
	if err != nil {
		return exitForSetupError(err, stderr)
	}
	defer b.closer()

	if addr := os.Getenv("MANAGEMENT_ADDR"); addr != "" {
		go serveManagement(addr, b.logger)
	}

	orch := b.orchestrator()
	ticker := time.NewTicker(b.cfg.LoopInterval)
	defer ticker.Stop()
	for {
		result, err := orch.RunPass(ctx, maint.ModeFull, nil)
		if err != nil {
			b.logger.WithError(err).Error("pass failed")
		} else {
			printSummary(stdout, result)
		}
		select {
		case <-ctx.Done():
			return 0
		case <-ticker.C:
		}
	}
}

// serveManagement runs the /metrics and /healthz surface for loop
// mode, the same httprouter shape the teacher wires its health server
// with.
func serveManagement(addr string, logger logrus.FieldLogger) {
	router := httprouter.New()
	router.Handler("GET", "/metrics", promhttp.Handler())
	router.GET("/healthz", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	logger.WithField("addr", addr).Info("management surface listening")
	if err := http.ListenAndServe(addr, router); err != nil {
		logger.WithError(err).Error("management surface exited")
	}
}

func printSummary(w io.Writer, result maint.PassResult) {
	counts := map[maint.State]int{}
	for _, r := range result.Results {
		counts[r.State]++
	}
	fmt.Fprintf(w, "jobs=%d done=%d skipped=%d failed=%d\n",
		len(result.Jobs), counts[maint.StateDone], counts[maint.StateSkipped], counts[maint.StateFailed])
	for _, h := range result.FailedHosts() {
		fmt.Fprintf(w, "FAILED\t%s\n", h)
	}
}

// exitForSetupError reports a fatal error that aborted the pass before
// any per-host outcome was recorded — config loading, collaborator
// construction, or the pass call itself erroring out below the
// per-host boundary — and returns the spec's exit code for that class.
// *maint.ConfigError is the only class documented as fatal-abort, but
// the other setup failures above have no narrower code of their own
// and share exit 1 with it; exit 2 is reserved for a pass that ran to
// completion with one or more hosts FAILED.
func exitForSetupError(err error, stderr io.Writer) int {
	fmt.Fprintln(stderr, err)
	return 1
}

func encodeOrFail(enc *json.Encoder, v interface{}, stderr io.Writer) int {
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	return 0
}

func hasFlag(args []string, name string) bool {
	for _, a := range args {
		if a == name {
			return true
		}
	}
	return false
}

func flagValue(args []string, name string) string {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
