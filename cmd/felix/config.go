package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/veeragoni/hpc-maintenance/internal/maint"
)

// envConfig is the boundary-only step that loads the immutable
// maint.Config from the environment and the two JSON list files, per
// §6's configuration inputs. The core never reads the environment
// directly; this is the one place that does.
type envConfig struct {
	Cloud     string // "aws" or "fake"
	EventsLog string
	LogLevel  string
	LogFile   string
}

func loadConfig() (maint.Config, envConfig, error) {
	cfg := maint.DefaultConfig()
	env := envConfig{
		Cloud:     getenv("CLOUD_DRIVER", "aws"),
		EventsLog: getenv("EVENTS_LOG_FILE", "logs/events.jsonl"),
		LogLevel:  getenv("LOG_LEVEL", "INFO"),
		LogFile:   os.Getenv("LOG_FILE"),
	}

	cfg.TenancyOCID = firstNonEmpty(os.Getenv("OCI_TENANCY_OCID"), os.Getenv("TENANCY_OCID"))
	cfg.Region = getenv("REGION", "us-ashburn-1")
	cfg.ProcessedTag = getenv("PROCESSED_TAG", "felix")

	var err error
	if cfg.DrainPollInterval, err = getenvSeconds("DRAIN_POLL_SEC", 30); err != nil {
		return cfg, env, err
	}
	if cfg.DrainTimeout, err = getenvSeconds("DRAIN_TIMEOUT_SEC", 30*60); err != nil {
		return cfg, env, err
	}
	if cfg.MaintPollInterval, err = getenvSeconds("MAINT_POLL_SEC", 30); err != nil {
		return cfg, env, err
	}
	if cfg.LoopInterval, err = getenvSeconds("LOOP_INTERVAL_SEC", 900); err != nil {
		return cfg, env, err
	}
	if cfg.ScheduleLeadTime, err = getenvSeconds("SCHEDULE_LEAD_SEC", 300); err != nil {
		return cfg, env, err
	}
	if cfg.DailyScheduleCap, err = getenvInt64("DAILY_SCHEDULE_CAP", 10); err != nil {
		return cfg, env, err
	}
	maxWorkers, err := getenvInt64("MAX_WORKERS", 8)
	if err != nil {
		return cfg, env, err
	}
	cfg.MaxWorkers = int(maxWorkers)

	approved, err := loadFaultList()
	if err != nil {
		return cfg, env, err
	}
	cfg.ApprovedFaults = maint.NewApprovedFaults(approved...)

	excluded, err := loadJSONStringList(os.Getenv("EXCLUDED_HOSTS_FILE"))
	if err != nil {
		return cfg, env, err
	}
	cfg.ExcludedHosts = maint.NewExcludedHosts(excluded...)

	if cfg.TenancyOCID == "" && env.Cloud == "aws" {
		return cfg, env, &maint.ConfigError{Detail: "OCI_TENANCY_OCID (or TENANCY_OCID) is required"}
	}

	return cfg, env, nil
}

func loadFaultList() ([]string, error) {
	if path := os.Getenv("APPROVED_FAULT_CODES_FILE"); path != "" {
		list, err := loadJSONStringList(path)
		if err != nil {
			return nil, err
		}
		if len(list) > 0 {
			return list, nil
		}
	}
	raw := os.Getenv("APPROVED_FAULT_CODES")
	if raw == "" {
		return nil, nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func loadJSONStringList(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing %s as a JSON array of strings: %w", path, err)
	}
	return list, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func getenvSeconds(key string, def int) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(def) * time.Second, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &maint.ConfigError{Detail: fmt.Sprintf("%s: %s", key, err)}
	}
	return time.Duration(n) * time.Second, nil
}

func getenvInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, &maint.ConfigError{Detail: fmt.Sprintf("%s: %s", key, err)}
	}
	return n, nil
}
