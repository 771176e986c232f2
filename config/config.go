// Package config loads the posrunner YAML configuration.
//
// Everything here is optional: a missing file yields the defaults, which run
// against the data files in ./data with the simulated POS driver. The
// scenario and settings CSVs stay the source of truth for test data and POS
// settings; this file only wires the runner itself.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nomis52/posrunner/driver"
	"github.com/nomis52/posrunner/engine"
	"github.com/nomis52/posrunner/logging"
	"github.com/nomis52/posrunner/report"
	"github.com/nomis52/posrunner/server/cron"
)

const (
	defaultScenariosFile = "data/test_scenarios.csv"
	defaultSettingsFile  = "data/app_settings.csv"

	defaultHelperSlack         = 10 * time.Second
	defaultInterstitialTimeout = 500 * time.Millisecond

	defaultEvidenceDir = "evidence"
	defaultReportDir   = "reports"
	defaultMaxRuns     = 100

	defaultMetricsPrefix = "posrunner"
	defaultJobName       = "posrunner"
	defaultListenAddr    = ":8080"

	defaultLogLevel  = "info"
	defaultLogFormat = "auto"
	defaultLogOutput = "stderr"
)

// Driver kinds.
const (
	DriverSim    = "sim"
	DriverHelper = "helper"
)

// Config represents the complete application configuration.
type Config struct {
	Data       DataConfig       `yaml:"data"`
	Driver     DriverConfig     `yaml:"driver"`
	Engine     EngineConfig     `yaml:"engine"`
	Evidence   EvidenceConfig   `yaml:"evidence"`
	Report     ReportConfig     `yaml:"report"`
	History    HistoryConfig    `yaml:"history"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Logging    logging.Config   `yaml:"logging"`
}

// DataConfig locates the scenario and settings CSV files.
type DataConfig struct {
	Scenarios string `yaml:"scenarios"`
	Settings  string `yaml:"settings"`
}

// DriverConfig selects the UI automation adapter.
type DriverConfig struct {
	// Kind is "sim" for the built-in simulated POS or "helper" for the
	// external automation helper.
	Kind string `yaml:"kind"`
	// Instances is the number of POS instances to drive in parallel.
	Instances int `yaml:"instances"`
	// Helper is the path of the automation helper binary.
	Helper string `yaml:"helper"`
	// Slack is the extra time each helper process gets beyond its wait.
	Slack time.Duration `yaml:"slack"`
	// SSH runs the helper on remote POS hosts. One host per instance.
	SSH *SSHConfig `yaml:"ssh,omitempty"`
	// Selectors override the default control selectors by key.
	Selectors map[string]driver.Selector `yaml:"selectors,omitempty"`
	// Sim seeds the simulated POS.
	Sim SimConfig `yaml:"sim"`
}

// SSHConfig holds the SSH connection settings for remote helpers.
type SSHConfig struct {
	Hosts          []string `yaml:"hosts"`
	User           string   `yaml:"user"`
	PrivateKeyFile string   `yaml:"private_key_file"`
	HostKey        string   `yaml:"host_key"`
}

// SimConfig seeds the simulated POS catalog and users.
type SimConfig struct {
	Title      string            `yaml:"title"`
	Users      map[string]string `yaml:"users"`
	Items      map[string]string `yaml:"items"`
	Promotions map[string]string `yaml:"promotions"`
}

// EngineConfig tunes the scenario engine.
type EngineConfig struct {
	// Timeout replaces the DEFAULT_TIMEOUT setting when non-zero.
	Timeout time.Duration `yaml:"timeout"`
	// StepTimeouts bound control resolution per step, keyed by step name.
	StepTimeouts map[string]time.Duration `yaml:"step_timeouts,omitempty"`
	// InterstitialTimeout bounds each interstitial probe during recovery.
	InterstitialTimeout time.Duration `yaml:"interstitial_timeout"`
	// Interstitials replaces the default recovery set when non-empty.
	Interstitials []engine.Interstitial `yaml:"interstitials,omitempty"`
	// StepLogs attaches each step's log lines to its result. Defaults to true.
	StepLogs *bool `yaml:"step_logs,omitempty"`
}

// EvidenceConfig controls failure snapshots.
type EvidenceConfig struct {
	// Enabled overrides the SCREENSHOT_ON_FAILURE setting when set.
	Enabled *bool  `yaml:"enabled,omitempty"`
	Dir     string `yaml:"dir"`
}

// ReportConfig controls report documents.
type ReportConfig struct {
	Dir    string `yaml:"dir"`
	Format string `yaml:"format"`
}

// HistoryConfig controls the run history.
type HistoryConfig struct {
	// Dir persists history as JSON files. Empty keeps history in memory.
	Dir     string `yaml:"dir"`
	MaxRuns int    `yaml:"max_runs"`
}

// MonitoringConfig holds metrics settings. Metrics are pushed when
// VictoriaMetricsURL is set; the scheduler always serves /metrics.
type MonitoringConfig struct {
	VictoriaMetricsURL string        `yaml:"victoriametrics_url"`
	MetricsPrefix      string        `yaml:"metrics_prefix"`
	JobName            string        `yaml:"jobname"`
	Instance           string        `yaml:"instance"`
	Timeout            time.Duration `yaml:"timeout"`
}

// ScheduleConfig configures the scheduler service.
type ScheduleConfig struct {
	Listen   string             `yaml:"listen"`
	Triggers []cron.TriggerSpec `yaml:"triggers,omitempty"`
}

// SetDefaults sets reasonable default values for optional fields.
func (c *Config) SetDefaults() {
	if c.Data.Scenarios == "" {
		c.Data.Scenarios = defaultScenariosFile
	}
	if c.Data.Settings == "" {
		c.Data.Settings = defaultSettingsFile
	}
	if c.Driver.Kind == "" {
		c.Driver.Kind = DriverSim
	}
	if c.Driver.Instances == 0 {
		c.Driver.Instances = 1
		if c.Driver.SSH != nil && len(c.Driver.SSH.Hosts) > 0 {
			c.Driver.Instances = len(c.Driver.SSH.Hosts)
		}
	}
	if c.Driver.Slack == 0 {
		c.Driver.Slack = defaultHelperSlack
	}
	if c.Engine.InterstitialTimeout == 0 {
		c.Engine.InterstitialTimeout = defaultInterstitialTimeout
	}
	if c.Engine.StepLogs == nil {
		enabled := true
		c.Engine.StepLogs = &enabled
	}
	if c.Evidence.Dir == "" {
		c.Evidence.Dir = defaultEvidenceDir
	}
	if c.Report.Dir == "" {
		c.Report.Dir = defaultReportDir
	}
	if c.Report.Format == "" {
		c.Report.Format = string(report.FormatJSON)
	}
	if c.History.MaxRuns == 0 {
		c.History.MaxRuns = defaultMaxRuns
	}
	if c.Monitoring.MetricsPrefix == "" {
		c.Monitoring.MetricsPrefix = defaultMetricsPrefix
	}
	if c.Monitoring.JobName == "" {
		c.Monitoring.JobName = defaultJobName
	}
	if c.Schedule.Listen == "" {
		c.Schedule.Listen = defaultListenAddr
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = defaultLogOutput
	}
}

// Validate checks the configuration. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	switch c.Driver.Kind {
	case DriverSim:
	case DriverHelper:
		if c.Driver.Helper == "" {
			errs = append(errs, errors.New("driver.helper is required for the helper driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("driver.kind must be %q or %q, got %q", DriverSim, DriverHelper, c.Driver.Kind))
	}
	if c.Driver.Instances < 1 {
		errs = append(errs, fmt.Errorf("driver.instances must be positive, got %d", c.Driver.Instances))
	}
	if ssh := c.Driver.SSH; ssh != nil {
		if c.Driver.Kind != DriverHelper {
			errs = append(errs, errors.New("driver.ssh requires the helper driver"))
		}
		if len(ssh.Hosts) != c.Driver.Instances {
			errs = append(errs, fmt.Errorf("driver.ssh.hosts must list one host per instance (%d hosts, %d instances)", len(ssh.Hosts), c.Driver.Instances))
		}
		if ssh.User == "" || ssh.PrivateKeyFile == "" {
			errs = append(errs, errors.New("driver.ssh.user and driver.ssh.private_key_file are required"))
		}
	}

	if err := engine.DefaultSelectors().Merge(c.Driver.Selectors).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("driver.selectors: %w", err))
	}
	for key := range c.Driver.Selectors {
		if _, ok := engine.DefaultSelectors()[key]; !ok {
			errs = append(errs, fmt.Errorf("driver.selectors: unknown key %q", key))
		}
	}

	if c.Engine.Timeout < 0 {
		errs = append(errs, errors.New("engine.timeout must not be negative"))
	}
	if c.Engine.InterstitialTimeout <= 0 {
		errs = append(errs, errors.New("engine.interstitial_timeout must be positive"))
	}
	for name, d := range c.Engine.StepTimeouts {
		if _, err := engine.ParseState(name); err != nil {
			errs = append(errs, fmt.Errorf("engine.step_timeouts: %w", err))
		}
		if d <= 0 {
			errs = append(errs, fmt.Errorf("engine.step_timeouts.%s must be positive", name))
		}
	}
	for i, in := range c.Engine.Interstitials {
		if in.Name == "" || in.Detector.IsZero() {
			errs = append(errs, fmt.Errorf("engine.interstitials[%d]: name and detector are required", i))
		}
	}

	if _, err := report.ParseFormat(c.Report.Format); err != nil {
		errs = append(errs, fmt.Errorf("report.format: %w", err))
	}
	if c.History.MaxRuns < 1 {
		errs = append(errs, fmt.Errorf("history.max_runs must be positive, got %d", c.History.MaxRuns))
	}
	for i, t := range c.Schedule.Triggers {
		if err := t.Validate(nil); err != nil {
			errs = append(errs, fmt.Errorf("schedule.triggers[%d]: %w", i, err))
		}
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	return errors.Join(errs...)
}

// StepTimeouts resolves the configured per-step timeouts. Call after Validate.
func (c *Config) StepTimeouts() map[engine.State]time.Duration {
	out := make(map[engine.State]time.Duration, len(c.Engine.StepTimeouts))
	for name, d := range c.Engine.StepTimeouts {
		if s, err := engine.ParseState(name); err == nil {
			out[s] = d
		}
	}
	return out
}

// Redacted returns a copy safe to display. The SSH key path is kept; the key
// itself never enters the config.
func (c Config) Redacted() Config {
	if len(c.Driver.Sim.Users) > 0 {
		users := make(map[string]string, len(c.Driver.Sim.Users))
		for u := range c.Driver.Sim.Users {
			users[u] = "REDACTED"
		}
		c.Driver.Sim.Users = users
	}
	return c
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	cfg.SetDefaults()
	return cfg
}

// LoadConfig reads the YAML config file at the given path, applies defaults
// and validates the result.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}
