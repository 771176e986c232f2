package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/nomis52/posrunner/batch"
	"github.com/nomis52/posrunner/config"
	"github.com/nomis52/posrunner/driver"
	"github.com/nomis52/posrunner/driver/cmddriver"
	"github.com/nomis52/posrunner/driver/simdriver"
	"github.com/nomis52/posrunner/engine"
	"github.com/nomis52/posrunner/evidence"
	"github.com/nomis52/posrunner/logging"
	"github.com/nomis52/posrunner/metrics"
	"github.com/nomis52/posrunner/report"
	"github.com/nomis52/posrunner/runstore"
	"github.com/nomis52/posrunner/scenario"
)

// app is the configuration, logger and data store shared by every command.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	store  *scenario.Store
}

func loadApp(opts *RootOptions) (*app, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.LoadConfig(opts.ConfigPath)
		if err != nil {
			return nil, configError("failed to load config", err)
		}
		cfg = loaded
	}
	if opts.ScenariosPath != "" {
		cfg.Data.Scenarios = opts.ScenariosPath
	}
	if opts.SettingsPath != "" {
		cfg.Data.Settings = opts.SettingsPath
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}

	logger := opts.Logger
	if logger == nil {
		l, err := logging.New(cfg.Logging)
		if err != nil {
			return nil, configError("failed to initialize logger", err)
		}
		logger = l.Logger
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  scenario.NewStore(cfg.Data.Scenarios, cfg.Data.Settings, scenario.WithLogger(logger)),
	}, nil
}

// runtimeOptions are the per-command overrides of the engine configuration.
type runtimeOptions struct {
	timeout  time.Duration
	evidence *bool
	parallel int
	registry metrics.Registry
}

// runtime is everything needed to execute scenarios.
type runtime struct {
	runner   *batch.Runner
	history  runstore.Store
	recorder *metrics.RunRecorder
	closers  []io.Closer
}

func (rt *runtime) Close() error {
	var errs []error
	for _, c := range rt.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// newHistory opens the run history configured in history.dir.
func (a *app) newHistory() (runstore.Store, error) {
	if a.cfg.History.Dir == "" {
		return runstore.NewMemoryStore(a.cfg.History.MaxRuns), nil
	}
	return runstore.NewDiskStore(a.cfg.History.Dir, a.cfg.History.MaxRuns, a.logger)
}

// newRegistry returns the push registry when a remote write URL is
// configured, otherwise nil.
func (a *app) newRegistry() metrics.Registry {
	mon := a.cfg.Monitoring
	if mon.VictoriaMetricsURL == "" {
		return nil
	}
	instance := mon.Instance
	if instance == "" {
		instance, _ = os.Hostname()
	}
	return metrics.NewPushRegistry(metrics.PushConfig{
		URL:      mon.VictoriaMetricsURL,
		Prefix:   mon.MetricsPrefix,
		Job:      mon.JobName,
		Instance: instance,
		Timeout:  mon.Timeout,
		Logger:   a.logger,
	})
}

func (a *app) newRuntime(ro runtimeOptions) (*runtime, error) {
	rt := &runtime{}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	title := ""
	settings, settingsErr := a.store.LoadSettings()
	if settingsErr == nil {
		title = settings.ReportTitle()
	}

	if ro.registry != nil {
		rec, err := metrics.NewRunRecorder(ro.registry)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics recorder: %w", err)
		}
		rt.recorder = rec
	}

	history, err := a.newHistory()
	if err != nil {
		return nil, configError("failed to open run history", err)
	}
	rt.history = history

	format, err := report.ParseFormat(a.cfg.Report.Format)
	if err != nil {
		return nil, configError("invalid report format", err)
	}
	writer := report.NewWriter(a.cfg.Report.Dir, format, report.WithLogger(a.logger))
	diagnostics := evidence.NewDiagnostics(a.logger, writer, history, evidence.NewMetricsReporter(rt.recorder))
	capturer := evidence.NewCapturer(a.cfg.Evidence.Dir, evidence.WithLogger(a.logger))

	instances := a.cfg.Driver.Instances
	if ro.parallel > 0 {
		instances = ro.parallel
	}
	if a.cfg.Driver.SSH != nil && instances > len(a.cfg.Driver.SSH.Hosts) {
		return nil, configError(fmt.Sprintf("parallelism %d exceeds the %d configured SSH hosts", instances, len(a.cfg.Driver.SSH.Hosts)), nil)
	}

	engineOpts := []engine.Option{
		engine.WithLogger(a.logger),
		engine.WithRecorder(rt.recorder),
		engine.WithSelectors(engine.DefaultSelectors().Merge(a.cfg.Driver.Selectors)),
		engine.WithInterstitialTimeout(a.cfg.Engine.InterstitialTimeout),
		engine.WithStepTimeouts(a.cfg.StepTimeouts()),
		engine.WithEvidence(capturer),
		engine.WithObserver(diagnostics),
		engine.WithStepLogs(*a.cfg.Engine.StepLogs),
	}
	if len(a.cfg.Engine.Interstitials) > 0 {
		engineOpts = append(engineOpts, engine.WithInterstitials(a.cfg.Engine.Interstitials))
	}
	timeout := a.cfg.Engine.Timeout
	if ro.timeout > 0 {
		timeout = ro.timeout
	}
	if timeout > 0 {
		engineOpts = append(engineOpts, engine.WithTimeoutOverride(timeout))
	}
	enabled := a.cfg.Evidence.Enabled
	if ro.evidence != nil {
		enabled = ro.evidence
	}
	if enabled != nil {
		engineOpts = append(engineOpts, engine.WithEvidenceEnabled(*enabled))
	}

	runners := make([]batch.ScenarioRunner, 0, instances)
	for i := 0; i < instances; i++ {
		adapter, err := a.newAdapter(rt, i, settings)
		if err != nil {
			return nil, err
		}
		eng, err := engine.New(adapter, a.store, engineOpts...)
		if err != nil {
			return nil, configError("invalid engine configuration", err)
		}
		runners = append(runners, eng)
	}

	batchOpts := []batch.Option{
		batch.WithLogger(a.logger),
		batch.WithRecorder(rt.recorder),
		batch.WithWriter(writer),
	}
	if title != "" {
		batchOpts = append(batchOpts, batch.WithTitle(title))
	}
	runner, err := batch.New(runners, batchOpts...)
	if err != nil {
		return nil, err
	}
	rt.runner = runner

	ok = true
	return rt, nil
}

// newAdapter creates the adapter for one application instance.
func (a *app) newAdapter(rt *runtime, instance int, settings scenario.Settings) (driver.Adapter, error) {
	logger := a.logger.With("instance", instance)
	dc := a.cfg.Driver

	if dc.Kind == config.DriverSim {
		return a.newSimDriver(logger, settings)
	}

	opts := []cmddriver.Option{
		cmddriver.WithSlack(dc.Slack),
		cmddriver.WithLogger(logger),
	}
	if dc.SSH != nil {
		key, err := os.ReadFile(dc.SSH.PrivateKeyFile)
		if err != nil {
			return nil, configError("failed to read SSH private key", err)
		}
		host := dc.SSH.Hosts[instance]
		r, err := cmddriver.NewSSHRunner(host, dc.SSH.User, string(key), dc.SSH.HostKey)
		if err != nil {
			return nil, fmt.Errorf("connecting to %s: %w", host, err)
		}
		rt.closers = append(rt.closers, r)
		opts = append(opts, cmddriver.WithRunner(r))
	}
	return cmddriver.New(dc.Helper, opts...), nil
}

// newSimDriver builds a simulated POS. Without a configured catalog it is
// seeded from the scenario rows, which turns the simulator into a dry run of
// the data files.
func (a *app) newSimDriver(logger *slog.Logger, settings scenario.Settings) (driver.Adapter, error) {
	sim := a.cfg.Driver.Sim
	title := sim.Title
	if title == "" && settings.AppTitle() != "" {
		title = settings.AppTitle()
	}

	opts := []simdriver.Option{simdriver.WithLogger(logger)}
	if title != "" {
		opts = append(opts, simdriver.WithTitle(title))
	}
	for user, password := range sim.Users {
		opts = append(opts, simdriver.WithUser(user, password))
	}

	if len(sim.Items) > 0 || len(sim.Promotions) > 0 {
		for code, price := range sim.Items {
			opts = append(opts, simdriver.WithItem(code, price))
		}
		for code, discount := range sim.Promotions {
			opts = append(opts, simdriver.WithPromotion(code, discount))
		}
	} else {
		opts = append(opts, a.seedOptions()...)
	}

	d, err := simdriver.New(opts...)
	if err != nil {
		return nil, configError("invalid simulator configuration", err)
	}
	return d, nil
}

// seedOptions prices every item and promotion as the first valid scenario
// row using it expects. Later rows that disagree fail verification.
func (a *app) seedOptions() []simdriver.Option {
	names, err := a.store.Names()
	if err != nil {
		return nil
	}
	items := make(map[string]bool)
	promotions := make(map[string]bool)
	var opts []simdriver.Option
	for _, name := range names {
		row, err := a.store.GetScenario(name)
		if err != nil {
			continue
		}
		for _, item := range row.Items {
			if !items[item.Code] {
				items[item.Code] = true
				opts = append(opts, simdriver.WithItem(item.Code, item.UnitPrice.String()))
			}
		}
		if row.HasPromotion() && !promotions[row.PromotionCode] {
			promotions[row.PromotionCode] = true
			opts = append(opts, simdriver.WithPromotion(row.PromotionCode, row.PromotionDiscount.String()))
		}
	}
	return opts
}
