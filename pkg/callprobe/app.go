package callprobe

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"time"

	"github.com/harunnryd/callprobe/pkg/call"
	"github.com/harunnryd/callprobe/pkg/control"
	"github.com/harunnryd/callprobe/pkg/logging"
	"github.com/harunnryd/callprobe/pkg/metrics"
	prommetrics "github.com/harunnryd/callprobe/pkg/metrics/prometheus"
	"github.com/harunnryd/callprobe/pkg/observers"
	"github.com/harunnryd/callprobe/pkg/playback"
	"github.com/harunnryd/callprobe/pkg/reasoning"
	"github.com/harunnryd/callprobe/pkg/redact"
	"github.com/harunnryd/callprobe/pkg/reports"
	"github.com/harunnryd/callprobe/pkg/runner"
	"github.com/harunnryd/callprobe/pkg/scenario"
	"github.com/harunnryd/callprobe/pkg/transports"
)

type Options struct {
	Config    Config
	Providers *ProviderRegistry
	// Transport replaces the configured transport; used by tests.
	Transport transports.Transport
	Logger    *slog.Logger
	// Seed fixes symptom selection; zero seeds from the clock.
	Seed       int64
	HideBanner bool
}

// App is a configured callprobe process.
type App struct {
	cfg       Config
	logger    *slog.Logger
	transport transports.Transport
	engine    *call.Engine
	coord     *call.Coordinator
	reports   *reports.Store
	control   *control.Server
	prom      *prommetrics.Observer
	async     *metrics.AsyncObserver
	runner    *runner.LifecycleRunner
}

// SetDefaultLogger installs the process logger and returns it.
func SetDefaultLogger(level, format string) *slog.Logger {
	logger := logging.InitLogger(logging.ParseLevel(level), format)
	slog.SetDefault(logger)
	return logger
}

func New(opts Options) (*App, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)
	providers := opts.Providers
	if providers == nil {
		providers = DefaultProviders()
	}

	transport := opts.Transport
	if transport == nil {
		t, err := providers.BuildTransport(cfg)
		if err != nil {
			return nil, err
		}
		transport = t
	}
	transcriber, err := providers.BuildSTT(cfg)
	if err != nil {
		return nil, err
	}
	synthesizer, err := providers.BuildTTS(cfg)
	if err != nil {
		return nil, err
	}
	adapter, err := providers.BuildLLM(cfg)
	if err != nil {
		return nil, err
	}

	prom := prommetrics.NewObserver()
	async := metrics.NewAsyncObserver(observers.NewMultiObserver(
		observers.NewLoggerObserver(logger),
		observers.NewLatencyObserver(logger),
		prom,
	), cfg.Observability.EventBuffer)
	timeline := observers.NewTimelineObserver(cfg.Observability.TimelineEntries)
	usage := observers.NewUsageObserver()
	// Timeline and usage stay synchronous so a report sees every event
	// emitted before teardown.
	obs := observers.NewMultiObserver(async, timeline, usage)
	if o, ok := adapter.(interface{ SetObserver(metrics.Observer) }); ok {
		o.SetObserver(obs)
	}

	callCfg := cfg.CallConfig()
	coord := call.NewCoordinator(cfg.Scenario.DefaultLanguage)
	store := reports.NewStore(cfg.Observability.ReportsCapacity)
	pacer := playback.NewPacer(transport, cfg.PacerConfig())
	pacer.SetObserver(obs)

	orch := call.NewOrchestrator(callCfg, call.OrchestratorDeps{
		Transcriber: transcriber,
		Filter:      reasoning.NewHallucinationFilter(adapter, ms(cfg.Reasoning.FilterTimeoutMS)),
		Patient:     reasoning.NewPatient(adapter, cfg.PatientConfig()),
		Synthesizer: synthesizer,
		Player:      pacer,
		Coordinator: coord,
		Observer:    obs,
		Logger:      logger,
	})
	engine := call.NewEngine(callCfg, call.EngineDeps{
		Transport:    transport,
		Orchestrator: orch,
		Coordinator:  coord,
		Grader:       reasoning.NewGrader(adapter, ms(cfg.Reasoning.GraderTimeoutMS)),
		Symptoms:     scenario.NewPicker(cfg.Scenario.Symptoms, opts.Seed),
		Reports:      store,
		Usage:        usage,
		Timeline:     timeline,
		Observer:     obs,
		Logger:       logger,
	})

	deps := control.Deps{
		Coordinator: coord,
		Reports:     store,
		Calls:       engine.Registry(),
		Logger:      logger,
	}
	if d, ok := transport.(transports.OutboundDialer); ok {
		deps.Dialer = d
	}
	ctl := control.NewServer(cfg.ControlConfig(), deps)
	if reg, ok := transport.(transports.HandlerRegistrar); ok {
		ctl.Register(reg)
		reg.Handle(cfg.Observability.MetricsPath, prom.Handler())
	}

	a := &App{
		cfg:       cfg,
		logger:    logger,
		transport: transport,
		engine:    engine,
		coord:     coord,
		reports:   store,
		control:   ctl,
		prom:      prom,
		async:     async,
	}
	a.runner = runner.NewLifecycleRunner(runner.DrainerFunc(a.drain), runner.Hooks{
		OnStart: a.onStart,
		OnStop:  a.onStop,
	}, ms(cfg.Teardown.DrainTimeoutMS)+time.Second)
	a.runner.SetLogger(logger)
	if opts.HideBanner {
		a.runner.DisableBanner()
	}

	logger.Info("callprobe_init",
		slog.String("environment", cfg.Environment),
		slog.String("llm_provider", cfg.Vendors.LLM.Provider),
		slog.String("stt_provider", cfg.Vendors.STT.Provider),
		slog.String("tts_provider", cfg.Vendors.TTS.Provider),
		slog.String("transport", transport.Name()),
		slog.Float64("loudness_threshold", callCfg.LoudnessThreshold),
		slog.Duration("boundary_delay", callCfg.BoundaryDelay))
	return a, nil
}

// Run starts the transport and the engine and blocks until ctx is done, then
// ends every live call and stops the transport.
func (a *App) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	// The transport outlives ctx until drain has ended every call.
	base := context.WithoutCancel(ctx)
	if err := a.transport.Start(base); err != nil {
		return err
	}
	if err := a.engine.Start(base); err != nil {
		return err
	}
	return a.runner.Run(ctx)
}

func (a *App) onStart() {
	fields := []any{slog.String("message", "callprobe ready")}
	if rr, ok := a.transport.(transports.ReadyReporter); ok {
		for k, v := range rr.ReadyFields() {
			fields = append(fields, slog.Any(k, v))
		}
	}
	a.logger.Info("engine_ready", fields...)
}

func (a *App) drain() error {
	ctx, cancel := context.WithTimeout(context.Background(), ms(a.cfg.Teardown.DrainTimeoutMS))
	defer cancel()
	err := a.engine.Shutdown(ctx)
	if stopErr := a.transport.Stop(); stopErr != nil {
		err = errors.Join(err, stopErr)
	}
	return err
}

func (a *App) onStop(drainErr error) {
	a.async.Close()
	if drainErr != nil {
		a.logger.Error("drain_failed", slog.String("error", drainErr.Error()))
	}
	a.logger.Info("shutdown",
		slog.Int("goroutines", runtime.NumGoroutine()),
		slog.Int64("active_calls", a.engine.Registry().Count()),
		slog.Int("reports", a.reports.Len()),
		slog.Int64("dropped_events", a.async.Dropped()))
}

func (a *App) Config() Config                  { return a.cfg }
func (a *App) Engine() *call.Engine            { return a.engine }
func (a *App) Coordinator() *call.Coordinator  { return a.coord }
func (a *App) Reports() *reports.Store         { return a.reports }
func (a *App) Transport() transports.Transport { return a.transport }
func (a *App) Control() *control.Server        { return a.control }
func (a *App) Metrics() *prommetrics.Observer  { return a.prom }
