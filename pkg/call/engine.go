package call

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harunnryd/callprobe/pkg/audio"
	"github.com/harunnryd/callprobe/pkg/frames"
	"github.com/harunnryd/callprobe/pkg/llm"
	"github.com/harunnryd/callprobe/pkg/logging"
	"github.com/harunnryd/callprobe/pkg/metrics"
	"github.com/harunnryd/callprobe/pkg/observers"
	"github.com/harunnryd/callprobe/pkg/reasoning"
	"github.com/harunnryd/callprobe/pkg/reports"
	"github.com/harunnryd/callprobe/pkg/scenario"
	"github.com/harunnryd/callprobe/pkg/transports"
)

// End reasons raised by the engine itself. Transport-raised reasons
// (stop, completed, busy, transport_closed, ...) pass through unchanged.
const (
	EndReasonPatient  = "end_call_loop"
	EndReasonWatchdog = "watchdog_timeout"
	EndReasonShutdown = "shutdown"
)

// Grader scores a finished conversation.
type Grader interface {
	Grade(ctx context.Context, history []scenario.Turn, scn scenario.Scenario, language string) (scenario.Report, error)
}

// ReportSink receives the report of every torn-down call.
type ReportSink interface {
	Add(reports.CallReport)
}

type UsageSource interface {
	Take(callSID string) observers.Usage
}

type TimelineSource interface {
	Take(callSID string) []observers.TimelineEntry
}

type EngineDeps struct {
	Transport    transports.Transport
	Orchestrator *Orchestrator
	Coordinator  *Coordinator
	Grader       Grader
	Symptoms     *scenario.Picker
	Reports      ReportSink
	Usage        UsageSource
	Timeline     TimelineSource
	Observer     metrics.Observer
	Logger       *slog.Logger
}

// Engine routes transport frames to sessions and owns their lifecycle.
type Engine struct {
	cfg      Config
	deps     EngineDeps
	registry *Registry
	obs      metrics.Observer
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// mu orders session admission and teardown tracking against Shutdown:
	// once draining no call starts, once sealed wg is never added to.
	mu       sync.Mutex
	draining bool
	sealed   bool
	wg       sync.WaitGroup
}

func NewEngine(cfg Config, deps EngineDeps) *Engine {
	cfg = cfg.withDefaults()
	if deps.Observer == nil {
		deps.Observer = metrics.NoopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Coordinator == nil {
		deps.Coordinator = NewCoordinator(cfg.DefaultLanguage)
	}
	if deps.Symptoms == nil {
		deps.Symptoms = scenario.NewPicker(nil, 0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:      cfg,
		deps:     deps,
		registry: NewRegistry(),
		obs:      deps.Observer,
		logger:   logging.NewComponentLogger(deps.Logger, "call_engine"),
		ctx:      ctx,
		cancel:   cancel,
	}
	if deps.Orchestrator != nil {
		deps.Orchestrator.OnEndCall(e.endAsync)
	}
	return e
}

func (e *Engine) Registry() *Registry { return e.registry }

func (e *Engine) Coordinator() *Coordinator { return e.deps.Coordinator }

// Start consumes transport frames until ctx is done or the transport closes.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	go e.route(ctx)
	return nil
}

func (e *Engine) route(ctx context.Context) {
	in := e.deps.Transport.Recv()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.ctx.Done():
			return
		case f, ok := <-in:
			if !ok {
				return
			}
			e.handleFrame(f)
		}
	}
}

func (e *Engine) handleFrame(f frames.Frame) {
	switch fr := f.(type) {
	case frames.AudioFrame:
		s, ok := e.registry.Get(fr.MetaValue(frames.MetaCallSID))
		if !ok || s.StreamID != fr.MetaValue(frames.MetaStreamID) {
			return
		}
		pcm := fr.RawPayload()
		if fr.Encoding() == frames.EncodingMuLaw {
			pcm = audio.DecodeMuLaw(pcm)
		}
		s.Ingest(pcm, audio.RMS(pcm))
	case frames.SystemFrame:
		switch fr.Name() {
		case frames.SystemCallStart:
			e.startSession(fr)
		case frames.SystemCallEnd:
			s, ok := e.registry.Get(fr.MetaValue(frames.MetaCallSID))
			if !ok {
				return
			}
			if streamID := fr.MetaValue(frames.MetaStreamID); streamID != "" && streamID != s.StreamID {
				return
			}
			reason := fr.MetaValue(frames.MetaReason)
			if reason == "" {
				reason = "call_end"
			}
			e.endAsync(s, reason)
		}
	}
}

func (e *Engine) startSession(f frames.SystemFrame) {
	callSID := f.MetaValue(frames.MetaCallSID)
	streamID := f.MetaValue(frames.MetaStreamID)
	if callSID == "" || streamID == "" {
		return
	}
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		e.logger.Warn("call_rejected_draining", slog.String("call_sid", callSID))
		return
	}
	scn, lang := e.deps.Coordinator.Assign()
	info := SessionInfo{
		CallSID:        callSID,
		StreamID:       streamID,
		TraceID:        f.MetaValue(frames.MetaTraceID),
		Scenario:       scn,
		TargetLanguage: lang,
		Symptom:        e.deps.Symptoms.Pick(),
	}
	s := NewSession(e.ctx, info, e.cfg, Hooks{
		OnBoundary: e.onBoundary,
		OnWatchdog: e.onWatchdog,
	}, e.obs, e.logger)
	prev := e.registry.Create(s)
	e.mu.Unlock()
	if prev != nil {
		prev.Retire()
		e.logger.Warn("session_replaced",
			slog.String("call_sid", callSID),
			slog.String("old_stream_sid", prev.StreamID),
			slog.String("stream_sid", streamID))
	}
	s.Start()
	e.obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventCallStarted, Time: time.Now(), Tags: s.tags(nil)})
	s.Logger().Info("call_started",
		slog.String("scenario", string(scn)),
		slog.String("language", lang),
		slog.String("symptom", info.Symptom))
}

func (e *Engine) onBoundary(s *Session, pcm []byte) {
	if e.deps.Orchestrator == nil {
		s.FinishCycle()
		return
	}
	e.deps.Orchestrator.Run(s, pcm)
}

func (e *Engine) onWatchdog(s *Session) {
	s.Logger().Warn("watchdog_fired", slog.String("state", s.State().String()))
	s.AppendTurn(llm.RoleAssistant, reasoning.TokenEndCall+" (watchdog: the bot went silent)")
	e.endAsync(s, EndReasonWatchdog)
}

// EndCall tears s down and blocks until its report is stored. Only the first
// call for a session does anything.
func (e *Engine) EndCall(s *Session, reason string) bool {
	if !s.BeginEnding(reason) {
		return false
	}
	if e.track() {
		defer e.wg.Done()
	}
	e.teardown(s, reason)
	return true
}

func (e *Engine) endAsync(s *Session, reason string) {
	if !s.BeginEnding(reason) {
		return
	}
	tracked := e.track()
	go func() {
		if tracked {
			defer e.wg.Done()
		}
		e.teardown(s, reason)
	}()
}

// track counts a teardown for Shutdown to wait on. It reports false once
// Shutdown has stopped counting.
func (e *Engine) track() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sealed {
		return false
	}
	e.wg.Add(1)
	return true
}

func (e *Engine) teardown(s *Session, reason string) {
	log := s.Logger()
	if engineInitiated(reason) {
		e.terminate(s)
	}

	deadline := time.Now().Add(e.cfg.TeardownMaxWait)
	for s.InFlight() && time.Now().Before(deadline) {
		time.Sleep(e.cfg.TeardownPoll)
	}
	if s.InFlight() {
		log.Warn("teardown_wait_exceeded", slog.Duration("max_wait", e.cfg.TeardownMaxWait))
	}
	s.cancel()

	history := s.History()
	report, err := e.grade(s, history)
	if err != nil {
		log.Warn("grading_failed", slog.String("error", err.Error()))
	}
	next := e.deps.Coordinator.RecordOutcome(s.Scenario, report.IsBookingConfirmed)
	e.obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventReportGraded,
		Time: time.Now(),
		Tags: s.tags(map[string]string{metrics.TagStatus: report.Status}),
	})

	cr := reports.CallReport{
		ID:        uuid.NewString(),
		CallSID:   s.CallSID,
		Scenario:  s.Scenario,
		Language:  s.TargetLanguage,
		Symptom:   s.Symptom,
		History:   history,
		Report:    report,
		EndReason: reason,
		StartedAt: s.StartedAt,
		EndedAt:   time.Now(),
	}
	if e.deps.Usage != nil {
		cr.Usage = e.deps.Usage.Take(s.CallSID)
	}
	if e.deps.Timeline != nil {
		cr.Timeline = e.deps.Timeline.Take(s.CallSID)
	}
	if e.deps.Reports != nil {
		e.deps.Reports.Add(cr)
	}
	if e.deps.Orchestrator != nil {
		e.deps.Orchestrator.Release(s)
	}
	e.registry.Remove(s)
	e.obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventCallEnded,
		Time: time.Now(),
		Tags: s.tags(map[string]string{metrics.TagReason: reason}),
	})
	log.Info("call_ended",
		slog.String("reason", reason),
		slog.Int("turns", len(history)),
		slog.String("status", report.Status),
		slog.Bool("booking_confirmed", report.IsBookingConfirmed),
		slog.String("next_scenario", string(next)))
}

func (e *Engine) grade(s *Session, history []scenario.Turn) (scenario.Report, error) {
	if e.deps.Grader == nil {
		return scenario.Report{Status: scenario.StatusError, UXAnalysis: "no grader configured", Enhancements: []string{}}, nil
	}
	return e.deps.Grader.Grade(context.Background(), history, s.Scenario, s.TargetLanguage)
}

// terminate closes the media stream and, when the transport can, completes
// the telephony leg.
func (e *Engine) terminate(s *Session) {
	if err := e.deps.Transport.CloseStream(s.StreamID); err != nil {
		s.Logger().Debug("close_stream_failed", slog.String("error", err.Error()))
	}
	term, ok := e.deps.Transport.(transports.CallTerminator)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.HangupTimeout)
	defer cancel()
	if err := term.Hangup(ctx, s.CallSID); err != nil {
		s.Logger().Warn("hangup_failed", slog.String("error", err.Error()))
	}
}

func engineInitiated(reason string) bool {
	switch reason {
	case EndReasonPatient, EndReasonWatchdog, EndReasonShutdown:
		return true
	}
	return false
}

// Shutdown ends every live call and waits for their reports.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.draining = true
	live := e.registry.Sessions()
	e.mu.Unlock()

	for _, s := range live {
		e.endAsync(s, EndReasonShutdown)
	}

	e.mu.Lock()
	e.sealed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	defer e.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
