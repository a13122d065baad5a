package call

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/callprobe/pkg/llm"
	"github.com/harunnryd/callprobe/pkg/metrics"
	"github.com/harunnryd/callprobe/pkg/scenario"
	"github.com/harunnryd/callprobe/pkg/turn"
)

// Buffer phases reported on trim events.
const (
	PhasePreSpeech = "pre_speech"
	PhaseInSpeech  = "in_speech"
)

// Hooks are invoked from timer goroutines, never with the session lock held.
type Hooks struct {
	// OnBoundary receives the flushed utterance; the session is in StateProcessing
	// and the hook must call FinishCycle when done.
	OnBoundary func(s *Session, pcm []byte)
	OnWatchdog func(s *Session)
}

// SessionInfo identifies a call and the persona the patient plays on it.
type SessionInfo struct {
	CallSID        string
	StreamID       string
	TraceID        string
	Scenario       scenario.Scenario
	TargetLanguage string
	Symptom        string
}

// Session is the state of one live call.
type Session struct {
	SessionInfo
	StartedAt time.Time

	cfg    Config
	fsm    *turn.Machine
	hooks  Hooks
	obs    metrics.Observer
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu               sync.Mutex
	buffer           [][]byte
	spokeDuringCycle bool
	boundary         *time.Timer
	boundaryGen      uint64
	watchdog         *time.Timer
	watchdogGen      uint64
	history          []scenario.Turn
	detectedLanguage string
	endReason        string

	ending   atomic.Bool
	inFlight atomic.Int32
}

func NewSession(parent context.Context, info SessionInfo, cfg Config, hooks Hooks, obs metrics.Observer, logger *slog.Logger) *Session {
	if parent == nil {
		parent = context.Background()
	}
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		SessionInfo: info,
		StartedAt:   time.Now(),
		cfg:         cfg.withDefaults(),
		fsm:         turn.NewMachine(),
		hooks:       hooks,
		obs:         obs,
		logger: logger.With(
			slog.String("call_sid", info.CallSID),
			slog.String("stream_sid", info.StreamID),
			slog.String("trace_id", info.TraceID),
		),
		ctx:    ctx,
		cancel: cancel,
	}
	s.fsm.AddListener(turn.StateListenerFunc(func(ev turn.StateChange) {
		s.logger.Debug("turn_state_changed",
			slog.String("from", ev.FromState.String()),
			slog.String("to", ev.ToState.String()),
			slog.String("reason", ev.Reason))
	}))
	return s
}

// Context is cancelled once teardown has given up on in-flight work.
func (s *Session) Context() context.Context { return s.ctx }

func (s *Session) Logger() *slog.Logger { return s.logger }

func (s *Session) State() turn.State { return s.fsm.State() }

// Start arms the initial watchdog.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ending.Load() {
		return
	}
	s.armWatchdogLocked(s.cfg.WatchdogInitial)
}

// Ingest appends one inbound PCM frame and runs the loudness gate.
func (s *Session) Ingest(frame []byte, loudness float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ending.Load() {
		return
	}
	s.buffer = append(s.buffer, frame)
	s.enforceCapsLocked()

	loud := loudness > s.cfg.LoudnessThreshold
	if loud {
		s.disarmWatchdogLocked()
	}
	switch s.fsm.State() {
	case turn.StateIdle:
		if loud {
			s.transitionLocked(turn.StateListening, "speech_started")
		}
	case turn.StateListening:
		if !loud && s.boundary == nil {
			s.armBoundaryLocked()
			s.transitionLocked(turn.StateDebouncing, "quiet_frame")
		}
	case turn.StateDebouncing:
		if loud {
			s.cancelBoundaryLocked()
			s.transitionLocked(turn.StateListening, "speech_resumed")
		}
	case turn.StateProcessing:
		if loud {
			s.spokeDuringCycle = true
		}
	}
}

// hasSpokenLocked reports whether the buffer currently holds an utterance.
func (s *Session) hasSpokenLocked() bool {
	switch s.fsm.State() {
	case turn.StateListening, turn.StateDebouncing:
		return true
	case turn.StateProcessing:
		return s.spokeDuringCycle
	default:
		return false
	}
}

func (s *Session) enforceCapsLocked() {
	n := len(s.buffer)
	if !s.hasSpokenLocked() {
		if n > s.cfg.PreSpeechMaxFrames {
			s.buffer = keepTail(s.buffer, s.cfg.PreSpeechTailFrames)
			s.recordTrim(PhasePreSpeech, n-len(s.buffer))
		}
		return
	}
	if n > s.cfg.MaxSpeechFrames {
		s.buffer = keepTail(s.buffer, s.cfg.MaxSpeechFrames)
		s.recordTrim(PhaseInSpeech, n-len(s.buffer))
	}
}

func keepTail(buf [][]byte, n int) [][]byte {
	if len(buf) <= n {
		return buf
	}
	out := make([][]byte, n)
	copy(out, buf[len(buf)-n:])
	return out
}

func (s *Session) recordTrim(phase string, dropped int) {
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventBufferTrimmed,
		Time:  time.Now(),
		Value: float64(dropped),
		Tags:  s.tags(map[string]string{metrics.TagPhase: phase}),
	})
}

func (s *Session) transitionLocked(to turn.State, reason string) {
	if err := s.fsm.Transition(to, reason); err != nil {
		s.logger.Warn("turn_transition_rejected", slog.String("error", err.Error()))
	}
}

func (s *Session) armBoundaryLocked() {
	s.cancelBoundaryLocked()
	s.boundaryGen++
	gen := s.boundaryGen
	s.boundary = time.AfterFunc(s.cfg.BoundaryDelay, func() { s.fireBoundary(gen) })
}

func (s *Session) cancelBoundaryLocked() {
	if s.boundary != nil {
		s.boundary.Stop()
		s.boundary = nil
	}
	s.boundaryGen++
}

func (s *Session) fireBoundary(gen uint64) {
	s.mu.Lock()
	if gen != s.boundaryGen || s.boundary == nil {
		s.mu.Unlock()
		return
	}
	s.boundary = nil
	if s.ending.Load() || s.fsm.State() != turn.StateDebouncing {
		s.mu.Unlock()
		return
	}
	s.transitionLocked(turn.StateProcessing, "turn_boundary")
	frames := s.buffer
	s.buffer = nil
	s.spokeDuringCycle = false
	s.inFlight.Add(1)
	s.mu.Unlock()

	pcm := concat(frames)
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name:   metrics.EventTurnBoundary,
		Time:   time.Now(),
		Value:  float64(len(frames)),
		Tags:   s.tags(nil),
		Fields: map[string]any{"frames": len(frames), "bytes": len(pcm)},
	})
	if s.hooks.OnBoundary == nil {
		s.FinishCycle()
		return
	}
	s.hooks.OnBoundary(s, pcm)
}

func concat(frames [][]byte) []byte {
	size := 0
	for _, f := range frames {
		size += len(f)
	}
	out := make([]byte, 0, size)
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}

// FinishCycle ends the in-flight cycle. Speech heard meanwhile resumes
// listening, otherwise the session goes idle.
func (s *Session) FinishCycle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.inFlight.Add(-1)
	if s.ending.Load() || s.fsm.State() != turn.StateProcessing {
		return
	}
	if s.spokeDuringCycle {
		s.spokeDuringCycle = false
		s.transitionLocked(turn.StateListening, "speech_during_cycle")
		return
	}
	s.transitionLocked(turn.StateIdle, "cycle_done")
}

// InFlight reports whether a cycle is running.
func (s *Session) InFlight() bool { return s.inFlight.Load() > 0 }

// BoundaryArmed reports whether the turn boundary timer is pending.
func (s *Session) BoundaryArmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundary != nil
}

// WatchdogArmed reports whether the watchdog is pending.
func (s *Session) WatchdogArmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchdog != nil
}

// BufferedFrames returns the number of frames waiting for the next boundary.
func (s *Session) BufferedFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// ArmWatchdog (re)starts the watchdog, cancelling any earlier instance.
func (s *Session) ArmWatchdog(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ending.Load() {
		return
	}
	s.armWatchdogLocked(d)
}

// ArmPostReplyWatchdog restarts the watchdog with the shorter post-reply duration.
func (s *Session) ArmPostReplyWatchdog() { s.ArmWatchdog(s.cfg.WatchdogPostReply) }

func (s *Session) armWatchdogLocked(d time.Duration) {
	s.disarmWatchdogLocked()
	s.watchdogGen++
	gen := s.watchdogGen
	s.watchdog = time.AfterFunc(d, func() { s.fireWatchdog(gen) })
}

func (s *Session) disarmWatchdogLocked() {
	if s.watchdog != nil {
		s.watchdog.Stop()
		s.watchdog = nil
	}
	s.watchdogGen++
}

func (s *Session) fireWatchdog(gen uint64) {
	s.mu.Lock()
	if gen != s.watchdogGen || s.watchdog == nil || s.ending.Load() {
		s.mu.Unlock()
		return
	}
	s.watchdog = nil
	s.mu.Unlock()
	s.obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventWatchdogFired,
		Time: time.Now(),
		Tags: s.tags(nil),
	})
	if s.hooks.OnWatchdog != nil {
		s.hooks.OnWatchdog(s)
	}
}

// BeginEnding marks the session as ending and cancels both timers. Only the
// first caller gets true.
func (s *Session) BeginEnding(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ending.CompareAndSwap(false, true) {
		return false
	}
	s.endReason = reason
	s.cancelBoundaryLocked()
	s.disarmWatchdogLocked()
	s.transitionLocked(turn.StateEnding, reason)
	return true
}

// Retire silently stops a session that was replaced by a reconnect.
func (s *Session) Retire() {
	s.BeginEnding("replaced")
	s.cancel()
}

func (s *Session) Ending() bool { return s.ending.Load() }

func (s *Session) EndReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// AppendTurn adds one utterance to the history. role is llm.RoleUser for the
// remote party and llm.RoleAssistant for the patient.
func (s *Session) AppendTurn(role, content string) {
	s.mu.Lock()
	s.history = append(s.history, scenario.Turn{Role: role, Content: content})
	s.mu.Unlock()
}

// History returns a copy of the conversation so far.
func (s *Session) History() []scenario.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]scenario.Turn, len(s.history))
	copy(out, s.history)
	return out
}

// UserTurns counts utterances heard from the remote party.
func (s *Session) UserTurns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.history {
		if t.Role == llm.RoleUser {
			n++
		}
	}
	return n
}

func (s *Session) SetDetectedLanguage(code string) {
	if code == "" {
		return
	}
	s.mu.Lock()
	s.detectedLanguage = code
	s.mu.Unlock()
}

func (s *Session) DetectedLanguage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detectedLanguage
}

func (s *Session) tags(extra map[string]string) map[string]string {
	tags := map[string]string{
		metrics.TagCallSID:  s.CallSID,
		metrics.TagStreamID: s.StreamID,
	}
	if s.TraceID != "" {
		tags[metrics.TagTraceID] = s.TraceID
	}
	for k, v := range extra {
		tags[k] = v
	}
	return tags
}
