package call

import (
	"context"
	"log/slog"
	"time"

	"github.com/harunnryd/callprobe/pkg/adapters/stt"
	"github.com/harunnryd/callprobe/pkg/adapters/tts"
	"github.com/harunnryd/callprobe/pkg/audio"
	"github.com/harunnryd/callprobe/pkg/errorsx"
	"github.com/harunnryd/callprobe/pkg/llm"
	"github.com/harunnryd/callprobe/pkg/metrics"
	"github.com/harunnryd/callprobe/pkg/observers"
	"github.com/harunnryd/callprobe/pkg/playback"
	"github.com/harunnryd/callprobe/pkg/reasoning"
	"github.com/harunnryd/callprobe/pkg/redact"
	"github.com/harunnryd/callprobe/pkg/scenario"
)

// Reasons a cycle ends without the patient speaking.
const (
	AbandonEmpty         = "empty_transcript"
	AbandonSTTError      = "stt_error"
	AbandonHallucination = "hallucination"
	AbandonFilterError   = "filter_error"
	AbandonReplyError    = "reply_error"
	AbandonTTSError      = "tts_error"
	AbandonEnding        = "ending"
)

// HallucinationChecker classifies a transcript as spurious.
type HallucinationChecker interface {
	Check(ctx context.Context, transcript, expectedLanguage, detectedLanguage string) (bool, error)
}

// Replier produces the patient's next line.
type Replier interface {
	Reply(ctx context.Context, history []scenario.Turn, pc reasoning.PatientContext) (llm.Response, error)
}

// Player turns synthesized audio into paced transport frames.
type Player interface {
	Prepare(clip tts.Audio) (playback.Clip, error)
	Stream(ctx context.Context, streamID, callSID string, clip playback.Clip) (playback.Result, error)
	Forget(streamID string)
}

// CycleResult summarizes one turn cycle.
type CycleResult struct {
	Transcript TranscriptOutcome
	Reply      string
	ReplyKind  reasoning.ReplyKind
	Override   bool
	Spoken     bool
	Abandoned  string
}

type OrchestratorDeps struct {
	Transcriber stt.Transcriber
	Filter      HallucinationChecker
	Patient     Replier
	Synthesizer tts.Synthesizer
	Player      Player
	Coordinator *Coordinator
	Observer    metrics.Observer
	Logger      *slog.Logger
}

// Orchestrator runs the transcription to playback sequence for one utterance.
type Orchestrator struct {
	cfg   Config
	deps  OrchestratorDeps
	obs   metrics.Observer
	onEnd func(s *Session, reason string)
}

func NewOrchestrator(cfg Config, deps OrchestratorDeps) *Orchestrator {
	obs := deps.Observer
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Coordinator == nil {
		deps.Coordinator = NewCoordinator(cfg.DefaultLanguage)
	}
	return &Orchestrator{cfg: cfg.withDefaults(), deps: deps, obs: obs}
}

// OnEndCall registers the callback used when the patient decides to hang up.
// It must not block on the cycle that calls it.
func (o *Orchestrator) OnEndCall(fn func(s *Session, reason string)) { o.onEnd = fn }

// Run executes one cycle for pcm and always leaves the session out of
// StateProcessing. Provider failures abandon the cycle; the call continues.
// Only a reply that was played in full re-arms the watchdog.
func (o *Orchestrator) Run(s *Session, pcm []byte) CycleResult {
	defer s.FinishCycle()
	res := o.run(s.Context(), s, pcm)
	if res.Abandoned != "" {
		o.record(s, metrics.EventTurnAbandoned, 0, map[string]string{metrics.TagReason: res.Abandoned}, nil)
	}
	if res.Spoken && !s.Ending() {
		s.ArmPostReplyWatchdog()
	}
	return res
}

func (o *Orchestrator) run(ctx context.Context, s *Session, pcm []byte) CycleResult {
	var res CycleResult
	log := s.Logger()

	wav, err := audio.EncodeWAV(pcm, o.cfg.SampleRate, 1)
	if err != nil {
		log.Error("turn_cycle_abandoned", slog.String("reason_code", string(errorsx.ReasonAudioEncode)), slog.String("error", err.Error()))
		res.Abandoned = AbandonSTTError
		return res
	}
	started := time.Now()
	sttRes, err := o.deps.Transcriber.Transcribe(ctx, stt.Request{Audio: wav, SampleRate: o.cfg.SampleRate})
	res.Transcript = ClassifyTranscript(sttRes, err, o.cfg.MinTranscriptChars)
	o.record(s, metrics.EventSTTDone, msSince(started), nil, map[string]any{
		observers.FieldAudioMillis: audio.DurationMillis(pcm, o.cfg.SampleRate),
		"outcome":                  res.Transcript.Kind.String(),
	})
	switch res.Transcript.Kind {
	case TranscriptError:
		log.Warn("turn_cycle_abandoned",
			slog.String("reason", AbandonSTTError),
			slog.String("reason_code", string(errorsx.Reason(res.Transcript.Err))),
			slog.String("error", res.Transcript.Err.Error()))
		res.Abandoned = AbandonSTTError
		return res
	case TranscriptEmpty:
		log.Debug("turn_cycle_abandoned", slog.String("reason", AbandonEmpty))
		res.Abandoned = AbandonEmpty
		return res
	}
	text := res.Transcript.Text
	detected := res.Transcript.Language

	flagged, err := o.deps.Filter.Check(ctx, text, s.TargetLanguage, detected)
	if err != nil {
		log.Warn("turn_cycle_abandoned",
			slog.String("reason", AbandonFilterError),
			slog.String("reason_code", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
		res.Abandoned = AbandonFilterError
		return res
	}
	if flagged {
		log.Info("transcript_rejected",
			slog.String("transcript", redact.Text(text)),
			slog.String("detected_language", detected))
		res.Abandoned = AbandonHallucination
		return res
	}

	s.AppendTurn(llm.RoleUser, text)
	s.SetDetectedLanguage(detected)
	log.Info("bot_said", slog.String("transcript", redact.Text(text)), slog.String("language", detected))

	if s.Ending() {
		res.Abandoned = AbandonEnding
		return res
	}

	started = time.Now()
	reply, tokens, override, err := o.resolveReply(ctx, s)
	if err != nil {
		log.Warn("turn_cycle_abandoned",
			slog.String("reason", AbandonReplyError),
			slog.String("reason_code", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
		res.Abandoned = AbandonReplyError
		return res
	}
	res.Reply = reply
	res.Override = override
	res.ReplyKind = reasoning.Classify(reply)
	o.record(s, metrics.EventReplyReady, msSince(started),
		map[string]string{metrics.TagKind: res.ReplyKind.String()},
		map[string]any{observers.FieldTokens: tokens, "override": override})

	switch res.ReplyKind {
	case reasoning.ReplyWait:
		log.Info("patient_waiting")
		return res
	case reasoning.ReplyEndCall:
		s.AppendTurn(llm.RoleAssistant, reply)
		log.Info("patient_ending_call", slog.String("reply", redact.Text(reply)))
		if o.onEnd != nil {
			o.onEnd(s, EndReasonPatient)
		}
		return res
	}

	s.AppendTurn(llm.RoleAssistant, reply)
	log.Info("patient_said", slog.String("reply", redact.Text(reply)), slog.Bool("override", override))
	if s.Ending() {
		res.Abandoned = AbandonEnding
		return res
	}

	language := s.DetectedLanguage()
	started = time.Now()
	clip, err := o.deps.Synthesizer.Synthesize(ctx, tts.Request{Text: reply, Language: language})
	var prepared playback.Clip
	if err == nil {
		prepared, err = o.deps.Player.Prepare(clip)
	}
	if err != nil {
		log.Warn("turn_cycle_abandoned",
			slog.String("reason", AbandonTTSError),
			slog.String("reason_code", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
		res.Abandoned = AbandonTTSError
		return res
	}
	o.record(s, metrics.EventTTSDone, msSince(started), nil, map[string]any{
		observers.FieldAudioMillis: prepared.AudioMillis,
	})

	played, err := o.deps.Player.Stream(ctx, s.StreamID, s.CallSID, prepared)
	if err != nil {
		log.Info("playback_incomplete", slog.Int("frames_sent", played.FramesSent), slog.String("error", err.Error()))
		return res
	}
	res.Spoken = true
	return res
}

// resolveReply consumes a pending override or asks the patient model. An OTP
// forwarded into a successful generation is cleared afterwards.
func (o *Orchestrator) resolveReply(ctx context.Context, s *Session) (string, int, bool, error) {
	coord := o.deps.Coordinator
	if text, ok := coord.TakeOverride(); ok {
		return text, 0, true, nil
	}
	otp := coord.PendingOTP()
	resp, err := o.deps.Patient.Reply(ctx, s.History(), reasoning.PatientContext{
		Scenario:       s.Scenario,
		Symptom:        s.Symptom,
		TargetLanguage: s.TargetLanguage,
		OTP:            otp,
	})
	if err != nil {
		return "", 0, false, err
	}
	if otp != "" {
		coord.ClearOTPIf(otp)
		s.Logger().Info("otp_forwarded", slog.String("otp", redact.Code(otp)))
	}
	return resp.Text, resp.Usage.TotalTokens, false, nil
}

// Release drops per-stream playback state after teardown.
func (o *Orchestrator) Release(s *Session) {
	if o.deps.Player != nil {
		o.deps.Player.Forget(s.StreamID)
	}
}

func (o *Orchestrator) record(s *Session, name string, value float64, extra map[string]string, fields map[string]any) {
	o.obs.RecordEvent(metrics.MetricsEvent{
		Name:   name,
		Time:   time.Now(),
		Value:  value,
		Tags:   s.tags(extra),
		Fields: fields,
	})
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
