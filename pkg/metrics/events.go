package metrics

// Event names emitted by the call engine and providers.
const (
	EventCallStarted   = "call_started"
	EventCallEnded     = "call_ended"
	EventBufferTrimmed = "buffer_trimmed"
	EventTurnBoundary  = "turn_boundary"
	EventSTTDone       = "stt_done"
	EventTurnAbandoned = "turn_abandoned"
	EventReplyReady    = "reply_ready"
	EventTTSDone       = "tts_done"
	EventPlaybackStart = "playback_start"
	EventPlaybackDone  = "playback_done"
	EventWatchdogFired = "watchdog_fired"
	EventReportGraded  = "report_graded"

	EventRateLimit     = "provider_rate_limit"
	EventBreakerOpen   = "breaker_open"
	EventBreakerClose  = "breaker_close"
	EventBreakerDenied = "breaker_denied"
)

// Tag keys shared across events.
const (
	TagCallSID   = "call_sid"
	TagStreamID  = "stream_id"
	TagTraceID   = "trace_id"
	TagReason    = "reason"
	TagKind      = "kind"
	TagStatus    = "status"
	TagProvider  = "provider"
	TagComponent = "component"
	TagPhase     = "phase"
)
