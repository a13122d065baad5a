package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSTTTranscribe  ReasonCode = "stt_transcribe"
	ReasonSTTRateLimit   ReasonCode = "stt_rate_limit"
	ReasonSTTCircuitOpen ReasonCode = "stt_circuit_open"

	ReasonFilterClassify ReasonCode = "filter_classify"

	ReasonTTSSynthesize  ReasonCode = "tts_synthesize"
	ReasonTTSRateLimit   ReasonCode = "tts_rate_limit"
	ReasonTTSCircuitOpen ReasonCode = "tts_circuit_open"

	ReasonLLMGenerate    ReasonCode = "llm_generate"
	ReasonLLMRateLimit   ReasonCode = "llm_rate_limit"
	ReasonLLMCircuitOpen ReasonCode = "llm_circuit_open"

	ReasonAudioEncode ReasonCode = "audio_encode"
	ReasonAudioDecode ReasonCode = "audio_decode"

	ReasonPlaybackAborted ReasonCode = "playback_aborted"
	ReasonGrading         ReasonCode = "grading"

	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"
	ReasonTransportSend             ReasonCode = "transport_send"
	ReasonTransportHangup           ReasonCode = "transport_hangup"
	ReasonTransportDial             ReasonCode = "transport_dial"
)
