package callprobe

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/harunnryd/callprobe/pkg/adapters/stt"
	"github.com/harunnryd/callprobe/pkg/adapters/tts"
	"github.com/harunnryd/callprobe/pkg/configutil"
	"github.com/harunnryd/callprobe/pkg/llm"
	"github.com/harunnryd/callprobe/pkg/providers/deepgram"
	"github.com/harunnryd/callprobe/pkg/providers/elevenlabs"
	"github.com/harunnryd/callprobe/pkg/providers/mock"
	"github.com/harunnryd/callprobe/pkg/providers/openai"
	"github.com/harunnryd/callprobe/pkg/resilience"
	"github.com/harunnryd/callprobe/pkg/transports"
	mocktransport "github.com/harunnryd/callprobe/pkg/transports/mock"
	twiliotransport "github.com/harunnryd/callprobe/pkg/transports/twilio"
)

type (
	STTFactory       func(cfg Config) (stt.Transcriber, error)
	TTSFactory       func(cfg Config) (tts.Synthesizer, error)
	LLMFactory       func(cfg Config) (llm.LLMAdapter, error)
	TransportFactory func(cfg Config) (transports.Transport, error)
)

// factories maps a case-insensitive provider name to its constructor.
type factories[F any] map[string]F

func (f factories[F]) add(name string, fn F) { f[strings.ToLower(strings.TrimSpace(name))] = fn }

func (f factories[F]) get(name string) (F, bool) {
	fn, ok := f[strings.ToLower(strings.TrimSpace(name))]
	return fn, ok
}

// ProviderRegistry resolves the vendor and transport names found in Config.
// Callers embedding the engine can register their own implementations next to
// the built-in ones.
type ProviderRegistry struct {
	stt        factories[STTFactory]
	tts        factories[TTSFactory]
	llm        factories[LLMFactory]
	transports factories[TransportFactory]
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt:        factories[STTFactory]{},
		tts:        factories[TTSFactory]{},
		llm:        factories[LLMFactory]{},
		transports: factories[TransportFactory]{},
	}
}

func (r *ProviderRegistry) RegisterSTT(name string, fn STTFactory) { r.stt.add(name, fn) }
func (r *ProviderRegistry) RegisterTTS(name string, fn TTSFactory) { r.tts.add(name, fn) }
func (r *ProviderRegistry) RegisterLLM(name string, fn LLMFactory) { r.llm.add(name, fn) }
func (r *ProviderRegistry) RegisterTransport(name string, fn TransportFactory) {
	r.transports.add(name, fn)
}

func (r *ProviderRegistry) BuildSTT(cfg Config) (stt.Transcriber, error) {
	if fn, ok := r.stt.get(cfg.Vendors.STT.Provider); ok {
		return fn(cfg)
	}
	return nil, fmt.Errorf("stt provider not registered: %q", cfg.Vendors.STT.Provider)
}

func (r *ProviderRegistry) BuildTTS(cfg Config) (tts.Synthesizer, error) {
	if fn, ok := r.tts.get(cfg.Vendors.TTS.Provider); ok {
		return fn(cfg)
	}
	return nil, fmt.Errorf("tts provider not registered: %q", cfg.Vendors.TTS.Provider)
}

func (r *ProviderRegistry) BuildLLM(cfg Config) (llm.LLMAdapter, error) {
	if fn, ok := r.llm.get(cfg.Vendors.LLM.Provider); ok {
		return fn(cfg)
	}
	return nil, fmt.Errorf("llm provider not registered: %q", cfg.Vendors.LLM.Provider)
}

func (r *ProviderRegistry) BuildTransport(cfg Config) (transports.Transport, error) {
	if fn, ok := r.transports.get(cfg.Transports.Provider); ok {
		return fn(cfg)
	}
	return nil, fmt.Errorf("unsupported transport provider: %q", cfg.Transports.Provider)
}

// DefaultProviders knows every vendor and transport shipped with callprobe.
func DefaultProviders() *ProviderRegistry {
	reg := NewProviderRegistry()
	reg.RegisterSTT("deepgram", buildDeepgram)
	reg.RegisterSTT("mock", buildMockSTT)
	reg.RegisterTTS("elevenlabs", buildElevenLabs)
	reg.RegisterTTS("mock", buildMockTTS)
	reg.RegisterLLM("openai", buildOpenAI)
	reg.RegisterLLM("mock", buildMockLLM)
	reg.RegisterTransport("twilio", buildTwilio)
	reg.RegisterTransport("mock", func(Config) (transports.Transport, error) { return mocktransport.New(), nil })
	return reg
}

// decodeSettings checks raw against schema and decodes it into S. Errors are
// prefixed with path so they point at the offending config block.
func decodeSettings[S any](path string, raw map[string]any, schema configutil.Schema) (S, error) {
	var out S
	if err := configutil.ValidateSettings(raw, schema); err != nil {
		return out, fmt.Errorf("%s: %w", path, err)
	}
	if err := configutil.DecodeSettings(raw, &out); err != nil {
		return out, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// resilienceSettings are accepted by every remote vendor.
type resilienceSettings struct {
	BreakerThreshold  int `mapstructure:"breaker_threshold"`
	BreakerCooldownMS int `mapstructure:"breaker_cooldown_ms"`
	Retries           int `mapstructure:"retries"`
	RetryBackoffMS    int `mapstructure:"retry_backoff_ms"`
}

var resilienceKeys = []string{"breaker_threshold", "breaker_cooldown_ms", "retries", "retry_backoff_ms"}

func (s resilienceSettings) breaker() *resilience.CircuitBreaker {
	threshold := s.BreakerThreshold
	if threshold <= 0 {
		threshold = 3
	}
	cooldown := s.BreakerCooldownMS
	if cooldown <= 0 {
		cooldown = 30000
	}
	return resilience.NewCircuitBreaker(threshold, ms(cooldown))
}

func (s resilienceSettings) retry() resilience.RetryPolicy {
	return resilience.NewRetryPolicy(s.Retries, ms(s.RetryBackoffMS))
}

type deepgramSettings struct {
	resilienceSettings `mapstructure:",squash"`
	APIKey             string `mapstructure:"api_key"`
	Model              string `mapstructure:"model"`
	Language           string `mapstructure:"language"`
	SmartFormat        *bool  `mapstructure:"smart_format"`
	Punctuate          *bool  `mapstructure:"punctuate"`
	TimeoutMS          int    `mapstructure:"timeout_ms"`
}

func buildDeepgram(cfg Config) (stt.Transcriber, error) {
	settings, err := decodeSettings[deepgramSettings]("vendors.stt.settings", cfg.Vendors.STT.Settings, configutil.Schema{
		Required: []string{"api_key"},
		Optional: append([]string{"model", "language", "smart_format", "punctuate", "timeout_ms"}, resilienceKeys...),
	})
	if err != nil {
		return nil, err
	}
	return deepgram.New(deepgram.Config{
		APIKey:      settings.APIKey,
		Model:       settings.Model,
		Language:    settings.Language,
		SmartFormat: configutil.BoolValue(settings.SmartFormat, true),
		Punctuate:   configutil.BoolValue(settings.Punctuate, true),
		Timeout:     ms(settings.TimeoutMS),
		Breaker:     settings.breaker(),
		Retry:       settings.retry(),
	}), nil
}

type mockSTTSettings struct {
	Transcript string `mapstructure:"transcript"`
	Language   string `mapstructure:"language"`
}

func buildMockSTT(cfg Config) (stt.Transcriber, error) {
	settings, err := decodeSettings[mockSTTSettings]("vendors.stt.settings", cfg.Vendors.STT.Settings, configutil.Schema{
		Optional: []string{"transcript", "language"},
	})
	if err != nil {
		return nil, err
	}
	return mock.NewSTT(mock.STTConfig{Transcript: settings.Transcript, Language: settings.Language}), nil
}

type elevenlabsSettings struct {
	resilienceSettings `mapstructure:",squash"`
	APIKey             string  `mapstructure:"api_key"`
	VoiceID            string  `mapstructure:"voice_id"`
	ModelID            string  `mapstructure:"model_id"`
	OutputFormat       string  `mapstructure:"output_format"`
	BaseURL            string  `mapstructure:"base_url"`
	Stability          float64 `mapstructure:"stability"`
	Similarity         float64 `mapstructure:"similarity"`
}

func buildElevenLabs(cfg Config) (tts.Synthesizer, error) {
	settings, err := decodeSettings[elevenlabsSettings]("vendors.tts.settings", cfg.Vendors.TTS.Settings, configutil.Schema{
		Required: []string{"api_key", "voice_id"},
		Optional: append([]string{"model_id", "output_format", "base_url", "stability", "similarity"}, resilienceKeys...),
	})
	if err != nil {
		return nil, err
	}
	if !supportedOutputFormat(settings.OutputFormat) {
		return nil, fmt.Errorf("vendors.tts.settings.output_format: want mp3_*, pcm_* or ulaw_*, got %q", settings.OutputFormat)
	}
	return elevenlabs.New(elevenlabs.Config{
		APIKey:       settings.APIKey,
		VoiceID:      settings.VoiceID,
		ModelID:      settings.ModelID,
		OutputFormat: settings.OutputFormat,
		BaseURL:      settings.BaseURL,
		Stability:    settings.Stability,
		Similarity:   settings.Similarity,
		Breaker:      settings.breaker(),
		Retry:        settings.retry(),
	}), nil
}

func supportedOutputFormat(format string) bool {
	if format == "" {
		return true
	}
	codec, _, _ := strings.Cut(strings.ToLower(format), "_")
	switch codec {
	case "mp3", "pcm", "ulaw":
		return true
	}
	return false
}

type mockTTSSettings struct {
	SampleRate    int `mapstructure:"sample_rate"`
	MillisPerChar int `mapstructure:"millis_per_char"`
	Amplitude     int `mapstructure:"amplitude"`
}

func buildMockTTS(cfg Config) (tts.Synthesizer, error) {
	settings, err := decodeSettings[mockTTSSettings]("vendors.tts.settings", cfg.Vendors.TTS.Settings, configutil.Schema{
		Optional: []string{"sample_rate", "millis_per_char", "amplitude"},
	})
	if err != nil {
		return nil, err
	}
	if settings.Amplitude < 0 || settings.Amplitude > 32767 {
		return nil, fmt.Errorf("vendors.tts.settings.amplitude must be between 0 and 32767, got %d", settings.Amplitude)
	}
	sampleRate := settings.SampleRate
	if sampleRate == 0 {
		sampleRate = cfg.Engine.SampleRate
	}
	return mock.NewTTS(mock.TTSConfig{
		SampleRate:    sampleRate,
		MillisPerChar: settings.MillisPerChar,
		Amplitude:     int16(settings.Amplitude),
	}), nil
}

type openAISettings struct {
	APIKey            string `mapstructure:"api_key"`
	Model             string `mapstructure:"model"`
	BaseURL           string `mapstructure:"base_url"`
	UseCircuitBreaker *bool  `mapstructure:"use_circuit_breaker"`
	CircuitThreshold  int    `mapstructure:"circuit_threshold"`
	CircuitCooldownMs int    `mapstructure:"circuit_cooldown_ms"`
	MaxAttempts       int    `mapstructure:"max_attempts"`
	RetryBaseDelayMs  int    `mapstructure:"retry_base_delay_ms"`
	RetryMaxDelayMs   int    `mapstructure:"retry_max_delay_ms"`
}

func buildOpenAI(cfg Config) (llm.LLMAdapter, error) {
	settings, err := decodeSettings[openAISettings]("vendors.llm.settings", cfg.Vendors.LLM.Settings, configutil.Schema{
		Required: []string{"api_key", "model"},
		Optional: []string{"base_url", "use_circuit_breaker", "circuit_threshold", "circuit_cooldown_ms", "max_attempts", "retry_base_delay_ms", "retry_max_delay_ms"},
	})
	if err != nil {
		return nil, err
	}
	adapter := openai.NewAdapter(settings.APIKey, settings.Model)
	if settings.BaseURL != "" {
		adapter.BaseURL = strings.TrimRight(settings.BaseURL, "/")
	}
	var out llm.LLMAdapter = llm.NewRetryAdapter(adapter, llm.RetryConfig{
		MaxAttempts: settings.MaxAttempts,
		BaseDelay:   ms(settings.RetryBaseDelayMs),
		MaxDelay:    ms(settings.RetryMaxDelayMs),
		Jitter:      0.2,
	})
	if !configutil.BoolValue(settings.UseCircuitBreaker, true) {
		return out, nil
	}
	breaker := resilienceSettings{
		BreakerThreshold:  settings.CircuitThreshold,
		BreakerCooldownMS: settings.CircuitCooldownMs,
	}.breaker()
	return llm.NewCircuitBreakerAdapter(out, breaker), nil
}

type mockLLMSettings struct {
	ResponseText string `mapstructure:"response_text"`
	JSONText     string `mapstructure:"json_text"`
}

func buildMockLLM(cfg Config) (llm.LLMAdapter, error) {
	settings, err := decodeSettings[mockLLMSettings]("vendors.llm.settings", cfg.Vendors.LLM.Settings, configutil.Schema{
		Optional: []string{"response_text", "json_text"},
	})
	if err != nil {
		return nil, err
	}
	return mock.NewLLMAdapter(mock.LLMConfig{ResponseText: settings.ResponseText, JSONText: settings.JSONText}), nil
}

func buildTwilio(cfg Config) (transports.Transport, error) {
	settings, err := decodeSettings[twiliotransport.Config]("transports.settings", cfg.Transports.Settings, configutil.Schema{
		Required: []string{"account_sid", "auth_token"},
		Optional: []string{"public_url", "server_addr", "from_number", "voice_path", "ws_path", "status_callback_path", "send_queue_size", "allow_any_origin", "allowed_origins"},
	})
	if err != nil {
		return nil, err
	}
	if settings.PublicURL != "" {
		if err := configutil.RequireString(hostOnly(settings.PublicURL), "transports.settings.public_url host"); err != nil {
			return nil, err
		}
	}
	return twiliotransport.New(settings), nil
}

func hostOnly(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
