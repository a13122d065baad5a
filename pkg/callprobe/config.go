// Package callprobe wires configuration, providers, transport and the call
// engine into a runnable application.
package callprobe

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/harunnryd/callprobe/pkg/call"
	"github.com/harunnryd/callprobe/pkg/control"
	"github.com/harunnryd/callprobe/pkg/playback"
	"github.com/harunnryd/callprobe/pkg/reasoning"
	"github.com/spf13/viper"
)

type Config struct {
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Transports    TransportsConfig    `mapstructure:"transports"`
	Engine        EngineConfig        `mapstructure:"engine"`
	Watchdog      WatchdogConfig      `mapstructure:"watchdog"`
	Playback      PlaybackConfig      `mapstructure:"playback"`
	Teardown      TeardownConfig      `mapstructure:"teardown"`
	Scenario      ScenarioConfig      `mapstructure:"scenario"`
	Reasoning     ReasoningConfig     `mapstructure:"reasoning"`
	Control       ControlConfig       `mapstructure:"control"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
	LLM VendorConfig `mapstructure:"llm"`
}

type TransportsConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type EngineConfig struct {
	SampleRate          int     `mapstructure:"sample_rate"`
	FrameMS             int     `mapstructure:"frame_ms"`
	LoudnessThreshold   float64 `mapstructure:"loudness_threshold"`
	PreSpeechMaxFrames  int     `mapstructure:"pre_speech_max_frames"`
	PreSpeechTailFrames int     `mapstructure:"pre_speech_tail_frames"`
	MaxSpeechFrames     int     `mapstructure:"max_speech_frames"`
	BoundaryDelayMS     int     `mapstructure:"boundary_delay_ms"`
	MinTranscriptChars  int     `mapstructure:"min_transcript_chars"`
}

type WatchdogConfig struct {
	InitialMS   int `mapstructure:"initial_ms"`
	PostReplyMS int `mapstructure:"post_reply_ms"`
}

type PlaybackConfig struct {
	Gain         float64 `mapstructure:"gain"`
	FrameBytes   int     `mapstructure:"frame_bytes"`
	FrameDelayMS int     `mapstructure:"frame_delay_ms"`
}

type TeardownConfig struct {
	PollIntervalMS  int `mapstructure:"poll_interval_ms"`
	MaxWaitMS       int `mapstructure:"max_wait_ms"`
	HangupTimeoutMS int `mapstructure:"hangup_timeout_ms"`
	DrainTimeoutMS  int `mapstructure:"drain_timeout_ms"`
}

type ScenarioConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Symptoms        []string `mapstructure:"symptoms"`
}

type ReasoningConfig struct {
	PatientTemperature float64 `mapstructure:"patient_temperature"`
	PatientMaxTokens   int     `mapstructure:"patient_max_tokens"`
	PatientTimeoutMS   int     `mapstructure:"patient_timeout_ms"`
	FilterTimeoutMS    int     `mapstructure:"filter_timeout_ms"`
	GraderTimeoutMS    int     `mapstructure:"grader_timeout_ms"`
}

type ControlConfig struct {
	Prefix string `mapstructure:"prefix"`
	Token  string `mapstructure:"token"`
}

type ObservabilityConfig struct {
	MetricsPath     string `mapstructure:"metrics_path"`
	ReportsCapacity int    `mapstructure:"reports_capacity"`
	TimelineEntries int    `mapstructure:"timeline_entries"`
	EventBuffer     int    `mapstructure:"event_buffer"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("transports.provider", "twilio")
	v.SetDefault("engine.sample_rate", 8000)
	v.SetDefault("engine.frame_ms", 20)
	v.SetDefault("engine.loudness_threshold", 600)
	v.SetDefault("engine.pre_speech_max_frames", 50)
	v.SetDefault("engine.pre_speech_tail_frames", 10)
	v.SetDefault("engine.max_speech_frames", 1400)
	v.SetDefault("engine.boundary_delay_ms", 1500)
	v.SetDefault("engine.min_transcript_chars", 2)
	v.SetDefault("watchdog.initial_ms", 45000)
	v.SetDefault("watchdog.post_reply_ms", 20000)
	v.SetDefault("playback.gain", 2.0)
	v.SetDefault("playback.frame_bytes", 160)
	v.SetDefault("playback.frame_delay_ms", 18)
	v.SetDefault("teardown.poll_interval_ms", 100)
	v.SetDefault("teardown.max_wait_ms", 15000)
	v.SetDefault("teardown.hangup_timeout_ms", 10000)
	v.SetDefault("teardown.drain_timeout_ms", 30000)
	v.SetDefault("scenario.default_language", "English")
	v.SetDefault("reasoning.patient_temperature", 0.7)
	v.SetDefault("reasoning.patient_max_tokens", 200)
	v.SetDefault("reasoning.patient_timeout_ms", 20000)
	v.SetDefault("reasoning.filter_timeout_ms", 10000)
	v.SetDefault("reasoning.grader_timeout_ms", 60000)
	v.SetDefault("control.prefix", "/api")
	v.SetDefault("observability.metrics_path", "/metrics")
	v.SetDefault("observability.reports_capacity", 50)
	v.SetDefault("observability.timeline_entries", 500)
	v.SetDefault("observability.event_buffer", 2048)
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// LoadConfig reads a YAML file. Scalar keys may be overridden by
// CALLPROBE_* environment variables (engine.boundary_delay_ms becomes
// CALLPROBE_ENGINE_BOUNDARY_DELAY_MS) and ${VAR} references in string values
// are expanded.
// DefaultConfig returns the built-in defaults without reading a file. Vendor
// and transport providers are left empty.
func DefaultConfig() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("CALLPROBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	expandEnvStrings(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Transports.Provider) == "" {
		return fmt.Errorf("transports.provider is required")
	}
	if strings.TrimSpace(c.Vendors.STT.Provider) == "" {
		return fmt.Errorf("vendors.stt.provider is required")
	}
	if strings.TrimSpace(c.Vendors.TTS.Provider) == "" {
		return fmt.Errorf("vendors.tts.provider is required")
	}
	if strings.TrimSpace(c.Vendors.LLM.Provider) == "" {
		return fmt.Errorf("vendors.llm.provider is required")
	}
	e := c.Engine
	if e.SampleRate <= 0 {
		return fmt.Errorf("engine.sample_rate must be positive, got %d", e.SampleRate)
	}
	if e.LoudnessThreshold <= 0 {
		return fmt.Errorf("engine.loudness_threshold must be positive, got %v", e.LoudnessThreshold)
	}
	if e.PreSpeechTailFrames <= 0 || e.PreSpeechTailFrames > e.PreSpeechMaxFrames {
		return fmt.Errorf("engine.pre_speech_tail_frames must be between 1 and pre_speech_max_frames (%d), got %d", e.PreSpeechMaxFrames, e.PreSpeechTailFrames)
	}
	if e.MaxSpeechFrames < e.PreSpeechMaxFrames {
		return fmt.Errorf("engine.max_speech_frames (%d) must not be below pre_speech_max_frames (%d)", e.MaxSpeechFrames, e.PreSpeechMaxFrames)
	}
	if e.BoundaryDelayMS <= 0 {
		return fmt.Errorf("engine.boundary_delay_ms must be positive, got %d", e.BoundaryDelayMS)
	}
	if c.Watchdog.InitialMS <= 0 || c.Watchdog.PostReplyMS <= 0 {
		return fmt.Errorf("watchdog durations must be positive")
	}
	if c.Playback.Gain <= 0 {
		return fmt.Errorf("playback.gain must be positive, got %v", c.Playback.Gain)
	}
	if c.Playback.FrameDelayMS < 0 {
		return fmt.Errorf("playback.frame_delay_ms must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %s", c.LogFormat)
	}
	return nil
}

// CallConfig maps the engine, watchdog and teardown sections onto the call engine.
func (c Config) CallConfig() call.Config {
	return call.Config{
		SampleRate:          c.Engine.SampleRate,
		LoudnessThreshold:   c.Engine.LoudnessThreshold,
		PreSpeechMaxFrames:  c.Engine.PreSpeechMaxFrames,
		PreSpeechTailFrames: c.Engine.PreSpeechTailFrames,
		MaxSpeechFrames:     c.Engine.MaxSpeechFrames,
		BoundaryDelay:       ms(c.Engine.BoundaryDelayMS),
		WatchdogInitial:     ms(c.Watchdog.InitialMS),
		WatchdogPostReply:   ms(c.Watchdog.PostReplyMS),
		MinTranscriptChars:  c.Engine.MinTranscriptChars,
		TeardownPoll:        ms(c.Teardown.PollIntervalMS),
		TeardownMaxWait:     ms(c.Teardown.MaxWaitMS),
		HangupTimeout:       ms(c.Teardown.HangupTimeoutMS),
		DefaultLanguage:     c.Scenario.DefaultLanguage,
	}
}

func (c Config) PacerConfig() playback.Config {
	return playback.Config{
		SampleRate: c.Engine.SampleRate,
		Gain:       c.Playback.Gain,
		FrameBytes: c.Playback.FrameBytes,
		FrameDelay: ms(c.Playback.FrameDelayMS),
	}
}

func (c Config) PatientConfig() reasoning.PatientConfig {
	return reasoning.PatientConfig{
		Timeout:     ms(c.Reasoning.PatientTimeoutMS),
		Temperature: c.Reasoning.PatientTemperature,
		MaxTokens:   c.Reasoning.PatientMaxTokens,
	}
}

func (c Config) ControlConfig() control.Config {
	return control.Config{Prefix: c.Control.Prefix, Token: c.Control.Token}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.TTS.Settings = expandSettings(cfg.Vendors.TTS.Settings)
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
	cfg.Transports.Settings = expandSettings(cfg.Transports.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, item := range val {
			val[k] = expandAny(item)
		}
		return val
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	switch v.Kind() {
	case reflect.Pointer:
		if !v.IsNil() {
			expandValue(v.Elem())
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
