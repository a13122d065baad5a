package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/harunnryd/callprobe/pkg/adapters/tts"
	"github.com/harunnryd/callprobe/pkg/audio"
	"github.com/harunnryd/callprobe/pkg/errorsx"
	"github.com/harunnryd/callprobe/pkg/logging"
	"github.com/harunnryd/callprobe/pkg/resilience"
)

type Config struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	BaseURL      string
	Stability    float64
	Similarity   float64

	Client  *http.Client
	Breaker *resilience.CircuitBreaker
	Retry   resilience.RetryPolicy
}

// Synthesizer renders replies through the ElevenLabs text-to-speech REST endpoint.
type Synthesizer struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) *Synthesizer {
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if cfg.Stability == 0 {
		cfg.Stability = 0.5
	}
	if cfg.Similarity == 0 {
		cfg.Similarity = 0.8
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.Backoff == 0 {
		cfg.Retry = resilience.NewRetryPolicy(2, 250*time.Millisecond)
	}
	return &Synthesizer{cfg: cfg, logger: logging.NewComponentLogger(slog.Default(), "elevenlabs_tts")}
}

func (s *Synthesizer) Name() string { return "elevenlabs" }

func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return tts.Audio{}, errorsx.Wrap(errors.New("elevenlabs: empty text"), errorsx.ReasonTTSSynthesize)
	}
	if s.cfg.APIKey == "" || s.cfg.VoiceID == "" {
		return tts.Audio{}, errorsx.Wrap(errors.New("missing elevenlabs config"), errorsx.ReasonTTSSynthesize)
	}
	body, err := s.buildBody(text, req.Language)
	if err != nil {
		return tts.Audio{}, errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)
	}
	endpoint := s.buildURL()

	var data []byte
	err = s.cfg.Breaker.Execute(s.Name(), func() error {
		return s.cfg.Retry.Do(ctx, func(ctx context.Context) error {
			out, err := s.post(ctx, endpoint, body)
			if err != nil {
				return err
			}
			data = out
			return nil
		})
	})
	if err != nil {
		reason := errorsx.ReasonTTSSynthesize
		if resilience.IsRateLimit(err) {
			reason = errorsx.ReasonTTSRateLimit
			if resilience.IsCircuitOpen(err) {
				reason = errorsx.ReasonTTSCircuitOpen
			}
		}
		s.logger.Warn("elevenlabs_synthesize_failed",
			slog.String("error", err.Error()),
			slog.String("reason_code", string(reason)))
		return tts.Audio{}, errorsx.Wrap(err, reason)
	}

	container, rate := ParseOutputFormat(s.cfg.OutputFormat)
	s.logger.Debug("elevenlabs_audio_received",
		slog.Int("size_bytes", len(data)),
		slog.String("container", container),
		slog.Int("sample_rate", rate))
	return tts.Audio{Data: data, Container: container, SampleRate: rate}, nil
}

func (s *Synthesizer) post(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", s.cfg.APIKey)
	resp, err := s.cfg.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := resilience.CheckResponse(s.Name(), resp); err != nil {
		return nil, err
	}
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("elevenlabs: empty audio response")
	}
	return out, nil
}

func (s *Synthesizer) buildURL() string {
	base := strings.TrimRight(s.cfg.BaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(s.cfg.VoiceID)
	q := url.Values{}
	q.Set("output_format", s.cfg.OutputFormat)
	return base + "?" + q.Encode()
}

func (s *Synthesizer) buildBody(text, language string) ([]byte, error) {
	payload := map[string]any{
		"text":     text,
		"model_id": s.cfg.ModelID,
		"voice_settings": map[string]any{
			"stability":        s.cfg.Stability,
			"similarity_boost": s.cfg.Similarity,
		},
	}
	if code := languageCode(language); code != "" {
		payload["language_code"] = code
	}
	return json.Marshal(payload)
}

// ParseOutputFormat maps an ElevenLabs output_format such as "mp3_44100_128",
// "pcm_16000" or "ulaw_8000" to an audio container and sample rate.
func ParseOutputFormat(format string) (string, int) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(format)), "_")
	rate := 0
	if len(parts) > 1 {
		rate, _ = strconv.Atoi(parts[1])
	}
	switch parts[0] {
	case "pcm":
		if rate == 0 {
			rate = 16000
		}
		return audio.ContainerPCM, rate
	case "ulaw":
		return audio.ContainerMuLaw, 8000
	default:
		if rate == 0 {
			rate = 44100
		}
		return audio.ContainerMP3, rate
	}
}

// languageCode reduces a detected language tag ("en-US", "hi") to ISO 639-1.
func languageCode(language string) string {
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" {
		return ""
	}
	if i := strings.IndexAny(language, "-_"); i > 0 {
		language = language[:i]
	}
	if len(language) != 2 {
		return ""
	}
	return language
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
