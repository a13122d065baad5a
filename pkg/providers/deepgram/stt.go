package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/callprobe/pkg/adapters/stt"
	"github.com/harunnryd/callprobe/pkg/errorsx"
	"github.com/harunnryd/callprobe/pkg/logging"
	"github.com/harunnryd/callprobe/pkg/redact"
	"github.com/harunnryd/callprobe/pkg/resilience"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// TranscribeFunc performs one prerecorded request and returns the raw JSON response.
type TranscribeFunc func(ctx context.Context, audio io.Reader, opts *interfaces.PreRecordedTranscriptionOptions) ([]byte, error)

type Config struct {
	APIKey string
	Model  string
	// Language pins recognition to one language. Empty enables detect_language.
	Language    string
	SmartFormat bool
	Punctuate   bool
	Timeout     time.Duration

	Breaker *resilience.CircuitBreaker
	Retry   resilience.RetryPolicy
	// Transcribe overrides the SDK call; used by tests.
	Transcribe TranscribeFunc
}

// Transcriber sends buffered utterances to the Deepgram prerecorded endpoint.
type Transcriber struct {
	cfg    Config
	logger *slog.Logger

	once sync.Once
	call TranscribeFunc
}

func New(cfg Config) *Transcriber {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.Backoff == 0 {
		cfg.Retry = resilience.NewRetryPolicy(2, 200*time.Millisecond)
	}
	return &Transcriber{
		cfg:    cfg,
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
		call:   cfg.Transcribe,
	}
}

func (t *Transcriber) Name() string { return "deepgram" }

func (t *Transcriber) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	if len(req.Audio) == 0 {
		return stt.Result{}, nil
	}
	opts := t.options(req)
	call := t.sdk()

	var raw []byte
	err := t.cfg.Breaker.Execute(t.Name(), func() error {
		return t.cfg.Retry.Do(ctx, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
			defer cancel()
			out, err := call(callCtx, bytes.NewReader(req.Audio), opts)
			if err != nil {
				return classify(err)
			}
			raw = out
			return nil
		})
	})
	if err != nil {
		reason := errorsx.ReasonSTTTranscribe
		if resilience.IsRateLimit(err) {
			reason = errorsx.ReasonSTTRateLimit
			if resilience.IsCircuitOpen(err) {
				reason = errorsx.ReasonSTTCircuitOpen
			}
		}
		t.logger.Warn("deepgram_transcribe_failed",
			slog.String("error", err.Error()),
			slog.String("reason_code", string(reason)))
		return stt.Result{}, errorsx.Wrap(err, reason)
	}

	res, err := parseResponse(raw)
	if err != nil {
		return stt.Result{}, errorsx.Wrap(err, errorsx.ReasonSTTTranscribe)
	}
	t.logger.Debug("deepgram_transcript",
		slog.String("transcript", redact.Text(res.Text)),
		slog.String("language", res.LanguageCode),
		slog.Float64("confidence", res.Confidence))
	return res, nil
}

func (t *Transcriber) options(req stt.Request) *interfaces.PreRecordedTranscriptionOptions {
	opts := &interfaces.PreRecordedTranscriptionOptions{
		Model:       t.cfg.Model,
		SmartFormat: t.cfg.SmartFormat,
		Punctuate:   t.cfg.Punctuate,
	}
	lang := strings.TrimSpace(t.cfg.Language)
	if lang == "" {
		lang = strings.TrimSpace(req.LanguageHint)
	}
	if lang == "" {
		opts.DetectLanguage = true
	} else {
		opts.Language = lang
	}
	return opts
}

func (t *Transcriber) sdk() TranscribeFunc {
	t.once.Do(func() {
		if t.call != nil {
			return
		}
		dg := api.New(client.NewREST(t.cfg.APIKey, &interfaces.ClientOptions{}))
		t.call = func(ctx context.Context, audio io.Reader, opts *interfaces.PreRecordedTranscriptionOptions) ([]byte, error) {
			res, err := dg.FromStream(ctx, audio, opts)
			if err != nil {
				return nil, err
			}
			return json.Marshal(res)
		}
	})
	return t.call
}

// classify maps SDK errors carrying an HTTP 429 to resilience.RateLimitError.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "too many requests") {
		return resilience.RateLimitError{Provider: "deepgram", Message: err.Error()}
	}
	return err
}

type prerecordedResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage   string  `json:"detected_language"`
			LanguageConfidence float64 `json:"language_confidence"`
			Alternatives       []struct {
				Transcript string   `json:"transcript"`
				Confidence float64  `json:"confidence"`
				Languages  []string `json:"languages"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func parseResponse(raw []byte) (stt.Result, error) {
	var resp prerecordedResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return stt.Result{}, fmt.Errorf("deepgram: decode response: %w", err)
	}
	out := stt.Result{
		Duration: time.Duration(resp.Metadata.Duration * float64(time.Second)),
	}
	if len(resp.Results.Channels) == 0 {
		return out, errors.New("deepgram: response has no channels")
	}
	ch := resp.Results.Channels[0]
	out.LanguageCode = ch.DetectedLanguage
	if len(ch.Alternatives) > 0 {
		alt := ch.Alternatives[0]
		out.Text = strings.TrimSpace(alt.Transcript)
		out.Confidence = alt.Confidence
		if out.LanguageCode == "" && len(alt.Languages) > 0 {
			out.LanguageCode = alt.Languages[0]
		}
	}
	return out, nil
}

var _ stt.Transcriber = (*Transcriber)(nil)
