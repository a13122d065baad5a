package elevenlabs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/harunnryd/callprobe/pkg/adapters/tts"
	"github.com/harunnryd/callprobe/pkg/audio"
	"github.com/harunnryd/callprobe/pkg/errorsx"
	"github.com/harunnryd/callprobe/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizePostsTextAndLanguage(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text-to-speech/voice-1", r.URL.Path)
		assert.Equal(t, "pcm_16000", r.URL.Query().Get("output_format"))
		assert.Equal(t, "secret", r.Header.Get("xi-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte{1, 2, 3, 4})
	}))
	defer srv.Close()

	s := New(Config{APIKey: "secret", VoiceID: "voice-1", OutputFormat: "pcm_16000", BaseURL: srv.URL})
	out, err := s.Synthesize(context.Background(), tts.Request{Text: "I need an appointment", Language: "hi-IN"})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, out.Data)
	assert.Equal(t, audio.ContainerPCM, out.Container)
	assert.Equal(t, 16000, out.SampleRate)
	assert.Equal(t, "I need an appointment", body["text"])
	assert.Equal(t, "hi", body["language_code"])
	assert.Equal(t, "eleven_multilingual_v2", body["model_id"])
}

func TestSynthesizeRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	s := New(Config{APIKey: "k", VoiceID: "v", BaseURL: srv.URL, Breaker: resilience.NewCircuitBreaker(5, time.Minute)})
	_, err := s.Synthesize(context.Background(), tts.Request{Text: "hello"})
	require.Error(t, err)
	assert.True(t, resilience.IsRateLimit(err))
	assert.Equal(t, errorsx.ReasonTTSRateLimit, errorsx.Reason(err))
}

func TestSynthesizeRetriesServerError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte{9})
	}))
	defer srv.Close()

	s := New(Config{APIKey: "k", VoiceID: "v", BaseURL: srv.URL, Retry: resilience.NewRetryPolicy(2, time.Millisecond)})
	out, err := s.Synthesize(context.Background(), tts.Request{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, audio.ContainerMP3, out.Container)
}

func TestSynthesizeRejectsEmptyText(t *testing.T) {
	s := New(Config{APIKey: "k", VoiceID: "v"})
	_, err := s.Synthesize(context.Background(), tts.Request{Text: "  "})
	require.Error(t, err)
}

func TestParseOutputFormat(t *testing.T) {
	cases := []struct {
		in        string
		container string
		rate      int
	}{
		{"mp3_44100_128", audio.ContainerMP3, 44100},
		{"mp3_22050_32", audio.ContainerMP3, 22050},
		{"pcm_24000", audio.ContainerPCM, 24000},
		{"ulaw_8000", audio.ContainerMuLaw, 8000},
		{"", audio.ContainerMP3, 44100},
	}
	for _, tc := range cases {
		c, r := ParseOutputFormat(tc.in)
		assert.Equal(t, tc.container, c, tc.in)
		assert.Equal(t, tc.rate, r, tc.in)
	}
}

func TestLanguageCode(t *testing.T) {
	assert.Equal(t, "en", languageCode("en-US"))
	assert.Equal(t, "ta", languageCode("TA"))
	assert.Empty(t, languageCode("English"))
	assert.Empty(t, languageCode(""))
}
