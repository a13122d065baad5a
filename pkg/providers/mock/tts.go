package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/harunnryd/callprobe/pkg/adapters/tts"
	"github.com/harunnryd/callprobe/pkg/audio"
)

type TTSConfig struct {
	SampleRate int
	// MillisPerChar sets the length of the generated audio.
	MillisPerChar int
	// Amplitude of the generated square wave; zero yields silence.
	Amplitude int16
	Err       error
}

// Synthesizer produces PCM16 audio whose length follows the text.
type Synthesizer struct {
	cfg TTSConfig

	mu       sync.Mutex
	requests []tts.Request
}

func NewTTS(cfg TTSConfig) *Synthesizer {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 8000
	}
	if cfg.MillisPerChar == 0 {
		cfg.MillisPerChar = 5
	}
	return &Synthesizer{cfg: cfg}
}

func (s *Synthesizer) Name() string { return "mock_tts" }

// Requests returns every request received so far.
func (s *Synthesizer) Requests() []tts.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tts.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) (tts.Audio, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return tts.Audio{}, err
	}
	if s.cfg.Err != nil {
		return tts.Audio{}, s.cfg.Err
	}
	if req.Text == "" {
		return tts.Audio{}, errors.New("mock tts: empty text")
	}
	n := len(req.Text) * s.cfg.MillisPerChar * s.cfg.SampleRate / 1000
	samples := make([]int16, n)
	for i := range samples {
		if (i/20)%2 == 0 {
			samples[i] = s.cfg.Amplitude
		} else {
			samples[i] = -s.cfg.Amplitude
		}
	}
	return tts.Audio{Data: audio.Bytes(samples), Container: audio.ContainerPCM, SampleRate: s.cfg.SampleRate}, nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
