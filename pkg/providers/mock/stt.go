package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/callprobe/pkg/adapters/stt"
)

type STTConfig struct {
	Transcript string
	Language   string
}

// Transcriber returns scripted results in order, then the configured transcript.
type Transcriber struct {
	cfg STTConfig

	mu       sync.Mutex
	script   []scriptedResult
	requests []stt.Request
	block    chan struct{}
}

type scriptedResult struct {
	res stt.Result
	err error
}

func NewSTT(cfg STTConfig) *Transcriber {
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	return &Transcriber{cfg: cfg}
}

func (t *Transcriber) Name() string { return "mock_stt" }

// Enqueue appends one scripted transcription.
func (t *Transcriber) Enqueue(res stt.Result, err error) {
	t.mu.Lock()
	t.script = append(t.script, scriptedResult{res: res, err: err})
	t.mu.Unlock()
}

// Hold makes Transcribe block until the returned release func is called.
func (t *Transcriber) Hold() (release func()) {
	ch := make(chan struct{})
	t.mu.Lock()
	t.block = ch
	t.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Requests returns every request received so far.
func (t *Transcriber) Requests() []stt.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]stt.Request, len(t.requests))
	copy(out, t.requests)
	return out
}

func (t *Transcriber) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	t.mu.Lock()
	t.requests = append(t.requests, req)
	block := t.block
	t.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return stt.Result{}, ctx.Err()
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.script) > 0 {
		next := t.script[0]
		t.script = t.script[1:]
		return next.res, next.err
	}
	return stt.Result{Text: t.cfg.Transcript, LanguageCode: t.cfg.Language, Confidence: 1}, nil
}

var _ stt.Transcriber = (*Transcriber)(nil)
