package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/callprobe/pkg/llm"
)

// DefaultJSON satisfies both the hallucination classifier and the grader.
const DefaultJSON = `{"hallucination": false, "status": "COMPLETED", "isBookingConfirmed": false, "languageDetectionSuccess": true, "uxAnalysis": "mock grading", "enhancements": []}`

type LLMConfig struct {
	// ResponseText answers plain generations once the script is exhausted.
	ResponseText string
	// JSONText answers JSON-mode generations once the script is exhausted.
	JSONText string
}

type scripted struct {
	resp llm.Response
	err  error
}

// LLMAdapter replays scripted responses, then falls back to fixed text.
type LLMAdapter struct {
	cfg LLMConfig

	mu      sync.Mutex
	script  []scripted
	inputs  []llm.Context
	onInput func(llm.Context) (llm.Response, bool, error)
}

func NewLLMAdapter(cfg LLMConfig) *LLMAdapter {
	if cfg.ResponseText == "" {
		cfg.ResponseText = "mock response"
	}
	if cfg.JSONText == "" {
		cfg.JSONText = DefaultJSON
	}
	return &LLMAdapter{cfg: cfg}
}

func (a *LLMAdapter) Name() string { return "mock_llm" }

// Enqueue appends one scripted reply.
func (a *LLMAdapter) Enqueue(text string, err error) {
	a.mu.Lock()
	a.script = append(a.script, scripted{resp: llm.Response{Text: text, FinishReason: "stop"}, err: err})
	a.mu.Unlock()
}

// Respond installs a handler consulted before the script; returning false defers to it.
func (a *LLMAdapter) Respond(fn func(llm.Context) (llm.Response, bool, error)) {
	a.mu.Lock()
	a.onInput = fn
	a.mu.Unlock()
}

// Inputs returns every context seen so far.
func (a *LLMAdapter) Inputs() []llm.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]llm.Context, len(a.inputs))
	copy(out, a.inputs)
	return out
}

func (a *LLMAdapter) Generate(ctx context.Context, input llm.Context) (llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return llm.Response{}, err
	}
	a.mu.Lock()
	a.inputs = append(a.inputs, input)
	fn := a.onInput
	a.mu.Unlock()
	if fn != nil {
		if resp, ok, err := fn(input); ok {
			return resp, err
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.script) > 0 {
		next := a.script[0]
		a.script = a.script[1:]
		return next.resp, next.err
	}
	if input.JSON {
		return llm.Response{Text: a.cfg.JSONText, FinishReason: "stop"}, nil
	}
	return llm.Response{Text: a.cfg.ResponseText, FinishReason: "stop"}, nil
}

var _ llm.LLMAdapter = (*LLMAdapter)(nil)
