package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harunnryd/callprobe/pkg/errorsx"
	"github.com/harunnryd/callprobe/pkg/llm"
)

// HallucinationFilter flags transcripts that came from hold music, line noise
// or background chatter rather than the assistant speaking.
type HallucinationFilter struct {
	adapter llm.LLMAdapter
	timeout time.Duration
}

type filterOutput struct {
	Hallucination bool   `json:"hallucination"`
	Reason        string `json:"reason"`
}

func NewHallucinationFilter(adapter llm.LLMAdapter, timeout time.Duration) *HallucinationFilter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HallucinationFilter{adapter: adapter, timeout: timeout}
}

// Check reports whether transcript should be discarded.
func (f *HallucinationFilter) Check(ctx context.Context, transcript, expectedLanguage, detectedLanguage string) (bool, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return true, nil
	}
	if f.adapter == nil {
		return false, errorsx.Wrap(errors.New("missing llm adapter"), errorsx.ReasonFilterClassify)
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	user := fmt.Sprintf("Expected language: %s\nDetected language: %s\nTranscript: %q", expectedLanguage, detectedLanguage, transcript)
	resp, err := f.adapter.Generate(ctx, llm.Context{
		Messages: []map[string]any{
			llm.Message(llm.RoleSystem, filterPrompt()),
			llm.Message(llm.RoleUser, user),
		},
		JSON: true,
	})
	if err != nil {
		return false, errorsx.Wrap(err, errorsx.ReasonFilterClassify)
	}
	var out filterOutput
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text)), &out); err != nil {
		return false, errorsx.Wrap(fmt.Errorf("decode classification: %w", err), errorsx.ReasonFilterClassify)
	}
	return out.Hallucination, nil
}

func filterPrompt() string {
	return strings.TrimSpace(`
You check speech-to-text output from a phone call with a hospital appointment assistant.
Continuous hold music, ringing and line noise make the recognizer produce plausible but spurious text
such as "Thank you for watching", song lyrics, or single random words in another language.
Decide whether the transcript is such an artifact rather than something the assistant actually said.
Output ONLY valid JSON:
{"hallucination": true|false, "reason": "short reason"}
`)
}
