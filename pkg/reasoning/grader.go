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
	"github.com/harunnryd/callprobe/pkg/scenario"
)

// Grader turns a finished conversation into a Report.
type Grader struct {
	adapter llm.LLMAdapter
	timeout time.Duration
}

func NewGrader(adapter llm.LLMAdapter, timeout time.Duration) *Grader {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Grader{adapter: adapter, timeout: timeout}
}

// Grade never returns an empty report: failures yield StatusError with the
// cause in UXAnalysis alongside the error.
func (g *Grader) Grade(ctx context.Context, history []scenario.Turn, scn scenario.Scenario, language string) (scenario.Report, error) {
	if len(history) == 0 {
		return scenario.Report{
			Status:       scenario.StatusFailed,
			UXAnalysis:   "No conversation was captured.",
			Enhancements: []string{},
		}, nil
	}
	if g.adapter == nil {
		err := errors.New("missing llm adapter")
		return errorReport(err), errorsx.Wrap(err, errorsx.ReasonGrading)
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	user := fmt.Sprintf("Scenario: %s\nPatient language: %s\n\nTranscript:\n%s", scn, language, transcript(history))
	resp, err := g.adapter.Generate(ctx, llm.Context{
		Messages: []map[string]any{
			llm.Message(llm.RoleSystem, graderPrompt()),
			llm.Message(llm.RoleUser, user),
		},
		JSON:        true,
		Temperature: 0.1,
	})
	if err != nil {
		return errorReport(err), errorsx.Wrap(err, errorsx.ReasonGrading)
	}
	var report scenario.Report
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text)), &report); err != nil {
		err = fmt.Errorf("decode report: %w", err)
		return errorReport(err), errorsx.Wrap(err, errorsx.ReasonGrading)
	}
	report.Status = strings.ToUpper(strings.TrimSpace(report.Status))
	if report.Status == "" {
		report.Status = scenario.StatusCompleted
	}
	if report.Enhancements == nil {
		report.Enhancements = []string{}
	}
	return report, nil
}

func errorReport(err error) scenario.Report {
	return scenario.Report{
		Status:       scenario.StatusError,
		UXAnalysis:   "Grading failed: " + err.Error(),
		Enhancements: []string{},
	}
}

func graderPrompt() string {
	return strings.TrimSpace(`
You are a QA analyst grading a phone call between a synthetic patient and a hospital appointment voice assistant ("Bot").
Judge the Bot, not the patient.
- status: "COMPLETED" if the patient's goal was reached, otherwise "FAILED".
- isBookingConfirmed: true only if the Bot explicitly confirmed a new appointment with a date or time.
- languageDetectionSuccess: true if the Bot answered in the patient's language after the first exchange.
- uxAnalysis: two to four sentences on latency, repetition, misunderstanding and tone.
- enhancements: concrete improvements for the Bot, at most five.
Output ONLY valid JSON:
{"status": "...", "isBookingConfirmed": false, "languageDetectionSuccess": false, "uxAnalysis": "...", "enhancements": ["..."]}
`)
}
