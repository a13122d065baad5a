package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harunnryd/callprobe/pkg/errorsx"
	"github.com/harunnryd/callprobe/pkg/llm"
	"github.com/harunnryd/callprobe/pkg/resilience"
	"github.com/harunnryd/callprobe/pkg/scenario"
)

// Control tokens a patient reply may consist of instead of speech.
const (
	TokenWait    = "WAIT"
	TokenEndCall = "END_CALL_LOOP"
)

// ReplyKind classifies a generated reply.
type ReplyKind int

const (
	ReplySpeech ReplyKind = iota
	ReplyWait
	ReplyEndCall
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyWait:
		return "wait"
	case ReplyEndCall:
		return "end_call"
	default:
		return "speech"
	}
}

// Classify maps a reply to its kind. A control token counts only when it is
// the whole reply; anything else, including a token inside a sentence, is
// speech.
func Classify(text string) ReplyKind {
	switch text {
	case TokenWait:
		return ReplyWait
	case TokenEndCall:
		return ReplyEndCall
	}
	return ReplySpeech
}

// PatientContext is the per-call persona the patient plays.
type PatientContext struct {
	Scenario       scenario.Scenario
	Symptom        string
	TargetLanguage string
	// OTP is a verification code received out of band, if any.
	OTP string
}

type PatientConfig struct {
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// Patient generates the synthetic caller's next line.
type Patient struct {
	adapter llm.LLMAdapter
	cfg     PatientConfig
}

func NewPatient(adapter llm.LLMAdapter, cfg PatientConfig) *Patient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 200
	}
	return &Patient{adapter: adapter, cfg: cfg}
}

// Reply asks the model for the next patient line given the full history.
func (p *Patient) Reply(ctx context.Context, history []scenario.Turn, pc PatientContext) (llm.Response, error) {
	if p.adapter == nil {
		return llm.Response{}, errorsx.Wrap(errors.New("missing llm adapter"), errorsx.ReasonLLMGenerate)
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	msgs := []map[string]any{llm.Message(llm.RoleSystem, patientPrompt(pc))}
	msgs = append(msgs, historyMessages(history)...)
	resp, err := p.adapter.Generate(ctx, llm.Context{
		Messages:    msgs,
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	})
	if err != nil {
		reason := errorsx.ReasonLLMGenerate
		if resilience.IsRateLimit(err) {
			reason = errorsx.ReasonLLMRateLimit
		}
		return llm.Response{}, errorsx.Wrap(err, reason)
	}
	resp.Text = strings.TrimSpace(resp.Text)
	if resp.Text == "" {
		return llm.Response{}, errorsx.Wrap(errors.New("empty reply"), errorsx.ReasonLLMGenerate)
	}
	return resp, nil
}

func patientPrompt(pc PatientContext) string {
	lang := pc.TargetLanguage
	if lang == "" {
		lang = "English"
	}
	var b strings.Builder
	b.WriteString("You are a patient calling a hospital appointment line. You are talking to an automated voice assistant on the phone.\n")
	fmt.Fprintf(&b, "Goal (%s): %s\n", pc.Scenario, pc.Scenario.Goal())
	fmt.Fprintf(&b, "Your symptom: %s. Keep it consistent for the whole call.\n", pc.Symptom)
	fmt.Fprintf(&b, "Speak only %s, even if the assistant switches language.\n", lang)
	b.WriteString("Keep every reply to one or two short spoken sentences. No lists, no markdown, no stage directions.\n")
	b.WriteString("Invent plausible personal details when asked and keep them consistent.\n")
	if pc.OTP != "" {
		fmt.Fprintf(&b, "You just received the verification code %s by SMS. Read it out when the assistant asks for it.\n", pc.OTP)
	}
	fmt.Fprintf(&b, "If the assistant's last message is incomplete, is only a filler, or asks you to hold, reply with exactly %s.\n", TokenWait)
	fmt.Fprintf(&b, "If your goal is achieved and the assistant said goodbye, or the assistant keeps repeating itself without progress, reply with exactly %s.\n", TokenEndCall)
	return b.String()
}
