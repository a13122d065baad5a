package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/harunnryd/callprobe/pkg/llm"
	"github.com/harunnryd/callprobe/pkg/resilience"
)

const defaultBaseURL = "https://api.openai.com/v1"

var errNoChoices = errors.New("openai: completion has no choices")

// Adapter calls an OpenAI-compatible /chat/completions endpoint. It serves the
// hallucination filter, the patient persona and the grader.
type Adapter struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client
}

func NewAdapter(apiKey, model string) *Adapter {
	return &Adapter{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: defaultBaseURL,
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *Adapter) Name() string { return "openai" }

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string           `json:"model"`
	Messages       []map[string]any `json:"messages"`
	Temperature    float64          `json:"temperature,omitempty"`
	MaxTokens      int              `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat  `json:"response_format,omitempty"`
}

type chatChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func newChatRequest(model string, input llm.Context) chatRequest {
	req := chatRequest{
		Model:       model,
		Messages:    append([]map[string]any(nil), input.Messages...),
		Temperature: input.Temperature,
		MaxTokens:   input.MaxTokens,
	}
	if req.Messages == nil {
		req.Messages = []map[string]any{}
	}
	if input.JSON {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return req
}

func (r chatResponse) toResponse() (llm.Response, error) {
	if len(r.Choices) == 0 {
		return llm.Response{}, errNoChoices
	}
	return llm.Response{
		Text:         r.Choices[0].Message.Content,
		FinishReason: r.Choices[0].FinishReason,
		Usage: llm.Usage{
			PromptTokens:     r.Usage.PromptTokens,
			CompletionTokens: r.Usage.CompletionTokens,
			TotalTokens:      r.Usage.TotalTokens,
		},
	}, nil
}

func (a *Adapter) Generate(ctx context.Context, input llm.Context) (llm.Response, error) {
	payload, err := json.Marshal(newChatRequest(a.Model, input))
	if err != nil {
		return llm.Response{}, fmt.Errorf("openai: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return llm.Response{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.APIKey)

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return llm.Response{}, fmt.Errorf("openai: %w", err)
	}
	defer resp.Body.Close()
	if err := resilience.CheckResponse(a.Name(), resp); err != nil {
		return llm.Response{}, err
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return llm.Response{}, fmt.Errorf("openai: decode response: %w", err)
	}
	return out.toResponse()
}

var _ llm.LLMAdapter = (*Adapter)(nil)
