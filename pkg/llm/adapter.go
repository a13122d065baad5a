package llm

import "context"

// Roles used in Context.Messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Context struct {
	// Messages are {"role": ..., "content": ...} maps in conversational order.
	Messages    []map[string]any
	Temperature float64
	MaxTokens   int
	// JSON asks the provider for a single JSON object reply.
	JSON bool
}

// Message builds one chat message map.
func Message(role, content string) map[string]any {
	return map[string]any{"role": role, "content": content}
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Response struct {
	Text         string
	Usage        Usage
	FinishReason string
}

type LLMAdapter interface {
	Generate(ctx context.Context, input Context) (Response, error)
	Name() string
}
