package reasoning

import (
	"strings"

	"github.com/harunnryd/callprobe/pkg/llm"
	"github.com/harunnryd/callprobe/pkg/scenario"
)

// cleanJSON strips code fences and prose around the first JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return text
	}
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSpace(text)
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}

func historyMessages(history []scenario.Turn) []map[string]any {
	out := make([]map[string]any, 0, len(history))
	for _, t := range history {
		out = append(out, llm.Message(t.Role, t.Content))
	}
	return out
}

func transcript(history []scenario.Turn) string {
	var b strings.Builder
	for _, t := range history {
		role := "Bot"
		if t.Role == llm.RoleAssistant {
			role = "Patient"
		}
		b.WriteString(role)
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	return b.String()
}
