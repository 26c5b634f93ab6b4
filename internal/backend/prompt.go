package backend

import (
	"strings"

	"github.com/talentai/llm-gateway/internal/domain"
)

// RenderPrompt flattens a conversation into the single-prompt shape
// the generation backends consume: system contents joined first, then
// "ROLE: content" lines for the remaining messages in order.
func RenderPrompt(messages []domain.Message) string {
	var system, history []string
	for _, m := range messages {
		if m.Role == domain.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		history = append(history, strings.ToUpper(m.Role)+": "+m.Content)
	}
	return strings.TrimSpace(strings.Join(system, "\n") + "\n" + strings.Join(history, "\n"))
}

// ApproxTokens counts whitespace-separated fields. It is a documented
// approximation used only when a backend reports no exact counts; it
// is not real tokenization.
func ApproxTokens(s string) int {
	return len(strings.Fields(s))
}
