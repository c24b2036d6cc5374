package domain

// Conversation roles. Only RoleUser and RoleAssistant are ever persisted;
// RoleSystem is synthesized per request.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is the provider-agnostic chat message shape used by the handler
// and answer-generation integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is one answer-generation call: the ordered turns plus the
// sampling bounds applied by the caller.
type ChatRequest struct {
	Messages    []ChatMessage
	MaxTokens   int64
	Temperature float64
}
